package batch

import (
	"encoding/json"
	"errors"
	"testing"
	"time"

	internalsettings "github.com/Ruzakiff/crazygpt/internal/settings"
)

func TestCountRequests(t *testing.T) {
	n, err := CountRequests([]byte("{\"a\":1}\n\n  \n{\"b\":2}\n{\"c\":3}"))
	if err != nil {
		t.Fatalf("count: %v", err)
	}
	if n != 3 {
		t.Fatalf("expected 3 requests, got %d", n)
	}

	for name, content := range map[string]string{
		"empty":   "",
		"blank":   "\n \n",
		"invalid": "{\"a\":1}\nnot json\n",
	} {
		if _, err := CountRequests([]byte(content)); !errors.Is(err, ErrInvalidPayload) {
			t.Fatalf("%s: expected ErrInvalidPayload, got %v", name, err)
		}
	}
}

func TestCountRequestsHonoursLimit(t *testing.T) {
	internalsettings.StoreDBConfig(time.Now(), map[string]json.RawMessage{
		internalsettings.MaxBatchRequestsKey: json.RawMessage(`2`),
	})
	t.Cleanup(func() { internalsettings.StoreDBConfig(time.Time{}, nil) })

	if _, err := CountRequests([]byte("{}\n{}\n")); err != nil {
		t.Fatalf("expected two requests accepted, got %v", err)
	}
	if _, err := CountRequests([]byte("{}\n{}\n{}\n")); !errors.Is(err, ErrInvalidPayload) {
		t.Fatalf("expected limit rejection, got %v", err)
	}
}
