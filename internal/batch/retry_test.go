package batch

import (
	"context"
	"errors"
	"net/http"
	"testing"
	"time"

	"github.com/Ruzakiff/crazygpt/internal/provider"
)

func TestRetryBacksOffOnTransientErrors(t *testing.T) {
	var waits []time.Duration
	r := Retry{
		MaxAttempts: 4,
		Initial:     100 * time.Millisecond,
		Max:         time.Second,
		Sleep: func(_ context.Context, d time.Duration) error {
			waits = append(waits, d)
			return nil
		},
	}

	calls := 0
	err := r.Do(context.Background(), "get batch", func(context.Context) error {
		calls++
		if calls < 3 {
			return provider.NewRequestError("get batch", http.StatusBadGateway, errors.New("bad gateway"))
		}
		return nil
	})
	if err != nil {
		t.Fatalf("expected success, got %v", err)
	}
	if calls != 3 || len(waits) != 2 {
		t.Fatalf("expected 3 calls and 2 waits, got %d calls %v", calls, waits)
	}
	if waits[0] < 50*time.Millisecond || waits[0] > 150*time.Millisecond {
		t.Fatalf("first wait outside jitter range: %s", waits[0])
	}
	if waits[1] < 100*time.Millisecond || waits[1] > 300*time.Millisecond {
		t.Fatalf("second wait outside jitter range: %s", waits[1])
	}
}

func TestRetryStopsOnPermanentErrorsAndBudget(t *testing.T) {
	r := Retry{MaxAttempts: 3, Sleep: func(context.Context, time.Duration) error { return nil }}

	calls := 0
	err := r.Do(context.Background(), "get batch", func(context.Context) error {
		calls++
		return provider.NewRequestError("get batch", http.StatusBadRequest, errors.New("bad request"))
	})
	if err == nil || calls != 1 {
		t.Fatalf("expected a single call for a permanent error, got %d (%v)", calls, err)
	}

	calls = 0
	err = r.Do(context.Background(), "get batch", func(context.Context) error {
		calls++
		return provider.NewRequestError("get batch", http.StatusServiceUnavailable, nil)
	})
	if !errors.Is(err, provider.ErrUnavailable) || calls != 3 {
		t.Fatalf("expected 3 calls then unavailable, got %d (%v)", calls, err)
	}
}
