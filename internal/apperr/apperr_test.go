package apperr

import (
	"errors"
	"fmt"
	"net/http"
	"testing"
)

func TestAsKeepsKindThroughWrapping(t *testing.T) {
	base := New(KindRateLimited, "slow down", nil)
	wrapped := fmt.Errorf("submit: %w", base)
	if got := KindOf(wrapped); got != KindRateLimited {
		t.Fatalf("expected %s, got %s", KindRateLimited, got)
	}
	if !Is(wrapped, KindRateLimited) {
		t.Fatalf("expected Is to match wrapped kind")
	}
}

func TestAsTreatsUnknownErrorsAsFatal(t *testing.T) {
	ae := As(errors.New("disk on fire"))
	if ae.Kind != KindFatal {
		t.Fatalf("expected fatal, got %s", ae.Kind)
	}
	if ae.Kind.HTTPStatus() != http.StatusInternalServerError {
		t.Fatalf("expected 500 for fatal, got %d", ae.Kind.HTTPStatus())
	}
}

func TestHTTPStatusMapping(t *testing.T) {
	cases := map[Kind]int{
		KindInvalidToken:        http.StatusBadRequest,
		KindRateLimited:         http.StatusTooManyRequests,
		KindInsufficientBalance: http.StatusPaymentRequired,
		KindNotFound:            http.StatusNotFound,
		KindUnauthorized:        http.StatusForbidden,
		KindProviderUnavailable: http.StatusServiceUnavailable,
	}
	for kind, want := range cases {
		if got := kind.HTTPStatus(); got != want {
			t.Fatalf("kind %s: expected %d, got %d", kind, want, got)
		}
	}
}
