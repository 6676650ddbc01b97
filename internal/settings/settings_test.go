package settings

import (
	"encoding/json"
	"testing"
	"time"
)

func TestIntFallsBackOnMissingOrMalformed(t *testing.T) {
	StoreDBConfig(time.Now(), map[string]json.RawMessage{
		AdmissionLimitKey:         json.RawMessage(`"7"`),
		AdmissionWindowSecondsKey: json.RawMessage(`"abc"`),
		ReconcileMaxAttemptsKey:   json.RawMessage(`{"value": 3}`),
		MaxBatchRequestsKey:       json.RawMessage(`-1`),
	})
	t.Cleanup(func() { StoreDBConfig(time.Time{}, nil) })

	if got := Int(AdmissionLimitKey, DefaultAdmissionLimit, 1); got != 7 {
		t.Fatalf("expected 7, got %d", got)
	}
	if got := Int(AdmissionWindowSecondsKey, DefaultAdmissionWindowSeconds, 1); got != DefaultAdmissionWindowSeconds {
		t.Fatalf("expected default for malformed value, got %d", got)
	}
	if got := Int(ReconcileMaxAttemptsKey, DefaultReconcileMaxAttempts, 1); got != 3 {
		t.Fatalf("expected wrapped value 3, got %d", got)
	}
	if got := Int(MaxBatchRequestsKey, DefaultMaxBatchRequests, 1); got != DefaultMaxBatchRequests {
		t.Fatalf("expected default for value below min, got %d", got)
	}
	if got := Int(TokenTTLHoursKey, DefaultTokenTTLHours, 1); got != DefaultTokenTTLHours {
		t.Fatalf("expected default for missing key, got %d", got)
	}
}

func TestStringSetting(t *testing.T) {
	StoreDBConfig(time.Now(), map[string]json.RawMessage{
		FinalCostPolicyKey: json.RawMessage(`" none "`),
	})
	t.Cleanup(func() { StoreDBConfig(time.Time{}, nil) })

	if got := String(FinalCostPolicyKey, DefaultFinalCostPolicy); got != "none" {
		t.Fatalf("expected none, got %q", got)
	}
}
