package clock

import (
	"testing"
	"time"
)

func TestManualAdvance(t *testing.T) {
	start := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)
	m := NewManual(start)
	m.Advance(90 * time.Second)
	if got := m.NowUTC(); !got.Equal(start.Add(90 * time.Second)) {
		t.Fatalf("expected %s, got %s", start.Add(90*time.Second), got)
	}
}

func TestOrSystemFallsBack(t *testing.T) {
	if _, ok := OrSystem(nil).(System); !ok {
		t.Fatalf("expected System clock for nil input")
	}
	m := NewManual(time.Unix(0, 0))
	if OrSystem(m) != Clock(m) {
		t.Fatalf("expected manual clock to be returned as-is")
	}
}
