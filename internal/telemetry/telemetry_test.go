package telemetry

import (
	"context"
	"errors"
	"math"
	"sync"
	"testing"
	"time"

	"github.com/Ruzakiff/crazygpt/internal/batch"
	"github.com/Ruzakiff/crazygpt/internal/clock"
	"github.com/Ruzakiff/crazygpt/internal/db"
	"github.com/Ruzakiff/crazygpt/internal/models"
	"github.com/Ruzakiff/crazygpt/internal/provider"
)

type memorySink struct {
	mu      sync.Mutex
	samples []models.TelemetrySample
	failOn  map[int]bool
	calls   int
	gate    chan struct{}
}

func (s *memorySink) Write(_ context.Context, sample *models.TelemetrySample) error {
	if s.gate != nil {
		<-s.gate
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls++
	if s.failOn[s.calls] {
		return errors.New("disk full")
	}
	s.samples = append(s.samples, *sample)
	return nil
}

func (s *memorySink) written() []models.TelemetrySample {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]models.TelemetrySample(nil), s.samples...)
}

var created = time.Date(2026, 4, 1, 10, 0, 0, 0, time.UTC)

func viewWith(status batch.Status, total, completed, failed int64) batch.View {
	return batch.View{
		ID:            "batch_1",
		Status:        status,
		CreatedAt:     created,
		RequestCounts: provider.RequestCounts{Total: total, Completed: completed, Failed: failed},
	}
}

func closeLogger(t *testing.T, l *Logger) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := l.Close(ctx); err != nil {
		t.Fatalf("close: %v", err)
	}
}

func TestComputeSampleDeltas(t *testing.T) {
	first := computeSample(observation{
		batchID:    "batch_1",
		view:       viewWith(batch.StatusInProgress, 100, 10, 0),
		observedAt: created.Add(10 * time.Second),
	}, nil)
	if first.CompletedDelta != 0 || first.ElapsedSinceLast != 0 || first.IncrementalRate != 0 {
		t.Fatalf("expected zero deltas without a prior observation, got %+v", first)
	}
	if first.OverallRate != 1.0 {
		t.Fatalf("expected overall rate 1.0, got %v", first.OverallRate)
	}
	if first.ETASeconds != 90 {
		t.Fatalf("expected eta 90s, got %v", first.ETASeconds)
	}

	second := computeSample(observation{
		batchID:    "batch_1",
		view:       viewWith(batch.StatusInProgress, 100, 25, 0),
		observedAt: created.Add(15 * time.Second),
	}, &prior{at: created.Add(10 * time.Second), completed: 10})
	if second.CompletedDelta != 15 {
		t.Fatalf("expected completed delta 15, got %d", second.CompletedDelta)
	}
	if second.ElapsedSinceLast != 5 {
		t.Fatalf("expected 5s elapsed, got %v", second.ElapsedSinceLast)
	}
	if second.IncrementalRate != 3.0 {
		t.Fatalf("expected incremental rate 3.0, got %v", second.IncrementalRate)
	}
	if math.Abs(second.TimePerRequest-5.0/15.0) > 1e-9 {
		t.Fatalf("unexpected time per request %v", second.TimePerRequest)
	}
	if second.RemainingRequests != 75 || second.TotalElapsed != 15 {
		t.Fatalf("unexpected remaining/total elapsed %+v", second)
	}
}

func TestLoggerWritesInOrderWithPriorObservations(t *testing.T) {
	clk := clock.NewManual(created.Add(10 * time.Second))
	sink := &memorySink{}
	l := NewLogger(sink, WithClock(clk))
	l.Start(context.Background())

	l.Record("batch_1", viewWith(batch.StatusInProgress, 100, 10, 0), "bt_owner")
	clk.Advance(5 * time.Second)
	l.Record("batch_1", viewWith(batch.StatusInProgress, 100, 25, 0), "bt_owner")
	clk.Advance(5 * time.Second)
	l.Record("batch_1", viewWith(batch.StatusCompleted, 100, 100, 0), "bt_owner")
	closeLogger(t, l)

	got := sink.written()
	if len(got) != 3 {
		t.Fatalf("expected 3 samples, got %d", len(got))
	}
	if got[1].CompletedDelta != 15 || got[1].IncrementalRate != 3.0 {
		t.Fatalf("unexpected second sample %+v", got[1])
	}
	if got[2].CompletedDelta != 75 || got[2].Status != string(batch.StatusCompleted) {
		t.Fatalf("unexpected third sample %+v", got[2])
	}
	if got[0].OwnerToken == "bt_owner" {
		t.Fatalf("expected owner token to be masked")
	}
}

func TestRecordDoesNotBlockOnSlowSink(t *testing.T) {
	sink := &memorySink{gate: make(chan struct{})}
	l := NewLogger(sink)
	l.Start(context.Background())

	done := make(chan struct{})
	go func() {
		for i := int64(0); i < 100; i++ {
			l.Record("batch_1", viewWith(batch.StatusInProgress, 100, i, 0), "bt_owner")
		}
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatalf("record blocked behind the sink")
	}

	close(sink.gate)
	closeLogger(t, l)
	got := sink.written()
	if len(got) != 100 {
		t.Fatalf("expected 100 samples, got %d", len(got))
	}
	for i, s := range got {
		if s.CompletedRequests != int64(i) {
			t.Fatalf("sample %d out of order: completed=%d", i, s.CompletedRequests)
		}
	}
}

func TestFailedWriteIsDroppedAndKeepsPrior(t *testing.T) {
	clk := clock.NewManual(created.Add(10 * time.Second))
	sink := &memorySink{failOn: map[int]bool{2: true}}
	l := NewLogger(sink, WithClock(clk))
	l.Start(context.Background())

	l.Record("batch_1", viewWith(batch.StatusInProgress, 100, 10, 0), "bt_owner")
	clk.Advance(5 * time.Second)
	l.Record("batch_1", viewWith(batch.StatusInProgress, 100, 20, 0), "bt_owner")
	clk.Advance(5 * time.Second)
	l.Record("batch_1", viewWith(batch.StatusInProgress, 100, 40, 0), "bt_owner")
	closeLogger(t, l)

	got := sink.written()
	if len(got) != 2 {
		t.Fatalf("expected the failed observation dropped, got %d samples", len(got))
	}
	if got[1].CompletedDelta != 30 || got[1].ElapsedSinceLast != 10 {
		t.Fatalf("expected deltas against the last written observation, got %+v", got[1])
	}
}

func TestGormSinkAndRetention(t *testing.T) {
	conn := db.OpenTest(t)
	clk := clock.NewManual(created.AddDate(0, 0, 40))
	sink := NewGormSink(conn)
	ctx := context.Background()

	old := computeSample(observation{batchID: "batch_old", view: viewWith(batch.StatusCompleted, 1, 1, 0), observedAt: created}, nil)
	fresh := computeSample(observation{batchID: "batch_new", view: viewWith(batch.StatusInProgress, 1, 0, 0), observedAt: clk.NowUTC()}, nil)
	for _, s := range []*models.TelemetrySample{old, fresh} {
		if err := sink.Write(ctx, s); err != nil {
			t.Fatalf("write: %v", err)
		}
	}

	cleaner := NewRetentionCleaner(conn, clk)
	if n := cleaner.CleanupOnce(ctx); n != 1 {
		t.Fatalf("expected 1 expired sample removed, got %d", n)
	}
	var remaining []models.TelemetrySample
	if err := conn.Find(&remaining).Error; err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(remaining) != 1 || remaining[0].BatchID != "batch_new" {
		t.Fatalf("unexpected remaining samples %+v", remaining)
	}
}

func TestMultiSinkOnlyPrimaryDecides(t *testing.T) {
	primary := &memorySink{}
	secondary := &memorySink{failOn: map[int]bool{1: true}}
	m := NewMultiSink(primary, secondary)
	sample := computeSample(observation{batchID: "b", view: viewWith(batch.StatusValidating, 1, 0, 0), observedAt: created}, nil)

	if err := m.Write(context.Background(), sample); err != nil {
		t.Fatalf("expected secondary failure to be ignored, got %v", err)
	}
	if len(primary.written()) != 1 {
		t.Fatalf("expected primary write")
	}

	failing := NewMultiSink(&memorySink{failOn: map[int]bool{1: true}}, primary)
	if err := failing.Write(context.Background(), sample); err == nil {
		t.Fatalf("expected primary failure to surface")
	}
	if len(primary.written()) != 1 {
		t.Fatalf("expected secondaries skipped when the primary fails")
	}
}
