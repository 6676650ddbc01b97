// Package telemetry records per-batch progress samples off the request path.
package telemetry

import (
	"context"
	"sync"
	"time"

	"github.com/Ruzakiff/crazygpt/internal/batch"
	"github.com/Ruzakiff/crazygpt/internal/clock"
	"github.com/Ruzakiff/crazygpt/internal/metrics"
	"github.com/Ruzakiff/crazygpt/internal/models"
	log "github.com/sirupsen/logrus"
)

const defaultWriteTimeout = 10 * time.Second

// Sink durably stores samples.
type Sink interface {
	Write(ctx context.Context, sample *models.TelemetrySample) error
}

// Logger queues observations and writes them from a single goroutine in
// enqueue order. The queue is unbounded, so Record never blocks.
type Logger struct {
	sink         Sink
	clock        clock.Clock
	writeTimeout time.Duration

	mu      sync.Mutex
	queue   []observation
	closed  bool
	started bool
	wake    chan struct{}
	done    chan struct{}

	// priors is owned by the consumer goroutine.
	priors map[string]prior
}

type Option func(*Logger)

func WithClock(c clock.Clock) Option {
	return func(l *Logger) { l.clock = clock.OrSystem(c) }
}

func WithWriteTimeout(d time.Duration) Option {
	return func(l *Logger) {
		if d > 0 {
			l.writeTimeout = d
		}
	}
}

func NewLogger(sink Sink, opts ...Option) *Logger {
	l := &Logger{
		sink:         sink,
		clock:        clock.System{},
		writeTimeout: defaultWriteTimeout,
		wake:         make(chan struct{}, 1),
		done:         make(chan struct{}),
		priors:       make(map[string]prior),
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// Start launches the consumer. It stops when ctx is done or after Close drains the queue.
func (l *Logger) Start(ctx context.Context) {
	if l == nil {
		return
	}
	if ctx == nil {
		ctx = context.Background()
	}
	l.mu.Lock()
	if l.started {
		l.mu.Unlock()
		return
	}
	l.started = true
	l.mu.Unlock()

	go l.run(ctx)
	log.Info("telemetry logger started")
}

// Record enqueues an observation and returns immediately. The observation time
// is taken here, not when the sample is written.
func (l *Logger) Record(batchID string, view batch.View, ownerToken string) {
	if l == nil {
		return
	}
	obs := observation{batchID: batchID, view: view, owner: ownerToken, observedAt: l.clock.NowUTC()}

	l.mu.Lock()
	if l.closed {
		l.mu.Unlock()
		log.Debugf("telemetry logger: closed, dropping observation (batch=%s)", batchID)
		return
	}
	l.queue = append(l.queue, obs)
	depth := len(l.queue)
	l.mu.Unlock()

	metrics.TelemetryQueueDepth.Set(float64(depth))
	select {
	case l.wake <- struct{}{}:
	default:
	}
}

// Close stops accepting observations and waits until the queue is drained or ctx is done.
func (l *Logger) Close(ctx context.Context) error {
	if l == nil {
		return nil
	}
	l.mu.Lock()
	l.closed = true
	started := l.started
	l.mu.Unlock()
	if !started {
		return nil
	}

	select {
	case l.wake <- struct{}{}:
	default:
	}
	select {
	case <-l.done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Pending returns the number of queued observations.
func (l *Logger) Pending() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.queue)
}

func (l *Logger) run(ctx context.Context) {
	defer close(l.done)
	for {
		obs, ok, closed := l.next()
		if ok {
			l.process(ctx, obs)
			continue
		}
		if closed {
			return
		}
		select {
		case <-ctx.Done():
			if n := l.Pending(); n > 0 {
				log.Warnf("telemetry logger: stopping with %d observations unwritten", n)
			}
			return
		case <-l.wake:
		}
	}
}

func (l *Logger) next() (observation, bool, bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if len(l.queue) == 0 {
		return observation{}, false, l.closed
	}
	obs := l.queue[0]
	l.queue[0] = observation{}
	l.queue = l.queue[1:]
	metrics.TelemetryQueueDepth.Set(float64(len(l.queue)))
	return obs, true, l.closed
}

func (l *Logger) process(ctx context.Context, obs observation) {
	var last *prior
	if p, ok := l.priors[obs.batchID]; ok {
		last = &p
	}
	sample := computeSample(obs, last)

	writeCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), l.writeTimeout)
	defer cancel()
	if errWrite := l.sink.Write(writeCtx, sample); errWrite != nil {
		metrics.TelemetryWrites.WithLabelValues("dropped").Inc()
		log.WithError(errWrite).Warnf("telemetry logger: write failed, observation dropped (batch=%s)", obs.batchID)
		return
	}
	metrics.TelemetryWrites.WithLabelValues("written").Inc()
	l.priors[obs.batchID] = prior{
		at:        obs.observedAt,
		completed: obs.view.RequestCounts.Completed,
		failed:    obs.view.RequestCounts.Failed,
	}
}
