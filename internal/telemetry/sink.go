package telemetry

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/Ruzakiff/crazygpt/internal/models"
	"github.com/redis/go-redis/v9"
	log "github.com/sirupsen/logrus"
	"gorm.io/gorm"
)

// ErrSinkUnavailable is returned by sinks that were not configured.
var ErrSinkUnavailable = errors.New("telemetry: sink unavailable")

// GormSink appends samples to the telemetry_samples table.
type GormSink struct {
	db *gorm.DB
}

func NewGormSink(db *gorm.DB) *GormSink {
	return &GormSink{db: db}
}

func (s *GormSink) Write(ctx context.Context, sample *models.TelemetrySample) error {
	if s == nil || s.db == nil {
		return ErrSinkUnavailable
	}
	if errCreate := s.db.WithContext(ctx).Create(sample).Error; errCreate != nil {
		return fmt.Errorf("telemetry: insert sample: %w", errCreate)
	}
	return nil
}

// RedisSink keeps the latest progress of each batch in a hash plus cumulative
// counters, for dashboards that should not query the database.
type RedisSink struct {
	rdb    redis.Cmdable
	prefix string
	ttl    time.Duration
}

type RedisSinkOption func(*RedisSink)

func WithRedisPrefix(prefix string) RedisSinkOption {
	return func(s *RedisSink) { s.prefix = strings.Trim(prefix, ":") }
}

func WithRedisTTL(d time.Duration) RedisSinkOption {
	return func(s *RedisSink) { s.ttl = d }
}

func NewRedisSink(rdb redis.Cmdable, opts ...RedisSinkOption) *RedisSink {
	s := &RedisSink{
		rdb:    rdb,
		prefix: "broker:telemetry",
		ttl:    7 * 24 * time.Hour,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *RedisSink) Write(ctx context.Context, sample *models.TelemetrySample) error {
	if s == nil || s.rdb == nil {
		return ErrSinkUnavailable
	}
	batchKey := s.prefix + ":batch:" + sample.BatchID
	totalKey := s.prefix + ":total"

	pipe := s.rdb.Pipeline()
	pipe.HSet(ctx, batchKey, map[string]any{
		"status":           sample.Status,
		"total":            sample.TotalRequests,
		"completed":        sample.CompletedRequests,
		"failed":           sample.FailedRequests,
		"remaining":        sample.RemainingRequests,
		"incremental_rate": strconv.FormatFloat(sample.IncrementalRate, 'f', 4, 64),
		"overall_rate":     strconv.FormatFloat(sample.OverallRate, 'f', 4, 64),
		"eta_seconds":      strconv.FormatFloat(sample.ETASeconds, 'f', 1, 64),
		"recorded_at":      sample.RecordedAt.UTC().Format(time.RFC3339),
	})
	if s.ttl > 0 {
		pipe.Expire(ctx, batchKey, s.ttl)
	}
	pipe.HIncrBy(ctx, totalKey, "samples", 1)
	if sample.CompletedDelta > 0 {
		pipe.HIncrBy(ctx, totalKey, "completed", sample.CompletedDelta)
	}
	if sample.FailedDelta > 0 {
		pipe.HIncrBy(ctx, totalKey, "failed", sample.FailedDelta)
	}
	_, err := pipe.Exec(ctx)
	return err
}

// MultiSink writes to a primary sink and mirrors successful writes to secondaries.
// Only the primary decides whether a sample was recorded.
type MultiSink struct {
	primary     Sink
	secondaries []Sink
}

func NewMultiSink(primary Sink, secondaries ...Sink) *MultiSink {
	return &MultiSink{primary: primary, secondaries: secondaries}
}

func (m *MultiSink) Write(ctx context.Context, sample *models.TelemetrySample) error {
	if errPrimary := m.primary.Write(ctx, sample); errPrimary != nil {
		return errPrimary
	}
	for _, sink := range m.secondaries {
		if sink == nil {
			continue
		}
		if errWrite := sink.Write(ctx, sample); errWrite != nil {
			log.WithError(errWrite).Warnf("telemetry logger: secondary sink write failed (batch=%s)", sample.BatchID)
		}
	}
	return nil
}
