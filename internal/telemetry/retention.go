package telemetry

import (
	"context"
	"time"

	"github.com/Ruzakiff/crazygpt/internal/clock"
	internalsettings "github.com/Ruzakiff/crazygpt/internal/settings"
	log "github.com/sirupsen/logrus"
	"gorm.io/gorm"
)

const (
	defaultRetentionInterval = 6 * time.Hour
	defaultDeleteBatchSize   = 5000
	maxDeleteBatchesPerRun   = 2000
)

// RetentionCleaner periodically deletes telemetry samples older than the configured retention.
type RetentionCleaner struct {
	db        *gorm.DB
	clock     clock.Clock
	interval  time.Duration
	batchSize int
}

func NewRetentionCleaner(db *gorm.DB, clk clock.Clock) *RetentionCleaner {
	if db == nil {
		return nil
	}
	return &RetentionCleaner{
		db:        db,
		clock:     clock.OrSystem(clk),
		interval:  defaultRetentionInterval,
		batchSize: defaultDeleteBatchSize,
	}
}

// Start launches the cleanup loop in a background goroutine.
func (c *RetentionCleaner) Start(ctx context.Context) {
	if c == nil {
		return
	}
	if ctx == nil {
		ctx = context.Background()
	}
	go c.run(ctx)
	log.Infof("telemetry retention cleaner started (interval=%s)", c.interval)
}

func (c *RetentionCleaner) run(ctx context.Context) {
	for {
		if ctx.Err() != nil {
			return
		}
		c.CleanupOnce(ctx)
		if ctx.Err() != nil {
			return
		}
		timer := time.NewTimer(c.interval)
		select {
		case <-ctx.Done():
			if !timer.Stop() {
				<-timer.C
			}
			return
		case <-timer.C:
		}
	}
}

// CleanupOnce deletes expired samples in bounded batches and returns how many were removed.
func (c *RetentionCleaner) CleanupOnce(ctx context.Context) int64 {
	if c == nil || c.db == nil {
		return 0
	}
	retentionDays := internalsettings.Int(internalsettings.TelemetryRetentionDaysKey, internalsettings.DefaultTelemetryRetentionDays, 0)
	if retentionDays <= 0 {
		return 0
	}
	cutoff := c.clock.NowUTC().AddDate(0, 0, -retentionDays)

	deletedTotal := int64(0)
	for i := 0; i < maxDeleteBatchesPerRun; i++ {
		if ctx.Err() != nil {
			break
		}
		n, err := c.deleteBatch(ctx, cutoff)
		if err != nil {
			log.WithError(err).Warn("telemetry retention cleaner: delete batch failed")
			break
		}
		if n <= 0 {
			break
		}
		deletedTotal += n
	}
	if deletedTotal > 0 {
		log.Infof("telemetry retention cleaner: deleted %d rows (cutoff=%s retention_days=%d)", deletedTotal, cutoff.Format(time.RFC3339), retentionDays)
	}
	return deletedTotal
}

func (c *RetentionCleaner) deleteBatch(ctx context.Context, cutoff time.Time) (int64, error) {
	limit := c.batchSize
	if limit <= 0 {
		limit = defaultDeleteBatchSize
	}
	// Limited subquery keeps each delete short.
	res := c.db.WithContext(ctx).Exec(`
		DELETE FROM telemetry_samples
		WHERE id IN (
			SELECT id FROM telemetry_samples
			WHERE recorded_at < ?
			ORDER BY recorded_at ASC
			LIMIT ?
		)
	`, cutoff, limit)
	if res.Error != nil {
		return 0, res.Error
	}
	return res.RowsAffected, nil
}
