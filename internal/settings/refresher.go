package settings

import (
	"context"
	"time"

	log "github.com/sirupsen/logrus"
	"gorm.io/gorm"
)

const defaultRefreshInterval = 30 * time.Second

// StartRefresher reloads the snapshot every interval until ctx is done.
func StartRefresher(ctx context.Context, db *gorm.DB, every time.Duration) {
	if db == nil {
		return
	}
	if every <= 0 {
		every = defaultRefreshInterval
	}
	go func() {
		ticker := time.NewTicker(every)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				if errRefresh := RefreshDBConfigSnapshot(ctx, db); errRefresh != nil && ctx.Err() == nil {
					log.WithError(errRefresh).Warn("settings: refresh snapshot failed")
				}
			}
		}
	}()
}
