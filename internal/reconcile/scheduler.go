// Package reconcile periodically refreshes jobs whose final cost has not been
// applied, so terminal transitions are charged even if nobody polls.
package reconcile

import (
	"context"
	"sync"
	"time"

	"github.com/Ruzakiff/crazygpt/internal/batch"
	"github.com/Ruzakiff/crazygpt/internal/models"
	internalsettings "github.com/Ruzakiff/crazygpt/internal/settings"
	log "github.com/sirupsen/logrus"
)

const (
	maxConcurrentReconciles = 16
	defaultJobsPerPoll      = 500
)

// Reconciler is the part of batch.Service the scheduler drives.
type Reconciler interface {
	PendingJobs(ctx context.Context, limit int) ([]models.BatchJob, error)
	ReconcileJob(ctx context.Context, job *models.BatchJob) (*batch.View, error)
}

// Scheduler periodically reconciles pending jobs.
type Scheduler struct {
	service     Reconciler
	jobsPerPoll int
}

// NewScheduler constructs a Scheduler.
func NewScheduler(service Reconciler) *Scheduler {
	if service == nil {
		return nil
	}
	return &Scheduler{service: service, jobsPerPoll: defaultJobsPerPoll}
}

// Start launches the polling loop in a background goroutine.
func (s *Scheduler) Start(ctx context.Context) {
	if s == nil {
		return
	}
	if ctx == nil {
		ctx = context.Background()
	}
	interval, _ := s.resolveConfig()
	go s.run(ctx)
	log.Infof("reconcile scheduler started (interval=%s)", interval)
}

func (s *Scheduler) run(ctx context.Context) {
	for {
		if ctx.Err() != nil {
			return
		}
		interval := s.Poll(ctx)
		if ctx.Err() != nil {
			return
		}
		timer := time.NewTimer(interval)
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

// Poll reconciles one round of pending jobs and returns the interval until the next round.
func (s *Scheduler) Poll(ctx context.Context) time.Duration {
	interval, maxConcurrency := s.resolveConfig()

	jobs, errJobs := s.service.PendingJobs(ctx, s.jobsPerPoll)
	if errJobs != nil {
		log.WithError(errJobs).Warn("reconcile scheduler: load pending jobs failed")
		return interval
	}
	if len(jobs) == 0 {
		return interval
	}

	sem := make(chan struct{}, maxConcurrency)
	var wg sync.WaitGroup
	shouldStop := false

	for i := range jobs {
		select {
		case sem <- struct{}{}:
		case <-ctx.Done():
			shouldStop = true
		}
		if shouldStop {
			break
		}

		wg.Add(1)
		job := jobs[i]
		go func() {
			defer wg.Done()
			defer func() { <-sem }()
			if _, errReconcile := s.service.ReconcileJob(ctx, &job); errReconcile != nil {
				log.WithError(errReconcile).Warnf("reconcile scheduler: reconcile failed (batch=%s)", job.ID)
			}
		}()
	}

	wg.Wait()
	log.Debugf("reconcile scheduler: round finished (jobs=%d)", len(jobs))
	return interval
}

func (s *Scheduler) resolveConfig() (time.Duration, int) {
	interval := internalsettings.Seconds(internalsettings.ReconcileIntervalSecondsKey, internalsettings.DefaultReconcileIntervalSeconds)
	maxConcurrency := internalsettings.Int(internalsettings.ReconcileMaxConcurrencyKey, internalsettings.DefaultReconcileMaxConcurrency, 1)
	if maxConcurrency > maxConcurrentReconciles {
		maxConcurrency = maxConcurrentReconciles
	}
	return interval, maxConcurrency
}
