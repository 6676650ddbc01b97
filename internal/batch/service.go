// Package batch implements the batch job lifecycle: submission with a
// provisional debit, reconciliation against the provider, and the exactly-once
// final cost adjustment at the first terminal observation.
package batch

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/Ruzakiff/crazygpt/internal/admission"
	"github.com/Ruzakiff/crazygpt/internal/clock"
	"github.com/Ruzakiff/crazygpt/internal/ledger"
	"github.com/Ruzakiff/crazygpt/internal/metrics"
	"github.com/Ruzakiff/crazygpt/internal/models"
	"github.com/Ruzakiff/crazygpt/internal/provider"
	"github.com/Ruzakiff/crazygpt/internal/security"
	log "github.com/sirupsen/logrus"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

var (
	ErrNotFound     = errors.New("batch: job not found")
	ErrUnauthorized = errors.New("batch: token does not own job")
	ErrNoArtifact   = errors.New("batch: artifact not available")
	ErrTokenInvalid = errors.New("batch: token is unknown, expired or exhausted")
)

const (
	defaultEndpoint         = "/v1/chat/completions"
	defaultCompletionWindow = "24h"
	persistAttempts         = 3
)

// Admitter gates submissions per token.
type Admitter interface {
	TryAdmit(ctx context.Context, tokenID string) (bool, error)
}

// Recorder receives one observation per successful reconciliation. Record must not block.
type Recorder interface {
	Record(batchID string, view View, ownerToken string)
}

type nopRecorder struct{}

func (nopRecorder) Record(string, View, string) {}

// Service owns batch jobs.
type Service struct {
	db               *gorm.DB
	ledger           *ledger.Ledger
	admitter         Admitter
	provider         provider.Provider
	recorder         Recorder
	clock            clock.Clock
	retry            Retry
	policy           func() FinalCostPolicy
	endpoint         string
	completionWindow string
}

type Option func(*Service)

func WithRecorder(r Recorder) Option {
	return func(s *Service) {
		if r != nil {
			s.recorder = r
		}
	}
}

func WithClock(c clock.Clock) Option {
	return func(s *Service) { s.clock = clock.OrSystem(c) }
}

func WithRetry(r Retry) Option {
	return func(s *Service) { s.retry = r }
}

// WithPolicy pins the final cost policy instead of reading it from settings.
func WithPolicy(p FinalCostPolicy) Option {
	return func(s *Service) { s.policy = func() FinalCostPolicy { return p } }
}

// WithEndpoint sets the provider endpoint and completion window used for new batches.
func WithEndpoint(endpoint, completionWindow string) Option {
	return func(s *Service) {
		if strings.TrimSpace(endpoint) != "" {
			s.endpoint = endpoint
		}
		if strings.TrimSpace(completionWindow) != "" {
			s.completionWindow = completionWindow
		}
	}
}

// NewService constructs a Service.
func NewService(db *gorm.DB, l *ledger.Ledger, admitter Admitter, p provider.Provider, opts ...Option) *Service {
	s := &Service{
		db:               db,
		ledger:           l,
		admitter:         admitter,
		provider:         p,
		recorder:         nopRecorder{},
		clock:            clock.System{},
		retry:            DefaultRetry(),
		policy:           CurrentPolicy,
		endpoint:         defaultEndpoint,
		completionWindow: defaultCompletionWindow,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Submit validates the payload, passes admission, checks the token, debits one
// unit per request and forwards the payload to the provider. Any provider
// failure after the debit refunds it.
func (s *Service) Submit(ctx context.Context, owner string, payload Payload) (*View, error) {
	count, errCount := CountRequests(payload.Content)
	if errCount != nil {
		metrics.BatchSubmissions.WithLabelValues("invalid").Inc()
		return nil, errCount
	}

	if errAdmit := s.Admit(ctx, owner); errAdmit != nil {
		if errors.Is(errAdmit, admission.ErrRateLimited) {
			metrics.BatchSubmissions.WithLabelValues("rate_limited").Inc()
		}
		return nil, errAdmit
	}

	valid, errValidate := s.ledger.Validate(ctx, owner)
	if errValidate != nil {
		return nil, errValidate
	}
	if !valid {
		metrics.BatchSubmissions.WithLabelValues("invalid_token").Inc()
		return nil, ErrTokenInvalid
	}

	if _, errDebit := s.ledger.Debit(ctx, owner, count); errDebit != nil {
		if errors.Is(errDebit, ledger.ErrInsufficientBalance) {
			metrics.BatchSubmissions.WithLabelValues("insufficient_balance").Inc()
		}
		return nil, errDebit
	}
	metrics.LedgerUnits.WithLabelValues("debit", "provisional").Add(float64(count))

	created, errSubmit := s.forward(ctx, payload)
	if errSubmit != nil {
		s.refund(ctx, owner, count)
		metrics.BatchSubmissions.WithLabelValues("provider_error").Inc()
		return nil, errSubmit
	}

	job, errPersist := s.persistNew(ctx, owner, count, created)
	if errPersist != nil {
		log.WithError(errPersist).Errorf("batch: provider accepted batch but the record was not stored after %d attempts; token charged, reconcile manually (batch=%s token=%s cost=%d)", persistAttempts, created.ID, security.MaskToken(owner), count)
		return nil, errPersist
	}
	metrics.BatchSubmissions.WithLabelValues("accepted").Inc()
	log.Infof("batch: submitted (batch=%s token=%s requests=%d)", job.ID, security.MaskToken(owner), count)

	view := viewFromModel(job)
	return &view, nil
}

// Admit passes one token-scoped request through the admission controller.
// It returns admission.ErrRateLimited when the token's window is full.
func (s *Service) Admit(ctx context.Context, owner string) error {
	allowed, errAdmit := s.admitter.TryAdmit(ctx, owner)
	if errAdmit != nil {
		return fmt.Errorf("batch: admission: %w", errAdmit)
	}
	if !allowed {
		return admission.ErrRateLimited
	}
	return nil
}

func (s *Service) forward(ctx context.Context, payload Payload) (*provider.Batch, error) {
	filename := payload.Filename
	if strings.TrimSpace(filename) == "" {
		filename = "batch.jsonl"
	}
	fileID, errUpload := s.provider.UploadFile(ctx, filename, payload.Content)
	if errUpload != nil {
		return nil, fmt.Errorf("batch: upload input: %w", errUpload)
	}
	created, errCreate := s.provider.CreateBatch(ctx, provider.CreateBatchRequest{
		InputFileID:      fileID,
		Endpoint:         s.endpoint,
		CompletionWindow: s.completionWindow,
	})
	if errCreate != nil {
		if _, errDelete := s.provider.DeleteFile(ctx, fileID); errDelete != nil {
			log.WithError(errDelete).Warnf("batch: delete orphaned input failed (file=%s)", fileID)
		}
		return nil, fmt.Errorf("batch: create batch: %w", errCreate)
	}
	if created.InputFileID == "" {
		created.InputFileID = fileID
	}
	return created, nil
}

func (s *Service) refund(ctx context.Context, owner string, amount int64) {
	// The caller's context may already be cancelled; the refund must still land.
	refundCtx := context.WithoutCancel(ctx)
	if _, errCredit := s.ledger.Credit(refundCtx, owner, amount); errCredit != nil {
		log.WithError(errCredit).Errorf("batch: refund failed (token=%s amount=%d)", security.MaskToken(owner), amount)
		return
	}
	metrics.LedgerUnits.WithLabelValues("credit", "refund").Add(float64(amount))
	log.Infof("batch: provisional debit refunded (token=%s amount=%d)", security.MaskToken(owner), amount)
}

func (s *Service) persistNew(ctx context.Context, owner string, count int64, created *provider.Batch) (*models.BatchJob, error) {
	status, errStatus := ParseStatus(created.Status)
	if errStatus != nil || status.Terminal() {
		status = StatusValidating
	}
	now := s.clock.NowUTC()
	job := &models.BatchJob{
		ID:               created.ID,
		OwnerToken:       owner,
		Status:           string(status),
		Endpoint:         firstNonEmpty(created.Endpoint, s.endpoint),
		CompletionWindow: firstNonEmpty(created.CompletionWindow, s.completionWindow),
		InputFileRef:     created.InputFileID,
		TotalRequests:    count,
		ProvisionalCost:  count,
		Metadata:         encodeMetadata(created.Metadata),
		CreatedAt:        now,
		UpdatedAt:        now,
	}
	// The provider already holds the batch, so the insert outlives the caller.
	dbCtx := context.WithoutCancel(ctx)
	sleep := s.retry.Sleep
	if sleep == nil {
		sleep = SleepContext
	}
	b := s.retry.newBackOff()
	var errCreate error
	for attempt := 1; attempt <= persistAttempts; attempt++ {
		errCreate = s.db.WithContext(dbCtx).Create(job).Error
		if errCreate == nil {
			return job, nil
		}
		// An earlier attempt may have committed before reporting failure.
		var stored models.BatchJob
		if errFind := s.db.WithContext(dbCtx).Where("id = ?", job.ID).Take(&stored).Error; errFind == nil {
			return &stored, nil
		}
		if attempt == persistAttempts {
			break
		}
		wait := b.NextBackOff()
		log.WithError(errCreate).Warnf("batch: persist job attempt %d/%d failed, retrying in %s (batch=%s)", attempt, persistAttempts, wait, job.ID)
		_ = sleep(dbCtx, wait)
	}
	return nil, fmt.Errorf("batch: persist job: %w", errCreate)
}

// Reconcile refreshes the job from the provider on behalf of requester.
func (s *Service) Reconcile(ctx context.Context, batchID, requester string) (*View, error) {
	job, errLoad := s.loadOwned(ctx, batchID, requester)
	if errLoad != nil {
		return nil, errLoad
	}
	return s.ReconcileJob(ctx, job)
}

// ReconcileJob refreshes an already loaded job. A provider failure leaves the
// stored record untouched.
func (s *Service) ReconcileJob(ctx context.Context, job *models.BatchJob) (*View, error) {
	var observed *provider.Batch
	errGet := s.retry.Do(ctx, "get batch", func(ctx context.Context) error {
		b, err := s.provider.GetBatch(ctx, job.ID)
		if err != nil {
			return err
		}
		observed = b
		return nil
	})
	if errGet != nil {
		log.WithError(errGet).Warnf("batch: reconcile failed (batch=%s)", job.ID)
		return nil, fmt.Errorf("batch: reconcile %s: %w", job.ID, errGet)
	}
	status, errStatus := ParseStatus(observed.Status)
	if errStatus != nil {
		log.WithError(errStatus).Warnf("batch: reconcile skipped (batch=%s)", job.ID)
		return nil, errStatus
	}

	if errApply := s.apply(ctx, job, observed, status); errApply != nil {
		return nil, errApply
	}

	fresh, errReload := s.load(ctx, job.ID)
	if errReload != nil {
		return nil, errReload
	}
	view := viewFromModel(fresh)
	if balance, errBalance := s.ledger.BalanceOf(ctx, fresh.OwnerToken); errBalance == nil {
		view.RemainingBalance = &balance
	} else if !errors.Is(errBalance, ledger.ErrTokenNotFound) {
		log.WithError(errBalance).Warnf("batch: balance lookup failed (batch=%s)", fresh.ID)
	}
	s.recorder.Record(fresh.ID, view, fresh.OwnerToken)
	return &view, nil
}

func (s *Service) apply(ctx context.Context, job *models.BatchJob, observed *provider.Batch, status Status) error {
	now := s.clock.NowUTC()
	next := advance(Status(job.Status), status)
	updates := map[string]any{
		"status":             string(next),
		"completed_requests": observed.RequestCounts.Completed,
		"failed_requests":    observed.RequestCounts.Failed,
		"reconciled_at":      now,
	}
	if observed.RequestCounts.Total > 0 {
		updates["total_requests"] = observed.RequestCounts.Total
	}
	if observed.OutputFileID != "" {
		updates["output_file_ref"] = observed.OutputFileID
	}
	if observed.ErrorFileID != "" {
		updates["error_file_ref"] = observed.ErrorFileID
	}
	if len(observed.Metadata) > 0 {
		updates["metadata"] = encodeMetadata(observed.Metadata)
	}

	// Provider counts only grow; an older response never overwrites newer counts.
	counts := observed.RequestCounts

	if job.FinalCharged {
		// Terminal already: refresh counts and references only.
		delete(updates, "status")
		return s.db.WithContext(ctx).Model(&models.BatchJob{}).
			Where("id = ? AND completed_requests <= ? AND failed_requests <= ?", job.ID, counts.Completed, counts.Failed).
			Updates(updates).Error
	}

	if !next.Terminal() {
		// The status guard is evaluated against the stored row, not the
		// snapshot loaded before the provider call.
		res := s.db.WithContext(ctx).Model(&models.BatchJob{}).
			Where("id = ? AND final_charged = ? AND status IN ?", job.ID, false, reachableFrom(next)).
			Where("completed_requests <= ? AND failed_requests <= ?", counts.Completed, counts.Failed).
			Updates(updates)
		if res.Error != nil {
			return fmt.Errorf("batch: update job: %w", res.Error)
		}
		if res.RowsAffected == 0 {
			log.Debugf("batch: stale observation ignored (batch=%s status=%s)", job.ID, next)
		}
		return nil
	}

	completedAt := now
	if observed.CompletedAt != nil {
		completedAt = observed.CompletedAt.UTC()
	}
	updates["completed_at"] = completedAt
	updates["final_charged"] = true
	return s.finalize(ctx, job, observed.RequestCounts, next, updates)
}

// finalize flips final_charged and applies the final ledger adjustment in one
// transaction. Only the caller whose conditional update wins the flag charges.
func (s *Service) finalize(ctx context.Context, job *models.BatchJob, counts provider.RequestCounts, next Status, updates map[string]any) error {
	policy := s.policy()
	adjustment := policy.Adjustment(job.ProvisionalCost, counts)
	var applied int64
	won := false

	// A won flag must be followed by its ledger adjustment even if the caller gives up.
	txCtx := context.WithoutCancel(ctx)
	errTx := s.db.WithContext(txCtx).Transaction(func(tx *gorm.DB) error {
		res := tx.Model(&models.BatchJob{}).
			Where("id = ? AND final_charged = ?", job.ID, false).
			Updates(updates)
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 0 {
			return nil
		}
		won = true

		txLedger := s.ledger.WithTx(tx)
		switch {
		case adjustment > 0:
			charged, _, errDebit := txLedger.DebitUpTo(txCtx, job.OwnerToken, adjustment)
			if errDebit != nil && !errors.Is(errDebit, ledger.ErrTokenNotFound) {
				return errDebit
			}
			applied = charged
		case adjustment < 0:
			_, errCredit := txLedger.Credit(txCtx, job.OwnerToken, -adjustment)
			if errCredit != nil && !errors.Is(errCredit, ledger.ErrTokenNotFound) {
				return errCredit
			}
			if errCredit == nil {
				applied = adjustment
			}
		}
		return tx.Model(&models.BatchJob{}).Where("id = ?", job.ID).Update("final_cost", applied).Error
	})
	if errTx != nil {
		return fmt.Errorf("batch: finalize job: %w", errTx)
	}
	if !won {
		return nil
	}

	metrics.BatchTransitions.WithLabelValues(string(next)).Inc()
	switch {
	case applied > 0:
		metrics.LedgerUnits.WithLabelValues("debit", "final").Add(float64(applied))
	case applied < 0:
		metrics.LedgerUnits.WithLabelValues("credit", "final").Add(float64(-applied))
	}
	if applied != adjustment {
		log.Warnf("batch: final adjustment clamped (batch=%s wanted=%d applied=%d)", job.ID, adjustment, applied)
	}
	log.Infof("batch: terminal status %s (batch=%s policy=%s final_cost=%d)", next, job.ID, policy, applied)
	return nil
}

// ListForOwner returns the cached jobs of owner, newest first, without provider calls.
func (s *Service) ListForOwner(ctx context.Context, owner string) ([]View, error) {
	var jobs []models.BatchJob
	if errFind := s.db.WithContext(ctx).
		Where("owner_token = ?", owner).
		Order("created_at DESC").
		Find(&jobs).Error; errFind != nil {
		return nil, fmt.Errorf("batch: list jobs: %w", errFind)
	}
	views := make([]View, 0, len(jobs))
	for i := range jobs {
		views = append(views, viewFromModel(&jobs[i]))
	}
	return views, nil
}

// FileIDs returns the input file references of owner's jobs.
func (s *Service) FileIDs(ctx context.Context, owner string) ([]string, error) {
	var ids []string
	if errFind := s.db.WithContext(ctx).Model(&models.BatchJob{}).
		Where("owner_token = ?", owner).
		Order("created_at DESC").
		Pluck("input_file_ref", &ids).Error; errFind != nil {
		return nil, fmt.Errorf("batch: list file ids: %w", errFind)
	}
	return ids, nil
}

// FetchContent downloads one artifact of a job owned by requester.
func (s *Service) FetchContent(ctx context.Context, batchID, requester string, which Artifact) ([]byte, error) {
	job, errLoad := s.loadOwned(ctx, batchID, requester)
	if errLoad != nil {
		return nil, errLoad
	}
	ref := which.ref(job)
	if ref == "" {
		return nil, fmt.Errorf("%w: %s file for %s", ErrNoArtifact, which, batchID)
	}
	var content []byte
	errFetch := s.retry.Do(ctx, "fetch content", func(ctx context.Context) error {
		b, err := s.provider.FetchContent(ctx, ref)
		if err != nil {
			return err
		}
		content = b
		return nil
	})
	if errFetch != nil {
		return nil, fmt.Errorf("batch: fetch %s content: %w", which, errFetch)
	}
	return content, nil
}

// DeleteArtifacts asks the provider to delete every file of the job, then
// removes the local record. Per-file failures are reported, not returned.
func (s *Service) DeleteArtifacts(ctx context.Context, batchID, requester string) (*DeletionReport, error) {
	job, errLoad := s.loadOwned(ctx, batchID, requester)
	if errLoad != nil {
		return nil, errLoad
	}
	report := &DeletionReport{BatchID: job.ID}
	for _, which := range []Artifact{ArtifactOutput, ArtifactError, ArtifactInput} {
		ref := which.ref(job)
		if ref == "" {
			continue
		}
		result := ArtifactResult{Artifact: which, FileID: ref}
		errDelete := s.retry.Do(ctx, "delete file", func(ctx context.Context) error {
			deleted, err := s.provider.DeleteFile(ctx, ref)
			if err != nil {
				return err
			}
			result.Deleted = deleted
			return nil
		})
		if errDelete != nil {
			result.Error = errDelete.Error()
			log.WithError(errDelete).Warnf("batch: delete %s artifact failed (batch=%s file=%s)", which, job.ID, ref)
		}
		report.Artifacts = append(report.Artifacts, result)
	}

	if errDelete := s.db.WithContext(ctx).Where("id = ?", job.ID).Delete(&models.BatchJob{}).Error; errDelete != nil {
		return report, fmt.Errorf("batch: delete job: %w", errDelete)
	}
	report.RecordDeleted = true
	log.Infof("batch: deleted (batch=%s artifacts=%d)", job.ID, len(report.Artifacts))
	return report, nil
}

// PendingJobs returns up to limit jobs whose final adjustment has not been applied, oldest first.
func (s *Service) PendingJobs(ctx context.Context, limit int) ([]models.BatchJob, error) {
	var jobs []models.BatchJob
	q := s.db.WithContext(ctx).
		Where("final_charged = ?", false).
		Order("created_at ASC")
	if limit > 0 {
		q = q.Limit(limit)
	}
	if errFind := q.Find(&jobs).Error; errFind != nil {
		return nil, fmt.Errorf("batch: list pending jobs: %w", errFind)
	}
	return jobs, nil
}

func (s *Service) load(ctx context.Context, batchID string) (*models.BatchJob, error) {
	var job models.BatchJob
	errFind := s.db.WithContext(ctx).Where("id = ?", batchID).Take(&job).Error
	if errors.Is(errFind, gorm.ErrRecordNotFound) {
		return nil, ErrNotFound
	}
	if errFind != nil {
		return nil, fmt.Errorf("batch: load job: %w", errFind)
	}
	return &job, nil
}

func (s *Service) loadOwned(ctx context.Context, batchID, requester string) (*models.BatchJob, error) {
	job, err := s.load(ctx, batchID)
	if err != nil {
		return nil, err
	}
	if job.OwnerToken != requester {
		return nil, ErrUnauthorized
	}
	return job, nil
}

func encodeMetadata(meta map[string]string) datatypes.JSON {
	if len(meta) == 0 {
		return nil
	}
	raw, err := json.Marshal(meta)
	if err != nil {
		return nil
	}
	return datatypes.JSON(raw)
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if strings.TrimSpace(v) != "" {
			return v
		}
	}
	return ""
}
