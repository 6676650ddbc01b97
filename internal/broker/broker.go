// Package broker is the upward boundary: every operation returns either a
// result or an apperr.Error carrying {kind, message}.
package broker

import (
	"context"
	"errors"
	"sort"
	"strings"

	"github.com/Ruzakiff/crazygpt/internal/admission"
	"github.com/Ruzakiff/crazygpt/internal/apperr"
	"github.com/Ruzakiff/crazygpt/internal/batch"
	"github.com/Ruzakiff/crazygpt/internal/ledger"
	"github.com/Ruzakiff/crazygpt/internal/provider"
	log "github.com/sirupsen/logrus"
)

// Tiers are the fixed purchase bundles.
var Tiers = map[string]int64{
	"basic":    1250,
	"standard": 2500,
	"premium":  5000,
}

// TierNames returns the tier names sorted by amount.
func TierNames() []string {
	names := make([]string, 0, len(Tiers))
	for name := range Tiers {
		names = append(names, name)
	}
	sort.Slice(names, func(i, j int) bool { return Tiers[names[i]] < Tiers[names[j]] })
	return names
}

type Broker struct {
	ledger  *ledger.Ledger
	batches *batch.Service
}

func New(l *ledger.Ledger, batches *batch.Service) *Broker {
	return &Broker{ledger: l, batches: batches}
}

// Purchase creates a token holding amount units.
func (b *Broker) Purchase(ctx context.Context, amount int64) (string, error) {
	if amount <= 0 {
		return "", apperr.New(apperr.KindInvalidRequest, "amount must be positive", nil)
	}
	id, err := b.ledger.Create(ctx, amount)
	if err != nil {
		return "", classify(err)
	}
	return id, nil
}

// PurchaseTier creates a token for a named tier and returns it with its amount.
func (b *Broker) PurchaseTier(ctx context.Context, tier string) (string, int64, error) {
	name := strings.ToLower(strings.TrimSpace(tier))
	amount, ok := Tiers[name]
	if !ok {
		return "", 0, apperr.New(apperr.KindInvalidRequest, "unknown tier "+tier+" (expected one of "+strings.Join(TierNames(), ", ")+")", nil)
	}
	id, err := b.ledger.CreateTier(ctx, amount, name)
	if err != nil {
		return "", 0, classify(err)
	}
	return id, amount, nil
}

// Balance returns the remaining units of a live token. Balance checks share
// the token's admission window with submissions.
func (b *Broker) Balance(ctx context.Context, token string) (int64, error) {
	if err := b.batches.Admit(ctx, token); err != nil {
		return 0, classify(err)
	}
	balance, err := b.ledger.BalanceOf(ctx, token)
	if err != nil {
		return 0, classify(err)
	}
	return balance, nil
}

// SubmitBatch submits a JSONL payload for a token with a positive balance.
// Admission runs before the token check, so a drained token that submits too
// fast is rate limited.
func (b *Broker) SubmitBatch(ctx context.Context, token string, payload batch.Payload) (*batch.View, error) {
	view, err := b.batches.Submit(ctx, token, payload)
	if err != nil {
		return nil, classify(err)
	}
	return view, nil
}

// Status reconciles a job with the provider and returns the merged view.
func (b *Broker) Status(ctx context.Context, token, batchID string) (*batch.View, error) {
	if err := b.requireActive(ctx, token); err != nil {
		return nil, err
	}
	view, err := b.batches.Reconcile(ctx, batchID, token)
	if err != nil {
		return nil, classify(err)
	}
	return view, nil
}

// ListBatches returns the cached jobs of a token.
func (b *Broker) ListBatches(ctx context.Context, token string) ([]batch.View, error) {
	if err := b.requireActive(ctx, token); err != nil {
		return nil, err
	}
	views, err := b.batches.ListForOwner(ctx, token)
	if err != nil {
		return nil, classify(err)
	}
	return views, nil
}

// DeleteBatch deletes a job's provider files and its local record.
func (b *Broker) DeleteBatch(ctx context.Context, token, batchID string) (*batch.DeletionReport, error) {
	if err := b.requireActive(ctx, token); err != nil {
		return nil, err
	}
	report, err := b.batches.DeleteArtifacts(ctx, batchID, token)
	if err != nil {
		return report, classify(err)
	}
	return report, nil
}

// FileIDs lists the input file references of a token's jobs.
func (b *Broker) FileIDs(ctx context.Context, token string) ([]string, error) {
	if err := b.requireActive(ctx, token); err != nil {
		return nil, err
	}
	ids, err := b.batches.FileIDs(ctx, token)
	if err != nil {
		return nil, classify(err)
	}
	return ids, nil
}

// Content downloads one artifact of a job.
func (b *Broker) Content(ctx context.Context, token, batchID string, which batch.Artifact) ([]byte, error) {
	if err := b.requireActive(ctx, token); err != nil {
		return nil, err
	}
	content, err := b.batches.FetchContent(ctx, batchID, token, which)
	if err != nil {
		return nil, classify(err)
	}
	return content, nil
}

func (b *Broker) requireActive(ctx context.Context, token string) error {
	active, err := b.ledger.Active(ctx, token)
	if err != nil {
		return classify(err)
	}
	if !active {
		return apperr.New(apperr.KindInvalidToken, "token is unknown or expired", nil)
	}
	return nil
}

// classify maps package errors onto the boundary taxonomy.
func classify(err error) error {
	if err == nil {
		return nil
	}
	var ae *apperr.Error
	if errors.As(err, &ae) {
		return ae
	}
	var unknownStatus *batch.ErrUnknownStatus
	var reqErr *provider.RequestError

	switch {
	case errors.Is(err, ledger.ErrTokenNotFound):
		return apperr.New(apperr.KindInvalidToken, "token is unknown or expired", err)
	case errors.Is(err, ledger.ErrInsufficientBalance):
		return apperr.New(apperr.KindInsufficientBalance, "balance is too low for this batch", err)
	case errors.Is(err, ledger.ErrInvalidAmount):
		return apperr.New(apperr.KindInvalidRequest, "amount must be positive", err)
	case errors.Is(err, admission.ErrRateLimited):
		return apperr.New(apperr.KindRateLimited, "too many submissions, retry later", err)
	case errors.Is(err, batch.ErrInvalidPayload):
		return apperr.New(apperr.KindInvalidRequest, err.Error(), err)
	case errors.Is(err, batch.ErrNotFound):
		return apperr.New(apperr.KindNotFound, "batch not found", err)
	case errors.Is(err, batch.ErrTokenInvalid):
		return apperr.New(apperr.KindInvalidToken, "token is unknown, expired or exhausted", err)
	case errors.Is(err, batch.ErrUnauthorized):
		return apperr.New(apperr.KindUnauthorized, "token does not own this batch", err)
	case errors.Is(err, batch.ErrNoArtifact):
		return apperr.New(apperr.KindNotFound, "requested file is not available", err)
	case errors.Is(err, provider.ErrNotFound):
		return apperr.New(apperr.KindNotFound, "provider does not know this object", err)
	case errors.As(err, &unknownStatus):
		return apperr.New(apperr.KindProviderUnavailable, unknownStatus.Error(), err)
	case errors.As(err, &reqErr), errors.Is(err, context.DeadlineExceeded):
		return apperr.New(apperr.KindProviderUnavailable, "batch provider is unavailable", err)
	default:
		log.WithError(err).Error("broker: internal error")
		return apperr.New(apperr.KindFatal, "internal error", err)
	}
}
