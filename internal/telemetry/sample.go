package telemetry

import (
	"encoding/json"
	"time"

	"github.com/Ruzakiff/crazygpt/internal/batch"
	"github.com/Ruzakiff/crazygpt/internal/models"
	"github.com/Ruzakiff/crazygpt/internal/security"
	"gorm.io/datatypes"
)

// observation is one queued reconciliation result.
type observation struct {
	batchID    string
	view       batch.View
	owner      string
	observedAt time.Time
}

// prior is the last successfully written observation of a batch.
type prior struct {
	at        time.Time
	completed int64
	failed    int64
}

// computeSample derives the progress record for obs given the previous
// observation of the same batch, if any.
func computeSample(obs observation, last *prior) *models.TelemetrySample {
	counts := obs.view.RequestCounts
	now := obs.observedAt

	var elapsed float64
	var completedDelta, failedDelta int64
	if last != nil {
		elapsed = now.Sub(last.at).Seconds()
		completedDelta = counts.Completed - last.completed
		failedDelta = counts.Failed - last.failed
	}

	var incrementalRate float64
	if elapsed > 0 {
		incrementalRate = float64(completedDelta) / elapsed
	}
	var timePerRequest float64
	if settled := completedDelta + failedDelta; settled > 0 && elapsed > 0 {
		timePerRequest = elapsed / float64(settled)
	}

	totalElapsed := now.Sub(obs.view.CreatedAt).Seconds()
	var overallRate float64
	if totalElapsed > 0 {
		overallRate = float64(counts.Completed) / totalElapsed
	}
	remaining := max(0, counts.Total-counts.Completed-counts.Failed)
	var eta float64
	if overallRate > 0 {
		eta = float64(remaining) / overallRate
	}

	return &models.TelemetrySample{
		BatchID:           obs.batchID,
		OwnerToken:        security.MaskToken(obs.owner),
		Status:            string(obs.view.Status),
		RecordedAt:        now,
		TotalRequests:     counts.Total,
		CompletedRequests: counts.Completed,
		FailedRequests:    counts.Failed,
		RemainingRequests: remaining,
		CompletedDelta:    completedDelta,
		FailedDelta:       failedDelta,
		ElapsedSinceLast:  elapsed,
		IncrementalRate:   incrementalRate,
		OverallRate:       overallRate,
		TimePerRequest:    timePerRequest,
		ETASeconds:        eta,
		TotalElapsed:      max(0, totalElapsed),
		BatchCreatedAt:    obs.view.CreatedAt,
		BatchCompletedAt:  obs.view.CompletedAt,
		InputFileRef:      obs.view.InputFileRef,
		OutputFileRef:     obs.view.OutputFileRef,
		RemainingBalance:  obs.view.RemainingBalance,
		Metadata:          sampleMetadata(obs.view),
	}
}

func sampleMetadata(v batch.View) datatypes.JSON {
	meta := map[string]any{
		"endpoint":          v.Endpoint,
		"completion_window": v.CompletionWindow,
		"provisional_cost":  v.ProvisionalCost,
		"final_cost":        v.FinalCost,
	}
	if len(v.Metadata) > 0 {
		meta["provider"] = v.Metadata
	}
	raw, err := json.Marshal(meta)
	if err != nil {
		return nil
	}
	return datatypes.JSON(raw)
}
