package batch

import (
	"encoding/json"
	"time"

	"github.com/Ruzakiff/crazygpt/internal/models"
	"github.com/Ruzakiff/crazygpt/internal/provider"
)

// View is the merged picture of a job: local ownership and cost fields plus the
// last provider-reported status and counts.
type View struct {
	ID               string                 `json:"id"`
	Status           Status                 `json:"status"`
	Endpoint         string                 `json:"endpoint,omitempty"`
	CompletionWindow string                 `json:"completion_window,omitempty"`
	InputFileRef     string                 `json:"input_file_id"`
	OutputFileRef    string                 `json:"output_file_id,omitempty"`
	ErrorFileRef     string                 `json:"error_file_id,omitempty"`
	RequestCounts    provider.RequestCounts `json:"request_counts"`
	ProvisionalCost  int64                  `json:"provisional_cost"`
	FinalCost        int64                  `json:"final_cost"`
	FinalCharged     bool                   `json:"final_charged"`
	CreatedAt        time.Time              `json:"created_at"`
	CompletedAt      *time.Time             `json:"completed_at,omitempty"`
	ReconciledAt     *time.Time             `json:"reconciled_at,omitempty"`
	RemainingBalance *int64                 `json:"remaining_balance,omitempty"`
	Metadata         map[string]string      `json:"metadata,omitempty"`
}

func viewFromModel(job *models.BatchJob) View {
	v := View{
		ID:               job.ID,
		Status:           Status(job.Status),
		Endpoint:         job.Endpoint,
		CompletionWindow: job.CompletionWindow,
		InputFileRef:     job.InputFileRef,
		OutputFileRef:    job.OutputFileRef,
		ErrorFileRef:     job.ErrorFileRef,
		RequestCounts: provider.RequestCounts{
			Total:     job.TotalRequests,
			Completed: job.CompletedRequests,
			Failed:    job.FailedRequests,
		},
		ProvisionalCost: job.ProvisionalCost,
		FinalCost:       job.FinalCost,
		FinalCharged:    job.FinalCharged,
		CreatedAt:       job.CreatedAt,
		CompletedAt:     job.CompletedAt,
		ReconciledAt:    job.ReconciledAt,
	}
	if len(job.Metadata) > 0 {
		var meta map[string]string
		if err := json.Unmarshal(job.Metadata, &meta); err == nil {
			v.Metadata = meta
		}
	}
	return v
}

// Artifact names one of the provider files attached to a job.
type Artifact string

const (
	ArtifactOutput Artifact = "output"
	ArtifactError  Artifact = "error"
	ArtifactInput  Artifact = "input"
)

// ParseArtifact accepts output, error or input; empty means output.
func ParseArtifact(raw string) (Artifact, bool) {
	switch Artifact(raw) {
	case "", ArtifactOutput:
		return ArtifactOutput, true
	case ArtifactError, ArtifactInput:
		return Artifact(raw), true
	default:
		return "", false
	}
}

func (a Artifact) ref(job *models.BatchJob) string {
	switch a {
	case ArtifactOutput:
		return job.OutputFileRef
	case ArtifactError:
		return job.ErrorFileRef
	case ArtifactInput:
		return job.InputFileRef
	default:
		return ""
	}
}

// ArtifactResult is the outcome of deleting one provider file.
type ArtifactResult struct {
	Artifact Artifact `json:"artifact"`
	FileID   string   `json:"file_id"`
	Deleted  bool     `json:"deleted"`
	Error    string   `json:"error,omitempty"`
}

// DeletionReport lists per-artifact results; partial deletion is not an error.
type DeletionReport struct {
	BatchID       string           `json:"batch_id"`
	Artifacts     []ArtifactResult `json:"artifacts"`
	RecordDeleted bool             `json:"record_deleted"`
}
