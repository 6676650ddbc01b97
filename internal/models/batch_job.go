package models

import (
	"time"

	"gorm.io/datatypes"
)

// BatchJob caches one submission to the external batch provider.
type BatchJob struct {
	ID string `gorm:"type:varchar(128);primaryKey"` // Provider-assigned batch id.

	OwnerToken string `gorm:"type:varchar(64);not null;index"` // Token that paid for the job.
	Status     string `gorm:"type:varchar(32);not null;index"` // Last observed status.

	Endpoint         string `gorm:"type:text"` // Provider endpoint the batch targets.
	CompletionWindow string `gorm:"type:text"` // Provider completion window.

	InputFileRef  string `gorm:"type:text;not null"` // Uploaded payload reference.
	OutputFileRef string `gorm:"type:text"`          // Results reference, once available.
	ErrorFileRef  string `gorm:"type:text"`          // Error results reference, once available.

	TotalRequests     int64 `gorm:"not null;default:0"` // Items in the batch.
	CompletedRequests int64 `gorm:"not null;default:0"` // Items completed per provider.
	FailedRequests    int64 `gorm:"not null;default:0"` // Items failed per provider.

	ProvisionalCost int64 `gorm:"not null;default:0"`     // Units debited at submission.
	FinalCost       int64 `gorm:"not null;default:0"`     // Signed adjustment applied at the terminal transition.
	FinalCharged    bool  `gorm:"not null;default:false"` // Set once the final adjustment is applied.

	Metadata datatypes.JSON `gorm:"type:jsonb"` // Provider metadata.

	CreatedAt    time.Time  `gorm:"not null;index"` // Submission timestamp.
	CompletedAt  *time.Time // First terminal observation.
	ReconciledAt *time.Time // Last successful reconciliation.
	UpdatedAt    time.Time  `gorm:"not null;autoUpdateTime"` // Last update timestamp.
}
