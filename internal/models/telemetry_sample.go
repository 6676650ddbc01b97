package models

import (
	"time"

	"gorm.io/datatypes"
)

// TelemetrySample is an append-only progress observation for one batch.
type TelemetrySample struct {
	ID uint64 `gorm:"primaryKey;autoIncrement"` // Primary key.

	BatchID    string `gorm:"type:varchar(128);not null;index"` // Observed batch.
	OwnerToken string `gorm:"type:varchar(64);not null"`        // Masked owner token.
	Status     string `gorm:"type:varchar(32);not null"`        // Status at observation time.

	RecordedAt time.Time `gorm:"not null;index"` // Observation timestamp.

	TotalRequests     int64 `gorm:"not null;default:0"`
	CompletedRequests int64 `gorm:"not null;default:0"`
	FailedRequests    int64 `gorm:"not null;default:0"`
	RemainingRequests int64 `gorm:"not null;default:0"`
	CompletedDelta    int64 `gorm:"not null;default:0"`
	FailedDelta       int64 `gorm:"not null;default:0"`

	ElapsedSinceLast float64 `gorm:"not null;default:0"` // Seconds since the previous observation.
	IncrementalRate  float64 `gorm:"not null;default:0"` // Completed items per second since the previous observation.
	OverallRate      float64 `gorm:"not null;default:0"` // Completed items per second since creation.
	TimePerRequest   float64 `gorm:"not null;default:0"` // Seconds per settled item since the previous observation.
	ETASeconds       float64 `gorm:"not null;default:0"` // Estimated seconds until all items settle.
	TotalElapsed     float64 `gorm:"not null;default:0"` // Seconds since creation.

	BatchCreatedAt   time.Time `gorm:"not null"`
	BatchCompletedAt *time.Time
	InputFileRef     string `gorm:"type:text"`
	OutputFileRef    string `gorm:"type:text"`
	RemainingBalance *int64 // Owner balance at observation time, when known.

	Metadata datatypes.JSON `gorm:"type:jsonb"` // Endpoint, completion window and provider metadata.
}
