// Package provider defines the boundary to the external asynchronous batch
// provider and an OpenAI-compatible HTTP client for it.
package provider

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"
)

var (
	// ErrUnavailable marks transient provider failures.
	ErrUnavailable = errors.New("provider: unavailable")
	// ErrNotFound is returned when the provider does not know the referenced object.
	ErrNotFound = errors.New("provider: not found")
)

// RequestCounts are the per-item counters reported by the provider.
type RequestCounts struct {
	Total     int64 `json:"total"`
	Completed int64 `json:"completed"`
	Failed    int64 `json:"failed"`
}

// Batch is the provider's view of one batch. Status is the raw provider string.
type Batch struct {
	ID               string
	Status           string
	Endpoint         string
	CompletionWindow string
	InputFileID      string
	OutputFileID     string
	ErrorFileID      string
	CreatedAt        time.Time
	CompletedAt      *time.Time
	RequestCounts    RequestCounts
	Metadata         map[string]string
}

// CreateBatchRequest describes a batch to create from an uploaded input file.
type CreateBatchRequest struct {
	InputFileID      string
	Endpoint         string
	CompletionWindow string
	Metadata         map[string]string
}

// Provider is the external batch runner.
type Provider interface {
	// UploadFile stores a JSONL payload and returns its file reference.
	UploadFile(ctx context.Context, filename string, content []byte) (string, error)
	// CreateBatch starts a batch over an uploaded file.
	CreateBatch(ctx context.Context, req CreateBatchRequest) (*Batch, error)
	// GetBatch returns the current provider status of a batch.
	GetBatch(ctx context.Context, batchID string) (*Batch, error)
	// FetchContent downloads a file.
	FetchContent(ctx context.Context, fileID string) ([]byte, error)
	// DeleteFile removes a file and reports whether the provider confirmed the deletion.
	DeleteFile(ctx context.Context, fileID string) (bool, error)
}

// RequestError is a failed provider call.
type RequestError struct {
	Op         string
	statusCode int
	err        error
}

// NewRequestError wraps err as a failure of op with the given HTTP status (0 for transport errors).
func NewRequestError(op string, statusCode int, err error) *RequestError {
	return &RequestError{Op: op, statusCode: statusCode, err: err}
}

func (e *RequestError) Error() string {
	if e == nil {
		return ""
	}
	if e.err != nil {
		return fmt.Sprintf("provider: %s: %v", e.Op, e.err)
	}
	if e.statusCode > 0 {
		return fmt.Sprintf("provider: %s status=%d", e.Op, e.statusCode)
	}
	return fmt.Sprintf("provider: %s failed", e.Op)
}

func (e *RequestError) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.err
}

func (e *RequestError) StatusCode() int {
	if e == nil {
		return 0
	}
	return e.statusCode
}

// Retryable reports whether repeating the call may succeed.
func (e *RequestError) Retryable() bool {
	if e == nil {
		return false
	}
	switch {
	case e.statusCode == 0:
		return true
	case e.statusCode == http.StatusTooManyRequests, e.statusCode == http.StatusRequestTimeout:
		return true
	case e.statusCode >= http.StatusInternalServerError:
		return true
	default:
		return false
	}
}

// Is lets errors.Is match ErrUnavailable and ErrNotFound against status codes.
func (e *RequestError) Is(target error) bool {
	if e == nil {
		return false
	}
	switch target {
	case ErrUnavailable:
		return e.Retryable()
	case ErrNotFound:
		return e.statusCode == http.StatusNotFound
	}
	return false
}

// IsRetryable reports whether err is a transient provider failure.
func IsRetryable(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, context.Canceled) {
		return false
	}
	return errors.Is(err, ErrUnavailable)
}
