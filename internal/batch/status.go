package batch

import (
	"fmt"
	"strings"
)

// Status is the local lifecycle state of a batch job.
type Status string

const (
	StatusValidating Status = "validating"
	StatusInProgress Status = "in_progress"
	StatusCompleted  Status = "completed"
	StatusFailed     Status = "failed"
	StatusExpired    Status = "expired"
	StatusCancelled  Status = "cancelled"
)

// ErrUnknownStatus is returned for provider statuses with no local meaning.
type ErrUnknownStatus struct {
	Raw string
}

func (e *ErrUnknownStatus) Error() string {
	return fmt.Sprintf("batch: unrecognized provider status %q", e.Raw)
}

// ParseStatus maps a provider status onto the local lifecycle. Transitional
// provider states (finalizing, cancelling) count as in_progress.
func ParseStatus(raw string) (Status, error) {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "validating":
		return StatusValidating, nil
	case "in_progress", "finalizing", "cancelling":
		return StatusInProgress, nil
	case "completed":
		return StatusCompleted, nil
	case "failed":
		return StatusFailed, nil
	case "expired":
		return StatusExpired, nil
	case "cancelled", "canceled":
		return StatusCancelled, nil
	default:
		return "", &ErrUnknownStatus{Raw: raw}
	}
}

// Terminal reports whether no transition may leave s.
func (s Status) Terminal() bool {
	switch s {
	case StatusCompleted, StatusFailed, StatusExpired, StatusCancelled:
		return true
	case StatusValidating, StatusInProgress:
		return false
	default:
		return false
	}
}

func (s Status) rank() int {
	switch s {
	case StatusValidating:
		return 1
	case StatusInProgress:
		return 2
	case StatusCompleted, StatusFailed, StatusExpired, StatusCancelled:
		return 3
	default:
		return 0
	}
}

// advance returns the status to store when next is observed while current is cached.
// Terminal states are sticky and non-terminal states never move backwards.
func advance(current, next Status) Status {
	if current.Terminal() {
		return current
	}
	if next.rank() < current.rank() {
		return current
	}
	return next
}

// reachableFrom returns the non-terminal statuses from which next is a forward
// or same-rank move. A stored status outside this set is newer than next.
func reachableFrom(next Status) []string {
	var out []string
	for _, st := range []Status{StatusValidating, StatusInProgress} {
		if st.rank() <= next.rank() {
			out = append(out, string(st))
		}
	}
	return out
}
