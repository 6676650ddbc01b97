package batch

import (
	"bytes"
	"errors"
	"fmt"

	internalsettings "github.com/Ruzakiff/crazygpt/internal/settings"
	"github.com/tidwall/gjson"
)

var ErrInvalidPayload = errors.New("batch: invalid payload")

// Payload is a JSONL batch input: one request per non-blank line.
type Payload struct {
	Filename string
	Content  []byte
}

// CountRequests validates a JSONL payload against the size limits and returns
// the number of requests it holds.
func CountRequests(content []byte) (int64, error) {
	maxMB := internalsettings.Int(internalsettings.MaxBatchSizeMBKey, internalsettings.DefaultMaxBatchSizeMB, 1)
	maxRequests := internalsettings.Int(internalsettings.MaxBatchRequestsKey, internalsettings.DefaultMaxBatchRequests, 1)

	if int64(len(content)) > int64(maxMB)*1024*1024 {
		return 0, fmt.Errorf("%w: payload exceeds %d MB", ErrInvalidPayload, maxMB)
	}
	var count int64
	lineNo := 0
	for _, line := range bytes.Split(content, []byte("\n")) {
		lineNo++
		line = bytes.TrimSpace(line)
		if len(line) == 0 {
			continue
		}
		if !gjson.ValidBytes(line) {
			return 0, fmt.Errorf("%w: line %d is not valid JSON", ErrInvalidPayload, lineNo)
		}
		count++
		if count > int64(maxRequests) {
			return 0, fmt.Errorf("%w: more than %d requests", ErrInvalidPayload, maxRequests)
		}
	}
	if count == 0 {
		return 0, fmt.Errorf("%w: no requests", ErrInvalidPayload)
	}
	return count, nil
}
