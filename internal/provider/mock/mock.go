// Package mock provides an in-memory batch provider whose batches advance with
// a clock, for tests and local runs without a real provider.
package mock

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/Ruzakiff/crazygpt/internal/clock"
	"github.com/Ruzakiff/crazygpt/internal/provider"
	"github.com/google/uuid"
	"github.com/tidwall/gjson"
)

// Op names a provider operation for failure injection and call counting.
type Op string

const (
	OpUpload Op = "upload"
	OpCreate Op = "create"
	OpGet    Op = "get"
	OpFetch  Op = "fetch"
	OpDelete Op = "delete"
)

const (
	validatingFor = 10 * time.Second
	completeAfter = 30 * time.Second
)

// Step is one scripted provider observation.
type Step struct {
	Status string
	Counts provider.RequestCounts
}

type batchState struct {
	batch  provider.Batch
	script []Step
}

// Provider is an in-memory provider.Provider. Without a script, a batch reports
// validating for its first 10 seconds, in_progress until 30 seconds and then
// completed with every item done.
type Provider struct {
	mu       sync.Mutex
	clock    clock.Clock
	files    map[string][]byte
	batches  map[string]*batchState
	failures map[Op][]error
	calls    map[Op]int
}

func New(clk clock.Clock) *Provider {
	return &Provider{
		clock:    clock.OrSystem(clk),
		files:    make(map[string][]byte),
		batches:  make(map[string]*batchState),
		failures: make(map[Op][]error),
		calls:    make(map[Op]int),
	}
}

// FailNext makes the next n calls of op fail with err. A nil err fails with a 503.
func (p *Provider) FailNext(op Op, n int, err error) {
	if err == nil {
		err = provider.NewRequestError(string(op), http.StatusServiceUnavailable, fmt.Errorf("mock %s unavailable", op))
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	for i := 0; i < n; i++ {
		p.failures[op] = append(p.failures[op], err)
	}
}

// Script replaces the time-based progression of batchID. Each GetBatch consumes
// one step; the last step repeats.
func (p *Provider) Script(batchID string, steps ...Step) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if st, ok := p.batches[batchID]; ok {
		st.script = append([]Step(nil), steps...)
	}
}

// Calls returns how many times op was invoked, including injected failures.
func (p *Provider) Calls(op Op) int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.calls[op]
}

// HasFile reports whether fileID is still stored.
func (p *Provider) HasFile(fileID string) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	_, ok := p.files[fileID]
	return ok
}

func (p *Provider) enter(op Op) error {
	p.calls[op]++
	if queue := p.failures[op]; len(queue) > 0 {
		p.failures[op] = queue[1:]
		return queue[0]
	}
	return nil
}

// UploadFile implements provider.Provider.
func (p *Provider) UploadFile(_ context.Context, _ string, content []byte) (string, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if err := p.enter(OpUpload); err != nil {
		return "", err
	}
	id := "file-" + uuid.NewString()
	p.files[id] = append([]byte(nil), content...)
	return id, nil
}

// CreateBatch implements provider.Provider.
func (p *Provider) CreateBatch(_ context.Context, req provider.CreateBatchRequest) (*provider.Batch, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if err := p.enter(OpCreate); err != nil {
		return nil, err
	}
	input, ok := p.files[req.InputFileID]
	if !ok {
		return nil, provider.NewRequestError(string(OpCreate), http.StatusNotFound, fmt.Errorf("input file %s not found", req.InputFileID))
	}
	st := &batchState{batch: provider.Batch{
		ID:               "batch_" + uuid.NewString(),
		Status:           "validating",
		Endpoint:         req.Endpoint,
		CompletionWindow: req.CompletionWindow,
		InputFileID:      req.InputFileID,
		CreatedAt:        p.clock.NowUTC(),
		RequestCounts:    provider.RequestCounts{Total: int64(len(nonBlankLines(input)))},
		Metadata:         req.Metadata,
	}}
	p.batches[st.batch.ID] = st
	out := st.batch
	return &out, nil
}

// GetBatch implements provider.Provider.
func (p *Provider) GetBatch(_ context.Context, batchID string) (*provider.Batch, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if err := p.enter(OpGet); err != nil {
		return nil, err
	}
	st, ok := p.batches[batchID]
	if !ok {
		return nil, provider.NewRequestError(string(OpGet), http.StatusNotFound, fmt.Errorf("batch %s not found", batchID))
	}

	now := p.clock.NowUTC()
	if len(st.script) > 0 {
		step := st.script[0]
		if len(st.script) > 1 {
			st.script = st.script[1:]
		}
		st.batch.Status = step.Status
		st.batch.RequestCounts = step.Counts
	} else {
		p.advance(st, now)
	}
	if isTerminal(st.batch.Status) && st.batch.CompletedAt == nil {
		st.batch.CompletedAt = &now
		if st.batch.RequestCounts.Completed > 0 {
			st.batch.OutputFileID = p.storeOutput(st.batch)
		}
		if st.batch.RequestCounts.Failed > 0 {
			st.batch.ErrorFileID = p.storeErrors(st.batch)
		}
	}
	out := st.batch
	return &out, nil
}

func (p *Provider) advance(st *batchState, now time.Time) {
	elapsed := now.Sub(st.batch.CreatedAt)
	total := st.batch.RequestCounts.Total
	switch {
	case isTerminal(st.batch.Status):
	case elapsed < validatingFor:
		st.batch.Status = "validating"
	case elapsed < completeAfter:
		st.batch.Status = "in_progress"
		st.batch.RequestCounts.Completed = total * int64(elapsed-validatingFor) / int64(completeAfter-validatingFor)
	default:
		st.batch.Status = "completed"
		st.batch.RequestCounts.Completed = total
	}
}

func (p *Provider) storeOutput(b provider.Batch) string {
	var buf bytes.Buffer
	for i, line := range nonBlankLines(p.files[b.InputFileID]) {
		if int64(i) >= b.RequestCounts.Completed {
			break
		}
		row, _ := json.Marshal(map[string]any{
			"id":        fmt.Sprintf("batch_req_%d", i+1),
			"custom_id": customID(line, i),
			"response":  map[string]any{"status_code": http.StatusOK},
		})
		buf.Write(row)
		buf.WriteByte('\n')
	}
	id := "file-" + uuid.NewString()
	p.files[id] = buf.Bytes()
	return id
}

func (p *Provider) storeErrors(b provider.Batch) string {
	var buf bytes.Buffer
	for i := int64(0); i < b.RequestCounts.Failed; i++ {
		row, _ := json.Marshal(map[string]any{
			"id":    fmt.Sprintf("batch_req_err_%d", i+1),
			"error": map[string]any{"code": "mock_failure", "message": "request failed"},
		})
		buf.Write(row)
		buf.WriteByte('\n')
	}
	id := "file-" + uuid.NewString()
	p.files[id] = buf.Bytes()
	return id
}

// FetchContent implements provider.Provider.
func (p *Provider) FetchContent(_ context.Context, fileID string) ([]byte, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if err := p.enter(OpFetch); err != nil {
		return nil, err
	}
	content, ok := p.files[fileID]
	if !ok {
		return nil, provider.NewRequestError(string(OpFetch), http.StatusNotFound, fmt.Errorf("file %s not found", fileID))
	}
	return append([]byte(nil), content...), nil
}

// DeleteFile implements provider.Provider.
func (p *Provider) DeleteFile(_ context.Context, fileID string) (bool, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if err := p.enter(OpDelete); err != nil {
		return false, err
	}
	if _, ok := p.files[fileID]; !ok {
		return false, nil
	}
	delete(p.files, fileID)
	return true, nil
}

func isTerminal(status string) bool {
	switch status {
	case "completed", "failed", "expired", "cancelled":
		return true
	}
	return false
}

func nonBlankLines(content []byte) [][]byte {
	var out [][]byte
	for _, line := range bytes.Split(content, []byte("\n")) {
		if len(bytes.TrimSpace(line)) > 0 {
			out = append(out, line)
		}
	}
	return out
}

func customID(line []byte, idx int) string {
	if id := gjson.GetBytes(line, "custom_id").String(); id != "" {
		return id
	}
	return fmt.Sprintf("request-%d", idx+1)
}

var _ provider.Provider = (*Provider)(nil)
