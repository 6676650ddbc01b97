package provider

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/url"
	"strings"
	"time"

	log "github.com/sirupsen/logrus"
	"github.com/tidwall/gjson"
	"golang.org/x/time/rate"
)

const (
	defaultRequestTimeout = 30 * time.Second
	maxErrorBodyBytes     = 512
	filePurposeBatch      = "batch"
)

// HTTPConfig configures an HTTPClient.
type HTTPConfig struct {
	BaseURL           string
	APIKey            string
	RequestTimeout    time.Duration
	RequestsPerSecond float64
	Burst             int
}

// HTTPClient talks to an OpenAI-compatible files and batches API.
type HTTPClient struct {
	baseURL        string
	apiKey         string
	requestTimeout time.Duration
	limiter        *rate.Limiter
	client         *http.Client
}

// NewHTTPClient constructs an HTTPClient. A zero RequestsPerSecond disables pacing.
func NewHTTPClient(cfg HTTPConfig, client *http.Client) (*HTTPClient, error) {
	base := strings.TrimRight(strings.TrimSpace(cfg.BaseURL), "/")
	if base == "" {
		return nil, errors.New("provider: base url is required")
	}
	if _, errParse := url.Parse(base); errParse != nil {
		return nil, fmt.Errorf("provider: invalid base url: %w", errParse)
	}
	if client == nil {
		client = &http.Client{}
	}
	timeout := cfg.RequestTimeout
	if timeout <= 0 {
		timeout = defaultRequestTimeout
	}
	limit := rate.Inf
	burst := cfg.Burst
	if cfg.RequestsPerSecond > 0 {
		limit = rate.Limit(cfg.RequestsPerSecond)
		if burst <= 0 {
			burst = 1
		}
	}
	return &HTTPClient{
		baseURL:        base,
		apiKey:         cfg.APIKey,
		requestTimeout: timeout,
		limiter:        rate.NewLimiter(limit, burst),
		client:         client,
	}, nil
}

type wireBatch struct {
	ID               string            `json:"id"`
	Status           string            `json:"status"`
	Endpoint         string            `json:"endpoint"`
	CompletionWindow string            `json:"completion_window"`
	InputFileID      string            `json:"input_file_id"`
	OutputFileID     string            `json:"output_file_id"`
	ErrorFileID      string            `json:"error_file_id"`
	CreatedAt        int64             `json:"created_at"`
	CompletedAt      int64             `json:"completed_at"`
	FailedAt         int64             `json:"failed_at"`
	ExpiredAt        int64             `json:"expired_at"`
	CancelledAt      int64             `json:"cancelled_at"`
	RequestCounts    RequestCounts     `json:"request_counts"`
	Metadata         map[string]string `json:"metadata"`
}

func (w wireBatch) toBatch() *Batch {
	b := &Batch{
		ID:               w.ID,
		Status:           w.Status,
		Endpoint:         w.Endpoint,
		CompletionWindow: w.CompletionWindow,
		InputFileID:      w.InputFileID,
		OutputFileID:     w.OutputFileID,
		ErrorFileID:      w.ErrorFileID,
		RequestCounts:    w.RequestCounts,
		Metadata:         w.Metadata,
	}
	if w.CreatedAt > 0 {
		b.CreatedAt = time.Unix(w.CreatedAt, 0).UTC()
	}
	for _, ts := range []int64{w.CompletedAt, w.FailedAt, w.ExpiredAt, w.CancelledAt} {
		if ts > 0 {
			t := time.Unix(ts, 0).UTC()
			b.CompletedAt = &t
			break
		}
	}
	return b
}

// UploadFile implements Provider.
func (c *HTTPClient) UploadFile(ctx context.Context, filename string, content []byte) (string, error) {
	var body bytes.Buffer
	mw := multipart.NewWriter(&body)
	if errField := mw.WriteField("purpose", filePurposeBatch); errField != nil {
		return "", errField
	}
	part, errPart := mw.CreateFormFile("file", filename)
	if errPart != nil {
		return "", errPart
	}
	if _, errWrite := part.Write(content); errWrite != nil {
		return "", errWrite
	}
	if errClose := mw.Close(); errClose != nil {
		return "", errClose
	}

	payload, errReq := c.do(ctx, "upload file", http.MethodPost, "/v1/files", body.Bytes(), mw.FormDataContentType())
	if errReq != nil {
		return "", errReq
	}
	id := gjson.GetBytes(payload, "id").String()
	if id == "" {
		return "", NewRequestError("upload file", 0, errors.New("response missing file id"))
	}
	return id, nil
}

// CreateBatch implements Provider.
func (c *HTTPClient) CreateBatch(ctx context.Context, req CreateBatchRequest) (*Batch, error) {
	body, errMarshal := json.Marshal(map[string]any{
		"input_file_id":     req.InputFileID,
		"endpoint":          req.Endpoint,
		"completion_window": req.CompletionWindow,
		"metadata":          req.Metadata,
	})
	if errMarshal != nil {
		return nil, errMarshal
	}
	payload, errReq := c.do(ctx, "create batch", http.MethodPost, "/v1/batches", body, "application/json")
	if errReq != nil {
		return nil, errReq
	}
	return decodeBatch("create batch", payload)
}

// GetBatch implements Provider.
func (c *HTTPClient) GetBatch(ctx context.Context, batchID string) (*Batch, error) {
	payload, errReq := c.do(ctx, "get batch", http.MethodGet, "/v1/batches/"+url.PathEscape(batchID), nil, "")
	if errReq != nil {
		return nil, errReq
	}
	return decodeBatch("get batch", payload)
}

// FetchContent implements Provider.
func (c *HTTPClient) FetchContent(ctx context.Context, fileID string) ([]byte, error) {
	return c.do(ctx, "fetch content", http.MethodGet, "/v1/files/"+url.PathEscape(fileID)+"/content", nil, "")
}

// DeleteFile implements Provider.
func (c *HTTPClient) DeleteFile(ctx context.Context, fileID string) (bool, error) {
	payload, errReq := c.do(ctx, "delete file", http.MethodDelete, "/v1/files/"+url.PathEscape(fileID), nil, "")
	if errReq != nil {
		return false, errReq
	}
	return gjson.GetBytes(payload, "deleted").Bool(), nil
}

func decodeBatch(op string, payload []byte) (*Batch, error) {
	var w wireBatch
	if errUnmarshal := json.Unmarshal(payload, &w); errUnmarshal != nil {
		return nil, NewRequestError(op, 0, fmt.Errorf("decode batch: %w", errUnmarshal))
	}
	if w.ID == "" {
		return nil, NewRequestError(op, 0, errors.New("response missing batch id"))
	}
	return w.toBatch(), nil
}

func (c *HTTPClient) do(ctx context.Context, op, method, path string, body []byte, contentType string) ([]byte, error) {
	if ctx == nil {
		ctx = context.Background()
	}
	if errWait := c.limiter.Wait(ctx); errWait != nil {
		return nil, NewRequestError(op, 0, errWait)
	}

	reqCtx, cancel := context.WithTimeout(ctx, c.requestTimeout)
	defer cancel()

	var reader io.Reader
	if body != nil {
		reader = bytes.NewReader(body)
	}
	req, errReq := http.NewRequestWithContext(reqCtx, method, c.baseURL+path, reader)
	if errReq != nil {
		return nil, errReq
	}
	if c.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.apiKey)
	}
	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}

	resp, errResp := c.client.Do(req)
	if errResp != nil {
		return nil, NewRequestError(op, 0, errResp)
	}
	defer func() {
		if errClose := resp.Body.Close(); errClose != nil {
			log.Errorf("provider: close response body error: %v", errClose)
		}
	}()

	payload, errRead := io.ReadAll(resp.Body)
	if errRead != nil {
		return nil, NewRequestError(op, 0, errRead)
	}
	if resp.StatusCode < http.StatusOK || resp.StatusCode >= http.StatusMultipleChoices {
		log.Warnf("provider: %s status=%d body=%s", op, resp.StatusCode, summarizePayload(payload))
		return nil, NewRequestError(op, resp.StatusCode, errors.New(errorMessage(resp.StatusCode, payload)))
	}
	return payload, nil
}

func errorMessage(status int, payload []byte) string {
	if msg := gjson.GetBytes(payload, "error.message").String(); msg != "" {
		return msg
	}
	if msg := gjson.GetBytes(payload, "message").String(); msg != "" {
		return msg
	}
	return fmt.Sprintf("non-2xx status=%d", status)
}

func summarizePayload(payload []byte) string {
	trimmed := bytes.TrimSpace(payload)
	if len(trimmed) > maxErrorBodyBytes {
		return string(trimmed[:maxErrorBodyBytes]) + "...(truncated)"
	}
	return string(trimmed)
}
