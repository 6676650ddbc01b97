package handlers

import (
	"io"
	"mime/multipart"
	"net/http"
	"strings"

	"github.com/Ruzakiff/crazygpt/internal/apperr"
	"github.com/Ruzakiff/crazygpt/internal/batch"
	"github.com/Ruzakiff/crazygpt/internal/broker"
	internalsettings "github.com/Ruzakiff/crazygpt/internal/settings"
	"github.com/gin-gonic/gin"
)

const defaultUploadName = "batch.jsonl"

// BatchHandler exposes batch submission, status and artifact endpoints.
type BatchHandler struct {
	broker *broker.Broker
}

// NewBatchHandler constructs a BatchHandler.
func NewBatchHandler(b *broker.Broker) *BatchHandler {
	return &BatchHandler{broker: b}
}

// Submit accepts a JSONL payload either as the raw body or as a multipart "file" field.
func (h *BatchHandler) Submit(c *gin.Context) {
	payload, err := readPayload(c)
	if err != nil {
		respondError(c, err)
		return
	}
	view, err := h.broker.SubmitBatch(c.Request.Context(), getToken(c), payload)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusCreated, view)
}

// List returns the caller's cached jobs, newest first.
func (h *BatchHandler) List(c *gin.Context) {
	views, err := h.broker.ListBatches(c.Request.Context(), getToken(c))
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"batches": views})
}

// Get reconciles one job and returns its merged view.
func (h *BatchHandler) Get(c *gin.Context) {
	view, err := h.broker.Status(c.Request.Context(), getToken(c), c.Param("id"))
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, view)
}

// Delete removes the job's provider files and local record.
func (h *BatchHandler) Delete(c *gin.Context) {
	report, err := h.broker.DeleteBatch(c.Request.Context(), getToken(c), c.Param("id"))
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, report)
}

// Content streams one artifact; ?which= selects output (default), error or input.
func (h *BatchHandler) Content(c *gin.Context) {
	which, ok := batch.ParseArtifact(strings.TrimSpace(c.Query("which")))
	if !ok {
		respondError(c, apperr.New(apperr.KindInvalidRequest, "which must be output, error or input", nil))
		return
	}
	content, err := h.broker.Content(c.Request.Context(), getToken(c), c.Param("id"), which)
	if err != nil {
		respondError(c, err)
		return
	}
	c.Data(http.StatusOK, "application/jsonl", content)
}

// FileIDs lists the input files uploaded for the caller's jobs.
func (h *BatchHandler) FileIDs(c *gin.Context) {
	ids, err := h.broker.FileIDs(c.Request.Context(), getToken(c))
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"file_ids": ids})
}

func readPayload(c *gin.Context) (batch.Payload, error) {
	maxMB := internalsettings.Int(internalsettings.MaxBatchSizeMBKey, internalsettings.DefaultMaxBatchSizeMB, 1)
	// One byte over the limit lets the payload check report the size error.
	limit := int64(maxMB)*1024*1024 + 1

	if strings.HasPrefix(c.ContentType(), "multipart/") {
		fileHeader, errForm := c.FormFile("file")
		if errForm != nil {
			return batch.Payload{}, apperr.New(apperr.KindInvalidRequest, "multipart field \"file\" is required", errForm)
		}
		return readMultipartFile(fileHeader, limit)
	}

	content, errRead := io.ReadAll(io.LimitReader(c.Request.Body, limit))
	if errRead != nil {
		return batch.Payload{}, apperr.New(apperr.KindInvalidRequest, "read body", errRead)
	}
	name := strings.TrimSpace(c.Query("filename"))
	if name == "" {
		name = defaultUploadName
	}
	return batch.Payload{Filename: name, Content: content}, nil
}

func readMultipartFile(fileHeader *multipart.FileHeader, limit int64) (batch.Payload, error) {
	file, errOpen := fileHeader.Open()
	if errOpen != nil {
		return batch.Payload{}, apperr.New(apperr.KindInvalidRequest, "open upload", errOpen)
	}
	defer file.Close()
	content, errRead := io.ReadAll(io.LimitReader(file, limit))
	if errRead != nil {
		return batch.Payload{}, apperr.New(apperr.KindInvalidRequest, "read upload", errRead)
	}
	name := fileHeader.Filename
	if name == "" {
		name = defaultUploadName
	}
	return batch.Payload{Filename: name, Content: content}, nil
}
