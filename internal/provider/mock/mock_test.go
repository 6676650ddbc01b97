package mock

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/Ruzakiff/crazygpt/internal/clock"
	"github.com/Ruzakiff/crazygpt/internal/provider"
)

const threeLines = "{\"custom_id\":\"a\"}\n{\"custom_id\":\"b\"}\n\n{\"custom_id\":\"c\"}\n"

func submit(t *testing.T, p *Provider) *provider.Batch {
	t.Helper()
	ctx := context.Background()
	fileID, err := p.UploadFile(ctx, "batch.jsonl", []byte(threeLines))
	if err != nil {
		t.Fatalf("upload: %v", err)
	}
	b, err := p.CreateBatch(ctx, provider.CreateBatchRequest{InputFileID: fileID, Endpoint: "/v1/chat/completions", CompletionWindow: "24h"})
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	return b
}

func TestTimeBasedProgression(t *testing.T) {
	clk := clock.NewManual(time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC))
	p := New(clk)
	b := submit(t, p)
	if b.RequestCounts.Total != 3 {
		t.Fatalf("expected 3 requests, got %d", b.RequestCounts.Total)
	}

	ctx := context.Background()
	got, _ := p.GetBatch(ctx, b.ID)
	if got.Status != "validating" {
		t.Fatalf("expected validating, got %s", got.Status)
	}
	clk.Advance(15 * time.Second)
	got, _ = p.GetBatch(ctx, b.ID)
	if got.Status != "in_progress" {
		t.Fatalf("expected in_progress, got %s", got.Status)
	}
	clk.Advance(20 * time.Second)
	got, _ = p.GetBatch(ctx, b.ID)
	if got.Status != "completed" || got.RequestCounts.Completed != 3 {
		t.Fatalf("expected completed 3/3, got %s %+v", got.Status, got.RequestCounts)
	}
	if got.OutputFileID == "" || got.CompletedAt == nil {
		t.Fatalf("expected output file and completion time, got %+v", got)
	}
	out, err := p.FetchContent(ctx, got.OutputFileID)
	if err != nil {
		t.Fatalf("fetch output: %v", err)
	}
	if len(nonBlankLines(out)) != 3 {
		t.Fatalf("expected 3 output lines, got %q", out)
	}
}

func TestScriptAndFailureInjection(t *testing.T) {
	p := New(clock.NewManual(time.Now().UTC()))
	b := submit(t, p)
	p.Script(b.ID,
		Step{Status: "in_progress", Counts: provider.RequestCounts{Total: 3, Completed: 1}},
		Step{Status: "failed", Counts: provider.RequestCounts{Total: 3, Completed: 1, Failed: 2}},
	)
	p.FailNext(OpGet, 1, nil)

	ctx := context.Background()
	if _, err := p.GetBatch(ctx, b.ID); !provider.IsRetryable(err) {
		t.Fatalf("expected injected retryable failure, got %v", err)
	}
	got, _ := p.GetBatch(ctx, b.ID)
	if got.Status != "in_progress" {
		t.Fatalf("expected in_progress, got %s", got.Status)
	}
	got, _ = p.GetBatch(ctx, b.ID)
	if got.Status != "failed" || got.ErrorFileID == "" {
		t.Fatalf("expected failed with error file, got %+v", got)
	}
	got, _ = p.GetBatch(ctx, b.ID)
	if got.Status != "failed" {
		t.Fatalf("expected last step to repeat, got %s", got.Status)
	}
	if p.Calls(OpGet) != 4 {
		t.Fatalf("expected 4 get calls, got %d", p.Calls(OpGet))
	}
}

func TestDeleteFile(t *testing.T) {
	p := New(nil)
	b := submit(t, p)
	ctx := context.Background()

	deleted, err := p.DeleteFile(ctx, b.InputFileID)
	if err != nil || !deleted {
		t.Fatalf("expected deletion, got %v %v", deleted, err)
	}
	deleted, err = p.DeleteFile(ctx, b.InputFileID)
	if err != nil || deleted {
		t.Fatalf("expected second deletion to report false, got %v %v", deleted, err)
	}
	if _, err := p.GetBatch(ctx, "batch_missing"); !errors.Is(err, provider.ErrNotFound) {
		t.Fatalf("expected not found, got %v", err)
	}
}
