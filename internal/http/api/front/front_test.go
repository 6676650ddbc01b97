package front

import (
	"bytes"
	"context"
	"encoding/json"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/Ruzakiff/crazygpt/internal/admission"
	"github.com/Ruzakiff/crazygpt/internal/apperr"
	"github.com/Ruzakiff/crazygpt/internal/batch"
	"github.com/Ruzakiff/crazygpt/internal/broker"
	"github.com/Ruzakiff/crazygpt/internal/clock"
	"github.com/Ruzakiff/crazygpt/internal/db"
	internalhttp "github.com/Ruzakiff/crazygpt/internal/http"
	"github.com/Ruzakiff/crazygpt/internal/ledger"
	"github.com/Ruzakiff/crazygpt/internal/provider/mock"
	"github.com/gin-gonic/gin"
)

type testServer struct {
	router *gin.Engine
	clock  *clock.Manual
}

func newTestServer(t *testing.T) *testServer {
	t.Helper()
	gin.SetMode(gin.TestMode)
	conn := db.OpenTest(t)
	clk := clock.NewManual(time.Date(2026, 6, 1, 12, 0, 0, 0, time.UTC))
	l := ledger.New(conn, clk)
	svc := batch.NewService(conn, l, admission.NewController(admission.NewMemoryStore(), clk), mock.New(clk),
		batch.WithClock(clk),
		batch.WithRetry(batch.Retry{MaxAttempts: 2, Sleep: func(context.Context, time.Duration) error { return nil }}),
	)
	router := gin.New()
	RegisterFrontRoutes(router, conn, broker.New(l, svc))
	return &testServer{router: router, clock: clk}
}

func (s *testServer) do(t *testing.T, method, path, token string, body []byte, contentType string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, path, bytes.NewReader(body))
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}
	rec := httptest.NewRecorder()
	s.router.ServeHTTP(rec, req)
	return rec
}

func decode(t *testing.T, rec *httptest.ResponseRecorder, out any) {
	t.Helper()
	if err := json.Unmarshal(rec.Body.Bytes(), out); err != nil {
		t.Fatalf("decode %q: %v", rec.Body.String(), err)
	}
}

func (s *testServer) purchase(t *testing.T, amount int64) string {
	t.Helper()
	rec := s.do(t, http.MethodPost, "/v1/tokens", "", []byte(`{"amount":`+jsonInt(amount)+`}`), "application/json")
	if rec.Code != http.StatusCreated {
		t.Fatalf("purchase: status %d body %s", rec.Code, rec.Body.String())
	}
	var out struct {
		Token string `json:"token"`
	}
	decode(t, rec, &out)
	return out.Token
}

func jsonInt(v int64) string {
	b, _ := json.Marshal(v)
	return string(b)
}

func (s *testServer) balance(t *testing.T, token string) int64 {
	t.Helper()
	rec := s.do(t, http.MethodGet, "/v1/balance", token, nil, "")
	if rec.Code != http.StatusOK {
		t.Fatalf("balance: status %d body %s", rec.Code, rec.Body.String())
	}
	var out struct {
		Balance int64 `json:"balance"`
	}
	decode(t, rec, &out)
	return out.Balance
}

const threeRequests = "{\"custom_id\":\"a\"}\n{\"custom_id\":\"b\"}\n{\"custom_id\":\"c\"}\n"

func TestSubmitStatusAndContentFlow(t *testing.T) {
	s := newTestServer(t)
	token := s.purchase(t, 1000)

	rec := s.do(t, http.MethodPost, "/v1/batches", token, []byte(threeRequests), "application/jsonl")
	if rec.Code != http.StatusCreated {
		t.Fatalf("submit: status %d body %s", rec.Code, rec.Body.String())
	}
	var view batch.View
	decode(t, rec, &view)
	if view.ProvisionalCost != 3 || view.Status != batch.StatusValidating {
		t.Fatalf("unexpected submit view %+v", view)
	}
	if got := s.balance(t, token); got != 997 {
		t.Fatalf("expected 997 after submit, got %d", got)
	}

	s.clock.Advance(40 * time.Second)
	rec = s.do(t, http.MethodGet, "/v1/batches/"+view.ID, token, nil, "")
	if rec.Code != http.StatusOK {
		t.Fatalf("status: %d %s", rec.Code, rec.Body.String())
	}
	decode(t, rec, &view)
	if view.Status != batch.StatusCompleted || !view.FinalCharged || view.RemainingBalance == nil || *view.RemainingBalance != 994 {
		t.Fatalf("unexpected status view %+v", view)
	}

	rec = s.do(t, http.MethodGet, "/v1/batches/"+view.ID+"/content?which=output", token, nil, "")
	if rec.Code != http.StatusOK || rec.Body.Len() == 0 {
		t.Fatalf("content: %d %q", rec.Code, rec.Body.String())
	}

	rec = s.do(t, http.MethodGet, "/v1/files", token, nil, "")
	var files struct {
		FileIDs []string `json:"file_ids"`
	}
	decode(t, rec, &files)
	if len(files.FileIDs) != 1 || files.FileIDs[0] != view.InputFileRef {
		t.Fatalf("unexpected file ids %+v", files)
	}

	rec = s.do(t, http.MethodDelete, "/v1/batches/"+view.ID, token, nil, "")
	if rec.Code != http.StatusOK {
		t.Fatalf("delete: %d %s", rec.Code, rec.Body.String())
	}
	rec = s.do(t, http.MethodGet, "/v1/batches", token, nil, "")
	var list struct {
		Batches []batch.View `json:"batches"`
	}
	decode(t, rec, &list)
	if len(list.Batches) != 0 {
		t.Fatalf("expected no batches after delete, got %d", len(list.Batches))
	}
}

func TestSubmitAcceptsMultipartUpload(t *testing.T) {
	s := newTestServer(t)
	token := s.purchase(t, 10)

	var body bytes.Buffer
	writer := multipart.NewWriter(&body)
	part, err := writer.CreateFormFile("file", "requests.jsonl")
	if err != nil {
		t.Fatalf("create form file: %v", err)
	}
	_, _ = part.Write([]byte(threeRequests))
	_ = writer.Close()

	rec := s.do(t, http.MethodPost, "/v1/batches", token, body.Bytes(), writer.FormDataContentType())
	if rec.Code != http.StatusCreated {
		t.Fatalf("submit: status %d body %s", rec.Code, rec.Body.String())
	}
	if got := s.balance(t, token); got != 7 {
		t.Fatalf("expected 7, got %d", got)
	}
}

func TestErrorResponsesCarryKinds(t *testing.T) {
	s := newTestServer(t)
	token := s.purchase(t, 2)

	cases := []struct {
		name   string
		method string
		path   string
		token  string
		body   string
		status int
		kind   apperr.Kind
	}{
		{"missing token", http.MethodGet, "/v1/balance", "", "", http.StatusBadRequest, apperr.KindInvalidToken},
		{"unknown token", http.MethodGet, "/v1/balance", "nope", "", http.StatusBadRequest, apperr.KindInvalidToken},
		{"insufficient", http.MethodPost, "/v1/batches", token, threeRequests, http.StatusPaymentRequired, apperr.KindInsufficientBalance},
		{"bad payload", http.MethodPost, "/v1/batches", token, "not json\n", http.StatusBadRequest, apperr.KindInvalidRequest},
		{"unknown batch", http.MethodGet, "/v1/batches/missing", token, "", http.StatusNotFound, apperr.KindNotFound},
		{"bad artifact", http.MethodGet, "/v1/batches/x/content?which=logs", token, "", http.StatusBadRequest, apperr.KindInvalidRequest},
		{"bad amount", http.MethodPost, "/v1/tokens", "", `{"amount":0}`, http.StatusBadRequest, apperr.KindInvalidRequest},
		{"bad tier", http.MethodPost, "/v1/tokens/tier", "", `{"tier":"gold"}`, http.StatusBadRequest, apperr.KindInvalidRequest},
	}
	for _, tc := range cases {
		rec := s.do(t, tc.method, tc.path, tc.token, []byte(tc.body), "")
		if rec.Code != tc.status {
			t.Fatalf("%s: expected %d, got %d (%s)", tc.name, tc.status, rec.Code, rec.Body.String())
		}
		var out internalhttp.ErrorBody
		decode(t, rec, &out)
		if out.Error.Kind != tc.kind {
			t.Fatalf("%s: expected kind %s, got %s", tc.name, tc.kind, out.Error.Kind)
		}
	}
}

func TestOtherTokenCannotReadBatch(t *testing.T) {
	s := newTestServer(t)
	owner := s.purchase(t, 100)
	other := s.purchase(t, 100)

	rec := s.do(t, http.MethodPost, "/v1/batches", owner, []byte(threeRequests), "")
	var view batch.View
	decode(t, rec, &view)

	rec = s.do(t, http.MethodGet, "/v1/batches/"+view.ID, other, nil, "")
	if rec.Code != http.StatusForbidden {
		t.Fatalf("expected 403, got %d %s", rec.Code, rec.Body.String())
	}
}

func TestSixthSubmissionIsRateLimited(t *testing.T) {
	s := newTestServer(t)
	token := s.purchase(t, 1000)
	oneRequest := []byte("{\"custom_id\":\"a\"}\n")

	for i := 0; i < 5; i++ {
		if rec := s.do(t, http.MethodPost, "/v1/batches", token, oneRequest, ""); rec.Code != http.StatusCreated {
			t.Fatalf("submission %d: %d %s", i+1, rec.Code, rec.Body.String())
		}
	}
	rec := s.do(t, http.MethodPost, "/v1/batches", token, oneRequest, "")
	if rec.Code != http.StatusTooManyRequests {
		t.Fatalf("expected 429, got %d %s", rec.Code, rec.Body.String())
	}
	if rec := s.do(t, http.MethodGet, "/v1/balance", token, nil, ""); rec.Code != http.StatusTooManyRequests {
		t.Fatalf("expected balance check to share the window, got %d", rec.Code)
	}
	s.clock.Advance(61 * time.Second)
	if got := s.balance(t, token); got != 995 {
		t.Fatalf("expected 995, got %d", got)
	}
}

func TestTiersAndTierPurchase(t *testing.T) {
	s := newTestServer(t)
	rec := s.do(t, http.MethodGet, "/v1/tiers", "", nil, "")
	if !strings.Contains(rec.Body.String(), `"premium"`) {
		t.Fatalf("expected tiers listed, got %s", rec.Body.String())
	}
	rec = s.do(t, http.MethodPost, "/v1/tokens/tier", "", []byte(`{"tier":"standard"}`), "application/json")
	if rec.Code != http.StatusCreated {
		t.Fatalf("tier purchase: %d %s", rec.Code, rec.Body.String())
	}
	var out struct {
		Token   string `json:"token"`
		Balance int64  `json:"balance"`
	}
	decode(t, rec, &out)
	if out.Balance != 2500 || s.balance(t, out.Token) != 2500 {
		t.Fatalf("unexpected tier purchase %+v", out)
	}
}

func TestHealthz(t *testing.T) {
	s := newTestServer(t)
	if rec := s.do(t, http.MethodGet, "/healthz", "", nil, ""); rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
}
