package http

import (
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/Ruzakiff/crazygpt/internal/apperr"
	"github.com/gin-gonic/gin"
)

func runRequestWithMiddleware(t *testing.T, middleware gin.HandlerFunc, header, value string) *httptest.ResponseRecorder {
	t.Helper()

	gin.SetMode(gin.TestMode)
	router := gin.New()
	router.Use(middleware)
	router.GET("/*path", func(c *gin.Context) {
		c.String(http.StatusOK, Token(c))
	})

	responseRecorder := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/v1/balance", nil)
	if header != "" {
		req.Header.Set(header, value)
	}
	router.ServeHTTP(responseRecorder, req)

	return responseRecorder
}

func decodeError(t *testing.T, rec *httptest.ResponseRecorder) ErrorDetail {
	t.Helper()
	var body ErrorBody
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("decode error body %q: %v", rec.Body.String(), err)
	}
	return body.Error
}

func TestTokenAuthMiddlewareReadsBearer(t *testing.T) {
	rec := runRequestWithMiddleware(t, TokenAuthMiddleware(), "Authorization", "Bearer tok-123")
	if rec.Code != http.StatusOK || rec.Body.String() != "tok-123" {
		t.Fatalf("expected token passed through, got %d %q", rec.Code, rec.Body.String())
	}
}

func TestTokenAuthMiddlewareReadsUserTokenHeader(t *testing.T) {
	rec := runRequestWithMiddleware(t, TokenAuthMiddleware(), "User-Token", " tok-456 ")
	if rec.Code != http.StatusOK || rec.Body.String() != "tok-456" {
		t.Fatalf("expected token passed through, got %d %q", rec.Code, rec.Body.String())
	}
}

func TestTokenAuthMiddlewareMapsMissingTokenToInvalidToken(t *testing.T) {
	rec := runRequestWithMiddleware(t, TokenAuthMiddleware(), "", "")
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected status 400, got %d", rec.Code)
	}
	if got := decodeError(t, rec); got.Kind != apperr.KindInvalidToken {
		t.Fatalf("expected invalid_token, got %+v", got)
	}
}

func TestTokenAuthMiddlewareRejectsNonBearerScheme(t *testing.T) {
	rec := runRequestWithMiddleware(t, TokenAuthMiddleware(), "Authorization", "Basic abc")
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected status 400, got %d", rec.Code)
	}
}

func TestAbortWithErrorUsesKindStatus(t *testing.T) {
	cases := []struct {
		err    error
		status int
		kind   apperr.Kind
	}{
		{apperr.New(apperr.KindRateLimited, "slow down", nil), http.StatusTooManyRequests, apperr.KindRateLimited},
		{apperr.New(apperr.KindInsufficientBalance, "balance too low", nil), http.StatusPaymentRequired, apperr.KindInsufficientBalance},
		{apperr.New(apperr.KindUnauthorized, "not yours", nil), http.StatusForbidden, apperr.KindUnauthorized},
		{errors.New("boom"), http.StatusInternalServerError, apperr.KindFatal},
	}
	for _, tc := range cases {
		gin.SetMode(gin.TestMode)
		router := gin.New()
		router.GET("/", func(c *gin.Context) { AbortWithError(c, tc.err) })
		rec := httptest.NewRecorder()
		router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))
		if rec.Code != tc.status {
			t.Fatalf("%v: expected status %d, got %d", tc.err, tc.status, rec.Code)
		}
		got := decodeError(t, rec)
		if got.Kind != tc.kind {
			t.Fatalf("%v: expected kind %s, got %s", tc.err, tc.kind, got.Kind)
		}
		if tc.kind == apperr.KindRateLimited && (!got.Retryable || rec.Header().Get("Retry-After") == "") {
			t.Fatalf("expected retryable rate limit with Retry-After, got %+v", got)
		}
	}
}
