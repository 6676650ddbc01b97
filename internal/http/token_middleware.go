package http

import (
	"net/http"
	"strings"

	"github.com/Ruzakiff/crazygpt/internal/apperr"
	"github.com/gin-gonic/gin"
	log "github.com/sirupsen/logrus"
)

const (
	// TokenContextKey holds the caller's bearer token in the gin context.
	TokenContextKey = "token"
	tokenHeader     = "User-Token"
)

// TokenAuthMiddleware extracts the caller's token from Authorization: Bearer
// or User-Token. It only checks presence; the broker decides validity.
func TokenAuthMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		token, ok := extractToken(c.Request)
		if !ok {
			AbortWithError(c, apperr.New(apperr.KindInvalidToken, "missing token", nil))
			return
		}
		c.Set(TokenContextKey, token)
		c.Next()
	}
}

func extractToken(r *http.Request) (string, bool) {
	if authHeader := strings.TrimSpace(r.Header.Get("Authorization")); authHeader != "" {
		token, found := strings.CutPrefix(authHeader, "Bearer ")
		if !found {
			return "", false
		}
		token = strings.TrimSpace(token)
		return token, token != ""
	}
	token := strings.TrimSpace(r.Header.Get(tokenHeader))
	return token, token != ""
}

// Token returns the token set by TokenAuthMiddleware.
func Token(c *gin.Context) string {
	val, exists := c.Get(TokenContextKey)
	if !exists {
		return ""
	}
	token, _ := val.(string)
	return token
}

// ErrorBody is the JSON shape of every failed response.
type ErrorBody struct {
	Error ErrorDetail `json:"error"`
}

type ErrorDetail struct {
	Kind      apperr.Kind `json:"kind"`
	Message   string      `json:"message"`
	Retryable bool        `json:"retryable,omitempty"`
}

// AbortWithError renders err as {"error":{kind,message}} with the kind's status.
func AbortWithError(c *gin.Context, err error) {
	ae := apperr.As(err)
	status := ae.Kind.HTTPStatus()
	if status >= http.StatusInternalServerError && ae.Kind == apperr.KindFatal {
		log.WithError(err).WithField("path", c.FullPath()).Error("request failed")
	}
	if ae.Kind == apperr.KindRateLimited {
		c.Header("Retry-After", "60")
	}
	c.AbortWithStatusJSON(status, ErrorBody{Error: ErrorDetail{
		Kind:      ae.Kind,
		Message:   ae.Message,
		Retryable: ae.Kind.Retryable(),
	}})
}
