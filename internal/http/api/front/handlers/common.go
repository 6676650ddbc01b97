package handlers

import (
	internalhttp "github.com/Ruzakiff/crazygpt/internal/http"
	"github.com/gin-gonic/gin"
)

// getToken extracts the caller's token from gin context.
func getToken(c *gin.Context) string {
	return internalhttp.Token(c)
}

// respondError renders a broker error and aborts the request.
func respondError(c *gin.Context, err error) {
	internalhttp.AbortWithError(c, err)
}
