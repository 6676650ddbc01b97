package front

import (
	"github.com/Ruzakiff/crazygpt/internal/broker"
	internalhttp "github.com/Ruzakiff/crazygpt/internal/http"
	"github.com/Ruzakiff/crazygpt/internal/http/api/front/handlers"
	"github.com/gin-gonic/gin"
	"gorm.io/gorm"
)

// RegisterFrontRoutes registers the public purchase routes and the token-authenticated batch routes.
func RegisterFrontRoutes(r *gin.Engine, db *gorm.DB, b *broker.Broker) {
	if r == nil || db == nil || b == nil {
		return
	}

	healthHandler := handlers.NewHealthHandler(db)
	r.GET("/healthz", healthHandler.Healthz)

	v1 := r.Group("/v1")

	tokenHandler := handlers.NewTokenHandler(b)
	v1.POST("/tokens", tokenHandler.Purchase)
	v1.POST("/tokens/tier", tokenHandler.PurchaseTier)
	v1.GET("/tiers", tokenHandler.Tiers)

	authed := v1.Group("")
	authed.Use(internalhttp.TokenAuthMiddleware())

	authed.GET("/balance", tokenHandler.Balance)

	batchHandler := handlers.NewBatchHandler(b)
	authed.POST("/batches", batchHandler.Submit)
	authed.GET("/batches", batchHandler.List)
	authed.GET("/batches/:id", batchHandler.Get)
	authed.DELETE("/batches/:id", batchHandler.Delete)
	authed.GET("/batches/:id/content", batchHandler.Content)
	authed.GET("/files", batchHandler.FileIDs)
}
