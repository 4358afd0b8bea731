package api

import (
	"net/http"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/example/farm-ledger/internal/api/middleware"
	"github.com/example/farm-ledger/internal/auth"
	"github.com/example/farm-ledger/internal/config"
)

// NewRouter mounts the ledger API under /api/v1. A nil jwtService leaves the
// API open, which is only meant for local development and tests.
func NewRouter(handlers *Handlers, jwtService *auth.JWTService, server config.ServerConfig, logger *zap.Logger) *gin.Engine {
	if logger == nil {
		logger = zap.NewNop()
	}

	r := gin.New()
	r.Use(gin.Recovery(), middleware.RequestID(), middleware.Logger(logger))
	if c, ok := corsConfig(server); ok {
		r.Use(cors.New(c))
	}

	r.GET("/healthz", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})

	v1 := r.Group("/api/v1")
	if jwtService != nil {
		v1.Use(middleware.Auth(jwtService))
	}

	viewer := middleware.RequireRole(auth.RoleViewer)
	operator := middleware.RequireRole(auth.RoleOperator)
	manager := middleware.RequireRole(auth.RoleManager)

	// Items
	items := v1.Group("/items")
	{
		items.GET("", viewer, handlers.ListItems)
		items.POST("", manager, handlers.CreateItem)
		items.GET("/by-sku/:sku", viewer, handlers.GetItemBySKU)
		items.GET("/:id", viewer, handlers.GetItem)
		items.PATCH("/:id", manager, handlers.UpdateItemPolicy)
		items.POST("/:id/deactivate", manager, handlers.DeactivateItem)
		items.POST("/:id/recompute", manager, handlers.RecomputeBalance)
		items.GET("/:id/batches", viewer, handlers.ListBatches)
		items.POST("/:id/batches", operator, handlers.ReceiveBatch)
		items.GET("/:id/availability", viewer, handlers.Availability)
		items.GET("/:id/plan", viewer, handlers.PlanAllocation)
		items.GET("/:id/adjustments", viewer, handlers.ListAdjustments)
		items.POST("/:id/adjustments", manager, handlers.Adjust)
	}

	// Deductions
	v1.POST("/deductions", operator, handlers.BatchDeduct)

	// Reservations
	reservations := v1.Group("/reservations")
	{
		reservations.POST("", operator, handlers.Reserve)
		reservations.GET("/:id", viewer, handlers.GetReservation)
		reservations.POST("/:id/confirm", operator, handlers.ConfirmReservation)
		reservations.POST("/:id/cancel", operator, handlers.CancelReservation)
	}

	// Views
	v1.GET("/views/low-stock", viewer, handlers.LowStock)
	v1.GET("/views/expiring", viewer, handlers.ExpiringBatches)

	// Journal
	v1.GET("/transactions", viewer, handlers.ListTransactions)
	v1.GET("/transactions/export", viewer, handlers.ExportTransactions)

	return r
}

// corsConfig allows every origin in development and the configured list
// elsewhere. With no list outside development no CORS headers are sent.
func corsConfig(server config.ServerConfig) (cors.Config, bool) {
	c := cors.DefaultConfig()
	switch {
	case server.IsDevelopment():
		c.AllowAllOrigins = true
	case len(server.AllowedOrigins) > 0:
		c.AllowOrigins = server.AllowedOrigins
		c.AllowCredentials = true
	default:
		return c, false
	}
	c.AddAllowHeaders("Authorization", middleware.RequestIDHeader)
	c.AddExposeHeaders(middleware.RequestIDHeader, "Content-Disposition")
	return c, true
}
