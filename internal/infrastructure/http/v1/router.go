// Package v1 provides HTTP API version 1.
package v1

import (
	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"

	"concreterp/internal/infrastructure/http/v1/handlers"
	"concreterp/internal/infrastructure/http/v1/middleware"
	"concreterp/internal/infrastructure/idempotency"
	"concreterp/internal/infrastructure/metrics"
	"concreterp/pkg/logger"
)

// SystemUserID is the caller recorded when authentication is disabled.
const SystemUserID = "system"

// RouterConfig holds router dependencies.
type RouterConfig struct {
	Logger *logger.Logger

	// Debug switches gin to debug mode.
	Debug bool

	// CORSOrigins lists allowed origins; empty allows all.
	CORSOrigins []string

	// JWTValidator protects /api/v1. Nil disables authentication.
	JWTValidator middleware.JWTValidator

	// Idempotency backs X-Idempotency-Key on order creation. Nil disables it.
	Idempotency *idempotency.Store

	// Metrics records HTTP metrics and serves /metrics. Nil disables both.
	Metrics *metrics.Metrics

	// HealthChecks are pinged by /health/ready.
	HealthChecks map[string]handlers.Pinger

	FIFO              handlers.FIFOService
	AllocationHistory handlers.AllocationHistory
	Arkik             handlers.ArkikStore
	Orders            handlers.OrderCreator
	Transfers         handlers.TransferApplier
	TransferQueue     handlers.TransferScheduler
}

// NewRouter creates and configures the Gin router.
func NewRouter(cfg RouterConfig) (*gin.Engine, error) {
	if cfg.Debug {
		gin.SetMode(gin.DebugMode)
	} else {
		gin.SetMode(gin.ReleaseMode)
	}
	if err := handlers.RegisterValidators(); err != nil {
		return nil, err
	}

	router := gin.New()

	// Global middleware (order matters!)
	router.Use(middleware.Recovery())
	router.Use(cors.New(corsConfig(cfg.CORSOrigins)))
	router.Use(middleware.Trace())
	router.Use(middleware.Logger(cfg.Logger))
	if cfg.Metrics != nil {
		router.Use(middleware.Metrics(cfg.Metrics))
		router.GET("/metrics", gin.WrapH(cfg.Metrics.Handler()))
	}
	router.Use(middleware.ErrorHandler())

	healthHandler := handlers.NewHealthHandler(cfg.HealthChecks)
	health := router.Group("/health")
	{
		health.GET("/live", healthHandler.Live)
		health.GET("/ready", healthHandler.Ready)
	}

	api := router.Group("/api/v1")
	if cfg.JWTValidator != nil {
		api.Use(middleware.Auth(cfg.JWTValidator))
	} else {
		api.Use(middleware.AnonymousUser(SystemUserID))
	}

	base := handlers.NewBaseHandler()
	registerFIFORoutes(api, handlers.NewFIFOHandler(base, cfg.FIFO, cfg.AllocationHistory))
	registerArkikRoutes(api, handlers.NewArkikHandler(base, cfg.Arkik, cfg.Orders, cfg.Transfers, cfg.TransferQueue), cfg.Idempotency)

	return router, nil
}

func corsConfig(origins []string) cors.Config {
	c := cors.DefaultConfig()
	if len(origins) > 0 {
		c.AllowOrigins = origins
		c.AllowCredentials = true
	} else {
		c.AllowAllOrigins = true
	}
	c.AddAllowHeaders("Authorization", middleware.HeaderIdempotencyKey)
	c.AddExposeHeaders("Content-Disposition", "Idempotent-Replay")
	return c
}

func registerFIFORoutes(rg *gin.RouterGroup, h *handlers.FIFOHandler) {
	g := rg.Group("/fifo")
	g.POST("/allocations", h.Allocate)
	g.GET("/valuation", h.Valuate)
	g.GET("/valuation/export", h.ExportValuation)
	g.GET("/remision-materials/:id/cost", h.RemisionMaterialCost)
	g.GET("/remision-materials/:id/history", h.RemisionMaterialHistory)
	g.POST("/remisiones/:id/auto-allocate", h.AutoAllocateRemision)
}

func registerArkikRoutes(rg *gin.RouterGroup, h *handlers.ArkikHandler, store *idempotency.Store) {
	g := rg.Group("/arkik/sessions")
	g.POST("", h.CreateSession)
	g.POST("/:id/complete", h.CompleteSession)
	g.POST("/:id/status/analyze", h.AnalyzeStatus)
	g.POST("/:id/status/process", h.ProcessStatus)
	g.POST("/:id/waste", h.SaveWaste)
	g.GET("/:id/waste/export", h.ExportWaste)
	g.POST("/:id/reassignments", h.SaveReassignments)
	g.POST("/:id/transfers/apply", h.ApplyTransfers)

	orders := []gin.HandlerFunc{h.CreateOrders}
	if store != nil {
		orders = append([]gin.HandlerFunc{middleware.Idempotency(store)}, orders...)
	}
	g.POST("/:id/orders", orders...)
}
