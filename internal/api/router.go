package api

import (
	"fmt"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"gorm.io/gorm"

	"github.com/tavolohq/tavolo/internal/app"
	"github.com/tavolohq/tavolo/internal/handlers"
	"github.com/tavolohq/tavolo/internal/middleware"
	"github.com/tavolohq/tavolo/internal/services"
)

// NewRouter builds the Gin engine, wires middleware and registers routes.
func NewRouter(db *gorm.DB, cfg *app.Config, broadcasts *services.BroadcastService, subscriptions *services.SubscriptionService) (*gin.Engine, error) {
	if db == nil {
		return nil, fmt.Errorf("database handle must be provided")
	}
	if cfg == nil {
		return nil, fmt.Errorf("config must be provided")
	}
	if broadcasts == nil {
		return nil, fmt.Errorf("broadcast service must be provided")
	}
	if subscriptions == nil {
		return nil, fmt.Errorf("subscription service must be provided")
	}

	r := gin.New()

	// Global middleware
	r.Use(middleware.Recovery())
	r.Use(middleware.Logger())
	r.Use(middleware.Metrics())

	// Public endpoints
	r.GET("/healthz", handlers.Health())
	if cfg.Monitoring.Prometheus.Enabled {
		r.GET(cfg.Monitoring.Prometheus.Endpoint, gin.WrapH(promhttp.Handler()))
	}

	broadcastHandler, err := handlers.NewBroadcastHandler(broadcasts)
	if err != nil {
		return nil, err
	}
	subscriptionHandler, err := handlers.NewSubscriptionHandler(subscriptions)
	if err != nil {
		return nil, err
	}

	// Tenant-scoped routes
	api := r.Group("/api")
	api.Use(middleware.RequireAPIKey(db))
	{
		api.POST("/broadcasts", broadcastHandler.Send)
		api.GET("/broadcasts", broadcastHandler.List)
		api.GET("/subscriptions", subscriptionHandler.List)
		api.DELETE("/subscriptions/:id", subscriptionHandler.Deactivate)
	}

	return r, nil
}
