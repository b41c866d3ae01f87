package api

import (
	"context"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/use-agent/propintel/api/handler"
	"github.com/use-agent/propintel/api/middleware"
	"github.com/use-agent/propintel/config"
	"github.com/use-agent/propintel/service"
)

// App is everything the admin API serves from. It is built in main.
type App struct {
	Runner    *service.Runner
	Config    *config.Config
	StartTime time.Time
}

// NewRouter creates a configured Gin engine with all routes and middleware.
//
// Middleware chain:
//
//	Global:  Recovery → Logger
//	Admin:   Auth (if enabled) → RateLimit
//
// Health and status stay outside auth so monitoring probes always work.
// ctx bounds the rate limiter's background sweep.
func NewRouter(ctx context.Context, app *App) *gin.Engine {
	gin.SetMode(app.Config.Server.Mode)

	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(gin.Logger())

	r.GET("/health", handler.Health(app.Runner, app.StartTime))

	v1 := r.Group("/api/v1")
	v1.GET("/status", handler.Status(app.Runner))

	admin := v1.Group("/admin")
	if app.Config.Auth.Enabled {
		admin.Use(middleware.Auth(app.Config.Auth.APIKeys))
	}
	admin.Use(middleware.RateLimit(ctx, app.Config.RateLimit))

	admin.POST("/runs", handler.PostRun(app.Runner))
	admin.GET("/runs/:id", handler.GetRun(app.Runner))

	return r
}
