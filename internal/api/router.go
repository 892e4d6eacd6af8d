package api

import (
	"github.com/gin-gonic/gin"
	"github.com/timmy/rerasync/internal/api/handler"
	"github.com/timmy/rerasync/internal/api/middleware"
	"github.com/timmy/rerasync/internal/config"
	"github.com/timmy/rerasync/internal/logger"
)

// SetupRouter configures the Gin router with all routes. runs may be nil,
// in which case the run history endpoints are not registered.
func SetupRouter(
	reader handler.ProjectReader,
	runs handler.RunLister,
	cfg *config.ServerConfig,
	log *logger.Logger,
) *gin.Engine {
	// Set Gin mode
	switch cfg.Mode {
	case "release":
		gin.SetMode(gin.ReleaseMode)
	case "test":
		gin.SetMode(gin.TestMode)
	default:
		gin.SetMode(gin.DebugMode)
	}

	r := gin.New()

	// Add middleware
	r.Use(gin.Recovery())
	r.Use(middleware.LoggerMiddleware(log))
	r.Use(middleware.CORS(middleware.CORSConfig{
		AllowedOrigins:  cfg.CORS.AllowedOrigins,
		AllowAllOrigins: cfg.CORS.AllowAllOrigins,
	}))

	// Create handlers
	healthHandler := handler.NewHealthHandler(reader)
	projectHandler := handler.NewProjectHandler(reader)

	// Health check
	r.GET("/health", healthHandler.Health)

	// API v1 routes
	v1 := r.Group("/api/v1")
	{
		// Projects
		v1.GET("/projects", projectHandler.ListProjects)
		v1.GET("/projects/:id", projectHandler.GetProject)

		// Stats
		v1.GET("/stats", projectHandler.GetStats)

		// Harvest runs
		if runs != nil {
			runHandler := handler.NewRunHandler(runs)
			v1.GET("/runs", runHandler.ListRuns)
			v1.GET("/runs/:id", runHandler.GetRun)
		}
	}

	return r
}
