package api

import (
	"github.com/gin-gonic/gin"
)

// SetupRoutes sets up the API routes
func SetupRoutes(handler *Handler) *gin.Engine {
	router := gin.New()

	// Middleware
	router.Use(Recovery())
	router.Use(CORS())
	router.Use(Logger())

	// Health check
	router.GET("/health", handler.HealthCheck)

	// API v1
	v1 := router.Group("/api/v1")
	{
		v1.POST("/repositories/analyze", handler.AnalyzeRepository)

		batches := v1.Group("/batches")
		{
			batches.POST("", handler.StartBatch)
			batches.GET("/:id", handler.GetBatch)
			batches.POST("/:id/interrupt", handler.InterruptBatch)
		}

		runs := v1.Group("/runs")
		{
			runs.GET("", handler.ListRuns)
			runs.GET("/:id", handler.GetRun)
		}
	}

	return router
}
