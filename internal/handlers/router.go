package handlers

import (
	"net/http"

	"github.com/SAP-F-2025/tryout-runtime/internal/utils"
	"github.com/SAP-F-2025/tryout-runtime/internal/validator"
	"github.com/gin-gonic/gin"
)

type HandlerManager struct {
	viewHandler *ViewHandler
}

func NewHandlerManager(
	registry ViewRegistry,
	validator *validator.Validator,
	logger utils.Logger,
) *HandlerManager {
	return &HandlerManager{
		viewHandler: NewViewHandler(registry, validator, logger),
	}
}

// SetupRoutes sets up all API routes
func (hm *HandlerManager) SetupRoutes(router *gin.Engine) {
	// Health check endpoint
	router.GET("/health", HealthCheck)

	// API v1 routes
	v1 := router.Group("/api/v1")
	{
		views := v1.Group("/views")
		{
			views.POST("", hm.viewHandler.MountView)
			views.GET("/:id", hm.viewHandler.GetView)
			views.DELETE("/:id", hm.viewHandler.DisposeView)
			views.POST("/:id/refresh", hm.viewHandler.RefreshView)

			// Countdown and proctoring state
			views.GET("/:id/timer", hm.viewHandler.GetTimer)
			views.GET("/:id/proctoring", hm.viewHandler.GetProctoring)

			// Proctoring input
			views.POST("/:id/monitoring/start", hm.viewHandler.StartMonitoring)
			views.POST("/:id/monitoring/stop", hm.viewHandler.StopMonitoring)
			views.POST("/:id/analysis", hm.viewHandler.ApplyAnalysis)

			// Server-side capture loop over browser-pushed frames
			views.POST("/:id/capture/start", hm.viewHandler.StartCapture)
			views.POST("/:id/capture/frames", hm.viewHandler.PushFrame)
			views.POST("/:id/capture/stop", hm.viewHandler.StopCapture)

			views.POST("/:id/submit", hm.viewHandler.SubmitView)
		}
	}
}

func HealthCheck(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status":  "healthy",
		"service": "tryout-runtime",
	})
}
