package http

import (
	"net/http"
	"strconv"
	"time"

	"pairlink/internal/core/domain"
	"pairlink/internal/core/ports"
	"pairlink/internal/core/services"

	"github.com/gin-gonic/gin"
)

// StatsHandler exposes telemetry, alerts and configuration over HTTP.
type StatsHandler struct {
	telemetry    ports.TelemetryService
	iceConfig    ports.ICEConfigService
	metricsRepo  ports.MetricsRepository
	orchestrator *services.SessionOrchestrator
}

func NewStatsHandler(
	telemetry ports.TelemetryService,
	iceConfig ports.ICEConfigService,
	metricsRepo ports.MetricsRepository,
	orchestrator *services.SessionOrchestrator,
) *StatsHandler {
	return &StatsHandler{
		telemetry:    telemetry,
		iceConfig:    iceConfig,
		metricsRepo:  metricsRepo,
		orchestrator: orchestrator,
	}
}

func (h *StatsHandler) SetupRoutes(router *gin.Engine) {
	api := router.Group("/api/v1")
	{
		api.GET("/stats", h.GetStatistics)
		api.GET("/alerts", h.GetAlerts)
		api.GET("/history", h.GetHistory)
		api.GET("/config/:class", h.GetOptimizedConfig)
		api.GET("/validate", h.ValidateBehavior)
	}
	router.GET("/health", h.Health)
}

func (h *StatsHandler) GetStatistics(c *gin.Context) {
	stats := h.telemetry.GetStatistics()
	c.JSON(http.StatusOK, gin.H{
		"statistics": stats,
	})
}

func (h *StatsHandler) GetAlerts(c *gin.Context) {
	limit := 20
	if raw := c.Query("limit"); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil || parsed <= 0 {
			c.JSON(http.StatusBadRequest, gin.H{"error": "limit must be a positive integer"})
			return
		}
		limit = parsed
	}

	c.JSON(http.StatusOK, gin.H{
		"alerts": h.telemetry.GetRecentAlerts(limit),
	})
}

func (h *StatsHandler) GetHistory(c *gin.Context) {
	limit := 50
	if raw := c.Query("limit"); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil || parsed <= 0 {
			c.JSON(http.StatusBadRequest, gin.H{"error": "limit must be a positive integer"})
			return
		}
		limit = parsed
	}

	records, err := h.metricsRepo.RecentMetrics(c.Request.Context(), limit)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"history": records,
	})
}

func (h *StatsHandler) GetOptimizedConfig(c *gin.Context) {
	class := domain.NetworkClass(c.Param("class"))
	switch class {
	case domain.NetworkClassWifi, domain.NetworkClassMobile, domain.NetworkClassUnknown:
	default:
		c.JSON(http.StatusBadRequest, gin.H{"error": "unknown network class"})
		return
	}

	cfg, err := h.iceConfig.GenerateOptimizedConfig(c.Request.Context(), class)
	if err != nil {
		// a degraded config is still served, with the warning attached
		if cfg.Servers == nil {
			c.JSON(http.StatusServiceUnavailable, gin.H{"error": err.Error()})
			return
		}
		c.JSON(http.StatusOK, gin.H{
			"config":  cfg,
			"warning": err.Error(),
		})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"config": cfg,
	})
}

func (h *StatsHandler) ValidateBehavior(c *gin.Context) {
	if h.orchestrator == nil {
		c.JSON(http.StatusOK, gin.H{"issues": []string{}})
		return
	}

	issues := h.orchestrator.ValidateDeterministicBehavior()
	if issues == nil {
		issues = []string{}
	}
	c.JSON(http.StatusOK, gin.H{
		"issues": issues,
	})
}

func (h *StatsHandler) Health(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status":    "healthy",
		"timestamp": time.Now().Unix(),
	})
}
