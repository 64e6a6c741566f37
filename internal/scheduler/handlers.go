package scheduler

import (
	"github.com/gin-gonic/gin"

	"github.com/ksred/novatrade/pkg/response"
)

// GinHandlers contains HTTP handlers for bot control and engine state
type GinHandlers struct {
	scheduler *Scheduler
}

func NewGinHandlers(scheduler *Scheduler) *GinHandlers {
	return &GinHandlers{
		scheduler: scheduler,
	}
}

// GetBotHandler handles GET /api/bot
func (h *GinHandlers) GetBotHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		response.Success(c, gin.H{"bot": h.scheduler.Status()})
	}
}

// StartBotHandler handles POST /api/bot/start. Starting a running bot is a no-op.
func (h *GinHandlers) StartBotHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		changed := h.scheduler.StartBot()
		response.Success(c, gin.H{"changed": changed, "bot": h.scheduler.Status()})
	}
}

// StopBotHandler handles POST /api/bot/stop
func (h *GinHandlers) StopBotHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		changed := h.scheduler.StopBot()
		response.Success(c, gin.H{"changed": changed, "bot": h.scheduler.Status()})
	}
}

// GetAnalysisHandler handles GET /api/analysis; analysis is null before the first cycle
func (h *GinHandlers) GetAnalysisHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		response.Success(c, gin.H{"analysis": h.scheduler.LastAnalysis()})
	}
}

func (h *GinHandlers) GetLogsHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		response.Success(c, gin.H{"logs": h.scheduler.Activity().Entries()})
	}
}
