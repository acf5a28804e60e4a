package http

import (
	"context"
	"net/http"
	"sort"

	"github.com/gin-gonic/gin"

	"restobot/internal/logger"
	"restobot/internal/repository"
)

type PlatformStatsSource interface {
	PlatformStats(ctx context.Context) (*repository.PlatformStats, error)
}

// SessionLister lists agents with a live native WhatsApp session.
type SessionLister interface {
	ConnectedAgents() []string
}

type AdminHandler struct {
	stats    PlatformStatsSource
	sessions SessionLister
	log      logger.Logger
}

func NewAdminHandler(stats PlatformStatsSource, sessions SessionLister, log logger.Logger) *AdminHandler {
	return &AdminHandler{stats: stats, sessions: sessions, log: log}
}

// GetStats returns platform statistics
func (h *AdminHandler) GetStats(c *gin.Context) {
	stats, err := h.stats.PlatformStats(c.Request.Context())
	if err != nil {
		writeError(c, h.log, err)
		return
	}

	activeWA := 0
	if h.sessions != nil {
		activeWA = len(h.sessions.ConnectedAgents())
	}

	c.JSON(http.StatusOK, gin.H{
		"restaurants":           stats.Restaurants,
		"active_agents":         stats.ActiveAgents,
		"conversations":         stats.Conversations,
		"messages_today":        stats.MessagesToday,
		"active_wa_connections": activeWA,
	})
}

func (h *AdminHandler) ConnectedAgents(c *gin.Context) {
	agents := []string{}
	if h.sessions != nil {
		agents = append(agents, h.sessions.ConnectedAgents()...)
	}
	sort.Strings(agents)
	c.JSON(http.StatusOK, gin.H{"agents": agents, "count": len(agents)})
}
