package http

import (
	"context"
	"net/http"

	"github.com/gin-gonic/gin"

	"restobot/internal/entities"
	"restobot/internal/logger"
)

// TelegramSender posts to a staff chat through the platform bot.
type TelegramSender interface {
	SendTest(chatID int64) error
}

// TelegramLinks reads and writes a restaurant's staff chat link.
type TelegramLinks interface {
	Restaurant(ctx context.Context, id string) (*entities.Restaurant, error)
	LinkTelegram(ctx context.Context, restaurantID string, chatID *int64) error
}

// TelegramHandler manages the staff chat that receives handoff alerts.
type TelegramHandler struct {
	bot   TelegramSender
	links TelegramLinks
	log   logger.Logger
}

func NewTelegramHandler(bot TelegramSender, links TelegramLinks, log logger.Logger) *TelegramHandler {
	return &TelegramHandler{bot: bot, links: links, log: log}
}

func (h *TelegramHandler) RegisterRoutes(rest *gin.RouterGroup) {
	tg := rest.Group("/telegram")
	{
		tg.GET("", h.GetStatus)
		tg.PUT("", h.Link)
		tg.POST("/test", h.SendTest)
	}
}

func (h *TelegramHandler) GetStatus(c *gin.Context) {
	restaurant, err := h.links.Restaurant(c.Request.Context(), c.Param("restaurantID"))
	if err != nil {
		writeError(c, h.log, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"bot_configured": h.bot != nil,
		"linked":         restaurant.TelegramChatID != nil,
		"chat_id":        restaurant.TelegramChatID,
	})
}

// Link sets the staff chat; a null chat_id unlinks it.
func (h *TelegramHandler) Link(c *gin.Context) {
	var req struct {
		ChatID *int64 `json:"chat_id"`
	}
	if !bindJSON(c, &req) {
		return
	}
	if err := h.links.LinkTelegram(c.Request.Context(), c.Param("restaurantID"), req.ChatID); err != nil {
		writeError(c, h.log, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"linked": req.ChatID != nil, "chat_id": req.ChatID})
}

func (h *TelegramHandler) SendTest(c *gin.Context) {
	if h.bot == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "telegram bot is not configured"})
		return
	}
	restaurant, err := h.links.Restaurant(c.Request.Context(), c.Param("restaurantID"))
	if err != nil {
		writeError(c, h.log, err)
		return
	}
	if restaurant.TelegramChatID == nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "no telegram chat linked"})
		return
	}
	if err := h.bot.SendTest(*restaurant.TelegramChatID); err != nil {
		h.log.Warn("telegram test message failed", map[string]interface{}{
			"restaurant_id": restaurant.ID,
			"error":         err.Error(),
		})
		c.JSON(http.StatusBadGateway, gin.H{"error": "telegram rejected the message"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "sent"})
}
