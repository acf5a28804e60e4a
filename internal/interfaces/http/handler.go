package http

import (
	"context"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/tidwall/gjson"

	"restobot/internal/apperrors"
	"restobot/internal/entities"
	"restobot/internal/infrastructure"
	"restobot/internal/logger"
	"restobot/internal/repository"
	"restobot/internal/usecases"
)

// MessageProcessor runs one inbound message through the reply pipeline.
type MessageProcessor interface {
	Process(ctx context.Context, in *entities.InboundMessage) (usecases.Status, error)
}

// HealthCheck reports whether a dependency is usable.
type HealthCheck func(ctx context.Context) error

// RouterDeps is everything the HTTP layer talks to. WhatsApp, Telegram and
// Feed may be nil when the feature is not configured.
type RouterDeps struct {
	Pipeline      MessageProcessor
	Auth          *usecases.AuthUsecase
	Dashboard     *usecases.DashboardUsecase
	Orders        *usecases.OrderService
	Conversations *usecases.ConversationService
	Config        *repository.ConfigRepository
	Catalog       *repository.CatalogRepository
	WhatsApp      *infrastructure.WhatsAppManager
	Telegram      TelegramSender
	Feed          ChangeSubscriber
	Health        map[string]HealthCheck
	Middleware    *Middleware
	Logger        logger.Logger
	MaxBodyBytes  int64
}

type Handler struct {
	pipeline      MessageProcessor
	auth          *usecases.AuthUsecase
	dashboard     *usecases.DashboardUsecase
	orders        *usecases.OrderService
	conversations *usecases.ConversationService
	config        *repository.ConfigRepository
	catalog       *repository.CatalogRepository
	waManager     *infrastructure.WhatsAppManager
	health        map[string]HealthCheck
	log           logger.Logger
}

func NewHandler(d RouterDeps) *Handler {
	return &Handler{
		pipeline:      d.Pipeline,
		auth:          d.Auth,
		dashboard:     d.Dashboard,
		orders:        d.Orders,
		conversations: d.Conversations,
		config:        d.Config,
		catalog:       d.Catalog,
		waManager:     d.WhatsApp,
		health:        d.Health,
		log:           d.Logger,
	}
}

func SetupRoutes(r *gin.Engine, d RouterDeps) {
	h := NewHandler(d)
	var sessions SessionLister
	if d.WhatsApp != nil {
		sessions = d.WhatsApp
	}
	adminHandler := NewAdminHandler(d.Dashboard, sessions, d.Logger)
	telegramHandler := NewTelegramHandler(d.Telegram, d.Dashboard, d.Logger)
	realtimeHandler := NewRealtimeHandler(d.Feed, d.Logger)
	mw := d.Middleware

	maxBody := d.MaxBodyBytes
	if maxBody <= 0 {
		maxBody = 10 << 20
	}
	r.Use(mw.RequestLogger())
	r.Use(SecurityHeaders())
	r.Use(RequestSizeLimiter(maxBody))
	r.Use(mw.CORSMiddleware())

	r.GET("/healthz", h.Health)
	r.GET("/metrics", gin.WrapH(promhttp.Handler()))

	// Gateway webhook
	r.GET("/webhook/whatsapp", h.VerifyWebhook)
	r.POST("/webhook/whatsapp", h.HandleWebhook)

	authGroup := r.Group("/api/auth")
	{
		authGroup.POST("/register", h.Register)
		authGroup.POST("/login", h.Login)
	}

	api := r.Group("/api")
	api.Use(mw.AuthRequired())
	api.Use(mw.RateLimitPerUser())
	{
		api.GET("/restaurants", h.ListRestaurants)
		api.POST("/restaurants", h.CreateRestaurant)

		rest := api.Group("/restaurants/:restaurantID")
		rest.Use(mw.RestaurantAccess())
		{
			rest.GET("", h.GetRestaurant)
			rest.PUT("", h.UpdateRestaurant)

			h.registerCatalog(rest)
			h.registerConfig(rest)

			rest.GET("/orders", h.ListOrders)
			rest.GET("/orders/board", h.OrderBoard)
			rest.GET("/orders/:id", h.GetOrder)
			rest.POST("/orders", h.CreateOrder)
			rest.PATCH("/orders/:id/status", h.UpdateOrderStatus)

			rest.GET("/conversations", h.ListConversations)
			rest.GET("/conversations/:id", h.GetConversation)
			rest.GET("/conversations/:id/messages", h.ConversationMessages)
			rest.POST("/conversations/:id/messages", h.ReplyToConversation)
			rest.PATCH("/conversations/:id/status", h.UpdateConversationStatus)

			rest.GET("/analytics", h.Analytics)
			rest.GET("/analytics/forecast", h.Forecast)
			rest.GET("/agents/:id/tests", h.ListTests)
			rest.POST("/agents/:id/tests", h.CreateTest)
			rest.PATCH("/agents/:id/tests/:testID", h.SetTestRunning)
			rest.GET("/agents/:id/tests/:testID/results", h.TestResults)

			wa := rest.Group("/agents/:id/whatsapp")
			{
				wa.POST("/connect", h.ConnectWhatsApp)
				wa.GET("/qr", h.WhatsAppQR)
				wa.GET("/status", h.WhatsAppStatus)
				wa.POST("/logout", h.LogoutWhatsApp)
			}

			telegramHandler.RegisterRoutes(rest)
			rest.GET("/realtime", realtimeHandler.Stream)
		}
	}

	admin := r.Group("/api/admin")
	admin.Use(mw.AuthRequired())
	admin.Use(mw.AdminRequired())
	{
		admin.GET("/stats", adminHandler.GetStats)
		admin.GET("/whatsapp", adminHandler.ConnectedAgents)
	}
}

func (h *Handler) respondError(c *gin.Context, err error) {
	writeError(c, h.log, err)
}

// writeError maps an error onto its HTTP status; internals are logged,
// never returned.
func writeError(c *gin.Context, log logger.Logger, err error) {
	status := apperrors.HTTPStatus(err)
	if status >= http.StatusInternalServerError {
		log.Error("request failed", map[string]interface{}{
			"path":       c.FullPath(),
			"request_id": c.GetString(ctxRequestID),
			"error":      err.Error(),
		})
	}
	c.JSON(status, gin.H{"error": apperrors.PublicMessage(err)})
}

func (h *Handler) Health(c *gin.Context) {
	ctx, cancel := context.WithTimeout(c.Request.Context(), 3*time.Second)
	defer cancel()

	failing := map[string]string{}
	for name, check := range h.health {
		if err := check(ctx); err != nil {
			failing[name] = err.Error()
		}
	}
	if len(failing) > 0 {
		c.JSON(http.StatusServiceUnavailable, gin.H{"status": "degraded", "failing": failing})
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

// ========================================
// Gateway webhook
// ========================================

// VerifyWebhook echoes the challenge when both token and challenge are given.
func (h *Handler) VerifyWebhook(c *gin.Context) {
	token := c.Query("token")
	challenge := c.Query("challenge")
	if token == "" || challenge == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "verification failed"})
		return
	}
	c.Data(http.StatusOK, "text/plain; charset=utf-8", []byte(challenge))
}

func (h *Handler) HandleWebhook(c *gin.Context) {
	body, err := c.GetRawData()
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "unreadable body"})
		return
	}
	if !gjson.ValidBytes(body) {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid JSON body"})
		return
	}

	msg := ParseEvolutionPayload(body, time.Now())
	status, err := h.pipeline.Process(c.Request.Context(), msg)
	if err != nil {
		h.log.Error("webhook processing failed", map[string]interface{}{
			"request_id": c.GetString(ctxRequestID),
			"instance":   gjson.GetBytes(body, "instance").String(),
			"error":      err.Error(),
		})
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal server error"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": string(status)})
}

const (
	userJIDSuffix  = "@s.whatsapp.net"
	groupJIDSuffix = "@g.us"
)

// ParseEvolutionPayload normalises an Evolution API webhook. It returns nil
// for events that carry no customer text: missing text or sender, own
// echoes and group chats.
func ParseEvolutionPayload(body []byte, now time.Time) *entities.InboundMessage {
	data := gjson.GetBytes(body, "data")
	if data.Get("key.fromMe").Bool() {
		return nil
	}

	jid := data.Get("key.remoteJid").String()
	if strings.HasSuffix(jid, groupJIDSuffix) {
		return nil
	}
	phone := strings.TrimSuffix(jid, userJIDSuffix)

	text := messageText(data.Get("message"))
	if strings.TrimSpace(text) == "" || phone == "" {
		return nil
	}

	received := now
	if ts := data.Get("messageTimestamp").Int(); ts > 0 {
		received = time.Unix(ts, 0)
	}
	return &entities.InboundMessage{
		Instance:          gjson.GetBytes(body, "instance").String(),
		SenderPhone:       phone,
		PushName:          data.Get("pushName").String(),
		Text:              SanitizeString(text),
		ProviderMessageID: data.Get("key.id").String(),
		ReceivedAt:        received,
	}
}

func messageText(msg gjson.Result) string {
	if msg.Type == gjson.String {
		return msg.String()
	}
	if t := msg.Get("conversation"); t.Exists() && t.String() != "" {
		return t.String()
	}
	return msg.Get("extendedTextMessage.text").String()
}

// ========================================
// Native WhatsApp sessions
// ========================================

// nativeAgent loads the path's agent and checks it uses the native gateway.
func (h *Handler) nativeAgent(c *gin.Context) (*entities.Agent, bool) {
	if h.waManager == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "native WhatsApp is not configured"})
		return nil, false
	}
	agent, err := h.config.Agents.Get(c.Request.Context(), c.Param("restaurantID"), c.Param("id"))
	if err != nil {
		h.respondError(c, err)
		return nil, false
	}
	if agent.GatewayKind != entities.GatewayNative {
		c.JSON(http.StatusBadRequest, gin.H{"error": "agent does not use the native gateway"})
		return nil, false
	}
	return agent, true
}

func (h *Handler) ConnectWhatsApp(c *gin.Context) {
	agent, ok := h.nativeAgent(c)
	if !ok {
		return
	}
	client, err := h.waManager.Connect(context.WithoutCancel(c.Request.Context()), agent.ID)
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"status":    "connecting",
		"connected": client.IsLoggedIn(),
		"phone":     client.PhoneNumber(),
		"name":      client.Name(),
	})
}

// WhatsAppQR returns the pairing QR as PNG, 202 while it is not ready yet.
func (h *Handler) WhatsAppQR(c *gin.Context) {
	agent, ok := h.nativeAgent(c)
	if !ok {
		return
	}
	client := h.waManager.Client(agent.ID)
	if client == nil {
		var err error
		if client, err = h.waManager.Connect(context.WithoutCancel(c.Request.Context()), agent.ID); err != nil {
			h.respondError(c, err)
			return
		}
	}
	if client.IsLoggedIn() {
		c.JSON(http.StatusOK, gin.H{"status": "logged_in"})
		return
	}
	if client.QR() == "" {
		c.JSON(http.StatusAccepted, gin.H{"status": "waiting_for_qr"})
		return
	}
	png, err := client.QRPNG(256)
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.Data(http.StatusOK, "image/png", png)
}

func (h *Handler) WhatsAppStatus(c *gin.Context) {
	agent, ok := h.nativeAgent(c)
	if !ok {
		return
	}
	client := h.waManager.Client(agent.ID)
	if client == nil {
		c.JSON(http.StatusOK, gin.H{"connected": false, "initialized": false})
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"connected":   client.IsLoggedIn(),
		"initialized": true,
		"phone":       client.PhoneNumber(),
		"name":        client.Name(),
		"has_qr":      client.QR() != "",
	})
}

func (h *Handler) LogoutWhatsApp(c *gin.Context) {
	agent, ok := h.nativeAgent(c)
	if !ok {
		return
	}
	if err := h.waManager.Logout(c.Request.Context(), agent.ID); err != nil {
		h.log.Warn("whatsapp logout", map[string]interface{}{"agent_id": agent.ID, "error": err.Error()})
	}
	c.JSON(http.StatusOK, gin.H{"status": "logged_out"})
}
