package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"

	"restobot/internal/config"
	"restobot/internal/entities"
	"restobot/internal/infrastructure"
	"restobot/internal/interfaces"
	httpiface "restobot/internal/interfaces/http"
	"restobot/internal/logger"
	"restobot/internal/repository"
	"restobot/internal/usecases"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintln(os.Stderr, "config:", err)
		os.Exit(1)
	}

	log := logger.NewStructured(cfg.Logging.Level, cfg.Logging.Format).
		With(map[string]interface{}{"service": cfg.App.Name, "env": cfg.App.Environment})

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, log); err != nil {
		log.Error("fatal", map[string]interface{}{"error": err.Error()})
		os.Exit(1)
	}
}

func run(ctx context.Context, cfg *config.Config, log logger.Logger) error {
	tp, shutdownTracing := infrastructure.NewTracerProvider(cfg.Tracing, cfg.App.Name, log)

	// Connect to PostgreSQL
	pg, err := infrastructure.NewPostgresClient(ctx, cfg.Database, log)
	if err != nil {
		return fmt.Errorf("connect database: %w", err)
	}
	defer pg.Close()

	// Redis is optional: it carries the realtime feed and webhook dedup.
	var (
		redisClient *infrastructure.RedisClient
		publisher   interfaces.ChangePublisher
		feed        httpiface.ChangeSubscriber
		dedup       interfaces.Deduplicator
	)
	if cfg.Redis.Enabled() {
		redisClient = infrastructure.NewRedis(cfg.Redis)
		if err := redisClient.Ping(ctx); err != nil {
			return err
		}
		defer redisClient.Close()

		changes := infrastructure.NewChangeFeed(redisClient.Client, log)
		publisher, feed = changes, changes
		dedup = infrastructure.NewRedisDeduplicator(redisClient.Client, cfg.Redis.DedupTTL)
	} else {
		log.Warn("redis not configured, realtime feed and webhook dedup disabled", nil)
	}

	// Repositories
	db := pg.DB
	tenants := repository.NewTenantManager(db, publisher)
	configRepo := repository.NewConfigRepository(db, publisher)
	catalog := repository.NewCatalogRepository(db, publisher)
	convRepo := repository.NewConversationRepository(db, publisher)
	msgRepo := repository.NewMessageRepository(db, publisher)
	orderRepo := repository.NewOrderRepository(db, publisher)
	analytics := repository.NewAnalyticsRepository(db, publisher)
	usage := repository.NewUsageRepository(db)
	users := repository.NewUserRepository(db)

	// Outbound transports
	llm := infrastructure.NewLLMClient(cfg.LLM, log)
	waManager := infrastructure.NewWhatsAppManager(cfg.WhatsApp.DeviceDir, log)
	gateway := infrastructure.NewGatewayRouter(infrastructure.NewEvolutionClient(cfg.Gateway), waManager, log)

	// Staff alerts
	var (
		notifier     *infrastructure.TelegramNotifier
		handoffAlert interfaces.HandoffNotifier
		staffBot     httpiface.TelegramSender
	)
	if cfg.Telegram.BotToken != "" {
		bot, err := infrastructure.NewTelegramBot(cfg.Telegram.BotToken)
		if err != nil {
			log.Warn("telegram disabled", map[string]interface{}{"error": err.Error()})
		} else {
			notifier = infrastructure.NewTelegramNotifier(bot, tenants.TelegramChat, log)
			handoffAlert, staffBot = notifier, notifier
		}
	}

	// Usecases
	messageService := usecases.NewMessageService(usecases.MessageServiceDeps{
		Agents:        configRepo,
		Conversations: convRepo,
		Messages:      msgRepo,
		Catalog:       catalog,
		Fallbacks:     configRepo,
		Learning:      analytics,
		Experiments:   analytics,
		Usage:         usage,
		AI:            llm,
		Messenger:     gateway,
		Notifier:      handoffAlert,
		Dedup:         dedup,
		Locker:        infrastructure.NewSessionManager(),
		Tracer:        tp.Tracer("restobot/pipeline"),
		Logger:        log,
		Config:        cfg.Pipeline,
	})

	authUsecase := usecases.NewAuthUsecase(users, cfg.Auth.JWTSecret, cfg.Auth.TokenTTL)
	if err := authUsecase.EnsureAdmin(ctx, cfg.Auth.AdminEmail, cfg.Auth.AdminPassword); err != nil {
		log.Warn("failed to ensure admin user", map[string]interface{}{"error": err.Error()})
	}

	dashboard := usecases.NewDashboardUsecase(tenants, configRepo, catalog, analytics, usage, cfg.Pipeline.HandoffMessage)
	orders := usecases.NewOrderService(orderRepo, usecases.NewPricingCalculator(catalog, catalog.DeliveryZones), log)
	conversations := usecases.NewConversationService(convRepo, msgRepo, configRepo, gateway, usage, tenants, log)

	// Native WhatsApp sessions feed the same pipeline as the webhook.
	waManager.OnMessage = func(ctx context.Context, in *entities.InboundMessage) {
		status, err := messageService.Process(ctx, in)
		if err != nil {
			log.Error("native message failed", map[string]interface{}{"agent_id": in.AgentID, "error": err.Error()})
			return
		}
		log.Debug("native message processed", map[string]interface{}{"agent_id": in.AgentID, "status": string(status)})
	}
	if agents, err := configRepo.NativeAgents(ctx); err != nil {
		log.Warn("could not load native agents", map[string]interface{}{"error": err.Error()})
	} else {
		waManager.ConnectAll(ctx, agents)
	}
	defer waManager.DisconnectAll()

	if notifier != nil {
		notifier.OnAction = func(ctx context.Context, chatID int64, action infrastructure.StaffAction, conversationID string) error {
			return conversations.HandleStaffAction(ctx, chatID, string(action), conversationID)
		}
		go notifier.Start(ctx)
		defer notifier.Stop()
	}

	if cfg.Scheduler.Enabled {
		scheduler, err := usecases.NewScheduler(cfg.Scheduler, convRepo, catalog, log)
		if err != nil {
			return fmt.Errorf("scheduler: %w", err)
		}
		scheduler.Start()
		defer func() {
			stopCtx, cancel := context.WithTimeout(context.Background(), cfg.HTTP.ShutdownTimeout)
			defer cancel()
			scheduler.Stop(stopCtx)
		}()
	}

	limiter := infrastructure.NewMessageRateLimiter(cfg.HTTP.UserRateLimit, cfg.HTTP.UserRateBurst)
	go limiter.Run(ctx)

	// HTTP
	if cfg.App.Environment == "production" {
		gin.SetMode(gin.ReleaseMode)
	}
	r := gin.New()
	r.Use(gin.Recovery())

	health := map[string]httpiface.HealthCheck{"postgres": pg.Ping}
	if redisClient != nil {
		health["redis"] = redisClient.Ping
	}

	deps := httpiface.RouterDeps{
		Pipeline:      messageService,
		Auth:          authUsecase,
		Dashboard:     dashboard,
		Orders:        orders,
		Conversations: conversations,
		Config:        configRepo,
		Catalog:       catalog,
		WhatsApp:      waManager,
		Telegram:      staffBot,
		Feed:          feed,
		Health:        health,
		Middleware:    httpiface.NewMiddleware(authUsecase, dashboard, limiter, log),
		Logger:        log,
		MaxBodyBytes:  cfg.HTTP.MaxBodyBytes,
	}
	httpiface.SetupRoutes(r, deps)

	srv := &http.Server{
		Addr:              cfg.HTTP.Addr,
		Handler:           r,
		ReadHeaderTimeout: 10 * time.Second,
	}

	serveErr := make(chan error, 1)
	go func() {
		log.Info("server starting", map[string]interface{}{"addr": cfg.HTTP.Addr})
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serveErr <- err
		}
		close(serveErr)
	}()

	select {
	case <-ctx.Done():
		log.Info("shutdown requested", nil)
	case err := <-serveErr:
		if err != nil {
			return fmt.Errorf("http server: %w", err)
		}
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.HTTP.ShutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Warn("http shutdown", map[string]interface{}{"error": err.Error()})
	}
	if err := shutdownTracing(shutdownCtx); err != nil {
		log.Warn("tracer shutdown", map[string]interface{}{"error": err.Error()})
	}
	log.Info("server stopped", nil)
	return nil
}
