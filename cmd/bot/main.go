package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"prenotazioni/internal/api"
	"prenotazioni/internal/assistant"
	"prenotazioni/internal/bot"
	"prenotazioni/internal/config"
	"prenotazioni/internal/conversation"
	"prenotazioni/internal/database"
	"prenotazioni/internal/document"
	"prenotazioni/internal/events"
	"prenotazioni/internal/logging"
	"prenotazioni/internal/metrics"
	"prenotazioni/internal/models"
	"prenotazioni/internal/notify"
	"prenotazioni/internal/repository"
	"prenotazioni/internal/router"
	"prenotazioni/internal/service"
	"prenotazioni/internal/worker"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
)

func main() {
	if err := run(); err != nil {
		log.Fatalf("Fatal error: %v", err)
	}
}

func run() error {
	cfg, logger, closer, err := loadConfigAndLogger()
	if err != nil {
		return err
	}
	if closer != nil {
		defer (func(c io.Closer) { _ = c.Close() })(closer)
	}

	if err := os.MkdirAll(filepath.Dir(cfg.Database.Path), 0o755); err != nil {
		logger.Error().Err(err).Msg("Failed to create database directory")
		return err
	}

	db, err := database.NewDB(cfg.Database.Path, &logger)
	if err != nil {
		logger.Error().Err(err).Msg("Failed to initialize database")
		return err
	}
	defer db.Close()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	catalog := service.NewCatalogService(db, &logger)
	if err := catalog.SyncFromConfig(ctx, cfg.CleaningServices, cfg.Properties); err != nil {
		logger.Error().Err(err).Msg("Failed to sync catalog from config")
		return err
	}

	redisClient, sessions := initSessions(ctx, cfg, &logger)
	if redisClient != nil {
		defer func() { _ = repository.Close(redisClient) }()
	}

	botAPI, err := tgbotapi.NewBotAPI(cfg.Telegram.BotToken)
	if err != nil {
		logger.Error().Err(err).Msg("Failed to create Telegram BotAPI")
		return err
	}
	botAPI.Debug = cfg.Telegram.Debug
	botWrapper := bot.NewBotWrapper(botAPI)

	eventBus := events.NewEventBus()
	eventBus.OnError(func(ev *events.Event, err error) {
		logger.Error().Err(err).Str("event_type", ev.Type).Msg("event handler failed")
	})
	stopKafka := startKafkaForwarder(ctx, cfg, eventBus, &logger)
	defer stopKafka()

	simulated := notify.NewSimulatedNotifier(&logger)
	dispatcher := notify.NewDispatcher().
		Handle(models.NotificationTelegram, notify.NewTelegramNotifier(botWrapper)).
		Handle(models.NotificationSMS, simulated).
		Handle(models.NotificationEmail, simulated)

	notificationWorker := worker.NewNotificationWorker(db, dispatcher, redisClient, workerOptions(cfg.Notifications), &logger)
	go notificationWorker.Start(ctx)

	loc := cfg.Booking.Location()
	renderer := document.NewXLSXRenderer(document.Issuer{
		Name:    cfg.Invoice.IssuerName,
		Address: cfg.Invoice.IssuerAddress,
		VATID:   cfg.Invoice.IssuerVATID,
	})
	invoices := service.NewInvoiceService(db, renderer, eventBus, service.InvoiceConfig{
		TaxRatePercent: cfg.Invoice.TaxRate(),
		YearScoped:     cfg.Invoice.YearScoped,
		RenderTimeout:  cfg.Invoice.RenderTimeout(),
		Location:       loc,
	}, &logger)
	cleaning := service.NewCleaningScheduler(db, notificationWorker, eventBus, loc, cfg.Cleaning.UpcomingDays, &logger)
	bookings := service.NewBookingService(db, invoices, cleaning, eventBus, cfg.Cleaning.Delay(), &logger)

	service.NewAutomation(invoices, notificationWorker, service.AutomationConfig{
		AutoInvoice:     cfg.Invoice.AutoGenerate,
		OperatorChatIDs: cfg.Notifications.OperatorChatIDs,
	}, &logger).Register(eventBus)

	engine := conversation.NewEngine(sessions, catalog, bookings, conversation.Config{
		DateLayout: cfg.Booking.DateLayout,
		Location:   loc,
	}, &logger)
	messageRouter := router.New(engine, assistant.NewFAQ(catalog), router.Config{
		IntentPhrases:    cfg.Booking.IntentPhrases,
		AssistantTimeout: time.Duration(cfg.Booking.AssistantTimeout) * time.Second,
	}, &logger)

	if cfg.API.Enabled && cfg.API.HTTP.Enabled {
		apiServer := api.NewHTTPServer(cfg.API, api.Services{
			Router:   messageRouter,
			Catalog:  catalog,
			Bookings: bookings,
			Invoices: invoices,
			Cleaning: cleaning,
		}, &logger)
		go func() {
			if err := apiServer.Start(); err != nil {
				logger.Error().Err(err).Msg("API server error")
			}
		}()
		defer func() {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
			defer cancel()
			_ = apiServer.Shutdown(shutdownCtx)
		}()
	}

	if cfg.Backup.Enabled {
		go database.NewBackupService(db, cfg.Backup, &logger).Start(ctx)
	}

	var botMetrics *bot.Metrics
	if cfg.Monitoring.PrometheusEnabled {
		metrics.Register()
		botMetrics = bot.NewMetrics(prometheus.DefaultRegisterer)
		go startMetricsServer(ctx, cfg.Monitoring.PrometheusPort, &logger)
	}

	telegramBot := bot.NewBot(botWrapper, messageRouter, sessions, bot.Operators{
		Bookings:   bookings,
		Invoices:   invoices,
		Cleaning:   cleaning,
		Properties: catalog,
	}, bot.Config{
		RateLimitMessages: cfg.Booking.RateLimitMessages,
		RateLimitWindow:   time.Duration(cfg.Booking.RateLimitWindow) * time.Second,
		OperatorIDs:       cfg.Notifications.OperatorChatIDs,
		UpcomingDays:      cfg.Cleaning.UpcomingDays,
		Location:          loc,
	}, botMetrics, &logger)

	logger.Info().Str("bot", botAPI.Self.UserName).Msg("Bot avviato")
	telegramBot.Start(ctx)

	logger.Info().Msg("Shutdown complete.")
	return nil
}

func loadConfigAndLogger() (*config.Config, zerolog.Logger, io.Closer, error) {
	configPath := os.Getenv("CONFIG_PATH")
	if configPath == "" {
		configPath = "configs/config.yaml"
	}

	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, zerolog.Logger{}, nil, fmt.Errorf("load config: %w", err)
	}

	baseLogger, closer, err := logging.New(cfg.Logging, cfg.App)
	if err != nil {
		return nil, zerolog.Logger{}, nil, fmt.Errorf("init logger: %w", err)
	}
	logger := baseLogger.With().Str("component", "bot-main").Logger()
	return cfg, logger, closer, nil
}

// initSessions prefers Redis and keeps an in-memory copy for when it is unreachable.
func initSessions(ctx context.Context, cfg *config.Config, logger *zerolog.Logger) (*redis.Client, *repository.FailoverSessionRepository) {
	ttl := cfg.Booking.SessionTTL()

	var redisClient *redis.Client
	if cfg.Redis.Address != "" {
		redisClient = repository.NewRedisClient(cfg.Redis)
		if err := repository.Ping(ctx, redisClient); err != nil {
			logger.Warn().Err(err).Msg("Redis unavailable, sessions start in memory")
		}
	}

	primary := repository.NewRedisSessionRepository(redisClient, ttl)
	fallback := repository.NewMemorySessionRepository(ttl)
	go fallback.RunSweeper(ctx, ttl, logger)
	return redisClient, repository.NewFailoverSessionRepository(primary, fallback, logger)
}

func workerOptions(cfg config.NotificationsConfig) worker.Options {
	return worker.Options{
		Retry: worker.RetryPolicy{
			MaxRetries:    cfg.MaxRetries,
			InitialDelay:  time.Duration(cfg.InitialDelayMS) * time.Millisecond,
			MaxDelay:      time.Duration(cfg.MaxDelayMS) * time.Millisecond,
			BackoffFactor: 2,
		},
		PollInterval:    time.Duration(cfg.PollIntervalMS) * time.Millisecond,
		DispatchTimeout: time.Duration(cfg.DispatchTimeout) * time.Second,
	}
}

// startKafkaForwarder mirrors bus events to Kafka when enabled. The returned
// func waits for buffered events to be flushed.
func startKafkaForwarder(ctx context.Context, cfg *config.Config, bus *events.EventBus, logger *zerolog.Logger) func() {
	if !cfg.Kafka.Enabled {
		return func() {}
	}

	forwarder := events.NewKafkaForwarder(events.NewKafkaWriter(cfg.Kafka), logger)
	forwarder.Attach(bus)
	go forwarder.Run(ctx)
	logger.Info().Strs("brokers", cfg.Kafka.Brokers).Str("topic", cfg.Kafka.Topic).Msg("Kafka forwarding enabled")

	return func() {
		if err := forwarder.Close(); err != nil {
			logger.Error().Err(err).Msg("Failed to close kafka forwarder")
		}
	}
}

func startMetricsServer(ctx context.Context, port int, logger *zerolog.Logger) {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())

	srv := &http.Server{Addr: fmt.Sprintf(":%d", port), Handler: mux, ReadHeaderTimeout: 5 * time.Second}
	go func() {
		<-ctx.Done()
		ctxShutdown, cancel := context.WithTimeout(context.Background(), 3*time.Second)
		defer cancel()
		_ = srv.Shutdown(ctxShutdown)
	}()
	logger.Info().Int("port", port).Msg("Metrics server listening")
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		logger.Error().Err(err).Msg("metrics server error")
	}
}
