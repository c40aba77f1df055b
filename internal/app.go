package internal

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/fluent/fluent-logger-golang/fluent"
	"github.com/jackc/pgx/v5/pgxpool"
	"golang.org/x/sync/errgroup"

	anthropic_adapter "listing-pipeline/internal/adapters/anthropic"
	logger_adapter "listing-pipeline/internal/adapters/logger"
	media_adapter "listing-pipeline/internal/adapters/media"
	"listing-pipeline/internal/adapters/portal"
	postgres_adapter "listing-pipeline/internal/adapters/postgres"
	rabbitmq_adapter "listing-pipeline/internal/adapters/rabbitmq"
	"listing-pipeline/internal/adapters/rest"
	"listing-pipeline/internal/configs"
	"listing-pipeline/internal/constants"
	"listing-pipeline/internal/contextkeys"
	"listing-pipeline/internal/core/domain"
	"listing-pipeline/internal/core/extractor"
	"listing-pipeline/internal/core/jobs"
	"listing-pipeline/internal/core/port"
	"listing-pipeline/internal/core/usecase"
	"listing-pipeline/internal/core/vocabulary"
	fluentlogger "listing-pipeline/pkg/fluent_logger"
	"listing-pipeline/pkg/postgres"
	"listing-pipeline/pkg/rabbitmq/rabbitmq_common"
	"listing-pipeline/pkg/rabbitmq/rabbitmq_producer"
)

const shutdownTimeout = 15 * time.Second

// App – структура приложения
type App struct {
	config       *configs.AppConfig
	dbPool       *pgxpool.Pool
	connManager  *rabbitmq_common.ConnectionManager
	jobProducer  *rabbitmq_producer.Publisher
	fluentClient *fluent.Fluent
	logger       port.LoggerPort

	restServer *rest.Server
	ingestUC   *usecase.IngestListingsUseCase

	// входящие адаптеры очередей
	enrichmentListener port.EventListenerPort
	mediaListener      port.EventListenerPort
}

// NewApp - composition root, здесь создаются и связываются все зависимости
func NewApp() (*App, error) {
	appConfig, err := configs.LoadConfig()
	if err != nil {
		return nil, fmt.Errorf("error loading application configuration: %w", err)
	}

	// --- 1. ЛОГГЕРЫ ---
	var activeLoggers []port.LoggerPort

	stdoutLogger := logger_adapter.NewSlogAdapter(logger_adapter.SlogConfig{
		Level:    logger_adapter.ParseLevel(appConfig.StdoutLogger.Level),
		IsJSON:   appConfig.StdoutLogger.JSON,
		UseColor: appConfig.StdoutLogger.Color,
	})
	activeLoggers = append(activeLoggers, stdoutLogger)

	var fluentClient *fluent.Fluent
	if appConfig.FluentBit.Enabled {
		fluentClient, err = fluentlogger.NewClient(fluentlogger.Config{
			Host:      appConfig.FluentBit.Host,
			Port:      appConfig.FluentBit.Port,
			TagPrefix: appConfig.AppName,
			Async:     true,
		})
		if err != nil {
			stdoutLogger.Error("Failed to create fluentbit client", err, nil)
			return nil, fmt.Errorf("failed to create fluentbit client: %w", err)
		}

		fluentAdapter, err := logger_adapter.NewFluentLoggerAdapter(fluentClient, logger_adapter.ParseLevel(appConfig.FluentBit.Level))
		if err != nil {
			fluentClient.Close()
			return nil, err
		}
		activeLoggers = append(activeLoggers, fluentAdapter)
	}

	multiLogger, err := logger_adapter.NewMultiLoggerAdapter(activeLoggers...)
	if err != nil {
		return nil, fmt.Errorf("failed to create multi-logger: %w", err)
	}

	baseLogger := multiLogger.WithFields(port.Fields{"service_name": appConfig.AppName})
	appLogger := baseLogger.WithFields(port.Fields{"component": "app"})
	appLogger.Info("Logger system initialized", port.Fields{
		"active_loggers": len(activeLoggers), "fluent_enabled": appConfig.FluentBit.Enabled,
	})

	// на ошибке инициализации закрываем уже открытые ресурсы в обратном порядке
	var closers []func()
	fail := func(msg string, err error) (*App, error) {
		appLogger.Error(msg, err, nil)
		for i := len(closers) - 1; i >= 0; i-- {
			closers[i]()
		}
		if fluentClient != nil {
			fluentClient.Close()
		}
		return nil, fmt.Errorf("%s: %w", msg, err)
	}

	initCtx, cancelInit := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancelInit()

	// --- 2. ХРАНИЛИЩА ---
	dbPool, err := postgres.NewClient(initCtx, postgres.Config{
		DatabaseURL: appConfig.Database.URL,
		MaxConns:    int32(appConfig.Database.MaxConns),
	})
	if err != nil {
		return fail("failed to connect to PostgreSQL", err)
	}
	closers = append(closers, dbPool.Close)
	appLogger.Info("Successfully connected to PostgreSQL pool!", nil)

	if err := postgres_adapter.EnsureSchema(initCtx, dbPool); err != nil {
		return fail("failed to apply database schema", err)
	}

	listingStorage := postgres_adapter.NewPostgresListingStorage(dbPool)
	mediaStorage := postgres_adapter.NewPostgresMediaStorage(dbPool)

	objectStore, err := media_adapter.NewS3ObjectStore(initCtx, media_adapter.S3Config{
		Bucket:    appConfig.Media.Bucket,
		Region:    appConfig.Media.Region,
		Endpoint:  appConfig.Media.Endpoint,
		AccessKey: appConfig.Media.AccessKey,
		SecretKey: appConfig.Media.SecretKey,
	})
	if err != nil {
		return fail("failed to create object store", err)
	}

	attacher := media_adapter.NewAttacher(mediaStorage, objectStore, &http.Client{}, media_adapter.Config{
		ProbeTimeout:    appConfig.Media.ProbeTimeout,
		DownloadTimeout: appConfig.Media.DownloadTimeout,
		Concurrency:     appConfig.Media.Concurrency,
		MaxBytes:        appConfig.Media.MaxBytes,
	})

	enrichmentClient := anthropic_adapter.NewEnrichmentClient(anthropic_adapter.Config{
		APIKey:            appConfig.Enrichment.APIKey,
		BaseURL:           appConfig.Enrichment.BaseURL,
		Timeout:           appConfig.Enrichment.Timeout,
		RequestsPerSecond: appConfig.Enrichment.RequestsPerSecond,
	})
	if appConfig.Enrichment.APIKey == "" {
		appLogger.Warn("Enrichment API key is not set, listings will be normalized from structured data only", nil)
	}

	// --- 3. RABBITMQ ---
	connManager, err := rabbitmq_common.NewConnectionManager(
		rabbitmq_common.Config{URL: appConfig.RabbitMQ.URL},
		rabbitmq_adapter.NewPkgLoggerBridge(baseLogger.WithFields(port.Fields{"component": "rabbitmq_conn_manager"})),
	)
	if err != nil {
		return fail("failed to create connection manager", err)
	}
	closers = append(closers, func() { connManager.Close() })
	appLogger.Info("RabbitMQ Connection Manager initialized.", nil)

	jobProducer, err := rabbitmq_producer.NewPublisher(rabbitmq_producer.PublisherConfig{
		ExchangeName:             constants.JobsExchange,
		ExchangeType:             constants.JobsExchangeType,
		DurableExchange:          true,
		DeclareExchangeIfMissing: true,
		Logger:                   rabbitmq_adapter.NewPkgLoggerBridge(baseLogger.WithFields(port.Fields{"component": "rabbitmq_producer"})),
	}, connManager)
	if err != nil {
		return fail("failed to create job producer", err)
	}
	closers = append(closers, func() { jobProducer.Close() })

	jobQueue, err := rabbitmq_adapter.NewJobQueueAdapter(jobProducer)
	if err != nil {
		return fail("failed to create job queue adapter", err)
	}

	// --- 4. USE CASES ---
	vocab := vocabulary.Default()

	lifecycleUC := usecase.NewListingLifecycleUseCase(listingStorage, attacher)
	normalizeUC := usecase.NewNormalizeListingUseCase(enrichmentClient, vocab, usecase.NormalizeConfig{
		PrimaryModel:      appConfig.Enrichment.PrimaryModel,
		FallbackModel:     appConfig.Enrichment.FallbackModel,
		MaxTokens:         appConfig.Enrichment.MaxTokens,
		ImageCandidateCap: appConfig.Enrichment.ImageCandidateCap,
	})
	processEnrichmentUC := usecase.NewProcessEnrichmentUseCase(listingStorage, normalizeUC, lifecycleUC)
	processMediaUC := usecase.NewProcessMediaUseCase(listingStorage, attacher)

	provider, err := portal.NewProvider(portal.Config{
		Name:          appConfig.Ingest.Provider,
		SearchURL:     appConfig.Ingest.SearchURL,
		AllowedDomain: appConfig.Ingest.AllowedDomain,
		MaxPages:      appConfig.Ingest.MaxPages,
		RandomDelay:   2 * time.Second,
	}, extractor.New(vocab))
	if err != nil {
		return fail("failed to create scrape provider", err)
	}
	providers := portal.Registry(provider)
	ingestUC := usecase.NewIngestListingsUseCase(providers, lifecycleUC, jobQueue)

	// --- 5. ВХОДЯЩИЕ АДАПТЕРЫ ---
	enrichmentListener, err := rabbitmq_adapter.NewJobConsumerAdapter(
		jobs.Enrichment, appConfig.Workers.EnrichmentPrefetch, processEnrichmentUC, baseLogger, connManager,
	)
	if err != nil {
		return fail("failed to initialize enrichment listener", err)
	}
	closers = append(closers, func() { enrichmentListener.Close() })

	mediaListener, err := rabbitmq_adapter.NewJobConsumerAdapter(
		jobs.Media, appConfig.Workers.MediaPrefetch, processMediaUC, baseLogger, connManager,
	)
	if err != nil {
		return fail("failed to initialize media listener", err)
	}
	closers = append(closers, func() { mediaListener.Close() })

	queueMonitor := rabbitmq_adapter.NewQueueMonitor(connManager, enrichmentListener, mediaListener)

	listingsHandler := rest.NewListingsHandler(
		usecase.NewGetListingsUseCase(listingStorage),
		usecase.NewGetListingByIDUseCase(listingStorage),
	)
	processingHandler := rest.NewProcessingHandler(usecase.NewGetProcessingStatusUseCase(queueMonitor))
	ingestHandler := rest.NewIngestHandler(ingestUC, appConfig.Ingest.Provider, appConfig.Ingest.Limit)

	restServer := rest.NewServer(rest.ServerConfig{
		Port:               appConfig.Rest.Port,
		RateLimitPerMinute: appConfig.Rest.RateLimitPerMinute,
		AllowedOrigins:     appConfig.Rest.AllowedOrigins,
	}, listingsHandler, processingHandler, ingestHandler, baseLogger.WithFields(port.Fields{"component": "rest"}))

	appLogger.Info("All components initialized.", nil)

	return &App{
		config:             appConfig,
		dbPool:             dbPool,
		connManager:        connManager,
		jobProducer:        jobProducer,
		fluentClient:       fluentClient,
		logger:             appLogger,
		restServer:         restServer,
		ingestUC:           ingestUC,
		enrichmentListener: enrichmentListener,
		mediaListener:      mediaListener,
	}, nil
}

// Run запускает все компоненты и ждет сигнала или падения одного из них
func (a *App) Run() error {
	appCtx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	g, gCtx := errgroup.WithContext(appCtx)

	defer a.shutdown()

	startListener := func(name string, listener port.EventListenerPort) {
		g.Go(func() error {
			listenerLogger := a.logger.WithFields(port.Fields{"listener_name": name})
			listenerLogger.Info("Starting listener...", nil)
			if err := listener.Start(gCtx); err != nil {
				listenerLogger.Error("Listener stopped with an unexpected error", err, nil)
				return fmt.Errorf("%s error: %w", name, err)
			}
			listenerLogger.Info("Listener stopped gracefully due to context cancellation.", nil)
			return nil
		})
	}
	startListener("Enrichment Jobs Listener", a.enrichmentListener)
	startListener("Media Jobs Listener", a.mediaListener)

	g.Go(func() error {
		if err := a.restServer.Start(); err != nil {
			return fmt.Errorf("rest server error: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		<-gCtx.Done()
		ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		return a.restServer.Stop(ctx)
	})

	if a.config.Ingest.Interval > 0 {
		g.Go(func() error {
			a.runIngestTicker(gCtx)
			return nil
		})
	}

	a.logger.Info("Application running. Waiting for signals or component error...", nil)
	err := g.Wait()
	if err != nil {
		a.logger.Error("A critical component failed, shutting down", err, nil)
	}
	return err
}

// runIngestTicker периодический прогон загрузки. Пока идет прогон по запросу, тик пропускается.
func (a *App) runIngestTicker(ctx context.Context) {
	ticker := time.NewTicker(a.config.Ingest.Interval)
	defer ticker.Stop()

	tickerLogger := a.logger.WithFields(port.Fields{"component": "ingest_ticker"})
	tickerLogger.Info("Ingest ticker started", port.Fields{"interval": a.config.Ingest.Interval.String()})

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			runCtx := contextkeys.ContextWithLogger(ctx, tickerLogger)
			stats, err := a.ingestUC.Execute(runCtx, a.config.Ingest.Provider, a.config.Ingest.Limit)
			if errors.Is(err, domain.ErrIngestRunning) {
				tickerLogger.Warn("Previous ingest still running, tick skipped", nil)
				continue
			}
			if err != nil {
				tickerLogger.Error("Scheduled ingest failed", err, nil)
				continue
			}
			tickerLogger.Info("Scheduled ingest finished", port.Fields{"stats": stats})
		}
	}
}

func (a *App) shutdown() {
	a.logger.Info("Shutdown sequence initiated...", nil)

	if err := a.enrichmentListener.Close(); err != nil {
		a.logger.Error("Error closing enrichment listener", err, nil)
	}
	if err := a.mediaListener.Close(); err != nil {
		a.logger.Error("Error closing media listener", err, nil)
	}
	if err := a.jobProducer.Close(); err != nil {
		a.logger.Error("Error closing job producer", err, nil)
	}
	if err := a.connManager.Close(); err != nil {
		a.logger.Error("Error closing RabbitMQ connection manager", err, nil)
	}

	a.dbPool.Close()
	a.logger.Info("PostgreSQL pool closed.", nil)

	a.logger.Info("Application shut down gracefully.", nil)

	if a.fluentClient != nil {
		if err := a.fluentClient.Close(); err != nil {
			log.Printf("App: Error closing fluent client: %v\n", err)
		}
	}
}
