package cmd

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/segsight/segsight/internal/adapters"
	"github.com/segsight/segsight/internal/config"
	"github.com/segsight/segsight/internal/database"
	"github.com/segsight/segsight/internal/database/migrations"
	"github.com/segsight/segsight/internal/engine"
	"github.com/segsight/segsight/internal/eventsource"
	"github.com/segsight/segsight/internal/execution"
	internalhttp "github.com/segsight/segsight/internal/http"
	"github.com/segsight/segsight/internal/http/handlers"
	"github.com/segsight/segsight/internal/httpclient"
	"github.com/segsight/segsight/internal/hub"
	"github.com/segsight/segsight/internal/media"
	"github.com/segsight/segsight/internal/providers"
	"github.com/segsight/segsight/internal/queue"
	"github.com/segsight/segsight/internal/repository"
	"github.com/segsight/segsight/internal/scheduler"
	"github.com/segsight/segsight/internal/version"
	"github.com/segsight/segsight/internal/worker"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the segsight server",
	Long: `Start the segsight analysis daemon and HTTP API.

The server provides:
- Segment event intake (directory watcher, object-store notifications, or webhooks)
- A durable analysis queue drained by the inference worker pool
- REST API for streams, providers, brands, analyses, and queue state
- WebSocket feed of live analysis results at /ws
- Health check endpoints and OpenAPI documentation`,
	RunE: runServe,
}

func init() {
	rootCmd.AddCommand(serveCmd)

	// Server flags
	serveCmd.Flags().String("host", "0.0.0.0", "Host to bind to")
	serveCmd.Flags().Int("port", 8080, "Port to listen on")
	serveCmd.Flags().String("database", "segsight.db", "Database DSN (file path for SQLite)")
	serveCmd.Flags().String("media-dir", "./data/media", "Directory the segmenter writes segments to")

	// Pipeline flags
	serveCmd.Flags().String("mode", "local", "Execution strategy (local, remote_lan, cloud)")
	serveCmd.Flags().String("events", "filewatcher", "Segment event source (filewatcher, cloud, webhook)")
	serveCmd.Flags().Int("workers", 2, "Inference worker count")

	// Bind flags to viper
	viper.BindPFlag("server.host", serveCmd.Flags().Lookup("host"))
	viper.BindPFlag("server.port", serveCmd.Flags().Lookup("port"))
	viper.BindPFlag("database.dsn", serveCmd.Flags().Lookup("database"))
	viper.BindPFlag("storage.media_dir", serveCmd.Flags().Lookup("media-dir"))
	viper.BindPFlag("analysis.mode", serveCmd.Flags().Lookup("mode"))
	viper.BindPFlag("events.source", serveCmd.Flags().Lookup("events"))
	viper.BindPFlag("analysis.worker_count", serveCmd.Flags().Lookup("workers"))

	config.BindLegacyEnv(viper.GetViper())
}

func runServe(cmd *cobra.Command, args []string) error {
	logger := slog.Default()

	var cfg config.Config
	if err := viper.Unmarshal(&cfg, config.DecodeOption()); err != nil {
		return fmt.Errorf("unmarshaling config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("validating config: %w", err)
	}

	if err := os.MkdirAll(cfg.Storage.CacheDir, 0o755); err != nil {
		return fmt.Errorf("creating cache dir: %w", err)
	}

	// Initialize database and run migrations
	db, err := database.New(cfg.Database, logger, nil)
	if err != nil {
		return fmt.Errorf("initializing database: %w", err)
	}
	defer db.Close()

	migrator := migrations.NewMigrator(db.DB, logger)
	migrator.RegisterAll(migrations.AllMigrations())
	if err := migrator.Up(context.Background()); err != nil {
		return fmt.Errorf("running migrations: %w", err)
	}

	// Initialize repositories
	streamRepo := repository.NewStreamRepository(db.DB)
	providerRepo := repository.NewProviderRepository(db.DB)
	brandRepo := repository.NewBrandRepository(db.DB)
	analysisRepo := repository.NewAnalysisRepository(db.DB)
	queueRepo := repository.NewQueueRepository(db.DB)

	// Setup graceful shutdown before the long-running pieces start.
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		sig := <-sigChan
		logger.Info("received shutdown signal", slog.String("signal", sig.String()))
		cancel()
	}()

	// Provider registry: capability -> active provider bindings, with a disk
	// mirror so cold starts survive a database outage.
	registry := providers.NewRegistry(providerRepo, cfg.Storage.RegistryCachePath(), logger)
	if err := registry.Reload(ctx); err != nil {
		logger.Warn("initial provider reload failed, continuing with mirror if present",
			slog.String("error", err.Error()))
	}

	// Durable segment queue
	q := queue.New(queueRepo, logger, queue.WithLeaseTTL(cfg.Analysis.LeaseTTL))

	// Frame extraction
	extractor, err := media.NewExtractor(cfg.FFmpeg, logger)
	if err != nil {
		return fmt.Errorf("initializing frame extractor: %w", err)
	}

	// Shared resilient HTTP client for remote adapters and event sources
	httpCfg := httpclient.DefaultConfig()
	httpCfg.Logger = logger
	client := httpclient.New(httpCfg)

	// Execution strategy and analysis engine
	strategy, err := execution.New(cfg.Analysis.Mode, execution.Deps{
		Logger: logger,
		HTTP:   client,
		Adapters: adapters.Deps{
			Logger:    logger,
			HTTP:      client,
			Extractor: extractor,
			Brands:    brandRepo,
		},
		Config: cfg.Analysis,
	})
	if err != nil {
		return fmt.Errorf("initializing execution strategy: %w", err)
	}

	eng := engine.New(strategy, registry, extractor, cfg.Analysis.ConfidenceThreshold, logger)

	// Provider changes invalidate loaded adapters.
	registry.OnReload(eng.Release)
	defer eng.Release()

	// WebSocket hub
	h := hub.New(analysisRepo, logger)
	go func() {
		if err := h.Run(ctx); err != nil && ctx.Err() == nil {
			logger.Error("hub stopped", slog.String("error", err.Error()))
		}
	}()

	// Worker pool
	pool := worker.NewPool(q, eng, analysisRepo, h, worker.Config{
		WorkerCount:         cfg.Analysis.WorkerCount,
		LeaseWait:           cfg.Analysis.LeaseWait,
		ConfidenceThreshold: cfg.Analysis.ConfidenceThreshold,
	}, logger)
	go func() {
		if err := pool.Run(ctx); err != nil && ctx.Err() == nil {
			logger.Error("worker pool stopped", slog.String("error", err.Error()))
		}
	}()

	// Segment event source
	dispatcher := eventsource.NewDispatcher(streamRepo, q, logger)

	var source eventsource.Source
	var webhook *eventsource.WebhookSource
	switch cfg.Events.Source {
	case "filewatcher":
		source, err = eventsource.NewDirWatcher(cfg.Events, cfg.Storage.MediaDir, dispatcher, logger)
	case "cloud":
		source, err = eventsource.NewObjectStoreSource(cfg.Events, cfg.Storage.MediaDir, client, dispatcher, logger)
	case "webhook":
		webhook, err = eventsource.NewWebhookSource(cfg.Events, dispatcher, logger)
		source = webhook
	default:
		return fmt.Errorf("unknown event source %q", cfg.Events.Source)
	}
	if err != nil {
		return fmt.Errorf("initializing %s event source: %w", cfg.Events.Source, err)
	}

	go func() {
		if err := source.Run(ctx); err != nil && ctx.Err() == nil {
			logger.Error("event source failed",
				slog.String("source", source.Name()),
				slog.String("error", err.Error()))
			cancel()
		}
	}()

	// Maintenance jobs
	sched := scheduler.New(q, registry, scheduler.Config{
		QueueRetention: cfg.Analysis.QueueRetention,
		MirrorTTL:      cfg.Analysis.RegistryCacheTTL,
	}, logger)
	if err := sched.Start(ctx); err != nil {
		return fmt.Errorf("starting scheduler: %w", err)
	}
	defer sched.Stop()

	// Initialize HTTP server
	server := internalhttp.NewServer(cfg.Server, logger, version.Version)

	// Register handlers
	healthHandler := handlers.NewHealthHandler(version.Version).WithDB(db.DB)
	healthHandler.Register(server.API())

	streamHandler := handlers.NewStreamHandler(streamRepo, logger)
	streamHandler.Register(server.API())

	providerHandler := handlers.NewProviderHandler(providerRepo, registry, logger)
	providerHandler.Register(server.API())

	brandHandler := handlers.NewBrandHandler(brandRepo, logger)
	brandHandler.Register(server.API())

	analysisHandler := handlers.NewAnalysisHandler(analysisRepo, logger)
	analysisHandler.Register(server.API())

	queueHandler := handlers.NewQueueHandler(q, logger)
	queueHandler.Register(server.API())

	// Live analysis feed
	server.Router().Handle("/ws", h.Handler())

	// Signed segment callbacks, only when the webhook source is active
	if webhook != nil {
		server.Router().Method(http.MethodPost, "/api/v1/segments/webhook", webhook.Handler())
	}

	// Start server
	logger.Info("starting segsight server",
		slog.String("host", cfg.Server.Host),
		slog.Int("port", cfg.Server.Port),
		slog.String("events", cfg.Events.Source),
		slog.String("mode", cfg.Analysis.Mode),
		slog.String("version", version.Version),
	)

	return server.ListenAndServe(ctx)
}
