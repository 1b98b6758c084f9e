package cmd

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/segsight/segsight/internal/adapters"
	"github.com/segsight/segsight/internal/aid"
	"github.com/segsight/segsight/internal/httpclient"
	"github.com/segsight/segsight/internal/version"
)

// shutdownTimeout bounds graceful shutdown of the worker's HTTP server.
const shutdownTimeout = 30 * time.Second

// serveCmd represents the serve command
var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the inference worker",
	Long: `Start the segsight-aid inference worker.

The worker will:
1. Load the brand vocabulary for logo detection (if configured)
2. Serve frame analysis requests at POST /ai/analyze
3. Report health at GET /ai/health and system stats at GET /ai/info

Adapters (and their model weights) are constructed lazily on the first
frame that needs them and cached across requests.

Examples:
  # Listen on the default port
  segsight-aid serve

  # Custom port and brand vocabulary
  segsight-aid serve --listen :9000 --brands-file /etc/segsight/brands.json`,
	RunE: runServe,
}

func init() {
	rootCmd.AddCommand(serveCmd)

	serveCmd.Flags().String("listen", "", "HTTP listen address (overrides SEGSIGHT_AID_LISTEN)")
	serveCmd.Flags().String("brands-file", "", "brand vocabulary JSON file (overrides SEGSIGHT_AID_BRANDS_FILE)")
}

func runServe(cmd *cobra.Command, _ []string) error {
	logger := slog.Default()

	versionInfo := version.GetInfo()
	logger.Info("segsight-aid starting",
		slog.String("version", versionInfo.Version),
		slog.String("commit", versionInfo.Commit),
		slog.String("built", versionInfo.Date),
		slog.String("go", versionInfo.GoVersion),
		slog.String("platform", versionInfo.Platform),
	)

	v := GetAidViper()

	listen := v.GetString("aid.listen")
	if addr, _ := cmd.Flags().GetString("listen"); addr != "" {
		listen = addr
	}

	brandsFile := v.GetString("aid.brands_file")
	if path, _ := cmd.Flags().GetString("brands-file"); path != "" {
		brandsFile = path
	}

	brands, err := aid.LoadBrands(brandsFile)
	if err != nil {
		return fmt.Errorf("loading brands: %w", err)
	}
	if brands.Len() > 0 {
		logger.Info("brand vocabulary loaded",
			slog.String("file", brandsFile),
			slog.Int("brands", brands.Len()))
	}

	httpCfg := httpclient.DefaultConfig()
	httpCfg.Logger = logger
	client := httpclient.New(httpCfg)

	server := aid.NewServer(adapters.Deps{
		Logger: logger,
		HTTP:   client,
		Brands: brands,
	}, logger)
	defer server.Release()

	httpServer := &http.Server{
		Addr:        listen,
		Handler:     server.Handler(),
		ReadTimeout: 30 * time.Second,
	}

	errChan := make(chan error, 1)
	go func() {
		logger.Info("inference worker listening",
			slog.String("address", listen),
			slog.Any("adapters", adapters.SupportedPairs()))
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errChan <- err
		}
	}()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	select {
	case err := <-errChan:
		return fmt.Errorf("serving: %w", err)
	case sig := <-sigChan:
		logger.Info("received shutdown signal", slog.String("signal", sig.String()))
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutting down: %w", err)
	}

	logger.Info("shutdown complete")
	return nil
}
