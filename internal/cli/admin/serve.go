package admin

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/cloo-solutions/kbqa/internal/api/handlers"
	"github.com/cloo-solutions/kbqa/internal/api/middleware"
	"github.com/cloo-solutions/kbqa/internal/config"
	"github.com/cloo-solutions/kbqa/internal/jobs"
	"github.com/cloo-solutions/kbqa/internal/metrics"
	"github.com/cloo-solutions/kbqa/internal/server"
	"github.com/cloo-solutions/kbqa/internal/telemetry"
)

// Version is stamped at build time with -ldflags "-X .../admin.Version=...".
var Version = "dev"

const (
	readHeaderTimeout = 10 * time.Second
	shutdownTimeout   = 30 * time.Second
)

func ServeCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the API server",
		Long: `Start the kbqa question answering API.

Without KBQA_DATABASE_URL chunks live in memory and are lost on exit.
SIGINT or SIGTERM drains in-flight requests before exiting.`,
		RunE: runServe,
	}

	cmd.Flags().StringP("port", "p", "", "Port to listen on (overrides KBQA_PORT)")
	cmd.Flags().Bool("no-migrate", false, "Skip automatic database migrations on startup")

	return cmd
}

func runServe(cmd *cobra.Command, _ []string) error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}
	if port, _ := cmd.Flags().GetString("port"); port != "" {
		cfg.Port = port
	}

	flush := telemetry.Init(telemetry.Config{
		DSN:         cfg.SentryDSN,
		Environment: cfg.Environment,
		Release:     Version,
		SampleRate:  cfg.TraceSampleRate,
		Debug:       cfg.Debug,
	})
	defer flush()

	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	noMigrate, _ := cmd.Flags().GetBool("no-migrate")
	store, closeStore, err := openStore(ctx, cfg, !noMigrate)
	if err != nil {
		return err
	}
	defer closeStore()

	embedder, err := newEmbedder(cfg)
	if err != nil {
		return err
	}
	backend, err := newBackend(ctx, cfg)
	if err != nil {
		return err
	}

	reg := metrics.NewRegistry()
	collectors := metrics.New(reg)
	engine, sessions := newEngine(cfg, embedder, backend, store, collectors)

	routerCfg := server.RouterConfig{
		MetricsHandler:  metrics.Handler(reg),
		Store:           store,
		AskHandler:      handlers.NewAskHandler(engine),
		SessionHandler:  handlers.NewSessionHandler(engine),
		DocumentHandler: handlers.NewDocumentHandler(newIngestService(cfg, embedder, store, collectors)),
		ChunkHandler:    handlers.NewChunkHandler(store),
	}
	if cfg.HasAPIKey() {
		keys := middleware.NewStaticKeyValidator(cfg.APIKey, "api-key")
		if cfg.PreviousAPIKey != "" {
			keys.With(cfg.PreviousAPIKey, "previous-api-key")
		}
		routerCfg.AuthValidator = keys
	} else {
		log.Println("KBQA_API_KEY not set, API is unauthenticated")
	}

	srv := &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           server.NewRouter(routerCfg),
		ReadHeaderTimeout: readHeaderTimeout,
	}
	sweeper := jobs.NewWorker("session-sweeper", jobs.NewSessionSweeper(sessions, cfg.SessionIdleTTL), cfg.SweepInterval)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		log.Printf("kbqad %s listening on :%s", Version, cfg.Port)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("server failed: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		sweeper.Start(gctx)
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		log.Println("shutting down...")
		sweeper.Stop()

		shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), shutdownTimeout)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("server forced to shutdown: %w", err)
		}
		return nil
	})

	if err := g.Wait(); err != nil {
		return err
	}
	log.Println("server exited")
	return nil
}
