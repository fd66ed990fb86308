// Package internal provides the main application initialization and runtime logic.
package internal

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/starford/blackhole/internal/api"
	"github.com/starford/blackhole/internal/catalog"
	"github.com/starford/blackhole/internal/mcpserver"
	"github.com/starford/blackhole/internal/proxy"
	"github.com/starford/blackhole/internal/sse"
	"github.com/starford/blackhole/internal/storage"
	"github.com/starford/blackhole/internal/syncservice"
	"github.com/starford/blackhole/internal/telemetry"
	"github.com/starford/blackhole/internal/transform"
)

// components are shared by the HTTP gateway and the MCP server.
type components struct {
	logger   *slog.Logger
	store    *storage.FS
	db       *catalog.DB
	sync     *syncservice.Service
	shutdown telemetry.ShutdownFunc
}

func (c *components) close() {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := c.shutdown(ctx); err != nil {
		c.logger.Warn("telemetry shutdown failed", slog.String("error", err.Error()))
	}
	if err := c.db.Close(); err != nil {
		c.logger.Warn("catalog close failed", slog.String("error", err.Error()))
	}
}

func newApplication(opts []Option) (*application, error) {
	app := &application{version: "dev", logOutput: os.Stdout}
	for _, opt := range opts {
		opt(app)
	}
	if app.config == nil {
		return nil, fmt.Errorf("config is required")
	}
	return app, nil
}

func setup(ctx context.Context, app *application) (*components, error) {
	cfg := app.config

	// Initialize structured JSON logger.
	logger := slog.New(slog.NewJSONHandler(app.logOutput, &slog.HandlerOptions{
		Level: cfg.App.LogLevel,
	}))
	slog.SetDefault(logger)

	logger.Info("Configuration loaded",
		slog.String("http_address", cfg.App.HTTP.Address()),
		slog.String("store_path", cfg.Store.Path),
		slog.String("store_encoding", cfg.Store.Encoding),
		slog.String("catalog_path", cfg.Catalog.Path),
		slog.String("proxy_target", cfg.Proxy.Target),
		slog.String("transpile_target", cfg.Transpile.Target),
		slog.String("log_level", cfg.App.LogLevel.String()))

	shutdown, err := telemetry.Setup(ctx, telemetry.Config{
		ServiceName:  cfg.Telemetry.ServiceName,
		OTLPEndpoint: cfg.Telemetry.OTLPEndpoint,
		Insecure:     cfg.Telemetry.Insecure,
	}, logger)
	if err != nil {
		return nil, fmt.Errorf("init telemetry: %w", err)
	}

	// The artifact tree is externally managed; it must already exist.
	store, err := storage.NewFS(cfg.Store.Path, cfg.Store.Encoding, logger)
	if err != nil {
		_ = shutdown(ctx)
		return nil, fmt.Errorf("init storage: %w", err)
	}

	tr, err := transform.New(transform.Options{
		Target:        cfg.Transpile.Target,
		AllowComments: cfg.Documents.AllowComments,
	})
	if err != nil {
		_ = shutdown(ctx)
		return nil, fmt.Errorf("init transform: %w", err)
	}

	db, err := catalog.Open(cfg.Catalog.Path)
	if err != nil {
		_ = shutdown(ctx)
		return nil, fmt.Errorf("init catalog: %w", err)
	}

	// Run initial sync.
	if err := catalog.Sync(ctx, db, store, logger); err != nil {
		logger.Warn("initial catalog sync failed", slog.String("error", err.Error()))
	}

	return &components{
		logger:   logger,
		store:    store,
		db:       db,
		sync:     syncservice.NewService(store, tr, logger),
		shutdown: shutdown,
	}, nil
}

func newUpstream(cfg ProxyConfig, logger *slog.Logger) (http.Handler, error) {
	if !cfg.Enabled() {
		logger.Info("proxy disabled, unmatched routes return 404")
		return nil, nil
	}
	target, err := cfg.URL()
	if err != nil {
		return nil, fmt.Errorf("proxy target: %w", err)
	}
	tlsCfg, err := proxy.TLSConfig(cfg.CAFile)
	if err != nil {
		return nil, err
	}
	p, err := proxy.New(proxy.Config{Target: target, TLS: tlsCfg, Timeout: cfg.Timeout}, logger)
	if err != nil {
		return nil, err
	}
	return p, nil
}

// Run starts the HTTP gateway with the given options.
func Run(ctx context.Context, opts ...Option) error {
	app, err := newApplication(opts)
	if err != nil {
		return err
	}
	cfg := app.config

	c, err := setup(ctx, app)
	if err != nil {
		return err
	}
	defer c.close()
	logger := c.logger

	upstream, err := newUpstream(cfg.Proxy, logger)
	if err != nil {
		return fmt.Errorf("init proxy: %w", err)
	}

	// SSE broker.
	broker := sse.NewBroker(2*time.Second, 30*time.Second)
	defer broker.Close()

	router := api.NewGateway(api.GatewayConfig{
		Sync:        api.NewSyncHandler(c.sync, logger),
		Catalog:     api.NewHandler(c.db, c.store),
		Events:      broker,
		AuthEnabled: cfg.Auth.AuthEnabled(),
		Token:       cfg.Auth.Token,
		StaticDir:   cfg.App.StaticDir,
		Upstream:    upstream,
		Ready: func() error {
			_, err := os.Stat(c.store.Root())
			return err
		},
	})

	httpServer := &http.Server{
		Addr:              cfg.App.HTTP.Address(),
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	logger.Info("Server starting...", slog.String("http_address", cfg.App.HTTP.Address()))

	g, gCtx := errgroup.WithContext(ctx)

	// Keep the catalog current and tell SSE clients to re-sync.
	if cfg.Catalog.Watch {
		g.Go(func() error {
			if err := catalog.Watch(gCtx, c.db, c.store, logger, broker.PublishArtifactEvent); err != nil {
				logger.Warn("catalog watcher stopped", slog.String("error", err.Error()))
			}
			return nil
		})
	}

	// Start HTTP server.
	g.Go(func() error {
		logger.Info("Starting HTTP server", slog.String("address", cfg.App.HTTP.Address()))
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("HTTP server error: %w", err)
		}
		return nil
	})

	// Handle shutdown signals.
	g.Go(func() error {
		quit := make(chan os.Signal, 1)
		signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
		defer signal.Stop(quit)

		select {
		case sig := <-quit:
			logger.Info("Received shutdown signal", slog.String("signal", sig.String()))
		case <-gCtx.Done():
			logger.Info("Context cancelled, initiating shutdown")
		}

		logger.Info("Shutting down server...")

		// Close SSE streams first so Shutdown does not wait on them.
		broker.Close()

		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := httpServer.Shutdown(shutdownCtx); err != nil {
			logger.Error("HTTP server shutdown error", slog.String("error", err.Error()))
		}

		return nil
	})

	if err := g.Wait(); err != nil {
		logger.Error("Application error", slog.String("error", err.Error()))
		return err
	}

	logger.Info("Server stopped successfully")
	return nil
}

// RunMCP serves the MCP tools on stdio. Logs go to stderr unless redirected.
func RunMCP(ctx context.Context, opts ...Option) error {
	opts = append([]Option{WithLogOutput(os.Stderr)}, opts...)
	app, err := newApplication(opts)
	if err != nil {
		return err
	}

	c, err := setup(ctx, app)
	if err != nil {
		return err
	}
	defer c.close()

	c.logger.Info("MCP server starting on stdio", slog.String("version", app.version))
	srv := mcpserver.New(c.store, c.db, c.sync, app.version)
	if err := srv.ServeStdio(); err != nil {
		return fmt.Errorf("mcp server: %w", err)
	}
	return nil
}
