package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/mark3labs/mcp-go/server"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/kalambet/dialogo/internal/api"
	"github.com/kalambet/dialogo/internal/audit"
	"github.com/kalambet/dialogo/internal/config"
	"github.com/kalambet/dialogo/internal/engine"
	"github.com/kalambet/dialogo/internal/metrics"
	"github.com/kalambet/dialogo/internal/storage"
	"github.com/kalambet/dialogo/internal/telegram"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the dialogue server (foreground)",
	RunE: func(cmd *cobra.Command, args []string) error {
		mcpStdio, _ := cmd.Flags().GetBool("mcp-stdio")
		noLLM, _ := cmd.Flags().GetBool("no-llm")
		noTelegram, _ := cmd.Flags().GetBool("no-telegram")
		return runServer(serveOptions{mcpStdio: mcpStdio, noLLM: noLLM, noTelegram: noTelegram})
	},
}

func init() {
	serveCmd.Flags().Bool("mcp-stdio", false, "also serve MCP over stdin/stdout")
	serveCmd.Flags().Bool("no-llm", false, "run without a model: deterministic routing and tool output only")
	serveCmd.Flags().Bool("no-telegram", false, "do not start the Telegram bot even if a token is configured")
}

type serveOptions struct {
	mcpStdio   bool
	noLLM      bool
	noTelegram bool
}

func setupLogging(level string) {
	logLevel := slog.LevelInfo
	switch strings.ToLower(level) {
	case "debug":
		logLevel = slog.LevelDebug
	case "warn", "warning":
		logLevel = slog.LevelWarn
	case "error":
		logLevel = slog.LevelError
	}
	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: logLevel})))
}

func runServer(opts serveOptions) error {
	fmt.Fprintf(os.Stderr, "dialogo version %s\n", version)

	cfg, err := config.Load()
	if err != nil {
		return err
	}
	setupLogging(cfg.Log.Level)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	var eng engine.Engine
	if !opts.noLLM {
		if eng, err = connectEngine(ctx, cfg, os.Stderr); err != nil {
			return err
		}
	}

	store, err := storage.Open(cfg.Storage.DataDir)
	if err != nil {
		return fmt.Errorf("opening storage: %w", err)
	}
	defer func() {
		if err := store.Close(); err != nil {
			slog.Error("closing storage", "error", err)
		}
	}()

	recorder := audit.NewRecorder(store, 0)
	retention, err := audit.NewRetention(store, cfg.Audit.Retention, "@hourly")
	if err != nil {
		return err
	}

	var a *app
	m := metrics.New(metrics.Sources{
		ActiveSessions:     func() int { return a.sessions.Len() },
		RouterCacheEntries: func() int { return a.router.CacheLen() },
		AuditDropped:       recorder.Dropped,
		AuditStored:        store.CountTurns,
	})

	if a, err = newApp(cfg, eng, recorder, m); err != nil {
		return err
	}

	if cfg.Server.APIToken == "" {
		slog.Warn("no API token configured, HTTP endpoints are unauthenticated")
	}
	handler := api.NewAppHandler(api.AppDeps{
		Turns:    a.orchestrator,
		Sessions: a.sessions,
		Audit:    store,
		Catalog:  a.catalog,
		Metrics:  m.Handler(),
		Token:    cfg.Server.APIToken,
	})

	addr := fmt.Sprintf("127.0.0.1:%d", cfg.Server.Port)
	srv := &http.Server{
		Addr:              addr,
		Handler:           handler,
		ReadHeaderTimeout: 10 * time.Second,
		BaseContext: func(_ net.Listener) context.Context {
			return ctx
		},
	}

	var bot *telegram.Bot
	if cfg.Telegram.Token != "" && !opts.noTelegram {
		if bot, err = telegram.New(cfg.Telegram.Token, a.orchestrator, a.sessions); err != nil {
			return err
		}
	}

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		recorder.Run(gctx)
		return nil
	})

	retention.Start()
	defer retention.Stop()
	if _, err := retention.Prune(); err != nil {
		slog.Warn("initial audit prune failed", "error", err)
	}

	g.Go(func() error {
		fmt.Fprintf(os.Stderr, "dialogo listening on %s\n", addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("server error: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		fmt.Fprintln(os.Stderr, "shutting down...")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})

	if opts.mcpStdio {
		mcpSrv := api.NewMCPServer(api.MCPDeps{
			Turns:      a.orchestrator,
			Classifier: a.router,
			Sessions:   a.sessions,
			Catalog:    a.catalog,
			Version:    version,
		})
		stdioSrv := server.NewStdioServer(mcpSrv)
		g.Go(func() error {
			if err := stdioSrv.Listen(gctx, os.Stdin, os.Stdout); err != nil && !errors.Is(err, context.Canceled) {
				return fmt.Errorf("MCP stdio server: %w", err)
			}
			return nil
		})
		slog.Info("MCP server started (stdio transport)")
	}

	if bot != nil {
		g.Go(func() error { return bot.Run(gctx) })
	}

	return g.Wait()
}
