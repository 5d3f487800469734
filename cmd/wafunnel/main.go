// Package main contains the entrypoint for the wafunnel service.
package main

import (
	"context"
	"errors"
	"flag"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"golang.org/x/sync/errgroup"

	"github.com/mkhera/wafunnel/internal/api"
	"github.com/mkhera/wafunnel/internal/chat"
	"github.com/mkhera/wafunnel/internal/config"
	"github.com/mkhera/wafunnel/internal/database"
	"github.com/mkhera/wafunnel/internal/dispatcher"
	"github.com/mkhera/wafunnel/internal/funnel"
	"github.com/mkhera/wafunnel/internal/logger"
	"github.com/mkhera/wafunnel/internal/webhook"
	"github.com/mkhera/wafunnel/internal/whatsapp"
)

const shutdownTimeout = 5 * time.Second

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	exitCode := run(ctx)
	stop()
	os.Exit(exitCode)
}

// run initializes all components (config, logger, database, registry,
// gateway, dispatcher, HTTP server), serves until the context is
// cancelled, and returns an exit code.
func run(ctx context.Context) int {
	configPath := flag.String("config", "./config.yaml", "Path to configuration file")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		slog.Error("Failed to load configuration", "path", *configPath, "error", err)
		return 1
	}

	log := logger.New(cfg.Log.Level, cfg.Log.JSON)
	log.Info("Logger initialized", "level", cfg.Log.Level, "json", cfg.Log.JSON)

	db, err := database.NewDB(cfg.Database.Path)
	if err != nil {
		log.Error("Failed to connect to database", "path", cfg.Database.Path, "error", err)
		return 1
	}
	defer database.CloseDB(db)
	store := database.NewStore(db, log)

	registry := funnel.NewRegistry(ctx, store, log)

	gateway, err := whatsapp.NewClient(cfg.WhatsApp, log)
	if err != nil {
		log.Error("Failed to create WhatsApp client", "error", err)
		return 1
	}
	chatSvc := chat.NewService(store, gateway, log)

	disp, err := dispatcher.New(log, chatSvc)
	if err != nil {
		log.Error("Failed to create dispatcher", "error", err)
		return 1
	}
	disp.Start()
	defer func() {
		if err := disp.Stop(); err != nil {
			log.Error("Failed to stop dispatcher", "error", err)
		}
	}()

	router := chi.NewRouter()
	router.Use(logger.Middleware(log))
	router.Get("/health", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
	router.Mount("/webhook", webhook.NewHandler(store, registry, disp, cfg.WhatsApp.VerifyToken, log).Routes())
	router.Mount("/api", api.NewHandler(api.Deps{
		Store:     store,
		Registry:  registry,
		Chat:      chatSvc,
		Templates: gateway,
		Logger:    log,
	}))

	srv := &http.Server{
		Addr:    cfg.Server.Addr,
		Handler: router,
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		log.Info("HTTP server listening", "addr", cfg.Server.Addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		log.Info("Shutting down HTTP server...")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})

	if err := g.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		log.Error("Service stopped due to error", "error", err)
		return 1
	}

	log.Info("Service stopped gracefully.")
	return 0
}
