package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"tutorhub/backend/internal/api/handler"
	"tutorhub/backend/internal/auth"
	"tutorhub/backend/internal/broker"
	"tutorhub/backend/internal/chathub"
	"tutorhub/backend/internal/config"
	"tutorhub/backend/internal/storage"

	"github.com/gin-gonic/gin"
	"github.com/nats-io/nats.go"
	"github.com/redis/go-redis/v9"
)

func main() {
	cfg, err := config.Load(os.Getenv("TUTORHUB_CONFIG"))
	if err != nil {
		slog.Error("failed to load config", "error", err)
		os.Exit(1)
	}

	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: parseLevel(cfg.App.LogLevel),
	}))
	slog.SetDefault(logger)

	if err := run(cfg, logger); err != nil {
		logger.Error("server stopped with error", "error", err)
		os.Exit(1)
	}
}

func run(cfg *config.Config, logger *slog.Logger) error {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	db, err := storage.OpenDatabase(cfg.Database)
	if err != nil {
		return err
	}
	logger.Info("connected to database", "driver", cfg.Database.Driver)

	rdb, err := storage.OpenRedis(ctx, cfg.Redis)
	if err != nil {
		return err
	}
	if rdb != nil {
		defer rdb.Close()
	}

	store := storage.NewStorageService(db, rdb)
	if err := store.Migrate(); err != nil {
		return err
	}

	b, nc, err := newBroker(cfg, rdb)
	if err != nil {
		return err
	}
	defer b.Close()

	var resolver chathub.IdentityResolver
	if cfg.Auth.Secret != "" {
		resolver = auth.NewResolver(cfg.Auth.Secret, cfg.Auth.Issuer)
	}

	mirrorQueue := cfg.Hub.MirrorQueue
	if !cfg.Hub.MirrorPresence {
		mirrorQueue = -1
	}
	// A local broker means this process is the only writer of the
	// presence table.
	soleWriter := cfg.Hub.MirrorPresence && cfg.Broker.Driver == broker.DriverLocal
	hub := chathub.NewManagerService(store, b, resolver, chathub.Options{
		IdleTimeout:        cfg.Hub.IdleTimeout,
		PublishQueue:       cfg.Hub.PublishQueue,
		MirrorQueue:        mirrorQueue,
		RequireAuth:        cfg.Auth.Required,
		ResetStalePresence: soleWriter,
		Logger:             logger,
	})
	if err := hub.Start(ctx); err != nil {
		return err
	}

	gin.SetMode(gin.ReleaseMode)
	r := gin.New()
	r.Use(gin.Recovery())

	h := handler.NewHandler(hub, resolver, handler.NewHealthChecker(store, rdb, nc), cfg.Auth.Required)
	h.RegisterRoutes(r)

	server := &http.Server{
		Addr:           cfg.App.Addr,
		Handler:        r,
		ReadTimeout:    10 * time.Second,
		MaxHeaderBytes: 1 << 20,
	}

	serverErr := make(chan error, 1)
	go func() {
		logger.Info("http server started", "addr", server.Addr, "broker", cfg.Broker.Driver)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serverErr <- err
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	select {
	case sig := <-quit:
		logger.Info("shutting down", "signal", sig.String())
	case err := <-serverErr:
		return err
	}

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), cfg.App.ShutdownTimeout)
	defer shutdownCancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("http shutdown failed", "error", err)
	}

	cancel()
	select {
	case <-hub.Stopped():
	case <-shutdownCtx.Done():
		logger.Warn("hub did not stop in time")
	}
	logger.Info("server stopped")
	return nil
}

// newBroker builds the configured broker. The NATS connection is returned
// for health checks and is nil for the other drivers.
func newBroker(cfg *config.Config, rdb *redis.Client) (broker.Broker, *nats.Conn, error) {
	switch cfg.Broker.Driver {
	case broker.DriverLocal:
		return broker.NewLocal(cfg.Broker.BufferSize), nil, nil
	case broker.DriverRedis:
		return broker.NewRedis(rdb, cfg.Broker.Topic), nil, nil
	case broker.DriverNATS:
		nb, err := broker.DialNATS(broker.NATSOptions{
			URL:           cfg.NATS.URL,
			Subject:       cfg.Broker.Topic,
			MaxReconnects: cfg.NATS.MaxReconnects,
			ReconnectWait: cfg.NATS.ReconnectWait,
		})
		if err != nil {
			return nil, nil, err
		}
		return nb, nb.Conn(), nil
	}
	return nil, nil, broker.ErrUnknownDriver(cfg.Broker.Driver)
}

func parseLevel(level string) slog.Level {
	switch strings.ToLower(level) {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	}
	return slog.LevelInfo
}
