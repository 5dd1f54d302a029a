package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/nats-io/nats.go/jetstream"

	"github.com/your-org/streetpano/internal/api"
	"github.com/your-org/streetpano/internal/api/ws"
	"github.com/your-org/streetpano/internal/config"
	"github.com/your-org/streetpano/internal/models"
	"github.com/your-org/streetpano/internal/objstore"
	"github.com/your-org/streetpano/internal/observability"
	"github.com/your-org/streetpano/internal/queue"
	"github.com/your-org/streetpano/internal/storage"
)

func main() {
	configPath := flag.String("config", "configs/config.yaml", "path to config file")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "load config: %v\n", err)
		os.Exit(1)
	}

	observability.SetupLogger(cfg.Logging.Level, cfg.Logging.Format)

	slog.Info("starting panorama API service", "port", cfg.Server.Port)

	// Connect to Postgres
	db, err := storage.NewPostgresStore(cfg.Database)
	if err != nil {
		slog.Error("connect to postgres", "error", err)
		os.Exit(1)
	}
	defer db.Close()

	// Open blob storage
	fs, err := objstore.Open(cfg.Storage)
	if err != nil {
		slog.Error("open storage", "error", err)
		os.Exit(1)
	}
	ensureBuckets(fs)

	// Connect to NATS
	producer, err := queue.NewProducer(cfg.NATS.URL)
	if err != nil {
		slog.Error("connect to nats", "error", err)
		os.Exit(1)
	}
	defer producer.Close()

	if err := producer.EnsureStreams(context.Background()); err != nil {
		slog.Warn("ensure nats streams", "error", err)
	}

	// WebSocket hub
	hub := ws.NewHub()
	go hub.Run()

	// Broadcast picture status events via WebSocket
	consumer, err := queue.NewConsumer(cfg.NATS.URL)
	if err != nil {
		slog.Error("create event consumer", "error", err)
		os.Exit(1)
	}
	defer consumer.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	err = consumer.ConsumeEvents(ctx, "api-events", func(ctx context.Context, msg jetstream.Msg) error {
		var ev models.PictureEvent
		if err := json.Unmarshal(msg.Data(), &ev); err != nil {
			return err
		}
		hub.BroadcastEvent(&ev)
		return nil
	})
	if err != nil {
		slog.Warn("start event consumer", "error", err)
	}

	// Setup router
	router := api.NewRouter(api.RouterConfig{
		APIKey:   cfg.Server.APIKey,
		DB:       db,
		FS:       fs,
		Producer: producer,
		Hub:      hub,
		Strategy: cfg.Process.DerivatesStrategy,
	})

	// Start HTTP server
	srv := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:      router,
		ReadTimeout:  120 * time.Second,
		WriteTimeout: 120 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		slog.Info("API server listening", "addr", srv.Addr)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			slog.Error("server error", "error", err)
			os.Exit(1)
		}
	}()

	// Graceful shutdown
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	slog.Info("shutting down API server...")
	cancel()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		slog.Error("server shutdown error", "error", err)
	}

	slog.Info("API server stopped")
}

func ensureBuckets(fs *objstore.Filesystems) {
	type ensurer interface {
		EnsureBucket(ctx context.Context) error
	}
	for _, store := range []objstore.ObjectStore{fs.Permanent, fs.Derivates, fs.Tmp} {
		if e, ok := store.(ensurer); ok {
			if err := e.EnsureBucket(context.Background()); err != nil {
				slog.Warn("ensure bucket", "error", err)
			}
		}
	}
}
