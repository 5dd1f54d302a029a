package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"runtime"
	"syscall"
	"time"

	"github.com/nats-io/nats.go/jetstream"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/your-org/streetpano/internal/blur"
	"github.com/your-org/streetpano/internal/config"
	"github.com/your-org/streetpano/internal/objstore"
	"github.com/your-org/streetpano/internal/observability"
	"github.com/your-org/streetpano/internal/queue"
	"github.com/your-org/streetpano/internal/storage"
	"github.com/your-org/streetpano/internal/worker"
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

	slog.Info("starting panorama worker",
		"workers", cfg.Process.WorkerCount,
		"strategy", cfg.Process.DerivatesStrategy,
		"cpu_cores", runtime.NumCPU(),
	)

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

	// Connect to NATS
	producer, err := queue.NewProducer(cfg.NATS.URL)
	if err != nil {
		slog.Error("connect to nats producer", "error", err)
		os.Exit(1)
	}
	defer producer.Close()

	if err := producer.EnsureStreams(context.Background()); err != nil {
		slog.Warn("ensure nats streams", "error", err)
	}

	blurClient := blur.New(cfg.Blur.URL, cfg.Blur.Timeout)
	if blurClient == nil {
		slog.Info("blurring disabled")
	} else {
		slog.Info("blurring enabled", "url", cfg.Blur.URL)
	}

	processor := worker.NewProcessor(db, fs, blurClient, producer, cfg.Process)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Wake-up subscription: new uploads shorten the idle poll sleep.
	consumer, err := queue.NewConsumer(cfg.NATS.URL)
	if err != nil {
		slog.Error("create consumer", "error", err)
		os.Exit(1)
	}
	defer consumer.Close()

	err = consumer.ConsumeWakeups(ctx, "picture-workers", func(ctx context.Context, msg jetstream.Msg) error {
		processor.Wake()
		return nil
	})
	if err != nil {
		slog.Warn("start wake-up consumer", "error", err)
	}

	// Metrics endpoint
	go func() {
		mux := http.NewServeMux()
		mux.Handle("/metrics", promhttp.Handler())
		mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusOK)
			_, _ = w.Write([]byte(`{"status":"ok"}`))
		})
		slog.Info("worker metrics listening", "addr", ":8082")
		if err := http.ListenAndServe(":8082", mux); err != nil {
			slog.Error("metrics server error", "error", err)
		}
	}()

	// Periodically report queue depth
	go func() {
		ticker := time.NewTicker(10 * time.Second)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				depth, err := db.QueueDepth(ctx)
				if err == nil {
					observability.QueueDepth.Set(float64(depth))
				}
			}
		}
	}()

	go func() {
		quit := make(chan os.Signal, 1)
		signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
		<-quit
		slog.Info("shutting down worker...")
		cancel()
	}()

	// Blocks until every worker goroutine finished its current picture.
	processor.Run(ctx)
	slog.Info("worker stopped")
}
