package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"strings"

	"log/slog"

	"github.com/google/uuid"

	"github.com/your-org/streetpano/internal/cleanup"
	"github.com/your-org/streetpano/internal/config"
	"github.com/your-org/streetpano/internal/objstore"
	"github.com/your-org/streetpano/internal/observability"
	"github.com/your-org/streetpano/internal/storage"
)

func main() {
	configPath := flag.String("config", "configs/config.yaml", "path to config file")
	full := flag.Bool("full", false, "remove everything (implies all facets)")
	database := flag.Bool("database", false, "remove database rows")
	cache := flag.Bool("cache", false, "remove cached derivates")
	original := flag.Bool("original", false, "remove original pictures")
	sequences := flag.String("sequences", "", "comma-separated sequence ids (empty = whole dataset)")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "load config: %v\n", err)
		os.Exit(1)
	}

	observability.SetupLogger(cfg.Logging.Level, cfg.Logging.Format)

	seqIDs, err := parseSequences(*sequences)
	if err != nil {
		fmt.Fprintf(os.Stderr, "parse sequences: %v\n", err)
		os.Exit(1)
	}

	opts, ok := resolveOptions(*full, *database, *cache, *original, seqIDs)
	if !ok {
		fmt.Fprintln(os.Stderr, "no facet selected, nothing to do (use -database, -cache, -original or -full)")
		flag.Usage()
		os.Exit(2)
	}

	db, err := storage.NewPostgresStore(cfg.Database)
	if err != nil {
		slog.Error("connect to postgres", "error", err)
		os.Exit(1)
	}
	defer db.Close()

	fs, err := objstore.Open(cfg.Storage)
	if err != nil {
		slog.Error("open storage", "error", err)
		os.Exit(1)
	}

	if err := cleanup.New(db, fs).Run(context.Background(), opts); err != nil {
		slog.Error("cleanup failed", "error", err)
		os.Exit(1)
	}
}

// resolveOptions maps the flags to cleanup facets. Deleting everything
// must be asked for explicitly via -full: selecting no facet at all is
// reported as unusable rather than widened silently.
func resolveOptions(full, database, cache, original bool, seqIDs []uuid.UUID) (cleanup.Options, bool) {
	if full {
		return cleanup.All(seqIDs), true
	}
	if !database && !cache && !original {
		return cleanup.Options{}, false
	}
	return cleanup.Options{
		Database:  database,
		Cache:     cache,
		Original:  original,
		Sequences: seqIDs,
	}, true
}

func parseSequences(s string) ([]uuid.UUID, error) {
	if s == "" {
		return nil, nil
	}
	var ids []uuid.UUID
	for _, part := range strings.Split(s, ",") {
		id, err := uuid.Parse(strings.TrimSpace(part))
		if err != nil {
			return nil, fmt.Errorf("invalid sequence id %q: %w", part, err)
		}
		ids = append(ids, id)
	}
	return ids, nil
}
