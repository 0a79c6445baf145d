package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"

	"permafrost/catalog"
	"permafrost/config"
	"permafrost/iceberg"
	"permafrost/query"
	"permafrost/storage"
)

func main() {
	configFile := flag.String("config", "config.yaml", "Path to config file")
	flag.Parse()

	cfg, err := config.LoadConfig(*configFile)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load config: %v\n", err)
		os.Exit(1)
	}

	logger := newLogger(cfg)

	store, pathFor, err := newStorage(cfg)
	if err != nil {
		logger.Error("failed to create storage", "error", err)
		os.Exit(1)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	cat, err := newCatalog(ctx, cfg)
	if err != nil {
		logger.Error("failed to create catalog", "error", err)
		os.Exit(1)
	}

	engine := iceberg.NewEngine(store, cat, logger)

	server, err := query.NewServer(cfg.Query.Port, logger)
	if err != nil {
		logger.Error("failed to create query server", "error", err)
		os.Exit(1)
	}

	// Expose the current snapshot of every configured table.
	for _, t := range cfg.Tables {
		ident := catalog.Ident{Namespace: t.Namespace, Name: t.Name}
		files, err := engine.ScanFiles(ctx, ident, 0)
		if err != nil {
			logger.Error("failed to scan table", "table", ident.String(), "error", err)
			os.Exit(1)
		}
		paths := make([]string, len(files))
		for i, df := range files {
			paths[i] = pathFor(df.FilePath)
		}
		if err := server.RegisterSnapshot(ctx, ident.String(), paths); err != nil {
			logger.Error("failed to register table", "table", ident.String(), "error", err)
			os.Exit(1)
		}
	}

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		if err := server.Start(ctx); err != nil {
			logger.Error("query server error", "error", err)
			cancel()
		}
	}()
	logger.Info("query server listening", "port", cfg.Query.Port)

	select {
	case <-sigChan:
		logger.Info("shutting down")
	case <-ctx.Done():
		logger.Info("context cancelled")
	}
	server.Close()
}

func newLogger(cfg *config.Config) *slog.Logger {
	var level slog.Level
	if err := level.UnmarshalText([]byte(cfg.Log.Level)); err != nil {
		level = slog.LevelInfo
	}
	opts := &slog.HandlerOptions{Level: level}

	var handler slog.Handler
	if cfg.Log.JSON {
		handler = slog.NewJSONHandler(os.Stderr, opts)
	} else {
		handler = slog.NewTextHandler(os.Stderr, opts)
	}
	return slog.New(handler)
}

// newStorage builds the warehouse store plus a resolver from object keys to
// paths DuckDB can read.
func newStorage(cfg *config.Config) (storage.Storage, func(string) string, error) {
	if cfg.Warehouse.S3.Bucket != "" {
		s3cfg := cfg.Warehouse.S3
		client := s3.New(s3.Options{
			Region:       s3cfg.Region,
			UsePathStyle: s3cfg.Endpoint != "",
			BaseEndpoint: optional(s3cfg.Endpoint),
		})
		store := storage.NewS3Storage(client, s3cfg.Bucket, s3cfg.Prefix)
		pathFor := func(key string) string {
			if s3cfg.Prefix != "" {
				return fmt.Sprintf("s3://%s/%s/%s", s3cfg.Bucket, s3cfg.Prefix, key)
			}
			return fmt.Sprintf("s3://%s/%s", s3cfg.Bucket, key)
		}
		return store, pathFor, nil
	}

	local, err := storage.NewLocalStorage(cfg.Warehouse.Path)
	if err != nil {
		return nil, nil, err
	}
	return local, local.AbsPath, nil
}

func newCatalog(ctx context.Context, cfg *config.Config) (catalog.Catalog, error) {
	switch cfg.Catalog.Backend {
	case "memory":
		return catalog.NewMemoryCatalog(), nil
	case "postgres":
		return catalog.OpenPostgresCatalog(ctx, cfg.Catalog.DSN)
	default:
		return nil, fmt.Errorf("unknown catalog backend %q", cfg.Catalog.Backend)
	}
}

func optional(s string) *string {
	if s == "" {
		return nil
	}
	return aws.String(s)
}
