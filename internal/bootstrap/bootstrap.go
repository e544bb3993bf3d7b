// Package bootstrap wires configuration into the adapters shared by the intake,
// worker and operator commands.
package bootstrap

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"time"

	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/fr0stylo/docmirror/internal/adapters/box"
	"github.com/fr0stylo/docmirror/internal/adapters/indexnotify"
	"github.com/fr0stylo/docmirror/internal/adapters/mirror"
	"github.com/fr0stylo/docmirror/internal/adapters/redislease"
	"github.com/fr0stylo/docmirror/internal/adapters/sqlstore"
	"github.com/fr0stylo/docmirror/internal/app/ports"
	"github.com/fr0stylo/docmirror/internal/app/services"
	"github.com/fr0stylo/docmirror/internal/config"
	"github.com/fr0stylo/docmirror/internal/db"
	"github.com/fr0stylo/docmirror/internal/db/queries"
	"github.com/fr0stylo/docmirror/internal/observability"
)

// Logger installs the trace-aware default logger and loads .env when present.
func Logger() *slog.Logger {
	baseHandler := slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelInfo})
	log := slog.New(observability.WrapSlogHandler(baseHandler))
	slog.SetDefault(log)

	if err := godotenv.Load(); err != nil {
		slog.Debug("No .env file loaded", "error", err)
	}
	return log
}

// Telemetry starts OpenTelemetry and returns a shutdown hook that logs failures.
func Telemetry(ctx context.Context, log *slog.Logger, cfg config.Config) (func(), error) {
	shutdown, err := observability.SetupOpenTelemetry(ctx, log, observability.OpenTelemetryConfig{
		Enabled:           cfg.Observability.Enabled,
		OTLPEndpoint:      cfg.Observability.OTLPEndpoint,
		OTLPTraceHeaders:  cfg.Observability.OTLPTraceHeaders,
		OTLPMetricHeaders: cfg.Observability.OTLPMetricHeaders,
		ServiceName:       cfg.Observability.ServiceName,
		ServiceVer:        cfg.Observability.ServiceVer,
		SamplingRatio:     cfg.Observability.SamplingRatio,
		MetricsConsole:    cfg.Observability.MetricsConsole,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to initialize OpenTelemetry: %w", err)
	}
	return func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := shutdown(ctx); err != nil {
			slog.Error("Failed to shutdown OpenTelemetry", "error", err)
		}
	}, nil
}

// Database opens PostgreSQL when DB_HOST is set and SQLite otherwise.
func Database(cfg config.Config) (*db.Database, error) {
	opts := db.Options{
		Path: cfg.Database.Path,
		Tables: queries.Tables{
			Items:          cfg.Database.ItemTable,
			Collaborations: cfg.Database.CollaborationTable,
		},
	}
	if cfg.Database.UsesPostgres() {
		opts.PostgresDSN = cfg.Database.PostgresDSN()
	}
	database, err := db.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	if cfg.Database.LogTiming {
		go logDBLatencyStats(slog.Default(), database)
	}
	return database, nil
}

// Queue builds the notification queue over the shared database.
func Queue(cfg config.Config, database *db.Database) *sqlstore.Queue {
	return sqlstore.NewQueue(database, sqlstore.QueueOptions{
		Name:              cfg.Queue.Name,
		VisibilityTimeout: cfg.Queue.VisibilityTimeout,
		DedupWindow:       cfg.Queue.DedupWindow,
		MaxReceiveCount:   cfg.Queue.MaxReceiveCount,
		DLQRetention:      cfg.Queue.DLQRetention,
	})
}

// Mirror opens the configured mirror location.
func Mirror(cfg config.Config) (ports.MirrorStore, error) {
	mirrorStore, err := mirror.Open(cfg.Mirror.URL, mirror.S3Options{
		Endpoint:        cfg.Mirror.Endpoint,
		AccessKeyID:     cfg.Mirror.AccessKeyID,
		SecretAccessKey: cfg.Mirror.SecretAccessKey,
		Region:          cfg.Mirror.Region,
		UseSSL:          cfg.Mirror.UseSSL,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to open mirror store: %w", err)
	}
	return mirrorStore, nil
}

// Reconciler wires the source client, mirror and metadata store.
func Reconciler(ctx context.Context, cfg config.Config, database *db.Database) (*services.Reconciler, ports.Source, ports.MetadataStore, error) {
	mirrorStore, err := Mirror(cfg)
	if err != nil {
		return nil, nil, nil, err
	}

	source, err := box.NewClient(ctx, box.Options{
		BaseURL: cfg.Box.APIURL,
		Credentials: box.Credentials{
			DeveloperToken: cfg.Box.DeveloperToken,
			ClientID:       cfg.Box.ClientID,
			ClientSecret:   cfg.Box.ClientSecret,
			TokenURL:       cfg.Box.TokenURL,
			SubjectType:    cfg.Box.SubjectType,
			SubjectID:      cfg.Box.SubjectID,
		},
		Timeout: cfg.Box.Timeout,
	})
	if err != nil {
		return nil, nil, nil, fmt.Errorf("failed to build box client: %w", err)
	}

	notifier, err := indexnotify.New(cfg.IndexSync.NotifyURL)
	if err != nil {
		return nil, nil, nil, fmt.Errorf("failed to build index notifier: %w", err)
	}

	store := sqlstore.NewMetadataStore(database)
	reconciler := services.NewReconciler(services.ReconcilerDeps{
		Source:   source,
		Store:    store,
		Mirror:   mirrorStore,
		Notifier: notifier,
	})
	return reconciler, source, store, nil
}

// Locker picks the Redis lease when REDIS_URL is configured and the SQL lease otherwise.
// The returned close hook is always safe to call.
func Locker(cfg config.Config, database *db.Database) (ports.Locker, func(), error) {
	if cfg.Lease.RedisURL == "" {
		return sqlstore.NewLocker(database), func() {}, nil
	}
	locker, err := redislease.New(cfg.Lease.RedisURL)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to connect lease store: %w", err)
	}
	return locker, func() {
		if err := locker.Close(); err != nil {
			slog.Error("Failed to close lease store", "error", err)
		}
	}, nil
}

// MetricsServer serves the Prometheus registry until ctx is cancelled.
func MetricsServer(ctx context.Context, port int) error {
	if port <= 0 {
		<-ctx.Done()
		return nil
	}
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", port),
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
	}()
	slog.Info("Serving metrics", "port", port)
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("metrics server: %w", err)
	}
	return nil
}

// Holder identifies this process in lease tables.
func Holder() string {
	host, err := os.Hostname()
	if err != nil || host == "" {
		host = "docmirror"
	}
	return fmt.Sprintf("%s-%d", host, os.Getpid())
}

func logDBLatencyStats(log *slog.Logger, database *db.Database) {
	ticker := time.NewTicker(60 * time.Second)
	defer ticker.Stop()

	for range ticker.C {
		stats := database.QueryLatencyStats()
		if len(stats) == 0 {
			continue
		}
		limit := 5
		if len(stats) < limit {
			limit = len(stats)
		}
		for index := 0; index < limit; index++ {
			entry := stats[index]
			log.Info("db_query_latency",
				"query", entry.Name,
				"count", entry.Count,
				"p50_ms", entry.P50.Milliseconds(),
				"p95_ms", entry.P95.Milliseconds(),
				"max_ms", entry.Max.Milliseconds(),
			)
		}
	}
}
