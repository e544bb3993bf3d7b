package main

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

	"github.com/fr0stylo/docmirror/internal/app/services"
	"github.com/fr0stylo/docmirror/internal/bootstrap"
	"github.com/fr0stylo/docmirror/internal/config"
	"github.com/fr0stylo/docmirror/internal/server"
	"github.com/fr0stylo/docmirror/internal/server/routes"
)

func Run() error {
	log := bootstrap.Logger()

	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("failed to load configuration: %w", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	shutdownTelemetry, err := bootstrap.Telemetry(ctx, log, cfg)
	if err != nil {
		return err
	}
	defer shutdownTelemetry()

	database, err := bootstrap.Database(cfg)
	if err != nil {
		return err
	}
	defer func() {
		if err := database.Close(); err != nil {
			slog.Error("Failed to close database", "error", err)
		}
	}()

	intake := services.NewIntakeService(bootstrap.Queue(cfg, database), services.IntakeOptions{
		PerItemOrdering: cfg.Queue.OrderingMode == config.OrderingPerItem,
		SignatureKeys:   cfg.Box.SignatureKeys(),
	})
	if len(cfg.Box.SignatureKeys()) == 0 {
		slog.Warn("BOX_WEBHOOK_PRIMARY_KEY not set, webhook signatures are not verified")
	}

	srv := server.New(log, cfg.Observability.ServiceName)
	srv.RegisterRouter(routes.NewWebhookRoutes(intake))
	srv.RegisterRouter(routes.NewHealthRoutes(map[string]routes.Pinger{"database": database}))

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			slog.Error("Failed to shutdown server", "error", err)
		}
	}()

	addr := fmt.Sprintf(":%d", cfg.Server.Port)
	slog.Info("Starting intake", "port", cfg.Server.Port, "ordering", cfg.Queue.OrderingMode)
	if err := srv.Start(addr); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

func main() {
	if err := Run(); err != nil {
		slog.Error("intake exited", "error", err)
		os.Exit(1)
	}
}
