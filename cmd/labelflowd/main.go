// Command labelflowd runs the labelflow API as a long-lived server with a
// background job queue.
package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/Lllllllleong/labelflow/internal/config"
	"github.com/Lllllllleong/labelflow/internal/httpapi"
	"github.com/Lllllllleong/labelflow/internal/jobs"
	"github.com/Lllllllleong/labelflow/internal/models"
	"github.com/Lllllllleong/labelflow/internal/services"
)

const shutdownTimeout = 30 * time.Second

func main() {
	logger := slog.New(slog.NewJSONHandler(os.Stdout, nil))
	slog.SetDefault(logger)

	if err := run(); err != nil {
		slog.Error("labelflowd exited with error", "error", err)
		os.Exit(1)
	}
}

func run() error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	cfg, err := config.Load()
	if err != nil {
		return err
	}
	app, err := services.NewApp(ctx, cfg)
	if err != nil {
		return err
	}
	defer app.Close()

	queue := jobs.New(func(ctx context.Context, id string, req models.OrderRequest) (*models.FulfillmentResult, error) {
		res, _, err := app.ProcessOrder(ctx, id, req)
		return res, err
	}, cfg.Workers)
	mirror := jobs.NewFirestoreMirror(app.Firestore, cfg.JobsCollection)
	queue.OnChange(mirror.Observe)
	queue.OnChange(jobs.Deliver(queue, app.Notifier, mirror.Observe))
	queue.Start(context.WithoutCancel(ctx))

	srv := &http.Server{
		Addr:              cfg.ListenAddr,
		Handler:           httpapi.New(app, queue).Routes(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	serveErr := make(chan error, 1)
	go func() {
		slog.Info("labelflowd listening.", "addr", cfg.ListenAddr, "workers", cfg.Workers)
		serveErr <- srv.ListenAndServe()
	}()

	select {
	case err := <-serveErr:
		if !errors.Is(err, http.ErrServerClosed) {
			_ = queue.Stop(context.Background())
			return err
		}
	case <-ctx.Done():
		slog.Info("Shutting down.")
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		slog.Error("HTTP shutdown failed", "error", err)
	}
	return queue.Stop(shutdownCtx)
}
