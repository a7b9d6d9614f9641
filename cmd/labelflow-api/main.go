package main

import (
	"context"
	"log/slog"
	"net/http"
	"os"
	"sync"

	"github.com/GoogleCloudPlatform/functions-framework-go/functions"

	"github.com/Lllllllleong/labelflow/internal/config"
	"github.com/Lllllllleong/labelflow/internal/httpapi"
	"github.com/Lllllllleong/labelflow/internal/services"
)

var (
	handler http.Handler
	once    sync.Once
	initErr error
)

func init() {
	// --- Set up structured logging ---
	logger := slog.New(slog.NewJSONHandler(os.Stdout, nil))
	slog.SetDefault(logger)

	functions.HTTP("HandleLabelflow", handleLabelflow)
}

func main() {}

// handleLabelflow serves the whole API. Orders are fulfilled inside the
// request since a function instance has no background workers.
func handleLabelflow(w http.ResponseWriter, r *http.Request) {
	once.Do(func() {
		cfg, err := config.Load()
		if err != nil {
			initErr = err
			return
		}
		app, err := services.NewApp(context.Background(), cfg)
		if err != nil {
			initErr = err
			return
		}
		handler = httpapi.New(app, nil).Routes()
	})
	if initErr != nil {
		slog.Error("Critical: labelflow initialization failed", "error", initErr)
		http.Error(w, "Internal Server Error: failed to initialize service", http.StatusInternalServerError)
		return
	}
	handler.ServeHTTP(w, r)
}
