// Package httpapi exposes the labelflow services over HTTP.
package httpapi

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/oklog/ulid/v2"

	"github.com/Lllllllleong/labelflow/internal/document"
	"github.com/Lllllllleong/labelflow/internal/inventory"
	"github.com/Lllllllleong/labelflow/internal/jobs"
	"github.com/Lllllllleong/labelflow/internal/models"
	"github.com/Lllllllleong/labelflow/internal/services"
)

// MaxUploadBytes caps every request body that carries a document or CSV.
const MaxUploadBytes = 64 << 20

// Server routes requests to an App. With a queue, POST /orders enqueues and
// answers 202; without one it fulfills the order inside the request.
type Server struct {
	app   *services.App
	queue *jobs.Queue
}

func New(app *services.App, queue *jobs.Queue) *Server {
	return &Server{app: app, queue: queue}
}

// Routes builds the router.
func (s *Server) Routes() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)

	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})
	r.Post("/orders", s.handleOrder)
	r.Get("/jobs/{id}", s.handleJob)
	r.Get("/jobs/{id}/shortages.csv", s.handleJobShortages)
	r.Get("/artifacts/{name}", s.handleArtifact)
	r.Post("/documents", s.handleUpload)
	r.Post("/documents/{name}/split", s.handleSplit)
	r.Post("/returns", s.handleReturn)
	r.Post("/purge", s.handlePurge)
	r.Post("/codes/import", s.handleImport)
	r.Get("/reports/inventory", s.handleInventoryReport)
	r.Get("/reports/codes", s.handleCodesReport)
	return r
}

func (s *Server) handleOrder(w http.ResponseWriter, r *http.Request) {
	var req models.OrderRequest
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, MaxUploadBytes)).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, fmt.Errorf("invalid order: %w", err))
		return
	}
	if len(req.OrderLines) == 0 {
		writeError(w, http.StatusBadRequest, errors.New("order has no lines"))
		return
	}

	if s.queue != nil {
		rec, err := s.queue.Submit(req)
		if err != nil {
			writeError(w, http.StatusServiceUnavailable, err)
			return
		}
		w.Header().Set("Location", "/jobs/"+rec.ID)
		writeJSON(w, http.StatusAccepted, rec)
		return
	}

	jobID := strings.ToLower(ulid.Make().String())
	_, jr, err := s.app.ProcessOrder(r.Context(), jobID, req)
	if ref, nerr := s.app.Notifier.Notify(r.Context(), jr); nerr == nil && ref != "" {
		slog.Info("Order handed to delivery.", "jobId", jobID, "execution", ref)
	}
	if err != nil {
		writeJSON(w, http.StatusInternalServerError, jr)
		return
	}
	writeJSON(w, http.StatusOK, jr)
}

func (s *Server) handleJob(w http.ResponseWriter, r *http.Request) {
	if s.queue == nil {
		writeError(w, http.StatusNotFound, errors.New("job tracking is not enabled"))
		return
	}
	rec, err := s.queue.Get(chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, http.StatusNotFound, err)
		return
	}
	writeJSON(w, http.StatusOK, rec)
}

// handleJobShortages renders a finished job's unmet order lines as CSV.
func (s *Server) handleJobShortages(w http.ResponseWriter, r *http.Request) {
	if s.queue == nil {
		writeError(w, http.StatusNotFound, errors.New("job tracking is not enabled"))
		return
	}
	rec, err := s.queue.Get(chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, http.StatusNotFound, err)
		return
	}
	if rec.Result == nil {
		writeError(w, http.StatusConflict, fmt.Errorf("job %s is %s", rec.ID, rec.Status))
		return
	}
	w.Header().Set("Content-Type", "text/csv; charset=utf-8")
	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", "shortages_"+rec.ID+".csv"))
	if err := services.WriteShortageCSV(w, rec.Result.Shortages); err != nil {
		slog.Error("Failed to write shortage report", "jobId", rec.ID, "error", err)
	}
}

func (s *Server) handleArtifact(w http.ResponseWriter, r *http.Request) {
	name := pathParam(r, "name")
	if name != filepath.Base(name) || name == "." || name == ".." || document.IsWorkingName(name) {
		writeError(w, http.StatusBadRequest, fmt.Errorf("invalid artifact name %q", name))
		return
	}
	path := filepath.Join(s.app.Fulfiller.ArtifactDir(), name)
	f, err := os.Open(path)
	if err != nil {
		writeError(w, http.StatusNotFound, fmt.Errorf("artifact %s not found", name))
		return
	}
	defer f.Close()
	fi, err := f.Stat()
	if err != nil || fi.IsDir() {
		writeError(w, http.StatusNotFound, fmt.Errorf("artifact %s not found", name))
		return
	}
	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", name))
	http.ServeContent(w, r, name, fi.ModTime(), f)
}

func (s *Server) handleUpload(w http.ResponseWriter, r *http.Request) {
	name := r.URL.Query().Get("name")
	if name == "" {
		writeError(w, http.StatusBadRequest, errors.New("name is required"))
		return
	}
	entry, pages, err := s.app.Inventory.Store(r.Context(), name, http.MaxBytesReader(w, r.Body, MaxUploadBytes))
	if err != nil {
		writeServiceError(w, err)
		return
	}
	slog.Info("Document stored.", "name", entry.Name, "pages", pages)
	writeJSON(w, http.StatusCreated, models.UploadResponse{ID: entry.ID, Name: entry.Name, Pages: pages})
}

func (s *Server) handleSplit(w http.ResponseWriter, r *http.Request) {
	res, err := s.app.Splitter.Split(r.Context(), pathParam(r, "name"))
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

func (s *Server) handleReturn(w http.ResponseWriter, r *http.Request) {
	name := r.URL.Query().Get("name")
	if name == "" {
		writeError(w, http.StatusBadRequest, errors.New("name is required"))
		return
	}
	res, err := s.app.Returns.Process(r.Context(), name, http.MaxBytesReader(w, r.Body, MaxUploadBytes))
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

func (s *Server) handlePurge(w http.ResponseWriter, r *http.Request) {
	start := time.Now()
	stats, err := s.app.Purger.Sweep(r.Context())
	if err != nil {
		writeServiceError(w, err)
		return
	}
	slog.Info("Purge finished.", "pagesDeleted", stats.PagesDeleted, "filesDeleted", stats.FilesDeleted,
		"duration", time.Since(start).String())
	writeJSON(w, http.StatusOK, stats)
}

func (s *Server) handleImport(w http.ResponseWriter, r *http.Request) {
	res, err := s.app.Importer.Import(r.Context(), http.MaxBytesReader(w, r.Body, MaxUploadBytes))
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

func (s *Server) handleInventoryReport(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "text/csv; charset=utf-8")
	w.Header().Set("Content-Disposition", `attachment; filename="inventory.csv"`)
	if err := s.app.Reporter.WriteInventoryCSV(r.Context(), w); err != nil {
		slog.Error("Failed to write inventory report", "error", err)
	}
}

func (s *Server) handleCodesReport(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "text/csv; charset=utf-8")
	w.Header().Set("Content-Disposition", `attachment; filename="printed_codes.csv"`)
	if err := s.app.Reporter.WriteCodesCSV(r.Context(), w); err != nil {
		slog.Error("Failed to write codes report", "error", err)
	}
}

// pathParam returns a decoded URL parameter. chi leaves it escaped when the
// request path carried an escaping Go would not produce itself.
func pathParam(r *http.Request, key string) string {
	v := chi.URLParam(r, key)
	if u, err := url.PathUnescape(v); err == nil {
		return u
	}
	return v
}

// writeServiceError maps service errors to status codes.
func writeServiceError(w http.ResponseWriter, err error) {
	var tooLarge *http.MaxBytesError
	switch {
	case errors.As(err, &tooLarge):
		writeError(w, http.StatusRequestEntityTooLarge, err)
	case errors.Is(err, inventory.ErrNotFound):
		writeError(w, http.StatusNotFound, err)
	case errors.Is(err, inventory.ErrInvalidName):
		writeError(w, http.StatusBadRequest, err)
	case errors.Is(err, inventory.ErrRejected), errors.Is(err, services.ErrRejectedImport):
		writeError(w, http.StatusUnprocessableEntity, err)
	default:
		slog.Error("Request failed", "error", err)
		writeError(w, http.StatusInternalServerError, err)
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Error("Failed to encode response", "error", err)
	}
}

func writeError(w http.ResponseWriter, status int, err error) {
	writeJSON(w, status, map[string]string{"error": err.Error()})
}
