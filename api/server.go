// Package api exposes the catalog and ingestion runner over HTTP.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/aluiziolira/book-catalog/ingest"
	"github.com/aluiziolira/book-catalog/models"
	"github.com/aluiziolira/book-catalog/query"
	"github.com/aluiziolira/book-catalog/store"
)

// Catalog answers book queries.
type Catalog interface {
	List(ctx context.Context, c query.Criteria) (*query.Result, error)
	Get(ctx context.Context, id string) (*models.Book, error)
}

// Refresher starts ingestion runs and reports on them.
type Refresher interface {
	Trigger(ctx context.Context) (ingest.Task, bool)
	Get(id string) (ingest.Task, error)
}

// Server holds the HTTP handlers and their collaborators.
type Server struct {
	ctx      context.Context
	catalog  Catalog
	runs     Refresher
	registry *prometheus.Registry
	metrics  *httpMetrics
}

// NewServer builds a server. Refresh runs are bound to ctx, not to the
// request that triggered them. Request metrics are registered on registry,
// which /metrics also serves.
func NewServer(ctx context.Context, catalog Catalog, runs Refresher, registry *prometheus.Registry) *Server {
	if registry == nil {
		registry = prometheus.NewRegistry()
	}
	return &Server{
		ctx:      ctx,
		catalog:  catalog,
		runs:     runs,
		registry: registry,
		metrics:  newHTTPMetrics(registry),
	}
}

// Routes returns the router.
func (s *Server) Routes() http.Handler {
	r := mux.NewRouter()
	r.Use(s.withMetrics, withLogging)

	r.HandleFunc("/api/books", s.handleListBooks).Methods(http.MethodGet)
	r.HandleFunc("/api/books/{id}", s.handleGetBook).Methods(http.MethodGet)
	r.HandleFunc("/api/refresh", s.handleRefresh).Methods(http.MethodPost)
	r.HandleFunc("/api/refresh/{id}", s.handleRefreshStatus).Methods(http.MethodGet)
	r.HandleFunc("/healthz", handleHealth).Methods(http.MethodGet)
	r.Handle("/metrics", promhttp.HandlerFor(s.registry, promhttp.HandlerOpts{})).Methods(http.MethodGet)

	r.NotFoundHandler = http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		WriteJSONError(w, http.StatusNotFound, "not_found", "no such route")
	})
	r.MethodNotAllowedHandler = http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		WriteJSONError(w, http.StatusMethodNotAllowed, "method_not_allowed", "")
	})
	return r
}

func (s *Server) handleListBooks(w http.ResponseWriter, r *http.Request) {
	criteria, err := query.ParseCriteria(r.URL.Query())
	if err != nil {
		WriteJSONError(w, http.StatusBadRequest, "invalid_query", err.Error())
		return
	}

	result, err := s.catalog.List(r.Context(), criteria)
	if err != nil {
		if errors.Is(err, query.ErrInvalidCriteria) {
			WriteJSONError(w, http.StatusBadRequest, "invalid_query", err.Error())
			return
		}
		slog.Error("list books failed", slog.Any("error", err))
		WriteJSONError(w, http.StatusInternalServerError, "internal_error", "failed to list books")
		return
	}
	writeJSON(w, http.StatusOK, result)
}

func (s *Server) handleGetBook(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	book, err := s.catalog.Get(r.Context(), id)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			WriteJSONError(w, http.StatusNotFound, "not_found", "book "+id+" not found")
			return
		}
		slog.Error("get book failed", slog.String("id", id), slog.Any("error", err))
		WriteJSONError(w, http.StatusInternalServerError, "internal_error", "failed to load book")
		return
	}
	writeJSON(w, http.StatusOK, book)
}

func (s *Server) handleRefresh(w http.ResponseWriter, _ *http.Request) {
	task, started := s.runs.Trigger(s.ctx)
	if !started {
		slog.Info("refresh already in flight", slog.String("task_id", task.ID))
	}
	w.Header().Set("Location", "/api/refresh/"+task.ID)
	writeJSON(w, http.StatusAccepted, task)
}

func (s *Server) handleRefreshStatus(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	task, err := s.runs.Get(id)
	if err != nil {
		if errors.Is(err, ingest.ErrTaskNotFound) {
			WriteJSONError(w, http.StatusNotFound, "not_found", "task "+id+" not found")
			return
		}
		WriteJSONError(w, http.StatusInternalServerError, "internal_error", err.Error())
		return
	}
	writeJSON(w, http.StatusOK, task)
}

func handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Error("encode response", slog.Any("error", err))
	}
}
