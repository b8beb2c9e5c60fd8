package api

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"net/url"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/rs/cors"

	"github.com/clubindex/clubindex/server/internal/directory"
)

// Refresher forces a snapshot rebuild.
type Refresher interface {
	Refresh(ctx context.Context, force bool) error
}

// Deps are the collaborators the routes are served from. Metrics, Status and
// Auth are optional.
type Deps struct {
	Directory   *directory.Service
	Refresher   Refresher
	Metrics     http.Handler
	Status      http.Handler
	Auth        func(http.Handler) http.Handler
	CORSOrigins []string
}

// Handler serves the club index routes.
type Handler struct {
	dir       *directory.Service
	refresher Refresher
	router    chi.Router
}

// New creates a Handler and registers all routes.
func New(d Deps) http.Handler {
	h := &Handler{dir: d.Directory, refresher: d.Refresher}

	origins := d.CORSOrigins
	if len(origins) == 0 {
		origins = []string{"*"}
	}

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)
	r.Use(cors.New(cors.Options{
		AllowedOrigins:   origins,
		AllowedMethods:   []string{http.MethodGet, http.MethodPost, http.MethodOptions},
		AllowedHeaders:   []string{"*"},
		AllowCredentials: true,
	}).Handler)

	r.NotFound(func(w http.ResponseWriter, _ *http.Request) {
		jsonErr(w, http.StatusNotFound, "not found")
	})
	r.MethodNotAllowed(func(w http.ResponseWriter, _ *http.Request) {
		jsonErr(w, http.StatusMethodNotAllowed, "method not allowed")
	})

	r.Get("/vereine", h.listClubs)
	r.Get("/verein/{identifier}", h.getClub)
	r.Get("/health", h.health)
	if d.Metrics != nil {
		r.Method(http.MethodGet, "/metrics", d.Metrics)
	}
	if d.Status != nil {
		r.Method(http.MethodGet, "/ws/status", d.Status)
	}

	admin := r.With()
	if d.Auth != nil {
		admin = r.With(d.Auth)
	}
	admin.Post("/admin/refresh", h.adminRefresh)

	h.router = r
	return h
}

func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	h.router.ServeHTTP(w, r)
}

// --- route handlers ---------------------------------------------------------

// listClubs returns GET /vereine.
func (h *Handler) listClubs(w http.ResponseWriter, r *http.Request) {
	items, err := h.dir.ListAll(r.Context())
	if err != nil {
		readErr(w, err)
		return
	}
	jsonResp(w, http.StatusOK, items)
}

// getClub returns GET /verein/{identifier}.
func (h *Handler) getClub(w http.ResponseWriter, r *http.Request) {
	identifier := chi.URLParam(r, "identifier")
	if dec, err := url.PathUnescape(identifier); err == nil {
		identifier = dec
	}

	rec, err := h.dir.Lookup(r.Context(), identifier)
	if err != nil {
		readErr(w, err)
		return
	}
	jsonResp(w, http.StatusOK, rec)
}

// health returns GET /health.
func (h *Handler) health(w http.ResponseWriter, _ *http.Request) {
	jsonResp(w, http.StatusOK, h.dir.Status())
}

// adminRefresh runs a forced refresh and reports the resulting status. The
// refresh outlives a disconnecting client.
func (h *Handler) adminRefresh(w http.ResponseWriter, r *http.Request) {
	if err := h.refresher.Refresh(context.WithoutCancel(r.Context()), true); err != nil {
		slog.Warn("api: admin refresh failed", "err", err)
		jsonErr(w, http.StatusBadGateway, err.Error())
		return
	}
	jsonResp(w, http.StatusOK, h.dir.Status())
}

// --- helpers ----------------------------------------------------------------

// readErr maps read-side errors onto status codes.
func readErr(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, directory.ErrNotFound):
		jsonErr(w, http.StatusNotFound, "club not found")
	case errors.Is(err, directory.ErrNotReady):
		w.Header().Set("Retry-After", retryAfterSeconds)
		jsonErr(w, http.StatusServiceUnavailable, "no data available yet, retry later")
	default:
		slog.Error("api: read failed", "err", err)
		jsonErr(w, http.StatusInternalServerError, "internal error")
	}
}

func jsonResp(w http.ResponseWriter, code int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(v) //nolint:errcheck
}

func jsonErr(w http.ResponseWriter, code int, msg string) {
	jsonResp(w, code, errorResponse{Error: msg})
}
