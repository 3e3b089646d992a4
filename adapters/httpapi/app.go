// Package httpapi exposes the engine's three operations over a thin chi
// router. Authentication and the rest of the platform surface live in other
// services; this API is read-only except for the invalidate hook.
package httpapi

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"protosignal/app"
	"protosignal/domain/core"
	"protosignal/internal/export"
)

// App is the HTTP surface over the analysis service
type App struct {
	router  *chi.Mux
	service *app.AnalysisService
	logger  *slog.Logger
}

// NewApp creates the router
func NewApp(service *app.AnalysisService, logger *slog.Logger) *App {
	a := &App{
		router:  chi.NewRouter(),
		service: service,
		logger:  logger,
	}
	a.setupMiddleware()
	a.setupRoutes()
	return a
}

// ServeHTTP implements http.Handler
func (a *App) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	a.router.ServeHTTP(w, r)
}

func (a *App) setupMiddleware() {
	a.router.Use(middleware.RequestID)
	a.router.Use(middleware.Recoverer)
	a.router.Use(middleware.Compress(5))
}

func (a *App) setupRoutes() {
	a.router.Route("/protocols/{protocolID}", func(r chi.Router) {
		r.Get("/analysis", a.handleGetAnalysis)
		r.Get("/export", a.handleExport)
		r.Post("/invalidate", a.handleInvalidate)
	})
}

func (a *App) handleGetAnalysis(w http.ResponseWriter, r *http.Request) {
	protocolID, err := core.ParseProtocolID(chi.URLParam(r, "protocolID"))
	if err != nil {
		a.writeError(w, http.StatusBadRequest, err)
		return
	}

	forceRefresh := r.URL.Query().Get("refresh") == "1"
	result, err := a.service.GetAnalysis(r.Context(), protocolID, forceRefresh)
	if err != nil && result == nil {
		a.writeError(w, statusFor(err), err)
		return
	}
	if err != nil {
		// A timeout with a prior result: serve the last good result and say so
		w.Header().Set("X-Analysis-Stale", "true")
		a.logger.Warn("serving stale analysis", "protocol_id", protocolID, "error", err)
	}

	a.writeJSON(w, http.StatusOK, result)
}

func (a *App) handleExport(w http.ResponseWriter, r *http.Request) {
	protocolID, err := core.ParseProtocolID(chi.URLParam(r, "protocolID"))
	if err != nil {
		a.writeError(w, http.StatusBadRequest, err)
		return
	}

	// Normalize the format once so the Content-Type always matches the
	// bytes the service produced.
	format, err := export.ParseFormat(r.URL.Query().Get("format"))
	if err != nil {
		a.writeError(w, statusFor(err), err)
		return
	}

	data, err := a.service.ExportAnalysis(r.Context(), protocolID, string(format))
	if err != nil {
		a.writeError(w, statusFor(err), err)
		return
	}

	w.Header().Set("Content-Type", contentTypeFor(format))
	w.WriteHeader(http.StatusOK)
	w.Write(data)
}

func (a *App) handleInvalidate(w http.ResponseWriter, r *http.Request) {
	protocolID, err := core.ParseProtocolID(chi.URLParam(r, "protocolID"))
	if err != nil {
		a.writeError(w, http.StatusBadRequest, err)
		return
	}

	a.service.Invalidate(protocolID)
	a.logger.Info("cache invalidated", "protocol_id", protocolID)
	w.WriteHeader(http.StatusNoContent)
}

func (a *App) writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		a.logger.Error("write response", "error", err)
	}
}

func (a *App) writeError(w http.ResponseWriter, status int, err error) {
	a.writeJSON(w, status, map[string]string{"error": err.Error()})
}

// statusFor maps the engine's error taxonomy onto HTTP statuses
func statusFor(err error) int {
	switch {
	case core.IsNotFoundError(err):
		return http.StatusNotFound
	case errors.Is(err, core.ErrUnsupportedFormat):
		return http.StatusBadRequest
	case errors.Is(err, core.ErrExportNotReady):
		return http.StatusConflict
	case core.IsTimeoutError(err):
		return http.StatusGatewayTimeout
	case core.IsRetryableError(err):
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

func contentTypeFor(format export.Format) string {
	switch format {
	case export.FormatCSV:
		return "text/csv"
	case export.FormatXLSX:
		return "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet"
	default:
		return "application/json"
	}
}
