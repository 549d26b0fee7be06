package http

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/lilavathra-tackits/gps-tracker/internal/auth"
	"github.com/lilavathra-tackits/gps-tracker/internal/domain"
	"github.com/lilavathra-tackits/gps-tracker/internal/metrics"
	"github.com/lilavathra-tackits/gps-tracker/internal/pipeline"
	"github.com/lilavathra-tackits/gps-tracker/internal/query"
)

type Ingestor interface {
	Ingest(ctx context.Context, device domain.Device, raw pipeline.RawSample) (*domain.TelemetrySample, error)
}

type DeviceStore interface {
	GetDevice(ctx context.Context, deviceID string) (domain.Device, error)
	InsertMaintenance(ctx context.Context, r domain.MaintenanceRecord) error
}

// Locator answers proximity lookups over cached device positions.
type Locator interface {
	DevicesNear(ctx context.Context, lat, lon, radiusKm float64) ([]string, error)
}

type Pinger interface {
	Ping(ctx context.Context) error
}

type Handler struct {
	ingestor Ingestor
	devices  DeviceStore
	queries  *query.Service
	pingers  map[string]Pinger
	locator  Locator
	log      *slog.Logger
	now      func() time.Time
}

func NewHandler(ingestor Ingestor, devices DeviceStore, queries *query.Service, pingers map[string]Pinger, log *slog.Logger) *Handler {
	return &Handler{
		ingestor: ingestor,
		devices:  devices,
		queries:  queries,
		pingers:  pingers,
		log:      log,
		now:      time.Now,
	}
}

// SetLocator enables GET /api/devices/near.
func (h *Handler) SetLocator(l Locator) {
	h.locator = l
}

// NewRouter mounts the API behind authMw; alerts is served at /ws/alerts,
// also behind authMw, when non-nil.
func NewRouter(h *Handler, authMw *AuthMiddleware, alerts http.Handler, log *slog.Logger) *chi.Mux {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(requestLogger(log))
	r.Use(middleware.Recoverer)

	r.Get("/healthz", h.handleHealth)
	r.Get("/metrics", metrics.HandleMetrics)
	if alerts != nil {
		r.With(authMw.Wrap).Handle("/ws/alerts", alerts)
	}

	r.Route("/api", func(r chi.Router) {
		r.Use(authMw.Wrap)

		r.Get("/alerts", h.handleAlerts)
		r.Get("/devices/near", h.handleNear)
		r.Route("/devices/{deviceID}", func(r chi.Router) {
			r.Use(h.requireOwner)
			r.Post("/data", h.handleIngest)
			r.Get("/latest", h.handleLatest)
			r.Get("/history", h.handleHistory)
			r.Get("/distance", h.handleDistance)
			r.Get("/status", h.handleStatus)
			r.Get("/summary", h.handleSummary)
			r.Get("/maintenance", h.handleMaintenanceHistory)
			r.Post("/maintenance", h.handleMaintenanceUpdate)
		})
	})

	return r
}

func (h *Handler) requireOwner(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		p, ok := auth.PrincipalFrom(r.Context())
		if !ok || !p.Owns(chi.URLParam(r, "deviceID")) {
			writeError(w, http.StatusForbidden, "api key does not grant access to this device")
			return
		}
		next.ServeHTTP(w, r)
	})
}

func (h *Handler) handleHealth(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
	defer cancel()

	status := http.StatusOK
	checks := make(map[string]string, len(h.pingers))
	for name, p := range h.pingers {
		if err := p.Ping(ctx); err != nil {
			checks[name] = err.Error()
			status = http.StatusServiceUnavailable
			continue
		}
		checks[name] = "ok"
	}
	writeJSON(w, status, map[string]any{"status": http.StatusText(status), "checks": checks})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
