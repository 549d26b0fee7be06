package http

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/lilavathra-tackits/gps-tracker/internal/auth"
	"github.com/lilavathra-tackits/gps-tracker/internal/domain"
	"github.com/lilavathra-tackits/gps-tracker/internal/pipeline"
	"github.com/lilavathra-tackits/gps-tracker/internal/query"
)

const defaultWindow = 24 * time.Hour

func (h *Handler) handleLatest(w http.ResponseWriter, r *http.Request) {
	deviceID := chi.URLParam(r, "deviceID")
	s, err := h.queries.Latest(r.Context(), deviceID)
	if err != nil {
		h.internalError(w, "latest sample", err)
		return
	}
	if s == nil {
		writeError(w, http.StatusNotFound, "no data for device")
		return
	}
	writeJSON(w, http.StatusOK, toResponse(s))
}

func (h *Handler) handleHistory(w http.ResponseWriter, r *http.Request) {
	deviceID := chi.URLParam(r, "deviceID")
	since, err := timeParam(r, "since", h.now().Add(-defaultWindow))
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	limit := 0
	if v := r.URL.Query().Get("limit"); v != "" {
		if limit, err = strconv.Atoi(v); err != nil || limit < 0 {
			writeError(w, http.StatusBadRequest, "invalid limit parameter")
			return
		}
	}

	samples, err := h.queries.Samples(r.Context(), deviceID, since, limit)
	if err != nil {
		h.internalError(w, "history", err)
		return
	}
	out := make([]sampleResponse, len(samples))
	for i := range samples {
		out[i] = toResponse(&samples[i])
	}
	writeJSON(w, http.StatusOK, map[string]any{"device_id": deviceID, "samples": out})
}

func (h *Handler) handleDistance(w http.ResponseWriter, r *http.Request) {
	deviceID := chi.URLParam(r, "deviceID")
	now := h.now()
	since, err := timeParam(r, "since", now.Add(-defaultWindow))
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	until, err := timeParam(r, "until", now)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	meters, err := h.queries.TotalDistance(r.Context(), deviceID, since, until)
	if err != nil {
		h.internalError(w, "distance", err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"device_id":         deviceID,
		"since":             since,
		"until":             until,
		"total_distance_km": meters / 1000,
	})
}

func (h *Handler) handleStatus(w http.ResponseWriter, r *http.Request) {
	st, err := h.queries.Status(r.Context(), chi.URLParam(r, "deviceID"))
	if err != nil {
		h.internalError(w, "status", err)
		return
	}
	writeJSON(w, http.StatusOK, st)
}

func (h *Handler) handleSummary(w http.ResponseWriter, r *http.Request) {
	sum, err := h.queries.Summary(r.Context(), chi.URLParam(r, "deviceID"))
	if err != nil {
		h.internalError(w, "summary", err)
		return
	}
	writeJSON(w, http.StatusOK, sum)
}

func (h *Handler) handleMaintenanceHistory(w http.ResponseWriter, r *http.Request) {
	records, err := h.queries.MaintenanceHistory(r.Context(), chi.URLParam(r, "deviceID"))
	if err != nil {
		h.internalError(w, "maintenance history", err)
		return
	}
	writeJSON(w, http.StatusOK, records)
}

func (h *Handler) handleMaintenanceUpdate(w http.ResponseWriter, r *http.Request) {
	deviceID := chi.URLParam(r, "deviceID")
	if _, err := h.devices.GetDevice(r.Context(), deviceID); err != nil {
		h.writeIngestError(w, deviceID, err)
		return
	}

	var req struct {
		Status string `json:"status"`
	}
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, 4<<10)).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	req.Status = strings.TrimSpace(req.Status)
	if req.Status == "" {
		writeError(w, http.StatusBadRequest, "status is required")
		return
	}

	record := domain.MaintenanceRecord{
		ID:        uuid.NewString(),
		DeviceID:  deviceID,
		Status:    req.Status,
		Timestamp: h.now().UTC(),
	}
	if err := h.devices.InsertMaintenance(r.Context(), record); err != nil {
		h.internalError(w, "maintenance update", err)
		return
	}
	writeJSON(w, http.StatusCreated, record)
}

// handleAlerts lists alerts newest first. Device keys only ever see their
// own device; admin keys may filter by any device_id.
func (h *Handler) handleAlerts(w http.ResponseWriter, r *http.Request) {
	p, _ := auth.PrincipalFrom(r.Context())
	q := r.URL.Query()

	since, err := timeParam(r, "since", time.Time{})
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	f := query.AlertFilter{
		DeviceIDs: q["device_id"],
		Kind:      domain.AlertKind(q.Get("kind")),
		Since:     since,
		Limit:     100,
	}
	if v := q.Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 {
			writeError(w, http.StatusBadRequest, "invalid limit parameter")
			return
		}
		f.Limit = n
	}
	if !p.Admin {
		f.DeviceIDs = []string{p.DeviceID}
	}

	alerts, err := h.queries.Alerts(r.Context(), f)
	if err != nil {
		h.internalError(w, "alerts", err)
		return
	}
	if alerts == nil {
		alerts = []domain.Alert{}
	}
	writeJSON(w, http.StatusOK, alerts)
}

// handleNear is admin-only: it spans every device.
func (h *Handler) handleNear(w http.ResponseWriter, r *http.Request) {
	if p, _ := auth.PrincipalFrom(r.Context()); !p.Admin {
		writeError(w, http.StatusForbidden, "admin key required")
		return
	}
	if h.locator == nil {
		writeError(w, http.StatusNotImplemented, "proximity lookup needs the redis cache backend")
		return
	}

	var (
		coords [3]float64
		err    error
	)
	for i, name := range []string{"lat", "lon", "radius_km"} {
		if coords[i], err = strconv.ParseFloat(r.URL.Query().Get(name), 64); err != nil {
			writeError(w, http.StatusBadRequest, "invalid "+name+" parameter")
			return
		}
	}
	lat, lon, radius := coords[0], coords[1], coords[2]
	if lat < -90 || lat > 90 || lon < -180 || lon > 180 || radius <= 0 {
		writeError(w, http.StatusBadRequest, "coordinates or radius out of range")
		return
	}

	ids, err := h.locator.DevicesNear(r.Context(), lat, lon, radius)
	if err != nil {
		h.internalError(w, "devices near", err)
		return
	}
	if ids == nil {
		ids = []string{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"device_ids": ids})
}

func (h *Handler) internalError(w http.ResponseWriter, op string, err error) {
	h.log.Error("query failed", "op", op, "error", err)
	writeError(w, http.StatusInternalServerError, "internal error")
}

func timeParam(r *http.Request, name string, def time.Time) (time.Time, error) {
	v := r.URL.Query().Get(name)
	if v == "" {
		return def, nil
	}
	t, err := pipeline.ParseTimestamp(v)
	if err != nil {
		return time.Time{}, fmt.Errorf("invalid %s parameter: %w", name, err)
	}
	return t, nil
}
