package http

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/lilavathra-tackits/gps-tracker/internal/auth"
	"github.com/lilavathra-tackits/gps-tracker/internal/domain"
	"github.com/lilavathra-tackits/gps-tracker/internal/pipeline"
)

const maxPushBytes = 64 << 10

type pushRequest struct {
	Location struct {
		Latitude  json.RawMessage `json:"latitude"`
		Longitude json.RawMessage `json:"longitude"`
		Altitude  json.RawMessage `json:"altitude"`
	} `json:"location"`
	Charge      json.RawMessage `json:"charge"`
	Timestamp   json.RawMessage `json:"timestamp"`
	PowerSource json.RawMessage `json:"power_source"`
	Speed       json.RawMessage `json:"speed"`
	Heading     json.RawMessage `json:"heading"`
}

type sampleResponse struct {
	DeviceID    string             `json:"device_id"`
	Latitude    float64            `json:"latitude"`
	Longitude   float64            `json:"longitude"`
	Altitude    float64            `json:"altitude"`
	Speed       float64            `json:"speed"`
	Heading     float64            `json:"heading"`
	Charge      int                `json:"charge"`
	PowerSource domain.PowerSource `json:"power_source"`
	Timestamp   time.Time          `json:"timestamp"`
}

func toResponse(s *domain.TelemetrySample) sampleResponse {
	return sampleResponse{
		DeviceID:    s.DeviceID,
		Latitude:    s.Latitude,
		Longitude:   s.Longitude,
		Altitude:    s.Altitude,
		Speed:       s.SpeedKmh,
		Heading:     s.Heading,
		Charge:      s.Charge,
		PowerSource: s.PowerSource,
		Timestamp:   s.Timestamp,
	}
}

func (h *Handler) handleIngest(w http.ResponseWriter, r *http.Request) {
	deviceID := chi.URLParam(r, "deviceID")
	p, _ := auth.PrincipalFrom(r.Context())

	device, err := h.devices.GetDevice(r.Context(), deviceID)
	if err != nil {
		h.writeIngestError(w, deviceID, err)
		return
	}

	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxPushBytes))
	if err != nil {
		writeError(w, http.StatusRequestEntityTooLarge, "request body too large")
		return
	}
	var req pushRequest
	if err := json.Unmarshal(body, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}

	origin := pipeline.OriginPush
	if p.Admin {
		origin = pipeline.OriginAdmin
	}
	sample, err := h.ingestor.Ingest(r.Context(), device, pipeline.RawSample{
		DeviceID:    deviceID,
		Latitude:    req.Location.Latitude,
		Longitude:   req.Location.Longitude,
		Altitude:    req.Location.Altitude,
		Speed:       req.Speed,
		Heading:     req.Heading,
		Charge:      req.Charge,
		Timestamp:   req.Timestamp,
		PowerSource: req.PowerSource,
		Origin:      origin,
		Payload:     body,
	})
	if err != nil {
		h.writeIngestError(w, deviceID, err)
		return
	}

	writeJSON(w, http.StatusCreated, toResponse(sample))
}

func (h *Handler) writeIngestError(w http.ResponseWriter, deviceID string, err error) {
	switch {
	case errors.Is(err, domain.ErrInvalidPayload):
		writeError(w, http.StatusBadRequest, err.Error())
	case errors.Is(err, domain.ErrTooSoon):
		writeError(w, http.StatusTooManyRequests, err.Error())
	case errors.Is(err, domain.ErrStale):
		writeError(w, http.StatusConflict, err.Error())
	case errors.Is(err, domain.ErrConflict):
		h.log.Error("push ingest conflict", "device_id", deviceID, "error", err)
		writeError(w, http.StatusConflict, err.Error())
	case errors.Is(err, domain.ErrDeviceNotFound):
		writeError(w, http.StatusNotFound, "device not found")
	default:
		h.log.Error("push ingest failed", "device_id", deviceID, "error", err)
		writeError(w, http.StatusInternalServerError, "failed to store sample")
	}
}
