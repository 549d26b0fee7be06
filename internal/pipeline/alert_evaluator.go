package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"time"

	"github.com/google/uuid"

	"github.com/lilavathra-tackits/gps-tracker/internal/domain"
	"github.com/lilavathra-tackits/gps-tracker/internal/geo"
	"github.com/lilavathra-tackits/gps-tracker/internal/metrics"
	"github.com/lilavathra-tackits/gps-tracker/internal/store"
)

type Thresholds struct {
	RashSpeedKmh    float64
	AccelKmhPerHour float64
	MovementKm      float64
	IdleMinutes     float64
	// MaintenanceDays counts whole days since the latest record.
	MaintenanceDays int
	MaintenanceKm   float64
}

var DefaultThresholds = Thresholds{
	RashSpeedKmh:    80,
	AccelKmhPerHour: 100,
	MovementKm:      0.5,
	IdleMinutes:     10,
	MaintenanceDays: 30,
	MaintenanceKm:   1000,
}

// RuleInput is what a rule sees: the committed sample and its predecessor.
type RuleInput struct {
	Device domain.Device
	Prev   *domain.TelemetrySample
	Sample *domain.TelemetrySample
}

type Finding struct {
	Message string
	Value   float64
	// Instant overrides the alert timestamp; zero means evaluation time.
	Instant time.Time
}

type AlertRule struct {
	Name     string
	Kind     domain.AlertKind
	Evaluate func(in RuleInput) (Finding, bool)
}

// Rules builds the per-sample rule table for t.
func Rules(t Thresholds) []AlertRule {
	return []AlertRule{
		{
			Name: "rash-driving",
			Kind: domain.AlertSpeed,
			Evaluate: func(in RuleInput) (Finding, bool) {
				s := in.Sample
				if s.SpeedKmh <= t.RashSpeedKmh {
					return Finding{}, false
				}
				return Finding{
					Message: fmt.Sprintf("Rash driving: speed %.2f km/h exceeded %.0f km/h at %s",
						s.SpeedKmh, t.RashSpeedKmh, s.Timestamp.Format(time.RFC3339)),
					Value:   s.SpeedKmh,
					Instant: s.Timestamp,
				}, true
			},
		},
		{
			Name: "abnormal-acceleration",
			Kind: domain.AlertSpeed,
			Evaluate: func(in RuleInput) (Finding, bool) {
				if in.Prev == nil || in.Prev.SpeedKmh <= 0 {
					return Finding{}, false
				}
				hours := in.Sample.Timestamp.Sub(in.Prev.Timestamp).Hours()
				if hours <= 0 {
					return Finding{}, false
				}
				accel := (in.Sample.SpeedKmh - in.Prev.SpeedKmh) / hours
				if math.Abs(accel) <= t.AccelKmhPerHour {
					return Finding{}, false
				}
				direction := "increase"
				if accel < 0 {
					direction = "decrease"
				}
				return Finding{
					Message: fmt.Sprintf("Abnormal speed %s: %.2f km/h to %.2f km/h", direction, in.Prev.SpeedKmh, in.Sample.SpeedKmh),
					Value:   in.Sample.SpeedKmh,
					Instant: in.Sample.Timestamp,
				}, true
			},
		},
		{
			Name: "significant-movement",
			Kind: domain.AlertMovement,
			Evaluate: func(in RuleInput) (Finding, bool) {
				if in.Prev == nil {
					return Finding{}, false
				}
				km := geo.Distance(
					geo.Point{Latitude: in.Prev.Latitude, Longitude: in.Prev.Longitude},
					geo.Point{Latitude: in.Sample.Latitude, Longitude: in.Sample.Longitude},
				) / 1000
				if km <= t.MovementKm {
					return Finding{}, false
				}
				return Finding{
					Message: fmt.Sprintf("Device moved significantly: (%v, %v) to (%v, %v)",
						in.Prev.Latitude, in.Prev.Longitude, in.Sample.Latitude, in.Sample.Longitude),
					Value: km,
				}, true
			},
		},
		{
			Name: "idle",
			Kind: domain.AlertIdle,
			Evaluate: func(in RuleInput) (Finding, bool) {
				if in.Prev == nil || in.Sample.SpeedKmh != 0 {
					return Finding{}, false
				}
				minutes := in.Sample.Timestamp.Sub(in.Prev.Timestamp).Minutes()
				if minutes < t.IdleMinutes {
					return Finding{}, false
				}
				mode := "sleep"
				if in.Sample.PowerSource == domain.PowerBattery {
					mode = "off"
				}
				return Finding{
					Message: fmt.Sprintf("Device in %s mode: stationary for %.1f minutes", mode, minutes),
					Value:   minutes,
				}, true
			},
		},
	}
}

type AlertStore interface {
	InsertAlert(ctx context.Context, a domain.Alert) error
	Samples(ctx context.Context, q store.SampleQuery) ([]domain.TelemetrySample, error)
	LatestMaintenance(ctx context.Context, deviceID string) (*domain.MaintenanceRecord, error)
	InsertMaintenance(ctx context.Context, r domain.MaintenanceRecord) error
}

// Notifier fans committed alerts out to live subscribers.
type Notifier interface {
	Dispatch(a domain.Alert)
}

type AlertEvaluator struct {
	db         AlertStore
	notifier   Notifier
	rules      []AlertRule
	thresholds Thresholds
	log        *slog.Logger
	now        func() time.Time
}

func NewAlertEvaluator(db AlertStore, notifier Notifier, t Thresholds, log *slog.Logger) *AlertEvaluator {
	return &AlertEvaluator{
		db:         db,
		notifier:   notifier,
		rules:      Rules(t),
		thresholds: t,
		log:        log,
		now:        time.Now,
	}
}

func (e *AlertEvaluator) SetClock(now func() time.Time) {
	e.now = now
}

// Evaluate runs every rule against sample and the maintenance check. Each
// failed write is logged and joined into the returned error; none stops the
// remaining rules.
func (e *AlertEvaluator) Evaluate(ctx context.Context, device domain.Device, prev, sample *domain.TelemetrySample) error {
	in := RuleInput{Device: device, Prev: prev, Sample: sample}
	var errs []error

	for _, rule := range e.rules {
		finding, ok := rule.Evaluate(in)
		if !ok {
			continue
		}
		if err := e.emit(ctx, device.ID, rule.Kind, finding); err != nil {
			errs = append(errs, fmt.Errorf("rule %s: %w", rule.Name, err))
		}
	}

	if err := e.checkMaintenance(ctx, device); err != nil {
		errs = append(errs, fmt.Errorf("maintenance: %w", err))
	}

	return errors.Join(errs...)
}

func (e *AlertEvaluator) checkMaintenance(ctx context.Context, device domain.Device) error {
	history, err := e.db.Samples(ctx, store.SampleQuery{DeviceID: device.ID})
	if err != nil {
		return fmt.Errorf("load history: %w", err)
	}
	points := make([]geo.Point, len(history))
	for i, s := range history {
		points[i] = geo.Point{Latitude: s.Latitude, Longitude: s.Longitude, Timestamp: s.Timestamp}
	}
	totalKm := geo.TotalDistance(points) / 1000

	last, err := e.db.LatestMaintenance(ctx, device.ID)
	if err != nil {
		return fmt.Errorf("load latest record: %w", err)
	}

	now := e.now().UTC()
	due := last == nil ||
		wholeDays(now.Sub(last.Timestamp)) > e.thresholds.MaintenanceDays ||
		totalKm > e.thresholds.MaintenanceKm
	if !due {
		return nil
	}

	record := domain.MaintenanceRecord{
		ID:        uuid.NewString(),
		DeviceID:  device.ID,
		Status:    domain.MaintenanceRequired,
		Timestamp: now,
	}
	if err := e.db.InsertMaintenance(ctx, record); err != nil {
		metrics.AlertWriteFailures.Add(1)
		e.log.Error("maintenance record insert failed", "device_id", device.ID, "error", err)
		return err
	}

	return e.emit(ctx, device.ID, domain.AlertMaintenance, Finding{
		Message: fmt.Sprintf("Device %s requires maintenance: %.1f km travelled", device.Name(), totalKm),
		Value:   totalKm,
	})
}

func (e *AlertEvaluator) emit(ctx context.Context, deviceID string, kind domain.AlertKind, f Finding) error {
	now := e.now().UTC()
	ts := f.Instant
	if ts.IsZero() {
		ts = now
	}
	alert := domain.Alert{
		ID:        uuid.NewString(),
		DeviceID:  deviceID,
		Kind:      kind,
		Message:   f.Message,
		Value:     f.Value,
		Timestamp: ts,
		CreatedAt: now,
	}

	if err := e.db.InsertAlert(ctx, alert); err != nil {
		metrics.AlertWriteFailures.Add(1)
		e.log.Error("alert insert failed", "device_id", deviceID, "kind", kind, "error", err)
		return err
	}
	metrics.AlertsEmitted.Add(1)
	e.log.Info("alert emitted", "device_id", deviceID, "kind", kind, "value", f.Value)

	if e.notifier != nil {
		e.notifier.Dispatch(alert)
	}
	return nil
}

func wholeDays(d time.Duration) int {
	return int(d / (24 * time.Hour))
}
