package query

import (
	"context"
	"fmt"
	"time"

	"github.com/lilavathra-tackits/gps-tracker/internal/domain"
	"github.com/lilavathra-tackits/gps-tracker/internal/geo"
	"github.com/lilavathra-tackits/gps-tracker/internal/store"
)

type Reader interface {
	LatestSample(ctx context.Context, deviceID string) (*domain.TelemetrySample, error)
	Samples(ctx context.Context, q store.SampleQuery) ([]domain.TelemetrySample, error)
	Alerts(ctx context.Context, q store.AlertQuery) ([]domain.Alert, error)
	MaintenanceHistory(ctx context.Context, deviceID string) ([]domain.MaintenanceRecord, error)
}

type Options struct {
	// ActiveWindow is how recent the latest sample must be for a device to count as active.
	ActiveWindow time.Duration
	RashSpeedKmh float64
	IdleMinutes  float64
}

type Status struct {
	DeviceID   string     `json:"device_id"`
	Active     bool       `json:"active"`
	LastSeenAt *time.Time `json:"last_seen_at,omitempty"`
}

type Summary struct {
	DeviceID          string  `json:"device_id"`
	Samples           int     `json:"samples"`
	TotalDistanceKm   float64 `json:"total_distance_km"`
	AverageSpeedKmh   float64 `json:"average_speed_kmh"`
	MaxSpeedKmh       float64 `json:"max_speed_kmh"`
	MinSpeedKmh       float64 `json:"min_speed_kmh"`
	WeeklyDistanceKm  float64 `json:"weekly_distance_km"`
	WeeklyAvgSpeedKmh float64 `json:"weekly_average_speed_kmh"`
	RashDrivingCount  int     `json:"rash_driving_instances"`
	StatusChanges     int     `json:"vehicle_status_changes"`
}

// Service answers read-only questions about device history. Nothing here
// writes to storage or the cache.
type Service struct {
	db   Reader
	opts Options
	now  func() time.Time
}

func NewService(db Reader, opts Options) *Service {
	if opts.ActiveWindow <= 0 {
		opts.ActiveWindow = 10 * time.Minute
	}
	if opts.RashSpeedKmh <= 0 {
		opts.RashSpeedKmh = 80
	}
	if opts.IdleMinutes <= 0 {
		opts.IdleMinutes = 10
	}
	return &Service{db: db, opts: opts, now: time.Now}
}

func (s *Service) SetClock(now func() time.Time) {
	s.now = now
}

// Latest returns nil when the device has never reported.
func (s *Service) Latest(ctx context.Context, deviceID string) (*domain.TelemetrySample, error) {
	return s.db.LatestSample(ctx, deviceID)
}

// Samples returns samples in [since, now), at most the most recent limit
// when limit is positive, in ascending time order.
func (s *Service) Samples(ctx context.Context, deviceID string, since time.Time, limit int) ([]domain.TelemetrySample, error) {
	return s.db.Samples(ctx, store.SampleQuery{
		DeviceID: deviceID,
		Since:    since,
		Until:    s.now(),
		Limit:    limit,
	})
}

// TotalDistance is the path length in meters over samples in [since, until).
func (s *Service) TotalDistance(ctx context.Context, deviceID string, since, until time.Time) (float64, error) {
	samples, err := s.db.Samples(ctx, store.SampleQuery{DeviceID: deviceID, Since: since, Until: until})
	if err != nil {
		return 0, fmt.Errorf("load samples: %w", err)
	}
	return geo.TotalDistance(points(samples)), nil
}

func (s *Service) Status(ctx context.Context, deviceID string) (Status, error) {
	latest, err := s.db.LatestSample(ctx, deviceID)
	if err != nil {
		return Status{}, err
	}
	st := Status{DeviceID: deviceID}
	if latest != nil {
		ts := latest.Timestamp
		st.LastSeenAt = &ts
		st.Active = s.now().Sub(ts) < s.opts.ActiveWindow
	}
	return st, nil
}

type AlertFilter struct {
	DeviceIDs []string
	Kind      domain.AlertKind
	Since     time.Time
	Limit     int
}

// Alerts lists alerts newest first.
func (s *Service) Alerts(ctx context.Context, f AlertFilter) ([]domain.Alert, error) {
	return s.db.Alerts(ctx, store.AlertQuery{
		DeviceIDs: f.DeviceIDs,
		Kind:      f.Kind,
		Since:     f.Since,
		Limit:     f.Limit,
	})
}

func (s *Service) MaintenanceHistory(ctx context.Context, deviceID string) ([]domain.MaintenanceRecord, error) {
	return s.db.MaintenanceHistory(ctx, deviceID)
}

// Summary aggregates a device's full history into dashboard metrics.
func (s *Service) Summary(ctx context.Context, deviceID string) (Summary, error) {
	sum := Summary{DeviceID: deviceID}

	samples, err := s.db.Samples(ctx, store.SampleQuery{DeviceID: deviceID})
	if err != nil {
		return sum, fmt.Errorf("load samples: %w", err)
	}
	if len(samples) == 0 {
		return sum, nil
	}

	sum.Samples = len(samples)
	sum.TotalDistanceKm = geo.TotalDistance(points(samples)) / 1000
	sum.AverageSpeedKmh, sum.MaxSpeedKmh, sum.MinSpeedKmh = speedStats(samples)

	weekAgo := s.now().Add(-7 * 24 * time.Hour)
	first := len(samples)
	for i, m := range samples {
		if !m.Timestamp.Before(weekAgo) {
			first = i
			break
		}
	}
	weekly := samples[first:]
	sum.WeeklyDistanceKm = geo.TotalDistance(points(weekly)) / 1000
	sum.WeeklyAvgSpeedKmh, _, _ = speedStats(weekly)

	alerts, err := s.db.Alerts(ctx, store.AlertQuery{DeviceIDs: []string{deviceID}, Kind: domain.AlertSpeed})
	if err != nil {
		return sum, fmt.Errorf("load alerts: %w", err)
	}
	for _, a := range alerts {
		if a.Value > s.opts.RashSpeedKmh {
			sum.RashDrivingCount++
		}
	}

	sum.StatusChanges = statusChanges(samples, s.opts.IdleMinutes)
	return sum, nil
}

func points(samples []domain.TelemetrySample) []geo.Point {
	pts := make([]geo.Point, len(samples))
	for i, m := range samples {
		pts[i] = geo.Point{Latitude: m.Latitude, Longitude: m.Longitude, Timestamp: m.Timestamp}
	}
	return pts
}

func speedStats(samples []domain.TelemetrySample) (avg, hi, lo float64) {
	if len(samples) == 0 {
		return 0, 0, 0
	}
	lo = samples[0].SpeedKmh
	var total float64
	for _, m := range samples {
		total += m.SpeedKmh
		hi = max(hi, m.SpeedKmh)
		lo = min(lo, m.SpeedKmh)
	}
	return total / float64(len(samples)), hi, lo
}

// statusChanges counts on/off transitions. A switch to off only counts once
// the gap since the previous sample reaches idleMinutes.
func statusChanges(samples []domain.TelemetrySample, idleMinutes float64) int {
	changes := 0
	var (
		lastOn bool
		lastTS time.Time
	)
	for i, m := range samples {
		on := m.SpeedKmh > 0
		switch {
		case i == 0:
			lastOn = on
		case on != lastOn:
			if on || m.Timestamp.Sub(lastTS).Minutes() >= idleMinutes {
				changes++
				lastOn = on
			}
		}
		lastTS = m.Timestamp
	}
	return changes
}
