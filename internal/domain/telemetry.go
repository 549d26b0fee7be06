package domain

import "time"

type PowerSource string

const (
	PowerBattery PowerSource = "battery"
	PowerDirect  PowerSource = "direct"
)

func (p PowerSource) Valid() bool {
	return p == PowerBattery || p == PowerDirect
}

// Device is provisioned externally; the pipeline only reads it.
type Device struct {
	ID                    string
	Secret                string
	Alias                 string
	UpdateIntervalMinutes int
}

// UpdateInterval is the configured base reporting interval.
func (d Device) UpdateInterval() time.Duration {
	return time.Duration(d.UpdateIntervalMinutes) * time.Minute
}

func (d Device) Name() string {
	if d.Alias != "" {
		return d.Alias
	}
	return d.ID
}

type TelemetrySample struct {
	DeviceID string

	Latitude  float64
	Longitude float64
	Altitude  float64

	SpeedKmh    float64
	Heading     float64
	Charge      int
	PowerSource PowerSource

	Timestamp  time.Time
	ReceivedAt time.Time

	RawPayload []byte
}

// LastKnownState is the cached projection of a device's latest committed sample.
type LastKnownState struct {
	Latitude    float64     `json:"latitude"`
	Longitude   float64     `json:"longitude"`
	Timestamp   time.Time   `json:"timestamp"`
	Charge      int         `json:"charge"`
	SpeedKmh    float64     `json:"speed"`
	PowerSource PowerSource `json:"power_source"`
	CachedAt    time.Time   `json:"cached_at"`
}

func StateFromSample(s *TelemetrySample, cachedAt time.Time) LastKnownState {
	return LastKnownState{
		Latitude:    s.Latitude,
		Longitude:   s.Longitude,
		Timestamp:   s.Timestamp,
		Charge:      s.Charge,
		SpeedKmh:    s.SpeedKmh,
		PowerSource: s.PowerSource,
		CachedAt:    cachedAt,
	}
}

// Sample rebuilds the subset of a TelemetrySample the cache retains.
func (s LastKnownState) Sample(deviceID string) *TelemetrySample {
	return &TelemetrySample{
		DeviceID:    deviceID,
		Latitude:    s.Latitude,
		Longitude:   s.Longitude,
		Timestamp:   s.Timestamp,
		Charge:      s.Charge,
		SpeedKmh:    s.SpeedKmh,
		PowerSource: s.PowerSource,
	}
}

// Expired reports whether the entry has outlived ttl at now.
func (s LastKnownState) Expired(now time.Time, ttl time.Duration) bool {
	if ttl <= 0 || s.CachedAt.IsZero() {
		return false
	}
	return now.Sub(s.CachedAt) > ttl
}
