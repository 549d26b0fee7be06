package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/lilavathra-tackits/gps-tracker/internal/domain"
	"github.com/lilavathra-tackits/gps-tracker/internal/geo"
	"github.com/lilavathra-tackits/gps-tracker/internal/metrics"
)

// TimestampStep is the nudge applied to a duplicate timestamp: the
// resolution of a TIMESTAMPTZ column.
const TimestampStep = time.Microsecond

const DefaultMaxClockSkew = 5 * time.Minute

type SampleStore interface {
	LatestSample(ctx context.Context, deviceID string) (*domain.TelemetrySample, error)
	InsertSample(ctx context.Context, m *domain.TelemetrySample) error
}

type StateCache interface {
	GetLastState(ctx context.Context, deviceID string) (*domain.LastKnownState, error)
	SetLastState(ctx context.Context, deviceID string, state domain.LastKnownState, ttl time.Duration) error
}

type SampleEvaluator interface {
	Evaluate(ctx context.Context, device domain.Device, prev, sample *domain.TelemetrySample) error
}

type IngestOptions struct {
	CacheTTL time.Duration
	// GateDirectPush extends the interval gate to pushed direct-power samples.
	GateDirectPush bool
	// MaxClockSkew is how far past the receiving clock a timestamp may lie.
	MaxClockSkew time.Duration
}

type Ingestor struct {
	store     SampleStore
	cache     StateCache
	evaluator SampleEvaluator
	opts      IngestOptions
	log       *slog.Logger
	now       func() time.Time
}

func NewIngestor(
	store SampleStore,
	cache StateCache,
	evaluator SampleEvaluator,
	opts IngestOptions,
	log *slog.Logger,
) *Ingestor {
	if opts.CacheTTL <= 0 {
		opts.CacheTTL = time.Hour
	}
	if opts.MaxClockSkew <= 0 {
		opts.MaxClockSkew = DefaultMaxClockSkew
	}
	return &Ingestor{
		store:     store,
		cache:     cache,
		evaluator: evaluator,
		opts:      opts,
		log:       log,
		now:       time.Now,
	}
}

// SetClock replaces the wall clock used for receipt times and cache stamps.
func (i *Ingestor) SetClock(now func() time.Time) {
	i.now = now
}

// Ingest validates raw and commits it as the device's next sample.
func (i *Ingestor) Ingest(ctx context.Context, device domain.Device, raw RawSample) (*domain.TelemetrySample, error) {
	metrics.SamplesReceived.Add(1)

	receivedAt := i.now().UTC()
	reading, err := ParseSample(raw)
	if err != nil {
		metrics.SamplesInvalid.Add(1)
		return nil, err
	}
	if limit := receivedAt.Add(i.opts.MaxClockSkew); reading.Timestamp.After(limit) {
		metrics.SamplesInvalid.Add(1)
		return nil, fmt.Errorf("%w: timestamp %s is ahead of server time %s by more than %s",
			domain.ErrInvalidPayload, reading.Timestamp.Format(time.RFC3339Nano),
			receivedAt.Format(time.RFC3339Nano), i.opts.MaxClockSkew)
	}

	prev, err := i.LastSample(ctx, device.ID)
	if err != nil {
		metrics.PersistenceFailures.Add(1)
		return nil, fmt.Errorf("%w: load previous sample: %w", domain.ErrPersistence, err)
	}

	if prev != nil {
		elapsed := reading.Timestamp.Sub(prev.Timestamp)
		if i.gated(reading.PowerSource, raw.Origin) && elapsed < device.UpdateInterval() {
			metrics.SamplesTooSoon.Add(1)
			return nil, fmt.Errorf("%w: %s since last sample, interval is %s",
				domain.ErrTooSoon, elapsed, device.UpdateInterval())
		}
		if elapsed < 0 {
			metrics.SamplesStale.Add(1)
			return nil, fmt.Errorf("%w: timestamp %s precedes last sample at %s",
				domain.ErrStale, reading.Timestamp.Format(time.RFC3339Nano), prev.Timestamp.Format(time.RFC3339Nano))
		}
	}

	sample := &domain.TelemetrySample{
		DeviceID:    device.ID,
		Latitude:    reading.Latitude,
		Longitude:   reading.Longitude,
		Altitude:    reading.Altitude,
		SpeedKmh:    reading.SpeedKmh,
		Heading:     reading.Heading,
		Charge:      reading.Charge,
		PowerSource: reading.PowerSource,
		Timestamp:   reading.Timestamp,
		ReceivedAt:  receivedAt,
		RawPayload:  raw.Payload,
	}

	// Kinematics use the reported instant, so a repeated report reads as stationary.
	var prevPoint *geo.Point
	if prev != nil {
		prevPoint = &geo.Point{Latitude: prev.Latitude, Longitude: prev.Longitude, Timestamp: prev.Timestamp}
	}
	curr := geo.Point{Latitude: sample.Latitude, Longitude: sample.Longitude, Timestamp: sample.Timestamp}
	if sample.SpeedKmh == 0 {
		sample.SpeedKmh = geo.Speed(prevPoint, curr)
	}
	if sample.Heading == 0 {
		sample.Heading = geo.Heading(prevPoint, curr)
	}

	if prev != nil && prev.Timestamp.Equal(sample.Timestamp) {
		sample.Timestamp = sample.Timestamp.Add(TimestampStep)
		metrics.TimestampNudges.Add(1)
		i.log.Debug("duplicate timestamp nudged", "device_id", device.ID, "timestamp", sample.Timestamp)
	}

	if err := i.commit(ctx, sample); err != nil {
		return nil, err
	}
	metrics.SamplesCommitted.Add(1)

	state := domain.StateFromSample(sample, i.now())
	if err := i.cache.SetLastState(ctx, device.ID, state, i.opts.CacheTTL); err != nil {
		metrics.CacheErrors.Add(1)
		i.log.Warn("cache update failed", "device_id", device.ID, "error", err)
	}

	if i.evaluator != nil {
		if err := i.evaluator.Evaluate(ctx, device, prev, sample); err != nil {
			i.log.Error("evaluation failed", "device_id", device.ID, "error", err)
		}
	}

	return sample, nil
}

// LastSample returns the device's most recent committed sample from the
// cache, falling back to durable storage. A nil sample means none is known.
func (i *Ingestor) LastSample(ctx context.Context, deviceID string) (*domain.TelemetrySample, error) {
	state, err := i.cache.GetLastState(ctx, deviceID)
	if err != nil {
		metrics.CacheErrors.Add(1)
		i.log.Warn("cache read failed", "device_id", deviceID, "error", err)
	}
	if state != nil {
		metrics.CacheHits.Add(1)
		return state.Sample(deviceID), nil
	}
	metrics.CacheMisses.Add(1)
	return i.store.LatestSample(ctx, deviceID)
}

func (i *Ingestor) gated(power domain.PowerSource, origin Origin) bool {
	switch {
	case origin == OriginAdmin:
		return false
	case power == domain.PowerBattery:
		return true
	default:
		return origin == OriginPush && i.opts.GateDirectPush
	}
}

// commit inserts sample, re-resolving the timestamp once if a concurrent
// writer claimed it first.
func (i *Ingestor) commit(ctx context.Context, sample *domain.TelemetrySample) error {
	err := i.store.InsertSample(ctx, sample)
	if err == nil {
		return nil
	}
	if !errors.Is(err, domain.ErrDuplicateTimestamp) {
		metrics.PersistenceFailures.Add(1)
		return fmt.Errorf("%w: %w", domain.ErrPersistence, err)
	}

	latest, lerr := i.store.LatestSample(ctx, sample.DeviceID)
	if lerr != nil {
		metrics.PersistenceFailures.Add(1)
		return fmt.Errorf("%w: reload latest sample: %w", domain.ErrPersistence, lerr)
	}
	next := sample.Timestamp.Add(TimestampStep)
	if latest != nil && !latest.Timestamp.Before(sample.Timestamp) {
		next = latest.Timestamp.Add(TimestampStep)
	}
	i.log.Warn("timestamp collision on insert, retrying",
		"device_id", sample.DeviceID, "timestamp", sample.Timestamp, "retry_timestamp", next)
	sample.Timestamp = next
	metrics.TimestampNudges.Add(1)

	err = i.store.InsertSample(ctx, sample)
	switch {
	case err == nil:
		return nil
	case errors.Is(err, domain.ErrDuplicateTimestamp):
		metrics.SampleConflicts.Add(1)
		return fmt.Errorf("%w: %w", domain.ErrConflict, err)
	default:
		metrics.PersistenceFailures.Add(1)
		return fmt.Errorf("%w: %w", domain.ErrPersistence, err)
	}
}
