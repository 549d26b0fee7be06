package scheduler

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/lilavathra-tackits/gps-tracker/internal/domain"
	"github.com/lilavathra-tackits/gps-tracker/internal/metrics"
	"github.com/lilavathra-tackits/gps-tracker/internal/pipeline"
)

const DefaultDirectInterval = 4 * time.Second

type DeviceLister interface {
	ListDevices(ctx context.Context) ([]domain.Device, error)
}

type Fetcher interface {
	Fetch(ctx context.Context, device domain.Device) (pipeline.RawSample, error)
}

type Ingestor interface {
	LastSample(ctx context.Context, deviceID string) (*domain.TelemetrySample, error)
	Ingest(ctx context.Context, device domain.Device, raw pipeline.RawSample) (*domain.TelemetrySample, error)
}

type Options struct {
	Workers        int
	DirectInterval time.Duration
	// DeviceTimeout bounds one device's fetch and ingest, including after shutdown starts.
	DeviceTimeout time.Duration
}

type Scheduler struct {
	devices  DeviceLister
	fetcher  Fetcher
	ingestor Ingestor
	opts     Options
	log      *slog.Logger
	now      func() time.Time
}

func New(devices DeviceLister, fetcher Fetcher, ingestor Ingestor, opts Options, log *slog.Logger) *Scheduler {
	if opts.Workers <= 0 {
		opts.Workers = 1
	}
	if opts.DirectInterval <= 0 {
		opts.DirectInterval = DefaultDirectInterval
	}
	if opts.DeviceTimeout <= 0 {
		opts.DeviceTimeout = 15 * time.Second
	}
	return &Scheduler{
		devices:  devices,
		fetcher:  fetcher,
		ingestor: ingestor,
		opts:     opts,
		log:      log,
		now:      time.Now,
	}
}

func (s *Scheduler) SetClock(now func() time.Time) {
	s.now = now
}

// Run sweeps until ctx is cancelled, sleeping between sweeps for the
// shortest interval any device asked for.
func (s *Scheduler) Run(ctx context.Context) {
	s.log.Info("poll scheduler started", "workers", s.opts.Workers)
	for {
		wait := s.Sweep(ctx)

		timer := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			timer.Stop()
			s.log.Info("poll scheduler stopped")
			return
		case <-timer.C:
		}
	}
}

// Sweep polls every due device once and returns the minimum effective
// interval across devices. In-flight device work is allowed to finish
// when ctx is cancelled; no new work starts.
func (s *Scheduler) Sweep(ctx context.Context) time.Duration {
	devices, err := s.devices.ListDevices(ctx)
	if err != nil {
		s.log.Error("list devices failed", "error", err)
		return s.opts.DirectInterval
	}
	if len(devices) == 0 {
		return s.opts.DirectInterval
	}

	intervals := make([]time.Duration, len(devices))
	var g errgroup.Group
	g.SetLimit(s.opts.Workers)

	for i, device := range devices {
		if ctx.Err() != nil {
			break
		}
		i, device := i, device
		g.Go(func() error {
			workCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), s.opts.DeviceTimeout)
			defer cancel()
			intervals[i] = s.pollDevice(workCtx, device)
			return nil
		})
	}
	_ = g.Wait()
	metrics.SweepsCompleted.Add(1)

	sleep := time.Duration(0)
	for _, iv := range intervals {
		if iv > 0 && (sleep == 0 || iv < sleep) {
			sleep = iv
		}
	}
	if sleep == 0 {
		sleep = s.opts.DirectInterval
	}
	return sleep
}

// Interval is the polling cadence implied by the device's last known power source.
func (s *Scheduler) Interval(device domain.Device, last *domain.TelemetrySample) time.Duration {
	if last != nil && last.PowerSource == domain.PowerBattery && device.UpdateInterval() > 0 {
		return device.UpdateInterval()
	}
	return s.opts.DirectInterval
}

func (s *Scheduler) pollDevice(ctx context.Context, device domain.Device) time.Duration {
	log := s.log.With("device_id", device.ID)

	last, err := s.ingestor.LastSample(ctx, device.ID)
	if err != nil {
		log.Warn("previous sample lookup failed", "error", err)
		return s.opts.DirectInterval
	}
	interval := s.Interval(device, last)

	if last != nil && s.now().Before(last.Timestamp.Add(interval)) {
		metrics.DevicesSkipped.Add(1)
		return interval
	}

	raw, err := s.fetcher.Fetch(ctx, device)
	if errors.Is(err, domain.ErrInvalidPayload) {
		metrics.SamplesInvalid.Add(1)
		log.Warn("upstream response rejected", "error", err)
		return interval
	}
	if err != nil {
		metrics.UpstreamFailures.Add(1)
		log.Warn("upstream fetch failed", "error", err)
		return interval
	}
	metrics.DevicesPolled.Add(1)

	sample, err := s.ingestor.Ingest(ctx, device, raw)
	switch {
	case err == nil:
		log.Debug("sample ingested", "timestamp", sample.Timestamp, "speed_kmh", sample.SpeedKmh)
		interval = s.Interval(device, sample)
	case errors.Is(err, domain.ErrTooSoon):
		log.Debug("sample not yet due", "error", err)
	case errors.Is(err, domain.ErrStale):
		log.Debug("upstream returned an already committed fix", "error", err)
	case errors.Is(err, domain.ErrInvalidPayload):
		log.Warn("upstream sample rejected", "error", err)
	case errors.Is(err, domain.ErrConflict):
		log.Error("timestamp conflict", "error", err)
	default:
		log.Error("ingest failed", "error", err)
	}
	return interval
}
