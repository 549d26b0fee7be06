package store

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/lilavathra-tackits/gps-tracker/internal/domain"
)

// MemoryStore is a process-local stand-in for TimescaleStore with the same
// contract, including the (device, timestamp) uniqueness check. Package
// tests across the module run the pipeline against it.
type MemoryStore struct {
	mu          sync.RWMutex
	devices     map[string]domain.Device
	samples     map[string][]domain.TelemetrySample
	alerts      []domain.Alert
	maintenance map[string][]domain.MaintenanceRecord
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		devices:     make(map[string]domain.Device),
		samples:     make(map[string][]domain.TelemetrySample),
		maintenance: make(map[string][]domain.MaintenanceRecord),
	}
}

func (s *MemoryStore) PutDevice(d domain.Device) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.devices[d.ID] = d
}

func (s *MemoryStore) ListDevices(ctx context.Context) ([]domain.Device, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]domain.Device, 0, len(s.devices))
	for _, d := range s.devices {
		out = append(out, d)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (s *MemoryStore) GetDevice(ctx context.Context, deviceID string) (domain.Device, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	d, ok := s.devices[deviceID]
	if !ok {
		return d, fmt.Errorf("%w: %s", domain.ErrDeviceNotFound, deviceID)
	}
	return d, nil
}

func (s *MemoryStore) InsertSample(ctx context.Context, m *domain.TelemetrySample) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	rows := s.samples[m.DeviceID]
	i := sort.Search(len(rows), func(i int) bool { return !rows[i].Timestamp.Before(m.Timestamp) })
	if i < len(rows) && rows[i].Timestamp.Equal(m.Timestamp) {
		return fmt.Errorf("%w: %s at %s", domain.ErrDuplicateTimestamp, m.DeviceID, m.Timestamp.Format(time.RFC3339Nano))
	}

	rows = append(rows, domain.TelemetrySample{})
	copy(rows[i+1:], rows[i:])
	rows[i] = *m
	s.samples[m.DeviceID] = rows
	return nil
}

func (s *MemoryStore) LatestSample(ctx context.Context, deviceID string) (*domain.TelemetrySample, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rows := s.samples[deviceID]
	if len(rows) == 0 {
		return nil, nil
	}
	latest := rows[len(rows)-1]
	return &latest, nil
}

func (s *MemoryStore) Samples(ctx context.Context, q SampleQuery) ([]domain.TelemetrySample, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []domain.TelemetrySample
	for _, m := range s.samples[q.DeviceID] {
		if !q.Since.IsZero() && m.Timestamp.Before(q.Since) {
			continue
		}
		if !q.Until.IsZero() && !m.Timestamp.Before(q.Until) {
			continue
		}
		out = append(out, m)
	}
	if q.Limit > 0 && len(out) > q.Limit {
		out = out[len(out)-q.Limit:]
	}
	return out, nil
}

func (s *MemoryStore) InsertAlert(ctx context.Context, a domain.Alert) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.alerts = append(s.alerts, a)
	return nil
}

func (s *MemoryStore) Alerts(ctx context.Context, q AlertQuery) ([]domain.Alert, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	wanted := make(map[string]bool, len(q.DeviceIDs))
	for _, id := range q.DeviceIDs {
		wanted[id] = true
	}

	var out []domain.Alert
	for _, a := range s.alerts {
		if len(wanted) > 0 && !wanted[a.DeviceID] {
			continue
		}
		if q.Kind != "" && a.Kind != q.Kind {
			continue
		}
		if !q.Since.IsZero() && a.Timestamp.Before(q.Since) {
			continue
		}
		out = append(out, a)
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].Timestamp.After(out[j].Timestamp) })
	if q.Limit > 0 && len(out) > q.Limit {
		out = out[:q.Limit]
	}
	return out, nil
}

func (s *MemoryStore) InsertMaintenance(ctx context.Context, r domain.MaintenanceRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.maintenance[r.DeviceID] = append(s.maintenance[r.DeviceID], r)
	return nil
}

func (s *MemoryStore) LatestMaintenance(ctx context.Context, deviceID string) (*domain.MaintenanceRecord, error) {
	records, _ := s.MaintenanceHistory(ctx, deviceID)
	if len(records) == 0 {
		return nil, nil
	}
	return &records[0], nil
}

func (s *MemoryStore) MaintenanceHistory(ctx context.Context, deviceID string) ([]domain.MaintenanceRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := append([]domain.MaintenanceRecord(nil), s.maintenance[deviceID]...)
	sort.SliceStable(out, func(i, j int) bool { return out[i].Timestamp.After(out[j].Timestamp) })
	return out, nil
}

type cacheEntry struct {
	state     domain.LastKnownState
	expiresAt time.Time
}

// MemoryCache is a last-known-state cache for single-process deployments.
type MemoryCache struct {
	mu      sync.RWMutex
	entries map[string]cacheEntry
	now     func() time.Time
}

func NewMemoryCache(now func() time.Time) *MemoryCache {
	if now == nil {
		now = time.Now
	}
	return &MemoryCache{entries: make(map[string]cacheEntry), now: now}
}

func (c *MemoryCache) GetLastState(ctx context.Context, deviceID string) (*domain.LastKnownState, error) {
	c.mu.RLock()
	entry, ok := c.entries[deviceID]
	c.mu.RUnlock()

	if !ok {
		return nil, nil
	}
	if !entry.expiresAt.IsZero() && !c.now().Before(entry.expiresAt) {
		return nil, nil
	}
	state := entry.state
	return &state, nil
}

func (c *MemoryCache) SetLastState(ctx context.Context, deviceID string, state domain.LastKnownState, ttl time.Duration) error {
	entry := cacheEntry{state: state}
	if ttl > 0 {
		entry.expiresAt = c.now().Add(ttl)
	}

	c.mu.Lock()
	c.entries[deviceID] = entry
	c.mu.Unlock()
	return nil
}
