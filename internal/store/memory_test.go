package store

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lilavathra-tackits/gps-tracker/internal/domain"
)

func TestMemoryStoreEnforcesUniqueTimestamp(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()
	ts := time.Date(2026, 5, 1, 10, 0, 0, 0, time.UTC)

	require.NoError(t, s.InsertSample(ctx, &domain.TelemetrySample{DeviceID: "a", Timestamp: ts}))
	err := s.InsertSample(ctx, &domain.TelemetrySample{DeviceID: "a", Timestamp: ts})
	assert.True(t, errors.Is(err, domain.ErrDuplicateTimestamp))

	// other devices are independent
	require.NoError(t, s.InsertSample(ctx, &domain.TelemetrySample{DeviceID: "b", Timestamp: ts}))
}

func TestMemoryStoreSamplesWindowAndLimit(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()
	base := time.Date(2026, 5, 1, 10, 0, 0, 0, time.UTC)

	// inserted out of order on purpose
	for _, m := range []int{3, 0, 4, 1, 2} {
		require.NoError(t, s.InsertSample(ctx, &domain.TelemetrySample{DeviceID: "a", Timestamp: base.Add(time.Duration(m) * time.Minute)}))
	}

	all, err := s.Samples(ctx, SampleQuery{DeviceID: "a"})
	require.NoError(t, err)
	require.Len(t, all, 5)
	for i := 1; i < len(all); i++ {
		assert.True(t, all[i-1].Timestamp.Before(all[i].Timestamp))
	}

	window, err := s.Samples(ctx, SampleQuery{DeviceID: "a", Since: base.Add(time.Minute), Until: base.Add(4 * time.Minute), Limit: 2})
	require.NoError(t, err)
	require.Len(t, window, 2)
	assert.Equal(t, base.Add(2*time.Minute), window[0].Timestamp)
	assert.Equal(t, base.Add(3*time.Minute), window[1].Timestamp)

	latest, err := s.LatestSample(ctx, "a")
	require.NoError(t, err)
	assert.Equal(t, base.Add(4*time.Minute), latest.Timestamp)
}

func TestMemoryStoreMaintenanceNewestFirst(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()
	base := time.Date(2026, 5, 1, 10, 0, 0, 0, time.UTC)

	require.NoError(t, s.InsertMaintenance(ctx, domain.MaintenanceRecord{DeviceID: "a", Status: "old", Timestamp: base}))
	require.NoError(t, s.InsertMaintenance(ctx, domain.MaintenanceRecord{DeviceID: "a", Status: "new", Timestamp: base.Add(time.Hour)}))

	latest, err := s.LatestMaintenance(ctx, "a")
	require.NoError(t, err)
	assert.Equal(t, "new", latest.Status)

	none, err := s.LatestMaintenance(ctx, "b")
	require.NoError(t, err)
	assert.Nil(t, none)
}

func TestMemoryCacheExpiry(t *testing.T) {
	now := time.Date(2026, 5, 1, 10, 0, 0, 0, time.UTC)
	c := NewMemoryCache(func() time.Time { return now })
	ctx := context.Background()

	require.NoError(t, c.SetLastState(ctx, "a", domain.LastKnownState{Charge: 40}, time.Hour))

	got, err := c.GetLastState(ctx, "a")
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, 40, got.Charge)

	now = now.Add(time.Hour)
	got, err = c.GetLastState(ctx, "a")
	require.NoError(t, err)
	assert.Nil(t, got)
}
