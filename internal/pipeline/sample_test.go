package pipeline

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lilavathra-tackits/gps-tracker/internal/domain"
)

func validRaw() RawSample {
	return RawSample{
		Latitude:    json.RawMessage(`12.9716`),
		Longitude:   json.RawMessage(`"77.5946"`),
		Charge:      json.RawMessage(`"88"`),
		Timestamp:   json.RawMessage(`"2024-03-01T12:00:00.1234567+05:30"`),
		PowerSource: json.RawMessage(`"Battery"`),
	}
}

func TestParseSample_Valid(t *testing.T) {
	r, err := ParseSample(validRaw())
	require.NoError(t, err)

	assert.Equal(t, 12.9716, r.Latitude)
	assert.Equal(t, 77.5946, r.Longitude)
	assert.Equal(t, 88, r.Charge)
	assert.Equal(t, domain.PowerBattery, r.PowerSource)
	assert.Equal(t, time.Date(2024, 3, 1, 6, 30, 0, 123456000, time.UTC), r.Timestamp)
	assert.Equal(t, 0.0, r.Altitude)
	assert.Equal(t, 0.0, r.SpeedKmh)
}

func TestParseSample_MissingFields(t *testing.T) {
	raw := validRaw()
	raw.Latitude = nil
	raw.PowerSource = json.RawMessage(`null`)

	_, err := ParseSample(raw)
	require.ErrorIs(t, err, domain.ErrInvalidPayload)
	assert.Contains(t, err.Error(), "latitude")
	assert.Contains(t, err.Error(), "power_source")
}

func TestParseSample_Rejects(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(r *RawSample)
	}{
		{"latitude out of range", func(r *RawSample) { r.Latitude = json.RawMessage(`-90.5`) }},
		{"longitude out of range", func(r *RawSample) { r.Longitude = json.RawMessage(`181`) }},
		{"latitude not numeric", func(r *RawSample) { r.Latitude = json.RawMessage(`"north"`) }},
		{"fractional charge", func(r *RawSample) { r.Charge = json.RawMessage(`50.5`) }},
		{"charge above 100", func(r *RawSample) { r.Charge = json.RawMessage(`101`) }},
		{"negative speed", func(r *RawSample) { r.Speed = json.RawMessage(`-1`) }},
		{"heading of 360", func(r *RawSample) { r.Heading = json.RawMessage(`360`) }},
		{"timestamp without offset", func(r *RawSample) { r.Timestamp = json.RawMessage(`"2024-03-01T12:00:00"`) }},
		{"numeric timestamp", func(r *RawSample) { r.Timestamp = json.RawMessage(`1709294400`) }},
		{"unknown power source", func(r *RawSample) { r.PowerSource = json.RawMessage(`"solar"`) }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			raw := validRaw()
			tt.mutate(&raw)
			_, err := ParseSample(raw)
			assert.ErrorIs(t, err, domain.ErrInvalidPayload)
		})
	}
}

func TestParseTimestamp(t *testing.T) {
	want := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)

	for _, in := range []string{
		"2024-03-01T12:00:00Z",
		"2024-03-01T12:00:00+00:00",
		"2024-03-01 12:00:00+00:00",
		"2024-03-01T14:00:00+02:00",
		" 2024-03-01T12:00:00.0000004Z ",
	} {
		got, err := ParseTimestamp(in)
		require.NoError(t, err, in)
		assert.True(t, want.Equal(got), "%s parsed as %s", in, got)
		assert.Equal(t, time.UTC, got.Location())
	}

	_, err := ParseTimestamp("yesterday")
	assert.ErrorIs(t, err, domain.ErrInvalidPayload)
}
