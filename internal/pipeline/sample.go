package pipeline

import (
	"bytes"
	"encoding/json"
	"fmt"
	"math"
	"strconv"
	"strings"
	"time"

	"github.com/lilavathra-tackits/gps-tracker/internal/domain"
)

// Origin identifies which ingress produced a sample.
type Origin int

const (
	OriginPoll Origin = iota
	OriginPush
	OriginAdmin
)

func (o Origin) String() string {
	switch o {
	case OriginPush:
		return "push"
	case OriginAdmin:
		return "admin"
	default:
		return "poll"
	}
}

// RawSample is an unvalidated report. Numeric fields keep the JSON token
// verbatim so numbers and numeric strings are both accepted.
type RawSample struct {
	DeviceID    string
	Latitude    json.RawMessage
	Longitude   json.RawMessage
	Altitude    json.RawMessage
	Speed       json.RawMessage
	Heading     json.RawMessage
	Charge      json.RawMessage
	Timestamp   json.RawMessage
	PowerSource json.RawMessage

	Origin  Origin
	Payload []byte
}

// Reading is a RawSample that passed validation.
type Reading struct {
	Latitude    float64
	Longitude   float64
	Altitude    float64
	SpeedKmh    float64
	Heading     float64
	Charge      int
	PowerSource domain.PowerSource
	Timestamp   time.Time
}

var timestampLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02 15:04:05.999999999Z07:00",
}

// ParseSample validates raw and returns a Reading, or an error wrapping
// domain.ErrInvalidPayload.
func ParseSample(raw RawSample) (Reading, error) {
	var missing []string
	for _, f := range []struct {
		name string
		val  json.RawMessage
	}{
		{"latitude", raw.Latitude},
		{"longitude", raw.Longitude},
		{"charge", raw.Charge},
		{"timestamp", raw.Timestamp},
		{"power_source", raw.PowerSource},
	} {
		if absent(f.val) {
			missing = append(missing, f.name)
		}
	}
	if len(missing) > 0 {
		return Reading{}, fmt.Errorf("%w: missing fields: %s", domain.ErrInvalidPayload, strings.Join(missing, ", "))
	}

	var (
		r   Reading
		err error
	)
	if r.Latitude, err = parseNumber("latitude", raw.Latitude); err != nil {
		return Reading{}, err
	}
	if r.Latitude < -90 || r.Latitude > 90 {
		return Reading{}, fmt.Errorf("%w: latitude %v out of range", domain.ErrInvalidPayload, r.Latitude)
	}
	if r.Longitude, err = parseNumber("longitude", raw.Longitude); err != nil {
		return Reading{}, err
	}
	if r.Longitude < -180 || r.Longitude > 180 {
		return Reading{}, fmt.Errorf("%w: longitude %v out of range", domain.ErrInvalidPayload, r.Longitude)
	}
	if r.Altitude, err = parseOptional("altitude", raw.Altitude); err != nil {
		return Reading{}, err
	}
	if r.SpeedKmh, err = parseOptional("speed", raw.Speed); err != nil {
		return Reading{}, err
	}
	if r.SpeedKmh < 0 {
		return Reading{}, fmt.Errorf("%w: negative speed", domain.ErrInvalidPayload)
	}
	if r.Heading, err = parseOptional("heading", raw.Heading); err != nil {
		return Reading{}, err
	}
	if r.Heading < 0 || r.Heading >= 360 {
		return Reading{}, fmt.Errorf("%w: heading %v out of range", domain.ErrInvalidPayload, r.Heading)
	}

	charge, err := parseNumber("charge", raw.Charge)
	if err != nil {
		return Reading{}, err
	}
	if charge != math.Trunc(charge) || charge < 0 || charge > 100 {
		return Reading{}, fmt.Errorf("%w: charge must be an integer in [0,100], got %v", domain.ErrInvalidPayload, charge)
	}
	r.Charge = int(charge)

	ts, err := parseString("timestamp", raw.Timestamp)
	if err != nil {
		return Reading{}, err
	}
	if r.Timestamp, err = ParseTimestamp(ts); err != nil {
		return Reading{}, err
	}

	power, err := parseString("power_source", raw.PowerSource)
	if err != nil {
		return Reading{}, err
	}
	r.PowerSource = domain.PowerSource(strings.ToLower(strings.TrimSpace(power)))
	if !r.PowerSource.Valid() {
		return Reading{}, fmt.Errorf("%w: unknown power_source %q", domain.ErrInvalidPayload, power)
	}

	return r, nil
}

// ParseTimestamp accepts ISO-8601 instants with an explicit UTC offset and
// truncates them to the microsecond resolution of durable storage.
func ParseTimestamp(s string) (time.Time, error) {
	s = strings.TrimSpace(s)
	for _, layout := range timestampLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t.UTC().Truncate(time.Microsecond), nil
		}
	}
	return time.Time{}, fmt.Errorf("%w: timestamp %q is not ISO-8601 with a UTC offset", domain.ErrInvalidPayload, s)
}

func absent(v json.RawMessage) bool {
	trimmed := bytes.TrimSpace(v)
	return len(trimmed) == 0 || bytes.Equal(trimmed, []byte("null"))
}

func parseOptional(name string, v json.RawMessage) (float64, error) {
	if absent(v) {
		return 0, nil
	}
	return parseNumber(name, v)
}

func parseNumber(name string, v json.RawMessage) (float64, error) {
	token := strings.TrimSpace(string(v))
	if strings.HasPrefix(token, `"`) {
		var s string
		if err := json.Unmarshal(v, &s); err != nil {
			return 0, fmt.Errorf("%w: %s: %v", domain.ErrInvalidPayload, name, err)
		}
		token = strings.TrimSpace(s)
	}
	f, err := strconv.ParseFloat(token, 64)
	if err != nil || math.IsNaN(f) || math.IsInf(f, 0) {
		return 0, fmt.Errorf("%w: %s %q is not a number", domain.ErrInvalidPayload, name, token)
	}
	return f, nil
}

func parseString(name string, v json.RawMessage) (string, error) {
	var s string
	if err := json.Unmarshal(v, &s); err != nil {
		return "", fmt.Errorf("%w: %s must be a string", domain.ErrInvalidPayload, name)
	}
	return s, nil
}
