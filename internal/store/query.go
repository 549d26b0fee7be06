package store

import (
	"time"

	"github.com/lilavathra-tackits/gps-tracker/internal/domain"
)

// SampleQuery selects a device's samples in [Since, Until). Zero bounds are open.
type SampleQuery struct {
	DeviceID string
	Since    time.Time
	Until    time.Time
	Limit    int
}

type AlertQuery struct {
	DeviceIDs []string
	Kind      domain.AlertKind
	Since     time.Time
	Limit     int
}
