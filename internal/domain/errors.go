package domain

import "errors"

var (
	ErrInvalidPayload      = errors.New("invalid payload")
	ErrTooSoon             = errors.New("update interval not reached")
	ErrConflict            = errors.New("timestamp conflict")
	ErrUpstreamUnavailable = errors.New("upstream unavailable")
	ErrPersistence         = errors.New("persistence failure")

	// ErrStale marks a report older than the device's last committed sample,
	// typically an upstream redelivering a fix it already sent.
	ErrStale = errors.New("sample older than last committed")

	// ErrDuplicateTimestamp is returned by stores when the (device, timestamp)
	// unique constraint rejects an insert.
	ErrDuplicateTimestamp = errors.New("duplicate timestamp for device")
	ErrDeviceNotFound     = errors.New("device not found")
)
