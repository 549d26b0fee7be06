package domain

import "time"

type AlertKind string

const (
	AlertSpeed       AlertKind = "speed-alert"
	AlertMovement    AlertKind = "movement-notification"
	AlertIdle        AlertKind = "idle-notification"
	AlertMaintenance AlertKind = "maintenance-notification"
)

type Alert struct {
	ID        string    `json:"id"`
	DeviceID  string    `json:"device_id"`
	Kind      AlertKind `json:"kind"`
	Message   string    `json:"message"`
	Value     float64   `json:"value"`
	Timestamp time.Time `json:"timestamp"`
	CreatedAt time.Time `json:"created_at"`
}

const MaintenanceRequired = "Maintenance required"

type MaintenanceRecord struct {
	ID        string    `json:"id"`
	DeviceID  string    `json:"device_id"`
	Status    string    `json:"status"`
	Timestamp time.Time `json:"timestamp"`
}
