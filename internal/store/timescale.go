package store

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/lilavathra-tackits/gps-tracker/internal/config"
	"github.com/lilavathra-tackits/gps-tracker/internal/domain"
)

const pgUniqueViolation = "23505"

type TimescaleStore struct {
	pool *pgxpool.Pool
}

func NewTimescaleStore(ctx context.Context, cfg *config.Config) (*TimescaleStore, error) {
	pool, err := pgxpool.New(ctx, cfg.DatabaseURL())
	if err != nil {
		return nil, fmt.Errorf("failed to create db pool: %w", err)
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to ping db: %w", err)
	}

	return &TimescaleStore{pool: pool}, nil
}

func (s *TimescaleStore) Close() {
	s.pool.Close()
}

func (s *TimescaleStore) Ping(ctx context.Context) error {
	return s.pool.Ping(ctx)
}

func (s *TimescaleStore) ListDevices(ctx context.Context) ([]domain.Device, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT device_id, device_password, COALESCE(alias, ''), update_interval
		FROM devices
		ORDER BY device_id
	`)
	if err != nil {
		return nil, fmt.Errorf("list devices: %w", err)
	}
	defer rows.Close()

	var devices []domain.Device
	for rows.Next() {
		var d domain.Device
		if err := rows.Scan(&d.ID, &d.Secret, &d.Alias, &d.UpdateIntervalMinutes); err != nil {
			return nil, fmt.Errorf("scan device: %w", err)
		}
		devices = append(devices, d)
	}
	return devices, rows.Err()
}

func (s *TimescaleStore) GetDevice(ctx context.Context, deviceID string) (domain.Device, error) {
	var d domain.Device
	err := s.pool.QueryRow(ctx, `
		SELECT device_id, device_password, COALESCE(alias, ''), update_interval
		FROM devices
		WHERE device_id = $1
	`, deviceID).Scan(&d.ID, &d.Secret, &d.Alias, &d.UpdateIntervalMinutes)
	if errors.Is(err, pgx.ErrNoRows) {
		return d, fmt.Errorf("%w: %s", domain.ErrDeviceNotFound, deviceID)
	}
	if err != nil {
		return d, fmt.Errorf("get device %s: %w", deviceID, err)
	}
	return d, nil
}

const sampleColumns = `timestamp, received_at, device_id, latitude, longitude, altitude,
	speed_kmh, heading, charge, power_source`

// InsertSample writes one row; the (device_id, timestamp) unique index
// surfaces as domain.ErrDuplicateTimestamp.
func (s *TimescaleStore) InsertSample(ctx context.Context, m *domain.TelemetrySample) error {
	var raw any
	if len(m.RawPayload) > 0 {
		raw = string(m.RawPayload)
	}

	_, err := s.pool.Exec(ctx, `
		INSERT INTO device_telemetry (`+sampleColumns+`, raw_payload)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
	`,
		m.Timestamp,
		m.ReceivedAt,
		m.DeviceID,
		m.Latitude,
		m.Longitude,
		m.Altitude,
		m.SpeedKmh,
		m.Heading,
		m.Charge,
		string(m.PowerSource),
		raw,
	)
	if isUniqueViolation(err) {
		return fmt.Errorf("%w: %s at %s", domain.ErrDuplicateTimestamp, m.DeviceID, m.Timestamp.Format(time.RFC3339Nano))
	}
	if err != nil {
		return fmt.Errorf("insert sample for %s: %w", m.DeviceID, err)
	}
	return nil
}

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == pgUniqueViolation
}

func (s *TimescaleStore) LatestSample(ctx context.Context, deviceID string) (*domain.TelemetrySample, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT `+sampleColumns+`
		FROM device_telemetry
		WHERE device_id = $1
		ORDER BY timestamp DESC
		LIMIT 1
	`, deviceID)
	if err != nil {
		return nil, fmt.Errorf("latest sample for %s: %w", deviceID, err)
	}
	samples, err := scanSamples(rows)
	if err != nil || len(samples) == 0 {
		return nil, err
	}
	return &samples[0], nil
}

// Samples returns matching rows in ascending timestamp order. With a limit,
// the most recent q.Limit rows of the window are returned.
func (s *TimescaleStore) Samples(ctx context.Context, q SampleQuery) ([]domain.TelemetrySample, error) {
	where := []string{"device_id = $1"}
	args := []any{q.DeviceID}
	if !q.Since.IsZero() {
		args = append(args, q.Since)
		where = append(where, fmt.Sprintf("timestamp >= $%d", len(args)))
	}
	if !q.Until.IsZero() {
		args = append(args, q.Until)
		where = append(where, fmt.Sprintf("timestamp < $%d", len(args)))
	}
	limit := ""
	if q.Limit > 0 {
		args = append(args, q.Limit)
		limit = fmt.Sprintf("LIMIT $%d", len(args))
	}

	query := fmt.Sprintf(`
		SELECT * FROM (
			SELECT %s
			FROM device_telemetry
			WHERE %s
			ORDER BY timestamp DESC
			%s
		) recent
		ORDER BY timestamp ASC
	`, sampleColumns, strings.Join(where, " AND "), limit)

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("samples for %s: %w", q.DeviceID, err)
	}
	return scanSamples(rows)
}

func scanSamples(rows pgx.Rows) ([]domain.TelemetrySample, error) {
	defer rows.Close()

	var out []domain.TelemetrySample
	for rows.Next() {
		var (
			m     domain.TelemetrySample
			power string
		)
		if err := rows.Scan(
			&m.Timestamp,
			&m.ReceivedAt,
			&m.DeviceID,
			&m.Latitude,
			&m.Longitude,
			&m.Altitude,
			&m.SpeedKmh,
			&m.Heading,
			&m.Charge,
			&power,
		); err != nil {
			return nil, fmt.Errorf("scan sample: %w", err)
		}
		m.PowerSource = domain.PowerSource(power)
		out = append(out, m)
	}
	return out, rows.Err()
}

func (s *TimescaleStore) InsertAlert(ctx context.Context, a domain.Alert) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO device_alerts
			(id, device_id, kind, message, value, timestamp, created_at)
		VALUES
			($1, $2, $3, $4, $5, $6, $7)
	`,
		a.ID,
		a.DeviceID,
		string(a.Kind),
		a.Message,
		a.Value,
		a.Timestamp,
		a.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("insert %s for %s: %w", a.Kind, a.DeviceID, err)
	}
	return nil
}

// Alerts returns alerts newest first.
func (s *TimescaleStore) Alerts(ctx context.Context, q AlertQuery) ([]domain.Alert, error) {
	where := []string{"TRUE"}
	var args []any
	if len(q.DeviceIDs) > 0 {
		args = append(args, q.DeviceIDs)
		where = append(where, fmt.Sprintf("device_id = ANY($%d)", len(args)))
	}
	if !q.Since.IsZero() {
		args = append(args, q.Since)
		where = append(where, fmt.Sprintf("timestamp >= $%d", len(args)))
	}
	if q.Kind != "" {
		args = append(args, string(q.Kind))
		where = append(where, fmt.Sprintf("kind = $%d", len(args)))
	}
	limit := ""
	if q.Limit > 0 {
		args = append(args, q.Limit)
		limit = fmt.Sprintf("LIMIT $%d", len(args))
	}

	rows, err := s.pool.Query(ctx, fmt.Sprintf(`
		SELECT id, device_id, kind, message, value, timestamp, created_at
		FROM device_alerts
		WHERE %s
		ORDER BY timestamp DESC
		%s
	`, strings.Join(where, " AND "), limit), args...)
	if err != nil {
		return nil, fmt.Errorf("query alerts: %w", err)
	}
	defer rows.Close()

	var out []domain.Alert
	for rows.Next() {
		var (
			a    domain.Alert
			kind string
		)
		if err := rows.Scan(&a.ID, &a.DeviceID, &kind, &a.Message, &a.Value, &a.Timestamp, &a.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan alert: %w", err)
		}
		a.Kind = domain.AlertKind(kind)
		out = append(out, a)
	}
	return out, rows.Err()
}

func (s *TimescaleStore) InsertMaintenance(ctx context.Context, r domain.MaintenanceRecord) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO maintenance_records (id, device_id, status, timestamp)
		VALUES ($1, $2, $3, $4)
	`, r.ID, r.DeviceID, r.Status, r.Timestamp)
	if err != nil {
		return fmt.Errorf("insert maintenance record for %s: %w", r.DeviceID, err)
	}
	return nil
}

func (s *TimescaleStore) LatestMaintenance(ctx context.Context, deviceID string) (*domain.MaintenanceRecord, error) {
	records, err := s.maintenance(ctx, deviceID, 1)
	if err != nil || len(records) == 0 {
		return nil, err
	}
	return &records[0], nil
}

// MaintenanceHistory returns every record for the device, newest first.
func (s *TimescaleStore) MaintenanceHistory(ctx context.Context, deviceID string) ([]domain.MaintenanceRecord, error) {
	return s.maintenance(ctx, deviceID, 0)
}

func (s *TimescaleStore) maintenance(ctx context.Context, deviceID string, limit int) ([]domain.MaintenanceRecord, error) {
	query := `
		SELECT id, device_id, status, timestamp
		FROM maintenance_records
		WHERE device_id = $1
		ORDER BY timestamp DESC
	`
	args := []any{deviceID}
	if limit > 0 {
		query += " LIMIT $2"
		args = append(args, limit)
	}

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("maintenance records for %s: %w", deviceID, err)
	}
	defer rows.Close()

	var out []domain.MaintenanceRecord
	for rows.Next() {
		var r domain.MaintenanceRecord
		if err := rows.Scan(&r.ID, &r.DeviceID, &r.Status, &r.Timestamp); err != nil {
			return nil, fmt.Errorf("scan maintenance record: %w", err)
		}
		out = append(out, r)
	}
	return out, rows.Err()
}
