package main

import (
	"context"
	"fmt"
	"log"
	"strings"

	"github.com/jackc/pgx/v5"

	"github.com/lilavathra-tackits/gps-tracker/internal/config"
)

func main() {
	cfg := config.Load()
	ctx := context.Background()

	// pool_max_conns only means something to pgxpool
	connStr, _, _ := strings.Cut(cfg.DatabaseURL(), "?")

	fmt.Println("Connecting to TimescaleDB...")
	conn, err := pgx.Connect(ctx, connStr)
	if err != nil {
		log.Fatalf("Connection failed: %v\n\nMake sure TimescaleDB is running:\n  docker-compose up -d timescaledb", err)
	}
	defer conn.Close(ctx)
	fmt.Println("✓ Connected")

	step1_extensions(ctx, conn)
	step2_devices_table(ctx, conn)
	step3_telemetry_table(ctx, conn)
	step4_alert_tables(ctx, conn)
	step5_indexes(ctx, conn)
	step6_verify(ctx, conn)

	fmt.Println("\n✅ Database initialised successfully")
	fmt.Println("   Run next: go run ./scripts/seed_redis")
}

// ─────────────────────────────────────────────────────────────
// Step 1: Extensions
// ─────────────────────────────────────────────────────────────
func step1_extensions(ctx context.Context, conn *pgx.Conn) {
	fmt.Println("\n── Step 1: Extensions ──────────────────────────")

	execOrFatal(ctx, conn,
		"CREATE EXTENSION IF NOT EXISTS timescaledb CASCADE;",
		"timescaledb extension",
	)
}

// ─────────────────────────────────────────────────────────────
// Step 2: devices table
// ─────────────────────────────────────────────────────────────
func step2_devices_table(ctx context.Context, conn *pgx.Conn) {
	fmt.Println("\n── Step 2: devices table ───────────────────────")

	// Provisioned by the admin tooling; the tracker only reads it.
	execOrFatal(ctx, conn, `
		CREATE TABLE IF NOT EXISTS devices (
			device_id        TEXT        PRIMARY KEY,
			device_password  TEXT        NOT NULL,
			alias            TEXT,

			-- Base reporting interval in minutes for battery-powered devices
			update_interval  INTEGER     NOT NULL DEFAULT 60
			                 CHECK (update_interval > 0),

			created_at       TIMESTAMPTZ NOT NULL DEFAULT NOW()
		);
	`, "devices table created")
}

// ─────────────────────────────────────────────────────────────
// Step 3: device_telemetry hypertable
// ─────────────────────────────────────────────────────────────
func step3_telemetry_table(ctx context.Context, conn *pgx.Conn) {
	fmt.Println("\n── Step 3: device_telemetry table ──────────────")

	execOrFatal(ctx, conn, `
		CREATE TABLE IF NOT EXISTS device_telemetry (

			-- Device-reported instant, microsecond resolution
			timestamp     TIMESTAMPTZ      NOT NULL,
			received_at   TIMESTAMPTZ      NOT NULL DEFAULT NOW(),

			device_id     TEXT             NOT NULL
			              REFERENCES devices (device_id) ON DELETE CASCADE,

			latitude      DOUBLE PRECISION NOT NULL CHECK (latitude BETWEEN -90 AND 90),
			longitude     DOUBLE PRECISION NOT NULL CHECK (longitude BETWEEN -180 AND 180),
			altitude      DOUBLE PRECISION NOT NULL DEFAULT 0,

			speed_kmh     DOUBLE PRECISION NOT NULL DEFAULT 0,
			heading       DOUBLE PRECISION NOT NULL DEFAULT 0,
			charge        SMALLINT         NOT NULL CHECK (charge BETWEEN 0 AND 100),
			power_source  TEXT             NOT NULL CHECK (power_source IN ('battery', 'direct')),

			raw_payload   JSONB,

			-- At most one sample per device per instant; the ingest path
			-- relies on this to detect concurrent writers
			CONSTRAINT uq_telemetry_device_time UNIQUE (device_id, timestamp)
		);
	`, "device_telemetry table created")

	execOrFatal(ctx, conn, `
		SELECT create_hypertable(
			'device_telemetry',
			'timestamp',
			if_not_exists => TRUE
		);
	`, "device_telemetry converted to hypertable")
}

// ─────────────────────────────────────────────────────────────
// Step 4: device_alerts and maintenance_records
// ─────────────────────────────────────────────────────────────
func step4_alert_tables(ctx context.Context, conn *pgx.Conn) {
	fmt.Println("\n── Step 4: alert tables ────────────────────────")

	execOrFatal(ctx, conn, `
		CREATE TABLE IF NOT EXISTS device_alerts (
			id          TEXT             PRIMARY KEY,
			device_id   TEXT             NOT NULL
			            REFERENCES devices (device_id) ON DELETE CASCADE,

			-- Must match domain.AlertKind constants
			kind        TEXT             NOT NULL,
			message     TEXT             NOT NULL,
			value       DOUBLE PRECISION NOT NULL DEFAULT 0,

			timestamp   TIMESTAMPTZ      NOT NULL,
			created_at  TIMESTAMPTZ      NOT NULL DEFAULT NOW(),

			CONSTRAINT chk_alert_kind CHECK (
				kind IN ('speed-alert', 'movement-notification', 'idle-notification', 'maintenance-notification')
			)
		);
	`, "device_alerts table created")

	execOrFatal(ctx, conn, `
		CREATE TABLE IF NOT EXISTS maintenance_records (
			id         TEXT        PRIMARY KEY,
			device_id  TEXT        NOT NULL
			           REFERENCES devices (device_id) ON DELETE CASCADE,
			status     TEXT        NOT NULL,
			timestamp  TIMESTAMPTZ NOT NULL
		);
	`, "maintenance_records table created")
}

// ─────────────────────────────────────────────────────────────
// Step 5: Indexes
// ─────────────────────────────────────────────────────────────
func step5_indexes(ctx context.Context, conn *pgx.Conn) {
	fmt.Println("\n── Step 5: Indexes ─────────────────────────────")

	indexes := []struct {
		name string
		sql  string
		why  string
	}{
		{
			name: "idx_alerts_device_time",
			sql: `CREATE INDEX IF NOT EXISTS idx_alerts_device_time
				  ON device_alerts (device_id, timestamp DESC);`,
			why: "query: alerts for one device",
		},
		{
			name: "idx_alerts_kind_time",
			sql: `CREATE INDEX IF NOT EXISTS idx_alerts_kind_time
				  ON device_alerts (kind, timestamp DESC);`,
			why: "query: alerts of one kind",
		},
		{
			name: "idx_maintenance_device_time",
			sql: `CREATE INDEX IF NOT EXISTS idx_maintenance_device_time
				  ON maintenance_records (device_id, timestamp DESC);`,
			why: "query: latest maintenance state",
		},
	}

	for _, idx := range indexes {
		execOrFatal(ctx, conn, idx.sql,
			fmt.Sprintf("%-40s ← %s", idx.name, idx.why),
		)
	}
}

// ─────────────────────────────────────────────────────────────
// Step 6: Verify everything was created
// ─────────────────────────────────────────────────────────────
func step6_verify(ctx context.Context, conn *pgx.Conn) {
	fmt.Println("\n── Step 6: Verification ────────────────────────")

	tables := []string{"devices", "device_telemetry", "device_alerts", "maintenance_records"}
	for _, table := range tables {
		var exists bool
		err := conn.QueryRow(ctx, `
			SELECT EXISTS (
				SELECT 1 FROM information_schema.tables
				WHERE table_name = $1
			)
		`, table).Scan(&exists)
		if err != nil || !exists {
			log.Fatalf("Table %s was not created: %v", table, err)
		}
		fmt.Printf("  ✓ table: %s\n", table)
	}

	var hypertableName string
	err := conn.QueryRow(ctx, `
		SELECT hypertable_name
		FROM timescaledb_information.hypertables
		WHERE hypertable_name = 'device_telemetry'
	`).Scan(&hypertableName)
	if err != nil {
		log.Fatalf("device_telemetry is not a hypertable: %v", err)
	}
	fmt.Printf("  ✓ hypertable: %s (time partitioned)\n", hypertableName)
}

// execOrFatal runs a SQL statement and prints result or exits on error
func execOrFatal(ctx context.Context, conn *pgx.Conn, sql, label string) {
	_, err := conn.Exec(ctx, sql)
	if err != nil {
		log.Fatalf("FAILED: %s\nError: %v\nSQL: %s", label, err, sql)
	}
	fmt.Printf("  ✓ %s\n", label)
}
