// Package store persists the observed network model in an embedded
// SQLite database: nodes, bounded per-node packet history, topology
// edges with running aggregates, traceroute records, and probe attempt
// rows for both scheduler kinds.
package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/jonboulle/clockwork"
	_ "modernc.org/sqlite"
)

// ErrNotFound is returned by single-row queries when no row matches.
var ErrNotFound = errors.New("not found")

// AirplaneAltitudeMeters is the altitude above which a node is flagged
// as airborne and excluded from ground coverage views.
const AirplaneAltitudeMeters = 750.0

// NameUpdateInterval damps display-name churn from stale packets: name
// fields update at most once per interval per node.
const NameUpdateInterval = 24 * time.Hour

// timeLayout is a fixed-width UTC rendering so that lexicographic
// comparison of stored timestamps matches chronological order,
// including sub-second precision.
const timeLayout = "2006-01-02T15:04:05.000000000Z07:00"

// Store wraps the SQLite database. All writes go through the pool,
// which SQLite serializes; readers proceed concurrently.
type Store struct {
	log   *slog.Logger
	db    *sql.DB
	clock clockwork.Clock
}

// Open opens (creating if needed) the database at path and runs the
// idempotent schema bootstrap. Use ":memory:" for an ephemeral store.
func Open(log *slog.Logger, path string, clock clockwork.Clock) (*Store, error) {
	if path == "" {
		return nil, errors.New("database path is required")
	}
	if clock == nil {
		clock = clockwork.NewRealClock()
	}

	dsn := path
	if !strings.HasPrefix(dsn, "file:") {
		dsn = "file:" + dsn
	}
	dsn += "?_pragma=busy_timeout(30000)"
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open database %s: %w", path, err)
	}

	// A single pooled connection keeps writes serialized and makes
	// ":memory:" behave as one database rather than one per conn.
	db.SetMaxOpenConns(1)

	s := &Store{
		log:   log.With("component", "store"),
		db:    db,
		clock: clock,
	}
	if err := s.initialize(context.Background()); err != nil {
		db.Close()
		return nil, fmt.Errorf("initialize schema: %w", err)
	}
	return s, nil
}

// Close releases the connection pool.
func (s *Store) Close() error {
	return s.db.Close()
}

func (s *Store) initialize(ctx context.Context) error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS nodes (
			node_id TEXT PRIMARY KEY,
			node_num INTEGER,
			short_name TEXT,
			long_name TEXT,
			latitude REAL,
			longitude REAL,
			altitude REAL,
			last_seen_utc TEXT,
			first_seen_utc TEXT,
			total_packets_received INTEGER DEFAULT 0,
			hardware_model TEXT,
			firmware_version TEXT,
			is_mqtt BOOLEAN DEFAULT 0,
			battery_level INTEGER,
			voltage REAL,
			is_charging BOOLEAN,
			is_powered BOOLEAN,
			last_battery_update_utc TEXT,
			created_at TEXT,
			updated_at TEXT,
			is_ignored BOOLEAN DEFAULT 0,
			is_airplane BOOLEAN DEFAULT 0,
			last_name_update_utc TEXT
		)`,
		`CREATE TABLE IF NOT EXISTS packet_history (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			node_id TEXT NOT NULL,
			received_at_utc TEXT NOT NULL,
			packet_type TEXT,
			channel_index INTEGER,
			hop_start INTEGER,
			hop_limit INTEGER,
			hops_away INTEGER,
			via_mqtt BOOLEAN DEFAULT 0,
			relay_node_id TEXT,
			relay_node_name TEXT,
			rx_snr REAL,
			rx_rssi INTEGER,
			latitude REAL,
			longitude REAL,
			altitude REAL,
			battery_level INTEGER,
			voltage REAL,
			is_charging BOOLEAN,
			temperature REAL,
			humidity REAL,
			pressure REAL,
			message_text TEXT,
			raw_packet TEXT
		)`,
		`CREATE TABLE IF NOT EXISTS network_topology (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			source_node_id TEXT NOT NULL,
			neighbor_node_id TEXT NOT NULL,
			first_heard_utc TEXT NOT NULL,
			last_heard_utc TEXT NOT NULL,
			total_packets INTEGER DEFAULT 0,
			avg_snr REAL,
			avg_rssi REAL,
			min_snr REAL,
			max_snr REAL,
			min_rssi REAL,
			max_rssi REAL,
			link_quality_score REAL,
			is_active BOOLEAN DEFAULT 1,
			last_hop_count INTEGER,
			UNIQUE(source_node_id, neighbor_node_id)
		)`,
		`CREATE TABLE IF NOT EXISTS traceroutes (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			from_node_id TEXT NOT NULL,
			to_node_id TEXT,
			route_json TEXT NOT NULL,
			hop_count INTEGER NOT NULL,
			received_at_utc TEXT NOT NULL,
			snr_data TEXT,
			packet_id INTEGER
		)`,
		`CREATE TABLE IF NOT EXISTS traceroute_attempts (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			to_node_id TEXT NOT NULL,
			to_node_name TEXT,
			requested_at_utc TEXT NOT NULL,
			status TEXT DEFAULT 'pending',
			completed_at_utc TEXT,
			traceroute_id INTEGER
		)`,
		`CREATE TABLE IF NOT EXISTS telemetry_requests (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			to_node_id TEXT NOT NULL,
			to_node_name TEXT,
			requested_at_utc TEXT NOT NULL,
			status TEXT DEFAULT 'pending',
			completed_at_utc TEXT,
			rx_snr REAL,
			rx_rssi INTEGER,
			relay_node_id TEXT,
			relay_node_name TEXT,
			hops_away INTEGER
		)`,
		`CREATE INDEX IF NOT EXISTS idx_packet_node ON packet_history(node_id)`,
		`CREATE INDEX IF NOT EXISTS idx_packet_time ON packet_history(received_at_utc)`,
		`CREATE INDEX IF NOT EXISTS idx_topology_source ON network_topology(source_node_id)`,
		`CREATE INDEX IF NOT EXISTS idx_topology_neighbor ON network_topology(neighbor_node_id)`,
		`CREATE INDEX IF NOT EXISTS idx_topology_active ON network_topology(is_active)`,
		`CREATE INDEX IF NOT EXISTS idx_traceroute_from ON traceroutes(from_node_id)`,
		`CREATE INDEX IF NOT EXISTS idx_traceroute_time ON traceroutes(received_at_utc)`,
		`CREATE INDEX IF NOT EXISTS idx_attempt_to_node ON traceroute_attempts(to_node_id)`,
		`CREATE INDEX IF NOT EXISTS idx_attempt_status ON traceroute_attempts(status)`,
		`CREATE INDEX IF NOT EXISTS idx_attempt_time ON traceroute_attempts(requested_at_utc)`,
		`CREATE INDEX IF NOT EXISTS idx_telemetry_to_node ON telemetry_requests(to_node_id)`,
		`CREATE INDEX IF NOT EXISTS idx_telemetry_status ON telemetry_requests(status)`,
		`CREATE INDEX IF NOT EXISTS idx_telemetry_time ON telemetry_requests(requested_at_utc)`,
	}

	for _, stmt := range stmts {
		if _, err := s.db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("exec schema statement: %w", err)
		}
	}

	// Databases created by earlier releases may predate these columns.
	migrations := []struct {
		table, column, ddl string
	}{
		{"nodes", "is_ignored", "ALTER TABLE nodes ADD COLUMN is_ignored BOOLEAN DEFAULT 0"},
		{"nodes", "is_airplane", "ALTER TABLE nodes ADD COLUMN is_airplane BOOLEAN DEFAULT 0"},
		{"nodes", "last_name_update_utc", "ALTER TABLE nodes ADD COLUMN last_name_update_utc TEXT"},
		{"packet_history", "message_text", "ALTER TABLE packet_history ADD COLUMN message_text TEXT"},
	}
	for _, m := range migrations {
		ok, err := s.columnExists(ctx, m.table, m.column)
		if err != nil {
			return err
		}
		if ok {
			continue
		}
		if _, err := s.db.ExecContext(ctx, m.ddl); err != nil {
			return fmt.Errorf("add column %s.%s: %w", m.table, m.column, err)
		}
		s.log.Info("added missing column", "table", m.table, "column", m.column)
	}

	return nil
}

func (s *Store) columnExists(ctx context.Context, table, column string) (bool, error) {
	rows, err := s.db.QueryContext(ctx, fmt.Sprintf("PRAGMA table_info(%s)", table))
	if err != nil {
		return false, fmt.Errorf("table_info %s: %w", table, err)
	}
	defer rows.Close()

	for rows.Next() {
		var (
			cid         int
			name, typ   string
			notnull, pk int
			dflt        sql.NullString
		)
		if err := rows.Scan(&cid, &name, &typ, &notnull, &dflt, &pk); err != nil {
			return false, fmt.Errorf("scan table_info %s: %w", table, err)
		}
		if name == column {
			return true, nil
		}
	}
	return false, rows.Err()
}

func (s *Store) now() time.Time {
	return s.clock.Now().UTC()
}

func fmtTime(t time.Time) string {
	return t.UTC().Format(timeLayout)
}

func parseTime(v string) (time.Time, error) {
	t, err := time.Parse(timeLayout, v)
	if err == nil {
		return t, nil
	}
	// Tolerate rows written by other tooling.
	if t, err2 := time.Parse(time.RFC3339Nano, v); err2 == nil {
		return t, nil
	}
	return time.Time{}, fmt.Errorf("parse stored timestamp %q: %w", v, err)
}

// nullTime converts an optional stored timestamp, tolerating malformed
// values by dropping them.
func nullTime(v sql.NullString) *time.Time {
	if !v.Valid || v.String == "" {
		return nil
	}
	t, err := parseTime(v.String)
	if err != nil {
		return nil
	}
	return &t
}

func nullStr(v sql.NullString) *string {
	if !v.Valid {
		return nil
	}
	s := v.String
	return &s
}

func nullF64(v sql.NullFloat64) *float64 {
	if !v.Valid {
		return nil
	}
	f := v.Float64
	return &f
}

func nullI64(v sql.NullInt64) *int64 {
	if !v.Valid {
		return nil
	}
	i := v.Int64
	return &i
}

func nullBool(v sql.NullBool) *bool {
	if !v.Valid {
		return nil
	}
	b := v.Bool
	return &b
}
