package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"math"
	"time"
)

func attemptTable(kind AttemptKind) (string, error) {
	switch kind {
	case AttemptTraceroute:
		return "traceroute_attempts", nil
	case AttemptTelemetry:
		return "telemetry_requests", nil
	default:
		return "", fmt.Errorf("unknown attempt kind %q", kind)
	}
}

// InsertAttempt records a pending probe row at send time and returns
// its id.
func (s *Store) InsertAttempt(ctx context.Context, kind AttemptKind, targetID string, targetName *string) (int64, error) {
	table, err := attemptTable(kind)
	if err != nil {
		return 0, err
	}
	res, err := s.db.ExecContext(ctx, fmt.Sprintf(`
		INSERT INTO %s (to_node_id, to_node_name, requested_at_utc, status)
		VALUES (?, ?, ?, 'pending')`, table),
		targetID, ptrArg(targetName), fmtTime(s.now()))
	if err != nil {
		return 0, fmt.Errorf("insert %s attempt for %s: %w", kind, targetID, err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return 0, fmt.Errorf("attempt id: %w", err)
	}
	return id, nil
}

// CompleteTracerouteAttempt closes the most recent pending attempt for
// the target, linking the resulting traceroute. Returns false when no
// pending row exists; responses without a matching probe are simply not
// accounted.
func (s *Store) CompleteTracerouteAttempt(ctx context.Context, targetID string, tracerouteID *int64) (bool, error) {
	res, err := s.db.ExecContext(ctx, `
		UPDATE traceroute_attempts
		SET status = 'completed', completed_at_utc = ?, traceroute_id = ?
		WHERE id = (
			SELECT id FROM traceroute_attempts
			WHERE to_node_id = ? AND status = 'pending'
			ORDER BY requested_at_utc DESC
			LIMIT 1
		)`, fmtTime(s.now()), ptrArg(tracerouteID), targetID)
	if err != nil {
		return false, fmt.Errorf("complete traceroute attempt for %s: %w", targetID, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("rows affected: %w", err)
	}
	return n > 0, nil
}

// CompleteTelemetryAttempt closes the most recent pending telemetry
// attempt for the target, storing the response's signal readings.
func (s *Store) CompleteTelemetryAttempt(ctx context.Context, targetID string, c TelemetryCompletion) (bool, error) {
	res, err := s.db.ExecContext(ctx, `
		UPDATE telemetry_requests
		SET status = 'completed', completed_at_utc = ?,
			rx_snr = ?, rx_rssi = ?, relay_node_id = ?, relay_node_name = ?, hops_away = ?
		WHERE id = (
			SELECT id FROM telemetry_requests
			WHERE to_node_id = ? AND status = 'pending'
			ORDER BY requested_at_utc DESC
			LIMIT 1
		)`, fmtTime(s.now()),
		ptrArg(c.RxSNR), ptrArg(c.RxRSSI), ptrArg(c.RelayNodeID), ptrArg(c.RelayNodeName), ptrArg(c.HopsAway),
		targetID)
	if err != nil {
		return false, fmt.Errorf("complete telemetry attempt for %s: %w", targetID, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("rows affected: %w", err)
	}
	return n > 0, nil
}

// TimeoutStaleAttempts flips pending attempts older than the threshold
// to timeout; returns the number flipped.
func (s *Store) TimeoutStaleAttempts(ctx context.Context, kind AttemptKind, olderThan time.Duration) (int64, error) {
	table, err := attemptTable(kind)
	if err != nil {
		return 0, err
	}
	cutoff := fmtTime(s.now().Add(-olderThan))
	res, err := s.db.ExecContext(ctx, fmt.Sprintf(`
		UPDATE %s
		SET status = 'timeout'
		WHERE status = 'pending' AND requested_at_utc < ?`, table), cutoff)
	if err != nil {
		return 0, fmt.Errorf("timeout stale %s attempts: %w", kind, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("rows affected: %w", err)
	}
	return n, nil
}

// Attempts lists probe attempts most recent first, optionally filtered
// by status. Traceroute attempts carry their resulting route when one
// was linked at completion.
func (s *Store) Attempts(ctx context.Context, kind AttemptKind, status AttemptStatus, limit int) ([]Attempt, error) {
	switch kind {
	case AttemptTraceroute:
		return s.tracerouteAttempts(ctx, status, limit)
	case AttemptTelemetry:
		return s.telemetryAttempts(ctx, status, limit)
	default:
		return nil, fmt.Errorf("unknown attempt kind %q", kind)
	}
}

func (s *Store) tracerouteAttempts(ctx context.Context, status AttemptStatus, limit int) ([]Attempt, error) {
	query := `
		SELECT a.id, a.to_node_id, a.to_node_name, a.requested_at_utc, a.status,
			a.completed_at_utc, a.traceroute_id, t.hop_count, t.route_json
		FROM traceroute_attempts a
		LEFT JOIN traceroutes t ON a.traceroute_id = t.id`
	args := []any{}
	if status != "" {
		query += ` WHERE a.status = ?`
		args = append(args, string(status))
	}
	query += ` ORDER BY a.requested_at_utc DESC LIMIT ?`
	args = append(args, limit)

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list traceroute attempts: %w", err)
	}
	defer rows.Close()

	var out []Attempt
	for rows.Next() {
		var (
			a                      Attempt
			name                   sql.NullString
			requestedAt, st        string
			completedAt            sql.NullString
			tracerouteID, hopCount sql.NullInt64
			routeJSON              sql.NullString
		)
		if err := rows.Scan(&a.ID, &a.TargetID, &name, &requestedAt, &st,
			&completedAt, &tracerouteID, &hopCount, &routeJSON); err != nil {
			return nil, fmt.Errorf("scan traceroute attempt: %w", err)
		}
		a.TargetName = nullStr(name)
		if t, err := parseTime(requestedAt); err == nil {
			a.RequestedAt = t
		}
		a.Status = AttemptStatus(st)
		a.CompletedAt = nullTime(completedAt)
		a.TracerouteID = nullI64(tracerouteID)
		a.HopCount = nullI64(hopCount)
		if routeJSON.Valid && routeJSON.String != "" {
			if err := json.Unmarshal([]byte(routeJSON.String), &a.Route); err != nil {
				return nil, fmt.Errorf("decode route of attempt %d: %w", a.ID, err)
			}
		}
		out = append(out, a)
	}
	return out, rows.Err()
}

func (s *Store) telemetryAttempts(ctx context.Context, status AttemptStatus, limit int) ([]Attempt, error) {
	query := `
		SELECT id, to_node_id, to_node_name, requested_at_utc, status, completed_at_utc,
			rx_snr, rx_rssi, relay_node_id, relay_node_name, hops_away
		FROM telemetry_requests`
	args := []any{}
	if status != "" {
		query += ` WHERE status = ?`
		args = append(args, string(status))
	}
	query += ` ORDER BY requested_at_utc DESC LIMIT ?`
	args = append(args, limit)

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list telemetry attempts: %w", err)
	}
	defer rows.Close()
	return scanTelemetryAttempts(rows)
}

// CompletedTelemetrySince returns completed telemetry attempts within
// the window that carry a relay identity, for coverage derivation.
func (s *Store) CompletedTelemetrySince(ctx context.Context, since time.Time) ([]Attempt, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, to_node_id, to_node_name, requested_at_utc, status, completed_at_utc,
			rx_snr, rx_rssi, relay_node_id, relay_node_name, hops_away
		FROM telemetry_requests
		WHERE status = 'completed' AND completed_at_utc >= ? AND relay_node_id IS NOT NULL`,
		fmtTime(since))
	if err != nil {
		return nil, fmt.Errorf("list completed telemetry: %w", err)
	}
	defer rows.Close()
	return scanTelemetryAttempts(rows)
}

func scanTelemetryAttempts(rows *sql.Rows) ([]Attempt, error) {
	var out []Attempt
	for rows.Next() {
		var (
			a                    Attempt
			name                 sql.NullString
			requestedAt, st      string
			completedAt          sql.NullString
			snr                  sql.NullFloat64
			rssi, hops           sql.NullInt64
			relayID, relayName   sql.NullString
		)
		if err := rows.Scan(&a.ID, &a.TargetID, &name, &requestedAt, &st, &completedAt,
			&snr, &rssi, &relayID, &relayName, &hops); err != nil {
			return nil, fmt.Errorf("scan telemetry attempt: %w", err)
		}
		a.TargetName = nullStr(name)
		if t, err := parseTime(requestedAt); err == nil {
			a.RequestedAt = t
		}
		a.Status = AttemptStatus(st)
		a.CompletedAt = nullTime(completedAt)
		a.RxSNR = nullF64(snr)
		a.RxRSSI = nullI64(rssi)
		a.RelayNodeID = nullStr(relayID)
		a.RelayNodeName = nullStr(relayName)
		a.HopsAway = nullI64(hops)
		out = append(out, a)
	}
	return out, rows.Err()
}

// AttemptStatistics summarizes one attempt table: all-time counts by
// status plus a 24 h window with success rate and, for telemetry,
// average response SNR/RSSI.
func (s *Store) AttemptStatistics(ctx context.Context, kind AttemptKind) (AttemptStats, error) {
	var stats AttemptStats
	table, err := attemptTable(kind)
	if err != nil {
		return stats, err
	}

	rows, err := s.db.QueryContext(ctx, fmt.Sprintf(
		`SELECT status, COUNT(*) FROM %s GROUP BY status`, table))
	if err != nil {
		return stats, fmt.Errorf("count %s attempts: %w", kind, err)
	}
	defer rows.Close()
	for rows.Next() {
		var st string
		var count int64
		if err := rows.Scan(&st, &count); err != nil {
			return stats, fmt.Errorf("scan attempt count: %w", err)
		}
		switch AttemptStatus(st) {
		case StatusPending:
			stats.Pending = count
		case StatusCompleted:
			stats.Completed = count
		case StatusTimeout:
			stats.Timeout = count
		}
	}
	if err := rows.Err(); err != nil {
		return stats, err
	}

	cutoff := fmtTime(s.now().Add(-24 * time.Hour))
	query := fmt.Sprintf(`
		SELECT COUNT(*),
			COALESCE(SUM(CASE WHEN status = 'completed' THEN 1 ELSE 0 END), 0),
			COALESCE(SUM(CASE WHEN status = 'timeout' THEN 1 ELSE 0 END), 0)
		FROM %s WHERE requested_at_utc >= ?`, table)
	if err := s.db.QueryRowContext(ctx, query, cutoff).Scan(
		&stats.RecentTotal, &stats.RecentCompleted, &stats.RecentTimeout); err != nil {
		return stats, fmt.Errorf("recent %s attempts: %w", kind, err)
	}
	if stats.RecentTotal > 0 {
		stats.RecentSuccessRate = math.Round(float64(stats.RecentCompleted)/float64(stats.RecentTotal)*1000) / 10
	}

	if kind == AttemptTelemetry {
		var avgSNR, avgRSSI sql.NullFloat64
		if err := s.db.QueryRowContext(ctx, `
			SELECT AVG(CASE WHEN status = 'completed' THEN rx_snr END),
				AVG(CASE WHEN status = 'completed' THEN rx_rssi END)
			FROM telemetry_requests WHERE requested_at_utc >= ?`, cutoff,
		).Scan(&avgSNR, &avgRSSI); err != nil {
			return stats, fmt.Errorf("telemetry signal averages: %w", err)
		}
		if avgSNR.Valid {
			v := math.Round(avgSNR.Float64*10) / 10
			stats.AvgSNR = &v
		}
		if avgRSSI.Valid {
			v := math.Round(avgRSSI.Float64)
			stats.AvgRSSI = &v
		}
	}

	return stats, nil
}
