package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"
)

// TracerouteCandidateQuery selects active nodes whose most recent
// traceroute-as-destination is absent or stale.
type TracerouteCandidateQuery struct {
	ActiveThreshold time.Duration
	TracerouteAge   time.Duration
	ExcludeMQTT     bool
	Limit           int
}

// TracerouteCandidates returns probe targets ordered never-traced
// first, then oldest traceroute first.
func (s *Store) TracerouteCandidates(ctx context.Context, q TracerouteCandidateQuery) ([]ProbeCandidate, error) {
	activeCutoff := fmtTime(s.now().Add(-q.ActiveThreshold))
	traceCutoff := fmtTime(s.now().Add(-q.TracerouteAge))

	query := `
		SELECT n.node_id, n.node_num, n.long_name, n.short_name, n.is_mqtt,
			n.last_seen_utc, MAX(t.received_at_utc) AS last_traceroute_utc
		FROM nodes n
		LEFT JOIN traceroutes t ON n.node_id = t.to_node_id
		WHERE n.last_seen_utc >= ?
		  AND n.node_num IS NOT NULL
		  AND n.is_ignored = 0`
	args := []any{activeCutoff}

	if q.ExcludeMQTT {
		query += ` AND (n.is_mqtt = 0 OR n.is_mqtt IS NULL)`
	}

	query += `
		GROUP BY n.node_id, n.node_num, n.long_name, n.short_name, n.is_mqtt, n.last_seen_utc
		HAVING last_traceroute_utc IS NULL OR last_traceroute_utc < ?
		ORDER BY
			CASE WHEN last_traceroute_utc IS NULL THEN 0 ELSE 1 END,
			last_traceroute_utc ASC
		LIMIT ?`
	args = append(args, traceCutoff, q.Limit)

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("traceroute candidates: %w", err)
	}
	defer rows.Close()
	return scanCandidates(rows)
}

// TelemetryCandidateQuery selects active nodes whose most recent
// completed telemetry attempt is absent or stale, optionally skipping
// nodes already covered by a recent traceroute.
type TelemetryCandidateQuery struct {
	ActiveThreshold     time.Duration
	RequestAge          time.Duration
	ExcludeMQTT         bool
	SkipRecentTraceroute bool
	TracerouteAge       time.Duration
	Limit               int
}

// TelemetryCandidates returns probe targets ordered never-requested
// first, then oldest completed request first. Staleness is measured
// against completed attempts only so that timeouts keep a node
// eligible.
func (s *Store) TelemetryCandidates(ctx context.Context, q TelemetryCandidateQuery) ([]ProbeCandidate, error) {
	activeCutoff := fmtTime(s.now().Add(-q.ActiveThreshold))
	requestCutoff := fmtTime(s.now().Add(-q.RequestAge))

	query := `
		SELECT n.node_id, n.node_num, n.long_name, n.short_name, n.is_mqtt,
			n.last_seen_utc,
			MAX(tr.completed_at_utc) AS last_telemetry_utc,
			MAX(t.received_at_utc) AS last_traceroute_utc
		FROM nodes n
		LEFT JOIN telemetry_requests tr ON n.node_id = tr.to_node_id AND tr.status = 'completed'
		LEFT JOIN traceroutes t ON n.node_id = t.to_node_id
		WHERE n.last_seen_utc >= ?
		  AND n.node_num IS NOT NULL
		  AND n.is_ignored = 0`
	args := []any{activeCutoff}

	if q.ExcludeMQTT {
		query += ` AND (n.is_mqtt = 0 OR n.is_mqtt IS NULL)`
	}

	query += `
		GROUP BY n.node_id, n.node_num, n.long_name, n.short_name, n.is_mqtt, n.last_seen_utc
		HAVING (last_telemetry_utc IS NULL OR last_telemetry_utc < ?)`
	args = append(args, requestCutoff)

	if q.SkipRecentTraceroute {
		query += ` AND (last_traceroute_utc IS NULL OR last_traceroute_utc < ?)`
		args = append(args, fmtTime(s.now().Add(-q.TracerouteAge)))
	}

	query += `
		ORDER BY
			CASE WHEN last_telemetry_utc IS NULL THEN 0 ELSE 1 END,
			last_telemetry_utc ASC
		LIMIT ?`
	args = append(args, q.Limit)

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("telemetry candidates: %w", err)
	}
	defer rows.Close()

	// Telemetry candidate rows carry an extra trailing column.
	var out []ProbeCandidate
	for rows.Next() {
		var (
			c                       ProbeCandidate
			longName, shortName     sql.NullString
			isMQTT                  sql.NullBool
			lastSeen                string
			lastProbe, lastTrace    sql.NullString
		)
		if err := rows.Scan(&c.NodeID, &c.Num, &longName, &shortName, &isMQTT,
			&lastSeen, &lastProbe, &lastTrace); err != nil {
			return nil, fmt.Errorf("scan telemetry candidate: %w", err)
		}
		c.LongName = nullStr(longName)
		c.ShortName = nullStr(shortName)
		c.IsMQTT = isMQTT.Valid && isMQTT.Bool
		if t, err := parseTime(lastSeen); err == nil {
			c.LastSeen = t
		}
		c.LastProbe = nullTime(lastProbe)
		out = append(out, c)
	}
	return out, rows.Err()
}

func scanCandidates(rows *sql.Rows) ([]ProbeCandidate, error) {
	var out []ProbeCandidate
	for rows.Next() {
		var (
			c                   ProbeCandidate
			longName, shortName sql.NullString
			isMQTT              sql.NullBool
			lastSeen            string
			lastProbe           sql.NullString
		)
		if err := rows.Scan(&c.NodeID, &c.Num, &longName, &shortName, &isMQTT,
			&lastSeen, &lastProbe); err != nil {
			return nil, fmt.Errorf("scan candidate: %w", err)
		}
		c.LongName = nullStr(longName)
		c.ShortName = nullStr(shortName)
		c.IsMQTT = isMQTT.Valid && isMQTT.Bool
		if t, err := parseTime(lastSeen); err == nil {
			c.LastSeen = t
		}
		c.LastProbe = nullTime(lastProbe)
		out = append(out, c)
	}
	return out, rows.Err()
}
