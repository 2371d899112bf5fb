package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"math"
	"time"
)

// LinkQuality computes the composite link score in [0, 100]: 40% SNR
// mapped from [-20, +20] dB, 40% RSSI mapped from [-120, -30] dBm, 20%
// reliability from observation count. A missing reading contributes
// zero from its component. Rounded to two decimals.
func LinkQuality(snr, rssi *float64, packetCount int64) float64 {
	score := 0.0
	if snr != nil {
		score += clamp01x100((*snr+20)*2.5) * 0.4
	}
	if rssi != nil {
		score += clamp01x100((*rssi+120)*1.11) * 0.4
	}
	score += math.Min(100, float64(packetCount)*2) * 0.2
	return math.Round(score*100) / 100
}

func clamp01x100(v float64) float64 {
	return math.Min(100, math.Max(0, v))
}

// UpdateTopology records one observation of source reaching neighbor.
// Running means are maintained incrementally; min/max update
// monotonically; the edge becomes active. The read-modify-write runs
// inside one transaction so interleaved updates cannot corrupt the
// aggregates.
func (s *Store) UpdateTopology(ctx context.Context, sourceID, neighborID string, snr, rssi *float64, hopCount *int64) error {
	if sourceID == "" || neighborID == "" {
		return errors.New("topology update requires source and neighbor")
	}
	nowStr := fmtTime(s.now())

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin topology update: %w", err)
	}
	defer tx.Rollback()

	var (
		id                             int64
		total                          int64
		avgSNR, avgRSSI                sql.NullFloat64
		minSNR, maxSNR                 sql.NullFloat64
		minRSSI, maxRSSI               sql.NullFloat64
	)
	err = tx.QueryRowContext(ctx, `
		SELECT id, total_packets, avg_snr, avg_rssi, min_snr, max_snr, min_rssi, max_rssi
		FROM network_topology
		WHERE source_node_id = ? AND neighbor_node_id = ?`,
		sourceID, neighborID,
	).Scan(&id, &total, &avgSNR, &avgRSSI, &minSNR, &maxSNR, &minRSSI, &maxRSSI)

	switch {
	case errors.Is(err, sql.ErrNoRows):
		quality := LinkQuality(snr, rssi, 1)
		_, err = tx.ExecContext(ctx, `
			INSERT INTO network_topology (
				source_node_id, neighbor_node_id, first_heard_utc, last_heard_utc,
				total_packets, avg_snr, avg_rssi, min_snr, max_snr, min_rssi, max_rssi,
				link_quality_score, is_active, last_hop_count
			) VALUES (?, ?, ?, ?, 1, ?, ?, ?, ?, ?, ?, ?, 1, ?)`,
			sourceID, neighborID, nowStr, nowStr,
			ptrArg(snr), ptrArg(rssi), ptrArg(snr), ptrArg(snr), ptrArg(rssi), ptrArg(rssi),
			quality, ptrArg(hopCount),
		)
		if err != nil {
			return fmt.Errorf("insert edge %s->%s: %w", sourceID, neighborID, err)
		}
	case err != nil:
		return fmt.Errorf("look up edge %s->%s: %w", sourceID, neighborID, err)
	default:
		newTotal := total + 1

		newAvgSNR, newMinSNR, newMaxSNR := foldSample(avgSNR, minSNR, maxSNR, snr, total)
		newAvgRSSI, newMinRSSI, newMaxRSSI := foldSample(avgRSSI, minRSSI, maxRSSI, rssi, total)

		quality := LinkQuality(newAvgSNR, newAvgRSSI, newTotal)
		_, err = tx.ExecContext(ctx, `
			UPDATE network_topology SET
				last_heard_utc = ?,
				total_packets = ?,
				avg_snr = ?, avg_rssi = ?,
				min_snr = ?, max_snr = ?, min_rssi = ?, max_rssi = ?,
				link_quality_score = ?,
				is_active = 1,
				last_hop_count = ?
			WHERE id = ?`,
			nowStr, newTotal,
			ptrArg(newAvgSNR), ptrArg(newAvgRSSI),
			ptrArg(newMinSNR), ptrArg(newMaxSNR), ptrArg(newMinRSSI), ptrArg(newMaxRSSI),
			quality, ptrArg(hopCount), id,
		)
		if err != nil {
			return fmt.Errorf("update edge %s->%s: %w", sourceID, neighborID, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit topology update: %w", err)
	}
	return nil
}

// foldSample merges one optional sample into (avg, min, max) aggregates
// that previously covered oldCount observations. A nil sample leaves
// the aggregates untouched.
func foldSample(avg, minV, maxV sql.NullFloat64, sample *float64, oldCount int64) (*float64, *float64, *float64) {
	if sample == nil {
		return nullF64(avg), nullF64(minV), nullF64(maxV)
	}
	prevAvg := 0.0
	if avg.Valid {
		prevAvg = avg.Float64
	}
	newAvg := (prevAvg*float64(oldCount) + *sample) / float64(oldCount+1)

	newMin := *sample
	if minV.Valid && minV.Float64 < newMin {
		newMin = minV.Float64
	}
	newMax := *sample
	if maxV.Valid && maxV.Float64 > newMax {
		newMax = maxV.Float64
	}
	return &newAvg, &newMin, &newMax
}

// MarkInactiveLinks deactivates edges whose last observation is older
// than the timeout; returns the number of edges flipped.
func (s *Store) MarkInactiveLinks(ctx context.Context, timeout time.Duration) (int64, error) {
	cutoff := fmtTime(s.now().Add(-timeout))
	res, err := s.db.ExecContext(ctx, `
		UPDATE network_topology
		SET is_active = 0
		WHERE last_heard_utc < ? AND is_active = 1`, cutoff)
	if err != nil {
		return 0, fmt.Errorf("mark inactive links: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("rows affected: %w", err)
	}
	return n, nil
}

const edgeColumns = `id, source_node_id, neighbor_node_id, first_heard_utc, last_heard_utc,
	total_packets, avg_snr, avg_rssi, min_snr, max_snr, min_rssi, max_rssi,
	link_quality_score, is_active, last_hop_count`

// Topology returns edges, optionally active ones only.
func (s *Store) Topology(ctx context.Context, activeOnly bool) ([]Edge, error) {
	query := `SELECT ` + edgeColumns + ` FROM network_topology`
	if activeOnly {
		query += ` WHERE is_active = 1`
	}
	rows, err := s.db.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("list topology: %w", err)
	}
	defer rows.Close()
	return scanEdges(rows)
}

// Neighbors returns active edges touching the node in either direction.
func (s *Store) Neighbors(ctx context.Context, nodeID string) ([]Edge, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+edgeColumns+` FROM network_topology
		WHERE (source_node_id = ? OR neighbor_node_id = ?) AND is_active = 1`,
		nodeID, nodeID)
	if err != nil {
		return nil, fmt.Errorf("list neighbors of %s: %w", nodeID, err)
	}
	defer rows.Close()
	return scanEdges(rows)
}

// Statistics computes the aggregate network rollup.
func (s *Store) Statistics(ctx context.Context) (NetworkStats, error) {
	var stats NetworkStats

	if err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM nodes`).Scan(&stats.TotalNodes); err != nil {
		return stats, fmt.Errorf("count nodes: %w", err)
	}

	hourAgo := fmtTime(s.now().Add(-time.Hour))
	if err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM nodes WHERE last_seen_utc > ?`, hourAgo,
	).Scan(&stats.ActiveNodes); err != nil {
		return stats, fmt.Errorf("count active nodes: %w", err)
	}

	if err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM packet_history`).Scan(&stats.TotalPackets); err != nil {
		return stats, fmt.Errorf("count packets: %w", err)
	}

	if err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM network_topology WHERE is_active = 1`,
	).Scan(&stats.ActiveLinks); err != nil {
		return stats, fmt.Errorf("count active links: %w", err)
	}

	var avgQuality sql.NullFloat64
	if err := s.db.QueryRowContext(ctx,
		`SELECT AVG(link_quality_score) FROM network_topology WHERE is_active = 1`,
	).Scan(&avgQuality); err != nil {
		return stats, fmt.Errorf("average link quality: %w", err)
	}
	if avgQuality.Valid {
		stats.AvgLinkQuality = math.Round(avgQuality.Float64*100) / 100
	}

	return stats, nil
}

func scanEdges(rows *sql.Rows) ([]Edge, error) {
	var out []Edge
	for rows.Next() {
		var (
			e                      Edge
			firstHeard, lastHeard  string
			avgSNR, avgRSSI        sql.NullFloat64
			minSNR, maxSNR         sql.NullFloat64
			minRSSI, maxRSSI       sql.NullFloat64
			quality                sql.NullFloat64
			isActive               sql.NullBool
			hopCount               sql.NullInt64
		)
		err := rows.Scan(
			&e.ID, &e.SourceID, &e.NeighborID, &firstHeard, &lastHeard,
			&e.TotalPackets, &avgSNR, &avgRSSI, &minSNR, &maxSNR, &minRSSI, &maxRSSI,
			&quality, &isActive, &hopCount,
		)
		if err != nil {
			return nil, fmt.Errorf("scan edge: %w", err)
		}
		if t, err := parseTime(firstHeard); err == nil {
			e.FirstHeard = t
		}
		if t, err := parseTime(lastHeard); err == nil {
			e.LastHeard = t
		}
		e.AvgSNR = nullF64(avgSNR)
		e.AvgRSSI = nullF64(avgRSSI)
		e.MinSNR = nullF64(minSNR)
		e.MaxSNR = nullF64(maxSNR)
		e.MinRSSI = nullF64(minRSSI)
		e.MaxRSSI = nullF64(maxRSSI)
		e.Quality = nullF64(quality)
		e.IsActive = isActive.Valid && isActive.Bool
		e.LastHopCount = nullI64(hopCount)
		out = append(out, e)
	}
	return out, rows.Err()
}
