package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"
)

const packetColumns = `id, node_id, received_at_utc, packet_type, channel_index,
	hop_start, hop_limit, hops_away, via_mqtt, relay_node_id, relay_node_name,
	rx_snr, rx_rssi, latitude, longitude, altitude,
	battery_level, voltage, is_charging, temperature, humidity, pressure,
	message_text, raw_packet`

// InsertPacket appends one history row and then evicts the oldest rows
// for that node until at most maxPerNode remain. A non-positive bound
// therefore retains nothing.
func (s *Store) InsertPacket(ctx context.Context, p PacketRecord, maxPerNode int) error {
	if p.NodeID == "" {
		return fmt.Errorf("packet without node id")
	}
	if p.ReceivedAt.IsZero() {
		p.ReceivedAt = s.now()
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin packet insert: %w", err)
	}
	defer tx.Rollback()

	_, err = tx.ExecContext(ctx, `
		INSERT INTO packet_history (
			node_id, received_at_utc, packet_type, channel_index,
			hop_start, hop_limit, hops_away, via_mqtt, relay_node_id, relay_node_name,
			rx_snr, rx_rssi, latitude, longitude, altitude,
			battery_level, voltage, is_charging, temperature, humidity, pressure,
			message_text, raw_packet
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		p.NodeID, fmtTime(p.ReceivedAt), p.Type, ptrArg(p.ChannelIndex),
		ptrArg(p.HopStart), ptrArg(p.HopLimit), ptrArg(p.HopsAway),
		boolInt(p.ViaMQTT), ptrArg(p.RelayNodeID), ptrArg(p.RelayNodeName),
		ptrArg(p.RxSNR), ptrArg(p.RxRSSI),
		ptrArg(p.Latitude), ptrArg(p.Longitude), ptrArg(p.Altitude),
		ptrArg(p.BatteryLevel), ptrArg(p.Voltage), boolPtrArg(p.IsCharging),
		ptrArg(p.Temperature), ptrArg(p.Humidity), ptrArg(p.Pressure),
		ptrArg(p.MessageText), ptrArg(p.RawPacket),
	)
	if err != nil {
		return fmt.Errorf("insert packet for %s: %w", p.NodeID, err)
	}

	var count int
	if err := tx.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM packet_history WHERE node_id = ?`, p.NodeID,
	).Scan(&count); err != nil {
		return fmt.Errorf("count packets for %s: %w", p.NodeID, err)
	}

	if count > maxPerNode {
		_, err = tx.ExecContext(ctx, `
			DELETE FROM packet_history
			WHERE id IN (
				SELECT id FROM packet_history
				WHERE node_id = ?
				ORDER BY received_at_utc ASC
				LIMIT ?
			)`, p.NodeID, count-maxPerNode)
		if err != nil {
			return fmt.Errorf("evict packets for %s: %w", p.NodeID, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit packet insert: %w", err)
	}
	return nil
}

// NodePackets returns a node's history, most recent first.
func (s *Store) NodePackets(ctx context.Context, nodeID string, limit int) ([]PacketRecord, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+packetColumns+` FROM packet_history
		WHERE node_id = ?
		ORDER BY received_at_utc DESC
		LIMIT ?`, nodeID, limit)
	if err != nil {
		return nil, fmt.Errorf("list packets for %s: %w", nodeID, err)
	}
	defer rows.Close()
	return scanPackets(rows)
}

// PacketsSince returns all packets received at or after since, most
// recent first, capped at limit.
func (s *Store) PacketsSince(ctx context.Context, since time.Time, limit int) ([]PacketRecord, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+packetColumns+` FROM packet_history
		WHERE received_at_utc >= ?
		ORDER BY received_at_utc DESC
		LIMIT ?`, fmtTime(since), limit)
	if err != nil {
		return nil, fmt.Errorf("list packets since %s: %w", since, err)
	}
	defer rows.Close()
	return scanPackets(rows)
}

// RelayObservations returns packets within the window that carry a
// relay identity, for coverage derivation. The caller filters partial
// markers.
func (s *Store) RelayObservations(ctx context.Context, since time.Time) ([]PacketRecord, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+packetColumns+` FROM packet_history
		WHERE received_at_utc >= ? AND relay_node_id IS NOT NULL AND hops_away IS NOT NULL
		ORDER BY received_at_utc ASC`, fmtTime(since))
	if err != nil {
		return nil, fmt.Errorf("list relay observations: %w", err)
	}
	defer rows.Close()
	return scanPackets(rows)
}

// HopObservation is one node's minimum observed hop distance plus the
// relay identity from its most recent multi-hop packet, if any.
type HopObservation struct {
	NodeID      string
	MinHops     int64
	LatestRelay *string
}

// HopObservations aggregates packet history into the inputs of the
// hop-graph view.
func (s *Store) HopObservations(ctx context.Context) ([]HopObservation, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT node_id, MIN(hops_away)
		FROM packet_history
		WHERE hops_away IS NOT NULL
		GROUP BY node_id`)
	if err != nil {
		return nil, fmt.Errorf("aggregate hop distances: %w", err)
	}
	defer rows.Close()

	var out []HopObservation
	byNode := map[string]int{}
	for rows.Next() {
		var o HopObservation
		if err := rows.Scan(&o.NodeID, &o.MinHops); err != nil {
			return nil, fmt.Errorf("scan hop distance: %w", err)
		}
		byNode[o.NodeID] = len(out)
		out = append(out, o)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	// Bare relay_node_id selected alongside MAX() resolves to the value
	// from the newest row, a documented SQLite behavior.
	relayRows, err := s.db.QueryContext(ctx, `
		SELECT node_id, relay_node_id, MAX(received_at_utc)
		FROM packet_history
		WHERE hops_away > 0 AND relay_node_id IS NOT NULL
		GROUP BY node_id`)
	if err != nil {
		return nil, fmt.Errorf("aggregate latest relays: %w", err)
	}
	defer relayRows.Close()

	for relayRows.Next() {
		var (
			nodeID string
			relay  sql.NullString
			at     string
		)
		if err := relayRows.Scan(&nodeID, &relay, &at); err != nil {
			return nil, fmt.Errorf("scan latest relay: %w", err)
		}
		if idx, ok := byNode[nodeID]; ok {
			out[idx].LatestRelay = nullStr(relay)
		}
	}
	return out, relayRows.Err()
}

func scanPackets(rows *sql.Rows) ([]PacketRecord, error) {
	var out []PacketRecord
	for rows.Next() {
		var (
			p                                  PacketRecord
			receivedAt                         string
			pktType, relayID, relayName        sql.NullString
			channel, hopStart, hopLimit, hops  sql.NullInt64
			viaMQTT, isCharging                sql.NullBool
			snr, lat, lon, alt, voltage        sql.NullFloat64
			temperature, humidity, pressure    sql.NullFloat64
			rssi, battery                      sql.NullInt64
			messageText, rawPacket             sql.NullString
		)
		err := rows.Scan(
			&p.ID, &p.NodeID, &receivedAt, &pktType, &channel,
			&hopStart, &hopLimit, &hops, &viaMQTT, &relayID, &relayName,
			&snr, &rssi, &lat, &lon, &alt,
			&battery, &voltage, &isCharging, &temperature, &humidity, &pressure,
			&messageText, &rawPacket,
		)
		if err != nil {
			return nil, fmt.Errorf("scan packet: %w", err)
		}
		if t, err := parseTime(receivedAt); err == nil {
			p.ReceivedAt = t
		}
		if pktType.Valid {
			p.Type = pktType.String
		}
		p.ChannelIndex = nullI64(channel)
		p.HopStart = nullI64(hopStart)
		p.HopLimit = nullI64(hopLimit)
		p.HopsAway = nullI64(hops)
		p.ViaMQTT = viaMQTT.Valid && viaMQTT.Bool
		p.RelayNodeID = nullStr(relayID)
		p.RelayNodeName = nullStr(relayName)
		p.RxSNR = nullF64(snr)
		p.RxRSSI = nullI64(rssi)
		p.Latitude = nullF64(lat)
		p.Longitude = nullF64(lon)
		p.Altitude = nullF64(alt)
		p.BatteryLevel = nullI64(battery)
		p.Voltage = nullF64(voltage)
		p.IsCharging = nullBool(isCharging)
		p.Temperature = nullF64(temperature)
		p.Humidity = nullF64(humidity)
		p.Pressure = nullF64(pressure)
		p.MessageText = nullStr(messageText)
		p.RawPacket = nullStr(rawPacket)
		out = append(out, p)
	}
	return out, rows.Err()
}
