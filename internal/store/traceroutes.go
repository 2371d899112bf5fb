package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"
)

// InsertTraceroute records one discovered route and returns its id.
// Hop count is the route length.
func (s *Store) InsertTraceroute(ctx context.Context, fromID string, toID *string, route []string, snrTowards []float64, packetID *int64) (int64, error) {
	if fromID == "" {
		return 0, errors.New("traceroute requires a source")
	}
	routeJSON, err := json.Marshal(route)
	if err != nil {
		return 0, fmt.Errorf("encode route: %w", err)
	}
	var snrArg any
	if len(snrTowards) > 0 {
		buf, err := json.Marshal(snrTowards)
		if err != nil {
			return 0, fmt.Errorf("encode snr sequence: %w", err)
		}
		snrArg = string(buf)
	}

	res, err := s.db.ExecContext(ctx, `
		INSERT INTO traceroutes (from_node_id, to_node_id, route_json, hop_count,
			received_at_utc, snr_data, packet_id)
		VALUES (?, ?, ?, ?, ?, ?, ?)`,
		fromID, ptrArg(toID), string(routeJSON), len(route),
		fmtTime(s.now()), snrArg, ptrArg(packetID),
	)
	if err != nil {
		return 0, fmt.Errorf("insert traceroute from %s: %w", fromID, err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return 0, fmt.Errorf("traceroute id: %w", err)
	}
	return id, nil
}

const tracerouteColumns = `t.id, t.from_node_id, t.to_node_id, t.route_json, t.hop_count,
	t.received_at_utc, t.snr_data, t.packet_id,
	fn.long_name, fn.short_name, tn.long_name, tn.short_name`

const tracerouteJoins = `FROM traceroutes t
	LEFT JOIN nodes fn ON t.from_node_id = fn.node_id
	LEFT JOIN nodes tn ON t.to_node_id = tn.node_id`

// Traceroutes returns the most recent traceroutes with display names
// resolved, including a per-hop name list.
func (s *Store) Traceroutes(ctx context.Context, limit int) ([]Traceroute, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+tracerouteColumns+` `+tracerouteJoins+`
		ORDER BY t.received_at_utc DESC
		LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("list traceroutes: %w", err)
	}
	defer rows.Close()

	traces, err := scanTraceroutes(rows)
	if err != nil {
		return nil, err
	}
	if err := s.fillRouteNames(ctx, traces); err != nil {
		return nil, err
	}
	return traces, nil
}

// TracerouteByID returns one traceroute, or ErrNotFound.
func (s *Store) TracerouteByID(ctx context.Context, id int64) (*Traceroute, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+tracerouteColumns+` `+tracerouteJoins+`
		WHERE t.id = ?`, id)
	if err != nil {
		return nil, fmt.Errorf("get traceroute %d: %w", id, err)
	}
	defer rows.Close()

	traces, err := scanTraceroutes(rows)
	if err != nil {
		return nil, err
	}
	if len(traces) == 0 {
		return nil, ErrNotFound
	}
	return &traces[0], nil
}

// TraceroutesByNode returns traceroutes where the node is source,
// destination, or appears in the route.
func (s *Store) TraceroutesByNode(ctx context.Context, nodeID string, limit int) ([]Traceroute, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+tracerouteColumns+` `+tracerouteJoins+`
		WHERE t.from_node_id = ? OR t.to_node_id = ? OR t.route_json LIKE ?
		ORDER BY t.received_at_utc DESC
		LIMIT ?`, nodeID, nodeID, "%"+nodeID+"%", limit)
	if err != nil {
		return nil, fmt.Errorf("list traceroutes for %s: %w", nodeID, err)
	}
	defer rows.Close()
	return scanTraceroutes(rows)
}

// TraceroutesSince returns traceroutes received at or after since, for
// snapshot export.
func (s *Store) TraceroutesSince(ctx context.Context, since time.Time, limit int) ([]Traceroute, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+tracerouteColumns+` `+tracerouteJoins+`
		WHERE t.received_at_utc >= ?
		ORDER BY t.received_at_utc DESC
		LIMIT ?`, fmtTime(since), limit)
	if err != nil {
		return nil, fmt.Errorf("list traceroutes since %s: %w", since, err)
	}
	defer rows.Close()
	return scanTraceroutes(rows)
}

// fillRouteNames resolves short names for every hop of the given
// traceroutes; unknown hops fall back to the identity's tail.
func (s *Store) fillRouteNames(ctx context.Context, traces []Traceroute) error {
	if len(traces) == 0 {
		return nil
	}
	rows, err := s.db.QueryContext(ctx, `SELECT node_id, short_name FROM nodes`)
	if err != nil {
		return fmt.Errorf("load node names: %w", err)
	}
	defer rows.Close()

	names := map[string]string{}
	for rows.Next() {
		var id string
		var short sql.NullString
		if err := rows.Scan(&id, &short); err != nil {
			return fmt.Errorf("scan node name: %w", err)
		}
		if short.Valid && short.String != "" {
			names[id] = short.String
		}
	}
	if err := rows.Err(); err != nil {
		return err
	}

	for i := range traces {
		routeNames := make([]string, len(traces[i].Route))
		for j, hop := range traces[i].Route {
			if name, ok := names[hop]; ok {
				routeNames[j] = name
			} else if len(hop) >= 4 {
				routeNames[j] = hop[len(hop)-4:]
			} else {
				routeNames[j] = hop
			}
		}
		traces[i].RouteNames = routeNames
	}
	return nil
}

func scanTraceroutes(rows *sql.Rows) ([]Traceroute, error) {
	var out []Traceroute
	for rows.Next() {
		var (
			tr                       Traceroute
			toID                     sql.NullString
			routeJSON                string
			receivedAt               string
			snrData                  sql.NullString
			packetID                 sql.NullInt64
			fromLong, fromShort      sql.NullString
			toLong, toShort          sql.NullString
		)
		err := rows.Scan(
			&tr.ID, &tr.FromID, &toID, &routeJSON, &tr.HopCount,
			&receivedAt, &snrData, &packetID,
			&fromLong, &fromShort, &toLong, &toShort,
		)
		if err != nil {
			return nil, fmt.Errorf("scan traceroute: %w", err)
		}
		tr.ToID = nullStr(toID)
		if t, err := parseTime(receivedAt); err == nil {
			tr.ReceivedAt = t
		}
		if err := json.Unmarshal([]byte(routeJSON), &tr.Route); err != nil {
			return nil, fmt.Errorf("decode route of traceroute %d: %w", tr.ID, err)
		}
		if snrData.Valid && snrData.String != "" {
			if err := json.Unmarshal([]byte(snrData.String), &tr.SNRTowards); err != nil {
				return nil, fmt.Errorf("decode snr sequence of traceroute %d: %w", tr.ID, err)
			}
		}
		tr.PacketID = nullI64(packetID)
		tr.FromLongName = nullStr(fromLong)
		tr.FromShortName = nullStr(fromShort)
		tr.ToLongName = nullStr(toLong)
		tr.ToShortName = nullStr(toShort)
		out = append(out, tr)
	}
	return out, rows.Err()
}
