package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
)

// UpsertNode creates or updates a node from one packet's extracted
// fields. New nodes start with total_packets_received = 1 and both seen
// timestamps at now. Existing nodes increment the packet counter,
// refresh last-seen, refresh supplied always-fields, and refresh name
// fields only when the previous name update is at least
// NameUpdateInterval old. The airborne flag is recomputed whenever an
// altitude is supplied.
func (s *Store) UpsertNode(ctx context.Context, upd NodeUpdate) error {
	if upd.ID == "" {
		return errors.New("node id is required")
	}
	now := s.now()
	nowStr := fmtTime(now)

	var lastNameUpdate sql.NullString
	err := s.db.QueryRowContext(ctx,
		`SELECT last_name_update_utc FROM nodes WHERE node_id = ?`, upd.ID,
	).Scan(&lastNameUpdate)
	switch {
	case errors.Is(err, sql.ErrNoRows):
		return s.insertNode(ctx, upd, nowStr)
	case err != nil:
		return fmt.Errorf("look up node %s: %w", upd.ID, err)
	}

	sets := []string{
		"last_seen_utc = ?",
		"updated_at = ?",
		"total_packets_received = total_packets_received + 1",
	}
	args := []any{nowStr, nowStr}

	add := func(col string, v any) {
		sets = append(sets, col+" = ?")
		args = append(args, v)
	}

	if upd.Num != nil {
		add("node_num", *upd.Num)
	}
	if upd.Latitude != nil {
		add("latitude", *upd.Latitude)
	}
	if upd.Longitude != nil {
		add("longitude", *upd.Longitude)
	}
	if upd.Altitude != nil {
		add("altitude", *upd.Altitude)
		add("is_airplane", boolInt(*upd.Altitude > AirplaneAltitudeMeters))
	}
	if upd.HardwareModel != nil {
		add("hardware_model", *upd.HardwareModel)
	}
	if upd.FirmwareVersion != nil {
		add("firmware_version", *upd.FirmwareVersion)
	}
	if upd.ViaMQTT != nil {
		add("is_mqtt", boolInt(*upd.ViaMQTT))
	}
	if upd.BatteryLevel != nil {
		add("battery_level", *upd.BatteryLevel)
		add("last_battery_update_utc", nowStr)
	}
	if upd.Voltage != nil {
		add("voltage", *upd.Voltage)
	}
	if upd.IsCharging != nil {
		add("is_charging", boolInt(*upd.IsCharging))
	}
	if upd.IsPowered != nil {
		add("is_powered", boolInt(*upd.IsPowered))
	}

	updateNames := true
	if t := nullTime(lastNameUpdate); t != nil {
		updateNames = now.Sub(*t) >= NameUpdateInterval
	}
	if updateNames {
		if upd.ShortName != nil {
			add("short_name", *upd.ShortName)
		}
		if upd.LongName != nil {
			add("long_name", *upd.LongName)
		}
		add("last_name_update_utc", nowStr)
	}

	args = append(args, upd.ID)
	query := "UPDATE nodes SET " + strings.Join(sets, ", ") + " WHERE node_id = ?"
	if _, err := s.db.ExecContext(ctx, query, args...); err != nil {
		return fmt.Errorf("update node %s: %w", upd.ID, err)
	}
	return nil
}

func (s *Store) insertNode(ctx context.Context, upd NodeUpdate, nowStr string) error {
	isAirplane := 0
	if upd.Altitude != nil && *upd.Altitude > AirplaneAltitudeMeters {
		isAirplane = 1
	}
	var batteryAt any
	if upd.BatteryLevel != nil {
		batteryAt = nowStr
	}
	viaMQTT := 0
	if upd.ViaMQTT != nil && *upd.ViaMQTT {
		viaMQTT = 1
	}

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO nodes (
			node_id, node_num, short_name, long_name,
			latitude, longitude, altitude,
			last_seen_utc, first_seen_utc, total_packets_received,
			hardware_model, firmware_version, is_mqtt,
			battery_level, voltage, is_charging, is_powered,
			last_battery_update_utc, created_at, updated_at,
			is_ignored, is_airplane, last_name_update_utc
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, 1, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, 0, ?, ?)`,
		upd.ID, ptrArg(upd.Num), ptrArg(upd.ShortName), ptrArg(upd.LongName),
		ptrArg(upd.Latitude), ptrArg(upd.Longitude), ptrArg(upd.Altitude),
		nowStr, nowStr,
		ptrArg(upd.HardwareModel), ptrArg(upd.FirmwareVersion), viaMQTT,
		ptrArg(upd.BatteryLevel), ptrArg(upd.Voltage), boolPtrArg(upd.IsCharging), boolPtrArg(upd.IsPowered),
		batteryAt, nowStr, nowStr,
		isAirplane, nowStr,
	)
	if err != nil {
		return fmt.Errorf("insert node %s: %w", upd.ID, err)
	}
	s.log.Info("new node discovered", "node", upd.ID, "name", strPtrOr(upd.LongName, "unknown"))
	return nil
}

const nodeColumns = `node_id, node_num, short_name, long_name,
	latitude, longitude, altitude,
	last_seen_utc, first_seen_utc, total_packets_received,
	hardware_model, firmware_version, is_mqtt,
	battery_level, voltage, is_charging, is_powered,
	last_battery_update_utc, created_at, updated_at,
	is_ignored, is_airplane, last_name_update_utc`

// Node returns one node by id, or ErrNotFound.
func (s *Store) Node(ctx context.Context, id string) (*Node, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+nodeColumns+` FROM nodes WHERE node_id = ?`, id)
	n, err := scanNode(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get node %s: %w", id, err)
	}
	return n, nil
}

// Nodes returns every node ordered most recently seen first.
func (s *Store) Nodes(ctx context.Context) ([]Node, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+nodeColumns+` FROM nodes ORDER BY last_seen_utc DESC`)
	if err != nil {
		return nil, fmt.Errorf("list nodes: %w", err)
	}
	defer rows.Close()

	var out []Node
	for rows.Next() {
		n, err := scanNode(rows)
		if err != nil {
			return nil, fmt.Errorf("scan node: %w", err)
		}
		out = append(out, *n)
	}
	return out, rows.Err()
}

// SetNodeIgnored toggles the operator ignore flag; returns false when
// the node does not exist.
func (s *Store) SetNodeIgnored(ctx context.Context, id string, ignored bool) (bool, error) {
	res, err := s.db.ExecContext(ctx,
		`UPDATE nodes SET is_ignored = ? WHERE node_id = ?`, boolInt(ignored), id)
	if err != nil {
		return false, fmt.Errorf("set ignored for %s: %w", id, err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("rows affected: %w", err)
	}
	return affected > 0, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanNode(row rowScanner) (*Node, error) {
	var (
		n                        Node
		num, battery             sql.NullInt64
		shortName, longName      sql.NullString
		lat, lon, alt, voltage   sql.NullFloat64
		lastSeen, firstSeen      sql.NullString
		hw, fw                   sql.NullString
		isMQTT, isIgn, isAir     sql.NullBool
		isCharging, isPowered    sql.NullBool
		batteryAt, created       sql.NullString
		updated, lastNameUpd     sql.NullString
	)
	err := row.Scan(
		&n.ID, &num, &shortName, &longName,
		&lat, &lon, &alt,
		&lastSeen, &firstSeen, &n.TotalPackets,
		&hw, &fw, &isMQTT,
		&battery, &voltage, &isCharging, &isPowered,
		&batteryAt, &created, &updated,
		&isIgn, &isAir, &lastNameUpd,
	)
	if err != nil {
		return nil, err
	}
	n.Num = nullI64(num)
	n.ShortName = nullStr(shortName)
	n.LongName = nullStr(longName)
	n.Latitude = nullF64(lat)
	n.Longitude = nullF64(lon)
	n.Altitude = nullF64(alt)
	if t := nullTime(lastSeen); t != nil {
		n.LastSeen = *t
	}
	if t := nullTime(firstSeen); t != nil {
		n.FirstSeen = *t
	}
	n.HardwareModel = nullStr(hw)
	n.FirmwareVersion = nullStr(fw)
	n.IsMQTT = isMQTT.Valid && isMQTT.Bool
	n.BatteryLevel = nullI64(battery)
	n.Voltage = nullF64(voltage)
	n.IsCharging = nullBool(isCharging)
	n.IsPowered = nullBool(isPowered)
	n.LastBatteryAt = nullTime(batteryAt)
	if t := nullTime(created); t != nil {
		n.CreatedAt = *t
	}
	if t := nullTime(updated); t != nil {
		n.UpdatedAt = *t
	}
	n.IsIgnored = isIgn.Valid && isIgn.Bool
	n.IsAirplane = isAir.Valid && isAir.Bool
	n.LastNameUpdate = nullTime(lastNameUpd)
	return &n, nil
}

func boolInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

// ptrArg converts an optional field to a driver argument, mapping nil
// to SQL NULL.
func ptrArg[T any](p *T) any {
	if p == nil {
		return nil
	}
	return *p
}

func boolPtrArg(p *bool) any {
	if p == nil {
		return nil
	}
	return boolInt(*p)
}

func strPtrOr(p *string, def string) string {
	if p == nil || *p == "" {
		return def
	}
	return *p
}
