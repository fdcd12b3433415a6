package store

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/ponwatch/ponwatch/types"
)

// DBTX matches the minimal interface needed from pgxpool.Pool or pgx.Tx.
type DBTX interface {
	Exec(ctx context.Context, sql string, arguments ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, optionsAndArgs ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, optionsAndArgs ...any) pgx.Row
}

// OpenPool connects a pgx pool and verifies connectivity early.
func OpenPool(ctx context.Context, databaseURL string) (*pgxpool.Pool, error) {
	p, err := pgxpool.New(ctx, databaseURL)
	if err != nil {
		return nil, fmt.Errorf("open pool: %w", err)
	}
	if err := p.Ping(ctx); err != nil {
		p.Close()
		return nil, fmt.Errorf("ping: %w", err)
	}
	return p, nil
}

// Postgres implements the engine stores over the schema in schema.sql.
type Postgres struct {
	db DBTX
}

func NewPostgres(db DBTX) *Postgres {
	return &Postgres{db: db}
}

const deviceColumns = `id, name, vendor, host, telnet_enabled, cli_port, cli_transport,
  username, password, snmp_enabled, snmp_port, community, slots, ports_per_slot`

func scanDevice(row pgx.Row) (types.Device, error) {
	var d types.Device
	err := row.Scan(&d.ID, &d.Name, &d.Vendor, &d.Host, &d.TelnetEnabled, &d.CLIPort,
		&d.CLITransport, &d.Username, &d.Password, &d.SNMPEnabled, &d.SNMPPort,
		&d.Community, &d.Slots, &d.PortsPerSlot)
	return d, err
}

func (p *Postgres) Device(ctx context.Context, id int64) (types.Device, error) {
	row := p.db.QueryRow(ctx, `SELECT `+deviceColumns+` FROM devices WHERE id = $1`, id)
	d, err := scanDevice(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return types.Device{}, fmt.Errorf("device %d not found", id)
	}
	if err != nil {
		return types.Device{}, fmt.Errorf("select device: %w", err)
	}
	return d, nil
}

func (p *Postgres) Devices(ctx context.Context) ([]types.Device, error) {
	rows, err := p.db.Query(ctx, `SELECT `+deviceColumns+` FROM devices ORDER BY id`)
	if err != nil {
		return nil, fmt.Errorf("select devices: %w", err)
	}
	defer rows.Close()

	var devices []types.Device
	for rows.Next() {
		d, err := scanDevice(rows)
		if err != nil {
			return nil, fmt.Errorf("scan device: %w", err)
		}
		devices = append(devices, d)
	}
	return devices, rows.Err()
}

const terminalColumns = `device_id, serial, port, onu_index, mac, rx_power, tx_power, status,
  fingerprint, name, model, auth_mode, config_state, dba_mode, line_profile,
  service_profile, channel, online_duration, distance_m, last_auth_at,
  last_offline_at, first_seen_at, last_seen_at`

func scanTerminal(row pgx.Row) (*types.StoredTerminal, error) {
	var t types.StoredTerminal
	err := row.Scan(&t.DeviceID, &t.Serial, &t.Port, &t.Index, &t.MAC, &t.RxPower,
		&t.TxPower, &t.Status, &t.Fingerprint, &t.Name, &t.Model, &t.AuthMode,
		&t.ConfigState, &t.DBAMode, &t.LineProfile, &t.ServiceProfile, &t.Channel,
		&t.OnlineDuration, &t.DistanceM, &t.LastAuthAt, &t.LastOfflineAt,
		&t.FirstSeenAt, &t.LastSeenAt)
	if err != nil {
		return nil, err
	}
	return &t, nil
}

func (p *Postgres) BySerial(ctx context.Context, deviceID int64, serial string) (*types.StoredTerminal, error) {
	row := p.db.QueryRow(ctx,
		`SELECT `+terminalColumns+` FROM terminals WHERE device_id = $1 AND serial = $2`,
		deviceID, serial)
	t, err := scanTerminal(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("select terminal: %w", err)
	}
	return t, nil
}

func (p *Postgres) Insert(ctx context.Context, t *types.StoredTerminal) error {
	_, err := p.db.Exec(ctx, `
INSERT INTO terminals (`+terminalColumns+`)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16,
        $17, $18, $19, $20, $21, $22, $23)`,
		t.DeviceID, t.Serial, t.Port, t.Index, t.MAC, t.RxPower, t.TxPower, t.Status,
		t.Fingerprint, t.Name, t.Model, t.AuthMode, t.ConfigState, t.DBAMode,
		t.LineProfile, t.ServiceProfile, t.Channel, t.OnlineDuration, t.DistanceM,
		t.LastAuthAt, t.LastOfflineAt, t.FirstSeenAt, t.LastSeenAt)
	if err != nil {
		return fmt.Errorf("insert terminal %s: %w", t.Serial, err)
	}
	return nil
}

func (p *Postgres) Update(ctx context.Context, t *types.StoredTerminal) error {
	tag, err := p.db.Exec(ctx, `
UPDATE terminals SET
  port = $3, onu_index = $4, mac = $5, rx_power = $6, tx_power = $7, status = $8,
  fingerprint = $9, name = $10, model = $11, auth_mode = $12, config_state = $13,
  dba_mode = $14, line_profile = $15, service_profile = $16, channel = $17,
  online_duration = $18, distance_m = $19, last_auth_at = $20,
  last_offline_at = $21, last_seen_at = $22
WHERE device_id = $1 AND serial = $2`,
		t.DeviceID, t.Serial, t.Port, t.Index, t.MAC, t.RxPower, t.TxPower, t.Status,
		t.Fingerprint, t.Name, t.Model, t.AuthMode, t.ConfigState, t.DBAMode,
		t.LineProfile, t.ServiceProfile, t.Channel, t.OnlineDuration, t.DistanceM,
		t.LastAuthAt, t.LastOfflineAt, t.LastSeenAt)
	if err != nil {
		return fmt.Errorf("update terminal %s: %w", t.Serial, err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("terminal %s not found on device %d", t.Serial, t.DeviceID)
	}
	return nil
}

func (p *Postgres) ByDevice(ctx context.Context, deviceID int64) ([]*types.StoredTerminal, error) {
	rows, err := p.db.Query(ctx,
		`SELECT `+terminalColumns+` FROM terminals WHERE device_id = $1 ORDER BY port, onu_index`,
		deviceID)
	if err != nil {
		return nil, fmt.Errorf("select terminals: %w", err)
	}
	defer rows.Close()

	var terminals []*types.StoredTerminal
	for rows.Next() {
		t, err := scanTerminal(rows)
		if err != nil {
			return nil, fmt.Errorf("scan terminal: %w", err)
		}
		terminals = append(terminals, t)
	}
	return terminals, rows.Err()
}

func (p *Postgres) Upsert(ctx context.Context, run types.Run) error {
	_, err := p.db.Exec(ctx, `
INSERT INTO discovery_runs (device_id, status, error, started_at, completed_at,
  last_cycle_at, discovered, updated, skipped)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
ON CONFLICT (device_id) DO UPDATE SET
  status = EXCLUDED.status,
  error = EXCLUDED.error,
  started_at = EXCLUDED.started_at,
  completed_at = EXCLUDED.completed_at,
  last_cycle_at = EXCLUDED.last_cycle_at,
  discovered = EXCLUDED.discovered,
  updated = EXCLUDED.updated,
  skipped = EXCLUDED.skipped`,
		run.DeviceID, run.Status, run.Error, run.StartedAt, run.CompletedAt,
		run.LastCycleAt, run.Discovered, run.Updated, run.Skipped)
	if err != nil {
		return fmt.Errorf("upsert run for device %d: %w", run.DeviceID, err)
	}
	return nil
}

const runColumns = `device_id, status, error, started_at, completed_at, last_cycle_at,
  discovered, updated, skipped`

func scanRun(row pgx.Row) (types.Run, error) {
	var r types.Run
	err := row.Scan(&r.DeviceID, &r.Status, &r.Error, &r.StartedAt, &r.CompletedAt,
		&r.LastCycleAt, &r.Discovered, &r.Updated, &r.Skipped)
	return r, err
}

func (p *Postgres) Get(ctx context.Context, deviceID int64) (*types.Run, error) {
	row := p.db.QueryRow(ctx, `SELECT `+runColumns+` FROM discovery_runs WHERE device_id = $1`, deviceID)
	r, err := scanRun(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("select run: %w", err)
	}
	return &r, nil
}

func (p *Postgres) All(ctx context.Context) ([]types.Run, error) {
	rows, err := p.db.Query(ctx, `SELECT `+runColumns+` FROM discovery_runs ORDER BY device_id`)
	if err != nil {
		return nil, fmt.Errorf("select runs: %w", err)
	}
	defer rows.Close()

	var runs []types.Run
	for rows.Next() {
		r, err := scanRun(rows)
		if err != nil {
			return nil, fmt.Errorf("scan run: %w", err)
		}
		runs = append(runs, r)
	}
	return runs, rows.Err()
}
