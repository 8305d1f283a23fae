// Package postgres provides Postgres-backed persistence for visitor events.
package postgres

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"time"

	"github.com/goccy/go-json"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/JakeFAU/visitor-telemetry/internal/beacon"
)

const defaultTable = "visitor_events"

var validTableName = regexp.MustCompile(`^[a-zA-Z_][a-zA-Z0-9_]*$`)

// EventStoreConfig controls the Postgres connection pool used for event rows.
type EventStoreConfig struct {
	DSN             string
	Table           string
	MaxConns        int32
	MinConns        int32
	MaxConnLifetime time.Duration
}

type pool interface {
	Exec(context.Context, string, ...any) (pgconn.CommandTag, error)
	Query(context.Context, string, ...any) (pgx.Rows, error)
	Close()
}

// EventStore writes and reads event rows.
type EventStore struct {
	pool  pool
	table string
	ids   beacon.IDGenerator
}

// NewEventStore creates a Postgres-backed EventStore using the provided config.
func NewEventStore(ctx context.Context, cfg EventStoreConfig, ids beacon.IDGenerator) (*EventStore, error) {
	if cfg.DSN == "" {
		return nil, errors.New("db.dsn is required")
	}
	table, err := tableName(cfg.Table)
	if err != nil {
		return nil, err
	}
	poolCfg, err := pgxpool.ParseConfig(cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("parse postgres dsn: %w", err)
	}
	if cfg.MaxConns > 0 {
		poolCfg.MaxConns = cfg.MaxConns
	}
	if cfg.MinConns > 0 {
		poolCfg.MinConns = cfg.MinConns
	}
	if cfg.MaxConnLifetime > 0 {
		poolCfg.MaxConnLifetime = cfg.MaxConnLifetime
	}
	p, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, fmt.Errorf("connect postgres: %w", err)
	}
	return &EventStore{pool: p, table: table, ids: ids}, nil
}

// NewEventStoreWithPool constructs a store from an existing pool (primarily for testing).
func NewEventStoreWithPool(p pool, table string, ids beacon.IDGenerator) (*EventStore, error) {
	if p == nil {
		return nil, errors.New("pool is required")
	}
	name, err := tableName(table)
	if err != nil {
		return nil, err
	}
	return &EventStore{pool: p, table: name, ids: ids}, nil
}

func tableName(table string) (string, error) {
	if table == "" {
		table = defaultTable
	}
	if !validTableName.MatchString(table) {
		return "", fmt.Errorf("invalid table name %q", table)
	}
	return table, nil
}

// Close releases the underlying pool resources.
func (s *EventStore) Close() {
	if s == nil || s.pool == nil {
		return
	}
	s.pool.Close()
}

// EnsureSchema creates the events table and its time index when missing.
func (s *EventStore) EnsureSchema(ctx context.Context) error {
	ddl := fmt.Sprintf(`
CREATE TABLE IF NOT EXISTS %[1]s (
	id                uuid PRIMARY KEY,
	source_address    text        NOT NULL,
	request_id        text        NOT NULL DEFAULT '',
	occurred_at       timestamptz NOT NULL,
	path              text        NOT NULL DEFAULT '/',
	user_agent        text        NOT NULL DEFAULT '',
	referrer          text        NOT NULL DEFAULT '',
	language          text        NOT NULL DEFAULT '',
	time_zone         text        NOT NULL DEFAULT '',
	screen_width      integer     NOT NULL DEFAULT 0,
	screen_height     integer     NOT NULL DEFAULT 0,
	location          jsonb       NOT NULL DEFAULT '{}',
	device            jsonb       NOT NULL DEFAULT '{}',
	resolved_location jsonb,
	client_info       jsonb       NOT NULL DEFAULT '{}',
	created_at        timestamptz NOT NULL DEFAULT now()
);
CREATE INDEX IF NOT EXISTS %[1]s_occurred_at_idx ON %[1]s (occurred_at DESC);`, s.table)
	if _, err := s.pool.Exec(ctx, ddl); err != nil {
		return fmt.Errorf("ensure schema: %w", err)
	}
	return nil
}

// Insert writes evt under a fresh UUIDv7 and returns the id.
func (s *EventStore) Insert(ctx context.Context, evt beacon.Event) (string, error) {
	if s == nil || s.pool == nil {
		return "", errors.New("event store is not configured")
	}
	id, err := s.ids.NewID()
	if err != nil {
		return "", fmt.Errorf("generate record id: %w", err)
	}
	location, err := json.Marshal(evt.Location)
	if err != nil {
		return "", fmt.Errorf("marshal location: %w", err)
	}
	device, err := json.Marshal(evt.Device)
	if err != nil {
		return "", fmt.Errorf("marshal device: %w", err)
	}
	var resolved []byte
	if evt.Resolved != nil {
		if resolved, err = json.Marshal(evt.Resolved); err != nil {
			return "", fmt.Errorf("marshal resolved location: %w", err)
		}
	}
	clientInfo := evt.ClientInfo
	if clientInfo == nil {
		clientInfo = map[string]any{}
	}
	info, err := json.Marshal(clientInfo)
	if err != nil {
		return "", fmt.Errorf("marshal client info: %w", err)
	}

	query := fmt.Sprintf(`
INSERT INTO %s (
	id,
	source_address,
	request_id,
	occurred_at,
	path,
	user_agent,
	referrer,
	language,
	time_zone,
	screen_width,
	screen_height,
	location,
	device,
	resolved_location,
	client_info
) VALUES (
	$1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15
)`, s.table)

	args := []any{
		id,
		evt.SourceAddress,
		evt.RequestID,
		evt.OccurredAt,
		evt.Path,
		evt.UserAgent,
		evt.Referrer,
		evt.Language,
		evt.TimeZone,
		evt.ScreenSize.Width,
		evt.ScreenSize.Height,
		location,
		device,
		resolved,
		info,
	}
	if _, err := s.pool.Exec(ctx, query, args...); err != nil {
		return "", fmt.Errorf("insert event: %w", err)
	}
	return id, nil
}

// QueryRecent returns up to limit events ordered by occurred_at, newest first.
func (s *EventStore) QueryRecent(ctx context.Context, limit int) ([]beacon.Event, error) {
	if s == nil || s.pool == nil {
		return nil, errors.New("event store is not configured")
	}
	query := fmt.Sprintf(`
SELECT id::text, source_address, occurred_at, path, user_agent, referrer, language, time_zone,
	screen_width, screen_height, location, device, resolved_location, client_info
FROM %s
ORDER BY occurred_at DESC
LIMIT $1`, s.table)

	rows, err := s.pool.Query(ctx, query, limit)
	if err != nil {
		return nil, fmt.Errorf("query events: %w", err)
	}
	defer rows.Close()

	var out []beacon.Event
	for rows.Next() {
		var (
			evt                              beacon.Event
			location, device, resolved, info []byte
		)
		if err := rows.Scan(
			&evt.ID,
			&evt.SourceAddress,
			&evt.OccurredAt,
			&evt.Path,
			&evt.UserAgent,
			&evt.Referrer,
			&evt.Language,
			&evt.TimeZone,
			&evt.ScreenSize.Width,
			&evt.ScreenSize.Height,
			&location,
			&device,
			&resolved,
			&info,
		); err != nil {
			return nil, fmt.Errorf("scan event: %w", err)
		}
		if err := decodeColumns(&evt, location, device, resolved, info); err != nil {
			return nil, err
		}
		out = append(out, evt)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate events: %w", err)
	}
	return out, nil
}

func decodeColumns(evt *beacon.Event, location, device, resolved, info []byte) error {
	if len(location) > 0 {
		if err := json.Unmarshal(location, &evt.Location); err != nil {
			return fmt.Errorf("decode location: %w", err)
		}
	}
	if len(device) > 0 {
		if err := json.Unmarshal(device, &evt.Device); err != nil {
			return fmt.Errorf("decode device: %w", err)
		}
	}
	if len(resolved) > 0 {
		if err := json.Unmarshal(resolved, &evt.Resolved); err != nil {
			return fmt.Errorf("decode resolved location: %w", err)
		}
	}
	if len(info) > 0 {
		if err := json.Unmarshal(info, &evt.ClientInfo); err != nil {
			return fmt.Errorf("decode client info: %w", err)
		}
	}
	return nil
}
