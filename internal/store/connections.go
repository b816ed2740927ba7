package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/njoerd114/channelrelay/internal/model"
	"github.com/njoerd114/channelrelay/internal/secrets"
)

// Connections persists one ChannelConnection per channel. Credentials are
// sealed with the configured secrets.Box before they reach the database.
type Connections struct {
	s   *Store
	box *secrets.Box
}

// NewConnections creates the connection repository.
func NewConnections(s *Store, box *secrets.Box) *Connections {
	return &Connections{s: s, box: box}
}

const connectionColumns = `channel, property_id, credentials, active, last_sync_at, created_at, updated_at`

// Get returns the connection for channel, or (nil, nil) if none exists.
func (c *Connections) Get(ctx context.Context, channel string) (*model.ChannelConnection, error) {
	q := `SELECT ` + connectionColumns + ` FROM channel_connections WHERE channel = ?`
	return c.scan(c.s.db.QueryRowContext(ctx, q, channel))
}

// List returns all connections ordered by channel name.
func (c *Connections) List(ctx context.Context) ([]*model.ChannelConnection, error) {
	q := `SELECT ` + connectionColumns + ` FROM channel_connections ORDER BY channel`
	rows, err := c.s.db.QueryContext(ctx, q)
	if err != nil {
		return nil, fmt.Errorf("querying connections: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var out []*model.ChannelConnection
	for rows.Next() {
		conn, err := c.scan(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, conn)
	}
	return out, rows.Err()
}

// ListActive returns the connections with the active flag set.
func (c *Connections) ListActive(ctx context.Context) ([]*model.ChannelConnection, error) {
	all, err := c.List(ctx)
	if err != nil {
		return nil, err
	}
	active := all[:0]
	for _, conn := range all {
		if conn.Active {
			active = append(active, conn)
		}
	}
	return active, nil
}

// Save inserts or replaces the connection for conn.Channel. LastSyncAt is
// left untouched on update; it is owned by TouchLastSync.
func (c *Connections) Save(ctx context.Context, conn *model.ChannelConnection) error {
	plain, err := json.Marshal(conn.Credentials)
	if err != nil {
		return fmt.Errorf("encoding credentials for %q: %w", conn.Channel, err)
	}
	sealed, err := c.box.Seal(plain)
	if err != nil {
		return fmt.Errorf("sealing credentials for %q: %w", conn.Channel, err)
	}

	now := time.Now().UTC()
	const q = `
		INSERT INTO channel_connections
		    (channel, property_id, credentials, active, last_sync_at, created_at, updated_at)
		VALUES (?, ?, ?, ?, '', ?, ?)
		ON CONFLICT(channel) DO UPDATE SET
		    property_id = excluded.property_id,
		    credentials = excluded.credentials,
		    active      = excluded.active,
		    updated_at  = excluded.updated_at`
	_, err = c.s.db.ExecContext(ctx, q,
		conn.Channel,
		conn.PropertyID,
		sealed,
		boolToInt(conn.Active),
		formatTime(now),
		formatTime(now),
	)
	if err != nil {
		return fmt.Errorf("saving connection %q: %w", conn.Channel, err)
	}
	conn.UpdatedAt = now
	return nil
}

// TouchLastSync records that a sync attempt for channel finished at t.
func (c *Connections) TouchLastSync(ctx context.Context, channel string, t time.Time) error {
	const q = `UPDATE channel_connections SET last_sync_at = ? WHERE channel = ?`
	res, err := c.s.db.ExecContext(ctx, q, formatTime(t), channel)
	if err != nil {
		return fmt.Errorf("updating last sync for %q: %w", channel, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("updating last sync for %q: %w", channel, ErrNotFound)
	}
	return nil
}

func (c *Connections) scan(s scanner) (*model.ChannelConnection, error) {
	var (
		conn                       model.ChannelConnection
		sealed, lastSync, crt, upd string
		active                     int
	)
	err := s.Scan(&conn.Channel, &conn.PropertyID, &sealed, &active, &lastSync, &crt, &upd)
	if err == sql.ErrNoRows {
		return nil, nil //nolint:nilnil // intentional: "not found" sentinel
	}
	if err != nil {
		return nil, fmt.Errorf("scanning connection row: %w", err)
	}

	if sealed != "" {
		plain, err := c.box.Open(sealed)
		if err != nil {
			return nil, fmt.Errorf("opening credentials for %q: %w", conn.Channel, err)
		}
		if err := json.Unmarshal(plain, &conn.Credentials); err != nil {
			return nil, fmt.Errorf("decoding credentials for %q: %w", conn.Channel, err)
		}
	}

	conn.Active = active != 0
	conn.LastSyncAt = parseTimePtr(lastSync)
	conn.CreatedAt, _ = parseTime(crt)
	conn.UpdatedAt, _ = parseTime(upd)
	return &conn, nil
}
