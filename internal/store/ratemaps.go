package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"sync"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"
	sqlite3 "github.com/mattn/go-sqlite3"

	"github.com/njoerd114/channelrelay/internal/model"
)

// ErrMappingConflict is returned when a write would leave two active mappings
// for the same (channel, room type, rate plan).
var ErrMappingConflict = errors.New("store: an active mapping already exists for this room type and rate plan")

const reverseCacheSize = 512

// RateMaps persists channel room/rate code mappings. Reverse lookups (channel
// room code → local room type) are served from an LRU cache. The cache is
// tagged with the table's write generation, which triggers bump on every
// insert, update and delete, so writes made by another process sharing the
// database also invalidate it.
type RateMaps struct {
	s       *Store
	reverse *lru.Cache[string, int64]

	mu  sync.Mutex
	gen int64 // generation the cached entries were read at
}

// NewRateMaps creates the rate mapping repository.
func NewRateMaps(s *Store) *RateMaps {
	cache, err := lru.New[string, int64](reverseCacheSize)
	if err != nil {
		// Only returned for a non-positive size.
		panic(err)
	}
	return &RateMaps{s: s, reverse: cache}
}

const rateMapColumns = `id, channel, room_type_id, rate_plan_id, channel_room_code, channel_rate_code, active, created_at, updated_at`

// ActiveMappings returns the active mappings for channel, optionally narrowed
// to one local room type, ordered by room type then rate plan.
func (r *RateMaps) ActiveMappings(ctx context.Context, channel string, roomTypeID *int64) ([]*model.RateMap, error) {
	q := `SELECT ` + rateMapColumns + ` FROM rate_maps WHERE channel = ? AND active = 1`
	args := []any{channel}
	if roomTypeID != nil {
		q += ` AND room_type_id = ?`
		args = append(args, *roomTypeID)
	}
	q += ` ORDER BY room_type_id, rate_plan_id, id`
	return r.query(ctx, q, args...)
}

// List returns every mapping for channel, active or not. An empty channel
// lists all channels.
func (r *RateMaps) List(ctx context.Context, channel string) ([]*model.RateMap, error) {
	q := `SELECT ` + rateMapColumns + ` FROM rate_maps`
	var args []any
	if channel != "" {
		q += ` WHERE channel = ?`
		args = append(args, channel)
	}
	q += ` ORDER BY channel, room_type_id, rate_plan_id, id`
	return r.query(ctx, q, args...)
}

// Get returns the mapping with the given ID, or (nil, nil) if none exists.
func (r *RateMaps) Get(ctx context.Context, id int64) (*model.RateMap, error) {
	q := `SELECT ` + rateMapColumns + ` FROM rate_maps WHERE id = ?`
	return scanRateMap(r.s.db.QueryRowContext(ctx, q, id))
}

// LookupRoomType resolves a channel room code to the local room type of the
// first active mapping carrying it. Returns (nil, nil) when nothing maps it.
func (r *RateMaps) LookupRoomType(ctx context.Context, channel, channelRoomCode string) (*int64, error) {
	if err := r.refresh(ctx); err != nil {
		return nil, err
	}
	key := channel + "\x00" + channelRoomCode
	if id, ok := r.reverse.Get(key); ok {
		return &id, nil
	}

	const q = `
		SELECT room_type_id FROM rate_maps
		WHERE channel = ? AND channel_room_code = ? AND active = 1
		ORDER BY id LIMIT 1`
	var id int64
	err := r.s.db.QueryRowContext(ctx, q, channel, channelRoomCode).Scan(&id)
	if err == sql.ErrNoRows {
		return nil, nil //nolint:nilnil // intentional: "not found" sentinel
	}
	if err != nil {
		return nil, fmt.Errorf("looking up room code %q on %s: %w", channelRoomCode, channel, err)
	}
	r.reverse.Add(key, id)
	return &id, nil
}

// refresh purges the reverse cache when rate_maps changed since it was filled.
func (r *RateMaps) refresh(ctx context.Context) error {
	var gen int64
	err := r.s.db.QueryRowContext(ctx, `SELECT generation FROM rate_map_generation WHERE id = 1`).Scan(&gen)
	if err != nil {
		return fmt.Errorf("reading mapping generation: %w", err)
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if gen != r.gen {
		r.reverse.Purge()
		r.gen = gen
	}
	return nil
}

// Create inserts m and sets its ID.
func (r *RateMaps) Create(ctx context.Context, m *model.RateMap) error {
	now := time.Now().UTC()
	const q = `
		INSERT INTO rate_maps
		    (channel, room_type_id, rate_plan_id, channel_room_code, channel_rate_code, active, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`
	res, err := r.s.db.ExecContext(ctx, q,
		m.Channel, m.RoomTypeID, m.RatePlanID, m.ChannelRoomCode, m.ChannelRateCode,
		boolToInt(m.Active), formatTime(now), formatTime(now),
	)
	if err != nil {
		return wrapMappingErr("creating mapping", err)
	}
	r.reverse.Purge()

	m.ID, _ = res.LastInsertId()
	m.CreatedAt, m.UpdatedAt = now, now
	return nil
}

// Update overwrites the mapping identified by m.ID.
func (r *RateMaps) Update(ctx context.Context, m *model.RateMap) error {
	now := time.Now().UTC()
	const q = `
		UPDATE rate_maps SET
		    channel = ?, room_type_id = ?, rate_plan_id = ?,
		    channel_room_code = ?, channel_rate_code = ?, active = ?, updated_at = ?
		WHERE id = ?`
	res, err := r.s.db.ExecContext(ctx, q,
		m.Channel, m.RoomTypeID, m.RatePlanID, m.ChannelRoomCode, m.ChannelRateCode,
		boolToInt(m.Active), formatTime(now), m.ID,
	)
	if err != nil {
		return wrapMappingErr(fmt.Sprintf("updating mapping %d", m.ID), err)
	}
	r.reverse.Purge()

	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("updating mapping %d: %w", m.ID, ErrNotFound)
	}
	m.UpdatedAt = now
	return nil
}

// Delete removes the mapping with the given ID.
func (r *RateMaps) Delete(ctx context.Context, id int64) error {
	res, err := r.s.db.ExecContext(ctx, `DELETE FROM rate_maps WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("deleting mapping %d: %w", id, err)
	}
	r.reverse.Purge()

	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("deleting mapping %d: %w", id, ErrNotFound)
	}
	return nil
}

func (r *RateMaps) query(ctx context.Context, q string, args ...any) ([]*model.RateMap, error) {
	rows, err := r.s.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, fmt.Errorf("querying mappings: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var out []*model.RateMap
	for rows.Next() {
		m, err := scanRateMap(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, m)
	}
	return out, rows.Err()
}

func scanRateMap(s scanner) (*model.RateMap, error) {
	var (
		m        model.RateMap
		active   int
		crt, upd string
	)
	err := s.Scan(&m.ID, &m.Channel, &m.RoomTypeID, &m.RatePlanID,
		&m.ChannelRoomCode, &m.ChannelRateCode, &active, &crt, &upd)
	if err == sql.ErrNoRows {
		return nil, nil //nolint:nilnil // intentional: "not found" sentinel
	}
	if err != nil {
		return nil, fmt.Errorf("scanning mapping row: %w", err)
	}
	m.Active = active != 0
	m.CreatedAt, _ = parseTime(crt)
	m.UpdatedAt, _ = parseTime(upd)
	return &m, nil
}

func wrapMappingErr(op string, err error) error {
	if isUniqueViolation(err) {
		return fmt.Errorf("%s: %w", op, ErrMappingConflict)
	}
	return fmt.Errorf("%s: %w", op, err)
}

// isUniqueViolation reports whether err is a SQLite UNIQUE constraint failure.
func isUniqueViolation(err error) bool {
	var se sqlite3.Error
	if errors.As(err, &se) {
		return se.ExtendedCode == sqlite3.ErrConstraintUnique
	}
	return false
}
