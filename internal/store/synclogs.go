package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/njoerd114/channelrelay/internal/model"
)

// ErrAlreadySealed is returned when Seal targets an entry that has already
// left the pending state.
var ErrAlreadySealed = errors.New("store: sync log entry already sealed")

// DefaultPageLimit is applied when a listing asks for no limit.
const DefaultPageLimit = 50

// SyncLogs is the append-only audit trail of sync attempts.
type SyncLogs struct {
	s *Store
}

// NewSyncLogs creates the sync log repository.
func NewSyncLogs(s *Store) *SyncLogs {
	return &SyncLogs{s: s}
}

const syncLogColumns = `id, channel, direction, sync_type, status, records_processed, error_text, started_at, completed_at`

// Open inserts entry in the pending state and sets its ID and StartedAt.
func (l *SyncLogs) Open(ctx context.Context, entry *model.SyncLog) error {
	if entry.StartedAt.IsZero() {
		entry.StartedAt = time.Now().UTC()
	}
	entry.Status = model.StatusPending
	entry.CompletedAt = nil
	return l.insert(ctx, entry)
}

// Record inserts an entry that is already terminal, for attempts that were
// refused before any work began.
func (l *SyncLogs) Record(ctx context.Context, entry *model.SyncLog) error {
	if !entry.Status.Terminal() {
		return fmt.Errorf("recording sync log for %s: status %q is not terminal", entry.Channel, entry.Status)
	}
	now := time.Now().UTC()
	if entry.StartedAt.IsZero() {
		entry.StartedAt = now
	}
	if entry.CompletedAt == nil {
		entry.CompletedAt = &now
	}
	return l.insert(ctx, entry)
}

func (l *SyncLogs) insert(ctx context.Context, entry *model.SyncLog) error {
	const q = `
		INSERT INTO sync_logs
		    (channel, direction, sync_type, status, records_processed, error_text, started_at, completed_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`
	res, err := l.s.db.ExecContext(ctx, q,
		entry.Channel,
		string(entry.Direction),
		string(entry.Type),
		string(entry.Status),
		entry.RecordsProcessed,
		entry.ErrorText,
		formatTime(entry.StartedAt),
		formatTimePtr(entry.CompletedAt),
	)
	if err != nil {
		return fmt.Errorf("inserting sync log for %s: %w", entry.Channel, err)
	}
	entry.ID, _ = res.LastInsertId()
	return nil
}

// Seal moves a pending entry into its terminal state. It fails with
// ErrAlreadySealed if the entry is not pending anymore, so an entry can be
// sealed exactly once.
func (l *SyncLogs) Seal(ctx context.Context, entry *model.SyncLog) error {
	if !entry.Status.Terminal() {
		return fmt.Errorf("sealing sync log %d: status %q is not terminal", entry.ID, entry.Status)
	}
	now := time.Now().UTC()
	const q = `
		UPDATE sync_logs SET
		    status = ?, records_processed = ?, error_text = ?, completed_at = ?
		WHERE id = ? AND status = ?`
	res, err := l.s.db.ExecContext(ctx, q,
		string(entry.Status),
		entry.RecordsProcessed,
		entry.ErrorText,
		formatTime(now),
		entry.ID,
		string(model.StatusPending),
	)
	if err != nil {
		return fmt.Errorf("sealing sync log %d: %w", entry.ID, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("sealing sync log %d: %w", entry.ID, ErrAlreadySealed)
	}
	entry.CompletedAt = &now
	return nil
}

// Get returns the entry with the given ID, or (nil, nil) if none exists.
func (l *SyncLogs) Get(ctx context.Context, id int64) (*model.SyncLog, error) {
	q := `SELECT ` + syncLogColumns + ` FROM sync_logs WHERE id = ?`
	return scanSyncLog(l.s.db.QueryRowContext(ctx, q, id))
}

// LastSuccessful returns the most recent success or partial entry for the
// given channel, direction, and type, or (nil, nil) if there is none.
func (l *SyncLogs) LastSuccessful(ctx context.Context, channel string, dir model.Direction, typ model.SyncType) (*model.SyncLog, error) {
	q := `SELECT ` + syncLogColumns + ` FROM sync_logs
		WHERE channel = ? AND direction = ? AND sync_type = ? AND status IN (?, ?)
		ORDER BY started_at DESC, id DESC LIMIT 1`
	return scanSyncLog(l.s.db.QueryRowContext(ctx, q,
		channel, string(dir), string(typ), string(model.StatusSuccess), string(model.StatusPartial)))
}

// List returns one page of entries matching filter, newest first, along with
// the total number of matching entries.
func (l *SyncLogs) List(ctx context.Context, filter model.SyncLogFilter, page model.Page) ([]*model.SyncLog, int, error) {
	var (
		where []string
		args  []any
	)
	if filter.Channel != "" {
		where = append(where, "channel = ?")
		args = append(args, filter.Channel)
	}
	if filter.Direction != "" {
		where = append(where, "direction = ?")
		args = append(args, string(filter.Direction))
	}
	if filter.Status != "" {
		where = append(where, "status = ?")
		args = append(args, string(filter.Status))
	}
	clause := ""
	if len(where) > 0 {
		clause = " WHERE " + strings.Join(where, " AND ")
	}

	var total int
	if err := l.s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM sync_logs`+clause, args...).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("counting sync logs: %w", err)
	}

	limit := page.Limit
	if limit <= 0 {
		limit = DefaultPageLimit
	}
	offset := max(page.Offset, 0)

	q := `SELECT ` + syncLogColumns + ` FROM sync_logs` + clause +
		` ORDER BY started_at DESC, id DESC LIMIT ? OFFSET ?`
	rows, err := l.s.db.QueryContext(ctx, q, append(args, limit, offset)...)
	if err != nil {
		return nil, 0, fmt.Errorf("querying sync logs: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var out []*model.SyncLog
	for rows.Next() {
		entry, err := scanSyncLog(rows)
		if err != nil {
			return nil, 0, err
		}
		out = append(out, entry)
	}
	return out, total, rows.Err()
}

func scanSyncLog(s scanner) (*model.SyncLog, error) {
	var (
		e                      model.SyncLog
		dir, typ, status       string
		startedAt, completedAt string
	)
	err := s.Scan(&e.ID, &e.Channel, &dir, &typ, &status, &e.RecordsProcessed, &e.ErrorText, &startedAt, &completedAt)
	if err == sql.ErrNoRows {
		return nil, nil //nolint:nilnil // intentional: "not found" sentinel
	}
	if err != nil {
		return nil, fmt.Errorf("scanning sync log row: %w", err)
	}
	e.Direction = model.Direction(dir)
	e.Type = model.SyncType(typ)
	e.Status = model.SyncStatus(status)
	e.StartedAt, _ = parseTime(startedAt)
	e.CompletedAt = parseTimePtr(completedAt)
	return &e, nil
}
