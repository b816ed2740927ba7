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

// ErrDuplicateBooking is returned when a booking insert collides with an
// existing (source, channel_booking_id) pair.
var ErrDuplicateBooking = errors.New("store: booking already imported")

// GuestBookingWriter is the set of writes an import performs atomically.
type GuestBookingWriter interface {
	// FindGuestByEmail returns the oldest guest with the given email
	// (case-insensitive), or (nil, nil). An empty email never matches.
	FindGuestByEmail(ctx context.Context, email string) (*model.Guest, error)
	CreateGuest(ctx context.Context, g *model.Guest) error
	CreateBooking(ctx context.Context, b *model.Booking) error
}

// Bookings gives the sync core access to local bookings and guests.
type Bookings struct {
	s *Store
}

// NewBookings creates the booking repository.
func NewBookings(s *Store) *Bookings {
	return &Bookings{s: s}
}

const bookingColumns = `id, guest_id, room_type_id, check_in, check_out, guests, total_amount, currency,
	status, source, channel_booking_id, special_requests, created_at`

// FindChannelBooking returns the booking imported from source under the
// given external ID, or (nil, nil).
func (b *Bookings) FindChannelBooking(ctx context.Context, source, channelBookingID string) (*model.Booking, error) {
	q := `SELECT ` + bookingColumns + ` FROM bookings WHERE source = ? AND channel_booking_id = ?`
	return scanBooking(b.s.db.QueryRowContext(ctx, q, source, channelBookingID))
}

// Get returns the booking with the given ID, or (nil, nil).
func (b *Bookings) Get(ctx context.Context, id int64) (*model.Booking, error) {
	q := `SELECT ` + bookingColumns + ` FROM bookings WHERE id = ?`
	return scanBooking(b.s.db.QueryRowContext(ctx, q, id))
}

// ListBySource returns every booking with the given source, oldest first.
func (b *Bookings) ListBySource(ctx context.Context, source string) ([]*model.Booking, error) {
	q := `SELECT ` + bookingColumns + ` FROM bookings WHERE source = ? ORDER BY id`
	rows, err := b.s.db.QueryContext(ctx, q, source)
	if err != nil {
		return nil, fmt.Errorf("querying bookings for %s: %w", source, err)
	}
	defer func() { _ = rows.Close() }()

	var out []*model.Booking
	for rows.Next() {
		bk, err := scanBooking(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, bk)
	}
	return out, rows.Err()
}

// FindGuestByEmail looks a guest up outside of an import transaction.
func (b *Bookings) FindGuestByEmail(ctx context.Context, email string) (*model.Guest, error) {
	return findGuestByEmail(ctx, b.s.db, email)
}

// InTx runs fn with a writer bound to a single transaction. Any error from fn
// rolls back every guest and booking it created.
func (b *Bookings) InTx(ctx context.Context, fn func(w GuestBookingWriter) error) error {
	return b.s.inTx(ctx, func(tx *sql.Tx) error {
		return fn(&bookingTx{tx: tx})
	})
}

// queryRower is satisfied by both *sql.DB and *sql.Tx.
type queryRower interface {
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

type bookingTx struct {
	tx *sql.Tx
}

func (t *bookingTx) FindGuestByEmail(ctx context.Context, email string) (*model.Guest, error) {
	return findGuestByEmail(ctx, t.tx, email)
}

func (t *bookingTx) CreateGuest(ctx context.Context, g *model.Guest) error {
	if g.CreatedAt.IsZero() {
		g.CreatedAt = time.Now().UTC()
	}
	const q = `
		INSERT INTO guests (first_name, last_name, email, phone, created_at)
		VALUES (?, ?, ?, ?, ?)`
	res, err := t.tx.ExecContext(ctx, q, g.FirstName, g.LastName, g.Email, g.Phone, formatTime(g.CreatedAt))
	if err != nil {
		return fmt.Errorf("creating guest %q: %w", g.Email, err)
	}
	g.ID, _ = res.LastInsertId()
	return nil
}

func (t *bookingTx) CreateBooking(ctx context.Context, bk *model.Booking) error {
	if bk.CreatedAt.IsZero() {
		bk.CreatedAt = time.Now().UTC()
	}
	var roomType sql.NullInt64
	if bk.RoomTypeID != nil {
		roomType = sql.NullInt64{Int64: *bk.RoomTypeID, Valid: true}
	}
	const q = `
		INSERT INTO bookings
		    (guest_id, room_type_id, check_in, check_out, guests, total_amount, currency,
		     status, source, channel_booking_id, special_requests, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`
	res, err := t.tx.ExecContext(ctx, q,
		bk.GuestID,
		roomType,
		formatDate(bk.CheckIn),
		formatDate(bk.CheckOut),
		bk.Guests,
		bk.TotalAmount,
		bk.Currency,
		bk.Status,
		bk.Source,
		bk.ChannelBookingID,
		bk.SpecialRequests,
		formatTime(bk.CreatedAt),
	)
	if err != nil {
		if isUniqueViolation(err) {
			return fmt.Errorf("creating booking %s/%s: %w", bk.Source, bk.ChannelBookingID, ErrDuplicateBooking)
		}
		return fmt.Errorf("creating booking %s/%s: %w", bk.Source, bk.ChannelBookingID, err)
	}
	bk.ID, _ = res.LastInsertId()
	return nil
}

func findGuestByEmail(ctx context.Context, db queryRower, email string) (*model.Guest, error) {
	email = strings.TrimSpace(email)
	if email == "" {
		return nil, nil //nolint:nilnil // intentional: "not found" sentinel
	}
	const q = `
		SELECT id, first_name, last_name, email, phone, created_at
		FROM guests WHERE email = ? COLLATE NOCASE
		ORDER BY id LIMIT 1`
	var (
		g   model.Guest
		crt string
	)
	err := db.QueryRowContext(ctx, q, email).Scan(&g.ID, &g.FirstName, &g.LastName, &g.Email, &g.Phone, &crt)
	if err == sql.ErrNoRows {
		return nil, nil //nolint:nilnil // intentional: "not found" sentinel
	}
	if err != nil {
		return nil, fmt.Errorf("looking up guest %q: %w", email, err)
	}
	g.CreatedAt, _ = parseTime(crt)
	return &g, nil
}

func scanBooking(s scanner) (*model.Booking, error) {
	var (
		bk                     model.Booking
		roomType               sql.NullInt64
		checkIn, checkOut, crt string
	)
	err := s.Scan(&bk.ID, &bk.GuestID, &roomType, &checkIn, &checkOut, &bk.Guests, &bk.TotalAmount,
		&bk.Currency, &bk.Status, &bk.Source, &bk.ChannelBookingID, &bk.SpecialRequests, &crt)
	if err == sql.ErrNoRows {
		return nil, nil //nolint:nilnil // intentional: "not found" sentinel
	}
	if err != nil {
		return nil, fmt.Errorf("scanning booking row: %w", err)
	}
	if roomType.Valid {
		id := roomType.Int64
		bk.RoomTypeID = &id
	}
	bk.CheckIn, _ = parseDate(checkIn)
	bk.CheckOut, _ = parseDate(checkOut)
	bk.CreatedAt, _ = parseTime(crt)
	return &bk, nil
}

func formatDate(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return t.Format(model.DateLayout)
}

func parseDate(s string) (time.Time, error) {
	if s == "" {
		return time.Time{}, nil
	}
	return model.ParseDay(s)
}
