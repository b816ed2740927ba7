package store

import (
	"context"
	"fmt"
	"time"

	"github.com/njoerd114/channelrelay/internal/model"
)

// Inventory gives read access to the local availability and rate tables that
// pushes are built from, plus the upserts used to maintain them.
type Inventory struct {
	s *Store
}

// NewInventory creates the inventory repository.
func NewInventory(s *Store) *Inventory {
	return &Inventory{s: s}
}

// Availability returns the stored availability rows for roomTypeID between
// from and to inclusive, ordered by date.
func (inv *Inventory) Availability(ctx context.Context, roomTypeID int64, from, to time.Time) ([]model.InventoryDay, error) {
	const q = `
		SELECT room_type_id, date, available_rooms, min_stay, stop_sell
		FROM inventory
		WHERE room_type_id = ? AND date >= ? AND date <= ?
		ORDER BY date`
	rows, err := inv.s.db.QueryContext(ctx, q, roomTypeID, from.Format(model.DateLayout), to.Format(model.DateLayout))
	if err != nil {
		return nil, fmt.Errorf("querying inventory for room type %d: %w", roomTypeID, err)
	}
	defer func() { _ = rows.Close() }()

	var out []model.InventoryDay
	for rows.Next() {
		var (
			d        model.InventoryDay
			date     string
			stopSell int
		)
		if err := rows.Scan(&d.RoomTypeID, &date, &d.AvailableRooms, &d.MinStay, &stopSell); err != nil {
			return nil, fmt.Errorf("scanning inventory row: %w", err)
		}
		if d.Date, err = model.ParseDay(date); err != nil {
			return nil, fmt.Errorf("parsing inventory date %q: %w", date, err)
		}
		d.StopSell = stopSell != 0
		out = append(out, d)
	}
	return out, rows.Err()
}

// Rates returns the stored prices for roomTypeID and ratePlanID between from
// and to inclusive, ordered by date. model.BaseRatePlan selects base rates.
func (inv *Inventory) Rates(ctx context.Context, roomTypeID, ratePlanID int64, from, to time.Time) ([]model.RateDay, error) {
	const q = `
		SELECT room_type_id, rate_plan_id, date, price, currency
		FROM rates
		WHERE room_type_id = ? AND rate_plan_id = ? AND date >= ? AND date <= ?
		ORDER BY date`
	rows, err := inv.s.db.QueryContext(ctx, q, roomTypeID, ratePlanID, from.Format(model.DateLayout), to.Format(model.DateLayout))
	if err != nil {
		return nil, fmt.Errorf("querying rates for room type %d: %w", roomTypeID, err)
	}
	defer func() { _ = rows.Close() }()

	var out []model.RateDay
	for rows.Next() {
		var (
			d    model.RateDay
			date string
		)
		if err := rows.Scan(&d.RoomTypeID, &d.RatePlanID, &date, &d.Price, &d.Currency); err != nil {
			return nil, fmt.Errorf("scanning rate row: %w", err)
		}
		if d.Date, err = model.ParseDay(date); err != nil {
			return nil, fmt.Errorf("parsing rate date %q: %w", date, err)
		}
		out = append(out, d)
	}
	return out, rows.Err()
}

// UpsertAvailability writes one availability row.
func (inv *Inventory) UpsertAvailability(ctx context.Context, d model.InventoryDay) error {
	const q = `
		INSERT INTO inventory (room_type_id, date, available_rooms, min_stay, stop_sell)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(room_type_id, date) DO UPDATE SET
		    available_rooms = excluded.available_rooms,
		    min_stay        = excluded.min_stay,
		    stop_sell       = excluded.stop_sell`
	_, err := inv.s.db.ExecContext(ctx, q,
		d.RoomTypeID, d.Date.Format(model.DateLayout), d.AvailableRooms, d.MinStay, boolToInt(d.StopSell))
	if err != nil {
		return fmt.Errorf("upserting inventory for room type %d on %s: %w", d.RoomTypeID, d.Date.Format(model.DateLayout), err)
	}
	return nil
}

// UpsertRate writes one rate row.
func (inv *Inventory) UpsertRate(ctx context.Context, d model.RateDay) error {
	const q = `
		INSERT INTO rates (room_type_id, rate_plan_id, date, price, currency)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(room_type_id, rate_plan_id, date) DO UPDATE SET
		    price    = excluded.price,
		    currency = excluded.currency`
	_, err := inv.s.db.ExecContext(ctx, q,
		d.RoomTypeID, d.RatePlanID, d.Date.Format(model.DateLayout), d.Price, d.Currency)
	if err != nil {
		return fmt.Errorf("upserting rate for room type %d on %s: %w", d.RoomTypeID, d.Date.Format(model.DateLayout), err)
	}
	return nil
}
