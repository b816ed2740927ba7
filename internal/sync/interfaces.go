// Package sync moves availability and rates from the local store to external
// channels and imports the reservations those channels take.
//
// The package contains three components:
//
//   - [Orchestrator] runs one push or pull for one channel and records it in
//     the sync log.
//   - [Importer] turns a pulled reservation into a local guest and booking,
//     exactly once per channel reservation ID.
//   - [Engine] runs a full sync for every active channel on a schedule.
package sync

import (
	"context"
	"time"

	"github.com/njoerd114/channelrelay/internal/events"
	"github.com/njoerd114/channelrelay/internal/model"
	"github.com/njoerd114/channelrelay/internal/ota"
	"github.com/njoerd114/channelrelay/internal/store"
)

// ConnectionStore provides channel connections.
// Implemented by [store.Connections].
type ConnectionStore interface {
	Get(ctx context.Context, channel string) (*model.ChannelConnection, error)
	ListActive(ctx context.Context) ([]*model.ChannelConnection, error)
	TouchLastSync(ctx context.Context, channel string, t time.Time) error
}

// RateMapStore resolves channel codes in both directions.
// Implemented by [store.RateMaps].
type RateMapStore interface {
	ActiveMappings(ctx context.Context, channel string, roomTypeID *int64) ([]*model.RateMap, error)
	LookupRoomType(ctx context.Context, channel, channelRoomCode string) (*int64, error)
}

// SyncLogStore records sync attempts.
// Implemented by [store.SyncLogs].
type SyncLogStore interface {
	Open(ctx context.Context, entry *model.SyncLog) error
	Record(ctx context.Context, entry *model.SyncLog) error
	Seal(ctx context.Context, entry *model.SyncLog) error
	LastSuccessful(ctx context.Context, channel string, dir model.Direction, typ model.SyncType) (*model.SyncLog, error)
}

// InventoryReader reads local availability and prices.
// Implemented by [store.Inventory].
type InventoryReader interface {
	Availability(ctx context.Context, roomTypeID int64, from, to time.Time) ([]model.InventoryDay, error)
	Rates(ctx context.Context, roomTypeID, ratePlanID int64, from, to time.Time) ([]model.RateDay, error)
}

// BookingStore checks for and creates imported bookings.
// Implemented by [store.Bookings].
type BookingStore interface {
	FindChannelBooking(ctx context.Context, source, channelBookingID string) (*model.Booking, error)
	InTx(ctx context.Context, fn func(w store.GuestBookingWriter) error) error
}

// ClientFactory builds protocol clients for connections.
// Implemented by [ota.Registry].
type ClientFactory interface {
	New(conn *model.ChannelConnection, opts ota.Options) (ota.Client, error)
}

// Publisher receives sync events.
// Implemented by [events.Bus].
type Publisher interface {
	Publish(ctx context.Context, e events.Event)
}

// ReservationImporter imports one pulled reservation.
// Implemented by [Importer].
type ReservationImporter interface {
	Import(ctx context.Context, channel string, r model.Reservation) (bookingID int64, created bool, err error)
}

type nopPublisher struct{}

func (nopPublisher) Publish(context.Context, events.Event) {}
