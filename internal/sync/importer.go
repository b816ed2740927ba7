package sync

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/njoerd114/channelrelay/internal/events"
	"github.com/njoerd114/channelrelay/internal/model"
	"github.com/njoerd114/channelrelay/internal/store"
)

// Importer creates local bookings from channel reservations. The pair
// (channel, external ID) is imported at most once: an existence check runs
// first and the store's unique index catches races.
type Importer struct {
	bookings        BookingStore
	maps            RateMapStore
	bus             Publisher
	defaultCurrency string
	log             *slog.Logger
}

// NewImporter creates an Importer. bus may be nil.
func NewImporter(bookings BookingStore, maps RateMapStore, bus Publisher, defaultCurrency string, logger *slog.Logger) *Importer {
	if bus == nil {
		bus = nopPublisher{}
	}
	return &Importer{
		bookings:        bookings,
		maps:            maps,
		bus:             bus,
		defaultCurrency: defaultCurrency,
		log:             logger,
	}
}

// Import stores r as a confirmed booking for channel. It returns the booking
// ID and true when a booking was created, or false when the reservation was
// already known (for a known reservation the existing booking ID is
// returned). A reservation whose room code is not mapped is imported with no
// room type.
func (im *Importer) Import(ctx context.Context, channel string, r model.Reservation) (int64, bool, error) {
	externalID := strings.TrimSpace(r.ExternalID)
	if externalID == "" {
		return 0, false, ErrMissingExternalID
	}
	log := im.log.With("channel", channel, "external_id", externalID)

	existing, err := im.bookings.FindChannelBooking(ctx, channel, externalID)
	if err != nil {
		return 0, false, fmt.Errorf("%w: checking for reservation %s: %w", ErrPersistenceFailure, externalID, err)
	}
	if existing != nil {
		log.Debug("reservation already imported", "booking_id", existing.ID)
		return existing.ID, false, nil
	}

	var roomTypeID *int64
	if code := strings.TrimSpace(r.RoomTypeCode); code != "" {
		roomTypeID, err = im.maps.LookupRoomType(ctx, channel, code)
		if err != nil {
			return 0, false, fmt.Errorf("%w: resolving room code %q: %w", ErrPersistenceFailure, code, err)
		}
		if roomTypeID == nil {
			log.Info("no mapping for room code, importing without room type", "room_code", code)
		}
	}

	booking := im.newBooking(channel, externalID, roomTypeID, r)
	err = im.bookings.InTx(ctx, func(w store.GuestBookingWriter) error {
		guest, err := w.FindGuestByEmail(ctx, r.GuestEmail)
		if err != nil {
			return err
		}
		if guest == nil {
			guest = &model.Guest{
				FirstName: strings.TrimSpace(r.GuestFirstName),
				LastName:  strings.TrimSpace(r.GuestLastName),
				Email:     strings.TrimSpace(r.GuestEmail),
				Phone:     strings.TrimSpace(r.GuestPhone),
			}
			if err := w.CreateGuest(ctx, guest); err != nil {
				return err
			}
		}
		booking.GuestID = guest.ID
		if err := w.CreateBooking(ctx, booking); err != nil {
			if errors.Is(err, store.ErrDuplicateBooking) {
				return ErrDuplicateReservation
			}
			return err
		}
		return nil
	})
	switch {
	case errors.Is(err, ErrDuplicateReservation):
		log.Info("reservation imported concurrently, skipping")
		return 0, false, nil
	case err != nil:
		return 0, false, fmt.Errorf("%w: importing reservation %s: %w", ErrPersistenceFailure, externalID, err)
	}

	log.Info("reservation imported", "booking_id", booking.ID, "guest_id", booking.GuestID)
	im.bus.Publish(ctx, events.Event{
		Type:    events.ReservationImported,
		Channel: channel,
		Payload: events.ImportPayload{BookingID: booking.ID, ExternalID: externalID},
	})
	return booking.ID, true, nil
}

func (im *Importer) newBooking(channel, externalID string, roomTypeID *int64, r model.Reservation) *model.Booking {
	currency := r.Currency
	if currency == "" {
		currency = im.defaultCurrency
	}
	guests := r.Guests
	if guests <= 0 {
		guests = 1
	}
	return &model.Booking{
		RoomTypeID:       roomTypeID,
		CheckIn:          r.CheckIn,
		CheckOut:         r.CheckOut,
		Guests:           guests,
		TotalAmount:      r.TotalAmount,
		Currency:         currency,
		Status:           model.BookingStatusConfirmed,
		Source:           channel,
		ChannelBookingID: externalID,
		SpecialRequests:  r.SpecialRequests,
	}
}
