package sync

import (
	"context"
	"errors"
	"testing"

	"github.com/google/go-cmp/cmp"

	"github.com/njoerd114/channelrelay/internal/events"
	"github.com/njoerd114/channelrelay/internal/model"
)

func newTestImporter(b *mockBookings, maps *mockRateMaps, bus Publisher) *Importer {
	return NewImporter(b, maps, bus, "EUR", testLogger)
}

func sampleReservation(id string) model.Reservation {
	return model.Reservation{
		ExternalID:      id,
		GuestFirstName:  "Ada",
		GuestLastName:   "Lovelace",
		GuestEmail:      "ada@example.com",
		GuestPhone:      "+44 20 7946 0000",
		CheckIn:         day("2025-07-01"),
		CheckOut:        day("2025-07-04"),
		RoomTypeCode:    "101",
		TotalAmount:     360,
		Currency:        "GBP",
		Guests:          2,
		SpecialRequests: "late arrival",
	}
}

func TestImport_CreatesGuestAndBooking(t *testing.T) {
	b := &mockBookings{}
	maps := &mockRateMaps{maps: []*model.RateMap{{Channel: "booking_com", RoomTypeID: 5, ChannelRoomCode: "101", Active: true}}}
	bus := &recordingPublisher{}
	im := newTestImporter(b, maps, bus)

	id, created, err := im.Import(context.Background(), "booking_com", sampleReservation("BDC-1"))
	if err != nil {
		t.Fatalf("Import: %v", err)
	}
	if !created || id != 100 {
		t.Errorf("Import = (%d, %v), want (100, true)", id, created)
	}

	guests, bookings := b.snapshot()
	if len(guests) != 1 || len(bookings) != 1 {
		t.Fatalf("guests=%d bookings=%d, want 1/1", len(guests), len(bookings))
	}
	wantGuest := model.Guest{ID: 1, FirstName: "Ada", LastName: "Lovelace", Email: "ada@example.com", Phone: "+44 20 7946 0000"}
	if diff := cmp.Diff(wantGuest, guests[0]); diff != "" {
		t.Errorf("guest mismatch (-want +got):\n%s", diff)
	}
	wantBooking := model.Booking{
		ID:               100,
		GuestID:          1,
		RoomTypeID:       int64p(5),
		CheckIn:          day("2025-07-01"),
		CheckOut:         day("2025-07-04"),
		Guests:           2,
		TotalAmount:      360,
		Currency:         "GBP",
		Status:           model.BookingStatusConfirmed,
		Source:           "booking_com",
		ChannelBookingID: "BDC-1",
		SpecialRequests:  "late arrival",
	}
	if diff := cmp.Diff(wantBooking, bookings[0]); diff != "" {
		t.Errorf("booking mismatch (-want +got):\n%s", diff)
	}

	evs := bus.ofType(events.ReservationImported)
	if len(evs) != 1 {
		t.Fatalf("reservation_imported events = %d, want 1", len(evs))
	}
	if p := evs[0].Payload.(events.ImportPayload); p.BookingID != 100 || p.ExternalID != "BDC-1" {
		t.Errorf("payload = %+v", p)
	}
}

func TestImport_SecondImportIsNoOp(t *testing.T) {
	b := &mockBookings{}
	bus := &recordingPublisher{}
	im := newTestImporter(b, &mockRateMaps{}, bus)
	ctx := context.Background()

	first, _, err := im.Import(ctx, "booking_com", sampleReservation("BDC-1"))
	if err != nil {
		t.Fatalf("first Import: %v", err)
	}
	id, created, err := im.Import(ctx, "booking_com", sampleReservation(" BDC-1 "))
	if err != nil {
		t.Fatalf("second Import: %v", err)
	}
	if created || id != first {
		t.Errorf("second Import = (%d, %v), want (%d, false)", id, created, first)
	}
	if _, bookings := b.snapshot(); len(bookings) != 1 {
		t.Errorf("bookings = %d, want 1", len(bookings))
	}
	if n := len(bus.ofType(events.ReservationImported)); n != 1 {
		t.Errorf("events = %d, want 1", n)
	}
}

func TestImport_SameIDOnDifferentChannels(t *testing.T) {
	b := &mockBookings{}
	im := newTestImporter(b, &mockRateMaps{}, nil)
	ctx := context.Background()

	for _, ch := range []string{"booking_com", "expedia"} {
		if _, created, err := im.Import(ctx, ch, sampleReservation("X-1")); err != nil || !created {
			t.Fatalf("Import(%s) = created %v, err %v", ch, created, err)
		}
	}
}

func TestImport_UnmappedRoomHasNoRoomType(t *testing.T) {
	b := &mockBookings{}
	im := newTestImporter(b, &mockRateMaps{}, nil)

	if _, _, err := im.Import(context.Background(), "booking_com", sampleReservation("BDC-9")); err != nil {
		t.Fatalf("Import: %v", err)
	}
	_, bookings := b.snapshot()
	if bookings[0].RoomTypeID != nil {
		t.Errorf("RoomTypeID = %d, want nil", *bookings[0].RoomTypeID)
	}
}

func TestImport_ReusesGuestByEmail(t *testing.T) {
	b := &mockBookings{guests: []*model.Guest{{ID: 7, FirstName: "Ada", Email: "ada@example.com"}}}
	im := newTestImporter(b, &mockRateMaps{}, nil)

	if _, _, err := im.Import(context.Background(), "booking_com", sampleReservation("BDC-2")); err != nil {
		t.Fatalf("Import: %v", err)
	}
	guests, bookings := b.snapshot()
	if len(guests) != 1 {
		t.Errorf("guests = %d, want existing guest reused", len(guests))
	}
	if bookings[0].GuestID != 7 {
		t.Errorf("GuestID = %d, want 7", bookings[0].GuestID)
	}
}

func TestImport_Defaults(t *testing.T) {
	b := &mockBookings{}
	im := newTestImporter(b, &mockRateMaps{}, nil)

	r := model.Reservation{ExternalID: "MIN-1"}
	if _, _, err := im.Import(context.Background(), "generic_ota", r); err != nil {
		t.Fatalf("Import: %v", err)
	}
	guests, bookings := b.snapshot()
	if len(guests) != 1 {
		t.Errorf("guests = %d, want a placeholder guest", len(guests))
	}
	if bookings[0].Guests != 1 || bookings[0].Currency != "EUR" {
		t.Errorf("booking = %+v, want 1 guest in EUR", bookings[0])
	}
}

func TestImport_MissingExternalID(t *testing.T) {
	b := &mockBookings{}
	im := newTestImporter(b, &mockRateMaps{}, nil)

	_, _, err := im.Import(context.Background(), "booking_com", model.Reservation{ExternalID: "  "})
	if !errors.Is(err, ErrMissingExternalID) {
		t.Errorf("err = %v, want ErrMissingExternalID", err)
	}
	if guests, _ := b.snapshot(); len(guests) != 0 {
		t.Error("guest created for rejected reservation")
	}
}

func TestImport_UniqueIndexRace(t *testing.T) {
	b := &mockBookings{
		bookings:           []*model.Booking{{ID: 50, Source: "booking_com", ChannelBookingID: "BDC-1"}},
		skipExistenceCheck: true,
	}
	bus := &recordingPublisher{}
	im := newTestImporter(b, &mockRateMaps{}, bus)

	id, created, err := im.Import(context.Background(), "booking_com", sampleReservation("BDC-1"))
	if err != nil {
		t.Fatalf("Import: %v", err)
	}
	if created || id != 0 {
		t.Errorf("Import = (%d, %v), want (0, false)", id, created)
	}
	guests, bookings := b.snapshot()
	if len(guests) != 0 || len(bookings) != 1 {
		t.Errorf("guests=%d bookings=%d, want rolled back to 0/1", len(guests), len(bookings))
	}
	if len(bus.events) != 0 {
		t.Error("event published for duplicate")
	}
}

func TestImport_StoreErrors(t *testing.T) {
	boom := errors.New("database is locked")
	tests := []struct {
		name  string
		setup func(*mockBookings, *mockRateMaps)
	}{
		{"find", func(b *mockBookings, _ *mockRateMaps) { b.findErr = boom }},
		{"lookup", func(_ *mockBookings, m *mockRateMaps) { m.lookupErr = boom }},
		{"tx", func(b *mockBookings, _ *mockRateMaps) { b.txErr = boom }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			b, maps := &mockBookings{}, &mockRateMaps{}
			tt.setup(b, maps)
			im := newTestImporter(b, maps, nil)

			_, created, err := im.Import(context.Background(), "booking_com", sampleReservation("BDC-1"))
			if !errors.Is(err, ErrPersistenceFailure) || !errors.Is(err, boom) {
				t.Errorf("err = %v, want ErrPersistenceFailure wrapping cause", err)
			}
			if created {
				t.Error("created = true on failure")
			}
		})
	}
}
