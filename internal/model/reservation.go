package model

import "time"

// BookingStatusConfirmed is the status given to every imported booking.
const BookingStatusConfirmed = "confirmed"

// AvailabilityRecord is one room/date line of an availability push.
type AvailabilityRecord struct {
	ChannelRoomCode string
	ChannelRateCode string
	Date            time.Time
	AvailableRooms  int
	StopSell        bool
	MinStay         int
}

// RateRecord is one room/rate/date line of a rate push.
type RateRecord struct {
	ChannelRoomCode string
	ChannelRateCode string
	Date            time.Time
	Price           float64
	Currency        string
}

// InventoryDay is the local availability of one room type on one date.
type InventoryDay struct {
	RoomTypeID     int64
	Date           time.Time
	AvailableRooms int
	MinStay        int
	StopSell       bool
}

// RateDay is the local price of one room type and rate plan on one date.
type RateDay struct {
	RoomTypeID int64
	RatePlanID int64
	Date       time.Time
	Price      float64
	Currency   string
}

// Reservation is a booking made on a channel, as parsed from a pull response.
// Every field except ExternalID is best-effort and may be zero.
type Reservation struct {
	ExternalID      string
	Status          string
	GuestFirstName  string
	GuestLastName   string
	GuestEmail      string
	GuestPhone      string
	CheckIn         time.Time
	CheckOut        time.Time
	RoomTypeCode    string
	TotalAmount     float64
	Currency        string
	Guests          int
	SpecialRequests string
}

// Guest is a local guest profile.
type Guest struct {
	ID        int64
	FirstName string
	LastName  string
	Email     string
	Phone     string
	CreatedAt time.Time
}

// Booking is a local booking. Imported bookings carry the channel name in
// Source and the external reservation ID in ChannelBookingID.
type Booking struct {
	ID               int64
	GuestID          int64
	RoomTypeID       *int64
	CheckIn          time.Time
	CheckOut         time.Time
	Guests           int
	TotalAmount      float64
	Currency         string
	Status           string
	Source           string
	ChannelBookingID string
	SpecialRequests  string
	CreatedAt        time.Time
}
