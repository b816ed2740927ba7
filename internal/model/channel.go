// Package model defines the types shared between the stores, the OTA protocol
// client, and the sync orchestrator.
package model

import (
	"time"
)

// DateLayout is the calendar-date format used on the wire and in the database.
const DateLayout = "2006-01-02"

// BaseRatePlan is the RatePlanID sentinel meaning "the room type's base rate"
// rather than a specific local rate plan.
const BaseRatePlan int64 = 0

// Credentials is the opaque per-channel credential bundle. It is only ever
// persisted in encrypted form.
type Credentials struct {
	Username string `json:"username" validate:"required"`
	Password string `json:"password" validate:"required"`

	// Endpoint, when set, overrides both the production and sandbox base URLs.
	Endpoint string `json:"endpoint,omitempty" validate:"omitempty,url"`

	// Sandbox routes requests to the channel's test environment.
	Sandbox bool `json:"sandbox"`
}

// ChannelConnection is the configuration of one external distribution channel.
type ChannelConnection struct {
	// Channel is the unique channel name, e.g. "booking_com".
	Channel string `validate:"required,max=64"`

	// PropertyID is the channel-side identifier of this hotel (OTA HotelCode).
	PropertyID string `validate:"required,max=64"`

	Credentials Credentials

	Active bool

	// LastSyncAt is the time of the last sync attempt of any kind, successful
	// or not. Nil when the channel has never been synced.
	LastSyncAt *time.Time

	CreatedAt time.Time
	UpdatedAt time.Time
}

// RateMap ties a local room type (and optionally a local rate plan) to the
// room and rate codes a channel uses for it.
type RateMap struct {
	ID              int64
	Channel         string `validate:"required,max=64"`
	RoomTypeID      int64  `validate:"gt=0"`
	RatePlanID      int64  `validate:"gte=0"`
	ChannelRoomCode string `validate:"required,max=64"`
	ChannelRateCode string `validate:"max=64"`
	Active          bool
	CreatedAt       time.Time
	UpdatedAt       time.Time
}

// IsBaseRate reports whether the mapping targets the room type's base rate.
func (m *RateMap) IsBaseRate() bool {
	return m.RatePlanID == BaseRatePlan
}

// Day truncates t to midnight UTC of its calendar date.
func Day(t time.Time) time.Time {
	y, m, d := t.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

// ParseDay parses a DateLayout string into a UTC midnight time.
func ParseDay(s string) (time.Time, error) {
	return time.ParseInLocation(DateLayout, s, time.UTC)
}
