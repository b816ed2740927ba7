// Package ota speaks the OpenTravel Alliance XML protocol to external
// distribution channels: availability and rate notifications out,
// reservations in.
package ota

import (
	"context"
	"errors"
	"time"

	"github.com/njoerd114/channelrelay/internal/model"
)

// Failure classes. Results carry one of these in Err, matched with errors.Is.
var (
	// ErrTransportFailure covers network errors, timeouts, and unexpected
	// HTTP statuses.
	ErrTransportFailure = errors.New("ota: transport failure")

	// ErrAuthFailure means the channel rejected the stored credentials
	// (HTTP 401 or 403).
	ErrAuthFailure = errors.New("ota: authentication failure")

	// ErrProtocolWarning means the channel accepted the request but reported
	// Error or Warning elements in its response.
	ErrProtocolWarning = errors.New("ota: protocol warnings")

	// ErrParseFailure means a response body could not be parsed as XML.
	ErrParseFailure = errors.New("ota: parse failure")
)

// PushResult is the outcome of an availability or rate push.
type PushResult struct {
	// Success is true when the channel accepted the request (HTTP 2xx), even
	// if it reported protocol warnings in Errors.
	Success          bool
	Message          string
	RecordsProcessed int
	Errors           []string

	// Err is nil for a clean success and otherwise wraps one of the failure
	// classes above.
	Err error
}

// PullResult is the outcome of a reservation pull.
type PullResult struct {
	Success      bool
	Message      string
	Reservations []model.Reservation
	Errors       []string
	Err          error
}

// TestResult is the outcome of a credential check.
type TestResult struct {
	Success bool
	Message string
	Err     error
}

// Client is all wire-level interaction with one channel. Implementations
// never return Go errors from these methods; failures are reported in the
// result.
type Client interface {
	PushAvailability(ctx context.Context, records []model.AvailabilityRecord) PushResult
	PushRates(ctx context.Context, records []model.RateRecord) PushResult
	PullReservations(ctx context.Context, since *time.Time) PullResult
	TestConnection(ctx context.Context) TestResult
}
