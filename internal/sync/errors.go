package sync

import "errors"

var (
	// ErrChannelInactive means the channel has no connection or its
	// connection is switched off. Nothing is sent.
	ErrChannelInactive = errors.New("channel inactive")

	// ErrMappingAbsent means no active rate mapping exists for the channel.
	// It is not a failure: the operation succeeds with nothing to do.
	ErrMappingAbsent = errors.New("no active rate mappings")

	// ErrDuplicateReservation means the channel reservation was imported
	// before. Import skips it.
	ErrDuplicateReservation = errors.New("reservation already imported")

	// ErrPersistenceFailure wraps local storage errors.
	ErrPersistenceFailure = errors.New("persistence failure")

	// ErrMissingExternalID means a reservation has no channel ID and cannot
	// be deduplicated.
	ErrMissingExternalID = errors.New("reservation has no external ID")

	// ErrInvalidWindow means a push was asked for a date range that ends
	// before it starts.
	ErrInvalidWindow = errors.New("invalid date window")
)
