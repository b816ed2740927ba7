package model

import (
	"strings"
	"time"
)

// Direction is the direction of data flow in a sync attempt.
type Direction string

const (
	DirectionPush Direction = "push"
	DirectionPull Direction = "pull"
)

// SyncType identifies what a sync attempt transferred.
type SyncType string

const (
	SyncAvailability SyncType = "availability"
	SyncRates        SyncType = "rates"
	SyncReservations SyncType = "reservations"
)

// SyncStatus is the lifecycle state of a sync log entry. An entry starts as
// pending and is sealed exactly once into one of the terminal states.
type SyncStatus string

const (
	StatusPending SyncStatus = "pending"
	StatusSuccess SyncStatus = "success"
	// StatusPartial means the channel accepted the request but reported
	// warnings or errors for some of its contents.
	StatusPartial SyncStatus = "partial"
	StatusFailed  SyncStatus = "failed"
)

// Terminal reports whether s is a sealed state.
func (s SyncStatus) Terminal() bool {
	return s == StatusSuccess || s == StatusPartial || s == StatusFailed
}

// SyncLog is the audit record of one sync attempt.
type SyncLog struct {
	ID               int64
	Channel          string
	Direction        Direction
	Type             SyncType
	Status           SyncStatus
	RecordsProcessed int
	ErrorText        string
	StartedAt        time.Time
	CompletedAt      *time.Time
}

// JoinErrors flattens error and warning messages into the ErrorText format.
func JoinErrors(msgs []string) string {
	return strings.Join(msgs, "; ")
}

// SyncLogFilter narrows a sync log listing. Empty fields match everything.
type SyncLogFilter struct {
	Channel   string
	Direction Direction
	Status    SyncStatus
}

// Page selects a window of a listing.
type Page struct {
	Limit  int
	Offset int
}
