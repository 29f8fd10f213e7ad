package reservation

import "errors"

// ErrDuplicateOperation is returned when a pending reservation already
// exists for the operation id. Unlike the other errors this one is
// terminal: it signals the operation was already (or is still being)
// processed, so the caller must not retry with the same id.
var ErrDuplicateOperation = errors.New("reservation: duplicate operation")

// ErrReservationNotFound is returned when no pending reservation exists
// for the operation id, including when it was already settled.
var ErrReservationNotFound = errors.New("reservation: not found")

// ErrInvalidParameters indicates a missing user id, operation id, or
// non-positive amount.
var ErrInvalidParameters = errors.New("reservation: invalid parameters")
