package ledger

import "errors"

// ErrInsufficientCredits is returned when a deduction would drive the
// balance below zero. It is never produced by a store failure; transient
// store errors surface as store.ErrUnavailable so callers can tell the
// two apart.
var ErrInsufficientCredits = errors.New("ledger: insufficient credits")

// ErrInvalidParameters indicates a missing or malformed user id, amount,
// or reason.
var ErrInvalidParameters = errors.New("ledger: invalid parameters")
