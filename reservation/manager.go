// Package reservation implements two-phase credit holds on top of the
// ledger: Reserve takes an atomic hold before work starts, and
// ReleaseReservation settles it exactly once after the work ends, either
// refunding the hold (failed work) or keeping it (successful work).
package reservation

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/toolink/metering/ledger"
	"github.com/toolink/metering/store"
)

// Reservation is a pending hold against a user's balance.
type Reservation struct {
	OperationID string
	UserID      string
	Amount      int64
	CreatedAt   time.Time
}

// Manager creates and settles reservations. Each operation id transitions
// absent -> pending -> settled exactly once; the pending index doubles as
// the atomic uniqueness claim.
type Manager struct {
	store  store.Store
	ledger *ledger.Ledger
	now    func() time.Time
}

// New creates a Manager over the given store and ledger.
func New(s store.Store, l *ledger.Ledger) *Manager {
	return &Manager{store: s, ledger: l, now: time.Now}
}

// Reserve places a hold of amount credits for the operation. It fails with
// ErrDuplicateOperation if a pending reservation already exists for
// operationID, and with ledger.ErrInsufficientCredits if the balance does
// not cover the hold. The hold itself is a single atomic conditional
// decrement, so concurrent reserves cannot overdraw a balance.
func (m *Manager) Reserve(ctx context.Context, userID string, amount int64, operationID string) error {
	if userID == "" || operationID == "" || amount <= 0 {
		return fmt.Errorf("%w: user id, operation id and a positive amount are required", ErrInvalidParameters)
	}

	createdAt := m.now().UTC()

	// Claim the operation id first. ZADD NX is atomic, so of two racing
	// reserves exactly one obtains the claim.
	claimed, err := m.store.SortedSetAddNX(ctx, store.PendingReservationsKey(), float64(createdAt.Unix()), operationID)
	if err != nil {
		return err
	}
	if !claimed {
		log.Warn().Str("operation_id", operationID).Str("user_id", userID).Msg("reserve rejected, operation already pending")
		return fmt.Errorf("%w: %s", ErrDuplicateOperation, operationID)
	}

	// Take the hold. On any failure the claim is released so the caller
	// may retry (except for insufficient credits, where retrying without
	// a top-up will fail the same way).
	if _, err := m.ledger.DeductCredits(ctx, userID, amount, "reservation hold: "+operationID); err != nil {
		m.dropClaim(ctx, operationID)
		return err
	}

	err = m.store.HashSet(ctx, store.ReservationKey(operationID), map[string]string{
		"user_id":    userID,
		"amount":     strconv.FormatInt(amount, 10),
		"created_at": createdAt.Format(time.RFC3339Nano),
	})
	if err != nil {
		// Compensate the hold before surfacing the error; otherwise the
		// credits would be locked with no record to settle.
		if _, refundErr := m.ledger.AddCredits(ctx, userID, amount, "reservation rollback: "+operationID); refundErr != nil {
			log.Error().Err(refundErr).Str("operation_id", operationID).Str("user_id", userID).Int64("amount", amount).Msg("failed to roll back hold after record write failure")
		}
		m.dropClaim(ctx, operationID)
		return err
	}

	log.Debug().Str("operation_id", operationID).Str("user_id", userID).Int64("amount", amount).Msg("reservation placed")
	return nil
}

// ReleaseReservation settles a pending reservation. With success=false the
// held amount is refunded to the user's balance; with success=true the
// hold is kept and only the record is discarded. Either way the
// reservation is gone afterwards and a second release fails with
// ErrReservationNotFound.
//
// Note the kept hold is never refunded: callers that follow a successful
// operation with DeductCredits for the realized cost charge the user both
// the estimate and the final cost. That is the contract as it stands.
func (m *Manager) ReleaseReservation(ctx context.Context, operationID string, success bool) error {
	if operationID == "" {
		return fmt.Errorf("%w: operation id is required", ErrInvalidParameters)
	}

	rec, err := m.Get(ctx, operationID)
	if err != nil {
		return err
	}

	// Removing the pending entry is the settle point: ZREM reports whether
	// the member was present, so of two racing releases exactly one
	// proceeds past here.
	removed, err := m.store.SortedSetRemove(ctx, store.PendingReservationsKey(), operationID)
	if err != nil {
		return err
	}
	if !removed {
		return fmt.Errorf("%w: %s already settled", ErrReservationNotFound, operationID)
	}

	if !success {
		if _, err := m.ledger.AddCredits(ctx, rec.UserID, rec.Amount, "reservation refund: "+operationID); err != nil {
			// Put the claim back with its original score so the caller can
			// retry the release and the sweeper still sees the hold.
			// Without this a transient store failure here would strand the
			// held credits forever.
			if reErr := m.store.SortedSetAdd(ctx, store.PendingReservationsKey(), float64(rec.CreatedAt.Unix()), operationID); reErr != nil {
				log.Error().Err(reErr).Str("operation_id", operationID).Msg("failed to restore reservation claim after refund failure")
			}
			log.Error().Err(err).Str("operation_id", operationID).Str("user_id", rec.UserID).Int64("amount", rec.Amount).Msg("refund failed, reservation stays pending")
			return err
		}
	}

	if err := m.store.Delete(ctx, store.ReservationKey(operationID)); err != nil {
		// The settle already happened; a dangling record is harmless
		// because the pending index no longer references it.
		log.Warn().Err(err).Str("operation_id", operationID).Msg("failed to delete reservation record")
	}

	log.Debug().Str("operation_id", operationID).Str("user_id", rec.UserID).Bool("success", success).Msg("reservation released")
	return nil
}

// Get returns the pending reservation for operationID, or
// ErrReservationNotFound.
func (m *Manager) Get(ctx context.Context, operationID string) (Reservation, error) {
	fields, err := m.store.HashGetAll(ctx, store.ReservationKey(operationID))
	if err != nil {
		return Reservation{}, err
	}
	if len(fields) == 0 {
		return Reservation{}, fmt.Errorf("%w: %s", ErrReservationNotFound, operationID)
	}
	amount, _ := strconv.ParseInt(fields["amount"], 10, 64)
	createdAt, _ := time.Parse(time.RFC3339Nano, fields["created_at"])
	return Reservation{
		OperationID: operationID,
		UserID:      fields["user_id"],
		Amount:      amount,
		CreatedAt:   createdAt,
	}, nil
}

// dropClaim removes the pending-index entry after a failed reserve.
// Best-effort: if it fails, the sweeper will refund-and-clear the orphan.
func (m *Manager) dropClaim(ctx context.Context, operationID string) {
	if _, err := m.store.SortedSetRemove(ctx, store.PendingReservationsKey(), operationID); err != nil {
		log.Warn().Err(err).Str("operation_id", operationID).Msg("failed to drop reservation claim")
	}
}
