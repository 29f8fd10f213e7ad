// Package ledger provides per-user credit accounting: an integer balance
// plus an append-only transaction log, built on the store's atomic
// primitives. Balance protection relies on the store's conditional
// decrement, so no interleaving of concurrent deductions can drive a
// balance negative.
package ledger

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/toolink/metering/store"
)

// Transaction kinds.
const (
	KindAdd    = "add"
	KindDeduct = "deduct"
)

// Transaction is one immutable ledger entry. Amount is signed: positive
// for adds, negative for deductions, so the sum of a user's amounts equals
// the balance.
type Transaction struct {
	ID        string
	UserID    string
	Amount    int64
	Kind      string
	Reason    string
	CreatedAt time.Time
}

// Ledger manages balances and transaction history for all users.
type Ledger struct {
	store store.Store
	now   func() time.Time
}

// New creates a Ledger on the given store.
func New(s store.Store) *Ledger {
	return &Ledger{store: s, now: time.Now}
}

// GetBalance returns the user's current balance, 0 if the user has no
// account yet.
func (l *Ledger) GetBalance(ctx context.Context, userID string) (int64, error) {
	if userID == "" {
		return 0, fmt.Errorf("%w: user id is required", ErrInvalidParameters)
	}
	val, err := l.store.Get(ctx, store.AccountKey(userID))
	if err != nil {
		return 0, err
	}
	if val == "" {
		return 0, nil
	}
	balance, err := strconv.ParseInt(val, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("%w: balance for user %s is not an integer: %v", store.ErrUnavailable, userID, err)
	}
	return balance, nil
}

// AddCredits increments the user's balance and appends an "add" entry to
// the transaction log. Returns the transaction id.
func (l *Ledger) AddCredits(ctx context.Context, userID string, amount int64, reason string) (string, error) {
	if userID == "" || amount <= 0 {
		return "", fmt.Errorf("%w: user id and a positive amount are required", ErrInvalidParameters)
	}

	balance, err := l.store.IncrBy(ctx, store.AccountKey(userID), amount)
	if err != nil {
		return "", err
	}

	txID, err := l.recordTransaction(ctx, userID, amount, KindAdd, reason)
	if err != nil {
		return "", err
	}

	log.Debug().Str("user_id", userID).Int64("amount", amount).Int64("balance", balance).Str("tx_id", txID).Msg("credits added")
	return txID, nil
}

// DeductCredits removes amount from the user's balance via a single atomic
// conditional decrement with floor 0. Two concurrent deductions can never
// both pass a stale balance check; the loser gets ErrInsufficientCredits.
func (l *Ledger) DeductCredits(ctx context.Context, userID string, amount int64, reason string) (string, error) {
	if userID == "" || amount <= 0 {
		return "", fmt.Errorf("%w: user id and a positive amount are required", ErrInvalidParameters)
	}

	balance, applied, err := l.store.ConditionalDecrBy(ctx, store.AccountKey(userID), amount, 0)
	if err != nil {
		// A transient store failure must not masquerade as an empty
		// balance; the caller would wrongly refund or re-reserve.
		return "", err
	}
	if !applied {
		log.Warn().Str("user_id", userID).Int64("amount", amount).Int64("balance", balance).Msg("deduction rejected, insufficient credits")
		return "", fmt.Errorf("%w: user %s has %d, needs %d", ErrInsufficientCredits, userID, balance, amount)
	}

	txID, err := l.recordTransaction(ctx, userID, -amount, KindDeduct, reason)
	if err != nil {
		return "", err
	}

	log.Debug().Str("user_id", userID).Int64("amount", amount).Int64("balance", balance).Str("tx_id", txID).Msg("credits deducted")
	return txID, nil
}

// GetTransactionHistory returns the user's most recent transactions,
// newest first, at most limit entries. Entries whose record is missing
// (e.g. a partially applied batch) are skipped with a warning.
func (l *Ledger) GetTransactionHistory(ctx context.Context, userID string, limit int) ([]Transaction, error) {
	if userID == "" {
		return nil, fmt.Errorf("%w: user id is required", ErrInvalidParameters)
	}
	if limit <= 0 {
		return nil, nil
	}

	ids, err := l.store.ListRange(ctx, store.HistoryKey(userID), 0, int64(limit)-1)
	if err != nil {
		return nil, err
	}

	txs := make([]Transaction, 0, len(ids))
	for _, id := range ids {
		fields, err := l.store.HashGetAll(ctx, store.TransactionKey(id))
		if err != nil {
			return nil, err
		}
		if len(fields) == 0 {
			log.Warn().Str("user_id", userID).Str("tx_id", id).Msg("transaction record missing, skipping history entry")
			continue
		}
		txs = append(txs, parseTransaction(id, fields))
	}
	return txs, nil
}

// recordTransaction writes the transaction hash and prepends its id to the
// user's history list in one store round trip.
func (l *Ledger) recordTransaction(ctx context.Context, userID string, amount int64, kind, reason string) (string, error) {
	txID := uuid.NewString()
	fields := map[string]string{
		"user_id":    userID,
		"amount":     strconv.FormatInt(amount, 10),
		"kind":       kind,
		"reason":     reason,
		"created_at": l.now().UTC().Format(time.RFC3339Nano),
	}

	err := l.store.Batch(ctx, func(b store.BatchOps) error {
		b.HashSet(store.TransactionKey(txID), fields)
		b.ListPush(store.HistoryKey(userID), txID)
		return nil
	})
	if err != nil {
		// The balance change already landed; only the log entry is at
		// risk. Reconciliation of such gaps is a companion process.
		log.Error().Err(err).Str("user_id", userID).Str("tx_id", txID).Msg("failed to record transaction")
		return "", err
	}
	return txID, nil
}

func parseTransaction(id string, fields map[string]string) Transaction {
	amount, _ := strconv.ParseInt(fields["amount"], 10, 64)
	createdAt, _ := time.Parse(time.RFC3339Nano, fields["created_at"])
	return Transaction{
		ID:        id,
		UserID:    fields["user_id"],
		Amount:    amount,
		Kind:      fields["kind"],
		Reason:    fields["reason"],
		CreatedAt: createdAt,
	}
}
