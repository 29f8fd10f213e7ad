package store

import "fmt"

// Typed key builders for the metering keyspace. All keys used by this
// module are constructed here so the schema lives in one place and the
// in-memory store sees exactly the same layout as Redis.

// AccountKey holds a user's integer credit balance.
func AccountKey(userID string) string {
	return fmt.Sprintf("account:%s", userID)
}

// TransactionKey holds the fields of one immutable ledger entry.
func TransactionKey(txID string) string {
	return fmt.Sprintf("tx:%s", txID)
}

// HistoryKey is the newest-first list of a user's transaction ids.
func HistoryKey(userID string) string {
	return fmt.Sprintf("txhistory:%s", userID)
}

// ReservationKey holds a pending hold's record.
func ReservationKey(operationID string) string {
	return fmt.Sprintf("reservation:%s", operationID)
}

// PendingReservationsKey is the sorted set of pending operation ids scored
// by creation time. It doubles as the uniqueness claim for Reserve.
func PendingReservationsKey() string {
	return "reservations:pending"
}

// UserWindowKey is the sliding admission window for one user.
func UserWindowKey(userID string) string {
	return fmt.Sprintf("window:user:%s", userID)
}

// DomainWindowKey is the sliding admission window for one domain.
func DomainWindowKey(domain string) string {
	return fmt.Sprintf("window:domain:%s", domain)
}

// ConcurrencyKey is the set of in-flight request ids for one domain.
func ConcurrencyKey(domain string) string {
	return fmt.Sprintf("concurrency:%s", domain)
}

// SweepLockKey is the distributed lock serializing the reservation sweeper
// across instances.
func SweepLockKey() string {
	return "reservations:sweep:lock"
}
