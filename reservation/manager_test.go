package reservation

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/toolink/metering/ledger"
	"github.com/toolink/metering/store"
)

func newTestManager(t *testing.T) (*Manager, *ledger.Ledger) {
	t.Helper()
	s := store.NewMemoryStore()
	l := ledger.New(s)
	return New(s, l), l
}

func TestReserveHoldsCredits(t *testing.T) {
	m, l := newTestManager(t)
	ctx := context.Background()

	_, err := l.AddCredits(ctx, "u1", 20, "topup")
	require.NoError(t, err)

	require.NoError(t, m.Reserve(ctx, "u1", 10, "op1"))

	balance, err := l.GetBalance(ctx, "u1")
	require.NoError(t, err)
	require.Equal(t, int64(10), balance)

	rec, err := m.Get(ctx, "op1")
	require.NoError(t, err)
	require.Equal(t, "u1", rec.UserID)
	require.Equal(t, int64(10), rec.Amount)
}

func TestReleaseRefundsFailedWork(t *testing.T) {
	m, l := newTestManager(t)
	ctx := context.Background()

	_, err := l.AddCredits(ctx, "u1", 20, "topup")
	require.NoError(t, err)
	require.NoError(t, m.Reserve(ctx, "u1", 10, "op1"))

	require.NoError(t, m.ReleaseReservation(ctx, "op1", false))

	balance, err := l.GetBalance(ctx, "u1")
	require.NoError(t, err)
	require.Equal(t, int64(20), balance)

	_, err = m.Get(ctx, "op1")
	require.ErrorIs(t, err, ErrReservationNotFound)
}

// A successful release keeps the hold, and the caller's follow-up
// deduction for the realized cost charges on top of it. The net charge is
// estimate plus final cost; this documents the behavior as contracted.
func TestSuccessfulReleaseKeepsHold(t *testing.T) {
	m, l := newTestManager(t)
	ctx := context.Background()

	_, err := l.AddCredits(ctx, "u1", 100, "topup")
	require.NoError(t, err)

	require.NoError(t, m.Reserve(ctx, "u1", 14, "op1"))
	balance, err := l.GetBalance(ctx, "u1")
	require.NoError(t, err)
	require.Equal(t, int64(86), balance)

	require.NoError(t, m.ReleaseReservation(ctx, "op1", true))
	balance, err = l.GetBalance(ctx, "u1")
	require.NoError(t, err)
	require.Equal(t, int64(86), balance)

	_, err = l.DeductCredits(ctx, "u1", 20, "crawl final cost")
	require.NoError(t, err)
	balance, err = l.GetBalance(ctx, "u1")
	require.NoError(t, err)
	require.Equal(t, int64(66), balance)
}

func TestReserveDuplicateOperation(t *testing.T) {
	m, l := newTestManager(t)
	ctx := context.Background()

	_, err := l.AddCredits(ctx, "u1", 100, "topup")
	require.NoError(t, err)

	require.NoError(t, m.Reserve(ctx, "u1", 10, "op1"))
	err = m.Reserve(ctx, "u1", 10, "op1")
	require.ErrorIs(t, err, ErrDuplicateOperation)

	// Only one hold landed.
	balance, err := l.GetBalance(ctx, "u1")
	require.NoError(t, err)
	require.Equal(t, int64(90), balance)
}

func TestConcurrentReserveSingleWinner(t *testing.T) {
	m, l := newTestManager(t)
	ctx := context.Background()

	_, err := l.AddCredits(ctx, "u1", 100, "topup")
	require.NoError(t, err)

	const racers = 10
	var wg sync.WaitGroup
	errs := make([]error, racers)
	for i := 0; i < racers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			errs[i] = m.Reserve(ctx, "u1", 10, "op1")
		}(i)
	}
	wg.Wait()

	winners := 0
	for _, err := range errs {
		if err == nil {
			winners++
		} else {
			require.ErrorIs(t, err, ErrDuplicateOperation)
		}
	}
	require.Equal(t, 1, winners)

	balance, err := l.GetBalance(ctx, "u1")
	require.NoError(t, err)
	require.Equal(t, int64(90), balance)
}

func TestReserveInsufficientCreditsReleasesClaim(t *testing.T) {
	m, l := newTestManager(t)
	ctx := context.Background()

	_, err := l.AddCredits(ctx, "u1", 5, "topup")
	require.NoError(t, err)

	err = m.Reserve(ctx, "u1", 10, "op1")
	require.ErrorIs(t, err, ledger.ErrInsufficientCredits)

	// The failed reserve must not poison the operation id.
	_, err = l.AddCredits(ctx, "u1", 10, "topup")
	require.NoError(t, err)
	require.NoError(t, m.Reserve(ctx, "u1", 10, "op1"))
}

func TestReleaseUnknownOperation(t *testing.T) {
	m, _ := newTestManager(t)

	err := m.ReleaseReservation(context.Background(), "ghost", false)
	require.ErrorIs(t, err, ErrReservationNotFound)
}

func TestReleaseIsTerminal(t *testing.T) {
	m, l := newTestManager(t)
	ctx := context.Background()

	_, err := l.AddCredits(ctx, "u1", 20, "topup")
	require.NoError(t, err)
	require.NoError(t, m.Reserve(ctx, "u1", 10, "op1"))
	require.NoError(t, m.ReleaseReservation(ctx, "op1", false))

	// A second release must not refund again.
	err = m.ReleaseReservation(ctx, "op1", false)
	require.ErrorIs(t, err, ErrReservationNotFound)

	balance, err := l.GetBalance(ctx, "u1")
	require.NoError(t, err)
	require.Equal(t, int64(20), balance)
}

// flakyStore fails a configurable number of IncrBy calls before behaving
// normally, standing in for a backing store with a transient outage.
type flakyStore struct {
	store.Store
	incrFailures int
}

func (s *flakyStore) IncrBy(ctx context.Context, key string, n int64) (int64, error) {
	if s.incrFailures > 0 {
		s.incrFailures--
		return 0, fmt.Errorf("%w: incrby %s: connection reset", store.ErrUnavailable, key)
	}
	return s.Store.IncrBy(ctx, key, n)
}

func TestReleaseRetryableAfterRefundFailure(t *testing.T) {
	fs := &flakyStore{Store: store.NewMemoryStore()}
	l := ledger.New(fs)
	m := New(fs, l)
	ctx := context.Background()

	_, err := l.AddCredits(ctx, "u1", 20, "topup")
	require.NoError(t, err)
	require.NoError(t, m.Reserve(ctx, "u1", 10, "op1"))

	// The refund's credit increment fails once.
	fs.incrFailures = 1
	err = m.ReleaseReservation(ctx, "op1", false)
	require.ErrorIs(t, err, store.ErrUnavailable)

	// The reservation must still be pending: visible to Get, to a retried
	// release, and to the sweeper.
	_, err = m.Get(ctx, "op1")
	require.NoError(t, err)

	require.NoError(t, m.ReleaseReservation(ctx, "op1", false))

	balance, err := l.GetBalance(ctx, "u1")
	require.NoError(t, err)
	require.Equal(t, int64(20), balance)
}

func TestSweepBackstopsFailedRefund(t *testing.T) {
	fs := &flakyStore{Store: store.NewMemoryStore()}
	l := ledger.New(fs)
	m := New(fs, l)
	ctx := context.Background()

	base := time.Now()
	m.now = func() time.Time { return base }

	_, err := l.AddCredits(ctx, "u1", 20, "topup")
	require.NoError(t, err)
	require.NoError(t, m.Reserve(ctx, "u1", 10, "op1"))

	fs.incrFailures = 1
	err = m.ReleaseReservation(ctx, "op1", false)
	require.ErrorIs(t, err, store.ErrUnavailable)

	// Even if the caller never retries, the claim survived the failed
	// refund, so the sweeper refunds the hold once it ages out.
	sweeper := NewSweeper(m, WithGracePeriod(15*time.Minute))
	sweeper.now = func() time.Time { return base.Add(16 * time.Minute) }

	refunded, err := sweeper.SweepOnce(ctx)
	require.NoError(t, err)
	require.Equal(t, 1, refunded)

	balance, err := l.GetBalance(ctx, "u1")
	require.NoError(t, err)
	require.Equal(t, int64(20), balance)
}

func TestReserveInvalidParameters(t *testing.T) {
	m, _ := newTestManager(t)
	ctx := context.Background()

	require.ErrorIs(t, m.Reserve(ctx, "", 10, "op1"), ErrInvalidParameters)
	require.ErrorIs(t, m.Reserve(ctx, "u1", 0, "op1"), ErrInvalidParameters)
	require.ErrorIs(t, m.Reserve(ctx, "u1", 10, ""), ErrInvalidParameters)
	require.ErrorIs(t, m.ReleaseReservation(ctx, "", true), ErrInvalidParameters)
}
