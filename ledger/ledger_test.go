package ledger

import (
	"context"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/toolink/metering/store"
)

func newTestLedger() *Ledger {
	return New(store.NewMemoryStore())
}

func TestAddAndGetBalance(t *testing.T) {
	l := newTestLedger()
	ctx := context.Background()

	balance, err := l.GetBalance(ctx, "u1")
	require.NoError(t, err)
	require.Equal(t, int64(0), balance)

	txID, err := l.AddCredits(ctx, "u1", 50, "signup bonus")
	require.NoError(t, err)
	require.NotEmpty(t, txID)

	balance, err = l.GetBalance(ctx, "u1")
	require.NoError(t, err)
	require.Equal(t, int64(50), balance)
}

func TestDeductCredits(t *testing.T) {
	l := newTestLedger()
	ctx := context.Background()

	_, err := l.AddCredits(ctx, "u1", 30, "topup")
	require.NoError(t, err)

	_, err = l.DeductCredits(ctx, "u1", 20, "crawl")
	require.NoError(t, err)

	balance, err := l.GetBalance(ctx, "u1")
	require.NoError(t, err)
	require.Equal(t, int64(10), balance)

	// A deduction beyond the balance fails and leaves it untouched.
	_, err = l.DeductCredits(ctx, "u1", 11, "crawl")
	require.ErrorIs(t, err, ErrInsufficientCredits)

	balance, err = l.GetBalance(ctx, "u1")
	require.NoError(t, err)
	require.Equal(t, int64(10), balance)

	// Down to exactly zero is allowed.
	_, err = l.DeductCredits(ctx, "u1", 10, "crawl")
	require.NoError(t, err)

	balance, err = l.GetBalance(ctx, "u1")
	require.NoError(t, err)
	require.Equal(t, int64(0), balance)
}

func TestDeductFromEmptyAccount(t *testing.T) {
	l := newTestLedger()

	_, err := l.DeductCredits(context.Background(), "nobody", 1, "crawl")
	require.ErrorIs(t, err, ErrInsufficientCredits)
}

func TestInvalidParameters(t *testing.T) {
	l := newTestLedger()
	ctx := context.Background()

	_, err := l.GetBalance(ctx, "")
	require.ErrorIs(t, err, ErrInvalidParameters)

	_, err = l.AddCredits(ctx, "", 5, "r")
	require.ErrorIs(t, err, ErrInvalidParameters)

	_, err = l.AddCredits(ctx, "u1", 0, "r")
	require.ErrorIs(t, err, ErrInvalidParameters)

	_, err = l.DeductCredits(ctx, "u1", -3, "r")
	require.ErrorIs(t, err, ErrInvalidParameters)
}

func TestTransactionHistoryNewestFirst(t *testing.T) {
	l := newTestLedger()
	ctx := context.Background()

	_, err := l.AddCredits(ctx, "u1", 100, "topup")
	require.NoError(t, err)
	_, err = l.DeductCredits(ctx, "u1", 30, "crawl example.com")
	require.NoError(t, err)
	_, err = l.DeductCredits(ctx, "u1", 10, "recheck example.com")
	require.NoError(t, err)

	txs, err := l.GetTransactionHistory(ctx, "u1", 10)
	require.NoError(t, err)
	require.Len(t, txs, 3)

	require.Equal(t, KindDeduct, txs[0].Kind)
	require.Equal(t, int64(-10), txs[0].Amount)
	require.Equal(t, "recheck example.com", txs[0].Reason)
	require.Equal(t, KindDeduct, txs[1].Kind)
	require.Equal(t, int64(-30), txs[1].Amount)
	require.Equal(t, KindAdd, txs[2].Kind)
	require.Equal(t, int64(100), txs[2].Amount)

	// Limit truncates from the newest end.
	txs, err = l.GetTransactionHistory(ctx, "u1", 2)
	require.NoError(t, err)
	require.Len(t, txs, 2)
	require.Equal(t, int64(-10), txs[0].Amount)
}

func TestTransactionHistorySkipsMissingRecords(t *testing.T) {
	s := store.NewMemoryStore()
	l := New(s)
	ctx := context.Background()

	_, err := l.AddCredits(ctx, "u1", 100, "topup")
	require.NoError(t, err)
	midID, err := l.DeductCredits(ctx, "u1", 30, "crawl")
	require.NoError(t, err)
	_, err = l.DeductCredits(ctx, "u1", 10, "recheck")
	require.NoError(t, err)

	// A partially applied batch can leave a history entry whose record is
	// gone; retrieval must return the survivors rather than fail.
	require.NoError(t, s.Delete(ctx, store.TransactionKey(midID)))

	txs, err := l.GetTransactionHistory(ctx, "u1", 10)
	require.NoError(t, err)
	require.Len(t, txs, 2)
	require.Equal(t, int64(-10), txs[0].Amount)
	require.Equal(t, int64(100), txs[1].Amount)
}

func TestTransactionDeltasSumToBalance(t *testing.T) {
	l := newTestLedger()
	ctx := context.Background()

	_, err := l.AddCredits(ctx, "u1", 100, "topup")
	require.NoError(t, err)
	_, err = l.DeductCredits(ctx, "u1", 25, "crawl")
	require.NoError(t, err)
	_, err = l.AddCredits(ctx, "u1", 10, "refund")
	require.NoError(t, err)

	txs, err := l.GetTransactionHistory(ctx, "u1", 100)
	require.NoError(t, err)

	var sum int64
	for _, tx := range txs {
		sum += tx.Amount
	}
	balance, err := l.GetBalance(ctx, "u1")
	require.NoError(t, err)
	require.Equal(t, balance, sum)
}

func TestConcurrentDeductionsNeverOverdraw(t *testing.T) {
	l := newTestLedger()
	ctx := context.Background()

	_, err := l.AddCredits(ctx, "u1", 50, "topup")
	require.NoError(t, err)

	const workers = 20
	var wg sync.WaitGroup
	errs := make([]error, workers)
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, errs[i] = l.DeductCredits(ctx, "u1", 10, "crawl")
		}(i)
	}
	wg.Wait()

	succeeded := 0
	for _, err := range errs {
		if err == nil {
			succeeded++
		} else {
			require.ErrorIs(t, err, ErrInsufficientCredits)
		}
	}
	// 50 credits cover exactly five 10-credit deductions.
	require.Equal(t, 5, succeeded)

	balance, err := l.GetBalance(ctx, "u1")
	require.NoError(t, err)
	require.Equal(t, int64(0), balance)
}
