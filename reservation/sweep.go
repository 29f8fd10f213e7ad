package reservation

import (
	"context"
	"errors"
	"math"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/toolink/metering/redlock"
	"github.com/toolink/metering/store"
)

const (
	defaultGracePeriod = 15 * time.Minute
	defaultInterval    = time.Minute
)

// Sweeper refunds reservations that were never released: a caller that
// crashes between Reserve and ReleaseReservation otherwise leaves the held
// credits locked forever. Reservations are considered abandoned once older
// than the grace period.
type Sweeper struct {
	manager  *Manager
	locker   *redlock.Locker
	grace    time.Duration
	interval time.Duration
	now      func() time.Time
}

// SweeperOption configures a Sweeper.
type SweeperOption func(*Sweeper)

// WithGracePeriod sets how old a pending reservation must be before it is
// refunded. Defaults to 15 minutes; keep it comfortably above the longest
// legitimate operation.
func WithGracePeriod(d time.Duration) SweeperOption {
	return func(s *Sweeper) {
		if d > 0 {
			s.grace = d
		}
	}
}

// WithInterval sets how often Run sweeps. Defaults to 1 minute.
func WithInterval(d time.Duration) SweeperOption {
	return func(s *Sweeper) {
		if d > 0 {
			s.interval = d
		}
	}
}

// WithLocker sets a distributed lock so that only one instance sweeps at a
// time. Without a locker the sweeper assumes it is the only instance.
func WithLocker(l *redlock.Locker) SweeperOption {
	return func(s *Sweeper) {
		s.locker = l
	}
}

// NewSweeper creates a Sweeper over the manager's reservations.
func NewSweeper(m *Manager, options ...SweeperOption) *Sweeper {
	s := &Sweeper{
		manager:  m,
		grace:    defaultGracePeriod,
		interval: defaultInterval,
		now:      time.Now,
	}
	for _, opt := range options {
		opt(s)
	}
	return s
}

// Run sweeps periodically until ctx is cancelled.
func (s *Sweeper) Run(ctx context.Context) {
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	log.Info().Dur("interval", s.interval).Dur("grace", s.grace).Msg("reservation sweeper started")
	for {
		select {
		case <-ctx.Done():
			log.Info().Msg("reservation sweeper stopped")
			return
		case <-ticker.C:
			if _, err := s.SweepOnce(ctx); err != nil {
				log.Error().Err(err).Msg("reservation sweep failed")
			}
		}
	}
}

// SweepOnce refunds all pending reservations older than the grace period
// and returns how many were refunded. When another instance holds the
// sweep lock the pass is skipped without error.
func (s *Sweeper) SweepOnce(ctx context.Context) (int, error) {
	if s.locker != nil {
		if err := s.locker.TryLock(ctx); err != nil {
			if errors.Is(err, redlock.ErrLockNotAcquired) {
				log.Debug().Msg("sweep skipped, another instance holds the lock")
				return 0, nil
			}
			return 0, err
		}
		defer s.locker.Unlock(ctx)
	}

	cutoff := float64(s.now().Add(-s.grace).Unix())
	stale, err := s.manager.store.SortedSetRangeByScore(ctx, store.PendingReservationsKey(), math.Inf(-1), cutoff)
	if err != nil {
		return 0, err
	}

	refunded := 0
	for _, operationID := range stale {
		err := s.manager.ReleaseReservation(ctx, operationID, false)
		switch {
		case err == nil:
			refunded++
			log.Warn().Str("operation_id", operationID).Msg("abandoned reservation refunded")
		case errors.Is(err, ErrReservationNotFound):
			// Claim without a record, left over from a failed reserve.
			// Settling raced concurrently is also possible; either way the
			// claim no longer corresponds to locked credits.
			s.manager.dropClaim(ctx, operationID)
		default:
			return refunded, err
		}
	}
	return refunded, nil
}
