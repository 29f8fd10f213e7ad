// Package limiter gates requests behind three independent admission
// checks: a per-user sliding window, a per-domain sliding window, and a
// per-domain concurrency cap. Windows are sorted sets of request ids
// scored by admission time; the concurrency cap is a plain set released
// explicitly by Complete.
package limiter

import (
	"context"
	"fmt"
	"math"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/toolink/metering/store"
)

// RateLimiter admits or rejects requests against the configured limits.
type RateLimiter struct {
	config *Config
	store  store.Store
	now    func() time.Time
}

// New creates a RateLimiter. The config must already have passed
// ValidateAndPrepare.
func New(s store.Store, cfg *Config) *RateLimiter {
	return &RateLimiter{
		config: cfg,
		store:  s,
		now:    time.Now,
	}
}

// Admit checks all three gates in order (user window, domain window,
// domain concurrency) and, if every gate passes, records the admission in
// both windows and the concurrency set. It returns the request id the
// caller must later pass to Complete.
//
// The check-then-insert sequence is not locked: under extreme contention
// the concurrency cap can briefly overshoot, which self-corrects on the
// next Complete. Balance-style airtightness is not required here.
func (rl *RateLimiter) Admit(ctx context.Context, userID, domain string) (string, error) {
	if userID == "" || domain == "" {
		return "", fmt.Errorf("%w: user id and domain are required", ErrInvalidParameters)
	}

	now := rl.now()
	userKey := store.UserWindowKey(userID)
	domainKey := store.DomainWindowKey(domain)
	concKey := store.ConcurrencyKey(domain)

	userCount, err := rl.purgeAndCount(ctx, userKey, now)
	if err != nil {
		return "", err
	}
	if userCount >= rl.config.UserLimit {
		log.Warn().Str("user_id", userID).Int64("count", userCount).Int64("limit", rl.config.UserLimit).Msg("user rate limit exceeded")
		return "", &LimitError{Scope: ScopeUser, Subject: userID, Limit: rl.config.UserLimit}
	}

	domainCount, err := rl.purgeAndCount(ctx, domainKey, now)
	if err != nil {
		return "", err
	}
	if domainCount >= rl.config.DomainLimit {
		log.Warn().Str("domain", domain).Int64("count", domainCount).Int64("limit", rl.config.DomainLimit).Msg("domain rate limit exceeded")
		return "", &LimitError{Scope: ScopeDomain, Subject: domain, Limit: rl.config.DomainLimit}
	}

	inFlight, err := rl.store.SetCard(ctx, concKey)
	if err != nil {
		return "", err
	}
	if inFlight >= rl.config.DomainConcurrency {
		log.Warn().Str("domain", domain).Int64("in_flight", inFlight).Int64("limit", rl.config.DomainConcurrency).Msg("domain concurrency limit exceeded")
		return "", &ConcurrencyError{Domain: domain, Limit: rl.config.DomainConcurrency}
	}

	requestID := uuid.NewString()
	score := float64(now.UnixMilli())
	err = rl.store.Batch(ctx, func(b store.BatchOps) error {
		b.SortedSetAdd(userKey, score, requestID)
		b.SortedSetAdd(domainKey, score, requestID)
		b.SetAdd(concKey, requestID)
		// Safety nets: windows self-expire one window after the last
		// admission; a concurrency slot whose Complete never comes frees
		// itself after the TTL.
		b.Expire(userKey, rl.config.Window)
		b.Expire(domainKey, rl.config.Window)
		b.Expire(concKey, rl.config.ConcurrencyTTL)
		return nil
	})
	if err != nil {
		return "", err
	}

	log.Debug().Str("user_id", userID).Str("domain", domain).Str("request_id", requestID).Msg("request admitted")
	return requestID, nil
}

// Complete frees the concurrency slot held by requestID. Window entries
// are deliberately left alone: they count toward quota for the full
// window regardless of when the request finished.
func (rl *RateLimiter) Complete(ctx context.Context, domain, requestID string) error {
	if domain == "" || requestID == "" {
		return fmt.Errorf("%w: domain and request id are required", ErrInvalidParameters)
	}
	if err := rl.store.SetRemove(ctx, store.ConcurrencyKey(domain), requestID); err != nil {
		return err
	}
	log.Debug().Str("domain", domain).Str("request_id", requestID).Msg("concurrency slot released")
	return nil
}

// Metrics reports a gate's remaining quota. ResetIn is aligned to window
// boundaries (W - now mod W), a coarse approximation; it does not track
// the expiry of any individual window entry.
type Metrics struct {
	Limit     int64
	Remaining int64
	ResetIn   time.Duration
}

// GetUserMetrics reports the user window's current quota usage.
func (rl *RateLimiter) GetUserMetrics(ctx context.Context, userID string) (Metrics, error) {
	if userID == "" {
		return Metrics{}, fmt.Errorf("%w: user id is required", ErrInvalidParameters)
	}
	return rl.windowMetrics(ctx, store.UserWindowKey(userID), rl.config.UserLimit)
}

// GetDomainMetrics reports the domain window's current quota usage.
func (rl *RateLimiter) GetDomainMetrics(ctx context.Context, domain string) (Metrics, error) {
	if domain == "" {
		return Metrics{}, fmt.Errorf("%w: domain is required", ErrInvalidParameters)
	}
	return rl.windowMetrics(ctx, store.DomainWindowKey(domain), rl.config.DomainLimit)
}

func (rl *RateLimiter) windowMetrics(ctx context.Context, key string, limit int64) (Metrics, error) {
	now := rl.now()
	count, err := rl.purgeAndCount(ctx, key, now)
	if err != nil {
		return Metrics{}, err
	}
	remaining := limit - count
	if remaining < 0 {
		remaining = 0
	}
	return Metrics{
		Limit:     limit,
		Remaining: remaining,
		ResetIn:   rl.config.Window - time.Duration(now.UnixNano())%rl.config.Window,
	}, nil
}

// purgeAndCount lazily drops entries older than the trailing window, then
// returns the window's cardinality.
func (rl *RateLimiter) purgeAndCount(ctx context.Context, key string, now time.Time) (int64, error) {
	minScore := float64(now.Add(-rl.config.Window).UnixMilli())
	if _, err := rl.store.SortedSetRemoveByScoreRange(ctx, key, math.Inf(-1), minScore); err != nil {
		return 0, err
	}
	return rl.store.SortedSetCard(ctx, key)
}
