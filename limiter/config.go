package limiter

import (
	"fmt"
	"time"
)

// Config holds the admission limits. All three gates share one window
// duration; the concurrency gate is released explicitly rather than by
// time, with ConcurrencyTTL as a safety net for callers that never call
// Complete.
type Config struct {
	UserLimit         int64         `yaml:"user_limit"`         // admissions per user per window
	DomainLimit       int64         `yaml:"domain_limit"`       // admissions per domain per window
	DomainConcurrency int64         `yaml:"domain_concurrency"` // simultaneous in-flight per domain
	Window            time.Duration `yaml:"window"`
	ConcurrencyTTL    time.Duration `yaml:"concurrency_ttl"` // safety expiry for leaked slots
}

// DefaultConfig returns the standard limits: 100 per user and 60 per
// domain per hour, 3 concurrent per domain.
func DefaultConfig() *Config {
	return &Config{
		UserLimit:         DefaultUserLimit,
		DomainLimit:       DefaultDomainLimit,
		DomainConcurrency: DefaultDomainConcurrency,
		Window:            time.Hour,
		ConcurrencyTTL:    10 * time.Minute,
	}
}

// ValidateAndPrepare validates the config and fills defaulted fields.
func (c *Config) ValidateAndPrepare() error {
	if c.UserLimit <= 0 {
		return fmt.Errorf("invalid user_limit: %d, must be positive", c.UserLimit)
	}
	if c.DomainLimit <= 0 {
		return fmt.Errorf("invalid domain_limit: %d, must be positive", c.DomainLimit)
	}
	if c.DomainConcurrency <= 0 {
		return fmt.Errorf("invalid domain_concurrency: %d, must be positive", c.DomainConcurrency)
	}
	if c.Window <= 0 {
		return fmt.Errorf("invalid window: %s, must be positive", c.Window)
	}
	if c.ConcurrencyTTL <= 0 {
		// Leaked slots must eventually free themselves; default rather
		// than reject so older configs keep working.
		c.ConcurrencyTTL = 10 * time.Minute
	}
	return nil
}
