package limiter

// Limit scopes
const (
	ScopeUser   = "user"
	ScopeDomain = "domain"
)

// Defaults
const (
	DefaultUserLimit         = 100
	DefaultDomainLimit       = 60
	DefaultDomainConcurrency = 3
)
