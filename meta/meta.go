// Package meta carries admission metadata through a request's context so
// the workflow that admitted a request can later release its concurrency
// slot without threading individual values through every call.
package meta

import (
	"context"
	"time"
)

// admissionKey is the private context key type; a private type cannot
// collide with other packages' keys.
type admissionKey struct{}

// Admission identifies one admitted request.
type Admission struct {
	UserID     string
	Domain     string
	RequestID  string
	AdmittedAt time.Time
}

// WithContext returns a context carrying the admission.
func WithContext(ctx context.Context, a Admission) context.Context {
	return context.WithValue(ctx, admissionKey{}, a)
}

// FromContext extracts the admission from ctx, reporting whether one was
// present.
func FromContext(ctx context.Context) (Admission, bool) {
	a, ok := ctx.Value(admissionKey{}).(Admission)
	return a, ok
}
