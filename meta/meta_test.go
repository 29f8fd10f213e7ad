package meta

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestAdmissionRoundTrip(t *testing.T) {
	admission := Admission{
		UserID:     "u1",
		Domain:     "example.com",
		RequestID:  "req-1",
		AdmittedAt: time.Now(),
	}

	ctx := WithContext(context.Background(), admission)
	got, ok := FromContext(ctx)
	require.True(t, ok)
	require.Equal(t, admission, got)
}

func TestFromContextMissing(t *testing.T) {
	_, ok := FromContext(context.Background())
	require.False(t, ok)
}
