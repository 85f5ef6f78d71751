package metrics

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestNewTimer(t *testing.T) {
	var got time.Duration
	timer := NewTimer(func(d time.Duration) { got = d })
	time.Sleep(5 * time.Millisecond)
	timer.ObserveDuration()
	require.GreaterOrEqual(t, got, 5*time.Millisecond)

	NopTimer().ObserveDuration()
}
