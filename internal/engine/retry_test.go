package engine

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestNextDelayDoubles(t *testing.T) {
	p := RetryPolicy{InitialDelay: time.Second, BackoffFactor: 2}
	assert.Equal(t, time.Second, p.NextDelay(1))
	assert.Equal(t, 2*time.Second, p.NextDelay(2))
	assert.Equal(t, 4*time.Second, p.NextDelay(3))
}

func TestNextDelayClampsToMax(t *testing.T) {
	p := RetryPolicy{InitialDelay: time.Second, MaxDelay: 3 * time.Second, BackoffFactor: 2}
	assert.Equal(t, 3*time.Second, p.NextDelay(5))
}

func TestNextDelayDefaults(t *testing.T) {
	var p RetryPolicy
	assert.Equal(t, time.Second, p.NextDelay(0))
	assert.Equal(t, 2*time.Second, p.NextDelay(2))
}
