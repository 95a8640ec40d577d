package logging_test

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/itsneelabh/agentcore/logging"
)

func TestRateLimiterAllowsFirstThenBlocksUntilInterval(t *testing.T) {
	rl := logging.NewRateLimiter(50 * time.Millisecond)

	assert.True(t, rl.Allow())
	assert.False(t, rl.Allow())

	time.Sleep(60 * time.Millisecond)
	assert.True(t, rl.Allow())
}
