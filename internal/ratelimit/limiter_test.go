// SPDX-License-Identifier: MIT

package ratelimit

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/time/rate"
)

func TestLimiterAllowWithinBurst(t *testing.T) {
	l := New(map[string]SourceLimit{
		"silo": {Rate: 1, Burst: 2},
	})

	assert.True(t, l.Allow("silo"))
	assert.True(t, l.Allow("silo"))
	assert.False(t, l.Allow("silo"))
}

func TestLimiterSourcesAreIndependent(t *testing.T) {
	l := New(map[string]SourceLimit{
		"silo":      {Rate: 1, Burst: 1},
		"openmeteo": {Rate: 1, Burst: 1},
	})

	assert.True(t, l.Allow("silo"))
	assert.False(t, l.Allow("silo"))
	assert.True(t, l.Allow("openmeteo"))
}

func TestLimiterUnknownSourceUsesFallback(t *testing.T) {
	l := New(map[string]SourceLimit{})

	assert.True(t, l.Allow("mystery"))
	assert.False(t, l.Allow("mystery"))
}

func TestLimiterWaitRespectsContext(t *testing.T) {
	l := New(map[string]SourceLimit{
		"slow": {Rate: rate.Limit(0.01), Burst: 1},
	})
	require.NoError(t, l.Wait(context.Background(), "slow"))

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	err := l.Wait(ctx, "slow")
	assert.Error(t, err)
}

func TestLimiterSetLimitResetsBucket(t *testing.T) {
	l := New(map[string]SourceLimit{
		"silo": {Rate: 1, Burst: 1},
	})
	assert.True(t, l.Allow("silo"))
	assert.False(t, l.Allow("silo"))

	l.SetLimit("silo", SourceLimit{Rate: 100, Burst: 10})
	assert.True(t, l.Allow("silo"))
}
