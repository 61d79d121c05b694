// SPDX-License-Identifier: MIT

package cache

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestKey(t *testing.T) {
	k := Key("openmeteo", -27.46789, 153.02801, "2024-03-01")
	assert.Equal(t, "openmeteo:-27.4679:153.0280:2024-03-01", k)

	// Nearby points within rounding precision share a key.
	assert.Equal(t, k, Key("openmeteo", -27.46791, 153.02805, "2024-03-01"))
}

func TestMemoryCacheSetGet(t *testing.T) {
	c := NewMemory(0)

	_, ok := c.Get("missing")
	assert.False(t, ok)

	c.Set("a", []byte("payload"), time.Minute)
	got, ok := c.Get("a")
	require.True(t, ok)
	assert.Equal(t, []byte("payload"), got)

	stats := c.Stats()
	assert.Equal(t, int64(1), stats.Hits)
	assert.Equal(t, int64(1), stats.Misses)
	assert.Equal(t, int64(1), stats.Sets)
	assert.Equal(t, 1, stats.CurrentSize)
}

func TestMemoryCacheExpiry(t *testing.T) {
	c := NewMemory(0)

	c.Set("a", []byte("payload"), 10*time.Millisecond)
	time.Sleep(25 * time.Millisecond)

	_, ok := c.Get("a")
	assert.False(t, ok)
}

func TestMemoryCacheDelete(t *testing.T) {
	c := NewMemory(0)

	c.Set("a", []byte("x"), time.Minute)
	c.Delete("a")

	_, ok := c.Get("a")
	assert.False(t, ok)
}

func TestMemoryCacheClear(t *testing.T) {
	c := NewMemory(0)

	c.Set("a", []byte("x"), time.Minute)
	c.Set("b", []byte("y"), time.Minute)
	c.Clear()

	_, ok := c.Get("a")
	assert.False(t, ok)
	stats := c.Stats()
	assert.Equal(t, 0, stats.CurrentSize)
	assert.Equal(t, int64(2), stats.Evictions)
}

func TestMemoryCacheJanitor(t *testing.T) {
	c := NewMemory(10 * time.Millisecond)
	defer c.Stop()

	c.Set("a", []byte("x"), time.Millisecond)
	assert.Eventually(t, func() bool {
		return c.Stats().Evictions >= 1
	}, time.Second, 10*time.Millisecond)
}

func TestNoOpCache(t *testing.T) {
	c := NewNoOp()
	c.Set("a", []byte("x"), time.Minute)
	_, ok := c.Get("a")
	assert.False(t, ok)
	assert.Equal(t, Stats{}, c.Stats())
}
