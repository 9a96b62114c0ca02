package cache

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestPutThenGetHits(t *testing.T) {
	c := New(DefaultConfig())
	now := time.Now()
	require.True(t, c.Put("k1", "v1", 10, 0, false, now))
	v, ok := c.Get("k1", now)
	require.True(t, ok)
	require.Equal(t, "v1", v)
}

func TestGetMissOnUnknownKey(t *testing.T) {
	c := New(DefaultConfig())
	_, ok := c.Get("nope", time.Now())
	require.False(t, ok)
}

func TestGetMissAfterTTLExpiry(t *testing.T) {
	c := New(DefaultConfig())
	now := time.Now()
	require.True(t, c.Put("k1", "v1", 10, time.Minute, true, now))
	_, ok := c.Get("k1", now.Add(2*time.Minute))
	require.False(t, ok)
}

func TestGetMissWhenColdAndPastColdTTL(t *testing.T) {
	cfg := DefaultConfig()
	cfg.ColdTTL = time.Hour
	cfg.DefaultTTL = 365 * 24 * time.Hour
	c := New(cfg)
	now := time.Now()
	require.True(t, c.Put("k1", "v1", 10, 0, false, now))
	// entry is cold (never promoted to hot) and older than cold_ttl
	_, ok := c.Get("k1", now.Add(2*time.Hour))
	require.False(t, ok)
}

func TestAccessCountPromotesToHot(t *testing.T) {
	cfg := DefaultConfig()
	cfg.HotThreshold = 3
	c := New(cfg)
	now := time.Now()
	c.Put("k1", "v1", 10, 0, false, now)
	for i := 0; i < 3; i++ {
		c.Get("k1", now)
	}
	require.Equal(t, 1, c.Stats().HotCount)
}

func TestPutEvictsUnderLRUWhenOverCapacity(t *testing.T) {
	cfg := DefaultConfig()
	cfg.MaxSizeBytes = 20
	cfg.EvictionPolicy = PolicyLRU
	c := New(cfg)
	now := time.Now()

	c.Put("a", "va", 10, 0, false, now)
	c.Put("b", "vb", 10, 0, false, now.Add(time.Second))
	c.Get("b", now.Add(2*time.Second)) // touch b, a becomes LRU victim

	require.True(t, c.Put("c", "vc", 10, 0, false, now.Add(3*time.Second)))
	_, aStillThere := c.Get("a", now.Add(3*time.Second))
	require.False(t, aStillThere)
	_, bStillThere := c.Get("b", now.Add(3*time.Second))
	require.True(t, bStillThere)
}

func TestProtectedKeysAreNeverEvicted(t *testing.T) {
	cfg := DefaultConfig()
	cfg.MaxSizeBytes = 10
	cfg.ProtectedKeys = map[string]bool{"p": true}
	c := New(cfg)
	now := time.Now()

	require.True(t, c.Put("p", "protected", 10, 0, false, now))
	require.False(t, c.Put("q", "other", 10, 0, false, now))

	_, ok := c.Get("p", now)
	require.True(t, ok)
}

func TestPutFailsWhenEntryExceedsMaxSize(t *testing.T) {
	cfg := DefaultConfig()
	cfg.MaxSizeBytes = 5
	c := New(cfg)
	require.False(t, c.Put("k", "v", 10, 0, false, time.Now()))
}

func TestCleanupExpiredRemovesStaleEntries(t *testing.T) {
	c := New(DefaultConfig())
	now := time.Now()
	c.Put("k1", "v1", 10, time.Minute, true, now)
	c.Put("k2", "v2", 10, time.Hour, true, now)

	removed := c.CleanupExpired(now.Add(2 * time.Minute))
	require.Equal(t, 1, removed)
	require.Equal(t, 1, c.Stats().Entries)
}

func TestFIFOEvictsOldestInsertionFirst(t *testing.T) {
	cfg := DefaultConfig()
	cfg.MaxSizeBytes = 20
	cfg.EvictionPolicy = PolicyFIFO
	c := New(cfg)
	now := time.Now()

	c.Put("a", "va", 10, 0, false, now)
	c.Put("b", "vb", 10, 0, false, now)
	c.Get("a", now) // access doesn't matter for FIFO

	c.Put("c", "vc", 10, 0, false, now)
	_, aThere := c.Get("a", now)
	require.False(t, aThere)
}
