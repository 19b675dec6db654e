package cache

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestTTLCacheStoresAndExpires(t *testing.T) {
	c := NewTTLCache[string, int]()

	c.Set("a", 42, time.Minute)
	got, ok := c.Get("a")
	assert.True(t, ok)
	assert.Equal(t, 42, got)

	c.Set("b", 7, time.Nanosecond)
	time.Sleep(5 * time.Millisecond)
	_, ok = c.Get("b")
	assert.False(t, ok, "expired entry should miss")
}

func TestTTLCacheZeroTTLNeverExpires(t *testing.T) {
	c := NewTTLCache[string, string]()
	c.Set("k", "v", 0)

	got, ok := c.Get("k")
	assert.True(t, ok)
	assert.Equal(t, "v", got)
}

func TestTTLCacheDelete(t *testing.T) {
	c := NewTTLCache[string, int]()
	c.Set("k", 1, time.Minute)
	c.Delete("k")

	_, ok := c.Get("k")
	assert.False(t, ok)
}
