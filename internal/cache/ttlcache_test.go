package cache

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCache_SetGet(t *testing.T) {
	c := New[string](time.Hour, nil)
	defer c.Close()

	c.Set("a", "1", time.Minute)
	v, ok := c.Get("a")
	require.True(t, ok)
	assert.Equal(t, "1", v)

	_, ok = c.Get("missing")
	assert.False(t, ok)
}

func TestCache_ExpiredGetMisses(t *testing.T) {
	c := New[string](time.Hour, nil)
	defer c.Close()

	c.Set("a", "1", -time.Second) // already expired
	_, ok := c.Get("a")
	assert.False(t, ok)
}

func TestCache_TouchExtendsTTL(t *testing.T) {
	c := New[string](time.Hour, nil)
	defer c.Close()

	c.Set("a", "1", 10*time.Millisecond)
	ok := c.Touch("a", time.Hour)
	require.True(t, ok)

	time.Sleep(20 * time.Millisecond)
	_, ok = c.Get("a")
	assert.True(t, ok, "touch should have extended the TTL past the original expiry")
}

func TestCache_TouchMissingKey(t *testing.T) {
	c := New[string](time.Hour, nil)
	defer c.Close()

	assert.False(t, c.Touch("nope", time.Hour))
}

func TestCache_DeleteInvokesReleaseHook(t *testing.T) {
	var mu sync.Mutex
	released := map[string]string{}

	c := New[string](time.Hour, func(key, value string) {
		mu.Lock()
		released[key] = value
		mu.Unlock()
	})
	defer c.Close()

	c.Set("a", "1", time.Minute)
	c.Delete("a")

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, "1", released["a"])
}

func TestCache_SetOverwriteReleasesOldValue(t *testing.T) {
	var releasedOld bool
	c := New[string](time.Hour, func(key, value string) {
		if value == "old" {
			releasedOld = true
		}
	})
	defer c.Close()

	c.Set("a", "old", time.Minute)
	c.Set("a", "new", time.Minute)

	assert.True(t, releasedOld)
	v, _ := c.Get("a")
	assert.Equal(t, "new", v)
}

func TestCache_SweepEvictsExpiredAndReleases(t *testing.T) {
	done := make(chan string, 1)
	c := New[string](5*time.Millisecond, func(key, value string) {
		done <- value
	})
	defer c.Close()

	c.Set("a", "gone", 1*time.Millisecond)

	select {
	case v := <-done:
		assert.Equal(t, "gone", v)
	case <-time.After(time.Second):
		t.Fatal("sweep did not evict expired entry in time")
	}
}

func TestCache_CloseEvictsEverything(t *testing.T) {
	var mu sync.Mutex
	released := map[string]bool{}

	c := New[string](time.Hour, func(key, value string) {
		mu.Lock()
		released[key] = true
		mu.Unlock()
	})

	c.Set("a", "1", time.Minute)
	c.Set("b", "2", time.Minute)
	c.Close()

	mu.Lock()
	defer mu.Unlock()
	assert.True(t, released["a"])
	assert.True(t, released["b"])
	assert.Equal(t, 0, c.Len())
}

func TestCache_ConcurrentAccess(t *testing.T) {
	c := New[int](time.Hour, nil)
	defer c.Close()

	var wg sync.WaitGroup
	for i := 0; i < 100; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			key := "k"
			c.Set(key, i, time.Minute)
			c.Get(key)
			c.Touch(key, time.Minute)
		}(i)
	}
	wg.Wait()
}
