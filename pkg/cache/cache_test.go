package cache

import (
	"context"
	stderrors "errors"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/c360/lookupstream/errors"
)

// fakeClock is a manually advanced clock for expiry tests.
type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Date(2024, 1, 1, 12, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

type constructor func(capacity int, ttl time.Duration, options ...Option[string, string]) (Cache[string, string], error)

// strategies lists the bounded constructors every shared test runs against.
var strategies = map[string]constructor{
	"serialized":   New[string, string],
	"singleflight": NewSingleflight[string, string],
}

// counting returns a computation yielding value and the counter of its calls.
func counting(value string) (ComputeFunc[string], *atomic.Int32) {
	calls := &atomic.Int32{}
	return func() (string, error) {
		calls.Add(1)
		return value, nil
	}, calls
}

func mustGet(t *testing.T, c Cache[string, string], key string, compute ComputeFunc[string]) string {
	t.Helper()
	value, err := c.Get(key, compute)
	require.NoError(t, err)
	return value
}

// testSuite runs the behavior shared by every bounded strategy.
func testSuite(t *testing.T, create constructor) {
	newCache := func(t *testing.T, capacity int, ttl time.Duration, options ...Option[string, string]) (Cache[string, string], *fakeClock) {
		clock := newFakeClock()
		options = append(options, WithClock[string, string](clock.Now))
		c, err := create(capacity, ttl, options...)
		require.NoError(t, err)
		t.Cleanup(func() { _ = c.Close() })
		return c, clock
	}

	t.Run("HitWithinTTL", func(t *testing.T) {
		c, clock := newCache(t, 10, time.Minute)

		first, firstCalls := counting("v1")
		second, secondCalls := counting("v2")

		assert.Equal(t, "v1", mustGet(t, c, "k", first))
		clock.Advance(59 * time.Second)
		assert.Equal(t, "v1", mustGet(t, c, "k", second))

		assert.Equal(t, int32(1), firstCalls.Load())
		assert.Equal(t, int32(0), secondCalls.Load())
	})

	t.Run("Expiration", func(t *testing.T) {
		c, clock := newCache(t, 10, time.Minute)

		first, _ := counting("v1")
		second, secondCalls := counting("v2")

		assert.Equal(t, "v1", mustGet(t, c, "k", first))
		clock.Advance(time.Minute + time.Millisecond)
		assert.Equal(t, "v2", mustGet(t, c, "k", second))
		assert.Equal(t, int32(1), secondCalls.Load())

		// The recomputed entry is live again from its own insertion time.
		third, thirdCalls := counting("v3")
		assert.Equal(t, "v2", mustGet(t, c, "k", third))
		assert.Equal(t, int32(0), thirdCalls.Load())
	})

	t.Run("ExpiresExactlyAtTTL", func(t *testing.T) {
		c, clock := newCache(t, 10, time.Minute)

		first, _ := counting("v1")
		second, secondCalls := counting("v2")

		mustGet(t, c, "k", first)
		clock.Advance(time.Minute)
		assert.Equal(t, "v2", mustGet(t, c, "k", second))
		assert.Equal(t, int32(1), secondCalls.Load())
	})

	t.Run("CapacityBound", func(t *testing.T) {
		c, _ := newCache(t, 3, time.Minute)

		for i := 0; i < 4; i++ {
			key := fmt.Sprintf("k%d", i)
			compute, _ := counting(key)
			mustGet(t, c, key, compute)
			assert.LessOrEqual(t, c.Size(), 3)
		}

		assert.Equal(t, 3, c.Size())
		assert.Equal(t, []string{"k3", "k2", "k1"}, c.Keys())

		// k0 was the least recently used and must be recomputed.
		compute, calls := counting("again")
		assert.Equal(t, "again", mustGet(t, c, "k0", compute))
		assert.Equal(t, int32(1), calls.Load())
	})

	t.Run("LRURecency", func(t *testing.T) {
		c, _ := newCache(t, 2, time.Minute)

		a, _ := counting("a")
		b, _ := counting("b")
		cc, _ := counting("c")

		mustGet(t, c, "A", a)
		mustGet(t, c, "B", b)
		mustGet(t, c, "A", a)
		mustGet(t, c, "C", cc)

		assert.ElementsMatch(t, []string{"A", "C"}, c.Keys())

		recompute, calls := counting("b2")
		assert.Equal(t, "b2", mustGet(t, c, "B", recompute))
		assert.Equal(t, int32(1), calls.Load())
	})

	t.Run("ExampleScenario", func(t *testing.T) {
		c, clock := newCache(t, 2, 60*time.Second)

		v1, v1Calls := counting("v1")
		assert.Equal(t, "v1", mustGet(t, c, "p1", v1))

		clock.Advance(time.Second)
		other, otherCalls := counting("other")
		assert.Equal(t, "v1", mustGet(t, c, "p1", other))
		assert.Equal(t, int32(0), otherCalls.Load())

		v2, _ := counting("v2")
		assert.Equal(t, "v2", mustGet(t, c, "p2", v2))

		v3, _ := counting("v3")
		assert.Equal(t, "v3", mustGet(t, c, "p3", v3))

		assert.Equal(t, []string{"p3", "p1"}, c.Keys())
		assert.Equal(t, int32(1), v1Calls.Load())
	})

	t.Run("FailureNotCached", func(t *testing.T) {
		c, _ := newCache(t, 10, time.Minute)

		errBoom := stderrors.New("boom")
		_, err := c.Get("k", func() (string, error) { return "", errBoom })
		assert.Same(t, errBoom, err)
		assert.Equal(t, 0, c.Size())

		second, calls := counting("ok")
		assert.Equal(t, "ok", mustGet(t, c, "k", second))
		assert.Equal(t, int32(1), calls.Load())
	})

	t.Run("FailureDoesNotEvict", func(t *testing.T) {
		c, _ := newCache(t, 1, time.Minute)

		a, _ := counting("a")
		mustGet(t, c, "A", a)

		_, err := c.Get("B", func() (string, error) { return "", stderrors.New("down") })
		require.Error(t, err)
		assert.Equal(t, []string{"A"}, c.Keys())
	})

	t.Run("PanicLeavesCacheUsable", func(t *testing.T) {
		c, _ := newCache(t, 10, time.Minute)

		assert.Panics(t, func() {
			_, _ = c.Get("k", func() (string, error) { panic("compute exploded") })
		})
		assert.Equal(t, 0, c.Size())

		compute, _ := counting("v")
		assert.Equal(t, "v", mustGet(t, c, "k", compute))
	})

	t.Run("NoDuplicateComputation", func(t *testing.T) {
		c, _ := newCache(t, 10, time.Minute)

		var calls atomic.Int32
		compute := func() (string, error) {
			calls.Add(1)
			time.Sleep(20 * time.Millisecond)
			return "shared", nil
		}

		const goroutines = 50
		start := make(chan struct{})
		results := make([]string, goroutines)

		var wg sync.WaitGroup
		wg.Add(goroutines)
		for i := 0; i < goroutines; i++ {
			go func(i int) {
				defer wg.Done()
				<-start
				value, err := c.Get("k", compute)
				assert.NoError(t, err)
				results[i] = value
			}(i)
		}
		close(start)
		wg.Wait()

		assert.Equal(t, int32(1), calls.Load())
		for _, value := range results {
			assert.Equal(t, "shared", value)
		}
		assert.Equal(t, 1, c.Size())
	})

	t.Run("KeysSkipExpired", func(t *testing.T) {
		c, clock := newCache(t, 10, time.Minute)

		old, _ := counting("old")
		mustGet(t, c, "old", old)
		clock.Advance(30 * time.Second)
		fresh, _ := counting("fresh")
		mustGet(t, c, "fresh", fresh)
		clock.Advance(31 * time.Second)

		assert.Equal(t, []string{"fresh"}, c.Keys())
		// Expired entries are only removed lazily.
		assert.Equal(t, 2, c.Size())
	})

	t.Run("Clear", func(t *testing.T) {
		c, _ := newCache(t, 10, time.Minute)

		for _, key := range []string{"a", "b"} {
			compute, _ := counting(key)
			mustGet(t, c, key, compute)
		}
		require.NoError(t, c.Clear())
		assert.Equal(t, 0, c.Size())
		assert.Empty(t, c.Keys())

		compute, calls := counting("a2")
		assert.Equal(t, "a2", mustGet(t, c, "a", compute))
		assert.Equal(t, int32(1), calls.Load())
	})

	t.Run("EvictionCallback", func(t *testing.T) {
		type evicted struct {
			key    string
			value  string
			reason EvictionReason
		}
		var mu sync.Mutex
		var got []evicted

		c, clock := newCache(t, 2, time.Minute, WithEvictionCallback[string, string](func(key, value string, reason EvictionReason) {
			mu.Lock()
			got = append(got, evicted{key, value, reason})
			mu.Unlock()
		}))

		a, _ := counting("a")
		b, _ := counting("b")
		cc, _ := counting("c")
		mustGet(t, c, "A", a)
		mustGet(t, c, "B", b)
		mustGet(t, c, "C", cc)

		clock.Advance(2 * time.Minute)
		b2, _ := counting("b2")
		mustGet(t, c, "B", b2)
		require.NoError(t, c.Clear())

		mu.Lock()
		defer mu.Unlock()
		assert.Equal(t, []evicted{
			{"A", "a", EvictedCapacity},
			{"B", "b", EvictedExpired},
			{"C", "c", EvictedCleared},
			{"B", "b2", EvictedCleared},
		}, got)
	})

	t.Run("CallbackMayUseCache", func(t *testing.T) {
		var c Cache[string, string]
		var sizes []int
		c, _ = newCache(t, 1, time.Minute, WithEvictionCallback[string, string](func(string, string, EvictionReason) {
			// Deadlocks if callbacks ran under the cache lock.
			sizes = append(sizes, c.Size())
		}))

		a, _ := counting("a")
		b, _ := counting("b")
		mustGet(t, c, "A", a)
		mustGet(t, c, "B", b)
		assert.Equal(t, []int{1}, sizes)
	})

	t.Run("Statistics", func(t *testing.T) {
		c, _ := newCache(t, 1, time.Minute)

		a, _ := counting("a")
		b, _ := counting("b")
		mustGet(t, c, "A", a)
		mustGet(t, c, "A", a)
		mustGet(t, c, "B", b)
		_, _ = c.Get("C", func() (string, error) { return "", stderrors.New("fail") })

		stats := c.Stats()
		require.NotNil(t, stats)
		assert.Equal(t, int64(1), stats.Hits())
		assert.Equal(t, int64(3), stats.Misses())
		assert.Equal(t, int64(2), stats.Computations())
		assert.Equal(t, int64(1), stats.ComputeErrors())
		assert.Equal(t, int64(1), stats.Evictions())
		assert.Equal(t, int64(1), stats.CurrentSize())
		assert.InDelta(t, 0.25, stats.HitRatio(), 0.0001)
	})
}

func TestBoundedStrategies(t *testing.T) {
	for name, create := range strategies {
		t.Run(name, func(t *testing.T) {
			testSuite(t, create)
		})
	}
}

func TestInvalidBounds(t *testing.T) {
	for name, create := range strategies {
		t.Run(name, func(t *testing.T) {
			_, err := create(0, time.Minute)
			require.Error(t, err)
			assert.True(t, errors.IsInvalid(err))
			assert.ErrorIs(t, err, errors.ErrInvalidConfig)

			_, err = create(10, 0)
			require.Error(t, err)
			assert.True(t, errors.IsInvalid(err))

			_, err = create(-1, -time.Second)
			require.Error(t, err)
		})
	}
}

func TestSerializedRunsOneComputationAtATime(t *testing.T) {
	c, err := New[string, string](100, time.Minute)
	require.NoError(t, err)

	var running, peak atomic.Int32
	compute := func() (string, error) {
		n := running.Add(1)
		for {
			p := peak.Load()
			if n <= p || peak.CompareAndSwap(p, n) {
				break
			}
		}
		time.Sleep(2 * time.Millisecond)
		running.Add(-1)
		return "v", nil
	}

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, _ = c.Get(fmt.Sprintf("k%d", i), compute)
		}(i)
	}
	wg.Wait()

	assert.Equal(t, int32(1), peak.Load())
	assert.Equal(t, 20, c.Size())
}

func TestSingleflightComputesDistinctKeysInParallel(t *testing.T) {
	c, err := NewSingleflight[string, string](10, time.Minute)
	require.NoError(t, err)

	// Each computation waits for the other to start, which only works if they overlap.
	var started sync.WaitGroup
	started.Add(2)
	compute := func(value string) ComputeFunc[string] {
		return func() (string, error) {
			started.Done()
			started.Wait()
			return value, nil
		}
	}

	done := make(chan struct{})
	go func() {
		defer close(done)
		var wg sync.WaitGroup
		for _, key := range []string{"a", "b"} {
			wg.Add(1)
			go func(key string) {
				defer wg.Done()
				value, err := c.Get(key, compute(key))
				assert.NoError(t, err)
				assert.Equal(t, key, value)
			}(key)
		}
		wg.Wait()
	}()

	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("computations for distinct keys did not overlap")
	}
	assert.Equal(t, 2, c.Size())
}

func TestSingleflightSharesFailure(t *testing.T) {
	c, err := NewSingleflight[string, string](10, time.Minute)
	require.NoError(t, err)

	errDown := stderrors.New("database down")
	release := make(chan struct{})
	var calls atomic.Int32
	compute := func() (string, error) {
		calls.Add(1)
		<-release
		return "", errDown
	}

	const goroutines = 10
	errs := make(chan error, goroutines)
	for i := 0; i < goroutines; i++ {
		go func() {
			_, err := c.Get("k", compute)
			errs <- err
		}()
	}

	// Let the callers pile up on the flight before failing it.
	time.Sleep(50 * time.Millisecond)
	close(release)

	for i := 0; i < goroutines; i++ {
		assert.ErrorIs(t, <-errs, errDown)
	}
	assert.LessOrEqual(t, calls.Load(), int32(goroutines))
	assert.Equal(t, 0, c.Size())
}

func TestSingleflightNilInterfaceValue(t *testing.T) {
	c, err := NewSingleflight[string, any](10, time.Minute)
	require.NoError(t, err)

	value, err := c.Get("k", func() (any, error) { return nil, nil })
	require.NoError(t, err)
	assert.Nil(t, value)
	assert.Equal(t, 1, c.Size())
}

func TestFlightKey(t *testing.T) {
	assert.Equal(t, "abc", flightKey("abc"))
	assert.Equal(t, "int/42", flightKey(42))
	assert.NotEqual(t, flightKey[any](1), flightKey[any]("1"))
	assert.NotEqual(t, flightKey[any](int32(1)), flightKey[any](int64(1)))

	type pair struct{ a, b string }
	assert.Equal(t, flightKey(pair{"x", "y"}), flightKey(pair{"x", "y"}))
	assert.NotEqual(t, flightKey(pair{"x", "y"}), flightKey(pair{"y", "x"}))
}

func TestPassthrough(t *testing.T) {
	c := NewPassthrough[string, string]()

	compute, calls := counting("v")
	for i := 0; i < 3; i++ {
		value, err := c.Get("k", compute)
		require.NoError(t, err)
		assert.Equal(t, "v", value)
		assert.Equal(t, 0, c.Size())
	}
	assert.Equal(t, int32(3), calls.Load())

	errBoom := stderrors.New("boom")
	_, err := c.Get("k", func() (string, error) { return "", errBoom })
	assert.Same(t, errBoom, err)

	assert.Nil(t, c.Keys())
	assert.Nil(t, c.Stats())
	assert.NoError(t, c.Clear())
	assert.NoError(t, c.Close())
}

func TestCleanupInterval(t *testing.T) {
	for name, create := range strategies {
		t.Run(name, func(t *testing.T) {
			clock := newFakeClock()
			var expired atomic.Int32

			c, err := create(10, time.Minute,
				WithClock[string, string](clock.Now),
				WithCleanupInterval[string, string](context.Background(), 5*time.Millisecond),
				WithEvictionCallback[string, string](func(_, _ string, reason EvictionReason) {
					if reason == EvictedExpired {
						expired.Add(1)
					}
				}),
			)
			require.NoError(t, err)
			defer c.Close()

			for _, key := range []string{"a", "b", "c"} {
				compute, _ := counting(key)
				mustGet(t, c, key, compute)
			}

			clock.Advance(2 * time.Minute)

			assert.Eventually(t, func() bool { return c.Size() == 0 }, 2*time.Second, 5*time.Millisecond)
			assert.Equal(t, int32(3), expired.Load())
			assert.Equal(t, int64(3), c.Stats().Expirations())
		})
	}
}

func TestCleanupStopsWithContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	c, err := newBoundedCache(10, time.Minute, applyOptions(
		WithCleanupInterval[string, string](ctx, time.Millisecond),
	))
	require.NoError(t, err)
	require.NotNil(t, c.sweeper)

	cancel()

	select {
	case <-c.sweeper.done:
	case <-time.After(2 * time.Second):
		t.Fatal("sweeper did not stop after context cancellation")
	}
	assert.NoError(t, c.Close())
	assert.NoError(t, c.Close())
}

func TestCloseWithoutSweeper(t *testing.T) {
	c, err := New[string, string](10, time.Minute)
	require.NoError(t, err)
	assert.NoError(t, c.Close())

	// The cache stays usable after Close.
	compute, _ := counting("v")
	assert.Equal(t, "v", mustGet(t, c, "k", compute))
}

func TestEvictionReasonString(t *testing.T) {
	assert.Equal(t, "capacity", EvictedCapacity.String())
	assert.Equal(t, "expired", EvictedExpired.String())
	assert.Equal(t, "cleared", EvictedCleared.String())
	assert.Equal(t, "unknown", EvictionReason(99).String())
}

func TestConcurrentMixedKeys(t *testing.T) {
	for name, create := range strategies {
		t.Run(name, func(t *testing.T) {
			c, err := create(16, 50*time.Millisecond)
			require.NoError(t, err)

			var wg sync.WaitGroup
			for g := 0; g < 8; g++ {
				wg.Add(1)
				go func(g int) {
					defer wg.Done()
					for i := 0; i < 200; i++ {
						key := fmt.Sprintf("k%d", (g*7+i)%40)
						value, err := c.Get(key, func() (string, error) { return "v-" + key, nil })
						assert.NoError(t, err)
						assert.Equal(t, "v-"+key, value)
						assert.LessOrEqual(t, c.Size(), 16)
					}
				}(g)
			}
			wg.Wait()
			assert.LessOrEqual(t, c.Size(), 16)
		})
	}
}
