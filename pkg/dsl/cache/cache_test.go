package cache

import (
	"errors"
	"sync"
	"testing"

	dslerrors "mercator-hq/rules/pkg/dsl/errors"
	"mercator-hq/rules/pkg/dsl/evaluator"
)

func TestCache_RepeatedEvaluationParsesOnce(t *testing.T) {
	c := New(DefaultCapacity)
	vars := evaluator.MustVars(map[string]any{"amount": 5000})

	for i := 0; i < 1000; i++ {
		prog, err := c.Compile("amount > 1000")
		if err != nil {
			t.Fatalf("Compile() #%d error = %v", i, err)
		}
		ok, err := prog.EvalBool(vars)
		if err != nil || !ok {
			t.Fatalf("EvalBool() #%d = %v, %v, want true, nil", i, ok, err)
		}
	}

	stats := c.Stats()
	if stats.Parses != 1 {
		t.Errorf("Parses = %d, want 1", stats.Parses)
	}
	if stats.Hits != 999 {
		t.Errorf("Hits = %d, want 999", stats.Hits)
	}
	if stats.Misses != 1 {
		t.Errorf("Misses = %d, want 1", stats.Misses)
	}

	c.Purge()
	if c.Len() != 0 {
		t.Fatalf("Len() after Purge = %d, want 0", c.Len())
	}

	prog, err := c.Compile("amount > 1000")
	if err != nil {
		t.Fatalf("Compile() after Purge error = %v", err)
	}
	if ok, err := prog.EvalBool(vars); err != nil || !ok {
		t.Fatalf("EvalBool() after Purge = %v, %v, want true, nil", ok, err)
	}
	stats = c.Stats()
	if stats.Parses != 2 {
		t.Errorf("Parses after Purge = %d, want 2", stats.Parses)
	}
	if stats.Evictions != 0 {
		t.Errorf("Evictions = %d, want 0 (purge is not eviction)", stats.Evictions)
	}
}

func TestCache_EvictsLeastRecentlyUsed(t *testing.T) {
	c := New(2)

	mustCompile(t, c, "a > 1")
	mustCompile(t, c, "b > 1")
	mustCompile(t, c, "a > 1") // a is now most recent
	mustCompile(t, c, "c > 1") // evicts b

	if got := c.Stats(); got.Evictions != 1 || got.Len != 2 {
		t.Fatalf("Stats() = %+v, want 1 eviction and 2 entries", got)
	}

	before := c.Stats().Parses
	mustCompile(t, c, "a > 1")
	if c.Stats().Parses != before {
		t.Error("a > 1 was re-parsed, want cache hit")
	}
	mustCompile(t, c, "b > 1")
	if c.Stats().Parses != before+1 {
		t.Error("b > 1 was not re-parsed, want miss after eviction")
	}
}

func TestCache_CachesCompileErrors(t *testing.T) {
	c := New(10)

	for i := 0; i < 3; i++ {
		_, err := c.Compile("__import__('os')")
		var unsafe *dslerrors.UnsafeExpressionError
		if !errors.As(err, &unsafe) {
			t.Fatalf("Compile() error = %v, want UnsafeExpressionError", err)
		}
	}
	if got := c.Stats().Parses; got != 1 {
		t.Errorf("Parses = %d, want 1", got)
	}
}

func TestCache_ZeroCapacityDisablesCaching(t *testing.T) {
	c := New(0)
	for i := 0; i < 5; i++ {
		mustCompile(t, c, "amount > 1")
	}
	stats := c.Stats()
	if stats.Parses != 5 || stats.Hits != 0 || stats.Len != 0 {
		t.Errorf("Stats() = %+v, want 5 parses, 0 hits, 0 entries", stats)
	}
}

type countingObserver struct {
	mu                      sync.Mutex
	hits, misses, evictions int
}

func (o *countingObserver) CacheHit()      { o.mu.Lock(); o.hits++; o.mu.Unlock() }
func (o *countingObserver) CacheMiss()     { o.mu.Lock(); o.misses++; o.mu.Unlock() }
func (o *countingObserver) CacheEviction() { o.mu.Lock(); o.evictions++; o.mu.Unlock() }

func TestCache_ConcurrentCompile(t *testing.T) {
	obs := &countingObserver{}
	c := New(100).WithObserver(obs)
	exprs := []string{"a > 1", "b < 2", "c == 'x'", "d in [1, 2]"}

	var wg sync.WaitGroup
	for g := 0; g < 8; g++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := 0; i < 200; i++ {
				if _, err := c.Compile(exprs[i%len(exprs)]); err != nil {
					t.Errorf("Compile() error = %v", err)
					return
				}
			}
		}()
	}
	wg.Wait()

	stats := c.Stats()
	if stats.Parses != uint64(len(exprs)) {
		t.Errorf("Parses = %d, want %d", stats.Parses, len(exprs))
	}
	if stats.Hits+stats.Misses != 8*200 {
		t.Errorf("Hits+Misses = %d, want %d", stats.Hits+stats.Misses, 8*200)
	}
	if obs.hits != int(stats.Hits) || obs.misses != int(stats.Misses) {
		t.Errorf("observer = %d/%d, want %d/%d", obs.hits, obs.misses, stats.Hits, stats.Misses)
	}
}

func mustCompile(t *testing.T, c *Cache, src string) *evaluator.Program {
	t.Helper()
	prog, err := c.Compile(src)
	if err != nil {
		t.Fatalf("Compile(%q) error = %v", src, err)
	}
	return prog
}
