// Package cache provides a bounded LRU cache of compiled rule expressions.
package cache

import (
	"sync"

	"github.com/golang/groupcache/lru"

	"mercator-hq/rules/pkg/dsl/evaluator"
	"mercator-hq/rules/pkg/dsl/parser"
)

// DefaultCapacity is the default number of cached expressions.
const DefaultCapacity = 10000

// Stats is a point-in-time view of cache counters.
type Stats struct {
	Hits      uint64 `json:"hits"`
	Misses    uint64 `json:"misses"`
	Parses    uint64 `json:"parses"`
	Evictions uint64 `json:"evictions"`
	Len       int    `json:"len"`
	Capacity  int    `json:"capacity"`
}

// HitRate returns hits / (hits + misses), or 0 when there were no lookups.
func (s Stats) HitRate() float64 {
	total := s.Hits + s.Misses
	if total == 0 {
		return 0
	}
	return float64(s.Hits) / float64(total)
}

// entry holds either a compiled program or the terminal compile error for
// a source text. Compile errors are deterministic, so they are cached too.
type entry struct {
	program *evaluator.Program
	err     error
}

// Cache maps expression source text to compiled programs.
type Cache struct {
	// lru is nil when caching is disabled (capacity 0)
	lru *lru.Cache

	// capacity is the maximum number of entries
	capacity int

	// parser compiles misses
	parser *parser.Parser

	// mu guards lru and the counters
	mu sync.Mutex

	hits      uint64
	misses    uint64
	parses    uint64
	evictions uint64

	// purging suppresses eviction counting while Purge clears the list
	purging bool

	// observer receives counter deltas, may be nil
	observer Observer
}

// Observer is notified of cache events. It is used to export metrics.
type Observer interface {
	CacheHit()
	CacheMiss()
	CacheEviction()
}

// New creates a cache holding at most capacity programs. A capacity of
// zero disables caching: every Compile parses.
func New(capacity int) *Cache {
	if capacity < 0 {
		capacity = 0
	}
	c := &Cache{
		capacity: capacity,
		parser:   parser.NewParser(),
	}
	if capacity > 0 {
		c.lru = lru.New(capacity)
		c.lru.OnEvicted = func(lru.Key, interface{}) {
			if c.purging {
				return
			}
			c.evictions++
			if c.observer != nil {
				c.observer.CacheEviction()
			}
		}
	}
	return c
}

// WithParser sets the parser used for misses.
func (c *Cache) WithParser(p *parser.Parser) *Cache {
	c.parser = p
	return c
}

// WithObserver registers an observer for hit, miss and eviction events.
func (c *Cache) WithObserver(o Observer) *Cache {
	c.observer = o
	return c
}

// Compile returns the compiled program for src, parsing it on a miss.
// A miss performs exactly one parse; its outcome (program or error) is
// cached under src.
func (c *Cache) Compile(src string) (*evaluator.Program, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.lru != nil {
		if v, ok := c.lru.Get(src); ok {
			c.hits++
			if c.observer != nil {
				c.observer.CacheHit()
			}
			e := v.(*entry)
			return e.program, e.err
		}
	}

	c.misses++
	c.parses++
	if c.observer != nil {
		c.observer.CacheMiss()
	}

	prog, err := evaluator.CompileWith(c.parser, src)
	if c.lru != nil {
		c.lru.Add(src, &entry{program: prog, err: err})
	}
	return prog, err
}

// Purge removes every entry. Counters are preserved.
func (c *Cache) Purge() {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.lru == nil {
		return
	}
	c.purging = true
	c.lru.Clear()
	c.purging = false
}

// Len returns the number of cached entries.
func (c *Cache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.lru == nil {
		return 0
	}
	return c.lru.Len()
}

// Stats returns the current counters.
func (c *Cache) Stats() Stats {
	c.mu.Lock()
	defer c.mu.Unlock()

	n := 0
	if c.lru != nil {
		n = c.lru.Len()
	}
	return Stats{
		Hits:      c.hits,
		Misses:    c.misses,
		Parses:    c.parses,
		Evictions: c.evictions,
		Len:       n,
		Capacity:  c.capacity,
	}
}
