// Package cache stores executed query results under keys of the form
// "<table version>;<query fingerprint>".
//
// Entries never expire on their own. When a table's version changes the
// old keys are simply no longer asked for; the bounded implementations
// evict them eventually.
package cache

import (
	"context"
	"sync"

	lru "github.com/hashicorp/golang-lru"

	"github.com/roach88/aggql/internal/queryir"
)

// Cache is safe for concurrent use. Results handed to Put and returned
// from Get are shared and must not be modified.
type Cache interface {
	Get(ctx context.Context, key string) (*queryir.Result, bool, error)
	Put(ctx context.Context, key string, result *queryir.Result) error
}

// Map is an unbounded in-memory cache.
type Map struct {
	m sync.Map
}

// NewMap creates an empty Map.
func NewMap() *Map { return &Map{} }

func (c *Map) Get(_ context.Context, key string) (*queryir.Result, bool, error) {
	v, ok := c.m.Load(key)
	if !ok {
		return nil, false, nil
	}
	return v.(*queryir.Result), true, nil
}

func (c *Map) Put(_ context.Context, key string, result *queryir.Result) error {
	c.m.Store(key, result)
	return nil
}

// LRU is a size-bounded in-memory cache.
type LRU struct {
	cache *lru.Cache
}

// NewLRU creates an LRU holding at most size results.
func NewLRU(size int) (*LRU, error) {
	c, err := lru.New(size)
	if err != nil {
		return nil, err
	}
	return &LRU{cache: c}, nil
}

func (c *LRU) Get(_ context.Context, key string) (*queryir.Result, bool, error) {
	v, ok := c.cache.Get(key)
	if !ok {
		return nil, false, nil
	}
	return v.(*queryir.Result), true, nil
}

func (c *LRU) Put(_ context.Context, key string, result *queryir.Result) error {
	c.cache.Add(key, result)
	return nil
}

// Len reports the number of cached results.
func (c *LRU) Len() int { return c.cache.Len() }
