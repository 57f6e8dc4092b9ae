// Package cache holds answers to previously seen queries so identical
// questions do not reach the answer provider twice.
package cache

import (
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"
)

const (
	DefaultMaxEntries = 1024
	DefaultTTL        = 24 * time.Hour
)

// Options bounds the cache. A zero TTL disables age-based expiry.
type Options struct {
	MaxEntries int
	TTL        time.Duration
	// OnEvict is called for every entry dropped by size, age or a purge.
	OnEvict func(query string)
}

// ResponseCache maps exact query text to answer text. Keys are not
// normalized: "Hello" and "hello " are different entries.
type ResponseCache struct {
	lru *expirable.LRU[string, string]
}

func New(opts Options) *ResponseCache {
	size := opts.MaxEntries
	if size <= 0 {
		size = DefaultMaxEntries
	}
	var onEvict expirable.EvictCallback[string, string]
	if opts.OnEvict != nil {
		onEvict = func(key, _ string) { opts.OnEvict(key) }
	}
	// expirable treats ttl <= 0 as "never expire".
	return &ResponseCache{lru: expirable.NewLRU[string, string](size, onEvict, opts.TTL)}
}

// Get returns the cached answer for query, if present and not expired.
func (c *ResponseCache) Get(query string) (string, bool) {
	return c.lru.Get(query)
}

// Put stores answer under query, replacing any previous value.
func (c *ResponseCache) Put(query, answer string) {
	c.lru.Add(query, answer)
}

func (c *ResponseCache) Len() int { return c.lru.Len() }

// Purge drops every entry.
func (c *ResponseCache) Purge() { c.lru.Purge() }
