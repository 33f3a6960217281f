package xfer

import (
	"path"
	"strings"
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"
)

// listingCache keeps recent full listings keyed by absolute directory. All
// methods are no-ops on a nil cache.
type listingCache struct {
	lru *expirable.LRU[string, []DirectoryEntry]
}

func newListingCache(size int, ttl time.Duration) *listingCache {
	return &listingCache{
		lru: expirable.NewLRU[string, []DirectoryEntry](size, nil, ttl),
	}
}

func (c *listingCache) put(dir string, entries []DirectoryEntry) {
	if c == nil {
		return
	}
	c.lru.Add(dir, entries)
}

// exists answers from the cached listing of p's parent. ok is false when
// that listing is not cached.
func (c *listingCache) exists(p string) (found, ok bool) {
	if c == nil || p == "/" {
		return false, false
	}
	entries, ok := c.lru.Get(path.Dir(p))
	if !ok {
		return false, false
	}
	name := path.Base(p)
	for _, e := range entries {
		if e.Name == name {
			return true, true
		}
	}
	return false, true
}

// invalidate drops the listings a mutation of each path can change: the
// parent directory, the path itself and everything below it.
func (c *listingCache) invalidate(paths ...string) {
	if c == nil {
		return
	}
	for _, p := range paths {
		c.lru.Remove(path.Dir(p))
		c.lru.Remove(p)

		prefix := strings.TrimSuffix(p, "/") + "/"
		for _, k := range c.lru.Keys() {
			if strings.HasPrefix(k, prefix) {
				c.lru.Remove(k)
			}
		}
	}
}

func (c *listingCache) purge() {
	if c == nil {
		return
	}
	c.lru.Purge()
}
