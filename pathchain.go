package xfer

import "sync"

// pathChain orders mutations per remote path. Each path maps to the done
// channel of the last mutation admitted for it; a new mutation waits for
// the channels it replaces. Unrelated paths never wait on each other.
type pathChain struct {
	mu    sync.Mutex
	tails map[string]chan struct{}
}

func newPathChain() *pathChain {
	return &pathChain{tails: make(map[string]chan struct{})}
}

var closedChan = func() chan struct{} {
	ch := make(chan struct{})
	close(ch)
	return ch
}()

// acquire admits a mutation of keys. ready is closed once every earlier
// mutation of any of the keys has called its release. release must be
// called exactly once, after the mutation settles.
//
// All keys are taken in one critical section, so two mutations sharing
// several keys are always ordered the same way on each of them.
func (c *pathChain) acquire(keys []string) (ready <-chan struct{}, release func()) {
	if len(keys) == 0 {
		return closedChan, func() {}
	}

	mine := make(chan struct{})
	var waits []chan struct{}
	owned := make([]string, 0, len(keys))

	c.mu.Lock()
	for _, k := range keys {
		if contains(owned, k) {
			continue
		}
		if prev, ok := c.tails[k]; ok {
			waits = append(waits, prev)
		}
		c.tails[k] = mine
		owned = append(owned, k)
	}
	c.mu.Unlock()

	release = func() {
		close(mine)
		c.mu.Lock()
		for _, k := range owned {
			if c.tails[k] == mine {
				delete(c.tails, k)
			}
		}
		c.mu.Unlock()
	}

	if len(waits) == 0 {
		return closedChan, release
	}

	ch := make(chan struct{})
	go func() {
		for _, w := range waits {
			<-w
		}
		close(ch)
	}()
	return ch, release
}

func contains(list []string, s string) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}
