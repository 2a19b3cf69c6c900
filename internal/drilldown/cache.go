package drilldown

import (
	"context"
	"sync"
)

// stepCache memoizes drill-down step results for one session. Concurrent
// requests for the same key collapse onto a single fill call; the losers wait
// for the winner and read the cached value, so a step executes at most once
// per session regardless of duplicate or racing requests.
type stepCache struct {
	mu       sync.Mutex
	entries  map[string]any
	inflight map[string]chan struct{}
}

func newStepCache() *stepCache {
	return &stepCache{
		entries:  make(map[string]any),
		inflight: make(map[string]chan struct{}),
	}
}

// fetch returns the cached value for key, filling it with fill on a miss.
// The second return reports whether the value came from cache. Fill errors
// are not cached, so a failed step can be retried.
func (c *stepCache) fetch(ctx context.Context, key string, fill func(context.Context) (any, error)) (any, bool, error) {
	for {
		c.mu.Lock()
		if v, ok := c.entries[key]; ok {
			c.mu.Unlock()
			return v, true, nil
		}
		if ch, ok := c.inflight[key]; ok {
			c.mu.Unlock()
			select {
			case <-ch:
			case <-ctx.Done():
				return nil, false, ctx.Err()
			}
			continue
		}
		ch := make(chan struct{})
		c.inflight[key] = ch
		c.mu.Unlock()

		v, err := fill(ctx)

		c.mu.Lock()
		delete(c.inflight, key)
		if err == nil {
			c.entries[key] = v
		}
		c.mu.Unlock()
		close(ch)

		if err != nil {
			return nil, false, err
		}
		return v, false, nil
	}
}
