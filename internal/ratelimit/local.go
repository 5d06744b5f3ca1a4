package ratelimit

import (
	"context"
	"hash/fnv"
	"sync"
	"time"
)

const localShards = 32

type window struct {
	count   int64
	expires time.Time
}

type localShard struct {
	mu      sync.Mutex
	windows map[string]*window
}

// LocalCounter keeps fixed windows in a sharded in-process map. State is
// per instance and lost on restart.
type LocalCounter struct {
	shards [localShards]localShard
	now    func() time.Time
}

// NewLocalCounter creates an empty in-memory counter.
func NewLocalCounter() *LocalCounter {
	c := &LocalCounter{now: time.Now}
	for i := range c.shards {
		c.shards[i].windows = make(map[string]*window)
	}
	return c
}

func (c *LocalCounter) shardFor(key string) *localShard {
	h := fnv.New32a()
	h.Write([]byte(key))
	return &c.shards[h.Sum32()%localShards]
}

// Increment implements Counter. A window starts on the first request for a
// key and resets once the current time is past its expiry.
func (c *LocalCounter) Increment(_ context.Context, key string, win time.Duration) (int64, time.Duration, error) {
	now := c.now()
	s := c.shardFor(key)

	s.mu.Lock()
	defer s.mu.Unlock()
	w, ok := s.windows[key]
	if !ok || now.After(w.expires) {
		w = &window{expires: now.Add(win)}
		s.windows[key] = w
	}
	w.count++
	return w.count, w.expires.Sub(now), nil
}

// Sweep drops expired windows and returns how many were removed.
func (c *LocalCounter) Sweep() int {
	now := c.now()
	removed := 0
	for i := range c.shards {
		s := &c.shards[i]
		s.mu.Lock()
		for k, w := range s.windows {
			if now.After(w.expires) {
				delete(s.windows, k)
				removed++
			}
		}
		s.mu.Unlock()
	}
	return removed
}

// Run calls Sweep every interval until ctx is done.
func (c *LocalCounter) Run(ctx context.Context, interval time.Duration) error {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			c.Sweep()
		}
	}
}
