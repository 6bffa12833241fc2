package service

import (
	"sync"
	"time"
)

// dedup remembers keys for a TTL so one-off side effects such as alerts fire
// once per key. It is safe for concurrent use.
type dedup struct {
	mu   sync.Mutex
	seen map[string]time.Time
	ttl  time.Duration
	now  func() time.Time
}

func newDedup(ttl time.Duration) *dedup {
	return &dedup{
		seen: make(map[string]time.Time),
		ttl:  ttl,
		now:  time.Now,
	}
}

// firstSeen records key and reports whether it was new within the TTL.
func (d *dedup) firstSeen(key string) bool {
	d.mu.Lock()
	defer d.mu.Unlock()

	now := d.now()
	if at, ok := d.seen[key]; ok && now.Sub(at) < d.ttl {
		return false
	}
	d.seen[key] = now
	if len(d.seen) > 1024 {
		d.sweepLocked(now)
	}
	return true
}

func (d *dedup) sweepLocked(now time.Time) {
	for k, at := range d.seen {
		if now.Sub(at) >= d.ttl {
			delete(d.seen, k)
		}
	}
}
