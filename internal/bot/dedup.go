package bot

import (
	"sync"
	"time"
)

// Deduper remembers recently seen update ids so that redelivered updates
// (webhook retries, poller restarts) are handled once.
type Deduper struct {
	ttl time.Duration
	now func() time.Time

	mu   sync.Mutex
	seen map[int]time.Time
	ops  int
}

// NewDeduper remembers ids for ttl.
func NewDeduper(ttl time.Duration) *Deduper {
	return &Deduper{ttl: ttl, now: time.Now, seen: make(map[int]time.Time)}
}

// Seen marks id and reports whether it was already marked within ttl. A nil
// Deduper and the zero id never report duplicates.
func (d *Deduper) Seen(id int) bool {
	if d == nil || id == 0 {
		return false
	}
	now := d.now()

	d.mu.Lock()
	defer d.mu.Unlock()

	d.ops++
	if d.ops >= 1024 {
		d.sweep(now)
		d.ops = 0
	}
	if at, ok := d.seen[id]; ok && now.Sub(at) < d.ttl {
		return true
	}
	d.seen[id] = now
	return false
}

// Len returns the number of remembered ids.
func (d *Deduper) Len() int {
	if d == nil {
		return 0
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.seen)
}

func (d *Deduper) sweep(now time.Time) {
	for id, at := range d.seen {
		if now.Sub(at) >= d.ttl {
			delete(d.seen, id)
		}
	}
}
