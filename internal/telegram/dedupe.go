package telegram

import (
	"sync"
	"time"
)

// updateDedupe remembers recently seen message keys. Telegram redelivers an update
// when the previous getUpdates offset was never confirmed, e.g. after a crash.
type updateDedupe struct {
	ttl time.Duration
	now func() time.Time

	mu      sync.Mutex
	entries map[string]time.Time

	startOnce sync.Once
	stopOnce  sync.Once
	stopCh    chan struct{}
}

func newUpdateDedupe(ttl time.Duration) *updateDedupe {
	if ttl <= 0 {
		ttl = 5 * time.Minute
	}
	return &updateDedupe{
		ttl:     ttl,
		now:     time.Now,
		entries: make(map[string]time.Time),
		stopCh:  make(chan struct{}),
	}
}

// Seen reports whether key was marked within the TTL, and marks it otherwise
func (d *updateDedupe) Seen(key string) bool {
	now := d.now()

	d.mu.Lock()
	defer d.mu.Unlock()

	if ts, ok := d.entries[key]; ok && now.Sub(ts) <= d.ttl {
		return true
	}
	d.entries[key] = now
	return false
}

func (d *updateDedupe) Len() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.entries)
}

// Start runs periodic cleanup until Stop
func (d *updateDedupe) Start() {
	d.startOnce.Do(func() {
		interval := d.ttl / 2
		if interval <= 0 {
			interval = time.Second
		}
		if interval > 30*time.Second {
			interval = 30 * time.Second
		}

		ticker := time.NewTicker(interval)
		go func() {
			defer ticker.Stop()
			for {
				select {
				case <-ticker.C:
					d.cleanupExpired()
				case <-d.stopCh:
					return
				}
			}
		}()
	})
}

func (d *updateDedupe) Stop() {
	d.stopOnce.Do(func() {
		close(d.stopCh)
	})
}

func (d *updateDedupe) cleanupExpired() {
	now := d.now()

	d.mu.Lock()
	for key, ts := range d.entries {
		if now.Sub(ts) > d.ttl {
			delete(d.entries, key)
		}
	}
	d.mu.Unlock()
}
