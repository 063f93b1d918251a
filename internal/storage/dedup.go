package storage

import (
	"strings"
	"sync"
	"time"
)

// dedupMap is the in-process dedup table shared by the memory and file drivers.
type dedupMap struct {
	mu sync.Mutex
	m  map[string]int64 // unix milli
}

func newDedupMap() *dedupMap { return &dedupMap{m: map[string]int64{}} }

func (d *dedupMap) put(key string, until time.Time) bool {
	key = strings.TrimSpace(key)
	if key == "" {
		return false
	}
	d.mu.Lock()
	d.m[key] = until.UnixMilli()
	d.mu.Unlock()
	return true
}

func (d *dedupMap) get(key string) (time.Time, bool) {
	key = strings.TrimSpace(key)
	if key == "" {
		return time.Time{}, false
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	ms, ok := d.m[key]
	if !ok {
		return time.Time{}, false
	}
	return time.UnixMilli(ms), true
}

// prune drops expired keys and returns a copy of what is left.
func (d *dedupMap) prune(now time.Time) map[string]int64 {
	cut := now.UnixMilli()
	d.mu.Lock()
	defer d.mu.Unlock()
	out := make(map[string]int64, len(d.m))
	for k, v := range d.m {
		if v < cut {
			delete(d.m, k)
			continue
		}
		out[k] = v
	}
	return out
}
