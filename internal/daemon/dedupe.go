package daemon

import (
	"container/list"
	"strings"
	"sync"
)

// DedupeLRU is a bounded in-memory set of recently seen hook-event keys,
// preventing double counting when an agent retries hook delivery. Memory
// only; nothing is persisted.
type DedupeLRU struct {
	mu    sync.Mutex
	cap   int
	order *list.List
	keys  map[string]*list.Element
}

// NewDedupeLRU builds an LRU bounded at capacity entries.
func NewDedupeLRU(capacity int) *DedupeLRU {
	if capacity <= 0 {
		capacity = 256
	}
	return &DedupeLRU{
		cap:   capacity,
		order: list.New(),
		keys:  make(map[string]*list.Element),
	}
}

// Key joins event identity parts into one dedupe key.
func (d *DedupeLRU) Key(parts ...string) string {
	return strings.Join(parts, "|")
}

// Seen records key and reports whether it was already present. A repeat
// observation refreshes the entry's recency.
func (d *DedupeLRU) Seen(key string) bool {
	d.mu.Lock()
	defer d.mu.Unlock()

	if el, ok := d.keys[key]; ok {
		d.order.MoveToFront(el)
		return true
	}

	el := d.order.PushFront(key)
	d.keys[key] = el
	for d.order.Len() > d.cap {
		oldest := d.order.Back()
		d.order.Remove(oldest)
		delete(d.keys, oldest.Value.(string))
	}
	return false
}

// Len reports the current entry count.
func (d *DedupeLRU) Len() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.order.Len()
}
