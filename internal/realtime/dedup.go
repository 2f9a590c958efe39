package realtime

import (
	"container/list"
	"sync"
)

// Dedup is a bounded LRU keyed by string. Seen tracks exact deliveries;
// Repeat tracks the last value per slot so a state that changes and then
// changes back is still delivered.
type Dedup struct {
	mu    sync.Mutex
	max   int
	order *list.List
	seen  map[string]*list.Element
}

type dedupEntry struct {
	key string
	val string
}

func NewDedup(max int) *Dedup {
	if max <= 0 {
		max = 4096
	}
	return &Dedup{max: max, order: list.New(), seen: make(map[string]*list.Element)}
}

// Seen records key and reports whether it had been recorded before.
func (d *Dedup) Seen(key string) bool {
	return d.Repeat(key, "")
}

// Repeat records val as the latest value of slot and reports whether it
// equals the value recorded just before.
func (d *Dedup) Repeat(slot, val string) bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	if el, ok := d.seen[slot]; ok {
		d.order.MoveToFront(el)
		e := el.Value.(*dedupEntry)
		same := e.val == val
		e.val = val
		return same
	}
	d.seen[slot] = d.order.PushFront(&dedupEntry{key: slot, val: val})
	if d.order.Len() > d.max {
		old := d.order.Back()
		d.order.Remove(old)
		delete(d.seen, old.Value.(*dedupEntry).key)
	}
	return false
}
