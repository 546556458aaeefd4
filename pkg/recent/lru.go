package recent

import (
	"container/list"
	"sync"
	"time"
)

type lruTracker struct {
	mu         sync.Mutex
	maxEntries int
	ttl        time.Duration
	// order is the LRU list of *Entry (front = most recently marked)
	order *list.List
	// elements maps id -> *list.Element for O(1) lookup
	elements map[string]*list.Element

	now func() time.Time
}

// NewTracker returns a Tracker that retains at most maxEntries conclusions,
// each for at most ttl.
func NewTracker(maxEntries int, ttl time.Duration) Tracker {
	return &lruTracker{
		maxEntries: maxEntries,
		ttl:        ttl,
		order:      list.New(),
		elements:   make(map[string]*list.Element),
		now:        time.Now,
	}
}

func (t *lruTracker) Mark(id, outcome string) {
	now := t.now()

	t.mu.Lock()
	defer t.mu.Unlock()

	if elem, ok := t.elements[id]; ok {
		e := elem.Value.(*Entry)
		e.Outcome = outcome
		e.RecordedAt = now
		e.ExpiresAt = now.Add(t.ttl)
		t.order.MoveToFront(elem)
		return
	}

	entry := &Entry{
		ID:         id,
		Outcome:    outcome,
		RecordedAt: now,
		ExpiresAt:  now.Add(t.ttl),
	}

	// Evict from back when at capacity.
	if t.order.Len() >= t.maxEntries {
		back := t.order.Back()
		if back != nil {
			evicted := t.order.Remove(back).(*Entry)
			delete(t.elements, evicted.ID)
		}
	}

	t.elements[id] = t.order.PushFront(entry)
}

func (t *lruTracker) Recall(id string) (Entry, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()

	elem, ok := t.elements[id]
	if !ok {
		return Entry{}, false
	}

	e := elem.Value.(*Entry)

	// Lazy TTL eviction.
	if t.now().After(e.ExpiresAt) {
		t.order.Remove(elem)
		delete(t.elements, id)
		return Entry{}, false
	}

	return *e, true
}

func (t *lruTracker) Delete(id string) bool {
	t.mu.Lock()
	defer t.mu.Unlock()

	elem, ok := t.elements[id]
	if !ok {
		return false
	}
	t.order.Remove(elem)
	delete(t.elements, id)
	return true
}

func (t *lruTracker) Len() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.order.Len()
}
