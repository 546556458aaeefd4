// Package recent remembers recently concluded request ids for a bounded
// window, so a late decision can be distinguished from a decision for a
// request that never existed.
package recent

import "time"

// Tracker records concluded ids and answers whether an id concluded
// recently enough to still be remembered.
type Tracker interface {
	Mark(id, outcome string)
	Recall(id string) (Entry, bool)
	Delete(id string) bool
	Len() int
}

// Entry describes one remembered conclusion.
type Entry struct {
	ID         string    `json:"id"`
	Outcome    string    `json:"outcome"`
	RecordedAt time.Time `json:"recorded_at"`
	ExpiresAt  time.Time `json:"expires_at"`
}
