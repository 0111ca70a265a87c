package registry

import "time"

// Entry is one announced instance stored under a client address.
// ID decides whether two announcements describe the same instance; Name never does.
type Entry[ID comparable] struct {
	ID      ID
	Name    string
	Updated time.Time
}

// Valid reports whether the entry is still fresh at now.
// A timestamp in the future counts as stale.
func (e Entry[ID]) Valid(now time.Time, ttl time.Duration) bool {
	elapsed := now.Sub(e.Updated)
	if elapsed < 0 {
		return false
	}
	return elapsed < ttl
}

func (e *Entry[ID]) refresh(name string, now time.Time) {
	if now.After(e.Updated) {
		e.Updated = now
	}
	e.Name = name
}
