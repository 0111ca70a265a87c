package directory

import (
	"net/netip"
	"sync"
	"time"

	"github.com/benbjohnson/clock"

	"botdir/internal/registry"
)

// Directory serialises access to the registry: announcements and cleaning
// take the write lock, lookups the read lock.
type Directory struct {
	mu  sync.RWMutex
	reg *registry.Registry[netip.Addr, Instance]
}

// Stats is a point-in-time size report.
type Stats struct {
	Buckets  int `json:"buckets"`
	Entries  int `json:"entries"`
	Capacity int `json:"capacity"`
}

// NewDirectory builds a directory over a fresh registry. clk may be nil.
func NewDirectory(capacity int, ttl time.Duration, clk clock.Clock) *Directory {
	return &Directory{
		reg: registry.New[netip.Addr, Instance](capacity, ttl, registry.WithClock(clk)),
	}
}

// Announce stores inst under addr. It returns false when the directory is full.
func (d *Directory) Announce(addr netip.Addr, inst Instance, name string) bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.reg.Insert(addr, inst, name)
}

// Lookup returns the live entries announced from addr. When the read found
// stale entries it cleans that key under the write lock before returning.
func (d *Directory) Lookup(addr netip.Addr) (entries []registry.Entry[Instance], dirty bool) {
	d.mu.RLock()
	entries, dirty, _ = d.reg.Get(addr)
	d.mu.RUnlock()
	if dirty {
		d.mu.Lock()
		d.reg.CleanKey(addr)
		d.mu.Unlock()
	}
	return entries, dirty
}

// Sweep runs a full clean and reports the key count before and after.
func (d *Directory) Sweep() (before, after int) {
	d.mu.Lock()
	defer d.mu.Unlock()
	before = d.reg.Len()
	d.reg.Clean()
	return before, d.reg.Len()
}

// Stats reports the current size.
func (d *Directory) Stats() Stats {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return Stats{
		Buckets:  d.reg.Len(),
		Entries:  d.reg.EntryCount(),
		Capacity: d.reg.Capacity(),
	}
}
