package directory

import (
	"net/netip"
	"testing"
	"time"

	"github.com/benbjohnson/clock"
)

func TestDirectoryLookupUpgradesOnDirtyRead(t *testing.T) {
	mock := clock.NewMock()
	dir := NewDirectory(5, 10*time.Second, mock)
	addr := netip.MustParseAddr("10.0.0.1")
	dir.Announce(addr, Instance{"a", 1}, "A")
	mock.Add(6 * time.Second)
	dir.Announce(addr, Instance{"a", 2}, "B")
	mock.Add(6 * time.Second)

	entries, dirty := dir.Lookup(addr)
	if !dirty || len(entries) != 1 || entries[0].ID.Port != 2 {
		t.Fatalf("unexpected lookup: dirty=%v entries=%+v", dirty, entries)
	}
	if st := dir.Stats(); st.Entries != 1 || st.Buckets != 1 {
		t.Fatalf("expected stale entry removed, stats %+v", st)
	}
	if _, dirty := dir.Lookup(addr); dirty {
		t.Fatalf("second lookup should be clean")
	}
}

func TestDirectorySweep(t *testing.T) {
	mock := clock.NewMock()
	dir := NewDirectory(5, time.Second, mock)
	for i := 0; i < 3; i++ {
		dir.Announce(netip.AddrFrom4([4]byte{10, 0, 0, byte(i)}), Instance{"a", 1}, "A")
	}
	mock.Add(time.Second)
	before, after := dir.Sweep()
	if before != 3 || after != 0 {
		t.Fatalf("expected 3 -> 0, got %d -> %d", before, after)
	}
}

func TestDirectoryConcurrentAccess(t *testing.T) {
	dir := NewDirectory(64, time.Minute, nil)
	done := make(chan struct{})
	for w := 0; w < 4; w++ {
		go func(w int) {
			defer func() { done <- struct{}{} }()
			for i := 0; i < 200; i++ {
				addr := netip.AddrFrom4([4]byte{10, byte(w), 0, byte(i % 32)})
				dir.Announce(addr, Instance{"bot", uint16(i % 3)}, "n")
				dir.Lookup(addr)
				if i%50 == 0 {
					dir.Sweep()
				}
			}
		}(w)
	}
	for w := 0; w < 4; w++ {
		<-done
	}
	if st := dir.Stats(); st.Buckets > st.Capacity {
		t.Fatalf("capacity exceeded: %+v", st)
	}
}
