package registry

import (
	"fmt"
	"math/rand"
	"net/netip"
	"testing"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/google/go-cmp/cmp"
)

type botID struct {
	Domain string
	Port   uint16
}

var localhost = netip.MustParseAddr("127.0.0.1")

func newTestRegistry(capacity int, ttl time.Duration) (*Registry[netip.Addr, botID], *clock.Mock) {
	mock := clock.NewMock()
	mock.Set(time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC))
	return New[netip.Addr, botID](capacity, ttl, WithClock(mock)), mock
}

func ids(entries []Entry[botID]) []botID {
	out := make([]botID, 0, len(entries))
	for _, e := range entries {
		out = append(out, e.ID)
	}
	return out
}

func TestInsertAndGet(t *testing.T) {
	reg, _ := newTestRegistry(5, 300*time.Second)
	id := botID{Domain: "instance.kiu.party", Port: 41234}
	if !reg.Insert(localhost, id, "Test") {
		t.Fatalf("insert rejected")
	}
	if reg.Len() != 1 {
		t.Fatalf("expected one key, got %d", reg.Len())
	}
	entries, dirty, ok := reg.Get(localhost)
	if !ok {
		t.Fatalf("expected bucket for %s", localhost)
	}
	if dirty {
		t.Fatalf("fresh bucket reported dirty")
	}
	if diff := cmp.Diff([]botID{id}, ids(entries)); diff != "" {
		t.Fatalf("entries mismatch (-want +got):\n%s", diff)
	}
	if entries[0].Name != "Test" {
		t.Fatalf("unexpected name %q", entries[0].Name)
	}
}

func TestTTLAndTargetedClean(t *testing.T) {
	reg, mock := newTestRegistry(5, 4*time.Second)
	first := botID{Domain: "instance.kiu.party", Port: 41234}
	second := botID{Domain: "instance.kiu.party", Port: 41235}

	reg.Insert(localhost, first, "Test")
	mock.Add(2 * time.Second)
	reg.Insert(localhost, second, "Test")
	mock.Add(2 * time.Second)

	entries, dirty, ok := reg.Get(localhost)
	if !ok || !dirty {
		t.Fatalf("expected dirty bucket, got ok=%v dirty=%v", ok, dirty)
	}
	if diff := cmp.Diff([]botID{second}, ids(entries)); diff != "" {
		t.Fatalf("entries mismatch (-want +got):\n%s", diff)
	}

	reg.CleanKey(localhost)
	entries, dirty, ok = reg.Get(localhost)
	if !ok || dirty || len(entries) != 1 {
		t.Fatalf("after clean: ok=%v dirty=%v entries=%d", ok, dirty, len(entries))
	}

	mock.Add(2 * time.Second)
	reg.CleanKey(localhost)
	if _, _, ok := reg.Get(localhost); ok {
		t.Fatalf("expected key to be removed once empty")
	}
	if reg.Len() != 0 {
		t.Fatalf("expected empty registry, got %d keys", reg.Len())
	}
}

func TestInsertRejectsWhenFullOfFreshKeys(t *testing.T) {
	reg, _ := newTestRegistry(1, 300*time.Second)
	if !reg.Insert(netip.MustParseAddr("10.0.0.1"), botID{"a", 1}, "A") {
		t.Fatalf("first insert rejected")
	}
	if reg.Insert(netip.MustParseAddr("10.0.0.2"), botID{"b", 2}, "B") {
		t.Fatalf("expected capacity rejection")
	}
	if reg.Len() != 1 {
		t.Fatalf("expected one key, got %d", reg.Len())
	}
}

func TestInsertCleansBeforeRejecting(t *testing.T) {
	reg, mock := newTestRegistry(1, time.Minute)
	k1 := netip.MustParseAddr("10.0.0.1")
	k2 := netip.MustParseAddr("10.0.0.2")
	reg.Insert(k1, botID{"a", 1}, "A")
	mock.Add(time.Minute)
	if !reg.Insert(k2, botID{"b", 2}, "B") {
		t.Fatalf("expected insert to succeed after clean freed a key")
	}
	if _, _, ok := reg.Get(k1); ok {
		t.Fatalf("stale key should have been swept")
	}
	if _, _, ok := reg.Get(k2); !ok {
		t.Fatalf("new key missing")
	}
}

func TestExistingKeyIgnoresCapacity(t *testing.T) {
	reg, _ := newTestRegistry(1, time.Minute)
	reg.Insert(localhost, botID{"a", 1}, "A")
	if !reg.Insert(localhost, botID{"a", 2}, "A2") {
		t.Fatalf("insert under existing key should not be capacity limited")
	}
	if reg.EntryCount() != 2 {
		t.Fatalf("expected two entries, got %d", reg.EntryCount())
	}
}

func TestZeroCapacityRejectsEverything(t *testing.T) {
	reg, _ := newTestRegistry(0, time.Minute)
	if reg.Insert(localhost, botID{"a", 1}, "A") {
		t.Fatalf("zero capacity registry accepted a key")
	}
	neg := New[string, string](-3, time.Minute)
	if neg.Capacity() != 0 || neg.Insert("k", "id", "n") {
		t.Fatalf("negative capacity should behave as zero")
	}
}

func TestRefreshKeepsSingleEntry(t *testing.T) {
	reg, mock := newTestRegistry(5, time.Minute)
	id := botID{"bot.example", 9000}
	reg.Insert(localhost, id, "old")
	before, _, _ := reg.Get(localhost)
	mock.Add(10 * time.Second)
	reg.Insert(localhost, id, "new")

	entries, dirty, _ := reg.Get(localhost)
	if dirty || len(entries) != 1 {
		t.Fatalf("expected one fresh entry, got %d dirty=%v", len(entries), dirty)
	}
	if entries[0].Name != "new" {
		t.Fatalf("expected name to be overwritten, got %q", entries[0].Name)
	}
	if !entries[0].Updated.After(before[0].Updated) {
		t.Fatalf("timestamp not refreshed: %v <= %v", entries[0].Updated, before[0].Updated)
	}
}

func TestRefreshNeverMovesTimestampBackwards(t *testing.T) {
	reg, mock := newTestRegistry(5, time.Minute)
	id := botID{"bot.example", 9000}
	reg.Insert(localhost, id, "a")
	first, _, _ := reg.Get(localhost)
	mock.Set(mock.Now().Add(-5 * time.Second))
	reg.Insert(localhost, id, "b")
	mock.Add(5 * time.Second)
	got, _, _ := reg.Get(localhost)
	if !got[0].Updated.Equal(first[0].Updated) {
		t.Fatalf("timestamp moved backwards: %v -> %v", first[0].Updated, got[0].Updated)
	}
	if got[0].Name != "b" {
		t.Fatalf("name should still be refreshed, got %q", got[0].Name)
	}
}

func TestStaleEntryIsResurrectedByReannounce(t *testing.T) {
	reg, mock := newTestRegistry(5, time.Minute)
	id := botID{"bot.example", 9000}
	reg.Insert(localhost, id, "bot")
	mock.Add(2 * time.Minute)
	if entries, dirty, _ := reg.Get(localhost); len(entries) != 0 || !dirty {
		t.Fatalf("expected stale entry, got %d dirty=%v", len(entries), dirty)
	}
	reg.Insert(localhost, id, "bot")
	entries, dirty, _ := reg.Get(localhost)
	if len(entries) != 1 || dirty {
		t.Fatalf("expected refreshed entry, got %d dirty=%v", len(entries), dirty)
	}
	if reg.EntryCount() != 1 {
		t.Fatalf("re-announce duplicated the entry")
	}
}

func TestFreshnessBoundary(t *testing.T) {
	now := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	ttl := 10 * time.Second
	e := Entry[string]{ID: "x", Updated: now}
	if !e.Valid(now.Add(ttl-time.Nanosecond), ttl) {
		t.Fatalf("entry just under ttl should be valid")
	}
	if e.Valid(now.Add(ttl), ttl) {
		t.Fatalf("entry at ttl should be stale")
	}
	if e.Valid(now.Add(-time.Second), ttl) {
		t.Fatalf("entry stamped in the future should be stale")
	}
}

func TestGetReturnsCopies(t *testing.T) {
	reg, _ := newTestRegistry(5, time.Minute)
	reg.Insert(localhost, botID{"a", 1}, "A")
	entries, _, _ := reg.Get(localhost)
	entries[0].Name = "mutated"
	entries[0].ID = botID{"z", 9}
	again, _, _ := reg.Get(localhost)
	if again[0].Name != "A" || again[0].ID != (botID{"a", 1}) {
		t.Fatalf("caller mutation leaked into registry: %+v", again[0])
	}
}

func TestGetDoesNotMutate(t *testing.T) {
	reg, mock := newTestRegistry(5, time.Minute)
	reg.Insert(localhost, botID{"a", 1}, "A")
	mock.Add(time.Hour)
	for i := 0; i < 3; i++ {
		if _, dirty, ok := reg.Get(localhost); !ok || !dirty {
			t.Fatalf("read %d: ok=%v dirty=%v", i, ok, dirty)
		}
	}
	if reg.EntryCount() != 1 || reg.Len() != 1 {
		t.Fatalf("get removed data: keys=%d entries=%d", reg.Len(), reg.EntryCount())
	}
}

func TestCleanKeyUnknownIsNoop(t *testing.T) {
	reg, _ := newTestRegistry(5, time.Minute)
	reg.Insert(localhost, botID{"a", 1}, "A")
	reg.CleanKey(netip.MustParseAddr("192.0.2.1"))
	if reg.Len() != 1 {
		t.Fatalf("unrelated key touched")
	}
}

func TestCleanKeyKeepsOnlyFresh(t *testing.T) {
	reg, mock := newTestRegistry(5, 10*time.Second)
	reg.Insert(localhost, botID{"a", 1}, "A")
	mock.Add(6 * time.Second)
	reg.Insert(localhost, botID{"a", 2}, "B")
	reg.Insert(localhost, botID{"a", 3}, "C")
	mock.Add(6 * time.Second)

	want, _, _ := reg.Get(localhost)
	reg.CleanKey(localhost)
	got, dirty, ok := reg.Get(localhost)
	if !ok || dirty {
		t.Fatalf("ok=%v dirty=%v", ok, dirty)
	}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Fatalf("clean kept the wrong entries (-want +got):\n%s", diff)
	}
	if reg.EntryCount() != 2 {
		t.Fatalf("expected two stored entries, got %d", reg.EntryCount())
	}
}

func TestCleanIsGlobal(t *testing.T) {
	reg, mock := newTestRegistry(10, 10*time.Second)
	for i := 0; i < 4; i++ {
		key := netip.AddrFrom4([4]byte{10, 0, 0, byte(i)})
		reg.Insert(key, botID{"old", uint16(i)}, "old")
	}
	mock.Add(6 * time.Second)
	for i := 2; i < 6; i++ {
		key := netip.AddrFrom4([4]byte{10, 0, 0, byte(i)})
		reg.Insert(key, botID{"new", uint16(i)}, "new")
	}
	mock.Add(6 * time.Second)
	reg.Clean()

	if reg.Len() != 4 {
		t.Fatalf("expected 4 keys after clean, got %d", reg.Len())
	}
	now := mock.Now()
	for key, bucket := range reg.buckets {
		if len(bucket) == 0 {
			t.Fatalf("empty bucket survived for %s", key)
		}
		for _, e := range bucket {
			if !e.Valid(now, reg.TTL()) {
				t.Fatalf("stale entry survived clean under %s: %+v", key, e)
			}
		}
	}
}

func TestRandomInsertsKeepInvariants(t *testing.T) {
	const capacity = 8
	reg, mock := newTestRegistry(capacity, 5*time.Second)
	rng := rand.New(rand.NewSource(42))
	for i := 0; i < 2000; i++ {
		key := fmt.Sprintf("10.0.%d.%d", rng.Intn(3), rng.Intn(8))
		addr := netip.MustParseAddr(key)
		id := botID{Domain: "bot", Port: uint16(rng.Intn(4))}
		reg.Insert(addr, id, fmt.Sprintf("n%d", i))
		switch rng.Intn(10) {
		case 0:
			reg.Clean()
		case 1:
			reg.CleanKey(addr)
		}
		mock.Add(time.Duration(rng.Intn(1500)) * time.Millisecond)

		if reg.Len() > capacity {
			t.Fatalf("step %d: %d keys exceeds capacity %d", i, reg.Len(), capacity)
		}
		for k, bucket := range reg.buckets {
			if len(bucket) == 0 {
				t.Fatalf("step %d: empty bucket for %s", i, k)
			}
			seen := make(map[botID]struct{}, len(bucket))
			for _, e := range bucket {
				if _, dup := seen[e.ID]; dup {
					t.Fatalf("step %d: duplicate identity %+v under %s", i, e.ID, k)
				}
				seen[e.ID] = struct{}{}
			}
		}
	}
}

func TestDirtyFlagMatchesStaleEntries(t *testing.T) {
	reg, mock := newTestRegistry(5, 10*time.Second)
	reg.Insert(localhost, botID{"a", 1}, "A")
	if _, dirty, _ := reg.Get(localhost); dirty {
		t.Fatalf("no stale entries yet")
	}
	mock.Add(9 * time.Second)
	reg.Insert(localhost, botID{"a", 2}, "B")
	mock.Add(time.Second)
	entries, dirty, _ := reg.Get(localhost)
	if !dirty || len(entries) != 1 {
		t.Fatalf("expected one fresh of two, dirty; got %d dirty=%v", len(entries), dirty)
	}
	mock.Add(9 * time.Second)
	entries, dirty, ok := reg.Get(localhost)
	if !ok || !dirty || len(entries) != 0 {
		t.Fatalf("expected empty dirty result, got ok=%v dirty=%v n=%d", ok, dirty, len(entries))
	}
}

func BenchmarkInsertGet(b *testing.B) {
	reg := New[netip.Addr, botID](1024, time.Minute)
	addrs := make([]netip.Addr, 256)
	for i := range addrs {
		addrs[i] = netip.AddrFrom4([4]byte{10, 1, byte(i >> 8), byte(i)})
	}
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		addr := addrs[i%len(addrs)]
		reg.Insert(addr, botID{"bot", uint16(i % 4)}, "bench")
		reg.Get(addr)
	}
}
