package cache

import (
	"testing"
	"time"

	"github.com/dnsscience/dnscored/internal/dnsmsg"
)

func TestPutThenGetHit(t *testing.T) {
	c := New()
	msg := &dnsmsg.Message{
		Answer: []dnsmsg.ResourceRecord{
			{Name: "example.com", Type: dnsmsg.TypeA, TTL: 300, A: [4]byte{1, 2, 3, 4}},
		},
	}
	c.Put("example.com", dnsmsg.TypeA, msg)

	records, ok := c.Get("EXAMPLE.COM", dnsmsg.TypeA)
	if !ok {
		t.Fatal("expected cache hit on a freshly put entry, case-insensitively")
	}
	if len(records) != 1 || records[0].A != [4]byte{1, 2, 3, 4} {
		t.Fatalf("unexpected records: %+v", records)
	}
}

func TestGetMissOnUnknownKey(t *testing.T) {
	c := New()
	if _, ok := c.Get("nowhere.test", dnsmsg.TypeA); ok {
		t.Fatal("expected miss on an unpopulated key")
	}
}

func TestGetDistinguishesQueryType(t *testing.T) {
	c := New()
	msg := &dnsmsg.Message{
		Answer: []dnsmsg.ResourceRecord{{Name: "example.com", Type: dnsmsg.TypeA, TTL: 300, A: [4]byte{1, 1, 1, 1}}},
	}
	c.Put("example.com", dnsmsg.TypeA, msg)

	if _, ok := c.Get("example.com", dnsmsg.TypeAAAA); ok {
		t.Fatal("a TypeA entry must not satisfy a TypeAAAA lookup for the same name")
	}
}

// TestExpiredRecordIsFilteredOut exercises the TTL-subset invariant: a
// record whose TTL has elapsed since CachedAt is excluded from the
// returned set, even though the entry itself is still present.
func TestExpiredRecordIsFilteredOut(t *testing.T) {
	c := New()
	msg := &dnsmsg.Message{
		Answer: []dnsmsg.ResourceRecord{
			{Name: "old.example.com", Type: dnsmsg.TypeA, TTL: 0, A: [4]byte{9, 9, 9, 9}},
		},
	}
	c.Put("old.example.com", dnsmsg.TypeA, msg)

	time.Sleep(10 * time.Millisecond)

	if _, ok := c.Get("old.example.com", dnsmsg.TypeA); ok {
		t.Fatal("a zero-TTL record must be treated as already expired")
	}
}

func TestPutOverwritesPriorEntry(t *testing.T) {
	c := New()
	c.Put("example.com", dnsmsg.TypeA, &dnsmsg.Message{
		Answer: []dnsmsg.ResourceRecord{{Name: "example.com", Type: dnsmsg.TypeA, TTL: 300, A: [4]byte{1, 1, 1, 1}}},
	})
	c.Put("example.com", dnsmsg.TypeA, &dnsmsg.Message{
		Answer: []dnsmsg.ResourceRecord{{Name: "example.com", Type: dnsmsg.TypeA, TTL: 300, A: [4]byte{2, 2, 2, 2}}},
	})

	records, ok := c.Get("example.com", dnsmsg.TypeA)
	if !ok || len(records) != 1 || records[0].A != [4]byte{2, 2, 2, 2} {
		t.Fatalf("expected the second Put to overwrite the first, got %+v ok=%v", records, ok)
	}
}

func TestStatsTracksHitsAndMisses(t *testing.T) {
	c := New()
	c.Put("example.com", dnsmsg.TypeA, &dnsmsg.Message{
		Answer: []dnsmsg.ResourceRecord{{Name: "example.com", Type: dnsmsg.TypeA, TTL: 300, A: [4]byte{1, 1, 1, 1}}},
	})

	c.Get("example.com", dnsmsg.TypeA) // hit
	c.Get("missing.example.com", dnsmsg.TypeA) // miss

	stats := c.GetStats()
	if stats.Hits != 1 || stats.Misses != 1 || stats.Entries != 1 {
		t.Fatalf("unexpected stats: %+v", stats)
	}
}

func TestForEachVisitsEveryEntry(t *testing.T) {
	c := New()
	c.Put("a.example.com", dnsmsg.TypeA, &dnsmsg.Message{
		Answer: []dnsmsg.ResourceRecord{{Name: "a.example.com", Type: dnsmsg.TypeA, TTL: 300}},
	})
	c.Put("b.example.com", dnsmsg.TypeMX, &dnsmsg.Message{
		Answer: []dnsmsg.ResourceRecord{{Name: "b.example.com", Type: dnsmsg.TypeMX, TTL: 300}},
	})

	seen := map[string]uint16{}
	c.ForEach(func(name string, qtype uint16, entry *Entry) {
		seen[name] = qtype
	})

	if len(seen) != 2 {
		t.Fatalf("expected 2 entries visited, got %d", len(seen))
	}
	if seen["a.example.com"] != dnsmsg.TypeA.Code() {
		t.Fatalf("wrong qtype recorded for a.example.com: %d", seen["a.example.com"])
	}
}
