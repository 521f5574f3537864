// Package cache implements the TTL-aware answer cache: a concurrency-safe
// mapping from (name, query-type) to the record set most recently seen
// in an authoritative answer, plus the instant it was cached.
package cache

import (
	"context"
	"crypto/rand"
	"encoding/binary"
	"strings"
	"sync"
	"time"

	"github.com/dchest/siphash"

	"github.com/dnsscience/dnscored/internal/dnsmsg"
	"github.com/dnsscience/dnscored/internal/eventbus"
	"github.com/dnsscience/dnscored/internal/metrics"
)

// CacheEvent is published on eventbus.TopicCache for every Get, hit or
// miss, so a subscriber can track cache effectiveness without polling
// GetStats.
type CacheEvent struct {
	Name  string
	QType uint16
	Hit   bool
}

func randomSeed(b []byte) {
	if _, err := rand.Read(b); err != nil {
		panic("cache: crypto/rand unavailable: " + err.Error())
	}
}

// Entry is what a single cache slot holds: the records carried in the
// most recent authoritative answer for a key, and when they arrived.
type Entry struct {
	Records  []dnsmsg.ResourceRecord
	CachedAt time.Time
}

// Cache is a single-mutex, TTL-aware map from (name, type) to Entry.
//
// The lookup key is not the raw (string, QueryType) pair but a 64-bit
// SipHash-2-4 digest of it, keyed with a process-lifetime random
// secret generated from crypto/rand. This mirrors the teacher
// codebase's own use of dchest/siphash for DNS-cookie generation
// (a different, EDNS(0)-based mechanism that is out of this spec's
// scope): here the keyed hash instead hardens the cache's own map
// against an attacker choosing query names to force pathological
// bucket collisions. A second plain-text index is kept so the cache
// can still be enumerated for the stats/metrics surface without
// walking the hash-keyed map and guessing names back.
type Cache struct {
	mu      sync.Mutex
	entries map[uint64]*Entry
	names   map[uint64]key // hash -> original key, for ForEach

	hashKey0, hashKey1 uint64

	hits   uint64
	misses uint64

	bus     *eventbus.Bus
	metrics *metrics.Registry
}

type key struct {
	name string
	qtype uint16
}

// New creates an empty cache with a fresh random SipHash key.
func New() *Cache {
	var seed [16]byte
	randomSeed(seed[:])
	return &Cache{
		entries:  make(map[uint64]*Entry),
		names:    make(map[uint64]key),
		hashKey0: binary.BigEndian.Uint64(seed[0:8]),
		hashKey1: binary.BigEndian.Uint64(seed[8:16]),
	}
}

// SetBus attaches the event bus Get publishes hit/miss notifications
// on. Call once after construction; nil is safe and disables the
// notifications.
func (c *Cache) SetBus(bus *eventbus.Bus) {
	c.bus = bus
}

// SetMetrics attaches the Prometheus registry Get increments hit/miss
// counters on. Call once after construction; nil is safe and leaves
// the counters unreported.
func (c *Cache) SetMetrics(m *metrics.Registry) {
	c.metrics = m
}

func (c *Cache) hash(name string, qtype uint16) uint64 {
	name = strings.ToLower(name)
	buf := make([]byte, len(name)+2)
	copy(buf, name)
	binary.BigEndian.PutUint16(buf[len(name):], qtype)
	return siphash.Hash(c.hashKey0, c.hashKey1, buf)
}

// Get returns the live subset of the cached record set for (name,
// type), i.e. those records whose TTL has not elapsed relative to the
// entry's CachedAt. Returns ok=false on a miss or if every record has
// expired.
func (c *Cache) Get(name string, qtype dnsmsg.QueryType) (records []dnsmsg.ResourceRecord, ok bool) {
	h := c.hash(name, qtype.Code())

	c.mu.Lock()
	entry, found := c.entries[h]
	c.mu.Unlock()

	if !found {
		c.recordMiss(name, qtype.Code())
		return nil, false
	}

	now := time.Now()
	live := make([]dnsmsg.ResourceRecord, 0, len(entry.Records))
	for _, rr := range entry.Records {
		if now.Sub(entry.CachedAt) < time.Duration(rr.TTL)*time.Second {
			live = append(live, rr)
		}
	}

	if len(live) == 0 {
		c.recordMiss(name, qtype.Code())
		return nil, false
	}
	c.recordHit(name, qtype.Code())
	return live, true
}

// Put stores the union of a message's answer, authority and additional
// sections against (name, type), overwriting any prior entry with a
// fresh CachedAt.
func (c *Cache) Put(name string, qtype dnsmsg.QueryType, msg *dnsmsg.Message) {
	records := make([]dnsmsg.ResourceRecord, 0, len(msg.Answer)+len(msg.Authority)+len(msg.Additional))
	records = append(records, msg.Answer...)
	records = append(records, msg.Authority...)
	records = append(records, msg.Additional...)

	h := c.hash(name, qtype.Code())
	entry := &Entry{Records: records, CachedAt: time.Now()}

	c.mu.Lock()
	c.entries[h] = entry
	c.names[h] = key{name: strings.ToLower(name), qtype: qtype.Code()}
	c.mu.Unlock()
}

func (c *Cache) recordHit(name string, qtype uint16) {
	c.mu.Lock()
	c.hits++
	c.mu.Unlock()

	if c.metrics != nil {
		c.metrics.CacheHits.Inc()
	}
	if c.bus != nil {
		c.bus.Publish(context.Background(), eventbus.TopicCache, CacheEvent{Name: name, QType: qtype, Hit: true})
	}
}

func (c *Cache) recordMiss(name string, qtype uint16) {
	c.mu.Lock()
	c.misses++
	c.mu.Unlock()

	if c.metrics != nil {
		c.metrics.CacheMisses.Inc()
	}
	if c.bus != nil {
		c.bus.Publish(context.Background(), eventbus.TopicCache, CacheEvent{Name: name, QType: qtype, Hit: false})
	}
}

// Stats is a snapshot of cache counters, used by the metrics package.
type Stats struct {
	Hits    uint64
	Misses  uint64
	Entries int
}

// GetStats returns a point-in-time snapshot of the cache's counters.
func (c *Cache) GetStats() Stats {
	c.mu.Lock()
	defer c.mu.Unlock()
	return Stats{Hits: c.hits, Misses: c.misses, Entries: len(c.entries)}
}

// ForEach calls fn with the (name, type) and entry of every cached key.
// The resolution hot path never calls it.
func (c *Cache) ForEach(fn func(name string, qtype uint16, entry *Entry)) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for h, e := range c.entries {
		k := c.names[h]
		fn(k.name, k.qtype, e)
	}
}
