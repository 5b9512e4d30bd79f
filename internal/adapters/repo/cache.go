package repo

import (
	"fmt"
	"net/netip"
	"time"

	"github.com/spaolacci/murmur3"

	"github.com/SepehrImanian/ndsol/internal/domain"
	"github.com/SepehrImanian/ndsol/internal/ports"
)

// NumBuckets is the fixed number of hash chains.
const NumBuckets = 256

// AddressCache is a chained hash table of neighbour entries.
//
// Entries live in a slot table; each bucket keeps the slot indices of its
// chain in insertion order. Freed slots are reused.
//
// AddressCache is not safe for concurrent use.
type AddressCache struct {
	buckets [NumBuckets][]int
	slots   []slot
	free    []int
	size    int
}

type slot struct {
	entry domain.Entry
}

var _ ports.Cache = (*AddressCache)(nil)

func NewAddressCache() *AddressCache {
	return &AddressCache{}
}

func bucketOf(addr netip.Addr) int {
	b := addr.As16()
	return int(murmur3.Sum32(b[:]) % NumBuckets)
}

// find returns the bucket of addr and the slot index of its entry.
func (c *AddressCache) find(addr netip.Addr) (int, int, bool) {
	b := bucketOf(addr)
	for _, idx := range c.buckets[b] {
		if c.slots[idx].entry.Addr == addr {
			return b, idx, true
		}
	}
	return b, -1, false
}

func (c *AddressCache) entry(addr netip.Addr) *domain.Entry {
	_, idx, ok := c.find(addr)
	if !ok {
		return nil
	}
	return &c.slots[idx].entry
}

func (c *AddressCache) Lookup(addr netip.Addr) (domain.Entry, bool) {
	e := c.entry(addr)
	if e == nil {
		return domain.Entry{}, false
	}
	return *e, true
}

// GetOrInsertPending returns the entry for addr, creating a pending one when
// absent. The boolean reports whether the entry was created.
func (c *AddressCache) GetOrInsertPending(addr netip.Addr, now time.Time) (domain.Entry, bool) {
	b, idx, ok := c.find(addr)
	if ok {
		return c.slots[idx].entry, false
	}

	e := domain.Entry{
		Addr:         addr,
		State:        domain.StatePending,
		LastResponse: now,
	}
	if n := len(c.free); n > 0 {
		idx = c.free[n-1]
		c.free = c.free[:n-1]
		c.slots[idx] = slot{entry: e}
	} else {
		idx = len(c.slots)
		c.slots = append(c.slots, slot{entry: e})
	}
	c.buckets[b] = append(c.buckets[b], idx)
	c.size++
	return e, true
}

// SetQueuedPacket stores pkt on a pending entry and returns the packet it
// displaced, if any.
func (c *AddressCache) SetQueuedPacket(addr netip.Addr, pkt *domain.Packet) (*domain.Packet, error) {
	e := c.entry(addr)
	if e == nil || e.State != domain.StatePending {
		return nil, fmt.Errorf("queue packet for %s: %w", addr, domain.ErrNotFound)
	}
	old := e.Queued
	e.Queued = pkt
	return old, nil
}

// Resolve records the link address for addr and hands over the queued
// packet.
func (c *AddressCache) Resolve(addr netip.Addr, link domain.LinkAddr, now time.Time) (*domain.Packet, error) {
	e := c.entry(addr)
	if e == nil {
		return nil, fmt.Errorf("resolve %s: %w", addr, domain.ErrNotFound)
	}
	e.State = domain.StateResolved
	e.LinkAddr = link
	e.Polling = false
	if now.After(e.LastResponse) {
		e.LastResponse = now
	}
	pkt := e.Queued
	e.Queued = nil
	return pkt, nil
}

func (c *AddressCache) MarkPolling(addr netip.Addr, now time.Time) error {
	e := c.entry(addr)
	if e == nil || e.State != domain.StatePending {
		return fmt.Errorf("mark polling %s: %w", addr, domain.ErrNotFound)
	}
	e.Polling = true
	e.LastQuery = now
	return nil
}

// Sweep removes every entry not refreshed within timeout.
func (c *AddressCache) Sweep(now time.Time, timeout time.Duration) []domain.Evicted {
	var out []domain.Evicted
	for b := range c.buckets {
		chain := c.buckets[b]
		kept := chain[:0]
		for _, idx := range chain {
			e := &c.slots[idx].entry
			if !e.Expired(now, timeout) {
				kept = append(kept, idx)
				continue
			}
			ev := domain.Evicted{Entry: *e}
			if e.State == domain.StatePending {
				ev.Dropped = e.Queued
			}
			ev.Entry.Queued = nil
			out = append(out, ev)

			c.slots[idx] = slot{}
			c.free = append(c.free, idx)
			c.size--
		}
		if len(kept) == 0 {
			c.buckets[b] = nil
		} else {
			c.buckets[b] = kept
		}
	}
	return out
}

// Entries returns a snapshot of all entries in bucket order.
func (c *AddressCache) Entries() []domain.Entry {
	out := make([]domain.Entry, 0, c.size)
	for _, chain := range c.buckets {
		for _, idx := range chain {
			out = append(out, c.slots[idx].entry)
		}
	}
	return out
}

func (c *AddressCache) Len() int {
	return c.size
}
