package ports

import (
	"net/netip"
	"time"

	"github.com/SepehrImanian/ndsol/internal/domain"
)

// Cache is the neighbour table the resolver drives.
type Cache interface {
	Lookup(addr netip.Addr) (domain.Entry, bool)
	GetOrInsertPending(addr netip.Addr, now time.Time) (domain.Entry, bool)
	SetQueuedPacket(addr netip.Addr, pkt *domain.Packet) (*domain.Packet, error)
	Resolve(addr netip.Addr, link domain.LinkAddr, now time.Time) (*domain.Packet, error)
	MarkPolling(addr netip.Addr, now time.Time) error

	Sweep(now time.Time, timeout time.Duration) []domain.Evicted

	Entries() []domain.Entry
	Len() int
}
