package domain

import (
	"errors"
	"fmt"
	"net"
	"net/netip"
	"time"
)

// ErrNotFound is returned by cache operations that need an entry (or a
// pending entry) for an address that has none.
var ErrNotFound = errors.New("no entry for address")

// State is the resolution state of a single destination.
type State uint8

const (
	StatePending State = iota
	StateResolved
)

func (s State) String() string {
	switch s {
	case StatePending:
		return "pending"
	case StateResolved:
		return "resolved"
	default:
		return fmt.Sprintf("state(%d)", uint8(s))
	}
}

// LinkAddr is a 48-bit Ethernet address.
type LinkAddr [6]byte

// BroadcastLinkAddr is the all-destinations Ethernet address.
var BroadcastLinkAddr = LinkAddr{0xff, 0xff, 0xff, 0xff, 0xff, 0xff}

// LinkAddrFrom converts a hardware address, which must be EUI-48.
func LinkAddrFrom(hw net.HardwareAddr) (LinkAddr, error) {
	var l LinkAddr
	if len(hw) != len(l) {
		return l, fmt.Errorf("unsupported hardware address %q: must be EUI-48", hw)
	}
	copy(l[:], hw)
	return l, nil
}

// ParseLinkAddr parses a textual EUI-48 address.
func ParseLinkAddr(s string) (LinkAddr, error) {
	hw, err := net.ParseMAC(s)
	if err != nil {
		return LinkAddr{}, err
	}
	return LinkAddrFrom(hw)
}

func (l LinkAddr) HardwareAddr() net.HardwareAddr {
	return net.HardwareAddr(l[:])
}

func (l LinkAddr) String() string {
	return l.HardwareAddr().String()
}

func (l LinkAddr) IsZero() bool {
	return l == LinkAddr{}
}

// IsMulticast reports whether the group bit is set.
func (l LinkAddr) IsMulticast() bool {
	return l[0]&0x01 != 0
}

func (l LinkAddr) MarshalText() ([]byte, error) {
	return []byte(l.String()), nil
}

// Packet is an outgoing IPv6 packet without a link-layer header, annotated
// with the next-hop address it has to be delivered to.
type Packet struct {
	Dst  netip.Addr
	Data []byte
}

// Entry is the resolution state kept for one destination address.
type Entry struct {
	Addr     netip.Addr
	LinkAddr LinkAddr
	State    State
	// LastResponse is set on creation and on every accepted reply.
	LastResponse time.Time
	// LastQuery is the time the most recent solicitation was sent.
	LastQuery time.Time
	Polling   bool
	// Queued is owned by the cache. It is non-nil only while pending.
	Queued *Packet
}

// Expired reports whether the entry is older than timeout at now. An entry
// exactly timeout old is not expired.
func (e *Entry) Expired(now time.Time, timeout time.Duration) bool {
	return now.Sub(e.LastResponse) > timeout
}

// Evicted is an entry removed by a sweep. Dropped holds the packet that was
// still queued on a pending entry; the receiver must discard it.
type Evicted struct {
	Entry   Entry
	Dropped *Packet
}
