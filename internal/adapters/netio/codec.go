package netio

import (
	"errors"
	"fmt"
	"net/netip"

	"github.com/google/gopacket"
	"github.com/google/gopacket/layers"

	"github.com/SepehrImanian/ndsol/internal/domain"
)

var errNotIPv6 = errors.New("not an IPv6 packet")

// decodeIngress strips everything below the IPv6 header and annotates the
// packet with its next hop. The returned data does not alias the capture
// buffer.
func decodeIngress(raw gopacket.Packet, nextHop netip.Addr) (domain.Packet, error) {
	ip6, ok := raw.Layer(layers.LayerTypeIPv6).(*layers.IPv6)
	if !ok {
		return domain.Packet{}, errNotIPv6
	}

	dst := nextHop
	if !dst.IsValid() {
		dst, ok = netip.AddrFromSlice(ip6.DstIP)
		if !ok {
			return domain.Packet{}, fmt.Errorf("bad destination length %d", len(ip6.DstIP))
		}
	}
	if dst.IsUnspecified() || dst.IsLoopback() {
		return domain.Packet{}, fmt.Errorf("undeliverable destination %s", dst)
	}

	if raw.Metadata().Truncated {
		return domain.Packet{}, fmt.Errorf("truncated packet to %s", dst)
	}

	data := make([]byte, 0, len(ip6.Contents)+len(ip6.Payload))
	data = append(data, ip6.Contents...)
	data = append(data, ip6.Payload...)
	return domain.Packet{Dst: dst, Data: data}, nil
}
