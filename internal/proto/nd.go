package proto

import (
	"fmt"
	"net"
	"net/netip"

	"github.com/google/gopacket"
	"github.com/google/gopacket/layers"

	"github.com/SepehrImanian/ndsol/internal/domain"
)

// MessageType discriminates neighbour discovery messages.
type MessageType uint8

const (
	Solicitation  MessageType = 135
	Advertisement MessageType = 136
)

func (t MessageType) String() string {
	switch t {
	case Solicitation:
		return "solicitation"
	case Advertisement:
		return "advertisement"
	default:
		return fmt.Sprintf("type(%d)", uint8(t))
	}
}

// Advertisement flags.
const (
	flagSolicited = 0x40
	flagOverride  = 0x20
)

// ndHopLimit is the only hop limit a neighbour discovery message may carry.
const ndHopLimit = 255

var (
	// AllNodes is the link-local all-nodes multicast group.
	AllNodes     = netip.MustParseAddr("ff02::1")
	allNodesLink = domain.LinkAddr{0x33, 0x33, 0x00, 0x00, 0x00, 0x01}
)

// Message carries the fields of a neighbour solicitation or advertisement.
//
// For a solicitation Target is the address being resolved and the sender
// fields identify the requester. For an advertisement Target is the
// advertised address and SenderLink is its link address.
type Message struct {
	Type       MessageType
	Target     netip.Addr
	SenderLink domain.LinkAddr
	SenderAddr netip.Addr
}

// DecodeError reports a frame that is not a well-formed neighbour discovery
// message.
type DecodeError struct {
	Reason string
	Err    error
}

func (e *DecodeError) Error() string {
	if e.Err != nil {
		return "decode: " + e.Reason + ": " + e.Err.Error()
	}
	return "decode: " + e.Reason
}

func (e *DecodeError) Unwrap() error { return e.Err }

func decodeErr(reason string, args ...any) error {
	return &DecodeError{Reason: fmt.Sprintf(reason, args...)}
}

// SolicitedNodeAddr returns the solicited-node multicast group of addr.
func SolicitedNodeAddr(addr netip.Addr) netip.Addr {
	a := addr.As16()
	return netip.AddrFrom16([16]byte{
		0xff, 0x02, 0, 0, 0, 0, 0, 0,
		0, 0, 0, 0x01, 0xff, a[13], a[14], a[15],
	})
}

func ip(addr netip.Addr) net.IP {
	a := addr.As16()
	return net.IP(a[:])
}

// EncodeSolicitation builds a broadcast frame asking who owns target.
func EncodeSolicitation(target netip.Addr, senderLink domain.LinkAddr, senderAddr netip.Addr) ([]byte, error) {
	if !target.Is6() || !senderAddr.Is6() {
		return nil, fmt.Errorf("solicitation for %s from %s: addresses must be IPv6", target, senderAddr)
	}
	opts := layers.ICMPv6Options{}
	if !senderAddr.IsUnspecified() {
		opts = append(opts, layers.ICMPv6Option{
			Type: layers.ICMPv6OptSourceAddress,
			Data: senderLink.HardwareAddr(),
		})
	}
	ns := &layers.ICMPv6NeighborSolicitation{
		TargetAddress: ip(target),
		Options:       opts,
	}
	return serialize(senderLink, domain.BroadcastLinkAddr, senderAddr, SolicitedNodeAddr(target), Solicitation, ns)
}

// EncodeAdvertisement builds the reply that asserts senderAddr is reachable
// at senderLink, addressed to the requester. An unspecified requester gets
// an unsolicited advertisement to all nodes.
func EncodeAdvertisement(senderAddr netip.Addr, senderLink domain.LinkAddr, dstAddr netip.Addr, dstLink domain.LinkAddr) ([]byte, error) {
	if !senderAddr.Is6() || !dstAddr.Is6() {
		return nil, fmt.Errorf("advertisement for %s to %s: addresses must be IPv6", senderAddr, dstAddr)
	}
	flags := uint8(flagSolicited | flagOverride)
	if dstAddr.IsUnspecified() {
		dstAddr, dstLink = AllNodes, allNodesLink
		flags = flagOverride
	}
	na := &layers.ICMPv6NeighborAdvertisement{
		Flags:         flags,
		TargetAddress: ip(senderAddr),
		Options: layers.ICMPv6Options{{
			Type: layers.ICMPv6OptTargetAddress,
			Data: senderLink.HardwareAddr(),
		}},
	}
	return serialize(senderLink, dstLink, senderAddr, dstAddr, Advertisement, na)
}

func serialize(srcLink, dstLink domain.LinkAddr, src, dst netip.Addr, typ MessageType, body gopacket.SerializableLayer) ([]byte, error) {
	eth := &layers.Ethernet{
		SrcMAC:       srcLink.HardwareAddr(),
		DstMAC:       dstLink.HardwareAddr(),
		EthernetType: layers.EthernetTypeIPv6,
	}
	ip6 := &layers.IPv6{
		Version:    6,
		NextHeader: layers.IPProtocolICMPv6,
		HopLimit:   ndHopLimit,
		SrcIP:      ip(src),
		DstIP:      ip(dst),
	}
	icmp := &layers.ICMPv6{
		TypeCode: layers.CreateICMPv6TypeCode(uint8(typ), 0),
	}
	if err := icmp.SetNetworkLayerForChecksum(ip6); err != nil {
		return nil, err
	}

	buf := gopacket.NewSerializeBuffer()
	opts := gopacket.SerializeOptions{FixLengths: true, ComputeChecksums: true}
	if err := gopacket.SerializeLayers(buf, opts, eth, ip6, icmp, body); err != nil {
		return nil, fmt.Errorf("serialize %s: %w", typ, err)
	}
	return buf.Bytes(), nil
}

// Frame prepends an Ethernet header to an IPv6 packet.
func Frame(src, dst domain.LinkAddr, payload []byte) ([]byte, error) {
	eth := &layers.Ethernet{
		SrcMAC:       src.HardwareAddr(),
		DstMAC:       dst.HardwareAddr(),
		EthernetType: layers.EthernetTypeIPv6,
	}
	buf := gopacket.NewSerializeBuffer()
	if err := gopacket.SerializeLayers(buf, gopacket.SerializeOptions{}, eth, gopacket.Payload(payload)); err != nil {
		return nil, fmt.Errorf("frame: %w", err)
	}
	return buf.Bytes(), nil
}

// Decode parses an Ethernet frame carrying a neighbour solicitation or
// advertisement. It never returns a partially filled message.
func Decode(frame []byte) (Message, error) {
	pkt := gopacket.NewPacket(frame, layers.LayerTypeEthernet, gopacket.DecodeOptions{NoCopy: true})
	if el := pkt.ErrorLayer(); el != nil {
		return Message{}, &DecodeError{Reason: "malformed frame", Err: el.Error()}
	}
	if pkt.Metadata().Truncated {
		return Message{}, decodeErr("truncated frame")
	}

	eth, ok := pkt.Layer(layers.LayerTypeEthernet).(*layers.Ethernet)
	if !ok {
		return Message{}, decodeErr("no ethernet header")
	}
	if eth.EthernetType != layers.EthernetTypeIPv6 {
		return Message{}, decodeErr("ethertype %s", eth.EthernetType)
	}
	ip6, ok := pkt.Layer(layers.LayerTypeIPv6).(*layers.IPv6)
	if !ok {
		return Message{}, decodeErr("no ipv6 header")
	}
	if ip6.NextHeader != layers.IPProtocolICMPv6 {
		return Message{}, decodeErr("next header %s", ip6.NextHeader)
	}
	if int(ip6.Length) != len(ip6.Payload) {
		return Message{}, decodeErr("payload length %d, have %d", ip6.Length, len(ip6.Payload))
	}
	if ip6.HopLimit != ndHopLimit {
		return Message{}, decodeErr("hop limit %d", ip6.HopLimit)
	}
	icmp, ok := pkt.Layer(layers.LayerTypeICMPv6).(*layers.ICMPv6)
	if !ok {
		return Message{}, decodeErr("no icmpv6 header")
	}
	if icmp.TypeCode.Code() != 0 {
		return Message{}, decodeErr("icmpv6 code %d", icmp.TypeCode.Code())
	}

	sender, ok := netip.AddrFromSlice(ip6.SrcIP)
	if !ok {
		return Message{}, decodeErr("source address length %d", len(ip6.SrcIP))
	}
	link, err := domain.LinkAddrFrom(eth.SrcMAC)
	if err != nil {
		return Message{}, &DecodeError{Reason: "source link address", Err: err}
	}

	var (
		typ     MessageType
		target  net.IP
		options layers.ICMPv6Options
		optType layers.ICMPv6Opt
	)
	switch icmp.TypeCode.Type() {
	case layers.ICMPv6TypeNeighborSolicitation:
		ns, ok := pkt.Layer(layers.LayerTypeICMPv6NeighborSolicitation).(*layers.ICMPv6NeighborSolicitation)
		if !ok {
			return Message{}, decodeErr("truncated solicitation")
		}
		typ, target, options, optType = Solicitation, ns.TargetAddress, ns.Options, layers.ICMPv6OptSourceAddress
	case layers.ICMPv6TypeNeighborAdvertisement:
		na, ok := pkt.Layer(layers.LayerTypeICMPv6NeighborAdvertisement).(*layers.ICMPv6NeighborAdvertisement)
		if !ok {
			return Message{}, decodeErr("truncated advertisement")
		}
		typ, target, options, optType = Advertisement, na.TargetAddress, na.Options, layers.ICMPv6OptTargetAddress
	default:
		return Message{}, decodeErr("icmpv6 type %d", icmp.TypeCode.Type())
	}

	targetAddr, ok := netip.AddrFromSlice(target)
	if !ok {
		return Message{}, decodeErr("target address length %d", len(target))
	}
	if targetAddr.IsMulticast() {
		return Message{}, decodeErr("multicast target %s", targetAddr)
	}

	for _, opt := range options {
		if opt.Type != optType {
			continue
		}
		if link, err = domain.LinkAddrFrom(net.HardwareAddr(opt.Data)); err != nil {
			return Message{}, &DecodeError{Reason: "link address option", Err: err}
		}
		break
	}

	return Message{
		Type:       typ,
		Target:     targetAddr,
		SenderLink: link,
		SenderAddr: sender,
	}, nil
}
