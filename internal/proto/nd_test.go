package proto

import (
	"errors"
	"net"
	"net/netip"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/google/gopacket"
	"github.com/google/gopacket/layers"
	"github.com/stretchr/testify/require"

	"github.com/SepehrImanian/ndsol/internal/domain"
)

var (
	ownAddr  = netip.MustParseAddr("3ffe:1ce1:2::1")
	ownLink  = domain.LinkAddr{0x00, 0xe0, 0x29, 0x05, 0xe5, 0x6f}
	peerAddr = netip.MustParseAddr("3ffe:1ce1:2::abcd:1234")
	peerLink = domain.LinkAddr{0x02, 0x00, 0x00, 0xaa, 0xbb, 0xcc}
)

func requireDecodeError(t *testing.T, err error) {
	t.Helper()

	var de *DecodeError
	require.Error(t, err)
	require.True(t, errors.As(err, &de), "want *DecodeError, got %T: %v", err, err)
}

func TestSolicitationRoundTrip(t *testing.T) {
	frame, err := EncodeSolicitation(peerAddr, ownLink, ownAddr)
	require.NoError(t, err)

	msg, err := Decode(frame)
	require.NoError(t, err)

	want := Message{
		Type:       Solicitation,
		Target:     peerAddr,
		SenderLink: ownLink,
		SenderAddr: ownAddr,
	}
	if diff := cmp.Diff(want, msg, cmp.Comparer(func(a, b netip.Addr) bool { return a == b })); diff != "" {
		t.Fatalf("solicitation mismatch (-want +got):\n%s", diff)
	}
}

func TestSolicitationAddressing(t *testing.T) {
	frame, err := EncodeSolicitation(peerAddr, ownLink, ownAddr)
	require.NoError(t, err)

	pkt := gopacket.NewPacket(frame, layers.LayerTypeEthernet, gopacket.Default)
	require.Nil(t, pkt.ErrorLayer())

	eth := pkt.Layer(layers.LayerTypeEthernet).(*layers.Ethernet)
	require.Equal(t, net.HardwareAddr(domain.BroadcastLinkAddr[:]), eth.DstMAC)
	require.Equal(t, ownLink.HardwareAddr(), eth.SrcMAC)

	ip6 := pkt.Layer(layers.LayerTypeIPv6).(*layers.IPv6)
	require.Equal(t, uint8(255), ip6.HopLimit)
	dst, _ := netip.AddrFromSlice(ip6.DstIP)
	require.Equal(t, netip.MustParseAddr("ff02::1:ffcd:1234"), dst)
}

func TestAdvertisementRoundTrip(t *testing.T) {
	frame, err := EncodeAdvertisement(ownAddr, ownLink, peerAddr, peerLink)
	require.NoError(t, err)

	msg, err := Decode(frame)
	require.NoError(t, err)
	require.Equal(t, Message{
		Type:       Advertisement,
		Target:     ownAddr,
		SenderLink: ownLink,
		SenderAddr: ownAddr,
	}, msg)

	pkt := gopacket.NewPacket(frame, layers.LayerTypeEthernet, gopacket.Default)
	eth := pkt.Layer(layers.LayerTypeEthernet).(*layers.Ethernet)
	require.Equal(t, peerLink.HardwareAddr(), eth.DstMAC)

	na := pkt.Layer(layers.LayerTypeICMPv6NeighborAdvertisement).(*layers.ICMPv6NeighborAdvertisement)
	require.Equal(t, uint8(flagSolicited|flagOverride), na.Flags)
}

func TestAdvertisementToUnspecifiedGoesToAllNodes(t *testing.T) {
	frame, err := EncodeAdvertisement(ownAddr, ownLink, netip.IPv6Unspecified(), peerLink)
	require.NoError(t, err)

	pkt := gopacket.NewPacket(frame, layers.LayerTypeEthernet, gopacket.Default)
	eth := pkt.Layer(layers.LayerTypeEthernet).(*layers.Ethernet)
	require.Equal(t, allNodesLink.HardwareAddr(), eth.DstMAC)

	ip6 := pkt.Layer(layers.LayerTypeIPv6).(*layers.IPv6)
	dst, _ := netip.AddrFromSlice(ip6.DstIP)
	require.Equal(t, AllNodes, dst)

	na := pkt.Layer(layers.LayerTypeICMPv6NeighborAdvertisement).(*layers.ICMPv6NeighborAdvertisement)
	require.Equal(t, uint8(flagOverride), na.Flags)
}

func TestSolicitationWithoutSourceOptionUsesFrameSource(t *testing.T) {
	frame, err := EncodeSolicitation(ownAddr, peerLink, netip.IPv6Unspecified())
	require.NoError(t, err)

	msg, err := Decode(frame)
	require.NoError(t, err)
	require.Equal(t, Solicitation, msg.Type)
	require.Equal(t, peerLink, msg.SenderLink)
	require.True(t, msg.SenderAddr.IsUnspecified())
}

func TestEncodeRejectsIPv4(t *testing.T) {
	_, err := EncodeSolicitation(netip.MustParseAddr("192.0.2.1"), ownLink, ownAddr)
	require.Error(t, err)

	_, err = EncodeAdvertisement(ownAddr, ownLink, netip.MustParseAddr("192.0.2.1"), peerLink)
	require.Error(t, err)
}

func TestDecodeTruncated(t *testing.T) {
	frame, err := EncodeSolicitation(peerAddr, ownLink, ownAddr)
	require.NoError(t, err)

	for _, n := range []int{0, 10, 14, 40, 54, 60, 70, len(frame) - 8, len(frame) - 4, len(frame) - 1} {
		_, err := Decode(frame[:n])
		requireDecodeError(t, err)
	}
}

func TestDecodeTruncatedLinkAddressOption(t *testing.T) {
	ns, err := EncodeSolicitation(peerAddr, ownLink, ownAddr)
	require.NoError(t, err)
	na, err := EncodeAdvertisement(ownAddr, ownLink, peerAddr, peerLink)
	require.NoError(t, err)

	for _, frame := range [][]byte{ns, na} {
		// Cutting exactly the option leaves a well-formed ICMPv6 body that
		// only the IPv6 payload length gives away.
		msg, err := Decode(frame[:len(frame)-8])
		requireDecodeError(t, err)
		require.Equal(t, Message{}, msg)
	}
}

func TestDecodeWrongEthertype(t *testing.T) {
	frame, err := EncodeSolicitation(peerAddr, ownLink, ownAddr)
	require.NoError(t, err)
	frame[12], frame[13] = 0x08, 0x06

	_, err = Decode(frame)
	requireDecodeError(t, err)
}

func serializeFrame(t *testing.T, hopLimit uint8, lyrs ...gopacket.SerializableLayer) []byte {
	t.Helper()

	eth := &layers.Ethernet{
		SrcMAC:       peerLink.HardwareAddr(),
		DstMAC:       ownLink.HardwareAddr(),
		EthernetType: layers.EthernetTypeIPv6,
	}
	ip6 := &layers.IPv6{
		Version:    6,
		NextHeader: layers.IPProtocolICMPv6,
		HopLimit:   hopLimit,
		SrcIP:      ip(peerAddr),
		DstIP:      ip(ownAddr),
	}
	for _, l := range lyrs {
		if icmp, ok := l.(*layers.ICMPv6); ok {
			require.NoError(t, icmp.SetNetworkLayerForChecksum(ip6))
		}
	}

	buf := gopacket.NewSerializeBuffer()
	opts := gopacket.SerializeOptions{FixLengths: true, ComputeChecksums: true}
	require.NoError(t, gopacket.SerializeLayers(buf, opts, append([]gopacket.SerializableLayer{eth, ip6}, lyrs...)...))
	return buf.Bytes()
}

func TestDecodeLinkAddressLengthMismatch(t *testing.T) {
	frame := serializeFrame(t, 255,
		&layers.ICMPv6{TypeCode: layers.CreateICMPv6TypeCode(layers.ICMPv6TypeNeighborAdvertisement, 0)},
		&layers.ICMPv6NeighborAdvertisement{
			TargetAddress: ip(peerAddr),
			Options: layers.ICMPv6Options{{
				Type: layers.ICMPv6OptTargetAddress,
				Data: make([]byte, 14),
			}},
		},
	)

	_, err := Decode(frame)
	requireDecodeError(t, err)
}

func TestDecodeBadHopLimit(t *testing.T) {
	frame := serializeFrame(t, 64,
		&layers.ICMPv6{TypeCode: layers.CreateICMPv6TypeCode(layers.ICMPv6TypeNeighborSolicitation, 0)},
		&layers.ICMPv6NeighborSolicitation{TargetAddress: ip(ownAddr)},
	)

	_, err := Decode(frame)
	requireDecodeError(t, err)
}

func TestDecodeOtherICMPv6(t *testing.T) {
	frame := serializeFrame(t, 255,
		&layers.ICMPv6{TypeCode: layers.CreateICMPv6TypeCode(layers.ICMPv6TypeEchoRequest, 0)},
		&layers.ICMPv6Echo{Identifier: 1, SeqNumber: 1},
	)

	_, err := Decode(frame)
	requireDecodeError(t, err)
}

func TestDecodeMulticastTarget(t *testing.T) {
	frame := serializeFrame(t, 255,
		&layers.ICMPv6{TypeCode: layers.CreateICMPv6TypeCode(layers.ICMPv6TypeNeighborSolicitation, 0)},
		&layers.ICMPv6NeighborSolicitation{TargetAddress: ip(AllNodes)},
	)

	_, err := Decode(frame)
	requireDecodeError(t, err)
}

func TestFrame(t *testing.T) {
	payload := make([]byte, 80)
	payload[0] = 0x60

	frame, err := Frame(ownLink, peerLink, payload)
	require.NoError(t, err)
	require.Len(t, frame, 14+len(payload))
	require.Equal(t, peerLink[:], frame[0:6])
	require.Equal(t, ownLink[:], frame[6:12])
	require.Equal(t, []byte{0x86, 0xdd}, frame[12:14])
	require.Equal(t, payload, frame[14:])
}

func TestSolicitedNodeAddr(t *testing.T) {
	got := SolicitedNodeAddr(netip.MustParseAddr("fe80::2aa:ff:fe28:9c5a"))
	require.Equal(t, netip.MustParseAddr("ff02::1:ff28:9c5a"), got)
}
