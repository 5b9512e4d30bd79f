package netio

import (
	"context"
	"fmt"
	"net/netip"

	"github.com/google/gopacket"
	"github.com/google/gopacket/pcap"
	"go.uber.org/zap"

	"github.com/SepehrImanian/ndsol/internal/domain"
	"github.com/SepehrImanian/ndsol/internal/ports"
)

// Ingress captures IPv6 packets that are waiting for a next-hop link
// address.
type Ingress struct {
	h       *pcap.Handle
	nextHop netip.Addr
	log     *zap.SugaredLogger
}

var _ ports.PacketSource = (*Ingress)(nil)

// OpenIngress captures on iface. When nextHop is valid every packet is
// delivered to it instead of its own destination.
func OpenIngress(iface string, snaplen int, nextHop netip.Addr, log *zap.SugaredLogger) (*Ingress, error) {
	h, err := pcap.OpenLive(iface, int32(snaplen), true, pcap.BlockForever)
	if err != nil {
		return nil, fmt.Errorf("failed to open %s: %w", iface, err)
	}
	if err := h.SetBPFFilter("ip6"); err != nil {
		h.Close()
		return nil, fmt.Errorf("failed to set filter on %s: %w", iface, err)
	}
	return &Ingress{
		h:       h,
		nextHop: nextHop,
		log:     log.With(zap.String("iface", iface)),
	}, nil
}

func (i *Ingress) Run(ctx context.Context, onPacket func(pkt domain.Packet)) error {
	i.log.Debugf("starting ingress reader")
	defer i.log.Debugf("stopped ingress reader")

	src := gopacket.NewPacketSource(i.h, i.h.LinkType())
	packets := src.Packets()
	for {
		select {
		case <-ctx.Done():
			return nil
		case raw, ok := <-packets:
			if !ok {
				return nil
			}
			pkt, err := decodeIngress(raw, i.nextHop)
			if err != nil {
				i.log.Debugw("skipping captured packet", zap.Error(err))
				continue
			}
			onPacket(pkt)
		}
	}
}

func (i *Ingress) Close() {
	i.h.Close()
}
