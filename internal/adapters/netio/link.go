package netio

import (
	"context"
	"fmt"

	"github.com/google/gopacket"
	"github.com/google/gopacket/pcap"
	"go.uber.org/zap"

	"github.com/SepehrImanian/ndsol/internal/ports"
)

// neighbourFilter selects solicitations and advertisements without extension
// headers, which is all neighbour discovery allows.
const neighbourFilter = "icmp6 and (ip6[40] == 135 or ip6[40] == 136)"

// Link is a pcap handle on an Ethernet interface.
type Link struct {
	iface string
	h     *pcap.Handle
	log   *zap.SugaredLogger
}

var (
	_ ports.Link   = (*Link)(nil)
	_ ports.Output = (*Link)(nil)
)

// OpenLink opens iface for neighbour discovery traffic.
func OpenLink(iface string, snaplen int, log *zap.SugaredLogger) (*Link, error) {
	l, err := open(iface, snaplen, neighbourFilter, log)
	if err != nil {
		return nil, err
	}
	// Our own solicitations and advertisements must not come back to us.
	if err := l.h.SetDirection(pcap.DirectionIn); err != nil {
		l.Close()
		return nil, fmt.Errorf("failed to set capture direction on %s: %w", iface, err)
	}
	return l, nil
}

// OpenOutput opens iface for sending only.
func OpenOutput(iface string, snaplen int, log *zap.SugaredLogger) (*Link, error) {
	// Nothing is read from it, so keep the kernel from queueing frames.
	return open(iface, snaplen, "less 1", log)
}

func open(iface string, snaplen int, filter string, log *zap.SugaredLogger) (*Link, error) {
	h, err := pcap.OpenLive(iface, int32(snaplen), true, pcap.BlockForever)
	if err != nil {
		return nil, fmt.Errorf("failed to open %s: %w", iface, err)
	}
	if err := h.SetBPFFilter(filter); err != nil {
		h.Close()
		return nil, fmt.Errorf("failed to set filter on %s: %w", iface, err)
	}
	return &Link{iface: iface, h: h, log: log.With(zap.String("iface", iface))}, nil
}

// Run delivers captured frames to onFrame until ctx is canceled or the
// handle is closed.
func (l *Link) Run(ctx context.Context, onFrame func(frame []byte)) error {
	l.log.Debugf("starting link reader")
	defer l.log.Debugf("stopped link reader")

	src := gopacket.NewPacketSource(l.h, l.h.LinkType())
	src.Lazy = true
	src.NoCopy = true
	packets := src.Packets()
	for {
		select {
		case <-ctx.Done():
			return nil
		case pkt, ok := <-packets:
			if !ok {
				return nil
			}
			onFrame(pkt.Data())
		}
	}
}

func (l *Link) Send(frame []byte) error {
	return l.h.WritePacketData(frame)
}

// Close releases the handle, which also ends Run.
func (l *Link) Close() {
	l.h.Close()
}
