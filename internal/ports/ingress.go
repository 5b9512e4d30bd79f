package ports

import (
	"context"

	"github.com/SepehrImanian/ndsol/internal/domain"
)

// PacketSource feeds outgoing IPv6 packets that need a next-hop link
// address.
type PacketSource interface {
	Run(ctx context.Context, onPacket func(pkt domain.Packet)) error
}
