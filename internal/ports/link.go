package ports

import (
	"context"
)

// Output accepts complete link-layer frames.
type Output interface {
	Send(frame []byte) error
}

// Link is an Ethernet segment: it delivers inbound neighbour discovery
// frames and accepts outbound frames.
type Link interface {
	Output
	Run(ctx context.Context, onFrame func(frame []byte)) error
}
