package app

import (
	"context"
	"errors"

	"github.com/benbjohnson/clock"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/SepehrImanian/ndsol/internal/core"
	"github.com/SepehrImanian/ndsol/internal/domain"
	"github.com/SepehrImanian/ndsol/internal/ports"
	"github.com/SepehrImanian/ndsol/internal/proto"
)

// Daemon feeds captured traffic into the resolver and keeps its cache
// swept.
type Daemon struct {
	Resolver *core.Resolver
	Link     ports.Link
	Ingress  ports.PacketSource

	// Clock drives the expiry ticker. It must be the resolver's clock.
	Clock  clock.Clock
	Logger *zap.SugaredLogger
}

func (d *Daemon) Run(ctx context.Context) error {
	id := d.Resolver.Identity()
	d.Logger.Infow("starting neighbour resolver",
		zap.Stringer("addr", id.Addr),
		zap.Stringer("link_addr", id.LinkAddr),
		zap.Duration("expire_timeout", d.Resolver.Timeout()),
		zap.String("policy", d.Resolver.PolicyName()),
	)
	defer d.Logger.Infow("stopped neighbour resolver")

	scheduler := &ExpiryScheduler{
		Interval: d.Resolver.Timeout(),
		Clock:    d.Clock,
		Sweeper:  d.Resolver,
		Log:      d.Logger,
	}

	wg, ctx := errgroup.WithContext(ctx)
	wg.Go(func() error {
		return d.Link.Run(ctx, d.onFrame)
	})
	wg.Go(func() error {
		return d.Ingress.Run(ctx, d.onPacket)
	})
	wg.Go(func() error {
		return scheduler.Run(ctx)
	})

	return wg.Wait()
}

func (d *Daemon) onFrame(frame []byte) {
	err := d.Resolver.HandleInbound(frame)
	if err == nil {
		return
	}

	var de *proto.DecodeError
	if errors.As(err, &de) {
		d.Logger.Debugw("dropped inbound frame", zap.Error(err))
		return
	}
	d.Logger.Warnw("failed to handle inbound frame", zap.Error(err))
}

func (d *Daemon) onPacket(pkt domain.Packet) {
	if err := d.Resolver.HandleOutgoing(pkt); err != nil {
		d.Logger.Warnw("failed to handle outgoing packet",
			zap.Stringer("dst", pkt.Dst),
			zap.Error(err),
		)
	}
}
