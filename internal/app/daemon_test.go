package app

import (
	"context"
	"net/netip"
	"sync"
	"testing"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/SepehrImanian/ndsol/internal/adapters/repo"
	"github.com/SepehrImanian/ndsol/internal/core"
	"github.com/SepehrImanian/ndsol/internal/domain"
	"github.com/SepehrImanian/ndsol/internal/proto"
)

var (
	ownAddr = netip.MustParseAddr("3ffe:1ce1:2::1")
	ownLink = domain.LinkAddr{0x00, 0xe0, 0x29, 0x05, 0xe5, 0x6f}
	d1      = netip.MustParseAddr("3ffe:1ce1:2::d1")
	d1Link  = domain.LinkAddr{0x02, 0x00, 0x00, 0x00, 0x00, 0xd1}
)

type fakeLink struct {
	in chan []byte

	mu   sync.Mutex
	sent [][]byte
}

func newFakeLink() *fakeLink {
	return &fakeLink{in: make(chan []byte)}
}

func (l *fakeLink) Run(ctx context.Context, onFrame func(frame []byte)) error {
	for {
		select {
		case <-ctx.Done():
			return nil
		case f := <-l.in:
			onFrame(f)
		}
	}
}

func (l *fakeLink) Send(frame []byte) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	l.sent = append(l.sent, append([]byte(nil), frame...))
	return nil
}

func (l *fakeLink) frames() [][]byte {
	l.mu.Lock()
	defer l.mu.Unlock()

	return append([][]byte(nil), l.sent...)
}

type fakeIngress struct {
	in chan domain.Packet
}

func (i *fakeIngress) Run(ctx context.Context, onPacket func(pkt domain.Packet)) error {
	for {
		select {
		case <-ctx.Done():
			return nil
		case p := <-i.in:
			onPacket(p)
		}
	}
}

type daemonEnv struct {
	clock    *clock.Mock
	cache    *repo.AddressCache
	link     *fakeLink
	ingress  *fakeIngress
	resolver *core.Resolver
	cancel   context.CancelFunc
	done     chan error
}

func startDaemon(t *testing.T) *daemonEnv {
	t.Helper()

	log := zaptest.NewLogger(t).Sugar()
	env := &daemonEnv{
		clock:   clock.NewMock(),
		cache:   repo.NewAddressCache(),
		link:    newFakeLink(),
		ingress: &fakeIngress{in: make(chan domain.Packet)},
		done:    make(chan error, 1),
	}

	r, err := core.NewResolver(
		core.Identity{Addr: ownAddr, LinkAddr: ownLink},
		env.cache,
		env.link,
		core.WithClock(env.clock),
		core.WithLog(log),
	)
	require.NoError(t, err)
	env.resolver = r

	d := &Daemon{
		Resolver: r,
		Link:     env.link,
		Ingress:  env.ingress,
		Clock:    env.clock,
		Logger:   log,
	}

	ctx, cancel := context.WithCancel(context.Background())
	env.cancel = cancel
	go func() {
		env.done <- d.Run(ctx)
	}()
	t.Cleanup(env.stop)
	return env
}

func (e *daemonEnv) stop() {
	if e.cancel == nil {
		return
	}
	e.cancel()
	e.cancel = nil
	<-e.done
}

func TestDaemonResolvesAndForwards(t *testing.T) {
	env := startDaemon(t)

	payload := make([]byte, 64)
	payload[0] = 0x60
	env.ingress.in <- domain.Packet{Dst: d1, Data: payload}

	require.Eventually(t, func() bool {
		return env.resolver.Stats().QueriesSent == 1
	}, time.Second, time.Millisecond)

	ns, err := proto.Decode(env.link.frames()[0])
	require.NoError(t, err)
	require.Equal(t, proto.Solicitation, ns.Type)
	require.Equal(t, d1, ns.Target)

	na, err := proto.EncodeAdvertisement(d1, d1Link, ownAddr, ownLink)
	require.NoError(t, err)
	env.link.in <- na

	require.Eventually(t, func() bool {
		return env.resolver.Stats().Forwarded == 1
	}, time.Second, time.Millisecond)

	frames := env.link.frames()
	require.Len(t, frames, 2)
	require.Equal(t, d1Link[:], frames[1][0:6])
	require.Equal(t, payload, frames[1][14:])
}

func TestDaemonCountsMalformedFrames(t *testing.T) {
	env := startDaemon(t)

	env.link.in <- []byte{0x01, 0x02, 0x03}

	require.Eventually(t, func() bool {
		return env.resolver.Stats().DecodeErrors == 1
	}, time.Second, time.Millisecond)
}

func TestDaemonExpiresPendingEntries(t *testing.T) {
	env := startDaemon(t)

	payload := make([]byte, 64)
	payload[0] = 0x60
	env.ingress.in <- domain.Packet{Dst: d1, Data: payload}

	require.Eventually(t, func() bool {
		env.clock.Add(core.DefaultExpireTimeout)
		return env.resolver.Stats().PacketsKilled == 1
	}, time.Second, time.Millisecond)
	require.Empty(t, env.resolver.Table())
}

func TestDaemonStopsOnCancel(t *testing.T) {
	env := startDaemon(t)

	env.cancel()
	env.cancel = nil
	require.NoError(t, <-env.done)
}
