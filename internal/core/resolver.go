package core

import (
	"errors"
	"fmt"
	"net/netip"
	"slices"
	"sync"
	"sync/atomic"
	"time"

	"github.com/benbjohnson/clock"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/SepehrImanian/ndsol/internal/domain"
	"github.com/SepehrImanian/ndsol/internal/ports"
	"github.com/SepehrImanian/ndsol/internal/proto"
)

// DefaultExpireTimeout is how long an entry survives without a reply.
const DefaultExpireTimeout = 15 * time.Second

// Identity is the address pair the resolver speaks for on its link.
type Identity struct {
	Addr     netip.Addr
	LinkAddr domain.LinkAddr
}

func (id Identity) validate() error {
	if !id.Addr.Is6() || id.Addr.Is4In6() || id.Addr.IsUnspecified() || id.Addr.IsMulticast() {
		return fmt.Errorf("address %s must be an IPv6 unicast address", id.Addr)
	}
	if id.LinkAddr.IsZero() || id.LinkAddr.IsMulticast() {
		return fmt.Errorf("link address %s must be a unicast EUI-48 address", id.LinkAddr)
	}
	return nil
}

// Option configures the resolver.
type Option func(*options)

// WithExpireTimeout sets the age after which entries are swept.
func WithExpireTimeout(timeout time.Duration) Option {
	return func(o *options) {
		o.Timeout = timeout
	}
}

// WithSolicitPolicy sets the policy for re-soliciting pending destinations.
func WithSolicitPolicy(policy domain.SolicitPolicy) Option {
	return func(o *options) {
		o.Policy = policy
	}
}

// WithQueryOutput routes solicitations to a dedicated output.
func WithQueryOutput(out ports.Output) Option {
	return func(o *options) {
		o.QueryOutput = out
	}
}

// WithQueryRate caps solicitations across all destinations. A zero limit
// disables the cap.
func WithQueryRate(limit rate.Limit, burst int) Option {
	return func(o *options) {
		if limit <= 0 {
			o.Limiter = nil
			return
		}
		o.Limiter = rate.NewLimiter(limit, burst)
	}
}

func WithClock(clk clock.Clock) Option {
	return func(o *options) {
		o.Clock = clk
	}
}

func WithLog(log *zap.SugaredLogger) Option {
	return func(o *options) {
		o.Log = log
	}
}

type options struct {
	Timeout     time.Duration
	Policy      domain.SolicitPolicy
	QueryOutput ports.Output
	Limiter     *rate.Limiter
	Clock       clock.Clock
	Log         *zap.SugaredLogger
}

func newOptions() *options {
	return &options{
		Timeout: DefaultExpireTimeout,
		Policy:  domain.AlwaysSolicit{},
		Clock:   clock.New(),
		Log:     zap.NewNop().Sugar(),
	}
}

// Stats is a snapshot of the resolver counters.
type Stats struct {
	QueriesSent        uint64
	PacketsKilled      uint64
	DecodeErrors       uint64
	Forwarded          uint64
	AdvertisementsSent uint64
	QueriesSuppressed  uint64
}

type counters struct {
	queriesSent        atomic.Uint64
	packetsKilled      atomic.Uint64
	decodeErrors       atomic.Uint64
	forwarded          atomic.Uint64
	advertisementsSent atomic.Uint64
	queriesSuppressed  atomic.Uint64
}

// TableEntry describes one cache entry for diagnostics.
type TableEntry struct {
	Addr     netip.Addr
	LinkAddr domain.LinkAddr
	State    domain.State
	Polling  bool
	Queued   bool
	Age      time.Duration
}

// Resolver maps next-hop IPv6 addresses to link addresses with neighbour
// discovery.
//
// Packets for unresolved destinations are held, one per destination, until
// an advertisement arrives or the entry expires. All methods serialize on a
// single mutex; counters are readable without it.
type Resolver struct {
	mu sync.Mutex

	id       Identity
	cache    ports.Cache
	out      ports.Output
	queryOut ports.Output

	timeout time.Duration
	policy  domain.SolicitPolicy
	limiter *rate.Limiter
	clock   clock.Clock
	log     *zap.SugaredLogger

	stats counters
}

// NewResolver creates a resolver speaking for id. Frames go to out;
// solicitations go to the query output when one is configured.
func NewResolver(id Identity, cache ports.Cache, out ports.Output, options ...Option) (*Resolver, error) {
	if err := id.validate(); err != nil {
		return nil, err
	}
	if cache == nil || out == nil {
		return nil, errors.New("cache and output are required")
	}

	opts := newOptions()
	for _, o := range options {
		o(opts)
	}
	if opts.Timeout <= 0 {
		return nil, fmt.Errorf("expire timeout must be positive, got %s", opts.Timeout)
	}

	queryOut := opts.QueryOutput
	if queryOut == nil {
		queryOut = out
	}

	return &Resolver{
		id:       id,
		cache:    cache,
		out:      out,
		queryOut: queryOut,
		timeout:  opts.Timeout,
		policy:   opts.Policy,
		limiter:  opts.Limiter,
		clock:    opts.Clock,
		log:      opts.Log,
	}, nil
}

func (r *Resolver) Identity() Identity {
	return r.id
}

func (r *Resolver) Timeout() time.Duration {
	return r.timeout
}

func (r *Resolver) PolicyName() string {
	return r.policy.Name()
}

// HandleOutgoing delivers pkt if its destination is resolved and otherwise
// holds it and solicits the destination. A packet already held for the same
// destination is dropped.
func (r *Resolver) HandleOutgoing(pkt domain.Packet) error {
	if !pkt.Dst.Is6() {
		return fmt.Errorf("destination %s is not an IPv6 address", pkt.Dst)
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if pkt.Dst.IsMulticast() {
		return r.forward(multicastLinkAddr(pkt.Dst), &pkt)
	}

	if e, ok := r.cache.Lookup(pkt.Dst); ok && e.State == domain.StateResolved {
		return r.forward(e.LinkAddr, &pkt)
	}

	now := r.clock.Now()
	e, created := r.cache.GetOrInsertPending(pkt.Dst, now)
	old, err := r.cache.SetQueuedPacket(pkt.Dst, &pkt)
	if err != nil {
		return err
	}
	if old != nil {
		r.stats.packetsKilled.Add(1)
		r.log.Debugw("replaced queued packet", zap.Stringer("dst", pkt.Dst))
	}

	if !created && !r.policy.Allow(e, now) {
		r.stats.queriesSuppressed.Add(1)
		return nil
	}
	return r.solicit(pkt.Dst, now)
}

// HandleInbound processes a neighbour discovery frame received on the link.
//
// Advertisements resolve destinations that have an entry and release the
// held packet; advertisements for other addresses are ignored. A
// solicitation for our own address is answered without touching the cache.
// Messages carrying our own link address are ignored.
func (r *Resolver) HandleInbound(frame []byte) error {
	msg, err := proto.Decode(frame)
	if err != nil {
		r.stats.decodeErrors.Add(1)
		return err
	}
	if msg.SenderLink == r.id.LinkAddr {
		// Looped back from our own output.
		return nil
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	switch msg.Type {
	case proto.Solicitation:
		return r.advertise(msg)
	case proto.Advertisement:
		return r.learn(msg)
	default:
		return nil
	}
}

// Sweep evicts expired entries and returns how many were removed.
func (r *Resolver) Sweep() int {
	r.mu.Lock()
	defer r.mu.Unlock()

	evicted := r.cache.Sweep(r.clock.Now(), r.timeout)
	for _, ev := range evicted {
		if ev.Dropped != nil {
			r.stats.packetsKilled.Add(1)
		}
		r.log.Debugw("evicted neighbour entry",
			zap.Stringer("addr", ev.Entry.Addr),
			zap.Stringer("state", ev.Entry.State),
			zap.Bool("dropped_packet", ev.Dropped != nil),
		)
	}
	return len(evicted)
}

// Stats returns the current counters.
func (r *Resolver) Stats() Stats {
	return Stats{
		QueriesSent:        r.stats.queriesSent.Load(),
		PacketsKilled:      r.stats.packetsKilled.Load(),
		DecodeErrors:       r.stats.decodeErrors.Load(),
		Forwarded:          r.stats.forwarded.Load(),
		AdvertisementsSent: r.stats.advertisementsSent.Load(),
		QueriesSuppressed:  r.stats.queriesSuppressed.Load(),
	}
}

// Table returns the cache contents ordered by address.
func (r *Resolver) Table() []TableEntry {
	r.mu.Lock()
	defer r.mu.Unlock()

	now := r.clock.Now()
	entries := r.cache.Entries()
	out := make([]TableEntry, 0, len(entries))
	for _, e := range entries {
		out = append(out, TableEntry{
			Addr:     e.Addr,
			LinkAddr: e.LinkAddr,
			State:    e.State,
			Polling:  e.Polling,
			Queued:   e.Queued != nil,
			Age:      now.Sub(e.LastResponse),
		})
	}
	slices.SortFunc(out, func(a, b TableEntry) int {
		return a.Addr.Compare(b.Addr)
	})
	return out
}

func (r *Resolver) solicit(target netip.Addr, now time.Time) error {
	if r.limiter != nil && !r.limiter.AllowN(now, 1) {
		r.stats.queriesSuppressed.Add(1)
		r.log.Debugw("solicitation rate limited", zap.Stringer("target", target))
		return nil
	}

	frame, err := proto.EncodeSolicitation(target, r.id.LinkAddr, r.id.Addr)
	if err != nil {
		return err
	}
	if err := r.queryOut.Send(frame); err != nil {
		return fmt.Errorf("send solicitation for %s: %w", target, err)
	}
	r.stats.queriesSent.Add(1)
	r.log.Debugw("sent solicitation", zap.Stringer("target", target))

	return r.cache.MarkPolling(target, now)
}

func (r *Resolver) advertise(msg proto.Message) error {
	if msg.Target != r.id.Addr {
		return nil
	}

	frame, err := proto.EncodeAdvertisement(r.id.Addr, r.id.LinkAddr, msg.SenderAddr, msg.SenderLink)
	if err != nil {
		return err
	}
	if err := r.out.Send(frame); err != nil {
		return fmt.Errorf("send advertisement to %s: %w", msg.SenderAddr, err)
	}
	r.stats.advertisementsSent.Add(1)
	r.log.Debugw("answered solicitation",
		zap.Stringer("requester", msg.SenderAddr),
		zap.Stringer("requester_link", msg.SenderLink),
	)
	return nil
}

func (r *Resolver) learn(msg proto.Message) error {
	pkt, err := r.cache.Resolve(msg.Target, msg.SenderLink, r.clock.Now())
	if errors.Is(err, domain.ErrNotFound) {
		r.log.Debugw("ignoring advertisement for unknown address", zap.Stringer("target", msg.Target))
		return nil
	}
	if err != nil {
		return err
	}

	r.log.Debugw("resolved neighbour",
		zap.Stringer("addr", msg.Target),
		zap.Stringer("link_addr", msg.SenderLink),
	)
	if pkt == nil {
		return nil
	}
	return r.forward(msg.SenderLink, pkt)
}

func (r *Resolver) forward(link domain.LinkAddr, pkt *domain.Packet) error {
	frame, err := proto.Frame(r.id.LinkAddr, link, pkt.Data)
	if err != nil {
		return err
	}
	if err := r.out.Send(frame); err != nil {
		return fmt.Errorf("forward packet to %s: %w", pkt.Dst, err)
	}
	r.stats.forwarded.Add(1)
	return nil
}

// multicastLinkAddr maps an IPv6 multicast group to its Ethernet address.
func multicastLinkAddr(group netip.Addr) domain.LinkAddr {
	a := group.As16()
	return domain.LinkAddr{0x33, 0x33, a[12], a[13], a[14], a[15]}
}
