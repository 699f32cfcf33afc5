// Package feed owns the live tick feed connection: one streaming subscription
// to the quote transport, an explicit state machine around it, and a channel
// handing decoded tick batches to the valuation core. Reconnection is an
// operator action; a faulted feed stays in ERROR so the dashboard never
// silently resumes after an unexplained drop.
package feed

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/optiondesk/paperbot/internal/domain"
	"github.com/optiondesk/paperbot/internal/platform/kite"
)

// Transport is the streaming client surface the feed drives. A fresh
// transport is built for every connection attempt.
type Transport interface {
	Connect(ctx context.Context) error
	Subscribe(tokens []uint32) error
	SetModeLTP(tokens []uint32) error
	Close() error
	OnTicks(kite.TickHandler)
	OnClose(kite.CloseHandler)
}

// TransportFactory builds a transport for one connection attempt.
type TransportFactory func() Transport

// Config wires the feed's collaborators.
type Config struct {
	// NewTransport is called on every Start.
	NewTransport TransportFactory
	// Subscriptions returns the full token set to subscribe on connect:
	// tracked indices plus every ACTIVE position instrument.
	Subscriptions func() []uint32
	// Authenticated reports whether session credentials are held.
	Authenticated func() bool
	// BatchBuffer is the tick batch channel depth; 0 means 256.
	BatchBuffer int
	Logger      *slog.Logger
	Now         func() time.Time
}

// Feed is the tick feed connection state machine. All methods are safe for
// concurrent use. The transport's read loop stays outside the feed lock;
// batches cross into the core through the Batches channel.
type Feed struct {
	mu          sync.Mutex
	state       domain.FeedState
	transport   Transport
	subscribed  map[uint32]struct{}
	lastErr     string
	lastTickAt  time.Time
	connectedAt time.Time
	gen         uint64 // connection generation, stale callbacks are ignored

	newTransport   TransportFactory
	subscriptions  func() []uint32
	authenticated  func() bool
	batches        chan domain.TickBatch
	droppedBatches uint64
	changes        chan struct{}
	logger         *slog.Logger
	now            func() time.Time
}

// New creates a feed in the DISCONNECTED state.
func New(cfg Config) *Feed {
	if cfg.BatchBuffer <= 0 {
		cfg.BatchBuffer = 256
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	return &Feed{
		state:         domain.FeedDisconnected,
		subscribed:    make(map[uint32]struct{}),
		newTransport:  cfg.NewTransport,
		subscriptions: cfg.Subscriptions,
		authenticated: cfg.Authenticated,
		batches:       make(chan domain.TickBatch, cfg.BatchBuffer),
		changes:       make(chan struct{}, 1),
		logger:        cfg.Logger.With(slog.String("component", "feed")),
		now:           cfg.Now,
	}
}

// Batches delivers decoded tick batches in arrival order. When the consumer
// falls behind, new batches are dropped rather than stalling the transport.
func (f *Feed) Batches() <-chan domain.TickBatch { return f.batches }

// Changes signals on every observable state transition, coalesced.
func (f *Feed) Changes() <-chan struct{} { return f.changes }

func (f *Feed) changed() {
	select {
	case f.changes <- struct{}{}:
	default:
	}
}

// Start opens the connection and subscribes the full set in LTP mode.
// It fails with ErrAlreadyConnected while CONNECTING or CONNECTED and with
// ErrNotAuthenticated when no session credentials are held. Allowed from
// DISCONNECTED and ERROR; starting from ERROR is the explicit operator
// restart.
func (f *Feed) Start(ctx context.Context) error {
	f.mu.Lock()
	if f.state == domain.FeedConnected || f.state == domain.FeedConnecting {
		f.mu.Unlock()
		return domain.ErrAlreadyConnected
	}
	if f.authenticated != nil && !f.authenticated() {
		f.mu.Unlock()
		return domain.ErrNotAuthenticated
	}

	f.gen++
	gen := f.gen
	f.state = domain.FeedConnecting
	f.lastErr = ""
	transport := f.newTransport()
	f.transport = transport
	f.mu.Unlock()
	f.changed()

	transport.OnTicks(func(ticks []domain.Tick) { f.deliver(gen, ticks) })
	transport.OnClose(func(err error) { f.fault(gen, err) })

	tokens := f.subscriptions()
	if err := f.connect(ctx, transport, tokens); err != nil {
		f.mu.Lock()
		if f.gen == gen && f.state == domain.FeedConnecting {
			f.state = domain.FeedError
			f.lastErr = err.Error()
			f.transport = nil
		}
		f.mu.Unlock()
		f.changed()
		_ = transport.Close()
		return err
	}

	f.mu.Lock()
	if f.gen != gen || f.state != domain.FeedConnecting {
		// stopped while the dial was in flight
		f.mu.Unlock()
		_ = transport.Close()
		return nil
	}
	f.state = domain.FeedConnected
	f.connectedAt = f.now()
	f.subscribed = make(map[uint32]struct{}, len(tokens))
	for _, tok := range tokens {
		f.subscribed[tok] = struct{}{}
	}
	f.mu.Unlock()
	f.changed()

	f.logger.Info("feed connected", slog.Int("subscribed", len(tokens)))
	return nil
}

func (f *Feed) connect(ctx context.Context, transport Transport, tokens []uint32) error {
	if err := transport.Connect(ctx); err != nil {
		return &domain.TransportError{Op: "connect", Err: err}
	}
	if len(tokens) == 0 {
		return nil
	}
	if err := transport.Subscribe(tokens); err != nil {
		return &domain.TransportError{Op: "subscribe", Err: err}
	}
	if err := transport.SetModeLTP(tokens); err != nil {
		return &domain.TransportError{Op: "set mode", Err: err}
	}
	return nil
}

// Stop tears down the connection and returns to DISCONNECTED. Idempotent and
// bounded: the transport close carries its own deadline and the read loop is
// abandoned, never joined.
func (f *Feed) Stop() error {
	f.mu.Lock()
	transport := f.transport
	wasDisconnected := f.state == domain.FeedDisconnected
	f.gen++
	f.state = domain.FeedDisconnected
	f.transport = nil
	f.subscribed = make(map[uint32]struct{})
	f.lastErr = ""
	f.mu.Unlock()

	if transport != nil {
		_ = transport.Close()
	}
	if !wasDisconnected {
		f.changed()
		f.logger.Info("feed stopped")
	}
	return nil
}

// SubscribeAdditional adds instruments to the live subscription while
// CONNECTED. Otherwise it is a no-op: the additions are picked up by the next
// Start through the full subscription set.
func (f *Feed) SubscribeAdditional(tokens []uint32) error {
	f.mu.Lock()
	if f.state != domain.FeedConnected || f.transport == nil {
		f.mu.Unlock()
		return nil
	}
	transport := f.transport
	fresh := make([]uint32, 0, len(tokens))
	for _, tok := range tokens {
		if _, ok := f.subscribed[tok]; !ok {
			fresh = append(fresh, tok)
		}
	}
	if len(fresh) == 0 {
		f.mu.Unlock()
		return nil
	}
	for _, tok := range fresh {
		f.subscribed[tok] = struct{}{}
	}
	f.mu.Unlock()

	if err := transport.Subscribe(fresh); err != nil {
		return fmt.Errorf("feed: subscribe additional: %w", err)
	}
	if err := transport.SetModeLTP(fresh); err != nil {
		return fmt.Errorf("feed: set mode additional: %w", err)
	}
	f.changed()
	return nil
}

// Status returns the observable connection state.
func (f *Feed) Status() domain.FeedStatus {
	f.mu.Lock()
	defer f.mu.Unlock()
	return domain.FeedStatus{
		State:       f.state,
		Subscribed:  len(f.subscribed),
		LastTickAt:  f.lastTickAt,
		LastError:   f.lastErr,
		ConnectedAt: f.connectedAt,
	}
}

// StatusView is Status shaped for the read model.
func (f *Feed) StatusView() domain.FeedStatusView {
	st := f.Status()
	v := domain.FeedStatusView{
		State:      st.State,
		Subscribed: st.Subscribed,
		LastError:  st.LastError,
	}
	if !st.LastTickAt.IsZero() {
		v.LastTickAt = st.LastTickAt.Format(time.RFC3339)
	}
	if !st.ConnectedAt.IsZero() {
		v.ConnectedAt = st.ConnectedAt.Format(time.RFC3339)
	}
	return v
}

// DroppedBatches reports batches discarded because the consumer lagged.
func (f *Feed) DroppedBatches() uint64 {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.droppedBatches
}

// deliver forwards one decoded batch from the transport callback. Stale
// generations (a transport we already abandoned) are ignored.
func (f *Feed) deliver(gen uint64, ticks []domain.Tick) {
	now := f.now()

	f.mu.Lock()
	if f.gen != gen || f.state != domain.FeedConnected {
		f.mu.Unlock()
		return
	}
	f.lastTickAt = now
	f.mu.Unlock()

	batch := domain.TickBatch{Ticks: ticks, ReceivedAt: now}
	select {
	case f.batches <- batch:
	default:
		f.mu.Lock()
		f.droppedBatches++
		f.mu.Unlock()
	}
}

// fault moves the feed to ERROR on a transport-level failure. ERROR is
// terminal until an explicit Start.
func (f *Feed) fault(gen uint64, err error) {
	msg := "stream closed"
	if err != nil {
		msg = (&domain.TransportError{Op: "stream", Err: err}).Error()
	}

	f.mu.Lock()
	if f.gen != gen || f.state == domain.FeedDisconnected {
		f.mu.Unlock()
		return
	}
	f.state = domain.FeedError
	f.lastErr = msg
	f.transport = nil
	f.mu.Unlock()
	f.changed()

	f.logger.Error("feed transport fault", slog.String("error", msg))
}
