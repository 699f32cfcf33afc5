package service

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/optiondesk/paperbot/internal/domain"
	"github.com/optiondesk/paperbot/internal/feed"
	"github.com/optiondesk/paperbot/internal/platform/kite"
)

// defaultLeaderTTL bounds how long a dead process can block feed takeover.
const defaultLeaderTTL = 30 * time.Second

// leaderLockName is the distributed lock guarding ticker ownership.
const leaderLockName = "feed-leader"

// FeedService controls the tick feed lifecycle: broker session validation,
// leader election across processes and the start/stop/restart operations the
// dashboard exposes. It also watches the feed for faults and turns them into
// journal entries and events.
type FeedService struct {
	feed        *feed.Feed
	session     *kite.Client // nil skips the REST session probe
	locks       domain.LockManager
	audit       domain.AuditStore
	bus         domain.EventBus
	events      EventSink
	feedChannel string
	leaderTTL   time.Duration
	logger      *slog.Logger
	now         func() time.Time

	mu     sync.Mutex
	unlock func()
}

// FeedServiceConfig wires a FeedService. Locks, audit, bus and events may be
// nil.
type FeedServiceConfig struct {
	Feed        *feed.Feed
	Session     *kite.Client
	Locks       domain.LockManager
	Audit       domain.AuditStore
	Bus         domain.EventBus
	Events      EventSink
	FeedChannel string
	LeaderTTL   time.Duration
	Logger      *slog.Logger
	Now         func() time.Time
}

// NewFeedService creates a FeedService.
func NewFeedService(cfg FeedServiceConfig) *FeedService {
	if cfg.LeaderTTL <= 0 {
		cfg.LeaderTTL = defaultLeaderTTL
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	return &FeedService{
		feed:        cfg.Feed,
		session:     cfg.Session,
		locks:       cfg.Locks,
		audit:       cfg.Audit,
		bus:         cfg.Bus,
		events:      cfg.Events,
		feedChannel: cfg.FeedChannel,
		leaderTTL:   cfg.LeaderTTL,
		logger:      cfg.Logger.With(slog.String("component", "feed_service")),
		now:         cfg.Now,
	}
}

// Start validates the broker session, takes the leader lock and connects the
// feed. It fails with domain.ErrNotAuthenticated on a missing or rejected
// session, domain.ErrAlreadyConnected when the feed is already up and
// domain.ErrLockHeld when another process owns the connection.
func (s *FeedService) Start(ctx context.Context) error {
	if s.session != nil {
		if !s.session.Authenticated() {
			return domain.ErrNotAuthenticated
		}
		if _, err := s.session.Profile(ctx); err != nil {
			return fmt.Errorf("feed_service: session probe: %w", err)
		}
	}

	var unlock func()
	if s.locks != nil {
		var err error
		unlock, err = s.locks.Acquire(ctx, leaderLockName, s.leaderTTL)
		if err != nil {
			return fmt.Errorf("feed_service: leader lock: %w", err)
		}
	}

	if err := s.feed.Start(ctx); err != nil {
		if unlock != nil {
			unlock()
		}
		return err
	}

	s.mu.Lock()
	s.unlock = unlock
	s.mu.Unlock()

	s.journal(ctx, "feed_started", map[string]any{
		"subscribed": s.feed.Status().Subscribed,
	})
	s.emitFeed(ctx, domain.EventFeedStarted, "")
	return nil
}

// Stop tears the feed down and releases leadership. Idempotent.
func (s *FeedService) Stop(ctx context.Context) error {
	if err := s.feed.Stop(); err != nil {
		return err
	}
	s.releaseLock()

	s.journal(ctx, "feed_stopped", nil)
	s.emitFeed(ctx, domain.EventFeedStopped, "")
	return nil
}

// Restart is the explicit operator path out of the ERROR state: a full stop
// followed by a fresh start.
func (s *FeedService) Restart(ctx context.Context) error {
	if err := s.Stop(ctx); err != nil {
		return err
	}
	return s.Start(ctx)
}

// Status returns the feed's observable state.
func (s *FeedService) Status() domain.FeedStatus {
	return s.feed.Status()
}

// StatusView returns the feed state shaped for the read model.
func (s *FeedService) StatusView() domain.FeedStatusView {
	return s.feed.StatusView()
}

// Run watches the feed for state transitions until ctx is cancelled, turning
// faults into journal entries and events. It is the sole consumer of the
// feed's change signal.
func (s *FeedService) Run(ctx context.Context) error {
	last := s.feed.Status().State
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-s.feed.Changes():
			st := s.feed.Status()
			if st.State == last {
				continue
			}
			if st.State == domain.FeedError {
				s.logger.Error("feed faulted",
					slog.String("error", st.LastError),
				)
				s.journal(ctx, "feed_error", map[string]any{"error": st.LastError})
				s.emitFeed(ctx, domain.EventFeedError, st.LastError)
			}
			last = st.State
		}
	}
}

func (s *FeedService) releaseLock() {
	s.mu.Lock()
	unlock := s.unlock
	s.unlock = nil
	s.mu.Unlock()
	if unlock != nil {
		unlock()
	}
}

func (s *FeedService) journal(ctx context.Context, event string, detail map[string]any) {
	if s.audit == nil {
		return
	}
	if err := s.audit.Log(ctx, event, detail); err != nil {
		s.logger.WarnContext(ctx, "audit log failed",
			slog.String("event", event),
			slog.String("error", err.Error()),
		)
	}
}

func (s *FeedService) emitFeed(ctx context.Context, typ domain.EventType, message string) {
	view := s.feed.StatusView()
	evt := domain.Event{
		Type:    typ,
		At:      s.now(),
		Feed:    &view,
		Message: message,
	}

	if s.bus != nil && s.feedChannel != "" {
		payload, _ := json.Marshal(evt)
		if pubErr := s.bus.Publish(ctx, s.feedChannel, payload); pubErr != nil {
			s.logger.WarnContext(ctx, "feed event publish failed",
				slog.String("type", string(typ)),
				slog.String("error", pubErr.Error()),
			)
		}
	}
	if s.events != nil {
		s.events(evt)
	}
}
