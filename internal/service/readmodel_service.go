package service

import (
	"context"
	"encoding/json"
	"log/slog"
	"time"

	"github.com/optiondesk/paperbot/internal/domain"
	"github.com/optiondesk/paperbot/internal/engine"
	"github.com/optiondesk/paperbot/internal/feed"
)

// defaultPublishInterval paces read-model refreshes. Tick bursts inside one
// interval coalesce into a single publish.
const defaultPublishInterval = 250 * time.Millisecond

// Broadcaster fans a serialized snapshot out to connected dashboard clients.
type Broadcaster interface {
	Broadcast(payload []byte)
}

// Publisher assembles the dashboard read model and pushes it to websocket
// clients and the event bus whenever the underlying state generation moved.
// It only ever reads from the core, so a publish can never delay a tick or a
// trade.
type Publisher struct {
	core            *engine.Engine
	feed            *feed.Feed
	hub             Broadcaster
	bus             domain.EventBus
	snapshotChannel string
	interval        time.Duration
	logger          *slog.Logger
}

// PublisherConfig wires a Publisher. Hub and bus may be nil.
type PublisherConfig struct {
	Core            *engine.Engine
	Feed            *feed.Feed
	Hub             Broadcaster
	Bus             domain.EventBus
	SnapshotChannel string
	Interval        time.Duration
	Logger          *slog.Logger
}

// NewPublisher creates a Publisher.
func NewPublisher(cfg PublisherConfig) *Publisher {
	if cfg.Interval <= 0 {
		cfg.Interval = defaultPublishInterval
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	return &Publisher{
		core:            cfg.Core,
		feed:            cfg.Feed,
		hub:             cfg.Hub,
		bus:             cfg.Bus,
		snapshotChannel: cfg.SnapshotChannel,
		interval:        cfg.Interval,
		logger:          cfg.Logger.With(slog.String("component", "publisher")),
	}
}

// Snapshot builds the current read model with the feed view filled in.
func (p *Publisher) Snapshot() domain.DashboardSnapshot {
	snap := p.core.Snapshot()
	if p.feed != nil {
		snap.Feed = p.feed.StatusView()
	}
	return snap
}

// Run publishes until ctx is cancelled. Each interval it compares the state
// generation and feed status against the last publish and stays silent when
// nothing moved.
func (p *Publisher) Run(ctx context.Context) error {
	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()

	var (
		published   bool
		lastVersion uint64
		lastFeed    domain.FeedStatus
	)
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			version := p.core.Version()
			var st domain.FeedStatus
			if p.feed != nil {
				st = p.feed.Status()
			}
			if published && version == lastVersion && feedStatusEqual(st, lastFeed) {
				continue
			}

			p.publish(ctx)
			published = true
			lastVersion = version
			lastFeed = st
		}
	}
}

// feedStatusEqual ignores LastTickAt: tick arrivals already bump the state
// generation, and comparing the timestamp would republish on every heartbeat.
func feedStatusEqual(a, b domain.FeedStatus) bool {
	return a.State == b.State &&
		a.Subscribed == b.Subscribed &&
		a.LastError == b.LastError &&
		a.ConnectedAt.Equal(b.ConnectedAt)
}

func (p *Publisher) publish(ctx context.Context) {
	snap := p.Snapshot()
	payload, err := json.Marshal(snap)
	if err != nil {
		p.logger.ErrorContext(ctx, "snapshot marshal failed",
			slog.String("error", err.Error()),
		)
		return
	}

	if p.hub != nil {
		p.hub.Broadcast(payload)
	}
	if p.bus != nil && p.snapshotChannel != "" {
		if pubErr := p.bus.Publish(ctx, p.snapshotChannel, payload); pubErr != nil {
			p.logger.WarnContext(ctx, "snapshot publish failed",
				slog.String("error", pubErr.Error()),
			)
		}
	}
}
