package metrics

import (
	"context"
	"time"

	"github.com/optiondesk/paperbot/internal/engine"
	"github.com/optiondesk/paperbot/internal/feed"
)

// defaultSampleInterval paces gauge refreshes. The sampled values are cheap
// reads off the engine and feed, so a short interval is fine.
const defaultSampleInterval = 5 * time.Second

// Sampler periodically copies engine and feed state into the gauges. It reads
// through the same accessors the HTTP status handler uses, so it never holds
// the engine lock for longer than a snapshot.
type Sampler struct {
	metrics  *Metrics
	core     *engine.Engine
	feed     *feed.Feed
	interval time.Duration
}

// NewSampler wires a sampler. Feed may be nil in archive mode.
func NewSampler(m *Metrics, core *engine.Engine, f *feed.Feed, interval time.Duration) *Sampler {
	if interval <= 0 {
		interval = defaultSampleInterval
	}
	return &Sampler{metrics: m, core: core, feed: f, interval: interval}
}

// Run refreshes gauges until the context is cancelled.
func (s *Sampler) Run(ctx context.Context) error {
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	s.sample()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			s.sample()
		}
	}
}

func (s *Sampler) sample() {
	snap := s.core.Snapshot()
	s.metrics.OpenPositions.Set(float64(len(snap.Positions)))
	s.metrics.UsedMargin.Set(snap.Account.UsedMargin)
	s.metrics.AvailableMargin.Set(snap.Account.AvailableMargin)
	s.metrics.RealizedPnL.Set(snap.Account.RealizedPnL)
	s.metrics.SnapshotVersion.Set(float64(snap.Version))
	s.metrics.DroppedTicks.Set(float64(s.core.DroppedTicks()))

	if s.feed == nil {
		return
	}
	st := s.feed.Status()
	s.metrics.FeedState.Set(feedStateValue(st.State))
	s.metrics.FeedSubscribed.Set(float64(st.Subscribed))
	s.metrics.DroppedBatches.Set(float64(s.feed.DroppedBatches()))
}
