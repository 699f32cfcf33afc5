package feed

import (
	"context"
	"log/slog"
	"time"

	"github.com/optiondesk/paperbot/internal/domain"
	"github.com/optiondesk/paperbot/internal/engine"
)

const mirrorTimeout = 2 * time.Second

// Pump drains tick batches from the feed into the valuation core and mirrors
// the applied prices to the external cache. Mirroring is best effort and
// happens strictly outside the core's critical section.
type Pump struct {
	batches <-chan domain.TickBatch
	core    *engine.Engine
	mirror  domain.ValuationMirror
	logger  *slog.Logger
}

// NewPump wires a pump. mirror may be nil.
func NewPump(batches <-chan domain.TickBatch, core *engine.Engine, mirror domain.ValuationMirror, logger *slog.Logger) *Pump {
	if logger == nil {
		logger = slog.Default()
	}
	return &Pump{
		batches: batches,
		core:    core,
		mirror:  mirror,
		logger:  logger.With(slog.String("component", "tick_pump")),
	}
}

// Run applies batches in arrival order until ctx is cancelled or the batch
// channel is closed.
func (p *Pump) Run(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case batch, ok := <-p.batches:
			if !ok {
				return nil
			}
			p.apply(ctx, batch)
		}
	}
}

func (p *Pump) apply(ctx context.Context, batch domain.TickBatch) {
	applied, dropped := p.core.ApplyTickBatch(batch)
	if dropped > 0 {
		p.logger.Debug("unsubscribed ticks dropped", slog.Int("count", dropped))
	}
	if len(applied) == 0 || p.mirror == nil {
		return
	}

	mctx, cancel := context.WithTimeout(ctx, mirrorTimeout)
	defer cancel()
	if err := p.mirror.SetBatch(mctx, applied); err != nil {
		p.logger.Warn("valuation mirror write failed", slog.String("error", err.Error()))
	}
}
