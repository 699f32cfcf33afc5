// Package service holds the orchestration layer between the HTTP surface,
// the in-process ledger core and the outside world: durable stores, the tick
// feed, the event bus and notification channels. Services never hold the
// core's mutex across I/O; every store and bus write happens after the
// in-memory mutation committed.
package service

import (
	"context"
	"encoding/json"
	"log/slog"
	"strings"
	"time"

	"github.com/optiondesk/paperbot/internal/domain"
	"github.com/optiondesk/paperbot/internal/engine"
	"github.com/optiondesk/paperbot/internal/payoff"
)

// TokenSubscriber extends the live feed subscription when a new instrument
// enters the ledger.
type TokenSubscriber interface {
	SubscribeAdditional(tokens []uint32) error
}

// EventSink receives ledger lifecycle events for notification fan-out.
type EventSink func(domain.Event)

// LedgerService owns the position lifecycle: risk checks, the in-memory
// mutation, write-behind persistence and event fan-out. The in-memory ledger
// is authoritative; persistence failures are logged and journaled, never
// bubbled into the trading path.
type LedgerService struct {
	core         *engine.Engine
	risk         *RiskService
	positions    domain.PositionStore
	accounts     domain.AccountStore
	audit        domain.AuditStore
	bus          domain.EventBus
	feed         TokenSubscriber
	events       EventSink
	tradeChannel string
	logger       *slog.Logger
	now          func() time.Time
}

// LedgerConfig wires a LedgerService. Store, bus, feed and sink fields may be
// nil; the service degrades to in-memory-only operation.
type LedgerConfig struct {
	Core         *engine.Engine
	Risk         *RiskService
	Positions    domain.PositionStore
	Accounts     domain.AccountStore
	Audit        domain.AuditStore
	Bus          domain.EventBus
	Feed         TokenSubscriber
	Events       EventSink
	TradeChannel string
	Logger       *slog.Logger
	Now          func() time.Time
}

// NewLedgerService creates a LedgerService.
func NewLedgerService(cfg LedgerConfig) *LedgerService {
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	return &LedgerService{
		core:         cfg.Core,
		risk:         cfg.Risk,
		positions:    cfg.Positions,
		accounts:     cfg.Accounts,
		audit:        cfg.Audit,
		bus:          cfg.Bus,
		feed:         cfg.Feed,
		events:       cfg.Events,
		tradeChannel: cfg.TradeChannel,
		logger:       cfg.Logger.With(slog.String("component", "ledger_service")),
		now:          cfg.Now,
	}
}

// Open validates and opens one position. The margin debit happens atomically
// inside the core; everything after it is write-behind.
func (s *LedgerService) Open(ctx context.Context, spec domain.OpenSpec) (domain.Position, error) {
	spec.Symbol = strings.ToUpper(strings.TrimSpace(spec.Symbol))
	if spec.Tradingsymbol == "" && spec.Symbol != "" && !spec.Expiry.IsZero() {
		spec.Tradingsymbol = domain.FormatTradingsymbol(spec.Symbol, spec.Expiry, spec.Strike, spec.Kind)
	}

	if s.risk != nil {
		active := len(s.core.ActivePositions())
		if err := s.risk.CheckOpen(spec, active, s.core.Account(), s.now()); err != nil {
			return domain.Position{}, err
		}
	}

	pos, err := s.core.Open(spec)
	if err != nil {
		return domain.Position{}, err
	}

	if s.positions != nil {
		if insErr := s.positions.Insert(ctx, pos); insErr != nil {
			s.logger.WarnContext(ctx, "position insert failed, ledger continues in memory",
				slog.Int64("position_id", pos.ID),
				slog.String("error", insErr.Error()),
			)
		}
	}
	s.persistAccount(ctx)

	if s.feed != nil && pos.InstrumentToken != 0 {
		if subErr := s.feed.SubscribeAdditional([]uint32{pos.InstrumentToken}); subErr != nil {
			s.logger.WarnContext(ctx, "live subscription extension failed",
				slog.Int64("position_id", pos.ID),
				slog.String("tradingsymbol", pos.Tradingsymbol),
				slog.String("error", subErr.Error()),
			)
		}
	}

	s.journal(ctx, "trade_opened", map[string]any{
		"position_id":   pos.ID,
		"strategy_id":   pos.StrategyID,
		"tradingsymbol": pos.Tradingsymbol,
		"direction":     string(pos.Direction),
		"entry_price":   pos.EntryPrice,
		"quantity":      pos.Quantity,
		"margin_held":   pos.MarginHeld,
	})
	s.emitTrade(ctx, domain.EventTradeOpened, pos, nil)

	s.logger.InfoContext(ctx, "position opened",
		slog.Int64("position_id", pos.ID),
		slog.String("strategy_id", pos.StrategyID),
		slog.String("tradingsymbol", pos.Tradingsymbol),
		slog.String("direction", string(pos.Direction)),
		slog.Float64("entry_price", pos.EntryPrice),
		slog.Int("quantity", pos.Quantity),
	)
	return pos, nil
}

// Close settles one position. A nil exitPrice settles at the last cached
// valuation, entry price when the instrument never ticked.
func (s *LedgerService) Close(ctx context.Context, id int64, exitPrice *float64) (domain.CloseResult, error) {
	var (
		pos      domain.Position
		finalPnL float64
		err      error
	)
	if exitPrice != nil {
		pos, finalPnL, err = s.core.Close(id, *exitPrice)
	} else {
		pos, finalPnL, err = s.core.CloseAtMarket(id)
	}
	if err != nil {
		return domain.CloseResult{}, err
	}

	s.persistClose(ctx, pos)
	s.persistAccount(ctx)

	exit := pos.CurrentPrice
	if pos.ExitPrice != nil {
		exit = *pos.ExitPrice
	}
	s.journal(ctx, "trade_closed", map[string]any{
		"position_id":   pos.ID,
		"strategy_id":   pos.StrategyID,
		"tradingsymbol": pos.Tradingsymbol,
		"exit_price":    exit,
		"final_pnl":     finalPnL,
	})
	s.emitTrade(ctx, domain.EventTradeClosed, pos, &finalPnL)

	s.logger.InfoContext(ctx, "position closed",
		slog.Int64("position_id", pos.ID),
		slog.Float64("exit_price", exit),
		slog.Float64("final_pnl", finalPnL),
	)
	return domain.CloseResult{PositionID: pos.ID, ExitPrice: exit, FinalPnL: finalPnL}, nil
}

// CloseAll settles every ACTIVE position at its cached valuation in one
// atomic pass over the ledger. Per-position persistence runs afterwards;
// one slow or failed write never blocks the rest.
func (s *LedgerService) CloseAll(ctx context.Context) []domain.CloseResult {
	results := s.core.CloseAll()
	if len(results) == 0 {
		return nil
	}

	for _, r := range results {
		if r.Err != nil {
			continue
		}
		pos, err := s.core.Position(r.PositionID)
		if err != nil {
			continue
		}
		s.persistClose(ctx, pos)
		s.emitTrade(ctx, domain.EventTradeClosed, pos, &r.FinalPnL)
	}
	s.persistAccount(ctx)

	s.journal(ctx, "close_all", map[string]any{"count": len(results)})
	s.logger.InfoContext(ctx, "all positions closed", slog.Int("count", len(results)))
	return results
}

// ExpireDue settles every position whose contract date has passed at
// intrinsic value. Run periodically by the expiry sweeper.
func (s *LedgerService) ExpireDue(ctx context.Context) []domain.CloseResult {
	results := s.core.MarkExpired(s.now())
	if len(results) == 0 {
		return nil
	}

	for _, r := range results {
		if r.Err != nil {
			continue
		}
		pos, err := s.core.Position(r.PositionID)
		if err != nil {
			continue
		}
		s.persistClose(ctx, pos)
		s.emitTrade(ctx, domain.EventTradeExpired, pos, &r.FinalPnL)
		s.logger.InfoContext(ctx, "position expired",
			slog.Int64("position_id", pos.ID),
			slog.String("tradingsymbol", pos.Tradingsymbol),
			slog.Float64("settlement", r.ExitPrice),
			slog.Float64("final_pnl", r.FinalPnL),
		)
	}
	s.persistAccount(ctx)

	s.journal(ctx, "positions_expired", map[string]any{"count": len(results)})
	return results
}

// Position returns one position from the working set.
func (s *LedgerService) Position(id int64) (domain.Position, error) {
	return s.core.Position(id)
}

// ActivePositions returns the ACTIVE legs in entry order.
func (s *LedgerService) ActivePositions() []domain.Position {
	return s.core.ActivePositions()
}

// Account returns the margin account at full precision.
func (s *LedgerService) Account() domain.Account {
	return s.core.Account()
}

// History lists settled positions from the durable ledger.
func (s *LedgerService) History(ctx context.Context, from, to time.Time) ([]domain.Position, error) {
	if s.positions == nil {
		return nil, nil
	}
	return s.positions.ListClosedBetween(ctx, from, to)
}

// AuditTrail lists operation journal entries.
func (s *LedgerService) AuditTrail(ctx context.Context, opts domain.ListOpts) ([]domain.AuditEntry, error) {
	if s.audit == nil {
		return nil, nil
	}
	return s.audit.List(ctx, opts)
}

// Payoff computes the expiry payoff curve, breakevens included, for one
// strategy group. A blank strategyID sweeps the whole active book; an empty
// book flattens to a zero curve while an unknown strategy id is not found.
// center <= 0 centers the sweep on the legs' index spot; points <= 0 selects
// the default grid.
func (s *LedgerService) Payoff(strategyID string, center float64, points int) (payoff.Curve, error) {
	legs, autoCenter := s.core.PayoffInputs(strategyID)
	if len(legs) == 0 {
		if strategyID != "" {
			return payoff.Curve{}, domain.ErrNotFound
		}
		if center > 0 {
			return payoff.Compute(nil, payoff.SpotRange(center, points)), nil
		}
		return payoff.Curve{}, nil
	}
	if center <= 0 {
		center = autoCenter
	}
	if points <= 0 {
		points = payoff.DefaultPoints
	}

	spots := payoff.SpotRange(center, points)
	return payoff.Compute(legs, spots), nil
}

func (s *LedgerService) persistClose(ctx context.Context, pos domain.Position) {
	if s.positions == nil {
		return
	}
	if err := s.positions.UpdateClose(ctx, pos); err != nil {
		s.logger.WarnContext(ctx, "position close persist failed",
			slog.Int64("position_id", pos.ID),
			slog.String("error", err.Error()),
		)
	}
}

func (s *LedgerService) persistAccount(ctx context.Context) {
	if s.accounts == nil {
		return
	}
	if err := s.accounts.Upsert(ctx, s.core.Account()); err != nil {
		s.logger.WarnContext(ctx, "account persist failed",
			slog.String("error", err.Error()),
		)
	}
}

func (s *LedgerService) journal(ctx context.Context, event string, detail map[string]any) {
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

// emitTrade publishes a trade lifecycle event to the bus and the local sink.
func (s *LedgerService) emitTrade(ctx context.Context, typ domain.EventType, pos domain.Position, finalPnL *float64) {
	view := engine.View(pos)
	evt := domain.Event{
		Type:     typ,
		At:       s.now(),
		Position: &view,
		FinalPnL: finalPnL,
	}

	if s.bus != nil && s.tradeChannel != "" {
		payload, _ := json.Marshal(evt)
		if pubErr := s.bus.Publish(ctx, s.tradeChannel, payload); pubErr != nil {
			s.logger.WarnContext(ctx, "trade event publish failed",
				slog.String("type", string(typ)),
				slog.String("error", pubErr.Error()),
			)
		}
	}
	if s.events != nil {
		s.events(evt)
	}
}
