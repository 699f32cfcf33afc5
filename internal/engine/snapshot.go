package engine

import (
	"github.com/optiondesk/paperbot/internal/domain"
)

// Snapshot builds the read model from the current state generation. The feed
// view is left zero; the publisher owns connection status and fills it in.
// All monetary fields are rounded to two decimals here, at the boundary.
func (e *Engine) Snapshot() domain.DashboardSnapshot {
	e.mu.Lock()
	defer e.mu.Unlock()

	snap := domain.DashboardSnapshot{
		Version:       e.version,
		GeneratedAt:   e.now(),
		NiftySpot:     round2(e.spots[domain.TokenNifty50]),
		BankniftySpot: round2(e.spots[domain.TokenNiftyBank]),
		SensexSpot:    round2(e.spots[domain.TokenSensex]),
		Positions:     make([]domain.PositionView, 0, len(e.positions)),
		TotalPnL:      round2(e.agg.TotalPnL),
		TotalPnLPct:   round2(e.agg.TotalPnLPct),
		Account: domain.AccountView{
			InitialCapital:  round2(e.account.InitialCapital),
			AvailableMargin: round2(e.account.AvailableMargin),
			UsedMargin:      round2(e.account.UsedMargin),
			RealizedPnL:     round2(e.account.RealizedPnL),
			UnrealizedPnL:   round2(e.agg.TotalPnL),
		},
	}
	for i := range e.positions {
		snap.Positions = append(snap.Positions, positionView(e.positions[i]))
	}
	return snap
}

// Account returns a copy of the margin account at full precision.
func (e *Engine) Account() domain.Account {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.account
}

// Version returns the state generation counter. It increments on every
// mutation, so equal versions mean an identical read model.
func (e *Engine) Version() uint64 {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.version
}

// View shapes one position for the read model, rounding monetary fields the
// same way Snapshot does.
func View(p domain.Position) domain.PositionView {
	return positionView(p)
}

func positionView(p domain.Position) domain.PositionView {
	pnl := p.PnLAt(p.CurrentPrice)
	v := domain.PositionView{
		ID:            p.ID,
		StrategyID:    p.StrategyID,
		StrategyName:  p.StrategyName,
		Symbol:        p.Symbol,
		Tradingsymbol: p.Tradingsymbol,
		Token:         p.InstrumentToken,
		Exchange:      p.Exchange,
		Strike:        p.Strike,
		Kind:          p.Kind,
		Direction:     p.Direction,
		Lots:          p.Lots,
		LotSize:       p.LotSize,
		Quantity:      p.Quantity,
		EntryPrice:    round2(p.EntryPrice),
		CurrentPrice:  round2(p.CurrentPrice),
		PnL:           round2(pnl),
		PnLPct:        round2(pnlPct(pnl, p.EntryValue())),
		Status:        p.Status,
		EntryTime:     p.EntryTime,
		ExitTime:      p.ExitTime,
	}
	if !p.Expiry.IsZero() {
		v.Expiry = p.Expiry.Format("2006-01-02")
	}
	if p.ExitPrice != nil {
		rounded := round2(*p.ExitPrice)
		v.ExitPrice = &rounded
	}
	return v
}
