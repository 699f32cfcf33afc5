package engine

import (
	"math"

	"github.com/optiondesk/paperbot/internal/domain"
)

// Aggregate is the strategy-wide P&L across ACTIVE positions.
type Aggregate struct {
	TotalPnL        float64
	TotalEntryValue float64
	TotalPnLPct     float64
}

// Recompute resolves current prices for ACTIVE positions from the valuation
// cache and derives the aggregate P&L. It is a pure function of its inputs:
// the passed slice is not modified, the returned slice carries the updated
// valuations. Positions never ticked keep their existing price; CLOSED and
// EXPIRED positions pass through untouched and are excluded from the
// aggregate.
func Recompute(positions []domain.Position, cache map[uint32]domain.Valuation) ([]domain.Position, Aggregate) {
	out := make([]domain.Position, len(positions))
	copy(out, positions)

	var agg Aggregate
	for i := range out {
		if out[i].Status != domain.PositionStatusActive {
			continue
		}
		if v, ok := cache[out[i].InstrumentToken]; ok {
			out[i].CurrentPrice = v.Price
		}
		agg.TotalPnL += out[i].PnLAt(out[i].CurrentPrice)
		agg.TotalEntryValue += out[i].EntryValue()
	}
	if agg.TotalEntryValue != 0 {
		agg.TotalPnLPct = agg.TotalPnL / agg.TotalEntryValue * 100
	}
	return out, agg
}

// round2 rounds to two decimals. Applied only when building the read model so
// rounding error never compounds across recomputes.
func round2(v float64) float64 {
	return math.Round(v*100) / 100
}

// pnlPct is the percentage return of one leg against its entry value, zero
// when the entry value is zero.
func pnlPct(pnl, entryValue float64) float64 {
	if entryValue == 0 {
		return 0
	}
	return pnl / entryValue * 100
}
