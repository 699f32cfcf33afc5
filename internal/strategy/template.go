// Package strategy expands named option-strategy templates into the leg
// specs the ledger opens. A template never touches the ledger itself: it
// resolves strikes off the spot, looks premiums up through the caller's quote
// function, and returns OpenSpecs sharing one strategy id.
package strategy

import (
	"errors"
	"fmt"
	"math"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/optiondesk/paperbot/internal/domain"
)

// Quote is the market data a template needs for one contract.
type Quote struct {
	Tradingsymbol   string
	InstrumentToken uint32
	Premium         float64
}

// QuoteFn resolves a contract quote. Implementations typically consult the
// valuation cache or the premiums supplied with a preview request.
type QuoteFn func(symbol string, expiry time.Time, strike float64, kind domain.OptionKind) (Quote, error)

// Params carries the inputs a template expands against.
type Params struct {
	Symbol string
	Expiry time.Time
	Spot   float64
	Lots   int
	Quote  QuoteFn
}

func (p Params) validate() error {
	var errs []string
	if domain.LotSize(p.Symbol) == 0 {
		errs = append(errs, fmt.Sprintf("unknown symbol %q", p.Symbol))
	}
	if p.Expiry.IsZero() {
		errs = append(errs, "expiry is required")
	}
	if p.Spot <= 0 {
		errs = append(errs, "spot must be > 0")
	}
	if p.Lots < 1 {
		errs = append(errs, "lots must be >= 1")
	}
	if p.Quote == nil {
		errs = append(errs, "quote function is required")
	}
	if len(errs) > 0 {
		return errors.New("strategy: " + strings.Join(errs, "; "))
	}
	return nil
}

// Template expands into the legs of one named strategy.
type Template interface {
	// Name is the registry key, e.g. "straddle".
	Name() string
	// Description is a one-line summary for the strategies API.
	Description() string
	// Legs expands the template. All returned specs share a fresh
	// strategy id.
	Legs(p Params) ([]domain.OpenSpec, error)
}

// atmStrike snaps the spot to the symbol's strike grid.
func atmStrike(symbol string, spot float64) float64 {
	step := domain.StrikeStep(symbol)
	return math.Round(spot/step) * step
}

// newStrategyID returns the short id shared by the legs of one expansion,
// the first 8 hex chars of a UUID.
func newStrategyID() string {
	return uuid.NewString()[:8]
}

// legSpec describes one leg relative to the ATM strike.
type legSpec struct {
	kind        domain.OptionKind
	direction   domain.Direction
	offsetSteps int // strike offset from ATM in grid steps
}

// expand resolves relative legs into OpenSpecs with quotes filled in.
func expand(name string, p Params, legs []legSpec) ([]domain.OpenSpec, error) {
	if err := p.validate(); err != nil {
		return nil, err
	}

	atm := atmStrike(p.Symbol, p.Spot)
	step := domain.StrikeStep(p.Symbol)
	strategyID := newStrategyID()
	lotSize := domain.LotSize(p.Symbol)

	specs := make([]domain.OpenSpec, 0, len(legs))
	for _, leg := range legs {
		strike := atm + float64(leg.offsetSteps)*step
		q, err := p.Quote(p.Symbol, p.Expiry, strike, leg.kind)
		if err != nil {
			return nil, fmt.Errorf("strategy %s: quote %s %.0f%s: %w", name, p.Symbol, strike, leg.kind, err)
		}
		tradingsymbol := q.Tradingsymbol
		if tradingsymbol == "" {
			tradingsymbol = domain.FormatTradingsymbol(p.Symbol, p.Expiry, strike, leg.kind)
		}
		specs = append(specs, domain.OpenSpec{
			StrategyID:      strategyID,
			StrategyName:    name,
			Symbol:          strings.ToUpper(p.Symbol),
			Tradingsymbol:   tradingsymbol,
			InstrumentToken: q.InstrumentToken,
			Strike:          strike,
			Expiry:          p.Expiry,
			Kind:            leg.kind,
			Direction:       leg.direction,
			Lots:            p.Lots,
			LotSize:         lotSize,
			EntryPrice:      q.Premium,
		})
	}
	return specs, nil
}

// PreviewLegs converts expanded specs into throwaway positions for payoff
// computation, before anything is committed to the ledger.
func PreviewLegs(specs []domain.OpenSpec) []domain.Position {
	legs := make([]domain.Position, 0, len(specs))
	for i, s := range specs {
		legs = append(legs, domain.Position{
			ID:              int64(i + 1),
			StrategyID:      s.StrategyID,
			StrategyName:    s.StrategyName,
			Symbol:          s.Symbol,
			Tradingsymbol:   s.Tradingsymbol,
			InstrumentToken: s.InstrumentToken,
			Exchange:        domain.ExchangeFor(s.Symbol),
			Strike:          s.Strike,
			Expiry:          s.Expiry,
			Kind:            s.Kind,
			Direction:       s.Direction,
			Lots:            s.Lots,
			LotSize:         s.LotSize,
			Quantity:        s.Lots * s.LotSize,
			EntryPrice:      s.EntryPrice,
			CurrentPrice:    s.EntryPrice,
			Status:          domain.PositionStatusActive,
		})
	}
	return legs
}
