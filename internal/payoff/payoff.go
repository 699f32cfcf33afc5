// Package payoff computes option strategy expiry payoffs and breakeven
// crossings. Everything here is a pure function over its inputs so the same
// legs and spot sweep always produce the same curve.
package payoff

import (
	"math"

	"github.com/optiondesk/paperbot/internal/domain"
)

// DefaultPoints is the number of samples in a generated spot sweep.
const DefaultPoints = 101

// Point is one sample of the expiry payoff curve.
type Point struct {
	Spot   float64 `json:"spot"`
	Payoff float64 `json:"payoff"`
}

// Curve holds a computed payoff sweep with its breakeven crossings.
type Curve struct {
	Points     []Point   `json:"points"`
	Breakevens []float64 `json:"breakevens"`
	MaxProfit  float64   `json:"max_profit"`
	MaxLoss    float64   `json:"max_loss"`
}

// Intrinsic returns the exercise value of a contract at the given spot.
func Intrinsic(kind domain.OptionKind, strike, spot float64) float64 {
	if kind == domain.OptionPut {
		return math.Max(0, strike-spot)
	}
	return math.Max(0, spot-strike)
}

// LegPayoff returns the expiry P&L of a single leg at the given spot: long
// legs earn intrinsic minus premium paid, short legs earn premium received
// minus intrinsic, both scaled by quantity.
func LegPayoff(p domain.Position, spot float64) float64 {
	intrinsic := Intrinsic(p.Kind, p.Strike, spot)
	return p.Direction.Sign() * (intrinsic - p.EntryPrice) * float64(p.Quantity)
}

// Total returns the combined expiry payoff of all legs at one spot.
func Total(legs []domain.Position, spot float64) float64 {
	var sum float64
	for _, leg := range legs {
		sum += LegPayoff(leg, spot)
	}
	return sum
}

// Compute evaluates the strategy payoff over an ordered spot sweep and finds
// its breakevens. Zero legs yield an all-zero curve with no breakevens.
func Compute(legs []domain.Position, spots []float64) Curve {
	points := make([]Point, len(spots))
	payoffs := make([]float64, len(spots))
	for i, spot := range spots {
		v := Total(legs, spot)
		points[i] = Point{Spot: spot, Payoff: v}
		payoffs[i] = v
	}

	c := Curve{Points: points, Breakevens: Breakevens(spots, payoffs)}
	for i, v := range payoffs {
		if i == 0 || v > c.MaxProfit {
			c.MaxProfit = v
		}
		if i == 0 || v < c.MaxLoss {
			c.MaxLoss = v
		}
	}
	return c
}

// Breakevens scans consecutive payoff pairs for sign changes and locates each
// zero crossing by linear interpolation. A pair where both payoffs are exactly
// zero degenerates to the left spot rather than dividing by zero.
func Breakevens(spots, payoffs []float64) []float64 {
	var crossings []float64
	for i := 1; i < len(payoffs) && i < len(spots); i++ {
		prev, cur := payoffs[i-1], payoffs[i]
		if !signChange(prev, cur) {
			continue
		}
		denom := math.Abs(prev) + math.Abs(cur)
		if denom == 0 {
			crossings = append(crossings, spots[i-1])
			continue
		}
		ratio := math.Abs(prev) / denom
		crossings = append(crossings, spots[i-1]+ratio*(spots[i]-spots[i-1]))
	}
	return crossings
}

// signChange reports a strict crossing: negative to non-negative or the
// reverse. Flat stretches on one side of zero do not count.
func signChange(a, b float64) bool {
	return (a < 0 && b >= 0) || (a >= 0 && b < 0)
}

// SpotRange builds an inclusive sweep of n points spanning center +/- 10%.
// n < 2 falls back to DefaultPoints.
func SpotRange(center float64, n int) []float64 {
	if n < 2 {
		n = DefaultPoints
	}
	lo := center * 0.9
	hi := center * 1.1
	step := (hi - lo) / float64(n-1)
	spots := make([]float64, n)
	for i := range spots {
		spots[i] = lo + float64(i)*step
	}
	return spots
}

// Center picks the sweep midpoint for a set of legs: the observed index spot
// when available, otherwise the mean of the leg strikes. Zero when there are
// no legs either.
func Center(legs []domain.Position, indexSpot float64) float64 {
	if indexSpot > 0 {
		return indexSpot
	}
	if len(legs) == 0 {
		return 0
	}
	var sum float64
	for _, leg := range legs {
		sum += leg.Strike
	}
	return sum / float64(len(legs))
}
