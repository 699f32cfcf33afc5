package strategy

import "github.com/optiondesk/paperbot/internal/domain"

// Offsets follow the desk's defaults: spreads two grid steps wide, condor
// wings two steps past the short strikes.
const (
	spreadWidthSteps = 2
	condorWingSteps  = 4
)

// template is the shared implementation; each named strategy is a fixed set
// of relative legs.
type template struct {
	name        string
	description string
	legs        []legSpec
}

func (t template) Name() string        { return t.name }
func (t template) Description() string { return t.description }

func (t template) Legs(p Params) ([]domain.OpenSpec, error) {
	return expand(t.name, p, t.legs)
}

// Straddle sells the ATM call and put. Collects both premiums, profits when
// the index pins near the strike.
func Straddle() Template {
	return template{
		name:        "straddle",
		description: "Short ATM call + put, profits on low movement",
		legs: []legSpec{
			{kind: domain.OptionCall, direction: domain.DirectionShort, offsetSteps: 0},
			{kind: domain.OptionPut, direction: domain.DirectionShort, offsetSteps: 0},
		},
	}
}

// Strangle sells an OTM call and put around the spot, a wider, cheaper cousin
// of the straddle.
func Strangle() Template {
	return template{
		name:        "strangle",
		description: "Short OTM call + put around the spot",
		legs: []legSpec{
			{kind: domain.OptionCall, direction: domain.DirectionShort, offsetSteps: spreadWidthSteps},
			{kind: domain.OptionPut, direction: domain.DirectionShort, offsetSteps: -spreadWidthSteps},
		},
	}
}

// BullCallSpread buys the ATM call and sells a higher strike against it.
func BullCallSpread() Template {
	return template{
		name:        "bull_call_spread",
		description: "Long ATM call financed by a short higher-strike call",
		legs: []legSpec{
			{kind: domain.OptionCall, direction: domain.DirectionLong, offsetSteps: 0},
			{kind: domain.OptionCall, direction: domain.DirectionShort, offsetSteps: spreadWidthSteps},
		},
	}
}

// BearPutSpread buys the ATM put and sells a lower strike against it.
func BearPutSpread() Template {
	return template{
		name:        "bear_put_spread",
		description: "Long ATM put financed by a short lower-strike put",
		legs: []legSpec{
			{kind: domain.OptionPut, direction: domain.DirectionLong, offsetSteps: 0},
			{kind: domain.OptionPut, direction: domain.DirectionShort, offsetSteps: -spreadWidthSteps},
		},
	}
}

// IronCondor sells an OTM call spread and an OTM put spread, defined risk on
// both sides.
func IronCondor() Template {
	return template{
		name:        "iron_condor",
		description: "Short OTM call + put spreads, defined risk both sides",
		legs: []legSpec{
			{kind: domain.OptionCall, direction: domain.DirectionShort, offsetSteps: spreadWidthSteps},
			{kind: domain.OptionCall, direction: domain.DirectionLong, offsetSteps: condorWingSteps},
			{kind: domain.OptionPut, direction: domain.DirectionShort, offsetSteps: -spreadWidthSteps},
			{kind: domain.OptionPut, direction: domain.DirectionLong, offsetSteps: -condorWingSteps},
		},
	}
}

// DefaultRegistry returns a registry with the built-in templates.
func DefaultRegistry() *Registry {
	r := NewRegistry()
	for _, t := range []Template{
		Straddle(),
		Strangle(),
		BullCallSpread(),
		BearPutSpread(),
		IronCondor(),
	} {
		r.Register(t)
	}
	return r
}
