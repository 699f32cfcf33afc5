package domain

import "time"

// MarginRate is the fraction of notional blocked when opening a leg. Real SPAN
// margining is far more involved; the paper ledger uses a flat approximation.
const MarginRate = 0.2

// DefaultInitialCapital is the virtual cash a fresh account starts with.
const DefaultInitialCapital = 1_000_000.0

// Account is the virtual margin account backing the paper ledger.
// AvailableMargin + UsedMargin only changes through open/close transfers and
// realized P&L; UsedMargin always equals the sum of MarginHeld across ACTIVE
// positions.
type Account struct {
	UserID          string
	InitialCapital  float64
	AvailableMargin float64
	UsedMargin      float64
	RealizedPnL     float64
	CreatedAt       time.Time
	UpdatedAt       time.Time
}

// NewAccount returns an account funded with the given starting capital.
func NewAccount(userID string, capital float64, now time.Time) Account {
	return Account{
		UserID:          userID,
		InitialCapital:  capital,
		AvailableMargin: capital,
		CreatedAt:       now,
		UpdatedAt:       now,
	}
}
