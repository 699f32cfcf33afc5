package domain

import "time"

// PositionStatus tracks the lifecycle of a simulated position. Transitions are
// monotonic: ACTIVE may become CLOSED or EXPIRED, never the reverse.
type PositionStatus string

const (
	PositionStatusActive  PositionStatus = "ACTIVE"
	PositionStatusClosed  PositionStatus = "CLOSED"
	PositionStatusExpired PositionStatus = "EXPIRED"
)

// OptionKind is the contract type, serialized with the exchange's CE/PE codes.
type OptionKind string

const (
	OptionCall OptionKind = "CE"
	OptionPut  OptionKind = "PE"
)

// Direction is the side of a leg, serialized with the broker's BUY/SELL codes.
type Direction string

const (
	DirectionLong  Direction = "BUY"
	DirectionShort Direction = "SELL"
)

// Sign returns the P&L multiplier for the direction: +1 for long, -1 for short.
func (d Direction) Sign() float64 {
	if d == DirectionShort {
		return -1
	}
	return 1
}

// Position is one leg of an options strategy in the paper ledger.
type Position struct {
	ID              int64
	StrategyID      string // 8-char group id shared by legs of one strategy
	StrategyName    string
	Symbol          string // index name: NIFTY, BANKNIFTY, SENSEX
	Tradingsymbol   string // exchange symbol, e.g. NIFTY24JAN22000CE
	InstrumentToken uint32
	Exchange        string // NFO, or BFO for SENSEX contracts
	Strike          float64
	Expiry          time.Time
	Kind            OptionKind
	Direction       Direction
	Lots            int
	LotSize         int
	Quantity        int // Lots * LotSize
	EntryPrice      float64
	CurrentPrice    float64
	ExitPrice       *float64
	MarginHeld      float64
	Status          PositionStatus
	EntryTime       time.Time
	ExitTime        *time.Time
}

// PnLAt returns the mark-to-market P&L of the leg against the given price.
func (p Position) PnLAt(price float64) float64 {
	return p.Direction.Sign() * (price - p.EntryPrice) * float64(p.Quantity)
}

// EntryValue is the notional the leg was entered at, the P&L percentage base.
func (p Position) EntryValue() float64 {
	return p.EntryPrice * float64(p.Quantity)
}

// OpenSpec carries everything needed to open a new leg. StrategyID may be left
// blank to start a fresh strategy group; LotSize zero means "resolve from the
// symbol table".
type OpenSpec struct {
	StrategyID      string
	StrategyName    string
	Symbol          string
	Tradingsymbol   string
	InstrumentToken uint32
	Strike          float64
	Expiry          time.Time
	Kind            OptionKind
	Direction       Direction
	Lots            int
	LotSize         int
	EntryPrice      float64
}

// CloseResult reports the outcome of closing a single position.
type CloseResult struct {
	PositionID int64
	ExitPrice  float64
	FinalPnL   float64
	Err        error
}
