package domain

import "time"

// PositionView is the read-model projection of one position. All monetary
// fields are rounded to two decimals here and only here; internal computation
// keeps full precision.
type PositionView struct {
	ID            int64          `json:"id"`
	StrategyID    string         `json:"strategy_id"`
	StrategyName  string         `json:"strategy_name"`
	Symbol        string         `json:"symbol"`
	Tradingsymbol string         `json:"tradingsymbol"`
	Token         uint32         `json:"instrument_token"`
	Exchange      string         `json:"exchange"`
	Strike        float64        `json:"strike_price"`
	Expiry        string         `json:"expiry_date"`
	Kind          OptionKind     `json:"option_type"`
	Direction     Direction      `json:"position_type"`
	Lots          int            `json:"lots"`
	LotSize       int            `json:"lot_size"`
	Quantity      int            `json:"quantity"`
	EntryPrice    float64        `json:"entry_price"`
	CurrentPrice  float64        `json:"current_price"`
	ExitPrice     *float64       `json:"exit_price,omitempty"`
	PnL           float64        `json:"pnl"`
	PnLPct        float64        `json:"pnl_percentage"`
	Status        PositionStatus `json:"status"`
	EntryTime     time.Time      `json:"entry_time"`
	ExitTime      *time.Time     `json:"exit_time,omitempty"`
}

// AccountView is the read-model projection of the margin account.
type AccountView struct {
	InitialCapital  float64 `json:"initial_capital"`
	AvailableMargin float64 `json:"available_margin"`
	UsedMargin      float64 `json:"used_margin"`
	RealizedPnL     float64 `json:"realized_pnl"`
	UnrealizedPnL   float64 `json:"unrealized_pnl"`
}

// FeedStatusView is the read-model projection of the feed connection.
type FeedStatusView struct {
	State       FeedState `json:"state"`
	Subscribed  int       `json:"subscribed"`
	LastTickAt  string    `json:"last_tick_at,omitempty"`
	LastError   string    `json:"last_error,omitempty"`
	ConnectedAt string    `json:"connected_at,omitempty"`
}

// DashboardSnapshot is the single consistent read model handed to the
// presentation layer. Every snapshot is derived from one fully completed
// recompute generation; it never exposes a half-mutated position list.
type DashboardSnapshot struct {
	Version       uint64         `json:"version"`
	GeneratedAt   time.Time      `json:"generated_at"`
	Feed          FeedStatusView `json:"feed"`
	NiftySpot     float64        `json:"nifty_spot"`
	BankniftySpot float64        `json:"banknifty_spot"`
	SensexSpot    float64        `json:"sensex_spot"`
	Positions     []PositionView `json:"positions"`
	TotalPnL      float64        `json:"total_pnl"`
	TotalPnLPct   float64        `json:"total_pnl_percentage"`
	Account       AccountView    `json:"account"`
}
