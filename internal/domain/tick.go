package domain

import "time"

// Tick is one LTP observation delivered by the market-data feed.
type Tick struct {
	InstrumentToken uint32
	LastPrice       float64
}

// TickBatch is the unit of delivery from the transport: every tick decoded
// from one websocket frame, in frame order.
type TickBatch struct {
	Ticks      []Tick
	ReceivedAt time.Time
}

// Valuation is the last known price for an instrument and when it was seen.
type Valuation struct {
	Price      float64
	ObservedAt time.Time
}
