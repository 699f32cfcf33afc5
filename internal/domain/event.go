package domain

import "time"

// EventType labels ledger and feed lifecycle events published on the bus.
type EventType string

const (
	EventTradeOpened  EventType = "trade_opened"
	EventTradeClosed  EventType = "trade_closed"
	EventTradeExpired EventType = "trade_expired"
	EventFeedStarted  EventType = "feed_started"
	EventFeedStopped  EventType = "feed_stopped"
	EventFeedError    EventType = "feed_error"
)

// Event is one ledger or feed occurrence, as published to subscribers and
// forwarded to notification channels. Payload fields are set per type: trade
// events carry Position (and FinalPnL on close), feed events carry Feed.
type Event struct {
	Type     EventType       `json:"type"`
	At       time.Time       `json:"at"`
	Position *PositionView   `json:"position,omitempty"`
	FinalPnL *float64        `json:"final_pnl,omitempty"`
	Feed     *FeedStatusView `json:"feed,omitempty"`
	Message  string          `json:"message,omitempty"`
}
