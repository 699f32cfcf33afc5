package domain

import "time"

// FeedState is the connection state of the tick feed.
//
// Valid transitions: DISCONNECTED -> CONNECTING (start), CONNECTING ->
// CONNECTED (handshake + subscribe done), CONNECTED -> DISCONNECTED (explicit
// stop or clean close), any -> ERROR (unrecoverable fault). ERROR is terminal
// until an explicit restart re-enters CONNECTING; the feed never reconnects on
// its own.
type FeedState string

const (
	FeedDisconnected FeedState = "DISCONNECTED"
	FeedConnecting   FeedState = "CONNECTING"
	FeedConnected    FeedState = "CONNECTED"
	FeedError        FeedState = "ERROR"
)

// FeedStatus is the observable condition of the feed connection.
type FeedStatus struct {
	State       FeedState
	Subscribed  int // instruments in the live subscription
	LastTickAt  time.Time
	LastError   string
	ConnectedAt time.Time
}
