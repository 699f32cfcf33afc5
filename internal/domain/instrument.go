package domain

import (
	"fmt"
	"strings"
	"time"
)

// Exchange segments for index derivatives.
const (
	ExchangeNFO = "NFO"
	ExchangeBFO = "BFO" // BSE F&O, SENSEX contracts
)

// Instrument tokens of the tracked spot indices on the Kite feed.
const (
	TokenNifty50   uint32 = 256265 // NSE:NIFTY 50
	TokenNiftyBank uint32 = 260105 // NSE:NIFTY BANK
	TokenSensex    uint32 = 265    // BSE:SENSEX
)

// IndexName returns the display name for a tracked index token, "" otherwise.
func IndexName(token uint32) string {
	switch token {
	case TokenNifty50:
		return "NIFTY 50"
	case TokenNiftyBank:
		return "NIFTY BANK"
	case TokenSensex:
		return "SENSEX"
	}
	return ""
}

// LotSize returns the contract lot size for an index symbol, 0 when unknown.
func LotSize(symbol string) int {
	switch strings.ToUpper(symbol) {
	case "NIFTY":
		return 50
	case "BANKNIFTY":
		return 15
	case "SENSEX":
		return 10
	}
	return 0
}

// ExchangeFor returns the derivatives segment an index symbol trades on.
func ExchangeFor(symbol string) string {
	if strings.EqualFold(symbol, "SENSEX") {
		return ExchangeBFO
	}
	return ExchangeNFO
}

// StrikeStep is the strike-price grid spacing for an index symbol.
func StrikeStep(symbol string) float64 {
	switch strings.ToUpper(symbol) {
	case "BANKNIFTY", "SENSEX":
		return 100
	default:
		return 50
	}
}

// FormatTradingsymbol builds the monthly-contract exchange symbol, e.g.
// NIFTY24JAN22000CE. Weekly contracts use a different encoding; templates only
// deal in monthlies so this is all that is needed here.
func FormatTradingsymbol(symbol string, expiry time.Time, strike float64, kind OptionKind) string {
	return fmt.Sprintf("%s%s%d%s",
		strings.ToUpper(symbol),
		strings.ToUpper(expiry.Format("06Jan")),
		int64(strike),
		kind,
	)
}
