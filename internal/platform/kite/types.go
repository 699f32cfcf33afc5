package kite

import "encoding/json"

// apiEnvelope is the wrapper every Kite Connect REST response arrives in.
type apiEnvelope struct {
	Status    string          `json:"status"`
	Message   string          `json:"message"`
	ErrorType string          `json:"error_type"`
	Data      json.RawMessage `json:"data"`
}

// Profile is the logged-in user identity.
type Profile struct {
	UserID    string   `json:"user_id"`
	UserName  string   `json:"user_name"`
	Email     string   `json:"email"`
	Broker    string   `json:"broker"`
	Exchanges []string `json:"exchanges"`
}

// Margins is the equity segment margin summary of the real account.
type Margins struct {
	Enabled   bool    `json:"enabled"`
	Net       float64 `json:"net"`
	Available struct {
		Cash        float64 `json:"cash"`
		LiveBalance float64 `json:"live_balance"`
		Collateral  float64 `json:"collateral"`
	} `json:"available"`
	Utilised struct {
		Debits   float64 `json:"debits"`
		Exposure float64 `json:"exposure"`
		Span     float64 `json:"span"`
	} `json:"utilised"`
}

// LTPQuote is one entry of a /quote/ltp response.
type LTPQuote struct {
	InstrumentToken uint32  `json:"instrument_token"`
	LastPrice       float64 `json:"last_price"`
}
