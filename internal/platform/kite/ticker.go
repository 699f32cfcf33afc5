package kite

import (
	"context"
	"encoding/binary"
	"encoding/json"
	"fmt"
	"net/url"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/optiondesk/paperbot/internal/domain"
)

const (
	// DefaultTickerURL is the production Kite streaming endpoint.
	DefaultTickerURL = "wss://ws.kite.trade"

	// writeWait is the time allowed to write a message to the peer.
	writeWait = 10 * time.Second

	// pongWait is the time allowed to read the next pong from the peer.
	pongWait = 60 * time.Second

	// pingPeriod sends pings at this interval. Must be less than pongWait.
	pingPeriod = (pongWait * 9) / 10
)

// TickHandler receives every decoded tick batch, one per binary frame.
type TickHandler func([]domain.Tick)

// CloseHandler is called once when the connection drops or the server closes
// it. It is not called on an explicit Close().
type CloseHandler func(error)

// Ticker is a client for the Kite streaming quote feed. It owns one
// connection, decodes the binary quote frames into tick batches and hands
// them to the registered handler. The ticker deliberately does not
// reconnect: the owner decides whether and when a new connection is made.
type Ticker struct {
	wsURL       string
	apiKey      string
	accessToken string

	mu     sync.Mutex
	conn   *websocket.Conn
	closed bool
	done   chan struct{}

	handlerMu sync.RWMutex
	onTicks   TickHandler
	onClose   CloseHandler
}

// NewTicker creates a ticker for the given session credentials. wsURL may be
// empty to use the production endpoint.
func NewTicker(wsURL, apiKey, accessToken string) *Ticker {
	if wsURL == "" {
		wsURL = DefaultTickerURL
	}
	return &Ticker{
		wsURL:       wsURL,
		apiKey:      apiKey,
		accessToken: accessToken,
	}
}

// OnTicks registers the tick batch handler. Must be set before Connect.
func (t *Ticker) OnTicks(h TickHandler) {
	t.handlerMu.Lock()
	defer t.handlerMu.Unlock()
	t.onTicks = h
}

// OnClose registers the connection loss handler. Must be set before Connect.
func (t *Ticker) OnClose(h CloseHandler) {
	t.handlerMu.Lock()
	defer t.handlerMu.Unlock()
	t.onClose = h
}

// Connect dials the feed and starts the read and keep-alive loops. A ticker
// is single-use: after Close or a connection loss a fresh Ticker is needed.
func (t *Ticker) Connect(ctx context.Context) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.closed {
		return fmt.Errorf("kite/ticker: connect: client closed")
	}
	if t.conn != nil {
		return fmt.Errorf("kite/ticker: connect: %w", domain.ErrAlreadyConnected)
	}

	u, err := url.Parse(t.wsURL)
	if err != nil {
		return fmt.Errorf("kite/ticker: parse url: %w", err)
	}
	q := u.Query()
	q.Set("api_key", t.apiKey)
	q.Set("access_token", t.accessToken)
	u.RawQuery = q.Encode()

	dialer := websocket.Dialer{HandshakeTimeout: 15 * time.Second}
	conn, _, err := dialer.DialContext(ctx, u.String(), nil)
	if err != nil {
		return fmt.Errorf("kite/ticker: dial: %w", err)
	}

	t.conn = conn
	t.done = make(chan struct{})

	t.conn.SetReadDeadline(time.Now().Add(pongWait))
	t.conn.SetPongHandler(func(string) error {
		t.conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	go t.readLoop(conn)
	go t.pingLoop(conn)
	return nil
}

// Subscribe adds instrument tokens to the live subscription.
func (t *Ticker) Subscribe(tokens []uint32) error {
	return t.sendCommand(tickerCommand{Action: "subscribe", Value: tokens})
}

// Unsubscribe removes instrument tokens from the live subscription.
func (t *Ticker) Unsubscribe(tokens []uint32) error {
	return t.sendCommand(tickerCommand{Action: "unsubscribe", Value: tokens})
}

// SetModeLTP switches the given tokens to last-traded-price packets, the
// lightest mode the feed offers.
func (t *Ticker) SetModeLTP(tokens []uint32) error {
	return t.sendCommand(tickerCommand{Action: "mode", Value: []any{"ltp", tokens}})
}

// Close tears the connection down. Idempotent; the close handler does not
// fire for an explicit close.
func (t *Ticker) Close() error {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.closed {
		return nil
	}
	t.closed = true
	if t.done != nil {
		close(t.done)
	}
	if t.conn != nil {
		_ = t.conn.WriteControl(
			websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
			time.Now().Add(writeWait),
		)
		return t.conn.Close()
	}
	return nil
}

// tickerCommand is the JSON text frame the feed accepts for subscription
// management: {"a": "<action>", "v": <value>}.
type tickerCommand struct {
	Action string `json:"a"`
	Value  any    `json:"v"`
}

func (t *Ticker) sendCommand(cmd tickerCommand) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.conn == nil || t.closed {
		return fmt.Errorf("kite/ticker: send %q: %w", cmd.Action, domain.ErrNotConnected)
	}

	data, err := json.Marshal(cmd)
	if err != nil {
		return fmt.Errorf("kite/ticker: marshal %q: %w", cmd.Action, err)
	}
	t.conn.SetWriteDeadline(time.Now().Add(writeWait))
	if err := t.conn.WriteMessage(websocket.TextMessage, data); err != nil {
		return fmt.Errorf("kite/ticker: send %q: %w", cmd.Action, err)
	}
	return nil
}

func (t *Ticker) readLoop(conn *websocket.Conn) {
	for {
		msgType, data, err := conn.ReadMessage()
		if err != nil {
			select {
			case <-t.done:
				// explicit Close; stay quiet
			default:
				t.notifyClose(err)
			}
			return
		}

		switch msgType {
		case websocket.BinaryMessage:
			// single-byte frames are the feed's heartbeat
			if len(data) < 2 {
				continue
			}
			ticks := ParseBinary(data)
			if len(ticks) == 0 {
				continue
			}
			t.handlerMu.RLock()
			h := t.onTicks
			t.handlerMu.RUnlock()
			if h != nil {
				h(ticks)
			}

		case websocket.TextMessage:
			// JSON frames carry postbacks and errors
			var msg struct {
				Type string          `json:"type"`
				Data json.RawMessage `json:"data"`
			}
			if json.Unmarshal(data, &msg) == nil && msg.Type == "error" {
				t.notifyClose(fmt.Errorf("kite/ticker: server error: %s", string(msg.Data)))
				return
			}
		}
	}
}

func (t *Ticker) notifyClose(err error) {
	t.handlerMu.RLock()
	h := t.onClose
	t.handlerMu.RUnlock()
	if h != nil {
		h(err)
	}
}

func (t *Ticker) pingLoop(conn *websocket.Conn) {
	ticker := time.NewTicker(pingPeriod)
	defer ticker.Stop()

	for {
		select {
		case <-t.done:
			return
		case <-ticker.C:
			err := conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(writeWait))
			if err != nil {
				return
			}
		}
	}
}

// Market segments with a non-default price divisor in the binary frames.
const (
	segmentCDS = 3 // currency derivatives, prices in 1e-7 rupees
	segmentBCD = 6 // BSE currency derivatives, prices in 1e-4 rupees
)

// priceDivisor maps an instrument token to the divisor converting the wire
// integer into rupees. Equities, F&O and indices quote in paise.
func priceDivisor(token uint32) float64 {
	switch token & 0xFF {
	case segmentCDS:
		return 1e7
	case segmentBCD:
		return 1e4
	default:
		return 100
	}
}

// ParseBinary decodes one binary quote frame into ticks. Frame layout:
// a big-endian uint16 packet count, then per packet a uint16 length and that
// many bytes. Every packet starts with the uint32 instrument token; LTP
// packets carry the price as the next uint32. Truncated packets are skipped.
func ParseBinary(data []byte) []domain.Tick {
	if len(data) < 2 {
		return nil
	}
	count := int(binary.BigEndian.Uint16(data[0:2]))
	ticks := make([]domain.Tick, 0, count)

	offset := 2
	for i := 0; i < count; i++ {
		if offset+2 > len(data) {
			break
		}
		length := int(binary.BigEndian.Uint16(data[offset : offset+2]))
		offset += 2
		if offset+length > len(data) {
			break
		}
		packet := data[offset : offset+length]
		offset += length

		if len(packet) < 8 {
			continue
		}
		token := binary.BigEndian.Uint32(packet[0:4])
		raw := int32(binary.BigEndian.Uint32(packet[4:8]))
		ticks = append(ticks, domain.Tick{
			InstrumentToken: token,
			LastPrice:       float64(raw) / priceDivisor(token),
		})
	}
	return ticks
}
