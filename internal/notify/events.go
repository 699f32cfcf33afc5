package notify

import (
	"context"
	"fmt"
	"time"

	"github.com/optiondesk/paperbot/internal/domain"
)

// sendTimeout bounds webhook delivery so a slow channel never holds up the
// ledger path that emitted the event.
const sendTimeout = 10 * time.Second

// HandleEvent formats a ledger or feed event and dispatches it in the
// background. It satisfies the service event sink signature. Delivery
// failures are logged by the dispatcher, never surfaced to the caller.
func (n *Notifier) HandleEvent(ev domain.Event) {
	alert, ok := formatEvent(ev)
	if !ok {
		return
	}
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), sendTimeout)
		defer cancel()
		_ = n.Notify(ctx, alert)
	}()
}

func formatEvent(ev domain.Event) (Alert, bool) {
	switch ev.Type {
	case domain.EventTradeOpened:
		if ev.Position == nil {
			return Alert{}, false
		}
		p := ev.Position
		return Alert{
			Event: ev.Type,
			Title: "Trade opened",
			Body: fmt.Sprintf("%s %s x%d lots (qty %d) @ %.2f",
				p.Direction, p.Tradingsymbol, p.Lots, p.Quantity, p.EntryPrice),
		}, true
	case domain.EventTradeClosed:
		if ev.Position == nil {
			return Alert{}, false
		}
		p := ev.Position
		pnl := p.PnL
		if ev.FinalPnL != nil {
			pnl = *ev.FinalPnL
		}
		return Alert{
			Event: ev.Type,
			Title: "Trade closed",
			Body:  fmt.Sprintf("%s %s closed, P&L %+.2f", p.Direction, p.Tradingsymbol, pnl),
		}, true
	case domain.EventTradeExpired:
		if ev.Position == nil {
			return Alert{}, false
		}
		p := ev.Position
		pnl := p.PnL
		if ev.FinalPnL != nil {
			pnl = *ev.FinalPnL
		}
		return Alert{
			Event:  ev.Type,
			Title:  "Position expired",
			Body:   fmt.Sprintf("%s settled at expiry, P&L %+.2f", p.Tradingsymbol, pnl),
			Urgent: true,
		}, true
	case domain.EventFeedStarted:
		return Alert{Event: ev.Type, Title: "Feed connected", Body: feedLine(ev)}, true
	case domain.EventFeedStopped:
		return Alert{Event: ev.Type, Title: "Feed stopped", Body: feedLine(ev)}, true
	case domain.EventFeedError:
		return Alert{Event: ev.Type, Title: "Feed error", Body: feedLine(ev), Urgent: true}, true
	default:
		return Alert{}, false
	}
}

func feedLine(ev domain.Event) string {
	if ev.Feed == nil {
		return ev.Message
	}
	line := fmt.Sprintf("state=%s subscribed=%d", ev.Feed.State, ev.Feed.Subscribed)
	if ev.Feed.LastError != "" {
		line += " error=" + ev.Feed.LastError
	}
	if ev.Message != "" {
		line += " " + ev.Message
	}
	return line
}
