// Package notify pushes ledger and feed alerts to chat channels so a desk
// operator hears about fills, expiries, and feed faults without watching the
// dashboard. Delivery is best effort and never blocks the trading path.
package notify

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/optiondesk/paperbot/internal/domain"
)

// Alert is one formatted notification derived from a ledger or feed event.
type Alert struct {
	Event domain.EventType
	Title string
	Body  string
	// Urgent marks alerts a channel should deliver loudly, such as feed
	// faults and expiry settlements. Channels may ignore it.
	Urgent bool
}

// Sender delivers a formatted alert to a single channel.
type Sender interface {
	Send(ctx context.Context, alert Alert) error
	Name() string
}

// Notifier fans alerts out to the configured senders, filtered by event
// type. A nil filter forwards every event type.
type Notifier struct {
	senders []Sender
	allowed map[domain.EventType]struct{}
	logger  *slog.Logger
}

// NewNotifier builds a Notifier for the given senders. events holds the
// event type names to forward, as configured (for example "trade_closed",
// "feed_error"); an empty slice forwards everything.
func NewNotifier(senders []Sender, events []string, logger *slog.Logger) *Notifier {
	var allowed map[domain.EventType]struct{}
	if len(events) > 0 {
		allowed = make(map[domain.EventType]struct{}, len(events))
		for _, e := range events {
			allowed[domain.EventType(strings.TrimSpace(e))] = struct{}{}
		}
	}
	return &Notifier{
		senders: senders,
		allowed: allowed,
		logger:  logger.With(slog.String("component", "notifier")),
	}
}

// Notify forwards the alert to every sender unless its event type is filtered
// out. Failures are joined into one error but do not stop the fan-out; a dead
// webhook does not mute the remaining channels.
func (n *Notifier) Notify(ctx context.Context, alert Alert) error {
	if n.allowed != nil {
		if _, ok := n.allowed[alert.Event]; !ok {
			n.logger.DebugContext(ctx, "alert filtered",
				slog.String("event", string(alert.Event)),
			)
			return nil
		}
	}
	if len(n.senders) == 0 {
		return nil
	}

	var errs []error
	for _, s := range n.senders {
		if err := s.Send(ctx, alert); err != nil {
			n.logger.ErrorContext(ctx, "sender failed",
				slog.String("sender", s.Name()),
				slog.String("event", string(alert.Event)),
				slog.String("error", err.Error()),
			)
			errs = append(errs, fmt.Errorf("%s: %w", s.Name(), err))
			continue
		}
		n.logger.DebugContext(ctx, "alert sent",
			slog.String("sender", s.Name()),
			slog.String("title", alert.Title),
		)
	}
	return errors.Join(errs...)
}
