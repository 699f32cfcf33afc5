package notify

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/optiondesk/paperbot/internal/domain"
)

type recordingSender struct {
	mu     sync.Mutex
	alerts []Alert
	fail   bool
}

func (r *recordingSender) Send(_ context.Context, alert Alert) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.fail {
		return assert.AnError
	}
	r.alerts = append(r.alerts, alert)
	return nil
}

func (r *recordingSender) Name() string { return "recording" }

func (r *recordingSender) titles() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]string, len(r.alerts))
	for i, a := range r.alerts {
		out[i] = a.Title
	}
	return out
}

func TestNotifyFiltersByEventType(t *testing.T) {
	s := &recordingSender{}
	n := NewNotifier([]Sender{s}, []string{"trade_closed"}, slog.Default())

	require.NoError(t, n.Notify(context.Background(), Alert{Event: domain.EventTradeOpened, Title: "Opened"}))
	require.NoError(t, n.Notify(context.Background(), Alert{Event: domain.EventTradeClosed, Title: "Closed"}))

	assert.Equal(t, []string{"Closed"}, s.titles())
}

func TestNotifyEmptyFilterAllowsEverything(t *testing.T) {
	s := &recordingSender{}
	n := NewNotifier([]Sender{s}, nil, slog.Default())

	require.NoError(t, n.Notify(context.Background(), Alert{Event: "anything", Title: "A"}))
	assert.Equal(t, []string{"A"}, s.titles())
}

func TestNotifyIsolatesSenderFailures(t *testing.T) {
	bad := &recordingSender{fail: true}
	good := &recordingSender{}
	n := NewNotifier([]Sender{bad, good}, nil, slog.Default())

	err := n.Notify(context.Background(), Alert{Event: domain.EventTradeClosed, Title: "T"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "recording")
	assert.Equal(t, []string{"T"}, good.titles())
}

func TestFormatEventTradeOpened(t *testing.T) {
	ev := domain.Event{
		Type: domain.EventTradeOpened,
		Position: &domain.PositionView{
			Tradingsymbol: "NIFTY24JAN22000CE",
			Direction:     domain.DirectionLong,
			Lots:          2,
			Quantity:      100,
			EntryPrice:    101.5,
		},
	}

	alert, ok := formatEvent(ev)
	require.True(t, ok)
	assert.Equal(t, "Trade opened", alert.Title)
	assert.False(t, alert.Urgent)
	assert.Contains(t, alert.Body, "NIFTY24JAN22000CE")
	assert.Contains(t, alert.Body, "x2 lots")
	assert.Contains(t, alert.Body, "101.50")
}

func TestFormatEventUsesFinalPnLOnClose(t *testing.T) {
	pnl := -1234.5
	ev := domain.Event{
		Type:     domain.EventTradeClosed,
		FinalPnL: &pnl,
		Position: &domain.PositionView{
			Tradingsymbol: "BANKNIFTY24FEB48000PE",
			Direction:     domain.DirectionShort,
			PnL:           999, // stale view value must lose to FinalPnL
		},
	}

	alert, ok := formatEvent(ev)
	require.True(t, ok)
	assert.Equal(t, "Trade closed", alert.Title)
	assert.Contains(t, alert.Body, "-1234.50")
}

func TestFormatEventFeedErrorIsUrgent(t *testing.T) {
	ev := domain.Event{
		Type: domain.EventFeedError,
		Feed: &domain.FeedStatusView{State: domain.FeedError, LastError: "read: connection reset"},
	}

	alert, ok := formatEvent(ev)
	require.True(t, ok)
	assert.Equal(t, "Feed error", alert.Title)
	assert.True(t, alert.Urgent)
	assert.Contains(t, alert.Body, "connection reset")
}

func TestHandleEventDeliversAsync(t *testing.T) {
	s := &recordingSender{}
	n := NewNotifier([]Sender{s}, nil, slog.Default())

	n.HandleEvent(domain.Event{
		Type: domain.EventFeedStarted,
		Feed: &domain.FeedStatusView{State: domain.FeedConnected, Subscribed: 2},
		At:   time.Now(),
	})

	require.Eventually(t, func() bool {
		return len(s.titles()) == 1
	}, time.Second, 10*time.Millisecond)
	assert.Equal(t, "Feed connected", s.titles()[0])
}

func TestTelegramSendSilencesRoutineAlerts(t *testing.T) {
	type sendMessage struct {
		ChatID              string `json:"chat_id"`
		Text                string `json:"text"`
		ParseMode           string `json:"parse_mode"`
		DisableNotification bool   `json:"disable_notification"`
	}

	var (
		gotPath string
		gotBody sendMessage
	)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		require.NoError(t, json.NewDecoder(r.Body).Decode(&gotBody))
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	sender := &TelegramSender{api: srv.URL, token: "tok", chatID: "42", client: srv.Client()}

	err := sender.Send(context.Background(), Alert{
		Event: domain.EventTradeOpened,
		Title: "Trade opened",
		Body:  "LONG NIFTY26MAR22000CE x1 lots (qty 50) @ 120.00",
	})
	require.NoError(t, err)

	assert.Equal(t, "/bottok/sendMessage", gotPath)
	assert.Equal(t, "42", gotBody.ChatID)
	assert.Equal(t, "HTML", gotBody.ParseMode)
	assert.True(t, gotBody.DisableNotification)
	assert.Contains(t, gotBody.Text, "<b>Trade opened</b>")
	assert.Contains(t, gotBody.Text, "NIFTY26MAR22000CE")

	err = sender.Send(context.Background(), Alert{
		Event:  domain.EventFeedError,
		Title:  "Feed error",
		Body:   "state=ERROR subscribed=0",
		Urgent: true,
	})
	require.NoError(t, err)
	assert.False(t, gotBody.DisableNotification)
}

func TestDiscordSendColorsEmbedByEventType(t *testing.T) {
	type webhookBody struct {
		Embeds []discordEmbed `json:"embeds"`
	}

	var gotBody webhookBody
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.NoError(t, json.NewDecoder(r.Body).Decode(&gotBody))
		w.WriteHeader(http.StatusNoContent)
	}))
	defer srv.Close()

	sender := &DiscordSender{webhookURL: srv.URL, client: srv.Client()}

	err := sender.Send(context.Background(), Alert{
		Event: domain.EventFeedError,
		Title: "Feed error",
		Body:  "state=ERROR subscribed=0 error=read: connection reset",
	})
	require.NoError(t, err)

	require.Len(t, gotBody.Embeds, 1)
	assert.Equal(t, "Feed error", gotBody.Embeds[0].Title)
	assert.Equal(t, embedColors[domain.EventFeedError], gotBody.Embeds[0].Color)
}

func TestDiscordSendRejectsErrorStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "invalid webhook token", http.StatusUnauthorized)
	}))
	defer srv.Close()

	sender := &DiscordSender{webhookURL: srv.URL, client: srv.Client()}

	err := sender.Send(context.Background(), Alert{Event: domain.EventTradeOpened, Title: "T"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "401")
}
