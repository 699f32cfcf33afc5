package service

import (
	"context"
	"encoding/json"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/optiondesk/paperbot/internal/domain"
	"github.com/optiondesk/paperbot/internal/engine"
)

type fakeHub struct {
	mu       sync.Mutex
	payloads [][]byte
}

func (h *fakeHub) Broadcast(payload []byte) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.payloads = append(h.payloads, append([]byte(nil), payload...))
}

func (h *fakeHub) count() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.payloads)
}

func (h *fakeHub) last() []byte {
	h.mu.Lock()
	defer h.mu.Unlock()
	if len(h.payloads) == 0 {
		return nil
	}
	return h.payloads[len(h.payloads)-1]
}

func TestPublisherPushesOnStateChangeOnly(t *testing.T) {
	core := engine.New(engine.Config{})
	hub := &fakeHub{}
	bus := &fakeBus{}
	pub := NewPublisher(PublisherConfig{
		Core:            core,
		Hub:             hub,
		Bus:             bus,
		SnapshotChannel: "snapshots",
		Interval:        5 * time.Millisecond,
	})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	done := make(chan error, 1)
	go func() { done <- pub.Run(ctx) }()

	// Initial publish establishes the baseline.
	require.Eventually(t, func() bool { return hub.count() == 1 }, time.Second, time.Millisecond)

	// No mutations: the publisher stays quiet.
	time.Sleep(50 * time.Millisecond)
	assert.Equal(t, 1, hub.count())

	_, err := core.Open(domain.OpenSpec{
		Symbol:          "NIFTY",
		InstrumentToken: 11001,
		Strike:          22000,
		Kind:            domain.OptionCall,
		Direction:       domain.DirectionLong,
		Lots:            1,
		EntryPrice:      100,
	})
	require.NoError(t, err)

	require.Eventually(t, func() bool { return hub.count() == 2 }, time.Second, time.Millisecond)
	require.Eventually(t, func() bool { return bus.count("snapshots") == 2 }, time.Second, time.Millisecond)

	var snap domain.DashboardSnapshot
	require.NoError(t, json.Unmarshal(hub.last(), &snap))
	require.Len(t, snap.Positions, 1)
	assert.Equal(t, "NIFTY", snap.Positions[0].Symbol)
	assert.Equal(t, 1000.0, snap.Account.UsedMargin, "100 entry x 50 qty x 0.2 rate")

	cancel()
	require.ErrorIs(t, <-done, context.Canceled)
}

func TestPublisherSnapshotCarriesAggregates(t *testing.T) {
	core := engine.New(engine.Config{})
	pub := NewPublisher(PublisherConfig{Core: core})

	_, err := core.Open(domain.OpenSpec{
		Symbol:          "NIFTY",
		InstrumentToken: 11001,
		Strike:          22000,
		Kind:            domain.OptionCall,
		Direction:       domain.DirectionLong,
		Lots:            1,
		EntryPrice:      100,
	})
	require.NoError(t, err)

	core.ApplyTickBatch(domain.TickBatch{
		Ticks:      []domain.Tick{{InstrumentToken: 11001, LastPrice: 120}},
		ReceivedAt: time.Now(),
	})

	snap := pub.Snapshot()
	assert.Equal(t, 1000.0, snap.TotalPnL, "(120-100)*50")
	assert.Equal(t, 20.0, snap.TotalPnLPct, "1000 over 5000 entry value")
	assert.Equal(t, 1000.0, snap.Account.UnrealizedPnL)
}
