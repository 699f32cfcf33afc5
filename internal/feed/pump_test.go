package feed

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/optiondesk/paperbot/internal/domain"
	"github.com/optiondesk/paperbot/internal/engine"
)

type recordingMirror struct {
	mu      sync.Mutex
	batches []map[uint32]domain.Valuation
	err     error
}

func (m *recordingMirror) SetBatch(_ context.Context, vals map[uint32]domain.Valuation) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return m.err
	}
	cp := make(map[uint32]domain.Valuation, len(vals))
	for k, v := range vals {
		cp[k] = v
	}
	m.batches = append(m.batches, cp)
	return nil
}

func (m *recordingMirror) Get(context.Context, uint32) (domain.Valuation, error) {
	return domain.Valuation{}, domain.ErrNotFound
}

func (m *recordingMirror) GetAll(context.Context) (map[uint32]domain.Valuation, error) {
	return nil, nil
}

func (m *recordingMirror) count() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.batches)
}

func TestPumpAppliesBatchesAndMirrorsPrices(t *testing.T) {
	core := engine.New(engine.Config{})
	mirror := &recordingMirror{}
	batches := make(chan domain.TickBatch, 4)
	pump := NewPump(batches, core, mirror, nil)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- pump.Run(ctx) }()

	batches <- domain.TickBatch{
		Ticks:      []domain.Tick{{InstrumentToken: domain.TokenNifty50, LastPrice: 22104.6}},
		ReceivedAt: time.Now(),
	}

	require.Eventually(t, func() bool { return mirror.count() == 1 }, time.Second, time.Millisecond)
	snap := core.Snapshot()
	assert.Equal(t, 22104.6, snap.NiftySpot)

	cancel()
	require.ErrorIs(t, <-done, context.Canceled)
}

func TestPumpSurvivesMirrorFailure(t *testing.T) {
	core := engine.New(engine.Config{})
	mirror := &recordingMirror{err: errors.New("redis down")}
	batches := make(chan domain.TickBatch, 1)
	pump := NewPump(batches, core, mirror, nil)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	done := make(chan error, 1)
	go func() { done <- pump.Run(ctx) }()

	batches <- domain.TickBatch{
		Ticks:      []domain.Tick{{InstrumentToken: domain.TokenNiftyBank, LastPrice: 47890.1}},
		ReceivedAt: time.Now(),
	}

	require.Eventually(t, func() bool {
		return core.Snapshot().BankniftySpot == 47890.1
	}, time.Second, time.Millisecond)

	cancel()
	require.ErrorIs(t, <-done, context.Canceled)
}

func TestPumpStopsWhenChannelCloses(t *testing.T) {
	core := engine.New(engine.Config{})
	batches := make(chan domain.TickBatch)
	pump := NewPump(batches, core, nil, nil)

	done := make(chan error, 1)
	go func() { done <- pump.Run(context.Background()) }()

	close(batches)
	require.NoError(t, <-done)
}
