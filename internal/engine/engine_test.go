package engine

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/optiondesk/paperbot/internal/domain"
)

func newTestEngine(t *testing.T, capital float64) *Engine {
	t.Helper()
	return New(Config{InitialCapital: capital, UserID: "tester"})
}

func niftySpec(entry float64, lots int) domain.OpenSpec {
	return domain.OpenSpec{
		Symbol:          "NIFTY",
		Tradingsymbol:   "NIFTY24SEP22000CE",
		InstrumentToken: 111001,
		Strike:          22000,
		Expiry:          time.Date(2026, 9, 24, 0, 0, 0, 0, time.UTC),
		Kind:            domain.OptionCall,
		Direction:       domain.DirectionLong,
		Lots:            lots,
		EntryPrice:      entry,
	}
}

func batch(ticks ...domain.Tick) domain.TickBatch {
	return domain.TickBatch{Ticks: ticks, ReceivedAt: time.Now()}
}

func TestOpenDebitsMarginAndFillsDefaults(t *testing.T) {
	e := newTestEngine(t, 1_000_000)

	p, err := e.Open(niftySpec(100, 2))
	require.NoError(t, err)

	assert.Equal(t, int64(1), p.ID)
	assert.Len(t, p.StrategyID, 8)
	assert.Equal(t, "NIFTY Trade", p.StrategyName)
	assert.Equal(t, 50, p.LotSize)
	assert.Equal(t, 100, p.Quantity)
	assert.Equal(t, domain.ExchangeNFO, p.Exchange)
	assert.InDelta(t, 100*100*0.2, p.MarginHeld, 1e-9)
	assert.InDelta(t, 100.0, p.CurrentPrice, 1e-9)

	acct := e.Account()
	assert.InDelta(t, 1_000_000-2000, acct.AvailableMargin, 1e-9)
	assert.InDelta(t, 2000, acct.UsedMargin, 1e-9)
}

func TestOpenSensexUsesBFO(t *testing.T) {
	e := newTestEngine(t, 1_000_000)
	spec := niftySpec(100, 1)
	spec.Symbol = "SENSEX"
	spec.Tradingsymbol = "SENSEX24SEP81000CE"

	p, err := e.Open(spec)
	require.NoError(t, err)

	assert.Equal(t, domain.ExchangeBFO, p.Exchange)
	assert.Equal(t, 10, p.LotSize)
	assert.Equal(t, 10, p.Quantity)
}

func TestOpenInsufficientMarginQuotesAmounts(t *testing.T) {
	e := newTestEngine(t, 100_000)

	// 12000 * 50 * 0.2 = 120000 required against 100000 available
	_, err := e.Open(niftySpec(12000, 1))

	var margErr *domain.InsufficientMarginError
	require.ErrorAs(t, err, &margErr)
	assert.InDelta(t, 120_000, margErr.Required, 1e-9)
	assert.InDelta(t, 100_000, margErr.Available, 1e-9)

	// rejection leaves the ledger untouched
	assert.Empty(t, e.ActivePositions())
	acct := e.Account()
	assert.InDelta(t, 100_000, acct.AvailableMargin, 1e-9)
	assert.Zero(t, acct.UsedMargin)
}

func TestOpenCloseRoundTripRestoresMargin(t *testing.T) {
	e := newTestEngine(t, 500_000)

	p, err := e.Open(niftySpec(100, 1))
	require.NoError(t, err)

	_, finalPnL, err := e.Close(p.ID, 100)
	require.NoError(t, err)

	assert.Zero(t, finalPnL)
	acct := e.Account()
	assert.InDelta(t, 500_000, acct.AvailableMargin, 1e-9)
	assert.Zero(t, acct.UsedMargin)
	assert.Zero(t, acct.RealizedPnL)
}

func TestCloseShortRealizesProfit(t *testing.T) {
	e := newTestEngine(t, 500_000)
	spec := niftySpec(100, 1)
	spec.Direction = domain.DirectionShort

	p, err := e.Open(spec)
	require.NoError(t, err)

	closed, finalPnL, err := e.Close(p.ID, 90)
	require.NoError(t, err)

	// short 50 qty, price dropped 10
	assert.InDelta(t, 500.0, finalPnL, 1e-9)
	assert.Equal(t, domain.PositionStatusClosed, closed.Status)
	require.NotNil(t, closed.ExitPrice)
	assert.InDelta(t, 90.0, *closed.ExitPrice, 1e-9)
	assert.InDelta(t, 90.0, closed.CurrentPrice, 1e-9)

	acct := e.Account()
	assert.InDelta(t, 500_500, acct.AvailableMargin, 1e-9)
	assert.InDelta(t, 500.0, acct.RealizedPnL, 1e-9)
	assert.Zero(t, acct.UsedMargin)
}

func TestCloseUnknownAndRepeatedClose(t *testing.T) {
	e := newTestEngine(t, 500_000)

	_, _, err := e.Close(42, 100)
	assert.ErrorIs(t, err, domain.ErrNotFound)

	p, err := e.Open(niftySpec(100, 1))
	require.NoError(t, err)

	_, _, err = e.Close(p.ID, 110)
	require.NoError(t, err)

	// a second close must report the position as gone
	_, _, err = e.Close(p.ID, 120)
	assert.ErrorIs(t, err, domain.ErrNotFound)
}

func TestApplyTickBatchUpdatesKnownAndDropsUnknown(t *testing.T) {
	e := newTestEngine(t, 500_000)
	p, err := e.Open(niftySpec(100, 1))
	require.NoError(t, err)

	applied, dropped := e.ApplyTickBatch(batch(
		domain.Tick{InstrumentToken: p.InstrumentToken, LastPrice: 112.5},
		domain.Tick{InstrumentToken: domain.TokenNifty50, LastPrice: 22150},
		domain.Tick{InstrumentToken: 999999, LastPrice: 5},
	))

	assert.Len(t, applied, 2)
	assert.Equal(t, 1, dropped)
	assert.Equal(t, uint64(1), e.DroppedTicks())

	got, err := e.Position(p.ID)
	require.NoError(t, err)
	assert.InDelta(t, 112.5, got.CurrentPrice, 1e-9)

	snap := e.Snapshot()
	assert.InDelta(t, 22150.0, snap.NiftySpot, 1e-9)
	assert.InDelta(t, (112.5-100)*50, snap.TotalPnL, 1e-9)
}

func TestTicksNeverThawClosedPosition(t *testing.T) {
	e := newTestEngine(t, 500_000)
	p, err := e.Open(niftySpec(100, 1))
	require.NoError(t, err)

	_, _, err = e.Close(p.ID, 105)
	require.NoError(t, err)

	e.ApplyTickBatch(batch(domain.Tick{InstrumentToken: p.InstrumentToken, LastPrice: 300}))

	got, err := e.Position(p.ID)
	require.NoError(t, err)
	assert.InDelta(t, 105.0, got.CurrentPrice, 1e-9)
}

func TestCloseAllUsesLastValuation(t *testing.T) {
	e := newTestEngine(t, 1_000_000)

	p1, err := e.Open(niftySpec(100, 1))
	require.NoError(t, err)
	spec2 := niftySpec(200, 2)
	spec2.InstrumentToken = 111002
	p2, err := e.Open(spec2)
	require.NoError(t, err)

	// only the first leg ever ticks; the second settles at entry
	e.ApplyTickBatch(batch(domain.Tick{InstrumentToken: p1.InstrumentToken, LastPrice: 120}))

	results := e.CloseAll()
	require.Len(t, results, 2)

	byID := map[int64]domain.CloseResult{}
	for _, r := range results {
		require.NoError(t, r.Err)
		byID[r.PositionID] = r
	}
	assert.InDelta(t, 120.0, byID[p1.ID].ExitPrice, 1e-9)
	assert.InDelta(t, 1000.0, byID[p1.ID].FinalPnL, 1e-9)
	assert.InDelta(t, 200.0, byID[p2.ID].ExitPrice, 1e-9)
	assert.Zero(t, byID[p2.ID].FinalPnL)

	assert.Empty(t, e.ActivePositions())
	acct := e.Account()
	assert.InDelta(t, 1_001_000, acct.AvailableMargin, 1e-9)
	assert.Zero(t, acct.UsedMargin)

	// nothing left to close
	assert.Nil(t, e.CloseAll())
}

func TestMarkExpiredSettlesAtIntrinsic(t *testing.T) {
	e := newTestEngine(t, 1_000_000)
	spec := niftySpec(100, 1)
	spec.Expiry = time.Date(2026, 1, 29, 0, 0, 0, 0, time.UTC)

	p, err := e.Open(spec)
	require.NoError(t, err)

	e.ApplyTickBatch(batch(domain.Tick{InstrumentToken: domain.TokenNifty50, LastPrice: 22300}))

	results := e.MarkExpired(time.Date(2026, 2, 2, 10, 0, 0, 0, time.UTC))
	require.Len(t, results, 1)
	require.NoError(t, results[0].Err)

	// CALL strike 22000 against spot 22300
	assert.InDelta(t, 300.0, results[0].ExitPrice, 1e-9)

	got, err := e.Position(p.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.PositionStatusExpired, got.Status)
}

func TestMarkExpiredWithoutSpotSettlesAtZero(t *testing.T) {
	e := newTestEngine(t, 1_000_000)
	spec := niftySpec(100, 1)
	spec.Expiry = time.Date(2026, 1, 29, 0, 0, 0, 0, time.UTC)

	p, err := e.Open(spec)
	require.NoError(t, err)

	results := e.MarkExpired(time.Date(2026, 2, 2, 10, 0, 0, 0, time.UTC))
	require.Len(t, results, 1)
	assert.Zero(t, results[0].ExitPrice)
	assert.InDelta(t, -100.0*50, results[0].FinalPnL, 1e-9)

	got, err := e.Position(p.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.PositionStatusExpired, got.Status)
}

func TestLoadReconcilesAccount(t *testing.T) {
	e := newTestEngine(t, 1_000_000)

	active := activeLeg(7, 111001, domain.DirectionLong, 100, 50)
	active.MarginHeld = 1000
	closedExit := 50.0
	closed := activeLeg(3, 111002, domain.DirectionLong, 60, 50)
	closed.Status = domain.PositionStatusClosed
	closed.ExitPrice = &closedExit
	closed.MarginHeld = 600

	// stored row drifted: it claims more used margin than the ledger holds
	stored := domain.Account{
		UserID:          "tester",
		InitialCapital:  1_000_000,
		AvailableMargin: 990_000,
		UsedMargin:      5_000,
		RealizedPnL:     -500,
	}

	acct := e.Load([]domain.Position{active, closed}, stored, 9)

	assert.InDelta(t, 1000.0, acct.UsedMargin, 1e-9)
	assert.InDelta(t, 1_000_000-500-1000, acct.AvailableMargin, 1e-9)

	// id counter moves past everything the store has issued
	p, err := e.Open(niftySpec(10, 1))
	require.NoError(t, err)
	assert.Equal(t, int64(10), p.ID)
}

func TestSubscriptionTokensUnionActiveAndIndices(t *testing.T) {
	e := newTestEngine(t, 1_000_000)

	p, err := e.Open(niftySpec(100, 1))
	require.NoError(t, err)
	spec2 := niftySpec(50, 1)
	spec2.InstrumentToken = 111002
	p2, err := e.Open(spec2)
	require.NoError(t, err)
	_, _, err = e.Close(p2.ID, 55)
	require.NoError(t, err)

	tokens := e.SubscriptionTokens()

	assert.Contains(t, tokens, domain.TokenNifty50)
	assert.Contains(t, tokens, domain.TokenNiftyBank)
	assert.Contains(t, tokens, p.InstrumentToken)
	assert.NotContains(t, tokens, p2.InstrumentToken)
}

func TestSnapshotRoundsAtBoundaryOnly(t *testing.T) {
	e := newTestEngine(t, 1_000_000)
	p, err := e.Open(niftySpec(100, 1))
	require.NoError(t, err)

	e.ApplyTickBatch(batch(domain.Tick{InstrumentToken: p.InstrumentToken, LastPrice: 103.333333}))

	snap := e.Snapshot()
	require.Len(t, snap.Positions, 1)
	view := snap.Positions[0]

	assert.InDelta(t, 103.33, view.CurrentPrice, 1e-9)
	assert.InDelta(t, round2((103.333333-100)*50), view.PnL, 1e-9)

	// internal state keeps full precision
	got, err := e.Position(p.ID)
	require.NoError(t, err)
	assert.InDelta(t, 103.333333, got.CurrentPrice, 1e-9)
}

func TestChangesSignalCoalesces(t *testing.T) {
	e := newTestEngine(t, 1_000_000)

	_, err := e.Open(niftySpec(100, 1))
	require.NoError(t, err)
	_, err = e.Open(niftySpec(100, 1))
	require.NoError(t, err)

	select {
	case <-e.Changes():
	default:
		t.Fatal("expected a pending change signal")
	}
	select {
	case <-e.Changes():
		t.Fatal("signal should coalesce to a single pending notification")
	default:
	}
}

func TestConcurrentTicksAndCloseKeepSnapshotsConsistent(t *testing.T) {
	e := newTestEngine(t, 1_000_000)
	p, err := e.Open(niftySpec(100, 1))
	require.NoError(t, err)

	const rounds = 1000
	exitPrice := 12345.0

	var wg sync.WaitGroup
	wg.Add(3)

	go func() {
		defer wg.Done()
		for i := 0; i < rounds; i++ {
			e.ApplyTickBatch(batch(domain.Tick{
				InstrumentToken: p.InstrumentToken,
				LastPrice:       float64(i + 1),
			}))
		}
	}()

	go func() {
		defer wg.Done()
		_, _, err := e.Close(p.ID, exitPrice)
		assert.NoError(t, err)
	}()

	violations := make(chan domain.PositionView, 1)
	go func() {
		defer wg.Done()
		for i := 0; i < rounds; i++ {
			snap := e.Snapshot()
			for _, view := range snap.Positions {
				if view.ID != p.ID || view.Status != domain.PositionStatusClosed {
					continue
				}
				if view.ExitPrice == nil || view.CurrentPrice != *view.ExitPrice {
					select {
					case violations <- view:
					default:
					}
					return
				}
			}
		}
	}()

	wg.Wait()
	close(violations)
	if view, ok := <-violations; ok {
		t.Fatalf("closed position leaked a live price: %+v", view)
	}

	// after the dust settles the position stays frozen at its exit
	got, err := e.Position(p.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.PositionStatusClosed, got.Status)
	assert.InDelta(t, exitPrice, got.CurrentPrice, 1e-9)
}
