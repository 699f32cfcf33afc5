// Package engine owns the in-process core of the paper ledger: the valuation
// cache, the position working set and the margin account. One mutex guards all
// three, so tick application, ledger mutation and snapshot reads each execute
// as a critical section and a reader can never observe a half-applied close.
package engine

import (
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/optiondesk/paperbot/internal/domain"
	"github.com/optiondesk/paperbot/internal/payoff"
)

// Config configures the engine.
type Config struct {
	// IndexTokens are subscribed for spot tracking on top of position tokens.
	// Empty means the NIFTY 50 + NIFTY BANK default.
	IndexTokens    []uint32
	InitialCapital float64
	UserID         string
	Logger         *slog.Logger
	// Now is injectable for tests; defaults to time.Now.
	Now func() time.Time
}

// Engine is the valuation and ledger core. All exported methods are safe for
// concurrent use; each runs under the single engine mutex. No method performs
// I/O, so critical sections stay short.
type Engine struct {
	mu         sync.Mutex
	valuations map[uint32]domain.Valuation
	positions  []domain.Position
	byID       map[int64]int // position id -> index into positions
	account    domain.Account
	spots      map[uint32]float64
	agg        Aggregate
	version    uint64
	nextID     int64
	dropped    uint64 // ticks ignored for unknown instruments

	indexTokens []uint32
	now         func() time.Time
	logger      *slog.Logger
	changes     chan struct{}
}

// New creates an engine with a fresh account. Call Load to seed the working
// set from durable storage before starting the feed.
func New(cfg Config) *Engine {
	if len(cfg.IndexTokens) == 0 {
		cfg.IndexTokens = []uint32{domain.TokenNifty50, domain.TokenNiftyBank}
	}
	if cfg.InitialCapital == 0 {
		cfg.InitialCapital = domain.DefaultInitialCapital
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	e := &Engine{
		valuations:  make(map[uint32]domain.Valuation),
		byID:        make(map[int64]int),
		spots:       make(map[uint32]float64),
		indexTokens: cfg.IndexTokens,
		now:         cfg.Now,
		nextID:      1,
		logger:      cfg.Logger.With(slog.String("component", "engine")),
		changes:     make(chan struct{}, 1),
	}
	e.account = domain.NewAccount(cfg.UserID, cfg.InitialCapital, cfg.Now())
	return e
}

// Changes signals after every state mutation. The channel is coalescing: a
// slow consumer sees at least one signal for any burst of changes.
func (e *Engine) Changes() <-chan struct{} { return e.changes }

func (e *Engine) changed() {
	select {
	case e.changes <- struct{}{}:
	default:
	}
}

// Load seeds the working set and account from the durable store and
// reconciles the margin fields: used margin is recomputed from the ACTIVE
// positions actually loaded and available margin from the conservation
// identity, so a crash between ledger and account writes cannot leave the
// account permanently skewed. maxID seeds the id counter past every row the
// store has ever issued.
func (e *Engine) Load(positions []domain.Position, acct domain.Account, maxID int64) domain.Account {
	e.mu.Lock()
	defer e.mu.Unlock()

	e.positions = make([]domain.Position, len(positions))
	copy(e.positions, positions)
	e.byID = make(map[int64]int, len(positions))
	var used float64
	for i, p := range e.positions {
		e.byID[p.ID] = i
		if p.ID >= e.nextID {
			e.nextID = p.ID + 1
		}
		if p.Status == domain.PositionStatusActive {
			used += p.MarginHeld
		}
	}
	if maxID >= e.nextID {
		e.nextID = maxID + 1
	}

	if acct.InitialCapital == 0 {
		acct.InitialCapital = e.account.InitialCapital
	}
	available := acct.InitialCapital + acct.RealizedPnL - used
	if diff(acct.UsedMargin, used) || diff(acct.AvailableMargin, available) {
		e.logger.Warn("account reconciled against ledger",
			slog.Float64("stored_used", acct.UsedMargin),
			slog.Float64("computed_used", used),
			slog.Float64("stored_available", acct.AvailableMargin),
			slog.Float64("computed_available", available),
		)
	}
	acct.UsedMargin = used
	acct.AvailableMargin = available
	e.account = acct

	e.positions, e.agg = Recompute(e.positions, e.valuations)
	e.version++
	e.changed()
	return acct
}

func diff(a, b float64) bool {
	d := a - b
	return d > 1e-6 || d < -1e-6
}

// ApplyTickBatch upserts valuations for every tick whose instrument is known
// (a tracked index or referenced by the working set), updates index spots and
// recomputes P&L, all in one critical section. Ticks for unknown instruments
// are dropped silently. It returns the valuations actually applied, for
// mirroring, and the dropped count.
func (e *Engine) ApplyTickBatch(batch domain.TickBatch) (map[uint32]domain.Valuation, int) {
	if len(batch.Ticks) == 0 {
		return nil, 0
	}
	at := batch.ReceivedAt
	if at.IsZero() {
		at = e.now()
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	applied := make(map[uint32]domain.Valuation)
	dropped := 0
	for _, t := range batch.Ticks {
		if !e.knownLocked(t.InstrumentToken) {
			dropped++
			continue
		}
		v := domain.Valuation{Price: t.LastPrice, ObservedAt: at}
		e.valuations[t.InstrumentToken] = v
		applied[t.InstrumentToken] = v
		if e.isIndexLocked(t.InstrumentToken) {
			e.spots[t.InstrumentToken] = t.LastPrice
		}
	}
	e.dropped += uint64(dropped)
	if len(applied) == 0 {
		return applied, dropped
	}

	e.positions, e.agg = Recompute(e.positions, e.valuations)
	e.version++
	e.changed()
	return applied, dropped
}

func (e *Engine) knownLocked(token uint32) bool {
	if e.isIndexLocked(token) {
		return true
	}
	for i := range e.positions {
		if e.positions[i].InstrumentToken == token {
			return true
		}
	}
	return false
}

func (e *Engine) isIndexLocked(token uint32) bool {
	for _, t := range e.indexTokens {
		if t == token {
			return true
		}
	}
	return false
}

// Open validates margin and adds an ACTIVE position to the working set. The
// margin check, the account debit and the insert happen in one critical
// section; on rejection nothing changes and the error quotes required vs
// available.
func (e *Engine) Open(spec domain.OpenSpec) (domain.Position, error) {
	lotSize := spec.LotSize
	if lotSize == 0 {
		lotSize = domain.LotSize(spec.Symbol)
	}
	if lotSize == 0 {
		lotSize = 50
	}
	quantity := spec.Lots * lotSize
	marginRequired := spec.EntryPrice * float64(quantity) * domain.MarginRate

	e.mu.Lock()
	defer e.mu.Unlock()

	if marginRequired > e.account.AvailableMargin {
		return domain.Position{}, &domain.InsufficientMarginError{
			Required:  marginRequired,
			Available: e.account.AvailableMargin,
		}
	}

	now := e.now()
	strategyID := spec.StrategyID
	if strategyID == "" {
		strategyID = uuid.NewString()[:8]
	}
	strategyName := spec.StrategyName
	if strategyName == "" {
		strategyName = spec.Symbol + " Trade"
	}

	p := domain.Position{
		ID:              e.nextID,
		StrategyID:      strategyID,
		StrategyName:    strategyName,
		Symbol:          spec.Symbol,
		Tradingsymbol:   spec.Tradingsymbol,
		InstrumentToken: spec.InstrumentToken,
		Exchange:        domain.ExchangeFor(spec.Symbol),
		Strike:          spec.Strike,
		Expiry:          spec.Expiry,
		Kind:            spec.Kind,
		Direction:       spec.Direction,
		Lots:            spec.Lots,
		LotSize:         lotSize,
		Quantity:        quantity,
		EntryPrice:      spec.EntryPrice,
		CurrentPrice:    spec.EntryPrice,
		MarginHeld:      marginRequired,
		Status:          domain.PositionStatusActive,
		EntryTime:       now,
	}
	e.nextID++
	e.byID[p.ID] = len(e.positions)
	e.positions = append(e.positions, p)

	e.account.AvailableMargin -= marginRequired
	e.account.UsedMargin += marginRequired
	e.account.UpdatedAt = now

	e.positions, e.agg = Recompute(e.positions, e.valuations)
	e.version++
	e.changed()
	return p, nil
}

// Close settles one position at the given exit price: final P&L with the same
// sign convention as recompute, status CLOSED, margin released back to
// available along with the P&L, realized P&L accumulated. Atomic with respect
// to tick application and snapshots.
func (e *Engine) Close(id int64, exitPrice float64) (domain.Position, float64, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	p, finalPnL, err := e.closeLocked(id, exitPrice, domain.PositionStatusClosed)
	if err != nil {
		return domain.Position{}, 0, err
	}
	e.positions, e.agg = Recompute(e.positions, e.valuations)
	e.version++
	e.changed()
	return p, finalPnL, nil
}

// CloseAtMarket settles one position at its last cached valuation, entry
// price when the instrument never ticked. Price lookup and settlement share
// one critical section so a concurrent tick cannot slip between them.
func (e *Engine) CloseAtMarket(id int64) (domain.Position, float64, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	i, ok := e.byID[id]
	if !ok || e.positions[i].Status != domain.PositionStatusActive {
		return domain.Position{}, 0, domain.ErrNotFound
	}
	exit := e.positions[i].CurrentPrice
	if v, ok := e.valuations[e.positions[i].InstrumentToken]; ok {
		exit = v.Price
	}

	p, finalPnL, err := e.closeLocked(id, exit, domain.PositionStatusClosed)
	if err != nil {
		return domain.Position{}, 0, err
	}
	e.positions, e.agg = Recompute(e.positions, e.valuations)
	e.version++
	e.changed()
	return p, finalPnL, nil
}

func (e *Engine) closeLocked(id int64, exitPrice float64, status domain.PositionStatus) (domain.Position, float64, error) {
	i, ok := e.byID[id]
	if !ok || e.positions[i].Status != domain.PositionStatusActive {
		return domain.Position{}, 0, domain.ErrNotFound
	}

	now := e.now()
	p := &e.positions[i]
	finalPnL := p.PnLAt(exitPrice)
	p.ExitPrice = &exitPrice
	p.CurrentPrice = exitPrice
	p.Status = status
	p.ExitTime = &now

	e.account.AvailableMargin += p.MarginHeld + finalPnL
	e.account.UsedMargin -= p.MarginHeld
	e.account.RealizedPnL += finalPnL
	e.account.UpdatedAt = now
	return *p, finalPnL, nil
}

// CloseAll settles every ACTIVE position at its last cached valuation (entry
// price when never ticked) in a single critical section. Each close is
// attempted independently; one failure is reported in its result and does not
// stop the rest.
func (e *Engine) CloseAll() []domain.CloseResult {
	e.mu.Lock()
	defer e.mu.Unlock()

	var results []domain.CloseResult
	for i := range e.positions {
		if e.positions[i].Status != domain.PositionStatusActive {
			continue
		}
		id := e.positions[i].ID
		exit := e.positions[i].CurrentPrice
		if v, ok := e.valuations[e.positions[i].InstrumentToken]; ok {
			exit = v.Price
		}
		_, pnl, err := e.closeLocked(id, exit, domain.PositionStatusClosed)
		results = append(results, domain.CloseResult{
			PositionID: id,
			ExitPrice:  exit,
			FinalPnL:   pnl,
			Err:        err,
		})
	}
	if len(results) == 0 {
		return nil
	}

	e.positions, e.agg = Recompute(e.positions, e.valuations)
	e.version++
	e.changed()
	return results
}

// MarkExpired settles every ACTIVE position whose expiry date has passed at
// its intrinsic value against the tracked index spot (zero when no spot has
// been observed). Settled positions transition to EXPIRED.
func (e *Engine) MarkExpired(now time.Time) []domain.CloseResult {
	e.mu.Lock()
	defer e.mu.Unlock()

	var results []domain.CloseResult
	for i := range e.positions {
		p := &e.positions[i]
		if p.Status != domain.PositionStatusActive || !expired(p.Expiry, now) {
			continue
		}
		spot := e.spotForSymbolLocked(p.Symbol)
		exit := 0.0
		if spot > 0 {
			exit = payoff.Intrinsic(p.Kind, p.Strike, spot)
		}
		_, pnl, err := e.closeLocked(p.ID, exit, domain.PositionStatusExpired)
		results = append(results, domain.CloseResult{
			PositionID: p.ID,
			ExitPrice:  exit,
			FinalPnL:   pnl,
			Err:        err,
		})
	}
	if len(results) == 0 {
		return nil
	}

	e.positions, e.agg = Recompute(e.positions, e.valuations)
	e.version++
	e.changed()
	return results
}

// expired reports whether the contract date is strictly before today.
func expired(expiry, now time.Time) bool {
	y, m, d := now.Date()
	today := time.Date(y, m, d, 0, 0, 0, 0, now.Location())
	return !expiry.IsZero() && expiry.Before(today)
}

func (e *Engine) spotForSymbolLocked(symbol string) float64 {
	switch symbol {
	case "BANKNIFTY":
		return e.spots[domain.TokenNiftyBank]
	case "SENSEX":
		return e.spots[domain.TokenSensex]
	default:
		return e.spots[domain.TokenNifty50]
	}
}

// SubscriptionTokens is the full set the feed should subscribe: the tracked
// indices plus every instrument referenced by an ACTIVE position.
func (e *Engine) SubscriptionTokens() []uint32 {
	e.mu.Lock()
	defer e.mu.Unlock()

	seen := make(map[uint32]bool, len(e.indexTokens)+len(e.positions))
	tokens := make([]uint32, 0, len(e.indexTokens)+len(e.positions))
	for _, t := range e.indexTokens {
		if !seen[t] {
			seen[t] = true
			tokens = append(tokens, t)
		}
	}
	for i := range e.positions {
		if e.positions[i].Status != domain.PositionStatusActive {
			continue
		}
		t := e.positions[i].InstrumentToken
		if t != 0 && !seen[t] {
			seen[t] = true
			tokens = append(tokens, t)
		}
	}
	return tokens
}

// ActivePositions returns copies of the ACTIVE working set.
func (e *Engine) ActivePositions() []domain.Position {
	e.mu.Lock()
	defer e.mu.Unlock()

	var out []domain.Position
	for i := range e.positions {
		if e.positions[i].Status == domain.PositionStatusActive {
			out = append(out, e.positions[i])
		}
	}
	return out
}

// Position returns a copy of one position from the working set.
func (e *Engine) Position(id int64) (domain.Position, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	i, ok := e.byID[id]
	if !ok {
		return domain.Position{}, domain.ErrNotFound
	}
	return e.positions[i], nil
}

// DroppedTicks reports how many ticks were ignored for unknown instruments.
func (e *Engine) DroppedTicks() uint64 {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.dropped
}

// PayoffInputs copies the legs and sweep center for a payoff computation so
// the curve itself can be evaluated outside the engine lock. A blank
// strategyID selects every ACTIVE leg. The center falls back from the legs'
// index spot to the mean of their strikes.
func (e *Engine) PayoffInputs(strategyID string) ([]domain.Position, float64) {
	e.mu.Lock()
	defer e.mu.Unlock()

	var legs []domain.Position
	for i := range e.positions {
		p := e.positions[i]
		if p.Status != domain.PositionStatusActive {
			continue
		}
		if strategyID != "" && p.StrategyID != strategyID {
			continue
		}
		legs = append(legs, p)
	}

	spot := 0.0
	if len(legs) > 0 {
		spot = e.spotForSymbolLocked(legs[0].Symbol)
	} else {
		spot = e.spots[domain.TokenNifty50]
	}
	return legs, payoff.Center(legs, spot)
}
