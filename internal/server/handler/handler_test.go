package handler

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/optiondesk/paperbot/internal/domain"
	"github.com/optiondesk/paperbot/internal/strategy"
)

var testLogger = slog.New(slog.NewTextHandler(&strings.Builder{}, nil))

// fakeLedger implements Ledger with canned responses.
type fakeLedger struct {
	openErr  error
	opened   domain.Position
	closeErr error
	closed   domain.CloseResult
	active   []domain.Position
}

func (f *fakeLedger) Open(ctx context.Context, spec domain.OpenSpec) (domain.Position, error) {
	if f.openErr != nil {
		return domain.Position{}, f.openErr
	}
	return f.opened, nil
}

func (f *fakeLedger) Close(ctx context.Context, id int64, exitPrice *float64) (domain.CloseResult, error) {
	if f.closeErr != nil {
		return domain.CloseResult{}, f.closeErr
	}
	return f.closed, nil
}

func (f *fakeLedger) CloseAll(ctx context.Context) []domain.CloseResult {
	return []domain.CloseResult{f.closed}
}

func (f *fakeLedger) Position(id int64) (domain.Position, error) {
	return domain.Position{}, domain.ErrNotFound
}

func (f *fakeLedger) ActivePositions() []domain.Position { return f.active }

func (f *fakeLedger) History(ctx context.Context, from, to time.Time) ([]domain.Position, error) {
	return nil, nil
}

func openBody() string {
	return `{
		"symbol": "NIFTY",
		"strike_price": 22000,
		"expiry_date": "2026-03-26",
		"option_type": "CE",
		"position_type": "SELL",
		"lots": 2,
		"entry_price": 120.5
	}`
}

func TestOpenPositionRejectsBadBody(t *testing.T) {
	h := NewPositionHandler(&fakeLedger{}, testLogger)

	cases := map[string]string{
		"bad json":      `{`,
		"bad expiry":    `{"symbol":"NIFTY","strike_price":22000,"expiry_date":"26-03-2026","option_type":"CE","position_type":"SELL","lots":1,"entry_price":100}`,
		"bad symbol":    `{"symbol":"DOWJONES","strike_price":22000,"expiry_date":"2026-03-26","option_type":"CE","position_type":"SELL","lots":1,"entry_price":100}`,
		"bad kind":      `{"symbol":"NIFTY","strike_price":22000,"expiry_date":"2026-03-26","option_type":"CALL","position_type":"SELL","lots":1,"entry_price":100}`,
		"bad direction": `{"symbol":"NIFTY","strike_price":22000,"expiry_date":"2026-03-26","option_type":"CE","position_type":"SHORT","lots":1,"entry_price":100}`,
		"zero lots":     `{"symbol":"NIFTY","strike_price":22000,"expiry_date":"2026-03-26","option_type":"CE","position_type":"SELL","lots":0,"entry_price":100}`,
	}
	for name, body := range cases {
		t.Run(name, func(t *testing.T) {
			rec := httptest.NewRecorder()
			req := httptest.NewRequest(http.MethodPost, "/api/positions", strings.NewReader(body))
			h.OpenPosition(rec, req)
			assert.Equal(t, http.StatusBadRequest, rec.Code)
		})
	}
}

func TestOpenPositionMarginRejectionCarriesOperands(t *testing.T) {
	ledger := &fakeLedger{
		openErr: &domain.InsufficientMarginError{Required: 250000, Available: 100000},
	}
	h := NewPositionHandler(ledger, testLogger)

	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/api/positions", strings.NewReader(openBody()))
	h.OpenPosition(rec, req)

	require.Equal(t, http.StatusUnprocessableEntity, rec.Code)

	var resp map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.InDelta(t, 250000.0, resp["required_margin"], 0.001)
	assert.InDelta(t, 100000.0, resp["available_margin"], 0.001)
}

func TestOpenPositionRiskRejection(t *testing.T) {
	ledger := &fakeLedger{
		openErr: &domain.RiskViolationError{Rule: "max_open_positions", Detail: "limit 40 reached"},
	}
	h := NewPositionHandler(ledger, testLogger)

	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/api/positions", strings.NewReader(openBody()))
	h.OpenPosition(rec, req)

	require.Equal(t, http.StatusUnprocessableEntity, rec.Code)

	var resp map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, "max_open_positions", resp["rule"])
}

func TestOpenPositionFillsTradingsymbol(t *testing.T) {
	ledger := &fakeLedger{opened: domain.Position{ID: 7, Status: domain.PositionStatusActive}}
	h := NewPositionHandler(ledger, testLogger)

	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/api/positions", strings.NewReader(openBody()))
	h.OpenPosition(rec, req)

	require.Equal(t, http.StatusCreated, rec.Code)
}

func TestClosePositionNotFound(t *testing.T) {
	h := NewPositionHandler(&fakeLedger{closeErr: domain.ErrNotFound}, testLogger)

	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/api/positions/99/close", nil)
	req.SetPathValue("id", "99")
	h.ClosePosition(rec, req)

	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestClosePositionBadID(t *testing.T) {
	h := NewPositionHandler(&fakeLedger{}, testLogger)

	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/api/positions/abc/close", nil)
	req.SetPathValue("id", "abc")
	h.ClosePosition(rec, req)

	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestWriteDomainErrorMapping(t *testing.T) {
	cases := []struct {
		name string
		err  error
		want int
	}{
		{"not found", domain.ErrNotFound, http.StatusNotFound},
		{"already connected", domain.ErrAlreadyConnected, http.StatusConflict},
		{"not connected", domain.ErrNotConnected, http.StatusConflict},
		{"lock held", domain.ErrLockHeld, http.StatusConflict},
		{"not authenticated", domain.ErrNotAuthenticated, http.StatusUnauthorized},
		{"rate limited", domain.ErrRateLimited, http.StatusTooManyRequests},
		{"transport", &domain.TransportError{Op: "connect", Err: domain.ErrNotConnected}, http.StatusBadGateway},
		{"margin", &domain.InsufficientMarginError{Required: 1, Available: 0}, http.StatusUnprocessableEntity},
		{"risk", &domain.RiskViolationError{Rule: "r", Detail: "d"}, http.StatusUnprocessableEntity},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			rec := httptest.NewRecorder()
			writeDomainError(rec, tc.err)
			assert.Equal(t, tc.want, rec.Code)
		})
	}
}

func TestPreviewStrategyExpandsLegs(t *testing.T) {
	h := NewStrategyHandler(strategy.DefaultRegistry(), testLogger)

	body := `{
		"strategy": "straddle",
		"symbol": "NIFTY",
		"expiry_date": "2026-03-26",
		"spot": 22000,
		"lots": 1,
		"premiums": {
			"NIFTY26MAR22000CE": 120,
			"NIFTY26MAR22000PE": 110
		}
	}`
	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/api/strategies/preview", strings.NewReader(body))
	h.PreviewStrategy(rec, req)

	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	var resp previewResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	require.Len(t, resp.Legs, 2)
	assert.Len(t, resp.StrategyID, 8)
	assert.NotEmpty(t, resp.Payoff.Points)
	// Short straddle: max profit is the combined premium.
	assert.InDelta(t, (120.0+110.0)*50, resp.Payoff.MaxProfit, 1)
	assert.Greater(t, resp.RequiredMargin, 0.0)
}

func TestPreviewStrategyMissingPremium(t *testing.T) {
	h := NewStrategyHandler(strategy.DefaultRegistry(), testLogger)

	body := `{
		"strategy": "straddle",
		"symbol": "NIFTY",
		"expiry_date": "2026-03-26",
		"spot": 22000,
		"lots": 1,
		"premiums": {"NIFTY26MAR22000CE": 120}
	}`
	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/api/strategies/preview", strings.NewReader(body))
	h.PreviewStrategy(rec, req)

	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestPreviewStrategyUnknownTemplate(t *testing.T) {
	h := NewStrategyHandler(strategy.DefaultRegistry(), testLogger)

	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/api/strategies/preview", strings.NewReader(`{"strategy":"butterfly"}`))
	h.PreviewStrategy(rec, req)

	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestListPositionsReturnsViews(t *testing.T) {
	exp := time.Date(2026, 3, 26, 0, 0, 0, 0, time.UTC)
	ledger := &fakeLedger{active: []domain.Position{{
		ID:            1,
		Symbol:        "NIFTY",
		Tradingsymbol: "NIFTY26MAR22000CE",
		Strike:        22000,
		Expiry:        exp,
		Kind:          domain.OptionCall,
		Direction:     domain.DirectionShort,
		Lots:          1,
		LotSize:       50,
		Quantity:      50,
		EntryPrice:    120,
		CurrentPrice:  100,
		Status:        domain.PositionStatusActive,
	}}}
	h := NewPositionHandler(ledger, testLogger)

	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/api/positions", nil)
	h.ListPositions(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)

	var resp listPositionsResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	require.Len(t, resp.Positions, 1)
	assert.Equal(t, "NIFTY26MAR22000CE", resp.Positions[0].Tradingsymbol)
	// Short leg that cheapened: P&L positive.
	assert.InDelta(t, 1000.0, resp.Positions[0].PnL, 0.01)
}
