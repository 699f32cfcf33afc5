package handler

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/optiondesk/paperbot/internal/domain"
	"github.com/optiondesk/paperbot/internal/engine"
)

// expiryLayout is the wire format for contract expiry dates.
const expiryLayout = "2006-01-02"

// Ledger defines the methods that the position handler requires from the
// ledger service.
type Ledger interface {
	Open(ctx context.Context, spec domain.OpenSpec) (domain.Position, error)
	Close(ctx context.Context, id int64, exitPrice *float64) (domain.CloseResult, error)
	CloseAll(ctx context.Context) []domain.CloseResult
	Position(id int64) (domain.Position, error)
	ActivePositions() []domain.Position
	History(ctx context.Context, from, to time.Time) ([]domain.Position, error)
}

// PositionHandler serves position-related HTTP endpoints.
type PositionHandler struct {
	ledger Ledger
	logger *slog.Logger
}

// NewPositionHandler creates a PositionHandler with the given service and logger.
func NewPositionHandler(ledger Ledger, logger *slog.Logger) *PositionHandler {
	return &PositionHandler{
		ledger: ledger,
		logger: logger,
	}
}

// listPositionsResponse wraps the list positions response.
type listPositionsResponse struct {
	Positions []domain.PositionView `json:"positions"`
}

// ListPositions returns the active working set, or settled positions for a
// date range when from/to query parameters are present.
// GET /api/positions[?from=2026-01-01&to=2026-01-31]
func (h *PositionHandler) ListPositions(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()

	var positions []domain.Position
	if q.Get("from") != "" || q.Get("to") != "" {
		from, to, err := parseDateRange(q.Get("from"), q.Get("to"))
		if err != nil {
			writeError(w, http.StatusBadRequest, err.Error())
			return
		}
		positions, err = h.ledger.History(r.Context(), from, to)
		if err != nil {
			h.logger.ErrorContext(r.Context(), "handler: list history failed",
				slog.String("error", err.Error()),
			)
			writeError(w, http.StatusInternalServerError, "failed to list positions")
			return
		}
	} else {
		positions = h.ledger.ActivePositions()
	}

	views := make([]domain.PositionView, 0, len(positions))
	for _, p := range positions {
		views = append(views, engine.View(p))
	}
	writeJSON(w, http.StatusOK, listPositionsResponse{Positions: views})
}

// openPositionRequest is the JSON body for opening a single leg. Field names
// follow the snapshot read model so the dashboard round-trips them unchanged.
type openPositionRequest struct {
	StrategyID      string  `json:"strategy_id"`
	StrategyName    string  `json:"strategy_name"`
	Symbol          string  `json:"symbol"`
	Tradingsymbol   string  `json:"tradingsymbol"`
	InstrumentToken uint32  `json:"instrument_token"`
	Strike          float64 `json:"strike_price"`
	Expiry          string  `json:"expiry_date"`
	Kind            string  `json:"option_type"`
	Direction       string  `json:"position_type"`
	Lots            int     `json:"lots"`
	LotSize         int     `json:"lot_size"`
	EntryPrice      float64 `json:"entry_price"`
}

func (req openPositionRequest) toSpec() (domain.OpenSpec, error) {
	expiry, err := time.Parse(expiryLayout, req.Expiry)
	if err != nil {
		return domain.OpenSpec{}, &validationError{"expiry_date must be YYYY-MM-DD"}
	}

	switch {
	case domain.LotSize(req.Symbol) == 0:
		return domain.OpenSpec{}, &validationError{"unknown symbol"}
	case req.Strike <= 0:
		return domain.OpenSpec{}, &validationError{"strike_price must be > 0"}
	case req.Lots < 1:
		return domain.OpenSpec{}, &validationError{"lots must be >= 1"}
	case req.EntryPrice <= 0:
		return domain.OpenSpec{}, &validationError{"entry_price must be > 0"}
	}

	kind := domain.OptionKind(req.Kind)
	if kind != domain.OptionCall && kind != domain.OptionPut {
		return domain.OpenSpec{}, &validationError{"option_type must be CE or PE"}
	}
	direction := domain.Direction(req.Direction)
	if direction != domain.DirectionLong && direction != domain.DirectionShort {
		return domain.OpenSpec{}, &validationError{"position_type must be BUY or SELL"}
	}

	tradingsymbol := req.Tradingsymbol
	if tradingsymbol == "" {
		tradingsymbol = domain.FormatTradingsymbol(req.Symbol, expiry, req.Strike, kind)
	}

	return domain.OpenSpec{
		StrategyID:      req.StrategyID,
		StrategyName:    req.StrategyName,
		Symbol:          req.Symbol,
		Tradingsymbol:   tradingsymbol,
		InstrumentToken: req.InstrumentToken,
		Strike:          req.Strike,
		Expiry:          expiry,
		Kind:            kind,
		Direction:       direction,
		Lots:            req.Lots,
		LotSize:         req.LotSize,
		EntryPrice:      req.EntryPrice,
	}, nil
}

type validationError struct{ msg string }

func (e *validationError) Error() string { return e.msg }

// OpenPosition opens a new paper leg from a JSON body.
// POST /api/positions
func (h *PositionHandler) OpenPosition(w http.ResponseWriter, r *http.Request) {
	var req openPositionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}

	spec, err := req.toSpec()
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	pos, err := h.ledger.Open(r.Context(), spec)
	if err != nil {
		h.logger.WarnContext(r.Context(), "handler: open position rejected",
			slog.String("tradingsymbol", spec.Tradingsymbol),
			slog.String("error", err.Error()),
		)
		writeDomainError(w, err)
		return
	}

	writeJSON(w, http.StatusCreated, engine.View(pos))
}

// closePositionRequest optionally pins the exit price; absent, the position
// settles at its last cached valuation.
type closePositionRequest struct {
	ExitPrice *float64 `json:"exit_price"`
}

// closeResultResponse is the wire form of a settlement outcome.
type closeResultResponse struct {
	PositionID int64   `json:"position_id"`
	ExitPrice  float64 `json:"exit_price"`
	FinalPnL   float64 `json:"final_pnl"`
	Error      string  `json:"error,omitempty"`
}

func toCloseResponse(r domain.CloseResult) closeResultResponse {
	resp := closeResultResponse{
		PositionID: r.PositionID,
		ExitPrice:  r.ExitPrice,
		FinalPnL:   r.FinalPnL,
	}
	if r.Err != nil {
		resp.Error = r.Err.Error()
	}
	return resp
}

// ClosePosition settles one position, at the body's exit price or at market.
// POST /api/positions/{id}/close
func (h *PositionHandler) ClosePosition(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.ParseInt(pathParam(r, "id"), 10, 64)
	if err != nil || id <= 0 {
		writeError(w, http.StatusBadRequest, "invalid position id")
		return
	}

	var req closePositionRequest
	if r.Body != nil && r.ContentLength != 0 {
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeError(w, http.StatusBadRequest, "invalid JSON body")
			return
		}
	}
	if req.ExitPrice != nil && *req.ExitPrice < 0 {
		writeError(w, http.StatusBadRequest, "exit_price must be >= 0")
		return
	}

	result, err := h.ledger.Close(r.Context(), id, req.ExitPrice)
	if err != nil {
		writeDomainError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, toCloseResponse(result))
}

// closeAllResponse wraps the settlement outcomes of a close-all sweep.
type closeAllResponse struct {
	Closed  int                   `json:"closed"`
	Results []closeResultResponse `json:"results"`
}

// CloseAllPositions settles every active position at market.
// POST /api/positions/close-all
func (h *PositionHandler) CloseAllPositions(w http.ResponseWriter, r *http.Request) {
	results := h.ledger.CloseAll(r.Context())

	resp := closeAllResponse{Results: make([]closeResultResponse, 0, len(results))}
	for _, res := range results {
		if res.Err == nil {
			resp.Closed++
		}
		resp.Results = append(resp.Results, toCloseResponse(res))
	}
	writeJSON(w, http.StatusOK, resp)
}

// parseDateRange turns from/to date strings into a half-open window. An empty
// from means the beginning of time, an empty to means now.
func parseDateRange(fromStr, toStr string) (time.Time, time.Time, error) {
	var from, to time.Time
	var err error

	if fromStr != "" {
		from, err = time.Parse(expiryLayout, fromStr)
		if err != nil {
			return time.Time{}, time.Time{}, &validationError{"from must be YYYY-MM-DD"}
		}
	}
	to = time.Now().UTC()
	if toStr != "" {
		to, err = time.Parse(expiryLayout, toStr)
		if err != nil {
			return time.Time{}, time.Time{}, &validationError{"to must be YYYY-MM-DD"}
		}
		to = to.AddDate(0, 0, 1) // inclusive end date
	}
	return from, to, nil
}
