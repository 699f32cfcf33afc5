package handler

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/optiondesk/paperbot/internal/domain"
	"github.com/optiondesk/paperbot/internal/engine"
	"github.com/optiondesk/paperbot/internal/payoff"
	"github.com/optiondesk/paperbot/internal/strategy"
)

// StrategyHandler serves the strategy template endpoints.
type StrategyHandler struct {
	registry *strategy.Registry
	logger   *slog.Logger
}

// NewStrategyHandler creates a StrategyHandler with the given registry and logger.
func NewStrategyHandler(registry *strategy.Registry, logger *slog.Logger) *StrategyHandler {
	return &StrategyHandler{registry: registry, logger: logger}
}

// strategyInfo describes one registered template.
type strategyInfo struct {
	Name        string `json:"name"`
	Description string `json:"description"`
}

// ListStrategies returns the registered templates, sorted by name.
// GET /api/strategies
func (h *StrategyHandler) ListStrategies(w http.ResponseWriter, r *http.Request) {
	templates := h.registry.List()

	infos := make([]strategyInfo, 0, len(templates))
	for _, t := range templates {
		infos = append(infos, strategyInfo{Name: t.Name(), Description: t.Description()})
	}
	writeJSON(w, http.StatusOK, map[string]any{"strategies": infos})
}

// previewRequest expands a template against caller-supplied premiums. The
// premiums map is keyed by tradingsymbol; tokens is optional and keyed the
// same way.
type previewRequest struct {
	Strategy string             `json:"strategy"`
	Symbol   string             `json:"symbol"`
	Expiry   string             `json:"expiry_date"`
	Spot     float64            `json:"spot"`
	Lots     int                `json:"lots"`
	Premiums map[string]float64 `json:"premiums"`
	Tokens   map[string]uint32  `json:"tokens"`
}

// previewResponse carries the expanded legs with their combined payoff so the
// dashboard can render the trade before committing it.
type previewResponse struct {
	Strategy       string                `json:"strategy"`
	StrategyID     string                `json:"strategy_id"`
	Legs           []domain.PositionView `json:"legs"`
	RequiredMargin float64               `json:"required_margin"`
	Payoff         payoff.Curve          `json:"payoff"`
}

// PreviewStrategy expands a named template into its legs and computes the
// combined expiry payoff. Nothing is opened; the caller posts the returned
// legs to the positions endpoint to commit.
// POST /api/strategies/preview
func (h *StrategyHandler) PreviewStrategy(w http.ResponseWriter, r *http.Request) {
	var req previewRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}

	tmpl, err := h.registry.Get(req.Strategy)
	if err != nil {
		writeError(w, http.StatusNotFound, err.Error())
		return
	}

	expiry, err := time.Parse(expiryLayout, req.Expiry)
	if err != nil {
		writeError(w, http.StatusBadRequest, "expiry_date must be YYYY-MM-DD")
		return
	}

	specs, err := tmpl.Legs(strategy.Params{
		Symbol: req.Symbol,
		Expiry: expiry,
		Spot:   req.Spot,
		Lots:   req.Lots,
		Quote:  quoteFromPremiums(req.Premiums, req.Tokens),
	})
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	legs := strategy.PreviewLegs(specs)

	views := make([]domain.PositionView, 0, len(legs))
	margin := 0.0
	for _, p := range legs {
		views = append(views, engine.View(p))
		margin += p.EntryPrice * float64(p.Quantity) * domain.MarginRate
	}

	spots := payoff.SpotRange(payoff.Center(legs, req.Spot), payoff.DefaultPoints)
	writeJSON(w, http.StatusOK, previewResponse{
		Strategy:       req.Strategy,
		StrategyID:     specs[0].StrategyID,
		Legs:           views,
		RequiredMargin: margin,
		Payoff:         payoff.Compute(legs, spots),
	})
}

// quoteFromPremiums resolves template quotes from the request's premium map.
// A leg whose tradingsymbol is missing from the map fails the expansion, so a
// preview can never silently assume a price.
func quoteFromPremiums(premiums map[string]float64, tokens map[string]uint32) strategy.QuoteFn {
	return func(symbol string, expiry time.Time, strike float64, kind domain.OptionKind) (strategy.Quote, error) {
		ts := domain.FormatTradingsymbol(symbol, expiry, strike, kind)
		premium, ok := premiums[ts]
		if !ok {
			return strategy.Quote{}, fmt.Errorf("no premium supplied for %s", ts)
		}
		if premium <= 0 {
			return strategy.Quote{}, fmt.Errorf("premium for %s must be > 0", ts)
		}
		return strategy.Quote{
			Tradingsymbol:   ts,
			InstrumentToken: tokens[ts],
			Premium:         premium,
		}, nil
	}
}
