package handler

import (
	"net/http"
	"strconv"

	"github.com/optiondesk/paperbot/internal/payoff"
)

// PayoffSource computes expiry payoff curves over the active book.
type PayoffSource interface {
	Payoff(strategyID string, center float64, points int) (payoff.Curve, error)
}

// PayoffHandler serves the expiry payoff endpoint.
type PayoffHandler struct {
	source PayoffSource
}

// NewPayoffHandler creates a PayoffHandler with the given source.
func NewPayoffHandler(source PayoffSource) *PayoffHandler {
	return &PayoffHandler{source: source}
}

// GetPayoff responds with the payoff curve for one strategy group, or the
// whole active book when strategy_id is absent.
// GET /api/payoff?strategy_id=...&center=22000&points=101
func (h *PayoffHandler) GetPayoff(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()

	center := 0.0
	if v := q.Get("center"); v != "" {
		f, err := strconv.ParseFloat(v, 64)
		if err != nil || f <= 0 {
			writeError(w, http.StatusBadRequest, "center must be a positive number")
			return
		}
		center = f
	}

	points := 0
	if v := q.Get("points"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 2 || n > 1001 {
			writeError(w, http.StatusBadRequest, "points must be between 2 and 1001")
			return
		}
		points = n
	}

	curve, err := h.source.Payoff(q.Get("strategy_id"), center, points)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, curve)
}
