package handler

import (
	"net/http"

	"github.com/optiondesk/paperbot/internal/domain"
)

// AccountSource reports the current margin account.
type AccountSource interface {
	Account() domain.Account
	Snapshot() domain.DashboardSnapshot
}

// AccountHandler serves the margin account endpoint.
type AccountHandler struct {
	source AccountSource
}

// NewAccountHandler creates an AccountHandler with the given source.
func NewAccountHandler(source AccountSource) *AccountHandler {
	return &AccountHandler{source: source}
}

// GetAccount responds with the account view, rounded the same way as the
// snapshot so the two never disagree on screen.
// GET /api/account
func (h *AccountHandler) GetAccount(w http.ResponseWriter, r *http.Request) {
	snap := h.source.Snapshot()
	acct := h.source.Account()

	writeJSON(w, http.StatusOK, map[string]any{
		"user_id":    acct.UserID,
		"account":    snap.Account,
		"total_pnl":  snap.TotalPnL,
		"created_at": acct.CreatedAt,
		"updated_at": acct.UpdatedAt,
	})
}
