package handler

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/optiondesk/paperbot/internal/domain"
)

// AuditSource lists the operation journal.
type AuditSource interface {
	AuditTrail(ctx context.Context, opts domain.ListOpts) ([]domain.AuditEntry, error)
}

// AuditHandler serves the operation journal endpoint.
type AuditHandler struct {
	source AuditSource
	logger *slog.Logger
}

// NewAuditHandler creates an AuditHandler with the given source and logger.
func NewAuditHandler(source AuditSource, logger *slog.Logger) *AuditHandler {
	return &AuditHandler{source: source, logger: logger}
}

// ListAudit returns recent journal entries, newest first.
// GET /api/audit?limit=50&offset=0
func (h *AuditHandler) ListAudit(w http.ResponseWriter, r *http.Request) {
	entries, err := h.source.AuditTrail(r.Context(), parseListOpts(r))
	if err != nil {
		h.logger.ErrorContext(r.Context(), "handler: list audit failed",
			slog.String("error", err.Error()),
		)
		writeError(w, http.StatusInternalServerError, "failed to list audit entries")
		return
	}
	if entries == nil {
		entries = []domain.AuditEntry{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"entries": entries})
}
