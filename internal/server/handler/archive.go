package handler

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/optiondesk/paperbot/internal/domain"
)

// ArchiveHandler serves the on-demand day export endpoint. The archiver is
// optional; without S3 configured the endpoint reports 503.
type ArchiveHandler struct {
	archiver domain.Archiver
	logger   *slog.Logger
}

// NewArchiveHandler creates an ArchiveHandler with the given archiver and logger.
func NewArchiveHandler(archiver domain.Archiver, logger *slog.Logger) *ArchiveHandler {
	return &ArchiveHandler{archiver: archiver, logger: logger}
}

// ArchiveDay exports the settled positions of one calendar day to blob
// storage.
// POST /api/archive/{date}
func (h *ArchiveHandler) ArchiveDay(w http.ResponseWriter, r *http.Request) {
	if h.archiver == nil {
		writeError(w, http.StatusServiceUnavailable, "archive storage not configured")
		return
	}

	day, err := time.Parse("2006-01-02", pathParam(r, "date"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "date must be YYYY-MM-DD")
		return
	}

	count, err := h.archiver.ArchiveDay(r.Context(), day)
	if err != nil {
		h.logger.ErrorContext(r.Context(), "handler: archive day failed",
			slog.String("day", day.Format("2006-01-02")),
			slog.String("error", err.Error()),
		)
		writeError(w, http.StatusInternalServerError, "archive failed")
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"day":       day.Format("2006-01-02"),
		"positions": count,
	})
}
