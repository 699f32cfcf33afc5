package handler

import (
	"net/http"

	"github.com/optiondesk/paperbot/internal/domain"
)

// SnapshotSource serves the current dashboard read model.
type SnapshotSource interface {
	Snapshot() domain.DashboardSnapshot
}

// SnapshotHandler serves the dashboard snapshot on demand. The same payload
// the ws hub pushes, for clients that poll instead.
type SnapshotHandler struct {
	source SnapshotSource
}

// NewSnapshotHandler creates a SnapshotHandler with the given source.
func NewSnapshotHandler(source SnapshotSource) *SnapshotHandler {
	return &SnapshotHandler{source: source}
}

// GetSnapshot responds with the full dashboard snapshot.
// GET /api/snapshot
func (h *SnapshotHandler) GetSnapshot(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, h.source.Snapshot())
}
