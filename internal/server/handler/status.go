package handler

import (
	"net/http"
	"time"

	"github.com/optiondesk/paperbot/internal/domain"
)

// FeedStatusSource reports the current feed connection state.
type FeedStatusSource interface {
	StatusView() domain.FeedStatusView
}

// VersionSource reports the read-model version counter.
type VersionSource interface {
	Version() uint64
}

// StatusHandler serves the backend status for the dashboard header.
type StatusHandler struct {
	mode      string
	feed      FeedStatusSource
	versions  VersionSource
	startedAt time.Time
}

// NewStatusHandler creates a StatusHandler. feed may be nil when the process
// runs without a ticker (archive mode exposes no server, but tests do).
func NewStatusHandler(mode string, feed FeedStatusSource, versions VersionSource) *StatusHandler {
	return &StatusHandler{
		mode:      mode,
		feed:      feed,
		versions:  versions,
		startedAt: time.Now().UTC(),
	}
}

// GetStatus responds with the backend mode, feed state, snapshot version and
// uptime.
// GET /api/status
func (h *StatusHandler) GetStatus(w http.ResponseWriter, r *http.Request) {
	feed := domain.FeedStatusView{State: domain.FeedDisconnected}
	if h.feed != nil {
		feed = h.feed.StatusView()
	}

	var version uint64
	if h.versions != nil {
		version = h.versions.Version()
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"mode":             h.mode,
		"feed":             feed,
		"snapshot_version": version,
		"started_at":       h.startedAt.Format(time.RFC3339),
		"uptime_seconds":   int64(time.Since(h.startedAt).Seconds()),
	})
}
