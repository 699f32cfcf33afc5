package handler

import (
	"context"
	"errors"
	"log/slog"
	"net/http"

	"github.com/optiondesk/paperbot/internal/domain"
)

// FeedController defines the feed operations the handler exposes.
type FeedController interface {
	Start(ctx context.Context) error
	Stop(ctx context.Context) error
	Restart(ctx context.Context) error
	StatusView() domain.FeedStatusView
}

// FeedHandler serves the feed control endpoints.
type FeedHandler struct {
	feed   FeedController
	logger *slog.Logger
}

// NewFeedHandler creates a FeedHandler with the given controller and logger.
func NewFeedHandler(feed FeedController, logger *slog.Logger) *FeedHandler {
	return &FeedHandler{feed: feed, logger: logger}
}

// StartFeed connects the ticker. After a transport fault the feed sits in
// ERROR until this endpoint restarts it, so ERROR state maps to Restart.
// POST /api/feed/start
func (h *FeedHandler) StartFeed(w http.ResponseWriter, r *http.Request) {
	start := h.feed.Start
	if h.feed.StatusView().State == domain.FeedError {
		start = h.feed.Restart
	}

	if err := start(r.Context()); err != nil {
		if !errors.Is(err, domain.ErrAlreadyConnected) {
			h.logger.ErrorContext(r.Context(), "handler: feed start failed",
				slog.String("error", err.Error()),
			)
		}
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, h.feed.StatusView())
}

// StopFeed disconnects the ticker. The ledger keeps serving from the last
// cached valuations.
// POST /api/feed/stop
func (h *FeedHandler) StopFeed(w http.ResponseWriter, r *http.Request) {
	if err := h.feed.Stop(r.Context()); err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, h.feed.StatusView())
}
