package handler

import (
	"context"
	"log/slog"
	"net/http"
	"time"
)

// Pinger reports whether a backing store is reachable.
type Pinger interface {
	Health(ctx context.Context) error
}

// HealthHandler serves the health-check endpoint. Store probes are optional;
// a nil pinger is reported as "disabled".
type HealthHandler struct {
	postgres Pinger
	redis    Pinger
	logger   *slog.Logger
}

// NewHealthHandler creates a HealthHandler with the provided probes and logger.
func NewHealthHandler(postgres, redis Pinger, logger *slog.Logger) *HealthHandler {
	return &HealthHandler{postgres: postgres, redis: redis, logger: logger}
}

// HealthCheck responds with server liveness and the state of each backing
// store. Store failures degrade the report but never the status code: the
// process is alive and serving from memory either way.
// GET /api/health
func (h *HealthHandler) HealthCheck(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
	defer cancel()

	writeJSON(w, http.StatusOK, map[string]any{
		"status":    "ok",
		"timestamp": time.Now().UTC().Format(time.RFC3339),
		"stores": map[string]string{
			"postgres": h.probe(ctx, h.postgres),
			"redis":    h.probe(ctx, h.redis),
		},
	})
}

func (h *HealthHandler) probe(ctx context.Context, p Pinger) string {
	if p == nil {
		return "disabled"
	}
	if err := p.Health(ctx); err != nil {
		return "unreachable"
	}
	return "ok"
}
