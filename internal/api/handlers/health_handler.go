package handlers

import (
	"context"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/retailiq/hub/internal/api/response"
)

const readyTimeout = 3 * time.Second

// Pinger is a dependency checked by the readiness probe (database, object storage).
type Pinger interface {
	Ping(ctx context.Context) error
}

// HealthHandler handles health check requests.
type HealthHandler struct {
	deps map[string]Pinger
}

// NewHealthHandler creates a new health handler. deps are checked by Ready; Check never touches them.
func NewHealthHandler(deps map[string]Pinger) *HealthHandler {
	return &HealthHandler{deps: deps}
}

// Check handles GET /health.
func (h *HealthHandler) Check(w http.ResponseWriter, _ *http.Request) {
	w.WriteHeader(http.StatusOK)
	if _, err := w.Write([]byte("OK")); err != nil {
		slog.Error("Failed to write health check response", "error", err)
	}
}

// Ready handles GET /ready: 200 when every dependency answers within readyTimeout, 503
// otherwise. Dependencies are pinged concurrently.
func (h *HealthHandler) Ready(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), readyTimeout)
	defer cancel()

	var (
		mu     sync.Mutex
		status = make(map[string]string, len(h.deps))
		g      errgroup.Group
	)

	for name, dep := range h.deps {
		g.Go(func() error {
			state := "ok"
			if err := dep.Ping(ctx); err != nil {
				slog.WarnContext(ctx, "readiness check failed", "dependency", name, "error", err)
				state = "unavailable"
			}

			mu.Lock()
			status[name] = state
			mu.Unlock()

			return nil
		})
	}

	_ = g.Wait()

	ready := true
	for _, state := range status {
		ready = ready && state == "ok"
	}

	code := http.StatusOK
	if !ready {
		code = http.StatusServiceUnavailable
	}

	response.RespondJSON(w, code, map[string]any{"ready": ready, "dependencies": status})
}
