package handler

import (
	"context"
	"net/http"
	"time"

	"github.com/kiranshivaraju/planwise/internal/api/response"
)

const defaultHealthTimeout = 2 * time.Second

// Pinger is a dependency the health check probes.
type Pinger interface {
	Ping(ctx context.Context) error
}

// Health reports the reachability of every named dependency and the number of
// worker loops still accepting jobs.
type Health struct {
	Checks  map[string]Pinger
	Workers func() (running, total int)
	Timeout time.Duration
}

func (h *Health) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	timeout := h.Timeout
	if timeout <= 0 {
		timeout = defaultHealthTimeout
	}
	ctx, cancel := context.WithTimeout(r.Context(), timeout)
	defer cancel()

	checks := make(map[string]string, len(h.Checks))
	degraded := false
	for name, p := range h.Checks {
		checks[name] = "ok"
		if err := p.Ping(ctx); err != nil {
			checks[name] = "degraded"
			degraded = true
		}
	}

	if degraded {
		response.Error(w, http.StatusServiceUnavailable, "DEGRADED",
			"One or more services degraded", checks)
		return
	}

	body := map[string]any{
		"status":   "ok",
		"services": checks,
	}
	if h.Workers != nil {
		running, total := h.Workers()
		body["workers"] = map[string]int{"running": running, "total": total}
	}
	response.JSON(w, body)
}
