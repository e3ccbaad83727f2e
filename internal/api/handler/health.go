package handler

import (
	"context"
	"net/http"
	"strings"
	"time"

	"github.com/ayo6706/author-payouts/internal/api/middleware"
	"go.uber.org/zap"
)

const readinessTimeout = time.Second

// DependencyCheck is one backend the service needs before it takes traffic.
type DependencyCheck struct {
	Name string
	Ping func(ctx context.Context) error
}

type HealthHandler struct {
	checks []DependencyCheck
}

func NewHealthHandler(checks ...DependencyCheck) *HealthHandler {
	return &HealthHandler{checks: checks}
}

// Live reports the process is up.
func (h *HealthHandler) Live(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ok"))
}

// Ready pings every dependency under one deadline and lists the result of each.
func (h *HealthHandler) Ready(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), readinessTimeout)
	defer cancel()

	results := make(map[string]string, len(h.checks))
	var down []string
	for _, c := range h.checks {
		if err := c.Ping(ctx); err != nil {
			results[c.Name] = "unavailable"
			down = append(down, c.Name)
			continue
		}
		results[c.Name] = "ok"
	}

	if len(down) > 0 {
		middleware.Logger(r.Context()).Warn("readiness check failed", zap.Strings("dependencies", down))
		RespondError(w, r, http.StatusServiceUnavailable, "health/dependency-unavailable",
			strings.Join(down, ", ")+" unavailable")
		return
	}
	RespondJSON(w, http.StatusOK, map[string]any{"status": "ready", "checks": results})
}
