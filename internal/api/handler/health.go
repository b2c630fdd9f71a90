package handler

import (
	"context"
	"net/http"
	"sort"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
)

const readyTimeout = time.Second

// Pinger is a dependency that can report its availability.
type Pinger interface {
	Ping(ctx context.Context) error
}

// Check is one named readiness probe.
type Check struct {
	Name  string
	Probe func(ctx context.Context) error
}

// PingCheck probes a Pinger.
func PingCheck(name string, p Pinger) Check {
	return Check{Name: name, Probe: p.Ping}
}

// RedisCheck probes a redis client.
func RedisCheck(client redis.Cmdable) Check {
	return Check{Name: "redis", Probe: func(ctx context.Context) error {
		return client.Ping(ctx).Err()
	}}
}

type HealthHandler struct {
	checks []Check
}

func NewHealthHandler(checks ...Check) *HealthHandler {
	return &HealthHandler{checks: checks}
}

// Live reports that the process is serving.
func (h *HealthHandler) Live(w http.ResponseWriter, _ *http.Request) {
	RespondJSON(w, http.StatusOK, map[string]string{"status": "live"})
}

// Ready runs every check and names the ones that failed.
func (h *HealthHandler) Ready(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), readyTimeout)
	defer cancel()

	results := make(map[string]string, len(h.checks))
	var failed []string
	for _, c := range h.checks {
		if err := c.Probe(ctx); err != nil {
			results[c.Name] = "unavailable"
			failed = append(failed, c.Name)
			continue
		}
		results[c.Name] = "ok"
	}

	if len(failed) > 0 {
		sort.Strings(failed)
		RespondError(w, r, http.StatusServiceUnavailable, "health/not-ready", "unavailable: "+strings.Join(failed, ", "))
		return
	}
	RespondJSON(w, http.StatusOK, map[string]interface{}{"status": "ready", "checks": results})
}
