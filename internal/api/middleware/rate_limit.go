package middleware

import (
	"fmt"
	"net/http"
	"time"

	"github.com/ayo6706/stablecoin-gateway/internal/api/problem"
	"github.com/go-chi/httprate"
)

// RateLimit allows rps requests per second per caller. Authenticated callers
// are keyed by subject, anonymous ones by client IP.
func RateLimit(rps int) func(http.Handler) http.Handler {
	return httprate.Limit(rps, time.Second,
		httprate.WithKeyFuncs(callerKey),
		httprate.WithLimitHandler(func(w http.ResponseWriter, r *http.Request) {
			problem.Write(w, r, http.StatusTooManyRequests, "rate-limit-exceeded",
				fmt.Sprintf("Rate limit of %d req/s exceeded", rps))
		}),
	)
}

func callerKey(r *http.Request) (string, error) {
	if p, ok := PrincipalFromContext(r.Context()); ok {
		return "sub:" + p.Subject, nil
	}
	ip, err := httprate.KeyByIP(r)
	if err != nil {
		return "", err
	}
	return "ip:" + ip, nil
}
