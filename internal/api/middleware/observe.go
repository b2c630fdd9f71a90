package middleware

import (
	"context"
	"net/http"
	"time"

	"github.com/ayo6706/stablecoin-gateway/internal/api/problem"
	"github.com/ayo6706/stablecoin-gateway/internal/observability"
	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

// RequestID tags the request with the caller's X-Trace-ID or X-Request-ID, or a
// fresh one, and echoes it in the X-Trace-ID response header.
func RequestID(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id := r.Header.Get(problem.TraceHeader)
		if id == "" {
			id = r.Header.Get("X-Request-ID")
		}
		if id == "" || len(id) > 128 {
			id = uuid.NewString()
		}
		w.Header().Set(problem.TraceHeader, id)
		next.ServeHTTP(w, r.WithContext(context.WithValue(r.Context(), requestIDKey, id)))
	})
}

// AccessLog writes one log line per request and records its latency under the
// chi route pattern.
func AccessLog(logger *zap.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			rec := &statusRecorder{ResponseWriter: w}
			info := &logInfo{}

			next.ServeHTTP(rec, r.WithContext(context.WithValue(r.Context(), logInfoKey, info)))

			elapsed := time.Since(start)
			route := routePattern(r)
			observability.ObserveHTTP(r.Method, route, rec.Status(), elapsed)

			fields := []zap.Field{
				zap.String("method", r.Method),
				zap.String("route", route),
				zap.Int("status", rec.Status()),
				zap.String("trace_id", RequestIDFromContext(r.Context())),
				zap.Duration("duration", elapsed),
			}
			if info.subject != "" {
				fields = append(fields, zap.String("subject", info.subject))
			}
			logger.Info("http_request", fields...)
		})
	}
}

// Recoverer turns a panic into a 500 problem response.
func Recoverer(logger *zap.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			defer func() {
				rec := recover()
				if rec == nil {
					return
				}
				if rec == http.ErrAbortHandler {
					panic(rec)
				}
				logger.Error("panic recovered",
					zap.Any("panic", rec),
					zap.String("method", r.Method),
					zap.String("route", routePattern(r)),
					zap.String("trace_id", RequestIDFromContext(r.Context())),
					zap.Stack("stack"),
				)
				problem.Write(w, r, http.StatusInternalServerError, "internal-server-error", "unexpected server error")
			}()
			next.ServeHTTP(w, r)
		})
	}
}

// logInfo collects request details that inner handlers learn, such as the
// authenticated subject.
type logInfo struct {
	subject string
}

func noteSubject(ctx context.Context, subject string) {
	if info, ok := ctx.Value(logInfoKey).(*logInfo); ok {
		info.subject = subject
	}
}

func routePattern(r *http.Request) string {
	if rc := chi.RouteContext(r.Context()); rc != nil {
		if pattern := rc.RoutePattern(); pattern != "" {
			return pattern
		}
	}
	return "unmatched"
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (sr *statusRecorder) WriteHeader(code int) {
	if sr.status == 0 {
		sr.status = code
	}
	sr.ResponseWriter.WriteHeader(code)
}

func (sr *statusRecorder) Write(b []byte) (int, error) {
	if sr.status == 0 {
		sr.status = http.StatusOK
	}
	return sr.ResponseWriter.Write(b)
}

func (sr *statusRecorder) Status() int {
	if sr.status == 0 {
		return http.StatusOK
	}
	return sr.status
}
