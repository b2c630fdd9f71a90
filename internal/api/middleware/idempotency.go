package middleware

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"io"
	"net/http"
	"strings"

	"github.com/ayo6706/stablecoin-gateway/internal/api/problem"
	"github.com/ayo6706/stablecoin-gateway/internal/idempotency"
	"github.com/ayo6706/stablecoin-gateway/internal/observability"
	"go.uber.org/zap"
)

const (
	IdempotencyHeader = "Idempotency-Key"
	ReplayHeader      = "X-Idempotent-Replay"

	maxIdempotencyKeyLen = 255
)

// Idempotency replays the stored response when a caller repeats a mutating
// request with an Idempotency-Key it already used. Keys are private to the
// caller, so it must run after the authenticator.
type Idempotency struct {
	store  *idempotency.Store
	logger *zap.Logger
}

func NewIdempotency(store *idempotency.Store, logger *zap.Logger) *Idempotency {
	return &Idempotency{store: store, logger: logger}
}

func (m *Idempotency) Handler(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if m.store == nil || !mutating(r.Method) {
			next.ServeHTTP(w, r)
			return
		}

		header := strings.TrimSpace(r.Header.Get(IdempotencyHeader))
		switch {
		case header == "":
			observability.IncrementIdempotencyEvent("missing_key")
			problem.Write(w, r, http.StatusBadRequest, "idempotency/missing-key", "Idempotency-Key header is required")
			return
		case len(header) > maxIdempotencyKeyLen:
			problem.Write(w, r, http.StatusBadRequest, "idempotency/invalid-key", "Idempotency-Key is too long")
			return
		}

		body, err := io.ReadAll(r.Body)
		if err != nil {
			problem.Write(w, r, http.StatusBadRequest, "request/invalid-body", "Failed to read request body")
			return
		}
		_ = r.Body.Close()
		r.Body = io.NopCloser(bytes.NewReader(body))

		key := scopedKey(r, header)
		hash := requestHash(r, body)

		rec, err := m.store.Lookup(r.Context(), key, hash)
		switch {
		case err == nil:
			m.replay(w, rec, "replay")
			return
		case errors.Is(err, idempotency.ErrHashMismatch):
			observability.IncrementIdempotencyEvent("hash_mismatch")
			problem.Write(w, r, http.StatusConflict, "idempotency/key-conflict", "Idempotency-Key was used with a different request")
			return
		case errors.Is(err, idempotency.ErrInProgress):
			m.await(w, r, key, hash)
			return
		case !errors.Is(err, idempotency.ErrNotFound):
			observability.IncrementIdempotencyEvent("lookup_error")
			m.logger.Warn("idempotency lookup failed", zap.Error(err))
		}

		reserved, err := m.store.Reserve(r.Context(), key, hash, r.Method, r.URL.Path)
		if err != nil {
			observability.IncrementIdempotencyEvent("reserve_error")
			m.logger.Error("idempotency reserve failed", zap.Error(err))
			problem.Write(w, r, http.StatusInternalServerError, "idempotency/unavailable", "idempotency unavailable")
			return
		}
		if !reserved {
			m.await(w, r, key, hash)
			return
		}
		observability.IncrementIdempotencyEvent("reserved")

		capture := &responseCapture{ResponseWriter: w}
		next.ServeHTTP(capture, r)
		m.finalize(r.Context(), key, hash, capture)
	})
}

// await waits for a concurrent request with the same key to finish.
func (m *Idempotency) await(w http.ResponseWriter, r *http.Request, key, hash string) {
	rec, err := m.store.WaitForCompletion(r.Context(), key, hash)
	if err == nil {
		m.replay(w, rec, "replay_after_wait")
		return
	}
	observability.IncrementIdempotencyEvent("in_progress_conflict")
	m.logger.Warn("idempotency wait failed", zap.Error(err))
	problem.Write(w, r, http.StatusConflict, "idempotency/in-progress", "a request with this Idempotency-Key is still processing")
}

// finalize stores the response even if the client has gone away, so the key
// does not stay in progress.
func (m *Idempotency) finalize(ctx context.Context, key, hash string, c *responseCapture) {
	contentType := c.Header().Get("Content-Type")
	if contentType == "" {
		contentType = "application/json"
	}
	if _, err := m.store.Finalize(context.WithoutCancel(ctx), key, hash, c.Status(), c.body.Bytes(), contentType); err != nil {
		observability.IncrementIdempotencyEvent("finalize_error")
		m.logger.Warn("idempotency finalize failed", zap.Error(err))
		return
	}
	observability.IncrementIdempotencyEvent("finalized")
}

func (m *Idempotency) replay(w http.ResponseWriter, rec *idempotency.Record, event string) {
	observability.IncrementIdempotencyEvent(event)
	w.Header().Set("Content-Type", rec.ContentType)
	w.Header().Set(ReplayHeader, rec.ServedBy)
	w.WriteHeader(rec.Status)
	_, _ = w.Write(rec.Body)
}

func mutating(method string) bool {
	switch method {
	case http.MethodPost, http.MethodPut, http.MethodPatch, http.MethodDelete:
		return true
	}
	return false
}

func scopedKey(r *http.Request, key string) string {
	if p, ok := PrincipalFromContext(r.Context()); ok {
		return p.Subject + ":" + key
	}
	return "anonymous:" + key
}

func requestHash(r *http.Request, body []byte) string {
	h := sha256.New()
	h.Write([]byte(r.Method + "|" + r.URL.Path + "|"))
	h.Write(body)
	return hex.EncodeToString(h.Sum(nil))
}

type responseCapture struct {
	http.ResponseWriter
	status int
	body   bytes.Buffer
}

func (c *responseCapture) WriteHeader(code int) {
	if c.status == 0 {
		c.status = code
	}
	c.ResponseWriter.WriteHeader(code)
}

func (c *responseCapture) Write(b []byte) (int, error) {
	if c.status == 0 {
		c.status = http.StatusOK
	}
	c.body.Write(b)
	return c.ResponseWriter.Write(b)
}

func (c *responseCapture) Status() int {
	if c.status == 0 {
		return http.StatusOK
	}
	return c.status
}
