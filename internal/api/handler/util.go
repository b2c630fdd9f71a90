package handler

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strconv"
	"strings"

	"github.com/ayo6706/stablecoin-gateway/internal/api/middleware"
	"github.com/ayo6706/stablecoin-gateway/internal/api/problem"
	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgconn"
)

const maxBodyBytes = 1 << 16

var errForeignOwner = errors.New("owner_ref belongs to another caller")

// RespondJSON writes a JSON response.
func RespondJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(data)
}

// RespondError writes a problem document; slug is expanded by problem.Type.
func RespondError(w http.ResponseWriter, r *http.Request, status int, slug, message string) {
	problem.Write(w, r, status, slug, message)
}

// actor is the authenticated caller of a request. Subjects are opaque owner
// references; id is set only when the subject happens to be a UUID.
type actor struct {
	subject string
	id      uuid.UUID
	admin   bool
}

// idPtr is the audit actor id, nil for non-UUID subjects.
func (a actor) idPtr() *uuid.UUID {
	if a.id == uuid.Nil {
		return nil
	}
	id := a.id
	return &id
}

func requestActor(r *http.Request) (actor, error) {
	p, ok := middleware.PrincipalFromContext(r.Context())
	if !ok || p.Subject == "" {
		return actor{}, errors.New("missing principal in auth context")
	}

	a := actor{subject: p.Subject, admin: p.IsAdmin()}
	if id, err := uuid.Parse(p.Subject); err == nil {
		a.id = id
	}
	return a, nil
}

// resolveOwner picks the owner a request acts for. Callers act for themselves;
// admins may name any owner.
func (a actor) resolveOwner(requested string) (string, error) {
	requested = strings.TrimSpace(requested)
	if requested == "" || requested == a.subject {
		return a.subject, nil
	}
	if a.admin {
		return requested, nil
	}
	return "", errForeignOwner
}

func (a actor) canRead(ownerRef string) bool {
	return a.admin || ownerRef == a.subject
}

// decodeJSON reads a bounded JSON body. An empty body leaves dst untouched.
func decodeJSON(w http.ResponseWriter, r *http.Request, dst interface{}) error {
	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil && !errors.Is(err, io.EOF) {
		return err
	}
	return nil
}

func uuidParam(r *http.Request, name string) (uuid.UUID, error) {
	return uuid.Parse(chi.URLParam(r, name))
}

func queryInt32(r *http.Request, name string, fallback int32) int32 {
	raw := r.URL.Query().Get(name)
	if raw == "" {
		return fallback
	}
	v, err := strconv.ParseInt(raw, 10, 32)
	if err != nil {
		return fallback
	}
	return int32(v)
}

func mapDBError(err error) (status int, problemType, message string, ok bool) {
	var pgErr *pgconn.PgError
	if !errors.As(err, &pgErr) {
		return 0, "", "", false
	}

	switch pgErr.Code {
	case "23505": // unique_violation
		return http.StatusConflict, "db/unique-violation", "resource already exists", true
	case "23514": // check_violation
		return http.StatusBadRequest, "db/check-violation", "request violates data constraints", true
	case "23502": // not_null_violation
		return http.StatusBadRequest, "db/not-null-violation", "missing required field", true
	default:
		return 0, "", "", false
	}
}
