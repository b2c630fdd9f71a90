package middleware

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/ayo6706/stablecoin-gateway/internal/api/problem"
	"github.com/ayo6706/stablecoin-gateway/internal/domain"
	"github.com/golang-jwt/jwt/v5"
)

type contextKey int

const (
	principalKey contextKey = iota
	requestIDKey
	logInfoKey
)

// Principal is the authenticated caller. Subject doubles as the owner
// reference of the caller's deposit address and ledger entries.
type Principal struct {
	Subject string
	Role    string
}

// IsAdmin reports whether the caller holds the operator role.
func (p Principal) IsAdmin() bool {
	return p.Role == domain.RoleAdmin
}

// Claims are the JWT claims the gateway issues and accepts.
type Claims struct {
	Role string `json:"role"`
	jwt.RegisteredClaims
}

var errUnknownRole = errors.New("unknown role")

// Authenticator issues and verifies HS256 bearer tokens.
type Authenticator struct {
	secret   []byte
	issuer   string
	audience string
	now      func() time.Time
}

func NewAuthenticator(secret, issuer, audience string) *Authenticator {
	return &Authenticator{
		secret:   []byte(secret),
		issuer:   strings.TrimSpace(issuer),
		audience: strings.TrimSpace(audience),
		now:      time.Now,
	}
}

// Sign issues a token for subject with the given role and lifetime.
func (a *Authenticator) Sign(subject, role string, ttl time.Duration) (string, error) {
	if role != domain.RoleAdmin && role != domain.RoleUser {
		return "", errUnknownRole
	}
	if strings.TrimSpace(subject) == "" {
		return "", errors.New("subject is required")
	}
	now := a.now()
	claims := Claims{
		Role: role,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   subject,
			Issuer:    a.issuer,
			IssuedAt:  jwt.NewNumericDate(now),
			NotBefore: jwt.NewNumericDate(now.Add(-30 * time.Second)),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
		},
	}
	if a.audience != "" {
		claims.Audience = jwt.ClaimStrings{a.audience}
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(a.secret)
}

func (a *Authenticator) verify(raw string) (Principal, error) {
	opts := []jwt.ParserOption{
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithExpirationRequired(),
		jwt.WithTimeFunc(a.now),
	}
	if a.issuer != "" {
		opts = append(opts, jwt.WithIssuer(a.issuer))
	}
	if a.audience != "" {
		opts = append(opts, jwt.WithAudience(a.audience))
	}

	claims := &Claims{}
	if _, err := jwt.ParseWithClaims(raw, claims, func(*jwt.Token) (interface{}, error) {
		return a.secret, nil
	}, opts...); err != nil {
		return Principal{}, err
	}
	if strings.TrimSpace(claims.Subject) == "" {
		return Principal{}, errors.New("token has no subject")
	}
	if claims.Role != domain.RoleAdmin && claims.Role != domain.RoleUser {
		return Principal{}, errUnknownRole
	}
	return Principal{Subject: claims.Subject, Role: claims.Role}, nil
}

// Middleware rejects requests without a valid bearer token and stores the
// caller in the request context.
func (a *Authenticator) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if len(a.secret) == 0 {
			problem.Write(w, r, http.StatusInternalServerError, "auth/misconfigured", "auth is not configured")
			return
		}
		header := r.Header.Get("Authorization")
		if header == "" {
			problem.Write(w, r, http.StatusUnauthorized, "auth/authorization-header-required", "Authorization header required")
			return
		}
		raw, ok := strings.CutPrefix(header, "Bearer ")
		if !ok || raw == "" {
			problem.Write(w, r, http.StatusUnauthorized, "auth/invalid-token-format", "Invalid token format")
			return
		}

		principal, err := a.verify(raw)
		if err != nil {
			problem.Write(w, r, http.StatusUnauthorized, "auth/invalid-token", "Invalid token")
			return
		}
		noteSubject(r.Context(), principal.Subject)
		next.ServeHTTP(w, r.WithContext(context.WithValue(r.Context(), principalKey, principal)))
	})
}

// RequireAdmin rejects callers without the operator role.
func RequireAdmin(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if p, ok := PrincipalFromContext(r.Context()); !ok || !p.IsAdmin() {
			problem.Write(w, r, http.StatusForbidden, "auth/insufficient-permissions", "insufficient permissions")
			return
		}
		next.ServeHTTP(w, r)
	})
}

// PrincipalFromContext returns the authenticated caller, if any.
func PrincipalFromContext(ctx context.Context) (Principal, bool) {
	p, ok := ctx.Value(principalKey).(Principal)
	return p, ok
}

// RequestIDFromContext returns the id assigned by RequestID.
func RequestIDFromContext(ctx context.Context) string {
	id, _ := ctx.Value(requestIDKey).(string)
	return id
}
