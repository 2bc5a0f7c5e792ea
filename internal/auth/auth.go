// Package auth verifies bearer tokens issued by the identity service and exposes the caller
// identity to handlers. Token issuance lives outside this service.
package auth

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/ariefcatur/shop-backoffice/internal/apperr"
	"github.com/ariefcatur/shop-backoffice/internal/observability"
	"github.com/ariefcatur/shop-backoffice/internal/pricing"
)

var (
	ErrMissingToken = errors.New("auth: missing bearer token")
	ErrInvalidToken = errors.New("auth: invalid token")
)

type Identity struct {
	UserID uuid.UUID
	Role   pricing.Role
}

func (i Identity) Admin() bool { return i.Role == pricing.RoleAdmin }

// Claims is the token body: user_id and role next to the registered claims.
type Claims struct {
	UserID string `json:"user_id"`
	Role   string `json:"role,omitempty"`
	jwt.RegisteredClaims
}

type Verifier struct {
	secret []byte
	parser *jwt.Parser
}

func NewVerifier(secret string) (*Verifier, error) {
	if strings.TrimSpace(secret) == "" {
		return nil, errors.New("auth: jwt secret is required")
	}
	return &Verifier{
		secret: []byte(secret),
		parser: jwt.NewParser(jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}), jwt.WithExpirationRequired()),
	}, nil
}

// Verify parses an HS256 token and returns the identity it carries. An absent role means customer.
func (v *Verifier) Verify(token string) (Identity, error) {
	var claims Claims
	_, err := v.parser.ParseWithClaims(token, &claims, func(*jwt.Token) (any, error) {
		return v.secret, nil
	})
	if err != nil {
		return Identity{}, fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}
	id, err := uuid.Parse(claims.UserID)
	if err != nil || id == uuid.Nil {
		return Identity{}, fmt.Errorf("%w: bad user_id", ErrInvalidToken)
	}
	role := pricing.Role(strings.ToLower(claims.Role))
	switch role {
	case pricing.RoleCustomer, pricing.RoleBusiness, pricing.RoleAdmin:
	case "":
		role = pricing.RoleCustomer
	default:
		return Identity{}, fmt.Errorf("%w: unknown role %q", ErrInvalidToken, claims.Role)
	}
	return Identity{UserID: id, Role: role}, nil
}

// Sign mints a token for id. The API never calls it; it serves local tooling and tests.
func Sign(secret string, id Identity, ttl time.Duration) (string, error) {
	now := time.Now()
	claims := Claims{
		UserID: id.UserID.String(),
		Role:   string(id.Role),
		RegisteredClaims: jwt.RegisteredClaims{
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
		},
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(secret))
}

type identityKey struct{}

func WithIdentity(ctx context.Context, id Identity) context.Context {
	return context.WithValue(ctx, identityKey{}, id)
}

// FromContext returns the authenticated identity, if any.
func FromContext(ctx context.Context) (Identity, bool) {
	id, ok := ctx.Value(identityKey{}).(Identity)
	return id, ok
}

// ErrorWriter renders a rejected request; httpx.WriteError fits.
type ErrorWriter func(w http.ResponseWriter, r *http.Request, err error)

type Middleware struct {
	verifier *Verifier
	writeErr ErrorWriter
}

func NewMiddleware(v *Verifier, writeErr ErrorWriter) *Middleware {
	return &Middleware{verifier: v, writeErr: writeErr}
}

func bearer(r *http.Request) (string, bool) {
	h := strings.TrimSpace(r.Header.Get("Authorization"))
	if h == "" {
		return "", false
	}
	scheme, token, ok := strings.Cut(h, " ")
	if !ok || !strings.EqualFold(scheme, "Bearer") || strings.TrimSpace(token) == "" {
		return "", true
	}
	return strings.TrimSpace(token), true
}

// authenticate reports present=false when no Authorization header was sent.
func (m *Middleware) authenticate(r *http.Request) (id Identity, present bool, err error) {
	token, present := bearer(r)
	if !present {
		return Identity{}, false, nil
	}
	if token == "" {
		return Identity{}, true, ErrMissingToken
	}
	id, err = m.verifier.Verify(token)
	return id, true, err
}

func (m *Middleware) attach(r *http.Request, id Identity) *http.Request {
	ctx := WithIdentity(r.Context(), id)
	logger := observability.FromContext(ctx, nil).With(zap.String("user_id", id.UserID.String()))
	return r.WithContext(observability.WithLogger(ctx, logger))
}

func (m *Middleware) reject(w http.ResponseWriter, r *http.Request, err error) {
	observability.FromContext(r.Context(), nil).Debug("bearer token rejected", zap.Error(err))
	m.writeErr(w, r, apperr.Wrap(apperr.KindUnauthorized, "auth", err))
}

// Optional attaches the identity when a valid token is sent. A malformed token is still rejected
// so clients learn their credentials are wrong.
func (m *Middleware) Optional(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id, present, err := m.authenticate(r)
		if !present {
			next.ServeHTTP(w, r)
			return
		}
		if err != nil {
			m.reject(w, r, err)
			return
		}
		next.ServeHTTP(w, m.attach(r, id))
	})
}

func (m *Middleware) Required(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id, present, err := m.authenticate(r)
		if !present {
			err = ErrMissingToken
		}
		if err != nil {
			m.reject(w, r, err)
			return
		}
		next.ServeHTTP(w, m.attach(r, id))
	})
}

// RequireAdmin must run after Required.
func (m *Middleware) RequireAdmin(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id, ok := FromContext(r.Context())
		if !ok {
			m.reject(w, r, ErrMissingToken)
			return
		}
		if !id.Admin() {
			m.writeErr(w, r, apperr.Forbidden("auth", "admin role required"))
			return
		}
		next.ServeHTTP(w, r)
	})
}
