// Package staffauth verifies staff bearer tokens and answers the capability
// question "can this caller perform action X on this tenant's data?". The
// engine itself never authenticates; this is the access-control collaborator
// the transport consults before any staff operation reaches it.
package staffauth

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"warrantly.org/internal/ids"
)

const issuer = "warrantly"

// Capabilities gating the warranty operation surface.
const (
	CapRegister = "warranty:register"
	CapRead     = "warranty:read"
	CapInspect  = "warranty:inspect"
	CapSupplier = "warranty:supplier"
)

var (
	ErrInvalidToken = errors.New("staffauth: invalid token")
	ErrForbidden    = errors.New("staffauth: forbidden")
)

// Principal is an authenticated staff member scoped to one tenant.
type Principal struct {
	ActorID      string
	TenantID     string
	Capabilities map[string]struct{}
}

// Can reports whether the principal holds the capability.
func (p Principal) Can(capability string) bool {
	_, ok := p.Capabilities[capability]
	return ok
}

type staffClaims struct {
	TenantID     string   `json:"tid"`
	Capabilities []string `json:"caps"`
	jwt.RegisteredClaims
}

// Service signs and verifies staff tokens with a shared secret.
type Service struct {
	secret []byte
	now    func() time.Time
}

// Option configures Service.
type Option func(*Service)

// WithClock overrides the time source (useful for tests).
func WithClock(fn func() time.Time) Option {
	return func(s *Service) {
		if fn != nil {
			s.now = fn
		}
	}
}

// NewService constructs a Service. The secret must be non-empty.
func NewService(secret string, opts ...Option) (*Service, error) {
	secret = strings.TrimSpace(secret)
	if secret == "" {
		return nil, errors.New("staffauth: secret is required")
	}
	s := &Service{secret: []byte(secret), now: time.Now}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

// GenerateToken signs a staff token for the given actor, tenant and
// capabilities using HS256.
func (s *Service) GenerateToken(actorID, tenantID string, capabilities []string, ttl time.Duration) (string, error) {
	actorID = strings.TrimSpace(actorID)
	tenantID = strings.TrimSpace(tenantID)
	if actorID == "" || tenantID == "" {
		return "", errors.New("staffauth: actor and tenant ids are required")
	}
	if ttl <= 0 {
		return "", errors.New("staffauth: ttl must be greater than zero")
	}

	now := s.now().UTC()
	claims := staffClaims{
		TenantID:     tenantID,
		Capabilities: dedupe(capabilities),
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    issuer,
			Subject:   actorID,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
			ID:        ids.New(),
		},
	}
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(s.secret)
	if err != nil {
		return "", fmt.Errorf("sign token: %w", err)
	}
	return signed, nil
}

// Authenticate verifies the bearer token and returns the staff principal.
func (s *Service) Authenticate(token string) (Principal, error) {
	token = strings.TrimSpace(token)
	if token == "" {
		return Principal{}, ErrInvalidToken
	}
	parsed, err := jwt.ParseWithClaims(token, &staffClaims{}, func(t *jwt.Token) (any, error) {
		if t.Method != jwt.SigningMethodHS256 {
			return nil, ErrInvalidToken
		}
		return s.secret, nil
	}, jwt.WithTimeFunc(s.now), jwt.WithIssuer(issuer))
	if err != nil {
		return Principal{}, ErrInvalidToken
	}
	claims, ok := parsed.Claims.(*staffClaims)
	if !ok || !parsed.Valid {
		return Principal{}, ErrInvalidToken
	}
	if strings.TrimSpace(claims.Subject) == "" || strings.TrimSpace(claims.TenantID) == "" {
		return Principal{}, ErrInvalidToken
	}

	caps := make(map[string]struct{}, len(claims.Capabilities))
	for _, c := range dedupe(claims.Capabilities) {
		caps[c] = struct{}{}
	}
	return Principal{
		ActorID:      claims.Subject,
		TenantID:     claims.TenantID,
		Capabilities: caps,
	}, nil
}

// Authorize ensures the principal may perform the capability on the tenant.
func (s *Service) Authorize(p Principal, tenantID, capability string) error {
	if p.TenantID != tenantID || !p.Can(capability) {
		return ErrForbidden
	}
	return nil
}

func dedupe(values []string) []string {
	if len(values) == 0 {
		return nil
	}
	seen := make(map[string]struct{}, len(values))
	var out []string
	for _, v := range values {
		v = strings.TrimSpace(strings.ToLower(v))
		if v == "" {
			continue
		}
		if _, ok := seen[v]; ok {
			continue
		}
		seen[v] = struct{}{}
		out = append(out, v)
	}
	return out
}

type ctxKey string

const principalKey ctxKey = "staff_principal"

// ContextWithPrincipal stores the staff principal in the context.
func ContextWithPrincipal(ctx context.Context, p Principal) context.Context {
	return context.WithValue(ctx, principalKey, p)
}

// PrincipalFromContext extracts the staff principal from the context.
func PrincipalFromContext(ctx context.Context) (Principal, bool) {
	p, ok := ctx.Value(principalKey).(Principal)
	return p, ok
}
