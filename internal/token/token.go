// Package token issues and verifies self-describing resolution tokens for
// the anonymous warranty lookup path. A token is an HS256-signed JWT carrying
// the warranty and tenant identifiers plus an expiry; verification needs no
// server-side state, so the public path stays stateless and lock-free.
package token

import (
	"errors"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"warrantly.org/internal/ids"
)

const issuer = "warrantly"

var (
	// ErrInvalid covers every verification failure other than expiry. The
	// message is deliberately generic: a guessed token must not reveal
	// whether the warranty exists.
	ErrInvalid = errors.New("token: invalid")
	// ErrExpired indicates a well-formed token past its validity window.
	ErrExpired = errors.New("token: expired")
)

// Claims are the verified contents of a resolution token.
type Claims struct {
	WarrantyID string
	TenantID   string
	ExpiresAt  time.Time
}

type resolutionClaims struct {
	TenantID string `json:"tid"`
	jwt.RegisteredClaims
}

// Issuer mints and verifies resolution tokens with a shared secret.
type Issuer struct {
	secret []byte
	now    func() time.Time
}

// Option configures an Issuer.
type Option func(*Issuer)

// WithClock overrides the time source (useful for tests).
func WithClock(fn func() time.Time) Option {
	return func(i *Issuer) {
		if fn != nil {
			i.now = fn
		}
	}
}

// NewIssuer constructs an Issuer. The secret must be non-empty.
func NewIssuer(secret string, opts ...Option) (*Issuer, error) {
	secret = strings.TrimSpace(secret)
	if secret == "" {
		return nil, errors.New("token: secret is required")
	}
	i := &Issuer{secret: []byte(secret), now: time.Now}
	for _, opt := range opts {
		opt(i)
	}
	return i, nil
}

// Issue signs a token granting read/claim access to one warranty until ttl
// elapses.
func (i *Issuer) Issue(warrantyID, tenantID string, ttl time.Duration) (string, time.Time, error) {
	warrantyID = strings.TrimSpace(warrantyID)
	tenantID = strings.TrimSpace(tenantID)
	if warrantyID == "" || tenantID == "" {
		return "", time.Time{}, errors.New("token: warranty and tenant ids are required")
	}
	if ttl <= 0 {
		return "", time.Time{}, errors.New("token: ttl must be greater than zero")
	}

	now := i.now().UTC()
	exp := now.Add(ttl)
	claims := resolutionClaims{
		TenantID: tenantID,
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    issuer,
			Subject:   warrantyID,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(exp),
			ID:        ids.New(),
		},
	}
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(i.secret)
	if err != nil {
		return "", time.Time{}, err
	}
	return signed, exp, nil
}

// Verify checks signature and expiry and returns the embedded claims. Expiry
// is reported separately so the transport can answer 410; every other failure
// collapses into ErrInvalid.
func (i *Issuer) Verify(raw string) (Claims, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return Claims{}, ErrInvalid
	}

	parsed, err := jwt.ParseWithClaims(raw, &resolutionClaims{}, func(t *jwt.Token) (any, error) {
		if t.Method != jwt.SigningMethodHS256 {
			return nil, ErrInvalid
		}
		return i.secret, nil
	}, jwt.WithTimeFunc(i.now), jwt.WithIssuer(issuer))
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return Claims{}, ErrExpired
		}
		return Claims{}, ErrInvalid
	}
	claims, ok := parsed.Claims.(*resolutionClaims)
	if !ok || !parsed.Valid {
		return Claims{}, ErrInvalid
	}
	if strings.TrimSpace(claims.Subject) == "" || strings.TrimSpace(claims.TenantID) == "" {
		return Claims{}, ErrInvalid
	}
	if claims.ExpiresAt == nil {
		return Claims{}, ErrInvalid
	}
	return Claims{
		WarrantyID: claims.Subject,
		TenantID:   claims.TenantID,
		ExpiresAt:  claims.ExpiresAt.Time,
	}, nil
}
