package httpapi

import (
	"context"
	"errors"
	"net/http"
	"strings"

	"warrantly.org/internal/staffauth"
)

const (
	authHeader = "Authorization"
	bearer     = "Bearer "
)

var publicPaths = []string{
	"/metrics",
	"/healthz",
	"/readyz",
	"/v1/info",
	"/",
}

func isPublicPath(path string) bool {
	for _, p := range publicPaths {
		if path == p {
			return true
		}
	}
	// The anonymous customer surface authenticates with resolution tokens,
	// not staff bearers.
	return isPublicWarrantyPath(path)
}

func (a *API) withAuth(next http.Handler) http.Handler {
	if a == nil || a.staff == nil {
		return next
	}
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method == http.MethodOptions || isPublicPath(r.URL.Path) {
			next.ServeHTTP(w, r)
			return
		}

		raw, err := extractBearerToken(r.Header.Get(authHeader))
		if err != nil {
			writeError(w, r, http.StatusUnauthorized, err.Error())
			return
		}

		principal, err := a.staff.Authenticate(raw)
		if err != nil {
			if errors.Is(err, staffauth.ErrInvalidToken) {
				writeError(w, r, http.StatusUnauthorized, "invalid token")
				return
			}
			writeError(w, r, http.StatusInternalServerError, "authentication error")
			return
		}

		ctx := staffauth.ContextWithPrincipal(r.Context(), principal)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// requireStaff resolves the authenticated principal and checks the
// capability. With auth disabled it returns a permissive default principal.
func (a *API) requireStaff(ctx context.Context, capability string) (staffauth.Principal, error) {
	p, ok := staffauth.PrincipalFromContext(ctx)
	if !ok {
		if a.staff == nil {
			return staffauth.Principal{ActorID: "anonymous", TenantID: "default"}, nil
		}
		return staffauth.Principal{}, staffauth.ErrForbidden
	}
	if a.staff != nil {
		if err := a.staff.Authorize(p, p.TenantID, capability); err != nil {
			return staffauth.Principal{}, err
		}
	}
	return p, nil
}

func extractBearerToken(header string) (string, error) {
	header = strings.TrimSpace(header)
	if header == "" {
		return "", errors.New("missing bearer token")
	}
	if !strings.HasPrefix(strings.ToLower(header), strings.ToLower(bearer)) {
		return "", errors.New("invalid authorization scheme")
	}
	raw := strings.TrimSpace(header[len(bearer):])
	if raw == "" {
		return "", errors.New("missing bearer token")
	}
	return raw, nil
}
