package httpapi

import (
	"errors"
	"net/http"
	"strings"

	"healthpal.org/internal/guard"
)

const (
	authHeader   = "Authorization"
	bearerPrefix = "Bearer "
)

var publicPaths = []string{
	"/v1/auth/signup",
	"/v1/auth/login",
	"/v1/auth/refresh",
	"/v1/stream/donations",
	"/metrics",
	"/healthz",
	"/readyz",
	"/v1/info",
	"/",
}

// withAuth resolves the bearer token into a principal for every
// non-public request. Handlers read the principal from the context; the
// middleware itself mutates nothing.
func (a *API) withAuth(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method == http.MethodOptions || isPublicPath(r.URL.Path) {
			next.ServeHTTP(w, r)
			return
		}
		// logout without any credential is the handler's 400, not a 401
		if r.URL.Path == "/v1/auth/logout" && strings.TrimSpace(r.Header.Get(authHeader)) == "" {
			next.ServeHTTP(w, r)
			return
		}

		raw, err := extractBearerToken(r.Header.Get(authHeader))
		if err != nil {
			writeError(w, r, http.StatusUnauthorized, "authentication_error", err.Error())
			return
		}

		principal, err := a.guard.Authenticate(r.Context(), raw)
		if err != nil {
			respondError(w, r, err)
			return
		}

		ctx := guard.ContextWithPrincipal(r.Context(), principal)
		ctx = guard.ContextWithToken(ctx, raw)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func extractBearerToken(header string) (string, error) {
	header = strings.TrimSpace(header)
	if header == "" {
		return "", errors.New("missing bearer token")
	}
	if !strings.HasPrefix(strings.ToLower(header), strings.ToLower(bearerPrefix)) {
		return "", errors.New("invalid authorization scheme")
	}
	token := strings.TrimSpace(header[len(bearerPrefix):])
	if token == "" {
		return "", errors.New("missing bearer token")
	}
	return token, nil
}

func isPublicPath(path string) bool {
	for _, p := range publicPaths {
		if path == p {
			return true
		}
	}
	// transparency reports are the public face of a case
	if strings.HasPrefix(path, "/v1/cases/") && strings.HasSuffix(path, "/transparency") {
		return true
	}
	return false
}
