package middleware

import (
	"net/http"
	"strings"

	"golang.org/x/crypto/bcrypt"

	"sam3dserve/internal/api/response"
)

const keyPrefixLen = 8

// Auth validates the Bearer token against a single configured bcrypt hash.
// With no hash configured the middleware passes every request through,
// matching the unauthenticated single-tenant deployment.
type Auth struct {
	keyHash string
}

// NewAuth creates the Auth middleware. keyHash may be empty to disable
// authentication.
func NewAuth(keyHash string) *Auth {
	return &Auth{keyHash: keyHash}
}

// Enabled reports whether a key hash is configured.
func (a *Auth) Enabled() bool { return a.keyHash != "" }

// Authenticate validates the Bearer token and tags the request context with
// a client key for rate limiting.
func (a *Auth) Authenticate(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !a.Enabled() {
			next.ServeHTTP(w, r)
			return
		}

		rawKey := extractBearerToken(r)
		if rawKey == "" {
			response.Error(w, http.StatusUnauthorized,
				"INVALID_TOKEN", "Missing or invalid Authorization header", nil)
			return
		}

		if bcrypt.CompareHashAndPassword([]byte(a.keyHash), []byte(rawKey)) != nil {
			response.Error(w, http.StatusUnauthorized,
				"INVALID_TOKEN", "Invalid API key", nil)
			return
		}

		prefix := rawKey
		if len(prefix) > keyPrefixLen {
			prefix = prefix[:keyPrefixLen]
		}
		next.ServeHTTP(w, r.WithContext(setClientKey(r.Context(), prefix)))
	})
}

func extractBearerToken(r *http.Request) string {
	auth := r.Header.Get("Authorization")
	if auth == "" {
		return ""
	}
	parts := strings.SplitN(auth, " ", 2)
	if len(parts) != 2 || !strings.EqualFold(parts[0], "Bearer") {
		return ""
	}
	return strings.TrimSpace(parts[1])
}
