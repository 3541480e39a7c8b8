package auth

import (
	"net/http"
	"strings"

	"github.com/goccy/go-json"
)

// Skipper lets requests through without a token.
type Skipper func(r *http.Request) bool

type Middleware struct {
	verifier *Verifier
	skip     Skipper
}

// NewMiddleware leaves probes and metrics open.
func NewMiddleware(cfg Config) Middleware {
	return Middleware{verifier: NewVerifier(cfg), skip: func(r *http.Request) bool {
		return r.URL.Path == "/healthz" || r.URL.Path == "/metrics"
	}}
}

func (m Middleware) Wrap(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if m.skip != nil && m.skip(r) {
			next.ServeHTTP(w, r)
			return
		}

		claims, err := m.verifier.Verify(bearer(r.Header.Get("Authorization")))
		if err != nil {
			w.Header().Set("Content-Type", "application/json")
			w.Header().Set("WWW-Authenticate", `Bearer realm="healthsync"`)
			w.WriteHeader(http.StatusUnauthorized)
			_ = json.NewEncoder(w).Encode(map[string]string{"error": "unauthorized", "detail": err.Error()})
			return
		}
		next.ServeHTTP(w, r.WithContext(WithClaims(r.Context(), claims)))
	})
}

// bearer returns the token of a "Bearer" Authorization header, or "" for any
// other scheme.
func bearer(header string) string {
	scheme, token, ok := strings.Cut(strings.TrimSpace(header), " ")
	if !ok || !strings.EqualFold(scheme, "bearer") {
		return ""
	}
	return token
}
