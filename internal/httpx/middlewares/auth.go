package middlewares

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"strings"

	"github.com/jcmexdev/ecommerce-metrics/internal/auth"
)

// RequireAdmin guards admin endpoints behind the identity provider. The
// caller's subject is only used for logging; authorization is all-or-
// nothing at this service.
func RequireAdmin(verifier auth.TokenVerifier) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			token := bearerToken(r)
			subject, err := verifier.Verify(r.Context(), token)
			if err != nil {
				w.Header().Set("Content-Type", "application/json")
				w.WriteHeader(http.StatusUnauthorized)
				_ = json.NewEncoder(w).Encode(map[string]string{"error": "unauthorized"})
				return
			}

			slog.DebugContext(r.Context(), "admin call authorized", "subject", subject, "path", r.URL.Path)
			next.ServeHTTP(w, r)
		})
	}
}

func bearerToken(r *http.Request) string {
	h := r.Header.Get("Authorization")
	const prefix = "Bearer "
	if !strings.HasPrefix(h, prefix) {
		return ""
	}
	return strings.TrimPrefix(h, prefix)
}
