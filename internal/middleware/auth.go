package middleware

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strings"

	"simats-hub/internal/auth"
)

type contextKey string

const identityKey contextKey = "identity"

// JWTAuth accepts any credential the verifier trusts, including the
// public read key, and stores the caller's identity in the context.
func JWTAuth(verifier *auth.Verifier) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			identity, err := verifier.Verify(bearerToken(r))
			if err != nil {
				msg := "Unauthorized - Invalid token"
				if errors.Is(err, auth.ErrMissingToken) {
					msg = "Unauthorized - No access token"
				}
				unauthorized(w, msg)
				return
			}
			ctx := context.WithValue(r.Context(), identityKey, identity)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// RequireUser rejects credentials that do not identify a signed-in
// user. It must run after JWTAuth.
func RequireUser(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		identity := GetIdentity(r.Context())
		if identity == nil || !identity.IsUser() {
			unauthorized(w, "Unauthorized - User session required")
			return
		}
		next.ServeHTTP(w, r)
	})
}

// GetIdentity returns the identity stored by JWTAuth, or nil.
func GetIdentity(ctx context.Context) *auth.Identity {
	identity, _ := ctx.Value(identityKey).(*auth.Identity)
	return identity
}

func bearerToken(r *http.Request) string {
	header := r.Header.Get("Authorization")
	scheme, token, ok := strings.Cut(header, " ")
	if !ok || !strings.EqualFold(scheme, "Bearer") {
		return ""
	}
	return strings.TrimSpace(token)
}

func unauthorized(w http.ResponseWriter, msg string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusUnauthorized)
	json.NewEncoder(w).Encode(map[string]string{"error": msg})
}
