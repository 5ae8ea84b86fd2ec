package middleware

import (
	"crypto/sha256"
	"crypto/subtle"
	"net/http"
	"strings"

	"github.com/windseeker5/minipass-env-sub001/internal/api/response"
)

// secretEqual compares a provided secret against the expected one in
// constant time. Both sides are hashed first so the comparison length
// never depends on the input.
func secretEqual(expected, provided string) bool {
	e := sha256.Sum256([]byte(expected))
	p := sha256.Sum256([]byte(provided))
	return subtle.ConstantTimeCompare(e[:], p[:]) == 1
}

// BearerAuth guards operator endpoints with a static admin token.
// Missing or invalid tokens return 401.
func BearerAuth(token string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			requestID := GetRequestID(r.Context())

			provided, ok := strings.CutPrefix(r.Header.Get("Authorization"), "Bearer ")
			if !ok || provided == "" {
				response.Err(w, http.StatusUnauthorized, "UNAUTHORIZED", "Bearer token is required", requestID)
				return
			}

			if !secretEqual(token, provided) {
				response.Err(w, http.StatusUnauthorized, "UNAUTHORIZED", "Invalid token", requestID)
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}

// SharedSecret guards webhook endpoints with a shared secret carried in the
// given header. The response for a missing secret and a wrong secret is the
// same so callers cannot probe which one failed.
func SharedSecret(header, secret string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			requestID := GetRequestID(r.Context())

			if !secretEqual(secret, r.Header.Get(header)) {
				response.Err(w, http.StatusUnauthorized, "UNAUTHORIZED", "Invalid webhook secret", requestID)
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}
