// Package auth resolves the signed-in user of an API request. Session management
// lives in the web app; this package only reads the bearer token it forwards.
package auth

import (
	"context"
	"errors"
	"log"
	"net/http"
	"os"
	"strings"
)

type contextKey string

// UserEmailKey is the context key used to store the authenticated user's email.
const UserEmailKey contextKey = "user_email"

// DefaultUserEmail is the user every non-empty token resolves to outside test mode.
const DefaultUserEmail = "test@example.com"

var ErrEmptyToken = errors.New("token is empty")

// BearerToken extracts the token from an "Authorization: Bearer <token>" header.
// The scheme is case-insensitive (RFC 7235). It returns "" when there is none.
func BearerToken(r *http.Request) string {
	fields := strings.Fields(r.Header.Get("Authorization"))
	if len(fields) < 2 || !strings.EqualFold(fields[0], "Bearer") {
		return ""
	}
	return strings.Join(fields[1:], " ")
}

// RequireAuth rejects requests without a valid bearer token and stores the
// user's email in the request context for downstream handlers.
func RequireAuth(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		token := BearerToken(r)
		if token == "" {
			log.Println("Auth: Missing or malformed Authorization header")
			http.Error(w, "Unauthorized", http.StatusUnauthorized)
			return
		}

		userEmail, err := ValidateToken(token)
		if err != nil {
			log.Printf("Auth: Token validation failed: %v", err)
			http.Error(w, "Unauthorized", http.StatusUnauthorized)
			return
		}

		ctx := context.WithValue(r.Context(), UserEmailKey, userEmail)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// GetUserEmailFromContext returns the user email from the context.
func GetUserEmailFromContext(ctx context.Context) (string, bool) {
	email, ok := ctx.Value(UserEmailKey).(string)
	return email, ok
}

// ValidateToken returns the user's email for a token.
// With MAILSYNC_TEST_MODE=true, a token like "email:user@example.com" resolves to that email,
// which lets end-to-end tests act as several users.
func ValidateToken(token string) (string, error) {
	token = strings.TrimSpace(token)
	if token == "" || token == "email:" {
		return "", ErrEmptyToken
	}

	if os.Getenv("MAILSYNC_TEST_MODE") == "true" {
		if email, ok := strings.CutPrefix(token, "email:"); ok {
			return email, nil
		}
	}

	return DefaultUserEmail, nil
}
