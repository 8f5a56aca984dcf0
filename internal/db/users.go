package db

import (
	"context"
	"fmt"
	"strings"
)

// GetOrCreateUser returns the id of the user with the given email, creating the user if needed.
func GetOrCreateUser(ctx context.Context, q DBTX, email string) (string, error) {
	var userID string

	err := q.QueryRow(ctx, `
		INSERT INTO users (email)
		VALUES ($1)
		ON CONFLICT (email) DO UPDATE SET email = EXCLUDED.email
		RETURNING id
	`, strings.ToLower(strings.TrimSpace(email))).Scan(&userID)

	if err != nil {
		return "", fmt.Errorf("failed to get or create user: %w", err)
	}

	return userID, nil
}
