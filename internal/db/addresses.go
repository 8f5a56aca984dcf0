package db

import (
	"context"
	"fmt"

	"github.com/vdavid/mailsync/internal/models"
)

// SaveAddress upserts an address for a connection and sets address.ID.
// The address must already be normalized. An empty name never overwrites a known one.
func SaveAddress(ctx context.Context, q DBTX, address *models.Address) error {
	err := q.QueryRow(ctx, `
		INSERT INTO addresses (connection_id, address, name)
		VALUES ($1, $2, $3)
		ON CONFLICT (connection_id, address) DO UPDATE SET
			name = CASE WHEN EXCLUDED.name <> '' THEN EXCLUDED.name ELSE addresses.name END
		RETURNING id, name
	`, address.ConnectionID, address.Address, address.Name).Scan(&address.ID, &address.Name)

	if err != nil {
		return fmt.Errorf("failed to save address: %w", err)
	}

	return nil
}

// CountAddresses returns how many addresses are stored for a connection.
func CountAddresses(ctx context.Context, q DBTX, connectionID string) (int, error) {
	var count int
	if err := q.QueryRow(ctx, `SELECT COUNT(*) FROM addresses WHERE connection_id = $1`, connectionID).Scan(&count); err != nil {
		return 0, fmt.Errorf("failed to count addresses: %w", err)
	}
	return count, nil
}
