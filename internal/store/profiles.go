package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"
)

// GetProfile returns the stored profile document for userID, or ErrNotFound.
func (s *SQLiteStore) GetProfile(ctx context.Context, userID string) ([]byte, error) {
	var data string
	err := s.db.QueryRowContext(ctx, "SELECT data FROM profiles WHERE user_id = ?", userID).Scan(&data)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("getting profile %q: %w", userID, err)
	}
	return []byte(data), nil
}

// PutProfile upserts the profile document for userID.
func (s *SQLiteStore) PutProfile(ctx context.Context, userID string, data []byte) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO profiles (user_id, data, updated_at) VALUES (?, ?, ?)
		 ON CONFLICT(user_id) DO UPDATE SET data = excluded.data, updated_at = excluded.updated_at`,
		userID, string(data), time.Now().UTC(),
	)
	if err != nil {
		return fmt.Errorf("saving profile %q: %w", userID, err)
	}
	return nil
}
