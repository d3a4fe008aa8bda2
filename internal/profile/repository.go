package profile

import (
	"context"
	"errors"
	"fmt"

	"github.com/startfirst/startfirst/internal/store"
)

// Repository loads and saves profiles.
type Repository interface {
	// Get returns the stored profile, or Default(userID) for unseen users.
	Get(ctx context.Context, userID string) (*Profile, error)
	Save(ctx context.Context, p *Profile) error
}

// profileStore is the slice of store.Store that profiles need.
type profileStore interface {
	GetProfile(ctx context.Context, userID string) ([]byte, error)
	PutProfile(ctx context.Context, userID string, data []byte) error
}

// SQLiteRepository keeps one JSON document per user in the profiles table.
type SQLiteRepository struct {
	store profileStore
}

// NewSQLiteRepository returns a repository backed by st.
func NewSQLiteRepository(st store.Store) *SQLiteRepository {
	return &SQLiteRepository{store: st}
}

func (r *SQLiteRepository) Get(ctx context.Context, userID string) (*Profile, error) {
	if userID == "" {
		userID = DefaultUserID
	}
	data, err := r.store.GetProfile(ctx, userID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return Default(userID), nil
		}
		return nil, fmt.Errorf("loading profile: %w", err)
	}
	p, err := Decode(data, userID)
	if err != nil {
		return nil, fmt.Errorf("decoding profile %q: %w", userID, err)
	}
	return p, nil
}

func (r *SQLiteRepository) Save(ctx context.Context, p *Profile) error {
	if p.UserID == "" {
		return fmt.Errorf("profile has no user_id")
	}
	if err := p.validate(); err != nil {
		return err
	}
	data, err := p.Encode()
	if err != nil {
		return fmt.Errorf("encoding profile: %w", err)
	}
	return r.store.PutProfile(ctx, p.UserID, data)
}
