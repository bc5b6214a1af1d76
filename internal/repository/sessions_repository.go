package repository

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/retailiq/hub/internal/huberrors"
	"github.com/retailiq/hub/internal/models"
)

// SessionsRepository reads sessions written by the auth provider.
type SessionsRepository struct {
	db *pgxpool.Pool
}

// NewSessionsRepository creates a new sessions repository.
func NewSessionsRepository(db *pgxpool.Pool) *SessionsRepository {
	return &SessionsRepository{db: db}
}

// GetByToken returns the session with the given token.
func (r *SessionsRepository) GetByToken(ctx context.Context, token string) (*models.Session, error) {
	var s models.Session

	err := r.db.QueryRow(ctx, `
		SELECT id, token, user_id, expires_at
		FROM session
		WHERE token = $1`, token,
	).Scan(&s.ID, &s.Token, &s.UserID, &s.ExpiresAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, huberrors.NewNotFoundError("session", "session not found")
		}
		return nil, fmt.Errorf("failed to get session: %w", err)
	}

	return &s, nil
}
