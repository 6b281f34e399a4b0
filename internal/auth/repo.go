package auth

import (
	"context"
	"database/sql"
	"errors"
	"time"
)

// ErrRefreshTokenInvalid is returned for unknown, revoked or expired
// refresh tokens.
var ErrRefreshTokenInvalid = errors.New("refresh token invalid")

// Repository persists scanner terminals and their refresh tokens.
type Repository struct {
	db *sql.DB
}

// NewRepository creates a terminal repository on db.
func NewRepository(db *sql.DB) *Repository {
	return &Repository{db: db}
}

// UpsertTerminal ensures a terminal record exists.
func (r *Repository) UpsertTerminal(ctx context.Context, terminalID string) error {
	if terminalID == "" {
		return errors.New("terminal id required")
	}
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO terminals (terminal_id)
		VALUES ($1)
		ON CONFLICT (terminal_id) DO NOTHING
	`, terminalID)
	return err
}

// SaveRefreshToken stores a refresh token for rotation checks.
func (r *Repository) SaveRefreshToken(ctx context.Context, terminalID, token string, expiresAt time.Time) error {
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO refresh_tokens (terminal_id, token, expires_at)
		VALUES ($1, $2, $3)
	`, terminalID, token, expiresAt)
	return err
}

// ConsumeRefreshToken revokes a live refresh token and returns the
// terminal it belongs to. Each token can be consumed once.
func (r *Repository) ConsumeRefreshToken(ctx context.Context, token string) (string, error) {
	var terminalID string
	err := r.db.QueryRowContext(ctx, `
		UPDATE refresh_tokens
		SET revoked = TRUE
		WHERE token = $1 AND NOT revoked AND expires_at > NOW()
		RETURNING terminal_id
	`, token).Scan(&terminalID)
	if errors.Is(err, sql.ErrNoRows) {
		return "", ErrRefreshTokenInvalid
	}
	return terminalID, err
}
