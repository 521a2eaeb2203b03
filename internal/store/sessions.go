package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/safar/go-checkout/internal/database"
	"github.com/safar/go-checkout/internal/models"
)

func CreateSession(ctx context.Context, db *sql.DB, userID int64, ttl time.Duration) (*models.Session, error) {
	session := &models.Session{}

	query := `
		INSERT INTO sessions (user_id, token, expires_at, created_at)
		VALUES ($1, $2, $3, NOW())
		RETURNING id, user_id, token, expires_at, created_at`

	err := db.QueryRowContext(ctx, query, userID, uuid.NewString(), time.Now().Add(ttl)).Scan(
		&session.ID,
		&session.UserID,
		&session.Token,
		&session.ExpiresAt,
		&session.CreatedAt,
	)
	if err != nil {
		return nil, fmt.Errorf("create session: %w", err)
	}

	return session, nil
}

// ResolveSession maps a bearer token to a user id. Expired tokens behave as
// missing.
func ResolveSession(ctx context.Context, db *sql.DB, token string) (int64, error) {
	var userID int64

	query := `
		SELECT user_id
		FROM sessions
		WHERE token = $1
		  AND expires_at > NOW()`

	err := db.QueryRowContext(ctx, query, token).Scan(&userID)
	if err != nil {
		if err == sql.ErrNoRows {
			return 0, database.ErrSessionNotFound
		}
		return 0, fmt.Errorf("resolve session: %w", err)
	}

	return userID, nil
}
