package store

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	"github.com/safar/go-checkout/internal/database"
	"github.com/safar/go-checkout/internal/models"
)

func CreateUser(ctx context.Context, db *sql.DB, email, name string) (*models.User, error) {
	user := &models.User{}

	query := `
		INSERT INTO users (email, name, phone, tax_id, created_at, updated_at)
		VALUES ($1, $2, '', '', NOW(), NOW())
		RETURNING id, email, name, phone, tax_id, created_at, updated_at`

	err := db.QueryRowContext(ctx, query, email, name).Scan(
		&user.ID,
		&user.Email,
		&user.Name,
		&user.Phone,
		&user.TaxID,
		&user.CreatedAt,
		&user.UpdatedAt,
	)
	if err != nil {
		return nil, fmt.Errorf("create user: %w", err)
	}

	return user, nil
}

func GetUser(ctx context.Context, db *sql.DB, id int64) (*models.User, error) {
	user := &models.User{}

	query := `
		SELECT id, email, name, phone, tax_id, created_at, updated_at
		FROM users
		WHERE id = $1`

	err := db.QueryRowContext(ctx, query, id).Scan(
		&user.ID,
		&user.Email,
		&user.Name,
		&user.Phone,
		&user.TaxID,
		&user.CreatedAt,
		&user.UpdatedAt,
	)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, database.ErrUserNotFound
		}
		return nil, fmt.Errorf("get user: %w", err)
	}

	return user, nil
}

func UserExists(ctx context.Context, tx *sql.Tx, id int64) (bool, error) {
	var exists bool
	err := tx.QueryRowContext(ctx,
		"SELECT EXISTS(SELECT 1 FROM users WHERE id = $1)", id).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("check user exists: %w", err)
	}
	return exists, nil
}

// ProfileUpdate carries the optional fields a checkout may patch onto the
// buyer record. Nil fields are left untouched.
type ProfileUpdate struct {
	Name  *string
	Email *string
	Phone *string
	TaxID *string
}

func (p ProfileUpdate) isEmpty() bool {
	return p.Name == nil && p.Email == nil && p.Phone == nil && p.TaxID == nil
}

// DigitsOnly strips everything but ASCII digits. Phone numbers and tax ids
// are stored normalized this way.
func DigitsOnly(s string) string {
	var b strings.Builder
	b.Grow(len(s))
	for _, r := range s {
		if r >= '0' && r <= '9' {
			b.WriteRune(r)
		}
	}
	return b.String()
}

// UpdateProfile applies a partial field update to the buyer record. Phone and
// tax id are normalized to digits before being written.
func UpdateProfile(ctx context.Context, tx *sql.Tx, userID int64, update ProfileUpdate) error {
	if update.isEmpty() {
		return nil
	}

	sets := make([]string, 0, 4)
	args := make([]interface{}, 0, 5)

	addSet := func(column, value string) {
		args = append(args, value)
		sets = append(sets, fmt.Sprintf("%s = $%d", column, len(args)))
	}

	if update.Name != nil {
		addSet("name", *update.Name)
	}
	if update.Email != nil {
		addSet("email", *update.Email)
	}
	if update.Phone != nil {
		addSet("phone", DigitsOnly(*update.Phone))
	}
	if update.TaxID != nil {
		addSet("tax_id", DigitsOnly(*update.TaxID))
	}

	args = append(args, userID)
	query := fmt.Sprintf(
		"UPDATE users SET %s, updated_at = NOW() WHERE id = $%d",
		strings.Join(sets, ", "), len(args))

	result, err := tx.ExecContext(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("update profile: %w", err)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("get rows affected: %w", err)
	}
	if rowsAffected == 0 {
		return database.ErrUserNotFound
	}
	return nil
}
