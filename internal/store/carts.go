package store

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/safar/go-checkout/internal/database"
	"github.com/safar/go-checkout/internal/models"
)

// The checkout core only reads open carts and applies the two monotone
// transitions (open -> converted, unrecovered -> recovered). Both updates are
// written to be idempotent under retry.

func CreateCart(ctx context.Context, db *sql.DB, userID int64) (*models.Cart, error) {
	cart := &models.Cart{}

	query := `
		INSERT INTO carts (user_id, status, created_at, updated_at)
		VALUES ($1, $2, NOW(), NOW())
		RETURNING id, user_id, status, created_at, updated_at`

	err := db.QueryRowContext(ctx, query, userID, models.CartStatusOpen).Scan(
		&cart.ID,
		&cart.UserID,
		&cart.Status,
		&cart.CreatedAt,
		&cart.UpdatedAt,
	)
	if err != nil {
		return nil, fmt.Errorf("create cart: %w", err)
	}

	return cart, nil
}

// FindOpenCart returns the buyer's most recent open cart, or
// database.ErrCartNotFound when none exists.
func FindOpenCart(ctx context.Context, tx *sql.Tx, userID int64) (*models.Cart, error) {
	cart := &models.Cart{}

	query := `
		SELECT id, user_id, status, created_at, updated_at
		FROM carts
		WHERE user_id = $1 AND status = $2
		ORDER BY id DESC
		LIMIT 1`

	err := tx.QueryRowContext(ctx, query, userID, models.CartStatusOpen).Scan(
		&cart.ID,
		&cart.UserID,
		&cart.Status,
		&cart.CreatedAt,
		&cart.UpdatedAt,
	)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, database.ErrCartNotFound
		}
		return nil, fmt.Errorf("find open cart: %w", err)
	}

	return cart, nil
}

// MarkAbandonedRecovered flags the abandoned-cart record for the given cart
// as reclaimed. A cart with no record, or one already recovered, is not an
// error.
func MarkAbandonedRecovered(ctx context.Context, tx *sql.Tx, cartID int64) error {
	_, err := tx.ExecContext(ctx,
		`UPDATE abandoned_cart_records
		 SET recovered = TRUE,
		     updated_at = NOW()
		 WHERE cart_id = $1
		   AND recovered = FALSE`,
		cartID)
	if err != nil {
		return fmt.Errorf("mark abandoned cart recovered: %w", err)
	}
	return nil
}

// ConvertCart transitions an open cart to converted. Re-running the
// conversion on an already-converted cart is a no-op.
func ConvertCart(ctx context.Context, tx *sql.Tx, cartID int64) error {
	_, err := tx.ExecContext(ctx,
		`UPDATE carts
		 SET status = $1,
		     updated_at = NOW()
		 WHERE id = $2
		   AND status = $3`,
		models.CartStatusConverted, cartID, models.CartStatusOpen)
	if err != nil {
		return fmt.Errorf("convert cart: %w", err)
	}
	return nil
}

func CreateAbandonedRecord(ctx context.Context, db *sql.DB, cartID int64) (*models.AbandonedCartRecord, error) {
	record := &models.AbandonedCartRecord{}

	query := `
		INSERT INTO abandoned_cart_records (cart_id, recovered, updated_at)
		VALUES ($1, FALSE, NOW())
		RETURNING id, cart_id, recovered, updated_at`

	err := db.QueryRowContext(ctx, query, cartID).Scan(
		&record.ID,
		&record.CartID,
		&record.Recovered,
		&record.UpdatedAt,
	)
	if err != nil {
		return nil, fmt.Errorf("create abandoned cart record: %w", err)
	}

	return record, nil
}

func GetAbandonedRecord(ctx context.Context, db *sql.DB, cartID int64) (*models.AbandonedCartRecord, error) {
	record := &models.AbandonedCartRecord{}

	query := `
		SELECT id, cart_id, recovered, updated_at
		FROM abandoned_cart_records
		WHERE cart_id = $1`

	err := db.QueryRowContext(ctx, query, cartID).Scan(
		&record.ID,
		&record.CartID,
		&record.Recovered,
		&record.UpdatedAt,
	)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, database.ErrCartNotFound
		}
		return nil, fmt.Errorf("get abandoned cart record: %w", err)
	}

	return record, nil
}

func GetCart(ctx context.Context, db *sql.DB, id int64) (*models.Cart, error) {
	cart := &models.Cart{}

	query := `
		SELECT id, user_id, status, created_at, updated_at
		FROM carts
		WHERE id = $1`

	err := db.QueryRowContext(ctx, query, id).Scan(
		&cart.ID,
		&cart.UserID,
		&cart.Status,
		&cart.CreatedAt,
		&cart.UpdatedAt,
	)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, database.ErrCartNotFound
		}
		return nil, fmt.Errorf("get cart: %w", err)
	}

	return cart, nil
}
