package store

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/safar/go-checkout/internal/database"
	"github.com/safar/go-checkout/internal/models"
)

func CreateCoupon(ctx context.Context, db *sql.DB, c *models.Coupon) (*models.Coupon, error) {
	created := &models.Coupon{}

	query := `
		INSERT INTO coupons (code, type, value, minimum_order, expires_at, usage_count, max_usage, active, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, 0, $6, $7, NOW(), NOW())
		RETURNING id, code, type, value, minimum_order, expires_at, usage_count, max_usage, active, created_at, updated_at`

	err := db.QueryRowContext(ctx, query,
		c.Code, c.Type, c.Value, c.MinimumOrder, c.ExpiresAt, c.MaxUsage, c.Active).Scan(
		&created.ID,
		&created.Code,
		&created.Type,
		&created.Value,
		&created.MinimumOrder,
		&created.ExpiresAt,
		&created.UsageCount,
		&created.MaxUsage,
		&created.Active,
		&created.CreatedAt,
		&created.UpdatedAt,
	)
	if err != nil {
		return nil, fmt.Errorf("create coupon: %w", err)
	}

	return created, nil
}

// LockCouponByCode reads the coupon under a row lock. The usage counter is
// mutated in the same transaction, so the row must stay locked until commit.
func LockCouponByCode(ctx context.Context, tx *sql.Tx, code string) (*models.Coupon, error) {
	coupon := &models.Coupon{}

	query := `
		SELECT id, code, type, value, minimum_order, expires_at, usage_count, max_usage, active, created_at, updated_at
		FROM coupons
		WHERE code = $1
		FOR UPDATE`

	err := tx.QueryRowContext(ctx, query, code).Scan(
		&coupon.ID,
		&coupon.Code,
		&coupon.Type,
		&coupon.Value,
		&coupon.MinimumOrder,
		&coupon.ExpiresAt,
		&coupon.UsageCount,
		&coupon.MaxUsage,
		&coupon.Active,
		&coupon.CreatedAt,
		&coupon.UpdatedAt,
	)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, database.ErrCouponNotFound
		}
		return nil, fmt.Errorf("lock coupon: %w", err)
	}

	return coupon, nil
}

func IncrementCouponUsage(ctx context.Context, tx *sql.Tx, couponID int64) error {
	result, err := tx.ExecContext(ctx,
		`UPDATE coupons
		 SET usage_count = usage_count + 1,
		     updated_at = NOW()
		 WHERE id = $1`,
		couponID)
	if err != nil {
		return fmt.Errorf("increment coupon usage: %w", err)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("get rows affected: %w", err)
	}
	if rowsAffected == 0 {
		return database.ErrCouponNotFound
	}
	return nil
}

func GetCoupon(ctx context.Context, db *sql.DB, id int64) (*models.Coupon, error) {
	coupon := &models.Coupon{}

	query := `
		SELECT id, code, type, value, minimum_order, expires_at, usage_count, max_usage, active, created_at, updated_at
		FROM coupons
		WHERE id = $1`

	err := db.QueryRowContext(ctx, query, id).Scan(
		&coupon.ID,
		&coupon.Code,
		&coupon.Type,
		&coupon.Value,
		&coupon.MinimumOrder,
		&coupon.ExpiresAt,
		&coupon.UsageCount,
		&coupon.MaxUsage,
		&coupon.Active,
		&coupon.CreatedAt,
		&coupon.UpdatedAt,
	)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, database.ErrCouponNotFound
		}
		return nil, fmt.Errorf("get coupon: %w", err)
	}

	return coupon, nil
}
