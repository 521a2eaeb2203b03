package store

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/lib/pq"
	"github.com/safar/go-checkout/internal/database"
	"github.com/safar/go-checkout/internal/models"
	"github.com/shopspring/decimal"
)

func CreateProduct(ctx context.Context, db *sql.DB, sku, name, description string, price decimal.Decimal, stock int) (*models.Product, error) {
	product := &models.Product{}

	query := `
		INSERT INTO products (sku, name, description, price, stock_quantity, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, NOW(), NOW())
		RETURNING id, sku, name, description, price, stock_quantity, created_at, updated_at`

	err := db.QueryRowContext(ctx, query, sku, name, description, price, stock).Scan(
		&product.ID,
		&product.SKU,
		&product.Name,
		&product.Description,
		&product.Price,
		&product.StockQuantity,
		&product.CreatedAt,
		&product.UpdatedAt,
	)
	if err != nil {
		return nil, fmt.Errorf("create product: %w", err)
	}

	return product, nil
}

func GetProduct(ctx context.Context, db *sql.DB, id int64) (*models.Product, error) {
	product := &models.Product{}

	query := `
		SELECT id, sku, name, description, price, stock_quantity, created_at, updated_at
		FROM products
		WHERE id = $1`

	err := db.QueryRowContext(ctx, query, id).Scan(
		&product.ID,
		&product.SKU,
		&product.Name,
		&product.Description,
		&product.Price,
		&product.StockQuantity,
		&product.CreatedAt,
		&product.UpdatedAt,
	)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, database.ErrProductNotFound
		}
		return nil, fmt.Errorf("get product: %w", err)
	}

	return product, nil
}

// LockProducts takes row locks on the full requested id set in one statement,
// so two checkouts over overlapping sets cannot deadlock each other through
// partial, per-row acquisition. The returned snapshot is the sole basis for
// pricing and stock checks until the enclosing transaction ends.
//
// Ids absent from the result were not found; the caller decides whether that
// is fatal.
func LockProducts(ctx context.Context, tx *sql.Tx, ids []int64) (map[int64]models.ProductSnapshot, error) {
	query := `
		SELECT id, price, stock_quantity
		FROM products
		WHERE id = ANY($1)
		ORDER BY id
		FOR UPDATE`

	rows, err := tx.QueryContext(ctx, query, pq.Array(ids))
	if err != nil {
		return nil, fmt.Errorf("lock products: %w", err)
	}
	defer rows.Close()

	snapshot := make(map[int64]models.ProductSnapshot, len(ids))
	for rows.Next() {
		var s models.ProductSnapshot
		if err := rows.Scan(&s.ID, &s.Price, &s.StockQuantity); err != nil {
			return nil, fmt.Errorf("scan product snapshot: %w", err)
		}
		snapshot[s.ID] = s
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows error: %w", err)
	}

	return snapshot, nil
}

// DecrementStock applies a stock decrement the caller has already validated
// against a locked snapshot. The stock_quantity guard is kept as a final
// defense against writes outside the lock protocol.
func DecrementStock(ctx context.Context, tx *sql.Tx, productID int64, quantity int) error {
	result, err := tx.ExecContext(ctx,
		`UPDATE products
		 SET stock_quantity = stock_quantity - $1,
		     updated_at = NOW()
		 WHERE id = $2
		   AND stock_quantity >= $1`,
		quantity, productID)
	if err != nil {
		return fmt.Errorf("decrement stock: %w", err)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("get rows affected: %w", err)
	}

	if rowsAffected == 0 {
		return database.ErrInsufficientStock
	}

	return nil
}

func ListProducts(ctx context.Context, db *sql.DB, page, pageSize int) (*OffsetPage, error) {
	var total int64
	err := db.QueryRowContext(ctx, `SELECT COUNT(*) FROM products`).Scan(&total)
	if err != nil {
		return nil, fmt.Errorf("count products: %w", err)
	}

	offset := (page - 1) * pageSize
	query := `
		SELECT id, sku, name, description, price, stock_quantity, created_at, updated_at
		FROM products
		ORDER BY created_at DESC
		LIMIT $1 OFFSET $2`

	rows, err := db.QueryContext(ctx, query, pageSize, offset)
	if err != nil {
		return nil, fmt.Errorf("list products: %w", err)
	}
	defer rows.Close()

	var products []models.Product
	for rows.Next() {
		var product models.Product
		err := rows.Scan(
			&product.ID,
			&product.SKU,
			&product.Name,
			&product.Description,
			&product.Price,
			&product.StockQuantity,
			&product.CreatedAt,
			&product.UpdatedAt,
		)
		if err != nil {
			return nil, fmt.Errorf("scan product: %w", err)
		}
		products = append(products, product)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows error: %w", err)
	}

	totalPages := int(total) / pageSize
	if int(total)%pageSize > 0 {
		totalPages++
	}

	return &OffsetPage{
		Items:      products,
		Total:      total,
		Page:       page,
		PageSize:   pageSize,
		TotalPages: totalPages,
	}, nil
}
