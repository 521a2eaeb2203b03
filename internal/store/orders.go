package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"

	"github.com/google/uuid"
	"github.com/safar/go-checkout/internal/database"
	"github.com/safar/go-checkout/internal/models"
	"github.com/shopspring/decimal"
)

func generateOrderNumber() string {
	return fmt.Sprintf("ORD-%s", uuid.NewString())
}

// InsertOrder creates the order header with a zero total. The total is
// patched by SetOrderTotal once every line has been priced from the locked
// snapshot.
func InsertOrder(ctx context.Context, tx *sql.Tx, userID int64, paymentMethod string, address json.RawMessage) (int64, error) {
	var orderID int64
	err := tx.QueryRowContext(ctx,
		`INSERT INTO orders (user_id, order_number, payment_method, address, financial_status, fulfillment_status, total_amount, created_at, updated_at)
		 VALUES ($1, $2, $3, $4, $5, $6, 0, NOW(), NOW())
		 RETURNING id`,
		userID, generateOrderNumber(), paymentMethod, address,
		models.FinancialStatusPending, models.FulfillmentStatusPending).Scan(&orderID)
	if err != nil {
		return 0, fmt.Errorf("insert order: %w", err)
	}
	return orderID, nil
}

// InsertOrderLine writes a line with the unit price copied verbatim from the
// locked snapshot. Historical lines are never repriced.
func InsertOrderLine(ctx context.Context, tx *sql.Tx, orderID, productID int64, quantity int, unitPrice decimal.Decimal) error {
	subtotal := unitPrice.Mul(decimal.NewFromInt(int64(quantity)))

	_, err := tx.ExecContext(ctx,
		`INSERT INTO order_lines (order_id, product_id, quantity, unit_price, subtotal, created_at)
		 VALUES ($1, $2, $3, $4, $5, NOW())`,
		orderID, productID, quantity, unitPrice, subtotal)
	if err != nil {
		return fmt.Errorf("insert order line: %w", err)
	}
	return nil
}

func SetOrderTotal(ctx context.Context, tx *sql.Tx, orderID int64, total decimal.Decimal) error {
	result, err := tx.ExecContext(ctx,
		`UPDATE orders SET total_amount = $1, updated_at = NOW() WHERE id = $2`,
		total, orderID)
	if err != nil {
		return fmt.Errorf("set order total: %w", err)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("get rows affected: %w", err)
	}
	if rowsAffected == 0 {
		return database.ErrOrderNotFound
	}
	return nil
}

func GetOrder(ctx context.Context, db *sql.DB, id int64) (*models.Order, error) {
	order := &models.Order{}

	query := `
		SELECT id, user_id, order_number, payment_method, address, financial_status, fulfillment_status, total_amount, created_at, updated_at
		FROM orders
		WHERE id = $1`

	err := db.QueryRowContext(ctx, query, id).Scan(
		&order.ID,
		&order.UserID,
		&order.OrderNumber,
		&order.PaymentMethod,
		&order.Address,
		&order.FinancialStatus,
		&order.FulfillmentStatus,
		&order.TotalAmount,
		&order.CreatedAt,
		&order.UpdatedAt,
	)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, database.ErrOrderNotFound
		}
		return nil, fmt.Errorf("get order: %w", err)
	}

	linesQuery := `
		SELECT id, order_id, product_id, quantity, unit_price, subtotal, created_at
		FROM order_lines
		WHERE order_id = $1
		ORDER BY id`

	rows, err := db.QueryContext(ctx, linesQuery, id)
	if err != nil {
		return nil, fmt.Errorf("get order lines: %w", err)
	}
	defer rows.Close()

	var lines []models.OrderLine
	for rows.Next() {
		var line models.OrderLine
		err := rows.Scan(
			&line.ID,
			&line.OrderID,
			&line.ProductID,
			&line.Quantity,
			&line.UnitPrice,
			&line.Subtotal,
			&line.CreatedAt,
		)
		if err != nil {
			return nil, fmt.Errorf("scan order line: %w", err)
		}
		lines = append(lines, line)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows error: %w", err)
	}

	order.Lines = lines

	return order, nil
}

func ListOrdersCursor(ctx context.Context, db *sql.DB, userID int64, cursor string, limit int) (*CursorPage, error) {
	cursorData, err := DecodeCursor(cursor)
	if err != nil {
		return nil, fmt.Errorf("decode cursor: %w", err)
	}

	query := `
		SELECT id, order_number, payment_method, financial_status, fulfillment_status, total_amount, created_at, updated_at
		FROM orders
		WHERE user_id = $1
		  AND (created_at, id) < ($2, $3)
		ORDER BY created_at DESC, id DESC
		LIMIT $4`

	rows, err := db.QueryContext(ctx, query, userID, cursorData.CreatedAt, cursorData.ID, limit+1)
	if err != nil {
		return nil, fmt.Errorf("list orders: %w", err)
	}
	defer rows.Close()

	var orders []models.Order
	for rows.Next() {
		var order models.Order
		err := rows.Scan(
			&order.ID,
			&order.OrderNumber,
			&order.PaymentMethod,
			&order.FinancialStatus,
			&order.FulfillmentStatus,
			&order.TotalAmount,
			&order.CreatedAt,
			&order.UpdatedAt,
		)
		if err != nil {
			return nil, fmt.Errorf("scan order: %w", err)
		}
		orders = append(orders, order)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows error: %w", err)
	}

	hasMore := len(orders) > limit
	if hasMore {
		orders = orders[:limit]
	}

	var nextCursor string
	if hasMore && len(orders) > 0 {
		lastOrder := orders[len(orders)-1]
		nextCursor = EncodeCursor(OrderCursor{
			CreatedAt: lastOrder.CreatedAt,
			ID:        lastOrder.ID,
		})
	}

	return &CursorPage{
		Items:      orders,
		NextCursor: nextCursor,
		HasMore:    hasMore,
	}, nil
}
