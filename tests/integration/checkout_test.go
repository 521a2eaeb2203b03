package integration

import (
	"context"
	"database/sql"
	"errors"
	"sync"
	"testing"

	"github.com/safar/go-checkout/internal/checkout"
	"github.com/safar/go-checkout/internal/models"
	"github.com/safar/go-checkout/internal/store"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

type captureNotifier struct {
	mu     sync.Mutex
	events []string
	orders []int64
	err    error
}

func (n *captureNotifier) Notify(_ context.Context, event string, orderID int64) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	if n.err != nil {
		return n.err
	}
	n.events = append(n.events, event)
	n.orders = append(n.orders, orderID)
	return nil
}

func newService(db *sql.DB, notifier checkout.Notifier) *checkout.Service {
	return checkout.NewService(db, zap.NewNop(), notifier, nil)
}

func mustCreateUser(t *testing.T, db *sql.DB, email string) *models.User {
	t.Helper()
	user, err := store.CreateUser(context.Background(), db, email, "Test User")
	if err != nil {
		t.Fatalf("Create user: %v", err)
	}
	return user
}

func mustCreateProduct(t *testing.T, db *sql.DB, sku, price string, stock int) *models.Product {
	t.Helper()
	product, err := store.CreateProduct(context.Background(), db, sku, "Product "+sku, "Test",
		decimal.RequireFromString(price), stock)
	if err != nil {
		t.Fatalf("Create product %s: %v", sku, err)
	}
	return product
}

func mustCreateCoupon(t *testing.T, db *sql.DB, c *models.Coupon) *models.Coupon {
	t.Helper()
	coupon, err := store.CreateCoupon(context.Background(), db, c)
	if err != nil {
		t.Fatalf("Create coupon %s: %v", c.Code, err)
	}
	return coupon
}

func requireTyped(t *testing.T, err error, kind checkout.Kind, reason string) {
	t.Helper()
	typed, ok := checkout.AsError(err)
	if !ok {
		t.Fatalf("Expected typed checkout error, got: %v", err)
	}
	if typed.Kind != kind {
		t.Errorf("Expected kind %s, got %s (%v)", kind, typed.Kind, err)
	}
	if reason != "" && typed.Reason != reason {
		t.Errorf("Expected reason %s, got %s (%v)", reason, typed.Reason, err)
	}
}

func countRows(t *testing.T, db *sql.DB, table string) int {
	t.Helper()
	var n int
	if err := db.QueryRow("SELECT COUNT(*) FROM " + table).Scan(&n); err != nil {
		t.Fatalf("Count %s: %v", table, err)
	}
	return n
}

func TestCheckoutNoCoupon(t *testing.T) {
	db, cleanup := setupTestDB(t)
	defer cleanup()
	ctx := context.Background()

	user := mustCreateUser(t, db, "a@example.com")
	p1 := mustCreateProduct(t, db, "CHK-001", "10.50", 50)
	p2 := mustCreateProduct(t, db, "CHK-002", "20.00", 30)

	notifier := &captureNotifier{}
	svc := newService(db, notifier)

	result, err := svc.Checkout(ctx, user.ID, checkout.Request{
		PaymentMethod: "card",
		Lines: []checkout.LineRequest{
			{ProductID: p1.ID, Quantity: 2},
			{ProductID: p2.ID, Quantity: 1},
		},
	})
	if err != nil {
		t.Fatalf("Checkout: %v", err)
	}

	if !result.Subtotal.Equal(decimal.RequireFromString("41.00")) {
		t.Errorf("Expected subtotal 41.00, got %s", result.Subtotal)
	}
	if !result.Discount.IsZero() {
		t.Errorf("Expected zero discount, got %s", result.Discount)
	}
	if !result.Total.Equal(decimal.RequireFromString("41.00")) {
		t.Errorf("Expected total 41.00, got %s", result.Total)
	}
	if result.AppliedCoupon != nil {
		t.Errorf("Expected no applied coupon, got %+v", result.AppliedCoupon)
	}

	order, err := store.GetOrder(ctx, db, result.OrderID)
	if err != nil {
		t.Fatalf("Get order: %v", err)
	}
	if len(order.Lines) != 2 {
		t.Fatalf("Expected 2 order lines, got %d", len(order.Lines))
	}
	if !order.TotalAmount.Equal(result.Total) {
		t.Errorf("Persisted total %s != returned total %s", order.TotalAmount, result.Total)
	}
	if !order.Lines[0].UnitPrice.Equal(decimal.RequireFromString("10.50")) {
		t.Errorf("Expected snapshot unit price 10.50, got %s", order.Lines[0].UnitPrice)
	}
	if order.FinancialStatus != models.FinancialStatusPending {
		t.Errorf("Expected pending financial status, got %s", order.FinancialStatus)
	}

	p1After, _ := store.GetProduct(ctx, db, p1.ID)
	if p1After.StockQuantity != 48 {
		t.Errorf("Expected product 1 stock 48, got %d", p1After.StockQuantity)
	}
	p2After, _ := store.GetProduct(ctx, db, p2.ID)
	if p2After.StockQuantity != 29 {
		t.Errorf("Expected product 2 stock 29, got %d", p2After.StockQuantity)
	}

	if len(notifier.events) != 1 || notifier.events[0] != checkout.EventOrderCreated {
		t.Errorf("Expected one order.created event, got %v", notifier.events)
	}
	if len(notifier.orders) != 1 || notifier.orders[0] != result.OrderID {
		t.Errorf("Expected event for order %d, got %v", result.OrderID, notifier.orders)
	}
}

func TestCheckoutPercentageCoupon(t *testing.T) {
	db, cleanup := setupTestDB(t)
	defer cleanup()
	ctx := context.Background()

	user := mustCreateUser(t, db, "b@example.com")
	product := mustCreateProduct(t, db, "CHK-010", "50.00", 10)
	coupon := mustCreateCoupon(t, db, &models.Coupon{
		Code:   "TEN",
		Type:   models.CouponTypePercentage,
		Value:  decimal.NewFromInt(10),
		Active: true,
	})

	svc := newService(db, &captureNotifier{})

	result, err := svc.Checkout(ctx, user.ID, checkout.Request{
		PaymentMethod: "card",
		Lines:         []checkout.LineRequest{{ProductID: product.ID, Quantity: 2}},
		CouponCode:    "TEN",
	})
	if err != nil {
		t.Fatalf("Checkout: %v", err)
	}

	if !result.Subtotal.Equal(decimal.RequireFromString("100.00")) {
		t.Errorf("Expected subtotal 100.00, got %s", result.Subtotal)
	}
	if !result.Discount.Equal(decimal.RequireFromString("10.00")) {
		t.Errorf("Expected discount 10.00, got %s", result.Discount)
	}
	if !result.Total.Equal(decimal.RequireFromString("90.00")) {
		t.Errorf("Expected total 90.00, got %s", result.Total)
	}
	if result.AppliedCoupon == nil || result.AppliedCoupon.Code != "TEN" {
		t.Fatalf("Expected applied coupon TEN, got %+v", result.AppliedCoupon)
	}

	after, err := store.GetCoupon(ctx, db, coupon.ID)
	if err != nil {
		t.Fatalf("Get coupon: %v", err)
	}
	if after.UsageCount != 1 {
		t.Errorf("Expected usage count 1, got %d", after.UsageCount)
	}
}

func TestCheckoutFixedCouponClampedToSubtotal(t *testing.T) {
	db, cleanup := setupTestDB(t)
	defer cleanup()
	ctx := context.Background()

	user := mustCreateUser(t, db, "clamp@example.com")
	product := mustCreateProduct(t, db, "CHK-011", "30.00", 10)
	mustCreateCoupon(t, db, &models.Coupon{
		Code:   "BIGFIXED",
		Type:   models.CouponTypeFixedAmount,
		Value:  decimal.NewFromInt(500),
		Active: true,
	})

	svc := newService(db, &captureNotifier{})

	result, err := svc.Checkout(ctx, user.ID, checkout.Request{
		PaymentMethod: "card",
		Lines:         []checkout.LineRequest{{ProductID: product.ID, Quantity: 1}},
		CouponCode:    "BIGFIXED",
	})
	if err != nil {
		t.Fatalf("Checkout: %v", err)
	}

	if !result.Discount.Equal(result.Subtotal) {
		t.Errorf("Expected discount clamped to subtotal %s, got %s", result.Subtotal, result.Discount)
	}
	if !result.Total.IsZero() {
		t.Errorf("Expected zero total, got %s", result.Total)
	}
}

func TestCheckoutCouponBelowMinimumOrder(t *testing.T) {
	db, cleanup := setupTestDB(t)
	defer cleanup()
	ctx := context.Background()

	user := mustCreateUser(t, db, "c@example.com")
	product := mustCreateProduct(t, db, "CHK-020", "50.00", 10)
	coupon := mustCreateCoupon(t, db, &models.Coupon{
		Code:         "MIN100",
		Type:         models.CouponTypePercentage,
		Value:        decimal.NewFromInt(10),
		MinimumOrder: decimal.NewFromInt(100),
		Active:       true,
	})

	svc := newService(db, &captureNotifier{})

	_, err := svc.Checkout(ctx, user.ID, checkout.Request{
		PaymentMethod: "card",
		Lines:         []checkout.LineRequest{{ProductID: product.ID, Quantity: 1}},
		CouponCode:    "MIN100",
	})
	requireTyped(t, err, checkout.KindValidation, "coupon_minimum_order")

	if n := countRows(t, db, "orders"); n != 0 {
		t.Errorf("Expected no persisted orders, got %d", n)
	}
	after, _ := store.GetProduct(ctx, db, product.ID)
	if after.StockQuantity != 10 {
		t.Errorf("Expected stock unchanged at 10, got %d", after.StockQuantity)
	}
	couponAfter, _ := store.GetCoupon(ctx, db, coupon.ID)
	if couponAfter.UsageCount != 0 {
		t.Errorf("Expected usage count unchanged at 0, got %d", couponAfter.UsageCount)
	}
}

func TestCheckoutInsufficientStock(t *testing.T) {
	db, cleanup := setupTestDB(t)
	defer cleanup()
	ctx := context.Background()

	user := mustCreateUser(t, db, "d@example.com")
	product := mustCreateProduct(t, db, "CHK-030", "10.00", 1)

	svc := newService(db, &captureNotifier{})

	_, err := svc.Checkout(ctx, user.ID, checkout.Request{
		PaymentMethod: "card",
		Lines:         []checkout.LineRequest{{ProductID: product.ID, Quantity: 2}},
	})
	requireTyped(t, err, checkout.KindValidation, "insufficient_stock")

	after, _ := store.GetProduct(ctx, db, product.ID)
	if after.StockQuantity != 1 {
		t.Errorf("Expected stock unchanged at 1, got %d", after.StockQuantity)
	}
	if n := countRows(t, db, "orders"); n != 0 {
		t.Errorf("Expected no persisted orders, got %d", n)
	}
	if n := countRows(t, db, "order_lines"); n != 0 {
		t.Errorf("Expected no persisted order lines, got %d", n)
	}
}

func TestCheckoutCouponUsageLimit(t *testing.T) {
	db, cleanup := setupTestDB(t)
	defer cleanup()
	ctx := context.Background()

	user := mustCreateUser(t, db, "e@example.com")
	product := mustCreateProduct(t, db, "CHK-040", "10.00", 10)
	coupon := mustCreateCoupon(t, db, &models.Coupon{
		Code:     "LIMITED",
		Type:     models.CouponTypeFixedAmount,
		Value:    decimal.NewFromInt(5),
		MaxUsage: intPtr(10),
		Active:   true,
	})
	if _, err := db.Exec("UPDATE coupons SET usage_count = 10 WHERE id = $1", coupon.ID); err != nil {
		t.Fatalf("Seed usage count: %v", err)
	}

	svc := newService(db, &captureNotifier{})

	_, err := svc.Checkout(ctx, user.ID, checkout.Request{
		PaymentMethod: "card",
		Lines:         []checkout.LineRequest{{ProductID: product.ID, Quantity: 1}},
		CouponCode:    "LIMITED",
	})
	requireTyped(t, err, checkout.KindValidation, "coupon_usage_limit")

	after, _ := store.GetCoupon(ctx, db, coupon.ID)
	if after.UsageCount != 10 {
		t.Errorf("Expected usage count to remain 10, got %d", after.UsageCount)
	}
}

func TestCheckoutUnknownProduct(t *testing.T) {
	db, cleanup := setupTestDB(t)
	defer cleanup()
	ctx := context.Background()

	user := mustCreateUser(t, db, "f@example.com")
	product := mustCreateProduct(t, db, "CHK-050", "10.00", 10)

	svc := newService(db, &captureNotifier{})

	_, err := svc.Checkout(ctx, user.ID, checkout.Request{
		PaymentMethod: "card",
		Lines: []checkout.LineRequest{
			{ProductID: product.ID, Quantity: 1},
			{ProductID: 99999, Quantity: 1},
		},
	})
	requireTyped(t, err, checkout.KindNotFound, "unknown_product")

	after, _ := store.GetProduct(ctx, db, product.ID)
	if after.StockQuantity != 10 {
		t.Errorf("Expected stock unchanged at 10 after rollback, got %d", after.StockQuantity)
	}
	if n := countRows(t, db, "orders"); n != 0 {
		t.Errorf("Expected no persisted orders after rollback, got %d", n)
	}
}

func TestCheckoutUnknownBuyer(t *testing.T) {
	db, cleanup := setupTestDB(t)
	defer cleanup()

	product := mustCreateProduct(t, db, "CHK-055", "10.00", 10)

	svc := newService(db, &captureNotifier{})

	_, err := svc.Checkout(context.Background(), 42424242, checkout.Request{
		PaymentMethod: "card",
		Lines:         []checkout.LineRequest{{ProductID: product.ID, Quantity: 1}},
	})
	requireTyped(t, err, checkout.KindAuth, "")
}

func TestConcurrentCheckoutsNeverOversell(t *testing.T) {
	db, cleanup := setupTestDB(t)
	defer cleanup()
	ctx := context.Background()

	user := mustCreateUser(t, db, "g@example.com")
	product := mustCreateProduct(t, db, "CHK-060", "10.00", 10)

	svc := newService(db, &captureNotifier{})

	concurrency := 10
	var wg sync.WaitGroup
	results := make(chan error, concurrency)

	for i := 0; i < concurrency; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := svc.Checkout(ctx, user.ID, checkout.Request{
				PaymentMethod: "card",
				Lines:         []checkout.LineRequest{{ProductID: product.ID, Quantity: 2}},
			})
			results <- err
		}()
	}

	wg.Wait()
	close(results)

	successCount := 0
	stockFailures := 0
	for err := range results {
		if err == nil {
			successCount++
			continue
		}
		if typed, ok := checkout.AsError(err); ok && typed.Reason == "insufficient_stock" {
			stockFailures++
			continue
		}
		t.Errorf("Unexpected error: %v", err)
	}

	if successCount != 5 {
		t.Errorf("Expected exactly 5 successful checkouts, got %d (stock failures: %d)", successCount, stockFailures)
	}

	after, _ := store.GetProduct(ctx, db, product.ID)
	expected := 10 - successCount*2
	if after.StockQuantity != expected {
		t.Errorf("Expected final stock %d, got %d", expected, after.StockQuantity)
	}
}

func TestCheckoutCartLifecycle(t *testing.T) {
	db, cleanup := setupTestDB(t)
	defer cleanup()
	ctx := context.Background()

	user := mustCreateUser(t, db, "h@example.com")
	product := mustCreateProduct(t, db, "CHK-070", "10.00", 10)

	cart, err := store.CreateCart(ctx, db, user.ID)
	if err != nil {
		t.Fatalf("Create cart: %v", err)
	}
	if _, err := store.CreateAbandonedRecord(ctx, db, cart.ID); err != nil {
		t.Fatalf("Create abandoned record: %v", err)
	}

	svc := newService(db, &captureNotifier{})

	if _, err := svc.Checkout(ctx, user.ID, checkout.Request{
		PaymentMethod: "card",
		Lines:         []checkout.LineRequest{{ProductID: product.ID, Quantity: 1}},
	}); err != nil {
		t.Fatalf("Checkout: %v", err)
	}

	record, err := store.GetAbandonedRecord(ctx, db, cart.ID)
	if err != nil {
		t.Fatalf("Get abandoned record: %v", err)
	}
	if !record.Recovered {
		t.Error("Expected abandoned cart record to be marked recovered")
	}

	cartAfter, err := store.GetCart(ctx, db, cart.ID)
	if err != nil {
		t.Fatalf("Get cart: %v", err)
	}
	if cartAfter.Status != models.CartStatusConverted {
		t.Errorf("Expected cart converted, got %s", cartAfter.Status)
	}
}

func TestCheckoutNotifierFailureDoesNotFailSale(t *testing.T) {
	db, cleanup := setupTestDB(t)
	defer cleanup()
	ctx := context.Background()

	user := mustCreateUser(t, db, "i@example.com")
	product := mustCreateProduct(t, db, "CHK-080", "10.00", 10)

	svc := newService(db, &captureNotifier{err: errors.New("broker unavailable")})

	result, err := svc.Checkout(ctx, user.ID, checkout.Request{
		PaymentMethod: "card",
		Lines:         []checkout.LineRequest{{ProductID: product.ID, Quantity: 1}},
	})
	if err != nil {
		t.Fatalf("Checkout should survive notifier failure: %v", err)
	}

	if _, err := store.GetOrder(ctx, db, result.OrderID); err != nil {
		t.Errorf("Order should be persisted despite notifier failure: %v", err)
	}
}

func TestCheckoutProfileUpdate(t *testing.T) {
	db, cleanup := setupTestDB(t)
	defer cleanup()
	ctx := context.Background()

	user := mustCreateUser(t, db, "j@example.com")
	product := mustCreateProduct(t, db, "CHK-090", "10.00", 10)

	svc := newService(db, &captureNotifier{})

	phone := "(11) 98765-4321"
	taxID := "123.456.789-00"
	if _, err := svc.Checkout(ctx, user.ID, checkout.Request{
		PaymentMethod: "card",
		Lines:         []checkout.LineRequest{{ProductID: product.ID, Quantity: 1}},
		Profile:       &checkout.ProfileFields{Phone: &phone, TaxID: &taxID},
	}); err != nil {
		t.Fatalf("Checkout: %v", err)
	}

	after, err := store.GetUser(ctx, db, user.ID)
	if err != nil {
		t.Fatalf("Get user: %v", err)
	}
	if after.Phone != "11987654321" {
		t.Errorf("Expected normalized phone 11987654321, got %q", after.Phone)
	}
	if after.TaxID != "12345678900" {
		t.Errorf("Expected normalized tax id 12345678900, got %q", after.TaxID)
	}
}

func TestCheckoutProfileUpdateFailureDoesNotFailSale(t *testing.T) {
	db, cleanup := setupTestDB(t)
	defer cleanup()
	ctx := context.Background()

	existing := mustCreateUser(t, db, "taken@example.com")
	user := mustCreateUser(t, db, "k@example.com")
	product := mustCreateProduct(t, db, "CHK-100", "10.00", 10)

	svc := newService(db, &captureNotifier{})

	// Updating to a taken email violates the unique constraint; the savepoint
	// confines the failure and the sale still commits.
	email := existing.Email
	result, err := svc.Checkout(ctx, user.ID, checkout.Request{
		PaymentMethod: "card",
		Lines:         []checkout.LineRequest{{ProductID: product.ID, Quantity: 1}},
		Profile:       &checkout.ProfileFields{Email: &email},
	})
	if err != nil {
		t.Fatalf("Checkout should survive profile update failure: %v", err)
	}

	if _, err := store.GetOrder(ctx, db, result.OrderID); err != nil {
		t.Errorf("Order should be persisted: %v", err)
	}
	after, _ := store.GetUser(ctx, db, user.ID)
	if after.Email != "k@example.com" {
		t.Errorf("Expected email unchanged, got %q", after.Email)
	}
}

func intPtr(v int) *int { return &v }
