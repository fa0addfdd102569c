package devserver

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"storefront/internal/models"

	"github.com/jmoiron/sqlx"
	_ "github.com/lib/pq"
)

// PGStore is a Postgres-backed Store for durable dev environments.
// Schema: users, products, cart_items, orders, order_items, payments.
// Order items carry a snapshot of the product (name, price) so later
// catalog changes do not rewrite history.
type PGStore struct {
	db *sqlx.DB
}

// NewPGStore connects to Postgres and verifies the connection.
func NewPGStore(databaseURL string) (*PGStore, error) {
	db, err := sqlx.Connect("postgres", databaseURL)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	db.SetMaxOpenConns(25)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(5 * time.Minute)

	if err := db.Ping(); err != nil {
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	return &PGStore{db: db}, nil
}

// Close closes the database connection.
func (s *PGStore) Close() error {
	return s.db.Close()
}

type userRow struct {
	ID           int64  `db:"id"`
	Name         string `db:"name"`
	Email        string `db:"email"`
	PasswordHash string `db:"password_hash"`
}

func (r userRow) record() *UserRecord {
	return &UserRecord{
		User:         models.User{ID: r.ID, Name: r.Name, Email: r.Email},
		PasswordHash: r.PasswordHash,
	}
}

func (s *PGStore) CreateUser(ctx context.Context, name, email, passwordHash string) (*UserRecord, error) {
	var row userRow
	err := s.db.GetContext(ctx, &row, `
		INSERT INTO users (name, email, password_hash)
		VALUES ($1, $2, $3)
		ON CONFLICT (email) DO NOTHING
		RETURNING id, name, email, password_hash`,
		name, email, passwordHash)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrDuplicateEmail
	}
	if err != nil {
		return nil, err
	}
	return row.record(), nil
}

func (s *PGStore) GetUserByEmail(ctx context.Context, email string) (*UserRecord, error) {
	var row userRow
	err := s.db.GetContext(ctx, &row,
		"SELECT id, name, email, password_hash FROM users WHERE email = $1", email)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return row.record(), nil
}

func (s *PGStore) GetUserByID(ctx context.Context, id int64) (*UserRecord, error) {
	var row userRow
	err := s.db.GetContext(ctx, &row,
		"SELECT id, name, email, password_hash FROM users WHERE id = $1", id)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return row.record(), nil
}

func (s *PGStore) UpdateUser(ctx context.Context, id int64, name, email string) (*UserRecord, error) {
	var row userRow
	err := s.db.GetContext(ctx, &row, `
		UPDATE users SET name = $1, email = $2
		WHERE id = $3
		RETURNING id, name, email, password_hash`,
		name, email, id)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return row.record(), nil
}

func (s *PGStore) UpdatePassword(ctx context.Context, id int64, passwordHash string) error {
	res, err := s.db.ExecContext(ctx,
		"UPDATE users SET password_hash = $1 WHERE id = $2", passwordHash, id)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

type productRow struct {
	ID          int64   `db:"id"`
	Name        string  `db:"name"`
	Description string  `db:"description"`
	Price       float64 `db:"price"`
	Stock       int     `db:"stock"`
	ImageURL    string  `db:"image_url"`
}

func (r productRow) product() models.Product {
	return models.Product{
		ID:          r.ID,
		Name:        r.Name,
		Description: r.Description,
		Price:       r.Price,
		Stock:       r.Stock,
		ImageURL:    r.ImageURL,
	}
}

func (s *PGStore) ListProducts(ctx context.Context) ([]models.Product, error) {
	var rows []productRow
	err := s.db.SelectContext(ctx, &rows,
		"SELECT id, name, description, price, stock, image_url FROM products ORDER BY id")
	if err != nil {
		return nil, err
	}
	products := make([]models.Product, len(rows))
	for i, r := range rows {
		products[i] = r.product()
	}
	return products, nil
}

func (s *PGStore) GetProduct(ctx context.Context, id int64) (*models.Product, error) {
	var row productRow
	err := s.db.GetContext(ctx, &row,
		"SELECT id, name, description, price, stock, image_url FROM products WHERE id = $1", id)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	p := row.product()
	return &p, nil
}

func (s *PGStore) GetCart(ctx context.Context, userID int64) (*models.Cart, error) {
	var rows []struct {
		ItemID      int64   `db:"item_id"`
		Quantity    int     `db:"quantity"`
		ProductID   int64   `db:"product_id"`
		Name        string  `db:"name"`
		Description string  `db:"description"`
		Price       float64 `db:"price"`
		Stock       int     `db:"stock"`
		ImageURL    string  `db:"image_url"`
	}
	err := s.db.SelectContext(ctx, &rows, `
		SELECT ci.id AS item_id, ci.quantity,
		       p.id AS product_id, p.name, p.description, p.price, p.stock, p.image_url
		FROM cart_items ci
		JOIN products p ON p.id = ci.product_id
		WHERE ci.user_id = $1
		ORDER BY ci.id`, userID)
	if err != nil {
		return nil, err
	}

	cart := &models.Cart{}
	for _, r := range rows {
		cart.Items = append(cart.Items, models.CartItem{
			ID: r.ItemID,
			Product: models.Product{
				ID:          r.ProductID,
				Name:        r.Name,
				Description: r.Description,
				Price:       r.Price,
				Stock:       r.Stock,
				ImageURL:    r.ImageURL,
			},
			Quantity: r.Quantity,
		})
	}
	return cart, nil
}

func (s *PGStore) AddCartItem(ctx context.Context, userID, productID int64, quantity int) error {
	if _, err := s.GetProduct(ctx, productID); err != nil {
		return err
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO cart_items (user_id, product_id, quantity)
		VALUES ($1, $2, $3)
		ON CONFLICT (user_id, product_id)
		DO UPDATE SET quantity = cart_items.quantity + EXCLUDED.quantity`,
		userID, productID, quantity)
	return err
}

func (s *PGStore) UpdateCartItem(ctx context.Context, userID, itemID int64, quantity int) error {
	res, err := s.db.ExecContext(ctx,
		"UPDATE cart_items SET quantity = $1 WHERE id = $2 AND user_id = $3",
		quantity, itemID, userID)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *PGStore) RemoveCartItem(ctx context.Context, userID, itemID int64) error {
	res, err := s.db.ExecContext(ctx,
		"DELETE FROM cart_items WHERE id = $1 AND user_id = $2", itemID, userID)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *PGStore) ClearCart(ctx context.Context, userID int64) error {
	_, err := s.db.ExecContext(ctx, "DELETE FROM cart_items WHERE user_id = $1", userID)
	return err
}

func (s *PGStore) CreateOrderFromCart(ctx context.Context, userID int64, idempotencyKey string) (*models.Order, error) {
	if idempotencyKey != "" {
		var orderID int64
		err := s.db.GetContext(ctx, &orderID,
			"SELECT id FROM orders WHERE idempotency_key = $1 AND user_id = $2",
			idempotencyKey, userID)
		if err == nil {
			return s.getOrder(ctx, userID, orderID)
		}
		if !errors.Is(err, sql.ErrNoRows) {
			return nil, err
		}
	}

	cart, err := s.GetCart(ctx, userID)
	if err != nil {
		return nil, err
	}
	if cart.IsEmpty() {
		return nil, ErrEmptyCart
	}

	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return nil, err
	}
	defer tx.Rollback()

	subtotal := cart.Subtotal()
	total := subtotal + subtotal*models.TaxRate

	var orderID int64
	err = tx.GetContext(ctx, &orderID, `
		INSERT INTO orders (user_id, total_amount, status, idempotency_key)
		VALUES ($1, $2, $3, NULLIF($4, ''))
		RETURNING id`,
		userID, total, string(models.OrderStatusPending), idempotencyKey)
	if err != nil {
		return nil, fmt.Errorf("failed to create order: %w", err)
	}

	for _, line := range cart.Items {
		_, err = tx.ExecContext(ctx, `
			INSERT INTO order_items (order_id, product_id, product_name, quantity, price)
			VALUES ($1, $2, $3, $4, $5)`,
			orderID, line.Product.ID, line.Product.Name, line.Quantity, line.Product.Price)
		if err != nil {
			return nil, fmt.Errorf("failed to create order item: %w", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return nil, err
	}
	return s.getOrder(ctx, userID, orderID)
}

type orderRow struct {
	ID          int64     `db:"id"`
	UserID      int64     `db:"user_id"`
	TotalAmount float64   `db:"total_amount"`
	Status      string    `db:"status"`
	CreatedAt   time.Time `db:"created_at"`
}

type orderItemRow struct {
	ID          int64   `db:"id"`
	ProductID   int64   `db:"product_id"`
	ProductName string  `db:"product_name"`
	Quantity    int     `db:"quantity"`
	Price       float64 `db:"price"`
}

func (s *PGStore) orderFromRow(ctx context.Context, row orderRow) (*models.Order, error) {
	status, err := models.ParseOrderStatus(row.Status)
	if err != nil {
		return nil, err
	}
	order := &models.Order{
		ID:          row.ID,
		TotalAmount: row.TotalAmount,
		Status:      status,
		CreatedAt:   row.CreatedAt,
	}

	var items []orderItemRow
	err = s.db.SelectContext(ctx, &items, `
		SELECT id, product_id, product_name, quantity, price
		FROM order_items WHERE order_id = $1 ORDER BY id`, row.ID)
	if err != nil {
		return nil, err
	}
	for _, it := range items {
		order.Items = append(order.Items, models.OrderItem{
			ID:       it.ID,
			Product:  models.Product{ID: it.ProductID, Name: it.ProductName, Price: it.Price},
			Quantity: it.Quantity,
			Price:    it.Price,
		})
	}
	return order, nil
}

func (s *PGStore) getOrder(ctx context.Context, userID, orderID int64) (*models.Order, error) {
	var row orderRow
	err := s.db.GetContext(ctx, &row, `
		SELECT id, user_id, total_amount, status, created_at
		FROM orders WHERE id = $1 AND user_id = $2`, orderID, userID)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return s.orderFromRow(ctx, row)
}

func (s *PGStore) ListOrders(ctx context.Context, userID int64) ([]models.Order, error) {
	var rows []orderRow
	err := s.db.SelectContext(ctx, &rows, `
		SELECT id, user_id, total_amount, status, created_at
		FROM orders WHERE user_id = $1 ORDER BY created_at DESC`, userID)
	if err != nil {
		return nil, err
	}
	orders := make([]models.Order, 0, len(rows))
	for _, row := range rows {
		order, err := s.orderFromRow(ctx, row)
		if err != nil {
			return nil, err
		}
		orders = append(orders, *order)
	}
	return orders, nil
}

func (s *PGStore) GetOrder(ctx context.Context, userID, orderID int64) (*models.Order, error) {
	return s.getOrder(ctx, userID, orderID)
}

func (s *PGStore) CancelOrder(ctx context.Context, userID, orderID int64) (*models.Order, error) {
	order, err := s.getOrder(ctx, userID, orderID)
	if err != nil {
		return nil, err
	}
	if !order.Status.Cancellable() {
		return nil, ErrNotCancellable
	}
	_, err = s.db.ExecContext(ctx,
		"UPDATE orders SET status = $1 WHERE id = $2",
		string(models.OrderStatusCancelled), orderID)
	if err != nil {
		return nil, err
	}
	order.Status = models.OrderStatusCancelled
	return order, nil
}

type paymentRow struct {
	ID      int64          `db:"id"`
	OrderID int64          `db:"order_id"`
	Amount  float64        `db:"amount"`
	Status  string         `db:"status"`
	TxID    sql.NullString `db:"tx_id"`
}

func (r paymentRow) payment() *models.Payment {
	return &models.Payment{
		ID:      r.ID,
		OrderID: r.OrderID,
		Amount:  r.Amount,
		Status:  r.Status,
		TxID:    r.TxID.String,
	}
}

func (s *PGStore) CreatePayment(ctx context.Context, userID, orderID int64, amount float64) (*models.Payment, error) {
	order, err := s.getOrder(ctx, userID, orderID)
	if err != nil {
		return nil, err
	}
	if diff := order.TotalAmount - amount; diff > 0.01 || diff < -0.01 {
		return nil, ErrAmountMismatch
	}

	var existing paymentRow
	err = s.db.GetContext(ctx, &existing, `
		SELECT id, order_id, amount, status, tx_id
		FROM payments WHERE order_id = $1 ORDER BY id DESC LIMIT 1`, orderID)
	if err == nil && existing.Status == models.PaymentStatusSuccess {
		return nil, ErrPaymentSettled
	}
	if err != nil && !errors.Is(err, sql.ErrNoRows) {
		return nil, err
	}

	var row paymentRow
	err = s.db.GetContext(ctx, &row, `
		INSERT INTO payments (order_id, amount, status)
		VALUES ($1, $2, $3)
		RETURNING id, order_id, amount, status, tx_id`,
		orderID, amount, models.PaymentStatusPending)
	if err != nil {
		return nil, err
	}
	return row.payment(), nil
}

func (s *PGStore) CompletePayment(ctx context.Context, userID, orderID int64, txID string) (*models.Payment, error) {
	if _, err := s.getOrder(ctx, userID, orderID); err != nil {
		return nil, err
	}

	var row paymentRow
	err := s.db.GetContext(ctx, &row, `
		SELECT id, order_id, amount, status, tx_id
		FROM payments WHERE order_id = $1 ORDER BY id DESC LIMIT 1`, orderID)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNoPendingPaying
	}
	if err != nil {
		return nil, err
	}
	if row.Status == models.PaymentStatusSuccess {
		return nil, ErrPaymentSettled
	}

	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return nil, err
	}
	defer tx.Rollback()

	_, err = tx.ExecContext(ctx,
		"UPDATE payments SET status = $1, tx_id = $2 WHERE id = $3",
		models.PaymentStatusSuccess, txID, row.ID)
	if err != nil {
		return nil, err
	}
	_, err = tx.ExecContext(ctx,
		"UPDATE orders SET status = $1 WHERE id = $2",
		string(models.OrderStatusPaid), orderID)
	if err != nil {
		return nil, err
	}
	if err := tx.Commit(); err != nil {
		return nil, err
	}

	row.Status = models.PaymentStatusSuccess
	row.TxID = sql.NullString{String: txID, Valid: true}
	return row.payment(), nil
}
