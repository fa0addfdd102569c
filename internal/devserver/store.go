package devserver

import (
	"context"
	"errors"
	"sort"
	"strconv"
	"sync"
	"time"

	"storefront/internal/models"
)

// Store errors, mapped to HTTP statuses by the handlers.
var (
	ErrNotFound        = errors.New("not found")
	ErrEmptyCart       = errors.New("cart is empty")
	ErrDuplicateEmail  = errors.New("email already registered")
	ErrNotCancellable  = errors.New("order can no longer be cancelled")
	ErrAmountMismatch  = errors.New("payment amount does not match order total")
	ErrPaymentSettled  = errors.New("payment already settled")
	ErrNoPendingPaying = errors.New("no pending payment for order")
)

// UserRecord is a stored user plus credentials.
type UserRecord struct {
	models.User
	PasswordHash string
}

// Store is the persistence boundary of the dev API server. The memory
// implementation backs tests and the default dev setup; the Postgres
// implementation backs durable local environments.
type Store interface {
	CreateUser(ctx context.Context, name, email, passwordHash string) (*UserRecord, error)
	GetUserByEmail(ctx context.Context, email string) (*UserRecord, error)
	GetUserByID(ctx context.Context, id int64) (*UserRecord, error)
	UpdateUser(ctx context.Context, id int64, name, email string) (*UserRecord, error)
	UpdatePassword(ctx context.Context, id int64, passwordHash string) error

	ListProducts(ctx context.Context) ([]models.Product, error)
	GetProduct(ctx context.Context, id int64) (*models.Product, error)

	GetCart(ctx context.Context, userID int64) (*models.Cart, error)
	AddCartItem(ctx context.Context, userID, productID int64, quantity int) error
	UpdateCartItem(ctx context.Context, userID, itemID int64, quantity int) error
	RemoveCartItem(ctx context.Context, userID, itemID int64) error
	ClearCart(ctx context.Context, userID int64) error

	// CreateOrderFromCart derives an order from the user's current
	// server-side cart, freezing each line's price at purchase time.
	// A repeated idempotency key from the same user returns the
	// originally created order; keys are scoped per user.
	CreateOrderFromCart(ctx context.Context, userID int64, idempotencyKey string) (*models.Order, error)
	ListOrders(ctx context.Context, userID int64) ([]models.Order, error)
	GetOrder(ctx context.Context, userID, orderID int64) (*models.Order, error)
	CancelOrder(ctx context.Context, userID, orderID int64) (*models.Order, error)

	CreatePayment(ctx context.Context, userID, orderID int64, amount float64) (*models.Payment, error)
	CompletePayment(ctx context.Context, userID, orderID int64, txID string) (*models.Payment, error)
}

// MemoryStore is a mutex-guarded in-memory Store with a seeded demo
// catalog.
type MemoryStore struct {
	mu sync.Mutex

	users      map[int64]*UserRecord
	byEmail    map[string]int64
	products   map[int64]models.Product
	carts      map[int64][]models.CartItem // user id -> lines
	orders     map[int64]*models.Order
	ordersBy   map[int64][]int64 // user id -> order ids
	orderIdem  map[string]int64
	orderOwner map[int64]int64
	payments   map[int64]*models.Payment // order id -> latest payment

	nextUser, nextItem, nextOrder, nextPayment, nextOrderItem int64
}

// NewMemoryStore creates an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		users:      make(map[int64]*UserRecord),
		byEmail:    make(map[string]int64),
		products:   make(map[int64]models.Product),
		carts:      make(map[int64][]models.CartItem),
		orders:     make(map[int64]*models.Order),
		ordersBy:   make(map[int64][]int64),
		orderIdem:  make(map[string]int64),
		orderOwner: make(map[int64]int64),
		payments:   make(map[int64]*models.Payment),
	}
}

// SeedDemoCatalog loads a small catalog for local development.
func (m *MemoryStore) SeedDemoCatalog() {
	m.SeedProducts([]models.Product{
		{ID: 1, Name: "Espresso Machine", Description: "15-bar pump espresso maker", Price: 249.99, Stock: 12},
		{ID: 2, Name: "Burr Grinder", Description: "Conical burr coffee grinder", Price: 89.50, Stock: 30},
		{ID: 3, Name: "Pour-over Kettle", Description: "Gooseneck kettle, 1L", Price: 42.00, Stock: 25},
		{ID: 4, Name: "Ceramic Mug Set", Description: "Set of four 350ml mugs", Price: 28.75, Stock: 40},
	})
}

// SeedProducts replaces the catalog.
func (m *MemoryStore) SeedProducts(products []models.Product) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.products = make(map[int64]models.Product, len(products))
	for _, p := range products {
		m.products[p.ID] = p
	}
}

func (m *MemoryStore) CreateUser(_ context.Context, name, email, passwordHash string) (*UserRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, exists := m.byEmail[email]; exists {
		return nil, ErrDuplicateEmail
	}
	m.nextUser++
	rec := &UserRecord{
		User:         models.User{ID: m.nextUser, Name: name, Email: email},
		PasswordHash: passwordHash,
	}
	m.users[rec.ID] = rec
	m.byEmail[email] = rec.ID
	return cloneUser(rec), nil
}

func (m *MemoryStore) GetUserByEmail(_ context.Context, email string) (*UserRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	id, ok := m.byEmail[email]
	if !ok {
		return nil, ErrNotFound
	}
	return cloneUser(m.users[id]), nil
}

func (m *MemoryStore) GetUserByID(_ context.Context, id int64) (*UserRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	rec, ok := m.users[id]
	if !ok {
		return nil, ErrNotFound
	}
	return cloneUser(rec), nil
}

func (m *MemoryStore) UpdateUser(_ context.Context, id int64, name, email string) (*UserRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	rec, ok := m.users[id]
	if !ok {
		return nil, ErrNotFound
	}
	if other, exists := m.byEmail[email]; exists && other != id {
		return nil, ErrDuplicateEmail
	}
	delete(m.byEmail, rec.Email)
	rec.Name = name
	rec.Email = email
	m.byEmail[email] = id
	return cloneUser(rec), nil
}

func (m *MemoryStore) UpdatePassword(_ context.Context, id int64, passwordHash string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	rec, ok := m.users[id]
	if !ok {
		return ErrNotFound
	}
	rec.PasswordHash = passwordHash
	return nil
}

func (m *MemoryStore) ListProducts(_ context.Context) ([]models.Product, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	products := make([]models.Product, 0, len(m.products))
	for _, p := range m.products {
		products = append(products, p)
	}
	sort.Slice(products, func(i, j int) bool { return products[i].ID < products[j].ID })
	return products, nil
}

func (m *MemoryStore) GetProduct(_ context.Context, id int64) (*models.Product, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	p, ok := m.products[id]
	if !ok {
		return nil, ErrNotFound
	}
	return &p, nil
}

func (m *MemoryStore) GetCart(_ context.Context, userID int64) (*models.Cart, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return &models.Cart{Items: append([]models.CartItem(nil), m.carts[userID]...)}, nil
}

func (m *MemoryStore) AddCartItem(_ context.Context, userID, productID int64, quantity int) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	product, ok := m.products[productID]
	if !ok {
		return ErrNotFound
	}
	lines := m.carts[userID]
	for i := range lines {
		if lines[i].Product.ID == productID {
			lines[i].Quantity += quantity
			return nil
		}
	}
	m.nextItem++
	m.carts[userID] = append(lines, models.CartItem{
		ID:       m.nextItem,
		Product:  product,
		Quantity: quantity,
	})
	return nil
}

func (m *MemoryStore) UpdateCartItem(_ context.Context, userID, itemID int64, quantity int) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	lines := m.carts[userID]
	for i := range lines {
		if lines[i].ID == itemID {
			lines[i].Quantity = quantity
			return nil
		}
	}
	return ErrNotFound
}

func (m *MemoryStore) RemoveCartItem(_ context.Context, userID, itemID int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	lines := m.carts[userID]
	for i := range lines {
		if lines[i].ID == itemID {
			m.carts[userID] = append(lines[:i], lines[i+1:]...)
			return nil
		}
	}
	return ErrNotFound
}

func (m *MemoryStore) ClearCart(_ context.Context, userID int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.carts, userID)
	return nil
}

func (m *MemoryStore) CreateOrderFromCart(_ context.Context, userID int64, idempotencyKey string) (*models.Order, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if idempotencyKey != "" {
		if orderID, ok := m.orderIdem[scopedIdemKey(userID, idempotencyKey)]; ok {
			return cloneOrder(m.orders[orderID]), nil
		}
	}

	lines := m.carts[userID]
	if len(lines) == 0 {
		return nil, ErrEmptyCart
	}

	m.nextOrder++
	order := &models.Order{
		ID:        m.nextOrder,
		Status:    models.OrderStatusPending,
		CreatedAt: time.Now().UTC(),
	}
	var subtotal float64
	for _, line := range lines {
		m.nextOrderItem++
		order.Items = append(order.Items, models.OrderItem{
			ID:       m.nextOrderItem,
			Product:  line.Product,
			Quantity: line.Quantity,
			Price:    line.Product.Price, // frozen at purchase time
		})
		subtotal += line.Product.Price * float64(line.Quantity)
	}
	order.TotalAmount = subtotal + subtotal*models.TaxRate

	m.orders[order.ID] = order
	m.ordersBy[userID] = append(m.ordersBy[userID], order.ID)
	m.orderOwner[order.ID] = userID
	if idempotencyKey != "" {
		m.orderIdem[scopedIdemKey(userID, idempotencyKey)] = order.ID
	}
	return cloneOrder(order), nil
}

// scopedIdemKey prefixes the key with the user id so a replayed key
// can never resolve to another user's order.
func scopedIdemKey(userID int64, key string) string {
	return strconv.FormatInt(userID, 10) + ":" + key
}

func (m *MemoryStore) ListOrders(_ context.Context, userID int64) ([]models.Order, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	ids := m.ordersBy[userID]
	orders := make([]models.Order, 0, len(ids))
	for i := len(ids) - 1; i >= 0; i-- { // newest first
		orders = append(orders, *cloneOrder(m.orders[ids[i]]))
	}
	return orders, nil
}

func (m *MemoryStore) GetOrder(_ context.Context, userID, orderID int64) (*models.Order, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.getOwnedOrder(userID, orderID)
}

func (m *MemoryStore) CancelOrder(_ context.Context, userID, orderID int64) (*models.Order, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, err := m.getOwnedOrder(userID, orderID); err != nil {
		return nil, err
	}
	order := m.orders[orderID]
	if !order.Status.Cancellable() {
		return nil, ErrNotCancellable
	}
	order.Status = models.OrderStatusCancelled
	return cloneOrder(order), nil
}

func (m *MemoryStore) CreatePayment(_ context.Context, userID, orderID int64, amount float64) (*models.Payment, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	order, err := m.getOwnedOrder(userID, orderID)
	if err != nil {
		return nil, err
	}
	if diff := order.TotalAmount - amount; diff > 0.01 || diff < -0.01 {
		return nil, ErrAmountMismatch
	}
	if existing := m.payments[orderID]; existing != nil && existing.Status == models.PaymentStatusSuccess {
		return nil, ErrPaymentSettled
	}
	m.nextPayment++
	payment := &models.Payment{
		ID:      m.nextPayment,
		OrderID: orderID,
		Amount:  amount,
		Status:  models.PaymentStatusPending,
	}
	m.payments[orderID] = payment
	return clonePayment(payment), nil
}

func (m *MemoryStore) CompletePayment(_ context.Context, userID, orderID int64, txID string) (*models.Payment, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, err := m.getOwnedOrder(userID, orderID); err != nil {
		return nil, err
	}
	payment := m.payments[orderID]
	if payment == nil {
		return nil, ErrNoPendingPaying
	}
	if payment.Status == models.PaymentStatusSuccess {
		return nil, ErrPaymentSettled
	}
	payment.Status = models.PaymentStatusSuccess
	payment.TxID = txID
	m.orders[orderID].Status = models.OrderStatusPaid
	return clonePayment(payment), nil
}

// getOwnedOrder requires m.mu held.
func (m *MemoryStore) getOwnedOrder(userID, orderID int64) (*models.Order, error) {
	owner, ok := m.orderOwner[orderID]
	if !ok || owner != userID {
		return nil, ErrNotFound
	}
	return cloneOrder(m.orders[orderID]), nil
}

func cloneUser(rec *UserRecord) *UserRecord {
	c := *rec
	return &c
}

func cloneOrder(order *models.Order) *models.Order {
	c := *order
	c.Items = append([]models.OrderItem(nil), order.Items...)
	return &c
}

func clonePayment(p *models.Payment) *models.Payment {
	c := *p
	return &c
}
