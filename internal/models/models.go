package models

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"
)

// TaxRate is the fixed tax rate applied to the cart subtotal.
const TaxRate = 0.18

// Product represents a catalog product as served by the backend.
// Products are fetched, never mutated by this client.
type Product struct {
	ID          int64   `json:"id"`
	Name        string  `json:"name"`
	Description string  `json:"description,omitempty"`
	Price       float64 `json:"price"`
	Stock       int     `json:"stock"`
	ImageURL    string  `json:"imageUrl,omitempty"`
}

// CartItem is one product/quantity pairing within a cart.
// Quantity is always >= 1; the client rejects decrements below 1
// before any request is made.
type CartItem struct {
	ID       int64   `json:"id"`
	Product  Product `json:"product"`
	Quantity int     `json:"quantity"`
}

// Total returns the line total (price x quantity).
func (ci CartItem) Total() float64 {
	return ci.Product.Price * float64(ci.Quantity)
}

// Cart is the backend-owned aggregate of the user's cart lines.
// The client holds a transient snapshot only and re-fetches after
// every mutation.
type Cart struct {
	Items []CartItem `json:"items"`
}

// IsEmpty reports whether the cart has no lines.
func (c Cart) IsEmpty() bool {
	return len(c.Items) == 0
}

// Subtotal is the sum of line totals over all cart lines.
func (c Cart) Subtotal() float64 {
	var total float64
	for _, item := range c.Items {
		total += item.Total()
	}
	return total
}

// Tax is the fixed-rate tax on the subtotal.
func (c Cart) Tax() float64 {
	return c.Subtotal() * TaxRate
}

// GrandTotal is subtotal plus tax. Callers round for display only;
// payment requests carry the full-precision value.
func (c Cart) GrandTotal() float64 {
	return c.Subtotal() + c.Tax()
}

// OrderStatus is the closed set of backend order states. The client
// only ever requests transitions; it never assigns a status itself.
type OrderStatus string

const (
	OrderStatusPending    OrderStatus = "PENDING"
	OrderStatusPaid       OrderStatus = "PAID"
	OrderStatusProcessing OrderStatus = "PROCESSING"
	OrderStatusShipped    OrderStatus = "SHIPPED"
	OrderStatusDelivered  OrderStatus = "DELIVERED"
	OrderStatusCancelled  OrderStatus = "CANCELLED"
)

// ParseOrderStatus decodes a wire status string into the closed
// enumeration. Matching is case-insensitive; unknown values are an
// error so they surface at the API boundary instead of leaking
// ad hoc strings into the rest of the program.
func ParseOrderStatus(s string) (OrderStatus, error) {
	switch OrderStatus(strings.ToUpper(strings.TrimSpace(s))) {
	case OrderStatusPending:
		return OrderStatusPending, nil
	case OrderStatusPaid:
		return OrderStatusPaid, nil
	case OrderStatusProcessing:
		return OrderStatusProcessing, nil
	case OrderStatusShipped:
		return OrderStatusShipped, nil
	case OrderStatusDelivered:
		return OrderStatusDelivered, nil
	case OrderStatusCancelled:
		return OrderStatusCancelled, nil
	}
	return "", fmt.Errorf("unknown order status: %q", s)
}

// UnmarshalJSON decodes the wire status through ParseOrderStatus so
// every status entering the program is a member of the closed set.
func (s *OrderStatus) UnmarshalJSON(b []byte) error {
	var raw string
	if err := json.Unmarshal(b, &raw); err != nil {
		return err
	}
	parsed, err := ParseOrderStatus(raw)
	if err != nil {
		return err
	}
	*s = parsed
	return nil
}

// Cancellable reports whether the user may still request cancellation.
func (s OrderStatus) Cancellable() bool {
	return s == OrderStatusPending || s == OrderStatusPaid || s == OrderStatusProcessing
}

// OrderItem is a cart line frozen into an order, including the
// price at purchase time so later catalog price changes do not
// retroactively alter historical orders.
type OrderItem struct {
	ID       int64   `json:"id"`
	Product  Product `json:"product"`
	Quantity int     `json:"quantity"`
	Price    float64 `json:"price"`
}

// Order represents a customer order as served by the backend.
type Order struct {
	ID          int64       `json:"id"`
	Items       []OrderItem `json:"items"`
	TotalAmount float64     `json:"totalAmount"`
	Status      OrderStatus `json:"status"`
	CreatedAt   time.Time   `json:"createdAt"`
}

// User is the authenticated user's profile.
type User struct {
	ID    int64  `json:"id"`
	Name  string `json:"name"`
	Email string `json:"email"`
}

// Payment statuses for the mock payment flow.
const (
	PaymentStatusPending = "PENDING"
	PaymentStatusSuccess = "SUCCESS"
	PaymentStatusFailed  = "FAILED"
)

// Payment is an ephemeral payment attempt tied to exactly one order.
// It is never persisted by the client beyond the active checkout.
type Payment struct {
	ID      int64   `json:"id"`
	OrderID int64   `json:"orderId"`
	Amount  float64 `json:"amount"`
	Status  string  `json:"status"`
	TxID    string  `json:"txId,omitempty"`
}
