// Package checkout drives the checkout/payment flow: load cart,
// create order, take a mock payment, clear the cart, confirm. The
// flow is a small state machine; the backend order and payment state
// is always authoritative, the workflow only requests transitions.
package checkout

import (
	"context"
	"fmt"

	"storefront/internal/api"
	"storefront/internal/models"
	"storefront/internal/util"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// State enumerates the workflow states.
type State int

const (
	// StateLoadingCart is the initial state while the cart snapshot
	// is being fetched (or after a failed fetch, awaiting retry).
	StateLoadingCart State = iota
	// StateCartEmpty is a terminal display state; an order can never
	// be created from an empty cart.
	StateCartEmpty
	// StateReadyToCheckout means the cart has at least one line and
	// the user may proceed.
	StateReadyToCheckout
	// StateCreatingOrder means the order-creation request is in
	// flight.
	StateCreatingOrder
	// StateAwaitingPayment means an order exists and a payment may be
	// attempted, retried, or abandoned.
	StateAwaitingPayment
	// StatePaymentSucceeded is the terminal success state.
	StatePaymentSucceeded
)

func (s State) String() string {
	switch s {
	case StateLoadingCart:
		return "loading_cart"
	case StateCartEmpty:
		return "cart_empty"
	case StateReadyToCheckout:
		return "ready_to_checkout"
	case StateCreatingOrder:
		return "creating_order"
	case StateAwaitingPayment:
		return "awaiting_payment"
	case StatePaymentSucceeded:
		return "payment_succeeded"
	}
	return "unknown"
}

// Workflow is a single checkout session. It is not safe for
// concurrent use; the UI drives it from one goroutine, matching the
// single-threaded event model of the screens.
type Workflow struct {
	client *api.Client
	logger *zap.Logger

	state       State
	cart        models.Cart
	order       *models.Order
	idemKey     string
	lastErr     error
	warning     string
	clearIssued bool
}

// NewWorkflow creates a checkout workflow over the gateway client.
func NewWorkflow(client *api.Client) *Workflow {
	return &Workflow{
		client: client,
		logger: util.GetLogger(),
		state:  StateLoadingCart,
	}
}

// State returns the current workflow state.
func (w *Workflow) State() State { return w.state }

// Cart returns the snapshot captured by Start.
func (w *Workflow) Cart() models.Cart { return w.cart }

// Order returns the created order, or nil before order creation and
// after cancellation.
func (w *Workflow) Order() *models.Order { return w.order }

// Err returns the error from the last failed transition, if any.
func (w *Workflow) Err() error { return w.lastErr }

// Warning returns a non-blocking warning from the last transition,
// e.g. a cart that could not be cleared after a successful payment.
func (w *Workflow) Warning() string { return w.warning }

// Start loads the cart. An empty cart lands in StateCartEmpty, from
// which order creation is unreachable. On fetch failure the workflow
// stays in StateLoadingCart so Start can be retried.
func (w *Workflow) Start(ctx context.Context) error {
	ctx, span := util.StartSpan(ctx, "checkout.Start")
	defer span.End()

	w.lastErr = nil
	cart, err := w.client.GetCart(ctx)
	if err != nil {
		w.state = StateLoadingCart
		w.lastErr = err
		return err
	}

	util.CheckoutsStartedTotal.Inc()
	w.cart = *cart
	if cart.IsEmpty() {
		w.state = StateCartEmpty
		return nil
	}
	w.state = StateReadyToCheckout
	return nil
}

// Proceed creates the order. The request body carries no line items;
// the backend derives the order from the user's server-side cart. On
// failure the workflow returns to StateReadyToCheckout with a
// classified error and no order reference.
func (w *Workflow) Proceed(ctx context.Context) error {
	ctx, span := util.StartSpan(ctx, "checkout.Proceed")
	defer span.End()

	if w.state != StateReadyToCheckout {
		return fmt.Errorf("cannot create order in state %s", w.state)
	}
	if w.idemKey == "" {
		w.idemKey = uuid.New().String()
	}

	w.state = StateCreatingOrder
	w.lastErr = nil

	order, err := w.client.Checkout(ctx, w.idemKey)
	if err != nil {
		w.state = StateReadyToCheckout
		w.order = nil
		w.lastErr = err
		util.CheckoutsFailedTotal.WithLabelValues(api.KindOf(err).String()).Inc()
		return err
	}

	util.OrdersCreatedTotal.Inc()
	w.logger.Info("Order created",
		zap.Int64("order_id", order.ID),
		zap.Float64("total", order.TotalAmount))

	w.order = order
	w.state = StateAwaitingPayment
	return nil
}

// Pay runs the mock payment against the created order, using the
// order id and full-precision total returned by order creation. On
// success the server-side cart is cleared exactly once: the order was
// derived from those cart contents, and leaving them in place would
// let the user re-checkout the same items. A failed clear does not
// roll back the payment; it surfaces as a non-blocking warning. On
// payment failure the workflow remains in StateAwaitingPayment so the
// user can retry or cancel.
func (w *Workflow) Pay(ctx context.Context) error {
	ctx, span := util.StartSpan(ctx, "checkout.Pay")
	defer span.End()

	if w.state != StateAwaitingPayment {
		return fmt.Errorf("cannot pay in state %s", w.state)
	}

	util.PaymentAttemptsTotal.Inc()
	w.lastErr = nil
	w.warning = ""

	if _, err := w.client.CreateMockPayment(ctx, w.order.ID, w.order.TotalAmount); err != nil {
		w.lastErr = err
		util.PaymentFailedTotal.Inc()
		return err
	}

	payment, err := w.client.CompleteMockPayment(ctx, w.order.ID)
	if err != nil {
		w.lastErr = err
		util.PaymentFailedTotal.Inc()
		return err
	}

	util.PaymentSuccessTotal.Inc()
	w.logger.Info("Payment completed",
		zap.Int64("order_id", w.order.ID),
		zap.String("tx_id", payment.TxID))

	if !w.clearIssued {
		w.clearIssued = true
		if err := w.client.ClearCart(ctx); err != nil {
			w.logger.Warn("Failed to clear cart after payment",
				zap.Int64("order_id", w.order.ID),
				zap.Error(err))
			w.warning = "your order is paid, but the cart could not be emptied; please clear it manually"
		}
	}

	w.state = StatePaymentSucceeded
	return nil
}

// Cancel abandons payment and returns to StateReadyToCheckout,
// discarding the order reference. The pending backend order is
// explicitly cancelled best-effort so it does not linger; a failed
// cancellation is logged and left to backend cleanup.
func (w *Workflow) Cancel(ctx context.Context) error {
	ctx, span := util.StartSpan(ctx, "checkout.Cancel")
	defer span.End()

	if w.state != StateAwaitingPayment {
		return fmt.Errorf("cannot cancel payment in state %s", w.state)
	}

	if w.order != nil {
		if _, err := w.client.CancelOrder(ctx, w.order.ID); err != nil {
			w.logger.Warn("Failed to cancel abandoned order",
				zap.Int64("order_id", w.order.ID),
				zap.Error(err))
		} else {
			util.OrdersCancelledTotal.Inc()
		}
	}

	w.order = nil
	w.idemKey = "" // the next attempt is a new order
	w.lastErr = nil
	w.state = StateReadyToCheckout
	return nil
}
