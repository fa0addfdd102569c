// Package api implements the gateway client for the storefront
// backend. Each exported method issues exactly one HTTP call, attaches
// the bearer credential when present, and returns either a typed
// payload or a classified *Error. No call is retried automatically:
// retry is a user-visible action, since repeating a mutation without
// an idempotency key could double its effect.
package api

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"storefront/internal/models"
	"storefront/internal/session"
	"storefront/internal/util"

	"go.uber.org/zap"
)

// Client is the API gateway client. Authenticated operations
// short-circuit locally when the session holds no credential rather
// than issue a doomed request.
type Client struct {
	baseURL string
	http    *http.Client
	session *session.Session
	logger  *zap.Logger
}

// NewClient creates a gateway client against baseURL. The session is
// consulted before every authenticated call and cleared whenever the
// server answers 401.
func NewClient(baseURL string, sess *session.Session, timeout time.Duration) *Client {
	if timeout <= 0 {
		timeout = 15 * time.Second
	}
	return &Client{
		baseURL: baseURL,
		http:    &http.Client{Timeout: timeout},
		session: sess,
		logger:  util.GetLogger(),
	}
}

type request struct {
	op     string // span/metric label
	method string
	path   string
	query  url.Values
	body   interface{}
	header http.Header
	auth   bool
}

// errorBody is the backend's error envelope.
type errorBody struct {
	Error   string `json:"error"`
	Details string `json:"details,omitempty"`
}

func (c *Client) do(ctx context.Context, req request, out interface{}) error {
	ctx, span := util.StartSpan(ctx, "api."+req.op)
	defer span.End()

	start := time.Now()
	result := "ok"
	defer func() {
		util.APIRequestDuration.WithLabelValues(req.method, req.op, result).Observe(time.Since(start).Seconds())
		util.APIRequestsTotal.WithLabelValues(req.method, req.op, result).Inc()
	}()

	var token string
	if req.auth {
		var ok bool
		token, ok = c.session.Token()
		if !ok {
			result = KindUnauthenticated.String()
			return errUnauthenticatedLocal()
		}
	}

	u := c.baseURL + req.path
	if len(req.query) > 0 {
		u += "?" + req.query.Encode()
	}

	var bodyReader io.Reader
	if req.body != nil {
		encoded, err := json.Marshal(req.body)
		if err != nil {
			result = KindTransport.String()
			return &Error{Kind: KindTransport, Message: "failed to encode request", cause: err}
		}
		bodyReader = bytes.NewReader(encoded)
	}

	httpReq, err := http.NewRequestWithContext(ctx, req.method, u, bodyReader)
	if err != nil {
		result = KindTransport.String()
		return &Error{Kind: KindTransport, Message: "failed to build request", cause: err}
	}
	if req.body != nil {
		httpReq.Header.Set("Content-Type", "application/json")
	}
	if token != "" {
		httpReq.Header.Set("Authorization", "Bearer "+token)
	}
	for k, vs := range req.header {
		for _, v := range vs {
			httpReq.Header.Set(k, v)
		}
	}

	resp, err := c.http.Do(httpReq)
	if err != nil {
		result = KindTransport.String()
		c.logger.Warn("API request failed",
			zap.String("operation", req.op),
			zap.Error(err))
		return &Error{Kind: KindTransport, Message: "could not reach the store, check your connection", cause: err}
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		apiErr := classifyStatus(resp.StatusCode, readErrorMessage(resp.Body))
		result = apiErr.Kind.String()
		if apiErr.Kind == KindUnauthenticated {
			// The server rejected the credential; any in-flight
			// request observing the same 401 takes this same path.
			c.session.Clear()
		}
		return apiErr
	}

	if out != nil {
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			result = KindServerFault.String()
			return &Error{Kind: KindServerFault, Message: "unexpected response from the store", cause: err}
		}
	}
	return nil
}

func readErrorMessage(r io.Reader) string {
	data, err := io.ReadAll(io.LimitReader(r, 4096))
	if err != nil {
		return ""
	}
	var body errorBody
	if err := json.Unmarshal(data, &body); err == nil && body.Error != "" {
		return body.Error
	}
	return ""
}

// ListProducts fetches the product catalog. No credential required.
func (c *Client) ListProducts(ctx context.Context) ([]models.Product, error) {
	var products []models.Product
	err := c.do(ctx, request{op: "ListProducts", method: http.MethodGet, path: "/api/products"}, &products)
	return products, err
}

// GetCart fetches the authenticated user's current cart.
func (c *Client) GetCart(ctx context.Context) (*models.Cart, error) {
	var cart models.Cart
	if err := c.do(ctx, request{op: "GetCart", method: http.MethodGet, path: "/api/cart", auth: true}, &cart); err != nil {
		return nil, err
	}
	return &cart, nil
}

// AddToCart adds quantity units of a product to the cart.
func (c *Client) AddToCart(ctx context.Context, productID int64, quantity int) error {
	q := url.Values{}
	q.Set("productId", strconv.FormatInt(productID, 10))
	q.Set("quantity", strconv.Itoa(quantity))
	util.CartMutationsTotal.WithLabelValues("add").Inc()
	return c.do(ctx, request{op: "AddToCart", method: http.MethodPost, path: "/api/cart/add", query: q, auth: true}, nil)
}

// UpdateCartItem sets the quantity of a cart line, keyed by line id.
func (c *Client) UpdateCartItem(ctx context.Context, itemID int64, quantity int) error {
	q := url.Values{}
	q.Set("itemId", strconv.FormatInt(itemID, 10))
	q.Set("quantity", strconv.Itoa(quantity))
	util.CartMutationsTotal.WithLabelValues("update").Inc()
	return c.do(ctx, request{op: "UpdateCartItem", method: http.MethodPut, path: "/api/cart/update", query: q, auth: true}, nil)
}

// RemoveCartItem removes a cart line, keyed by line id.
func (c *Client) RemoveCartItem(ctx context.Context, itemID int64) error {
	util.CartMutationsTotal.WithLabelValues("remove").Inc()
	path := fmt.Sprintf("/api/cart/remove/%d", itemID)
	return c.do(ctx, request{op: "RemoveCartItem", method: http.MethodDelete, path: path, auth: true}, nil)
}

// ClearCart empties the server-side cart.
func (c *Client) ClearCart(ctx context.Context) error {
	util.CartMutationsTotal.WithLabelValues("clear").Inc()
	return c.do(ctx, request{op: "ClearCart", method: http.MethodDelete, path: "/api/cart/clear", auth: true}, nil)
}

// Checkout asks the backend to create an order from the user's
// current server-side cart. The request deliberately carries no line
// items so the client and server cannot disagree about what the cart
// contains at submission time. The idempotency key guards against a
// user-triggered re-submission creating a second order.
func (c *Client) Checkout(ctx context.Context, idempotencyKey string) (*models.Order, error) {
	header := http.Header{}
	if idempotencyKey != "" {
		header.Set("Idempotency-Key", idempotencyKey)
	}
	var order models.Order
	err := c.do(ctx, request{
		op:     "Checkout",
		method: http.MethodPost,
		path:   "/api/orders/checkout",
		header: header,
		auth:   true,
	}, &order)
	if err != nil {
		return nil, err
	}
	return &order, nil
}

// ListOrders fetches the user's order history, newest first.
func (c *Client) ListOrders(ctx context.Context) ([]models.Order, error) {
	var orders []models.Order
	err := c.do(ctx, request{op: "ListOrders", method: http.MethodGet, path: "/api/orders", auth: true}, &orders)
	return orders, err
}

// GetOrder fetches a single order by id.
func (c *Client) GetOrder(ctx context.Context, orderID int64) (*models.Order, error) {
	var order models.Order
	path := fmt.Sprintf("/api/orders/%d", orderID)
	if err := c.do(ctx, request{op: "GetOrder", method: http.MethodGet, path: path, auth: true}, &order); err != nil {
		return nil, err
	}
	return &order, nil
}

// CancelOrder requests cancellation of an order and returns it in its
// cancelled state. The backend decides whether the order's status
// still allows it.
func (c *Client) CancelOrder(ctx context.Context, orderID int64) (*models.Order, error) {
	path := fmt.Sprintf("/api/orders/%d/cancel", orderID)
	var order models.Order
	if err := c.do(ctx, request{op: "CancelOrder", method: http.MethodPost, path: path, auth: true}, &order); err != nil {
		return nil, err
	}
	return &order, nil
}

// CreateMockPayment opens a mock payment attempt for an order. The
// amount is the full-precision grand total, never a display-rounded
// string.
func (c *Client) CreateMockPayment(ctx context.Context, orderID int64, amount float64) (*models.Payment, error) {
	q := url.Values{}
	q.Set("orderId", strconv.FormatInt(orderID, 10))
	q.Set("amount", strconv.FormatFloat(amount, 'f', -1, 64))
	var payment models.Payment
	err := c.do(ctx, request{
		op:     "CreateMockPayment",
		method: http.MethodPost,
		path:   "/api/payment/mock-create",
		query:  q,
		auth:   true,
	}, &payment)
	if err != nil {
		return nil, err
	}
	return &payment, nil
}

// CompleteMockPayment completes a pending mock payment, settling the
// order as paid. No real monetary transfer occurs.
func (c *Client) CompleteMockPayment(ctx context.Context, orderID int64) (*models.Payment, error) {
	q := url.Values{}
	q.Set("orderId", strconv.FormatInt(orderID, 10))
	var payment models.Payment
	err := c.do(ctx, request{
		op:     "CompleteMockPayment",
		method: http.MethodGet,
		path:   "/api/payment/mock-success",
		query:  q,
		auth:   true,
	}, &payment)
	if err != nil {
		return nil, err
	}
	return &payment, nil
}

type loginRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

type loginResponse struct {
	Token string `json:"token"`
}

// Login authenticates and stores the issued credential in the session.
func (c *Client) Login(ctx context.Context, email, password string) error {
	var resp loginResponse
	err := c.do(ctx, request{
		op:     "Login",
		method: http.MethodPost,
		path:   "/api/users/login",
		body:   loginRequest{Email: email, Password: password},
	}, &resp)
	if err != nil {
		return err
	}
	c.session.Set(resp.Token)
	return nil
}

type signupRequest struct {
	Name     string `json:"name"`
	Email    string `json:"email"`
	Password string `json:"password"`
}

// Signup registers a new account and stores the issued credential.
func (c *Client) Signup(ctx context.Context, name, email, password string) error {
	var resp loginResponse
	err := c.do(ctx, request{
		op:     "Signup",
		method: http.MethodPost,
		path:   "/api/users/signup",
		body:   signupRequest{Name: name, Email: email, Password: password},
	}, &resp)
	if err != nil {
		return err
	}
	if resp.Token != "" {
		c.session.Set(resp.Token)
	}
	return nil
}

// GetProfile fetches the authenticated user's profile.
func (c *Client) GetProfile(ctx context.Context) (*models.User, error) {
	var user models.User
	if err := c.do(ctx, request{op: "GetProfile", method: http.MethodGet, path: "/api/users/profile", auth: true}, &user); err != nil {
		return nil, err
	}
	return &user, nil
}

type updateProfileRequest struct {
	Name  string `json:"name"`
	Email string `json:"email"`
}

// UpdateProfile updates the user's name and email.
func (c *Client) UpdateProfile(ctx context.Context, name, email string) (*models.User, error) {
	var user models.User
	err := c.do(ctx, request{
		op:     "UpdateProfile",
		method: http.MethodPut,
		path:   "/api/users/profile",
		body:   updateProfileRequest{Name: name, Email: email},
		auth:   true,
	}, &user)
	if err != nil {
		return nil, err
	}
	return &user, nil
}

type changePasswordRequest struct {
	CurrentPassword string `json:"currentPassword"`
	NewPassword     string `json:"newPassword"`
}

// ChangePassword changes the user's password. Not retried
// automatically; the user must re-trigger on failure.
func (c *Client) ChangePassword(ctx context.Context, current, newPassword string) error {
	return c.do(ctx, request{
		op:     "ChangePassword",
		method: http.MethodPut,
		path:   "/api/users/change-password",
		body:   changePasswordRequest{CurrentPassword: current, NewPassword: newPassword},
		auth:   true,
	}, nil)
}
