package devserver

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"storefront/internal/api"
	"storefront/internal/models"
	"storefront/internal/session"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func init() {
	gin.SetMode(gin.TestMode)
}

type testEnv struct {
	store  *MemoryStore
	server *httptest.Server
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()

	store := NewMemoryStore()
	store.SeedProducts([]models.Product{
		{ID: 1, Name: "Widget", Price: 100, Stock: 10},
		{ID: 2, Name: "Gadget", Price: 50, Stock: 5},
	})
	server := httptest.NewServer(NewServer(store, NewTokenAuth("test-secret", nil), nil).Router())
	t.Cleanup(server.Close)
	return &testEnv{store: store, server: server}
}

func (e *testEnv) newClient(t *testing.T, name, email string) *api.Client {
	t.Helper()
	client := api.NewClient(e.server.URL, session.NewInMemory(), 5*time.Second)
	require.NoError(t, client.Signup(context.Background(), name, email, "secret123"))
	return client
}

func TestCheckoutIdempotency(t *testing.T) {
	env := newTestEnv(t)
	client := env.newClient(t, "Alice", "alice@example.com")
	ctx := context.Background()
	require.NoError(t, client.AddToCart(ctx, 1, 2))

	key := uuid.New().String()
	first, err := client.Checkout(ctx, key)
	require.NoError(t, err)

	// A replay with the same key must hand back the original order,
	// not create a second one.
	replay, err := client.Checkout(ctx, key)
	require.NoError(t, err)
	assert.Equal(t, first.ID, replay.ID)

	orders, err := client.ListOrders(ctx)
	require.NoError(t, err)
	assert.Len(t, orders, 1)

	// A fresh key against the still-populated cart creates a new order.
	second, err := client.Checkout(ctx, uuid.New().String())
	require.NoError(t, err)
	assert.NotEqual(t, first.ID, second.ID)
}

func TestIdempotencyKeysAreUserScoped(t *testing.T) {
	env := newTestEnv(t)
	alice := env.newClient(t, "Alice", "alice@example.com")
	bob := env.newClient(t, "Bob", "bob@example.com")
	ctx := context.Background()

	require.NoError(t, alice.AddToCart(ctx, 1, 1))
	require.NoError(t, bob.AddToCart(ctx, 2, 1))

	// The same key from two users must never resolve to the other
	// user's order.
	key := uuid.New().String()
	aliceOrder, err := alice.Checkout(ctx, key)
	require.NoError(t, err)
	bobOrder, err := bob.Checkout(ctx, key)
	require.NoError(t, err)

	assert.NotEqual(t, aliceOrder.ID, bobOrder.ID)
	require.Len(t, bobOrder.Items, 1)
	assert.Equal(t, "Gadget", bobOrder.Items[0].Product.Name)

	_, err = bob.GetOrder(ctx, aliceOrder.ID)
	require.Error(t, err)
	assert.Equal(t, api.KindNotFound, api.KindOf(err))
}

func TestSignupDuplicateEmail(t *testing.T) {
	env := newTestEnv(t)
	env.newClient(t, "Alice", "alice@example.com")

	other := api.NewClient(env.server.URL, session.NewInMemory(), 5*time.Second)
	err := other.Signup(context.Background(), "Mallory", "alice@example.com", "secret123")
	require.Error(t, err)
	assert.Equal(t, api.KindValidation, api.KindOf(err))
}

func TestOrderPriceUnaffectedByLaterCatalogChange(t *testing.T) {
	env := newTestEnv(t)
	client := env.newClient(t, "Alice", "alice@example.com")
	ctx := context.Background()
	require.NoError(t, client.AddToCart(ctx, 1, 1))

	env.store.SeedProducts([]models.Product{
		{ID: 1, Name: "Widget", Price: 999, Stock: 10},
	})

	order, err := client.Checkout(ctx, uuid.New().String())
	require.NoError(t, err)
	require.Len(t, order.Items, 1)
	assert.InDelta(t, 100.0, order.Items[0].Price, 1e-9)
	assert.InDelta(t, 100.0+100.0*models.TaxRate, order.TotalAmount, 1e-9)
}

func TestPaymentAmountMismatch(t *testing.T) {
	env := newTestEnv(t)
	client := env.newClient(t, "Alice", "alice@example.com")
	ctx := context.Background()
	require.NoError(t, client.AddToCart(ctx, 1, 1))
	order, err := client.Checkout(ctx, uuid.New().String())
	require.NoError(t, err)

	_, err = client.CreateMockPayment(ctx, order.ID, order.TotalAmount+10)
	require.Error(t, err)
	assert.Equal(t, api.KindValidation, api.KindOf(err))

	// The exact total is accepted.
	payment, err := client.CreateMockPayment(ctx, order.ID, order.TotalAmount)
	require.NoError(t, err)
	assert.Equal(t, models.PaymentStatusPending, payment.Status)
}

func TestPaymentSettlesOnce(t *testing.T) {
	env := newTestEnv(t)
	client := env.newClient(t, "Alice", "alice@example.com")
	ctx := context.Background()
	require.NoError(t, client.AddToCart(ctx, 1, 1))
	order, err := client.Checkout(ctx, uuid.New().String())
	require.NoError(t, err)

	_, err = client.CreateMockPayment(ctx, order.ID, order.TotalAmount)
	require.NoError(t, err)
	payment, err := client.CompleteMockPayment(ctx, order.ID)
	require.NoError(t, err)
	assert.Equal(t, models.PaymentStatusSuccess, payment.Status)
	assert.NotEmpty(t, payment.TxID)

	_, err = client.CompleteMockPayment(ctx, order.ID)
	require.Error(t, err)
	assert.Equal(t, api.KindValidation, api.KindOf(err))
}

func TestCompletePaymentWithoutCreate(t *testing.T) {
	env := newTestEnv(t)
	client := env.newClient(t, "Alice", "alice@example.com")
	ctx := context.Background()
	require.NoError(t, client.AddToCart(ctx, 1, 1))
	order, err := client.Checkout(ctx, uuid.New().String())
	require.NoError(t, err)

	_, err = client.CompleteMockPayment(ctx, order.ID)
	require.Error(t, err)
	assert.Equal(t, api.KindValidation, api.KindOf(err))
}

func TestCancelTransitions(t *testing.T) {
	env := newTestEnv(t)
	client := env.newClient(t, "Alice", "alice@example.com")
	ctx := context.Background()
	require.NoError(t, client.AddToCart(ctx, 1, 1))
	order, err := client.Checkout(ctx, uuid.New().String())
	require.NoError(t, err)

	cancelled, err := client.CancelOrder(ctx, order.ID)
	require.NoError(t, err)
	assert.Equal(t, models.OrderStatusCancelled, cancelled.Status)

	// A cancelled order cannot be cancelled again.
	_, err = client.CancelOrder(ctx, order.ID)
	require.Error(t, err)
	assert.Equal(t, api.KindValidation, api.KindOf(err))
}

func TestOrdersAreOwnerScoped(t *testing.T) {
	env := newTestEnv(t)
	alice := env.newClient(t, "Alice", "alice@example.com")
	bob := env.newClient(t, "Bob", "bob@example.com")
	ctx := context.Background()

	require.NoError(t, alice.AddToCart(ctx, 1, 1))
	order, err := alice.Checkout(ctx, uuid.New().String())
	require.NoError(t, err)

	_, err = bob.GetOrder(ctx, order.ID)
	require.Error(t, err)
	assert.Equal(t, api.KindNotFound, api.KindOf(err))

	_, err = bob.CancelOrder(ctx, order.ID)
	require.Error(t, err)
	assert.Equal(t, api.KindNotFound, api.KindOf(err))
}

func TestAddMergesSameProductLines(t *testing.T) {
	env := newTestEnv(t)
	client := env.newClient(t, "Alice", "alice@example.com")
	ctx := context.Background()

	require.NoError(t, client.AddToCart(ctx, 1, 1))
	require.NoError(t, client.AddToCart(ctx, 1, 2))

	cart, err := client.GetCart(ctx)
	require.NoError(t, err)
	require.Len(t, cart.Items, 1)
	assert.Equal(t, 3, cart.Items[0].Quantity)
}

func TestAuthRejectsMissingAndBogusTokens(t *testing.T) {
	env := newTestEnv(t)

	resp, err := http.Get(env.server.URL + "/api/cart")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)

	req, _ := http.NewRequest(http.MethodGet, env.server.URL+"/api/cart", nil)
	req.Header.Set("Authorization", "Bearer not-a-token")
	resp, err = http.DefaultClient.Do(req)
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
}

func TestHealthAndMetricsExposed(t *testing.T) {
	env := newTestEnv(t)

	resp, err := http.Get(env.server.URL + "/health")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	resp, err = http.Get(env.server.URL + "/metrics")
	require.NoError(t, err)
	body, _ := io.ReadAll(resp.Body)
	resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Contains(t, string(body), "go_goroutines")
}
