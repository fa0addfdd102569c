package api

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"storefront/internal/devserver"
	"storefront/internal/models"
	"storefront/internal/session"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func init() {
	gin.SetMode(gin.TestMode)
}

type testEnv struct {
	server  *httptest.Server
	client  *Client
	session *session.Session
	hits    *int64
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()

	store := devserver.NewMemoryStore()
	store.SeedProducts([]models.Product{
		{ID: 1, Name: "Widget", Price: 100, Stock: 10},
		{ID: 2, Name: "Gadget", Price: 50, Stock: 5},
	})
	router := devserver.NewServer(store, devserver.NewTokenAuth("test-secret", nil), nil).Router()

	var hits int64
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt64(&hits, 1)
		router.ServeHTTP(w, r)
	}))
	t.Cleanup(server.Close)

	sess := session.NewInMemory()
	return &testEnv{
		server:  server,
		client:  NewClient(server.URL, sess, 5*time.Second),
		session: sess,
		hits:    &hits,
	}
}

func (e *testEnv) hitCount() int64 {
	return atomic.LoadInt64(e.hits)
}

func (e *testEnv) signupAndLogin(t *testing.T) {
	t.Helper()
	require.NoError(t, e.client.Signup(context.Background(), "Alice", "alice@example.com", "secret123"))
	require.True(t, e.session.Authenticated())
}

func TestListProductsNoAuthRequired(t *testing.T) {
	env := newTestEnv(t)

	products, err := env.client.ListProducts(context.Background())
	require.NoError(t, err)
	assert.Len(t, products, 2)
	assert.Equal(t, "Widget", products[0].Name)
}

func TestAuthenticatedCallShortCircuitsWithoutToken(t *testing.T) {
	env := newTestEnv(t)

	_, err := env.client.GetCart(context.Background())
	require.Error(t, err)
	assert.Equal(t, KindUnauthenticated, KindOf(err))
	assert.Zero(t, env.hitCount(), "no request may reach the network without a credential")
}

func TestCartRoundTrip(t *testing.T) {
	env := newTestEnv(t)
	env.signupAndLogin(t)
	ctx := context.Background()

	require.NoError(t, env.client.AddToCart(ctx, 1, 2))
	require.NoError(t, env.client.AddToCart(ctx, 2, 1))

	cart, err := env.client.GetCart(ctx)
	require.NoError(t, err)
	require.Len(t, cart.Items, 2)
	assert.Equal(t, 2, cart.Items[0].Quantity)
	assert.InDelta(t, 250.0, cart.Subtotal(), 1e-9)

	require.NoError(t, env.client.UpdateCartItem(ctx, cart.Items[0].ID, 3))
	cart, err = env.client.GetCart(ctx)
	require.NoError(t, err)
	assert.Equal(t, 3, cart.Items[0].Quantity)

	require.NoError(t, env.client.RemoveCartItem(ctx, cart.Items[0].ID))
	cart, err = env.client.GetCart(ctx)
	require.NoError(t, err)
	assert.Len(t, cart.Items, 1)

	require.NoError(t, env.client.ClearCart(ctx))
	cart, err = env.client.GetCart(ctx)
	require.NoError(t, err)
	assert.True(t, cart.IsEmpty())
}

func TestCheckoutEmptyCartIsValidationError(t *testing.T) {
	env := newTestEnv(t)
	env.signupAndLogin(t)

	_, err := env.client.Checkout(context.Background(), "")
	require.Error(t, err)
	assert.Equal(t, KindValidation, KindOf(err))
}

func TestUnknownOrderIsNotFound(t *testing.T) {
	env := newTestEnv(t)
	env.signupAndLogin(t)

	_, err := env.client.GetOrder(context.Background(), 9999)
	require.Error(t, err)
	assert.Equal(t, KindNotFound, KindOf(err))
}

func TestCancelOrderReturnsCancelledOrder(t *testing.T) {
	env := newTestEnv(t)
	env.signupAndLogin(t)
	ctx := context.Background()

	require.NoError(t, env.client.AddToCart(ctx, 1, 1))
	order, err := env.client.Checkout(ctx, "")
	require.NoError(t, err)

	cancelled, err := env.client.CancelOrder(ctx, order.ID)
	require.NoError(t, err)
	assert.Equal(t, order.ID, cancelled.ID)
	assert.Equal(t, models.OrderStatusCancelled, cancelled.Status)
}

func TestServer401ClearsSession(t *testing.T) {
	env := newTestEnv(t)
	env.session.Set("bogus-token")

	_, err := env.client.GetCart(context.Background())
	require.Error(t, err)
	assert.Equal(t, KindUnauthenticated, KindOf(err))
	assert.False(t, env.session.Authenticated(), "a 401 must invalidate the stored credential")
}

func TestForbiddenRetainsSession(t *testing.T) {
	env := newTestEnv(t)
	env.signupAndLogin(t)

	// Wrong current password answers 403.
	err := env.client.ChangePassword(context.Background(), "wrong-password", "newpass456")
	require.Error(t, err)
	assert.Equal(t, KindForbidden, KindOf(err))
	assert.True(t, env.session.Authenticated(), "a 403 must not invalidate the credential")
}

func TestTransportFailureClassified(t *testing.T) {
	env := newTestEnv(t)
	env.server.Close()

	_, err := env.client.ListProducts(context.Background())
	require.Error(t, err)
	assert.Equal(t, KindTransport, KindOf(err))
}

func TestLoginRejectsBadPassword(t *testing.T) {
	env := newTestEnv(t)
	env.signupAndLogin(t)
	env.session.Clear()

	err := env.client.Login(context.Background(), "alice@example.com", "wrong")
	require.Error(t, err)
	assert.Equal(t, KindUnauthenticated, KindOf(err))
	assert.False(t, env.session.Authenticated())

	require.NoError(t, env.client.Login(context.Background(), "alice@example.com", "secret123"))
	assert.True(t, env.session.Authenticated())
}

func TestProfileRoundTrip(t *testing.T) {
	env := newTestEnv(t)
	env.signupAndLogin(t)
	ctx := context.Background()

	user, err := env.client.GetProfile(ctx)
	require.NoError(t, err)
	assert.Equal(t, "Alice", user.Name)

	updated, err := env.client.UpdateProfile(ctx, "Alice B", "aliceb@example.com")
	require.NoError(t, err)
	assert.Equal(t, "Alice B", updated.Name)
	assert.Equal(t, "aliceb@example.com", updated.Email)

	require.NoError(t, env.client.ChangePassword(ctx, "secret123", "newpass456"))

	env.session.Clear()
	require.NoError(t, env.client.Login(ctx, "aliceb@example.com", "newpass456"))
}

func TestRetryableKinds(t *testing.T) {
	assert.True(t, (&Error{Kind: KindTransport}).Retryable())
	assert.True(t, (&Error{Kind: KindServerFault}).Retryable())
	assert.False(t, (&Error{Kind: KindValidation}).Retryable())
	assert.False(t, (&Error{Kind: KindUnauthenticated}).Retryable())
	assert.False(t, (&Error{Kind: KindForbidden}).Retryable())
	assert.False(t, (&Error{Kind: KindNotFound}).Retryable())
}
