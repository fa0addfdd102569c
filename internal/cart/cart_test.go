package cart

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"storefront/internal/api"
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
	client  *api.Client
	session *session.Session
	vm      *ViewModel

	hits        int64
	deletes     int64
	gateEnabled atomic.Bool     // when set, PUT /api/cart/update blocks on updateGate
	updateGate  *sync.WaitGroup
	gateOpen    chan struct{} // closed once a PUT has entered the gate
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()

	store := devserver.NewMemoryStore()
	store.SeedProducts([]models.Product{
		{ID: 1, Name: "Widget", Price: 100, Stock: 10},
		{ID: 2, Name: "Gadget", Price: 50, Stock: 5},
	})
	router := devserver.NewServer(store, devserver.NewTokenAuth("test-secret", nil), nil).Router()

	env := &testEnv{updateGate: &sync.WaitGroup{}, gateOpen: make(chan struct{})}
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt64(&env.hits, 1)
		if r.Method == http.MethodDelete {
			atomic.AddInt64(&env.deletes, 1)
		}
		if env.gateEnabled.Load() && r.Method == http.MethodPut && r.URL.Path == "/api/cart/update" {
			select {
			case <-env.gateOpen:
			default:
				close(env.gateOpen)
			}
			env.updateGate.Wait()
		}
		router.ServeHTTP(w, r)
	}))
	t.Cleanup(server.Close)

	env.session = session.NewInMemory()
	env.client = api.NewClient(server.URL, env.session, 5*time.Second)
	env.vm = NewViewModel(env.client)
	return env
}

func (e *testEnv) login(t *testing.T) {
	t.Helper()
	require.NoError(t, e.client.Signup(context.Background(), "Alice", "alice@example.com", "secret123"))
}

func (e *testEnv) seedCart(t *testing.T) {
	t.Helper()
	ctx := context.Background()
	require.NoError(t, e.client.AddToCart(ctx, 1, 2))
	require.NoError(t, e.client.AddToCart(ctx, 2, 1))
	require.NoError(t, e.vm.Load(ctx))
}

func TestLoadWithoutCredential(t *testing.T) {
	env := newTestEnv(t)

	err := env.vm.Load(context.Background())
	require.Error(t, err)
	assert.Equal(t, api.KindUnauthenticated, api.KindOf(err))
	assert.Zero(t, atomic.LoadInt64(&env.hits), "unauthenticated load must not touch the network")
	assert.True(t, env.vm.Snapshot().IsEmpty())
}

func TestDerivedTotals(t *testing.T) {
	env := newTestEnv(t)
	env.login(t)
	env.seedCart(t)

	assert.InDelta(t, 250.0, env.vm.Subtotal(), 1e-9)
	assert.InDelta(t, 45.0, env.vm.Tax(), 1e-9)
	assert.InDelta(t, 295.0, env.vm.GrandTotal(), 1e-9)
}

func TestChangeQuantityBelowOneIsNoOp(t *testing.T) {
	env := newTestEnv(t)
	env.login(t)
	env.seedCart(t)
	before := env.vm.Snapshot()
	hitsBefore := atomic.LoadInt64(&env.hits)

	require.NoError(t, env.vm.ChangeQuantity(context.Background(), before.Items[0].ID, 0))
	require.NoError(t, env.vm.ChangeQuantity(context.Background(), before.Items[0].ID, -3))

	assert.Equal(t, hitsBefore, atomic.LoadInt64(&env.hits), "quantities below 1 must not issue a call")
	assert.Equal(t, before, env.vm.Snapshot())
}

func TestMutationRefreshesSnapshotFromServer(t *testing.T) {
	env := newTestEnv(t)
	env.login(t)
	env.seedCart(t)
	ctx := context.Background()

	itemID := env.vm.Snapshot().Items[0].ID
	require.NoError(t, env.vm.ChangeQuantity(ctx, itemID, 5))

	serverCart, err := env.client.GetCart(ctx)
	require.NoError(t, err)
	assert.Equal(t, serverCart.Items, env.vm.Snapshot().Items, "snapshot must match the server after a mutation")
	assert.Equal(t, 5, env.vm.Snapshot().Items[0].Quantity)
}

func TestRemoveItem(t *testing.T) {
	env := newTestEnv(t)
	env.login(t)
	env.seedCart(t)
	ctx := context.Background()

	itemID := env.vm.Snapshot().Items[0].ID
	require.NoError(t, env.vm.RemoveItem(ctx, itemID))

	snapshot := env.vm.Snapshot()
	require.Len(t, snapshot.Items, 1)
	assert.Equal(t, "Gadget", snapshot.Items[0].Product.Name)
	assert.False(t, env.vm.Updating(itemID))
}

func TestConcurrentMutationOnSameLineSuppressed(t *testing.T) {
	env := newTestEnv(t)
	env.login(t)
	env.seedCart(t)
	ctx := context.Background()
	itemID := env.vm.Snapshot().Items[0].ID

	env.updateGate.Add(1)
	env.gateEnabled.Store(true)

	done := make(chan error, 1)
	go func() {
		done <- env.vm.ChangeQuantity(ctx, itemID, 4)
	}()

	// Wait until the first mutation is in flight, then try a second
	// mutation on the same line: the busy guard must swallow it.
	<-env.gateOpen
	assert.True(t, env.vm.Updating(itemID))
	require.NoError(t, env.vm.RemoveItem(ctx, itemID))
	assert.Zero(t, atomic.LoadInt64(&env.deletes), "second mutation on a busy line must be suppressed")

	env.gateEnabled.Store(false)
	env.updateGate.Done()
	require.NoError(t, <-done)

	assert.False(t, env.vm.Updating(itemID))
	assert.Equal(t, 4, env.vm.Snapshot().Items[0].Quantity, "the suppressed removal must not have happened")
}

func TestClearCart(t *testing.T) {
	env := newTestEnv(t)
	env.login(t)
	env.seedCart(t)

	require.NoError(t, env.vm.Clear(context.Background()))
	assert.True(t, env.vm.Snapshot().IsEmpty())
}
