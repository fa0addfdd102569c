// Package cart holds the client-side view of the user's cart: the
// last-fetched snapshot plus per-line busy flags. The snapshot is
// never patched locally; every mutation is followed by a full
// re-fetch, so the view is eventually consistent with the server and
// never authoritative.
package cart

import (
	"context"
	"sync"

	"storefront/internal/api"
	"storefront/internal/models"
	"storefront/internal/util"

	"go.uber.org/zap"
)

// ViewModel wraps the cart endpoints with the snapshot/guard
// discipline the cart screen needs. Derived totals are pure functions
// of the snapshot and are recomputed on every call, never cached.
type ViewModel struct {
	client *api.Client
	logger *zap.Logger

	mu       sync.Mutex
	snapshot *models.Cart
	updating map[int64]bool // line id -> mutation in flight
}

// NewViewModel creates a cart view-model on top of the gateway client.
func NewViewModel(client *api.Client) *ViewModel {
	return &ViewModel{
		client:   client,
		logger:   util.GetLogger(),
		updating: make(map[int64]bool),
	}
}

// Load fetches the cart and replaces the entire snapshot. With no
// stored credential it returns an unauthenticated error without
// touching the network. On failure the previous snapshot is kept so
// the screen can keep rendering it next to a retry control.
func (vm *ViewModel) Load(ctx context.Context) error {
	fetched, err := vm.client.GetCart(ctx)
	if err != nil {
		return err
	}
	vm.mu.Lock()
	vm.snapshot = fetched
	vm.mu.Unlock()
	return nil
}

// Snapshot returns the last-fetched cart, or an empty cart when
// nothing has been loaded yet.
func (vm *ViewModel) Snapshot() models.Cart {
	vm.mu.Lock()
	defer vm.mu.Unlock()
	if vm.snapshot == nil {
		return models.Cart{}
	}
	return *vm.snapshot
}

// Updating reports whether a mutation for the given line is in flight.
func (vm *ViewModel) Updating(itemID int64) bool {
	vm.mu.Lock()
	defer vm.mu.Unlock()
	return vm.updating[itemID]
}

// beginUpdate marks a line busy. Returns false when a mutation for
// that line is already outstanding; the caller must then suppress the
// duplicate request.
func (vm *ViewModel) beginUpdate(itemID int64) bool {
	vm.mu.Lock()
	defer vm.mu.Unlock()
	if vm.updating[itemID] {
		return false
	}
	vm.updating[itemID] = true
	return true
}

func (vm *ViewModel) endUpdate(itemID int64) {
	vm.mu.Lock()
	defer vm.mu.Unlock()
	delete(vm.updating, itemID)
}

// ChangeQuantity sets a line's quantity. Quantities below 1 are
// rejected before any request is made: removal is an explicit,
// separate action. The snapshot is refreshed unconditionally after
// the mutation, whether it succeeded or not, so the view re-converges
// with the server; if both the mutation and the re-fetch fail, the
// prior snapshot stays in place.
func (vm *ViewModel) ChangeQuantity(ctx context.Context, itemID int64, quantity int) error {
	if quantity < 1 {
		return nil
	}
	if !vm.beginUpdate(itemID) {
		return nil
	}
	defer vm.endUpdate(itemID)

	mutErr := vm.client.UpdateCartItem(ctx, itemID, quantity)
	if err := vm.Load(ctx); err != nil {
		vm.logger.Warn("Cart re-fetch after update failed",
			zap.Int64("item_id", itemID),
			zap.Error(err))
		if mutErr == nil {
			return err
		}
	}
	return mutErr
}

// RemoveItem removes a line, keyed by line id, under the same busy
// guard and re-fetch discipline as ChangeQuantity.
func (vm *ViewModel) RemoveItem(ctx context.Context, itemID int64) error {
	if !vm.beginUpdate(itemID) {
		return nil
	}
	defer vm.endUpdate(itemID)

	mutErr := vm.client.RemoveCartItem(ctx, itemID)
	if err := vm.Load(ctx); err != nil {
		vm.logger.Warn("Cart re-fetch after removal failed",
			zap.Int64("item_id", itemID),
			zap.Error(err))
		if mutErr == nil {
			return err
		}
	}
	return mutErr
}

// Clear empties the server-side cart and refreshes the snapshot.
func (vm *ViewModel) Clear(ctx context.Context) error {
	if err := vm.client.ClearCart(ctx); err != nil {
		return err
	}
	return vm.Load(ctx)
}

// Subtotal is the sum of line totals over the current snapshot.
func (vm *ViewModel) Subtotal() float64 {
	return vm.Snapshot().Subtotal()
}

// Tax is the fixed-rate tax on the current subtotal.
func (vm *ViewModel) Tax() float64 {
	return vm.Snapshot().Tax()
}

// GrandTotal is subtotal plus tax for the current snapshot.
func (vm *ViewModel) GrandTotal() float64 {
	return vm.Snapshot().GrandTotal()
}
