// Package memory implements cart.Repository in process memory. Carts do not
// survive a restart.
package memory

import (
	"context"
	"sync"

	"github.com/xenking/storefront/internal/domain/cart"
)

var _ cart.Repository = (*CartRepository)(nil)

// CartRepository keeps encoded cart snapshots in a map, so stores returned by
// Load never alias what was saved.
type CartRepository struct {
	mu    sync.RWMutex
	carts map[string][]byte
}

// NewCartRepository returns an empty in-memory repository.
func NewCartRepository() *CartRepository {
	return &CartRepository{carts: make(map[string][]byte)}
}

// Load returns the cart stored for sessionID.
func (r *CartRepository) Load(_ context.Context, sessionID string) (*cart.Store, error) {
	r.mu.RLock()
	data, ok := r.carts[sessionID]
	r.mu.RUnlock()
	if !ok {
		return nil, cart.ErrCartNotFound
	}
	return cart.UnmarshalSnapshot(data)
}

// Save stores a snapshot of s.
func (r *CartRepository) Save(_ context.Context, sessionID string, s *cart.Store) error {
	data := cart.MarshalSnapshot(s)
	r.mu.Lock()
	r.carts[sessionID] = data
	r.mu.Unlock()
	return nil
}

// Delete removes the cart stored for sessionID.
func (r *CartRepository) Delete(_ context.Context, sessionID string) error {
	r.mu.Lock()
	delete(r.carts, sessionID)
	r.mu.Unlock()
	return nil
}

// Len returns the number of stored carts.
func (r *CartRepository) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.carts)
}
