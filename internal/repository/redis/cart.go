// Package redis implements cart.Repository on Redis. Each session's cart is a
// single key holding the versioned snapshot, expiring after the configured TTL.
package redis

import (
	"context"
	"time"

	"github.com/go-faster/errors"
	goredis "github.com/redis/go-redis/v9"

	"github.com/xenking/storefront/internal/domain/cart"
)

const keyPrefix = "cart:"

var _ cart.Repository = (*CartRepository)(nil)

// CartRepository stores carts in Redis.
type CartRepository struct {
	client goredis.UniversalClient
	ttl    time.Duration
}

// NewCartRepository creates a Redis-backed cart repository. A zero ttl keeps
// carts until they are deleted.
func NewCartRepository(client goredis.UniversalClient, ttl time.Duration) *CartRepository {
	return &CartRepository{client: client, ttl: ttl}
}

// Load returns the cart stored for sessionID.
func (r *CartRepository) Load(ctx context.Context, sessionID string) (*cart.Store, error) {
	data, err := r.client.Get(ctx, keyPrefix+sessionID).Bytes()
	if err != nil {
		if errors.Is(err, goredis.Nil) {
			return nil, cart.ErrCartNotFound
		}
		return nil, errors.Wrap(err, "redis get cart")
	}

	s, err := cart.UnmarshalSnapshot(data)
	if err != nil {
		return nil, errors.Wrapf(err, "decode cart %q", sessionID)
	}
	return s, nil
}

// Save stores s and refreshes the key's TTL.
func (r *CartRepository) Save(ctx context.Context, sessionID string, s *cart.Store) error {
	if err := r.client.Set(ctx, keyPrefix+sessionID, cart.MarshalSnapshot(s), r.ttl).Err(); err != nil {
		return errors.Wrap(err, "redis set cart")
	}
	return nil
}

// Delete removes the cart stored for sessionID.
func (r *CartRepository) Delete(ctx context.Context, sessionID string) error {
	if err := r.client.Del(ctx, keyPrefix+sessionID).Err(); err != nil {
		return errors.Wrap(err, "redis del cart")
	}
	return nil
}
