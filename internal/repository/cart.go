package repository

import (
	"context"
	"time"

	"github.com/go-faster/errors"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/xenking/storefront/internal/domain/cart"
)

const (
	loadCartSQL = `SELECT payload FROM cart_sessions
		WHERE session_id = $1 AND (expires_at IS NULL OR expires_at > now())`

	saveCartSQL = `INSERT INTO cart_sessions (session_id, payload, updated_at, expires_at)
		VALUES ($1, $2, now(), $3)
		ON CONFLICT (session_id) DO UPDATE SET
			payload = EXCLUDED.payload,
			updated_at = now(),
			expires_at = EXCLUDED.expires_at`

	deleteCartSQL = `DELETE FROM cart_sessions WHERE session_id = $1`

	purgeCartsSQL = `DELETE FROM cart_sessions WHERE expires_at IS NOT NULL AND expires_at <= now()`
)

var _ cart.Repository = (*CartRepository)(nil)

// CartRepository implements cart.Repository backed by PostgreSQL. Carts are
// stored as versioned JSONB snapshots.
type CartRepository struct {
	pool *pgxpool.Pool
	ttl  time.Duration
	now  func() time.Time
}

// NewCartRepository returns a CartRepository. A zero ttl keeps carts until
// they are deleted.
func NewCartRepository(pool *pgxpool.Pool, ttl time.Duration) *CartRepository {
	return &CartRepository{pool: pool, ttl: ttl, now: time.Now}
}

// Load returns the unexpired cart stored for sessionID.
func (r *CartRepository) Load(ctx context.Context, sessionID string) (*cart.Store, error) {
	var payload []byte
	if err := r.pool.QueryRow(ctx, loadCartSQL, sessionID).Scan(&payload); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, cart.ErrCartNotFound
		}
		return nil, errors.Wrapf(err, "load cart %q", sessionID)
	}

	s, err := cart.UnmarshalSnapshot(payload)
	if err != nil {
		return nil, errors.Wrapf(err, "decode cart %q", sessionID)
	}
	return s, nil
}

// Save stores s for sessionID, refreshing its expiry.
func (r *CartRepository) Save(ctx context.Context, sessionID string, s *cart.Store) error {
	var expiresAt *time.Time
	if r.ttl > 0 {
		t := r.now().Add(r.ttl)
		expiresAt = &t
	}

	if _, err := r.pool.Exec(ctx, saveCartSQL, sessionID, cart.MarshalSnapshot(s), expiresAt); err != nil {
		return errors.Wrapf(err, "save cart %q", sessionID)
	}
	return nil
}

// Delete removes the cart stored for sessionID, if any.
func (r *CartRepository) Delete(ctx context.Context, sessionID string) error {
	if _, err := r.pool.Exec(ctx, deleteCartSQL, sessionID); err != nil {
		return errors.Wrapf(err, "delete cart %q", sessionID)
	}
	return nil
}

// PurgeExpired deletes expired carts and returns how many were removed.
func (r *CartRepository) PurgeExpired(ctx context.Context) (int64, error) {
	tag, err := r.pool.Exec(ctx, purgeCartsSQL)
	if err != nil {
		return 0, errors.Wrap(err, "purge expired carts")
	}
	return tag.RowsAffected(), nil
}
