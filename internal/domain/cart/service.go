package cart

import (
	"context"
	"hash/maphash"
	"sync"

	"github.com/go-faster/errors"
	"github.com/go-faster/sdk/zctx"
	"github.com/shopspring/decimal"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.uber.org/zap"

	"github.com/xenking/storefront/internal/domain/product"
)

var (
	// ErrCartNotFound is returned by a Repository when no cart is stored for
	// the session.
	ErrCartNotFound = errors.New("cart not found")
	// ErrEmptyCart is returned when checking out a cart without lines.
	ErrEmptyCart = errors.New("cart is empty")
	// ErrEmptySession is returned when an operation is called without a
	// session id.
	ErrEmptySession = errors.New("session id required")
)

// Repository persists one cart per session.
type Repository interface {
	// Load returns ErrCartNotFound when the session has no stored cart.
	Load(ctx context.Context, sessionID string) (*Store, error)
	Save(ctx context.Context, sessionID string, s *Store) error
	Delete(ctx context.Context, sessionID string) error
}

// Checkout is the result of completing checkout for a session.
type Checkout struct {
	Lines     []Line
	ItemCount int
	Total     decimal.Decimal
}

const lockShards = 64

// Service applies cart operations to session carts. Each operation loads the
// session's cart, applies the mutation, and saves the result while holding the
// session's lock, so concurrent requests for one session never lose updates.
type Service struct {
	catalog product.Catalog
	carts   Repository

	seed  maphash.Seed
	locks [lockShards]sync.Mutex

	mutations metric.Int64Counter
}

// NewService creates a cart Service.
func NewService(catalog product.Catalog, carts Repository, mp metric.MeterProvider) (*Service, error) {
	meter := mp.Meter("github.com/xenking/storefront/internal/domain/cart")
	mutations, err := meter.Int64Counter("cart.mutations",
		metric.WithDescription("Number of applied cart mutations by operation"),
	)
	if err != nil {
		return nil, errors.Wrap(err, "create cart.mutations counter")
	}
	return &Service{
		catalog:   catalog,
		carts:     carts,
		seed:      maphash.MakeSeed(),
		mutations: mutations,
	}, nil
}

func (s *Service) lock(sessionID string) func() {
	mu := &s.locks[maphash.String(s.seed, sessionID)%lockShards]
	mu.Lock()
	return mu.Unlock
}

func (s *Service) load(ctx context.Context, sessionID string) (*Store, error) {
	st, err := s.carts.Load(ctx, sessionID)
	if errors.Is(err, ErrCartNotFound) {
		return NewStore(), nil
	}
	if err != nil {
		return nil, errors.Wrap(err, "load cart")
	}
	return st, nil
}

// mutate runs fn against the session's cart and saves the result.
func (s *Service) mutate(ctx context.Context, op, sessionID string, fn func(*Store) error) (*Store, error) {
	if sessionID == "" {
		return nil, ErrEmptySession
	}
	defer s.lock(sessionID)()

	st, err := s.load(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	if err := fn(st); err != nil {
		return nil, err
	}

	if st.Len() == 0 {
		err = s.carts.Delete(ctx, sessionID)
	} else {
		err = s.carts.Save(ctx, sessionID, st)
	}
	if err != nil {
		return nil, errors.Wrap(err, "save cart")
	}

	s.mutations.Add(ctx, 1, metric.WithAttributes(attribute.String("op", op)))
	zctx.From(ctx).Debug("Cart updated",
		zap.String("op", op),
		zap.String("session", sessionID),
		zap.Int("lines", st.Len()),
	)
	return st, nil
}

// Get returns the session's cart, or an empty cart if none is stored.
func (s *Service) Get(ctx context.Context, sessionID string) (*Store, error) {
	if sessionID == "" {
		return nil, ErrEmptySession
	}
	defer s.lock(sessionID)()
	return s.load(ctx, sessionID)
}

// AddItem fetches the product from the catalog and adds quantity units of it
// to the session's cart. The cart is left untouched when the fetch fails.
func (s *Service) AddItem(ctx context.Context, sessionID, productID string, quantity int) (*Store, error) {
	if quantity < 1 || quantity > MaxQuantity {
		return nil, &InvalidQuantityError{ProductID: productID, Quantity: quantity}
	}

	// The session lock is not held while the catalog is queried.
	p, err := s.catalog.FetchProduct(ctx, productID)
	if err != nil {
		return nil, errors.Wrapf(err, "fetch product %s", productID)
	}

	return s.mutate(ctx, "add", sessionID, func(st *Store) error {
		_, err := st.Add(*p, quantity)
		return err
	})
}

// SetQuantity sets the quantity of a line; zero or less removes it.
func (s *Service) SetQuantity(ctx context.Context, sessionID, productID string, quantity int) (*Store, error) {
	return s.mutate(ctx, "set_quantity", sessionID, func(st *Store) error {
		st.SetQuantity(productID, quantity)
		return nil
	})
}

// RemoveItem removes a product from the session's cart.
func (s *Service) RemoveItem(ctx context.Context, sessionID, productID string) (*Store, error) {
	return s.mutate(ctx, "remove", sessionID, func(st *Store) error {
		st.Remove(productID)
		return nil
	})
}

// Clear empties the session's cart.
func (s *Service) Clear(ctx context.Context, sessionID string) (*Store, error) {
	return s.mutate(ctx, "clear", sessionID, func(st *Store) error {
		st.Clear()
		return nil
	})
}

// CompleteCheckout captures the session's lines and total, then clears the
// cart. Payment is handled elsewhere.
func (s *Service) CompleteCheckout(ctx context.Context, sessionID string) (*Checkout, error) {
	var out Checkout
	_, err := s.mutate(ctx, "checkout", sessionID, func(st *Store) error {
		if st.Len() == 0 {
			return ErrEmptyCart
		}
		out = Checkout{
			Lines:     st.List(),
			ItemCount: st.ItemCount(),
			Total:     st.Total(),
		}
		st.Clear()
		return nil
	})
	if err != nil {
		return nil, err
	}

	zctx.From(ctx).Info("Checkout completed",
		zap.String("session", sessionID),
		zap.Int("items", out.ItemCount),
		zap.String("total", out.Total.StringFixed(2)),
	)
	return &out, nil
}
