// Package cart implements the shopping cart: an ordered set of product lines
// keyed by product id, and the service that persists one cart per session.
package cart

import (
	"fmt"
	"slices"

	"github.com/go-faster/errors"
	"github.com/shopspring/decimal"

	"github.com/xenking/storefront/internal/domain/product"
)

// ErrInvalidProduct is returned by Add for snapshots that fail validation.
var ErrInvalidProduct = errors.New("invalid product snapshot")

// MaxQuantity is the largest quantity a single line may hold.
const MaxQuantity = 9999

// InvalidQuantityError indicates an add request with a non-positive quantity
// or one that would take the line above MaxQuantity.
type InvalidQuantityError struct {
	ProductID string
	Quantity  int
}

func (e *InvalidQuantityError) Error() string {
	return fmt.Sprintf("quantity must be between 1 and %d for product %s, got %d", MaxQuantity, e.ProductID, e.Quantity)
}

// Line is a product snapshot together with the quantity held in the cart.
type Line struct {
	Product  product.Product
	Quantity int
}

// Subtotal returns unit price times quantity, unrounded.
func (l Line) Subtotal() decimal.Decimal {
	return l.Product.Price.Mul(decimal.NewFromInt(int64(l.Quantity)))
}

func (l Line) clone() Line {
	return Line{Product: l.Product.Clone(), Quantity: l.Quantity}
}

// Store owns the lines of a single cart.
//
// Every line has Quantity >= 1 and there is at most one line per product id.
// Lines are kept in the order their product was first added; removing and
// re-adding a product moves it to the end.
//
// Store is not safe for concurrent use. Service serializes access per session.
type Store struct {
	order []string
	lines map[string]*Line
}

// NewStore returns an empty cart.
func NewStore() *Store {
	return &Store{lines: make(map[string]*Line)}
}

// List returns copies of the current lines in insertion order.
func (s *Store) List() []Line {
	out := make([]Line, 0, len(s.order))
	for _, id := range s.order {
		out = append(out, s.lines[id].clone())
	}
	return out
}

// Line returns a copy of the line for productID.
func (s *Store) Line(productID string) (Line, bool) {
	l, ok := s.lines[productID]
	if !ok {
		return Line{}, false
	}
	return l.clone(), true
}

// Len returns the number of distinct products in the cart.
func (s *Store) Len() int {
	return len(s.order)
}

// ItemCount returns the sum of all line quantities.
func (s *Store) ItemCount() int {
	var n int
	for _, l := range s.lines {
		n += l.Quantity
	}
	return n
}

// Add puts quantity units of p into the cart. If p is already present its
// quantity is incremented and the snapshot captured on first add is kept;
// otherwise a new line is appended.
func (s *Store) Add(p product.Product, quantity int) (Line, error) {
	if quantity < 1 || quantity > MaxQuantity {
		return Line{}, &InvalidQuantityError{ProductID: p.ID, Quantity: quantity}
	}
	if err := p.Validate(); err != nil {
		return Line{}, fmt.Errorf("%w: %w", ErrInvalidProduct, err)
	}

	if l, ok := s.lines[p.ID]; ok {
		if l.Quantity > MaxQuantity-quantity {
			return Line{}, &InvalidQuantityError{ProductID: p.ID, Quantity: l.Quantity + quantity}
		}
		l.Quantity += quantity
		return l.clone(), nil
	}

	l := &Line{Product: p.Clone(), Quantity: quantity}
	s.lines[p.ID] = l
	s.order = append(s.order, p.ID)
	return l.clone(), nil
}

// AddOne adds a single unit of p.
func (s *Store) AddOne(p product.Product) (Line, error) {
	return s.Add(p, 1)
}

// SetQuantity sets the quantity of an existing line. A quantity of zero or
// less removes the line; one above MaxQuantity is capped. Absent products are
// left absent.
func (s *Store) SetQuantity(productID string, quantity int) {
	if quantity <= 0 {
		s.Remove(productID)
		return
	}
	quantity = min(quantity, MaxQuantity)
	if l, ok := s.lines[productID]; ok {
		l.Quantity = quantity
	}
}

// Remove deletes the line for productID if present.
func (s *Store) Remove(productID string) {
	if _, ok := s.lines[productID]; !ok {
		return
	}
	delete(s.lines, productID)
	if i := slices.Index(s.order, productID); i >= 0 {
		s.order = slices.Delete(s.order, i, i+1)
	}
}

// Total returns the exact sum of all line subtotals. Rounding is left to the
// caller presenting the value.
func (s *Store) Total() decimal.Decimal {
	total := decimal.Zero
	for _, l := range s.lines {
		total = total.Add(l.Subtotal())
	}
	return total
}

// Clear empties the cart.
func (s *Store) Clear() {
	s.order = nil
	clear(s.lines)
}
