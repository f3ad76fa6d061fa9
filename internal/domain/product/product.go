package product

import (
	"context"
	"slices"

	"github.com/go-faster/errors"
	"github.com/shopspring/decimal"
)

var (
	// ErrNotFound is returned when a requested product does not exist.
	ErrNotFound = errors.New("product not found")
	// ErrTransientFetch is returned when the catalog could not be reached or
	// answered with a retryable failure.
	ErrTransientFetch = errors.New("catalog temporarily unavailable")
	// ErrInvalid is returned by Validate for snapshots missing required fields.
	ErrInvalid = errors.New("invalid product")
)

// Product is an immutable snapshot of a catalog item.
type Product struct {
	ID          string
	Name        string
	Description string
	Price       decimal.Decimal
	ImageURL    string

	// Optional.
	Dimensions *Dimensions
	Tags       []string
	Features   []string
	Category   *Category
}

// Dimensions holds display strings for the physical size of a product.
type Dimensions struct {
	Height string
	Width  string
	Depth  string
}

// Category references the catalog category a product belongs to.
type Category struct {
	ID   string
	Name string
}

// Validate reports whether p is complete enough to be placed in a cart.
func (p Product) Validate() error {
	switch {
	case p.ID == "":
		return errors.Wrap(ErrInvalid, "empty id")
	case p.Name == "":
		return errors.Wrapf(ErrInvalid, "product %s: empty name", p.ID)
	case p.Price.IsNegative():
		return errors.Wrapf(ErrInvalid, "product %s: negative price", p.ID)
	}
	return nil
}

// Clone returns a deep copy of p so that callers holding the original cannot
// observe or cause mutations through shared slices or pointers.
func (p Product) Clone() Product {
	out := p
	out.Tags = slices.Clone(p.Tags)
	out.Features = slices.Clone(p.Features)
	if p.Dimensions != nil {
		d := *p.Dimensions
		out.Dimensions = &d
	}
	if p.Category != nil {
		c := *p.Category
		out.Category = &c
	}
	return out
}

// Catalog defines read operations against the product catalog.
type Catalog interface {
	FetchProduct(ctx context.Context, id string) (*Product, error)
	FetchByCategory(ctx context.Context, categoryID string) ([]Product, error)
	List(ctx context.Context) ([]Product, error)
}
