package repository

import (
	"context"

	"github.com/go-faster/errors"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/xenking/storefront/internal/domain/product"
)

const (
	productColumns = `id, name, description, price, image_url,
		dim_height, dim_width, dim_depth, tags, features, category_id, category_name`

	listProductsSQL = `SELECT ` + productColumns + ` FROM products ORDER BY name, id`

	getProductByIDSQL = `SELECT ` + productColumns + ` FROM products WHERE id = $1`

	getProductsByCategorySQL = `SELECT ` + productColumns + ` FROM products
		WHERE category_id = $1 ORDER BY name, id`

	upsertProductSQL = `INSERT INTO products (` + productColumns + `, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, now())
		ON CONFLICT (id) DO UPDATE SET
			name = EXCLUDED.name,
			description = EXCLUDED.description,
			price = EXCLUDED.price,
			image_url = EXCLUDED.image_url,
			dim_height = EXCLUDED.dim_height,
			dim_width = EXCLUDED.dim_width,
			dim_depth = EXCLUDED.dim_depth,
			tags = EXCLUDED.tags,
			features = EXCLUDED.features,
			category_id = EXCLUDED.category_id,
			category_name = EXCLUDED.category_name,
			updated_at = now()`
)

var _ product.Catalog = (*ProductRepository)(nil)

// ProductRepository implements product.Catalog backed by PostgreSQL.
type ProductRepository struct {
	pool *pgxpool.Pool
}

// NewProductRepository returns a ProductRepository that uses the given pool.
func NewProductRepository(pool *pgxpool.Pool) *ProductRepository {
	return &ProductRepository{pool: pool}
}

// List returns all products ordered by name.
func (r *ProductRepository) List(ctx context.Context) ([]product.Product, error) {
	rows, err := r.pool.Query(ctx, listProductsSQL)
	if err != nil {
		return nil, errors.Wrap(err, "list products")
	}
	return pgx.CollectRows(rows, scanProduct)
}

// FetchProduct returns a single product by its identifier.
func (r *ProductRepository) FetchProduct(ctx context.Context, id string) (*product.Product, error) {
	rows, err := r.pool.Query(ctx, getProductByIDSQL, id)
	if err != nil {
		return nil, errors.Wrapf(err, "get product %q", id)
	}

	p, err := pgx.CollectExactlyOneRow(rows, scanProduct)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, product.ErrNotFound
		}
		return nil, errors.Wrapf(err, "get product %q", id)
	}
	return &p, nil
}

// FetchByCategory returns the products in the given category.
func (r *ProductRepository) FetchByCategory(ctx context.Context, categoryID string) ([]product.Product, error) {
	rows, err := r.pool.Query(ctx, getProductsByCategorySQL, categoryID)
	if err != nil {
		return nil, errors.Wrapf(err, "get products in category %q", categoryID)
	}
	return pgx.CollectRows(rows, scanProduct)
}

// Upsert inserts p or replaces the stored product with the same id.
func (r *ProductRepository) Upsert(ctx context.Context, p product.Product) error {
	if _, err := r.pool.Exec(ctx, upsertProductSQL, upsertArgs(p)...); err != nil {
		return errors.Wrapf(err, "upsert product %q", p.ID)
	}
	return nil
}

// UpsertBatch upserts products in a single round trip.
func (r *ProductRepository) UpsertBatch(ctx context.Context, products []product.Product) error {
	if len(products) == 0 {
		return nil
	}
	b := &pgx.Batch{}
	for _, p := range products {
		b.Queue(upsertProductSQL, upsertArgs(p)...)
	}
	br := r.pool.SendBatch(ctx, b)
	for _, p := range products {
		if _, err := br.Exec(); err != nil {
			_ = br.Close()
			return errors.Wrapf(err, "upsert product %q", p.ID)
		}
	}
	if err := br.Close(); err != nil {
		return errors.Wrap(err, "close batch")
	}
	return nil
}

func upsertArgs(p product.Product) []any {
	var (
		height, width, depth *string
		catID, catName       *string
	)
	if d := p.Dimensions; d != nil {
		height, width, depth = &d.Height, &d.Width, &d.Depth
	}
	if c := p.Category; c != nil {
		catID, catName = &c.ID, &c.Name
	}
	return []any{
		p.ID, p.Name, p.Description, p.Price, p.ImageURL,
		height, width, depth, p.Tags, p.Features, catID, catName,
	}
}

func scanProduct(row pgx.CollectableRow) (product.Product, error) {
	var (
		p                    product.Product
		height, width, depth *string
		catID, catName       *string
	)
	err := row.Scan(
		&p.ID, &p.Name, &p.Description, &p.Price, &p.ImageURL,
		&height, &width, &depth, &p.Tags, &p.Features, &catID, &catName,
	)
	if err != nil {
		return p, err
	}

	if height != nil || width != nil || depth != nil {
		p.Dimensions = &product.Dimensions{
			Height: deref(height),
			Width:  deref(width),
			Depth:  deref(depth),
		}
	}
	if catID != nil {
		p.Category = &product.Category{ID: *catID, Name: deref(catName)}
	}
	return p, nil
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}
