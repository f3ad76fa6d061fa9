//go:build integration

package repository

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"

	"github.com/xenking/storefront/internal/domain/cart"
	"github.com/xenking/storefront/internal/domain/product"
)

func startPostgres(t *testing.T) *pgxpool.Pool {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Minute)
	defer cancel()

	c, err := testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{
		ContainerRequest: testcontainers.ContainerRequest{
			Image:        "postgres:16-alpine",
			ExposedPorts: []string{"5432/tcp"},
			Env: map[string]string{
				"POSTGRES_USER":     "shop",
				"POSTGRES_PASSWORD": "shop",
				"POSTGRES_DB":       "shop",
			},
			WaitingFor: wait.ForLog("database system is ready to accept connections").
				WithOccurrence(2).
				WithStartupTimeout(time.Minute),
		},
		Started: true,
	})
	require.NoError(t, err)
	t.Cleanup(func() { _ = c.Terminate(context.Background()) })

	host, err := c.Host(ctx)
	require.NoError(t, err)
	port, err := c.MappedPort(ctx, "5432/tcp")
	require.NoError(t, err)

	pool, err := NewPool(ctx, fmt.Sprintf("postgres://shop:shop@%s:%s/shop?sslmode=disable", host, port.Port()))
	require.NoError(t, err)
	t.Cleanup(pool.Close)

	require.NoError(t, RunMigrations(ctx, pool))
	return pool
}

func TestPostgres(t *testing.T) {
	pool := startPostgres(t)

	t.Run("Products", func(t *testing.T) {
		repo := NewProductRepository(pool)
		ctx := context.Background()

		chair := product.Product{
			ID:          "chair",
			Name:        "Chair",
			Description: "Oak chair",
			Price:       decimal.RequireFromString("149.90"),
			ImageURL:    "chair.png",
			Dimensions:  &product.Dimensions{Height: "90cm", Width: "45cm", Depth: "50cm"},
			Tags:        []string{"oak"},
			Features:    []string{"stackable"},
			Category:    &product.Category{ID: "seating", Name: "Seating"},
		}
		lamp := product.Product{ID: "lamp", Name: "Lamp", Price: decimal.RequireFromString("19.99")}

		require.NoError(t, repo.Upsert(ctx, chair))
		require.NoError(t, repo.Upsert(ctx, lamp))

		got, err := repo.FetchProduct(ctx, "chair")
		require.NoError(t, err)
		assert.Equal(t, "Oak chair", got.Description)
		assert.True(t, chair.Price.Equal(got.Price))
		assert.Equal(t, chair.Dimensions, got.Dimensions)
		assert.Equal(t, chair.Tags, got.Tags)
		assert.Equal(t, chair.Category, got.Category)

		got, err = repo.FetchProduct(ctx, "lamp")
		require.NoError(t, err)
		assert.Nil(t, got.Dimensions)
		assert.Nil(t, got.Category)

		_, err = repo.FetchProduct(ctx, "missing")
		require.ErrorIs(t, err, product.ErrNotFound)

		seating, err := repo.FetchByCategory(ctx, "seating")
		require.NoError(t, err)
		require.Len(t, seating, 1)
		assert.Equal(t, "chair", seating[0].ID)

		all, err := repo.List(ctx)
		require.NoError(t, err)
		assert.Len(t, all, 2)

		lamp.Price = decimal.RequireFromString("24.50")
		require.NoError(t, repo.UpsertBatch(ctx, []product.Product{
			lamp,
			{ID: "rug", Name: "Rug", Price: decimal.RequireFromString("80"), Tags: []string{}, Features: []string{}},
		}))
		got, err = repo.FetchProduct(ctx, "lamp")
		require.NoError(t, err)
		assert.Equal(t, "24.5", got.Price.String())

		all, err = repo.List(ctx)
		require.NoError(t, err)
		assert.Len(t, all, 3)
	})

	t.Run("Carts", func(t *testing.T) {
		repo := NewCartRepository(pool, time.Hour)
		ctx := context.Background()

		_, err := repo.Load(ctx, "s1")
		require.ErrorIs(t, err, cart.ErrCartNotFound)

		s := cart.NewStore()
		_, err = s.Add(product.Product{ID: "b", Name: "B", Price: decimal.RequireFromString("5.50")}, 3)
		require.NoError(t, err)
		_, err = s.Add(product.Product{ID: "a", Name: "A", Price: decimal.RequireFromString("19.99")}, 2)
		require.NoError(t, err)
		require.NoError(t, repo.Save(ctx, "s1", s))

		loaded, err := repo.Load(ctx, "s1")
		require.NoError(t, err)
		lines := loaded.List()
		require.Len(t, lines, 2)
		assert.Equal(t, "b", lines[0].Product.ID)
		assert.Equal(t, "a", lines[1].Product.ID)
		assert.Equal(t, "56.48", loaded.Total().StringFixed(2))

		require.NoError(t, repo.Delete(ctx, "s1"))
		_, err = repo.Load(ctx, "s1")
		require.ErrorIs(t, err, cart.ErrCartNotFound)
	})

	t.Run("CartExpiry", func(t *testing.T) {
		repo := NewCartRepository(pool, time.Hour)
		repo.now = func() time.Time { return time.Now().Add(-2 * time.Hour) }
		ctx := context.Background()

		s := cart.NewStore()
		_, err := s.AddOne(product.Product{ID: "a", Name: "A", Price: decimal.NewFromInt(1)})
		require.NoError(t, err)
		require.NoError(t, repo.Save(ctx, "stale", s))

		_, err = repo.Load(ctx, "stale")
		require.ErrorIs(t, err, cart.ErrCartNotFound)

		n, err := repo.PurgeExpired(ctx)
		require.NoError(t, err)
		assert.GreaterOrEqual(t, n, int64(1))
	})
}
