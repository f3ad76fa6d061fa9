package main

import (
	"context"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"sync"
	"testing"

	pgzip "github.com/klauspost/pgzip"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/xenking/storefront/internal/domain/product"
)

type memSink struct {
	mu       sync.Mutex
	products map[string]product.Product
	batches  int
}

func newMemSink() *memSink {
	return &memSink{products: make(map[string]product.Product)}
}

func (s *memSink) UpsertBatch(_ context.Context, products []product.Product) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.batches++
	for _, p := range products {
		s.products[p.ID] = p
	}
	return nil
}

func (s *memSink) ids() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	var ids []string
	for id := range s.products {
		ids = append(ids, id)
	}
	slices.Sort(ids)
	return ids
}

func writeGz(t *testing.T, name string, lines ...string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	f, err := os.Create(path)
	require.NoError(t, err)
	gz := pgzip.NewWriter(f)
	_, err = gz.Write([]byte(strings.Join(lines, "\n") + "\n"))
	require.NoError(t, err)
	require.NoError(t, gz.Close())
	require.NoError(t, f.Close())
	return path
}

func TestImporter_Run(t *testing.T) {
	first := writeGz(t, "first.jsonl.gz",
		`{"id":"chair","name":"Chair","price":"149.90","category":{"id":"seating","name":"Seating"}}`,
		`{"id":"lamp","name":"Lamp","price":19.99}`,
		``,
		`{"id":"broken","name":"Broken","price":-1}`,
	)
	second := writeGz(t, "second.jsonl.gz",
		`{"id":"chair","name":"Chair v2","price":99}`,
		`{"id":"rug","name":"Rug","price":80,"tags":["wool"]}`,
		`not json`,
	)

	sink := newMemSink()
	im := NewImporter(zaptest.NewLogger(t), sink, Options{BatchSize: 1, Workers: 2, ExpectedProducts: 100})
	stats, err := im.Run(context.Background(), []string{first, second})
	require.NoError(t, err)

	assert.Equal(t, []string{"chair", "lamp", "rug"}, sink.ids())
	assert.Equal(t, "Chair", sink.products["chair"].Name, "first file wins")
	assert.Equal(t, "149.9", sink.products["chair"].Price.String())
	assert.Equal(t, []string{"wool"}, sink.products["rug"].Tags)
	assert.Equal(t, 3, sink.batches)

	assert.EqualValues(t, 6, stats.Lines.Load())
	assert.EqualValues(t, 3, stats.Imported.Load())
	assert.EqualValues(t, 1, stats.Duplicates.Load())
	assert.EqualValues(t, 2, stats.Invalid.Load())
}

func TestImporter_Strict(t *testing.T) {
	path := writeGz(t, "bad.jsonl.gz",
		`{"id":"ok","name":"Ok","price":1}`,
		`{"id":"","name":"NoID","price":1}`,
	)
	im := NewImporter(zaptest.NewLogger(t), newMemSink(), Options{Strict: true})
	_, err := im.Run(context.Background(), []string{path})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "line 2")
}

func TestImporter_MissingFile(t *testing.T) {
	im := NewImporter(zaptest.NewLogger(t), newMemSink(), Options{})
	_, err := im.Run(context.Background(), []string{filepath.Join(t.TempDir(), "nope.gz")})
	require.Error(t, err)
}

func TestImporter_NotGzip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "plain.jsonl")
	require.NoError(t, os.WriteFile(path, []byte(`{"id":"a"}`), 0o600))

	im := NewImporter(zaptest.NewLogger(t), newMemSink(), Options{})
	_, err := im.Run(context.Background(), []string{path})
	require.Error(t, err)
}

func TestImporter_Cancelled(t *testing.T) {
	path := writeGz(t, "a.jsonl.gz", `{"id":"a","name":"A","price":1}`)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	im := NewImporter(zaptest.NewLogger(t), newMemSink(), Options{})
	_, err := im.Run(ctx, []string{path})
	require.ErrorIs(t, err, context.Canceled)
}

func TestFindShared_ConfirmsBloomHits(t *testing.T) {
	a := writeGz(t, "a.gz", `{"id":"x"}`, `{"id":"y"}`)
	b := writeGz(t, "b.gz", `{"id":"y"}`, `{"id":"z"}`)
	c := writeGz(t, "c.gz", `{"id":"z"}`, `{"id":"y"}`)

	im := NewImporter(zaptest.NewLogger(t), newMemSink(), Options{ExpectedProducts: 10})
	ctx := context.Background()
	files := []string{a, b, c}
	filters, err := im.buildFilters(ctx, files)
	require.NoError(t, err)

	owners, err := im.findShared(ctx, files, filters)
	require.NoError(t, err)
	assert.Equal(t, map[string]int{"y": 0, "z": 1}, owners)
}

func TestProductID(t *testing.T) {
	id, err := productID([]byte(`{"name":"n","nested":{"id":"inner"},"id":"outer"}`))
	require.NoError(t, err)
	assert.Equal(t, "outer", id)

	_, err = productID([]byte(`[]`))
	require.Error(t, err)
}

func TestRootCmd_DryRun(t *testing.T) {
	path := writeGz(t, "a.jsonl.gz", `{"id":"a","name":"A","price":1}`)
	cmd := newRootCmd()
	cmd.SetArgs([]string{"--dry-run", path})
	require.NoError(t, cmd.ExecuteContext(context.Background()))
}

func TestRootCmd_RequiresDatabase(t *testing.T) {
	t.Setenv("DATABASE_URL", "")
	path := writeGz(t, "a.jsonl.gz", `{"id":"a","name":"A","price":1}`)
	cmd := newRootCmd()
	cmd.SetArgs([]string{path})
	cmd.SetErr(&strings.Builder{})
	err := cmd.ExecuteContext(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "database URL")
}
