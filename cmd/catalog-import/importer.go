package main

import (
	"bufio"
	"bytes"
	"context"
	"math/bits"
	"os"
	"sync"
	"sync/atomic"

	"github.com/bits-and-blooms/bloom/v3"
	"github.com/go-faster/errors"
	"github.com/go-faster/jx"
	pgzip "github.com/klauspost/pgzip"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/xenking/storefront/internal/domain/product"
)

const (
	bloomFPR     = 0.001
	maxLineBytes = 1 << 20
)

// Sink receives validated products. *repository.ProductRepository
// implements it.
type Sink interface {
	UpsertBatch(ctx context.Context, products []product.Product) error
}

type discardSink struct{}

func (discardSink) UpsertBatch(context.Context, []product.Product) error { return nil }

// Options tunes an import run.
type Options struct {
	BatchSize        int
	Workers          int
	ExpectedProducts uint
	Strict           bool
	DryRun           bool
}

// Stats counts lines across all files.
type Stats struct {
	Lines      atomic.Int64
	Imported   atomic.Int64
	Duplicates atomic.Int64
	Invalid    atomic.Int64
}

// Importer loads product files in three passes: a bloom filter of ids per
// file, exact detection of ids shared between files, then the upsert.
type Importer struct {
	lg   *zap.Logger
	sink Sink
	opts Options
}

// NewImporter returns an Importer with defaults filled in for zero options.
func NewImporter(lg *zap.Logger, sink Sink, opts Options) *Importer {
	if opts.BatchSize <= 0 {
		opts.BatchSize = 500
	}
	if opts.Workers <= 0 {
		opts.Workers = 1
	}
	if opts.ExpectedProducts == 0 {
		opts.ExpectedProducts = 10_000
	}
	return &Importer{lg: lg, sink: sink, opts: opts}
}

// Run imports files and returns the counters.
func (im *Importer) Run(ctx context.Context, files []string) (*Stats, error) {
	if len(files) > bits.UintSize {
		return nil, errors.Errorf("at most %d files per run, got %d", bits.UintSize, len(files))
	}
	for _, f := range files {
		if _, err := os.Stat(f); err != nil {
			return nil, errors.Wrapf(err, "check file %s", f)
		}
	}

	im.lg.Info("Pass 1: building bloom filters", zap.Int("files", len(files)))
	filters, err := im.buildFilters(ctx, files)
	if err != nil {
		return nil, errors.Wrap(err, "build bloom filters")
	}

	im.lg.Info("Pass 2: finding ids shared between files")
	owners, err := im.findShared(ctx, files, filters)
	if err != nil {
		return nil, errors.Wrap(err, "find shared ids")
	}
	im.lg.Info("Shared ids", zap.Int("count", len(owners)))

	im.lg.Info("Pass 3: importing products")
	stats := &Stats{}
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(im.opts.Workers)
	for i, f := range files {
		g.Go(func() error {
			if err := im.importFile(gctx, i, f, owners, stats); err != nil {
				return errors.Wrapf(err, "import %s", f)
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return stats, err
	}
	return stats, nil
}

func (im *Importer) buildFilters(ctx context.Context, files []string) ([]*bloom.BloomFilter, error) {
	filters := make([]*bloom.BloomFilter, len(files))
	g, ctx := errgroup.WithContext(ctx)
	for i, f := range files {
		g.Go(func() error {
			filter := bloom.NewWithEstimates(im.opts.ExpectedProducts, bloomFPR)
			var n int
			if err := streamGzFile(ctx, f, func(_ int, line []byte) error {
				if id, err := productID(line); err == nil && id != "" {
					filter.AddString(id)
					n++
				}
				return nil
			}); err != nil {
				return err
			}
			im.lg.Debug("Filter built", zap.String("file", f), zap.Int("ids", n))
			filters[i] = filter
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return filters, nil
}

// findShared returns, for every id present in more than one file, the index
// of the first file containing it. Bloom hits are confirmed by requiring the
// id to be read from at least two files.
func (im *Importer) findShared(ctx context.Context, files []string, filters []*bloom.BloomFilter) (map[string]int, error) {
	if len(files) < 2 {
		return map[string]int{}, nil
	}
	var mu sync.Mutex
	masks := make(map[string]uint)
	g, gctx := errgroup.WithContext(ctx)
	for i, f := range files {
		g.Go(func() error {
			bit := uint(1) << uint(i)
			local := make(map[string]uint)
			err := streamGzFile(gctx, f, func(_ int, line []byte) error {
				id, err := productID(line)
				if err != nil || id == "" {
					return nil
				}
				for j, other := range filters {
					if j != i && other.TestString(id) {
						local[id] |= bit
						break
					}
				}
				return nil
			})
			if err != nil {
				return err
			}
			mu.Lock()
			for id, m := range local {
				masks[id] |= m
			}
			mu.Unlock()
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	owners := make(map[string]int)
	for id, m := range masks {
		if bits.OnesCount(m) >= 2 {
			owners[id] = bits.TrailingZeros(m)
		}
	}
	return owners, nil
}

func (im *Importer) importFile(ctx context.Context, idx int, path string, owners map[string]int, stats *Stats) error {
	batch := make([]product.Product, 0, im.opts.BatchSize)
	flush := func() error {
		if len(batch) == 0 {
			return nil
		}
		if err := im.sink.UpsertBatch(ctx, batch); err != nil {
			return err
		}
		stats.Imported.Add(int64(len(batch)))
		batch = batch[:0]
		return nil
	}

	err := streamGzFile(ctx, path, func(lineNo int, line []byte) error {
		stats.Lines.Add(1)
		p, err := parseProduct(line)
		if err != nil {
			stats.Invalid.Add(1)
			if im.opts.Strict {
				return errors.Wrapf(err, "line %d", lineNo)
			}
			im.lg.Warn("Skipping invalid line", zap.String("file", path), zap.Int("line", lineNo), zap.Error(err))
			return nil
		}
		if owner, shared := owners[p.ID]; shared && owner != idx {
			stats.Duplicates.Add(1)
			im.lg.Debug("Skipping duplicate", zap.String("id", p.ID), zap.String("file", path))
			return nil
		}
		batch = append(batch, p)
		if len(batch) >= im.opts.BatchSize {
			return flush()
		}
		return nil
	})
	if err != nil {
		return err
	}
	return flush()
}

// parseProduct decodes and validates one JSON line.
func parseProduct(line []byte) (product.Product, error) {
	var p product.Product
	if err := p.Decode(jx.DecodeBytes(line)); err != nil {
		return product.Product{}, errors.Wrap(err, "decode product")
	}
	if err := p.Validate(); err != nil {
		return product.Product{}, err
	}
	return p, nil
}

// productID reads only the "id" field of a JSON line.
func productID(line []byte) (string, error) {
	var id string
	err := jx.DecodeBytes(line).Obj(func(d *jx.Decoder, key string) error {
		if key != "id" {
			return d.Skip()
		}
		var err error
		id, err = d.Str()
		return err
	})
	return id, err
}

// streamGzFile calls fn for every non-blank line of a gzip-compressed file.
// Line numbers start at 1.
func streamGzFile(ctx context.Context, path string, fn func(lineNo int, line []byte) error) error {
	f, err := os.Open(path)
	if err != nil {
		return errors.Wrapf(err, "open %s", path)
	}
	defer func() { _ = f.Close() }()

	gz, err := pgzip.NewReader(f)
	if err != nil {
		return errors.Wrapf(err, "create gzip reader for %s", path)
	}
	defer func() { _ = gz.Close() }()

	scanner := bufio.NewScanner(gz)
	scanner.Buffer(make([]byte, 64<<10), maxLineBytes)
	var lineNo int
	for scanner.Scan() {
		lineNo++
		if err := ctx.Err(); err != nil {
			return err
		}
		line := bytes.TrimSpace(scanner.Bytes())
		if len(line) == 0 {
			continue
		}
		if err := fn(lineNo, line); err != nil {
			return err
		}
	}
	if err := scanner.Err(); err != nil {
		return errors.Wrapf(err, "scan %s", path)
	}
	return nil
}
