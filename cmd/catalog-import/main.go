// Command catalog-import loads gzip-compressed JSON-lines product files into
// the PostgreSQL catalog.
package main

import (
	"context"
	"os"
	"os/signal"

	"github.com/go-faster/errors"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/xenking/storefront/internal/repository"
)

func main() {
	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt)
	defer cancel()

	if err := newRootCmd().ExecuteContext(ctx); err != nil {
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	var (
		databaseURL string
		opts        Options
		verbose     bool
	)
	cmd := &cobra.Command{
		Use:   "catalog-import [file.jsonl.gz...]",
		Short: "Import products from gzip-compressed JSON-lines files",
		Long: `Reads one product object per line from each file and upserts them into
the products table. When an id appears in more than one file the first file
on the command line wins.`,
		Args:         cobra.MinimumNArgs(1),
		SilenceUsage: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			lg, err := newLogger(verbose)
			if err != nil {
				return err
			}
			defer func() { _ = lg.Sync() }()

			if databaseURL == "" {
				databaseURL = os.Getenv("DATABASE_URL")
			}
			ctx := cmd.Context()

			var sink Sink = discardSink{}
			if !opts.DryRun {
				if databaseURL == "" {
					return errors.New("database URL is required: set --database-url or DATABASE_URL")
				}
				pool, err := repository.NewPool(ctx, databaseURL)
				if err != nil {
					return errors.Wrap(err, "connect to database")
				}
				defer pool.Close()
				if err := repository.RunMigrations(ctx, pool); err != nil {
					return err
				}
				sink = repository.NewProductRepository(pool)
			}

			stats, err := NewImporter(lg, sink, opts).Run(ctx, args)
			if err != nil {
				lg.Error("Import failed", zap.Error(err))
				return err
			}
			lg.Info("Import completed",
				zap.Int64("lines", stats.Lines.Load()),
				zap.Int64("imported", stats.Imported.Load()),
				zap.Int64("duplicates", stats.Duplicates.Load()),
				zap.Int64("invalid", stats.Invalid.Load()),
				zap.Bool("dry_run", opts.DryRun),
			)
			return nil
		},
	}

	f := cmd.Flags()
	f.StringVar(&databaseURL, "database-url", "", "PostgreSQL connection URL (or DATABASE_URL env)")
	f.IntVar(&opts.BatchSize, "batch-size", 500, "products per upsert batch")
	f.IntVar(&opts.Workers, "workers", 4, "files imported concurrently")
	f.UintVar(&opts.ExpectedProducts, "expected", 1_000_000, "expected products per file, sizes the bloom filters")
	f.BoolVar(&opts.Strict, "strict", false, "fail on the first invalid line instead of skipping it")
	f.BoolVar(&opts.DryRun, "dry-run", false, "parse and validate without writing to the database")
	f.BoolVarP(&verbose, "verbose", "v", false, "debug logging")
	return cmd
}

func newLogger(verbose bool) (*zap.Logger, error) {
	cfg := zap.NewProductionConfig()
	if verbose {
		cfg.Level = zap.NewAtomicLevelAt(zap.DebugLevel)
	}
	lg, err := cfg.Build()
	if err != nil {
		return nil, errors.Wrap(err, "build logger")
	}
	return lg, nil
}
