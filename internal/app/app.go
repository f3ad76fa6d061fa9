// Package app wires configuration, adapters and the HTTP server together.
package app

import (
	"context"
	"net/http"
	"time"

	"github.com/go-faster/errors"
	"github.com/go-faster/sdk/app"
	"github.com/jackc/pgx/v5/pgxpool"
	goredis "github.com/redis/go-redis/v9"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/xenking/storefront/internal/catalog/sanity"
	"github.com/xenking/storefront/internal/domain/cart"
	"github.com/xenking/storefront/internal/domain/product"
	"github.com/xenking/storefront/internal/handler"
	"github.com/xenking/storefront/internal/repository"
	"github.com/xenking/storefront/internal/repository/memory"
	"github.com/xenking/storefront/internal/repository/redis"
	"github.com/xenking/storefront/pkg/health"
	"github.com/xenking/storefront/pkg/httpmiddleware"
)

// Server is a fully wired storefront API.
type Server struct {
	cfg    *Config
	lg     *zap.Logger
	health *health.Health
	http   *http.Server
	// purge deletes expired carts; nil when the backend expires keys itself.
	purge  func(ctx context.Context) (int64, error)
	closer []func()
}

// NewServer creates every dependency selected by cfg. Close releases them.
func NewServer(ctx context.Context, lg *zap.Logger, tp trace.TracerProvider, mp metric.MeterProvider, cfg *Config) (_ *Server, rerr error) {
	s := &Server{
		cfg:    cfg,
		lg:     lg,
		health: health.New(health.WithLogger(lg.Named("health"))),
	}
	defer func() {
		if rerr != nil {
			s.Close()
		}
	}()
	s.health.Add(health.Liveness, "goroutines", time.Second, health.GoroutineCountCheck(10000))

	var pool *pgxpool.Pool
	if cfg.needsPostgres() {
		var err error
		if pool, err = repository.NewPool(ctx, cfg.DatabaseURL); err != nil {
			return nil, errors.Wrap(err, "create db pool")
		}
		s.closer = append(s.closer, pool.Close)
		if err := repository.RunMigrations(ctx, pool); err != nil {
			return nil, errors.Wrap(err, "run migrations")
		}
		s.health.Add(health.Readiness, "postgres", 5*time.Second, health.PingCheck("postgres", pool))
	}

	var catalog product.Catalog
	switch cfg.Catalog.Source {
	case SourcePostgres:
		catalog = repository.NewProductRepository(pool)
	default:
		sc := cfg.Catalog.Sanity
		client, err := sanity.New(sanity.Config{
			ProjectID:  sc.ProjectID,
			Dataset:    sc.Dataset,
			APIVersion: sc.APIVersion,
			UseCDN:     sc.UseCDN,
			Token:      sc.Token,
			Timeout:    sc.Timeout,
			BaseURL:    sc.BaseURL,
		}, sanity.WithTelemetry(tp, mp))
		if err != nil {
			return nil, errors.Wrap(err, "create sanity client")
		}
		catalog = client
	}

	var carts cart.Repository
	switch cfg.Cart.Backend {
	case BackendRedis:
		opts, err := cfg.Redis.options()
		if err != nil {
			return nil, err
		}
		rdb := goredis.NewClient(opts)
		s.closer = append(s.closer, func() { _ = rdb.Close() })
		s.health.Add(health.Readiness, "redis", 2*time.Second, func(ctx context.Context) error {
			return rdb.Ping(ctx).Err()
		})
		carts = redis.NewCartRepository(rdb, cfg.Cart.TTL)
	case BackendPostgres:
		repo := repository.NewCartRepository(pool, cfg.Cart.TTL)
		if cfg.Cart.TTL > 0 {
			s.purge = repo.PurgeExpired
		}
		carts = repo
	default:
		carts = memory.NewCartRepository()
	}

	svc, err := cart.NewService(catalog, carts, mp)
	if err != nil {
		return nil, errors.Wrap(err, "create cart service")
	}

	mux := http.NewServeMux()
	mux.HandleFunc("GET /livez", s.health.LiveEndpoint)
	mux.HandleFunc("GET /readyz", s.health.ReadyEndpoint)
	handler.NewHandler(handler.HandlerConfig{ImageBaseURL: cfg.ImageBaseURL}, catalog, svc).Register(mux)

	routeFinder := httpmiddleware.MuxRouteFinder(mux)
	s.http = &http.Server{
		ReadHeaderTimeout: time.Second,
		ReadTimeout:       5 * time.Second,
		WriteTimeout:      10 * time.Second,
		IdleTimeout:       120 * time.Second,
		MaxHeaderBytes:    1 << 20,
		Addr:              cfg.Addr,
		Handler: httpmiddleware.Wrap(mux,
			httpmiddleware.RequestID(),
			httpmiddleware.InjectLogger(lg),
			httpmiddleware.Recovery(),
			httpmiddleware.CORS(httpmiddleware.CORSConfig{
				AllowOrigins:     cfg.CORS.Origins,
				AllowHeaders:     []string{"Content-Type", httpmiddleware.SessionHeader, httpmiddleware.RequestIDHeader},
				ExposeHeaders:    []string{httpmiddleware.SessionHeader, httpmiddleware.RequestIDHeader},
				AllowCredentials: cfg.CORS.AllowCredentials,
				MaxAge:           86400,
			}),
			httpmiddleware.Session(httpmiddleware.SessionConfig{
				MaxAge: cfg.Cart.TTL,
				Secure: cfg.Cart.SecureCookie,
			}),
			httpmiddleware.RateLimit(ctx, httpmiddleware.RateLimitConfig{
				Max:     cfg.RateLimit.Max,
				Window:  cfg.RateLimit.Window,
				Methods: []string{http.MethodPost, http.MethodPut, http.MethodDelete},
			}),
			httpmiddleware.Instrument("storefront-api", routeFinder, tp, mp),
			httpmiddleware.LogRequests(routeFinder),
			httpmiddleware.Labeler(routeFinder),
		),
	}
	return s, nil
}

func (c RedisConfig) options() (*goredis.Options, error) {
	if c.URL != "" {
		opts, err := goredis.ParseURL(c.URL)
		if err != nil {
			return nil, errors.Wrap(err, "parse redis url")
		}
		return opts, nil
	}
	return &goredis.Options{Addr: c.Addr, Password: c.Password, DB: c.DB}, nil
}

// Handler returns the server's root handler.
func (s *Server) Handler() http.Handler { return s.http.Handler }

// Health returns the probe state.
func (s *Server) Health() *health.Health { return s.health }

// Close releases the database pool and redis client. It does not stop a
// running server.
func (s *Server) Close() {
	for i := len(s.closer) - 1; i >= 0; i-- {
		s.closer[i]()
	}
	s.closer = nil
}

// runPurge deletes expired carts every interval until ctx is done.
func (s *Server) runPurge(ctx context.Context, interval time.Duration) {
	t := time.NewTicker(interval)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
			n, err := s.purge(ctx)
			switch {
			case err != nil && ctx.Err() == nil:
				s.lg.Warn("Purge expired carts", zap.Error(err))
			case n > 0:
				s.lg.Info("Purged expired carts", zap.Int64("count", n))
			}
		}
	}
}

// Serve starts health checks and the HTTP server and blocks until ctx is
// cancelled and the server has drained.
func (s *Server) Serve(ctx context.Context) error {
	s.health.Start(ctx, 10*time.Second)
	s.health.SetReady(true)

	if s.purge != nil && s.cfg.Cart.PurgeInterval > 0 {
		go s.runPurge(ctx, s.cfg.Cart.PurgeInterval)
	}

	// Graceful shutdown: wait for context cancellation, drain, then stop.
	shutdownDone := make(chan struct{})
	go func() {
		defer close(shutdownDone)
		<-ctx.Done()
		s.health.SetReady(false)
		s.lg.Info("Readiness set to false, draining", zap.Duration("delay", s.cfg.Graceful.ReadinessDelay))
		time.Sleep(s.cfg.Graceful.ReadinessDelay)

		shutdownCtx, cancel := context.WithTimeout(context.Background(), s.cfg.Graceful.ShutdownTimeout)
		defer cancel()

		s.lg.Info("Shutting down server", zap.Duration("timeout", s.cfg.Graceful.ShutdownTimeout))
		if err := s.http.Shutdown(shutdownCtx); err != nil {
			s.lg.Error("Server shutdown error", zap.Error(err))
		}
		s.health.Stop()
	}()

	s.lg.Info("Server listening", zap.String("addr", s.cfg.Addr))
	if err := s.http.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return errors.Wrap(err, "server")
	}
	<-shutdownDone
	return nil
}

// Run creates all dependencies, serves until ctx is cancelled, and releases
// them. It is the single wiring point for the api-server binary.
func Run(ctx context.Context, lg *zap.Logger, m *app.Telemetry, cfg *Config) error {
	lg.Info("Initializing",
		zap.String("addr", cfg.Addr),
		zap.String("catalog", cfg.Catalog.Source),
		zap.String("cart_backend", cfg.Cart.Backend),
	)

	s, err := NewServer(ctx, lg, m.TracerProvider(), m.MeterProvider(), cfg)
	if err != nil {
		return err
	}
	defer s.Close()

	return s.Serve(ctx)
}
