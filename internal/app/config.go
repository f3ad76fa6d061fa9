package app

import (
	"os"
	"slices"
	"time"

	"github.com/cristalhq/aconfig"
	"github.com/cristalhq/aconfig/aconfigyaml"
	"github.com/go-faster/errors"
)

const defaultAddr = "0.0.0.0:8080"

// Config holds the complete application configuration, loadable from
// environment variables (SHOP_ prefix), flags, or YAML config files.
type Config struct {
	Addr         string `default:"0.0.0.0:8080" usage:"API server listen address"`
	DatabaseURL  string `usage:"PostgreSQL connection URL (SHOP_DATABASE_URL or DATABASE_URL)" flag:"database-url"`
	ImageBaseURL string `default:"" usage:"Base URL prepended to relative product image paths" flag:"image-base-url"`
	Catalog      CatalogConfig
	Cart         CartConfig
	Redis        RedisConfig
	RateLimit    RateLimitConfig
	CORS         CORSConfig
	Graceful     GracefulConfig
}

// CatalogConfig selects where products are read from.
type CatalogConfig struct {
	Source string `default:"sanity" usage:"Product source: sanity or postgres"`
	Sanity SanityConfig
}

// SanityConfig configures the content API client.
type SanityConfig struct {
	ProjectID  string        `usage:"Sanity project id"`
	Dataset    string        `default:"production" usage:"Sanity dataset"`
	APIVersion string        `default:"2024-01-01" usage:"Sanity API version date"`
	UseCDN     bool          `default:"true" usage:"Query the cached CDN endpoint"`
	Token      string        `usage:"Sanity read token for private datasets"`
	Timeout    time.Duration `default:"5s" usage:"Per-request timeout"`
	BaseURL    string        `usage:"Override the API host, e.g. for a caching proxy"`
}

// CartConfig selects the cart persistence backend.
type CartConfig struct {
	Backend       string        `default:"memory" usage:"Cart backend: memory, redis or postgres"`
	TTL           time.Duration `default:"720h" usage:"Idle cart lifetime; 0 keeps carts forever"`
	PurgeInterval time.Duration `default:"10m" usage:"Expired cart purge interval (postgres backend)"`
	SecureCookie  bool          `default:"false" usage:"Mark the session cookie Secure" flag:"secure-cookie"`
}

// RedisConfig configures the redis cart backend. URL wins over the other
// fields when set.
type RedisConfig struct {
	URL      string `usage:"Redis URL (SHOP_REDIS_URL or REDIS_URL)"`
	Addr     string `default:"localhost:6379" usage:"Redis address"`
	Password string `usage:"Redis password"`
	DB       int    `default:"0" usage:"Redis database number"`
}

// RateLimitConfig limits cart mutations per session.
type RateLimitConfig struct {
	Max    int           `default:"120" usage:"Max cart mutations per window; 0 disables"`
	Window time.Duration `default:"1m"  usage:"Rate limit window duration"`
}

// CORSConfig controls Cross-Origin Resource Sharing headers.
type CORSConfig struct {
	Origins          []string `default:"*" usage:"Allowed CORS origins"`
	AllowCredentials bool     `default:"false" usage:"Allow credentials (cookies)" flag:"cors-credentials"`
}

// GracefulConfig controls graceful shutdown timing.
type GracefulConfig struct {
	ReadinessDelay  time.Duration `default:"3s"  usage:"Delay after readiness=false before shutdown" flag:"readiness-delay"`
	ShutdownTimeout time.Duration `default:"15s" usage:"Maximum shutdown duration" flag:"shutdown-timeout"`
}

const (
	SourceSanity   = "sanity"
	SourcePostgres = "postgres"

	BackendMemory   = "memory"
	BackendRedis    = "redis"
	BackendPostgres = "postgres"
)

// LoadConfig loads configuration from environment variables, YAML config files,
// and flags, then applies platform-specific defaults.
func LoadConfig() (*Config, error) {
	return loadConfig(aconfig.Config{
		EnvPrefix: "SHOP",
		Files:     []string{"config.yaml", "/etc/storefront/config.yaml"},
		FileDecoders: map[string]aconfig.FileDecoder{
			".yaml": aconfigyaml.New(),
		},
	})
}

func loadConfig(ac aconfig.Config) (*Config, error) {
	var cfg Config
	if err := aconfig.LoaderFor(&cfg, ac).Load(); err != nil {
		return nil, errors.Wrap(err, "load config")
	}
	cfg.applyPlatformDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// applyPlatformDefaults maps platform-provided variables such as DATABASE_URL,
// REDIS_URL and PORT onto the SHOP_-prefixed configuration.
func (c *Config) applyPlatformDefaults() {
	if c.DatabaseURL == "" {
		c.DatabaseURL = os.Getenv("DATABASE_URL")
	}
	if c.Redis.URL == "" {
		c.Redis.URL = os.Getenv("REDIS_URL")
	}
	if port := os.Getenv("PORT"); port != "" && c.Addr == defaultAddr {
		c.Addr = "0.0.0.0:" + port
	}
}

// Validate checks that the selected sources have what they need.
func (c *Config) Validate() error {
	if !slices.Contains([]string{SourceSanity, SourcePostgres}, c.Catalog.Source) {
		return errors.Errorf("unknown catalog source %q", c.Catalog.Source)
	}
	if !slices.Contains([]string{BackendMemory, BackendRedis, BackendPostgres}, c.Cart.Backend) {
		return errors.Errorf("unknown cart backend %q", c.Cart.Backend)
	}
	if c.Catalog.Source == SourceSanity && c.Catalog.Sanity.ProjectID == "" && c.Catalog.Sanity.BaseURL == "" {
		return errors.New("sanity project id is required: set SHOP_CATALOG_SANITY_PROJECT_ID")
	}
	if c.needsPostgres() && c.DatabaseURL == "" {
		return errors.New("database URL is required: set SHOP_DATABASE_URL or DATABASE_URL")
	}
	if c.Cart.TTL < 0 {
		return errors.New("cart TTL must not be negative")
	}
	return nil
}

func (c *Config) needsPostgres() bool {
	return c.Catalog.Source == SourcePostgres || c.Cart.Backend == BackendPostgres
}
