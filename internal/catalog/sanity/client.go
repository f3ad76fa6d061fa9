// Package sanity implements product.Catalog on top of the Sanity content
// lake HTTP query API.
package sanity

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"github.com/go-faster/errors"
	"github.com/go-faster/jx"
	"github.com/go-faster/sdk/zctx"
	"github.com/sony/gobreaker/v2"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/xenking/storefront/internal/domain/product"
)

var _ product.Catalog = (*Client)(nil)

const productProjection = `{
  _id,
  name,
  description,
  price,
  dimensions,
  features,
  tags,
  "image_url": image.asset->url,
  "category": coalesce(category->{ _id, name }, category)
}`

const (
	productByIDQuery        = `*[_type == "product" && _id == $productId][0]` + productProjection
	productsByCategoryQuery = `*[_type == "product" && (category == $categoryId || category._ref == $categoryId)] | order(name asc)` + productProjection
	allProductsQuery        = `*[_type == "product"] | order(name asc)` + productProjection
)

// Config identifies the Sanity project and dataset to query.
type Config struct {
	ProjectID  string
	Dataset    string
	APIVersion string
	// UseCDN routes queries through the cached apicdn host.
	UseCDN bool
	// Token is an optional read token for private datasets.
	Token   string
	Timeout time.Duration
	// BaseURL overrides the host derived from ProjectID and UseCDN.
	BaseURL string
}

func (c Config) endpoint() string {
	base := c.BaseURL
	if base == "" {
		host := "api"
		if c.UseCDN {
			host = "apicdn"
		}
		base = fmt.Sprintf("https://%s.%s.sanity.io", c.ProjectID, host)
	}
	return fmt.Sprintf("%s/v%s/data/query/%s", base, c.APIVersion, url.PathEscape(c.Dataset))
}

// Option configures a Client.
type Option func(*Client)

// WithHTTPClient sets the underlying HTTP client. Its transport is still
// wrapped with OpenTelemetry instrumentation.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) { c.http = hc }
}

// WithTelemetry sets the tracer and meter providers used to instrument
// outgoing requests.
func WithTelemetry(tp trace.TracerProvider, mp metric.MeterProvider) Option {
	return func(c *Client) {
		c.tracerProvider = tp
		c.meterProvider = mp
	}
}

// WithBreakerSettings overrides the default circuit breaker settings.
func WithBreakerSettings(s gobreaker.Settings) Option {
	return func(c *Client) { c.breakerSettings = &s }
}

// Client queries products from Sanity.
type Client struct {
	cfg      Config
	endpoint string
	http     *http.Client
	breaker  *gobreaker.CircuitBreaker[[]byte]

	tracerProvider  trace.TracerProvider
	meterProvider   metric.MeterProvider
	breakerSettings *gobreaker.Settings
}

// New creates a Sanity catalog client.
func New(cfg Config, opts ...Option) (*Client, error) {
	if cfg.ProjectID == "" && cfg.BaseURL == "" {
		return nil, errors.New("sanity project id is required")
	}
	if cfg.Dataset == "" {
		return nil, errors.New("sanity dataset is required")
	}
	if cfg.APIVersion == "" {
		cfg.APIVersion = "2024-01-01"
	}
	if cfg.Timeout == 0 {
		cfg.Timeout = 5 * time.Second
	}

	c := &Client{cfg: cfg, endpoint: cfg.endpoint()}
	for _, opt := range opts {
		opt(c)
	}
	if c.http == nil {
		c.http = &http.Client{Timeout: cfg.Timeout}
	}

	base := c.http.Transport
	if base == nil {
		base = http.DefaultTransport
	}
	var otelOpts []otelhttp.Option
	if c.tracerProvider != nil {
		otelOpts = append(otelOpts, otelhttp.WithTracerProvider(c.tracerProvider))
	}
	if c.meterProvider != nil {
		otelOpts = append(otelOpts, otelhttp.WithMeterProvider(c.meterProvider))
	}
	hc := *c.http
	hc.Transport = otelhttp.NewTransport(base, otelOpts...)
	c.http = &hc

	settings := gobreaker.Settings{
		Name:        "sanity",
		MaxRequests: 1,
		Interval:    time.Minute,
		Timeout:     30 * time.Second,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= 5
		},
	}
	if c.breakerSettings != nil {
		settings = *c.breakerSettings
	}
	// Only transient failures count against the breaker.
	settings.IsSuccessful = func(err error) bool {
		return err == nil || !errors.Is(err, product.ErrTransientFetch)
	}
	c.breaker = gobreaker.NewCircuitBreaker[[]byte](settings)

	return c, nil
}

// FetchProduct returns the product with the given document id.
func (c *Client) FetchProduct(ctx context.Context, id string) (*product.Product, error) {
	body, err := c.query(ctx, productByIDQuery, map[string]string{"productId": id})
	if err != nil {
		return nil, errors.Wrapf(err, "fetch product %s", id)
	}

	var p *product.Product
	if err := decodeResult(body, func(d *jx.Decoder) error {
		if d.Next() == jx.Null {
			return d.Null()
		}
		v, err := decodeProduct(d)
		if err != nil {
			return err
		}
		p = &v
		return nil
	}); err != nil {
		return nil, errors.Wrapf(err, "decode product %s", id)
	}
	if p == nil {
		return nil, product.ErrNotFound
	}
	return p, nil
}

// FetchByCategory returns products whose category is the given name or a
// reference to the given category document.
func (c *Client) FetchByCategory(ctx context.Context, categoryID string) ([]product.Product, error) {
	body, err := c.query(ctx, productsByCategoryQuery, map[string]string{"categoryId": categoryID})
	if err != nil {
		return nil, errors.Wrapf(err, "fetch category %s", categoryID)
	}
	products, err := decodeProducts(body)
	if err != nil {
		return nil, errors.Wrapf(err, "decode category %s", categoryID)
	}
	return products, nil
}

// List returns every product ordered by name.
func (c *Client) List(ctx context.Context) ([]product.Product, error) {
	body, err := c.query(ctx, allProductsQuery, nil)
	if err != nil {
		return nil, errors.Wrap(err, "list products")
	}
	products, err := decodeProducts(body)
	if err != nil {
		return nil, errors.Wrap(err, "decode products")
	}
	return products, nil
}

// query executes a GROQ query through the circuit breaker and returns the raw
// response body.
func (c *Client) query(ctx context.Context, groq string, params map[string]string) ([]byte, error) {
	q := url.Values{}
	q.Set("query", groq)
	for k, v := range params {
		var e jx.Encoder
		e.Str(v)
		q.Set("$"+k, string(e.Bytes()))
	}
	u := c.endpoint + "?" + q.Encode()

	body, err := c.breaker.Execute(func() ([]byte, error) {
		return c.do(ctx, u)
	})
	if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
		return nil, errors.Wrap(product.ErrTransientFetch, err.Error())
	}
	return body, err
}

func (c *Client) do(ctx context.Context, u string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, http.NoBody)
	if err != nil {
		return nil, errors.Wrap(err, "create request")
	}
	req.Header.Set("Accept", "application/json")
	if c.cfg.Token != "" {
		req.Header.Set("Authorization", "Bearer "+c.cfg.Token)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return nil, ctxErr
		}
		return nil, errors.Wrap(product.ErrTransientFetch, err.Error())
	}
	defer func() { _ = resp.Body.Close() }()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, errors.Wrap(product.ErrTransientFetch, err.Error())
	}

	switch {
	case resp.StatusCode == http.StatusOK:
		return body, nil
	case resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= 500:
		zctx.From(ctx).Warn("Sanity query failed",
			zap.Int("status", resp.StatusCode),
		)
		return nil, errors.Wrapf(product.ErrTransientFetch, "status %d", resp.StatusCode)
	default:
		return nil, errors.Errorf("sanity query: status %d: %s", resp.StatusCode, truncate(body, 256))
	}
}

func truncate(b []byte, n int) string {
	if len(b) > n {
		b = b[:n]
	}
	return string(b)
}
