// Package handler serves the storefront JSON API: catalog reads and session
// cart operations.
package handler

import (
	"net/http"

	"github.com/xenking/storefront/internal/domain/cart"
	"github.com/xenking/storefront/internal/domain/product"
)

// HandlerConfig holds non-dependency configuration for the Handler.
type HandlerConfig struct {
	// ImageBaseURL is prepended to relative image paths in product responses.
	// Absolute URLs, such as CMS asset URLs, are returned unchanged.
	ImageBaseURL string
}

// Handler maps HTTP requests onto the catalog and the cart service.
type Handler struct {
	catalog      product.Catalog
	carts        *cart.Service
	imageBaseURL string
}

// NewHandler constructs a Handler with the required domain dependencies.
func NewHandler(
	cfg HandlerConfig,
	catalog product.Catalog,
	carts *cart.Service,
) *Handler {
	return &Handler{
		catalog:      catalog,
		carts:        carts,
		imageBaseURL: cfg.ImageBaseURL,
	}
}

// Register installs the API routes on mux under the /api prefix.
func (h *Handler) Register(mux *http.ServeMux) {
	mux.HandleFunc("GET /api/products", h.ListProducts)
	mux.HandleFunc("GET /api/products/{id}", h.GetProduct)

	mux.HandleFunc("GET /api/cart", h.GetCart)
	mux.HandleFunc("DELETE /api/cart", h.ClearCart)
	mux.HandleFunc("POST /api/cart/items", h.AddItem)
	mux.HandleFunc("PUT /api/cart/items/{id}", h.SetQuantity)
	mux.HandleFunc("DELETE /api/cart/items/{id}", h.RemoveItem)
	mux.HandleFunc("POST /api/cart/checkout", h.Checkout)
}
