package handler

import (
	"io"
	"net/http"
	"strings"

	"github.com/go-faster/errors"
	"github.com/go-faster/jx"
	"github.com/go-faster/sdk/zctx"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/xenking/storefront/internal/domain/cart"
	"github.com/xenking/storefront/internal/domain/product"
)

const maxBodyBytes = 64 << 10

func writeJSON(w http.ResponseWriter, status int, fn func(e *jx.Encoder)) {
	var e jx.Encoder
	fn(&e)
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_, _ = w.Write(e.Bytes())
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, func(e *jx.Encoder) {
		e.Obj(func(e *jx.Encoder) {
			e.Field("code", func(e *jx.Encoder) { e.Int(status) })
			e.Field("message", func(e *jx.Encoder) { e.Str(msg) })
		})
	})
}

// handleError maps domain errors onto HTTP responses. Unexpected errors are
// logged and reported as 500.
func handleError(w http.ResponseWriter, r *http.Request, err error) {
	var iqErr *cart.InvalidQuantityError
	switch {
	case errors.Is(err, product.ErrNotFound):
		writeError(w, http.StatusNotFound, "product not found")
	case errors.As(err, &iqErr):
		writeError(w, http.StatusUnprocessableEntity, iqErr.Error())
	case errors.Is(err, cart.ErrEmptyCart):
		writeError(w, http.StatusUnprocessableEntity, "cart is empty")
	case errors.Is(err, cart.ErrInvalidProduct):
		writeError(w, http.StatusUnprocessableEntity, "product cannot be added to cart")
	case errors.Is(err, cart.ErrEmptySession):
		writeError(w, http.StatusBadRequest, "session id required")
	case errors.Is(err, product.ErrTransientFetch):
		w.Header().Set("Retry-After", "5")
		writeError(w, http.StatusServiceUnavailable, "catalog temporarily unavailable")
	case errors.Is(err, r.Context().Err()):
		// Client went away; nothing useful to write.
	default:
		zctx.From(r.Context()).Error("Request failed", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "internal error")
	}
}

// decodeBody reads a size-limited JSON object and calls fn for every field.
func decodeBody(w http.ResponseWriter, r *http.Request, fn func(d *jx.Decoder, key string) error) error {
	data, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	if err != nil {
		return errors.Wrap(err, "read body")
	}
	if err := jx.DecodeBytes(data).Obj(fn); err != nil {
		return errors.Wrap(err, "decode body")
	}
	return nil
}

// money encodes a price rounded to cents as a JSON number.
func money(e *jx.Encoder, d decimal.Decimal) {
	e.Num(jx.Num(d.StringFixed(2)))
}

func (h *Handler) imageURL(path string) string {
	if path == "" || strings.HasPrefix(path, "http://") || strings.HasPrefix(path, "https://") {
		return path
	}
	return h.imageBaseURL + path
}

func (h *Handler) encodeProduct(e *jx.Encoder, p product.Product) {
	e.Obj(func(e *jx.Encoder) {
		e.Field("id", func(e *jx.Encoder) { e.Str(p.ID) })
		e.Field("name", func(e *jx.Encoder) { e.Str(p.Name) })
		e.Field("description", func(e *jx.Encoder) { e.Str(p.Description) })
		e.Field("price", func(e *jx.Encoder) { money(e, p.Price) })
		e.Field("imageUrl", func(e *jx.Encoder) { e.Str(h.imageURL(p.ImageURL)) })
		if d := p.Dimensions; d != nil {
			e.Field("dimensions", func(e *jx.Encoder) {
				e.Obj(func(e *jx.Encoder) {
					e.Field("height", func(e *jx.Encoder) { e.Str(d.Height) })
					e.Field("width", func(e *jx.Encoder) { e.Str(d.Width) })
					e.Field("depth", func(e *jx.Encoder) { e.Str(d.Depth) })
				})
			})
		}
		e.Field("tags", func(e *jx.Encoder) { encodeStrings(e, p.Tags) })
		e.Field("features", func(e *jx.Encoder) { encodeStrings(e, p.Features) })
		if c := p.Category; c != nil {
			e.Field("category", func(e *jx.Encoder) {
				e.Obj(func(e *jx.Encoder) {
					e.Field("id", func(e *jx.Encoder) { e.Str(c.ID) })
					e.Field("name", func(e *jx.Encoder) { e.Str(c.Name) })
				})
			})
		}
	})
}

func (h *Handler) encodeLines(e *jx.Encoder, lines []cart.Line) {
	e.Arr(func(e *jx.Encoder) {
		for _, l := range lines {
			e.Obj(func(e *jx.Encoder) {
				e.Field("productId", func(e *jx.Encoder) { e.Str(l.Product.ID) })
				e.Field("name", func(e *jx.Encoder) { e.Str(l.Product.Name) })
				e.Field("description", func(e *jx.Encoder) { e.Str(l.Product.Description) })
				e.Field("imageUrl", func(e *jx.Encoder) { e.Str(h.imageURL(l.Product.ImageURL)) })
				e.Field("price", func(e *jx.Encoder) { money(e, l.Product.Price) })
				e.Field("quantity", func(e *jx.Encoder) { e.Int(l.Quantity) })
				e.Field("subtotal", func(e *jx.Encoder) { money(e, l.Subtotal()) })
			})
		}
	})
}

func (h *Handler) encodeCart(e *jx.Encoder, s *cart.Store) {
	e.Obj(func(e *jx.Encoder) {
		e.Field("lines", func(e *jx.Encoder) { h.encodeLines(e, s.List()) })
		e.Field("itemCount", func(e *jx.Encoder) { e.Int(s.ItemCount()) })
		e.Field("total", func(e *jx.Encoder) { money(e, s.Total()) })
	})
}

func encodeStrings(e *jx.Encoder, v []string) {
	e.Arr(func(e *jx.Encoder) {
		for _, s := range v {
			e.Str(s)
		}
	})
}
