package handler

import (
	"net/http"

	"github.com/go-faster/jx"

	"github.com/xenking/storefront/internal/domain/cart"
	"github.com/xenking/storefront/pkg/httpmiddleware"
)

func (h *Handler) writeCart(w http.ResponseWriter, r *http.Request, s *cart.Store, err error) {
	if err != nil {
		handleError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, func(e *jx.Encoder) { h.encodeCart(e, s) })
}

// GetCart returns the session's cart lines and total.
func (h *Handler) GetCart(w http.ResponseWriter, r *http.Request) {
	s, err := h.carts.Get(r.Context(), httpmiddleware.SessionFromContext(r.Context()))
	h.writeCart(w, r, s, err)
}

// AddItem adds a product to the session's cart. The body is
// {"productId": string, "quantity": int}; quantity defaults to 1.
func (h *Handler) AddItem(w http.ResponseWriter, r *http.Request) {
	var (
		productID string
		quantity  = 1
	)
	if err := decodeBody(w, r, func(d *jx.Decoder, key string) error {
		var err error
		switch key {
		case "productId":
			productID, err = d.Str()
		case "quantity":
			quantity, err = d.Int()
		default:
			err = d.Skip()
		}
		return err
	}); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if productID == "" {
		writeError(w, http.StatusBadRequest, "productId required")
		return
	}

	s, err := h.carts.AddItem(r.Context(), httpmiddleware.SessionFromContext(r.Context()), productID, quantity)
	h.writeCart(w, r, s, err)
}

// SetQuantity sets the quantity of a cart line from {"quantity": int}.
// Zero or less removes the line.
func (h *Handler) SetQuantity(w http.ResponseWriter, r *http.Request) {
	var (
		quantity int
		seen     bool
	)
	if err := decodeBody(w, r, func(d *jx.Decoder, key string) error {
		if key != "quantity" {
			return d.Skip()
		}
		seen = true
		var err error
		quantity, err = d.Int()
		return err
	}); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if !seen {
		writeError(w, http.StatusBadRequest, "quantity required")
		return
	}

	s, err := h.carts.SetQuantity(r.Context(), httpmiddleware.SessionFromContext(r.Context()), r.PathValue("id"), quantity)
	h.writeCart(w, r, s, err)
}

// RemoveItem deletes a product from the session's cart.
func (h *Handler) RemoveItem(w http.ResponseWriter, r *http.Request) {
	s, err := h.carts.RemoveItem(r.Context(), httpmiddleware.SessionFromContext(r.Context()), r.PathValue("id"))
	h.writeCart(w, r, s, err)
}

// ClearCart empties the session's cart.
func (h *Handler) ClearCart(w http.ResponseWriter, r *http.Request) {
	s, err := h.carts.Clear(r.Context(), httpmiddleware.SessionFromContext(r.Context()))
	h.writeCart(w, r, s, err)
}

// Checkout completes checkout for the session's cart, returning the purchased
// lines and clearing the cart.
func (h *Handler) Checkout(w http.ResponseWriter, r *http.Request) {
	co, err := h.carts.CompleteCheckout(r.Context(), httpmiddleware.SessionFromContext(r.Context()))
	if err != nil {
		handleError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, func(e *jx.Encoder) {
		e.Obj(func(e *jx.Encoder) {
			e.Field("status", func(e *jx.Encoder) { e.Str("completed") })
			e.Field("lines", func(e *jx.Encoder) { h.encodeLines(e, co.Lines) })
			e.Field("itemCount", func(e *jx.Encoder) { e.Int(co.ItemCount) })
			e.Field("total", func(e *jx.Encoder) { money(e, co.Total) })
		})
	})
}
