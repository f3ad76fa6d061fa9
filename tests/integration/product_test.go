//go:build integration

package integration

import (
	"net/http"
	"testing"
)

func TestListProducts(t *testing.T) {
	resp := doGet(t, "/api/products")
	defer resp.Body.Close()
	expectStatus(t, resp, http.StatusOK)

	products := decodeJSON[[]productResponse](t, resp)
	if len(products) != len(seedProducts) {
		t.Fatalf("expected %d products, got %d", len(seedProducts), len(products))
	}
}

func TestListProducts_ByCategory(t *testing.T) {
	resp := doGet(t, "/api/products?category=seating")
	defer resp.Body.Close()
	expectStatus(t, resp, http.StatusOK)

	products := decodeJSON[[]productResponse](t, resp)
	if len(products) != 2 {
		t.Fatalf("expected 2 seating products, got %d", len(products))
	}
	for _, p := range products {
		if p.Category == nil || p.Category.ID != "seating" {
			t.Errorf("product %s: unexpected category %+v", p.ID, p.Category)
		}
	}
}

func TestGetProduct(t *testing.T) {
	resp := doGet(t, "/api/products/p1")
	defer resp.Body.Close()
	expectStatus(t, resp, http.StatusOK)

	p := decodeJSON[productResponse](t, resp)
	if p.Name != "Library Stool" {
		t.Errorf("name: got %q, want %q", p.Name, "Library Stool")
	}
	if p.Price != 10 {
		t.Errorf("price: got %v, want 10", p.Price)
	}
	if p.ImageURL != "stool.png" {
		t.Errorf("imageUrl: got %q", p.ImageURL)
	}
}

func TestGetProduct_NotFound(t *testing.T) {
	resp := doGet(t, "/api/products/does-not-exist")
	defer resp.Body.Close()
	expectStatus(t, resp, http.StatusNotFound)

	body := decodeJSON[errorResponse](t, resp)
	if body.Code != http.StatusNotFound {
		t.Errorf("code: got %d, want 404", body.Code)
	}
}
