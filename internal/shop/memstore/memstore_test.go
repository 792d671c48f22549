package memstore_test

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/figuro/voice/internal/shop"
	"github.com/figuro/voice/internal/shop/memstore"
)

func newStore(t *testing.T) *memstore.Store {
	t.Helper()
	s, err := memstore.Default()
	if err != nil {
		t.Fatalf("Default: %v", err)
	}
	return s
}

func TestSearchProducts(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		query   shop.Query
		wantIDs []string
	}{
		{"exact name", shop.Query{Search: "Naruto", Limit: 1}, []string{"p-naruto-sage"}},
		{"accent-insensitive", shop.Query{Search: "gundam", Limit: 1}, []string{"p-rx78"}},
		{"trailing fragment", shop.Query{Search: "Goku m", Limit: 1}, []string{"p-goku-ssj"}},
		{"misspelled", shop.Query{Search: "Lufy", Limit: 1}, []string{"p-luffy-gear5"}},
		{"popular", shop.Query{Popular: true, Limit: 3}, []string{"p-luffy-gear5", "p-naruto-sage", "p-goku-ssj"}},
		{"popular in category", shop.Query{Category: "mecha", Popular: true, Limit: 3}, []string{"p-rx78", "p-eva01"}},
		{"nothing", shop.Query{Search: "xyzzy"}, nil},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			s := newStore(t)
			got, err := s.SearchProducts(context.Background(), tc.query)
			if err != nil {
				t.Fatalf("SearchProducts: %v", err)
			}
			if len(got) != len(tc.wantIDs) {
				t.Fatalf("SearchProducts(%+v) returned %d products, want %d: %+v", tc.query, len(got), len(tc.wantIDs), got)
			}
			for i, p := range got {
				if p.ID != tc.wantIDs[i] {
					t.Errorf("result[%d] = %q, want %q", i, p.ID, tc.wantIDs[i])
				}
			}
		})
	}
}

func TestAddToCart(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	s := newStore(t)

	if err := s.AddToCart(ctx, "p-naruto-sage", 2); err != nil {
		t.Fatalf("AddToCart: %v", err)
	}
	if err := s.AddToCart(ctx, "p-naruto-sage", 1); err != nil {
		t.Fatalf("AddToCart again: %v", err)
	}
	cart, err := s.Cart(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if len(cart.Items) != 1 || cart.Items[0].Quantity != 3 {
		t.Fatalf("cart = %+v, want one line with quantity 3", cart)
	}
	if cart.Total != 4500000 {
		t.Errorf("cart total = %d, want 4500000", cart.Total)
	}
	if cart.Items[0].Product.Stock != 9 {
		t.Errorf("remaining stock = %d, want 9", cart.Items[0].Product.Stock)
	}

	if err := s.AddToCart(ctx, "p-zoro", 1); err == nil {
		t.Error("expected out-of-stock error")
	}
	if err := s.AddToCart(ctx, "missing", 1); !errors.Is(err, shop.ErrNotFound) {
		t.Errorf("AddToCart(missing) err = %v, want ErrNotFound", err)
	}
	if err := s.AddToCart(ctx, "p-rx78", 0); err == nil {
		t.Error("expected error for zero quantity")
	}
}

func TestOrders(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	s := newStore(t)

	orders, err := s.Orders(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if len(orders) != 3 || orders[0].ID != "FG1002" {
		t.Fatalf("Orders = %+v, want FG1002 first", orders)
	}

	o, err := s.Order(ctx, "#fg1001")
	if err != nil {
		t.Fatalf("Order: %v", err)
	}
	if o.Status != shop.OrderShipped {
		t.Errorf("status = %q, want shipped", o.Status)
	}
	if _, err := s.Order(ctx, "FG9999"); !errors.Is(err, shop.ErrNotFound) {
		t.Errorf("Order(FG9999) err = %v, want ErrNotFound", err)
	}
}

func TestOpen(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	good := filepath.Join(dir, "good.yaml")
	if err := os.WriteFile(good, []byte("products:\n  - id: a\n    name: Alpha\n    price: 10\n    stock: 1\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	s, err := memstore.Open(good)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	got, _ := s.SearchProducts(context.Background(), shop.Query{Search: "alpha"})
	if len(got) != 1 {
		t.Errorf("search in custom catalog = %+v", got)
	}

	dup := filepath.Join(dir, "dup.yaml")
	if err := os.WriteFile(dup, []byte("products:\n  - {id: a, name: A}\n  - {id: a, name: B}\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	if _, err := memstore.Open(dup); err == nil || !strings.Contains(err.Error(), "duplicate id") {
		t.Errorf("Open(dup) err = %v, want duplicate id", err)
	}

	if _, err := memstore.Open(filepath.Join(dir, "missing.yaml")); err == nil {
		t.Error("expected error for missing file")
	}
}
