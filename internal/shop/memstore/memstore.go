// Package memstore is an in-process storefront used by the CLI, the demo
// server and tests. It implements every collaborator interface declared in
// package shop over a single mutex-guarded catalog.
package memstore

import (
	"bytes"
	"cmp"
	"context"
	_ "embed"
	"fmt"
	"io"
	"os"
	"slices"
	"strings"
	"sync"

	"gopkg.in/yaml.v3"

	"github.com/figuro/voice/internal/pattern"
	"github.com/figuro/voice/internal/shop"
	"github.com/figuro/voice/internal/shop/phonetic"
)

//go:embed catalog.yaml
var defaultCatalog []byte

// Compile-time interface assertions.
var (
	_ shop.ProductSearcher = (*Store)(nil)
	_ shop.CartMutator     = (*Store)(nil)
	_ shop.OrderLookup     = (*Store)(nil)
	_ shop.CategoryLister  = (*Store)(nil)
)

// Catalog is the on-disk shape of a store snapshot.
type Catalog struct {
	Categories []shop.Category `yaml:"categories"`
	Products   []shop.Product  `yaml:"products"`
	Orders     []shop.Order    `yaml:"orders"`
}

// Store is a thread-safe in-memory storefront.
type Store struct {
	mu         sync.Mutex
	categories []shop.Category
	products   []shop.Product
	folded     []string
	orders     []shop.Order
	cart       []shop.CartItem
	ranker     *phonetic.Ranker
}

// New returns a Store holding c.
func New(c Catalog) *Store {
	s := &Store{
		categories: slices.Clone(c.Categories),
		products:   slices.Clone(c.Products),
		orders:     slices.Clone(c.Orders),
		ranker:     phonetic.New(),
	}
	s.folded = make([]string, len(s.products))
	for i, p := range s.products {
		s.folded[i] = pattern.Fold(p.Name)
	}
	slices.SortStableFunc(s.orders, func(a, b shop.Order) int {
		return b.CreatedAt.Compare(a.CreatedAt)
	})
	return s
}

// Default returns a Store holding the built-in figure catalog.
func Default() (*Store, error) {
	c, err := DecodeCatalog(bytes.NewReader(defaultCatalog))
	if err != nil {
		return nil, err
	}
	return New(c), nil
}

// Open returns a Store loaded from the YAML catalog at path. An empty path
// selects the built-in catalog.
func Open(path string) (*Store, error) {
	if path == "" {
		return Default()
	}
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("memstore: open catalog: %w", err)
	}
	defer f.Close()
	c, err := DecodeCatalog(f)
	if err != nil {
		return nil, err
	}
	return New(c), nil
}

// DecodeCatalog parses a YAML catalog, rejecting unknown fields.
func DecodeCatalog(r io.Reader) (Catalog, error) {
	var c Catalog
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(&c); err != nil {
		return Catalog{}, fmt.Errorf("memstore: decode catalog: %w", err)
	}
	ids := make(map[string]bool, len(c.Products))
	for i, p := range c.Products {
		if p.ID == "" || p.Name == "" {
			return Catalog{}, fmt.Errorf("memstore: products[%d]: id and name are required", i)
		}
		if ids[p.ID] {
			return Catalog{}, fmt.Errorf("memstore: products[%d]: duplicate id %q", i, p.ID)
		}
		ids[p.ID] = true
	}
	return c, nil
}

// SearchProducts implements [shop.ProductSearcher]. Names containing the
// folded query rank first; the rest are ranked phonetically.
func (s *Store) SearchProducts(_ context.Context, q shop.Query) ([]shop.Product, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	type hit struct {
		p     shop.Product
		score float64
	}
	var hits []hit

	query := strings.TrimSpace(pattern.Fold(q.Search))
	var ranked map[int]float64
	if query != "" {
		ranked = make(map[int]float64)
		for _, m := range s.ranker.Rank(query, s.folded) {
			ranked[m.Index] = m.Score
		}
	}

	for i, p := range s.products {
		if q.Category != "" && !strings.EqualFold(p.Category, q.Category) {
			continue
		}
		if query == "" {
			hits = append(hits, hit{p: p})
			continue
		}
		switch {
		case strings.Contains(s.folded[i], query):
			hits = append(hits, hit{p: p, score: 2})
		case strings.Contains(pattern.Fold(p.Description), query):
			hits = append(hits, hit{p: p, score: 1.5})
		default:
			if sc, ok := ranked[i]; ok {
				hits = append(hits, hit{p: p, score: sc})
			}
		}
	}

	slices.SortStableFunc(hits, func(a, b hit) int {
		if q.Popular {
			if c := cmp.Compare(b.p.Popularity, a.p.Popularity); c != 0 {
				return c
			}
		}
		return cmp.Compare(b.score, a.score)
	})
	if q.Limit > 0 && len(hits) > q.Limit {
		hits = hits[:q.Limit]
	}

	out := make([]shop.Product, len(hits))
	for i, h := range hits {
		out[i] = h.p
	}
	return out, nil
}

// AddToCart implements [shop.CartMutator]. Stock is reserved immediately.
func (s *Store) AddToCart(_ context.Context, productID string, quantity int) error {
	if quantity <= 0 {
		return fmt.Errorf("memstore: add to cart: quantity must be positive, got %d", quantity)
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	idx := slices.IndexFunc(s.products, func(p shop.Product) bool { return p.ID == productID })
	if idx < 0 {
		return fmt.Errorf("memstore: product %q: %w", productID, shop.ErrNotFound)
	}
	p := &s.products[idx]
	if p.Stock < quantity {
		return fmt.Errorf("memstore: product %q: only %d in stock", productID, p.Stock)
	}
	p.Stock -= quantity

	for i := range s.cart {
		if s.cart[i].Product.ID == productID {
			s.cart[i].Quantity += quantity
			s.cart[i].Product = *p
			return nil
		}
	}
	s.cart = append(s.cart, shop.CartItem{Product: *p, Quantity: quantity})
	return nil
}

// Cart implements [shop.CartMutator].
func (s *Store) Cart(_ context.Context) (shop.Cart, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	c := shop.Cart{Items: slices.Clone(s.cart)}
	for _, it := range c.Items {
		c.Total += it.Product.Price * int64(it.Quantity)
	}
	return c, nil
}

// Order implements [shop.OrderLookup]. Lookup ignores a leading '#' and case.
func (s *Store) Order(_ context.Context, id string) (shop.Order, error) {
	id = strings.TrimPrefix(strings.TrimSpace(id), "#")
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, o := range s.orders {
		if strings.EqualFold(o.ID, id) {
			return o, nil
		}
	}
	return shop.Order{}, fmt.Errorf("memstore: order %q: %w", id, shop.ErrNotFound)
}

// Orders implements [shop.OrderLookup], newest first.
func (s *Store) Orders(_ context.Context) ([]shop.Order, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return slices.Clone(s.orders), nil
}

// Categories implements [shop.CategoryLister].
func (s *Store) Categories(_ context.Context) ([]shop.Category, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return slices.Clone(s.categories), nil
}
