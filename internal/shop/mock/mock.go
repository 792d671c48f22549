// Package mock provides test doubles for the shop collaborator interfaces.
//
// Store implements every interface with configurable results and records
// each call for assertions.
package mock

import (
	"context"
	"sync"

	"github.com/figuro/voice/internal/shop"
)

var (
	_ shop.ProductSearcher = (*Store)(nil)
	_ shop.CartMutator     = (*Store)(nil)
	_ shop.OrderLookup     = (*Store)(nil)
	_ shop.CategoryLister  = (*Store)(nil)
)

// AddToCartCall records a single AddToCart invocation.
type AddToCartCall struct {
	ProductID string
	Quantity  int
}

// Store is a mock storefront.
type Store struct {
	mu sync.Mutex

	// SearchResult is returned by SearchProducts, truncated to the query
	// limit.
	SearchResult []shop.Product
	// SearchErr, if non-nil, is returned by SearchProducts.
	SearchErr error

	// AddToCartErr, if non-nil, is returned by AddToCart.
	AddToCartErr error
	// CartResult is returned by Cart.
	CartResult shop.Cart
	// CartErr, if non-nil, is returned by Cart.
	CartErr error

	// OrdersByID backs Order. Missing ids yield shop.ErrNotFound.
	OrdersByID map[string]shop.Order
	// OrderErr, if non-nil, is returned by Order.
	OrderErr error
	// OrdersResult is returned by Orders.
	OrdersResult []shop.Order
	// OrdersErr, if non-nil, is returned by Orders.
	OrdersErr error

	// CategoriesResult is returned by Categories.
	CategoriesResult []shop.Category
	// CategoriesErr, if non-nil, is returned by Categories.
	CategoriesErr error

	SearchCalls    []shop.Query
	AddToCartCalls []AddToCartCall
	OrderCalls     []string
	OrdersCalls    int
	CartCalls      int
}

// SearchProducts implements [shop.ProductSearcher].
func (s *Store) SearchProducts(_ context.Context, q shop.Query) ([]shop.Product, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.SearchCalls = append(s.SearchCalls, q)
	if s.SearchErr != nil {
		return nil, s.SearchErr
	}
	out := s.SearchResult
	if q.Limit > 0 && len(out) > q.Limit {
		out = out[:q.Limit]
	}
	return append([]shop.Product(nil), out...), nil
}

// AddToCart implements [shop.CartMutator].
func (s *Store) AddToCart(_ context.Context, productID string, quantity int) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.AddToCartCalls = append(s.AddToCartCalls, AddToCartCall{ProductID: productID, Quantity: quantity})
	return s.AddToCartErr
}

// Cart implements [shop.CartMutator].
func (s *Store) Cart(_ context.Context) (shop.Cart, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.CartCalls++
	return s.CartResult, s.CartErr
}

// Order implements [shop.OrderLookup].
func (s *Store) Order(_ context.Context, id string) (shop.Order, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.OrderCalls = append(s.OrderCalls, id)
	if s.OrderErr != nil {
		return shop.Order{}, s.OrderErr
	}
	o, ok := s.OrdersByID[id]
	if !ok {
		return shop.Order{}, shop.ErrNotFound
	}
	return o, nil
}

// Orders implements [shop.OrderLookup].
func (s *Store) Orders(_ context.Context) ([]shop.Order, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.OrdersCalls++
	return s.OrdersResult, s.OrdersErr
}

// Categories implements [shop.CategoryLister].
func (s *Store) Categories(_ context.Context) ([]shop.Category, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.CategoriesResult, s.CategoriesErr
}

// Reset clears all recorded calls.
func (s *Store) Reset() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.SearchCalls = nil
	s.AddToCartCalls = nil
	s.OrderCalls = nil
	s.OrdersCalls = 0
	s.CartCalls = 0
}
