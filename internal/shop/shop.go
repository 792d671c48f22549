// Package shop defines the storefront collaborators the voice agent talks to
// and the helpers that turn their answers into spoken replies.
//
// The storefront itself (catalog CRUD, checkout, payments) lives elsewhere;
// this package only declares the narrow interfaces the voice core consumes:
//
//   - [ProductSearcher]: product search and popularity listing
//   - [CartMutator]: add to cart, read the cart
//   - [OrderLookup]: order status lookup
//   - [CategoryLister]: category listing
//
// [Helpers] composes them into [Outcome] values whose Message is ready to be
// shown or spoken.
package shop

import (
	"context"
	"errors"
	"time"
)

// ErrNotFound is returned by collaborators when the requested product or
// order does not exist.
var ErrNotFound = errors.New("shop: not found")

// Product is a catalog entry. Prices are whole Vietnamese dong.
type Product struct {
	ID          string `json:"id" yaml:"id"`
	Slug        string `json:"slug,omitempty" yaml:"slug"`
	Name        string `json:"name" yaml:"name"`
	Description string `json:"description,omitempty" yaml:"description"`
	Category    string `json:"category,omitempty" yaml:"category"`
	Price       int64  `json:"price" yaml:"price"`
	Stock       int    `json:"stock" yaml:"stock"`
	Popularity  int    `json:"popularity,omitempty" yaml:"popularity"`
}

// Category is a product category.
type Category struct {
	ID   string `json:"id" yaml:"id"`
	Name string `json:"name" yaml:"name"`
}

// CartItem is one line of the cart.
type CartItem struct {
	Product  Product `json:"product"`
	Quantity int     `json:"quantity"`
}

// Cart is the current user's shopping cart.
type Cart struct {
	Items []CartItem `json:"items"`
	Total int64      `json:"total"`
}

// OrderStatus is the fulfilment state of an order.
type OrderStatus string

const (
	OrderPending    OrderStatus = "pending"
	OrderConfirmed  OrderStatus = "confirmed"
	OrderProcessing OrderStatus = "processing"
	OrderShipped    OrderStatus = "shipped"
	OrderDelivered  OrderStatus = "delivered"
	OrderCancelled  OrderStatus = "cancelled"
	OrderReturned   OrderStatus = "returned"
)

// Order is a placed order.
type Order struct {
	ID         string      `json:"id" yaml:"id"`
	Status     OrderStatus `json:"status" yaml:"status"`
	TotalPrice int64       `json:"totalPrice" yaml:"total_price"`
	CreatedAt  time.Time   `json:"createdAt" yaml:"created_at"`
}

// Query narrows a product search.
type Query struct {
	// Search is free text matched against names and descriptions.
	Search string
	// Category restricts results to one category name.
	Category string
	// Limit caps the result count; zero means no limit.
	Limit int
	// Popular orders results by popularity instead of relevance.
	Popular bool
}

// ProductSearcher looks up products.
type ProductSearcher interface {
	SearchProducts(ctx context.Context, q Query) ([]Product, error)
}

// CartMutator changes and reads the current user's cart.
type CartMutator interface {
	AddToCart(ctx context.Context, productID string, quantity int) error
	Cart(ctx context.Context) (Cart, error)
}

// OrderLookup reads the current user's orders. Orders returns the newest
// order first.
type OrderLookup interface {
	Order(ctx context.Context, id string) (Order, error)
	Orders(ctx context.Context) ([]Order, error)
}

// CategoryLister lists product categories.
type CategoryLister interface {
	Categories(ctx context.Context) ([]Category, error)
}
