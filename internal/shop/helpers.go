package shop

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"
)

const (
	searchLimit          = 5
	recommendationsLimit = 3
	recentOrdersShown    = 3
)

// Outcome is the voice-ready answer of a helper call. Success is false for
// domain failures such as an unknown product or insufficient stock; those
// still carry a user-facing Message. Collaborator failures are returned as
// errors instead.
type Outcome struct {
	Success          bool
	Message          string
	Products         []Product
	Orders           []Order
	SuggestedActions []string
}

// ProductNames returns the names of the products attached to o.
func (o Outcome) ProductNames() []string {
	if len(o.Products) == 0 {
		return nil
	}
	names := make([]string, len(o.Products))
	for i, p := range o.Products {
		names[i] = p.Name
	}
	return names
}

// Helpers turns collaborator answers into voice replies. Any collaborator
// may be nil; calls needing it return an error.
type Helpers struct {
	products   ProductSearcher
	cart       CartMutator
	orders     OrderLookup
	categories CategoryLister
	now        func() time.Time
}

// HelpersOption configures [Helpers].
type HelpersOption func(*Helpers)

// WithCategories sets the category collaborator.
func WithCategories(c CategoryLister) HelpersOption {
	return func(h *Helpers) { h.categories = c }
}

// WithClock overrides the clock used for delivery estimates.
func WithClock(now func() time.Time) HelpersOption {
	return func(h *Helpers) { h.now = now }
}

// NewHelpers returns Helpers over the given collaborators.
func NewHelpers(products ProductSearcher, cart CartMutator, orders OrderLookup, opts ...HelpersOption) *Helpers {
	h := &Helpers{
		products: products,
		cart:     cart,
		orders:   orders,
		now:      time.Now,
	}
	for _, o := range opts {
		o(h)
	}
	return h
}

var errNoCollaborator = errors.New("shop: collaborator not configured")

// SearchProducts finds up to five products matching query.
func (h *Helpers) SearchProducts(ctx context.Context, query string) (Outcome, error) {
	if h.products == nil {
		return Outcome{}, errNoCollaborator
	}
	found, err := h.products.SearchProducts(ctx, Query{Search: query, Limit: searchLimit})
	if err != nil {
		return Outcome{}, fmt.Errorf("shop: search products: %w", err)
	}
	if len(found) == 0 {
		return Outcome{
			Message: fmt.Sprintf("Không tìm thấy sản phẩm nào với từ khóa %q. Bạn có thể thử tìm kiếm với từ khóa khác.", query),
			SuggestedActions: []string{
				"Thử tìm kiếm với tên nhân vật khác",
				"Duyệt qua danh mục sản phẩm",
				"Xem sản phẩm phổ biến",
			},
		}, nil
	}

	out := Outcome{Success: true, Products: found}
	out.Message = fmt.Sprintf("Tìm thấy %d sản phẩm: %s. Bạn muốn xem chi tiết sản phẩm nào?",
		len(found), strings.Join(out.ProductNames(), ", "))
	for _, p := range found {
		out.SuggestedActions = append(out.SuggestedActions, "Xem chi tiết "+p.Name)
	}
	return out, nil
}

// Recommendations lists up to three popular products, optionally within one
// category.
func (h *Helpers) Recommendations(ctx context.Context, category string) (Outcome, error) {
	if h.products == nil {
		return Outcome{}, errNoCollaborator
	}
	found, err := h.products.SearchProducts(ctx, Query{Category: category, Limit: recommendationsLimit, Popular: true})
	if err != nil {
		return Outcome{}, fmt.Errorf("shop: recommendations: %w", err)
	}
	if len(found) == 0 {
		msg := "Hiện tại chưa có sản phẩm nào để gợi ý."
		if category != "" {
			msg = fmt.Sprintf("Hiện tại chưa có sản phẩm nào trong danh mục %s.", category)
		}
		return Outcome{
			Message:          msg,
			SuggestedActions: []string{"Xem tất cả danh mục", "Tìm kiếm sản phẩm khác"},
		}, nil
	}

	parts := make([]string, len(found))
	for i, p := range found {
		parts[i] = fmt.Sprintf("%s với giá %s", p.Name, FormatPrice(p.Price))
	}
	msg := "Gợi ý sản phẩm cho bạn: " + strings.Join(parts, ", ")
	if category != "" {
		msg = fmt.Sprintf("Gợi ý sản phẩm trong danh mục %s: %s", category, strings.Join(parts, ", "))
	}
	return Outcome{
		Success:          true,
		Message:          msg,
		Products:         found,
		SuggestedActions: []string{"Thêm vào giỏ hàng", "Xem chi tiết sản phẩm", "Tìm sản phẩm khác"},
	}, nil
}

// ProductInfo describes the best match for name.
func (h *Helpers) ProductInfo(ctx context.Context, name string) (Outcome, error) {
	p, ok, err := h.findOne(ctx, name)
	if err != nil {
		return Outcome{}, fmt.Errorf("shop: product info: %w", err)
	}
	if !ok {
		return Outcome{
			Message:          fmt.Sprintf("Không tìm thấy sản phẩm %q. Bạn có thể nói rõ hơn tên sản phẩm?", name),
			SuggestedActions: []string{"Thử tên khác", "Tìm kiếm tương tự", "Xem danh mục"},
		}, nil
	}

	desc := p.Description
	if desc == "" {
		desc = "Mô hình figure chất lượng cao"
	}
	availability := "Hết hàng"
	if p.Stock > 0 {
		availability = "Còn hàng"
	}
	return Outcome{
		Success: true,
		Message: fmt.Sprintf("%s: %s. Giá: %s. %s. Bạn có muốn thêm vào giỏ hàng không?",
			p.Name, desc, FormatPrice(p.Price), availability),
		Products:         []Product{p},
		SuggestedActions: []string{"Thêm vào giỏ hàng", "Xem tùy chọn tùy chỉnh", "So sánh với sản phẩm khác"},
	}, nil
}

// AddToCart adds quantity units of the best match for name, refusing when
// stock is insufficient.
func (h *Helpers) AddToCart(ctx context.Context, name string, quantity int) (Outcome, error) {
	if h.cart == nil {
		return Outcome{}, errNoCollaborator
	}
	if quantity <= 0 {
		quantity = 1
	}

	p, ok, err := h.findOne(ctx, name)
	if err != nil {
		return Outcome{}, fmt.Errorf("shop: add to cart: %w", err)
	}
	if !ok {
		return Outcome{
			Message:          fmt.Sprintf("Không tìm thấy sản phẩm %q. Bạn có thể nói rõ hơn tên sản phẩm?", name),
			SuggestedActions: []string{"Thử tên khác", "Tìm kiếm sản phẩm"},
		}, nil
	}
	if p.Stock < quantity {
		return Outcome{
			Message: fmt.Sprintf("Sản phẩm %s chỉ còn %d sản phẩm. Bạn có muốn thêm số lượng có sẵn không?",
				p.Name, p.Stock),
			Products:         []Product{p},
			SuggestedActions: []string{fmt.Sprintf("Thêm %d sản phẩm", p.Stock), "Tìm sản phẩm khác"},
		}, nil
	}

	if err := h.cart.AddToCart(ctx, p.ID, quantity); err != nil {
		return Outcome{}, fmt.Errorf("shop: add to cart: %w", err)
	}
	return Outcome{
		Success: true,
		Message: fmt.Sprintf("Đã thêm %d %s vào giỏ hàng với giá %s.",
			quantity, p.Name, FormatPrice(p.Price*int64(quantity))),
		Products:         []Product{p},
		SuggestedActions: []string{"Xem giỏ hàng", "Tiếp tục mua sắm", "Thanh toán ngay"},
	}, nil
}

// CartSummary describes the cart contents.
func (h *Helpers) CartSummary(ctx context.Context) (Outcome, error) {
	if h.cart == nil {
		return Outcome{}, errNoCollaborator
	}
	cart, err := h.cart.Cart(ctx)
	if err != nil {
		return Outcome{}, fmt.Errorf("shop: cart summary: %w", err)
	}
	if len(cart.Items) == 0 {
		return Outcome{
			Message:          "Giỏ hàng của bạn đang trống. Bạn có muốn mua sắm không?",
			SuggestedActions: []string{"Xem sản phẩm", "Tìm kiếm sản phẩm"},
		}, nil
	}

	total := 0
	lines := make([]string, len(cart.Items))
	for i, it := range cart.Items {
		total += it.Quantity
		name := it.Product.Name
		if name == "" {
			name = "Sản phẩm"
		}
		lines[i] = fmt.Sprintf("%d %s", it.Quantity, name)
	}
	return Outcome{
		Success: true,
		Message: fmt.Sprintf("Giỏ hàng có %d sản phẩm: %s. Tổng tiền: %s. Bạn có muốn thanh toán không?",
			total, strings.Join(lines, ", "), FormatPrice(cart.Total)),
		SuggestedActions: []string{"Thanh toán", "Chỉnh sửa giỏ hàng", "Tiếp tục mua sắm"},
	}, nil
}

// CheckOrderStatus reports on orderID, or on the most recent order when
// orderID is empty.
func (h *Helpers) CheckOrderStatus(ctx context.Context, orderID string) (Outcome, error) {
	if h.orders == nil {
		return Outcome{}, errNoCollaborator
	}

	if orderID != "" {
		o, err := h.orders.Order(ctx, orderID)
		if errors.Is(err, ErrNotFound) {
			return Outcome{
				Message:          fmt.Sprintf("Không tìm thấy đơn hàng %s. Vui lòng kiểm tra lại mã đơn hàng.", orderID),
				SuggestedActions: []string{"Thử lại", "Xem đơn hàng trên trang web"},
			}, nil
		}
		if err != nil {
			return Outcome{}, fmt.Errorf("shop: order %q: %w", orderID, err)
		}
		msg := fmt.Sprintf("Đơn hàng %s đang ở trạng thái: %s. Tổng giá trị: %s.",
			orderID, StatusText(o.Status), FormatPrice(o.TotalPrice))
		if d := StatusDescription(o.Status); d != "" {
			msg += " " + d
		}
		return Outcome{
			Success:          true,
			Message:          msg,
			Orders:           []Order{o},
			SuggestedActions: statusActions(o.Status),
		}, nil
	}

	orders, err := h.orders.Orders(ctx)
	if err != nil {
		return Outcome{}, fmt.Errorf("shop: list orders: %w", err)
	}
	if len(orders) == 0 {
		return Outcome{
			Message:          "Bạn chưa có đơn hàng nào. Bạn có muốn mua sắm không?",
			SuggestedActions: []string{"Xem sản phẩm", "Tìm kiếm sản phẩm", "Xem khuyến mãi"},
		}, nil
	}
	recent := orders[0]
	shown := orders
	if len(shown) > recentOrdersShown {
		shown = shown[:recentOrdersShown]
	}
	return Outcome{
		Success: true,
		Message: fmt.Sprintf("Đơn hàng gần nhất %s đang ở trạng thái: %s. Bạn có %d đơn hàng. Muốn xem chi tiết đơn hàng nào?",
			recent.ID, StatusText(recent.Status), len(orders)),
		Orders:           shown,
		SuggestedActions: []string{"Xem chi tiết đơn hàng", "Theo dõi giao hàng", "Xem tất cả đơn hàng"},
	}, nil
}

// TrackOrder gives a delivery estimate for orderID.
func (h *Helpers) TrackOrder(ctx context.Context, orderID string) (Outcome, error) {
	if h.orders == nil {
		return Outcome{}, errNoCollaborator
	}
	o, err := h.orders.Order(ctx, orderID)
	if errors.Is(err, ErrNotFound) {
		return Outcome{
			Message:          fmt.Sprintf("Không thể theo dõi đơn hàng %s. Vui lòng thử lại.", orderID),
			SuggestedActions: []string{"Thử lại", "Liên hệ hỗ trợ"},
		}, nil
	}
	if err != nil {
		return Outcome{}, fmt.Errorf("shop: track order %q: %w", orderID, err)
	}

	eta := "chưa xác định"
	switch o.Status {
	case OrderConfirmed, OrderProcessing:
		eta = h.now().AddDate(0, 0, 3).Format("2/1/2006")
	case OrderShipped:
		eta = h.now().AddDate(0, 0, 1).Format("2/1/2006")
	}
	msg := fmt.Sprintf("Đơn hàng %s hiện tại %s. Dự kiến giao hàng: %s.", o.ID, StatusText(o.Status), eta)
	if d := StatusDescription(o.Status); d != "" {
		msg += " " + d
	}
	return Outcome{
		Success:          true,
		Message:          msg,
		Orders:           []Order{o},
		SuggestedActions: []string{"Xem chi tiết vận chuyển", "Liên hệ hỗ trợ"},
	}, nil
}

// Categories lists the product categories.
func (h *Helpers) Categories(ctx context.Context) (Outcome, error) {
	if h.categories == nil {
		return Outcome{}, errNoCollaborator
	}
	cats, err := h.categories.Categories(ctx)
	if err != nil {
		return Outcome{}, fmt.Errorf("shop: categories: %w", err)
	}
	if len(cats) == 0 {
		return Outcome{Message: "Hiện tại chưa có danh mục sản phẩm nào."}, nil
	}
	names := make([]string, len(cats))
	for i, c := range cats {
		names[i] = c.Name
	}
	return Outcome{
		Success:          true,
		Message:          "Các danh mục sản phẩm: " + strings.Join(names, ", ") + ".",
		SuggestedActions: []string{"Gợi ý sản phẩm", "Tìm kiếm sản phẩm"},
	}, nil
}

func (h *Helpers) findOne(ctx context.Context, name string) (Product, bool, error) {
	if h.products == nil {
		return Product{}, false, errNoCollaborator
	}
	found, err := h.products.SearchProducts(ctx, Query{Search: name, Limit: 1})
	if err != nil {
		return Product{}, false, err
	}
	if len(found) == 0 {
		return Product{}, false, nil
	}
	return found[0], true, nil
}
