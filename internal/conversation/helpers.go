package conversation

import (
	"context"

	"github.com/figuro/voice/pkg/types"
)

// QuickAction is a canned query offered as a shortcut.
type QuickAction struct {
	Label string
	Query string
}

var quickActions = []QuickAction{
	{Label: "Tìm sản phẩm", Query: "Tôi muốn tìm sản phẩm mô hình figure"},
	{Label: "Kiểm tra đơn hàng", Query: "Kiểm tra trạng thái đơn hàng của tôi"},
	{Label: "Gợi ý sản phẩm", Query: "Gợi ý cho tôi một số sản phẩm hay"},
	{Label: "Hỗ trợ tùy chỉnh", Query: "Tôi cần hỗ trợ tùy chỉnh sản phẩm"},
}

// QuickActions returns the shortcut queries in display order.
func QuickActions() []QuickAction {
	out := make([]QuickAction, len(quickActions))
	copy(out, quickActions)
	return out
}

// AskProductInfo submits a product information request.
func (m *Manager) AskProductInfo(ctx context.Context, product string) (types.VoiceResult, error) {
	return m.Submit(ctx, ProductInfoQuery(product), types.SourceText)
}

// CheckOrderStatus submits an order status request. An empty id asks
// about the user's own orders.
func (m *Manager) CheckOrderStatus(ctx context.Context, orderID string) (types.VoiceResult, error) {
	return m.Submit(ctx, OrderStatusQuery(orderID), types.SourceText)
}

// GetRecommendations submits a recommendation request, optionally scoped
// to a category.
func (m *Manager) GetRecommendations(ctx context.Context, category string) (types.VoiceResult, error) {
	return m.Submit(ctx, RecommendationQuery(category), types.SourceText)
}

// ProductInfoQuery phrases a product information request.
func ProductInfoQuery(product string) string {
	return "Cho tôi biết thông tin về sản phẩm " + product
}

// OrderStatusQuery phrases an order status request.
func OrderStatusQuery(orderID string) string {
	if orderID == "" {
		return "Kiểm tra trạng thái đơn hàng của tôi"
	}
	return "Kiểm tra trạng thái đơn hàng " + orderID
}

// RecommendationQuery phrases a recommendation request.
func RecommendationQuery(category string) string {
	if category == "" {
		return "Gợi ý sản phẩm cho tôi"
	}
	return "Gợi ý sản phẩm trong danh mục " + category
}
