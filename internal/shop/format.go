package shop

import (
	"golang.org/x/text/language"
	"golang.org/x/text/message"
)

var vnPrinter = message.NewPrinter(language.Vietnamese)

// FormatPrice renders a dong amount the way the storefront shows it,
// e.g. 1500000 -> "1.500.000 ₫".
func FormatPrice(amount int64) string {
	return vnPrinter.Sprintf("%d", amount) + " ₫"
}

var statusText = map[OrderStatus]string{
	OrderPending:    "đang chờ xử lý",
	OrderConfirmed:  "đã xác nhận",
	OrderProcessing: "đang xử lý",
	OrderShipped:    "đang giao hàng",
	OrderDelivered:  "đã giao hàng",
	OrderCancelled:  "đã hủy",
	OrderReturned:   "đã trả hàng",
}

var statusDescription = map[OrderStatus]string{
	OrderPending:    "Đơn hàng đang được xem xét và sẽ được xác nhận sớm.",
	OrderConfirmed:  "Đơn hàng đã được xác nhận và đang chuẩn bị.",
	OrderProcessing: "Đơn hàng đang được đóng gói.",
	OrderShipped:    "Đơn hàng đang trên đường giao đến bạn.",
	OrderDelivered:  "Đơn hàng đã được giao thành công.",
	OrderCancelled:  "Đơn hàng đã bị hủy.",
	OrderReturned:   "Đơn hàng đã được trả lại.",
}

// StatusText returns the Vietnamese label for s, or s itself when unknown.
func StatusText(s OrderStatus) string {
	if t, ok := statusText[s]; ok {
		return t
	}
	return string(s)
}

// StatusDescription returns a one-sentence explanation of s, or "" when s
// is unknown.
func StatusDescription(s OrderStatus) string {
	return statusDescription[s]
}

func statusActions(s OrderStatus) []string {
	switch s {
	case OrderPending, OrderConfirmed:
		return []string{"Hủy đơn hàng", "Xem chi tiết đơn hàng"}
	case OrderShipped:
		return []string{"Theo dõi giao hàng", "Liên hệ hỗ trợ"}
	case OrderDelivered:
		return []string{"Đánh giá sản phẩm", "Mua lại"}
	default:
		return []string{"Xem chi tiết đơn hàng"}
	}
}
