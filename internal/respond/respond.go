// Package respond turns a classified intent and its entities into the reply
// the agent speaks.
//
// [Respond] is the static path: one canned Vietnamese sentence per intent.
// [Synthesizer.RespondWithAction] is the action path: for orders, order
// status and product questions it delegates to storefront [Actions] and
// speaks their outcome, degrading to the canned sentence when the
// collaborator fails.
package respond

import (
	"context"
	"log/slog"
	"strings"

	"github.com/figuro/voice/internal/shop"
	"github.com/figuro/voice/pkg/types"
)

// Confidence values reported by the synthesizer. They are fixed levels, not
// measurements.
const (
	ConfidenceCanned  = 0.8
	ConfidenceSuccess = 0.9
	ConfidenceFailure = 0.6
)

var canned = map[types.Intent]string{
	types.IntentCreateOrder:      "Tôi đã hiểu yêu cầu đặt hàng của bạn. Hãy để tôi giúp bạn tìm sản phẩm phù hợp.",
	types.IntentCancelOrder:      "Tôi sẽ giúp bạn hủy đơn hàng. Vui lòng cung cấp mã đơn hàng.",
	types.IntentCheckOrderStatus: "Tôi sẽ kiểm tra trạng thái đơn hàng của bạn. Vui lòng cho biết mã đơn hàng.",
	types.IntentGetProductInfo:   "Tôi sẽ cung cấp thông tin chi tiết về sản phẩm bạn quan tâm.",
	types.IntentGreeting:         "Xin chào! Tôi là trợ lý ảo của Figuro. Tôi có thể giúp gì cho bạn hôm nay?",
	types.IntentGoodbye:          "Cảm ơn bạn đã sử dụng dịch vụ. Hẹn gặp lại!",
	types.IntentUnknown:          "Xin lỗi, tôi chưa hiểu rõ yêu cầu của bạn. Bạn có thể nói rõ hơn được không?",
}

// Respond returns the canned reply for intent. Entities are accepted for
// symmetry with [Synthesizer.RespondWithAction] and currently unused.
// Intents outside the closed set get the clarification reply.
func Respond(intent types.Intent, _ []types.Entity) string {
	if s, ok := canned[intent]; ok {
		return s
	}
	return canned[types.IntentUnknown]
}

// Actions are the storefront operations the synthesizer can delegate to.
// [*shop.Helpers] implements it.
type Actions interface {
	AddToCart(ctx context.Context, productName string, quantity int) (shop.Outcome, error)
	CheckOrderStatus(ctx context.Context, orderID string) (shop.Outcome, error)
	ProductInfo(ctx context.Context, productName string) (shop.Outcome, error)
	Recommendations(ctx context.Context, category string) (shop.Outcome, error)
}

var _ Actions = (*shop.Helpers)(nil)

// Reply is the synthesizer's answer.
type Reply struct {
	Text       string
	Confidence float64
	// Recommendations lists product names the reply talks about.
	Recommendations []string
}

// Option configures a [Synthesizer].
type Option func(*Synthesizer)

// WithLogger sets the logger for collaborator failures.
func WithLogger(l *slog.Logger) Option {
	return func(s *Synthesizer) { s.log = l }
}

// Synthesizer produces replies, delegating to storefront actions when
// available. A Synthesizer with nil actions only produces canned replies.
// It is safe for concurrent use if its Actions are.
type Synthesizer struct {
	actions Actions
	log     *slog.Logger
}

// New returns a Synthesizer over actions.
func New(actions Actions, opts ...Option) *Synthesizer {
	s := &Synthesizer{actions: actions, log: slog.Default()}
	for _, o := range opts {
		o(s)
	}
	return s
}

// RespondWithAction returns the reply for utterance. Collaborator errors are
// logged and replaced by the canned reply at [ConfidenceFailure]; the error
// result is reserved for a cancelled ctx.
func (s *Synthesizer) RespondWithAction(ctx context.Context, utterance string, intent types.Intent, entities []types.Entity) (Reply, error) {
	if err := ctx.Err(); err != nil {
		return Reply{}, err
	}
	if s.actions == nil {
		return cannedReply(intent), nil
	}

	var (
		out shop.Outcome
		err error
	)
	switch intent {
	case types.IntentCreateOrder:
		product, ok := types.FindEntity(entities, types.EntityProduct)
		if !ok {
			return cannedReply(intent), nil
		}
		out, err = s.actions.AddToCart(ctx, product.Value, quantityOf(entities))

	case types.IntentCheckOrderStatus:
		out, err = s.actions.CheckOrderStatus(ctx, OrderID(utterance))

	case types.IntentGetProductInfo:
		name := ""
		if product, ok := types.FindEntity(entities, types.EntityProduct); ok {
			name = product.Value
		} else {
			name = ProductQuery(utterance)
		}
		if name == "" {
			out, err = s.actions.Recommendations(ctx, "")
		} else {
			out, err = s.actions.ProductInfo(ctx, name)
		}

	default:
		return cannedReply(intent), nil
	}

	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return Reply{}, ctxErr
		}
		s.log.Warn("respond: action failed, using canned reply", "intent", intent, "err", err)
		r := cannedReply(intent)
		r.Confidence = ConfidenceFailure
		return r, nil
	}

	r := Reply{
		Text:            out.Message,
		Confidence:      ConfidenceFailure,
		Recommendations: out.ProductNames(),
	}
	if out.Success {
		r.Confidence = ConfidenceSuccess
	}
	if strings.TrimSpace(r.Text) == "" {
		r.Text = Respond(intent, entities)
	}
	return r, nil
}

func cannedReply(intent types.Intent) Reply {
	return Reply{Text: Respond(intent, nil), Confidence: ConfidenceCanned}
}
