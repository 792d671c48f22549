// Package unsupported is the stt.Recognizer of devices that cannot capture
// speech. The voice client still runs in text-only mode.
package unsupported

import (
	"context"
	"errors"

	"github.com/figuro/voice/pkg/provider/stt"
	"github.com/figuro/voice/pkg/types"
)

var _ stt.Recognizer = Recognizer{}

// Message tells the user to type instead.
const Message = "Voice recognition không khả dụng trong trình duyệt/thiết bị này. Hãy sử dụng text input."

// ErrUnsupported is returned by every Recognize call.
var ErrUnsupported = errors.New(Message)

// Recognizer always fails with [ErrUnsupported].
type Recognizer struct{}

// Recognize implements [stt.Recognizer].
func (Recognizer) Recognize(context.Context, types.Language) (string, error) {
	return "", ErrUnsupported
}
