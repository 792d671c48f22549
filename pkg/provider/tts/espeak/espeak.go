// Package espeak provides a tts.LocalVoice that shells out to espeak-ng.
package espeak

import (
	"context"
	"errors"
	"fmt"
	"math"
	"os/exec"
	"strconv"
	"strings"

	"github.com/figuro/voice/pkg/provider/tts"
	"github.com/figuro/voice/pkg/types"
)

var _ tts.LocalVoice = (*Voice)(nil)

const (
	// DefaultBinary is looked up in PATH.
	DefaultBinary = "espeak-ng"

	normalWPM = 175
	minWPM    = 80
	maxWPM    = 450
)

// Voice runs one espeak-ng process per utterance.
type Voice struct {
	binary string
}

// Option configures a [Voice].
type Option func(*Voice)

// WithBinary sets the executable to run. Default "espeak-ng".
func WithBinary(path string) Option {
	return func(v *Voice) { v.binary = path }
}

// New returns a Voice.
func New(opts ...Option) *Voice {
	v := &Voice{binary: DefaultBinary}
	for _, o := range opts {
		o(v)
	}
	return v
}

// Available reports whether the binary can be found.
func (v *Voice) Available() bool {
	_, err := exec.LookPath(v.binary)
	return err == nil
}

// Say implements [tts.LocalVoice]. Cancelling ctx kills the process.
func (v *Voice) Say(ctx context.Context, req tts.Request) error {
	if req.Text == "" {
		return nil
	}
	cmd := exec.CommandContext(ctx, v.binary, args(req)...)
	if out, err := cmd.CombinedOutput(); err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		var ee *exec.ExitError
		if errors.As(err, &ee) {
			return fmt.Errorf("espeak: exit %d: %s", ee.ExitCode(), out)
		}
		return fmt.Errorf("espeak: %w", err)
	}
	return nil
}

func args(req tts.Request) []string {
	lang := req.Language
	if lang == "" {
		lang = types.DefaultLanguage
	}
	voice, _, _ := strings.Cut(string(lang), "-")
	return []string{
		"-v", voice,
		"-s", strconv.Itoa(wordsPerMinute(req.EffectiveRate())),
		"--", req.Text,
	}
}

// wordsPerMinute maps a relative rate onto espeak's -s scale.
func wordsPerMinute(rate float64) int {
	wpm := int(math.Round(normalWPM * rate))
	return max(minWPM, min(maxWPM, wpm))
}
