package espeak

import (
	"context"
	"slices"
	"testing"

	"github.com/figuro/voice/pkg/provider/tts"
	"github.com/figuro/voice/pkg/types"
)

func TestWordsPerMinute(t *testing.T) {
	t.Parallel()

	tests := []struct {
		rate float64
		want int
	}{
		{1.0, 175},
		{0.5, 88},
		{2.0, 350},
		{0.1, 80},
		{5.0, 450},
	}
	for _, tc := range tests {
		if got := wordsPerMinute(tc.rate); got != tc.want {
			t.Errorf("wordsPerMinute(%v) = %d, want %d", tc.rate, got, tc.want)
		}
	}
}

func TestArgs(t *testing.T) {
	t.Parallel()

	got := args(tts.Request{Text: "Hello there", Language: types.LangEnglish, Rate: 1.0})
	want := []string{"-v", "en", "-s", "175", "--", "Hello there"}
	if !slices.Equal(got, want) {
		t.Errorf("args = %v, want %v", got, want)
	}

	got = args(tts.Request{Text: "-x"})
	if got[1] != "vi" || got[len(got)-2] != "--" {
		t.Errorf("args = %v, want Vietnamese voice and text after --", got)
	}
}

func TestSay(t *testing.T) {
	t.Parallel()

	if err := New().Say(context.Background(), tts.Request{}); err != nil {
		t.Errorf("empty text: %v", err)
	}
	v := New(WithBinary("/nonexistent/espeak-ng"))
	if v.Available() {
		t.Error("Available() = true for a missing binary")
	}
	if err := v.Say(context.Background(), tts.Request{Text: "xin chào"}); err == nil {
		t.Error("expected error for a missing binary")
	}
}
