package pattern

import (
	"strings"
	"unicode"

	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"
)

// Fold lowercases s and strips Vietnamese diacritics so that "Kiểm tra đơn
// hàng" becomes "kiem tra don hang".
func Fold(s string) string {
	return strings.ToLower(StripMarks(s))
}

// StripMarks removes diacritics from s without changing case. Regular
// expression syntax survives it unchanged, so it is also applied to pattern
// sources.
func StripMarks(s string) string {
	// A transform.Transformer carries state and must not be shared between
	// goroutines, so the chain is built per call.
	t := transform.Chain(
		norm.NFD,
		runes.Remove(runes.In(unicode.Mn)),
		runes.Map(foldStroke),
		norm.NFC,
	)
	out, _, err := transform.String(t, s)
	if err != nil {
		return s
	}
	return out
}

// foldStroke maps the letters NFD cannot decompose.
func foldStroke(r rune) rune {
	switch r {
	case 'đ':
		return 'd'
	case 'Đ':
		return 'D'
	}
	return r
}
