package respond

import (
	"regexp"
	"strconv"
	"strings"
	"unicode"

	"github.com/figuro/voice/internal/pattern"
	"github.com/figuro/voice/pkg/types"
)

// numberWords maps folded Vietnamese number words to their value.
var numberWords = map[string]int{
	"mot": 1,
	"hai": 2,
	"ba":  3,
	"bon": 4,
	"nam": 5,
}

// quantityOf reads the first quantity entity. Digits win; otherwise the
// first Vietnamese number word is used. Anything else means one.
func quantityOf(entities []types.Entity) int {
	e, ok := types.FindEntity(entities, types.EntityQuantity)
	if !ok {
		return 1
	}
	return ParseQuantity(e.Value)
}

// ParseQuantity parses a quantity entity value such as "2", "2 cái" or
// "hai chiếc". It returns 1 when no positive number is found.
func ParseQuantity(v string) int {
	for _, f := range strings.Fields(pattern.Fold(v)) {
		if n, err := strconv.Atoi(f); err == nil {
			if n > 0 {
				return n
			}
			return 1
		}
		if n, ok := numberWords[f]; ok {
			return n
		}
	}
	return 1
}

var orderKeyword = regexp.MustCompile(`(?i)\b(?:don hang|order)\b`)

// OrderID extracts an order code from text: the first token after "đơn
// hàng" or "order" that is at least four characters of letters, digits or
// dashes and contains a digit. A '#'-prefixed token anywhere in the text
// also qualifies. It returns "" when no code is present.
func OrderID(text string) string {
	folded := pattern.Fold(text)
	raw := strings.Fields(text)
	fields := strings.Fields(folded)

	// Folding preserves the field count for Vietnamese text, so positions in
	// fields index into raw.
	if loc := orderKeyword.FindStringIndex(folded); loc != nil && len(fields) == len(raw) {
		before := len(strings.Fields(folded[:loc[1]]))
		for i := before; i < len(raw); i++ {
			if id, ok := orderToken(raw[i]); ok {
				return id
			}
		}
	}
	for _, f := range raw {
		if strings.HasPrefix(f, "#") {
			if id, ok := orderToken(f); ok {
				return id
			}
		}
	}
	return ""
}

func orderToken(tok string) (string, bool) {
	tok = strings.TrimRight(strings.TrimPrefix(tok, "#"), ".,!?;:")
	if len(tok) < 4 {
		return "", false
	}
	hasDigit := false
	for _, r := range tok {
		switch {
		case unicode.IsDigit(r) && r < unicode.MaxASCII:
			hasDigit = true
		case r == '-', r < unicode.MaxASCII && unicode.IsLetter(r):
		default:
			return "", false
		}
	}
	return tok, hasDigit
}

// productPrefixes are removed, longest first, from the start of a product
// question to leave the product name. They are matched on folded text.
var productPrefixes = []string{
	"cho toi biet thong tin ve san pham",
	"cho toi biet thong tin ve",
	"cho toi thong tin ve san pham",
	"cho toi thong tin san pham",
	"thong tin ve san pham",
	"thong tin san pham",
	"thong tin ve",
	"thong tin",
	"chi tiet san pham",
	"chi tiet mo hinh",
	"chi tiet",
	"gia cua san pham",
	"gia cua",
	"gia",
	"tell me about",
	"product info",
	"info about",
	"price of",
}

var productSuffixes = []string{
	"gia bao nhieu",
	"bao nhieu tien",
	"bao nhieu",
	"nhu the nao",
	"the nao",
}

// ProductQuery strips known question phrases from text and returns what is
// left as the product name, in the user's original spelling. It returns ""
// when nothing meaningful remains.
func ProductQuery(text string) string {
	raw := strings.Fields(strings.Trim(text, " ?.!"))
	folded := strings.Fields(pattern.Fold(strings.Trim(text, " ?.!")))
	if len(raw) != len(folded) {
		return ""
	}

	start, end := 0, len(raw)
	joined := strings.Join(folded, " ")
	for _, p := range productPrefixes {
		if joined == p || strings.HasPrefix(joined, p+" ") {
			start = len(strings.Fields(p))
			break
		}
	}
	tail := strings.Join(folded[start:], " ")
	for _, s := range productSuffixes {
		if tail == s || strings.HasSuffix(tail, " "+s) {
			end -= len(strings.Fields(s))
			break
		}
	}
	if start >= end {
		return ""
	}
	// "mô hình" and "sản phẩm" alone are not names.
	name := strings.Join(raw[start:end], " ")
	switch pattern.Fold(name) {
	case "mo hinh", "san pham", "figure", "nay", "do", "san pham nay", "mo hinh nay":
		return ""
	}
	return name
}
