package telephony

import (
	"fmt"
	"strings"
)

// NormalizeE164 strips common formatting ("(", ")", "-", ".", spaces) and checks the
// result is "+" followed by 8 to 15 digits with a non-zero leading digit.
// A leading "00" international prefix is rewritten to "+".
func NormalizeE164(raw string) (string, error) {
	s := strings.TrimSpace(raw)
	if s == "" {
		return "", invalidNumber(raw)
	}
	var b strings.Builder
	b.Grow(len(s))
	for i, r := range s {
		switch {
		case r >= '0' && r <= '9':
			b.WriteRune(r)
		case r == '+' && i == 0:
			b.WriteRune(r)
		case r == ' ' || r == '-' || r == '.' || r == '(' || r == ')':
		default:
			return "", invalidNumber(raw)
		}
	}
	n := b.String()
	if strings.HasPrefix(n, "00") {
		n = "+" + n[2:]
	}
	if !strings.HasPrefix(n, "+") {
		return "", invalidNumber(raw)
	}
	digits := n[1:]
	if len(digits) < 8 || len(digits) > 15 || digits[0] == '0' {
		return "", invalidNumber(raw)
	}
	return n, nil
}

func invalidNumber(raw string) error {
	return &ProviderError{Kind: KindInvalidNumber, Op: "normalize", Err: fmt.Errorf("%q is not an E.164 number", raw)}
}
