package payload

import (
	"strings"

	"github.com/koios/purpleqr/pkg/models"
)

// EncodeEmail builds a mailto URI. The address is inserted verbatim; subject
// and body are percent-encoded as URI components.
func EncodeEmail(d models.EmailDraft) string {
	return "mailto:" + d.Email +
		"?subject=" + EscapeComponent(d.Subject) +
		"&body=" + EscapeComponent(d.Body)
}

const upperhex = "0123456789ABCDEF"

// EscapeComponent percent-encodes every UTF-8 byte except the URI component
// safe set A-Z a-z 0-9 - _ . ! ~ * ' ( ). Spaces become %20, never '+'.
func EscapeComponent(s string) string {
	n := 0
	for i := 0; i < len(s); i++ {
		if !componentSafe(s[i]) {
			n++
		}
	}
	if n == 0 {
		return s
	}

	var b strings.Builder
	b.Grow(len(s) + 2*n)
	for i := 0; i < len(s); i++ {
		c := s[i]
		if componentSafe(c) {
			b.WriteByte(c)
			continue
		}
		b.WriteByte('%')
		b.WriteByte(upperhex[c>>4])
		b.WriteByte(upperhex[c&15])
	}
	return b.String()
}

func componentSafe(c byte) bool {
	switch {
	case 'a' <= c && c <= 'z', 'A' <= c && c <= 'Z', '0' <= c && c <= '9':
		return true
	}
	switch c {
	case '-', '_', '.', '!', '~', '*', '\'', '(', ')':
		return true
	}
	return false
}
