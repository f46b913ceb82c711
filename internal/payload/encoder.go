// Package payload turns structured content into the canonical text carried by a code.
// Every encoder is total: any input, including all-empty fields, yields a payload.
package payload

import (
	"fmt"
	"strings"

	"github.com/koios/purpleqr/pkg/models"
)

// EncodeURL returns the URL unchanged
func EncodeURL(s string) string {
	return s
}

// EncodeText returns the text unchanged
func EncodeText(s string) string {
	return s
}

var wifiEscaper = strings.NewReplacer(
	`\`, `\\`,
	`;`, `\;`,
	`,`, `\,`,
	`:`, `\:`,
)

// EncodeWifi produces the join-network payload understood by camera scanners:
//
//	WIFI:T:<enc>;S:<ssid>;[P:<password>;][H:true;];
func EncodeWifi(c models.WifiCredential) string {
	var b strings.Builder
	b.WriteString("WIFI:T:")
	b.WriteString(string(c.Encryption))
	b.WriteString(";S:")
	b.WriteString(wifiEscaper.Replace(c.SSID))
	b.WriteString(";")
	if c.Encryption != models.EncryptionNone {
		b.WriteString("P:")
		b.WriteString(wifiEscaper.Replace(c.Password))
		b.WriteString(";")
	}
	if c.Hidden {
		b.WriteString("H:true;")
	}
	b.WriteString(";")
	return b.String()
}

// Encode dispatches to the encoder for t. data must be a string for url and
// text, or the matching record (value or pointer) for the other types.
func Encode(t models.ContentType, data interface{}) (string, error) {
	switch t {
	case models.ContentURL, models.ContentText:
		s, ok := data.(string)
		if !ok {
			return "", fmt.Errorf("%s content must be a string, got %T", t, data)
		}
		if t == models.ContentURL {
			return EncodeURL(s), nil
		}
		return EncodeText(s), nil
	case models.ContentWifi:
		switch v := data.(type) {
		case models.WifiCredential:
			return EncodeWifi(v), nil
		case *models.WifiCredential:
			return EncodeWifi(*v), nil
		}
	case models.ContentVCard:
		switch v := data.(type) {
		case models.ContactCard:
			return EncodeVCard(v), nil
		case *models.ContactCard:
			return EncodeVCard(*v), nil
		}
	case models.ContentEmail:
		switch v := data.(type) {
		case models.EmailDraft:
			return EncodeEmail(v), nil
		case *models.EmailDraft:
			return EncodeEmail(*v), nil
		}
	default:
		return "", fmt.Errorf("unknown content type: %q", t)
	}
	return "", fmt.Errorf("%s content has unexpected type %T", t, data)
}

// EncodeContent encodes the active record of c
func EncodeContent(c models.Content) (string, error) {
	return Encode(c.Type, c.Active())
}
