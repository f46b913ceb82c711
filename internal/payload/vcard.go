package payload

import (
	"strings"

	"github.com/koios/purpleqr/pkg/models"
)

// text values per RFC 6350 section 3.4
var vcardTextEscaper = strings.NewReplacer(
	`\`, `\\`,
	`,`, `\,`,
	`;`, `\;`,
	"\r\n", `\n`,
	"\n", `\n`,
	"\r", `\n`,
)

// URIs keep their commas and semicolons; only line breaks would corrupt the card
var vcardURIEscaper = strings.NewReplacer(
	"\r\n", `\n`,
	"\n", `\n`,
	"\r", `\n`,
)

// EncodeVCard emits a version 3.0 card with a fixed line order. Lines for
// empty fields are kept with an empty value.
func EncodeVCard(c models.ContactCard) string {
	t := vcardTextEscaper.Replace

	lines := []string{
		"BEGIN:VCARD",
		"VERSION:3.0",
		"N:" + t(c.LastName) + ";" + t(c.FirstName) + ";;;",
		"FN:" + t(c.FirstName) + " " + t(c.LastName),
		"ORG:" + t(c.Org),
		"TITLE:" + t(c.Title),
		"TEL;TYPE=CELL:" + t(c.Phone),
		"EMAIL:" + t(c.Email),
		"URL:" + vcardURIEscaper.Replace(c.URL),
		"ADR;TYPE=HOME:;;" + t(c.Street) + ";" + t(c.City) + ";;" + t(c.Country),
		"END:VCARD",
	}
	return strings.Join(lines, "\n")
}
