package models

import (
	"fmt"
	"strings"
)

// ContentType selects which structured record is active and which encoder runs
type ContentType string

const (
	ContentURL   ContentType = "url"
	ContentText  ContentType = "text"
	ContentWifi  ContentType = "wifi"
	ContentVCard ContentType = "vcard"
	ContentEmail ContentType = "email"
)

// ContentTypes lists every supported content type in tab order
var ContentTypes = []ContentType{ContentURL, ContentText, ContentWifi, ContentVCard, ContentEmail}

// Valid reports whether t is one of the supported content types
func (t ContentType) Valid() bool {
	for _, known := range ContentTypes {
		if t == known {
			return true
		}
	}
	return false
}

// ParseContentType parses a content type name, ignoring case and surrounding space
func ParseContentType(s string) (ContentType, error) {
	t := ContentType(strings.ToLower(strings.TrimSpace(s)))
	if !t.Valid() {
		return "", fmt.Errorf("unknown content type: %q", s)
	}
	return t, nil
}

// Encryption is the Wi-Fi authentication tag written into the payload
type Encryption string

const (
	EncryptionWPA  Encryption = "WPA"
	EncryptionWEP  Encryption = "WEP"
	EncryptionNone Encryption = "nopass"
)

// WifiCredential describes a network join payload.
// Password is ignored when Encryption is EncryptionNone.
type WifiCredential struct {
	SSID       string     `json:"ssid" yaml:"ssid"`
	Password   string     `json:"password" yaml:"password"`
	Encryption Encryption `json:"encryption" yaml:"encryption" validate:"omitempty,oneof=WPA WEP nopass"`
	Hidden     bool       `json:"hidden" yaml:"hidden"`
}

// ContactCard holds the fields of a vCard. Every field may be empty.
type ContactCard struct {
	FirstName string `json:"first_name" yaml:"firstName"`
	LastName  string `json:"last_name" yaml:"lastName"`
	Phone     string `json:"phone" yaml:"phone"`
	Email     string `json:"email" yaml:"email"`
	Org       string `json:"org" yaml:"org"`
	Title     string `json:"title" yaml:"title"`
	URL       string `json:"url" yaml:"url"`
	Street    string `json:"street" yaml:"street"`
	City      string `json:"city" yaml:"city"`
	Country   string `json:"country" yaml:"country"`
}

// EmailDraft is a pre-filled message
type EmailDraft struct {
	Email   string `json:"email" yaml:"email"`
	Subject string `json:"subject" yaml:"subject"`
	Body    string `json:"body" yaml:"body"`
}

// Content keeps one record per content type, like the tabs of an editor.
// Switching Type never discards the other records.
type Content struct {
	Type  ContentType    `json:"type" yaml:"type" validate:"required,oneof=url text wifi vcard email"`
	URL   string         `json:"url,omitempty" yaml:"url"`
	Text  string         `json:"text,omitempty" yaml:"text"`
	Wifi  WifiCredential `json:"wifi" yaml:"wifi"`
	VCard ContactCard    `json:"vcard" yaml:"vcard"`
	Email EmailDraft     `json:"email" yaml:"email"`
}

// NewContent returns the empty records a new session starts with
func NewContent() Content {
	return Content{
		Type: ContentURL,
		Wifi: WifiCredential{Encryption: EncryptionWPA},
	}
}

// Validate checks the content type and the Wi-Fi encryption tag
func (c Content) Validate() error {
	if err := validate().Struct(c); err != nil {
		return fmt.Errorf("invalid content: %w", err)
	}
	return nil
}

// Active returns the record selected by Type: a string for url and text,
// otherwise the matching struct.
func (c Content) Active() interface{} {
	switch c.Type {
	case ContentURL:
		return c.URL
	case ContentText:
		return c.Text
	case ContentWifi:
		return c.Wifi
	case ContentVCard:
		return c.VCard
	case ContentEmail:
		return c.Email
	default:
		return nil
	}
}
