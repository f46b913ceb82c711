package models

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"
)

// CodeDocument is the on-disk description of a code: what it carries and how it looks.
//
//	name: office-guest
//	content:
//	  type: wifi
//	  wifi:
//	    ssid: Guest
//	    password: hunter2
//	style:
//	  colorDark: "#222222"
//	logo: logo.png
type CodeDocument struct {
	Name    string  `yaml:"name" json:"name"`
	Content Content `yaml:"content" json:"content"`
	Style   Style   `yaml:"style" json:"style"`
	Logo    string  `yaml:"logo" json:"logo,omitempty"` // path relative to the document, or a data: URL

	// Runtime fields (not in document)
	Path string `yaml:"-" json:"-"`
}

// NewDocument returns a document holding the session defaults, ready to be
// decoded into so that omitted keys keep their default values.
func NewDocument() *CodeDocument {
	return &CodeDocument{
		Content: NewContent(),
		Style:   DefaultStyle(),
	}
}

// LoadDocument reads and validates a YAML code document
func LoadDocument(path string) (*CodeDocument, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read document: %w", err)
	}

	doc, err := ParseDocument(data)
	if err != nil {
		return nil, err
	}

	doc.Path = path
	return doc, nil
}

// ParseDocument decodes a YAML code document on top of the defaults
func ParseDocument(data []byte) (*CodeDocument, error) {
	doc := NewDocument()
	if err := yaml.Unmarshal(data, doc); err != nil {
		return nil, fmt.Errorf("failed to parse document: %w", err)
	}

	if err := doc.Validate(); err != nil {
		return nil, err
	}

	return doc, nil
}

// Validate checks the content type and the style
func (d *CodeDocument) Validate() error {
	if err := validate().Struct(d); err != nil {
		return fmt.Errorf("invalid document: %w", err)
	}
	return nil
}

// HasInlineLogo reports whether Logo is a data: URL rather than a path
func (d *CodeDocument) HasInlineLogo() bool {
	return strings.HasPrefix(strings.TrimSpace(d.Logo), "data:")
}

// LogoPath resolves Logo against the document directory.
// It returns "" when there is no logo or the logo is inline.
func (d *CodeDocument) LogoPath() string {
	logo := strings.TrimSpace(d.Logo)
	if logo == "" || d.HasInlineLogo() {
		return ""
	}
	if filepath.IsAbs(logo) || d.Path == "" {
		return logo
	}
	return filepath.Join(filepath.Dir(d.Path), logo)
}
