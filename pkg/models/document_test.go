package models

import (
	"os"
	"path/filepath"
	"testing"
)

func writeTestDocument(t *testing.T, dir, content string) string {
	t.Helper()
	path := filepath.Join(dir, "code.yaml")
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatalf("Failed to write document: %v", err)
	}
	return path
}

func TestLoadDocument_Valid(t *testing.T) {
	dir := t.TempDir()
	path := writeTestDocument(t, dir, `name: guest
content:
  type: wifi
  wifi:
    ssid: "Caffe;Net"
    password: p@ss
    encryption: WPA
    hidden: true
style:
  colorDark: "#222222"
logo: logo.png
`)

	doc, err := LoadDocument(path)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if doc.Name != "guest" {
		t.Errorf("Name = %q, want guest", doc.Name)
	}
	if doc.Content.Type != ContentWifi {
		t.Errorf("Type = %q, want wifi", doc.Content.Type)
	}
	if doc.Content.Wifi.SSID != "Caffe;Net" || !doc.Content.Wifi.Hidden {
		t.Errorf("Wifi = %+v", doc.Content.Wifi)
	}
	if doc.Style.ColorDark != "#222222" {
		t.Errorf("ColorDark = %q, want #222222", doc.Style.ColorDark)
	}
	// omitted style keys keep their defaults
	if doc.Style.Width != 300 || doc.Style.ColorLight != "#ffffff" || doc.Style.ErrorCorrection != LevelQuartile {
		t.Errorf("defaults not kept: %+v", doc.Style)
	}
	if doc.Path != path {
		t.Errorf("Path = %q, want %q", doc.Path, path)
	}
	if got, want := doc.LogoPath(), filepath.Join(dir, "logo.png"); got != want {
		t.Errorf("LogoPath = %q, want %q", got, want)
	}
}

func TestLoadDocument_Missing(t *testing.T) {
	_, err := LoadDocument(filepath.Join(t.TempDir(), "nope.yaml"))
	if err == nil {
		t.Error("expected error for missing document")
	}
}

func TestParseDocument_InvalidYAML(t *testing.T) {
	_, err := ParseDocument([]byte(": : bad yaml [[["))
	if err == nil {
		t.Error("expected error for invalid YAML")
	}
}

func TestParseDocument_UnknownType(t *testing.T) {
	_, err := ParseDocument([]byte("content:\n  type: sms\n"))
	if err == nil {
		t.Error("expected error for unsupported content type")
	}
}

func TestParseDocument_BadColor(t *testing.T) {
	_, err := ParseDocument([]byte("content:\n  type: text\nstyle:\n  colorDark: purple\n"))
	if err == nil {
		t.Error("expected error for non-hex color")
	}
}

func TestParseDocument_Defaults(t *testing.T) {
	doc, err := ParseDocument([]byte("content:\n  text: hello\n"))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if doc.Content.Type != ContentURL {
		t.Errorf("Type = %q, want url default", doc.Content.Type)
	}
	if doc.Content.Wifi.Encryption != EncryptionWPA {
		t.Errorf("Encryption = %q, want WPA default", doc.Content.Wifi.Encryption)
	}
	if doc.LogoPath() != "" {
		t.Errorf("LogoPath = %q, want empty", doc.LogoPath())
	}
}

func TestCodeDocument_InlineLogo(t *testing.T) {
	doc := NewDocument()
	doc.Logo = "data:image/png;base64,AAAA"
	doc.Path = "/tmp/code.yaml"

	if !doc.HasInlineLogo() {
		t.Error("expected inline logo")
	}
	if doc.LogoPath() != "" {
		t.Errorf("LogoPath = %q, want empty for inline logo", doc.LogoPath())
	}
}
