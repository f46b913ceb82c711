package models

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"reflect"
	"strings"
	"sync"

	"github.com/go-playground/validator/v10"
	"github.com/mitchellh/hashstructure/v2"
)

// ErrorCorrectionLevel is the barcode redundancy setting
type ErrorCorrectionLevel string

const (
	LevelLow      ErrorCorrectionLevel = "L"
	LevelMedium   ErrorCorrectionLevel = "M"
	LevelQuartile ErrorCorrectionLevel = "Q"
	LevelHigh     ErrorCorrectionLevel = "H"
)

// ParseErrorCorrectionLevel accepts L, M, Q or H in any case
func ParseErrorCorrectionLevel(s string) (ErrorCorrectionLevel, error) {
	switch l := ErrorCorrectionLevel(strings.ToUpper(strings.TrimSpace(s))); l {
	case LevelLow, LevelMedium, LevelQuartile, LevelHigh:
		return l, nil
	default:
		return "", fmt.Errorf("unknown error correction level: %q", s)
	}
}

// Logo sizing relative to the code area
const LogoScale = 0.2

// PlaceholderPayload is rendered when there is no user data yet
const PlaceholderPayload = "PurpleQR"

// Style holds the user-adjustable appearance settings
type Style struct {
	Width           int                  `json:"width" yaml:"width" validate:"min=21,max=4096"`
	Height          int                  `json:"height" yaml:"height" validate:"min=21,max=4096"`
	ColorDark       string               `json:"color_dark" yaml:"colorDark" validate:"required,hexcolor"`
	ColorLight      string               `json:"color_light" yaml:"colorLight" validate:"required,hexcolor"`
	ErrorCorrection ErrorCorrectionLevel `json:"error_correction" yaml:"errorCorrection" validate:"oneof=L M Q H"`
	QuietZone       int                  `json:"quiet_zone" yaml:"quietZone" validate:"min=0,max=512"`
}

// DefaultStyle returns the appearance a new session starts with
func DefaultStyle() Style {
	return Style{
		Width:           300,
		Height:          300,
		ColorDark:       "#8A2BE2",
		ColorLight:      "#ffffff",
		ErrorCorrection: LevelQuartile,
		QuietZone:       15,
	}
}

// Validate checks dimensions, colors and the correction level
func (s Style) Validate() error {
	if err := validate().Struct(s); err != nil {
		return fmt.Errorf("invalid style: %w", err)
	}
	return nil
}

// StylePatch carries a partial style edit; nil fields are left unchanged
type StylePatch struct {
	Width           *int                  `json:"width,omitempty"`
	Height          *int                  `json:"height,omitempty"`
	ColorDark       *string               `json:"color_dark,omitempty"`
	ColorLight      *string               `json:"color_light,omitempty"`
	ErrorCorrection *ErrorCorrectionLevel `json:"error_correction,omitempty"`
	QuietZone       *int                  `json:"quiet_zone,omitempty"`
}

// Apply returns s with the non-nil fields of p applied
func (p StylePatch) Apply(s Style) Style {
	if p.Width != nil {
		s.Width = *p.Width
	}
	if p.Height != nil {
		s.Height = *p.Height
	}
	if p.ColorDark != nil {
		s.ColorDark = *p.ColorDark
	}
	if p.ColorLight != nil {
		s.ColorLight = *p.ColorLight
	}
	if p.ErrorCorrection != nil {
		s.ErrorCorrection = *p.ErrorCorrection
	}
	if p.QuietZone != nil {
		s.QuietZone = *p.QuietZone
	}
	return s
}

// Logo is an uploaded image overlaid on the center of the code.
// Data must not be modified after NewLogo.
type Logo struct {
	Data   []byte `json:"-" hash:"ignore"`
	MIME   string `json:"mime"`
	Digest string `json:"digest"`
}

// NewLogo wraps image bytes of the given MIME type
func NewLogo(data []byte, mime string) *Logo {
	sum := sha256.Sum256(data)
	return &Logo{
		Data:   data,
		MIME:   mime,
		Digest: hex.EncodeToString(sum[:]),
	}
}

// RenderConfig is an immutable snapshot handed to the rendering capability.
// LogoWidth and LogoHeight are LogoScale of Width and Height when Logo is set,
// and zero otherwise.
type RenderConfig struct {
	Payload             string               `json:"payload"`
	Width               int                  `json:"width"`
	Height              int                  `json:"height"`
	ColorDark           string               `json:"color_dark"`
	ColorLight          string               `json:"color_light"`
	ErrorCorrection     ErrorCorrectionLevel `json:"error_correction"`
	QuietZone           int                  `json:"quiet_zone"`
	Logo                *Logo                `json:"logo,omitempty"`
	LogoWidth           float64              `json:"logo_width,omitempty"`
	LogoHeight          float64              `json:"logo_height,omitempty"`
	LogoBackgroundColor string               `json:"logo_background_color,omitempty"`
}

// HasLogo reports whether a logo overlay is configured
func (c RenderConfig) HasLogo() bool {
	return c.Logo != nil
}

// CanvasSize is the output size including the quiet zone on every side
func (c RenderConfig) CanvasSize() (int, int) {
	return c.Width + 2*c.QuietZone, c.Height + 2*c.QuietZone
}

// Fingerprint is a structural hash of the config, stable across processes.
// Logos contribute their digest rather than their bytes.
func (c RenderConfig) Fingerprint() (string, error) {
	h, err := hashstructure.Hash(c, hashstructure.FormatV2, nil)
	if err != nil {
		return "", fmt.Errorf("failed to hash render config: %w", err)
	}
	return fmt.Sprintf("%016x", h), nil
}

var (
	validateOnce sync.Once
	validateInst *validator.Validate
)

func validate() *validator.Validate {
	validateOnce.Do(func() {
		validateInst = validator.New()
		// report fields by their JSON names
		validateInst.RegisterTagNameFunc(func(f reflect.StructField) string {
			name, _, _ := strings.Cut(f.Tag.Get("json"), ",")
			if name == "-" {
				return ""
			}
			return name
		})
	})
	return validateInst
}
