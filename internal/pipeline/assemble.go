// Package pipeline turns payloads into rendered output: it assembles render
// configs, debounces them onto a render target and exports files.
package pipeline

import "github.com/koios/purpleqr/pkg/models"

// HasUserData reports whether payload carries real content. Empty payloads
// are rendered with models.PlaceholderPayload.
func HasUserData(payload string) bool {
	return payload != ""
}

// Assemble builds the immutable config for one render. The logo box is
// models.LogoScale of the code size and is drawn on the light color.
func Assemble(payload string, style models.Style, logo *models.Logo) models.RenderConfig {
	if !HasUserData(payload) {
		payload = models.PlaceholderPayload
	}

	cfg := models.RenderConfig{
		Payload:         payload,
		Width:           style.Width,
		Height:          style.Height,
		ColorDark:       style.ColorDark,
		ColorLight:      style.ColorLight,
		ErrorCorrection: style.ErrorCorrection,
		QuietZone:       style.QuietZone,
	}

	if logo != nil {
		cfg.Logo = logo
		cfg.LogoWidth = float64(style.Width) * models.LogoScale
		cfg.LogoHeight = float64(style.Height) * models.LogoScale
		cfg.LogoBackgroundColor = style.ColorLight
	}

	return cfg
}
