package pipeline

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/koios/purpleqr/pkg/models"
)

func TestAssemble(t *testing.T) {
	style := models.DefaultStyle()

	t.Run("with logo", func(t *testing.T) {
		logo := models.NewLogo([]byte("png bytes"), "image/png")
		cfg := Assemble("https://x.io", style, logo)

		assert.Equal(t, "https://x.io", cfg.Payload)
		assert.Equal(t, 300, cfg.Width)
		assert.Equal(t, 300, cfg.Height)
		assert.Equal(t, 60.0, cfg.LogoWidth)
		assert.Equal(t, 60.0, cfg.LogoHeight)
		assert.Equal(t, "#ffffff", cfg.LogoBackgroundColor)
		assert.Same(t, logo, cfg.Logo)
		assert.Equal(t, models.LevelQuartile, cfg.ErrorCorrection)
		assert.Equal(t, 15, cfg.QuietZone)
	})

	t.Run("without logo", func(t *testing.T) {
		cfg := Assemble("hello", style, nil)

		assert.False(t, cfg.HasLogo())
		assert.Zero(t, cfg.LogoWidth)
		assert.Zero(t, cfg.LogoHeight)
		assert.Empty(t, cfg.LogoBackgroundColor)
	})

	t.Run("empty payload uses placeholder", func(t *testing.T) {
		cfg := Assemble("", style, nil)

		assert.Equal(t, models.PlaceholderPayload, cfg.Payload)
		assert.False(t, HasUserData(""))
		assert.True(t, HasUserData(" "))
	})

	t.Run("logo follows non-square sizes", func(t *testing.T) {
		s := style
		s.Width, s.Height = 500, 250
		s.ColorLight = "#eeeeee"
		cfg := Assemble("x", s, models.NewLogo([]byte{1}, "image/png"))

		assert.Equal(t, 100.0, cfg.LogoWidth)
		assert.Equal(t, 50.0, cfg.LogoHeight)
		assert.Equal(t, "#eeeeee", cfg.LogoBackgroundColor)
	})
}
