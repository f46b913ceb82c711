package qr

import (
	"image"

	"golang.org/x/image/draw"
)

func drawRaster(l layout, matrix [][]bool) (*image.RGBA, error) {
	dark, err := ParseHexColor(l.cfg.ColorDark)
	if err != nil {
		return nil, err
	}
	light, err := ParseHexColor(l.cfg.ColorLight)
	if err != nil {
		return nil, err
	}

	w, h := l.cfg.CanvasSize()
	img := image.NewRGBA(image.Rect(0, 0, w, h))
	draw.Draw(img, img.Bounds(), image.NewUniform(light), image.Point{}, draw.Src)

	ink := image.NewUniform(dark)
	runs(matrix, func(from, to, row int) {
		draw.Draw(img, l.span(from, to, row), ink, image.Point{}, draw.Over)
	})

	if box := l.logo(); !box.Empty() {
		bg := l.cfg.LogoBackgroundColor
		if bg == "" {
			bg = l.cfg.ColorLight
		}
		bgColor, err := ParseHexColor(bg)
		if err != nil {
			return nil, err
		}
		draw.Draw(img, box, image.NewUniform(bgColor), image.Point{}, draw.Src)
		if err := drawLogo(img, box, l.cfg.Logo); err != nil {
			return nil, err
		}
	}

	return img, nil
}
