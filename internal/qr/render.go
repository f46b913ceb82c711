package qr

import (
	"fmt"
	"image"
	"math"
	"time"

	qrcode "github.com/skip2/go-qrcode"

	"github.com/koios/purpleqr/pkg/models"
)

var recoveryLevels = map[models.ErrorCorrectionLevel]qrcode.RecoveryLevel{
	models.LevelLow:      qrcode.Low,
	models.LevelMedium:   qrcode.Medium,
	models.LevelQuartile: qrcode.High,
	models.LevelHigh:     qrcode.Highest,
}

// Matrix returns the module grid for the payload, without a border.
// matrix[y][x] is true for dark modules.
func Matrix(payload string, level models.ErrorCorrectionLevel) ([][]bool, error) {
	if payload == "" {
		return nil, ErrEmptyPayload
	}
	rl, ok := recoveryLevels[level]
	if !ok {
		return nil, fmt.Errorf("%w: unknown error correction level %q", ErrEncode, level)
	}

	code, err := qrcode.New(payload, rl)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrEncode, err)
	}
	code.DisableBorder = true
	return code.Bitmap(), nil
}

// layout maps modules and the logo onto canvas pixels. Module edges are
// integer so that raster and vector output agree pixel for pixel.
type layout struct {
	cfg  models.RenderConfig
	size int
}

// cell returns the pixel bounds of module (col, row)
func (l layout) cell(col, row int) image.Rectangle {
	return image.Rect(
		l.cfg.QuietZone+col*l.cfg.Width/l.size,
		l.cfg.QuietZone+row*l.cfg.Height/l.size,
		l.cfg.QuietZone+(col+1)*l.cfg.Width/l.size,
		l.cfg.QuietZone+(row+1)*l.cfg.Height/l.size,
	)
}

// span returns the bounds of modules [from, to) on one row
func (l layout) span(from, to, row int) image.Rectangle {
	return l.cell(from, row).Union(l.cell(to-1, row))
}

// logo returns the centered logo box, or an empty rectangle
func (l layout) logo() image.Rectangle {
	if !l.cfg.HasLogo() {
		return image.Rectangle{}
	}
	w := int(math.Round(l.cfg.LogoWidth))
	h := int(math.Round(l.cfg.LogoHeight))
	x := l.cfg.QuietZone + (l.cfg.Width-w)/2
	y := l.cfg.QuietZone + (l.cfg.Height-h)/2
	return image.Rect(x, y, x+w, y+h)
}

// runs calls fn for each horizontal run of dark modules
func runs(matrix [][]bool, fn func(from, to, row int)) {
	for y, line := range matrix {
		start := -1
		for x, dark := range line {
			switch {
			case dark && start < 0:
				start = x
			case !dark && start >= 0:
				fn(start, x, y)
				start = -1
			}
		}
		if start >= 0 {
			fn(start, len(line), y)
		}
	}
}

// Generate renders cfg synchronously in the given mode
func Generate(cfg models.RenderConfig, mode Mode) (Result, error) {
	started := time.Now()

	if cfg.Width <= 0 || cfg.Height <= 0 || cfg.QuietZone < 0 {
		return Result{}, fmt.Errorf("%w: invalid size %dx%d quiet zone %d", ErrEncode, cfg.Width, cfg.Height, cfg.QuietZone)
	}

	matrix, err := Matrix(cfg.Payload, cfg.ErrorCorrection)
	if err != nil {
		return Result{}, err
	}
	l := layout{cfg: cfg, size: len(matrix)}

	res := Result{Config: cfg, Mode: mode}
	switch mode {
	case ModeRaster:
		res.Surface, err = drawRaster(l, matrix)
	case ModeVector:
		res.Document, err = drawVector(l, matrix)
	default:
		err = fmt.Errorf("unknown render mode %d", mode)
	}
	if err != nil {
		return Result{}, err
	}

	res.Elapsed = time.Since(started)
	return res, nil
}
