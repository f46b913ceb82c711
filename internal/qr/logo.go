package qr

import (
	"bytes"
	"encoding/base64"
	"fmt"
	"image"
	_ "image/gif"
	_ "image/jpeg"
	_ "image/png"
	"net/url"
	"strings"

	"github.com/dustin/go-humanize"
	"github.com/gabriel-vasile/mimetype"
	"github.com/srwiley/oksvg"
	"github.com/srwiley/rasterx"
	"golang.org/x/image/draw"
	_ "golang.org/x/image/webp"

	"github.com/koios/purpleqr/pkg/models"
)

// LogoTypes are the accepted logo MIME types
var LogoTypes = []string{"image/png", "image/jpeg", "image/gif", "image/webp", "image/svg+xml"}

// MaxLogoDimension bounds the declared width and height of bitmap logos
const MaxLogoDimension = 4096

// ReadLogo accepts raw image bytes or a data: URL. The content type is
// sniffed from the bytes; a declared data URL type is not trusted. The
// image must decode in full, so a logo accepted here renders.
// maxBytes <= 0 disables the size check.
func ReadLogo(raw []byte, maxBytes int64) (*models.Logo, error) {
	data := raw
	if bytes.HasPrefix(bytes.TrimSpace(raw), []byte("data:")) {
		decoded, err := decodeDataURL(string(bytes.TrimSpace(raw)))
		if err != nil {
			return nil, err
		}
		data = decoded
	}

	if len(data) == 0 {
		return nil, fmt.Errorf("%w: empty image", ErrUnsupportedLogo)
	}
	if maxBytes > 0 && int64(len(data)) > maxBytes {
		return nil, fmt.Errorf("%w: %s exceeds the %s limit", ErrUnsupportedLogo,
			humanize.IBytes(uint64(len(data))), humanize.IBytes(uint64(maxBytes)))
	}

	mtype := mimetype.Detect(data)
	for _, t := range LogoTypes {
		if mtype.Is(t) {
			if err := checkLogo(data, t); err != nil {
				return nil, err
			}
			return models.NewLogo(data, t), nil
		}
	}
	return nil, fmt.Errorf("%w: %s", ErrUnsupportedLogo, mtype.String())
}

// checkLogo decodes data in full. Bitmap dimensions are read from the
// header before any pixels are allocated.
func checkLogo(data []byte, mime string) error {
	if mime == "image/svg+xml" {
		if _, err := oksvg.ReadIconStream(bytes.NewReader(data), oksvg.IgnoreErrorMode); err != nil {
			return fmt.Errorf("%w: %v", ErrUnsupportedLogo, err)
		}
		return nil
	}

	cfg, _, err := image.DecodeConfig(bytes.NewReader(data))
	if err != nil {
		return fmt.Errorf("%w: %v", ErrUnsupportedLogo, err)
	}
	if cfg.Width <= 0 || cfg.Height <= 0 || cfg.Width > MaxLogoDimension || cfg.Height > MaxLogoDimension {
		return fmt.Errorf("%w: %dx%d exceeds %dx%d", ErrUnsupportedLogo,
			cfg.Width, cfg.Height, MaxLogoDimension, MaxLogoDimension)
	}
	if _, _, err := image.Decode(bytes.NewReader(data)); err != nil {
		return fmt.Errorf("%w: %v", ErrUnsupportedLogo, err)
	}
	return nil
}

// decodeDataURL handles data:[<mediatype>][;base64],<data>
func decodeDataURL(s string) ([]byte, error) {
	header, payload, ok := strings.Cut(strings.TrimPrefix(s, "data:"), ",")
	if !ok {
		return nil, fmt.Errorf("%w: malformed data URL", ErrUnsupportedLogo)
	}

	if strings.HasSuffix(header, ";base64") {
		data, err := base64.StdEncoding.DecodeString(payload)
		if err != nil {
			return nil, fmt.Errorf("%w: invalid base64 data URL: %v", ErrUnsupportedLogo, err)
		}
		return data, nil
	}

	text, err := url.PathUnescape(payload)
	if err != nil {
		return nil, fmt.Errorf("%w: invalid data URL: %v", ErrUnsupportedLogo, err)
	}
	return []byte(text), nil
}

// DataURL renders the logo as a base64 data URL
func DataURL(logo *models.Logo) string {
	return "data:" + logo.MIME + ";base64," + base64.StdEncoding.EncodeToString(logo.Data)
}

// DecodeLogo decodes the logo into an image. SVG logos are rasterized at
// width x height; bitmaps keep their own size.
func DecodeLogo(logo *models.Logo, width, height int) (image.Image, error) {
	if logo == nil || len(logo.Data) == 0 {
		return nil, fmt.Errorf("%w: no image data", ErrUnsupportedLogo)
	}

	if logo.MIME == "image/svg+xml" {
		return rasterizeSVG(logo.Data, width, height)
	}

	img, _, err := image.Decode(bytes.NewReader(logo.Data))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUnsupportedLogo, err)
	}
	return img, nil
}

func rasterizeSVG(data []byte, width, height int) (image.Image, error) {
	if width <= 0 || height <= 0 {
		return nil, fmt.Errorf("%w: svg target size %dx%d", ErrUnsupportedLogo, width, height)
	}

	icon, err := oksvg.ReadIconStream(bytes.NewReader(data), oksvg.IgnoreErrorMode)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUnsupportedLogo, err)
	}

	img := image.NewRGBA(image.Rect(0, 0, width, height))
	icon.SetTarget(0, 0, float64(width), float64(height))
	scanner := rasterx.NewScannerGV(width, height, img, img.Bounds())
	icon.Draw(rasterx.NewDasher(width, height, scanner), 1)
	return img, nil
}

// drawLogo scales the logo into r on dst, compositing over what is there
func drawLogo(dst *image.RGBA, r image.Rectangle, logo *models.Logo) error {
	src, err := DecodeLogo(logo, r.Dx(), r.Dy())
	if err != nil {
		return err
	}
	draw.CatmullRom.Scale(dst, r, src, src.Bounds(), draw.Over, nil)
	return nil
}
