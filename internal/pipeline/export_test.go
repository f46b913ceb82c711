package pipeline

import (
	"bytes"
	"context"
	"encoding/xml"
	"image/jpeg"
	"image/png"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/filecoin-project/go-clock"
	"github.com/makiuchi-d/gozxing"
	zxqr "github.com/makiuchi-d/gozxing/qrcode"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/koios/purpleqr/internal/cache"
	"github.com/koios/purpleqr/internal/qr"
	"github.com/koios/purpleqr/pkg/models"
)

var filenamePattern = regexp.MustCompile(`^purple-qr-\d+\.(png|jpeg|svg)$`)

func newExportRig(t *testing.T, capability qr.Capability) (*Scheduler, *Exporter, *clock.Mock) {
	t.Helper()
	mock := clock.NewMock()
	mock.Set(time.UnixMilli(1700000000000))

	s := NewScheduler(capability, NewMemoryTarget(), Options{Clock: mock})
	t.Cleanup(s.Close)

	renderer := NewFileRenderer(capability, cache.NewMemoryCache(time.Minute, 0, mock), mock, zap.NewNop(), nil)
	return s, NewExporter(s, renderer, zap.NewNop(), nil), mock
}

func renderNow(t *testing.T, s *Scheduler, mock *clock.Mock, cfg models.RenderConfig) {
	t.Helper()
	require.NoError(t, s.Update(cfg))
	mock.Add(DefaultWindow)
	require.Eventually(t, func() bool {
		r, err := s.LastRendered(context.Background())
		return err == nil && r != nil && r.Config.Payload == cfg.Payload
	}, waitFor, tick)
}

func TestExportBeforeAnyRender(t *testing.T) {
	_, exporter, _ := newExportRig(t, &fakeCapability{auto: true})
	ctx := context.Background()

	for _, f := range []Format{FormatPNG, FormatJPEG, FormatSVG} {
		file, err := exporter.Export(ctx, f)
		assert.NoError(t, err, f)
		assert.Nil(t, file, f)
	}
}

func TestExportRaster(t *testing.T) {
	capability := &fakeCapability{auto: true}
	s, exporter, mock := newExportRig(t, capability)
	ctx := context.Background()

	renderNow(t, s, mock, configFor("https://example.com"))

	file, err := exporter.ExportRaster(ctx, FormatPNG)
	require.NoError(t, err)
	require.NotNil(t, file)
	assert.Equal(t, "purple-qr-1700000000100.png", file.Name)
	assert.Equal(t, "image/png", file.MIME)

	img, err := png.Decode(bytes.NewReader(file.Data))
	require.NoError(t, err)
	assert.Equal(t, 330, img.Bounds().Dx())

	file, err = exporter.ExportRaster(ctx, FormatJPEG)
	require.NoError(t, err)
	assert.True(t, filenamePattern.MatchString(file.Name), file.Name)
	assert.Equal(t, "image/jpeg", file.MIME)
	_, err = jpeg.Decode(bytes.NewReader(file.Data))
	require.NoError(t, err)

	_, err = exporter.ExportRaster(ctx, FormatSVG)
	assert.Error(t, err)

	assert.Equal(t, 0, capability.countMode(qr.ModeVector), "raster export reads the preview")
}

func TestExportRasterScansBack(t *testing.T) {
	s, exporter, mock := newExportRig(t, &fakeCapability{auto: true})

	payload := "WIFI:T:WPA;S:Caffe\\;Net;P:p@ss;H:true;;"
	m, err := qr.Matrix(payload, models.LevelQuartile)
	require.NoError(t, err)

	style := models.DefaultStyle()
	style.Width, style.Height, style.QuietZone = len(m)*8, len(m)*8, 32
	renderNow(t, s, mock, Assemble(payload, style, nil))

	file, err := exporter.ExportRaster(context.Background(), FormatPNG)
	require.NoError(t, err)

	img, err := png.Decode(bytes.NewReader(file.Data))
	require.NoError(t, err)
	bmp, err := gozxing.NewBinaryBitmapFromImage(img)
	require.NoError(t, err)
	res, err := zxqr.NewQRCodeReader().Decode(bmp, nil)
	require.NoError(t, err)
	assert.Equal(t, payload, res.GetText())
}

func TestExportVector(t *testing.T) {
	capability := &fakeCapability{auto: true}
	s, exporter, _ := newExportRig(t, capability)
	ctx := context.Background()

	// requested but not yet rendered: vector export still uses the current config
	require.NoError(t, s.Update(configFor("https://example.com")))

	file, err := exporter.ExportVector(ctx)
	require.NoError(t, err)
	require.NotNil(t, file)
	assert.True(t, filenamePattern.MatchString(file.Name), file.Name)
	assert.Equal(t, "image/svg+xml;charset=utf-8", file.MIME)

	body := string(file.Data)
	assert.True(t, strings.HasPrefix(body, xml.Header), body[:40])
	assert.Contains(t, body, `<svg xmlns="http://www.w3.org/2000/svg"`)
	assert.Equal(t, 1, strings.Count(body, "xmlns="))

	var parsed struct {
		XMLName xml.Name
	}
	require.NoError(t, xml.Unmarshal(file.Data, &parsed))
	assert.Equal(t, "svg", parsed.XMLName.Local)
	assert.Equal(t, qr.SVGNamespace, parsed.XMLName.Space)

	assert.Equal(t, 1, capability.countMode(qr.ModeVector))
	assert.Equal(t, qr.ModeVector, capability.call(0).mode)
}

func TestExportVectorCoalescesSameConfig(t *testing.T) {
	gate := make(chan struct{})
	capability := &fakeCapability{auto: true, gate: gate}
	s, exporter, _ := newExportRig(t, capability)
	ctx := context.Background()

	require.NoError(t, s.Update(configFor("shared")))

	var wg sync.WaitGroup
	files := make([]*File, 5)
	for i := range files {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			f, err := exporter.ExportVector(ctx)
			assert.NoError(t, err)
			files[i] = f
		}(i)
	}

	require.Eventually(t, func() bool { return capability.countMode(qr.ModeVector) >= 1 }, waitFor, tick)
	time.Sleep(20 * time.Millisecond)
	close(gate)
	wg.Wait()

	assert.Equal(t, 1, capability.countMode(qr.ModeVector))
	for _, f := range files {
		require.NotNil(t, f)
		assert.Equal(t, files[0].Data, f.Data)
	}
}

func TestFileRendererIndependentConfigs(t *testing.T) {
	capability := &fakeCapability{auto: true}
	r := NewFileRenderer(capability, nil, nil, nil, nil)
	ctx := context.Background()

	a, err := r.Render(ctx, configFor("a"), FormatSVG)
	require.NoError(t, err)
	b, err := r.Render(ctx, configFor("b"), FormatSVG)
	require.NoError(t, err)

	assert.NotEqual(t, a.Data, b.Data)
	assert.Equal(t, 2, capability.countMode(qr.ModeVector))

	png1, err := r.Render(ctx, configFor("a"), FormatPNG)
	require.NoError(t, err)
	assert.Equal(t, "image/png", png1.MIME)
	assert.Equal(t, 1, capability.countMode(qr.ModeRaster))
}

func TestFileRendererCache(t *testing.T) {
	capability := &fakeCapability{auto: true}
	c := cache.NewMemoryCache(time.Minute, 0, nil)
	r := NewFileRenderer(capability, c, nil, nil, nil)
	ctx := context.Background()

	first, err := r.Render(ctx, configFor("cached"), FormatJPEG)
	require.NoError(t, err)
	second, err := r.Render(ctx, configFor("cached"), FormatJPEG)
	require.NoError(t, err)

	assert.Equal(t, first.Data, second.Data)
	assert.Equal(t, 1, capability.count())
	assert.Equal(t, 1, c.Len())
}

func TestFileRendererFailure(t *testing.T) {
	r := NewFileRenderer(&fakeCapability{auto: true}, nil, nil, nil, nil)
	cfg := configFor("x")
	cfg.ColorDark = "purple"

	file, err := r.Render(context.Background(), cfg, FormatPNG)
	assert.Error(t, err)
	assert.Nil(t, file)
}

func TestParseFormat(t *testing.T) {
	for in, want := range map[string]Format{"png": FormatPNG, "JPG": FormatJPEG, "jpeg": FormatJPEG, " svg ": FormatSVG} {
		got, err := ParseFormat(in)
		require.NoError(t, err)
		assert.Equal(t, want, got)
	}
	_, err := ParseFormat("gif")
	assert.Error(t, err)

	f, err := FormatFromPath("/tmp/out.JPG")
	require.NoError(t, err)
	assert.Equal(t, FormatJPEG, f)
}

func TestFilename(t *testing.T) {
	at := time.UnixMilli(1712345678901)
	assert.Equal(t, "purple-qr-1712345678901.png", Filename(FormatPNG, at))
	assert.Equal(t, "purple-qr-1712345678901.jpeg", Filename(FormatJPEG, at))
	assert.Equal(t, "purple-qr-1712345678901.svg", Filename(FormatSVG, at))
}

func TestFileTarget(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "preview.png")

	target, err := NewFileTarget(path, zap.NewNop())
	require.NoError(t, err)

	res, err := qr.Generate(configFor("file"), qr.ModeRaster)
	require.NoError(t, err)
	target.Clear()
	target.Draw(res.Surface)

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	img, err := png.Decode(bytes.NewReader(data))
	require.NoError(t, err)
	assert.Equal(t, res.Surface.Bounds(), img.Bounds())

	target.Clear()
	assert.Nil(t, target.Snapshot())
	_, err = os.Stat(path)
	assert.NoError(t, err, "clearing keeps the last frame on disk")

	_, err = NewFileTarget(filepath.Join(dir, "preview.svg"), zap.NewNop())
	assert.Error(t, err)
}
