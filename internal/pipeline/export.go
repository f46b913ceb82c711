package pipeline

import (
	"bytes"
	"context"
	"encoding/xml"
	"fmt"
	"image"
	"image/jpeg"
	"image/png"
	"path/filepath"
	"strings"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/filecoin-project/go-clock"
	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"

	"github.com/koios/purpleqr/internal/cache"
	"github.com/koios/purpleqr/internal/metrics"
	"github.com/koios/purpleqr/internal/qr"
	"github.com/koios/purpleqr/pkg/models"
)

// Format is an export file format
type Format string

const (
	FormatPNG  Format = "png"
	FormatJPEG Format = "jpeg"
	FormatSVG  Format = "svg"
)

// ParseFormat accepts png, jpeg, jpg or svg in any case
func ParseFormat(s string) (Format, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "png":
		return FormatPNG, nil
	case "jpeg", "jpg":
		return FormatJPEG, nil
	case "svg":
		return FormatSVG, nil
	default:
		return "", fmt.Errorf("unsupported export format %q", s)
	}
}

// FormatFromPath picks the format from a file extension
func FormatFromPath(path string) (Format, error) {
	return ParseFormat(strings.TrimPrefix(filepath.Ext(path), "."))
}

func (f Format) MIME() string {
	switch f {
	case FormatPNG:
		return "image/png"
	case FormatJPEG:
		return "image/jpeg"
	case FormatSVG:
		return "image/svg+xml;charset=utf-8"
	default:
		return "application/octet-stream"
	}
}

func (f Format) Raster() bool {
	return f == FormatPNG || f == FormatJPEG
}

// Filename is purple-qr-<unix millis>.<ext>
func Filename(f Format, at time.Time) string {
	return fmt.Sprintf("purple-qr-%d.%s", at.UnixMilli(), f)
}

// File is a finished download
type File struct {
	Name string
	MIME string
	Data []byte
}

func newFile(f Format, data []byte, at time.Time) *File {
	return &File{Name: Filename(f, at), MIME: f.MIME(), Data: data}
}

// EncodeRaster encodes a surface as PNG or JPEG at quality 100
func EncodeRaster(img image.Image, f Format) ([]byte, error) {
	var buf bytes.Buffer
	switch f {
	case FormatPNG:
		if err := png.Encode(&buf, img); err != nil {
			return nil, fmt.Errorf("failed to encode png: %w", err)
		}
	case FormatJPEG:
		if err := jpeg.Encode(&buf, img, &jpeg.Options{Quality: 100}); err != nil {
			return nil, fmt.Errorf("failed to encode jpeg: %w", err)
		}
	default:
		return nil, fmt.Errorf("%s is not a raster format", f)
	}
	return buf.Bytes(), nil
}

// SerializeSVG writes a standalone SVG file. The SVG namespace is always set
// on the root element.
func SerializeSVG(doc *qr.Document) ([]byte, error) {
	if doc == nil {
		return nil, fmt.Errorf("no vector document")
	}
	out := *doc
	out.Attrs = append([]xml.Attr(nil), doc.Attrs...)
	out.SetAttr("xmlns", qr.SVGNamespace)

	var buf bytes.Buffer
	buf.WriteString(xml.Header)
	if err := xml.NewEncoder(&buf).Encode(&out); err != nil {
		return nil, fmt.Errorf("failed to serialize svg: %w", err)
	}
	return buf.Bytes(), nil
}

// FileRenderer produces export files for a config, independent of any
// preview. Identical concurrent requests share one render and results are
// cached by config fingerprint.
type FileRenderer struct {
	capability qr.Capability
	cache      cache.Cache
	clock      clock.Clock
	group      singleflight.Group
	logger     *zap.Logger
	metrics    *metrics.Metrics
}

// NewFileRenderer creates a renderer; a nil cache disables caching
func NewFileRenderer(capability qr.Capability, c cache.Cache, clk clock.Clock, logger *zap.Logger, m *metrics.Metrics) *FileRenderer {
	if c == nil {
		c = cache.Noop{}
	}
	if clk == nil {
		clk = clock.New()
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &FileRenderer{
		capability: capability,
		cache:      c,
		clock:      clk,
		logger:     logger,
		metrics:    m,
	}
}

// Render returns cfg drawn in format f
func (r *FileRenderer) Render(ctx context.Context, cfg models.RenderConfig, f Format) (*File, error) {
	key, err := cache.Key(cfg, string(f))
	if err != nil {
		return nil, err
	}

	if data, found, err := r.cache.Get(ctx, key); err != nil {
		r.logger.Warn("Export cache read failed", zap.String("key", key), zap.Error(err))
	} else {
		r.metrics.IncCacheLookup(found)
		if found {
			return newFile(f, data, r.clock.Now()), nil
		}
	}

	// the shared render must not die with the first caller's request
	v, err, shared := r.group.Do(key, func() (interface{}, error) {
		data, err := r.render(context.WithoutCancel(ctx), cfg, f)
		if err != nil {
			return nil, err
		}
		if err := r.cache.Set(context.WithoutCancel(ctx), key, data); err != nil {
			r.logger.Warn("Export cache write failed", zap.String("key", key), zap.Error(err))
		}
		return data, nil
	})
	if err != nil {
		return nil, err
	}

	data := v.([]byte)
	r.logger.Debug("Export rendered",
		zap.String("format", string(f)),
		zap.String("size", humanize.Bytes(uint64(len(data)))),
		zap.Bool("shared", shared))
	return newFile(f, data, r.clock.Now()), nil
}

// CachedFiles counts the export files currently cached
func (r *FileRenderer) CachedFiles(ctx context.Context) (int64, error) {
	return r.cache.Stats(ctx)
}

// Purge drops every cached export file
func (r *FileRenderer) Purge(ctx context.Context) error {
	if err := r.cache.Flush(ctx); err != nil {
		return fmt.Errorf("failed to purge export cache: %w", err)
	}
	r.logger.Info("Export cache purged")
	return nil
}

func (r *FileRenderer) render(ctx context.Context, cfg models.RenderConfig, f Format) ([]byte, error) {
	mode := qr.ModeRaster
	if f == FormatSVG {
		mode = qr.ModeVector
	}

	res, err := r.capability.Render(ctx, cfg, mode).Wait(ctx)
	if err != nil {
		return nil, fmt.Errorf("%s render failed: %w", mode, err)
	}

	if mode == qr.ModeVector {
		return SerializeSVG(res.Document)
	}
	if res.Surface == nil {
		return nil, fmt.Errorf("raster render returned no surface")
	}
	return EncodeRaster(res.Surface, f)
}

// Source is what an Exporter reads from; *Scheduler implements it
type Source interface {
	Current(ctx context.Context) (models.RenderConfig, bool, error)
	LastRendered(ctx context.Context) (*Rendered, error)
}

// Exporter turns the preview into downloadable files
type Exporter struct {
	source   Source
	renderer *FileRenderer
	clock    clock.Clock
	logger   *zap.Logger
	metrics  *metrics.Metrics
}

func NewExporter(source Source, renderer *FileRenderer, logger *zap.Logger, m *metrics.Metrics) *Exporter {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Exporter{
		source:   source,
		renderer: renderer,
		clock:    renderer.clock,
		logger:   logger,
		metrics:  m,
	}
}

// Export dispatches on the format. A nil file with a nil error means there
// was nothing to export.
func (e *Exporter) Export(ctx context.Context, f Format) (*File, error) {
	if f == FormatSVG {
		return e.ExportVector(ctx)
	}
	return e.ExportRaster(ctx, f)
}

// ExportRaster encodes the last drawn preview
func (e *Exporter) ExportRaster(ctx context.Context, f Format) (*File, error) {
	if !f.Raster() {
		return nil, fmt.Errorf("%s is not a raster format", f)
	}

	rendered, err := e.source.LastRendered(ctx)
	if err != nil {
		return nil, err
	}
	if rendered == nil || rendered.Surface == nil {
		e.metrics.IncExport(string(f), metrics.OutcomeEmpty)
		e.logger.Debug("Nothing rendered yet, skipping export", zap.String("format", string(f)))
		return nil, nil
	}

	data, err := EncodeRaster(rendered.Surface, f)
	if err != nil {
		e.metrics.IncExport(string(f), metrics.OutcomeFailure)
		return nil, err
	}

	e.metrics.IncExport(string(f), metrics.OutcomeSuccess)
	return newFile(f, data, e.clock.Now()), nil
}

// ExportVector renders the current config again as SVG
func (e *Exporter) ExportVector(ctx context.Context) (*File, error) {
	cfg, ok, err := e.source.Current(ctx)
	if err != nil {
		return nil, err
	}
	if !ok {
		e.metrics.IncExport(string(FormatSVG), metrics.OutcomeEmpty)
		e.logger.Debug("No config requested yet, skipping vector export")
		return nil, nil
	}

	file, err := e.renderer.Render(ctx, cfg, FormatSVG)
	if err != nil {
		e.metrics.IncExport(string(FormatSVG), metrics.OutcomeFailure)
		return nil, err
	}

	e.metrics.IncExport(string(FormatSVG), metrics.OutcomeSuccess)
	return file, nil
}
