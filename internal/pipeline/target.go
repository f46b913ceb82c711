package pipeline

import (
	"bytes"
	"fmt"
	"image"
	"image/draw"
	"os"
	"path/filepath"
	"sync"

	"go.uber.org/zap"
)

// Target is where the preview is drawn. The scheduler calls Clear before
// every render and Draw once the render succeeds.
type Target interface {
	Clear()
	Draw(surface *image.RGBA)
	// Snapshot returns a copy of the drawn surface, or nil when cleared
	Snapshot() *image.RGBA
}

func cloneRGBA(src *image.RGBA) *image.RGBA {
	if src == nil {
		return nil
	}
	dst := image.NewRGBA(src.Bounds())
	draw.Draw(dst, dst.Bounds(), src, src.Bounds().Min, draw.Src)
	return dst
}

// MemoryTarget keeps the preview in memory
type MemoryTarget struct {
	mu      sync.RWMutex
	surface *image.RGBA
	draws   int
}

func NewMemoryTarget() *MemoryTarget {
	return &MemoryTarget{}
}

func (t *MemoryTarget) Clear() {
	t.mu.Lock()
	t.surface = nil
	t.mu.Unlock()
}

func (t *MemoryTarget) Draw(surface *image.RGBA) {
	c := cloneRGBA(surface)
	t.mu.Lock()
	t.surface = c
	t.draws++
	t.mu.Unlock()
}

func (t *MemoryTarget) Snapshot() *image.RGBA {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return cloneRGBA(t.surface)
}

// Draws counts successful draws since creation
func (t *MemoryTarget) Draws() int {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.draws
}

// FileTarget mirrors the preview into an image file on every draw. Clear
// leaves the file in place so viewers keep the previous frame.
type FileTarget struct {
	*MemoryTarget
	path   string
	format Format
	logger *zap.Logger
}

// NewFileTarget writes PNG or JPEG previews to path depending on its extension
func NewFileTarget(path string, logger *zap.Logger) (*FileTarget, error) {
	format, err := FormatFromPath(path)
	if err != nil {
		return nil, err
	}
	if format == FormatSVG {
		return nil, fmt.Errorf("preview target must be a raster image: %s", path)
	}
	return &FileTarget{
		MemoryTarget: NewMemoryTarget(),
		path:         path,
		format:       format,
		logger:       logger,
	}, nil
}

func (t *FileTarget) Draw(surface *image.RGBA) {
	t.MemoryTarget.Draw(surface)

	data, err := EncodeRaster(surface, t.format)
	if err != nil {
		t.logger.Error("Failed to encode preview", zap.String("path", t.path), zap.Error(err))
		return
	}
	if err := writeFileAtomic(t.path, data); err != nil {
		t.logger.Error("Failed to write preview", zap.String("path", t.path), zap.Error(err))
		return
	}
	t.logger.Debug("Preview written", zap.String("path", t.path), zap.Int("bytes", len(data)))
}

// writeFileAtomic replaces path via a temp file in the same directory
func writeFileAtomic(path string, data []byte) error {
	tmp, err := os.CreateTemp(filepath.Dir(path), "."+filepath.Base(path)+"-*")
	if err != nil {
		return fmt.Errorf("failed to create temp file: %w", err)
	}
	defer os.Remove(tmp.Name())

	if _, err := bytes.NewReader(data).WriteTo(tmp); err != nil {
		tmp.Close()
		return fmt.Errorf("failed to write temp file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("failed to close temp file: %w", err)
	}
	if err := os.Rename(tmp.Name(), path); err != nil {
		return fmt.Errorf("failed to replace %s: %w", path, err)
	}
	return nil
}
