// Package watch reloads a code document whenever it or its logo file changes.
package watch

import (
	"context"
	"fmt"
	"path/filepath"

	"github.com/fsnotify/fsnotify"
	"go.uber.org/zap"

	"github.com/koios/purpleqr/pkg/models"
)

// reloadOps are the events editors produce when saving. Atomic saves show
// up as Create or Rename of the target name.
const reloadOps = fsnotify.Write | fsnotify.Create | fsnotify.Rename

// Watcher follows a document on disk. The parent directory is watched
// rather than the file so atomic replacements are not lost.
type Watcher struct {
	path    string
	logger  *zap.Logger
	watcher *fsnotify.Watcher

	logo    string
	logoDir string // watched in addition to the document directory
}

// New starts watching the directory holding path
func New(path string, logger *zap.Logger) (*Watcher, error) {
	abs, err := filepath.Abs(path)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve %s: %w", path, err)
	}

	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("failed to create watcher: %w", err)
	}
	if err := fw.Add(filepath.Dir(abs)); err != nil {
		fw.Close()
		return nil, fmt.Errorf("failed to watch %s: %w", filepath.Dir(abs), err)
	}

	return &Watcher{
		path:    abs,
		logger:  logger.With(zap.String("document", abs)),
		watcher: fw,
	}, nil
}

// Load reads the document once and remembers its logo path. A logo outside
// the document directory gets its own directory watch.
func (w *Watcher) Load() (*models.CodeDocument, error) {
	doc, err := models.LoadDocument(w.path)
	if err != nil {
		return nil, err
	}
	w.logo = ""
	if p := doc.LogoPath(); p != "" {
		if abs, err := filepath.Abs(p); err == nil {
			w.logo = abs
		}
	}
	w.watchLogoDir()
	return doc, nil
}

func (w *Watcher) watchLogoDir() {
	dir := ""
	if w.logo != "" && filepath.Dir(w.logo) != filepath.Dir(w.path) {
		dir = filepath.Dir(w.logo)
	}
	if dir == w.logoDir {
		return
	}

	if w.logoDir != "" {
		if err := w.watcher.Remove(w.logoDir); err != nil {
			w.logger.Debug("Failed to unwatch logo directory", zap.String("dir", w.logoDir), zap.Error(err))
		}
		w.logoDir = ""
	}
	if dir == "" {
		return
	}
	if err := w.watcher.Add(dir); err != nil {
		w.logger.Warn("Failed to watch logo directory", zap.String("dir", dir), zap.Error(err))
		return
	}
	w.logoDir = dir
}

func (w *Watcher) relevant(name string) bool {
	name = filepath.Clean(name)
	return name == w.path || (w.logo != "" && name == w.logo)
}

// Run calls apply with every successfully reloaded document until ctx is
// done. Documents that fail to load or apply are logged and skipped; the
// previous state stays in effect.
func (w *Watcher) Run(ctx context.Context, apply func(*models.CodeDocument) error) error {
	defer w.watcher.Close()

	for {
		select {
		case <-ctx.Done():
			return nil

		case event, ok := <-w.watcher.Events:
			if !ok {
				return nil
			}
			if event.Op&reloadOps == 0 || !w.relevant(event.Name) {
				continue
			}

			w.logger.Debug("Document changed", zap.String("file", event.Name), zap.String("op", event.Op.String()))
			doc, err := w.Load()
			if err != nil {
				w.logger.Warn("Failed to reload document", zap.Error(err))
				continue
			}
			if err := apply(doc); err != nil {
				w.logger.Warn("Failed to apply document", zap.Error(err))
				continue
			}
			w.logger.Info("Document reloaded", zap.String("name", doc.Name))

		case err, ok := <-w.watcher.Errors:
			if !ok {
				return nil
			}
			w.logger.Error("Watcher error", zap.Error(err))
		}
	}
}

// Close stops watching without waiting for Run
func (w *Watcher) Close() error {
	return w.watcher.Close()
}
