// Package cache stores encoded export files keyed by render config.
package cache

import (
	"context"
	"fmt"
	"time"

	"github.com/koios/purpleqr/pkg/models"
)

// Cache is a byte store with per-entry expiry
type Cache interface {
	Get(ctx context.Context, key string) ([]byte, bool, error)
	Set(ctx context.Context, key string, value []byte) error
	// Stats counts the stored entries
	Stats(ctx context.Context) (int64, error)
	// Flush drops every entry
	Flush(ctx context.Context) error
	Close() error
}

// Key identifies the file produced for cfg in the given format
func Key(cfg models.RenderConfig, format string) (string, error) {
	fp, err := cfg.Fingerprint()
	if err != nil {
		return "", err
	}
	return fmt.Sprintf("%s.%s", fp, format), nil
}

// Noop always misses and ignores writes
type Noop struct{}

func (Noop) Get(context.Context, string) ([]byte, bool, error) { return nil, false, nil }
func (Noop) Set(context.Context, string, []byte) error         { return nil }
func (Noop) Stats(context.Context) (int64, error)              { return 0, nil }
func (Noop) Flush(context.Context) error                       { return nil }
func (Noop) Close() error                                      { return nil }

const defaultTTL = time.Hour
