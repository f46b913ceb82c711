// Package qr draws QR codes for a RenderConfig, either onto a raster surface
// or into a vector document.
package qr

import (
	"context"
	"errors"
	"image"
	"sync"
	"time"

	"github.com/koios/purpleqr/pkg/models"
)

var (
	ErrEmptyPayload    = errors.New("payload is empty")
	ErrEncode          = errors.New("failed to encode QR matrix")
	ErrUnsupportedLogo = errors.New("unsupported logo format")
	ErrPoolStopped     = errors.New("worker pool is shutting down")
)

// Mode selects the drawer
type Mode int

const (
	ModeRaster Mode = iota
	ModeVector
)

func (m Mode) String() string {
	switch m {
	case ModeRaster:
		return "raster"
	case ModeVector:
		return "vector"
	default:
		return "unknown"
	}
}

// Result is the output of one render. Surface is set for ModeRaster and
// Document for ModeVector.
type Result struct {
	Config   models.RenderConfig
	Mode     Mode
	Surface  *image.RGBA
	Document *Document
	Elapsed  time.Duration
}

// Capability renders codes asynchronously. Render never blocks on the
// drawing itself; the returned Pending completes exactly once.
type Capability interface {
	Render(ctx context.Context, cfg models.RenderConfig, mode Mode) *Pending
}

// Pending is a single-shot future for a Result
type Pending struct {
	done   chan struct{}
	once   sync.Once
	result Result
	err    error
}

// NewPending returns an unresolved future
func NewPending() *Pending {
	return &Pending{done: make(chan struct{})}
}

// Failed returns a future already resolved with err
func Failed(err error) *Pending {
	p := NewPending()
	p.Resolve(Result{}, err)
	return p
}

// Resolve completes the future. Only the first call has any effect.
func (p *Pending) Resolve(r Result, err error) {
	p.once.Do(func() {
		p.result = r
		p.err = err
		close(p.done)
	})
}

// Done is closed once the future is resolved
func (p *Pending) Done() <-chan struct{} {
	return p.done
}

// Wait blocks until the future resolves or ctx is done
func (p *Pending) Wait(ctx context.Context) (Result, error) {
	select {
	case <-p.done:
		return p.result, p.err
	case <-ctx.Done():
		return Result{}, ctx.Err()
	}
}
