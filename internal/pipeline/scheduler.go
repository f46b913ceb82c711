package pipeline

import (
	"context"
	"errors"
	"fmt"
	"image"
	"sync"
	"time"

	"github.com/filecoin-project/go-clock"
	"go.uber.org/zap"

	"github.com/koios/purpleqr/internal/metrics"
	"github.com/koios/purpleqr/internal/qr"
	"github.com/koios/purpleqr/pkg/models"
)

// DefaultWindow is the debounce window measured from the latest change
const DefaultWindow = 100 * time.Millisecond

var ErrClosed = errors.New("scheduler is closed")

// Options configures a Scheduler. Zero values select the defaults.
type Options struct {
	Window  time.Duration
	Clock   clock.Clock
	Logger  *zap.Logger
	Metrics *metrics.Metrics
}

// Rendered is the last successfully drawn config and its surface
type Rendered struct {
	Config  models.RenderConfig
	Surface *image.RGBA
	At      time.Time
}

type flight struct {
	seq    uint64
	cfg    models.RenderConfig
	start  time.Time
	cancel context.CancelFunc
}

// Scheduler debounces config changes and renders the latest one onto a
// Target. A single goroutine owns all state; public methods hand it
// closures and wait for them to run.
type Scheduler struct {
	capability qr.Capability
	target     Target
	clock      clock.Clock
	window     time.Duration
	logger     *zap.Logger
	metrics    *metrics.Metrics

	events    chan func()
	quit      chan struct{}
	done      chan struct{}
	closeOnce sync.Once
	ctx       context.Context
	cancel    context.CancelFunc

	// owned by the loop goroutine
	seq      uint64
	latest   *models.RenderConfig
	task     *Task
	inflight *flight
	ready    bool
	rendered *Rendered
	waiters  []chan struct{}
}

// NewScheduler starts the loop goroutine. Call Close to stop it.
func NewScheduler(capability qr.Capability, target Target, opts Options) *Scheduler {
	if opts.Window <= 0 {
		opts.Window = DefaultWindow
	}
	if opts.Clock == nil {
		opts.Clock = clock.New()
	}
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}

	ctx, cancel := context.WithCancel(context.Background())
	s := &Scheduler{
		capability: capability,
		target:     target,
		clock:      opts.Clock,
		window:     opts.Window,
		logger:     opts.Logger,
		metrics:    opts.Metrics,
		events:     make(chan func()),
		quit:       make(chan struct{}),
		done:       make(chan struct{}),
		ctx:        ctx,
		cancel:     cancel,
	}
	go s.loop()
	return s
}

func (s *Scheduler) loop() {
	defer close(s.done)
	for {
		select {
		case fn := <-s.events:
			fn()
		case <-s.quit:
			s.shutdown()
			return
		}
	}
}

func (s *Scheduler) shutdown() {
	s.task.Stop()
	s.task = nil
	if s.inflight != nil {
		s.inflight.cancel()
		s.inflight = nil
	}
	s.cancel()
	s.logger.Debug("Render scheduler stopped")
}

// do runs fn on the loop and waits for it to finish
func (s *Scheduler) do(ctx context.Context, fn func()) error {
	finished := make(chan struct{})
	select {
	case s.events <- func() { fn(); close(finished) }:
	case <-s.done:
		return ErrClosed
	case <-ctx.Done():
		return ctx.Err()
	}
	<-finished
	return nil
}

// post queues fn without waiting; dropped after Close
func (s *Scheduler) post(fn func()) {
	select {
	case s.events <- fn:
	case <-s.done:
	}
}

// Update requests a render of cfg. A pending render that has not started
// yet is cancelled; the window restarts from now.
func (s *Scheduler) Update(cfg models.RenderConfig) error {
	return s.do(context.Background(), func() {
		if s.task.Stop() {
			s.metrics.IncCoalesced()
		}
		s.seq++
		s.latest = &cfg
		s.ready = false
		s.task = scheduleTask(s.clock, s.seq, s.window, func(gen uint64) {
			s.post(func() { s.fire(gen) })
		})
	})
}

func (s *Scheduler) fire(gen uint64) {
	if s.task == nil || s.task.Generation() != gen {
		return
	}
	s.task = nil

	if s.inflight != nil {
		// picked up when the running render completes
		s.ready = true
		return
	}
	s.start()
}

func (s *Scheduler) start() {
	cfg := *s.latest
	seq := s.seq
	s.ready = false

	s.target.Clear()

	ctx, cancel := context.WithCancel(s.ctx)
	f := &flight{seq: seq, cfg: cfg, start: s.clock.Now(), cancel: cancel}
	s.inflight = f

	pending := s.invoke(ctx, cfg)
	go func() {
		res, err := pending.Wait(ctx)
		s.post(func() { s.complete(f, res, err) })
	}()
}

// invoke calls the capability, converting a panic or a nil future into a failure
func (s *Scheduler) invoke(ctx context.Context, cfg models.RenderConfig) (p *qr.Pending) {
	defer func() {
		if r := recover(); r != nil {
			p = qr.Failed(fmt.Errorf("render capability panicked: %v", r))
		}
	}()
	p = s.capability.Render(ctx, cfg, qr.ModeRaster)
	if p == nil {
		p = qr.Failed(errors.New("render capability returned no result"))
	}
	return p
}

func (s *Scheduler) complete(f *flight, res qr.Result, err error) {
	if s.inflight != f {
		return
	}
	s.inflight = nil
	f.cancel()
	elapsed := s.clock.Since(f.start)

	switch {
	case f.seq != s.seq:
		s.metrics.ObserveRender(qr.ModeRaster.String(), metrics.OutcomeDiscarded, elapsed)
		s.logger.Debug("Discarding stale render",
			zap.Uint64("render_seq", f.seq),
			zap.Uint64("latest_seq", s.seq))
	case err != nil:
		s.metrics.ObserveRender(qr.ModeRaster.String(), metrics.OutcomeFailure, elapsed)
		s.logger.Error("Render failed",
			zap.Int("payload_length", len(f.cfg.Payload)),
			zap.Error(err))
	case res.Surface == nil:
		s.metrics.ObserveRender(qr.ModeRaster.String(), metrics.OutcomeFailure, elapsed)
		s.logger.Error("Render returned no surface")
	default:
		s.target.Draw(res.Surface)
		s.rendered = &Rendered{Config: f.cfg, Surface: res.Surface, At: s.clock.Now()}
		s.metrics.ObserveRender(qr.ModeRaster.String(), metrics.OutcomeSuccess, elapsed)
		s.logger.Debug("Render completed",
			zap.Uint64("render_seq", f.seq),
			zap.Duration("elapsed", elapsed))
	}

	if s.ready {
		s.start()
		return
	}
	s.notifyIdle()
}

func (s *Scheduler) idle() bool {
	return s.task == nil && s.inflight == nil && !s.ready
}

func (s *Scheduler) notifyIdle() {
	if !s.idle() {
		return
	}
	for _, w := range s.waiters {
		close(w)
	}
	s.waiters = nil
}

// Current returns the most recently requested config
func (s *Scheduler) Current(ctx context.Context) (models.RenderConfig, bool, error) {
	var (
		cfg models.RenderConfig
		ok  bool
	)
	err := s.do(ctx, func() {
		if s.latest != nil {
			cfg, ok = *s.latest, true
		}
	})
	return cfg, ok, err
}

// LastRendered returns a copy of the last successful render, or nil
func (s *Scheduler) LastRendered(ctx context.Context) (*Rendered, error) {
	var out *Rendered
	err := s.do(ctx, func() {
		if s.rendered != nil {
			out = &Rendered{
				Config:  s.rendered.Config,
				Surface: cloneRGBA(s.rendered.Surface),
				At:      s.rendered.At,
			}
		}
	})
	return out, err
}

// State names the scheduler phase: idle, debouncing or rendering
func (s *Scheduler) State(ctx context.Context) (string, error) {
	var state string
	err := s.do(ctx, func() {
		switch {
		case s.inflight != nil:
			state = "rendering"
		case s.task != nil:
			state = "debouncing"
		default:
			state = "idle"
		}
	})
	return state, err
}

// WaitIdle blocks until no render is pending or running
func (s *Scheduler) WaitIdle(ctx context.Context) error {
	ch := make(chan struct{})
	err := s.do(ctx, func() {
		if s.idle() {
			close(ch)
			return
		}
		s.waiters = append(s.waiters, ch)
	})
	if err != nil {
		return err
	}

	select {
	case <-ch:
		return nil
	case <-s.done:
		return ErrClosed
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Close stops the loop and cancels any running render
func (s *Scheduler) Close() {
	s.closeOnce.Do(func() {
		close(s.quit)
	})
	<-s.done
}
