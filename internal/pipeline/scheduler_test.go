package pipeline

import (
	"context"
	"errors"
	"fmt"
	"image"
	"sync"
	"testing"
	"time"

	"github.com/filecoin-project/go-clock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"

	"github.com/koios/purpleqr/internal/qr"
	"github.com/koios/purpleqr/pkg/models"
)

type call struct {
	cfg     models.RenderConfig
	mode    qr.Mode
	pending *qr.Pending
}

// fakeCapability records calls. With auto set it draws for real right away;
// otherwise the test resolves each pending by hand.
type fakeCapability struct {
	mu    sync.Mutex
	calls []call
	auto  bool
	gate  chan struct{}
}

func (f *fakeCapability) Render(ctx context.Context, cfg models.RenderConfig, mode qr.Mode) *qr.Pending {
	p := qr.NewPending()
	f.mu.Lock()
	f.calls = append(f.calls, call{cfg: cfg, mode: mode, pending: p})
	gate := f.gate
	f.mu.Unlock()

	if f.auto {
		go func() {
			if gate != nil {
				<-gate
			}
			p.Resolve(qr.Generate(cfg, mode))
		}()
	}
	return p
}

func (f *fakeCapability) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.calls)
}

func (f *fakeCapability) call(i int) call {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls[i]
}

func (f *fakeCapability) countMode(m qr.Mode) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	n := 0
	for _, c := range f.calls {
		if c.mode == m {
			n++
		}
	}
	return n
}

// recordingTarget logs Clear and Draw calls in order
type recordingTarget struct {
	*MemoryTarget
	mu  sync.Mutex
	ops []string
}

func newRecordingTarget() *recordingTarget {
	return &recordingTarget{MemoryTarget: NewMemoryTarget()}
}

func (r *recordingTarget) Clear() {
	r.mu.Lock()
	r.ops = append(r.ops, "clear")
	r.mu.Unlock()
	r.MemoryTarget.Clear()
}

func (r *recordingTarget) Draw(s *image.RGBA) {
	r.mu.Lock()
	r.ops = append(r.ops, "draw")
	r.mu.Unlock()
	r.MemoryTarget.Draw(s)
}

func (r *recordingTarget) log() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.ops...)
}

func configFor(payload string) models.RenderConfig {
	return Assemble(payload, models.DefaultStyle(), nil)
}

const (
	waitFor = 2 * time.Second
	tick    = 5 * time.Millisecond
)

func TestSchedulerDebounce(t *testing.T) {
	mock := clock.NewMock()
	capability := &fakeCapability{auto: true}
	target := newRecordingTarget()

	s := NewScheduler(capability, target, Options{Clock: mock, Logger: zap.NewNop()})
	defer s.Close()

	for i := 1; i <= 10; i++ {
		require.NoError(t, s.Update(configFor(fmt.Sprintf("p%d", i))))
		mock.Add(50 * time.Millisecond)
	}

	state, err := s.State(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "debouncing", state)
	assert.Equal(t, 0, capability.count(), "every change restarted the window")

	mock.Add(100 * time.Millisecond)

	require.Eventually(t, func() bool { return target.Draws() == 1 }, waitFor, tick)
	require.NoError(t, s.WaitIdle(context.Background()))

	require.Equal(t, 1, capability.count())
	assert.Equal(t, "p10", capability.call(0).cfg.Payload)
	assert.Equal(t, qr.ModeRaster, capability.call(0).mode)
	assert.Equal(t, []string{"clear", "draw"}, target.log())

	rendered, err := s.LastRendered(context.Background())
	require.NoError(t, err)
	require.NotNil(t, rendered)
	assert.Equal(t, "p10", rendered.Config.Payload)
	assert.Equal(t, image.Rect(0, 0, 330, 330), rendered.Surface.Bounds())
}

func TestSchedulerWindowMeasuredFromLatestChange(t *testing.T) {
	mock := clock.NewMock()
	capability := &fakeCapability{auto: true}
	target := NewMemoryTarget()

	s := NewScheduler(capability, target, Options{Clock: mock, Window: 200 * time.Millisecond})
	defer s.Close()

	require.NoError(t, s.Update(configFor("a")))
	mock.Add(150 * time.Millisecond)
	require.NoError(t, s.Update(configFor("b")))
	mock.Add(150 * time.Millisecond)

	// 300ms after the first change but only 150ms after the latest
	assert.Equal(t, 0, capability.count())

	mock.Add(50 * time.Millisecond)
	require.Eventually(t, func() bool { return target.Draws() == 1 }, waitFor, tick)
	assert.Equal(t, "b", capability.call(0).cfg.Payload)
}

func TestSchedulerDiscardsStaleResults(t *testing.T) {
	core, logs := observer.New(zapcore.DebugLevel)
	mock := clock.NewMock()
	capability := &fakeCapability{}
	target := newRecordingTarget()

	s := NewScheduler(capability, target, Options{Clock: mock, Logger: zap.New(core)})
	defer s.Close()

	// A starts rendering, then B is requested before A completes
	require.NoError(t, s.Update(configFor("A")))
	mock.Add(100 * time.Millisecond)
	require.Eventually(t, func() bool { return capability.count() == 1 }, waitFor, tick)

	require.NoError(t, s.Update(configFor("B")))
	a := capability.call(0)
	a.pending.Resolve(qr.Generate(a.cfg, a.mode))

	require.Eventually(t, func() bool {
		return logs.FilterMessage("Discarding stale render").Len() == 1
	}, waitFor, tick)
	assert.Equal(t, 0, target.Draws(), "A must never reach the target")

	mock.Add(100 * time.Millisecond)
	require.Eventually(t, func() bool { return capability.count() == 2 }, waitFor, tick)
	b := capability.call(1)
	assert.Equal(t, "B", b.cfg.Payload)
	b.pending.Resolve(qr.Generate(b.cfg, b.mode))

	require.NoError(t, s.WaitIdle(context.Background()))
	assert.Equal(t, 1, target.Draws())

	rendered, err := s.LastRendered(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "B", rendered.Config.Payload)
}

func TestSchedulerStartsLatestAfterStaleCompletion(t *testing.T) {
	mock := clock.NewMock()
	capability := &fakeCapability{}
	target := NewMemoryTarget()

	s := NewScheduler(capability, target, Options{Clock: mock})
	defer s.Close()

	require.NoError(t, s.Update(configFor("C")))
	mock.Add(100 * time.Millisecond)
	require.Eventually(t, func() bool { return capability.count() == 1 }, waitFor, tick)

	// D's window elapses while C is still rendering
	require.NoError(t, s.Update(configFor("D")))
	mock.Add(100 * time.Millisecond)

	c := capability.call(0)
	c.pending.Resolve(qr.Generate(c.cfg, c.mode))

	require.Eventually(t, func() bool { return capability.count() == 2 }, waitFor, tick)
	d := capability.call(1)
	assert.Equal(t, "D", d.cfg.Payload)
	d.pending.Resolve(qr.Generate(d.cfg, d.mode))

	require.NoError(t, s.WaitIdle(context.Background()))
	assert.Equal(t, 1, target.Draws())
	assert.Equal(t, 2, capability.count(), "C is not retried")
}

func TestSchedulerFailureIsLoggedNotRetried(t *testing.T) {
	tests := []struct {
		name    string
		render  func(p *qr.Pending)
		message string
	}{
		{
			name:    "capability error",
			render:  func(p *qr.Pending) { p.Resolve(qr.Result{}, errors.New("drawer exploded")) },
			message: "Render failed",
		},
		{
			name:    "missing surface",
			render:  func(p *qr.Pending) { p.Resolve(qr.Result{Mode: qr.ModeRaster}, nil) },
			message: "Render returned no surface",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			core, logs := observer.New(zapcore.InfoLevel)
			mock := clock.NewMock()
			capability := &fakeCapability{}
			target := newRecordingTarget()

			s := NewScheduler(capability, target, Options{Clock: mock, Logger: zap.New(core)})
			defer s.Close()

			require.NoError(t, s.Update(configFor("x")))
			mock.Add(100 * time.Millisecond)
			require.Eventually(t, func() bool { return capability.count() == 1 }, waitFor, tick)
			tt.render(capability.call(0).pending)

			require.NoError(t, s.WaitIdle(context.Background()))
			entries := logs.FilterMessage(tt.message).All()
			require.Len(t, entries, 1)
			assert.Equal(t, zapcore.ErrorLevel, entries[0].Level)

			mock.Add(time.Second)
			state, err := s.State(context.Background())
			require.NoError(t, err)
			assert.Equal(t, "idle", state)
			assert.Equal(t, 1, capability.count())
			assert.Equal(t, []string{"clear"}, target.log(), "output is left cleared")

			rendered, err := s.LastRendered(context.Background())
			require.NoError(t, err)
			assert.Nil(t, rendered)
		})
	}
}

type panickingCapability struct{}

func (panickingCapability) Render(context.Context, models.RenderConfig, qr.Mode) *qr.Pending {
	panic("renderer bug")
}

type nilCapability struct{}

func (nilCapability) Render(context.Context, models.RenderConfig, qr.Mode) *qr.Pending {
	return nil
}

func TestSchedulerSurvivesBrokenCapability(t *testing.T) {
	for name, capability := range map[string]qr.Capability{
		"panic":      panickingCapability{},
		"nil future": nilCapability{},
	} {
		t.Run(name, func(t *testing.T) {
			core, logs := observer.New(zapcore.ErrorLevel)
			mock := clock.NewMock()
			s := NewScheduler(capability, NewMemoryTarget(), Options{Clock: mock, Logger: zap.New(core)})
			defer s.Close()

			require.NoError(t, s.Update(configFor("x")))
			mock.Add(100 * time.Millisecond)

			require.Eventually(t, func() bool { return logs.FilterMessage("Render failed").Len() == 1 }, waitFor, tick)
			require.NoError(t, s.WaitIdle(context.Background()))
		})
	}
}

func TestSchedulerCurrent(t *testing.T) {
	s := NewScheduler(&fakeCapability{auto: true}, NewMemoryTarget(), Options{Clock: clock.NewMock()})
	defer s.Close()

	_, ok, err := s.Current(context.Background())
	require.NoError(t, err)
	assert.False(t, ok)

	require.NoError(t, s.Update(configFor("one")))
	require.NoError(t, s.Update(configFor("two")))

	cfg, ok, err := s.Current(context.Background())
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, "two", cfg.Payload)
}

func TestSchedulerWithRealClock(t *testing.T) {
	pool := qr.NewWorkerPool(2, zap.NewNop(), time.Second)
	pool.Start()
	defer pool.Stop()

	target := NewMemoryTarget()
	s := NewScheduler(pool, target, Options{Window: 10 * time.Millisecond})
	defer s.Close()

	for i := 0; i < 5; i++ {
		require.NoError(t, s.Update(configFor(fmt.Sprintf("burst-%d", i))))
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	require.NoError(t, s.WaitIdle(ctx))

	rendered, err := s.LastRendered(ctx)
	require.NoError(t, err)
	require.NotNil(t, rendered)
	assert.Equal(t, "burst-4", rendered.Config.Payload)
	assert.NotNil(t, target.Snapshot())
}

func TestSchedulerClose(t *testing.T) {
	mock := clock.NewMock()
	capability := &fakeCapability{}
	s := NewScheduler(capability, NewMemoryTarget(), Options{Clock: mock})

	require.NoError(t, s.Update(configFor("x")))
	mock.Add(100 * time.Millisecond)
	require.Eventually(t, func() bool { return capability.count() == 1 }, waitFor, tick)

	s.Close()
	s.Close()

	assert.ErrorIs(t, s.Update(configFor("y")), ErrClosed)
	assert.ErrorIs(t, s.WaitIdle(context.Background()), ErrClosed)
	_, _, err := s.Current(context.Background())
	assert.ErrorIs(t, err, ErrClosed)
}
