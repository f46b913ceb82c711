// Package session keeps the editing state of one code: a record per content
// type, the style and the logo. Every change re-encodes the payload and
// hands a fresh render config to the session's scheduler.
package session

import (
	"context"
	"errors"
	"fmt"
	"image"
	"os"
	"sync"
	"time"

	"github.com/filecoin-project/go-clock"
	"go.uber.org/zap"

	"github.com/koios/purpleqr/internal/metrics"
	"github.com/koios/purpleqr/internal/payload"
	"github.com/koios/purpleqr/internal/pipeline"
	"github.com/koios/purpleqr/internal/qr"
	"github.com/koios/purpleqr/pkg/models"
)

var ErrInvalidEdit = errors.New("invalid edit")

// Deps are shared by every session of a manager
type Deps struct {
	Capability   qr.Capability
	Renderer     *pipeline.FileRenderer
	Clock        clock.Clock
	Window       time.Duration
	Logger       *zap.Logger
	Metrics      *metrics.Metrics
	DefaultStyle models.Style
	MaxLogoBytes int64
}

func (d Deps) withDefaults() Deps {
	if d.Clock == nil {
		d.Clock = clock.New()
	}
	if d.Logger == nil {
		d.Logger = zap.NewNop()
	}
	if d.DefaultStyle == (models.Style{}) {
		d.DefaultStyle = models.DefaultStyle()
	}
	if d.Renderer == nil {
		d.Renderer = pipeline.NewFileRenderer(d.Capability, nil, d.Clock, d.Logger, d.Metrics)
	}
	return d
}

type Session struct {
	id           string
	clock        clock.Clock
	logger       *zap.Logger
	maxLogoBytes int64

	mu       sync.Mutex
	content  models.Content
	style    models.Style
	logo     *models.Logo
	payload  string
	updated  time.Time
	accessed time.Time

	target    pipeline.Target
	scheduler *pipeline.Scheduler
	exporter  *pipeline.Exporter
}

// New creates a session drawing onto target and requests the first
// (placeholder) render.
func New(id string, deps Deps, target pipeline.Target) (*Session, error) {
	deps = deps.withDefaults()
	if target == nil {
		target = pipeline.NewMemoryTarget()
	}

	logger := deps.Logger.With(zap.String("session_id", id))
	scheduler := pipeline.NewScheduler(deps.Capability, target, pipeline.Options{
		Window:  deps.Window,
		Clock:   deps.Clock,
		Logger:  logger,
		Metrics: deps.Metrics,
	})

	now := deps.Clock.Now()
	s := &Session{
		id:           id,
		clock:        deps.Clock,
		logger:       logger,
		maxLogoBytes: deps.MaxLogoBytes,
		content:      models.NewContent(),
		style:        deps.DefaultStyle,
		updated:      now,
		accessed:     now,
		target:       target,
		scheduler:    scheduler,
		exporter:     pipeline.NewExporter(scheduler, deps.Renderer, logger, deps.Metrics),
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.refreshLocked(); err != nil {
		scheduler.Close()
		return nil, err
	}
	return s, nil
}

func (s *Session) ID() string {
	return s.id
}

// refreshLocked re-encodes the active record and requests a render
func (s *Session) refreshLocked() error {
	p, err := payload.EncodeContent(s.content)
	if err != nil {
		return fmt.Errorf("%w: %w", ErrInvalidEdit, err)
	}
	s.payload = p
	s.updated = s.clock.Now()
	s.accessed = s.updated

	return s.scheduler.Update(pipeline.Assemble(p, s.style, s.logo))
}

// Apply performs a partial edit. The edit is all or nothing: an invalid
// field leaves the session unchanged.
func (s *Session) Apply(patch models.SessionPatch) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	content := s.content
	style := s.style

	if patch.Type != nil {
		if !patch.Type.Valid() {
			return fmt.Errorf("%w: unknown content type %q", ErrInvalidEdit, *patch.Type)
		}
		content.Type = *patch.Type
	}
	if patch.URL != nil {
		content.URL = *patch.URL
	}
	if patch.Text != nil {
		content.Text = *patch.Text
	}
	if patch.Wifi != nil {
		w := *patch.Wifi
		if w.Encryption == "" {
			w.Encryption = models.EncryptionWPA
		}
		switch w.Encryption {
		case models.EncryptionWPA, models.EncryptionWEP, models.EncryptionNone:
		default:
			return fmt.Errorf("%w: unknown encryption %q", ErrInvalidEdit, w.Encryption)
		}
		content.Wifi = w
	}
	if patch.VCard != nil {
		content.VCard = *patch.VCard
	}
	if patch.Email != nil {
		content.Email = *patch.Email
	}
	if patch.Style != nil {
		style = patch.Style.Apply(style)
		if err := style.Validate(); err != nil {
			return fmt.Errorf("%w: %w", ErrInvalidEdit, err)
		}
	}

	s.content = content
	s.style = style
	return s.refreshLocked()
}

// SetLogo installs a logo from raw image bytes or a data: URL
func (s *Session) SetLogo(raw []byte) error {
	logo, err := qr.ReadLogo(raw, s.maxLogoBytes)
	if err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.logo = logo
	s.logger.Debug("Logo set", zap.String("mime", logo.MIME), zap.Int("bytes", len(logo.Data)))
	return s.refreshLocked()
}

// RemoveLogo drops the logo overlay
func (s *Session) RemoveLogo() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.logo == nil {
		return nil
	}
	s.logo = nil
	return s.refreshLocked()
}

// LoadDocument replaces content, style and logo with those of doc
func (s *Session) LoadDocument(doc *models.CodeDocument) error {
	if err := doc.Validate(); err != nil {
		return fmt.Errorf("%w: %w", ErrInvalidEdit, err)
	}
	logo, err := ReadDocumentLogo(doc, s.maxLogoBytes)
	if err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.content = doc.Content
	s.style = doc.Style
	s.logo = logo
	return s.refreshLocked()
}

// ReadDocumentLogo loads the logo a document points at, or nil if it has none
func ReadDocumentLogo(doc *models.CodeDocument, maxBytes int64) (*models.Logo, error) {
	if doc.HasInlineLogo() {
		return qr.ReadLogo([]byte(doc.Logo), maxBytes)
	}

	path := doc.LogoPath()
	if path == "" {
		return nil, nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read logo: %w", err)
	}
	return qr.ReadLogo(data, maxBytes)
}

// State snapshots the session for clients
func (s *Session) State(ctx context.Context) (models.SessionState, error) {
	s.mu.Lock()
	state := models.SessionState{
		ID:          s.id,
		Type:        s.content.Type,
		Payload:     s.payload,
		HasUserData: pipeline.HasUserData(s.payload),
		HasLogo:     s.logo != nil,
		Style:       s.style,
		UpdatedAt:   s.updated,
	}
	s.accessed = s.clock.Now()
	s.mu.Unlock()

	rendered, err := s.scheduler.LastRendered(ctx)
	if err != nil {
		return models.SessionState{}, err
	}
	if rendered != nil {
		at := rendered.At
		state.Rendered = true
		state.RenderedAt = &at
	}
	return state, nil
}

// Content returns a copy of the structured records
func (s *Session) Content() models.Content {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.content
}

// Export produces a download, or nil when there is nothing to export yet
func (s *Session) Export(ctx context.Context, f pipeline.Format) (*pipeline.File, error) {
	s.touch()
	return s.exporter.Export(ctx, f)
}

// Preview is the current target surface, nil while a render is pending
func (s *Session) Preview() *image.RGBA {
	s.touch()
	return s.target.Snapshot()
}

// WaitIdle blocks until the latest change has been rendered
func (s *Session) WaitIdle(ctx context.Context) error {
	return s.scheduler.WaitIdle(ctx)
}

func (s *Session) touch() {
	s.mu.Lock()
	s.accessed = s.clock.Now()
	s.mu.Unlock()
}

// IdleSince is the last time the session was read or edited
func (s *Session) IdleSince() time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.accessed
}

// Close stops the session's scheduler
func (s *Session) Close() {
	s.scheduler.Close()
}
