package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/julienschmidt/httprouter"
	"go.uber.org/zap"

	"github.com/koios/purpleqr/internal/payload"
	"github.com/koios/purpleqr/internal/pipeline"
	"github.com/koios/purpleqr/internal/qr"
	"github.com/koios/purpleqr/internal/session"
	"github.com/koios/purpleqr/pkg/models"
)

// jsonBodyLimit caps request bodies that carry no logo
const jsonBodyLimit = 64 << 10

const healthCacheTimeout = 2 * time.Second

// AppHandler serves the encode, render and session endpoints
type AppHandler struct {
	sessions     *session.Manager
	renderer     *pipeline.FileRenderer
	logger       *zap.Logger
	maxLogoBytes int64
}

// NewAppHandler creates a new app handler
func NewAppHandler(sessions *session.Manager, renderer *pipeline.FileRenderer, maxLogoBytes int64, logger *zap.Logger) *AppHandler {
	return &AppHandler{
		sessions:     sessions,
		renderer:     renderer,
		logger:       logger,
		maxLogoBytes: maxLogoBytes,
	}
}

// RegisterRoutes registers the app routes
func (h *AppHandler) RegisterRoutes(router *httprouter.Router) {
	router.GET("/health", h.handleHealth)
	router.POST("/encode", h.handleEncode)
	router.POST("/render", h.handleRender)
	router.DELETE("/cache", h.handlePurgeCache)

	router.POST("/sessions", h.handleCreateSession)
	router.GET("/sessions/:id", h.handleGetSession)
	router.PATCH("/sessions/:id", h.handlePatchSession)
	router.DELETE("/sessions/:id", h.handleDeleteSession)
	router.PUT("/sessions/:id/logo", h.handleSetLogo)
	router.DELETE("/sessions/:id/logo", h.handleRemoveLogo)
	router.GET("/sessions/:id/export/:format", h.handleExport)
	router.GET("/sessions/:id/preview", h.handlePreview)
}

// logoBodyLimit leaves room for base64 in data: URL uploads
func (h *AppHandler) logoBodyLimit() int64 {
	if h.maxLogoBytes <= 0 {
		return 32 << 20
	}
	return h.maxLogoBytes*4/3 + jsonBodyLimit
}

func (h *AppHandler) writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		h.logger.Error("Failed to encode response", zap.Error(err))
	}
}

func (h *AppHandler) decodeJSON(w http.ResponseWriter, r *http.Request, limit int64, v interface{}) bool {
	r.Body = http.MaxBytesReader(w, r.Body, limit)
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			http.Error(w, "Request body too large", http.StatusRequestEntityTooLarge)
			return false
		}
		h.logger.Debug("Failed to decode request body", zap.Error(err))
		http.Error(w, "Invalid JSON body", http.StatusBadRequest)
		return false
	}
	return true
}

func (h *AppHandler) writeFile(w http.ResponseWriter, file *pipeline.File) {
	w.Header().Set("Content-Type", file.MIME)
	w.Header().Set("Content-Length", strconv.Itoa(len(file.Data)))
	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", file.Name))
	w.WriteHeader(http.StatusOK)
	if _, err := w.Write(file.Data); err != nil {
		h.logger.Debug("Failed to write file response", zap.String("file", file.Name), zap.Error(err))
	}
}

// handleHealth handles GET /health - returns service health status
func (h *AppHandler) handleHealth(w http.ResponseWriter, r *http.Request, _ httprouter.Params) {
	resp := map[string]interface{}{
		"status":   "healthy",
		"service":  "purpleqr",
		"sessions": h.sessions.Len(),
	}

	ctx, cancel := context.WithTimeout(r.Context(), healthCacheTimeout)
	defer cancel()
	if n, err := h.renderer.CachedFiles(ctx); err != nil {
		h.logger.Warn("Export cache stats failed", zap.Error(err))
		resp["cache"] = "unavailable"
	} else {
		resp["cached_files"] = n
	}

	h.writeJSON(w, http.StatusOK, resp)
}

// handlePurgeCache handles DELETE /cache - drops all cached export files
func (h *AppHandler) handlePurgeCache(w http.ResponseWriter, r *http.Request, _ httprouter.Params) {
	if err := h.renderer.Purge(r.Context()); err != nil {
		h.logger.Error("Failed to purge export cache", zap.Error(err))
		http.Error(w, "Failed to purge export cache", http.StatusBadGateway)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// handleEncode handles POST /encode - returns the payload for a content record
func (h *AppHandler) handleEncode(w http.ResponseWriter, r *http.Request, _ httprouter.Params) {
	content := models.NewContent()
	if !h.decodeJSON(w, r, jsonBodyLimit, &content) {
		return
	}
	if err := content.Validate(); err != nil {
		h.writeValidationError(w, err)
		return
	}

	p, err := payload.EncodeContent(content)
	if err != nil {
		h.writeValidationError(w, err)
		return
	}

	h.writeJSON(w, http.StatusOK, models.EncodeResponse{Type: content.Type, Payload: p})
}

// handleRender handles POST /render?format=png|jpeg|svg - renders a code
// document in one shot. Logos must be inline data: URLs.
func (h *AppHandler) handleRender(w http.ResponseWriter, r *http.Request, _ httprouter.Params) {
	format := pipeline.FormatPNG
	if q := r.URL.Query().Get("format"); q != "" {
		f, err := pipeline.ParseFormat(q)
		if err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		format = f
	}

	doc := models.NewDocument()
	if !h.decodeJSON(w, r, h.logoBodyLimit(), doc) {
		return
	}
	if err := doc.Validate(); err != nil {
		h.writeValidationError(w, err)
		return
	}
	if doc.Logo != "" && !doc.HasInlineLogo() {
		http.Error(w, "logo must be a data: URL", http.StatusBadRequest)
		return
	}

	logo, err := session.ReadDocumentLogo(doc, h.maxLogoBytes)
	if err != nil {
		h.writeValidationError(w, err)
		return
	}
	p, err := payload.EncodeContent(doc.Content)
	if err != nil {
		h.writeValidationError(w, err)
		return
	}

	file, err := h.renderer.Render(r.Context(), pipeline.Assemble(p, doc.Style, logo), format)
	if err != nil {
		h.logger.Error("Failed to render document",
			zap.String("name", doc.Name),
			zap.String("format", string(format)),
			zap.Error(err))
		http.Error(w, "Failed to render", http.StatusInternalServerError)
		return
	}

	h.writeFile(w, file)
	h.logger.Debug("Rendered document",
		zap.String("name", doc.Name),
		zap.String("format", string(format)),
		zap.String("size", humanize.IBytes(uint64(len(file.Data)))))
}

// session resolves :id or writes 404
func (h *AppHandler) session(w http.ResponseWriter, ps httprouter.Params) (*session.Session, bool) {
	s, err := h.sessions.Get(ps.ByName("id"))
	if err != nil {
		http.Error(w, "Session not found", http.StatusNotFound)
		return nil, false
	}
	return s, true
}

func (h *AppHandler) writeState(w http.ResponseWriter, r *http.Request, status int, s *session.Session) {
	state, err := s.State(r.Context())
	if err != nil {
		// closed underneath us by the sweeper or a concurrent delete
		http.Error(w, "Session not found", http.StatusNotFound)
		return
	}
	h.writeJSON(w, status, state)
}

// handleCreateSession handles POST /sessions - starts an editing session
func (h *AppHandler) handleCreateSession(w http.ResponseWriter, r *http.Request, _ httprouter.Params) {
	s, err := h.sessions.Create()
	if err != nil {
		if errors.Is(err, session.ErrTooManySessions) {
			http.Error(w, "Too many sessions", http.StatusServiceUnavailable)
			return
		}
		h.logger.Error("Failed to create session", zap.Error(err))
		http.Error(w, "Internal server error", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Location", "/sessions/"+s.ID())
	h.writeState(w, r, http.StatusCreated, s)
}

// handleGetSession handles GET /sessions/:id
func (h *AppHandler) handleGetSession(w http.ResponseWriter, r *http.Request, ps httprouter.Params) {
	s, ok := h.session(w, ps)
	if !ok {
		return
	}
	h.writeState(w, r, http.StatusOK, s)
}

// handlePatchSession handles PATCH /sessions/:id - applies a partial edit
func (h *AppHandler) handlePatchSession(w http.ResponseWriter, r *http.Request, ps httprouter.Params) {
	s, ok := h.session(w, ps)
	if !ok {
		return
	}

	var patch models.SessionPatch
	if !h.decodeJSON(w, r, jsonBodyLimit, &patch) {
		return
	}

	if err := s.Apply(patch); err != nil {
		if errors.Is(err, session.ErrInvalidEdit) {
			h.writeValidationError(w, err)
			return
		}
		// scheduler closed
		http.Error(w, "Session not found", http.StatusNotFound)
		return
	}

	h.writeState(w, r, http.StatusOK, s)
}

// handleDeleteSession handles DELETE /sessions/:id
func (h *AppHandler) handleDeleteSession(w http.ResponseWriter, r *http.Request, ps httprouter.Params) {
	if err := h.sessions.Delete(ps.ByName("id")); err != nil {
		http.Error(w, "Session not found", http.StatusNotFound)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// handleSetLogo handles PUT /sessions/:id/logo - body is the image or a data: URL
func (h *AppHandler) handleSetLogo(w http.ResponseWriter, r *http.Request, ps httprouter.Params) {
	s, ok := h.session(w, ps)
	if !ok {
		return
	}

	raw, err := io.ReadAll(http.MaxBytesReader(w, r.Body, h.logoBodyLimit()))
	if err != nil {
		http.Error(w, "Request body too large", http.StatusRequestEntityTooLarge)
		return
	}

	if err := s.SetLogo(raw); err != nil {
		if errors.Is(err, qr.ErrUnsupportedLogo) {
			http.Error(w, err.Error(), http.StatusUnsupportedMediaType)
			return
		}
		http.Error(w, "Session not found", http.StatusNotFound)
		return
	}

	h.writeState(w, r, http.StatusOK, s)
}

// handleRemoveLogo handles DELETE /sessions/:id/logo
func (h *AppHandler) handleRemoveLogo(w http.ResponseWriter, r *http.Request, ps httprouter.Params) {
	s, ok := h.session(w, ps)
	if !ok {
		return
	}
	if err := s.RemoveLogo(); err != nil {
		http.Error(w, "Session not found", http.StatusNotFound)
		return
	}
	h.writeState(w, r, http.StatusOK, s)
}

// handleExport handles GET /sessions/:id/export/:format - downloads the
// code, or 204 when nothing has been rendered yet
func (h *AppHandler) handleExport(w http.ResponseWriter, r *http.Request, ps httprouter.Params) {
	s, ok := h.session(w, ps)
	if !ok {
		return
	}

	format, err := pipeline.ParseFormat(ps.ByName("format"))
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	file, err := s.Export(r.Context(), format)
	if err != nil {
		h.logger.Error("Failed to export session",
			zap.String("session_id", s.ID()),
			zap.String("format", string(format)),
			zap.Error(err))
		http.Error(w, "Failed to export", http.StatusInternalServerError)
		return
	}
	if file == nil {
		w.WriteHeader(http.StatusNoContent)
		return
	}

	h.writeFile(w, file)
}

// handlePreview handles GET /sessions/:id/preview - the current surface as
// PNG, or 204 while it is cleared for a render
func (h *AppHandler) handlePreview(w http.ResponseWriter, r *http.Request, ps httprouter.Params) {
	s, ok := h.session(w, ps)
	if !ok {
		return
	}

	surface := s.Preview()
	if surface == nil {
		w.WriteHeader(http.StatusNoContent)
		return
	}

	data, err := pipeline.EncodeRaster(surface, pipeline.FormatPNG)
	if err != nil {
		h.logger.Error("Failed to encode preview", zap.String("session_id", s.ID()), zap.Error(err))
		http.Error(w, "Internal server error", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", pipeline.FormatPNG.MIME())
	w.Header().Set("Cache-Control", "no-store")
	w.Write(data)
}
