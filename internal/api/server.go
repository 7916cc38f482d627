// Package api serves the checklist and document HTTP endpoints.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"go.uber.org/zap"

	"github.com/sells-group/visa-checklist/internal/generation"
	"github.com/sells-group/visa-checklist/internal/metrics"
	"github.com/sells-group/visa-checklist/internal/model"
	"github.com/sells-group/visa-checklist/internal/store"
)

// Generations is the generation lifecycle the API drives.
type Generations interface {
	RequestGeneration(ctx context.Context, applicationID string) (*model.ChecklistGeneration, error)
	Regenerate(ctx context.Context, applicationID string) (*model.ChecklistGeneration, error)
	Get(ctx context.Context, applicationID string) (*model.ChecklistGeneration, error)
	History(ctx context.Context, applicationID string) ([]model.ChecklistGeneration, error)
}

// Documents stores upload notifications.
type Documents interface {
	UpsertDocument(ctx context.Context, doc *model.UserDocument) (*model.UserDocument, error)
	ListDocuments(ctx context.Context, applicationID string) ([]model.UserDocument, error)
	Ping(ctx context.Context) error
}

// Trigger starts verification of one document in the background.
type Trigger interface {
	Trigger(ctx context.Context, documentID string)
}

// Config holds HTTP settings.
type Config struct {
	AllowedOrigins []string
}

// Server holds the handlers' collaborators.
type Server struct {
	gens    Generations
	docs    Documents
	trigger Trigger
	cfg     Config
	now     func() time.Time
}

// New creates a Server. trigger may be nil, in which case uploads wait for
// the next sweep.
func New(gens Generations, docs Documents, trigger Trigger, cfg Config) *Server {
	return &Server{
		gens:    gens,
		docs:    docs,
		trigger: trigger,
		cfg:     cfg,
		now:     func() time.Time { return time.Now().UTC() },
	}
}

// Handler builds the router.
func (s *Server) Handler() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)
	r.Use(requestLogger)
	if len(s.cfg.AllowedOrigins) > 0 {
		r.Use(cors.Handler(cors.Options{
			AllowedOrigins: s.cfg.AllowedOrigins,
			AllowedMethods: []string{http.MethodGet, http.MethodPost, http.MethodOptions},
			AllowedHeaders: []string{"Accept", "Authorization", "Content-Type"},
			MaxAge:         300,
		}))
	}

	r.Get("/health", s.handleHealth)
	r.Method(http.MethodGet, "/metrics", metrics.Handler())

	r.Route("/checklist/{applicationID}", func(r chi.Router) {
		r.Get("/", s.handleGet)
		r.Get("/history", s.handleHistory)
		r.Post("/generate", s.handleGenerate)
		r.Post("/regenerate", s.handleRegenerate)
	})
	r.Post("/applications/{applicationID}/documents", s.handleUpload)
	return r
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	if err := s.docs.Ping(r.Context()); err != nil {
		zap.L().Error("api: health check failed",
			zap.String("category", string(model.CategoryInternal)),
			zap.Error(err),
		)
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{"status": "unavailable"})
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleGenerate(w http.ResponseWriter, r *http.Request) {
	appID := chi.URLParam(r, "applicationID")
	g, err := s.gens.RequestGeneration(r.Context(), appID)
	if err != nil {
		writeError(w, appID, err)
		return
	}
	s.writeGeneration(w, r, g)
}

func (s *Server) handleRegenerate(w http.ResponseWriter, r *http.Request) {
	appID := chi.URLParam(r, "applicationID")
	g, err := s.gens.Regenerate(r.Context(), appID)
	if errors.Is(err, generation.ErrRegenerationNotAllowed) {
		body := map[string]string{"error": "regeneration not allowed yet"}
		if g != nil {
			body["status"] = string(g.Status)
		}
		writeJSON(w, http.StatusConflict, body)
		return
	}
	if err != nil {
		writeError(w, appID, err)
		return
	}
	s.writeGeneration(w, r, g)
}

func (s *Server) handleGet(w http.ResponseWriter, r *http.Request) {
	appID := chi.URLParam(r, "applicationID")
	g, err := s.gens.Get(r.Context(), appID)
	if err != nil {
		writeError(w, appID, err)
		return
	}
	s.writeGeneration(w, r, g)
}

func (s *Server) handleHistory(w http.ResponseWriter, r *http.Request) {
	appID := chi.URLParam(r, "applicationID")
	gens, err := s.gens.History(r.Context(), appID)
	if err != nil {
		writeError(w, appID, err)
		return
	}
	out := make([]historyEntry, len(gens))
	for i := range gens {
		out[i] = toHistoryEntry(&gens[i])
	}
	writeJSON(w, http.StatusOK, map[string]any{"applicationId": appID, "generations": out})
}

type uploadRequest struct {
	DocumentType string `json:"documentType"`
	ContentRef   string `json:"contentRef"`
}

func (s *Server) handleUpload(w http.ResponseWriter, r *http.Request) {
	appID := chi.URLParam(r, "applicationID")
	var req uploadRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid request body"})
		return
	}
	req.DocumentType = strings.ToLower(strings.TrimSpace(req.DocumentType))
	req.ContentRef = strings.TrimSpace(req.ContentRef)
	if req.DocumentType == "" || req.ContentRef == "" {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "documentType and contentRef are required"})
		return
	}

	doc, err := s.docs.UpsertDocument(r.Context(), &model.UserDocument{
		ApplicationID: appID,
		DocumentType:  req.DocumentType,
		ContentRef:    req.ContentRef,
		UpdatedAt:     s.now(),
	})
	if err != nil {
		writeError(w, appID, err)
		return
	}
	if s.trigger != nil {
		s.trigger.Trigger(r.Context(), doc.ID)
	}
	writeJSON(w, http.StatusAccepted, toDocumentResponse(doc))
}

// writeGeneration answers 202 while processing and 200 once terminal.
func (s *Server) writeGeneration(w http.ResponseWriter, r *http.Request, g *model.ChecklistGeneration) {
	resp := toChecklistResponse(g)
	if g.Status == model.GenerationReady && g.Checklist != nil {
		docs, err := s.docs.ListDocuments(r.Context(), g.ApplicationID)
		if err != nil {
			zap.L().Warn("api: progress unavailable",
				zap.String("application_id", g.ApplicationID),
				zap.String("category", string(model.CategoryInternal)),
				zap.Error(err),
			)
		} else {
			p := computeProgress(g.Checklist, docs)
			resp.Progress = &p
		}
	}
	status := http.StatusOK
	if !g.Status.Terminal() {
		status = http.StatusAccepted
	}
	writeJSON(w, status, resp)
}

func writeError(w http.ResponseWriter, appID string, err error) {
	if errors.Is(err, store.ErrNotFound) {
		writeJSON(w, http.StatusNotFound, map[string]string{"error": "not found"})
		return
	}
	zap.L().Error("api: request failed",
		zap.String("application_id", appID),
		zap.String("category", string(model.CategoryInternal)),
		zap.Error(err),
	)
	writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "internal error"})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)
		zap.L().Debug("http request",
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
			zap.Int("status", ww.Status()),
			zap.Duration("elapsed", time.Since(start)),
			zap.String("request_id", middleware.GetReqID(r.Context())),
		)
	})
}
