// Package api exposes the flower lifecycle over HTTP.
package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/nidhogg/flowerbed/internal/bloom"
	"github.com/nidhogg/flowerbed/internal/events"
	"github.com/nidhogg/flowerbed/internal/flower"
	"github.com/nidhogg/flowerbed/internal/queue"
	"go.uber.org/zap"
)

// Handler holds dependencies for HTTP handlers.
type Handler struct {
	engine  *bloom.Engine
	jobs    queue.Queue
	hub     *events.Hub
	origins []string
	logger  *zap.Logger
}

// NewHandler creates a new API handler. jobs and hub may be nil; the
// routes that need them then answer 503.
func NewHandler(engine *bloom.Engine, jobs queue.Queue, hub *events.Hub, origins []string, logger *zap.Logger) *Handler {
	if len(origins) == 0 {
		origins = []string{"*"}
	}
	return &Handler{
		engine:  engine,
		jobs:    jobs,
		hub:     hub,
		origins: origins,
		logger:  logger,
	}
}

// Router builds the chi router with all routes.
func (h *Handler) Router() http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   h.origins,
		AllowedMethods:   []string{"GET", "POST", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type"},
		AllowCredentials: true,
	}))

	r.Route("/api", func(r chi.Router) {
		r.Get("/health", h.healthCheck)

		r.Post("/flowers/seed", h.seedFlower)
		r.Route("/flowers/{id}", func(r chi.Router) {
			r.Get("/", h.getFlower)
			r.Post("/bloom", h.bloomFlower)
			r.Post("/tend", h.tendFlower)
			r.Get("/sync", h.syncFlower)
			r.Get("/events", h.flowerEvents)
			r.Delete("/wilt", h.wiltFlower)
			r.Post("/jobs/{kind}", h.enqueueJob)
		})
	})

	return r
}

func (h *Handler) healthCheck(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"status":   "ok",
		"service":  "flowerbed",
		"sessions": len(h.engine.Sessions("")),
	})
}

func (h *Handler) seedFlower(w http.ResponseWriter, r *http.Request) {
	var cfg flower.Config
	if err := json.NewDecoder(r.Body).Decode(&cfg); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	f, err := h.engine.Seed(r.Context(), cfg)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]interface{}{
		"flowerId":  f.ID,
		"status":    "seeded",
		"createdAt": f.Metadata.Created,
	})
}

func (h *Handler) getFlower(w http.ResponseWriter, r *http.Request) {
	f, err := h.engine.GetFlower(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, f)
}

func (h *Handler) bloomFlower(w http.ResponseWriter, r *http.Request) {
	s, err := h.engine.Bloom(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"flowerId":  s.FlowerID,
		"sessionId": s.ID,
		"status":    "blooming",
		"state":     s.Flower().State,
	})
}

type tendRequest struct {
	SessionID string `json:"sessionId"`
	Message   string `json:"message"`
}

func (h *Handler) tendFlower(w http.ResponseWriter, r *http.Request) {
	var req tendRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	if s, ok := h.engine.Session(req.SessionID); ok && s.FlowerID != chi.URLParam(r, "id") {
		writeError(w, http.StatusNotFound, flower.ErrSessionNotFound)
		return
	}

	result, err := h.engine.Tend(r.Context(), req.SessionID, req.Message)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

func (h *Handler) syncFlower(w http.ResponseWriter, r *http.Request) {
	f, err := h.engine.GetFlower(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, events.StateOf(f, "", time.Now()))
}

func (h *Handler) flowerEvents(w http.ResponseWriter, r *http.Request) {
	if h.hub == nil {
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{"error": "events not enabled"})
		return
	}
	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))
	evs := h.hub.History(chi.URLParam(r, "id"), limit)
	if evs == nil {
		evs = []*events.Event{}
	}
	writeJSON(w, http.StatusOK, evs)
}

func (h *Handler) wiltFlower(w http.ResponseWriter, r *http.Request) {
	if err := h.engine.Wilt(r.Context(), chi.URLParam(r, "id")); err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "wilted"})
}

type jobRequest struct {
	Trigger string `json:"trigger"`
	Reason  string `json:"reason"`
}

func (h *Handler) enqueueJob(w http.ResponseWriter, r *http.Request) {
	if h.jobs == nil {
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{"error": "job queue not enabled"})
		return
	}
	kind, err := queue.ParseKind(chi.URLParam(r, "kind"))
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	var req jobRequest
	if r.ContentLength != 0 {
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeError(w, http.StatusBadRequest, err)
			return
		}
	}

	id := chi.URLParam(r, "id")
	if _, err := h.engine.GetFlower(r.Context(), id); err != nil {
		h.fail(w, r, err)
		return
	}

	job := &queue.Job{Kind: kind, FlowerID: id, Trigger: req.Trigger, Reason: req.Reason}
	if err := h.jobs.Enqueue(r.Context(), job); err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]interface{}{
		"jobId":  job.ID,
		"kind":   job.Kind,
		"status": queue.StatusPending,
	})
}

// statusFor maps an error kind to its HTTP status.
func statusFor(err error) int {
	var pe *flower.ProviderError
	var se *flower.PersistenceError
	switch {
	case errors.Is(err, flower.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, flower.ErrInvalidConfig):
		return http.StatusBadRequest
	case errors.Is(err, flower.ErrArchived):
		return http.StatusConflict
	case errors.Is(err, flower.ErrProviderNotFound):
		return http.StatusUnprocessableEntity
	case errors.As(err, &pe):
		return http.StatusBadGateway
	case errors.As(err, &se):
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

func (h *Handler) fail(w http.ResponseWriter, r *http.Request, err error) {
	status := statusFor(err)
	if status >= http.StatusInternalServerError {
		h.logger.Error("request failed",
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
			zap.Int("status", status),
			zap.Error(err))
	}
	writeError(w, status, err)
}

func writeError(w http.ResponseWriter, status int, err error) {
	writeJSON(w, status, map[string]string{"error": err.Error()})
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}
