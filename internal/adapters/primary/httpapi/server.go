package httpapi

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/gorilla/websocket"

	"github.com/NoahRocket/X/internal/core/domain"
	"github.com/NoahRocket/X/internal/core/services"
)

type Server struct {
	registry *services.Registry
	secret   []byte
	upgrader websocket.Upgrader
}

func NewServer(registry *services.Registry, jwtSecret string) *Server {
	return &Server{
		registry: registry,
		secret:   []byte(jwtSecret),
		upgrader: websocket.Upgrader{CheckOrigin: func(r *http.Request) bool { return true }},
	}
}

func (s *Server) Router() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)
	r.Use(Auth(s.secret))

	r.Get("/api/healthz", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})

	r.Get("/api/feed", s.handleFeed)

	r.Group(func(r chi.Router) {
		r.Use(RequireViewer)
		r.Post("/api/questions", s.handleSubmit)
		r.Post("/api/posts/{postID}/like", s.handleLike)
		r.Get("/api/quota", s.handleQuota)
		r.Get("/api/ws", s.handleWS)
	})

	return r
}

// handleFeed serves a one-shot projection. The live, stateful view runs over
// the websocket; this endpoint exists for plain fetches and crawlers.
func (s *Server) handleFeed(w http.ResponseWriter, r *http.Request) {
	sess := s.registry.NewSession(ViewerID(r.Context()))
	if err := sess.Load(r.Context()); err != nil {
		writeError(w, err)
		return
	}
	if sort := r.URL.Query().Get("sort"); sort != "" {
		sess.SetSort(domain.SortMode(sort))
	}
	if tag := r.URL.Query().Get("tag"); tag != "" {
		sess.ToggleTag(tag)
	}
	writeJSON(w, http.StatusOK, map[string]any{"posts": sess.View()})
}

func (s *Server) handleSubmit(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Question string `json:"question"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid request body"})
		return
	}

	viewer := ViewerID(r.Context())
	sess, live := s.registry.Lookup(viewer)
	if !live {
		sess = s.registry.NewSession(viewer)
		if _, err := sess.Remaining(r.Context()); err != nil {
			writeError(w, err)
			return
		}
	}

	post, err := sess.SubmitQuestion(r.Context(), body.Question)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, post)
}

func (s *Server) handleLike(w http.ResponseWriter, r *http.Request) {
	viewer := ViewerID(r.Context())
	postID := chi.URLParam(r, "postID")

	sess, live := s.registry.Lookup(viewer)
	if !live {
		sess = s.registry.NewSession(viewer)
		if err := sess.Load(r.Context()); err != nil {
			writeError(w, err)
			return
		}
	}

	if err := sess.ToggleLike(r.Context(), postID); err != nil {
		writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleQuota(w http.ResponseWriter, r *http.Request) {
	viewer := ViewerID(r.Context())
	sess, live := s.registry.Lookup(viewer)
	if !live {
		sess = s.registry.NewSession(viewer)
	}
	n, err := sess.Remaining(r.Context())
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]int{"remaining": n})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Error("write response", "error", err)
	}
}

// writeError maps domain errors onto HTTP statuses. Every body is a single
// human-readable message.
func writeError(w http.ResponseWriter, err error) {
	status := http.StatusInternalServerError
	switch {
	case errors.Is(err, domain.ErrEmptyQuestion), errors.Is(err, domain.ErrQuestionTooLong):
		status = http.StatusBadRequest
	case errors.Is(err, domain.ErrQuotaExceeded):
		status = http.StatusTooManyRequests
	case errors.Is(err, domain.ErrGenerationFailed):
		status = http.StatusBadGateway
	case errors.Is(err, domain.ErrLikeConflict):
		status = http.StatusConflict
	case errors.Is(err, domain.ErrPostNotFound), errors.Is(err, domain.ErrUserNotFound):
		status = http.StatusNotFound
	}
	if status == http.StatusInternalServerError {
		slog.Error("request failed", "error", err)
	}
	writeJSON(w, status, map[string]string{"error": userMessage(err, status)})
}

func userMessage(err error, status int) string {
	if status == http.StatusInternalServerError {
		return "something went wrong, please try again"
	}
	for _, sentinel := range []error{
		domain.ErrEmptyQuestion, domain.ErrQuestionTooLong, domain.ErrQuotaExceeded,
		domain.ErrGenerationFailed, domain.ErrLikeConflict, domain.ErrPostNotFound,
		domain.ErrUserNotFound,
	} {
		if errors.Is(err, sentinel) {
			return sentinel.Error()
		}
	}
	return err.Error()
}
