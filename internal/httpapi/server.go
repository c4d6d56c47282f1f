// Package httpapi exposes the conversation loop over HTTP: JSON chat,
// NDJSON streaming, a websocket transport, and session management.
package httpapi

import (
	"encoding/json"
	"errors"
	"net/http"
	"net/url"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/gorilla/websocket"

	"github.com/travelmate-poc/server/internal/chat/loop"
	"github.com/travelmate-poc/server/internal/chat/model"
	"github.com/travelmate-poc/server/internal/core/errx"
	"github.com/travelmate-poc/server/internal/observability"
	logx "github.com/travelmate-poc/server/pkg/logger"
)

type Server struct {
	loop           *loop.Loop
	metrics        *observability.Metrics
	upgrader       websocket.Upgrader
	allowAnyOrigin bool
}

type Config struct {
	AllowAnyOrigin bool
}

func New(cfg Config, l *loop.Loop, metrics *observability.Metrics) *Server {
	s := &Server{
		loop:           l,
		metrics:        metrics,
		allowAnyOrigin: cfg.AllowAnyOrigin,
	}
	s.upgrader = websocket.Upgrader{
		ReadBufferSize:  4096,
		WriteBufferSize: 4096,
		CheckOrigin: func(r *http.Request) bool {
			// Only allow browser websocket connections from the same origin
			// unless explicitly opened up. Non-browser clients omit Origin.
			if s.allowAnyOrigin {
				return true
			}
			origin := strings.TrimSpace(r.Header.Get("Origin"))
			if origin == "" {
				return true
			}
			u, err := url.Parse(origin)
			if err != nil {
				return false
			}
			if u.Scheme != "http" && u.Scheme != "https" {
				return false
			}
			return strings.EqualFold(u.Host, r.Host)
		},
	}
	return s
}

func (s *Server) Router() http.Handler {
	r := chi.NewRouter()

	r.Get("/", s.handleRoot)
	r.Get("/healthz", s.handleHealth)
	r.Get("/metrics", func(w http.ResponseWriter, req *http.Request) {
		s.metrics.Handler().ServeHTTP(w, req)
	})

	r.Post("/chat", s.handleChat)
	r.Post("/chat/stream", s.handleChatStream)
	r.Get("/chat/ws", s.handleChatWS)

	r.Post("/v1/sessions", s.handleCreateSession)
	r.Get("/v1/sessions/{id}/history", s.handleHistory)
	r.Delete("/v1/sessions/{id}", s.handleClearSession)

	return r
}

func (s *Server) handleRoot(w http.ResponseWriter, _ *http.Request) {
	respondJSON(w, http.StatusOK, map[string]any{
		"service": "travelmate",
		"status":  "running",
	})
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	respondJSON(w, http.StatusOK, map[string]any{"status": "ok"})
}

type chatRequest struct {
	SessionID string `json:"session_id"`
	Message   string `json:"message"`
}

func (s *Server) handleChat(w http.ResponseWriter, r *http.Request) {
	var req chatRequest
	if err := decodeJSON(r, &req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid_request", err.Error())
		return
	}

	result, err := s.loop.SubmitTurn(r.Context(), req.SessionID, req.Message)
	if err != nil {
		respondAppError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, result)
}

// handleChatStream delivers the response as newline-delimited JSON
// fragments. The terminal line carries done=true and no content.
func (s *Server) handleChatStream(w http.ResponseWriter, r *http.Request) {
	var req chatRequest
	if err := decodeJSON(r, &req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid_request", err.Error())
		return
	}

	flusher, ok := w.(http.Flusher)
	if !ok {
		respondError(w, http.StatusInternalServerError, "streaming_unsupported", "response writer does not support streaming")
		return
	}

	w.Header().Set("Content-Type", "application/x-ndjson")
	w.Header().Set("Cache-Control", "no-cache")

	enc := json.NewEncoder(w)
	wroteAny := false
	err := s.loop.SubmitTurnStream(r.Context(), req.SessionID, req.Message, func(f loop.Fragment) error {
		if encErr := enc.Encode(f); encErr != nil {
			return encErr
		}
		flusher.Flush()
		wroteAny = true
		return nil
	})
	if err != nil {
		if !wroteAny {
			respondAppError(w, err)
			return
		}
		// Headers are gone; the best we can do is log and drop the stream.
		logx.Warn().Err(err).Msg("chat stream aborted mid-flight")
	}
}

type createSessionRequest struct {
	SessionID string            `json:"session_id,omitempty"`
	Metadata  map[string]string `json:"metadata,omitempty"`
}

func (s *Server) handleCreateSession(w http.ResponseWriter, r *http.Request) {
	var req createSessionRequest
	if err := decodeJSON(r, &req); err != nil && !errors.Is(err, errEmptyBody) {
		respondError(w, http.StatusBadRequest, "invalid_request", err.Error())
		return
	}

	sess, err := s.loop.StartSession(r.Context(), req.SessionID, req.Metadata)
	if err != nil {
		respondAppError(w, err)
		return
	}
	respondJSON(w, http.StatusCreated, sess)
}

type historyResponse struct {
	Session *model.Session `json:"session"`
	Turns   []model.Turn   `json:"turns"`
}

func (s *Server) handleHistory(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	limit := 0
	if raw := strings.TrimSpace(r.URL.Query().Get("limit")); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 0 {
			respondError(w, http.StatusBadRequest, "invalid_request", "limit must be a non-negative integer")
			return
		}
		limit = n
	}

	sess, turns, err := s.loop.History(r.Context(), id, limit)
	if err != nil {
		respondAppError(w, err)
		return
	}
	if turns == nil {
		turns = []model.Turn{}
	}
	respondJSON(w, http.StatusOK, historyResponse{Session: sess, Turns: turns})
}

func (s *Server) handleClearSession(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if err := s.loop.ClearSession(r.Context(), id); err != nil {
		respondAppError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, map[string]any{"session_id": id, "cleared": true})
}

type errorResponse struct {
	Error string `json:"error"`
	Code  string `json:"code"`
}

var errEmptyBody = errors.New("empty body")

func decodeJSON(r *http.Request, out any) error {
	if r.Body == nil {
		return errEmptyBody
	}
	defer r.Body.Close()
	dec := json.NewDecoder(r.Body)
	if err := dec.Decode(out); err != nil {
		if strings.Contains(strings.ToLower(err.Error()), "eof") {
			return errEmptyBody
		}
		return err
	}
	return nil
}

func respondJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func respondError(w http.ResponseWriter, status int, code, message string) {
	respondJSON(w, status, errorResponse{Error: message, Code: code})
}

// respondAppError maps loop errors onto the wire taxonomy.
func respondAppError(w http.ResponseWriter, err error) {
	status := errx.Status(err)
	code := "internal"
	switch {
	case errors.Is(err, errx.ErrInvalidInput):
		code = "invalid_input"
	case errors.Is(err, errx.ErrSessionNotFound):
		code = "session_not_found"
	case errors.Is(err, errx.ErrStorageUnavailable):
		code = "storage_unavailable"
	case errors.Is(err, errx.ErrGenerationFailed):
		code = "generation_failed"
	}

	message := err.Error()
	var ae *errx.AppError
	if errors.As(err, &ae) && ae.Message != "" {
		message = ae.Message
	}
	respondError(w, status, code, message)
}
