package httpapi

import (
	"errors"
	"net/http"
	"time"

	"github.com/gorilla/websocket"

	"github.com/travelmate-poc/server/internal/chat/loop"
	"github.com/travelmate-poc/server/internal/core/errx"
	logx "github.com/travelmate-poc/server/pkg/logger"
)

const (
	wsReadLimit     = 1 << 20
	wsReadDeadline  = 120 * time.Second
	wsWriteDeadline = 10 * time.Second
)

type wsError struct {
	Error string `json:"error"`
	Code  string `json:"code"`
}

// handleChatWS serves chat over a websocket. The client sends one JSON
// request per turn; the server answers with fragment messages and a
// terminal done message before reading the next request. Turns are
// processed sequentially per connection, which keeps websocket writes
// single-threaded.
func (s *Server) handleChatWS(w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}
	defer conn.Close()

	conn.SetReadLimit(wsReadLimit)
	_ = conn.SetReadDeadline(time.Now().Add(wsReadDeadline))
	conn.SetPongHandler(func(string) error {
		_ = conn.SetReadDeadline(time.Now().Add(wsReadDeadline))
		return nil
	})

	for {
		var req chatRequest
		if err := conn.ReadJSON(&req); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				logx.Debug().Err(err).Msg("websocket closed unexpectedly")
			}
			return
		}
		_ = conn.SetReadDeadline(time.Now().Add(wsReadDeadline))

		err := s.loop.SubmitTurnStream(r.Context(), req.SessionID, req.Message, func(f loop.Fragment) error {
			_ = conn.SetWriteDeadline(time.Now().Add(wsWriteDeadline))
			return conn.WriteJSON(f)
		})
		if err != nil {
			if writeErr := writeWSError(conn, err); writeErr != nil {
				return
			}
		}
	}
}

func writeWSError(conn *websocket.Conn, err error) error {
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

	_ = conn.SetWriteDeadline(time.Now().Add(wsWriteDeadline))
	return conn.WriteJSON(wsError{Error: message, Code: code})
}
