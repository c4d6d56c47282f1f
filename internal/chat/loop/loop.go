// Package loop orchestrates one conversation turn end to end: input
// validation, session bootstrap, the turn graph, fallback handling,
// and persistence of the completed exchange.
package loop

import (
	"context"
	"errors"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/travelmate-poc/server/internal/chat/graph"
	"github.com/travelmate-poc/server/internal/chat/graph/prompts"
	"github.com/travelmate-poc/server/internal/chat/model"
	"github.com/travelmate-poc/server/internal/chat/store"
	"github.com/travelmate-poc/server/internal/core/errx"
	"github.com/travelmate-poc/server/internal/observability"
	logx "github.com/travelmate-poc/server/pkg/logger"
)

// DefaultHistoryLimit caps history reads when the caller does not
// specify a limit.
const DefaultHistoryLimit = 200

// Fragment is one streamed piece of an assistant response. The final
// fragment has Done set and empty Content.
type Fragment struct {
	Content   string `json:"content"`
	Done      bool   `json:"done"`
	SessionID string `json:"session_id"`
}

// Loop is the conversation service facade used by every transport.
type Loop struct {
	store       store.Store
	runner      graph.Runner
	metrics     *observability.Metrics
	turnTimeout time.Duration
}

// Config wires the loop's collaborators.
type Config struct {
	Store       store.Store
	Runner      graph.Runner
	Metrics     *observability.Metrics
	TurnTimeout time.Duration
}

func New(cfg Config) *Loop {
	if cfg.TurnTimeout <= 0 {
		cfg.TurnTimeout = 2 * time.Minute
	}
	return &Loop{
		store:       cfg.Store,
		runner:      cfg.Runner,
		metrics:     cfg.Metrics,
		turnTimeout: cfg.TurnTimeout,
	}
}

// StartSession creates (or idempotently re-creates) a session.
func (l *Loop) StartSession(ctx context.Context, id string, metadata map[string]string) (*model.Session, error) {
	return l.store.CreateSession(ctx, id, metadata)
}

// History returns the session record and its turns, oldest first.
// Unknown sessions yield ErrSessionNotFound.
func (l *Loop) History(ctx context.Context, sessionID string, limit int) (*model.Session, []model.Turn, error) {
	sess, err := l.store.GetSession(ctx, sessionID)
	if err != nil {
		return nil, nil, err
	}
	if limit <= 0 {
		limit = DefaultHistoryLimit
	}
	turns, err := l.store.RecentTurns(ctx, sessionID, limit)
	if err != nil {
		return nil, nil, err
	}
	return sess, turns, nil
}

// ClearSession drops the session's turn history but keeps the session
// usable for further turns.
func (l *Loop) ClearSession(ctx context.Context, sessionID string) error {
	ok, err := l.store.ClearSession(ctx, sessionID)
	if err != nil {
		return err
	}
	if !ok {
		return errx.NotFound(sessionID)
	}
	return nil
}

// SubmitTurn runs one complete turn and returns the full response.
// Generation failure after the bounded retry degrades to the fixed
// fallback reply; the turn still completes and persists.
func (l *Loop) SubmitTurn(ctx context.Context, sessionID, message string) (*model.TurnResult, error) {
	start := time.Now()

	// The turn deadline covers every external call, session bootstrap
	// included. The caller's context is kept apart so its cancellation
	// is distinguishable from the loop's own deadline expiring.
	caller := ctx
	ctx, cancel := context.WithTimeout(ctx, l.turnTimeout)
	defer cancel()

	sessionID, message, err := l.prepareTurn(ctx, sessionID, message)
	if err != nil {
		return nil, err
	}

	ctx, trace := model.WithTrace(ctx)

	out, err := l.runner.Invoke(ctx, model.TurnInput{SessionID: sessionID, Query: message})

	response := ""
	outcome := observability.OutcomeOK
	switch {
	case err != nil && caller.Err() != nil:
		// The caller went away; nothing was delivered, nothing persists.
		l.countTurn(observability.OutcomeError, trace, start)
		return nil, caller.Err()
	case err != nil:
		// The loop's own deadline lands here too: the turn still
		// answers with the fallback reply.
		logx.Error().
			Str("session_id", sessionID).
			Err(err).
			Msg("Turn failed; degrading to fallback reply")
		response = prompts.Fallback
		outcome = observability.OutcomeFallback
	case out == nil || strings.TrimSpace(out.Content) == "":
		response = prompts.Fallback
		outcome = observability.OutcomeFallback
	default:
		response = out.Content
		if trace.Canned {
			outcome = observability.OutcomeCanned
		}
	}

	l.persistTurn(ctx, sessionID, message, response, trace)
	l.countTurn(outcome, trace, start)

	return &model.TurnResult{SessionID: sessionID, Response: response}, nil
}

// SubmitTurnStream runs one turn and delivers the response through emit
// as it is produced. Persistence happens only after the final fragment;
// a cancelled or broken stream leaves no partial turn behind.
func (l *Loop) SubmitTurnStream(ctx context.Context, sessionID, message string, emit func(Fragment) error) error {
	start := time.Now()

	caller := ctx
	ctx, cancel := context.WithTimeout(ctx, l.turnTimeout)
	defer cancel()

	sessionID, message, err := l.prepareTurn(ctx, sessionID, message)
	if err != nil {
		return err
	}

	if l.metrics != nil {
		l.metrics.ActiveStreams.Inc()
		defer l.metrics.ActiveStreams.Dec()
	}

	ctx, trace := model.WithTrace(ctx)

	sr, err := l.runner.Stream(ctx, model.TurnInput{SessionID: sessionID, Query: message})
	if err != nil {
		if caller.Err() != nil {
			l.countTurn(observability.OutcomeError, trace, start)
			return caller.Err()
		}
		logx.Error().
			Str("session_id", sessionID).
			Err(err).
			Msg("Stream open failed; degrading to fallback reply")
		return l.emitFallback(ctx, sessionID, message, trace, start, emit)
	}
	defer sr.Close()

	var full strings.Builder
	for {
		msg, recvErr := sr.Recv()
		if recvErr == io.EOF {
			break
		}
		if recvErr != nil {
			if caller.Err() != nil {
				l.countTurn(observability.OutcomeError, trace, start)
				return caller.Err()
			}
			if full.Len() == 0 {
				logx.Error().
					Str("session_id", sessionID).
					Err(recvErr).
					Msg("Stream failed before first fragment; degrading to fallback reply")
				return l.emitFallback(ctx, sessionID, message, trace, start, emit)
			}
			// Mid-stream failure cannot be replayed; the partial response
			// was delivered but is never persisted.
			l.countTurn(observability.OutcomeError, trace, start)
			return errx.New(errors.Join(errx.ErrGenerationFailed, recvErr), http.StatusBadGateway, "response stream interrupted")
		}
		if msg == nil || msg.Content == "" {
			continue
		}
		full.WriteString(msg.Content)
		if emitErr := emit(Fragment{Content: msg.Content, SessionID: sessionID}); emitErr != nil {
			l.countTurn(observability.OutcomeError, trace, start)
			return emitErr
		}
	}

	response := full.String()
	if strings.TrimSpace(response) == "" {
		return l.emitFallback(ctx, sessionID, message, trace, start, emit)
	}
	if emitErr := emit(Fragment{Done: true, SessionID: sessionID}); emitErr != nil {
		l.countTurn(observability.OutcomeError, trace, start)
		return emitErr
	}

	l.persistTurn(ctx, sessionID, message, response, trace)
	outcome := observability.OutcomeOK
	if trace.Canned {
		outcome = observability.OutcomeCanned
	}
	l.countTurn(outcome, trace, start)
	return nil
}

// prepareTurn validates the inputs and makes sure the session exists.
// Unknown sessions are created on first use, matching the transport
// contract that a chat request may open its own session.
func (l *Loop) prepareTurn(ctx context.Context, sessionID, message string) (string, string, error) {
	message = strings.TrimSpace(message)
	if message == "" {
		return "", "", errx.Invalid("message must not be empty")
	}
	sessionID = strings.TrimSpace(sessionID)

	sess, err := l.store.CreateSession(ctx, sessionID, nil)
	if err != nil {
		if errors.Is(err, errx.ErrInvalidInput) {
			return "", "", err
		}
		// Session bootstrap is best-effort: an unreachable store degrades
		// the turn (no history, no persistence) rather than failing it.
		logx.Warn().
			Str("session_id", sessionID).
			Err(err).
			Msg("Session bootstrap failed; continuing without storage")
		return sessionID, message, nil
	}
	return sess.ID, message, nil
}

// persistTurn writes the completed exchange. Storage failures are logged
// and swallowed so a finished answer still reaches the user.
func (l *Loop) persistTurn(ctx context.Context, sessionID, message, response string, trace *model.TurnTrace) {
	// Persist with a detached deadline so a caller disconnecting right
	// after the final fragment does not lose the completed turn.
	pctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
	defer cancel()

	_, err := l.store.AppendTurn(pctx, model.Turn{
		SessionID:           sessionID,
		UserMessage:         message,
		AssistantResponse:   response,
		RetrievalUsed:       trace.RetrievalUsed,
		RetrievedPassageIDs: trace.RetrievedPassageIDs,
	})
	if err != nil {
		logx.Error().
			Str("session_id", sessionID).
			Err(err).
			Msg("Failed to persist turn")
	}
}

func (l *Loop) emitFallback(ctx context.Context, sessionID, message string, trace *model.TurnTrace, start time.Time, emit func(Fragment) error) error {
	if err := emit(Fragment{Content: prompts.Fallback, SessionID: sessionID}); err != nil {
		l.countTurn(observability.OutcomeError, trace, start)
		return err
	}
	if err := emit(Fragment{Done: true, SessionID: sessionID}); err != nil {
		l.countTurn(observability.OutcomeError, trace, start)
		return err
	}
	l.persistTurn(ctx, sessionID, message, prompts.Fallback, trace)
	l.countTurn(observability.OutcomeFallback, trace, start)
	return nil
}

func (l *Loop) countTurn(outcome string, trace *model.TurnTrace, start time.Time) {
	if l.metrics == nil {
		return
	}
	l.metrics.TurnsTotal.WithLabelValues(outcome).Inc()
	if outcome == observability.OutcomeFallback {
		l.metrics.GenerationRetries.Inc()
	}
	if trace != nil && trace.RetrievalUsed {
		l.metrics.RetrievalUsed.Inc()
	}
	l.metrics.TurnDuration.Observe(time.Since(start).Seconds())
}
