package store

import (
	"context"
	"strings"

	"github.com/travelmate-poc/server/internal/chat/model"
	"github.com/travelmate-poc/server/internal/core/errx"
)

// Store is the append-only per-session turn record.
//
// Contracts:
//   - AppendTurn makes the turn immediately visible to subsequent reads
//     from the same process; each turn is written individually (a crash
//     mid-turn loses at most the current, unwritten turn).
//   - RecentTurns returns up to limit most recent turns, oldest-first,
//     and an empty slice (never an error) for a session with no history.
//     limit <= 0 is treated as 0.
//   - CreateSession with a caller-supplied id is idempotent across
//     retries; with an empty id each call allocates a new session.
//   - ClearSession drops the session's turn history but keeps the
//     session record; it reports false for unknown sessions.
type Store interface {
	CreateSession(ctx context.Context, id string, metadata map[string]string) (*model.Session, error)
	GetSession(ctx context.Context, id string) (*model.Session, error)
	AppendTurn(ctx context.Context, turn model.Turn) (string, error)
	RecentTurns(ctx context.Context, sessionID string, limit int) ([]model.Turn, error)
	ClearSession(ctx context.Context, sessionID string) (bool, error)
	Close() error
}

func validateSessionID(id string) error {
	id = strings.TrimSpace(id)
	if id == "" {
		return errx.Invalid("session_id is required")
	}
	if len(id) > 128 || strings.ContainsAny(id, " \t\n") {
		return errx.Invalid("session_id is malformed")
	}
	return nil
}
