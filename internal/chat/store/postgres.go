package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/travelmate-poc/server/internal/chat/model"
	"github.com/travelmate-poc/server/internal/core/errx"
)

// PostgresStore persists sessions and turns in PostgreSQL.
type PostgresStore struct {
	pool *pgxpool.Pool
}

func NewPostgresStore(ctx context.Context, databaseURL string) (*PostgresStore, error) {
	pool, err := pgxpool.New(ctx, databaseURL)
	if err != nil {
		return nil, fmt.Errorf("connect postgres: %w", err)
	}

	if err := initSchema(ctx, pool); err != nil {
		pool.Close()
		return nil, err
	}

	return &PostgresStore{pool: pool}, nil
}

func initSchema(ctx context.Context, pool *pgxpool.Pool) error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS chat_sessions (
			id TEXT PRIMARY KEY,
			metadata JSONB NOT NULL DEFAULT '{}'::jsonb,
			created_at TIMESTAMPTZ NOT NULL DEFAULT now()
		);`,
		`CREATE TABLE IF NOT EXISTS chat_turns (
			id TEXT PRIMARY KEY,
			session_id TEXT NOT NULL REFERENCES chat_sessions(id),
			user_message TEXT NOT NULL,
			assistant_response TEXT NOT NULL,
			retrieval_used BOOLEAN NOT NULL DEFAULT FALSE,
			retrieved_passage_ids TEXT[] NOT NULL DEFAULT '{}',
			created_at TIMESTAMPTZ NOT NULL DEFAULT now()
		);`,
		`CREATE INDEX IF NOT EXISTS idx_chat_turns_session_created ON chat_turns (session_id, created_at);`,
	}

	for _, stmt := range stmts {
		if _, err := pool.Exec(ctx, stmt); err != nil {
			return fmt.Errorf("init schema failed on %q: %w", stmt, err)
		}
	}
	return nil
}

func (s *PostgresStore) CreateSession(ctx context.Context, id string, metadata map[string]string) (*model.Session, error) {
	if id == "" {
		id = uuid.NewString()
	} else if err := validateSessionID(id); err != nil {
		return nil, err
	}
	if metadata == nil {
		metadata = map[string]string{}
	}

	now := time.Now().UTC()
	_, err := s.pool.Exec(ctx,
		`INSERT INTO chat_sessions (id, metadata, created_at) VALUES ($1, $2, $3)
		 ON CONFLICT (id) DO NOTHING`,
		id, metadata, now,
	)
	if err != nil {
		return nil, errx.WrapPostgres(err)
	}
	return s.GetSession(ctx, id)
}

func (s *PostgresStore) GetSession(ctx context.Context, id string) (*model.Session, error) {
	if err := validateSessionID(id); err != nil {
		return nil, err
	}
	var sess model.Session
	err := s.pool.QueryRow(ctx,
		`SELECT id, metadata, created_at FROM chat_sessions WHERE id=$1`, id,
	).Scan(&sess.ID, &sess.Metadata, &sess.CreatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, errx.NotFound(id)
		}
		return nil, errx.WrapPostgres(err)
	}
	return &sess, nil
}

func (s *PostgresStore) AppendTurn(ctx context.Context, turn model.Turn) (string, error) {
	if err := validateSessionID(turn.SessionID); err != nil {
		return "", err
	}
	if turn.ID == "" {
		turn.ID = uuid.NewString()
	}
	if turn.Timestamp.IsZero() {
		turn.Timestamp = time.Now().UTC()
	}

	_, err := s.pool.Exec(ctx,
		`INSERT INTO chat_turns (id, session_id, user_message, assistant_response, retrieval_used, retrieved_passage_ids, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7)`,
		turn.ID,
		turn.SessionID,
		turn.UserMessage,
		turn.AssistantResponse,
		turn.RetrievalUsed,
		turn.RetrievedPassageIDs,
		turn.Timestamp,
	)
	if err != nil {
		return "", errx.WrapPostgres(err)
	}
	return turn.ID, nil
}

func (s *PostgresStore) RecentTurns(ctx context.Context, sessionID string, limit int) ([]model.Turn, error) {
	if err := validateSessionID(sessionID); err != nil {
		return nil, err
	}
	if limit <= 0 {
		return []model.Turn{}, nil
	}

	rows, err := s.pool.Query(ctx,
		`SELECT id, session_id, user_message, assistant_response, retrieval_used, retrieved_passage_ids, created_at
		 FROM chat_turns WHERE session_id=$1 ORDER BY created_at DESC, id DESC LIMIT $2`,
		sessionID,
		limit,
	)
	if err != nil {
		return nil, errx.WrapPostgres(err)
	}
	defer rows.Close()

	turns := make([]model.Turn, 0, limit)
	for rows.Next() {
		var t model.Turn
		if err := rows.Scan(&t.ID, &t.SessionID, &t.UserMessage, &t.AssistantResponse, &t.RetrievalUsed, &t.RetrievedPassageIDs, &t.Timestamp); err != nil {
			return nil, fmt.Errorf("scan turn row: %w", err)
		}
		turns = append(turns, t)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate turn rows: %w", err)
	}

	// Reverse into chronological order for prompt coherence.
	for i, j := 0, len(turns)-1; i < j; i, j = i+1, j-1 {
		turns[i], turns[j] = turns[j], turns[i]
	}

	return turns, nil
}

func (s *PostgresStore) ClearSession(ctx context.Context, sessionID string) (bool, error) {
	if err := validateSessionID(sessionID); err != nil {
		return false, err
	}
	var exists bool
	if err := s.pool.QueryRow(ctx,
		`SELECT EXISTS (SELECT 1 FROM chat_sessions WHERE id=$1)`, sessionID,
	).Scan(&exists); err != nil {
		return false, errx.WrapPostgres(err)
	}
	if !exists {
		return false, nil
	}
	if _, err := s.pool.Exec(ctx, `DELETE FROM chat_turns WHERE session_id=$1`, sessionID); err != nil {
		return false, errx.WrapPostgres(err)
	}
	return true, nil
}

func (s *PostgresStore) Close() error {
	s.pool.Close()
	return nil
}

var _ Store = (*PostgresStore)(nil)
