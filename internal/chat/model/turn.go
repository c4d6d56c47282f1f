package model

import "time"

// Session identifies one continuous conversation. Sessions are never
// mutated after creation except by appending turns.
type Session struct {
	ID        string            `json:"session_id"`
	CreatedAt time.Time         `json:"created_at"`
	Metadata  map[string]string `json:"metadata,omitempty"`
}

// Turn is one user/assistant exchange. Immutable once persisted.
type Turn struct {
	ID                  string    `json:"turn_id"`
	SessionID           string    `json:"session_id"`
	Timestamp           time.Time `json:"timestamp"`
	UserMessage         string    `json:"user_message"`
	AssistantResponse   string    `json:"assistant_response"`
	RetrievalUsed       bool      `json:"retrieval_used"`
	RetrievedPassageIDs []string  `json:"retrieved_passage_ids,omitempty"`
}

// Passage is a retrievable unit of external knowledge. Read-only and
// ephemeral from the loop's point of view; only IDs are persisted.
type Passage struct {
	ID      string  `json:"id"`
	Title   string  `json:"title"`
	Content string  `json:"content"`
	Source  string  `json:"source"`
	Score   float64 `json:"score"`
}

// ContextBlock is the assembled knowledge context handed to the response
// model for one turn. Built fresh per turn, never persisted verbatim.
type ContextBlock struct {
	Text               string
	IncludedPassageIDs []string
	Truncated          bool
}

// TurnInput is the per-turn input to the conversation graph.
type TurnInput struct {
	SessionID string `json:"session_id"`
	Query     string `json:"query"`
}

// TurnResult is what a completed turn returns to the transport layer.
type TurnResult struct {
	SessionID string `json:"session_id"`
	Response  string `json:"response"`
}
