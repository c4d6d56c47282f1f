package model

import (
	"context"

	"github.com/cloudwego/eino/schema"
)

// TurnState stores per-invocation state for the conversation graph.
// Concurrency model:
//   - This struct is registered as Graph Local State via compose.WithGenLocalState.
//   - All reads/writes happen only inside Eino state handlers:
//     WithStatePreHandler, WithStatePostHandler, or compose.ProcessState.
//   - Eino serializes access to state within these handlers, so no additional
//     mutex/atomic is required as long as you never touch it outside handlers.
type TurnState struct {
	SessionID string
	History   []*schema.Message // mutated only inside Eino state handlers

	// Canned holds a short-circuit reply (greeting or no-results text);
	// when set the graph routes past the response model.
	Canned string

	RetrievalUsed       bool
	RetrievedPassageIDs []string
	RetrievalRounds     int  // search-tool executions this turn
	RetrievalDone       bool // set once the single allowed round ran

	ToolCallIDSeq int // local sequence to synthesize tool_call_id when provider omits

	// Accumulated total LLM cost (USD) across model invocations for this turn.
	TotalCostUSD float64
}

// TurnTrace carries retrieval provenance out of a graph run. The loop
// installs one in the context before invoking the graph; nodes and the
// search tool record into it. A trace belongs to exactly one turn.
type TurnTrace struct {
	RetrievalUsed       bool
	RetrievedPassageIDs []string
	Canned              bool
	CostUSD             float64
}

type traceKey struct{}

// WithTrace installs a fresh trace on the context and returns both.
func WithTrace(ctx context.Context) (context.Context, *TurnTrace) {
	t := &TurnTrace{}
	return context.WithValue(ctx, traceKey{}, t), t
}

// TraceFrom returns the turn trace installed on ctx, or nil.
func TraceFrom(ctx context.Context) *TurnTrace {
	t, _ := ctx.Value(traceKey{}).(*TurnTrace)
	return t
}
