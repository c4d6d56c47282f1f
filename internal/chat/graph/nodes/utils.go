package nodes

import (
	"github.com/travelmate-poc/server/internal/chat/model"
)

// DefaultMaxRetrievalRounds bounds search-tool executions per turn.
const DefaultMaxRetrievalRounds = 1

// ===== Small helpers to keep handlers simple/readable =====

// normalizeMaxRounds returns a sane default when the provided value is invalid.
func normalizeMaxRounds(n int) int {
	if n <= 0 {
		return DefaultMaxRetrievalRounds
	}
	return n
}

// checkAndMarkRetrievalDone evaluates whether another search round would
// exceed the limit and, if so, marks the state accordingly. Returns true
// when marked now.
func checkAndMarkRetrievalDone(state *model.TurnState, max int) bool {
	max = normalizeMaxRounds(max)
	if !state.RetrievalDone && state.RetrievalRounds >= max {
		state.RetrievalDone = true
		return true
	}
	return false
}

// incrementRetrievalRound increments the round count and marks the state
// if it exceeds the limit after incrementing. Returns true when exceeded.
func incrementRetrievalRound(state *model.TurnState, max int) bool {
	max = normalizeMaxRounds(max)
	state.RetrievalRounds++
	if state.RetrievalRounds > max {
		state.RetrievalDone = true
		return true
	}
	return false
}
