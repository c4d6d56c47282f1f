// Package gate decides, once per turn and before any search call,
// whether external knowledge retrieval is warranted.
package gate

import (
	"strings"
	"unicode"

	"github.com/travelmate-poc/server/internal/chat/model"
)

// Decision is the gate's routing verdict for one turn.
type Decision int

const (
	// DecisionAnswer routes straight to generation with no retrieval.
	DecisionAnswer Decision = iota
	// DecisionRetrieve searches before generation (the RAG shape).
	DecisionRetrieve
	// DecisionToolGated lets the model request the search tool itself.
	DecisionToolGated
	// DecisionGreeting short-circuits to the canned greeting reply.
	DecisionGreeting
)

func (d Decision) String() string {
	switch d {
	case DecisionRetrieve:
		return "retrieve"
	case DecisionToolGated:
		return "tool_gated"
	case DecisionGreeting:
		return "greeting"
	default:
		return "answer"
	}
}

// Classifier reports whether a message is small talk that deserves the
// cheap canned path. The default is a word-list match; callers may
// substitute any classifier without changing the gate's contract.
type Classifier func(message string) bool

type Gate struct {
	mode       model.RetrievalMode
	isGreeting Classifier
}

func New(mode model.RetrievalMode, cfg model.GateConfig) *Gate {
	return &Gate{
		mode:       mode,
		isGreeting: WordListClassifier(splitList(cfg.Greetings)),
	}
}

// WithClassifier swaps the small-talk classifier.
func (g *Gate) WithClassifier(c Classifier) *Gate {
	if c != nil {
		g.isGreeting = c
	}
	return g
}

// Decide inspects the user message and picks the turn's path.
func (g *Gate) Decide(message string) Decision {
	if g.isGreeting(message) {
		return DecisionGreeting
	}
	switch g.mode {
	case model.RetrievalModeAlways:
		return DecisionRetrieve
	case model.RetrievalModeTool:
		return DecisionToolGated
	default:
		return DecisionAnswer
	}
}

// WordListClassifier matches configured greeting words on word
// boundaries, so "hi there" matches but "which hotel" does not.
func WordListClassifier(words []string) Classifier {
	single := make(map[string]bool)
	var phrases []string
	for _, w := range words {
		w = strings.ToLower(strings.TrimSpace(w))
		if w == "" {
			continue
		}
		if strings.ContainsRune(w, ' ') {
			phrases = append(phrases, w)
		} else {
			single[w] = true
		}
	}

	return func(message string) bool {
		lower := strings.ToLower(message)
		for _, p := range phrases {
			if strings.Contains(lower, p) {
				return true
			}
		}
		for _, tok := range strings.FieldsFunc(lower, func(r rune) bool {
			return !unicode.IsLetter(r)
		}) {
			if single[tok] {
				return true
			}
		}
		return false
	}
}

func splitList(csv string) []string {
	parts := strings.Split(csv, ",")
	out := parts[:0]
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}
