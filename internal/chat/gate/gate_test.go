package gate

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/travelmate-poc/server/internal/chat/model"
)

var defaultGateConfig = model.GateConfig{
	Greetings: "hello, hi, hey, greetings, good morning, good afternoon, good evening",
}

func TestGreetingShortCircuitsInEveryMode(t *testing.T) {
	for _, mode := range []model.RetrievalMode{
		model.RetrievalModeOff,
		model.RetrievalModeAlways,
		model.RetrievalModeTool,
	} {
		g := New(mode, defaultGateConfig)
		assert.Equal(t, DecisionGreeting, g.Decide("Hello!"), "mode %s", mode)
		assert.Equal(t, DecisionGreeting, g.Decide("hi there"), "mode %s", mode)
		assert.Equal(t, DecisionGreeting, g.Decide("Good morning, any tips?"), "mode %s", mode)
	}
}

func TestWordBoundaryMatching(t *testing.T) {
	g := New(model.RetrievalModeTool, defaultGateConfig)

	// "hi" inside another word must not match.
	assert.Equal(t, DecisionToolGated, g.Decide("which hotel is best in Paris?"))
	assert.Equal(t, DecisionToolGated, g.Decide("something about architecture"))
}

func TestModeRouting(t *testing.T) {
	query := "what should I see in Paris?"

	assert.Equal(t, DecisionAnswer, New(model.RetrievalModeOff, defaultGateConfig).Decide(query))
	assert.Equal(t, DecisionRetrieve, New(model.RetrievalModeAlways, defaultGateConfig).Decide(query))
	assert.Equal(t, DecisionToolGated, New(model.RetrievalModeTool, defaultGateConfig).Decide(query))
}

func TestClassifierSubstitution(t *testing.T) {
	g := New(model.RetrievalModeAlways, defaultGateConfig).
		WithClassifier(func(message string) bool { return message == "magic" })

	assert.Equal(t, DecisionGreeting, g.Decide("magic"))
	// The word list no longer applies once substituted.
	assert.Equal(t, DecisionRetrieve, g.Decide("hello"))
}

func TestDecisionString(t *testing.T) {
	assert.Equal(t, "answer", DecisionAnswer.String())
	assert.Equal(t, "retrieve", DecisionRetrieve.String())
	assert.Equal(t, "tool_gated", DecisionToolGated.String())
	assert.Equal(t, "greeting", DecisionGreeting.String())
}
