package graph

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/travelmate-poc/server/internal/chat/answer"
	"github.com/travelmate-poc/server/internal/chat/assemble"
	"github.com/travelmate-poc/server/internal/chat/gate"
	"github.com/travelmate-poc/server/internal/chat/model"
	"github.com/travelmate-poc/server/internal/chat/retriever"
	"github.com/travelmate-poc/server/internal/chat/store"
)

// Building and compiling the graph needs no network; only invoking it
// talks to the model provider.
func TestBuildTurnGraphCompilesInEveryMode(t *testing.T) {
	ctx := context.Background()

	client, err := answer.NewClient(ctx, answer.ClientConfig{APIKey: "test-key"})
	require.NoError(t, err)

	for _, mode := range []model.RetrievalMode{
		model.RetrievalModeOff,
		model.RetrievalModeAlways,
		model.RetrievalModeTool,
	} {
		t.Run(string(mode), func(t *testing.T) {
			cm, err := answer.NewChatModel(ctx, client, &model.ResponseModelConfig{
				Model:       "gemini-2.5-flash",
				MaxTokens:   256,
				Temperature: 0.7,
			})
			require.NoError(t, err)

			runner, err := BuildTurnGraph(ctx, &Config{
				Store:        store.NewInMemoryStore(),
				Retriever:    retriever.New(retriever.NewKeywordRetriever(nil), 0.01, time.Second),
				Assembler:    assemble.New(model.AssemblerConfig{}),
				Gate:         gate.New(mode, model.GateConfig{Greetings: "hello, hi"}),
				ChatModel:    cm,
				PromptConfig: model.ResponsePromptConfig{AssistantName: "travel assistant", Specialty: "Paris"},
				Mode:         mode,
				WindowTurns:  5,
				TopK:         5,
			})
			require.NoError(t, err)
			require.NotNil(t, runner)
		})
	}
}

func TestBuildTurnGraphValidatesConfig(t *testing.T) {
	ctx := context.Background()

	_, err := BuildTurnGraph(ctx, nil)
	require.Error(t, err)

	_, err = BuildTurnGraph(ctx, &Config{})
	require.Error(t, err)
}
