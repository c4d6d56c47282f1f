package nodes

import (
	"context"
	"fmt"
	"strings"

	"github.com/cloudwego/eino/compose"
	"github.com/cloudwego/eino/schema"

	"github.com/travelmate-poc/server/internal/chat/assemble"
	"github.com/travelmate-poc/server/internal/chat/gate"
	"github.com/travelmate-poc/server/internal/chat/graph/prompts"
	"github.com/travelmate-poc/server/internal/chat/graph/tools"
	"github.com/travelmate-poc/server/internal/chat/model"
	"github.com/travelmate-poc/server/internal/chat/retriever"
	"github.com/travelmate-poc/server/internal/chat/store"
	logx "github.com/travelmate-poc/server/pkg/logger"
)

// Node names used across the conversation graph.
const (
	NodeContextBuilder    = "ContextBuilder"
	NodeCannedReply       = "CannedReply"
	NodeResponseChatModel = "ResponseChatModel"
	NodeSearchTool        = "SearchTool"
)

// NewContextBuilderPreHandler creates the pre-handler for the ContextBuilder node.
func NewContextBuilderPreHandler() func(context.Context, model.TurnInput, *model.TurnState) (model.TurnInput, error) {
	return func(ctx context.Context, in model.TurnInput, s *model.TurnState) (model.TurnInput, error) {
		if s.SessionID == "" {
			s.SessionID = in.SessionID
		}
		// Reset per-turn retrieval bookkeeping
		s.Canned = ""
		s.RetrievalUsed = false
		s.RetrievedPassageIDs = nil
		s.RetrievalRounds = 0
		s.RetrievalDone = false
		s.ToolCallIDSeq = 0
		s.TotalCostUSD = 0
		return in, nil
	}
}

// ContextBuilderConfig carries the collaborators the ContextBuilder node needs.
type ContextBuilderConfig struct {
	Store        store.Store
	Retriever    *retriever.Retriever
	Assembler    *assemble.Assembler
	Gate         *gate.Gate
	PromptConfig model.ResponsePromptConfig
	WindowTurns  int
	TopK         int
}

// NewContextBuilderNode creates the ContextBuilder node. It loads the
// recent conversation window, runs the retrieval gate, performs eager
// retrieval for the always-retrieve shape, and renders the system
// prompt. Greeting and no-results turns park a canned reply in state so
// the branch can skip the response model.
func NewContextBuilderNode(cfg ContextBuilderConfig) *compose.Lambda {
	return compose.InvokableLambda(func(ctx context.Context, input model.TurnInput) ([]*schema.Message, error) {
		decision := cfg.Gate.Decide(input.Query)
		logx.Debug().
			Str("session_id", input.SessionID).
			Str("decision", decision.String()).
			Msg("Retrieval gate decision")

		if decision == gate.DecisionGreeting {
			return parkCanned(ctx, prompts.Greeting(cfg.PromptConfig))
		}

		contextBlock := ""
		if decision == gate.DecisionRetrieve {
			passages := cfg.Retriever.Search(ctx, input.Query, cfg.TopK)
			block := cfg.Assembler.Assemble(passages)
			recordEagerRetrieval(ctx, block)
			if block.Text == "" {
				return parkCanned(ctx, prompts.NoResults(cfg.PromptConfig, input.Query))
			}
			contextBlock = block.Text
		}

		systemPrompt, err := prompts.RenderSystem(ctx, cfg.PromptConfig, prompts.SystemVars{
			ContextBlock: contextBlock,
			ToolGated:    decision == gate.DecisionToolGated,
			SearchTool:   tools.ToolSearchDocuments,
		})
		if err != nil {
			return nil, fmt.Errorf("render system prompt: %w", err)
		}

		window, err := loadWindow(ctx, cfg.Store, input.SessionID, cfg.WindowTurns)
		if err != nil {
			// A degraded window is preferable to a failed turn.
			logx.Warn().
				Str("session_id", input.SessionID).
				Err(err).
				Msg("Failed to load conversation window; continuing without history")
			window = nil
		}

		messages := make([]*schema.Message, 0, len(window)+2)
		messages = append(messages, schema.SystemMessage(systemPrompt))
		messages = append(messages, window...)
		messages = append(messages, schema.UserMessage(input.Query))
		return messages, nil
	})
}

// parkCanned stores a canned reply in state so the canned branch fires.
func parkCanned(ctx context.Context, reply string) ([]*schema.Message, error) {
	err := compose.ProcessState(ctx, func(_ context.Context, state *model.TurnState) error {
		state.Canned = reply
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to access state: %w", err)
	}
	if trace := model.TraceFrom(ctx); trace != nil {
		trace.Canned = true
	}
	return []*schema.Message{}, nil
}

// recordEagerRetrieval marks the always-retrieve shape's search in state
// and trace, mirroring what the search tool does in the tool-gated shape.
func recordEagerRetrieval(ctx context.Context, block model.ContextBlock) {
	if err := compose.ProcessState(ctx, func(_ context.Context, state *model.TurnState) error {
		state.RetrievalUsed = true
		state.RetrievedPassageIDs = append(state.RetrievedPassageIDs, block.IncludedPassageIDs...)
		return nil
	}); err != nil {
		logx.Warn().Err(err).Msg("failed to record retrieval in graph state")
	}
	if trace := model.TraceFrom(ctx); trace != nil {
		trace.RetrievalUsed = true
		trace.RetrievedPassageIDs = append(trace.RetrievedPassageIDs, block.IncludedPassageIDs...)
	}
}

// loadWindow fetches the recent turns and converts them to chat messages,
// oldest first, user before assistant within each turn.
func loadWindow(ctx context.Context, s store.Store, sessionID string, windowTurns int) ([]*schema.Message, error) {
	if s == nil || windowTurns <= 0 {
		return nil, nil
	}
	turns, err := s.RecentTurns(ctx, sessionID, windowTurns)
	if err != nil {
		return nil, err
	}
	messages := make([]*schema.Message, 0, len(turns)*2)
	for _, t := range turns {
		messages = append(messages, schema.UserMessage(t.UserMessage))
		messages = append(messages, schema.AssistantMessage(t.AssistantResponse, nil))
	}
	return messages, nil
}

// NewCannedReplyCondition routes to the canned node when a short-circuit
// reply was parked in state, otherwise to the response model.
func NewCannedReplyCondition() func(context.Context, []*schema.Message) (string, error) {
	return func(ctx context.Context, input []*schema.Message) (string, error) {
		var canned bool
		compose.ProcessState(ctx, func(_ context.Context, state *model.TurnState) error {
			canned = state.Canned != ""
			return nil
		})

		if canned {
			logx.Debug().Msg("Routing to canned reply")
			return NodeCannedReply, nil
		}
		return NodeResponseChatModel, nil
	}
}

// NewCannedReplyNode emits the canned reply parked in state as the final
// assistant message.
func NewCannedReplyNode() *compose.Lambda {
	return compose.InvokableLambda(func(ctx context.Context, _ []*schema.Message) (*schema.Message, error) {
		var reply string
		err := compose.ProcessState(ctx, func(_ context.Context, state *model.TurnState) error {
			reply = state.Canned
			return nil
		})
		if err != nil {
			return nil, fmt.Errorf("failed to access state: %w", err)
		}
		if reply == "" {
			return nil, fmt.Errorf("canned reply node reached with empty reply")
		}
		return schema.AssistantMessage(reply, nil), nil
	})
}

// NewResponseChatModelPreHandler creates the pre-handler for the ResponseChatModel node.
func NewResponseChatModelPreHandler(maxRounds int) func(context.Context, []*schema.Message, *model.TurnState) ([]*schema.Message, error) {
	return func(ctx context.Context, in []*schema.Message, state *model.TurnState) ([]*schema.Message, error) {
		// Heuristic fix for Gemini OpenAI-compat: ensure tool results carry tool_call_id
		if len(in) > 0 {
			last := in[len(in)-1]
			if last != nil && last.Role == schema.Tool && strings.TrimSpace(last.ToolCallID) == "" {
				// Try to find the most recent assistant tool call id from history
				for i := len(state.History) - 1; i >= 0; i-- {
					msg := state.History[i]
					if msg == nil || msg.Role != schema.Assistant || len(msg.ToolCalls) == 0 {
						continue
					}
					id := msg.ToolCalls[0].ID
					if strings.TrimSpace(id) != "" {
						last.ToolCallID = id
					}
					break
				}
			}
		}

		state.History = append(state.History, in...)

		if checkAndMarkRetrievalDone(state, maxRounds) {
			wrapUp := &schema.Message{
				Role: schema.System,
				Content: "SYSTEM NOTICE: The document search for this message has already run. " +
					"Answer now using the search results and the conversation so far. " +
					"If the results do not cover the question, say so and answer from general knowledge.",
			}
			state.History = append(state.History, wrapUp)
		}

		logx.Debug().Msg("AI thinking...")

		return state.History, nil
	}
}

// NewResponseChatModelPostHandler creates the post-handler for the ResponseChatModel node.
func NewResponseChatModelPostHandler(modelName string) func(context.Context, *schema.Message, *model.TurnState) (*schema.Message, error) {
	return func(ctx context.Context, out *schema.Message, state *model.TurnState) (*schema.Message, error) {
		// Compute usage cost if available
		if model.CostEnabled() && out != nil && out.ResponseMeta != nil && out.ResponseMeta.Usage != nil {
			pricing := model.ResolvePricing(modelName)
			inC, outC, totalC := model.ComputeCost(out.ResponseMeta.Usage, pricing)
			if out.Extra == nil {
				out.Extra = map[string]any{}
			}
			out.Extra["usage_cost"] = map[string]any{
				"currency":          "USD",
				"model":             modelName,
				"prompt_tokens":     out.ResponseMeta.Usage.PromptTokens,
				"completion_tokens": out.ResponseMeta.Usage.CompletionTokens,
				"total_tokens":      out.ResponseMeta.Usage.TotalTokens,
				"input_cost":        inC,
				"output_cost":       outC,
				"total_cost":        totalC,
			}
			logx.Debug().
				Str("session_id", state.SessionID).
				Str("node", NodeResponseChatModel).
				Str("model", modelName).
				Int("prompt_tokens", out.ResponseMeta.Usage.PromptTokens).
				Int("completion_tokens", out.ResponseMeta.Usage.CompletionTokens).
				Int("total_tokens", out.ResponseMeta.Usage.TotalTokens).
				Float64("input_cost_usd", inC).
				Float64("output_cost_usd", outC).
				Float64("total_cost_usd", totalC).
				Msg("LLM usage")

			// Accumulate only total cost into state
			state.TotalCostUSD += totalC
			// Also expose running total in the message Extra for visibility
			out.Extra["usage_cost_total_usd"] = state.TotalCostUSD
			if trace := model.TraceFrom(ctx); trace != nil {
				trace.CostUSD = state.TotalCostUSD
			}
		}

		// Normalize tool calls: some providers (Gemini OpenAI-compat) may omit tool_call IDs.
		if out != nil && len(out.ToolCalls) > 0 {
			for i := range out.ToolCalls {
				if strings.TrimSpace(out.ToolCalls[i].ID) == "" {
					state.ToolCallIDSeq++
					out.ToolCalls[i].ID = fmt.Sprintf("call_%d", state.ToolCallIDSeq)
				}
			}
		}

		state.History = append(state.History, out)

		if out != nil && len(out.ToolCalls) > 0 {
			logx.Debug().Int("tool_count", len(out.ToolCalls)).Msg("Calling search tool")
		} else {
			logx.Debug().Msg("AI response ready")
		}

		return out, nil
	}
}

// NewSearchToolCondition creates the condition function for search-tool routing.
func NewSearchToolCondition() func(context.Context, *schema.Message) (string, error) {
	return func(ctx context.Context, input *schema.Message) (string, error) {
		// Check if the single allowed search round already ran
		var done bool
		compose.ProcessState(ctx, func(_ context.Context, state *model.TurnState) error {
			done = state.RetrievalDone
			return nil
		})

		if done {
			logx.Debug().Msg("Search round already used - routing to end")
			return compose.END, nil
		}

		if len(input.ToolCalls) > 0 {
			logx.Debug().Int("tool_count", len(input.ToolCalls)).Msg("Routing to SearchTool")
			return NodeSearchTool, nil
		}

		logx.Debug().Msg("No tool calls - continuing to end")
		return compose.END, nil
	}
}

// NewSearchToolPreHandler creates the pre-handler for the SearchTool node.
func NewSearchToolPreHandler(maxRounds int) func(context.Context, *schema.Message, *model.TurnState) (*schema.Message, error) {
	return func(ctx context.Context, in *schema.Message, state *model.TurnState) (*schema.Message, error) {
		exceeded := incrementRetrievalRound(state, maxRounds)

		logx.Debug().
			Int("retrieval_rounds", state.RetrievalRounds).
			Str("session_id", state.SessionID).
			Msg("Search tool execution attempt")

		if exceeded {
			logx.Warn().
				Int("retrieval_rounds", state.RetrievalRounds).
				Int("max_rounds", normalizeMaxRounds(maxRounds)).
				Str("session_id", state.SessionID).
				Msg("Search round limit exceeded - flagging and continuing")
		}

		return in, nil
	}
}
