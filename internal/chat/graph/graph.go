package graph

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"

	"github.com/cloudwego/eino/compose"
	"github.com/cloudwego/eino/schema"

	"github.com/travelmate-poc/server/internal/chat/answer"
	"github.com/travelmate-poc/server/internal/chat/assemble"
	"github.com/travelmate-poc/server/internal/chat/gate"
	"github.com/travelmate-poc/server/internal/chat/graph/nodes"
	"github.com/travelmate-poc/server/internal/chat/graph/observers"
	"github.com/travelmate-poc/server/internal/chat/graph/tools"
	"github.com/travelmate-poc/server/internal/chat/model"
	"github.com/travelmate-poc/server/internal/chat/retriever"
	"github.com/travelmate-poc/server/internal/chat/store"
	logx "github.com/travelmate-poc/server/pkg/logger"
)

// Runner executes the compiled conversation graph for one turn.
type Runner interface {
	Invoke(ctx context.Context, in model.TurnInput) (*schema.Message, error)
	Stream(ctx context.Context, in model.TurnInput) (*schema.StreamReader[*schema.Message], error)
}

// Config holds everything needed to compose the full turn graph end-to-end.
type Config struct {
	Store        store.Store
	Retriever    *retriever.Retriever
	Assembler    *assemble.Assembler
	Gate         *gate.Gate
	ChatModel    *answer.ChatModel
	MaxRetries   int
	PromptConfig model.ResponsePromptConfig
	Mode         model.RetrievalMode
	WindowTurns  int
	TopK         int
}

// GraphBuilder handles the construction of the conversation turn graph.
type GraphBuilder struct {
	config *Config
	graph  *compose.Graph[model.TurnInput, *schema.Message]
}

type graphRunner struct {
	runnable compose.Runnable[model.TurnInput, *schema.Message]
}

func (r *graphRunner) Invoke(ctx context.Context, in model.TurnInput) (*schema.Message, error) {
	return r.runnable.Invoke(ctx, in, compose.WithCallbacks(observers.NewAllCallbacks()))
}

func (r *graphRunner) Stream(ctx context.Context, in model.TurnInput) (*schema.StreamReader[*schema.Message], error) {
	return r.runnable.Stream(ctx, in, compose.WithCallbacks(observers.NewAllCallbacks()))
}

// BuildTurnGraph constructs and compiles the turn graph and returns a Runner.
func BuildTurnGraph(ctx context.Context, config *Config) (Runner, error) {
	// Basic config validation
	if config == nil {
		return nil, fmt.Errorf("graph config is nil")
	}
	if config.ChatModel == nil || config.ChatModel.Response == nil {
		return nil, fmt.Errorf("chat model is not properly initialized")
	}
	if config.Store == nil {
		return nil, fmt.Errorf("store is nil")
	}
	if config.Retriever == nil || config.Assembler == nil || config.Gate == nil {
		return nil, fmt.Errorf("retrieval components are not properly initialized")
	}

	builder := &GraphBuilder{
		config: config,
		graph: compose.NewGraph[model.TurnInput, *schema.Message](
			compose.WithGenLocalState(func(ctx context.Context) *model.TurnState {
				return &model.TurnState{}
			}),
		),
	}

	if err := builder.setupTools(ctx); err != nil {
		return nil, err
	}

	builder.addNodes()
	builder.addEdges()

	if err := builder.addBranches(); err != nil {
		return nil, err
	}

	runnable, err := builder.compile(ctx)
	if err != nil {
		return nil, err
	}

	logx.Debug().Msg("Turn graph built successfully")
	return &graphRunner{runnable: runnable}, nil
}

// setupTools configures the search tool node and, in the tool-gated
// shape, binds the tool descriptors to the response model. The other
// shapes keep the node unreachable so the model cannot request search.
func (b *GraphBuilder) setupTools(ctx context.Context) error {
	searchTools := tools.GetQueryTools(b.config.Retriever, b.config.Assembler, b.config.TopK)

	if b.config.Mode == model.RetrievalModeTool {
		toolInfos, err := tools.GetToolInfos(ctx, searchTools)
		if err != nil {
			logx.Error().Err(err).Msg("Failed to get tool infos")
			return fmt.Errorf("failed to get tool infos: %w", err)
		}
		if err := b.config.ChatModel.BindSearchTool(toolInfos); err != nil {
			logx.Error().Err(err).Msg("Failed to bind tools to response model")
			return fmt.Errorf("failed to bind tools to response model: %w", err)
		}
	}

	toolsNode, err := compose.NewToolNode(ctx, &compose.ToolsNodeConfig{
		Tools:               searchTools,
		ExecuteSequentially: true,
		UnknownToolsHandler: func(ctx context.Context, name, input string) (string, error) {
			// Gracefully handle hallucinated or malformed tool calls (e.g., empty name)
			logx.Warn().
				Str("tool_name", name).
				Str("arguments", input).
				Msg("Unknown or invalid tool call; returning fallback result")
			return fmt.Sprintf("{\"error\":\"unknown_tool\",\"name\":%q,\"note\":\"ignored\"}", name), nil
		},
		ToolArgumentsHandler: func(ctx context.Context, name, arguments string) (string, error) {
			// Best-effort sanitize; never fail hard here
			var m map[string]any
			if err := json.Unmarshal([]byte(arguments), &m); err != nil {
				// keep original if not JSON
				return arguments, nil
			}

			if name == tools.ToolSearchDocuments {
				// query: string (required)
				if v, ok := m["query"]; ok {
					switch vv := v.(type) {
					case string:
						m["query"] = strings.TrimSpace(vv)
					default:
						// coerce non-string to string
						m["query"] = strings.TrimSpace(fmt.Sprint(v))
					}
				}
				// top_k: number (optional, max 20)
				if v, ok := m["top_k"]; ok {
					switch vv := v.(type) {
					case float64:
						// JSON numbers decode as float64
						m["top_k"] = clampInt(int(vv), 1, 20)
					case string:
						if n, err := strconv.Atoi(strings.TrimSpace(vv)); err == nil {
							m["top_k"] = clampInt(n, 1, 20)
						} else {
							delete(m, "top_k")
						}
					default:
						delete(m, "top_k")
					}
				}
			}

			out, err := json.Marshal(m)
			if err != nil {
				// fallback to original
				return arguments, nil
			}
			return string(out), nil
		},
	})
	if err != nil {
		logx.Error().Err(err).Msg("Failed to create tools node")
		return fmt.Errorf("failed to create tools node: %w", err)
	}

	b.graph.AddToolsNode(nodes.NodeSearchTool, toolsNode,
		compose.WithStatePreHandler(nodes.NewSearchToolPreHandler(nodes.DefaultMaxRetrievalRounds)),
	)

	return nil
}

// addNodes adds all processing nodes to the graph
func (b *GraphBuilder) addNodes() {
	b.graph.AddLambdaNode(nodes.NodeContextBuilder,
		nodes.NewContextBuilderNode(nodes.ContextBuilderConfig{
			Store:        b.config.Store,
			Retriever:    b.config.Retriever,
			Assembler:    b.config.Assembler,
			Gate:         b.config.Gate,
			PromptConfig: b.config.PromptConfig,
			WindowTurns:  b.config.WindowTurns,
			TopK:         b.config.TopK,
		}),
		compose.WithStatePreHandler(nodes.NewContextBuilderPreHandler()),
	)

	b.graph.AddLambdaNode(nodes.NodeCannedReply,
		nodes.NewCannedReplyNode(),
	)

	b.graph.AddChatModelNode(nodes.NodeResponseChatModel,
		answer.WithRetry(b.config.ChatModel.Response, b.config.MaxRetries),
		compose.WithStatePreHandler(nodes.NewResponseChatModelPreHandler(nodes.DefaultMaxRetrievalRounds)),
		compose.WithStatePostHandler(nodes.NewResponseChatModelPostHandler(b.config.ChatModel.ModelName)),
	)
}

// addEdges creates the main flow connections between nodes
func (b *GraphBuilder) addEdges() {
	edges := [][2]string{
		{compose.START, nodes.NodeContextBuilder},
		{nodes.NodeCannedReply, compose.END},
		{nodes.NodeSearchTool, nodes.NodeResponseChatModel},
	}

	for _, edge := range edges {
		b.graph.AddEdge(edge[0], edge[1])
	}
}

// addBranches creates conditional routing branches
func (b *GraphBuilder) addBranches() error {
	cannedBranch := compose.NewGraphBranch(
		nodes.NewCannedReplyCondition(),
		map[string]bool{
			nodes.NodeCannedReply:       true,
			nodes.NodeResponseChatModel: true,
		},
	)
	if err := b.graph.AddBranch(nodes.NodeContextBuilder, cannedBranch); err != nil {
		logx.Error().Err(err).Msg("Error adding canned reply branch")
		return fmt.Errorf("error adding canned reply branch: %w", err)
	}

	searchBranch := compose.NewGraphBranch(
		nodes.NewSearchToolCondition(),
		map[string]bool{
			nodes.NodeSearchTool: true,
			compose.END:          true,
		},
	)
	if err := b.graph.AddBranch(nodes.NodeResponseChatModel, searchBranch); err != nil {
		logx.Error().Err(err).Msg("Error adding search branch")
		return fmt.Errorf("error adding search branch: %w", err)
	}

	return nil
}

// compile finalizes and compiles the graph
func (b *GraphBuilder) compile(ctx context.Context) (compose.Runnable[model.TurnInput, *schema.Message], error) {
	// Limit total run steps to avoid loops in branching or tool retries
	maxSteps := 10 + nodes.DefaultMaxRetrievalRounds*2
	if maxSteps < 20 {
		maxSteps = 20
	}

	runnable, err := b.graph.Compile(ctx, compose.WithMaxRunSteps(maxSteps))
	if err != nil {
		logx.Error().Err(err).Msg("Error compiling graph")
		return nil, fmt.Errorf("error compiling graph: %w", err)
	}

	logx.Debug().Msg("Graph compiled successfully")
	return runnable, nil
}

// clampInt returns v limited to [min, max].
func clampInt(v, min, max int) int {
	if v < min {
		return min
	}
	if v > max {
		return max
	}
	return v
}
