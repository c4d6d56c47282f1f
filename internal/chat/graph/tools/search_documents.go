package tools

import (
	"context"
	"fmt"

	"github.com/cloudwego/eino/components/tool"
	"github.com/cloudwego/eino/components/tool/utils"
	"github.com/cloudwego/eino/compose"
	"github.com/cloudwego/eino/schema"

	"github.com/travelmate-poc/server/internal/chat/assemble"
	"github.com/travelmate-poc/server/internal/chat/model"
	"github.com/travelmate-poc/server/internal/chat/retriever"
	logx "github.com/travelmate-poc/server/pkg/logger"
)

// ToolSearchDocuments is the single capability exposed to the response
// model in the tool-gated shape.
const ToolSearchDocuments = "search_documents"

// NoResultsText is returned to the model when the search finds nothing,
// so it can acknowledge the gap instead of hallucinating sources.
const NoResultsText = "I couldn't find specific information for your query."

type SearchDocumentsInput struct {
	Query string `json:"query"`
	TopK  int    `json:"top_k,omitempty"`
}

type SearchDocumentsOutput struct {
	Context    string   `json:"context"`
	PassageIDs []string `json:"passage_ids,omitempty"`
	Total      int      `json:"total"`
}

// NewSearchDocumentsTool builds the document-search tool. Search is
// best-effort: a failing backend yields the no-results text, never an
// error that would abort the turn. Every execution records retrieval
// provenance into the graph state and the turn trace.
func NewSearchDocumentsTool(r *retriever.Retriever, asm *assemble.Assembler, defaultTopK int) tool.BaseTool {
	return utils.NewTool(
		&schema.ToolInfo{
			Name: ToolSearchDocuments,
			Desc: "Search for relevant travel documents in the knowledge base. Returns excerpts with document titles and sources. Use this whenever the user asks for factual travel information.",
			ParamsOneOf: schema.NewParamsOneOfByParams(map[string]*schema.ParameterInfo{
				"query": {
					Type:     "string",
					Desc:     "Search keywords describing the travel information needed. Examples: Paris attractions, budget travel Europe, family travel advice.",
					Required: true,
				},
				"top_k": {
					Type: "number",
					Desc: "Maximum number of documents to return (default: 5, max: 20)",
				},
			}),
		},
		func(ctx context.Context, in *SearchDocumentsInput) (*SearchDocumentsOutput, error) {
			if in.Query == "" {
				return nil, fmt.Errorf("query is required")
			}
			topK := in.TopK
			if topK == 0 {
				topK = defaultTopK
			}

			passages := r.Search(ctx, in.Query, topK)
			block := asm.Assemble(passages)

			recordRetrieval(ctx, block)

			out := &SearchDocumentsOutput{
				Context:    block.Text,
				PassageIDs: block.IncludedPassageIDs,
				Total:      len(block.IncludedPassageIDs),
			}
			if out.Context == "" {
				out.Context = NoResultsText
			}
			return out, nil
		},
	)
}

func recordRetrieval(ctx context.Context, block model.ContextBlock) {
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

// GetQueryTools lists the tools bound to the response model.
func GetQueryTools(r *retriever.Retriever, asm *assemble.Assembler, defaultTopK int) []tool.BaseTool {
	return []tool.BaseTool{
		NewSearchDocumentsTool(r, asm, defaultTopK),
	}
}

// GetToolInfos resolves the ToolInfo descriptors for binding.
func GetToolInfos(ctx context.Context, tools []tool.BaseTool) ([]*schema.ToolInfo, error) {
	infos := make([]*schema.ToolInfo, 0, len(tools))
	for _, t := range tools {
		info, err := t.Info(ctx)
		if err != nil {
			return nil, fmt.Errorf("resolve tool info: %w", err)
		}
		infos = append(infos, info)
	}
	return infos, nil
}
