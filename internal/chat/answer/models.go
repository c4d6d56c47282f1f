package answer

import (
	"context"
	"fmt"

	"github.com/cloudwego/eino-ext/components/model/gemini"
	"github.com/cloudwego/eino/schema"
	"google.golang.org/genai"

	"github.com/travelmate-poc/server/internal/chat/model"
	logx "github.com/travelmate-poc/server/pkg/logger"
)

// ClientConfig holds the provider credentials for model creation.
type ClientConfig struct {
	APIKey  string
	BaseURL string
}

// NewClient creates the shared Gemini client used by both the chat
// model and the embeddings retriever.
func NewClient(ctx context.Context, cfg ClientConfig) (*genai.Client, error) {
	clientCfg := &genai.ClientConfig{
		APIKey:  cfg.APIKey,
		Backend: genai.BackendGeminiAPI,
	}
	if cfg.BaseURL != "" {
		clientCfg.HTTPOptions.BaseURL = cfg.BaseURL
	}

	client, err := genai.NewClient(ctx, clientCfg)
	if err != nil {
		logx.Error().Err(err).Msg("Error creating Gemini client")
		return nil, fmt.Errorf("error creating Gemini client: %w", err)
	}
	return client, nil
}

// ChatModel wraps the response chat model together with its name for
// pricing lookups.
type ChatModel struct {
	Response  *gemini.ChatModel
	ModelName string
}

// NewChatModel creates the response chat model with the given configuration.
func NewChatModel(ctx context.Context, client *genai.Client, cfg *model.ResponseModelConfig) (*ChatModel, error) {
	if client == nil {
		return nil, fmt.Errorf("genai client is nil")
	}
	if cfg == nil {
		return nil, fmt.Errorf("response model config is nil")
	}

	chatModel, err := gemini.NewChatModel(ctx, &gemini.Config{
		Client:      client,
		Model:       cfg.Model,
		Temperature: &cfg.Temperature,
		MaxTokens:   &cfg.MaxTokens,
		ThinkingConfig: &genai.ThinkingConfig{
			IncludeThoughts: true,
			ThinkingBudget:  genai.Ptr(int32(2000)),
		},
	})
	if err != nil {
		logx.Error().Err(err).Msg("Error creating response model")
		return nil, fmt.Errorf("error creating response model: %w", err)
	}

	return &ChatModel{Response: chatModel, ModelName: cfg.Model}, nil
}

// BindSearchTool binds the document-search tool descriptors to the
// response model for the tool-gated retrieval shape.
func (cm *ChatModel) BindSearchTool(tools []*schema.ToolInfo) error {
	if err := cm.Response.BindTools(tools); err != nil {
		logx.Error().Err(err).Msg("Failed to bind tools")
		return fmt.Errorf("failed to bind tools: %w", err)
	}
	logx.Debug().Msg("Successfully bound search tool to response model")
	return nil
}
