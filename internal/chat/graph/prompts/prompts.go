package prompts

import (
	"context"
	_ "embed"
	"fmt"

	"github.com/cloudwego/eino/components/prompt"
	"github.com/cloudwego/eino/schema"

	"github.com/travelmate-poc/server/internal/chat/model"
)

//go:embed template/system_prompt.txt
var systemPrompt string

// SystemVars feeds the response system prompt template.
type SystemVars struct {
	ContextBlock string
	ToolGated    bool
	SearchTool   string
}

// RenderSystem renders the response system prompt via the Eino prompt
// component (which also emits prompt callbacks). The conversation window
// is never folded into this instruction; it travels as structured
// messages so the model keeps role distinction.
func RenderSystem(ctx context.Context, cfg model.ResponsePromptConfig, vars SystemVars) (string, error) {
	tpl := prompt.FromMessages(
		schema.GoTemplate,
		schema.SystemMessage(systemPrompt),
	)
	msgs, err := tpl.Format(ctx, map[string]any{
		"AssistantName": cfg.AssistantName,
		"Specialty":     cfg.Specialty,
		"ContextBlock":  vars.ContextBlock,
		"ToolGated":     vars.ToolGated,
		"SearchTool":    vars.SearchTool,
	})
	if err != nil {
		return "", fmt.Errorf("response prompt render: %w", err)
	}
	if len(msgs) == 0 || msgs[0] == nil {
		return "", fmt.Errorf("response prompt render: empty result")
	}
	return msgs[0].Content, nil
}

// Greeting is the canned small-talk reply; the cheapest path skips the
// model entirely.
func Greeting(cfg model.ResponsePromptConfig) string {
	return fmt.Sprintf(
		"Hello! I'm your %s specializing in %s. How can I help you plan your next adventure?",
		cfg.AssistantName, cfg.Specialty,
	)
}

// NoResults is the canned reply when the always-retrieve shape finds
// nothing relevant enough to answer from.
func NoResults(cfg model.ResponsePromptConfig, query string) string {
	return fmt.Sprintf(
		"I'd love to help you with %q! I couldn't find specific information about that topic in my "+
			"current travel guides, but I do have great information about %s. Could you try asking "+
			"about one of those areas?",
		query, cfg.Specialty,
	)
}

// Fallback is the fixed apologetic reply persisted and returned when
// generation fails even after the bounded retry.
const Fallback = "I'm sorry - I'm having trouble generating a response right now. Please try asking again in a moment."
