// Package anthropic adapts github.com/anthropics/anthropic-sdk-go to
// memoria's LLM collaborator port. Grounded on the teacher's
// internal/llm/provider.go Provider.Chat shape; the teacher's own root-level
// anthropic.go is not reused verbatim (it belongs to the removed legacy
// layer) but the client construction idiom (API key option) is the same.
package anthropic

import (
	"context"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"

	"memoria/internal/merrors"
	"memoria/internal/model"
	"memoria/internal/ports"
)

// Client adapts an Anthropic Messages client to ports.LLM. It does not
// implement ports.Embedder — Anthropic has no embeddings endpoint, so
// Embedder calls should be routed to a different provider (openai/google)
// in the wiring layer.
type Client struct {
	api   anthropic.Client
	model anthropic.Model
}

// New constructs a Client. chatModel selects the Claude model; empty
// defaults to a capable, fast model suitable for judge/extraction calls.
func New(apiKey string, chatModel anthropic.Model) *Client {
	if chatModel == "" {
		chatModel = anthropic.ModelClaude3_5HaikuLatest
	}
	return &Client{
		api:   anthropic.NewClient(option.WithAPIKey(apiKey)),
		model: chatModel,
	}
}

func (c *Client) Chat(ctx context.Context, req ports.ChatRequest) (ports.ChatResponse, error) {
	msgs := make([]anthropic.MessageParam, 0, len(req.Messages))
	for _, m := range req.Messages {
		if m.Role == model.RoleAssistant {
			msgs = append(msgs, anthropic.NewAssistantMessage(anthropic.NewTextBlock(m.Content)))
		} else {
			msgs = append(msgs, anthropic.NewUserMessage(anthropic.NewTextBlock(m.Content)))
		}
	}

	maxTokens := int64(req.MaxTokens)
	if maxTokens <= 0 {
		maxTokens = 1024
	}

	resp, err := c.api.Messages.New(ctx, anthropic.MessageNewParams{
		Model:     c.model,
		MaxTokens: maxTokens,
		Messages:  msgs,
	})
	if err != nil {
		return ports.ChatResponse{}, merrors.Transient("anthropic chat call failed", err)
	}
	if len(resp.Content) == 0 {
		return ports.ChatResponse{}, merrors.Transient("anthropic chat returned no content blocks", nil)
	}

	var text string
	for _, block := range resp.Content {
		if block.Type == "text" {
			text += block.Text
		}
	}
	return ports.ChatResponse{Content: text}, nil
}
