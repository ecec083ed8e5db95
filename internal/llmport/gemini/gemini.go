// Package gemini adapts google.golang.org/genai to memoria's LLM and
// Embedder collaborator ports. Grounded on the teacher's
// internal/llm/google/client.go (Chat shape, genai.Client construction) and
// cross-checked against the pack's pkg/ai/providers/aigemini/gemini.go for
// the EmbedContent call shape the teacher's own Google client never needed.
package gemini

import (
	"context"
	"net/http"

	genai "google.golang.org/genai"

	"memoria/internal/merrors"
	"memoria/internal/model"
	"memoria/internal/ports"
)

// Client adapts a genai.Client to ports.LLM and ports.Embedder.
type Client struct {
	api        *genai.Client
	chatModel  string
	embedModel string
}

// New constructs a Client. httpClient may be nil (genai falls back to
// http.DefaultClient); memoriad wires observability.NewHTTPClient here so
// Gemini calls carry the same otelhttp instrumentation as the rest of the
// outbound LLM traffic.
func New(ctx context.Context, apiKey, chatModel, embedModel string, httpClient *http.Client) (*Client, error) {
	if chatModel == "" {
		chatModel = "gemini-1.5-flash"
	}
	if embedModel == "" {
		embedModel = "text-embedding-004"
	}
	api, err := genai.NewClient(ctx, &genai.ClientConfig{
		APIKey:     apiKey,
		HTTPClient: httpClient,
	})
	if err != nil {
		return nil, merrors.Fatal("gemini: client init failed", err)
	}
	return &Client{api: api, chatModel: chatModel, embedModel: embedModel}, nil
}

func toGeminiRole(r model.Role) string {
	if r == model.RoleAssistant {
		return genai.RoleModel
	}
	return genai.RoleUser
}

// Chat implements ports.LLM.
func (c *Client) Chat(ctx context.Context, req ports.ChatRequest) (ports.ChatResponse, error) {
	contents := make([]*genai.Content, 0, len(req.Messages))
	for _, m := range req.Messages {
		contents = append(contents, &genai.Content{
			Role:  toGeminiRole(m.Role),
			Parts: []*genai.Part{genai.NewPartFromText(m.Content)},
		})
	}

	cfg := &genai.GenerateContentConfig{}
	if req.MaxTokens > 0 {
		cfg.MaxOutputTokens = int32(req.MaxTokens)
	}
	if req.Temperature > 0 {
		t := float32(req.Temperature)
		cfg.Temperature = &t
	}
	if req.JSONSchema != "" {
		cfg.ResponseMIMEType = "application/json"
	}

	resp, err := c.api.Models.GenerateContent(ctx, c.chatModel, contents, cfg)
	if err != nil {
		return ports.ChatResponse{}, merrors.Transient("gemini chat call failed", err)
	}
	if len(resp.Candidates) == 0 || resp.Candidates[0].Content == nil {
		return ports.ChatResponse{}, merrors.Transient("gemini chat returned no candidates", nil)
	}

	var text string
	for _, part := range resp.Candidates[0].Content.Parts {
		text += part.Text
	}
	return ports.ChatResponse{Content: text}, nil
}

// Embed implements ports.Embedder via a single batched EmbedContent call,
// mirroring the teacher's one-content-per-text layout (see client.go's
// toContents) but against the embeddings endpoint rather than GenerateContent.
func (c *Client) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	contents := make([]*genai.Content, 0, len(texts))
	for _, text := range texts {
		contents = append(contents, &genai.Content{Parts: []*genai.Part{genai.NewPartFromText(text)}})
	}

	resp, err := c.api.Models.EmbedContent(ctx, c.embedModel, contents, &genai.EmbedContentConfig{})
	if err != nil {
		return nil, merrors.Transient("gemini embed call failed", err)
	}
	if len(resp.Embeddings) != len(texts) {
		return nil, merrors.Transient("gemini embed returned a mismatched embedding count", nil)
	}

	out := make([][]float32, len(texts))
	for i, emb := range resp.Embeddings {
		out[i] = emb.Values
	}
	return out, nil
}
