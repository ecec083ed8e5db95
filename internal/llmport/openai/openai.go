// Package openai adapts github.com/openai/openai-go/v2 to memoria's LLM and
// Embedder collaborator ports. Grounded on the teacher's internal/llm
// provider.go (Chat shape) and embeddings.go (bounded-concurrency embed
// batching).
package openai

import (
	"context"
	"sync"

	"github.com/openai/openai-go/v2"
	"github.com/openai/openai-go/v2/option"

	"memoria/internal/merrors"
	"memoria/internal/model"
	"memoria/internal/ports"
)

// Client adapts an OpenAI chat+embeddings client to memoria's ports.
type Client struct {
	api             openai.Client
	chatModel       string
	embedModel      string
	embedConcurrency int
}

// New constructs a Client. apiKey/baseURL follow openai-go's option pattern.
func New(apiKey, baseURL, chatModel, embedModel string) *Client {
	opts := []option.RequestOption{option.WithAPIKey(apiKey)}
	if baseURL != "" {
		opts = append(opts, option.WithBaseURL(baseURL))
	}
	if chatModel == "" {
		chatModel = "gpt-4o-mini"
	}
	if embedModel == "" {
		embedModel = "text-embedding-3-small"
	}
	return &Client{
		api:              openai.NewClient(opts...),
		chatModel:        chatModel,
		embedModel:       embedModel,
		embedConcurrency: 8,
	}
}

func toOpenAIRole(r model.Role) string {
	if r == model.RoleAssistant {
		return "assistant"
	}
	return "user"
}

// Chat implements ports.LLM.
func (c *Client) Chat(ctx context.Context, req ports.ChatRequest) (ports.ChatResponse, error) {
	msgs := make([]openai.ChatCompletionMessageParamUnion, 0, len(req.Messages))
	for _, m := range req.Messages {
		switch toOpenAIRole(m.Role) {
		case "assistant":
			msgs = append(msgs, openai.AssistantMessage(m.Content))
		default:
			msgs = append(msgs, openai.UserMessage(m.Content))
		}
	}

	params := openai.ChatCompletionNewParams{
		Model:    c.chatModel,
		Messages: msgs,
	}
	if req.MaxTokens > 0 {
		params.MaxTokens = openai.Int(int64(req.MaxTokens))
	}
	if req.Temperature > 0 {
		params.Temperature = openai.Float(req.Temperature)
	}
	if req.JSONSchema != "" {
		params.ResponseFormat = openai.ChatCompletionNewParamsResponseFormatUnion{
			OfJSONObject: &openai.ResponseFormatJSONObjectParam{},
		}
	}

	resp, err := c.api.Chat.Completions.New(ctx, params)
	if err != nil {
		return ports.ChatResponse{}, merrors.Transient("openai chat call failed", err)
	}
	if len(resp.Choices) == 0 {
		return ports.ChatResponse{}, merrors.Transient("openai chat returned no choices", nil)
	}
	return ports.ChatResponse{Content: resp.Choices[0].Message.Content}, nil
}

// Embed implements ports.Embedder with bounded-concurrency batching,
// mirroring the teacher's GenerateEmbeddings semaphore pattern.
func (c *Client) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	out := make([][]float32, len(texts))
	sem := make(chan struct{}, c.embedConcurrency)
	var wg sync.WaitGroup
	var mu sync.Mutex
	var firstErr error

	for i, text := range texts {
		i, text := i, text
		wg.Add(1)
		sem <- struct{}{}
		go func() {
			defer wg.Done()
			defer func() { <-sem }()

			resp, err := c.api.Embeddings.New(ctx, openai.EmbeddingNewParams{
				Model: c.embedModel,
				Input: openai.EmbeddingNewParamsInputUnion{OfString: openai.String(text)},
			})
			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				if firstErr == nil {
					firstErr = merrors.Transient("openai embed call failed", err)
				}
				out[i] = make([]float32, 0)
				return
			}
			if len(resp.Data) == 0 {
				out[i] = make([]float32, 0)
				return
			}
			vec := make([]float32, len(resp.Data[0].Embedding))
			for j, f := range resp.Data[0].Embedding {
				vec[j] = float32(f)
			}
			out[i] = vec
		}()
	}
	wg.Wait()
	if firstErr != nil {
		return out, firstErr
	}
	return out, nil
}
