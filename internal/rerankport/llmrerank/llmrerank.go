// Package llmrerank adapts an ports.LLM chat provider into ports.Reranker,
// since this corpus carries no dedicated cross-encoder/rerank API client —
// only LLM chat clients (openai, anthropic). The teacher's own
// internal/rag/retrieve/rerank.go ships just a NoopReranker; this plays the
// same "optional reorder" role but backed by a strict-JSON listwise LLM
// judgment, in the same request-a-JSON-array idiom internal/extract uses.
package llmrerank

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"memoria/internal/model"
	"memoria/internal/ports"
)

// Reranker scores and reorders documents via one LLM chat call asking for a
// strict-JSON ranking.
type Reranker struct {
	llm ports.LLM
}

// New wraps llm as a ports.Reranker.
func New(llm ports.LLM) *Reranker {
	return &Reranker{llm: llm}
}

type rankingOutput struct {
	Order  []int     `json:"order"`
	Scores []float32 `json:"scores"`
}

// Rerank asks the LLM to rank docs by relevance to query, returning a
// permutation of [0, len(docs)) most-relevant-first. On any malformed or
// partial response it returns an error, letting the caller (rerank.Stage)
// fall back to the pre-rerank order for that batch.
func (r *Reranker) Rerank(ctx context.Context, query string, docs []string) ([]int, []float32, error) {
	if len(docs) == 0 {
		return nil, nil, nil
	}

	var b strings.Builder
	fmt.Fprintf(&b, "Query: %s\n\nCandidates:\n", query)
	for i, d := range docs {
		fmt.Fprintf(&b, "[%d] %s\n", i, truncate(d, 500))
	}
	b.WriteString("\nReturn strict JSON {\"order\":[...],\"scores\":[...]} where order is the candidate indices sorted most-to-least relevant and scores are relevance scores in [0,1] in that same order. Include every index exactly once.")

	resp, err := r.llm.Chat(ctx, ports.ChatRequest{
		Messages: []ports.ChatMessage{
			{Role: model.RoleAssistant, Content: "You are a precise relevance-ranking assistant. Respond with JSON only."},
			{Role: model.RoleUser, Content: b.String()},
		},
		JSONSchema:  "strict",
		Temperature: 0,
	})
	if err != nil {
		return nil, nil, fmt.Errorf("llmrerank: chat: %w", err)
	}

	var out rankingOutput
	if err := json.Unmarshal([]byte(resp.Content), &out); err != nil {
		return nil, nil, fmt.Errorf("llmrerank: decode response: %w", err)
	}
	if len(out.Order) != len(docs) {
		return nil, nil, fmt.Errorf("llmrerank: expected %d ranked indices, got %d", len(docs), len(out.Order))
	}
	seen := make(map[int]bool, len(out.Order))
	for _, idx := range out.Order {
		if idx < 0 || idx >= len(docs) || seen[idx] {
			return nil, nil, fmt.Errorf("llmrerank: malformed permutation")
		}
		seen[idx] = true
	}
	return out.Order, out.Scores, nil
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
