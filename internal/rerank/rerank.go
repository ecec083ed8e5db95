// Package rerank implements the Reranker stage (§4.G): batch-concurrent
// rerank with bounded concurrency, exponential backoff with jitter on
// retry, and per-batch fallback to pre-rerank order on failure.
//
// Grounded on the teacher's internal/rag/retrieve/rerank.go (Reranker
// interface, NoopReranker) and internal/llm/embeddings.go's bounded-
// concurrency semaphore pattern, reused here for batch concurrency control.
package rerank

import (
	"context"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v5"

	"memoria/internal/config"
	"memoria/internal/observability"
	"memoria/internal/ports"
)

// Item is one candidate passed through the reranker, identified by id with
// the text used for scoring.
type Item struct {
	MemoryID string
	Text     string
}

// Stage is the Reranker component wrapping a ports.Reranker provider.
type Stage struct {
	cfg      config.RerankConfig
	provider ports.Reranker
}

func New(cfg config.RerankConfig, provider ports.Reranker) *Stage {
	return &Stage{cfg: cfg, provider: provider}
}

// Rerank reorders items for query, in batches of cfg.BatchSize processed
// with bounded concurrency (cfg.MaxConcurrency). A batch whose calls
// exhaust cfg.MaxAttempts falls back to its pre-rerank order.
func (s *Stage) Rerank(ctx context.Context, query string, items []Item) []Item {
	if s.provider == nil || len(items) == 0 {
		return items
	}
	batchSize := s.cfg.BatchSize
	if batchSize <= 0 {
		batchSize = 32
	}

	var batches [][]Item
	for i := 0; i < len(items); i += batchSize {
		end := i + batchSize
		if end > len(items) {
			end = len(items)
		}
		batches = append(batches, items[i:end])
	}

	results := make([][]Item, len(batches))
	sem := make(chan struct{}, maxInt(s.cfg.MaxConcurrency, 1))
	var wg sync.WaitGroup
	for bi, batch := range batches {
		bi, batch := bi, batch
		wg.Add(1)
		sem <- struct{}{}
		go func() {
			defer wg.Done()
			defer func() { <-sem }()
			results[bi] = s.rerankBatch(ctx, query, batch)
		}()
	}
	wg.Wait()

	out := make([]Item, 0, len(items))
	for _, r := range results {
		out = append(out, r...)
	}
	return out
}

func (s *Stage) rerankBatch(ctx context.Context, query string, batch []Item) []Item {
	maxAttempts := s.cfg.MaxAttempts
	if maxAttempts <= 0 {
		maxAttempts = 3
	}
	base := s.cfg.BaseBackoff
	if base <= 0 {
		base = 200 * time.Millisecond
	}

	texts := make([]string, len(batch))
	for i, it := range batch {
		texts[i] = it.Text
	}

	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = base
	log := observability.FromContext(ctx)

	order, err := backoff.Retry(ctx, func() ([]int, error) {
		order, _, err := s.provider.Rerank(ctx, query, texts)
		if err != nil {
			log.Warn().Err(err).Msg("rerank batch attempt failed; retrying")
			return nil, err
		}
		return order, nil
	}, backoff.WithBackOff(bo), backoff.WithMaxTries(uint(maxAttempts)))

	if err != nil || len(order) != len(batch) {
		// Exhausted attempts (or provider returned a malformed
		// permutation): fall back to pre-rerank order for this batch.
		return batch
	}

	out := make([]Item, len(batch))
	for i, idx := range order {
		if idx < 0 || idx >= len(batch) {
			return batch
		}
		out[i] = batch[idx]
	}
	return out
}

func maxInt(a, b int) int {
	if a > b {
		return a
	}
	return b
}
