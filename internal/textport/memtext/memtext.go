// Package memtext is an in-memory TextIndex adapter implementing a simple
// term-overlap BM25-ish score, used for tests and local development; the
// postgres adapter provides the production ts_rank_cd-backed ranking.
package memtext

import (
	"context"
	"sort"
	"strings"
	"sync"

	"memoria/internal/ports"
)

type doc struct {
	terms  map[string]int
	filter ports.DocFilter
}

// Index is a mutex-guarded in-memory TextIndex.
type Index struct {
	mu   sync.Mutex
	docs map[string]doc
}

func New() *Index { return &Index{docs: make(map[string]doc)} }

func tokenize(s string) map[string]int {
	out := make(map[string]int)
	for _, tok := range strings.Fields(strings.ToLower(s)) {
		tok = strings.Trim(tok, ".,!?;:\"'()[]{}")
		if tok == "" {
			continue
		}
		out[tok]++
	}
	return out
}

func (ix *Index) Upsert(ctx context.Context, memoryID string, text string, filter ports.DocFilter) error {
	ix.mu.Lock()
	defer ix.mu.Unlock()
	ix.docs[memoryID] = doc{terms: tokenize(text), filter: filter}
	return nil
}

func (ix *Index) Delete(ctx context.Context, memoryID string) error {
	ix.mu.Lock()
	defer ix.mu.Unlock()
	delete(ix.docs, memoryID)
	return nil
}

// Query scores by summed term-frequency overlap between q.Query and each
// doc's tokenized text — a stand-in lexical ranking, not a literal BM25
// implementation; good enough to exercise fusion/rerank/scope logic in tests.
func (ix *Index) Query(ctx context.Context, q ports.TextQuery) ([]ports.TextHit, error) {
	ix.mu.Lock()
	defer ix.mu.Unlock()

	qterms := tokenize(q.Query)
	var hits []ports.TextHit
	for id, d := range ix.docs {
		if q.Type != "" && d.filter.Type != q.Type {
			continue
		}
		if q.UserID != "" && d.filter.UserID != q.UserID {
			continue
		}
		if q.GroupID != "" && d.filter.GroupID != q.GroupID {
			continue
		}
		if !q.StartTime.IsZero() && d.filter.CreatedAt.Before(q.StartTime) {
			continue
		}
		if !q.EndTime.IsZero() && d.filter.CreatedAt.After(q.EndTime) {
			continue
		}
		var score float64
		for term, qf := range qterms {
			if df, ok := d.terms[term]; ok {
				score += float64(qf * df)
			}
		}
		if score <= 0 {
			continue
		}
		hits = append(hits, ports.TextHit{MemoryID: id, Score: score})
	}
	sort.Slice(hits, func(i, j int) bool { return hits[i].Score > hits[j].Score })
	if q.Limit > 0 && len(hits) > q.Limit {
		hits = hits[:q.Limit]
	}
	return hits, nil
}
