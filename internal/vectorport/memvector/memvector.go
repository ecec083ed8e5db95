// Package memvector is an in-memory VectorIndex adapter using brute-force
// cosine similarity, used for tests and local development; the qdrant
// adapter provides the production implementation.
package memvector

import (
	"context"
	"math"
	"sort"
	"sync"

	"memoria/internal/model"
	"memoria/internal/ports"
)

type entry struct {
	embedding []float32
	filter    ports.DocFilter
}

// Index is a mutex-guarded in-memory VectorIndex. event_log is marked
// unsupported (L2 space, per the retrieval contract's vector-mode fallback).
type Index struct {
	mu      sync.Mutex
	vectors map[string]entry
}

func New() *Index { return &Index{vectors: make(map[string]entry)} }

func (ix *Index) SupportsType(t model.MemoryType) bool {
	return t != model.MemoryTypeEventLog
}

func (ix *Index) Upsert(ctx context.Context, memoryID string, embedding []float32, filter ports.DocFilter) error {
	ix.mu.Lock()
	defer ix.mu.Unlock()
	ix.vectors[memoryID] = entry{embedding: embedding, filter: filter}
	return nil
}

func (ix *Index) Delete(ctx context.Context, memoryID string) error {
	ix.mu.Lock()
	defer ix.mu.Unlock()
	delete(ix.vectors, memoryID)
	return nil
}

func cosine(a, b []float32) float64 {
	if len(a) == 0 || len(b) == 0 || len(a) != len(b) {
		return -1
	}
	var dot, na, nb float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		na += float64(a[i]) * float64(a[i])
		nb += float64(b[i]) * float64(b[i])
	}
	if na == 0 || nb == 0 {
		return -1
	}
	return dot / (math.Sqrt(na) * math.Sqrt(nb))
}

func (ix *Index) Query(ctx context.Context, q ports.VectorQuery) ([]ports.VectorHit, error) {
	if !ix.SupportsType(q.Type) {
		return nil, nil
	}
	ix.mu.Lock()
	defer ix.mu.Unlock()

	var hits []ports.VectorHit
	for id, e := range ix.vectors {
		if q.Type != "" && e.filter.Type != q.Type {
			continue
		}
		if q.UserID != "" && e.filter.UserID != q.UserID {
			continue
		}
		if q.GroupID != "" && e.filter.GroupID != q.GroupID {
			continue
		}
		if !q.StartTime.IsZero() && e.filter.CreatedAt.Before(q.StartTime) {
			continue
		}
		if !q.EndTime.IsZero() && e.filter.CreatedAt.After(q.EndTime) {
			continue
		}
		c := cosine(q.Embedding, e.embedding)
		if c < q.Radius {
			continue
		}
		hits = append(hits, ports.VectorHit{MemoryID: id, Cosine: c})
	}
	sort.Slice(hits, func(i, j int) bool { return hits[i].Cosine > hits[j].Cosine })
	if q.Limit > 0 && len(hits) > q.Limit {
		hits = hits[:q.Limit]
	}
	return hits, nil
}
