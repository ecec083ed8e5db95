// Package ports defines the collaborator interfaces memoria's core depends
// on. Concrete providers (openai, anthropic, qdrant, postgres, redis,
// kafka, ...) live in sibling adapter packages and are wired only at the
// process-construction boundary (cmd/memoriad, internal/service).
package ports

import (
	"context"
	"time"

	"memoria/internal/model"
)

// ChatMessage is a single turn in an LLM chat call.
type ChatMessage struct {
	Role    model.Role
	Content string
}

// ChatRequest is a structured-output-capable chat call: when JSONSchema is
// non-empty the openai and gemini adapters request JSON-formatted output and
// the anthropic adapter ignores it; no adapter validates the reply against
// the schema.
type ChatRequest struct {
	Messages   []ChatMessage
	JSONSchema string
	MaxTokens  int
	Temperature float64
}

// ChatResponse is the LLM's reply.
type ChatResponse struct {
	Content string
}

// LLM is the chat-completion collaborator port.
type LLM interface {
	Chat(ctx context.Context, req ChatRequest) (ChatResponse, error)
}

// Embedder turns text into dense vectors.
type Embedder interface {
	Embed(ctx context.Context, texts []string) ([][]float32, error)
}

// Reranker reorders a candidate list for a query, returning the permutation
// (indices into the original docs slice, best first) and parallel scores.
type Reranker interface {
	Rerank(ctx context.Context, query string, docs []string) (order []int, scores []float32, err error)
}

// DocRow is the canonical persisted representation of a memory record,
// opaque to the store beyond its key fields and JSON-able Fields payload.
type DocRow struct {
	MemoryID  string
	Type      model.MemoryType
	UserID    string
	GroupID   string
	CreatedAt time.Time
	Deleted   bool
	Version   int
	IndexPending bool
	Fields    map[string]interface{} // full record, decoded per Type by callers
}

// DocFilter selects rows for Query/SoftDelete. Empty string / zero time means
// "unconstrained" on that dimension; callers resolve __all__ sentinels
// before reaching this port (see internal/scope).
type DocFilter struct {
	UserID    string
	GroupID   string
	Type      model.MemoryType
	Types     []model.MemoryType
	// CreatedAt is set when DocFilter is used to describe a single doc's
	// filter fields (e.g. passed to TextIndex.Upsert/VectorIndex.Upsert);
	// StartTime/EndTime are used when DocFilter instead describes a query
	// range (e.g. passed to DocStore.Query).
	CreatedAt time.Time
	StartTime time.Time
	EndTime   time.Time
	SortBy    string
	SortOrder string // "asc" | "desc"
	Limit     int
	Offset    int
}

// DocStore is the canonical-row collaborator port.
type DocStore interface {
	Put(ctx context.Context, row DocRow) error
	Get(ctx context.Context, memoryID string) (DocRow, error)
	Query(ctx context.Context, filter DocFilter) ([]DocRow, error)
	Patch(ctx context.Context, memoryID string, fields map[string]interface{}, expectVersion int) error
	SoftDelete(ctx context.Context, filter DocFilter) (int, error)
	MarkIndexPending(ctx context.Context, memoryID string, pending bool) error
}

// TextHit is one lexical search result.
type TextHit struct {
	MemoryID string
	Score    float64
}

// TextQuery is a BM25-style lexical query against one memory-type collection.
type TextQuery struct {
	Query     string
	Type      model.MemoryType
	UserID    string
	GroupID   string
	StartTime time.Time
	EndTime   time.Time
	Limit     int
}

// TextIndex is the lexical search collaborator port.
type TextIndex interface {
	Upsert(ctx context.Context, memoryID string, text string, filter DocFilter) error
	Query(ctx context.Context, q TextQuery) ([]TextHit, error)
	Delete(ctx context.Context, memoryID string) error
}

// VectorHit is one dense-vector search result.
type VectorHit struct {
	MemoryID string
	Cosine   float64
}

// VectorQuery is a vector similarity query with a cosine radius floor.
type VectorQuery struct {
	Embedding []float32
	Type      model.MemoryType
	UserID    string
	GroupID   string
	StartTime time.Time
	EndTime   time.Time
	Radius    float64
	Limit     int
}

// VectorIndex is the dense-vector search collaborator port.
type VectorIndex interface {
	Upsert(ctx context.Context, memoryID string, embedding []float32, filter DocFilter) error
	Query(ctx context.Context, q VectorQuery) ([]VectorHit, error)
	Delete(ctx context.Context, memoryID string) error
	// SupportsType reports whether this collection is embeddable (event_log
	// is explicitly L2/unsupported per the retrieval contract).
	SupportsType(t model.MemoryType) bool
}

// Cache is the process-wide generation cache + invalidation + keyed-lock
// port. MemoryStore uses its AcquireLock for per-memory_id write
// serialization; ProfileBuilder and HybridRetriever do not read through it.
type Cache interface {
	Get(ctx context.Context, key string) (string, bool, error)
	Set(ctx context.Context, key string, value string, ttl time.Duration) error
	Invalidate(ctx context.Context, key string) error
	// AcquireLock attempts a SetNX-style keyed lock, returning a release
	// func. ok=false means the lock is already held.
	AcquireLock(ctx context.Context, key string, ttl time.Duration) (release func(context.Context), ok bool, err error)
}

// ExtractQueue is the bounded async handoff from episode-closure to the
// extraction worker pool (§5 backpressure).
type ExtractQueue interface {
	Enqueue(ctx context.Context, episode model.Episode) (accepted bool, err error)
	Consume(ctx context.Context) (<-chan model.Episode, error)
	Close() error
}
