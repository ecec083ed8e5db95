// Package retrieve implements HybridRetriever (§4.F): RRF over BM25 +
// vector search with filters, scope, time window, and a radius floor.
//
// Grounded on the teacher's internal/rag/retrieve/candidates.go
// (ParallelCandidates goroutine/channel fan-out with per-leg timing) —
// rewritten with golang.org/x/sync/errgroup and, per §7's tolerance rule,
// changed to survive a single leg's failure rather than failing the whole
// call when either leg errors.
package retrieve

import (
	"context"
	"time"

	"golang.org/x/sync/errgroup"

	"memoria/internal/config"
	"memoria/internal/merrors"
	"memoria/internal/model"
	"memoria/internal/ports"
	"memoria/internal/scope"
)

// Mode selects which sources HybridRetriever queries.
type Mode string

const (
	ModeRRF       Mode = "rrf"
	ModeEmbedding Mode = "embedding"
	ModeBM25      Mode = "bm25"
)

// Query is the HybridRetriever request (§4.F contract).
type Query struct {
	Text          string // may be empty when DataSource == profile
	Scope         scope.Scope
	UserID        string
	GroupID       string
	DataSource    model.MemoryType
	Mode          Mode
	TopK          int
	TimeRangeDays int
	CurrentTime   time.Time
	Radius        float64
}

// Hit is one ranked retrieval result.
type Hit struct {
	MemoryID  string
	Score     float64
	Modality  string // "bm25", "vector", or "both"
	CreatedAt time.Time
}

// Metadata surfaces degradation/diagnostics per §4.F step 5 / §7.
type Metadata struct {
	BM25Count       int
	VectorCount     int
	VectorFellBack  bool // event_log vector-unsupported fallback
	BM25Failed      bool
	VectorFailed    bool
	Partial         bool
	Latency         time.Duration
}

// Retriever is HybridRetriever.
type Retriever struct {
	cfg      config.RetrievalConfig
	text     ports.TextIndex
	vector   ports.VectorIndex
	embedder ports.Embedder
	docs     ports.DocStore
}

// New constructs a Retriever from its collaborator ports.
func New(cfg config.RetrievalConfig, text ports.TextIndex, vector ports.VectorIndex, embedder ports.Embedder, docs ports.DocStore) *Retriever {
	return &Retriever{cfg: cfg, text: text, vector: vector, embedder: embedder, docs: docs}
}

// Retrieve implements the §4.F algorithm.
func (r *Retriever) Retrieve(ctx context.Context, q Query) ([]Hit, Metadata, error) {
	start := time.Now()

	if q.DataSource == model.MemoryTypeProfile {
		// Profile retrieval bypasses text/vector search entirely.
		hits, err := r.retrieveProfile(ctx, q)
		return hits, Metadata{Latency: time.Since(start)}, err
	}

	resolved, err := scope.ResolveRetrieve(scope.Request{
		Scope: q.Scope, UserID: q.UserID, GroupID: q.GroupID, Type: q.DataSource,
		TimeRangeDays: q.TimeRangeDays, Now: q.CurrentTime,
	})
	if err != nil {
		return nil, Metadata{}, err
	}

	topK := q.TopK
	if topK <= 0 {
		topK = r.cfg.DefaultTopK
	}
	expandedK := int(float64(topK) * r.cfg.ExpandedKRatio)
	if expandedK < topK {
		expandedK = topK
	}

	radius := q.Radius
	if radius == 0 {
		radius = r.cfg.DefaultRadius
	}

	mode := q.Mode
	if mode == "" {
		mode = ModeRRF
	}

	wantBM25 := mode == ModeBM25 || mode == ModeRRF
	wantVector := mode == ModeEmbedding || mode == ModeRRF

	vectorSupported := r.vector != nil && r.vector.SupportsType(q.DataSource)
	fellBack := wantVector && !vectorSupported
	if fellBack {
		wantVector = false
		wantBM25 = true // event_log vector mode unsupported -> BM25 only
	}

	var bm25Hits []ports.TextHit
	var vecHits []ports.VectorHit
	var bm25Err, vecErr error

	g, gctx := errgroup.WithContext(ctx)

	if wantBM25 && r.text != nil {
		g.Go(func() error {
			hits, err := r.text.Query(gctx, ports.TextQuery{
				Query: q.Text, Type: q.DataSource, UserID: resolved.UserID, GroupID: resolved.GroupID,
				StartTime: resolved.StartTime, EndTime: resolved.EndTime, Limit: expandedK,
			})
			if err != nil {
				bm25Err = err
				return nil // tolerated; see post-join check
			}
			bm25Hits = hits
			return nil
		})
	}

	if wantVector && r.vector != nil && r.embedder != nil && q.Text != "" {
		g.Go(func() error {
			vecs, err := r.embedder.Embed(gctx, []string{q.Text})
			if err != nil || len(vecs) == 0 {
				vecErr = err
				return nil
			}
			hits, err := r.vector.Query(gctx, ports.VectorQuery{
				Embedding: vecs[0], Type: q.DataSource, UserID: resolved.UserID, GroupID: resolved.GroupID,
				StartTime: resolved.StartTime, EndTime: resolved.EndTime, Radius: radius, Limit: expandedK,
			})
			if err != nil {
				vecErr = err
				return nil
			}
			vecHits = hits
			return nil
		})
	}

	_ = g.Wait() // goroutines never return non-nil error; errors are captured above for tolerant handling

	meta := Metadata{
		BM25Count:      len(bm25Hits),
		VectorCount:    len(vecHits),
		VectorFellBack: fellBack,
		BM25Failed:     bm25Err != nil,
		VectorFailed:   vecErr != nil,
	}

	bothFailed := (wantBM25 && bm25Err != nil && len(bm25Hits) == 0) && (wantVector && vecErr != nil && len(vecHits) == 0)
	if wantBM25 && !wantVector && bm25Err != nil {
		bothFailed = true
	}
	if wantVector && !wantBM25 && vecErr != nil {
		bothFailed = true
	}
	if bothFailed {
		return nil, meta, merrors.Fatal("both retrieval modalities failed", bm25Err)
	}
	if bm25Err != nil || vecErr != nil {
		meta.Partial = true
	}

	createdAt, err := r.lookupCreatedAt(ctx, append(idsOf(bm25Hits), idsOfVec(vecHits)...))
	if err != nil {
		meta.Partial = true
	}

	lists := make([]RankedList, 0, 2)
	if len(bm25Hits) > 0 {
		l := RankedList{BM25Score: map[string]float64{}}
		for _, h := range bm25Hits {
			l.IDs = append(l.IDs, h.MemoryID)
			l.BM25Score[h.MemoryID] = h.Score
		}
		lists = append(lists, l)
	}
	if len(vecHits) > 0 {
		l := RankedList{}
		for _, h := range vecHits {
			l.IDs = append(l.IDs, h.MemoryID)
		}
		lists = append(lists, l)
	}

	fused := FuseRRF(lists, r.cfg.RRFConstant, createdAt)
	if len(fused) > topK {
		fused = fused[:topK]
	}

	modality := map[string]string{}
	for _, h := range bm25Hits {
		modality[h.MemoryID] = "bm25"
	}
	for _, h := range vecHits {
		if modality[h.MemoryID] == "bm25" {
			modality[h.MemoryID] = "both"
		} else {
			modality[h.MemoryID] = "vector"
		}
	}

	out := make([]Hit, 0, len(fused))
	for _, f := range fused {
		out = append(out, Hit{MemoryID: f.MemoryID, Score: f.Score, Modality: modality[f.MemoryID], CreatedAt: f.CreatedAt})
	}

	meta.Latency = time.Since(start)
	return out, meta, nil
}

func idsOf(hits []ports.TextHit) []string {
	out := make([]string, len(hits))
	for i, h := range hits {
		out[i] = h.MemoryID
	}
	return out
}

func idsOfVec(hits []ports.VectorHit) []string {
	out := make([]string, len(hits))
	for i, h := range hits {
		out[i] = h.MemoryID
	}
	return out
}

func (r *Retriever) lookupCreatedAt(ctx context.Context, ids []string) (map[string]time.Time, error) {
	out := make(map[string]time.Time, len(ids))
	if r.docs == nil {
		return out, nil
	}
	var firstErr error
	for _, id := range ids {
		if _, ok := out[id]; ok {
			continue
		}
		row, err := r.docs.Get(ctx, id)
		if err != nil {
			if firstErr == nil {
				firstErr = err
			}
			continue
		}
		out[id] = row.CreatedAt
	}
	return out, firstErr
}

func (r *Retriever) retrieveProfile(ctx context.Context, q Query) ([]Hit, error) {
	if r.docs == nil {
		return nil, merrors.Fatal("doc store not configured", nil)
	}
	resolved, err := scope.ResolveRetrieve(scope.Request{
		Scope: q.Scope, UserID: q.UserID, GroupID: q.GroupID, Type: model.MemoryTypeProfile,
		DisableTimeFilter: true,
	})
	if err != nil {
		return nil, err
	}
	rows, err := r.docs.Query(ctx, resolved.ToDocFilter())
	if err != nil {
		return nil, merrors.Transient("profile fetch failed", err)
	}
	out := make([]Hit, 0, len(rows))
	for _, row := range rows {
		out = append(out, Hit{MemoryID: row.MemoryID, Score: 1, Modality: "profile", CreatedAt: row.CreatedAt})
	}
	return out, nil
}
