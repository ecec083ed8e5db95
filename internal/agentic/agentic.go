// Package agentic implements AgenticRetriever (§4.H): a bounded,
// judge-gated multi-round retrieval loop — round 1 hybrid+rerank, an LLM
// sufficiency judge, and up to one further round of parallel refined-query
// retrieval merged back in via RRF.
//
// Grounded on other_examples/16881bd2_..._remem_loop.go.go's
// RETRIEVE→THINK→ACT→REFLECT→EVOLVE controller: the phase-gated loop
// structure and "non-fatal, continue without augmentation" tolerance for a
// failed retrieval/judge phase, adapted from the five-phase agent-execution
// loop to this engine's two-round retrieval state machine.
package agentic

import (
	"context"
	"encoding/json"
	"time"

	"golang.org/x/sync/errgroup"

	"memoria/internal/config"
	"memoria/internal/observability"
	"memoria/internal/ports"
	"memoria/internal/rerank"
	"memoria/internal/retrieve"
)

// Metadata surfaces agentic-loop diagnostics alongside the hits.
type Metadata struct {
	Rounds      int
	JudgeFailed bool
	Refined     []string
}

// Retriever runs the bounded agentic retrieval loop.
type Retriever struct {
	cfg         config.AgenticConfig
	rrfConstant float64
	hybrid      *retrieve.Retriever
	rerankers   *rerank.Stage
	judge       ports.LLM
	docs        ports.DocStore
}

// New constructs an agentic Retriever. rrfConstant mirrors the constant used
// by the wrapped HybridRetriever so round-1/round-2 merges stay consistent.
// docs is used to fetch rerankable text for each hit (the reranker scores
// text, not bare ids).
func New(cfg config.AgenticConfig, rrfConstant float64, hybrid *retrieve.Retriever, rerankStage *rerank.Stage, judge ports.LLM, docs ports.DocStore) *Retriever {
	return &Retriever{cfg: cfg, rrfConstant: rrfConstant, hybrid: hybrid, rerankers: rerankStage, judge: judge, docs: docs}
}

type judgeOutput struct {
	IsSufficient   bool     `json:"is_sufficient"`
	Reasoning      string   `json:"reasoning"`
	RefinedQueries []string `json:"refined_queries"`
}

// Retrieve runs the §4.H state machine, terminating within two rounds.
func (r *Retriever) Retrieve(ctx context.Context, q retrieve.Query) ([]retrieve.Hit, Metadata, error) {
	log := observability.FromContext(ctx)
	meta := Metadata{Rounds: 1}

	round1Cap := q.TopK
	if r.cfg.RoundOneCap > 0 && (round1Cap <= 0 || round1Cap > r.cfg.RoundOneCap) {
		round1Cap = r.cfg.RoundOneCap
	}

	round1Query := q
	round1Query.TopK = round1Cap
	hits1, _, err := r.hybrid.Retrieve(ctx, round1Query)
	if err != nil {
		return nil, meta, err
	}
	hits1 = r.rerank(ctx, q.Text, hits1)

	if r.judge == nil {
		meta.JudgeFailed = true
		return truncate(hits1, q.TopK), meta, nil
	}

	sufficient, refined, err := r.askJudge(ctx, q.Text, hits1)
	if err != nil {
		log.Warn().Err(err).Msg("agentic judge call failed; terminating with round-1 results")
		meta.JudgeFailed = true
		return truncate(hits1, q.TopK), meta, nil
	}
	if sufficient {
		return truncate(hits1, q.TopK), meta, nil
	}

	maxRefined := r.cfg.MaxRefinedQueries
	if maxRefined <= 0 {
		maxRefined = 3
	}
	if len(refined) > maxRefined {
		refined = refined[:maxRefined]
	}
	meta.Refined = refined
	meta.Rounds = 2

	if len(refined) == 0 {
		return truncate(hits1, q.TopK), meta, nil
	}

	round2Results := make([][]retrieve.Hit, len(refined))
	g, gctx := errgroup.WithContext(ctx)
	for i, rq := range refined {
		i, rq := i, rq
		g.Go(func() error {
			q2 := q
			q2.Text = rq
			hits, _, err := r.hybrid.Retrieve(gctx, q2)
			if err != nil {
				log.Warn().Err(err).Str("refined_query", rq).Msg("round-2 refined query failed; skipping")
				return nil
			}
			round2Results[i] = hits
			return nil
		})
	}
	_ = g.Wait()

	byID := make(map[string]retrieve.Hit)
	for _, h := range hits1 {
		byID[h.MemoryID] = h
	}
	lists := []retrieve.RankedList{listFrom(hits1)}
	for _, hits := range round2Results {
		for _, h := range hits {
			byID[h.MemoryID] = h
		}
		lists = append(lists, listFrom(hits))
	}

	createdAt := make(map[string]time.Time, len(byID))
	for id, h := range byID {
		createdAt[id] = h.CreatedAt
	}

	fused := retrieve.FuseRRF(lists, r.rrfConstant, createdAt)

	merged := make([]retrieve.Hit, 0, len(fused))
	for _, f := range fused {
		h := byID[f.MemoryID]
		merged = append(merged, retrieve.Hit{MemoryID: f.MemoryID, Score: f.Score, Modality: h.Modality, CreatedAt: f.CreatedAt})
	}

	merged = r.rerank(ctx, q.Text, merged)
	return truncate(merged, q.TopK), meta, nil
}

func (r *Retriever) rerank(ctx context.Context, query string, hits []retrieve.Hit) []retrieve.Hit {
	if r.rerankers == nil {
		return hits
	}
	reordered := r.rerankers.Rerank(ctx, query, r.toItems(ctx, hits))
	return applyOrder(hits, reordered)
}

func listFrom(hits []retrieve.Hit) retrieve.RankedList {
	ids := make([]string, len(hits))
	for i, h := range hits {
		ids[i] = h.MemoryID
	}
	return retrieve.RankedList{IDs: ids}
}

// toItems resolves each hit's rerankable text via the doc store, falling
// back to the bare memory_id when the store is unset or the row's text
// field is missing (e.g. profile rows, which carry no embeddable text).
func (r *Retriever) toItems(ctx context.Context, hits []retrieve.Hit) []rerank.Item {
	items := make([]rerank.Item, len(hits))
	for i, h := range hits {
		items[i] = rerank.Item{MemoryID: h.MemoryID, Text: h.MemoryID}
		if r.docs == nil {
			continue
		}
		row, err := r.docs.Get(ctx, h.MemoryID)
		if err != nil {
			continue
		}
		if text := rerankableText(row); text != "" {
			items[i].Text = text
		}
	}
	return items
}

func rerankableText(row ports.DocRow) string {
	for _, key := range []string{"summary", "statement", "content"} {
		if v, ok := row.Fields[key].(string); ok && v != "" {
			return v
		}
	}
	return ""
}

func applyOrder(hits []retrieve.Hit, reordered []rerank.Item) []retrieve.Hit {
	byID := make(map[string]retrieve.Hit, len(hits))
	for _, h := range hits {
		byID[h.MemoryID] = h
	}
	out := make([]retrieve.Hit, 0, len(reordered))
	for _, it := range reordered {
		if h, ok := byID[it.MemoryID]; ok {
			out = append(out, h)
		}
	}
	return out
}

func truncate(hits []retrieve.Hit, topK int) []retrieve.Hit {
	if topK > 0 && len(hits) > topK {
		return hits[:topK]
	}
	return hits
}

func (r *Retriever) askJudge(ctx context.Context, query string, hits []retrieve.Hit) (bool, []string, error) {
	ids := make([]string, len(hits))
	for i, h := range hits {
		ids[i] = h.MemoryID
	}
	payload, _ := json.Marshal(struct {
		Query string   `json:"query"`
		Hits  []string `json:"hit_memory_ids"`
	}{Query: query, Hits: ids})

	resp, err := r.judge.Chat(ctx, ports.ChatRequest{
		Messages: []ports.ChatMessage{
			{Content: "Given the query and retrieved memory ids, decide if results are sufficient. Return strict JSON: {is_sufficient, reasoning, refined_queries}."},
			{Content: string(payload)},
		},
		JSONSchema: "strict",
	})
	if err != nil {
		return false, nil, err
	}
	var out judgeOutput
	if err := json.Unmarshal([]byte(resp.Content), &out); err != nil {
		return false, nil, err
	}
	return out.IsSufficient, out.RefinedQueries, nil
}
