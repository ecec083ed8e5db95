package agentic

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"memoria/internal/config"
	"memoria/internal/docport/memdoc"
	"memoria/internal/model"
	"memoria/internal/ports"
	"memoria/internal/rerank"
	"memoria/internal/retrieve"
	"memoria/internal/scope"
	"memoria/internal/textport/memtext"
	"memoria/internal/vectorport/memvector"
)

func seedEpisodic(t *testing.T, docs *memdoc.Store, text *memtext.Index, id, content string, createdAt time.Time) {
	t.Helper()
	ctx := context.Background()
	filter := ports.DocFilter{Type: model.MemoryTypeEpisodic, UserID: "U", GroupID: "G", CreatedAt: createdAt}
	require.NoError(t, docs.Put(ctx, ports.DocRow{MemoryID: id, Type: model.MemoryTypeEpisodic, UserID: "U", GroupID: "G", CreatedAt: createdAt}))
	require.NoError(t, text.Upsert(ctx, id, content, filter))
}

func newHybrid(docs *memdoc.Store, text *memtext.Index) *retrieve.Retriever {
	cfg := config.RetrievalConfig{RRFConstant: 60, DefaultTopK: 10, ExpandedKRatio: 3.0}
	return retrieve.New(cfg, text, memvector.New(), nil, docs)
}

// alwaysInsufficientJudge is §8's literal S6 fixture: it always reports
// is_sufficient=false with exactly one refined query, regardless of round.
type alwaysInsufficientJudge struct{ calls int }

func (j *alwaysInsufficientJudge) Chat(ctx context.Context, req ports.ChatRequest) (ports.ChatResponse, error) {
	j.calls++
	out := judgeOutput{IsSufficient: false, RefinedQueries: []string{"refined query"}}
	b, _ := json.Marshal(out)
	return ports.ChatResponse{Content: string(b)}, nil
}

type alwaysSufficientJudge struct{}

func (alwaysSufficientJudge) Chat(ctx context.Context, req ports.ChatRequest) (ports.ChatResponse, error) {
	out := judgeOutput{IsSufficient: true}
	b, _ := json.Marshal(out)
	return ports.ChatResponse{Content: string(b)}, nil
}

type erroringJudge struct{}

func (erroringJudge) Chat(ctx context.Context, req ports.ChatRequest) (ports.ChatResponse, error) {
	return ports.ChatResponse{}, assertErr
}

var assertErr = assertError("judge unavailable")

type assertError string

func (e assertError) Error() string { return string(e) }

// TestAgentic_S6BoundedToTwoRounds mirrors §8's literal S6 scenario: a judge
// that always returns is_sufficient=false runs the pipeline exactly twice,
// never more, and reports is_multi_round via Rounds==2.
func TestAgentic_S6BoundedToTwoRounds(t *testing.T) {
	docs := memdoc.New()
	text := memtext.New()
	now := time.Now()
	seedEpisodic(t, docs, text, "m1", "round one result about cats", now)
	seedEpisodic(t, docs, text, "m2", "refined query result about dogs", now.Add(time.Minute))

	judge := &alwaysInsufficientJudge{}
	hybrid := newHybrid(docs, text)
	r := New(config.AgenticConfig{MaxRefinedQueries: 3, RoundOneCap: 10}, 60, hybrid, nil, judge, docs)

	hits, meta, err := r.Retrieve(context.Background(), retrieve.Query{
		Text: "round one", Scope: scope.ScopeGroup, GroupID: "G", DataSource: model.MemoryTypeEpisodic, TopK: 10, CurrentTime: now,
	})
	require.NoError(t, err)
	assert.Equal(t, 2, meta.Rounds)
	assert.False(t, meta.JudgeFailed)
	assert.Equal(t, 1, judge.calls, "judge is consulted once per bounded loop, not once per round")
	assert.NotEmpty(t, hits)
}

func TestAgentic_SufficientJudgeTerminatesAtOneRound(t *testing.T) {
	docs := memdoc.New()
	text := memtext.New()
	now := time.Now()
	seedEpisodic(t, docs, text, "m1", "round one result", now)

	hybrid := newHybrid(docs, text)
	r := New(config.AgenticConfig{MaxRefinedQueries: 3, RoundOneCap: 10}, 60, hybrid, nil, alwaysSufficientJudge{}, docs)

	_, meta, err := r.Retrieve(context.Background(), retrieve.Query{
		Text: "round one", Scope: scope.ScopeGroup, GroupID: "G", DataSource: model.MemoryTypeEpisodic, TopK: 10, CurrentTime: now,
	})
	require.NoError(t, err)
	assert.Equal(t, 1, meta.Rounds)
}

// TestAgentic_JudgeFailureFallsBackToRoundOneResults is §7's tolerance rule
// applied to the judge call: a failed judge does not fail the whole request.
func TestAgentic_JudgeFailureFallsBackToRoundOneResults(t *testing.T) {
	docs := memdoc.New()
	text := memtext.New()
	now := time.Now()
	seedEpisodic(t, docs, text, "m1", "round one result", now)

	hybrid := newHybrid(docs, text)
	r := New(config.AgenticConfig{MaxRefinedQueries: 3, RoundOneCap: 10}, 60, hybrid, nil, erroringJudge{}, docs)

	hits, meta, err := r.Retrieve(context.Background(), retrieve.Query{
		Text: "round one", Scope: scope.ScopeGroup, GroupID: "G", DataSource: model.MemoryTypeEpisodic, TopK: 10, CurrentTime: now,
	})
	require.NoError(t, err)
	assert.True(t, meta.JudgeFailed)
	assert.Equal(t, 1, meta.Rounds)
	assert.NotEmpty(t, hits)
}

func TestAgentic_NilJudgeTerminatesAfterRoundOne(t *testing.T) {
	docs := memdoc.New()
	text := memtext.New()
	now := time.Now()
	seedEpisodic(t, docs, text, "m1", "round one result", now)

	hybrid := newHybrid(docs, text)
	r := New(config.AgenticConfig{MaxRefinedQueries: 3, RoundOneCap: 10}, 60, hybrid, nil, nil, docs)

	hits, meta, err := r.Retrieve(context.Background(), retrieve.Query{
		Text: "round one", Scope: scope.ScopeGroup, GroupID: "G", DataSource: model.MemoryTypeEpisodic, TopK: 10, CurrentTime: now,
	})
	require.NoError(t, err)
	assert.True(t, meta.JudgeFailed)
	assert.Equal(t, 1, meta.Rounds)
	assert.NotEmpty(t, hits)
}

func TestAgentic_RerankStageAppliedWhenProvided(t *testing.T) {
	docs := memdoc.New()
	text := memtext.New()
	now := time.Now()
	seedEpisodic(t, docs, text, "m1", "alpha content", now)
	seedEpisodic(t, docs, text, "m2", "alpha content also", now.Add(time.Minute))

	hybrid := newHybrid(docs, text)
	stage := rerank.New(config.RerankConfig{BatchSize: 32, MaxConcurrency: 2}, reverseOrderProvider{})
	r := New(config.AgenticConfig{MaxRefinedQueries: 3, RoundOneCap: 10}, 60, hybrid, stage, alwaysSufficientJudge{}, docs)

	hits, _, err := r.Retrieve(context.Background(), retrieve.Query{
		Text: "alpha", Scope: scope.ScopeGroup, GroupID: "G", DataSource: model.MemoryTypeEpisodic, TopK: 10, CurrentTime: now,
	})
	require.NoError(t, err)
	require.Len(t, hits, 2)
}

type reverseOrderProvider struct{}

func (reverseOrderProvider) Rerank(ctx context.Context, query string, docs []string) ([]int, []float32, error) {
	order := make([]int, len(docs))
	scores := make([]float32, len(docs))
	for i := range docs {
		order[i] = len(docs) - 1 - i
		scores[i] = 1
	}
	return order, scores, nil
}
