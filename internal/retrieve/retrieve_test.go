package retrieve

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"memoria/internal/config"
	"memoria/internal/docport/memdoc"
	"memoria/internal/model"
	"memoria/internal/ports"
	"memoria/internal/scope"
	"memoria/internal/textport/memtext"
	"memoria/internal/vectorport/memvector"
)

func baseCfg() config.RetrievalConfig {
	return config.RetrievalConfig{RRFConstant: 60, DefaultRadius: 0.0, DefaultTopK: 10, ExpandedKRatio: 3.0, TimeRangeDays: 365}
}

type fakeEmbedder struct {
	vec []float32
	err error
}

func (f *fakeEmbedder) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	if f.err != nil {
		return nil, f.err
	}
	out := make([][]float32, len(texts))
	for i := range texts {
		out[i] = f.vec
	}
	return out, nil
}

type erroringText struct{}

func (erroringText) Upsert(ctx context.Context, memoryID, text string, filter ports.DocFilter) error {
	return nil
}
func (erroringText) Delete(ctx context.Context, memoryID string) error { return nil }
func (erroringText) Query(ctx context.Context, q ports.TextQuery) ([]ports.TextHit, error) {
	return nil, errors.New("text index down")
}

type erroringVector struct{}

func (erroringVector) SupportsType(t model.MemoryType) bool { return true }
func (erroringVector) Upsert(ctx context.Context, memoryID string, embedding []float32, filter ports.DocFilter) error {
	return nil
}
func (erroringVector) Delete(ctx context.Context, memoryID string) error { return nil }
func (erroringVector) Query(ctx context.Context, q ports.VectorQuery) ([]ports.VectorHit, error) {
	return nil, errors.New("vector index down")
}

func seed(t *testing.T, docs *memdoc.Store, text *memtext.Index, vector *memvector.Index, id, content string, embedding []float32, createdAt time.Time) {
	t.Helper()
	ctx := context.Background()
	filter := ports.DocFilter{Type: model.MemoryTypeEpisodic, UserID: "U", GroupID: "G", CreatedAt: createdAt}
	require.NoError(t, docs.Put(ctx, ports.DocRow{MemoryID: id, Type: model.MemoryTypeEpisodic, UserID: "U", GroupID: "G", CreatedAt: createdAt}))
	require.NoError(t, text.Upsert(ctx, id, content, filter))
	if embedding != nil {
		require.NoError(t, vector.Upsert(ctx, id, embedding, filter))
	}
}

func TestRetrieve_HybridFusesBothModalities(t *testing.T) {
	docs := memdoc.New()
	text := memtext.New()
	vector := memvector.New()
	now := time.Now()

	seed(t, docs, text, vector, "m1", "cats are great pets", []float32{1, 0, 0}, now.Add(-time.Hour))
	seed(t, docs, text, vector, "m2", "dogs are loyal companions", []float32{0, 1, 0}, now)

	r := New(baseCfg(), text, vector, &fakeEmbedder{vec: []float32{1, 0, 0}}, docs)
	hits, meta, err := r.Retrieve(context.Background(), Query{
		Text: "cats pets", Scope: scope.ScopeGroup, GroupID: "G", DataSource: model.MemoryTypeEpisodic,
		TopK: 10, CurrentTime: now,
	})
	require.NoError(t, err)
	require.NotEmpty(t, hits)
	assert.False(t, meta.Partial)
	assert.Equal(t, "m1", hits[0].MemoryID)
	assert.Equal(t, "both", hits[0].Modality)
}

// TestRetrieve_TextIndexFailureIsTolerated is §7's single-leg-failure
// tolerance: the vector leg still succeeds, metadata.partial is set, and the
// call does not error.
func TestRetrieve_TextIndexFailureIsTolerated(t *testing.T) {
	docs := memdoc.New()
	vector := memvector.New()
	now := time.Now()
	require.NoError(t, docs.Put(context.Background(), ports.DocRow{MemoryID: "m1", Type: model.MemoryTypeEpisodic, UserID: "U", GroupID: "G", CreatedAt: now}))
	require.NoError(t, vector.Upsert(context.Background(), "m1", []float32{1, 0, 0}, ports.DocFilter{Type: model.MemoryTypeEpisodic, UserID: "U", GroupID: "G", CreatedAt: now}))

	r := New(baseCfg(), erroringText{}, vector, &fakeEmbedder{vec: []float32{1, 0, 0}}, docs)
	hits, meta, err := r.Retrieve(context.Background(), Query{
		Text: "anything", Scope: scope.ScopeGroup, GroupID: "G", DataSource: model.MemoryTypeEpisodic, TopK: 10, CurrentTime: now,
	})
	require.NoError(t, err)
	assert.True(t, meta.Partial)
	assert.True(t, meta.BM25Failed)
	require.Len(t, hits, 1)
	assert.Equal(t, "m1", hits[0].MemoryID)
}

// TestRetrieve_BothModalitiesFailingIsFatal is §7's fatal case: when both
// legs fail, the call errors.
func TestRetrieve_BothModalitiesFailingIsFatal(t *testing.T) {
	docs := memdoc.New()
	r := New(baseCfg(), erroringText{}, erroringVector{}, &fakeEmbedder{vec: []float32{1, 0, 0}}, docs)
	_, _, err := r.Retrieve(context.Background(), Query{
		Text: "anything", Scope: scope.ScopeGroup, GroupID: "G", DataSource: model.MemoryTypeEpisodic, TopK: 10, CurrentTime: time.Now(),
	})
	require.Error(t, err)
}

// TestRetrieve_EventLogFallsBackToBM25Only asserts event_log is
// vector-unsupported and a hybrid query on it silently degrades to BM25-only.
func TestRetrieve_EventLogFallsBackToBM25Only(t *testing.T) {
	docs := memdoc.New()
	text := memtext.New()
	vector := memvector.New()
	now := time.Now()
	filter := ports.DocFilter{Type: model.MemoryTypeEventLog, UserID: "U", GroupID: "G", CreatedAt: now}
	require.NoError(t, docs.Put(context.Background(), ports.DocRow{MemoryID: "e1", Type: model.MemoryTypeEventLog, UserID: "U", GroupID: "G", CreatedAt: now}))
	require.NoError(t, text.Upsert(context.Background(), "e1", "checkout completed", filter))

	r := New(baseCfg(), text, vector, &fakeEmbedder{vec: []float32{1, 0, 0}}, docs)
	hits, meta, err := r.Retrieve(context.Background(), Query{
		Text: "checkout", Scope: scope.ScopeGroup, GroupID: "G", DataSource: model.MemoryTypeEventLog, TopK: 10, CurrentTime: now,
	})
	require.NoError(t, err)
	assert.True(t, meta.VectorFellBack)
	assert.Equal(t, 0, meta.VectorCount)
	require.Len(t, hits, 1)
	assert.Equal(t, "bm25", hits[0].Modality)
}

// TestRetrieve_RadiusFloorExcludesDissimilarVectors confirms the cosine
// radius floor is honored: an orthogonal vector is excluded, and since the
// query shares no term with the doc's text, neither leg returns it.
func TestRetrieve_RadiusFloorExcludesDissimilarVectors(t *testing.T) {
	docs := memdoc.New()
	text := memtext.New()
	vector := memvector.New()
	now := time.Now()
	seed(t, docs, text, vector, "m1", "irrelevant text only matched by vector query below", []float32{0, 1, 0}, now)

	r := New(baseCfg(), text, vector, &fakeEmbedder{vec: []float32{1, 0, 0}}, docs)
	hits, meta, err := r.Retrieve(context.Background(), Query{
		Text: "something else entirely", Scope: scope.ScopeGroup, GroupID: "G", DataSource: model.MemoryTypeEpisodic,
		TopK: 10, Radius: 0.5, CurrentTime: now,
	})
	require.NoError(t, err)
	assert.Empty(t, hits)
	assert.Equal(t, 0, meta.VectorCount)
}

func TestRetrieve_ProfileDataSourceBypassesSearch(t *testing.T) {
	docs := memdoc.New()
	now := time.Now()
	require.NoError(t, docs.Put(context.Background(), ports.DocRow{MemoryID: "p1", Type: model.MemoryTypeProfile, UserID: "U", GroupID: "G", CreatedAt: now}))

	r := New(baseCfg(), memtext.New(), memvector.New(), nil, docs)
	hits, _, err := r.Retrieve(context.Background(), Query{
		Scope: scope.ScopeGroup, GroupID: "G", DataSource: model.MemoryTypeProfile, CurrentTime: now,
	})
	require.NoError(t, err)
	require.Len(t, hits, 1)
	assert.Equal(t, "profile", hits[0].Modality)
}

func TestRetrieve_TopKTruncation(t *testing.T) {
	docs := memdoc.New()
	text := memtext.New()
	vector := memvector.New()
	now := time.Now()
	for i := 0; i < 5; i++ {
		id := string(rune('a' + i))
		seed(t, docs, text, vector, id, "shared keyword repeated", nil, now.Add(time.Duration(i)*time.Minute))
	}
	r := New(baseCfg(), text, vector, &fakeEmbedder{vec: []float32{1, 0, 0}}, docs)
	hits, _, err := r.Retrieve(context.Background(), Query{
		Text: "shared keyword", Scope: scope.ScopeGroup, GroupID: "G", DataSource: model.MemoryTypeEpisodic, TopK: 2, CurrentTime: now,
	})
	require.NoError(t, err)
	assert.Len(t, hits, 2)
}
