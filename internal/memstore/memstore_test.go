package memstore

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"memoria/internal/docport/memdoc"
	"memoria/internal/model"
	"memoria/internal/ports"
	"memoria/internal/textport/memtext"
	"memoria/internal/vectorport/memvector"
)

func episodic(id string) *model.EpisodicMemory {
	return &model.EpisodicMemory{
		Envelope: model.Envelope{CreatedAt: time.Now(), Version: 1},
		MemoryID: id, EpisodeID: "ep1", UserID: "U", GroupID: "G", Summary: "summary text",
	}
}

func TestPut_WritesAcrossAllThreeStores(t *testing.T) {
	docs := memdoc.New()
	text := memtext.New()
	vector := memvector.New()
	s := New(docs, text, vector, nil)

	err := s.Put(context.Background(), episodic("m1"), []float32{1, 0, 0})
	require.NoError(t, err)

	row, err := docs.Get(context.Background(), "m1")
	require.NoError(t, err)
	assert.False(t, row.IndexPending)

	hits, err := text.Query(context.Background(), ports.TextQuery{Query: "summary", Type: model.MemoryTypeEpisodic, Limit: 10})
	require.NoError(t, err)
	assert.NotEmpty(t, hits)

	vhits, err := vector.Query(context.Background(), ports.VectorQuery{Embedding: []float32{1, 0, 0}, Type: model.MemoryTypeEpisodic, Limit: 10})
	require.NoError(t, err)
	assert.NotEmpty(t, vhits)
}

type failingText struct{}

func (failingText) Upsert(ctx context.Context, memoryID, text string, filter ports.DocFilter) error {
	return errors.New("text index unavailable")
}
func (failingText) Delete(ctx context.Context, memoryID string) error { return nil }
func (failingText) Query(ctx context.Context, q ports.TextQuery) ([]ports.TextHit, error) {
	return nil, nil
}

// TestPut_SecondaryIndexFailureMarksIndexPendingNotFatal is §4.E's tolerance
// rule: a text/vector upsert failure marks index_pending and the write still
// succeeds end-to-end.
func TestPut_SecondaryIndexFailureMarksIndexPendingNotFatal(t *testing.T) {
	docs := memdoc.New()
	s := New(docs, failingText{}, memvector.New(), nil)

	err := s.Put(context.Background(), episodic("m1"), nil)
	require.NoError(t, err, "secondary-index failure must not fail the write")

	row, err := docs.Get(context.Background(), "m1")
	require.NoError(t, err)
	assert.True(t, row.IndexPending)
}

type failingDocStore struct{ ports.DocStore }

func (failingDocStore) Put(ctx context.Context, row ports.DocRow) error {
	return errors.New("doc store unavailable")
}

// TestPut_DocStoreFailureIsFatal checks the doc leg is the only fatal one:
// there is nothing to reconcile from if the canonical row was never written.
func TestPut_DocStoreFailureIsFatal(t *testing.T) {
	s := New(failingDocStore{}, memtext.New(), memvector.New(), nil)
	err := s.Put(context.Background(), episodic("m1"), nil)
	require.Error(t, err)
}

func TestSoftDelete_TombstonesSecondaryIndexes(t *testing.T) {
	docs := memdoc.New()
	text := memtext.New()
	vector := memvector.New()
	s := New(docs, text, vector, nil)
	require.NoError(t, s.Put(context.Background(), episodic("m1"), []float32{1, 0, 0}))

	n, err := s.SoftDelete(context.Background(), ports.DocFilter{UserID: "U"})
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	hits, err := text.Query(context.Background(), ports.TextQuery{Query: "summary", Type: model.MemoryTypeEpisodic, Limit: 10})
	require.NoError(t, err)
	assert.Empty(t, hits)
}

func TestStats_SummarizesByTypeExcludingDeleted(t *testing.T) {
	docs := memdoc.New()
	s := New(docs, memtext.New(), memvector.New(), nil)
	require.NoError(t, s.Put(context.Background(), episodic("m1"), nil))
	require.NoError(t, s.Put(context.Background(), episodic("m2"), nil))
	_, err := s.SoftDelete(context.Background(), ports.DocFilter{UserID: "U"})
	require.NoError(t, err)

	stats, err := s.Stats(context.Background(), "U", "")
	require.NoError(t, err)
	assert.Equal(t, 0, stats.CountByType[model.MemoryTypeEpisodic], "deleted rows are excluded from stats")
}

func TestFetch_ReturnsIndexPendingRowsVisibly(t *testing.T) {
	docs := memdoc.New()
	s := New(docs, failingText{}, memvector.New(), nil)
	require.NoError(t, s.Put(context.Background(), episodic("m1"), nil))

	rows, err := s.Fetch(context.Background(), ports.DocFilter{UserID: "U"})
	require.NoError(t, err)
	require.Len(t, rows, 1)
	assert.True(t, rows[0].IndexPending)
}
