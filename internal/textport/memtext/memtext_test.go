package memtext

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"memoria/internal/model"
	"memoria/internal/ports"
)

func TestQuery_RanksByTermOverlap(t *testing.T) {
	ix := New()
	ctx := context.Background()
	now := time.Now()
	require.NoError(t, ix.Upsert(ctx, "m1", "cats and dogs are great pets", ports.DocFilter{Type: model.MemoryTypeEpisodic, CreatedAt: now}))
	require.NoError(t, ix.Upsert(ctx, "m2", "cats cats cats everywhere", ports.DocFilter{Type: model.MemoryTypeEpisodic, CreatedAt: now}))

	hits, err := ix.Query(ctx, ports.TextQuery{Query: "cats", Type: model.MemoryTypeEpisodic, Limit: 10})
	require.NoError(t, err)
	require.Len(t, hits, 2)
	assert.Equal(t, "m2", hits[0].MemoryID, "higher term frequency should rank first")
}

func TestQuery_FiltersByTypeUserGroupAndTimeRange(t *testing.T) {
	ix := New()
	ctx := context.Background()
	now := time.Now()
	require.NoError(t, ix.Upsert(ctx, "m1", "shared keyword", ports.DocFilter{Type: model.MemoryTypeEpisodic, UserID: "U1", GroupID: "G", CreatedAt: now.Add(-time.Hour)}))
	require.NoError(t, ix.Upsert(ctx, "m2", "shared keyword", ports.DocFilter{Type: model.MemoryTypeEventLog, UserID: "U2", GroupID: "G", CreatedAt: now}))

	hits, err := ix.Query(ctx, ports.TextQuery{Query: "shared keyword", Type: model.MemoryTypeEpisodic, UserID: "U1", Limit: 10})
	require.NoError(t, err)
	require.Len(t, hits, 1)
	assert.Equal(t, "m1", hits[0].MemoryID)

	hits, err = ix.Query(ctx, ports.TextQuery{Query: "shared keyword", StartTime: now.Add(-time.Minute), Limit: 10})
	require.NoError(t, err)
	require.Len(t, hits, 1)
	assert.Equal(t, "m2", hits[0].MemoryID)
}

func TestQuery_NoOverlapReturnsNoHits(t *testing.T) {
	ix := New()
	ctx := context.Background()
	require.NoError(t, ix.Upsert(ctx, "m1", "completely different words", ports.DocFilter{Type: model.MemoryTypeEpisodic, CreatedAt: time.Now()}))
	hits, err := ix.Query(ctx, ports.TextQuery{Query: "unrelated query terms", Limit: 10})
	require.NoError(t, err)
	assert.Empty(t, hits)
}

func TestDelete_RemovesFromFutureQueries(t *testing.T) {
	ix := New()
	ctx := context.Background()
	require.NoError(t, ix.Upsert(ctx, "m1", "keyword", ports.DocFilter{Type: model.MemoryTypeEpisodic, CreatedAt: time.Now()}))
	require.NoError(t, ix.Delete(ctx, "m1"))
	hits, err := ix.Query(ctx, ports.TextQuery{Query: "keyword", Limit: 10})
	require.NoError(t, err)
	assert.Empty(t, hits)
}

func TestQuery_RespectsLimit(t *testing.T) {
	ix := New()
	ctx := context.Background()
	for i := 0; i < 5; i++ {
		require.NoError(t, ix.Upsert(ctx, string(rune('a'+i)), "keyword", ports.DocFilter{Type: model.MemoryTypeEpisodic, CreatedAt: time.Now()}))
	}
	hits, err := ix.Query(ctx, ports.TextQuery{Query: "keyword", Limit: 2})
	require.NoError(t, err)
	assert.Len(t, hits, 2)
}
