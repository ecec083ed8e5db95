package profile

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"memoria/internal/config"
	"memoria/internal/docport/memdoc"
	"memoria/internal/model"
)

func newBuilder() (*Builder, *memdoc.Store) {
	docs := memdoc.New()
	cfg := config.ProfileConfig{RecencyWindow: 30 * 24 * time.Hour, MaxProvenanceEntries: 10}
	return New(cfg, docs), docs
}

func TestApplyPatch_FirstWriteCreatesProfile(t *testing.T) {
	b, _ := newBuilder()
	ctx := context.Background()
	ts := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)

	err := b.ApplyPatch(ctx, model.ProfilePatch{
		UserID: "U", GroupID: "G", AttributePath: "favorite_color", Value: "blue",
		Confidence: 0.8, Timestamp: ts,
	})
	require.NoError(t, err)

	prof, ok, err := b.Fetch(ctx, "U", "G")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "blue", prof.Attributes["favorite_color"])
}

// TestApplyPatch_LastWriterWins: a second higher-or-equal-confidence patch
// always overwrites, regardless of recency.
func TestApplyPatch_LastWriterWins(t *testing.T) {
	b, _ := newBuilder()
	ctx := context.Background()
	ts := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)

	require.NoError(t, b.ApplyPatch(ctx, model.ProfilePatch{
		UserID: "U", GroupID: "G", AttributePath: "city", Value: "NYC", Confidence: 0.5, Timestamp: ts,
	}))
	require.NoError(t, b.ApplyPatch(ctx, model.ProfilePatch{
		UserID: "U", GroupID: "G", AttributePath: "city", Value: "SF", Confidence: 0.5, Timestamp: ts.Add(time.Hour),
	}))

	prof, _, err := b.Fetch(ctx, "U", "G")
	require.NoError(t, err)
	assert.Equal(t, "SF", prof.Attributes["city"])
}

// TestApplyPatch_LowerConfidenceWithinRecencyWindowIsSkipped is the
// confidence/recency exception (§4.I): a strictly-lower-confidence patch is
// skipped only when the prior entry is still within the recency window.
func TestApplyPatch_LowerConfidenceWithinRecencyWindowIsSkipped(t *testing.T) {
	b, _ := newBuilder()
	ctx := context.Background()
	ts := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)

	require.NoError(t, b.ApplyPatch(ctx, model.ProfilePatch{
		UserID: "U", GroupID: "G", AttributePath: "job", Value: "engineer", Confidence: 0.9, Timestamp: ts,
	}))
	// Lower confidence, one day later: still well within the 30-day window.
	require.NoError(t, b.ApplyPatch(ctx, model.ProfilePatch{
		UserID: "U", GroupID: "G", AttributePath: "job", Value: "intern", Confidence: 0.4, Timestamp: ts.Add(24 * time.Hour),
	}))

	prof, _, err := b.Fetch(ctx, "U", "G")
	require.NoError(t, err)
	assert.Equal(t, "engineer", prof.Attributes["job"], "lower-confidence patch within recency window must be skipped")
}

// TestApplyPatch_LowerConfidenceOutsideRecencyWindowStillApplies: once the
// prior entry ages past the recency window, even a lower-confidence patch
// applies (the exception only protects fresh high-confidence facts).
func TestApplyPatch_LowerConfidenceOutsideRecencyWindowStillApplies(t *testing.T) {
	b, _ := newBuilder()
	ctx := context.Background()
	ts := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)

	require.NoError(t, b.ApplyPatch(ctx, model.ProfilePatch{
		UserID: "U", GroupID: "G", AttributePath: "job", Value: "engineer", Confidence: 0.9, Timestamp: ts,
	}))
	require.NoError(t, b.ApplyPatch(ctx, model.ProfilePatch{
		UserID: "U", GroupID: "G", AttributePath: "job", Value: "retired", Confidence: 0.4, Timestamp: ts.Add(40 * 24 * time.Hour),
	}))

	prof, _, err := b.Fetch(ctx, "U", "G")
	require.NoError(t, err)
	assert.Equal(t, "retired", prof.Attributes["job"])
}

func TestApplyPatch_DistinctAttributePathsDoNotInterfere(t *testing.T) {
	b, _ := newBuilder()
	ctx := context.Background()
	ts := time.Now()

	require.NoError(t, b.ApplyPatch(ctx, model.ProfilePatch{UserID: "U", GroupID: "G", AttributePath: "a", Value: 1, Confidence: 0.9, Timestamp: ts}))
	require.NoError(t, b.ApplyPatch(ctx, model.ProfilePatch{UserID: "U", GroupID: "G", AttributePath: "b", Value: 2, Confidence: 0.1, Timestamp: ts}))

	prof, _, err := b.Fetch(ctx, "U", "G")
	require.NoError(t, err)
	assert.Equal(t, 1, prof.Attributes["a"])
	assert.Equal(t, 2, prof.Attributes["b"])
}

func TestApplyPatch_ProvenanceBoundedLength(t *testing.T) {
	b, _ := newBuilder()
	ctx := context.Background()
	ts := time.Now()

	for i := 0; i < 15; i++ {
		require.NoError(t, b.ApplyPatch(ctx, model.ProfilePatch{
			UserID: "U", GroupID: "G", AttributePath: "counter", Value: i, Confidence: 0.9,
			Timestamp: ts.Add(time.Duration(i) * time.Minute),
		}))
	}
	prof, _, err := b.Fetch(ctx, "U", "G")
	require.NoError(t, err)
	assert.LessOrEqual(t, len(prof.Provenance), 10, "provenance log must stay bounded by MaxProvenanceEntries")
}

func TestFetch_MissingProfileReturnsFalse(t *testing.T) {
	b, _ := newBuilder()
	_, ok, err := b.Fetch(context.Background(), "nobody", "nowhere")
	require.NoError(t, err)
	assert.False(t, ok)
}
