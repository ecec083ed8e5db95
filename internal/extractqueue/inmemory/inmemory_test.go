package inmemory

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"memoria/internal/model"
)

func TestEnqueueConsume_RoundTrips(t *testing.T) {
	q := New(2)
	ctx := context.Background()

	ok, err := q.Enqueue(ctx, model.Episode{EpisodeID: "e1"})
	require.NoError(t, err)
	assert.True(t, ok)

	ch, err := q.Consume(ctx)
	require.NoError(t, err)
	ep := <-ch
	assert.Equal(t, "e1", ep.EpisodeID)
}

// TestEnqueue_RejectsWhenFullRatherThanBlocking is the backpressure
// contract: Enqueue never blocks the caller, it reports accepted=false.
func TestEnqueue_RejectsWhenFullRatherThanBlocking(t *testing.T) {
	q := New(1)
	ctx := context.Background()

	ok1, err := q.Enqueue(ctx, model.Episode{EpisodeID: "e1"})
	require.NoError(t, err)
	require.True(t, ok1)

	ok2, err := q.Enqueue(ctx, model.Episode{EpisodeID: "e2"})
	require.NoError(t, err)
	assert.False(t, ok2, "a full queue must reject rather than block")
}

func TestNew_NonPositiveCapacityDefaultsToOne(t *testing.T) {
	q := New(0)
	ctx := context.Background()
	ok, err := q.Enqueue(ctx, model.Episode{EpisodeID: "e1"})
	require.NoError(t, err)
	assert.True(t, ok)

	ok2, err := q.Enqueue(ctx, model.Episode{EpisodeID: "e2"})
	require.NoError(t, err)
	assert.False(t, ok2)
}

func TestClose_IsIdempotent(t *testing.T) {
	q := New(1)
	require.NoError(t, q.Close())
	require.NoError(t, q.Close())
}
