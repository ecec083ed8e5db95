package retrieve

import (
	"math/rand"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// TestFuseRRF_S2ExactScenario matches §8's literal S2 scenario:
// BM25 list [A,B,C], vector list [B,D,A], rrf_k=60 gives
// A=1/61+1/63, B=1/62+1/61, C=1/63, D=1/62, order B,A,D,C, top_k=3 -> [B,A,D].
func TestFuseRRF_S2ExactScenario(t *testing.T) {
	lists := []RankedList{
		{IDs: []string{"A", "B", "C"}},
		{IDs: []string{"B", "D", "A"}},
	}
	fused := FuseRRF(lists, 60, nil)
	require.Len(t, fused, 4)

	byID := make(map[string]FusedHit, len(fused))
	for _, f := range fused {
		byID[f.MemoryID] = f
	}
	assert.InDelta(t, 1.0/61+1.0/63, byID["A"].Score, 1e-9)
	assert.InDelta(t, 1.0/62+1.0/61, byID["B"].Score, 1e-9)
	assert.InDelta(t, 1.0/63, byID["C"].Score, 1e-9)
	assert.InDelta(t, 1.0/62, byID["D"].Score, 1e-9)

	order := make([]string, len(fused))
	for i, f := range fused {
		order[i] = f.MemoryID
	}
	assert.Equal(t, []string{"B", "A", "D", "C"}, order)
	assert.Equal(t, []string{"B", "A", "D"}, order[:3])
}

// TestFuseRRF_OrderInvariance is S3's property: fusion is invariant to the
// order lists are supplied in, since RRF summation is commutative.
func TestFuseRRF_OrderInvariance(t *testing.T) {
	a := RankedList{IDs: []string{"A", "B", "C"}}
	b := RankedList{IDs: []string{"B", "D", "A"}}
	c := RankedList{IDs: []string{"C", "A", "D", "B"}}

	forward := FuseRRF([]RankedList{a, b, c}, 60, nil)
	reversed := FuseRRF([]RankedList{c, b, a}, 60, nil)
	shuffled := FuseRRF([]RankedList{b, c, a}, 60, nil)

	require.Len(t, reversed, len(forward))
	require.Len(t, shuffled, len(forward))
	for i := range forward {
		assert.Equal(t, forward[i].MemoryID, reversed[i].MemoryID)
		assert.InDelta(t, forward[i].Score, reversed[i].Score, 1e-12)
		assert.Equal(t, forward[i].MemoryID, shuffled[i].MemoryID)
		assert.InDelta(t, forward[i].Score, shuffled[i].Score, 1e-12)
	}
}

// TestFuseRRF_RandomizedSupplyOrderInvariance fuzzes S3 across many random
// permutations of the same lists, since a single fixed permutation could
// hide an ordering bug in a map-iteration-dependent implementation.
func TestFuseRRF_RandomizedSupplyOrderInvariance(t *testing.T) {
	base := []RankedList{
		{IDs: []string{"A", "B", "C", "D"}},
		{IDs: []string{"E", "A", "F"}},
		{IDs: []string{"B", "E", "D", "A"}},
	}
	want := FuseRRF(base, 60, nil)

	rng := rand.New(rand.NewSource(1))
	for i := 0; i < 20; i++ {
		shuffled := make([]RankedList, len(base))
		copy(shuffled, base)
		rng.Shuffle(len(shuffled), func(i, j int) { shuffled[i], shuffled[j] = shuffled[j], shuffled[i] })
		got := FuseRRF(shuffled, 60, nil)
		require.Len(t, got, len(want))
		for j := range want {
			assert.Equal(t, want[j].MemoryID, got[j].MemoryID, "permutation %d", i)
		}
	}
}

// TestFuseRRF_TieBreakBM25ThenCreatedAt exercises the documented tie-break
// chain: equal fused score broken by descending BM25, then descending
// created_at.
func TestFuseRRF_TieBreakBM25ThenCreatedAt(t *testing.T) {
	// Symmetric rank-1/rank-2 placement gives X and Y an identical fused
	// score; BM25 (Y > X) must decide the winner.
	lists := []RankedList{
		{IDs: []string{"X", "Y"}, BM25Score: map[string]float64{"X": 5.0, "Y": 9.0}},
		{IDs: []string{"Y", "X"}, BM25Score: map[string]float64{"X": 5.0, "Y": 9.0}},
	}
	now := time.Now()
	createdAt := map[string]time.Time{"X": now, "Y": now.Add(-time.Hour)}

	fused := FuseRRF(lists, 60, createdAt)
	require.Len(t, fused, 2)
	assert.InDelta(t, fused[0].Score, fused[1].Score, 1e-12)
	assert.Equal(t, "Y", fused[0].MemoryID, "higher BM25 should win a fused-score tie")
	assert.Equal(t, "X", fused[1].MemoryID)
}

func TestFuseRRF_TieBreakByCreatedAtWhenBM25Equal(t *testing.T) {
	lists := []RankedList{
		{IDs: []string{"X", "Y"}},
		{IDs: []string{"Y", "X"}},
	}
	now := time.Now()
	createdAt := map[string]time.Time{"X": now, "Y": now.Add(-time.Hour)}

	fused := FuseRRF(lists, 60, createdAt)
	require.Len(t, fused, 2)
	assert.InDelta(t, fused[0].Score, fused[1].Score, 1e-12)
	assert.Equal(t, "X", fused[0].MemoryID, "more recent created_at should win when BM25 also ties")
}

func TestFuseRRF_EmptyLists(t *testing.T) {
	fused := FuseRRF(nil, 60, nil)
	assert.Empty(t, fused)
}

func TestFuseRRF_DefaultsRRFKWhenNonPositive(t *testing.T) {
	lists := []RankedList{{IDs: []string{"A"}}}
	fused := FuseRRF(lists, 0, nil)
	require.Len(t, fused, 1)
	assert.InDelta(t, 1.0/61, fused[0].Score, 1e-9)
}
