// Fusion implements Reciprocal Rank Fusion per §4.F step 4 and the S2/S3
// testable-property scenarios: score = sum(1/(rrf_k+rank)) across ranked
// lists, ties broken by descending BM25 score then descending created_at.
//
// Grounded on the teacher's internal/rag/retrieve/fusion.go (FuseRRF,
// safeRankSum) — the rank-union and tie-break machinery is reused, but the
// weighting is changed from the teacher's alpha-blended two-source fusion to
// this spec's equal-weight multi-list sum (needed for AgenticRetriever's
// round-1 + N-refined-query merge, §4.H step 3).
package retrieve

import (
	"sort"
	"time"
)

// RankedList is one source's ranked hit list, in best-first order.
type RankedList struct {
	IDs       []string
	BM25Score map[string]float64 // optional, for tie-break
}

// FusedHit is one document's fused RRF result.
type FusedHit struct {
	MemoryID  string
	Score     float64
	BM25Score float64
	CreatedAt time.Time
}

// FuseRRF sums 1/(rrfK+rank) for each hit's rank in each list (lists
// supplied in any order — summation is commutative, satisfying S3's
// "RRF ranking invariance" property), then sorts descending by fused score,
// ties broken by descending BM25 score then descending created_at.
//
// createdAt supplies the created_at lookup for the final tie-break; bm25 (if
// non-nil on a RankedList) supplies the BM25-score tie-break.
func FuseRRF(lists []RankedList, rrfK float64, createdAt map[string]time.Time) []FusedHit {
	if rrfK <= 0 {
		rrfK = 60
	}
	scores := make(map[string]float64)
	bm25 := make(map[string]float64)
	order := make([]string, 0)
	seen := make(map[string]bool)

	for _, list := range lists {
		for i, id := range list.IDs {
			rank := i + 1
			scores[id] += 1.0 / (rrfK + float64(rank))
			if list.BM25Score != nil {
				if s, ok := list.BM25Score[id]; ok && s > bm25[id] {
					bm25[id] = s
				}
			}
			if !seen[id] {
				seen[id] = true
				order = append(order, id)
			}
		}
	}

	out := make([]FusedHit, 0, len(order))
	for _, id := range order {
		out = append(out, FusedHit{
			MemoryID:  id,
			Score:     scores[id],
			BM25Score: bm25[id],
			CreatedAt: createdAt[id],
		})
	}

	sort.Slice(out, func(i, j int) bool {
		if out[i].Score != out[j].Score {
			return out[i].Score > out[j].Score
		}
		if out[i].BM25Score != out[j].BM25Score {
			return out[i].BM25Score > out[j].BM25Score
		}
		return out[i].CreatedAt.After(out[j].CreatedAt)
	})
	return out
}
