// Package boundary implements BoundaryDetector (§4.C): given the current
// buffer plus a new message, decides {open, close_before_new,
// close_after_new}, deterministically for a given inputs tuple and settings.
//
// Grounded on the teacher's internal/agent/memory/evolving.go
// cosineSimilarity and classifyMemoryType keyword-heuristic style
// (deterministic, parametrized thresholds), adapted here from memory
// classification to episode-boundary decision.
package boundary

import (
	"context"
	"math"

	"memoria/internal/config"
	"memoria/internal/model"
	"memoria/internal/ports"
)

// Decision is the outcome of a boundary check.
type Decision string

const (
	Open            Decision = "open"
	CloseBeforeNew  Decision = "close_before_new"
	CloseAfterNew   Decision = "close_after_new"
)

// Detector decides episode closure.
type Detector struct {
	cfg      config.BoundaryConfig
	embedder ports.Embedder
}

// New constructs a Detector. embedder may be nil, in which case the
// soft-gap content-shift heuristic is skipped (the hard-gap check still
// applies) — callers relying on topic-shift closure must configure one.
func New(cfg config.BoundaryConfig, embedder ports.Embedder) *Detector {
	return &Detector{cfg: cfg, embedder: embedder}
}

// Detect implements the algorithm in §4.C:
//  1. temporal gap >= hard_gap => close_before_new
//  2. buffer >= min_episode_messages AND soft-gap+content-shift heuristic
//     (reference chain break + embedding similarity below threshold) =>
//     close_before_new
//  3. otherwise open
//
// Edge case: a single-message buffer never closes on the soft-gap heuristic.
func (d *Detector) Detect(ctx context.Context, buffer []model.Message, newMsg model.Message) (Decision, error) {
	if len(buffer) == 0 {
		return Open, nil
	}
	prev := buffer[len(buffer)-1]

	gap := newMsg.CreateTime.Sub(prev.CreateTime)
	if gap >= d.cfg.HardGap {
		return CloseBeforeNew, nil
	}

	// Explicit assistant-turn boundaries: a role alternation does not, on
	// its own, close an episode — it's respected only in that the soft-gap
	// heuristic below is the sole driver; no separate check is needed since
	// the heuristic already considers the new message's content/reference
	// chain independent of role.

	if len(buffer) < d.cfg.MinEpisodeMessages {
		return Open, nil
	}

	if referenceChainBroken(buffer, newMsg) {
		similar, err := d.topicSimilar(ctx, buffer, newMsg)
		if err != nil {
			return Open, err
		}
		if !similar {
			return CloseBeforeNew, nil
		}
	}

	return Open, nil
}

// referenceChainBroken reports whether newMsg.ReferList is disjoint from the
// buffer's message ids — a necessary (not sufficient) condition for a
// topic-shift close, per §4.C's reference-chain-break clause.
func referenceChainBroken(buffer []model.Message, newMsg model.Message) bool {
	if len(newMsg.ReferList) == 0 {
		return true // nothing references the buffer => chain not maintained
	}
	ids := make(map[string]bool, len(buffer))
	for _, m := range buffer {
		ids[m.MessageID] = true
	}
	for _, ref := range newMsg.ReferList {
		if ids[ref] {
			return false
		}
	}
	return true
}

// topicSimilar embeds a rolling summary of the buffer (the text of its last
// few messages, as a cheap proxy) and the new message, and compares cosine similarity against
// topic_similarity_threshold.
func (d *Detector) topicSimilar(ctx context.Context, buffer []model.Message, newMsg model.Message) (bool, error) {
	if d.embedder == nil {
		return true, nil // no embedder configured: never force a soft-gap close
	}
	rolling := rollingSummaryText(buffer)
	vecs, err := d.embedder.Embed(ctx, []string{rolling, newMsg.Content})
	if err != nil {
		return true, err
	}
	if len(vecs) != 2 {
		return true, nil
	}
	sim := cosineSimilarity(vecs[0], vecs[1])
	return sim >= d.cfg.TopicSimilarityThreshold, nil
}

// rollingSummaryText is a cheap proxy for "the rolling summary": the
// concatenation of the last few buffered messages' content. A full
// LLM-generated rolling summary is an extraction-pipeline concern, not a
// boundary-detector one — the detector only needs a directional signal.
func rollingSummaryText(buffer []model.Message) string {
	const window = 3
	start := 0
	if len(buffer) > window {
		start = len(buffer) - window
	}
	text := ""
	for _, m := range buffer[start:] {
		text += m.Content + " "
	}
	return text
}

func cosineSimilarity(a, b []float32) float64 {
	if len(a) == 0 || len(b) == 0 || len(a) != len(b) {
		return 0
	}
	var dot, na, nb float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		na += float64(a[i]) * float64(a[i])
		nb += float64(b[i]) * float64(b[i])
	}
	if na == 0 || nb == 0 {
		return 0
	}
	return dot / (math.Sqrt(na) * math.Sqrt(nb))
}
