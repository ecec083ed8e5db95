// Package reconcile implements the background index-reconciliation loop
// named in §4.E/§7: retries text/vector indexing for doc rows left
// index_pending by a prior partial MemoryStore.Put, at a throttled rate,
// bounded by a per-row attempt count.
//
// Grounded on other_examples/5630592e_..._streaming_buffer.go.go's
// ticker-driven flushLoop and done-channel/WaitGroup Stop idiom, adapted
// from "periodically flush dirty in-memory entries" to "periodically retry
// pending secondary-index writes."
package reconcile

import (
	"context"
	"sync"
	"time"

	"memoria/internal/config"
	"memoria/internal/model"
	"memoria/internal/observability"
	"memoria/internal/ports"
)

// Loop periodically re-attempts indexing for index_pending rows.
type Loop struct {
	cfg    config.ReconcileConfig
	docs   ports.DocStore
	text   ports.TextIndex
	vector ports.VectorIndex
	embed  ports.Embedder

	attempts map[string]int
	mu       sync.Mutex

	done chan struct{}
	wg   sync.WaitGroup
}

// New constructs a reconciliation Loop.
func New(cfg config.ReconcileConfig, docs ports.DocStore, text ports.TextIndex, vector ports.VectorIndex, embed ports.Embedder) *Loop {
	return &Loop{cfg: cfg, docs: docs, text: text, vector: vector, embed: embed, attempts: map[string]int{}}
}

// Start begins the periodic reconciliation goroutine.
func (l *Loop) Start(ctx context.Context) {
	l.done = make(chan struct{})
	l.wg.Add(1)
	go l.run(ctx)
}

// Stop signals the goroutine to exit and waits for it to finish.
func (l *Loop) Stop() {
	close(l.done)
	l.wg.Wait()
}

func (l *Loop) run(ctx context.Context) {
	defer l.wg.Done()
	interval := l.cfg.Interval
	if interval <= 0 {
		interval = 10 * time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-l.done:
			return
		case <-ctx.Done():
			return
		case <-ticker.C:
			l.reconcileOnce(ctx)
		}
	}
}

func (l *Loop) maxAttempts() int {
	if l.cfg.MaxAttempts <= 0 {
		return 5
	}
	return l.cfg.MaxAttempts
}

func (l *Loop) batchSize() int {
	if l.cfg.BatchSize <= 0 {
		return 50
	}
	return l.cfg.BatchSize
}

// reconcileOnce scans for index_pending rows and retries their secondary
// indexing, dropping a row from further retries once it exceeds
// cfg.MaxAttempts (it stays index_pending and visible-for-fetch forever,
// per §4.E's contract, but search will never surface it until a human or a
// later Put clears the condition).
func (l *Loop) reconcileOnce(ctx context.Context) {
	log := observability.FromContext(ctx)
	rows, err := l.pendingRows(ctx)
	if err != nil {
		log.Warn().Err(err).Msg("reconcile: failed to list pending rows")
		return
	}
	for _, row := range rows {
		if ctx.Err() != nil {
			return
		}
		l.reconcileRow(ctx, row)
	}
}

// pendingRows lists index_pending rows across all types, up to batchSize.
// The in-memory/production adapters support this via a type-filtered scan;
// this helper issues one Query per known memory type and merges results.
func (l *Loop) pendingRows(ctx context.Context) ([]ports.DocRow, error) {
	types := []model.MemoryType{
		model.MemoryTypeEpisodic, model.MemoryTypeEventLog, model.MemoryTypeSemantic, model.MemoryTypeForesight,
	}
	var out []ports.DocRow
	for _, t := range types {
		rows, err := l.docs.Query(ctx, ports.DocFilter{Type: t, Limit: l.batchSize()})
		if err != nil {
			return nil, err
		}
		for _, row := range rows {
			if row.IndexPending && !row.Deleted {
				out = append(out, row)
			}
		}
	}
	if len(out) > l.batchSize() {
		out = out[:l.batchSize()]
	}
	return out, nil
}

func (l *Loop) reconcileRow(ctx context.Context, row ports.DocRow) {
	log := observability.FromContext(ctx)

	l.mu.Lock()
	l.attempts[row.MemoryID]++
	attempt := l.attempts[row.MemoryID]
	l.mu.Unlock()

	if attempt > l.maxAttempts() {
		log.Warn().Str("memory_id", row.MemoryID).Int("attempts", attempt).Msg("reconcile: giving up on index_pending row")
		return
	}

	text := rerankableText(row)
	ok := true

	if text != "" && l.text != nil {
		filter := ports.DocFilter{UserID: row.UserID, GroupID: row.GroupID, Type: row.Type, CreatedAt: row.CreatedAt}
		if err := l.text.Upsert(ctx, row.MemoryID, text, filter); err != nil {
			log.Warn().Err(err).Str("memory_id", row.MemoryID).Msg("reconcile: text upsert retry failed")
			ok = false
		}
	}

	if text != "" && l.vector != nil && l.embed != nil && l.vector.SupportsType(row.Type) {
		vecs, err := l.embed.Embed(ctx, []string{text})
		if err != nil || len(vecs) == 0 {
			log.Warn().Err(err).Str("memory_id", row.MemoryID).Msg("reconcile: embed retry failed")
			ok = false
		} else {
			filter := ports.DocFilter{UserID: row.UserID, GroupID: row.GroupID, Type: row.Type, CreatedAt: row.CreatedAt}
			if err := l.vector.Upsert(ctx, row.MemoryID, vecs[0], filter); err != nil {
				log.Warn().Err(err).Str("memory_id", row.MemoryID).Msg("reconcile: vector upsert retry failed")
				ok = false
			}
		}
	}

	if ok {
		if err := l.docs.MarkIndexPending(ctx, row.MemoryID, false); err != nil {
			log.Warn().Err(err).Str("memory_id", row.MemoryID).Msg("reconcile: failed to clear index_pending")
			return
		}
		l.mu.Lock()
		delete(l.attempts, row.MemoryID)
		l.mu.Unlock()
	}
}

func rerankableText(row ports.DocRow) string {
	for _, key := range []string{"summary", "statement"} {
		if v, ok := row.Fields[key].(string); ok && v != "" {
			return v
		}
	}
	if subj, ok := row.Fields["subject"].(string); ok {
		pred, _ := row.Fields["predicate"].(string)
		obj, _ := row.Fields["object"].(string)
		return subj + " " + pred + " " + obj
	}
	if content, ok := row.Fields["content"].(string); ok {
		return content
	}
	return ""
}
