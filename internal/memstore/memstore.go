// Package memstore implements MemoryStore (§4.E): the write path that
// fans a memory record out across the doc, text, and vector stores in a
// fixed order, and the filtered read path backing fetch/search.
//
// Grounded on internal/persistence/databases/interfaces.go's Manager (a
// struct composing multiple store backends behind one facade) and
// internal/rag/service/service.go's staged pipeline idiom, adapted from
// "store one kind of document" to "fan one record out across three
// collaborator stores with ordered partial-failure handling."
package memstore

import (
	"context"
	"fmt"
	"hash/fnv"
	"sync"
	"time"

	"memoria/internal/merrors"
	"memoria/internal/model"
	"memoria/internal/observability"
	"memoria/internal/ports"
)

// MemoryStore is the write/read facade over doc, text, and vector stores.
type MemoryStore struct {
	docs   ports.DocStore
	text   ports.TextIndex
	vector ports.VectorIndex
	cache  ports.Cache // optional; used for AcquireLock when configured

	shardMu [256]sync.Mutex // in-process fallback keyed lock when cache is nil
}

// New constructs a MemoryStore from its collaborator ports. cache may be nil.
func New(docs ports.DocStore, text ports.TextIndex, vector ports.VectorIndex, cache ports.Cache) *MemoryStore {
	return &MemoryStore{docs: docs, text: text, vector: vector, cache: cache}
}

func shardIndex(memoryID string) int {
	h := fnv.New32a()
	_, _ = h.Write([]byte(memoryID))
	return int(h.Sum32() % 256)
}

// withLock serializes writes to the same memory_id (§5: "MemoryStore writes
// are serialized per memory_id via a keyed lock"), preferring the cache's
// distributed lock when one is configured and falling back to an in-process
// sharded mutex otherwise.
func (s *MemoryStore) withLock(ctx context.Context, memoryID string, fn func() error) error {
	if s.cache != nil {
		release, ok, err := s.cache.AcquireLock(ctx, "memstore:lock:"+memoryID, 30*time.Second)
		if err != nil {
			return merrors.Transient("memstore: acquire lock failed", err)
		}
		if !ok {
			return merrors.Transient("memstore: lock already held for "+memoryID, nil)
		}
		defer release(ctx)
		return fn()
	}
	mu := &s.shardMu[shardIndex(memoryID)]
	mu.Lock()
	defer mu.Unlock()
	return fn()
}

// toText renders the embeddable/searchable text for the text index. Records
// with no embeddable text (Profile) are skipped by Put.
func toText(rec model.MemoryRecord) (string, bool) {
	return rec.EmbeddableText()
}

// toDocFields renders a record as its persisted field map. In production this
// would be a json round-trip; kept explicit here per record type so callers
// can reconstruct typed records from DocRow.Fields without a registry.
func toDocFields(rec model.MemoryRecord) map[string]interface{} {
	switch r := rec.(type) {
	case *model.EpisodicMemory:
		return map[string]interface{}{
			"memory_id": r.MemoryID, "episode_id": r.EpisodeID, "user_id": r.UserID,
			"group_id": r.GroupID, "timestamp": r.Timestamp, "summary": r.Summary,
			"source_message_ids": r.SourceMessageIDs, "importance": r.Importance,
			"extraction_status": r.ExtractionStatus,
		}
	case *model.EventLog:
		return map[string]interface{}{
			"id": r.ID, "episode_id": r.EpisodeID, "subject": r.Subject,
			"predicate": r.Predicate, "object": r.Object, "time": r.Time, "group_id": r.GroupID,
		}
	case *model.SemanticMemory:
		return map[string]interface{}{
			"id": r.ID, "subject": r.Subject, "statement": r.Statement,
			"confidence": r.Confidence, "valid_from": r.ValidFrom, "valid_to": r.ValidTo,
			"group_id": r.GroupID, "source_episode_ids": r.SourceEpisodeIDs,
		}
	case *model.Profile:
		return map[string]interface{}{
			"user_id": r.UserID, "group_id": r.GroupID, "attributes": r.Attributes,
			"last_updated": r.LastUpdated, "provenance": r.Provenance,
		}
	case *model.Foresight:
		return map[string]interface{}{
			"id": r.ID, "user_id": r.UserID, "group_id": r.GroupID,
			"event_time": r.EventTime, "content": r.Content, "created_at_source": r.CreatedAt,
		}
	default:
		return nil
	}
}

func userGroupOf(rec model.MemoryRecord) (userID, groupID string) {
	switch r := rec.(type) {
	case *model.EpisodicMemory:
		return r.UserID, r.GroupID
	case *model.EventLog:
		return "", r.GroupID
	case *model.SemanticMemory:
		return "", r.GroupID
	case *model.Profile:
		return r.UserID, r.GroupID
	case *model.Foresight:
		return r.UserID, r.GroupID
	default:
		return "", ""
	}
}

// Put persists rec across doc, text, and vector stores in that order (§4.E).
// A failure in the text or vector leg marks the row index_pending rather
// than failing the call outright; the reconciliation loop (internal/reconcile)
// retries it later. A failure in the doc leg is fatal — there is nothing to
// reconcile from.
func (s *MemoryStore) Put(ctx context.Context, rec model.MemoryRecord, embedding []float32) error {
	log := observability.FromContext(ctx)
	memoryID := rec.RecordID()

	return s.withLock(ctx, memoryID, func() error {
		userID, groupID := userGroupOf(rec)
		row := ports.DocRow{
			MemoryID: memoryID, Type: rec.Type(), UserID: userID, GroupID: groupID,
			CreatedAt: rec.Env().CreatedAt, Deleted: rec.Env().Deleted, Version: rec.Env().Version,
			Fields: toDocFields(rec),
		}
		if err := s.docs.Put(ctx, row); err != nil {
			return merrors.Fatal(fmt.Sprintf("memstore: doc write failed for %s", memoryID), err)
		}

		pending := false
		filter := ports.DocFilter{UserID: userID, GroupID: groupID, Type: rec.Type(), CreatedAt: row.CreatedAt}

		if text, ok := toText(rec); ok && s.text != nil {
			if err := s.text.Upsert(ctx, memoryID, text, filter); err != nil {
				log.Warn().Err(err).Str("memory_id", memoryID).Msg("text index upsert failed; marking index_pending")
				pending = true
			}
		}

		if len(embedding) > 0 && s.vector != nil && s.vector.SupportsType(rec.Type()) {
			if err := s.vector.Upsert(ctx, memoryID, embedding, filter); err != nil {
				log.Warn().Err(err).Str("memory_id", memoryID).Msg("vector index upsert failed; marking index_pending")
				pending = true
			}
		}

		if pending {
			if err := s.docs.MarkIndexPending(ctx, memoryID, true); err != nil {
				log.Error().Err(err).Str("memory_id", memoryID).Msg("failed to mark index_pending")
			}
		}
		return nil
	})
}

// Patch applies a partial field update for profile updates only (§4.E).
func (s *MemoryStore) Patch(ctx context.Context, memoryID string, fields map[string]interface{}, expectVersion int) error {
	return s.withLock(ctx, memoryID, func() error {
		if err := s.docs.Patch(ctx, memoryID, fields, expectVersion); err != nil {
			return merrors.Transient("memstore: patch failed", err)
		}
		return nil
	})
}

// SoftDelete flips the deleted flag on doc store and tombstones secondary
// indexes (§4.E). filter must carry at least one non-__all__ field — callers
// enforce this via internal/scope.ResolveMutation before calling here.
func (s *MemoryStore) SoftDelete(ctx context.Context, filter ports.DocFilter) (int, error) {
	rows, err := s.docs.Query(ctx, filter)
	if err != nil {
		return 0, merrors.Transient("memstore: query for delete failed", err)
	}
	n, err := s.docs.SoftDelete(ctx, filter)
	if err != nil {
		return 0, merrors.Transient("memstore: soft delete failed", err)
	}
	log := observability.FromContext(ctx)
	for _, row := range rows {
		if s.text != nil {
			if err := s.text.Delete(ctx, row.MemoryID); err != nil {
				log.Warn().Err(err).Str("memory_id", row.MemoryID).Msg("text index tombstone failed")
			}
		}
		if s.vector != nil {
			if err := s.vector.Delete(ctx, row.MemoryID); err != nil {
				log.Warn().Err(err).Str("memory_id", row.MemoryID).Msg("vector index tombstone failed")
			}
		}
	}
	return n, nil
}

// Fetch reads from the doc store with secondary filters (§4.E). index_pending
// records are visible here even though they are invisible to search.
func (s *MemoryStore) Fetch(ctx context.Context, filter ports.DocFilter) ([]ports.DocRow, error) {
	rows, err := s.docs.Query(ctx, filter)
	if err != nil {
		return nil, merrors.Transient("memstore: fetch failed", err)
	}
	return rows, nil
}

// Stats is a read-only diagnostic summarizing stored memories by type,
// grounded on the teacher's evolving.go GetMemoryStats helper.
type Stats struct {
	CountByType map[model.MemoryType]int
	Oldest      time.Time
	Newest      time.Time
}

// Stats summarizes stored (non-deleted) rows for a user/group, at least one
// of which must be non-empty (an unconstrained global scan is not offered).
func (s *MemoryStore) Stats(ctx context.Context, userID, groupID string) (Stats, error) {
	if userID == "" && groupID == "" {
		return Stats{}, merrors.Input("memstore: stats requires a user_id or group_id", nil)
	}
	rows, err := s.docs.Query(ctx, ports.DocFilter{UserID: userID, GroupID: groupID})
	if err != nil {
		return Stats{}, merrors.Transient("memstore: stats query failed", err)
	}
	out := Stats{CountByType: map[model.MemoryType]int{}}
	for _, row := range rows {
		if row.Deleted {
			continue
		}
		out.CountByType[row.Type]++
		if out.Oldest.IsZero() || row.CreatedAt.Before(out.Oldest) {
			out.Oldest = row.CreatedAt
		}
		if row.CreatedAt.After(out.Newest) {
			out.Newest = row.CreatedAt
		}
	}
	return out, nil
}
