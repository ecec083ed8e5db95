// Package qdrant adapts github.com/qdrant/go-client to memoria's
// VectorIndex port. One collection per embeddable memory type, cosine
// space; event_log is explicitly unsupported (L2 space, per the retrieval
// contract) and Query short-circuits to an empty result for it.
//
// Grounded on the teacher's internal/persistence/databases/qdrant_vector.go:
// DSN parsing (host/port/TLS/api_key), deterministic UUID mapping for
// non-UUID point ids via PAYLOAD_ID_FIELD, and the Upsert/Delete/Query shape.
package qdrant

import (
	"context"
	"fmt"
	"net/url"
	"strconv"
	"strings"

	"github.com/google/uuid"
	"github.com/qdrant/go-client/qdrant"

	"memoria/internal/merrors"
	"memoria/internal/model"
	"memoria/internal/ports"
)

// payloadIDField mirrors the teacher's PAYLOAD_ID_FIELD: Qdrant only allows
// UUID/integer point ids, so non-UUID memory_ids are mapped deterministically
// and the original id is kept in the payload.
const payloadIDField = "_original_id"

const (
	payloadTypeField    = "memory_type"
	payloadUserField    = "user_id"
	payloadGroupField   = "group_id"
	payloadCreatedField = "created_at_unix"
)

// Index adapts one Qdrant collection per embeddable memory type.
type Index struct {
	client      *qdrant.Client
	namespace   string
	dimension   int
	collections map[model.MemoryType]string
}

// New parses dsn (host[:port], scheme https => TLS, ?api_key=...), and
// ensures one cosine-space collection per embeddable memory type under the
// given namespace prefix.
func New(ctx context.Context, dsn, namespace string, dimension int) (*Index, error) {
	parsed, err := url.Parse(dsn)
	if err != nil {
		return nil, fmt.Errorf("qdrant: parse dsn: %w", err)
	}
	host := parsed.Hostname()
	if host == "" {
		host = "localhost"
	}
	portStr := parsed.Port()
	if portStr == "" {
		portStr = "6334"
	}
	port, err := strconv.Atoi(portStr)
	if err != nil {
		return nil, fmt.Errorf("qdrant: invalid port in dsn: %w", err)
	}
	cfg := &qdrant.Config{Host: host, Port: port}
	if parsed.Scheme == "https" {
		cfg.UseTLS = true
	}
	if apiKey := parsed.Query().Get("api_key"); apiKey != "" {
		cfg.APIKey = apiKey
	}
	client, err := qdrant.NewClient(cfg)
	if err != nil {
		return nil, fmt.Errorf("qdrant: create client: %w", err)
	}

	ix := &Index{
		client:      client,
		namespace:   strings.TrimSuffix(namespace, "_"),
		dimension:   dimension,
		collections: make(map[model.MemoryType]string),
	}
	for _, t := range []model.MemoryType{
		model.MemoryTypeEpisodic, model.MemoryTypeSemantic, model.MemoryTypeForesight,
	} {
		name := ix.collectionName(t)
		ix.collections[t] = name
		if err := ix.ensureCollection(ctx, name); err != nil {
			client.Close()
			return nil, fmt.Errorf("qdrant: ensure collection %s: %w", name, err)
		}
	}
	return ix, nil
}

func (ix *Index) collectionName(t model.MemoryType) string {
	if ix.namespace == "" {
		return string(t)
	}
	return ix.namespace + "_" + string(t)
}

func (ix *Index) ensureCollection(ctx context.Context, name string) error {
	exists, err := ix.client.CollectionExists(ctx, name)
	if err != nil {
		return err
	}
	if exists {
		return nil
	}
	if ix.dimension <= 0 {
		return fmt.Errorf("qdrant requires dimension > 0")
	}
	return ix.client.CreateCollection(ctx, &qdrant.CreateCollection{
		CollectionName: name,
		VectorsConfig: qdrant.NewVectorsConfig(&qdrant.VectorParams{
			Size:     uint64(ix.dimension),
			Distance: qdrant.Distance_Cosine,
		}),
	})
}

func pointID(memoryID string) (*qdrant.PointId, string) {
	if _, err := uuid.Parse(memoryID); err == nil {
		return qdrant.NewIDUUID(memoryID), ""
	}
	mapped := uuid.NewSHA1(uuid.NameSpaceOID, []byte(memoryID)).String()
	return qdrant.NewIDUUID(mapped), memoryID
}

func (ix *Index) SupportsType(t model.MemoryType) bool {
	_, ok := ix.collections[t]
	return ok
}

func (ix *Index) Upsert(ctx context.Context, memoryID string, embedding []float32, filter ports.DocFilter) error {
	collection, ok := ix.collections[filter.Type]
	if !ok {
		return merrors.Input(fmt.Sprintf("qdrant: memory type %s is not embeddable", filter.Type), nil)
	}
	id, original := pointID(memoryID)
	payload := map[string]any{
		payloadTypeField:    string(filter.Type),
		payloadUserField:    filter.UserID,
		payloadGroupField:   filter.GroupID,
		payloadCreatedField: filter.CreatedAt.Unix(),
	}
	if original != "" {
		payload[payloadIDField] = original
	}
	vec := make([]float32, len(embedding))
	copy(vec, embedding)

	_, err := ix.client.Upsert(ctx, &qdrant.UpsertPoints{
		CollectionName: collection,
		Points: []*qdrant.PointStruct{{
			Id:      id,
			Vectors: qdrant.NewVectorsDense(vec),
			Payload: qdrant.NewValueMap(payload),
		}},
	})
	if err != nil {
		return merrors.Transient("qdrant upsert failed", err)
	}
	return nil
}

func (ix *Index) Delete(ctx context.Context, memoryID string) error {
	id, _ := pointID(memoryID)
	var lastErr error
	for _, collection := range ix.collections {
		_, err := ix.client.Delete(ctx, &qdrant.DeletePoints{
			CollectionName: collection,
			Points:         qdrant.NewPointsSelector(id),
		})
		if err != nil {
			lastErr = err
		}
	}
	if lastErr != nil {
		return merrors.Transient("qdrant delete failed", lastErr)
	}
	return nil
}

func (ix *Index) Query(ctx context.Context, q ports.VectorQuery) ([]ports.VectorHit, error) {
	collection, ok := ix.collections[q.Type]
	if !ok {
		// event_log (and any other non-embeddable type) falls back to
		// BM25-only per the retrieval contract; callers detect this via
		// SupportsType and surface it in response metadata.
		return nil, nil
	}
	limit := q.Limit
	if limit <= 0 {
		limit = 10
	}
	must := []*qdrant.Condition{}
	if q.UserID != "" {
		must = append(must, qdrant.NewMatch(payloadUserField, q.UserID))
	}
	if q.GroupID != "" {
		must = append(must, qdrant.NewMatch(payloadGroupField, q.GroupID))
	}
	var filter *qdrant.Filter
	if len(must) > 0 {
		filter = &qdrant.Filter{Must: must}
	}
	vec := make([]float32, len(q.Embedding))
	copy(vec, q.Embedding)
	l := uint64(limit)

	results, err := ix.client.Query(ctx, &qdrant.QueryPoints{
		CollectionName: collection,
		Query:          qdrant.NewQueryDense(vec),
		Limit:          &l,
		Filter:         filter,
		WithPayload:    qdrant.NewWithPayload(true),
	})
	if err != nil {
		return nil, merrors.Transient("qdrant query failed", err)
	}

	var hits []ports.VectorHit
	for _, hit := range results {
		cosine := float64(hit.Score)
		if cosine < q.Radius {
			continue
		}
		id := hit.Id.GetUuid()
		if hit.Payload != nil {
			if v, ok := hit.Payload[payloadIDField]; ok {
				if s := v.GetStringValue(); s != "" {
					id = s
				}
			}
			if !q.StartTime.IsZero() || !q.EndTime.IsZero() {
				if v, ok := hit.Payload[payloadCreatedField]; ok {
					createdUnix := v.GetIntegerValue()
					if !q.StartTime.IsZero() && createdUnix < q.StartTime.Unix() {
						continue
					}
					if !q.EndTime.IsZero() && createdUnix > q.EndTime.Unix() {
						continue
					}
				}
			}
		}
		hits = append(hits, ports.VectorHit{MemoryID: id, Cosine: cosine})
	}
	return hits, nil
}

func (ix *Index) Close() error { return ix.client.Close() }
