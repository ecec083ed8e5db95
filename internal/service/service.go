// Package service composes the ingestion and retrieval pipeline
// (buffer→boundary→extract→memstore→profile, and
// scope→retrieve/agentic→rerank) behind one facade, following the
// teacher's internal/rag/service/service.go Option/New template.
//
// Grounded on internal/rag/service/service.go (full file: Service struct,
// New(), functional-options pattern, staged Ingest/Retrieve methods) — the
// direct architectural template for this package.
package service

import (
	"context"
	"time"

	"github.com/google/uuid"

	"memoria/internal/agentic"
	"memoria/internal/buffer"
	"memoria/internal/config"
	"memoria/internal/extract"
	"memoria/internal/memstore"
	"memoria/internal/merrors"
	"memoria/internal/model"
	"memoria/internal/observability"
	"memoria/internal/ports"
	"memoria/internal/profile"
	"memoria/internal/rerank"
	"memoria/internal/retrieve"
	"memoria/internal/scope"
)

const typeConversationMeta model.MemoryType = "conversation_meta"

// Service is memoria's top-level facade.
type Service struct {
	cfg config.Config

	buf       *buffer.Buffer
	extractor *extract.Extractor
	store     *memstore.MemoryStore
	profiles  *profile.Builder
	hybrid    *retrieve.Retriever
	agent     *agentic.Retriever
	rerankers *rerank.Stage
	embedder  ports.Embedder
	docs      ports.DocStore
	queue     ports.ExtractQueue

	clock Clock
	idGen func() string
}

// Deps bundles the collaborator ports and sub-components a Service composes.
// Sub-components (buffer, extractor, store, ...) are built by cmd/memoriad's
// wiring layer, which is where provider selection happens; Service itself
// only orchestrates them.
type Deps struct {
	Buffer    *buffer.Buffer
	Extractor *extract.Extractor
	Store     *memstore.MemoryStore
	Profiles  *profile.Builder
	Hybrid    *retrieve.Retriever
	Agent     *agentic.Retriever
	Rerank    *rerank.Stage
	Embedder  ports.Embedder
	Docs      ports.DocStore
	Queue     ports.ExtractQueue
}

// New constructs a Service from its dependencies.
func New(cfg config.Config, deps Deps, opts ...Option) *Service {
	s := &Service{
		cfg: cfg, buf: deps.Buffer, extractor: deps.Extractor, store: deps.Store,
		profiles: deps.Profiles, hybrid: deps.Hybrid, agent: deps.Agent, rerankers: deps.Rerank,
		embedder: deps.Embedder, docs: deps.Docs, queue: deps.Queue,
		clock: SystemClock{}, idGen: uuid.NewString,
	}
	for _, o := range opts {
		o(s)
	}
	if s.buf != nil {
		s.buf.SetSink(extractSink{s})
	}
	return s
}

// extractSink adapts Service into buffer.EpisodeSink, running extraction and
// persistence for a flushed episode outside the buffer's partition lock.
type extractSink struct{ s *Service }

func (e extractSink) Submit(ctx context.Context, episode model.Episode) {
	e.s.runExtraction(ctx, episode)
}

func (s *Service) runExtraction(ctx context.Context, episode model.Episode) {
	log := observability.FromContext(ctx)
	meta := s.loadConversationMeta(ctx, episode.GroupID)

	if s.queue != nil {
		accepted, err := s.queue.Enqueue(ctx, episode)
		if err == nil && accepted {
			return // a worker pool drains the queue and calls extractAndStore
		}
		if err != nil {
			log.Warn().Err(err).Str("episode_id", episode.EpisodeID).Msg("extract queue enqueue failed; extracting inline")
		}
	}
	s.extractAndStore(ctx, episode, meta)
}

// ExtractAndStore runs the extractor for a closed episode and persists every
// resulting memory record plus any profile patches. Exported so an
// ExtractQueue consumer (a worker pool) can drive it directly.
func (s *Service) ExtractAndStore(ctx context.Context, episode model.Episode) {
	meta := s.loadConversationMeta(ctx, episode.GroupID)
	s.extractAndStore(ctx, episode, meta)
}

func (s *Service) extractAndStore(ctx context.Context, episode model.Episode, meta model.ConversationMeta) {
	log := observability.FromContext(ctx)
	result, err := s.extractor.Extract(ctx, episode, meta)
	if err != nil {
		log.Error().Err(err).Str("episode_id", episode.EpisodeID).Msg("extraction failed entirely")
		return
	}

	if result.Episodic != nil {
		s.putRecord(ctx, result.Episodic)
	}
	for _, e := range result.Events {
		s.putRecord(ctx, e)
	}
	for _, sm := range result.Semantic {
		s.putRecord(ctx, sm)
	}
	for _, f := range result.Foresight {
		s.putRecord(ctx, f)
	}
	for _, patch := range result.Profile {
		if err := s.profiles.ApplyPatch(ctx, patch); err != nil {
			log.Warn().Err(err).Str("user_id", patch.UserID).Msg("profile patch failed")
		}
	}
}

func (s *Service) putRecord(ctx context.Context, rec model.MemoryRecord) {
	log := observability.FromContext(ctx)
	var embedding []float32
	if text, ok := rec.EmbeddableText(); ok && s.embedder != nil {
		vecs, err := s.embedder.Embed(ctx, []string{text})
		if err == nil && len(vecs) > 0 {
			embedding = vecs[0]
		} else if err != nil {
			log.Warn().Err(err).Str("memory_id", rec.RecordID()).Msg("embed failed; record will index text-only")
		}
	}
	if err := s.store.Put(ctx, rec, embedding); err != nil {
		log.Error().Err(err).Str("memory_id", rec.RecordID()).Msg("memstore put failed")
	}
}

// IngestRequest is one accepted inbound message (§6 ingestion endpoint).
type IngestRequest struct {
	Scene   model.Scene
	Message model.Message
}

// IngestResponse mirrors §6's ingestion response shape.
type IngestResponse struct {
	SavedMemories []string
	Count         int
	StatusInfo    string // "accumulated" | "extracted"
}

// Ingest accepts one message into the buffer (§4.A/§4.B). StatusInfo is
// "extracted" only when the message itself was folded into a just-flushed
// episode (buffer.AppendResult.MessageJoinedEpisode) — the CloseAfterNew and
// size-flush paths — and "accumulated" otherwise, including the time-gap and
// CloseBeforeNew flush paths where the message instead seeds the next
// buffer.
func (s *Service) Ingest(ctx context.Context, req IngestRequest) (resp IngestResponse, err error) {
	ctx, span := observability.StartSpan(ctx, "service.Ingest")
	start := s.clock.Now()
	defer func() {
		outcome := "ok"
		if err != nil {
			outcome = "error"
		}
		observability.RecordRequest(ctx, "ingest", outcome, s.clock.Now().Sub(start))
		span.End()
	}()

	if req.Message.MessageID == "" || req.Message.CreateTime.IsZero() {
		return IngestResponse{}, merrors.Input("message_id and create_time are required", nil)
	}
	result, err := s.buf.Append(ctx, req.Scene, req.Message)
	if err != nil {
		return IngestResponse{}, merrors.Fatal("ingest: buffer append failed", err)
	}
	if result.Status == buffer.StatusFlushed && result.MessageJoinedEpisode {
		return IngestResponse{StatusInfo: "extracted", Count: 0}, nil
	}
	return IngestResponse{StatusInfo: "accumulated", Count: 0}, nil
}

// FetchRequest is §6's fetch endpoint contract.
type FetchRequest struct {
	UserID       string
	GroupID      string
	MemoryType   model.MemoryType
	Limit        int
	Offset       int
	SortBy       string
	SortOrder    string
	StartTime    time.Time
	EndTime      time.Time
}

// Fetch reads from the doc store with secondary filters (§4.E).
func (s *Service) Fetch(ctx context.Context, req FetchRequest) ([]ports.DocRow, error) {
	filter, err := scope.ResolveMutation(req.UserID, req.GroupID, req.MemoryType)
	if err != nil {
		return nil, err
	}
	filter.StartTime, filter.EndTime = req.StartTime, req.EndTime
	filter.SortBy, filter.SortOrder = req.SortBy, req.SortOrder
	limit := req.Limit
	if limit <= 0 || limit > 500 {
		limit = 500
	}
	filter.Limit, filter.Offset = limit, req.Offset
	return s.store.Fetch(ctx, filter)
}

// SearchRequest is §6's search endpoint contract.
type SearchRequest struct {
	Query         string
	Scope         scope.Scope
	UserID        string
	GroupID       string
	RetrieveMethod string // keyword | vector | hybrid | rrf | agentic
	DataSource    model.MemoryType
	TopK          int
	TimeRangeDays int
	CurrentTime   time.Time
	Radius        float64
}

// SearchResponse wraps hits with retrieval diagnostics.
type SearchResponse struct {
	Hits        []retrieve.Hit
	Partial     bool
	IsMultiRound bool
	Rounds      int
	JudgeFailed bool
}

// Search dispatches to HybridRetriever or AgenticRetriever per
// retrieve_method (§6/§4.F/§4.H). "profile" is rejected as a data_source
// value here per the search endpoint's contract.
func (s *Service) Search(ctx context.Context, req SearchRequest) (resp SearchResponse, err error) {
	ctx, span := observability.StartSpan(ctx, "service.Search")
	start := s.clock.Now()
	defer func() {
		outcome := "ok"
		if err != nil {
			outcome = "error"
		}
		observability.RecordRequest(ctx, "search", outcome, s.clock.Now().Sub(start))
		span.End()
	}()

	if req.DataSource == model.MemoryTypeProfile {
		return SearchResponse{}, merrors.Input("profile is not a valid data_source for search", nil)
	}

	mode := retrieve.ModeRRF
	switch req.RetrieveMethod {
	case "keyword":
		mode = retrieve.ModeBM25
	case "vector":
		mode = retrieve.ModeEmbedding
	case "hybrid", "rrf", "":
		mode = retrieve.ModeRRF
	case "agentic":
		// handled below
	default:
		return SearchResponse{}, merrors.Input("unknown retrieve_method: "+req.RetrieveMethod, nil)
	}

	topK := req.TopK
	if topK <= 0 || topK > 100 {
		topK = 100
	}

	q := retrieve.Query{
		Text: req.Query, Scope: req.Scope, UserID: req.UserID, GroupID: req.GroupID,
		DataSource: req.DataSource, Mode: mode, TopK: topK, TimeRangeDays: req.TimeRangeDays,
		CurrentTime: req.CurrentTime, Radius: req.Radius,
	}

	if req.RetrieveMethod == "agentic" {
		if s.agent == nil {
			return SearchResponse{}, merrors.Fatal("agentic retrieval not configured", nil)
		}
		hits, meta, err := s.agent.Retrieve(ctx, q)
		if err != nil {
			return SearchResponse{}, err
		}
		return SearchResponse{
			Hits: hits, IsMultiRound: meta.Rounds > 1, Rounds: meta.Rounds, JudgeFailed: meta.JudgeFailed,
		}, nil
	}

	hits, meta, err := s.hybrid.Retrieve(ctx, q)
	if err != nil {
		return SearchResponse{}, err
	}
	if s.rerankers != nil {
		items := make([]rerank.Item, len(hits))
		for i, h := range hits {
			items[i] = rerank.Item{MemoryID: h.MemoryID, Text: h.MemoryID}
		}
		reordered := s.rerankers.Rerank(ctx, req.Query, items)
		byID := make(map[string]retrieve.Hit, len(hits))
		for _, h := range hits {
			byID[h.MemoryID] = h
		}
		hits = hits[:0]
		for _, it := range reordered {
			hits = append(hits, byID[it.MemoryID])
		}
	}
	return SearchResponse{Hits: hits, Partial: meta.Partial}, nil
}

// DeleteRequest is §6's delete endpoint contract; fields are AND-combined.
type DeleteRequest struct {
	EventID string
	UserID  string
	GroupID string
}

// Delete soft-deletes matching rows (§4.E). At least one field must be
// non-__all__ (enforced by scope.ResolveMutation).
func (s *Service) Delete(ctx context.Context, req DeleteRequest) (int, error) {
	filter, err := scope.ResolveMutation(req.UserID, req.GroupID, "")
	if err != nil {
		return 0, err
	}
	if req.EventID != "" && req.EventID != scope.All {
		row, err := s.docs.Get(ctx, req.EventID)
		if err != nil {
			return 0, merrors.NotFound("event not found", err)
		}
		filter.UserID, filter.GroupID = row.UserID, row.GroupID
	}
	return s.store.SoftDelete(ctx, filter)
}

// UpsertConversationMeta creates or replaces a conversation's metadata.
func (s *Service) UpsertConversationMeta(ctx context.Context, meta model.ConversationMeta) error {
	row := ports.DocRow{
		MemoryID: metaRecordID(meta.GroupID), Type: typeConversationMeta, GroupID: meta.GroupID,
		CreatedAt: meta.ConversationCreatedAt, Version: meta.Version,
		Fields: metaFields(meta),
	}
	if row.CreatedAt.IsZero() {
		row.CreatedAt = s.clock.Now()
	}
	return s.docs.Put(ctx, row)
}

// PatchConversationMeta merges only the mutable fields named in §6; any
// attempt to touch an immutable field is rejected without mutating the
// record (testable property 7).
func (s *Service) PatchConversationMeta(ctx context.Context, groupID string, fields map[string]interface{}) error {
	for key := range fields {
		if model.ImmutableFields[key] {
			return merrors.Input("cannot patch immutable field: "+key, nil)
		}
		if !model.MutableFields[key] {
			return merrors.Input("unknown conversation_meta field: "+key, nil)
		}
	}
	row, err := s.docs.Get(ctx, metaRecordID(groupID))
	if err != nil {
		return merrors.NotFound("conversation_meta not found", err)
	}
	return s.docs.Patch(ctx, metaRecordID(groupID), fields, row.Version)
}

func metaRecordID(groupID string) string { return "conversation_meta|" + groupID }

func metaFields(meta model.ConversationMeta) map[string]interface{} {
	return map[string]interface{}{
		"group_id": meta.GroupID, "scene": meta.Scene, "scene_desc": meta.SceneDesc,
		"name": meta.Name, "description": meta.Description, "default_timezone": meta.DefaultTimezone,
		"user_details": meta.UserDetails, "tags": meta.Tags, "version": meta.Version,
		"conversation_created_at": meta.ConversationCreatedAt,
	}
}

func (s *Service) loadConversationMeta(ctx context.Context, groupID string) model.ConversationMeta {
	row, err := s.docs.Get(ctx, metaRecordID(groupID))
	if err != nil {
		return model.ConversationMeta{GroupID: groupID, DefaultTimezone: s.cfg.DefaultTimezone}
	}
	meta := model.ConversationMeta{GroupID: groupID, Version: row.Version}
	if scene, ok := row.Fields["scene"].(model.Scene); ok {
		meta.Scene = scene
	}
	if v, ok := row.Fields["scene_desc"].(string); ok {
		meta.SceneDesc = v
	}
	if v, ok := row.Fields["default_timezone"].(string); ok {
		meta.DefaultTimezone = v
	}
	if v, ok := row.Fields["user_details"].(map[string]model.UserDetail); ok {
		meta.UserDetails = v
	}
	if meta.DefaultTimezone == "" {
		meta.DefaultTimezone = s.cfg.DefaultTimezone
	}
	return meta
}

// Stats exposes MemoryStore.Stats for diagnostics endpoints.
func (s *Service) Stats(ctx context.Context, userID, groupID string) (memstore.Stats, error) {
	return s.store.Stats(ctx, userID, groupID)
}
