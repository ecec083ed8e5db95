// Package extract implements the Extractor (§4.D): turns a closed episode
// into typed memory records (episodic summary, atomic facts, semantic
// memories, foresight) plus a profile patch side effect.
//
// Grounded on other_examples/39eaa8d5_..._memory_extraction_service.go.go:
// category-based extraction prompt structure, JSON-schema-constrained LLM
// calls, and the "dedupe against existing memories" prompt technique
// (buildExistingMemoriesContext) — adapted from a single-category
// MongoDB-job-queue extractor to the five-artifact-per-episode extractor
// this engine needs.
package extract

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"memoria/internal/config"
	"memoria/internal/model"
	"memoria/internal/observability"
	"memoria/internal/ports"
)

// Extractor turns closed episodes into memory records.
type Extractor struct {
	cfg config.ExtractionConfig
	llm ports.LLM
	idGen func() string
}

// New constructs an Extractor. idGen generates memory/fact ids; production
// wiring passes uuid.NewString.
func New(cfg config.ExtractionConfig, llm ports.LLM, idGen func() string) *Extractor {
	return &Extractor{cfg: cfg, llm: llm, idGen: idGen}
}

// Result is the output of one Extract call.
type Result struct {
	Episodic *model.EpisodicMemory
	Events   []*model.EventLog
	Semantic []*model.SemanticMemory
	Foresight []*model.Foresight
	Profile  []model.ProfilePatch
	Status   model.ExtractionStatus
}

// episodicOutput is the strict-JSON schema the LLM must return for step 2.
type episodicOutput struct {
	Summary        string   `json:"summary"`
	Importance     float64  `json:"importance"`
	SalientUserIDs []string `json:"salient_user_ids"`
}

type atomicFactOutput struct {
	Subject   string `json:"subject"`
	Predicate string `json:"predicate"`
	Object    string `json:"object"`
	Time      string `json:"time"` // absolute, resolved against episode.end_time if relative
}

type semanticOutput struct {
	Subject   string  `json:"subject"`
	Statement string  `json:"statement"`
	Confidence float64 `json:"confidence"`
	ValidFrom string  `json:"valid_from"`
	ValidTo   string  `json:"valid_to,omitempty"`
}

type profileHintOutput struct {
	UserID        string      `json:"user_id"`
	AttributePath string      `json:"attribute_path"`
	Value         interface{} `json:"value"`
	Confidence    float64     `json:"confidence"`
}

type foresightOutput struct {
	UserID    string `json:"user_id"`
	EventTime string `json:"event_time"`
	Content   string `json:"content"`
}

// Extract implements the sub-steps in §4.D. Each LLM sub-step failure is
// tolerated (per §7's "partial" error class); the episodic memory is always
// persisted if its own step succeeds, with extraction_status reflecting
// which sub-artifacts made it.
func (e *Extractor) Extract(ctx context.Context, episode model.Episode, meta model.ConversationMeta) (Result, error) {
	log := observability.FromContext(ctx)
	preamble := e.renderPreamble(episode, meta)

	var res Result
	succeeded, attempted := 0, 0

	attempted++
	if ep, err := e.extractEpisodic(ctx, preamble, episode); err != nil {
		log.Warn().Err(err).Str("episode_id", episode.EpisodeID).Msg("episodic summarization failed")
	} else {
		res.Episodic = ep
		succeeded++
	}

	attempted++
	if events, err := e.extractEvents(ctx, preamble, episode); err != nil {
		log.Warn().Err(err).Str("episode_id", episode.EpisodeID).Msg("atomic fact extraction failed")
	} else {
		res.Events = events
		succeeded++
	}

	attempted++
	if sems, err := e.extractSemantic(ctx, preamble, episode); err != nil {
		log.Warn().Err(err).Str("episode_id", episode.EpisodeID).Msg("semantic abstraction failed")
	} else {
		res.Semantic = sems
		succeeded++
	}

	attempted++
	if patches, err := e.extractProfileHints(ctx, preamble, episode); err != nil {
		log.Warn().Err(err).Str("episode_id", episode.EpisodeID).Msg("profile hint extraction failed")
	} else {
		res.Profile = patches
		succeeded++
	}

	attempted++
	if fs, err := e.extractForesight(ctx, preamble, episode); err != nil {
		log.Warn().Err(err).Str("episode_id", episode.EpisodeID).Msg("foresight detection failed")
	} else {
		res.Foresight = fs
		succeeded++
	}

	switch {
	case succeeded == attempted:
		res.Status = model.ExtractionComplete
	case succeeded == 0:
		res.Status = model.ExtractionFailed
	default:
		res.Status = model.ExtractionPartial
	}
	if res.Episodic != nil {
		res.Episodic.ExtractionStatus = res.Status
	}
	return res, nil
}

func (e *Extractor) renderPreamble(episode model.Episode, meta model.ConversationMeta) string {
	loc := time.UTC
	if meta.DefaultTimezone != "" {
		if l, err := time.LoadLocation(meta.DefaultTimezone); err == nil {
			loc = l
		}
	}
	var sb strings.Builder
	if meta.SceneDesc != "" {
		sb.WriteString(meta.SceneDesc)
		sb.WriteString("\n\n")
	}
	for _, m := range episode.Messages {
		name := m.Sender
		if detail, ok := meta.UserDetails[m.Sender]; ok && detail.FullName != "" {
			name = detail.FullName
		} else if m.SenderName != "" {
			name = m.SenderName
		}
		sb.WriteString(fmt.Sprintf("[%s] %s: %s\n", m.CreateTime.In(loc).Format(time.RFC3339), name, m.Content))
	}
	return sb.String()
}

func chatJSON(ctx context.Context, llm ports.LLM, system, user string) (string, error) {
	resp, err := llm.Chat(ctx, ports.ChatRequest{
		Messages: []ports.ChatMessage{
			{Role: model.RoleAssistant, Content: system},
			{Role: model.RoleUser, Content: user},
		},
		JSONSchema: "strict",
	})
	if err != nil {
		return "", err
	}
	return resp.Content, nil
}

const episodicPromptAssistant = "Summarize this assistant conversation. Return strict JSON: {summary, importance (0-1), salient_user_ids}."
const episodicPromptGroup = "Summarize this group conversation. Return strict JSON: {summary, importance (0-1), salient_user_ids}."

func (e *Extractor) extractEpisodic(ctx context.Context, preamble string, episode model.Episode) (*model.EpisodicMemory, error) {
	prompt := episodicPromptGroup
	if episode.UserID != "" {
		prompt = episodicPromptAssistant
	}
	raw, err := chatJSON(ctx, e.llm, prompt, preamble)
	if err != nil {
		return nil, err
	}
	var out episodicOutput
	if err := json.Unmarshal([]byte(raw), &out); err != nil {
		return nil, fmt.Errorf("extract: episodic output failed schema validation: %w", err)
	}
	ids := make([]string, len(episode.Messages))
	for i, m := range episode.Messages {
		ids[i] = m.MessageID
	}
	return &model.EpisodicMemory{
		Envelope:         model.Envelope{CreatedAt: time.Now().UTC(), Version: 1},
		MemoryID:         e.idGen(),
		EpisodeID:        episode.EpisodeID,
		UserID:           episode.UserID,
		GroupID:          episode.GroupID,
		Timestamp:        episode.EndTime,
		Summary:          out.Summary,
		SourceMessageIDs: ids,
		Importance:       out.Importance,
	}, nil
}

const atomicFactPrompt = "Extract atomic facts as a JSON array of {subject, predicate, object, time}. Resolve relative times against the episode end time."

func (e *Extractor) extractEvents(ctx context.Context, preamble string, episode model.Episode) ([]*model.EventLog, error) {
	raw, err := chatJSON(ctx, e.llm, atomicFactPrompt, preamble)
	if err != nil {
		return nil, err
	}
	var outs []atomicFactOutput
	if err := json.Unmarshal([]byte(raw), &outs); err != nil {
		return nil, fmt.Errorf("extract: atomic fact output failed schema validation: %w", err)
	}
	events := make([]*model.EventLog, 0, len(outs))
	for _, o := range outs {
		t := resolveTime(o.Time, episode.EndTime)
		events = append(events, &model.EventLog{
			Envelope:  model.Envelope{CreatedAt: time.Now().UTC(), Version: 1},
			ID:        e.idGen(),
			EpisodeID: episode.EpisodeID,
			Subject:   o.Subject,
			Predicate: o.Predicate,
			Object:    o.Object,
			Time:      t,
			GroupID:   episode.GroupID,
		})
	}
	return events, nil
}

const semanticPrompt = "Extract stable long-term statements as a JSON array of {subject, statement, confidence, valid_from, valid_to?}."

func (e *Extractor) extractSemantic(ctx context.Context, preamble string, episode model.Episode) ([]*model.SemanticMemory, error) {
	raw, err := chatJSON(ctx, e.llm, semanticPrompt, preamble)
	if err != nil {
		return nil, err
	}
	var outs []semanticOutput
	if err := json.Unmarshal([]byte(raw), &outs); err != nil {
		return nil, fmt.Errorf("extract: semantic output failed schema validation: %w", err)
	}
	mems := make([]*model.SemanticMemory, 0, len(outs))
	for _, o := range outs {
		validFrom := resolveTime(o.ValidFrom, episode.EndTime)
		var validTo *time.Time
		if o.ValidTo != "" {
			vt := resolveTime(o.ValidTo, episode.EndTime)
			validTo = &vt
		}
		mems = append(mems, &model.SemanticMemory{
			Envelope:         model.Envelope{CreatedAt: time.Now().UTC(), Version: 1},
			ID:               e.idGen(),
			Subject:          o.Subject,
			Statement:        o.Statement,
			Confidence:       o.Confidence,
			ValidFrom:        validFrom,
			ValidTo:          validTo,
			GroupID:          episode.GroupID,
			SourceEpisodeIDs: []string{episode.EpisodeID},
		})
	}
	return mems, nil
}

const profileHintPrompt = "Extract profile updates as a JSON array of {user_id, attribute_path, value, confidence}."

func (e *Extractor) extractProfileHints(ctx context.Context, preamble string, episode model.Episode) ([]model.ProfilePatch, error) {
	raw, err := chatJSON(ctx, e.llm, profileHintPrompt, preamble)
	if err != nil {
		return nil, err
	}
	var outs []profileHintOutput
	if err := json.Unmarshal([]byte(raw), &outs); err != nil {
		return nil, fmt.Errorf("extract: profile hint output failed schema validation: %w", err)
	}
	patches := make([]model.ProfilePatch, 0, len(outs))
	for _, o := range outs {
		patches = append(patches, model.ProfilePatch{
			UserID:        o.UserID,
			GroupID:       episode.GroupID,
			AttributePath: o.AttributePath,
			Value:         o.Value,
			Confidence:    o.Confidence,
			Timestamp:     episode.EndTime,
		})
	}
	return patches, nil
}

const foresightPrompt = "Extract future-dated commitments as a JSON array of {user_id, event_time, content}. Only include items with event_time strictly after the episode end time."

func (e *Extractor) extractForesight(ctx context.Context, preamble string, episode model.Episode) ([]*model.Foresight, error) {
	raw, err := chatJSON(ctx, e.llm, foresightPrompt, preamble)
	if err != nil {
		return nil, err
	}
	var outs []foresightOutput
	if err := json.Unmarshal([]byte(raw), &outs); err != nil {
		return nil, fmt.Errorf("extract: foresight output failed schema validation: %w", err)
	}
	fs := make([]*model.Foresight, 0, len(outs))
	for _, o := range outs {
		t := resolveTime(o.EventTime, episode.EndTime)
		if !t.After(episode.EndTime) {
			continue
		}
		fs = append(fs, &model.Foresight{
			Envelope:  model.Envelope{CreatedAt: time.Now().UTC(), Version: 1},
			ID:        e.idGen(),
			UserID:    o.UserID,
			GroupID:   episode.GroupID,
			EventTime: t,
			Content:   o.Content,
			CreatedAt: episode.EndTime,
		})
	}
	return fs, nil
}

// resolveTime parses an absolute ISO-8601 timestamp; on failure it falls
// back to the episode's end time, per §4.D's "relative phrases are resolved
// against episode.end_time" contract (the LLM is expected to resolve
// relative phrases itself; this is the defensive fallback).
func resolveTime(s string, fallback time.Time) time.Time {
	if s == "" {
		return fallback
	}
	if t, err := time.Parse(time.RFC3339, s); err == nil {
		return t
	}
	return fallback
}
