package extract

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"memoria/internal/config"
	"memoria/internal/model"
	"memoria/internal/ports"
)

func baseCfg() config.ExtractionConfig {
	return config.ExtractionConfig{Language: "en", MaxRetries: 3}
}

func idGen() func() string {
	n := 0
	return func() string {
		n++
		return "id" + string(rune('0'+n))
	}
}

func episode() model.Episode {
	now := time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)
	return model.Episode{
		EpisodeID: "ep1", GroupID: "G", UserID: "U", StartTime: now.Add(-time.Hour), EndTime: now,
		Messages: []model.Message{
			{MessageID: "m1", Sender: "u1", Role: model.RoleUser, Content: "I'll call the dentist next week.", CreateTime: now.Add(-time.Minute)},
		},
	}
}

// routingLLM dispatches by a substring of the system prompt, returning a
// fixed JSON body per sub-step and failing for steps named in fail.
type routingLLM struct {
	fail map[string]bool
}

func (r routingLLM) Chat(ctx context.Context, req ports.ChatRequest) (ports.ChatResponse, error) {
	system := req.Messages[0].Content
	switch {
	case strings.Contains(system, "Summarize"):
		if r.fail["episodic"] {
			return ports.ChatResponse{}, errors.New("episodic step failed")
		}
		return ports.ChatResponse{Content: `{"summary":"discussed dentist appointment","importance":0.4,"salient_user_ids":["u1"]}`}, nil
	case strings.Contains(system, "atomic facts"):
		if r.fail["events"] {
			return ports.ChatResponse{}, errors.New("events step failed")
		}
		return ports.ChatResponse{Content: `[{"subject":"u1","predicate":"will_call","object":"dentist","time":"2026-01-08T12:00:00Z"}]`}, nil
	case strings.Contains(system, "long-term statements"):
		if r.fail["semantic"] {
			return ports.ChatResponse{}, errors.New("semantic step failed")
		}
		return ports.ChatResponse{Content: `[{"subject":"u1","statement":"has a dentist","confidence":0.7,"valid_from":"2026-01-01T12:00:00Z"}]`}, nil
	case strings.Contains(system, "profile updates"):
		if r.fail["profile"] {
			return ports.ChatResponse{}, errors.New("profile step failed")
		}
		return ports.ChatResponse{Content: `[{"user_id":"u1","attribute_path":"health.dentist","value":true,"confidence":0.6}]`}, nil
	case strings.Contains(system, "future-dated commitments"):
		if r.fail["foresight"] {
			return ports.ChatResponse{}, errors.New("foresight step failed")
		}
		return ports.ChatResponse{Content: `[{"user_id":"u1","event_time":"2026-01-08T09:00:00Z","content":"dentist appointment"}]`}, nil
	}
	return ports.ChatResponse{}, errors.New("unrecognized prompt")
}

func TestExtract_AllStepsSucceedYieldsComplete(t *testing.T) {
	e := New(baseCfg(), routingLLM{}, idGen())
	res, err := e.Extract(context.Background(), episode(), model.ConversationMeta{})
	require.NoError(t, err)
	assert.Equal(t, model.ExtractionComplete, res.Status)
	require.NotNil(t, res.Episodic)
	assert.Equal(t, model.ExtractionComplete, res.Episodic.ExtractionStatus)
	require.Len(t, res.Events, 1)
	require.Len(t, res.Semantic, 1)
	require.Len(t, res.Profile, 1)
	require.Len(t, res.Foresight, 1)
}

// TestExtract_PartialFailureReflectsStatus is §4.D's tolerance rule: some
// sub-artifacts succeeding and some failing yields extraction_status=partial,
// and the episode's episodic summary still persists.
func TestExtract_PartialFailureReflectsStatus(t *testing.T) {
	e := New(baseCfg(), routingLLM{fail: map[string]bool{"semantic": true, "foresight": true}}, idGen())
	res, err := e.Extract(context.Background(), episode(), model.ConversationMeta{})
	require.NoError(t, err)
	assert.Equal(t, model.ExtractionPartial, res.Status)
	require.NotNil(t, res.Episodic)
	assert.Equal(t, model.ExtractionPartial, res.Episodic.ExtractionStatus)
	assert.Empty(t, res.Semantic)
	assert.Empty(t, res.Foresight)
	assert.NotEmpty(t, res.Events)
}

func TestExtract_AllStepsFailYieldsFailedStatus(t *testing.T) {
	e := New(baseCfg(), routingLLM{fail: map[string]bool{"episodic": true, "events": true, "semantic": true, "profile": true, "foresight": true}}, idGen())
	res, err := e.Extract(context.Background(), episode(), model.ConversationMeta{})
	require.NoError(t, err, "a fully-failed extraction is tolerated, not a fatal error")
	assert.Equal(t, model.ExtractionFailed, res.Status)
	assert.Nil(t, res.Episodic)
}

// TestExtract_ForesightExcludesEventsAtOrBeforeEpisodeEnd checks the
// strictly-after-end-time filter on extracted foresight items.
func TestExtract_ForesightExcludesEventsAtOrBeforeEpisodeEnd(t *testing.T) {
	llm := stubLLM{foresight: `[{"user_id":"u1","event_time":"2025-12-01T00:00:00Z","content":"past item"},{"user_id":"u1","event_time":"2026-02-01T00:00:00Z","content":"future item"}]`}
	e := New(baseCfg(), llm, idGen())
	res, err := e.Extract(context.Background(), episode(), model.ConversationMeta{})
	require.NoError(t, err)
	require.Len(t, res.Foresight, 1)
	assert.Equal(t, "future item", res.Foresight[0].Content)
}

// stubLLM returns fixed minimal-valid bodies for every step except
// foresight, which is overridden per test.
type stubLLM struct {
	foresight string
}

func (s stubLLM) Chat(ctx context.Context, req ports.ChatRequest) (ports.ChatResponse, error) {
	system := req.Messages[0].Content
	switch {
	case strings.Contains(system, "Summarize"):
		return ports.ChatResponse{Content: `{"summary":"s","importance":0.1,"salient_user_ids":[]}`}, nil
	case strings.Contains(system, "atomic facts"):
		return ports.ChatResponse{Content: `[]`}, nil
	case strings.Contains(system, "long-term statements"):
		return ports.ChatResponse{Content: `[]`}, nil
	case strings.Contains(system, "profile updates"):
		return ports.ChatResponse{Content: `[]`}, nil
	case strings.Contains(system, "future-dated commitments"):
		return ports.ChatResponse{Content: s.foresight}, nil
	}
	return ports.ChatResponse{}, errors.New("unrecognized prompt")
}
