// Package buffer implements MessageBuffer (§4.B): per-(group_id,
// conversation_key) ordered accumulation with time-gap, size, topic-shift
// and idle flush policies.
//
// Grounded on the teacher's streaming-token buffer
// (other_examples/.../streaming_buffer.go.go): per-key mutex-guarded map of
// entries, a ticker-driven background flush loop, and a done/wg-guarded
// graceful Stop — adapted here from per-session token buffering to
// per-(group,conversation_key) message buffering with boundary-aware flush.
package buffer

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"memoria/internal/boundary"
	"memoria/internal/config"
	"memoria/internal/model"
	"memoria/internal/observability"
)

// Status is the result of Append.
type Status string

const (
	StatusAccumulated Status = "accumulated"
	StatusFlushed     Status = "flushed"
)

// AppendResult is returned by Append.
type AppendResult struct {
	Status Status
	Episode *model.Episode // set when Status == StatusFlushed

	// MessageJoinedEpisode is true when the just-appended message was folded
	// into Episode before the flush (the size-flush and CloseAfterNew
	// paths), and false when it was held back to seed the next buffer
	// instead (the time-gap and CloseBeforeNew paths, where Episode is
	// entirely messages appended on earlier calls).
	MessageJoinedEpisode bool
}

// partition holds one (group_id, conversation_key) buffer.
type partition struct {
	mu               sync.Mutex
	key              string
	groupID          string
	conversationKey  string
	messages         []model.Message
	seen             map[string]bool
	lastAppend       time.Time
	extractionInFlight bool
}

// EpisodeSink receives episodes produced by flush, outside the partition
// lock, so LLM-latency extraction never blocks buffer writers (§5).
type EpisodeSink interface {
	Submit(ctx context.Context, episode model.Episode)
}

// Buffer is the MessageBuffer component.
type Buffer struct {
	cfg      config.BufferConfig
	detector *boundary.Detector
	sink     EpisodeSink
	idGen    func() string

	mu         sync.Mutex
	partitions map[string]*partition

	stopOnce sync.Once
	stopCh   chan struct{}
	wg       sync.WaitGroup
}

// SetSink (re)binds the episode sink. Used when the sink (typically the
// top-level Service) is constructed after the Buffer itself, to break the
// construction cycle.
func (b *Buffer) SetSink(sink EpisodeSink) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.sink = sink
}

// New constructs a Buffer. detector decides topic-shift closure (§4.C); sink
// receives flushed episodes for extraction. Episode ids are generated with
// uuid.NewString by default — matching the injectable-idGen pattern used by
// extract.New and service.WithIDGen — override with WithIDGen for tests that
// need deterministic ids.
func New(cfg config.BufferConfig, detector *boundary.Detector, sink EpisodeSink, opts ...Option) *Buffer {
	b := &Buffer{
		cfg:        cfg,
		detector:   detector,
		sink:       sink,
		idGen:      uuid.NewString,
		partitions: make(map[string]*partition),
		stopCh:     make(chan struct{}),
	}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

// Option configures optional Buffer construction parameters.
type Option func(*Buffer)

// WithIDGen overrides the episode id generator (default uuid.NewString).
func WithIDGen(gen func() string) Option {
	return func(b *Buffer) { b.idGen = gen }
}

// conversationKey returns sender in assistant scene, or the literal group
// otherwise, per the contract in §4.B.
func conversationKey(scene model.Scene, groupID, sender string) string {
	if scene == model.SceneAssistant {
		return sender
	}
	return groupID
}

func partitionKey(groupID, conversationKey string) string {
	return groupID + "\x00" + conversationKey
}

func (b *Buffer) getOrCreatePartition(groupID, convKey string) *partition {
	pk := partitionKey(groupID, convKey)
	b.mu.Lock()
	defer b.mu.Unlock()
	p, ok := b.partitions[pk]
	if !ok {
		p = &partition{key: pk, groupID: groupID, conversationKey: convKey, seen: make(map[string]bool)}
		b.partitions[pk] = p
	}
	return p
}

// Append appends msg to its partition, applying flush policies (§4.B).
func (b *Buffer) Append(ctx context.Context, scene model.Scene, msg model.Message) (AppendResult, error) {
	convKey := conversationKey(scene, msg.GroupID, msg.Sender)
	p := b.getOrCreatePartition(msg.GroupID, convKey)

	p.mu.Lock()
	defer p.mu.Unlock()

	if p.seen[msg.MessageID] {
		// idempotent append: duplicate message_id is a no-op
		return AppendResult{Status: StatusAccumulated}, nil
	}

	log := observability.FromContext(ctx)

	// Time-gap flush: flush the prior buffer before appending msg.
	if len(p.messages) > 0 && !p.lastAppend.IsZero() {
		gap := msg.CreateTime.Sub(p.lastAppend)
		if gap >= b.cfg.GapThreshold {
			ep := b.flushLocked(ctx, p)
			p.appendLocked(msg)
			log.Debug().Str("partition", p.key).Msg("buffer time-gap flush")
			return AppendResult{Status: StatusFlushed, Episode: ep}, nil
		}
	}

	// Topic-shift flush via BoundaryDetector.
	if b.detector != nil && len(p.messages) > 0 {
		decision, err := b.detector.Detect(ctx, p.messages, msg)
		if err != nil {
			log.Warn().Err(err).Msg("boundary detect failed; treating as open")
		} else {
			switch decision {
			case boundary.CloseBeforeNew:
				ep := b.flushLocked(ctx, p)
				p.appendLocked(msg)
				return AppendResult{Status: StatusFlushed, Episode: ep}, nil
			case boundary.CloseAfterNew:
				p.appendLocked(msg)
				ep := b.flushLocked(ctx, p)
				return AppendResult{Status: StatusFlushed, Episode: ep, MessageJoinedEpisode: true}, nil
			}
		}
	}

	p.appendLocked(msg)

	// Size flush: if buffer length reaches max_buffer_messages, flush.
	if b.cfg.MaxBufferMessages > 0 && len(p.messages) >= b.cfg.MaxBufferMessages {
		ep := b.flushLocked(ctx, p)
		return AppendResult{Status: StatusFlushed, Episode: ep, MessageJoinedEpisode: true}, nil
	}

	return AppendResult{Status: StatusAccumulated}, nil
}

func (p *partition) appendLocked(msg model.Message) {
	p.messages = append(p.messages, msg)
	p.seen[msg.MessageID] = true
	p.lastAppend = msg.CreateTime
}

// flushLocked sorts the buffer by create_time (tie-break message_id
// lexicographic), builds an Episode, clears the partition, and hands the
// episode to the sink on a new goroutine (the caller still holds p.mu at call
// time, so Submit never runs under the partition lock).
func (b *Buffer) flushLocked(ctx context.Context, p *partition) *model.Episode {
	if len(p.messages) == 0 {
		return nil
	}
	msgs := make([]model.Message, len(p.messages))
	copy(msgs, p.messages)
	sort.SliceStable(msgs, func(i, j int) bool {
		if msgs[i].CreateTime.Equal(msgs[j].CreateTime) {
			return msgs[i].MessageID < msgs[j].MessageID
		}
		return msgs[i].CreateTime.Before(msgs[j].CreateTime)
	})

	userID := ""
	if p.conversationKey != p.groupID {
		userID = p.conversationKey
	}

	ep := &model.Episode{
		EpisodeID: b.idGen(),
		GroupID:   p.groupID,
		UserID:    userID,
		Messages:  msgs,
		StartTime: msgs[0].CreateTime,
		EndTime:   msgs[len(msgs)-1].CreateTime,
	}

	p.messages = nil
	p.seen = make(map[string]bool)
	p.lastAppend = time.Time{}

	if sink := b.currentSink(); sink != nil {
		go sink.Submit(context.WithoutCancel(ctx), *ep)
	}
	return ep
}

func (b *Buffer) currentSink() EpisodeSink {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.sink
}

// Start launches the idle-flush background sweep.
func (b *Buffer) Start(ctx context.Context) {
	if b.cfg.IdleSweepInterval <= 0 {
		return
	}
	b.wg.Add(1)
	go func() {
		defer b.wg.Done()
		ticker := time.NewTicker(b.cfg.IdleSweepInterval)
		defer ticker.Stop()
		for {
			select {
			case <-b.stopCh:
				return
			case <-ticker.C:
				b.sweepIdle(ctx)
			}
		}
	}()
}

func (b *Buffer) sweepIdle(ctx context.Context) {
	now := time.Now()
	b.mu.Lock()
	parts := make([]*partition, 0, len(b.partitions))
	for _, p := range b.partitions {
		parts = append(parts, p)
	}
	b.mu.Unlock()

	for _, p := range parts {
		p.mu.Lock()
		if len(p.messages) > 0 && !p.lastAppend.IsZero() && now.Sub(p.lastAppend) >= b.cfg.IdleThreshold {
			b.flushLocked(ctx, p)
		}
		p.mu.Unlock()
	}
}

// Stop halts the idle-flush sweep and waits for it to exit.
func (b *Buffer) Stop() {
	b.stopOnce.Do(func() { close(b.stopCh) })
	b.wg.Wait()
}

// PendingMessages reports in-flight (unflushed) messages for a partition, so
// retrieval responses can surface pending_messages per §5.
func (b *Buffer) PendingMessages(groupID, convKey string) []model.PendingMessage {
	p := b.getOrCreatePartition(groupID, convKey)
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]model.PendingMessage, 0, len(p.messages))
	for _, m := range p.messages {
		out = append(out, model.PendingMessage{MessageID: m.MessageID, CreateTime: m.CreateTime})
	}
	return out
}

