// Package model defines the data types shared across memoria's ingestion and
// retrieval pipeline: messages, conversation metadata, episodes, and the
// discriminated union of memory record variants.
package model

import "time"

// Role identifies the sender side of a Message.
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// Scene identifies the kind of conversation a ConversationMeta describes.
type Scene string

const (
	SceneAssistant  Scene = "assistant"
	SceneGroupChat  Scene = "group_chat"
)

// Message is an immutable input record ingested by the buffer.
type Message struct {
	MessageID  string    `json:"message_id"`
	CreateTime time.Time `json:"create_time"`
	Sender     string    `json:"sender"`
	SenderName string    `json:"sender_name,omitempty"`
	Role       Role      `json:"role"`
	Content    string    `json:"content"`
	GroupID    string    `json:"group_id,omitempty"`
	GroupName  string    `json:"group_name,omitempty"`
	ReferList  []string  `json:"refer_list,omitempty"`
}

// UserDetail is per-user display/role metadata scoped to a conversation.
type UserDetail struct {
	FullName   string            `yaml:"full_name" json:"full_name"`
	Role       string            `yaml:"role" json:"role"`
	CustomRole string            `yaml:"custom_role" json:"custom_role,omitempty"`
	Extra      map[string]string `yaml:"extra" json:"extra,omitempty"`
}

// ConversationMeta is per-group (or default) conversation configuration.
// version, Scene, GroupID and ConversationCreatedAt are immutable post-creation.
type ConversationMeta struct {
	GroupID               string                `json:"group_id,omitempty"`
	Scene                 Scene                 `json:"scene"`
	SceneDesc             string                `json:"scene_desc,omitempty"`
	Name                  string                `json:"name,omitempty"`
	Description           string                `json:"description,omitempty"`
	DefaultTimezone       string                `json:"default_timezone"`
	UserDetails           map[string]UserDetail `json:"user_details,omitempty"`
	Tags                  []string              `json:"tags,omitempty"`
	Version               int                   `json:"version"`
	ConversationCreatedAt time.Time             `json:"conversation_created_at"`
}

// MutableFields are the ConversationMeta fields a PATCH is allowed to touch.
var MutableFields = map[string]bool{
	"name":             true,
	"description":      true,
	"scene_desc":       true,
	"tags":             true,
	"user_details":     true,
	"default_timezone": true,
}

// ImmutableFields are the ConversationMeta fields a PATCH must reject.
var ImmutableFields = map[string]bool{
	"version":                 true,
	"scene":                   true,
	"group_id":                true,
	"conversation_created_at": true,
}

// Episode is a closed ordered sequence of messages, the unit of extraction.
// Not persisted as a first-class row; referenced by derived memories via EpisodeID.
type Episode struct {
	EpisodeID string
	GroupID   string
	UserID    string // implicit single user for assistant scene; empty for group_chat
	Messages  []Message
	StartTime time.Time
	EndTime   time.Time
}

// MemoryType tags the discriminated union of memory record variants.
type MemoryType string

const (
	MemoryTypeEpisodic MemoryType = "episodic_memory"
	MemoryTypeEventLog MemoryType = "event_log"
	MemoryTypeSemantic MemoryType = "semantic_memory"
	MemoryTypeProfile  MemoryType = "profile"
	MemoryTypeForesight MemoryType = "foresight"
)

// ExtractionStatus reflects how much of an episode's extraction succeeded.
type ExtractionStatus string

const (
	ExtractionComplete ExtractionStatus = "complete"
	ExtractionPartial  ExtractionStatus = "partial"
	ExtractionFailed   ExtractionStatus = "failed"
)

// Envelope holds the fields common to every stored memory record.
type Envelope struct {
	CreatedAt time.Time `json:"created_at"`
	Deleted   bool      `json:"deleted"`
	Version   int       `json:"version"`
	// IndexPending is true when the doc row has been written but text/vector
	// indexing has not yet completed (or failed and awaits reconciliation).
	IndexPending bool `json:"index_pending"`
}

// MemoryRecord is the common interface implemented by every memory variant.
type MemoryRecord interface {
	RecordID() string
	Type() MemoryType
	Env() *Envelope
	EmbeddableText() (text string, ok bool)
}

// EpisodicMemory summarizes one closed episode.
type EpisodicMemory struct {
	Envelope
	MemoryID         string   `json:"memory_id"`
	EpisodeID        string   `json:"episode_id"`
	UserID           string   `json:"user_id,omitempty"`
	GroupID          string   `json:"group_id,omitempty"`
	Timestamp        time.Time `json:"timestamp"`
	Summary          string   `json:"summary"`
	Content          string   `json:"content,omitempty"`
	SourceMessageIDs []string `json:"source_message_ids"`
	Importance       float64  `json:"importance"`
	ExtractionStatus ExtractionStatus `json:"extraction_status"`
}

func (e *EpisodicMemory) RecordID() string { return e.MemoryID }
func (e *EpisodicMemory) Type() MemoryType  { return MemoryTypeEpisodic }
func (e *EpisodicMemory) Env() *Envelope    { return &e.Envelope }
func (e *EpisodicMemory) EmbeddableText() (string, bool) {
	if e.Summary == "" {
		return "", false
	}
	return e.Summary, true
}

// EventLog is an atomic (subject, predicate, object, time) fact.
type EventLog struct {
	Envelope
	ID               string    `json:"id"`
	EpisodeID        string    `json:"episode_id"`
	Subject          string    `json:"subject"`
	Predicate        string    `json:"predicate"`
	Object           string    `json:"object"`
	Time             time.Time `json:"time"`
	GroupID          string    `json:"group_id,omitempty"`
	SourceMessageIDs []string  `json:"source_message_ids"`
}

func (e *EventLog) RecordID() string { return e.ID }
func (e *EventLog) Type() MemoryType  { return MemoryTypeEventLog }
func (e *EventLog) Env() *Envelope    { return &e.Envelope }
func (e *EventLog) EmbeddableText() (string, bool) {
	// event_log embeds as its atomic-fact text, but the vector index treats
	// this collection as L2/unsupported per the retrieval contract; the
	// text is still produced so a future vector-capable store can use it.
	return e.Subject + " " + e.Predicate + " " + e.Object, true
}

// SemanticMemory is an abstracted long-term statement with a validity window.
type SemanticMemory struct {
	Envelope
	ID               string     `json:"id"`
	Subject          string     `json:"subject"`
	Statement        string     `json:"statement"`
	Confidence       float64    `json:"confidence"`
	ValidFrom        time.Time  `json:"valid_from"`
	ValidTo          *time.Time `json:"valid_to,omitempty"`
	GroupID          string     `json:"group_id,omitempty"`
	SourceEpisodeIDs []string   `json:"source_episode_ids"`
}

func (s *SemanticMemory) RecordID() string { return s.ID }
func (s *SemanticMemory) Type() MemoryType  { return MemoryTypeSemantic }
func (s *SemanticMemory) Env() *Envelope    { return &s.Envelope }
func (s *SemanticMemory) EmbeddableText() (string, bool) {
	if s.Statement == "" {
		return "", false
	}
	return s.Statement, true
}

// ValidAt reports whether the semantic memory is valid at the given instant:
// valid_from <= at < coalesce(valid_to, +inf).
func (s *SemanticMemory) ValidAt(at time.Time) bool {
	if at.Before(s.ValidFrom) {
		return false
	}
	if s.ValidTo != nil && !at.Before(*s.ValidTo) {
		return false
	}
	return true
}

// ProvenanceEntry records one applied patch in a Profile's bounded history.
type ProvenanceEntry struct {
	AttributePath      string    `json:"attribute_path"`
	ProvenanceMemoryID string    `json:"provenance_memory_id"`
	Confidence         float64   `json:"confidence"`
	Timestamp          time.Time `json:"timestamp"`
}

// Profile aggregates attributes about a (user_id, group_id) pair.
type Profile struct {
	Envelope
	UserID      string                 `json:"user_id"`
	GroupID     string                 `json:"group_id"`
	Attributes  map[string]interface{} `json:"attributes"`
	LastUpdated time.Time              `json:"last_updated"`
	Provenance  []ProvenanceEntry      `json:"provenance"`
}

func (p *Profile) RecordID() string { return p.UserID + "|" + p.GroupID }
func (p *Profile) Type() MemoryType  { return MemoryTypeProfile }
func (p *Profile) Env() *Envelope    { return &p.Envelope }
func (p *Profile) EmbeddableText() (string, bool) { return "", false }

// Foresight is a future-dated commitment or intention.
type Foresight struct {
	Envelope
	ID        string    `json:"id"`
	UserID    string    `json:"user_id,omitempty"`
	GroupID   string    `json:"group_id,omitempty"`
	EventTime time.Time `json:"event_time"`
	Content   string    `json:"content"`
	CreatedAt time.Time `json:"created_at_source"`
}

func (f *Foresight) RecordID() string { return f.ID }
func (f *Foresight) Type() MemoryType  { return MemoryTypeForesight }
func (f *Foresight) Env() *Envelope    { return &f.Envelope }
func (f *Foresight) EmbeddableText() (string, bool) {
	if f.Content == "" {
		return "", false
	}
	return f.Content, true
}

// ProfilePatch is the side-effect emitted by the extractor for ProfileBuilder.
type ProfilePatch struct {
	UserID             string
	GroupID            string
	AttributePath      string
	Value              interface{}
	ProvenanceMemoryID string
	Confidence         float64
	Timestamp          time.Time
}

// PendingMessage is a message accepted into the buffer but not yet flushed.
type PendingMessage struct {
	MessageID  string    `json:"message_id"`
	CreateTime time.Time `json:"create_time"`
}
