// Package config loads memoria's explicit, yaml-tagged configuration
// structs, rejecting unrecognized keys per the "ad-hoc dict configs ->
// explicit configuration structs" design note.
package config

import (
	"bytes"
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"memoria/internal/merrors"
)

// BufferConfig configures MessageBuffer flush policies (§4.B).
type BufferConfig struct {
	GapThreshold     time.Duration `yaml:"gap_threshold"`
	MaxBufferMessages int          `yaml:"max_buffer_messages"`
	IdleThreshold    time.Duration `yaml:"idle_threshold"`
	IdleSweepInterval time.Duration `yaml:"idle_sweep_interval"`
}

// BoundaryConfig configures BoundaryDetector thresholds (§4.C).
type BoundaryConfig struct {
	HardGap                 time.Duration `yaml:"hard_gap"`
	MinEpisodeMessages      int           `yaml:"min_episode_messages"`
	TopicSimilarityThreshold float64      `yaml:"topic_similarity_threshold"`
}

// ExtractionConfig configures the extraction pipeline (§4.D).
type ExtractionConfig struct {
	Language      string `yaml:"language"` // "zh" | "en"
	MaxRetries    int    `yaml:"max_retries"`
	QueueCapacity int    `yaml:"queue_capacity"`
}

// RetrievalConfig configures HybridRetriever defaults (§4.F).
type RetrievalConfig struct {
	RRFConstant    float64 `yaml:"rrf_constant"`
	DefaultRadius  float64 `yaml:"default_radius"`
	DefaultTopK    int     `yaml:"default_top_k"`
	ExpandedKRatio float64 `yaml:"expanded_k_ratio"`
	TimeRangeDays  int     `yaml:"time_range_days"`
}

// RerankConfig configures the reranker stage (§4.G).
type RerankConfig struct {
	BatchSize      int           `yaml:"batch_size"`
	MaxConcurrency int           `yaml:"max_concurrency"`
	MaxAttempts    int           `yaml:"max_attempts"`
	BaseBackoff    time.Duration `yaml:"base_backoff"`
}

// AgenticConfig configures the agentic retrieval loop (§4.H).
type AgenticConfig struct {
	MaxRefinedQueries int `yaml:"max_refined_queries"`
	RoundOneCap       int `yaml:"round_one_cap"`
}

// ProfileConfig configures ProfileBuilder (§4.I).
type ProfileConfig struct {
	RecencyWindow        time.Duration `yaml:"recency_window"`
	MaxProvenanceEntries int           `yaml:"max_provenance_entries"`
}

// ReconcileConfig configures the background reconciliation loop (§5/§7).
type ReconcileConfig struct {
	Interval    time.Duration `yaml:"interval"`
	MaxAttempts int           `yaml:"max_attempts"`
	BatchSize   int           `yaml:"batch_size"`
}

// ServerConfig configures the thin HTTP transport (§6).
type ServerConfig struct {
	Addr           string        `yaml:"addr"`
	RequestTimeout time.Duration `yaml:"request_timeout"`
}

// ObservabilityConfig configures logging/tracing.
type ObservabilityConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"` // "console" | "json"
}

// ProviderConfig names which concrete adapter backs a port, plus its DSN.
type ProviderConfig struct {
	Kind string `yaml:"kind"` // e.g. "openai", "anthropic", "qdrant", "postgres", "redis", "memory", "kafka"
	DSN  string `yaml:"dsn"`
	Model string `yaml:"model,omitempty"`
}

// Config is the top-level memoria configuration document.
type Config struct {
	Server        ServerConfig        `yaml:"server"`
	Observability ObservabilityConfig `yaml:"observability"`
	Buffer        BufferConfig        `yaml:"buffer"`
	Boundary      BoundaryConfig      `yaml:"boundary"`
	Extraction    ExtractionConfig    `yaml:"extraction"`
	Retrieval     RetrievalConfig     `yaml:"retrieval"`
	Rerank        RerankConfig        `yaml:"rerank"`
	Agentic       AgenticConfig       `yaml:"agentic"`
	Profile       ProfileConfig       `yaml:"profile"`
	Reconcile     ReconcileConfig     `yaml:"reconcile"`

	LLM       ProviderConfig `yaml:"llm"`
	Embedder  ProviderConfig `yaml:"embedder"`
	Reranker  ProviderConfig `yaml:"reranker"`
	DocStore  ProviderConfig `yaml:"doc_store"`
	TextIndex ProviderConfig `yaml:"text_index"`
	VectorIndex ProviderConfig `yaml:"vector_index"`
	Cache     ProviderConfig `yaml:"cache"`
	ExtractQueue ProviderConfig `yaml:"extract_queue"`

	DefaultTimezone string `yaml:"default_timezone"`
}

// Default returns a Config populated with the defaults named in spec.md /
// SPEC_FULL.md's recorded Open Question decisions.
func Default() Config {
	return Config{
		Server:        ServerConfig{Addr: ":8088", RequestTimeout: 30 * time.Second},
		Observability: ObservabilityConfig{Level: "info", Format: "console"},
		Buffer: BufferConfig{
			GapThreshold:      30 * time.Minute,
			MaxBufferMessages: 200,
			IdleThreshold:     15 * time.Minute,
			IdleSweepInterval: time.Minute,
		},
		Boundary: BoundaryConfig{
			HardGap:                  2 * time.Hour,
			MinEpisodeMessages:       2,
			TopicSimilarityThreshold: 0.55,
		},
		Extraction: ExtractionConfig{Language: "en", MaxRetries: 3, QueueCapacity: 1000},
		Retrieval: RetrievalConfig{
			RRFConstant:    60,
			DefaultRadius:  0.6,
			DefaultTopK:    10,
			ExpandedKRatio: 3.0,
			TimeRangeDays:  365,
		},
		Rerank:  RerankConfig{BatchSize: 32, MaxConcurrency: 4, MaxAttempts: 3, BaseBackoff: 200 * time.Millisecond},
		Agentic: AgenticConfig{MaxRefinedQueries: 3, RoundOneCap: 20},
		Profile: ProfileConfig{RecencyWindow: 30 * 24 * time.Hour, MaxProvenanceEntries: 200},
		Reconcile: ReconcileConfig{Interval: 10 * time.Second, MaxAttempts: 5, BatchSize: 50},
		DefaultTimezone: "UTC",
	}
}

// Load reads and strictly decodes a yaml configuration file, rejecting
// unrecognized keys (yaml.Decoder.KnownFields(true)) rather than silently
// ignoring them.
func Load(path string) (*Config, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("config: read %s: %w", path, err)
	}
	cfg := Default()
	dec := yaml.NewDecoder(bytes.NewReader(raw))
	dec.KnownFields(true)
	if err := dec.Decode(&cfg); err != nil {
		return nil, merrors.Input(fmt.Sprintf("config: decode %s", path), err)
	}
	return &cfg, nil
}
