// Command memoriad runs memoria's HTTP service: it loads configuration,
// wires collaborator-port adapters per provider.kind, and serves §6's
// endpoints until signaled to stop.
//
// Grounded on the teacher's cmd/agentd/main.go wiring style (flag-based
// config path, context-cancel-on-signal, graceful http.Server Shutdown).
package main

import (
	"context"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"

	"memoria/internal/agentic"
	"memoria/internal/boundary"
	"memoria/internal/buffer"
	"memoria/internal/cacheport/memcache"
	"memoria/internal/cacheport/redis"
	"memoria/internal/config"
	"memoria/internal/docport/memdoc"
	"memoria/internal/docport/postgres"
	"memoria/internal/extract"
	"memoria/internal/extractqueue/inmemory"
	"memoria/internal/extractqueue/kafka"
	"memoria/internal/httpapi"
	"memoria/internal/llmport/anthropic"
	"memoria/internal/llmport/gemini"
	"memoria/internal/llmport/openai"
	"memoria/internal/memstore"
	"memoria/internal/observability"
	"memoria/internal/ports"
	"memoria/internal/profile"
	"memoria/internal/reconcile"
	"memoria/internal/rerank"
	"memoria/internal/rerankport/llmrerank"
	"memoria/internal/retrieve"
	"memoria/internal/service"
	pgtext "memoria/internal/textport/postgres"
	"memoria/internal/textport/memtext"
	"memoria/internal/vectorport/memvector"
	"memoria/internal/vectorport/qdrant"

	anthropicsdk "github.com/anthropics/anthropic-sdk-go"
	"github.com/google/uuid"
)

func main() {
	cfgPath := flag.String("config", "", "path to a yaml config file; empty uses built-in defaults")
	flag.Parse()

	cfg := config.Default()
	if *cfgPath != "" {
		loaded, err := config.Load(*cfgPath)
		if err != nil {
			fmt.Fprintln(os.Stderr, err)
			os.Exit(1)
		}
		cfg = *loaded
	}

	log := observability.Init(cfg.Observability.Level, cfg.Observability.Format)
	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()
	ctx = observability.WithLogger(ctx, log)

	svc, cleanup, err := wire(ctx, cfg)
	if err != nil {
		log.Fatal().Err(err).Msg("wiring failed")
	}
	defer cleanup()

	srv := httpapi.NewServer(svc)
	httpSrv := &http.Server{Addr: cfg.Server.Addr, Handler: srv, ReadHeaderTimeout: cfg.Server.RequestTimeout}

	go func() {
		log.Info().Str("addr", cfg.Server.Addr).Msg("memoriad listening")
		if err := httpSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Error().Err(err).Msg("http server exited")
		}
	}()

	<-ctx.Done()
	log.Info().Msg("shutting down")
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	_ = httpSrv.Shutdown(shutdownCtx)
}

// wire constructs every collaborator-port adapter named by cfg's
// ProviderConfig entries and assembles the Service. For the doc store, text
// index, vector index, cache and extract queue, any kind without a dedicated
// adapter (including "" and "memory") selects the in-memory adapter, suitable
// for local/dev/test runs. The LLM and embedder have no in-memory adapter:
// kind=="" selects openai and an unknown kind is an error. The reranker
// defaults to an LLM-backed judge; kind=="none" disables it.
func wire(ctx context.Context, cfg config.Config) (*service.Service, func(), error) {
	var cleanups []func()
	cleanup := func() {
		for i := len(cleanups) - 1; i >= 0; i-- {
			cleanups[i]()
		}
	}

	docs, docsCleanup, err := wireDocStore(ctx, cfg.DocStore)
	if err != nil {
		return nil, cleanup, err
	}
	cleanups = append(cleanups, docsCleanup)

	text, textCleanup, err := wireTextIndex(cfg.TextIndex, docs)
	if err != nil {
		return nil, cleanup, err
	}
	cleanups = append(cleanups, textCleanup)

	vector, vectorCleanup, err := wireVectorIndex(ctx, cfg.VectorIndex)
	if err != nil {
		return nil, cleanup, err
	}
	cleanups = append(cleanups, vectorCleanup)

	cache, cacheCleanup, err := wireCache(ctx, cfg.Cache)
	if err != nil {
		return nil, cleanup, err
	}
	cleanups = append(cleanups, cacheCleanup)

	llm, err := wireLLM(ctx, cfg.LLM)
	if err != nil {
		return nil, cleanup, err
	}
	embedder, err := wireEmbedder(ctx, cfg.Embedder)
	if err != nil {
		return nil, cleanup, err
	}
	rerankProvider, err := wireReranker(cfg.Reranker, llm)
	if err != nil {
		return nil, cleanup, err
	}
	queue := wireExtractQueue(cfg.ExtractQueue, cfg.Extraction)

	boundaryDetector := boundary.New(cfg.Boundary, embedder)
	extractor := extract.New(cfg.Extraction, llm, uuid.NewString)
	store := memstore.New(docs, text, vector, cache)
	profiles := profile.New(cfg.Profile, docs)
	hybrid := retrieve.New(cfg.Retrieval, text, vector, embedder, docs)
	rerankStage := rerank.New(cfg.Rerank, rerankProvider)
	agent := agentic.New(cfg.Agentic, cfg.Retrieval.RRFConstant, hybrid, rerankStage, llm, docs)

	buf := buffer.New(cfg.Buffer, boundaryDetector, nil, buffer.WithIDGen(uuid.NewString))
	buf.Start(ctx)
	cleanups = append(cleanups, buf.Stop)

	recon := reconcile.New(cfg.Reconcile, docs, text, vector, embedder)
	recon.Start(ctx)
	cleanups = append(cleanups, recon.Stop)

	svc := service.New(cfg, service.Deps{
		Buffer: buf, Extractor: extractor, Store: store, Profiles: profiles,
		Hybrid: hybrid, Agent: agent, Rerank: rerankStage, Embedder: embedder,
		Docs: docs, Queue: queue,
	}, service.WithIDGen(uuid.NewString))

	return svc, cleanup, nil
}

func wireDocStore(ctx context.Context, p config.ProviderConfig) (ports.DocStore, func(), error) {
	switch p.Kind {
	case "postgres":
		pool, err := pgxpool.New(ctx, p.DSN)
		if err != nil {
			return nil, func() {}, fmt.Errorf("docstore: postgres connect: %w", err)
		}
		return postgres.New(pool), pool.Close, nil
	default:
		return memdoc.New(), func() {}, nil
	}
}

func wireTextIndex(p config.ProviderConfig, docs ports.DocStore) (ports.TextIndex, func(), error) {
	switch p.Kind {
	case "postgres":
		if pgDocs, ok := docs.(interface{ Pool() *pgxpool.Pool }); ok {
			return pgtext.New(pgDocs.Pool()), func() {}, nil
		}
		return memtext.New(), func() {}, nil
	default:
		return memtext.New(), func() {}, nil
	}
}

func wireVectorIndex(ctx context.Context, p config.ProviderConfig) (ports.VectorIndex, func(), error) {
	switch p.Kind {
	case "qdrant":
		idx, err := qdrant.New(ctx, p.DSN, "memoria", 1536)
		if err != nil {
			return nil, func() {}, fmt.Errorf("vectorindex: qdrant connect: %w", err)
		}
		return idx, func() {}, nil
	default:
		return memvector.New(), func() {}, nil
	}
}

func wireCache(ctx context.Context, p config.ProviderConfig) (ports.Cache, func(), error) {
	switch p.Kind {
	case "redis":
		c, err := redis.New(ctx, redis.Options{Addr: p.DSN})
		if err != nil {
			return nil, func() {}, fmt.Errorf("cache: redis connect: %w", err)
		}
		return c, func() {}, nil
	default:
		return memcache.New(), func() {}, nil
	}
}

func wireLLM(ctx context.Context, p config.ProviderConfig) (ports.LLM, error) {
	switch p.Kind {
	case "anthropic":
		return anthropic.New(p.DSN, anthropicsdk.Model(p.Model)), nil
	case "gemini":
		return gemini.New(ctx, p.DSN, p.Model, "", observability.NewHTTPClient(nil))
	case "openai", "":
		return openai.New(p.DSN, "", p.Model, ""), nil
	default:
		return nil, fmt.Errorf("unknown llm provider kind %q", p.Kind)
	}
}

// wireEmbedder reuses the openai/gemini adapters for embeddings (Anthropic
// has no embeddings endpoint); the embedder ProviderConfig's DSN is the API
// key.
func wireEmbedder(ctx context.Context, p config.ProviderConfig) (ports.Embedder, error) {
	switch p.Kind {
	case "gemini":
		return gemini.New(ctx, p.DSN, "", p.Model, observability.NewHTTPClient(nil))
	case "openai", "":
		client := openai.New(p.DSN, "", "", p.Model)
		return client, nil
	default:
		return nil, fmt.Errorf("unknown embedder provider kind %q", p.Kind)
	}
}

// wireReranker uses an LLM-backed listwise judge by default, since this
// corpus carries no dedicated cross-encoder rerank API client; kind="none"
// disables reranking entirely (rerank.Stage no-ops on a nil provider).
func wireReranker(p config.ProviderConfig, fallback ports.LLM) (ports.Reranker, error) {
	switch p.Kind {
	case "none":
		return nil, nil
	default:
		return llmrerank.New(fallback), nil
	}
}

func wireExtractQueue(p config.ProviderConfig, ext config.ExtractionConfig) ports.ExtractQueue {
	switch p.Kind {
	case "kafka":
		brokers := strings.Split(p.DSN, ",")
		return kafka.New(brokers, "memoria.episodes", "memoria-extractors")
	default:
		capacity := ext.QueueCapacity
		if capacity <= 0 {
			capacity = 1000
		}
		return inmemory.New(capacity)
	}
}
