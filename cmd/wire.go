package cmd

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/spf13/viper"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"

	"ragvault/src/core/knowledgebase"
	"ragvault/src/fsutil"
	"ragvault/src/infrastructure/integrations/extract"
	"ragvault/src/infrastructure/integrations/gemini"
	"ragvault/src/infrastructure/integrations/ollama"
	"ragvault/src/infrastructure/integrations/openai"
	"ragvault/src/infrastructure/integrations/unstructured"
	"ragvault/src/infrastructure/job"
	"ragvault/src/infrastructure/ratelimit"
	"ragvault/src/log"
	"ragvault/src/storage/blob"
	"ragvault/src/storage/minioctrl"
)

const (
	storeLocal = "local"
	storeMinio = "minio"

	providerGemini = "gemini"
	providerOllama = "ollama"
	providerOpenAI = "openai"

	extractorLocal        = "local"
	extractorUnstructured = "unstructured"

	jobsMemory   = "memory"
	jobsPostgres = "postgres"
)

// knowledgeBase is everything built around one loaded vector store.
type knowledgeBase struct {
	blobs     blob.Store
	store     *knowledgebase.Store
	ingestor  *knowledgebase.Ingestor
	service   *knowledgebase.Service
	extractor knowledgebase.TextExtractor
}

func newBlobStore(ctx context.Context) (blob.Store, error) {
	switch backend := viper.GetString("store.backend"); backend {
	case "", storeLocal:
		return blob.NewLocalStore(viper.GetString("store.dir"), fsutil.NewLocalFileStore()), nil
	case storeMinio:
		minioService, err := minioctrl.NewMinioService(
			viper.GetString("minio.endpoint"),
			viper.GetString("minio.access_key"),
			viper.GetString("minio.secret_key"),
			viper.GetString("minio.bucket"),
			viper.GetBool("minio.use_ssl"),
		)
		if err != nil {
			return nil, fmt.Errorf("failed to initialize minio service: %w", err)
		}
		if err := minioService.EnsureBucketExists(ctx); err != nil {
			return nil, err
		}
		return minioService, nil
	default:
		return nil, fmt.Errorf("unknown store backend %q", backend)
	}
}

func newProvider() (knowledgebase.Embedder, knowledgebase.Generator, error) {
	httpClient := &http.Client{Timeout: 2 * time.Minute}

	switch name := viper.GetString("provider.name"); name {
	case providerGemini:
		if viper.GetString("gemini.api_key") == "" {
			return nil, nil, fmt.Errorf("gemini provider needs IA_API_KEY")
		}
		c := gemini.NewClient(gemini.Config{
			APIKey:          viper.GetString("gemini.api_key"),
			BaseURL:         viper.GetString("gemini.base_url"),
			EmbeddingModel:  viper.GetString("gemini.embedding_model"),
			GenerationModel: viper.GetString("gemini.generation_model"),
		}, httpClient)
		return c, c, nil
	case providerOllama:
		c := ollama.NewClient(
			viper.GetString("ollama.url"),
			viper.GetString("ollama.embedding_model"),
			viper.GetString("ollama.generation_model"),
			httpClient,
		)
		return c, c, nil
	case providerOpenAI:
		if viper.GetString("openai.api_key") == "" {
			return nil, nil, fmt.Errorf("openai provider needs OPENAI_API_KEY")
		}
		c := openai.NewClient(openai.Config{
			APIKey:          viper.GetString("openai.api_key"),
			BaseURL:         viper.GetString("openai.base_url"),
			EmbeddingModel:  viper.GetString("openai.embedding_model"),
			GenerationModel: viper.GetString("openai.generation_model"),
		}, httpClient)
		return c, c, nil
	default:
		return nil, nil, fmt.Errorf("unknown provider %q", name)
	}
}

func newExtractor() (knowledgebase.TextExtractor, error) {
	switch name := viper.GetString("extractor.name"); name {
	case "", extractorLocal:
		return extract.NewLocal(), nil
	case extractorUnstructured:
		return unstructured.NewService(viper.GetString("unstructured.url"), &http.Client{Timeout: 5 * time.Minute}), nil
	default:
		return nil, fmt.Errorf("unknown extractor %q", name)
	}
}

func newPacer() *ratelimit.Pacer {
	return ratelimit.NewPacer(ratelimit.Config{
		Interval:            viper.GetDuration("ingest.interval"),
		QuotaBackoffInitial: viper.GetDuration("ingest.quota_backoff_initial"),
		QuotaBackoffMax:     viper.GetDuration("ingest.quota_backoff_max"),
	}, ratelimit.SystemClock())
}

// buildKnowledgeBase loads the store and wires the ingestion and query paths
// around it. metrics may be nil.
func buildKnowledgeBase(ctx context.Context, metrics knowledgebase.Metrics) (*knowledgeBase, error) {
	blobs, err := newBlobStore(ctx)
	if err != nil {
		return nil, err
	}

	store := knowledgebase.NewStore(blobs, viper.GetString("store.key"))
	if err := store.Load(ctx); err != nil {
		return nil, fmt.Errorf("failed to load vector store: %w", err)
	}
	log.Info("Vector store loaded", "key", viper.GetString("store.key"), "chunks", store.Len(), "dimension", store.Dimension())

	embedder, generator, err := newProvider()
	if err != nil {
		return nil, err
	}

	extractor, err := newExtractor()
	if err != nil {
		return nil, err
	}

	policy, err := knowledgebase.ParseDedupPolicy(viper.GetString("ingest.dedup_policy"))
	if err != nil {
		return nil, err
	}
	if policy == knowledgebase.DedupDocument {
		log.Info("Document dedup policy is deprecated; halted documents will not resume")
	}

	node, err := snowflake.NewNode(viper.GetInt64("ids.node"))
	if err != nil {
		return nil, fmt.Errorf("failed to create id node: %w", err)
	}

	opts := []knowledgebase.IngestorOption{
		knowledgebase.WithPacer(newPacer()),
		knowledgebase.WithPersistEachChunk(viper.GetBool("ingest.persist_each_chunk")),
		knowledgebase.WithIngestLogger(log.WithName("ingestor")),
	}
	if metrics != nil {
		opts = append(opts, knowledgebase.WithIngestMetrics(metrics))
		metrics.SetStoreSize(store.Len())
	}

	ingestor := knowledgebase.NewIngestor(
		store,
		knowledgebase.NewDedupIndex(store, policy),
		knowledgebase.NewChunker(viper.GetInt("ingest.min_chunk_chars")),
		embedder,
		node,
		opts...,
	)

	service := knowledgebase.NewService(
		store,
		ingestor,
		embedder,
		generator,
		extractor,
		node,
		knowledgebase.RetrievalConfig{
			TopK:     viper.GetInt("retrieval.top_k"),
			MinScore: viper.GetFloat64("retrieval.min_score"),
		},
		metrics,
	)

	return &knowledgeBase{
		blobs:     blobs,
		store:     store,
		ingestor:  ingestor,
		service:   service,
		extractor: extractor,
	}, nil
}

// newJobRepository returns the job record store and a cleanup func.
func newJobRepository(ctx context.Context) (job.JobRepository, func(), error) {
	switch backend := viper.GetString("jobs.backend"); backend {
	case "", jobsMemory:
		return job.NewMemoryJobRepository(), func() {}, nil
	case jobsPostgres:
		db, err := gorm.Open(postgres.Open(postgresDSN()), &gorm.Config{})
		if err != nil {
			return nil, nil, fmt.Errorf("failed to connect to database: %w", err)
		}
		sqlDB, err := db.DB()
		if err != nil {
			return nil, nil, fmt.Errorf("failed to get underlying *sql.DB: %w", err)
		}
		cleanup := func() {
			if err := sqlDB.Close(); err != nil {
				log.Error(err, "Error closing database connection")
			}
		}

		repo := job.NewPostgresJobRepository(db)
		if err := repo.Migrate(ctx); err != nil {
			cleanup()
			return nil, nil, fmt.Errorf("failed to migrate jobs table: %w", err)
		}
		return repo, cleanup, nil
	default:
		return nil, nil, fmt.Errorf("unknown jobs backend %q", backend)
	}
}

func postgresDSN() string {
	return fmt.Sprintf("host=%s user=%s password=%s dbname=%s port=%s sslmode=disable",
		viper.GetString("postgres.host"),
		viper.GetString("postgres.user"),
		viper.GetString("postgres.password"),
		viper.GetString("postgres.db"),
		viper.GetString("postgres.port"),
	)
}
