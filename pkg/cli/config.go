package cli

import (
	"context"
	"log/slog"
	"time"

	"github.com/m-mizutani/actid/pkg/adapter"
	"github.com/m-mizutani/actid/pkg/metrics"
	"github.com/m-mizutani/actid/pkg/repository"
	"github.com/m-mizutani/actid/pkg/usecase/activity"
	"github.com/m-mizutani/actid/pkg/utils/logging"
	"github.com/m-mizutani/goerr/v2"
	"github.com/urfave/cli/v3"
)

const (
	embedderGemini = "gemini"
	embedderOpenAI = "openai"

	storeFile      = "file"
	storeFirestore = "firestore"
)

// config holds configuration values
type config struct {
	// Logging
	logLevel  string
	logFormat string

	// Store
	store             string
	dataDir           string
	dimension         int
	firestoreProject  string
	firestoreDatabase string

	// Resolver
	threshold   float64
	searchK     int
	concurrency int

	// Embedder
	embedder       string
	geminiProject  string
	geminiLocation string
	geminiModel    string
	openaiAPIKey   string
	openaiBaseURL  string
	openaiModel    string
	embedRate      float64
	embedBurst     int
	embedTimeout   time.Duration

	// Backup
	backupBucket string
}

// globalFlags returns flags for logging and the record store
func globalFlags(cfg *config) []cli.Flag {
	return []cli.Flag{
		&cli.StringFlag{
			Name:        "log-level",
			Usage:       "Log level (debug, info, warn, error)",
			Value:       "info",
			Sources:     cli.EnvVars("ACTID_LOG_LEVEL"),
			Destination: &cfg.logLevel,
		},
		&cli.StringFlag{
			Name:        "log-format",
			Usage:       "Log format (console, json)",
			Value:       "console",
			Sources:     cli.EnvVars("ACTID_LOG_FORMAT"),
			Destination: &cfg.logFormat,
		},
		&cli.StringFlag{
			Name:        "store",
			Usage:       "Record store backend (file, firestore)",
			Value:       storeFile,
			Sources:     cli.EnvVars("ACTID_STORE"),
			Destination: &cfg.store,
		},
		&cli.StringFlag{
			Name:        "firestore-project",
			Usage:       "Google Cloud project ID for the Firestore record store",
			Sources:     cli.EnvVars("ACTID_FIRESTORE_PROJECT", "GOOGLE_CLOUD_PROJECT"),
			Destination: &cfg.firestoreProject,
		},
		&cli.StringFlag{
			Name:        "firestore-database",
			Usage:       "Firestore database ID",
			Value:       "(default)",
			Sources:     cli.EnvVars("FIRESTORE_DATABASE_ID"),
			Destination: &cfg.firestoreDatabase,
		},
		&cli.StringFlag{
			Name:        "data-dir",
			Aliases:     []string{"d"},
			Usage:       "Directory holding the vector index and activity records",
			Value:       "data/vector_db",
			Sources:     cli.EnvVars("ACTID_DATA_DIR", "VECTOR_DB_DIR"),
			Destination: &cfg.dataDir,
		},
		&cli.IntFlag{
			Name:    "dimension",
			Usage:   "Embedding dimension",
			Value:   384,
			Sources: cli.EnvVars("ACTID_DIMENSION"),
		},
	}
}

// resolverFlags returns flags tuning the match policy
func resolverFlags(cfg *config) []cli.Flag {
	return []cli.Flag{
		&cli.FloatFlag{
			Name:        "threshold",
			Usage:       "Minimum similarity to reuse an existing activity id",
			Value:       activity.DefaultThreshold,
			Sources:     cli.EnvVars("ACTID_SIMILARITY_THRESHOLD", "SIMILARITY_THRESHOLD"),
			Destination: &cfg.threshold,
		},
		&cli.IntFlag{
			Name:    "search-k",
			Usage:   "Number of nearest neighbors to inspect",
			Value:   activity.DefaultSearchK,
			Sources: cli.EnvVars("ACTID_SEARCH_K"),
		},
		&cli.IntFlag{
			Name:    "concurrency",
			Usage:   "Maximum concurrent embedding calls per trip plan",
			Value:   activity.DefaultConcurrency,
			Sources: cli.EnvVars("ACTID_CONCURRENCY"),
		},
	}
}

// embedderFlags returns flags for the embedding provider
func embedderFlags(cfg *config) []cli.Flag {
	return []cli.Flag{
		&cli.StringFlag{
			Name:        "embedder",
			Usage:       "Embedding provider (gemini, openai)",
			Value:       embedderGemini,
			Sources:     cli.EnvVars("ACTID_EMBEDDER"),
			Destination: &cfg.embedder,
		},
		&cli.StringFlag{
			Name:        "gemini-project",
			Usage:       "Google Cloud project ID for Gemini",
			Sources:     cli.EnvVars("GEMINI_PROJECT_ID", "GOOGLE_CLOUD_PROJECT"),
			Destination: &cfg.geminiProject,
		},
		&cli.StringFlag{
			Name:        "gemini-location",
			Usage:       "Google Cloud location for Gemini",
			Value:       "us-central1",
			Sources:     cli.EnvVars("GEMINI_LOCATION"),
			Destination: &cfg.geminiLocation,
		},
		&cli.StringFlag{
			Name:        "gemini-model",
			Usage:       "Gemini embedding model",
			Sources:     cli.EnvVars("GEMINI_EMBEDDING_MODEL"),
			Destination: &cfg.geminiModel,
		},
		&cli.StringFlag{
			Name:        "openai-api-key",
			Usage:       "OpenAI API key",
			Sources:     cli.EnvVars("OPENAI_API_KEY"),
			Destination: &cfg.openaiAPIKey,
		},
		&cli.StringFlag{
			Name:        "openai-base-url",
			Usage:       "Base URL of an OpenAI compatible embedding server",
			Sources:     cli.EnvVars("OPENAI_BASE_URL"),
			Destination: &cfg.openaiBaseURL,
		},
		&cli.StringFlag{
			Name:        "openai-model",
			Usage:       "OpenAI embedding model",
			Sources:     cli.EnvVars("OPENAI_EMBEDDING_MODEL"),
			Destination: &cfg.openaiModel,
		},
		&cli.FloatFlag{
			Name:        "embed-rate",
			Usage:       "Maximum embedding calls per second, 0 for unlimited",
			Sources:     cli.EnvVars("ACTID_EMBED_RATE"),
			Destination: &cfg.embedRate,
		},
		&cli.IntFlag{
			Name:    "embed-burst",
			Usage:   "Burst size of the embedding rate limit",
			Value:   1,
			Sources: cli.EnvVars("ACTID_EMBED_BURST"),
		},
		&cli.DurationFlag{
			Name:        "embed-timeout",
			Usage:       "Timeout of a single embedding call, 0 for none",
			Sources:     cli.EnvVars("ACTID_EMBED_TIMEOUT"),
			Destination: &cfg.embedTimeout,
		},
	}
}

// backupFlags returns flags for snapshot backup
func backupFlags(cfg *config) []cli.Flag {
	return []cli.Flag{
		&cli.StringFlag{
			Name:        "backup-bucket",
			Usage:       "Cloud Storage bucket for snapshot backups",
			Sources:     cli.EnvVars("ACTID_BACKUP_BUCKET"),
			Destination: &cfg.backupBucket,
		},
	}
}

// load copies integer flags into cfg and installs the logger
func (cfg *config) load(c *cli.Command) (*slog.Logger, error) {
	cfg.dimension = int(c.Int("dimension"))
	cfg.searchK = int(c.Int("search-k"))
	cfg.concurrency = int(c.Int("concurrency"))
	cfg.embedBurst = int(c.Int("embed-burst"))

	logger, err := logging.New(c.Root().ErrWriter, cfg.logLevel, cfg.logFormat)
	if err != nil {
		return nil, goerr.Wrap(err, "failed to configure logger")
	}
	logging.SetDefault(logger)
	return logger, nil
}

// newRepository creates the configured record store and a function
// releasing it
func (cfg *config) newRepository(ctx context.Context) (repository.Repository, func(), error) {
	switch cfg.store {
	case storeFile:
		repo, err := cfg.newFileRepository()
		if err != nil {
			return nil, nil, err
		}
		return repo, func() {}, nil

	case storeFirestore:
		repo, err := repository.NewFirestore(ctx, cfg.firestoreProject, cfg.firestoreDatabase, cfg.dimension)
		if err != nil {
			return nil, nil, goerr.Wrap(err, "failed to create repository")
		}
		return repo, func() {
			if err := repo.Close(); err != nil {
				logging.From(ctx).Warn("failed to close firestore client", "error", err)
			}
		}, nil

	default:
		return nil, nil, goerr.New("unknown store", goerr.V("store", cfg.store))
	}
}

// newFileRepository creates the file backed record store
func (cfg *config) newFileRepository() (*repository.File, error) {
	if cfg.dataDir == "" {
		return nil, goerr.New("data-dir is required")
	}

	repo, err := repository.NewFile(cfg.dataDir, cfg.dimension)
	if err != nil {
		return nil, goerr.Wrap(err, "failed to create repository")
	}
	return repo, nil
}

// newEmbedder creates the configured embedding provider wrapped with the
// rate limit and timeout
func (cfg *config) newEmbedder(ctx context.Context) (adapter.Embedder, error) {
	var (
		embedder adapter.Embedder
		err      error
	)

	switch cfg.embedder {
	case embedderGemini:
		embedder, err = cfg.newGemini(ctx)
	case embedderOpenAI:
		embedder, err = cfg.newOpenAI()
	default:
		return nil, goerr.New("unknown embedder", goerr.V("embedder", cfg.embedder))
	}
	if err != nil {
		return nil, err
	}

	return adapter.Limit(embedder,
		adapter.WithRate(cfg.embedRate, cfg.embedBurst),
		adapter.WithTimeout(cfg.embedTimeout),
	), nil
}

// newGemini creates a new Gemini adapter instance
func (cfg *config) newGemini(ctx context.Context) (*adapter.Gemini, error) {
	if cfg.geminiProject == "" {
		return nil, goerr.New("gemini-project is required")
	}
	if cfg.geminiLocation == "" {
		return nil, goerr.New("gemini-location is required")
	}

	opts := []adapter.GeminiOption{adapter.WithGeminiDimension(cfg.dimension)}
	if cfg.geminiModel != "" {
		opts = append(opts, adapter.WithEmbeddingModel(cfg.geminiModel))
	}
	return adapter.NewGemini(ctx, cfg.geminiProject, cfg.geminiLocation, opts...)
}

// newOpenAI creates a new OpenAI compatible adapter instance
func (cfg *config) newOpenAI() (*adapter.OpenAI, error) {
	opts := []adapter.OpenAIOption{adapter.WithOpenAIDimension(cfg.dimension)}
	if cfg.openaiModel != "" {
		opts = append(opts, adapter.WithOpenAIModel(cfg.openaiModel))
	}
	if cfg.openaiBaseURL != "" {
		opts = append(opts, adapter.WithBaseURL(cfg.openaiBaseURL))
	}
	return adapter.NewOpenAI(cfg.openaiAPIKey, opts...)
}

// offlineEmbedder rejects every call. Commands that never resolve activities
// use it so they run without embedding credentials.
var offlineEmbedder = adapter.EmbedderFunc(func(ctx context.Context, text string) ([]float32, error) {
	return nil, goerr.New("embedder is not configured for this command")
})

// newUseCase loads the store and creates the resolver. When embedder is nil
// the resolver can only serve read and maintenance operations. The returned
// function closes the resolver and its store.
func (cfg *config) newUseCase(ctx context.Context, embedder adapter.Embedder, m *metrics.Metrics) (*activity.UseCase, func(), error) {
	repo, closeRepo, err := cfg.newRepository(ctx)
	if err != nil {
		return nil, nil, err
	}
	if embedder == nil {
		embedder = offlineEmbedder
	}

	uc, err := activity.New(ctx, repo, embedder,
		activity.WithThreshold(cfg.threshold),
		activity.WithSearchK(cfg.searchK),
		activity.WithConcurrency(cfg.concurrency),
		activity.WithMetrics(m),
	)
	if err != nil {
		closeRepo()
		return nil, nil, goerr.Wrap(err, "failed to create activity resolver")
	}

	return uc, func() {
		_ = uc.Close()
		closeRepo()
	}, nil
}

// newStorage creates a new Storage adapter instance
func (cfg *config) newStorage(ctx context.Context) (*adapter.CloudStorage, error) {
	if cfg.backupBucket == "" {
		return nil, goerr.New("backup-bucket is required")
	}

	storage, err := adapter.NewCloudStorage(ctx, cfg.backupBucket)
	if err != nil {
		return nil, goerr.Wrap(err, "failed to create storage")
	}
	return storage, nil
}
