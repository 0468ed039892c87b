package cli

import (
	"context"
	"os"
	"path/filepath"
	"time"

	"github.com/m-mizutani/goerr/v2"
	"github.com/m-mizutani/comicforge/pkg/adapter"
	"github.com/m-mizutani/comicforge/pkg/interfaces"
	"github.com/m-mizutani/comicforge/pkg/model"
	"github.com/m-mizutani/comicforge/pkg/policy"
	"github.com/m-mizutani/comicforge/pkg/repository"
	"github.com/m-mizutani/comicforge/pkg/usecase/comic"
	"github.com/m-mizutani/comicforge/pkg/usecase/history"
	"github.com/m-mizutani/comicforge/pkg/utils/logging"
	"github.com/urfave/cli/v3"
)

// Storage backends for the history store
const (
	storageMemory    = "memory"
	storageFile      = "file"
	storageSQLite    = "sqlite"
	storageFirestore = "firestore"
	storageGCS       = "gcs"
)

// config holds configuration values
type config struct {
	// Logging
	logLevel  string
	logFormat string

	// Storage
	storage             string
	dataDir             string
	sqlitePath          string
	project             string
	database            string
	firestoreCollection string
	bucket              string
	bucketPrefix        string
	storageQuota        int64
	credentials         string

	// History
	historyKey      string
	historyCapacity int64

	// Gemini
	geminiAPIKey    string
	geminiProject   string
	geminiLocation  string
	storyModel      string
	imagenModel     string
	flashImageModel string
	speechModel     string
	chatModel       string
	imageHint       string

	// Generation
	concurrency  int64
	rateInterval time.Duration
	rateBurst    int64
	panelTimeout time.Duration
	policyDir    string
}

func defaultDataDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ".comicforge"
	}
	return filepath.Join(home, ".comicforge")
}

// globalFlags returns common flags used across commands with destination config
func globalFlags(cfg *config) []cli.Flag {
	return []cli.Flag{
		&cli.StringFlag{
			Name:        "log-level",
			Usage:       "Log level (debug, info, warn, error)",
			Value:       "info",
			Sources:     cli.EnvVars("COMICFORGE_LOG_LEVEL"),
			Destination: &cfg.logLevel,
		},
		&cli.StringFlag{
			Name:        "log-format",
			Usage:       "Log format (console, json)",
			Value:       string(logging.FormatConsole),
			Sources:     cli.EnvVars("COMICFORGE_LOG_FORMAT"),
			Destination: &cfg.logFormat,
		},
		&cli.StringFlag{
			Name:        "storage",
			Usage:       "History storage backend (memory, file, sqlite, firestore, gcs)",
			Value:       storageFile,
			Sources:     cli.EnvVars("COMICFORGE_STORAGE"),
			Destination: &cfg.storage,
		},
		&cli.StringFlag{
			Name:        "data-dir",
			Usage:       "Directory for the file and sqlite backends",
			Value:       defaultDataDir(),
			Sources:     cli.EnvVars("COMICFORGE_DATA_DIR"),
			Destination: &cfg.dataDir,
		},
		&cli.StringFlag{
			Name:        "sqlite-path",
			Usage:       "SQLite database file. Defaults to comicforge.db in data-dir",
			Sources:     cli.EnvVars("COMICFORGE_SQLITE_PATH"),
			Destination: &cfg.sqlitePath,
		},
		&cli.StringFlag{
			Name:        "project",
			Aliases:     []string{"p"},
			Usage:       "Google Cloud project ID",
			Sources:     cli.EnvVars("GOOGLE_CLOUD_PROJECT"),
			Destination: &cfg.project,
		},
		&cli.StringFlag{
			Name:        "database",
			Aliases:     []string{"d"},
			Usage:       "Firestore database ID",
			Value:       "(default)",
			Sources:     cli.EnvVars("FIRESTORE_DATABASE_ID"),
			Destination: &cfg.database,
		},
		&cli.StringFlag{
			Name:        "firestore-collection",
			Usage:       "Firestore collection holding history documents",
			Value:       "comicforge",
			Sources:     cli.EnvVars("COMICFORGE_FIRESTORE_COLLECTION"),
			Destination: &cfg.firestoreCollection,
		},
		&cli.StringFlag{
			Name:        "bucket",
			Usage:       "Cloud Storage bucket for the gcs backend and chat transcripts",
			Sources:     cli.EnvVars("COMICFORGE_BUCKET"),
			Destination: &cfg.bucket,
		},
		&cli.StringFlag{
			Name:        "bucket-prefix",
			Usage:       "Object prefix in the bucket",
			Value:       "comicforge",
			Sources:     cli.EnvVars("COMICFORGE_BUCKET_PREFIX"),
			Destination: &cfg.bucketPrefix,
		},
		&cli.IntFlag{
			Name:        "storage-quota",
			Usage:       "Reject history writes larger than this many bytes (0 disables)",
			Sources:     cli.EnvVars("COMICFORGE_STORAGE_QUOTA"),
			Destination: &cfg.storageQuota,
		},
		&cli.StringFlag{
			Name:        "credentials",
			Usage:       "Google Cloud credentials file. Application default credentials are used when empty",
			Sources:     cli.EnvVars("COMICFORGE_CREDENTIALS"),
			Destination: &cfg.credentials,
		},
		&cli.StringFlag{
			Name:        "history-key",
			Usage:       "Storage key of the history list",
			Value:       history.DefaultKey,
			Sources:     cli.EnvVars("COMICFORGE_HISTORY_KEY"),
			Destination: &cfg.historyKey,
		},
		&cli.IntFlag{
			Name:        "history-capacity",
			Usage:       "Number of comics kept in history",
			Value:       history.DefaultCapacity,
			Sources:     cli.EnvVars("COMICFORGE_HISTORY_CAPACITY"),
			Destination: &cfg.historyCapacity,
		},
	}
}

// llmFlags returns flags for Gemini configuration with destination config
func llmFlags(cfg *config) []cli.Flag {
	return []cli.Flag{
		&cli.StringFlag{
			Name:        "gemini-api-key",
			Usage:       "Gemini API key. Vertex AI is used when empty",
			Sources:     cli.EnvVars("GEMINI_API_KEY"),
			Destination: &cfg.geminiAPIKey,
		},
		&cli.StringFlag{
			Name:        "gemini-project",
			Usage:       "Google Cloud project ID for Gemini on Vertex AI",
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
			Name:        "story-model",
			Usage:       "Model generating the story",
			Value:       adapter.DefaultStoryModel,
			Sources:     cli.EnvVars("COMICFORGE_STORY_MODEL"),
			Destination: &cfg.storyModel,
		},
		&cli.StringFlag{
			Name:        "imagen-model",
			Usage:       "Imagen model for covers and imagen_4 panels",
			Value:       adapter.DefaultImagenModel,
			Sources:     cli.EnvVars("COMICFORGE_IMAGEN_MODEL"),
			Destination: &cfg.imagenModel,
		},
		&cli.StringFlag{
			Name:        "flash-image-model",
			Usage:       "Image model for nano_banana panels and edits",
			Value:       adapter.DefaultFlashImage,
			Sources:     cli.EnvVars("COMICFORGE_FLASH_IMAGE_MODEL"),
			Destination: &cfg.flashImageModel,
		},
		&cli.StringFlag{
			Name:        "speech-model",
			Usage:       "Text to speech model",
			Value:       adapter.DefaultSpeechModel,
			Sources:     cli.EnvVars("COMICFORGE_SPEECH_MODEL"),
			Destination: &cfg.speechModel,
		},
		&cli.StringFlag{
			Name:        "chat-model",
			Usage:       "Model for character chat",
			Value:       adapter.DefaultChatModel,
			Sources:     cli.EnvVars("COMICFORGE_CHAT_MODEL"),
			Destination: &cfg.chatModel,
		},
		&cli.StringFlag{
			Name:        "image-hint",
			Usage:       "Image model used when the story gives no preference (imagen_4, nano_banana)",
			Value:       string(model.ModelHintImagen),
			Sources:     cli.EnvVars("COMICFORGE_IMAGE_HINT"),
			Destination: &cfg.imageHint,
		},
	}
}

// generationFlags returns flags controlling panel scheduling
func generationFlags(cfg *config) []cli.Flag {
	return []cli.Flag{
		&cli.IntFlag{
			Name:        "concurrency",
			Usage:       "Panels generated at the same time (1 generates in panel order)",
			Value:       1,
			Sources:     cli.EnvVars("COMICFORGE_CONCURRENCY"),
			Destination: &cfg.concurrency,
		},
		&cli.DurationFlag{
			Name:        "rate-interval",
			Usage:       "Minimum interval between image requests (0 disables)",
			Sources:     cli.EnvVars("COMICFORGE_RATE_INTERVAL"),
			Destination: &cfg.rateInterval,
		},
		&cli.IntFlag{
			Name:        "rate-burst",
			Usage:       "Image requests allowed in a burst",
			Value:       1,
			Sources:     cli.EnvVars("COMICFORGE_RATE_BURST"),
			Destination: &cfg.rateBurst,
		},
		&cli.DurationFlag{
			Name:        "panel-timeout",
			Usage:       "Time limit of one panel image request. A panel over the limit fails (0 disables)",
			Sources:     cli.EnvVars("COMICFORGE_PANEL_TIMEOUT"),
			Destination: &cfg.panelTimeout,
		},
		&cli.StringFlag{
			Name:        "policy-dir",
			Usage:       "Directory of Rego files deciding which comics are kept in history",
			Sources:     cli.EnvVars("COMICFORGE_POLICY_DIR"),
			Destination: &cfg.policyDir,
		},
	}
}

// setupLogger attaches the configured logger to ctx
func (cfg *config) setupLogger(ctx context.Context) context.Context {
	logger := logging.NewWithFormat(cfg.logLevel, logging.ParseFormat(cfg.logFormat), os.Stderr)
	logging.SetDefault(logger)
	return logging.With(ctx, logger)
}

// newKeyValueStore opens the history storage backend. The returned closer releases
// backend resources and is never nil.
func (cfg *config) newKeyValueStore(ctx context.Context) (interfaces.KeyValueStore, func(), error) {
	noop := func() {}
	var (
		kv     interfaces.KeyValueStore
		closer = noop
	)

	switch cfg.storage {
	case storageMemory:
		kv = repository.NewMemory()

	case storageFile:
		f, err := repository.NewFile(cfg.dataDir)
		if err != nil {
			return nil, noop, err
		}
		kv = f

	case storageSQLite:
		path := cfg.sqlitePath
		if path == "" {
			path = filepath.Join(cfg.dataDir, "comicforge.db")
		}
		db, err := repository.NewSQLite(ctx, path)
		if err != nil {
			return nil, noop, err
		}
		kv = db
		closer = func() { closeWithLog(ctx, db.Close, "sqlite") }

	case storageFirestore:
		if cfg.project == "" {
			return nil, noop, goerr.New("project is required for firestore storage")
		}
		fs, err := repository.NewFirestore(ctx, cfg.project, cfg.database,
			repository.WithFirestoreCollection(cfg.firestoreCollection),
			repository.WithFirestoreCredentials(cfg.credentials))
		if err != nil {
			return nil, noop, err
		}
		kv = fs
		closer = func() { closeWithLog(ctx, fs.Close, "firestore") }

	case storageGCS:
		storage, err := cfg.newStorage(ctx)
		if err != nil {
			return nil, noop, err
		}
		kv = repository.NewCloudStorage(storage, cfg.bucketPrefix)

	default:
		return nil, noop, goerr.New("unknown storage backend",
			goerr.V("storage", cfg.storage),
			goerr.V("supported", []string{storageMemory, storageFile, storageSQLite, storageFirestore, storageGCS}))
	}

	if cfg.storageQuota > 0 {
		kv = repository.NewQuota(kv, int(cfg.storageQuota))
	}

	logging.From(ctx).Debug("history storage opened", "storage", cfg.storage)
	return kv, closer, nil
}

func closeWithLog(ctx context.Context, closeFn func() error, name string) {
	if err := closeFn(); err != nil {
		logging.From(ctx).Warn("failed to close storage", "storage", name, logging.ErrAttr(err))
	}
}

// newHistory opens and loads the history store
func (cfg *config) newHistory(ctx context.Context) (*history.Store, func(), error) {
	kv, closer, err := cfg.newKeyValueStore(ctx)
	if err != nil {
		return nil, nil, goerr.Wrap(err, "failed to open history storage")
	}

	store := history.New(kv,
		history.WithKey(cfg.historyKey),
		history.WithCapacity(int(cfg.historyCapacity)))
	store.Load(ctx)
	return store, closer, nil
}

// newStorage creates a new Storage adapter instance
func (cfg *config) newStorage(ctx context.Context) (adapter.Storage, error) {
	if cfg.bucket == "" {
		return nil, goerr.New("bucket is required")
	}

	storage, err := adapter.NewStorage(ctx, cfg.bucket, cfg.credentials)
	if err != nil {
		return nil, goerr.Wrap(err, "failed to create storage")
	}
	return storage, nil
}

// newGemini creates a new Gemini adapter instance
func (cfg *config) newGemini(ctx context.Context) (*adapter.GeminiClient, error) {
	hint := model.ModelHint(cfg.imageHint)
	if err := hint.Validate(); err != nil {
		return nil, goerr.Wrap(err, "invalid image-hint")
	}

	opts := []adapter.GeminiOption{
		adapter.WithStoryModel(cfg.storyModel),
		adapter.WithImagenModel(cfg.imagenModel),
		adapter.WithFlashImageModel(cfg.flashImageModel),
		adapter.WithSpeechModel(cfg.speechModel),
		adapter.WithChatModel(cfg.chatModel),
		adapter.WithDefaultImageHint(hint),
	}

	if cfg.geminiAPIKey != "" {
		return adapter.NewGeminiWithAPIKey(ctx, cfg.geminiAPIKey, opts...)
	}

	if cfg.geminiProject == "" {
		return nil, goerr.New("gemini-api-key or gemini-project is required")
	}
	if cfg.geminiLocation == "" {
		return nil, goerr.New("gemini-location is required")
	}
	return adapter.NewGemini(ctx, cfg.geminiProject, cfg.geminiLocation, opts...)
}

// newOrchestrator wires the generation orchestrator with history and capture policy
func (cfg *config) newOrchestrator(ctx context.Context, client interfaces.GenerativeClient, store *history.Store) (*comic.Orchestrator, error) {
	opts := []comic.Option{
		comic.WithHistory(store),
		comic.WithConcurrency(int(cfg.concurrency)),
		comic.WithPanelTimeout(cfg.panelTimeout),
	}
	if cfg.rateInterval > 0 {
		opts = append(opts, comic.WithRateLimit(cfg.rateInterval, int(cfg.rateBurst)))
	}

	if cfg.policyDir != "" {
		p, err := policy.NewCapture(ctx, cfg.policyDir)
		if err != nil {
			return nil, goerr.Wrap(err, "failed to load capture policy")
		}
		opts = append(opts, comic.WithCapturePolicy(p))
	}

	return comic.New(client, opts...), nil
}
