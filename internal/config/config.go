package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/joho/godotenv"
)

type Config struct {
	Server    ServerConfig
	Engine    EngineConfig
	Storage   StorageConfig
	Retrieval RetrievalConfig
	Reranking RerankingConfig
	Log       LogConfig
	Tracing   TracingConfig
}

type ServerConfig struct {
	Port       int
	MaxConns   int
	AdminToken string
}

type EngineConfig struct {
	Kind       string
	BaseURL    string
	EmbedModel string
	Dimension  int
}

type StorageConfig struct {
	PersistDir string
	Collection string
	Backend    string
	QdrantAddr string
	SeedPath   string
}

type RetrievalConfig struct {
	DefaultK            int
	SimilarityWeight    float64
	RetrievalMultiplier int
}

type RerankingConfig struct {
	LikingWeight float64
	JAGWeight    float64
}

type LogConfig struct {
	Level  string
	Format string
}

type TracingConfig struct {
	OTLPEndpoint string
}

func defaults() Config {
	return Config{
		Server: ServerConfig{
			Port:     8000,
			MaxConns: 256,
		},
		Engine: EngineConfig{
			Kind:       "ollama",
			BaseURL:    "http://localhost:11434",
			EmbedModel: "nomic-embed-text",
			Dimension:  384,
		},
		Storage: StorageConfig{
			PersistDir: defaultDataDir(),
			Collection: "coffee_chunks",
			Backend:    "sqlite",
			QdrantAddr: "localhost:6334",
		},
		Retrieval: RetrievalConfig{
			DefaultK:            3,
			SimilarityWeight:    0.7,
			RetrievalMultiplier: 3,
		},
		Reranking: RerankingConfig{
			LikingWeight: 0.6,
			JAGWeight:    0.4,
		},
		Log: LogConfig{
			Level:  "info",
			Format: "text",
		},
	}
}

// Load reads configuration in layers: built-in defaults, the TOML file at
// $XDG_CONFIG_HOME/dailydrip/config.toml (or $DAILYDRIP_CONFIG), a .env file
// in the working directory, then environment variables. DAILYDRIP_* variables
// win over the RAG_PERSIST_DIR, RAG_COLLECTION, DEFAULT_DATA_PATH and PORT
// aliases.
func Load() (Config, error) {
	return loadWith(newFileBackend(configFilePath()), ".env")
}

func loadWith(b ConfigBackend, envFile string) (Config, error) {
	cfg := defaults()

	if err := applyBackend(&cfg, b); err != nil {
		return Config{}, err
	}

	if envFile != "" {
		// godotenv never overrides variables that are already set.
		if err := godotenv.Load(envFile); err != nil && !errors.Is(err, os.ErrNotExist) {
			return Config{}, fmt.Errorf("loading %s: %w", envFile, err)
		}
	}
	applyEnvOverrides(&cfg)

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Validate checks value ranges and enumerations.
func (c Config) Validate() error {
	var errs []error
	check := func(ok bool, format string, args ...any) {
		if !ok {
			errs = append(errs, fmt.Errorf(format, args...))
		}
	}

	check(c.Server.Port > 0 && c.Server.Port < 65536, "server.port %d is out of range", c.Server.Port)
	check(c.Server.MaxConns >= 0, "server.max_conns must not be negative")
	check(c.Engine.Kind == "ollama" || c.Engine.Kind == "hash", "engine.kind %q must be ollama or hash", c.Engine.Kind)
	check(c.Engine.Kind != "ollama" || c.Engine.EmbedModel != "", "engine.embed_model is required for ollama")
	check(c.Engine.Dimension > 0, "engine.dimension must be positive")
	check(c.Storage.Collection != "", "storage.collection is required")
	check(c.Storage.Backend == "sqlite" || c.Storage.Backend == "qdrant", "storage.backend %q must be sqlite or qdrant", c.Storage.Backend)
	check(c.Storage.Backend != "sqlite" || c.Storage.PersistDir != "", "storage.persist_dir is required for sqlite")
	check(c.Storage.Backend != "qdrant" || c.Storage.QdrantAddr != "", "storage.qdrant_addr is required for qdrant")
	check(c.Retrieval.DefaultK >= 1 && c.Retrieval.DefaultK <= 10, "retrieval.default_k %d must be between 1 and 10", c.Retrieval.DefaultK)
	check(c.Retrieval.SimilarityWeight >= 0 && c.Retrieval.SimilarityWeight <= 1, "retrieval.similarity_weight %v must be between 0 and 1", c.Retrieval.SimilarityWeight)
	check(c.Retrieval.RetrievalMultiplier >= 1 && c.Retrieval.RetrievalMultiplier <= 5, "retrieval.retrieval_multiplier %d must be between 1 and 5", c.Retrieval.RetrievalMultiplier)
	check(c.Reranking.LikingWeight >= 0 && c.Reranking.JAGWeight >= 0, "reranking weights must not be negative")
	check(c.Reranking.LikingWeight+c.Reranking.JAGWeight > 0, "reranking weights must not both be zero")
	check(c.Log.Format == "text" || c.Log.Format == "json", "log.format %q must be text or json", c.Log.Format)
	switch strings.ToLower(c.Log.Level) {
	case "debug", "info", "warn", "error":
	default:
		errs = append(errs, fmt.Errorf("log.level %q must be debug, info, warn or error", c.Log.Level))
	}

	if len(errs) > 0 {
		return fmt.Errorf("invalid config: %w", errors.Join(errs...))
	}
	return nil
}

// UploadDir is where staged uploads wait for the build worker.
func (c Config) UploadDir() string {
	return filepath.Join(c.Storage.PersistDir, "uploads")
}

// ArtifactDir receives records.jsonl and chunks.jsonl.
func (c Config) ArtifactDir() string {
	return filepath.Join(c.Storage.PersistDir, "artifacts")
}

func defaultDataDir() string {
	dir := os.Getenv("XDG_DATA_HOME")
	if dir == "" {
		if home, err := os.UserHomeDir(); err == nil {
			dir = filepath.Join(home, ".local", "share")
		} else {
			return "dailydrip-data"
		}
	}
	return filepath.Join(dir, "dailydrip")
}

func configFilePath() string {
	if p := os.Getenv("DAILYDRIP_CONFIG"); p != "" {
		return p
	}
	dir := os.Getenv("XDG_CONFIG_HOME")
	if dir == "" {
		if home, err := os.UserHomeDir(); err == nil {
			dir = filepath.Join(home, ".config")
		} else {
			dir = "."
		}
	}
	return filepath.Join(dir, "dailydrip", "config.toml")
}
