package config

import (
	"fmt"
	"os"
	"strconv"
)

type keyType int

const (
	kString keyType = iota
	kInt
	kBool
	kFloat
)

type keySpec struct {
	key     string
	typ     keyType
	env     string
	aliases []string
	secret  bool
	apply   func(cfg *Config, v any)
	extract func(cfg Config) any
}

var specs = []keySpec{
	{
		key: "server.port", typ: kInt, env: "DAILYDRIP_SERVER_PORT", aliases: []string{"PORT"},
		apply:   func(cfg *Config, v any) { cfg.Server.Port = v.(int) },
		extract: func(cfg Config) any { return cfg.Server.Port },
	},
	{
		key: "server.max_conns", typ: kInt, env: "DAILYDRIP_SERVER_MAX_CONNS",
		apply:   func(cfg *Config, v any) { cfg.Server.MaxConns = v.(int) },
		extract: func(cfg Config) any { return cfg.Server.MaxConns },
	},
	{
		key: "server.admin_token", typ: kString, env: "DAILYDRIP_ADMIN_TOKEN",
		secret:  true,
		apply:   func(cfg *Config, v any) { cfg.Server.AdminToken = v.(string) },
		extract: func(cfg Config) any { return cfg.Server.AdminToken },
	},
	{
		key: "engine.kind", typ: kString, env: "DAILYDRIP_ENGINE_KIND",
		apply:   func(cfg *Config, v any) { cfg.Engine.Kind = v.(string) },
		extract: func(cfg Config) any { return cfg.Engine.Kind },
	},
	{
		key: "engine.base_url", typ: kString, env: "DAILYDRIP_ENGINE_BASE_URL",
		apply:   func(cfg *Config, v any) { cfg.Engine.BaseURL = v.(string) },
		extract: func(cfg Config) any { return cfg.Engine.BaseURL },
	},
	{
		key: "engine.embed_model", typ: kString, env: "DAILYDRIP_ENGINE_EMBED_MODEL",
		apply:   func(cfg *Config, v any) { cfg.Engine.EmbedModel = v.(string) },
		extract: func(cfg Config) any { return cfg.Engine.EmbedModel },
	},
	{
		key: "engine.dimension", typ: kInt, env: "DAILYDRIP_ENGINE_DIMENSION",
		apply:   func(cfg *Config, v any) { cfg.Engine.Dimension = v.(int) },
		extract: func(cfg Config) any { return cfg.Engine.Dimension },
	},
	{
		key: "storage.persist_dir", typ: kString, env: "DAILYDRIP_STORAGE_PERSIST_DIR", aliases: []string{"RAG_PERSIST_DIR"},
		apply:   func(cfg *Config, v any) { cfg.Storage.PersistDir = v.(string) },
		extract: func(cfg Config) any { return cfg.Storage.PersistDir },
	},
	{
		key: "storage.collection", typ: kString, env: "DAILYDRIP_STORAGE_COLLECTION", aliases: []string{"RAG_COLLECTION"},
		apply:   func(cfg *Config, v any) { cfg.Storage.Collection = v.(string) },
		extract: func(cfg Config) any { return cfg.Storage.Collection },
	},
	{
		key: "storage.backend", typ: kString, env: "DAILYDRIP_STORAGE_BACKEND",
		apply:   func(cfg *Config, v any) { cfg.Storage.Backend = v.(string) },
		extract: func(cfg Config) any { return cfg.Storage.Backend },
	},
	{
		key: "storage.qdrant_addr", typ: kString, env: "DAILYDRIP_STORAGE_QDRANT_ADDR",
		apply:   func(cfg *Config, v any) { cfg.Storage.QdrantAddr = v.(string) },
		extract: func(cfg Config) any { return cfg.Storage.QdrantAddr },
	},
	{
		key: "storage.seed_path", typ: kString, env: "DAILYDRIP_STORAGE_SEED_PATH", aliases: []string{"DEFAULT_DATA_PATH"},
		apply:   func(cfg *Config, v any) { cfg.Storage.SeedPath = v.(string) },
		extract: func(cfg Config) any { return cfg.Storage.SeedPath },
	},
	{
		key: "retrieval.default_k", typ: kInt, env: "DAILYDRIP_RETRIEVAL_DEFAULT_K",
		apply:   func(cfg *Config, v any) { cfg.Retrieval.DefaultK = v.(int) },
		extract: func(cfg Config) any { return cfg.Retrieval.DefaultK },
	},
	{
		key: "retrieval.similarity_weight", typ: kFloat, env: "DAILYDRIP_RETRIEVAL_SIMILARITY_WEIGHT",
		apply:   func(cfg *Config, v any) { cfg.Retrieval.SimilarityWeight = v.(float64) },
		extract: func(cfg Config) any { return cfg.Retrieval.SimilarityWeight },
	},
	{
		key: "retrieval.retrieval_multiplier", typ: kInt, env: "DAILYDRIP_RETRIEVAL_MULTIPLIER",
		apply:   func(cfg *Config, v any) { cfg.Retrieval.RetrievalMultiplier = v.(int) },
		extract: func(cfg Config) any { return cfg.Retrieval.RetrievalMultiplier },
	},
	{
		key: "reranking.liking_weight", typ: kFloat, env: "DAILYDRIP_RERANKING_LIKING_WEIGHT",
		apply:   func(cfg *Config, v any) { cfg.Reranking.LikingWeight = v.(float64) },
		extract: func(cfg Config) any { return cfg.Reranking.LikingWeight },
	},
	{
		key: "reranking.jag_weight", typ: kFloat, env: "DAILYDRIP_RERANKING_JAG_WEIGHT",
		apply:   func(cfg *Config, v any) { cfg.Reranking.JAGWeight = v.(float64) },
		extract: func(cfg Config) any { return cfg.Reranking.JAGWeight },
	},
	{
		key: "log.level", typ: kString, env: "DAILYDRIP_LOG_LEVEL",
		apply:   func(cfg *Config, v any) { cfg.Log.Level = v.(string) },
		extract: func(cfg Config) any { return cfg.Log.Level },
	},
	{
		key: "log.format", typ: kString, env: "DAILYDRIP_LOG_FORMAT",
		apply:   func(cfg *Config, v any) { cfg.Log.Format = v.(string) },
		extract: func(cfg Config) any { return cfg.Log.Format },
	},
	{
		key: "tracing.otlp_endpoint", typ: kString, env: "DAILYDRIP_TRACING_OTLP_ENDPOINT",
		apply:   func(cfg *Config, v any) { cfg.Tracing.OTLPEndpoint = v.(string) },
		extract: func(cfg Config) any { return cfg.Tracing.OTLPEndpoint },
	},
}

func applyBackend(cfg *Config, b ConfigBackend) error {
	for _, s := range specs {
		if s.secret {
			continue
		}
		switch s.typ {
		case kString:
			v, ok, err := b.GetString(s.key)
			if err != nil {
				return fmt.Errorf("reading %s: %w", s.key, err)
			}
			if ok {
				s.apply(cfg, v)
			}
		case kInt:
			v, ok, err := b.GetInt(s.key)
			if err != nil {
				return fmt.Errorf("reading %s: %w", s.key, err)
			}
			if ok {
				s.apply(cfg, v)
			}
		case kBool:
			v, ok, err := b.GetString(s.key)
			if err != nil {
				return fmt.Errorf("reading %s: %w", s.key, err)
			}
			if ok && v != "" {
				if bv, err := strconv.ParseBool(v); err == nil {
					s.apply(cfg, bv)
				} else {
					fmt.Fprintf(os.Stderr, "[WARN] could not parse bool from config key %s=%q: %v. Using default value.\n", s.key, v, err)
				}
			}
		case kFloat:
			v, ok, err := b.GetString(s.key)
			if err != nil {
				return fmt.Errorf("reading %s: %w", s.key, err)
			}
			if ok && v != "" {
				if f, err := strconv.ParseFloat(v, 64); err == nil {
					s.apply(cfg, f)
				} else {
					fmt.Fprintf(os.Stderr, "[WARN] could not parse float from config key %s=%q: %v. Using default value.\n", s.key, v, err)
				}
			}
		}
	}
	return nil
}

// lookupEnv returns the first non-empty value among the primary variable and
// its aliases.
func (s keySpec) lookupEnv() (string, string) {
	for _, name := range append([]string{s.env}, s.aliases...) {
		if name == "" {
			continue
		}
		if raw := os.Getenv(name); raw != "" {
			return name, raw
		}
	}
	return "", ""
}

func applyEnvOverrides(cfg *Config) {
	for _, s := range specs {
		name, raw := s.lookupEnv()
		if raw == "" {
			continue
		}
		switch s.typ {
		case kString:
			s.apply(cfg, raw)
		case kInt:
			if i, err := strconv.Atoi(raw); err == nil {
				s.apply(cfg, i)
			} else {
				fmt.Fprintf(os.Stderr, "[WARN] could not parse integer from env var %s=%q: %v. Using default value.\n", name, raw, err)
			}
		case kBool:
			if b, err := strconv.ParseBool(raw); err == nil {
				s.apply(cfg, b)
			} else {
				fmt.Fprintf(os.Stderr, "[WARN] could not parse bool from env var %s=%q: %v. Using default value.\n", name, raw, err)
			}
		case kFloat:
			if f, err := strconv.ParseFloat(raw, 64); err == nil {
				s.apply(cfg, f)
			} else {
				fmt.Fprintf(os.Stderr, "[WARN] could not parse float from env var %s=%q: %v. Using default value.\n", name, raw, err)
			}
		}
	}
}
