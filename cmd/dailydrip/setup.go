package main

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"

	"github.com/kalambet/dailydrip/internal/config"
	"github.com/kalambet/dailydrip/internal/engine"
	"github.com/kalambet/dailydrip/internal/rag"
	"github.com/kalambet/dailydrip/internal/reranking"
	"github.com/kalambet/dailydrip/internal/retrieval"
)

func parseLevel(s string) slog.Level {
	switch strings.ToLower(s) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

func newLogger(cfg config.LogConfig, w io.Writer) *slog.Logger {
	opts := &slog.HandlerOptions{Level: parseLevel(cfg.Level)}
	if strings.EqualFold(cfg.Format, "json") {
		return slog.New(slog.NewJSONHandler(w, opts))
	}
	return slog.New(slog.NewTextHandler(w, opts))
}

// embedModel is the model name passed to the engine. The hash engine only
// serves its own model.
func embedModel(cfg config.Config) string {
	if cfg.Engine.Kind == engine.KindHash {
		return engine.HashModel
	}
	return cfg.Engine.EmbedModel
}

// newEmbedder detects the configured engine and, when ensure is set, waits
// for it to be reachable and pulls the embedding model if needed.
func newEmbedder(ctx context.Context, cfg config.Config, ensure bool, progress io.Writer) (*retrieval.Embedder, error) {
	eng, err := engine.Detect(engine.DetectConfig{
		Kind:          cfg.Engine.Kind,
		OllamaBaseURL: cfg.Engine.BaseURL,
		HashDimension: cfg.Engine.Dimension,
	})
	if err != nil {
		return nil, fmt.Errorf("detecting embedding engine: %w", err)
	}
	model := embedModel(cfg)
	if ensure {
		if err := engine.EnsureReady(ctx, eng, model, progress); err != nil {
			return nil, err
		}
	}
	return retrieval.NewEmbedder(eng, model), nil
}

func storeConfig(cfg config.Config) retrieval.StoreConfig {
	return retrieval.StoreConfig{
		Backend:    cfg.Storage.Backend,
		PersistDir: cfg.Storage.PersistDir,
		QdrantAddr: cfg.Storage.QdrantAddr,
		Collection: cfg.Storage.Collection,
	}
}

func serviceConfig(cfg config.Config) rag.Config {
	weight := cfg.Retrieval.SimilarityWeight
	return rag.Config{
		Collection: cfg.Storage.Collection,
		Defaults: rag.Defaults{
			K:                   cfg.Retrieval.DefaultK,
			SimilarityWeight:    &weight,
			RetrievalMultiplier: cfg.Retrieval.RetrievalMultiplier,
		},
		Weights: reranking.Weights{
			Liking: cfg.Reranking.LikingWeight,
			JAG:    cfg.Reranking.JAGWeight,
		},
	}
}

// local bundles what the offline commands need.
type local struct {
	cfg      config.Config
	logger   *slog.Logger
	embedder *retrieval.Embedder
	cache    *retrieval.HandleCache
}

func openLocal(ctx context.Context) (*local, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, err
	}
	logger := newLogger(cfg.Log, os.Stderr)
	emb, err := newEmbedder(ctx, cfg, cfg.Engine.Kind != engine.KindHash, os.Stderr)
	if err != nil {
		return nil, err
	}
	return &local{
		cfg:      cfg,
		logger:   logger,
		embedder: emb,
		cache:    retrieval.NewHandleCache(storeConfig(cfg)),
	}, nil
}

func (l *local) Close() error {
	return l.cache.Close()
}
