package engine

import "fmt"

// Engine kinds accepted by Detect.
const (
	KindOllama = "ollama"
	KindHash   = "hash"
)

// DetectConfig holds parameters for backend selection.
type DetectConfig struct {
	Kind          string
	OllamaBaseURL string
	HashDimension int
}

// Detect returns the engine for the configured kind. An empty kind selects
// Ollama.
func Detect(cfg DetectConfig) (Engine, error) {
	switch cfg.Kind {
	case "", KindOllama:
		return NewOllamaEngine(cfg.OllamaBaseURL), nil
	case KindHash:
		return NewHashEngine(cfg.HashDimension), nil
	default:
		return nil, fmt.Errorf("unknown engine kind %q (want %s or %s)", cfg.Kind, KindOllama, KindHash)
	}
}
