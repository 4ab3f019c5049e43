package chunk

import "github.com/kalambet/dailydrip/internal/brew"

// WriteFile writes chunks as JSON lines.
func WriteFile(path string, chunks []Chunk) error {
	return brew.WriteJSONLFile(path, chunks)
}

// ReadFile reads chunks written by WriteFile.
func ReadFile(path string) ([]Chunk, error) {
	return brew.ReadJSONLFile[Chunk](path)
}
