package brew

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestJSONLFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "out", "records.jsonl")
	records := []Record{
		{ID: "a", Bean: Bean{Name: Str("A & B"), FlavorNotes: []string{"plum"}}},
		{ID: "b", Evaluation: &Evaluation{Liking: Num(7)}},
	}
	require.NoError(t, WriteJSONLFile(path, records))

	got, err := ReadJSONLFile[Record](path)
	require.NoError(t, err)
	assert.Equal(t, records, got)
}
