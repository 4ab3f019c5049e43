// Package chunk turns canonical brew records into retrievable chunks: the
// bean-profile text that gets embedded plus a flat metadata map that can be
// stored next to the vector and turned back into structured brew data.
package chunk

import (
	"fmt"
	"strings"

	"github.com/kalambet/dailydrip/internal/brew"
)

// Chunk is the retrievable unit. There is exactly one chunk per record and
// the chunk id equals the record id.
type Chunk struct {
	ID       string   `json:"id"`
	RecordID string   `json:"record_id"`
	Text     string   `json:"text"`
	Metadata Metadata `json:"metadata"`
}

// ChunkBuildError reports a record that cannot produce a chunk.
type ChunkBuildError struct {
	RecordID string
	Reason   string
}

func (e *ChunkBuildError) Error() string {
	return fmt.Sprintf("building chunk for record %q: %s", e.RecordID, e.Reason)
}

// Build derives the chunk for one record.
func Build(rec brew.Record) (Chunk, error) {
	if rec.ID == "" {
		return Chunk{}, &ChunkBuildError{Reason: "record has no id"}
	}
	if rec.Bean.Name == nil || strings.TrimSpace(*rec.Bean.Name) == "" {
		return Chunk{}, &ChunkBuildError{RecordID: rec.ID, Reason: "bean name is missing"}
	}
	text := BeanText(rec.Bean)
	if text == "" {
		return Chunk{}, &ChunkBuildError{RecordID: rec.ID, Reason: "bean text is empty"}
	}
	return Chunk{
		ID:       rec.ID,
		RecordID: rec.ID,
		Text:     text,
		Metadata: Flatten(rec),
	}, nil
}

// BuildAll builds chunks for every record, collecting per-record failures
// instead of stopping at the first one.
func BuildAll(records []brew.Record) ([]Chunk, []error) {
	chunks := make([]Chunk, 0, len(records))
	var errs []error
	for _, rec := range records {
		c, err := Build(rec)
		if err != nil {
			errs = append(errs, err)
			continue
		}
		chunks = append(chunks, c)
	}
	return chunks, errs
}

// beanField pairs a rendered field name with its accessor.
type beanField struct {
	name  string
	value func(brew.Bean) (string, bool)
}

func strField(get func(brew.Bean) *string) func(brew.Bean) (string, bool) {
	return func(b brew.Bean) (string, bool) {
		v := get(b)
		if v == nil || strings.TrimSpace(*v) == "" {
			return "", false
		}
		return *v, true
	}
}

// beanFields is the fixed rendering order of the bean text.
var beanFields = []beanField{
	{"name", strField(func(b brew.Bean) *string { return b.Name })},
	{"origin", strField(func(b brew.Bean) *string { return b.Origin })},
	{"process", strField(func(b brew.Bean) *string { return b.Process })},
	{"variety", strField(func(b brew.Bean) *string { return b.Variety })},
	{"region", strField(func(b brew.Bean) *string { return b.Region })},
	{"roast_level", strField(func(b brew.Bean) *string { return b.RoastLevel })},
	{"roasted_on", strField(func(b brew.Bean) *string { return b.RoastedOn })},
	{"roasted_days", func(b brew.Bean) (string, bool) {
		if b.RoastedDays == nil {
			return "", false
		}
		return brew.FormatNumber(*b.RoastedDays), true
	}},
	{"altitude", strField(func(b brew.Bean) *string { return b.Altitude })},
	{"flavor_notes", func(b brew.Bean) (string, bool) {
		if len(b.FlavorNotes) == 0 {
			return "", false
		}
		return strings.Join(b.FlavorNotes, flavorNoteSep), true
	}},
}

const (
	fieldSep      = " | "
	flavorNoteSep = ", "
)

// BeanText renders the bean profile as "bean.name: X | bean.origin: Y | ...".
// Absent fields are skipped. The same function renders stored chunks and
// bean-shaped queries, so both sides embed comparable text.
func BeanText(b brew.Bean) string {
	parts := make([]string, 0, len(beanFields))
	for _, f := range beanFields {
		if v, ok := f.value(b); ok {
			parts = append(parts, "bean."+f.name+": "+v)
		}
	}
	return strings.Join(parts, fieldSep)
}
