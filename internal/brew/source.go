package brew

import (
	"bytes"
	"encoding/csv"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
)

// Format identifies the layout of a raw brew log.
type Format string

const (
	FormatCSV  Format = "csv"
	FormatJSON Format = "json"
)

// DetectFormat guesses the format from a file extension. Anything that is not
// .csv is read as JSON, which also covers .jsonl and concatenated objects.
func DetectFormat(path string) Format {
	if strings.EqualFold(filepath.Ext(path), ".csv") {
		return FormatCSV
	}
	return FormatJSON
}

// ReadFile reads raw rows from path using the given format. An empty format
// is detected from the file extension.
func ReadFile(path string, format Format) ([]Row, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("opening %s: %w", path, err)
	}
	defer f.Close()

	if format == "" {
		format = DetectFormat(path)
	}
	switch format {
	case FormatCSV:
		return ReadCSV(f)
	case FormatJSON:
		return ReadJSON(f)
	default:
		return nil, fmt.Errorf("unsupported format %q", format)
	}
}

// ReadCSV reads a tabular brew log. Column headers use dotted paths such as
// "bean.name" or "evaluation.jag.acidity". Empty cells become missing values.
func ReadCSV(r io.Reader) ([]Row, error) {
	cr := csv.NewReader(r)
	cr.FieldsPerRecord = -1
	cr.TrimLeadingSpace = true

	header, err := cr.Read()
	if errors.Is(err, io.EOF) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("reading csv header: %w", err)
	}
	for i := range header {
		header[i] = strings.TrimSpace(strings.TrimPrefix(header[i], "\ufeff"))
	}

	var rows []Row
	line := 1
	for {
		cells, err := cr.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		line++
		if err != nil {
			return rows, fmt.Errorf("reading csv line %d: %w", line, err)
		}
		fields := make(map[string]any, len(header))
		for i, name := range header {
			if name == "" || i >= len(cells) {
				continue
			}
			if cell := strings.TrimSpace(cells[i]); cell != "" {
				fields[name] = cell
			} else {
				fields[name] = nil
			}
		}
		rows = append(rows, Row{Line: line, Fields: fields})
	}
	return rows, nil
}

// ReadJSON reads a single JSON object, a JSON array of objects, JSON lines,
// or a stream of concatenated (pretty-printed) objects. Elements that are not
// objects are returned with nil Fields so the normalizer can report them.
func ReadJSON(r io.Reader) ([]Row, error) {
	data, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("reading json: %w", err)
	}

	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()

	var rows []Row
	pos := 0
	add := func(v any) {
		pos++
		m, _ := v.(map[string]any)
		rows = append(rows, Row{Line: pos, Fields: m})
	}
	for {
		var v any
		err := dec.Decode(&v)
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return rows, fmt.Errorf("decoding json value %d: %w", pos+1, err)
		}
		if items, ok := v.([]any); ok {
			for _, item := range items {
				add(item)
			}
			continue
		}
		add(v)
	}
	return rows, nil
}
