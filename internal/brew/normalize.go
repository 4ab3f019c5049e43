package brew

import (
	"encoding/json"
	"fmt"
	"math"
	"strconv"
	"strings"

	"github.com/google/uuid"
)

// recordNamespace seeds name-based record IDs for rows without a source id.
var recordNamespace = uuid.MustParse("6f1c2b8e-3d4a-5e6f-9a0b-c1d2e3f4a5b6")

// Row is one raw input item: a CSV row keyed by dotted column headers or a
// (possibly nested) JSON object. Line is the 1-based position in the source.
type Row struct {
	Line   int
	Fields map[string]any
}

// MalformedRecordError reports a raw row that could not be normalized.
type MalformedRecordError struct {
	Line   int
	Field  string
	Reason string
}

func (e *MalformedRecordError) Error() string {
	if e.Field != "" {
		return fmt.Sprintf("malformed record at line %d: %s: %s", e.Line, e.Field, e.Reason)
	}
	return fmt.Sprintf("malformed record at line %d: %s", e.Line, e.Reason)
}

// Normalize converts rows into canonical records. A row that cannot be
// converted yields a *MalformedRecordError in errs and is skipped; the rest of
// the batch is still processed.
func Normalize(rows []Row) (records []Record, errs []error) {
	records = make([]Record, 0, len(rows))
	for _, row := range rows {
		rec, err := NormalizeRow(row)
		if err != nil {
			errs = append(errs, err)
			continue
		}
		records = append(records, rec)
	}
	return records, errs
}

// NormalizeStrict is Normalize with abort-on-first-error semantics.
func NormalizeStrict(rows []Row) ([]Record, error) {
	records := make([]Record, 0, len(rows))
	for _, row := range rows {
		rec, err := NormalizeRow(row)
		if err != nil {
			return nil, err
		}
		records = append(records, rec)
	}
	return records, nil
}

// NormalizeRow converts a single row.
func NormalizeRow(row Row) (Record, error) {
	if row.Fields == nil {
		return Record{}, &MalformedRecordError{Line: row.Line, Reason: "row is not an object"}
	}
	flat := Flatten(row.Fields)
	p := fieldParser{line: row.Line, flat: flat}

	rec := Record{
		Bean: Bean{
			Name:        p.str("bean.name"),
			Origin:      p.str("bean.origin"),
			Process:     p.str("bean.process"),
			Variety:     p.str("bean.variety"),
			Region:      p.str("bean.region"),
			RoastLevel:  p.str("bean.roast_level"),
			RoastedOn:   p.str("bean.roasted_on"),
			RoastedDays: p.num("bean.roasted_days"),
			Altitude:    p.str("bean.altitude"),
			FlavorNotes: p.list("bean.flavor_notes"),
		},
		Brewing: Brewing{
			Brewer:       p.str("brewing.brewer"),
			Temperature:  p.num("brewing.temperature"),
			GrindingSize: p.num("brewing.grinding_size"),
			Dose:         p.num("brewing.dose"),
			TargetWater:  p.num("brewing.target_water"),
			Pours:        p.pours("brewing.pours"),
		},
		Evaluation: p.evaluation(),
	}

	if access := p.str("access"); access != nil {
		switch Access(strings.ToLower(*access)) {
		case AccessPublic, AccessPrivate:
			rec.Access = Access(strings.ToLower(*access))
		default:
			p.fail("access", fmt.Sprintf("unknown access %q", *access))
		}
	}
	if uid := p.str("user_id"); uid != nil {
		rec.UserID = *uid
	}
	if p.err != nil {
		return Record{}, p.err
	}

	id, err := RecordID(flat)
	if err != nil {
		return Record{}, &MalformedRecordError{Line: row.Line, Field: "id", Reason: err.Error()}
	}
	rec.ID = id
	return rec, nil
}

// RecordID derives a stable record id from a flattened row. A source id
// ("id", then "uuid", then "record_id") wins; otherwise the id is a
// name-based UUID over the canonical JSON encoding of the row, so the same
// input always yields the same id.
func RecordID(flat map[string]any) (string, error) {
	for _, key := range []string{"id", "uuid", "record_id"} {
		if v, ok := scalarString(flat[key]); ok && v != "" {
			return v, nil
		}
	}
	// encoding/json sorts map keys, which makes the encoding canonical.
	data, err := json.Marshal(flat)
	if err != nil {
		return "", fmt.Errorf("encoding row for id: %w", err)
	}
	return uuid.NewSHA1(recordNamespace, data).String(), nil
}

// Flatten collapses nested objects into dotted keys. Arrays are kept as-is.
func Flatten(m map[string]any) map[string]any {
	out := make(map[string]any, len(m))
	flattenInto(out, "", m)
	return out
}

func flattenInto(out map[string]any, prefix string, m map[string]any) {
	for k, v := range m {
		key := k
		if prefix != "" {
			key = prefix + "." + k
		}
		if nested, ok := v.(map[string]any); ok {
			flattenInto(out, key, nested)
			continue
		}
		out[key] = v
	}
}

// fieldParser reads typed values out of a flattened row, remembering the
// first failure so the constructor stays linear.
type fieldParser struct {
	line int
	flat map[string]any
	err  error
}

func (p *fieldParser) fail(field, reason string) {
	if p.err == nil {
		p.err = &MalformedRecordError{Line: p.line, Field: field, Reason: reason}
	}
}

func (p *fieldParser) str(key string) *string {
	v, ok := scalarString(p.flat[key])
	if !ok {
		if p.flat[key] != nil {
			p.fail(key, fmt.Sprintf("expected a scalar, got %T", p.flat[key]))
		}
		return nil
	}
	if isMissing(v) {
		return nil
	}
	return &v
}

func (p *fieldParser) num(key string) *float64 {
	f, err := toFloat(p.flat[key])
	if err != nil {
		p.fail(key, err.Error())
		return nil
	}
	return f
}

func (p *fieldParser) list(key string) []string {
	switch v := p.flat[key].(type) {
	case nil:
		return nil
	case []any:
		out := make([]string, 0, len(v))
		for _, item := range v {
			s, ok := scalarString(item)
			if !ok {
				p.fail(key, fmt.Sprintf("list item of type %T", item))
				return nil
			}
			out = append(out, s)
		}
		return compact(out)
	case string:
		if isMissing(v) {
			return nil
		}
		if strings.HasPrefix(strings.TrimSpace(v), "[") {
			var items []string
			if err := json.Unmarshal([]byte(v), &items); err == nil {
				return compact(items)
			}
		}
		return compact(strings.Split(v, ","))
	default:
		p.fail(key, fmt.Sprintf("expected list or delimited string, got %T", v))
		return nil
	}
}

func (p *fieldParser) pours(key string) []Pour {
	switch v := p.flat[key].(type) {
	case nil:
		return nil
	case string:
		if isMissing(v) {
			return nil
		}
		if strings.HasPrefix(strings.TrimSpace(v), "[") {
			var items []any
			if err := json.Unmarshal([]byte(v), &items); err != nil {
				p.fail(key, "invalid JSON pours: "+err.Error())
				return nil
			}
			return p.pourList(key, items)
		}
		pours, err := ParsePours(v)
		if err != nil {
			p.fail(key, err.Error())
			return nil
		}
		return pours
	case []any:
		return p.pourList(key, v)
	default:
		p.fail(key, fmt.Sprintf("expected list of pours, got %T", v))
		return nil
	}
}

func (p *fieldParser) pourList(key string, items []any) []Pour {
	pours := make([]Pour, 0, len(items))
	for i, item := range items {
		m, ok := item.(map[string]any)
		if !ok {
			p.fail(key, fmt.Sprintf("pour %d is %T, not an object", i, item))
			return nil
		}
		var pour Pour
		var err error
		if pour.Start, err = toSeconds(m["start"]); err != nil {
			p.fail(key, fmt.Sprintf("pour %d start: %v", i, err))
			return nil
		}
		if pour.End, err = toSeconds(m["end"]); err != nil {
			p.fail(key, fmt.Sprintf("pour %d end: %v", i, err))
			return nil
		}
		if pour.WaterAdded, err = toFloat(m["water_added"]); err != nil {
			p.fail(key, fmt.Sprintf("pour %d water_added: %v", i, err))
			return nil
		}
		if err = checkPour(pour); err != nil {
			p.fail(key, fmt.Sprintf("pour %d: %v", i, err))
			return nil
		}
		pours = append(pours, pour)
	}
	return pours
}

// jagAliases maps spelling variants seen in brew logs to canonical names.
var jagAliases = map[string]string{
	"flavor_intensity": JAGFlavourIntensity,
}

func (p *fieldParser) evaluation() *Evaluation {
	eval := &Evaluation{}
	if liking := p.num("evaluation.liking"); liking != nil {
		if *liking < 0 || *liking > 10 {
			p.fail("evaluation.liking", fmt.Sprintf("%v outside [0,10]", *liking))
		}
		eval.Liking = liking
	}

	for _, name := range JAGMetrics {
		key := "evaluation.jag." + name
		if _, ok := p.flat[key]; !ok {
			for alias, canonical := range jagAliases {
				if canonical == name {
					key = "evaluation.jag." + alias
				}
			}
		}
		v := p.num(key)
		if v == nil {
			continue
		}
		if *v < 1 || *v > 5 {
			p.fail(key, fmt.Sprintf("%v outside [1,5]", *v))
			continue
		}
		if eval.JAG == nil {
			eval.JAG = make(map[string]float64, len(JAGMetrics))
		}
		eval.JAG[name] = *v
	}

	if eval.Empty() {
		return nil
	}
	return eval
}

// isMissing treats the usual spreadsheet placeholders as absent values.
func isMissing(s string) bool {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "nan", "null", "none", "n/a":
		return true
	}
	return false
}

func scalarString(v any) (string, bool) {
	switch t := v.(type) {
	case string:
		return strings.TrimSpace(t), true
	case json.Number:
		return t.String(), true
	case float64:
		if math.IsNaN(t) {
			return "", true
		}
		return FormatNumber(t), true
	case int:
		return strconv.Itoa(t), true
	case int64:
		return strconv.FormatInt(t, 10), true
	case bool:
		return strconv.FormatBool(t), true
	}
	return "", false
}

func toFloat(v any) (*float64, error) {
	switch t := v.(type) {
	case nil:
		return nil, nil
	case float64:
		if math.IsNaN(t) {
			return nil, nil
		}
		return &t, nil
	case int:
		return Num(float64(t)), nil
	case int64:
		return Num(float64(t)), nil
	case json.Number:
		f, err := t.Float64()
		if err != nil {
			return nil, fmt.Errorf("invalid number %q", t)
		}
		return &f, nil
	case string:
		if isMissing(t) {
			return nil, nil
		}
		return parseOptionalFloat(t)
	}
	return nil, fmt.Errorf("expected a number, got %T", v)
}

func toSeconds(v any) (*float64, error) {
	if s, ok := v.(string); ok {
		return parseSeconds(s)
	}
	return toFloat(v)
}

func compact(items []string) []string {
	out := make([]string, 0, len(items))
	for _, s := range items {
		if s = strings.TrimSpace(s); s != "" {
			out = append(out, s)
		}
	}
	if len(out) == 0 {
		return nil
	}
	return out
}
