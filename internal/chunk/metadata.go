package chunk

import (
	"encoding/json"
	"sort"
	"strconv"
	"strings"

	"github.com/kalambet/dailydrip/internal/brew"
)

// Metadata is the flat key/value map stored next to a vector. Values are
// scalars only: string, float64 or bool.
type Metadata map[string]any

// Metadata keys outside the bean/brewing/evaluation sections.
const (
	KeyAccess = "access"
	KeyUserID = "user_id"
)

const (
	brewingPrefix = "brewing."
	beanPrefix    = "bean."
	jagPrefix     = "evaluation.jag."
	keyLiking     = "evaluation.liking"
	keyPours      = "brewing.pours"
	keyFlavor     = "bean.flavor_notes"
)

// Flatten maps a record onto metadata. Unflatten is its inverse.
func Flatten(rec brew.Record) Metadata {
	m := Metadata{}
	putStr := func(key string, v *string) {
		if v != nil {
			m[key] = *v
		}
	}
	putNum := func(key string, v *float64) {
		if v != nil {
			m[key] = *v
		}
	}

	b := rec.Bean
	putStr("bean.name", b.Name)
	putStr("bean.origin", b.Origin)
	putStr("bean.process", b.Process)
	putStr("bean.variety", b.Variety)
	putStr("bean.region", b.Region)
	putStr("bean.roast_level", b.RoastLevel)
	putStr("bean.roasted_on", b.RoastedOn)
	putNum("bean.roasted_days", b.RoastedDays)
	putStr("bean.altitude", b.Altitude)
	if len(b.FlavorNotes) > 0 {
		// A note may itself contain a comma, so the list is kept as JSON.
		if data, err := json.Marshal(b.FlavorNotes); err == nil {
			m[keyFlavor] = string(data)
		}
	}

	br := rec.Brewing
	putStr("brewing.brewer", br.Brewer)
	putNum("brewing.temperature", br.Temperature)
	putNum("brewing.grinding_size", br.GrindingSize)
	putNum("brewing.dose", br.Dose)
	putNum("brewing.target_water", br.TargetWater)
	if len(br.Pours) > 0 {
		m[keyPours] = brew.FormatPours(br.Pours)
	}

	if e := rec.Evaluation; e != nil {
		putNum(keyLiking, e.Liking)
		for name, v := range e.JAG {
			m[jagPrefix+name] = v
		}
	}

	if rec.Access != "" {
		m[KeyAccess] = string(rec.Access)
	} else {
		m[KeyAccess] = string(brew.AccessPublic)
	}
	if rec.UserID != "" {
		m[KeyUserID] = rec.UserID
	}
	return m
}

// Unflatten rebuilds the structured brew data from metadata written by
// Flatten. Values that came back from a store as numbers in another
// representation (json.Number, int64, numeric strings) are accepted.
func Unflatten(m Metadata) (brew.Bean, brew.Brewing, *brew.Evaluation) {
	bean := brew.Bean{
		Name:        m.str("bean.name"),
		Origin:      m.str("bean.origin"),
		Process:     m.str("bean.process"),
		Variety:     m.str("bean.variety"),
		Region:      m.str("bean.region"),
		RoastLevel:  m.str("bean.roast_level"),
		RoastedOn:   m.str("bean.roasted_on"),
		RoastedDays: m.num("bean.roasted_days"),
		Altitude:    m.str("bean.altitude"),
	}
	if notes := m.str(keyFlavor); notes != nil {
		bean.FlavorNotes = flavorNotes(*notes)
	}

	brewing := brew.Brewing{
		Brewer:       m.str("brewing.brewer"),
		Temperature:  m.num("brewing.temperature"),
		GrindingSize: m.num("brewing.grinding_size"),
		Dose:         m.num("brewing.dose"),
		TargetWater:  m.num("brewing.target_water"),
	}
	if s := m.str(keyPours); s != nil {
		// Flatten only writes well-formed pours; anything else is dropped.
		if pours, err := brew.ParsePours(*s); err == nil {
			brewing.Pours = pours
		}
	}

	eval := &brew.Evaluation{Liking: m.num(keyLiking)}
	for _, name := range brew.JAGMetrics {
		if v := m.num(jagPrefix + name); v != nil {
			if eval.JAG == nil {
				eval.JAG = make(map[string]float64, len(brew.JAGMetrics))
			}
			eval.JAG[name] = *v
		}
	}
	if eval.Empty() {
		eval = nil
	}
	return bean, brewing, eval
}

// Access returns the visibility stored in the metadata. Missing means public.
func (m Metadata) Access() brew.Access {
	if s := m.str(KeyAccess); s != nil {
		return brew.Access(*s)
	}
	return brew.AccessPublic
}

// UserID returns the owning user, if any.
func (m Metadata) UserID() string {
	if s := m.str(KeyUserID); s != nil {
		return *s
	}
	return ""
}

// Keys returns the metadata keys in sorted order.
func (m Metadata) Keys() []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// flavorNotes decodes the stored flavor list. Values that are not a JSON
// array are read as a comma separated list.
func flavorNotes(s string) []string {
	var notes []string
	if strings.HasPrefix(strings.TrimSpace(s), "[") && json.Unmarshal([]byte(s), &notes) == nil {
		return notes
	}
	for _, n := range strings.Split(s, ",") {
		if n = strings.TrimSpace(n); n != "" {
			notes = append(notes, n)
		}
	}
	return notes
}

func (m Metadata) str(key string) *string {
	switch v := m[key].(type) {
	case string:
		return &v
	case float64:
		s := brew.FormatNumber(v)
		return &s
	case json.Number:
		s := v.String()
		return &s
	}
	return nil
}

func (m Metadata) num(key string) *float64 {
	switch v := m[key].(type) {
	case float64:
		return &v
	case float32:
		return brew.Num(float64(v))
	case int:
		return brew.Num(float64(v))
	case int64:
		return brew.Num(float64(v))
	case json.Number:
		if f, err := v.Float64(); err == nil {
			return &f
		}
	case string:
		if f, err := strconv.ParseFloat(strings.TrimSpace(v), 64); err == nil {
			return &f
		}
	}
	return nil
}
