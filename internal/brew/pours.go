package brew

import (
	"fmt"
	"strconv"
	"strings"
)

const (
	pourSeparator = "; "
	rangeSep      = "-"
	waterSep      = ":"
)

// FormatPours serializes pours to the compact form "start-end:water; ...".
// Missing values are rendered as empty strings. Returns "" for no pours.
func FormatPours(pours []Pour) string {
	if len(pours) == 0 {
		return ""
	}
	parts := make([]string, len(pours))
	for i, p := range pours {
		parts[i] = formatOptional(p.Start) + rangeSep + formatOptional(p.End) + waterSep + formatOptional(p.WaterAdded)
	}
	return strings.Join(parts, pourSeparator)
}

// ParsePours is the inverse of FormatPours. It also accepts "m:ss" times in
// the start and end positions, as found in hand-written brew logs.
func ParsePours(s string) ([]Pour, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return nil, nil
	}
	steps := strings.Split(s, ";")
	pours := make([]Pour, 0, len(steps))
	for i, step := range steps {
		step = strings.TrimSpace(step)
		if step == "" {
			continue
		}
		idx := strings.LastIndex(step, waterSep)
		if idx < 0 {
			return nil, fmt.Errorf("pour %d %q: missing %q before water amount", i, step, waterSep)
		}
		timing, water := step[:idx], step[idx+1:]
		startStr, endStr, ok := strings.Cut(timing, rangeSep)
		if !ok {
			return nil, fmt.Errorf("pour %d %q: missing %q between start and end", i, step, rangeSep)
		}

		var p Pour
		var err error
		if p.Start, err = parseSeconds(startStr); err != nil {
			return nil, fmt.Errorf("pour %d start: %w", i, err)
		}
		if p.End, err = parseSeconds(endStr); err != nil {
			return nil, fmt.Errorf("pour %d end: %w", i, err)
		}
		if p.WaterAdded, err = parseOptionalFloat(water); err != nil {
			return nil, fmt.Errorf("pour %d water: %w", i, err)
		}
		if err := checkPour(p); err != nil {
			return nil, fmt.Errorf("pour %d: %w", i, err)
		}
		pours = append(pours, p)
	}
	return pours, nil
}

// checkPour rejects negative times and amounts. FormatPours output for a
// negative start would not parse back, since "-" also separates start and end.
func checkPour(p Pour) error {
	for _, f := range []struct {
		name string
		v    *float64
	}{{"start", p.Start}, {"end", p.End}, {"water", p.WaterAdded}} {
		if f.v != nil && *f.v < 0 {
			return fmt.Errorf("%s %v is negative", f.name, *f.v)
		}
	}
	return nil
}

// parseSeconds parses either plain seconds ("45") or minutes and seconds ("0:45").
func parseSeconds(s string) (*float64, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return nil, nil
	}
	if mins, secs, ok := strings.Cut(s, ":"); ok {
		m, err := strconv.ParseFloat(mins, 64)
		if err != nil {
			return nil, fmt.Errorf("invalid minutes in %q", s)
		}
		sv, err := strconv.ParseFloat(secs, 64)
		if err != nil {
			return nil, fmt.Errorf("invalid seconds in %q", s)
		}
		return Num(m*60 + sv), nil
	}
	return parseOptionalFloat(s)
}

func parseOptionalFloat(s string) (*float64, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return nil, nil
	}
	f, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return nil, fmt.Errorf("invalid number %q", s)
	}
	return &f, nil
}

func formatOptional(f *float64) string {
	if f == nil {
		return ""
	}
	return FormatNumber(*f)
}

// FormatNumber renders f without trailing zeros ("18", "92.5").
func FormatNumber(f float64) string {
	return strconv.FormatFloat(f, 'f', -1, 64)
}
