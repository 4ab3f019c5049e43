package main

import (
	"fmt"
	"io"
	"os"
	"sort"
	"strings"

	"github.com/kalambet/dailydrip/internal/rag"
)

const (
	colorReset  = "\033[0m"
	colorRed    = "\033[31m"
	colorGreen  = "\033[32m"
	colorYellow = "\033[33m"
	colorCyan   = "\033[36m"
	colorBold   = "\033[1m"
)

func colorize(color, text string) string {
	if noColor {
		return text
	}
	return color + text + colorReset
}

func printSuccess(format string, args ...any) {
	msg := fmt.Sprintf(format, args...)
	fmt.Fprintln(os.Stderr, colorize(colorGreen, "✓ "+msg))
}

func printError(format string, args ...any) {
	msg := fmt.Sprintf(format, args...)
	fmt.Fprintln(os.Stderr, colorize(colorRed, "✗ "+msg))
}

func printWarning(format string, args ...any) {
	msg := fmt.Sprintf(format, args...)
	fmt.Fprintln(os.Stderr, colorize(colorYellow, "⚠ "+msg))
}

func printStatus(label string, format string, args ...any) {
	val := fmt.Sprintf(format, args...)
	l := colorize(colorBold, label+":")
	fmt.Fprintf(os.Stderr, "  %s %s\n", l, val)
}

func printStep(format string, args ...any) {
	msg := fmt.Sprintf(format, args...)
	fmt.Fprintln(os.Stderr, colorize(colorCyan, "→ "+msg))
}

// writeResults renders a retrieval response as a numbered list.
func writeResults(w io.Writer, resp rag.Response) {
	fmt.Fprintf(w, "%s %s\n", colorize(colorBold, "query:"), resp.Query)
	if len(resp.Results) == 0 {
		fmt.Fprintln(w, "no matching brews")
		return
	}
	for _, r := range resp.Results {
		score := ""
		if r.CombinedScore != nil {
			score = fmt.Sprintf("  score=%.3f", *r.CombinedScore)
		}
		fmt.Fprintf(w, "%s %s  distance=%.4f%s\n",
			colorize(colorCyan, fmt.Sprintf("#%d", r.Rank)), r.ID, r.Distance, score)
		fmt.Fprintf(w, "   %s\n", r.BeanText)
		if line := brewingLine(r); line != "" {
			fmt.Fprintf(w, "   %s\n", line)
		}
		if !r.Evaluation.Empty() {
			fmt.Fprintf(w, "   %s\n", evaluationLine(r))
		}
	}
}

func brewingLine(r rag.Result) string {
	var parts []string
	b := r.Brewing
	if b.Brewer != nil {
		parts = append(parts, *b.Brewer)
	}
	if b.Temperature != nil {
		parts = append(parts, fmt.Sprintf("%.0f°C", *b.Temperature))
	}
	if b.GrindingSize != nil {
		parts = append(parts, fmt.Sprintf("grind %g", *b.GrindingSize))
	}
	if b.Dose != nil && b.TargetWater != nil {
		parts = append(parts, fmt.Sprintf("%gg/%gg", *b.Dose, *b.TargetWater))
	}
	if len(b.Pours) > 0 {
		parts = append(parts, fmt.Sprintf("%d pours", len(b.Pours)))
	}
	return strings.Join(parts, ", ")
}

func evaluationLine(r rag.Result) string {
	e := r.Evaluation
	var parts []string
	if e.Liking != nil {
		parts = append(parts, fmt.Sprintf("liking %g", *e.Liking))
	}
	keys := make([]string, 0, len(e.JAG))
	for k := range e.JAG {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		parts = append(parts, fmt.Sprintf("%s %g", k, e.JAG[k]))
	}
	return strings.Join(parts, ", ")
}
