package ingest

import (
	"context"
	"log/slog"

	"github.com/kalambet/dailydrip/internal/brew"
	"github.com/kalambet/dailydrip/internal/chunk"
	"github.com/kalambet/dailydrip/internal/retrieval"
)

// StageReport counts what a single stage consumed, produced and skipped.
type StageReport struct {
	In      int
	Out     int
	Skipped int
}

// NormalizeFile reads a raw brew log and writes canonical records as JSONL.
func NormalizeFile(in, out string, format brew.Format, strict bool, logger *slog.Logger) (StageReport, error) {
	rows, err := brew.ReadFile(in, format)
	if err != nil {
		return StageReport{}, err
	}
	rep := StageReport{In: len(rows)}

	var records []brew.Record
	if strict {
		if records, err = brew.NormalizeStrict(rows); err != nil {
			return rep, err
		}
	} else {
		var errs []error
		records, errs = brew.Normalize(rows)
		for _, rerr := range errs {
			logger.Warn("skipping row", "error", rerr)
		}
	}
	rep.Out = len(records)
	rep.Skipped = rep.In - rep.Out
	return rep, brew.WriteJSONLFile(out, records)
}

// ChunkFile reads canonical records and writes chunks as JSONL.
func ChunkFile(in, out string, logger *slog.Logger) (StageReport, error) {
	records, err := brew.ReadJSONLFile[brew.Record](in)
	if err != nil {
		return StageReport{}, err
	}
	chunks, errs := chunk.BuildAll(records)
	for _, cerr := range errs {
		logger.Warn("skipping record", "error", cerr)
	}
	rep := StageReport{In: len(records), Out: len(chunks), Skipped: len(errs)}
	return rep, chunk.WriteFile(out, chunks)
}

// IndexFile embeds and upserts the chunks of a chunks.jsonl file.
func IndexFile(ctx context.Context, in string, ix *retrieval.Indexer, rebuild bool) (retrieval.IndexStats, error) {
	chunks, err := chunk.ReadFile(in)
	if err != nil {
		return retrieval.IndexStats{}, err
	}
	if rebuild {
		return ix.Rebuild(ctx, chunks)
	}
	return ix.Index(ctx, chunks)
}
