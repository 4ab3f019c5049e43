package main

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"

	"github.com/kalambet/dailydrip/internal/brew"
	"github.com/kalambet/dailydrip/internal/config"
	"github.com/kalambet/dailydrip/internal/ingest"
	"github.com/kalambet/dailydrip/internal/rag"
	"github.com/kalambet/dailydrip/internal/retrieval"
	"github.com/kalambet/dailydrip/internal/storage"
)

// --- ingest ---

var ingestCmd = &cobra.Command{
	Use:   "ingest <brew-log>",
	Short: "Normalize a raw brew log into records.jsonl",
	Long: `Normalize a raw CSV or JSON brew log into canonical records.

Examples:
  dailydrip ingest ./brews.csv
  dailydrip ingest ./export.json --out ./records.jsonl --strict`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := config.Load()
		if err != nil {
			return err
		}
		out, _ := cmd.Flags().GetString("out")
		format, _ := cmd.Flags().GetString("format")
		strict, _ := cmd.Flags().GetBool("strict")
		if out == "" {
			out = filepath.Join(cfg.ArtifactDir(), ingest.RecordsFile)
		}

		rep, err := ingest.NormalizeFile(args[0], out, brew.Format(format), strict, newLogger(cfg.Log, os.Stderr))
		if err != nil {
			return err
		}
		printSuccess("Normalized %d of %d rows into %s", rep.Out, rep.In, out)
		if rep.Skipped > 0 {
			printWarning("%d malformed rows skipped", rep.Skipped)
		}
		return nil
	},
}

// --- chunk ---

var chunkCmd = &cobra.Command{
	Use:   "chunk [records.jsonl]",
	Short: "Build retrieval chunks from normalized records",
	Args:  cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := config.Load()
		if err != nil {
			return err
		}
		in := filepath.Join(cfg.ArtifactDir(), ingest.RecordsFile)
		if len(args) == 1 {
			in = args[0]
		}
		out, _ := cmd.Flags().GetString("out")
		if out == "" {
			out = filepath.Join(cfg.ArtifactDir(), ingest.ChunksFile)
		}

		rep, err := ingest.ChunkFile(in, out, newLogger(cfg.Log, os.Stderr))
		if err != nil {
			return err
		}
		printSuccess("Built %d chunks from %d records into %s", rep.Out, rep.In, out)
		if rep.Skipped > 0 {
			printWarning("%d records could not be chunked", rep.Skipped)
		}
		return nil
	},
}

// --- index ---

var indexCmd = &cobra.Command{
	Use:   "index [chunks.jsonl]",
	Short: "Embed chunks and upsert them into the collection",
	Args:  cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		rebuild, _ := cmd.Flags().GetBool("rebuild")

		l, err := openLocal(cmd.Context())
		if err != nil {
			return err
		}
		defer l.Close()

		in := filepath.Join(l.cfg.ArtifactDir(), ingest.ChunksFile)
		if len(args) == 1 {
			in = args[0]
		}

		store, release, err := l.cache.Acquire(cmd.Context())
		if err != nil {
			return err
		}
		defer release()

		printStep("Indexing %s into %s", in, l.cfg.Storage.Collection)
		ix := retrieval.NewIndexer(store, l.embedder, l.cfg.Storage.Collection, l.logger)
		stats, err := ingest.IndexFile(cmd.Context(), in, ix, rebuild)
		if err != nil {
			return err
		}
		if err := retrieval.TouchReindex(l.cfg.Storage.PersistDir); err != nil {
			printWarning("could not signal running server: %v", err)
		}
		printIndexStats(stats)
		return nil
	},
}

func printIndexStats(stats retrieval.IndexStats) {
	printSuccess("Indexed: %d added, %d updated, %d total", stats.Added, stats.Updated, stats.Total)
	if stats.Failed > 0 {
		printWarning("%d chunks failed to embed", stats.Failed)
	}
}

// --- build ---

var buildCmd = &cobra.Command{
	Use:   "build <brew-log>",
	Short: "Run normalize, chunk and index in one pass",
	Long: `Run the whole batch pipeline over a raw brew log and record the build.

Examples:
  dailydrip build ./brews.csv
  dailydrip build ./brews.csv --rebuild --strict`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		format, _ := cmd.Flags().GetString("format")
		strict, _ := cmd.Flags().GetBool("strict")
		rebuild, _ := cmd.Flags().GetBool("rebuild")
		public, _ := cmd.Flags().GetBool("public")

		l, err := openLocal(cmd.Context())
		if err != nil {
			return err
		}
		defer l.Close()

		builds, err := storage.Open(l.cfg.Storage.PersistDir)
		if err != nil {
			return fmt.Errorf("opening build history: %w", err)
		}
		defer builds.Close()

		opts := ingest.Options{
			Strict:      strict,
			Rebuild:     rebuild,
			ArtifactDir: l.cfg.ArtifactDir(),
			PersistDir:  l.cfg.Storage.PersistDir,
		}
		if public {
			opts.Access = brew.AccessPublic
		}
		p := ingest.NewPipeline(l.cache, l.embedder, l.cfg.Storage.Collection, builds, opts, l.logger)

		printStep("Building %s from %s", l.cfg.Storage.Collection, args[0])
		rep, err := p.Run(cmd.Context(), ingest.Source{Path: args[0], Format: brew.Format(format)})
		if err != nil {
			return err
		}
		printStatus("Build", "%s", rep.BuildID)
		printStatus("Rows", "%d (%d malformed)", rep.Rows, rep.Malformed)
		printStatus("Chunks", "%d (%d failed)", rep.Chunks, rep.ChunkFailures)
		printIndexStats(rep.Index)
		return nil
	},
}

// --- query ---

var queryCmd = &cobra.Command{
	Use:   "query [text...]",
	Short: "Find reference brews for a bean",
	Long: `Find the stored brews closest to a bean description.

Examples:
  dailydrip query "Ethiopia washed Gesha"
  dailydrip query --bean '{"name":"Gesha","origin":"Panama","process":"washed"}' --rerank
  dailydrip query --remote --user alice "natural Colombia"`,
	RunE: func(cmd *cobra.Command, args []string) error {
		q, err := queryFromFlags(cmd, args)
		if err != nil {
			return err
		}
		asJSON, _ := cmd.Flags().GetBool("json")
		remote, _ := cmd.Flags().GetBool("remote")

		var resp rag.Response
		if remote {
			client, err := newAPIClient()
			if err != nil {
				return err
			}
			r, err := client.post(cmd.Context(), "/rag", q)
			if err != nil {
				return err
			}
			if err := decodeJSON(r, &resp); err != nil {
				return err
			}
		} else {
			l, err := openLocal(cmd.Context())
			if err != nil {
				return err
			}
			defer l.Close()
			svc := rag.NewService(l.cache, l.embedder, serviceConfig(l.cfg), l.logger)
			if resp, err = svc.Retrieve(cmd.Context(), q); err != nil {
				return err
			}
		}

		if asJSON {
			enc := json.NewEncoder(cmd.OutOrStdout())
			enc.SetIndent("", "  ")
			return enc.Encode(resp)
		}
		writeResults(cmd.OutOrStdout(), resp)
		return nil
	},
}

func queryFromFlags(cmd *cobra.Command, args []string) (rag.Query, error) {
	flags := cmd.Flags()
	var q rag.Query

	q.Text = strings.Join(args, " ")
	if bean, _ := flags.GetString("bean"); bean != "" {
		if err := json.Unmarshal([]byte(bean), &q.Bean); err != nil {
			return q, fmt.Errorf("--bean must be a JSON object: %w", err)
		}
	}
	if path, _ := flags.GetString("record"); path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return q, fmt.Errorf("reading record: %w", err)
		}
		if err := json.Unmarshal(data, &q.Record); err != nil {
			return q, fmt.Errorf("record %s must be a JSON object: %w", path, err)
		}
	}
	if q.Text == "" && q.Bean == nil && q.Record == nil {
		return q, fmt.Errorf("one of query text, --bean or --record is required")
	}

	if flags.Changed("k") {
		k, _ := flags.GetInt("k")
		q.K = &k
	}
	if flags.Changed("weight") {
		w, _ := flags.GetFloat64("weight")
		q.SimilarityWeight = &w
	}
	if flags.Changed("multiplier") {
		m, _ := flags.GetInt("multiplier")
		q.RetrievalMultiplier = &m
	}
	q.UseEvaluationReranking, _ = flags.GetBool("rerank")
	q.UserID, _ = flags.GetString("user")
	return q, nil
}

func addQueryFlags(cmd *cobra.Command) {
	f := cmd.Flags()
	f.String("bean", "", "bean attributes as a JSON object")
	f.String("record", "", "path to a full brew record (JSON)")
	f.Int("k", rag.DefaultK, "number of results")
	f.Bool("rerank", false, "rerank candidates by evaluation")
	f.Float64("weight", rag.DefaultWeight, "similarity weight when reranking")
	f.Int("multiplier", rag.DefaultMultiplier, "candidate multiplier when reranking")
	f.String("user", "", "include this user's private brews")
	f.Bool("json", false, "print the raw JSON response")
	f.Bool("remote", false, "query a running server instead of the local index")
}

// --- config ---

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Show or update configuration",
}

var configShowCmd = &cobra.Command{
	Use:   "show",
	Short: "Show current configuration",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := config.Load()
		if err != nil {
			return err
		}

		for _, k := range config.ShowAll(cfg) {
			fmt.Fprintf(cmd.OutOrStdout(), "  %s = %s\n", colorize(colorBold, k.Key), k.Value)
		}
		fmt.Fprintf(cmd.OutOrStdout(), "\n  file: %s\n", config.Path())
		return nil
	},
}

var configSetCmd = &cobra.Command{
	Use:   "set <key> <value>",
	Short: "Set a configuration value",
	Long:  "Set a configuration value in the config file.\n\nKeys: " + strings.Join(config.ValidKeys(), ", "),
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		key, value := args[0], args[1]

		if err := config.SetKey(key, value); err != nil {
			return err
		}

		printSuccess("Set %s = %s", key, value)
		return nil
	},
}

func init() {
	ingestCmd.Flags().String("out", "", "output records file (default: <persist_dir>/artifacts/records.jsonl)")
	ingestCmd.Flags().String("format", "", "input format: csv or json (default: from file extension)")
	ingestCmd.Flags().Bool("strict", false, "fail on the first malformed row")

	chunkCmd.Flags().String("out", "", "output chunks file (default: <persist_dir>/artifacts/chunks.jsonl)")

	indexCmd.Flags().Bool("rebuild", false, "drop the collection before indexing")

	buildCmd.Flags().String("format", "", "input format: csv or json (default: from file extension)")
	buildCmd.Flags().Bool("strict", false, "fail on the first malformed row")
	buildCmd.Flags().Bool("rebuild", false, "drop the collection before indexing")
	buildCmd.Flags().Bool("public", false, "mark every record public")

	addQueryFlags(queryCmd)

	configCmd.AddCommand(configShowCmd)
	configCmd.AddCommand(configSetCmd)
}
