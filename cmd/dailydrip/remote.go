package main

import (
	"encoding/base64"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"time"

	"github.com/spf13/cobra"

	"github.com/kalambet/dailydrip/internal/api"
	"github.com/kalambet/dailydrip/internal/storage"
)

// --- submit ---

var submitCmd = &cobra.Command{
	Use:   "submit <brew-log>",
	Short: "Upload a brew log to a running server for indexing",
	Long: `Upload a brew log to a running server. The server queues a build and
indexes it in the background; use "dailydrip job <id>" to follow it.

Requires DAILYDRIP_ADMIN_TOKEN.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		format, _ := cmd.Flags().GetString("format")
		source, _ := cmd.Flags().GetString("source")

		data, err := os.ReadFile(args[0])
		if err != nil {
			return fmt.Errorf("reading file: %w", err)
		}
		if source == "" {
			source = filepath.Base(args[0])
		}

		client, err := newAPIClient()
		if err != nil {
			return err
		}
		if client.token == "" {
			return fmt.Errorf("DAILYDRIP_ADMIN_TOKEN is not set")
		}

		req := api.IngestRequest{
			Source:   source,
			Format:   format,
			Encoding: "base64",
			Content:  base64.StdEncoding.EncodeToString(data),
		}
		resp, err := client.post(cmd.Context(), "/admin/ingest", req)
		if err != nil {
			return err
		}

		var result map[string]string
		if err := decodeJSON(resp, &result); err != nil {
			return err
		}

		printSuccess("Queued build job %s", result["id"])
		return nil
	},
}

// --- builds ---

var buildsCmd = &cobra.Command{
	Use:   "builds",
	Short: "List recent builds on a running server",
	RunE: func(cmd *cobra.Command, args []string) error {
		limit, _ := cmd.Flags().GetInt("limit")

		client, err := newAPIClient()
		if err != nil {
			return err
		}

		resp, err := client.get(cmd.Context(), fmt.Sprintf("/admin/builds?limit=%d", limit))
		if err != nil {
			return err
		}

		var builds []storage.Build
		if err := decodeJSON(resp, &builds); err != nil {
			return err
		}

		if len(builds) == 0 {
			fmt.Fprintln(cmd.OutOrStdout(), "No builds found.")
			return nil
		}

		for _, b := range builds {
			status := colorize(colorGreen, b.Status)
			if b.Status == storage.BuildFailed {
				status = colorize(colorRed, b.Status)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%s  %s  %-9s  %s  rows=%d records=%d added=%d updated=%d\n",
				colorize(colorCyan, b.ID),
				b.StartedAt.Local().Format(time.DateTime),
				status,
				b.Source,
				b.Rows, b.Records, b.Added, b.Updated,
			)
			if b.Error != "" {
				fmt.Fprintf(cmd.OutOrStdout(), "    %s\n", b.Error)
			}
		}
		return nil
	},
}

var buildsShowCmd = &cobra.Command{
	Use:   "show <id>",
	Short: "Show one build",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		client, err := newAPIClient()
		if err != nil {
			return err
		}

		resp, err := client.get(cmd.Context(), "/admin/builds/"+url.PathEscape(args[0]))
		if err != nil {
			return err
		}

		var b storage.Build
		if err := decodeJSON(resp, &b); err != nil {
			return err
		}

		printStatus("Build", "%s", b.ID)
		printStatus("Status", "%s", b.Status)
		printStatus("Source", "%s", b.Source)
		printStatus("Collection", "%s", b.Collection)
		printStatus("Rows", "%d (%d malformed)", b.Rows, b.Malformed)
		printStatus("Chunks", "%d (%d failed)", b.Chunks, b.ChunkFailures)
		printStatus("Index", "%d added, %d updated, %d failed, %d total", b.Added, b.Updated, b.Failed, b.Total)
		printStatus("Duration", "%s", b.FinishedAt.Sub(b.StartedAt).Round(time.Millisecond))
		if b.Error != "" {
			printStatus("Error", "%s", b.Error)
		}
		return nil
	},
}

// --- job ---

var jobCmd = &cobra.Command{
	Use:   "job <id>",
	Short: "Show the state of a queued build job",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		client, err := newAPIClient()
		if err != nil {
			return err
		}

		resp, err := client.get(cmd.Context(), "/admin/jobs/"+url.PathEscape(args[0]))
		if err != nil {
			return err
		}

		var job storage.Job
		if err := decodeJSON(resp, &job); err != nil {
			return err
		}

		printStatus("Job", "%s", job.ID)
		printStatus("Status", "%s", job.Status)
		printStatus("Attempts", "%d/%d", job.Attempts, job.MaxAttempts)
		if job.BuildID != "" {
			printStatus("Build", "%s", job.BuildID)
		}
		if job.LastError != "" {
			printStatus("Last error", "%s", job.LastError)
		}
		return nil
	},
}

func init() {
	submitCmd.Flags().String("format", "", "input format: csv or json (default: from file extension)")
	submitCmd.Flags().String("source", "", "source name recorded with the build (default: file name)")

	buildsCmd.Flags().Int("limit", 10, "maximum number of builds to list")
	buildsCmd.AddCommand(buildsShowCmd)
}
