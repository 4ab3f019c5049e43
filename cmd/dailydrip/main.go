package main

import (
	"os"

	"github.com/spf13/cobra"
)

var version = "dev"

var (
	noColor   bool
	serverURL string
)

var rootCmd = &cobra.Command{
	Use:           "dailydrip",
	Short:         "Find reference brews for a coffee bean",
	Version:       version,
	SilenceUsage:  true,
	SilenceErrors: true,
}

func init() {
	rootCmd.PersistentFlags().BoolVar(&noColor, "no-color", os.Getenv("NO_COLOR") != "", "disable colored output")
	rootCmd.PersistentFlags().StringVar(&serverURL, "server", "", "base URL of a running server (default: http://127.0.0.1:<server.port>)")

	rootCmd.AddCommand(
		serveCmd,
		stopCmd,
		statusCmd,
		ingestCmd,
		chunkCmd,
		indexCmd,
		buildCmd,
		queryCmd,
		submitCmd,
		buildsCmd,
		jobCmd,
		configCmd,
	)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		printError("%v", err)
		os.Exit(1)
	}
}
