package main

import (
	"context"
	"fmt"
	"os"
	"runtime"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
)

var version = "0.1.0"

func main() {
	// Load .env file if it exists
	_ = godotenv.Load()

	root := &cobra.Command{
		Use:   "bqtarget",
		Short: "bqtarget - batching BigQuery loader",
		Long: `bqtarget lands schema-typed record streams in BigQuery tables.
It translates each stream's JSON schema into a table schema, batches records and
commits them by streaming insert, in-memory load job or Cloud Storage staged load.`,
		SilenceUsage: true,
	}

	root.AddCommand(&cobra.Command{
		Use:   "version",
		Short: "Show version information",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Printf("bqtarget v%s\n", version)
			fmt.Printf("Go version: %s\n", runtime.Version())
			fmt.Printf("OS/Arch: %s/%s\n", runtime.GOOS, runtime.GOARCH)
		},
	})

	var configFile, inputFile string
	runCmd := &cobra.Command{
		Use:   "run",
		Short: "Load a message stream into BigQuery",
		Long: `Read SCHEMA, RECORD and STATE messages, one JSON object per line, and load
the records into BigQuery. Each STATE message is written to stdout once every
record before it has been committed.

Example:
  tap-postgres | bqtarget run --config target.yaml`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runTarget(cmd.Context(), configFile, inputFile, cmd.OutOrStdout())
		},
	}
	runCmd.Flags().StringVarP(&configFile, "config", "c", "", "Path to the YAML configuration file")
	runCmd.Flags().StringVarP(&inputFile, "input", "i", "", "Read messages from this file instead of stdin")
	root.AddCommand(runCmd)

	var schemaFile string
	translateCmd := &cobra.Command{
		Use:   "translate",
		Short: "Print the BigQuery schema for a JSON schema",
		RunE: func(cmd *cobra.Command, args []string) error {
			return translateSchema(schemaFile, cmd.OutOrStdout())
		},
	}
	translateCmd.Flags().StringVarP(&schemaFile, "schema", "s", "", "Path to a JSON schema document (required)")
	_ = translateCmd.MarkFlagRequired("schema")
	root.AddCommand(translateCmd)

	if err := root.ExecuteContext(context.Background()); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
