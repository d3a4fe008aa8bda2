package main

import (
	"os"

	"github.com/spf13/cobra"
)

var version = "0.1.0-dev"

// Global flags shared by every subcommand.
var (
	configPath string
	dotEnvPath string
	dbPath     string
	llmFlag    string
	embedFlag  string
	logLevel   string
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:          "startfirst",
		Short:        "startfirst: start-first coaching for scholarship and job applications",
		Long:         "startfirst extracts application fields, retrieves context from a shared corpus and personal notes, and composes tiny start-first plans.",
		SilenceUsage: true,
	}

	root.PersistentFlags().StringVarP(&configPath, "config", "c", "", "path to config.yaml (default: ~/.startfirst/config.yaml)")
	root.PersistentFlags().StringVar(&dotEnvPath, "env", "", "path to a .env file (default: ./.env)")
	root.PersistentFlags().StringVar(&dbPath, "db", "", "path to the SQLite database")
	root.PersistentFlags().StringVar(&llmFlag, "llm", "", "LLM provider/model, e.g. anthropic or google/gemini-2.5-flash")
	root.PersistentFlags().StringVar(&embedFlag, "embed", "", "embedder: hash, local[/model] or provider/model")
	root.PersistentFlags().StringVar(&logLevel, "log-level", "", "debug, info, warn or error")

	root.AddCommand(serveCmd())
	root.AddCommand(mcpCmd())
	root.AddCommand(ingestCmd())
	root.AddCommand(noteCmd())
	root.AddCommand(notesCmd())
	root.AddCommand(retrieveCmd())
	root.AddCommand(statsCmd())
	root.AddCommand(vacuumCmd())
	root.AddCommand(versionCmd())
	return root
}
