// Learnd serves knowledge retrieval and effectiveness tracking for language
// learning feedback and exercise generation.
//
// Usage:
//
//	# Start the HTTP API
//	learnd serve
//
//	# Load curated documents, then generate their embeddings
//	learnd import knowledge.yaml
//	learnd embed
//
//	# Configure via file or environment
//	LEARND_SERVER_HTTP_PORT=9191 learnd serve --config ~/.config/learnd/config.yaml
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

// Version information (set via ldflags during build)
var (
	version   = "dev"
	gitCommit = "unknown"
	buildDate = "unknown"
)

var configPath string

func main() {
	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:   "learnd",
		Short: "Knowledge retrieval and effectiveness learning service",
		Long: `learnd retrieves curated grammar and vocabulary knowledge for LLM feedback
and exercise generation, and learns which documents actually help learners.`,
		Version:       version,
		SilenceUsage:  true,
		SilenceErrors: false,
	}
	root.PersistentFlags().StringVar(&configPath, "config", "", "config file (default ~/.config/learnd/config.yaml)")

	root.AddCommand(
		newServeCmd(),
		newImportCmd(),
		newEmbedCmd(),
		newCoverageCmd(),
		newReportCmd(),
		newVersionCmd(),
	)
	return root
}

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Show version information",
		Args:  cobra.NoArgs,
		Run: func(cmd *cobra.Command, args []string) {
			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "learnd by Fyrsmith Labs\n")
			fmt.Fprintf(out, "Version:    %s\n", version)
			fmt.Fprintf(out, "Commit:     %s\n", gitCommit)
			fmt.Fprintf(out, "Build Date: %s\n", buildDate)
		},
	}
}
