package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"

	"github.com/spf13/cobra"
	"go.uber.org/zap/zapcore"

	"github.com/fyrsmithlabs/learnd/internal/catalog"
	"github.com/fyrsmithlabs/learnd/internal/config"
	"github.com/fyrsmithlabs/learnd/internal/indexer"
	"github.com/fyrsmithlabs/learnd/internal/logging"
)

// withApp runs fn against a freshly wired app. Logs go to stderr so stdout
// carries only the command's JSON result.
func withApp(cmd *cobra.Command, fn func(ctx context.Context, a *app) error) (err error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("failed to load configuration: %w", err)
	}

	ctx := cmd.Context()
	a, err := newApp(ctx, cfg, logging.WithWriter(zapcore.AddSync(cmd.ErrOrStderr())))
	if err != nil {
		return err
	}
	defer func() {
		err = errors.Join(err, a.Close(context.Background()))
	}()
	return fn(ctx, a)
}

func printJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func newImportCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "import <file>...",
		Short: "Load curated knowledge documents from YAML or JSON files",
		Long: `Load curated knowledge documents into the store.

Existing documents with the same ID are replaced; their effectiveness
counters and stored embeddings are kept. Run "learnd embed" afterwards to
embed new documents.`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd, func(ctx context.Context, a *app) error {
				total := &catalog.ImportResult{}
				for _, path := range args {
					docs, err := catalog.Load(path)
					if err != nil {
						return fmt.Errorf("%s: %w", path, err)
					}
					res, err := catalog.Import(ctx, a.store, docs, a.logger.Named("catalog"))
					if err != nil {
						return fmt.Errorf("%s: %w", path, err)
					}
					total.Imported += res.Imported
					total.Skipped += res.Skipped
					total.Invalid = append(total.Invalid, res.Invalid...)
				}
				return printJSON(cmd.OutOrStdout(), total)
			})
		},
	}
}

func newEmbedCmd() *cobra.Command {
	var (
		batchSize int
		force     bool
	)
	cmd := &cobra.Command{
		Use:   "embed",
		Short: "Generate embeddings for documents that lack one",
		Long: `Generate and store embeddings for knowledge documents.

Documents that already have an embedding are skipped unless --force is set.
Provider failures stop the run; embeddings written before the failure are kept.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if batchSize < 0 {
				return fmt.Errorf("--batch-size must not be negative")
			}
			return withApp(cmd, func(ctx context.Context, a *app) error {
				if a.embedder == nil {
					return errors.New(`embeddings provider is "none"; configure embeddings.provider to embed documents`)
				}
				res, err := a.indexer.Populate(ctx, indexer.PopulateOptions{BatchSize: batchSize, Force: force})
				if res != nil {
					if perr := printJSON(cmd.OutOrStdout(), res); perr != nil && err == nil {
						err = perr
					}
				}
				return err
			})
		},
	}
	cmd.Flags().IntVar(&batchSize, "batch-size", 0, "documents per provider call (default from config)")
	cmd.Flags().BoolVarP(&force, "force", "f", false, "re-embed documents that already have an embedding")
	return cmd
}

func newCoverageCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "coverage",
		Short: "Report how many documents have an embedding",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd, func(ctx context.Context, a *app) error {
				cov, err := a.svc.EmbeddingCoverage(ctx)
				if err != nil {
					return err
				}
				return printJSON(cmd.OutOrStdout(), cov)
			})
		},
	}
}

func newReportCmd() *cobra.Command {
	var days int
	cmd := &cobra.Command{
		Use:   "report",
		Short: "Print the retrieval performance report",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd, func(ctx context.Context, a *app) error {
				if !cmd.Flags().Changed("days") {
					days = a.cfg.Evaluation.DefaultDays
				}
				report, err := a.svc.PerformanceReport(ctx, days)
				if err != nil {
					return err
				}
				return printJSON(cmd.OutOrStdout(), report)
			})
		},
	}
	cmd.Flags().IntVar(&days, "days", 7, "report window in days (default from config)")
	return cmd
}
