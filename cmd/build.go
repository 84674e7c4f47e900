package cmd

import (
	"context"
	"fmt"
	"os"
	"sort"
	"time"

	"github.com/spf13/cobra"

	"github.com/conneroisu/bloxciting/internal/config"
	"github.com/conneroisu/bloxciting/internal/pipeline"
	"github.com/conneroisu/bloxciting/internal/renderer"
)

var buildCmd = &cobra.Command{
	Use:     "build",
	Aliases: []string{"b"},
	Short:   "Compile every document once without serving",
	Long: `Compile every document under the content root into the output directory.

Examples:
  bloxciting build                 # Compile ./blogs
  bloxciting build --clean         # Remove the output directory first`,
	RunE: runBuild,
}

var buildClean bool

func init() {
	rootCmd.AddCommand(buildCmd)

	buildCmd.Flags().BoolVar(&buildClean, "clean", false, "Remove compiled artifacts before building")
}

func runBuild(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("failed to load configuration: %w", err)
	}
	logger, err := newLogger(cfg)
	if err != nil {
		return err
	}

	if buildClean {
		if err := os.RemoveAll(cfg.Content.OutputDir); err != nil {
			return fmt.Errorf("failed to clean output directory: %w", err)
		}
	}

	p, err := pipeline.New(pipeline.Options{
		Root:      cfg.Content.Root,
		OutputDir: cfg.Content.OutputDir,
		Extension: cfg.Content.Extension,
		Author: renderer.Author{
			Email:    cfg.Author.Email,
			Nickname: cfg.Author.Nickname,
		},
		Hash: cfg.Content.Hash,
	}, renderer.NewMarkdown(), logger)
	if err != nil {
		return err
	}

	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}
	report, err := p.Rebuild(ctx)
	if err != nil {
		return fmt.Errorf("build failed: %w", err)
	}

	out := cmd.OutOrStdout()
	for _, e := range report.Compiled {
		fmt.Fprintf(out, "  %s  %s\n", e.Hash, e.LogicalPath)
	}

	failed := make([]string, 0, len(report.Failed))
	for path := range report.Failed {
		failed = append(failed, path)
	}
	sort.Strings(failed)
	for _, path := range failed {
		fmt.Fprintf(out, "  FAILED  %s: %v\n", path, report.Failed[path])
	}

	fmt.Fprintf(out, "Compiled %d documents into %s in %s\n",
		len(report.Compiled), cfg.Content.OutputDir, report.Duration.Round(time.Millisecond))

	if len(failed) > 0 {
		return fmt.Errorf("%d documents failed to compile", len(failed))
	}
	return nil
}
