package cmd

import (
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"github.com/JakeFAU/aggtube-harvester/internal/harvest"
	"github.com/JakeFAU/aggtube-harvester/internal/pipeline"
)

type crawlFlags struct {
	categories []string
	maxScrolls int
	topTags    int
}

// newCrawlCmd creates the 'crawl' subcommand.
func newCrawlCmd() *cobra.Command {
	flags := crawlFlags{}
	cmd := &cobra.Command{
		Use:       "crawl <popular|categories|top_tags>",
		Short:     "Runs one crawl-transform-index pass",
		ValidArgs: []string{string(harvest.ModePopular), string(harvest.ModeCategories), string(harvest.ModeTopTags)},
		Args: func(_ *cobra.Command, args []string) error {
			if len(args) != 1 {
				return fmt.Errorf("expected exactly one mode, got %d", len(args))
			}
			if _, err := harvest.ParseMode(args[0]); err != nil {
				return err
			}
			if flags.maxScrolls < -1 {
				return fmt.Errorf("--max-scrolls must be >= 0")
			}
			if flags.topTags < 0 {
				return fmt.Errorf("--top-tags must be > 0")
			}
			return nil
		},
		RunE: func(cmd *cobra.Command, args []string) error {
			return runCrawl(cmd, args[0], flags)
		},
	}
	cmd.Flags().StringArrayVar(&flags.categories, "category", nil, "category name to crawl (repeatable); default is every category")
	cmd.Flags().IntVar(&flags.maxScrolls, "max-scrolls", -1, "extra pages per target; -1 uses crawl.max_scrolls")
	cmd.Flags().IntVar(&flags.topTags, "top-tags", 0, "number of tags for top_tags mode; 0 uses crawl.top_tags")
	return cmd
}

func runCrawl(cmd *cobra.Command, rawMode string, flags crawlFlags) error {
	mode, err := harvest.ParseMode(rawMode)
	if err != nil {
		return err
	}
	appInstance, err := resolveApp(cmd.Context())
	if err != nil {
		return err
	}

	opts := pipeline.DefaultOptions()
	opts.Categories = flags.categories
	opts.MaxScrolls = flags.maxScrolls
	opts.TopTags = flags.topTags

	summary, runErr := appInstance.Run(cmd.Context(), mode, opts)
	if summary.RunID != "" {
		printSummary(cmd.OutOrStdout(), summary)
	}
	if runErr != nil {
		return fmt.Errorf("crawl %s: %w", mode, runErr)
	}
	return nil
}

func printSummary(w io.Writer, s pipeline.Summary) {
	_, _ = fmt.Fprintf(w, "run %s mode=%s status=%s items=%d operations=%d ok=%d failed=%d\n",
		s.RunID, s.Mode, s.Status, s.Items, s.Operations, s.Report.Succeeded(), len(s.Report.Failed()))
	for _, t := range s.Targets {
		if t.Err != nil {
			_, _ = fmt.Fprintf(w, "  %s: items=%d requests=%d error=%v\n", t.Target, t.Items, t.Requests, t.Err)
			continue
		}
		_, _ = fmt.Fprintf(w, "  %s: items=%d requests=%d\n", t.Target, t.Items, t.Requests)
	}
	if s.ArchiveURI != "" {
		_, _ = fmt.Fprintf(w, "  archive: %s\n", s.ArchiveURI)
	}
}
