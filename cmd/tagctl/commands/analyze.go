package commands

import (
	"fmt"
	"strconv"

	"github.com/benvon/tagmatch/internal/app"
	"github.com/benvon/tagmatch/internal/models"
	"github.com/benvon/tagmatch/internal/workers"
	"github.com/spf13/cobra"
)

func newAnalyzeCmd(root *rootOptions) *cobra.Command {
	var kindFlag string
	cmd := &cobra.Command{
		Use:   "analyze",
		Short: "Run a (re)analysis pass over stale content",
		Long:  "Classify every entity of --kind that was never analyzed or went stale, and store the tags. Use --kind all for every kind.",
		RunE: func(cmd *cobra.Command, args []string) error {
			kinds, err := parseKinds(kindFlag)
			if err != nil {
				return err
			}
			return withAnalyzer(cmd, root, func(a *workers.ContentAnalyzer) error {
				reports := make([]*workers.AnalysisReport, 0, len(kinds))
				for _, kind := range kinds {
					report, err := a.AnalyzeStale(cmd.Context(), kind)
					if report != nil {
						reports = append(reports, report)
					}
					if err != nil {
						_ = printJSON(cmd.OutOrStdout(), reports)
						return fmt.Errorf("analyze %s: %w", kind, err)
					}
				}
				return printJSON(cmd.OutOrStdout(), reports)
			})
		},
	}
	cmd.Flags().StringVar(&kindFlag, "kind", "all", "Content kind: event, organization, lab or all")
	cmd.AddCommand(newAnalyzeInterestCmd(root))
	return cmd
}

func newAnalyzeInterestCmd(root *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "interest <id>",
		Short: "Classify one stored interest and save its linked tags",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := strconv.ParseInt(args[0], 10, 64)
			if err != nil {
				return fmt.Errorf("invalid interest id %q", args[0])
			}
			return withAnalyzer(cmd, root, func(a *workers.ContentAnalyzer) error {
				res, err := a.AnalyzeInterestByID(cmd.Context(), id)
				if err != nil {
					return err
				}
				return printJSON(cmd.OutOrStdout(), res)
			})
		},
	}
}

func withAnalyzer(cmd *cobra.Command, root *rootOptions, fn func(*workers.ContentAnalyzer) error) error {
	e, err := root.load()
	if err != nil {
		return err
	}
	defer e.close()

	tagger, err := newTagger(e)
	if err != nil {
		return err
	}
	store, err := app.OpenStore(cmd.Context(), e.cfg, e.logger)
	if err != nil {
		return err
	}
	defer store.Close()

	redisCache, err := app.OpenCache(e.cfg, e.logger)
	if err != nil {
		return err
	}
	if redisCache != nil {
		defer redisCache.Close()
	}

	batcher := app.NewBatchClassifier(e.cfg, tagger, e.logger)
	return fn(app.NewContentAnalyzer(e.cfg, store, batcher, redisCache, e.logger))
}

func parseKinds(s string) ([]models.ContentKind, error) {
	if s == "" || s == "all" {
		return models.ContentKinds, nil
	}
	kind, err := models.ParseContentKind(s)
	if err != nil {
		return nil, err
	}
	return []models.ContentKind{kind}, nil
}
