package commands

import (
	"fmt"
	"time"

	"github.com/benvon/tagmatch/internal/app"
	"github.com/benvon/tagmatch/internal/models"
	"github.com/benvon/tagmatch/internal/recommend"
	"github.com/spf13/cobra"
)

func newRecommendCmd(root *rootOptions) *cobra.Command {
	var (
		userID    string
		kindFlag  string
		algorithm string
		limit     int
		minScore  float64
		reasons   bool
		past      bool
		from, to  string
	)
	cmd := &cobra.Command{
		Use:   "recommend",
		Short: "Compute recommendations for a user",
		RunE: func(cmd *cobra.Command, args []string) error {
			if userID == "" {
				return fmt.Errorf("--user is required")
			}
			kind, err := models.ParseContentKind(kindFlag)
			if err != nil {
				return err
			}
			algo, err := recommend.ParseAlgorithm(algorithm)
			if err != nil {
				return err
			}
			opts := recommend.MatchOptions{
				Limit:          limit,
				MinScore:       minScore,
				Algorithm:      algo,
				IncludeReasons: reasons,
				IncludePast:    past,
			}
			if from != "" || to != "" {
				window, err := parseWindow(from, to)
				if err != nil {
					return err
				}
				opts.TimeWindow = window
			}

			e, err := root.load()
			if err != nil {
				return err
			}
			defer e.close()

			mapping, err := app.LoadTaxonomy(e.cfg)
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

			res, err := app.NewRecommendService(e.cfg, store, mapping, redisCache, e.logger).
				Recommend(cmd.Context(), userID, kind, opts)
			if err != nil {
				return err
			}
			return printJSON(cmd.OutOrStdout(), res)
		},
	}
	cmd.Flags().StringVar(&userID, "user", "", "User ID")
	cmd.Flags().StringVar(&kindFlag, "kind", string(models.KindEvent), "Content kind: event, organization or lab")
	cmd.Flags().StringVar(&algorithm, "algorithm", string(recommend.AlgorithmContentBased), "content_based, collaborative or hybrid")
	cmd.Flags().IntVar(&limit, "limit", recommend.DefaultLimit, "Maximum number of recommendations")
	cmd.Flags().Float64Var(&minScore, "min-score", 0, "Minimum score in [0,1]")
	cmd.Flags().BoolVar(&reasons, "reasons", true, "Include human-readable reasons")
	cmd.Flags().BoolVar(&past, "include-past", false, "Include events that already ended")
	cmd.Flags().StringVar(&from, "from", "", "Event window start (RFC3339)")
	cmd.Flags().StringVar(&to, "to", "", "Event window end (RFC3339)")
	return cmd
}

func parseWindow(from, to string) (*recommend.TimeWindow, error) {
	if from == "" || to == "" {
		return nil, fmt.Errorf("--from and --to must be given together")
	}
	start, err := time.Parse(time.RFC3339, from)
	if err != nil {
		return nil, fmt.Errorf("invalid --from: %w", err)
	}
	end, err := time.Parse(time.RFC3339, to)
	if err != nil {
		return nil, fmt.Errorf("invalid --to: %w", err)
	}
	return &recommend.TimeWindow{Start: start, End: end}, nil
}
