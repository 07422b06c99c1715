package commands

import (
	"fmt"
	"strings"

	"github.com/benvon/tagmatch/internal/app"
	"github.com/benvon/tagmatch/internal/models"
	"github.com/benvon/tagmatch/internal/services/ai"
	"github.com/spf13/cobra"
)

func newClassifyCmd(root *rootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "classify",
		Short: "Classify text against the taxonomy with the configured oracle",
		Long:  "Run a single classification and print the filtered weighted tags. Nothing is stored.",
	}
	cmd.AddCommand(newClassifyContentCmd(root))
	cmd.AddCommand(newClassifyInterestCmd(root))
	return cmd
}

func newTagger(e *env) (*ai.Tagger, error) {
	mapping, err := app.LoadTaxonomy(e.cfg)
	if err != nil {
		return nil, err
	}
	oracle, err := app.NewOracle(e.cfg, e.logger)
	if err != nil {
		return nil, err
	}
	return app.NewTagger(e.cfg, oracle, mapping, e.logger), nil
}

func newClassifyContentCmd(root *rootOptions) *cobra.Command {
	var (
		title string
		body  string
		extra []string
	)
	cmd := &cobra.Command{
		Use:   "content",
		Short: "Classify a content item",
		RunE: func(cmd *cobra.Command, args []string) error {
			if strings.TrimSpace(title) == "" && strings.TrimSpace(body) == "" {
				return fmt.Errorf("--title or --body is required")
			}
			extraContext, err := parsePairs(extra)
			if err != nil {
				return err
			}
			e, err := root.load()
			if err != nil {
				return err
			}
			defer e.close()

			tagger, err := newTagger(e)
			if err != nil {
				return err
			}
			res, err := tagger.ClassifyContent(cmd.Context(), models.ContentSubject{Title: title, Body: body, ExtraContext: extraContext})
			if err != nil {
				return fmt.Errorf("classify content: %w", err)
			}
			return printJSON(cmd.OutOrStdout(), describe(tagger, res))
		},
	}
	cmd.Flags().StringVar(&title, "title", "", "Content title")
	cmd.Flags().StringVar(&body, "body", "", "Content description")
	cmd.Flags().StringArrayVar(&extra, "context", nil, "Extra context as key=value (repeatable)")
	return cmd
}

func newClassifyInterestCmd(root *rootOptions) *cobra.Command {
	var (
		keyword     string
		description string
		userContext []string
	)
	cmd := &cobra.Command{
		Use:   "interest",
		Short: "Classify a user interest keyword",
		RunE: func(cmd *cobra.Command, args []string) error {
			if strings.TrimSpace(keyword) == "" {
				return fmt.Errorf("--keyword is required")
			}
			uc, err := parsePairs(userContext)
			if err != nil {
				return err
			}
			e, err := root.load()
			if err != nil {
				return err
			}
			defer e.close()

			tagger, err := newTagger(e)
			if err != nil {
				return err
			}
			res, err := tagger.ClassifyInterest(cmd.Context(), models.InterestSubject{Keyword: keyword, Description: description, UserContext: uc})
			if err != nil {
				return fmt.Errorf("classify interest: %w", err)
			}
			return printJSON(cmd.OutOrStdout(), describe(tagger, res))
		},
	}
	cmd.Flags().StringVar(&keyword, "keyword", "", "Interest keyword")
	cmd.Flags().StringVar(&description, "description", "", "Interest description")
	cmd.Flags().StringArrayVar(&userContext, "context", nil, "User context as key=value (repeatable)")
	return cmd
}

// namedTag is a weighted tag with its taxonomy name for display
type namedTag struct {
	models.WeightedTag
	Name string `json:"name"`
}

type classifyOutput struct {
	Tags              []namedTag `json:"tags"`
	OverallConfidence float64    `json:"overallConfidence"`
	SuggestedLabel    string     `json:"suggestedLabel,omitempty"`
}

func describe(tagger *ai.Tagger, res *models.ClassificationResult) classifyOutput {
	out := classifyOutput{
		Tags:              make([]namedTag, 0, len(res.Tags)),
		OverallConfidence: res.OverallConfidence,
		SuggestedLabel:    res.SuggestedLabel,
	}
	for _, t := range res.Tags {
		out.Tags = append(out.Tags, namedTag{WeightedTag: t, Name: tagger.Mapping().Name(t.TagID)})
	}
	return out
}

func parsePairs(pairs []string) (map[string]string, error) {
	if len(pairs) == 0 {
		return nil, nil
	}
	out := make(map[string]string, len(pairs))
	for _, p := range pairs {
		k, v, ok := strings.Cut(p, "=")
		if !ok || strings.TrimSpace(k) == "" {
			return nil, fmt.Errorf("invalid context %q, expected key=value", p)
		}
		out[strings.TrimSpace(k)] = strings.TrimSpace(v)
	}
	return out, nil
}
