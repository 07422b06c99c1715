// Package commands implements the tagctl subcommands.
package commands

import (
	"encoding/json"
	"fmt"
	"io"

	"github.com/benvon/tagmatch/internal/config"
	"github.com/benvon/tagmatch/internal/logger"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

type rootOptions struct {
	debug bool
}

// NewRootCmd creates the tagctl root command
func NewRootCmd() *cobra.Command {
	opts := &rootOptions{}
	cmd := &cobra.Command{
		Use:           "tagctl",
		Short:         "Operate the tagmatch tagging and recommendation engine",
		Long:          "CLI for inspecting the taxonomy, classifying text, running analysis passes, computing recommendations and queueing analysis jobs.",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	cmd.PersistentFlags().BoolVar(&opts.debug, "debug", false, "Enable debug logging, including oracle payloads")

	cmd.AddCommand(newTaxonomyCmd())
	cmd.AddCommand(newClassifyCmd(opts))
	cmd.AddCommand(newAnalyzeCmd(opts))
	cmd.AddCommand(newRecommendCmd(opts))
	cmd.AddCommand(newEnqueueCmd(opts))
	return cmd
}

// env is the configuration and logger every command starts from
type env struct {
	cfg    *config.Config
	logger *zap.Logger
}

func (o *rootOptions) load() (*env, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}
	cfg.AIDebugMode = cfg.AIDebugMode || o.debug
	log, err := logger.NewDevelopmentLogger(o.debug)
	if err != nil {
		return nil, fmt.Errorf("initialize logger: %w", err)
	}
	return &env{cfg: cfg, logger: log}, nil
}

func (e *env) close() {
	_ = logger.Sync(e.logger)
}

func printJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
