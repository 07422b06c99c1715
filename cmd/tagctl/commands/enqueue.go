package commands

import (
	"fmt"
	"time"

	"github.com/benvon/tagmatch/internal/queue"
	"github.com/spf13/cobra"
)

func newEnqueueCmd(root *rootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "enqueue",
		Short: "Queue analysis jobs for the worker",
	}
	cmd.AddCommand(newEnqueueReanalyzeCmd(root))
	cmd.AddCommand(newEnqueueInterestCmd(root))
	return cmd
}

func newEnqueueReanalyzeCmd(root *rootOptions) *cobra.Command {
	var (
		kindFlag string
		delay    time.Duration
	)
	cmd := &cobra.Command{
		Use:   "reanalyze",
		Short: "Queue a stale-content reanalysis job per kind",
		RunE: func(cmd *cobra.Command, args []string) error {
			kinds, err := parseKinds(kindFlag)
			if err != nil {
				return err
			}
			jobs := make([]*queue.Job, 0, len(kinds))
			for _, kind := range kinds {
				job := queue.NewReanalyzeContentJob(kind)
				if delay > 0 {
					job = job.Delayed(time.Now().Add(delay))
				}
				jobs = append(jobs, job)
			}
			return enqueue(cmd, root, jobs)
		},
	}
	cmd.Flags().StringVar(&kindFlag, "kind", "all", "Content kind: event, organization, lab or all")
	cmd.Flags().DurationVar(&delay, "delay", 0, "Delay before the worker picks the job up")
	return cmd
}

func newEnqueueInterestCmd(root *rootOptions) *cobra.Command {
	var (
		userID     string
		interestID int64
	)
	cmd := &cobra.Command{
		Use:   "interest",
		Short: "Queue classification of one interest",
		RunE: func(cmd *cobra.Command, args []string) error {
			if userID == "" || interestID <= 0 {
				return fmt.Errorf("--user and --id are required")
			}
			return enqueue(cmd, root, []*queue.Job{queue.NewAnalyzeInterestJob(userID, interestID)})
		},
	}
	cmd.Flags().StringVar(&userID, "user", "", "Owner of the interest")
	cmd.Flags().Int64Var(&interestID, "id", 0, "Interest ID")
	return cmd
}

func enqueue(cmd *cobra.Command, root *rootOptions, jobs []*queue.Job) error {
	e, err := root.load()
	if err != nil {
		return err
	}
	defer e.close()
	if err := e.cfg.RequireQueue(); err != nil {
		return err
	}

	q, err := queue.NewRabbitMQQueue(e.cfg.RabbitMQURL, e.logger)
	if err != nil {
		return fmt.Errorf("connect to RabbitMQ: %w", err)
	}
	defer q.Close()

	for _, job := range jobs {
		if err := q.Enqueue(cmd.Context(), job); err != nil {
			return fmt.Errorf("enqueue %s job: %w", job.Type, err)
		}
		fmt.Fprintf(cmd.OutOrStdout(), "queued %s job %s\n", job.Type, job.ID)
	}
	return nil
}
