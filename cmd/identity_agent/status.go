package main

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/jonathan/identity-pipeline/internal/jobs"
	"github.com/jonathan/identity-pipeline/internal/observability"
	"github.com/jonathan/identity-pipeline/internal/pipeline/steps"
)

type jobGetter interface {
	GetJob(ctx context.Context, id uuid.UUID) (*jobs.Job, error)
}

// jobReader is the read side the status command needs.
type jobReader interface {
	jobGetter
	ListRunSteps(ctx context.Context, jobID uuid.UUID, status *string) ([]steps.RunStep, error)
}

func newStatusCmd(c *cli) *cobra.Command {
	var showSteps, watch bool

	cmd := &cobra.Command{
		Use:   "status <job-id>",
		Short: "Show a job's phase, progress and result",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := uuid.Parse(args[0])
			if err != nil {
				return fmt.Errorf("invalid job id: %w", err)
			}
			ctx := cmd.Context()
			store, closeStore, err := openStore(ctx, c.cfg, false)
			if err != nil {
				return err
			}
			defer closeStore() //nolint:errcheck

			return printStatus(ctx, observability.NewPrinter(cmd.OutOrStdout()), store, id, statusOpts{
				steps:    showSteps,
				watch:    watch,
				interval: c.cfg.PollInterval,
			})
		},
	}
	cmd.Flags().BoolVar(&showSteps, "steps", false, "Include the step journal")
	cmd.Flags().BoolVarP(&watch, "watch", "w", false, "Print each change until the job finishes")
	return cmd
}

type statusOpts struct {
	steps    bool
	watch    bool
	interval time.Duration
}

func printStatus(ctx context.Context, p *observability.Printer, store jobReader, id uuid.UUID, opts statusOpts) error {
	var (
		job *jobs.Job
		err error
	)
	if opts.watch {
		job, err = followJob(ctx, store, id, opts.interval, p.PrintJob)
	} else {
		job, err = store.GetJob(ctx, id)
		if err == nil {
			p.PrintJob(job)
		}
	}
	if err != nil {
		return err
	}

	if opts.steps {
		list, err := store.ListRunSteps(ctx, job.ID, nil)
		if err != nil {
			return fmt.Errorf("failed to list steps: %w", err)
		}
		p.PrintSteps(list)
	}
	return nil
}

// followJob polls a job until it is terminal. onChange, when set, receives the first
// row and every row whose phase, progress or status differs from the last one seen.
func followJob(ctx context.Context, store jobGetter, id uuid.UUID, interval time.Duration, onChange func(*jobs.Job)) (*jobs.Job, error) {
	if interval <= 0 {
		interval = time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	var lastKey string
	for {
		job, err := store.GetJob(ctx, id)
		if err != nil {
			return nil, err
		}
		if key := progressKey(job); onChange != nil && key != lastKey {
			onChange(job)
			lastKey = key
		}
		if job.Status.IsTerminal() {
			return job, nil
		}
		select {
		case <-ctx.Done():
			return job, ctx.Err()
		case <-ticker.C:
		}
	}
}

func progressKey(job *jobs.Job) string {
	key := string(job.Status)
	if job.Phase != nil {
		key += "|" + string(*job.Phase)
	}
	if job.Progress != nil {
		key += "|" + *job.Progress
	}
	return fmt.Sprintf("%s|%d", key, len(job.Highlights))
}
