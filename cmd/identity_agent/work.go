package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

func newWorkCmd(c *cli) *cobra.Command {
	var once bool

	cmd := &cobra.Command{
		Use:   "work",
		Short: "Run job workers without the API",
		Long: `Claim pending jobs from PostgreSQL and run them until interrupted. Several work
processes may share one database; each job is claimed by exactly one of them.

With --once the command claims what is pending, waits for those jobs and exits.`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			return runWork(ctx, c, once)
		},
	}

	cmd.Flags().Int("workers", 0, "Concurrent jobs per process")
	cmd.Flags().Duration("poll-interval", 0, "How often to look for pending jobs")
	cmd.Flags().Bool("use-browser", false, "Render JavaScript-heavy postings with headless Chrome")
	cmd.Flags().BoolVar(&once, "once", false, "Drain pending jobs and exit")
	return cmd
}

func runWork(ctx context.Context, c *cli, once bool) error {
	a, err := newApp(ctx, c.cfg, c.logger, false)
	if err != nil {
		return err
	}
	defer a.Close()

	d, sweeper := a.workers()

	if once {
		if _, err := sweeper.Sweep(ctx); err != nil {
			c.logger.Warn("sweep failed", zap.Error(err))
		}
		total := 0
		for n := d.Poll(ctx); n > 0; n = d.Poll(ctx) {
			total += n
			d.Wait()
		}
		c.logger.Info("drained pending jobs", zap.Int("jobs", total))
		return nil
	}

	if err := sweeper.Start(c.cfg.SweepSchedule); err != nil {
		return err
	}
	defer sweeper.Stop()

	c.logger.Info("workers started", zap.Int("workers", c.cfg.Workers))
	d.Start(ctx)
	c.logger.Info("workers stopped")
	return nil
}
