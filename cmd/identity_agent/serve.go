package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/jonathan/identity-pipeline/internal/server"
)

func newServeCmd(c *cli) *cobra.Command {
	var memory, noWorkers bool

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the REST API server",
		Long: `Start the HTTP API together with the job workers and the stale-job sweeper.

With --memory the server keeps all state in process, which is useful for trying the API
without PostgreSQL. Use --no-workers when separate "work" processes run the jobs.`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			return runServe(ctx, c, memory, !noWorkers)
		},
	}

	cmd.Flags().Int("port", 0, "Port to listen on")
	cmd.Flags().Int("workers", 0, "Concurrent jobs per process")
	cmd.Flags().Bool("use-browser", false, "Render JavaScript-heavy postings with headless Chrome")
	cmd.Flags().BoolVar(&memory, "memory", false, "Keep state in memory instead of PostgreSQL")
	cmd.Flags().BoolVar(&noWorkers, "no-workers", false, "Serve the API only")
	return cmd
}

func runServe(ctx context.Context, c *cli, memory, withWorkers bool) error {
	a, err := newApp(ctx, c.cfg, c.logger, memory)
	if err != nil {
		return err
	}
	defer a.Close()

	srv := server.New(server.Config{Addr: c.cfg.Addr()}, a.svc, a.store, c.logger)

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error { return srv.Run(ctx) })

	if withWorkers {
		d, sweeper := a.workers()
		if err := sweeper.Start(c.cfg.SweepSchedule); err != nil {
			return err
		}
		defer sweeper.Stop()
		g.Go(func() error {
			d.Start(ctx)
			return nil
		})
		c.logger.Info("workers started",
			zap.Int("workers", c.cfg.Workers),
			zap.Duration("max_job_duration", c.cfg.MaxJobDuration))
	}

	return g.Wait()
}
