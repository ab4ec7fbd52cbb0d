package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/jonathan/identity-pipeline/internal/jobs"
	"github.com/jonathan/identity-pipeline/internal/observability"
	"github.com/jonathan/identity-pipeline/internal/pipeline"
)

// enqueueOpts are shared by every enqueue subcommand.
type enqueueOpts struct {
	user string
	wait bool
}

func newEnqueueCmd(c *cli) *cobra.Command {
	opts := &enqueueOpts{}

	cmd := &cobra.Command{
		Use:   "enqueue",
		Short: "Submit a job for the workers",
		Long: `Create a pending job in PostgreSQL. A running "serve" or "work" process picks it up.
No LLM credentials are needed to submit.`,
	}
	cmd.PersistentFlags().StringVarP(&opts.user, "user", "u", "", "Owner user ID (required)")
	cmd.PersistentFlags().BoolVar(&opts.wait, "wait", false, "Follow the job until it finishes")

	cmd.AddCommand(
		newEnqueueStoryCmd(c, opts),
		newEnqueueResumeCmd(c, opts),
		newEnqueueOpportunityCmd(c, opts),
		newEnqueueTailorCmd(c, opts),
	)
	return cmd
}

func newEnqueueStoryCmd(c *cli, opts *enqueueOpts) *cobra.Command {
	var text, file string
	cmd := &cobra.Command{
		Use:   "story",
		Short: "Submit a free-text story",
		RunE: func(cmd *cobra.Command, _ []string) error {
			if file != "" {
				data, err := readInput(cmd.InOrStdin(), file)
				if err != nil {
					return err
				}
				text = data
			}
			if strings.TrimSpace(text) == "" {
				return errors.New("--text or --file is required")
			}
			return c.submit(cmd, opts, func(ctx context.Context, svc *pipeline.Service, owner uuid.UUID) (*jobs.Job, error) {
				return svc.SubmitStory(ctx, owner, text)
			})
		},
	}
	cmd.Flags().StringVarP(&text, "text", "t", "", "Story text")
	cmd.Flags().StringVarP(&file, "file", "f", "", "Read the story from a file (- for stdin)")
	return cmd
}

func newEnqueueResumeCmd(c *cli, opts *enqueueOpts) *cobra.Command {
	var location, filename string
	cmd := &cobra.Command{
		Use:   "resume",
		Short: "Submit an uploaded PDF resume",
		Long:  "Submit a resume PDF that is already in storage. --location is relative to storage_root.",
		RunE: func(cmd *cobra.Command, _ []string) error {
			if location == "" {
				return errors.New("--location is required")
			}
			if filename == "" {
				filename = filepath.Base(location)
			}
			return c.submit(cmd, opts, func(ctx context.Context, svc *pipeline.Service, owner uuid.UUID) (*jobs.Job, error) {
				return svc.SubmitResume(ctx, owner, filename, location)
			})
		},
	}
	cmd.Flags().StringVarP(&location, "location", "l", "", "Storage location of the PDF")
	cmd.Flags().StringVar(&filename, "filename", "", "Original file name (defaults to the location's base name)")
	return cmd
}

func newEnqueueOpportunityCmd(c *cli, opts *enqueueOpts) *cobra.Command {
	var url, description, file string
	cmd := &cobra.Command{
		Use:   "opportunity",
		Short: "Submit a job posting by URL, description, or both",
		RunE: func(cmd *cobra.Command, _ []string) error {
			if file != "" {
				data, err := readInput(cmd.InOrStdin(), file)
				if err != nil {
					return err
				}
				description = data
			}
			if strings.TrimSpace(url) == "" && strings.TrimSpace(description) == "" {
				return errors.New("--url or --description is required")
			}
			return c.submit(cmd, opts, func(ctx context.Context, svc *pipeline.Service, owner uuid.UUID) (*jobs.Job, error) {
				return svc.SubmitOpportunity(ctx, owner, strings.TrimSpace(url), description)
			})
		},
	}
	cmd.Flags().StringVar(&url, "url", "", "Posting URL")
	cmd.Flags().StringVarP(&description, "description", "d", "", "Posting text")
	cmd.Flags().StringVarP(&file, "file", "f", "", "Read the posting text from a file (- for stdin)")
	return cmd
}

func newEnqueueTailorCmd(c *cli, opts *enqueueOpts) *cobra.Command {
	var opportunity string
	var regenerate bool
	cmd := &cobra.Command{
		Use:   "tailor",
		Short: "Tailor the identity to an opportunity",
		RunE: func(cmd *cobra.Command, _ []string) error {
			oppID, err := uuid.Parse(opportunity)
			if err != nil {
				return fmt.Errorf("invalid --opportunity: %w", err)
			}
			return c.submit(cmd, opts, func(ctx context.Context, svc *pipeline.Service, owner uuid.UUID) (*jobs.Job, error) {
				start, err := svc.StartTailor(ctx, owner, oppID, regenerate)
				if err != nil {
					return nil, err
				}
				if start.Cached {
					fmt.Fprintf(cmd.OutOrStdout(), "Tailored profile %s already exists (use --regenerate to rebuild)\n", start.Profile.ID)
					return nil, nil
				}
				return svc.Registry().Store().GetJob(ctx, *start.JobID)
			})
		},
	}
	cmd.Flags().StringVarP(&opportunity, "opportunity", "o", "", "Opportunity ID (required)")
	cmd.Flags().BoolVar(&regenerate, "regenerate", false, "Replace an existing tailored profile")
	return cmd
}

type submitFunc func(ctx context.Context, svc *pipeline.Service, owner uuid.UUID) (*jobs.Job, error)

// submit runs fn against a store-only service. Submitting never runs a pipeline, so no
// LLM client is built here.
func (c *cli) submit(cmd *cobra.Command, opts *enqueueOpts, fn submitFunc) error {
	owner, err := uuid.Parse(opts.user)
	if err != nil || owner == uuid.Nil {
		return errors.New("--user must be a user UUID")
	}
	ctx := cmd.Context()

	store, closeStore, err := openStore(ctx, c.cfg, false)
	if err != nil {
		return err
	}
	defer closeStore() //nolint:errcheck

	svc := pipeline.NewService(pipeline.Deps{Store: store, Logger: c.logger}, nil)
	job, err := fn(ctx, svc, owner)
	if err != nil {
		return err
	}
	if job == nil {
		return nil
	}

	fmt.Fprintf(cmd.OutOrStdout(), "Enqueued %s job %s\n", job.Type, job.ID)
	if !opts.wait {
		return nil
	}
	final, err := followJob(ctx, store, job.ID, c.cfg.PollInterval, nil)
	if err != nil {
		return err
	}
	observability.NewPrinter(cmd.OutOrStdout()).PrintJob(final)
	return nil
}

// readInput reads a file, or stdin when path is "-".
func readInput(stdin io.Reader, path string) (string, error) {
	if path == "-" {
		data, err := io.ReadAll(stdin)
		if err != nil {
			return "", fmt.Errorf("failed to read stdin: %w", err)
		}
		return string(data), nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return "", fmt.Errorf("failed to read %s: %w", path, err)
	}
	return string(data), nil
}
