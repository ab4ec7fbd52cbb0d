// Package observability provides human-readable output of job state for the CLI.
package observability

import (
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/jonathan/identity-pipeline/internal/jobs"
	"github.com/jonathan/identity-pipeline/internal/pipeline/steps"
)

const (
	// boxWidth is the default width for formatted output boxes
	boxWidth = 60
	// maxItemsToShow is the default number of highlights to display
	maxItemsToShow = 5
)

// Printer handles formatted output for the status command
type Printer struct {
	out io.Writer
}

// NewPrinter creates a new Printer that writes to the given writer
func NewPrinter(out io.Writer) *Printer {
	return &Printer{out: out}
}

// printBox prints a formatted box with a title and content
//
//nolint:errcheck // writing to stdout; errors are not recoverable
func (p *Printer) printBox(title string, content string) {
	border := strings.Repeat("─", boxWidth-2)
	fmt.Fprintf(p.out, "┌%s┐\n", border)
	fmt.Fprintf(p.out, "│ %-*s │\n", boxWidth-4, title)
	fmt.Fprintf(p.out, "├%s┤\n", border)

	for _, line := range strings.Split(strings.TrimRight(content, "\n"), "\n") {
		if r := []rune(line); len(r) > boxWidth-4 {
			line = string(r[:boxWidth-7]) + "..."
		}
		fmt.Fprintf(p.out, "│ %-*s │\n", boxWidth-4, line)
	}

	fmt.Fprintf(p.out, "└%s┘\n", border)
}

// PrintJob outputs the state of a job row.
func (p *Printer) PrintJob(job *jobs.Job) {
	if job == nil {
		return
	}

	var sb strings.Builder
	fmt.Fprintf(&sb, "ID:       %s\n", job.ID)
	fmt.Fprintf(&sb, "Type:     %s\n", job.Type)
	fmt.Fprintf(&sb, "Status:   %s\n", job.Status)
	if job.Phase != nil {
		fmt.Fprintf(&sb, "Phase:    %s (%s)\n", *job.Phase, phaseTrail(job.Type, *job.Phase))
	}
	if job.Progress != nil {
		fmt.Fprintf(&sb, "Progress: %s\n", *job.Progress)
	}
	if job.StartedAt != nil {
		end := time.Now()
		if job.CompletedAt != nil {
			end = *job.CompletedAt
		}
		fmt.Fprintf(&sb, "Elapsed:  %s\n", end.Sub(*job.StartedAt).Round(time.Millisecond))
	}
	if job.Warning != nil {
		fmt.Fprintf(&sb, "Warning:  %s\n", *job.Warning)
	}
	if job.Error != nil {
		fmt.Fprintf(&sb, "Error:    %s\n", *job.Error)
	}

	if len(job.Highlights) > 0 {
		sb.WriteString("\nHighlights:\n")
		start := 0
		if len(job.Highlights) > maxItemsToShow {
			start = len(job.Highlights) - maxItemsToShow
			fmt.Fprintf(&sb, "  ... %d earlier\n", start)
		}
		for _, h := range job.Highlights[start:] {
			fmt.Fprintf(&sb, "  [%s] %s\n", h.Kind, h.Text)
		}
	}

	if len(job.Summary) > 0 {
		fmt.Fprintf(&sb, "\nSummary: %s\n", string(job.Summary))
	}

	p.printBox("JOB", sb.String())
}

// PrintSteps outputs the step journal of a job.
func (p *Printer) PrintSteps(list []steps.RunStep) {
	if len(list) == 0 {
		return
	}

	var sb strings.Builder
	for _, s := range list {
		icon := "·"
		switch s.Status {
		case string(steps.StatusCompleted):
			icon = "✓"
		case string(steps.StatusFailed):
			icon = "✗"
		case string(steps.StatusInProgress):
			icon = "…"
		case string(steps.StatusSkipped):
			icon = "-"
		}
		fmt.Fprintf(&sb, "%s %-22s attempts=%d", icon, s.Step, s.Attempts)
		if s.DurationMs != nil {
			fmt.Fprintf(&sb, " %dms", *s.DurationMs)
		}
		sb.WriteString("\n")
		if s.ErrorMessage != nil {
			fmt.Fprintf(&sb, "    %s\n", *s.ErrorMessage)
		}
	}

	p.printBox(fmt.Sprintf("STEPS (%d)", len(list)), sb.String())
}

// phaseTrail renders "n/total" for a phase within its type's sequence.
func phaseTrail(t jobs.JobType, phase jobs.Phase) string {
	idx := t.PhaseIndex(phase)
	if idx < 0 {
		return "unknown"
	}
	return fmt.Sprintf("%d/%d", idx+1, len(t.Phases()))
}
