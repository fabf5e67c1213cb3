package cli

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"text/tabwriter"

	"github.com/odyssey-erp/accessctl/internal/rbac"
)

// Repairer runs a consistency repair.
type Repairer interface {
	Repair(ctx context.Context, opts rbac.RepairOptions) (rbac.Report, error)
}

// RepairCLI drives the repair command.
type RepairCLI struct {
	repairer Repairer
}

// NewRepairCLI constructs the helper.
func NewRepairCLI(repairer Repairer) *RepairCLI {
	return &RepairCLI{repairer: repairer}
}

// RepairOptions defines the flags of the repair command.
type RepairOptions struct {
	DryRun          bool
	SuperAdminEmail string
	AdminEmails     []string
	JSONOutput      bool
	IO
}

// RepairCommand runs the repair and prints the report. Exit 0 on success
// (including nothing to do), 1 on fatal errors, 2 on invalid options.
func (c *RepairCLI) RepairCommand(ctx context.Context, opts RepairOptions) int {
	streams := opts.IO.withDefaults()
	if c == nil || c.repairer == nil {
		_, _ = fmt.Fprintln(streams.Stderr, "repair: not configured")
		return ExitFailure
	}
	report, err := c.repairer.Repair(ctx, rbac.RepairOptions{
		DryRun:          opts.DryRun,
		SuperAdminEmail: opts.SuperAdminEmail,
		AdminEmails:     opts.AdminEmails,
	})
	if err != nil {
		_, _ = fmt.Fprintf(streams.Stderr, "repair: %v\n", err)
		if errors.Is(err, rbac.ErrInvalidOptions) {
			return ExitUsage
		}
		if len(report.Steps) > 0 {
			renderRepairHuman(streams.Stderr, report)
		}
		return ExitFailure
	}
	if opts.JSONOutput {
		if err := json.NewEncoder(streams.Stdout).Encode(report); err != nil {
			_, _ = fmt.Fprintf(streams.Stderr, "repair: encode json: %v\n", err)
			return ExitFailure
		}
		return ExitOK
	}
	renderRepairHuman(streams.Stdout, report)
	return ExitOK
}

func renderRepairHuman(out io.Writer, report rbac.Report) {
	mode := "applied"
	if report.DryRun {
		mode = "dry-run"
	}
	_, _ = fmt.Fprintf(out, "RBAC repair (%s)\n", mode)
	for _, step := range report.Steps {
		_, _ = fmt.Fprintf(out, "%s: scanned=%d changed=%d unchanged=%d skipped=%d\n",
			step.Name, step.Scanned,
			step.Count(rbac.OutcomeChanged), step.Count(rbac.OutcomeUnchanged), step.Count(rbac.OutcomeSkipped))
		for _, change := range step.Changes {
			if change.Outcome == rbac.OutcomeUnchanged {
				continue
			}
			line := fmt.Sprintf("  - %s %s", change.Outcome, change.Target)
			if change.Action != "" {
				line += ": " + change.Action
			}
			if change.Detail != "" {
				line += " (" + change.Detail + ")"
			}
			_, _ = fmt.Fprintln(out, line)
		}
	}
	if len(report.Tally) == 0 {
		return
	}
	_, _ = fmt.Fprintln(out, "Active assignments per role:")
	tw := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
	for _, t := range report.Tally {
		_, _ = fmt.Fprintf(tw, "  %s\t%d\n", t.Role, t.Count)
	}
	_ = tw.Flush()
}
