package cli

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"text/tabwriter"

	"github.com/odyssey-erp/odyssey-bank/jobs"
)

// Exit codes returned by IntegrityCommand.
const (
	ExitOK         = 0
	ExitFailure    = 1
	ExitViolations = 10
)

// IntegrityOptions configures a one-off integrity check.
type IntegrityOptions struct {
	JSONOutput bool
	Stdout     io.Writer
	Stderr     io.Writer
}

// IntegrityCommand runs the ledger integrity check in-process and prints the
// report. It returns ExitViolations when the ledger is inconsistent.
func IntegrityCommand(ctx context.Context, checker jobs.IntegrityChecker, opts IntegrityOptions) int {
	if opts.Stdout == nil {
		opts.Stdout = os.Stdout
	}
	if opts.Stderr == nil {
		opts.Stderr = os.Stderr
	}
	if checker == nil {
		fmt.Fprintln(opts.Stderr, "integrity: checker not configured")
		return ExitFailure
	}
	report, err := checker.CheckIntegrity(ctx)
	if err != nil {
		fmt.Fprintf(opts.Stderr, "integrity: %v\n", err)
		return ExitFailure
	}

	if opts.JSONOutput {
		enc := json.NewEncoder(opts.Stdout)
		enc.SetIndent("", "  ")
		if err := enc.Encode(report); err != nil {
			fmt.Fprintf(opts.Stderr, "integrity: %v\n", err)
			return ExitFailure
		}
	} else {
		fmt.Fprintf(opts.Stdout, "users scanned: %d\ntotal balance: %s\nviolations: %d\n",
			report.UsersScanned, report.Total.StringFixed(2), len(report.Violations))
		if len(report.Violations) > 0 {
			tw := tabwriter.NewWriter(opts.Stdout, 0, 4, 2, ' ', 0)
			fmt.Fprintln(tw, "USER\tKIND\tDETAILS")
			for _, v := range report.Violations {
				fmt.Fprintf(tw, "%s\t%s\t%s\n", v.UserID, v.Kind, v.Details)
			}
			if err := tw.Flush(); err != nil {
				fmt.Fprintf(opts.Stderr, "integrity: %v\n", err)
				return ExitFailure
			}
		}
	}

	if len(report.Violations) > 0 {
		return ExitViolations
	}
	return ExitOK
}
