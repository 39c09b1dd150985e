// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

package main

import (
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"

	"github.com/pdiddy/foldeval/internal/ledger"
	"github.com/pdiddy/foldeval/pkg/types"
)

var statusCmd = &cobra.Command{
	Use:   "status [run-id]",
	Short: "Show identifier outcomes recorded in the run ledger",
	Long: `Status reads the run ledger and prints the outcome of every
identifier of a run (default: the latest), including errored identifiers
and skipped candidates. With --runs it lists recent runs instead.`,
	Args: cobra.MaximumNArgs(1),
	RunE: runStatus,
}

func init() {
	statusCmd.Flags().String("work-dir", "", "artifact directory (default \"work\")")
	statusCmd.Flags().String("ledger", "", "run ledger database (default <work-dir>/foldeval.db)")
	statusCmd.Flags().Int("runs", 0, "list the N most recent runs")
	rootCmd.AddCommand(statusCmd)
}

func runStatus(cmd *cobra.Command, args []string) error {
	cfg, err := loadRunConfig(cmd)
	if err != nil {
		return err
	}
	path := cfg.ResolvedLedgerPath()
	if path == "" {
		return errors.New("the run ledger is disabled")
	}
	l, err := ledger.Open(path)
	if err != nil {
		return err
	}
	defer l.Close()

	ctx := cmd.Context()
	out := cmd.OutOrStdout()

	if n, _ := cmd.Flags().GetInt("runs"); n > 0 {
		runs, err := l.Runs(ctx, n)
		if err != nil {
			return err
		}
		printRuns(out, runs)
		return nil
	}

	var run ledger.Run
	if len(args) == 1 {
		run, err = l.Lookup(ctx, args[0])
	} else {
		run, err = l.Latest(ctx)
	}
	if err != nil {
		return err
	}

	outcomes, err := l.Outcomes(ctx, run.ID)
	if err != nil {
		return err
	}
	printRunStatus(out, run, outcomes)
	return nil
}

func printRuns(w io.Writer, runs []ledger.Run) {
	t := table.NewWriter()
	t.SetOutputMirror(w)
	t.SetStyle(table.StyleLight)
	t.AppendHeader(table.Row{"Run", "Started", "Identifiers", "Errored", "Rows", "Mean RMSD"})
	for _, r := range runs {
		t.AppendRow(table.Row{r.ID, r.StartedAt.Local().Format(time.DateTime), r.Identifiers, r.Errored, r.Rows, meanCell(r)})
	}
	t.Render()
}

func printRunStatus(w io.Writer, run ledger.Run, outcomes []types.IdentifierOutcome) {
	state := "in progress"
	if run.Finished() {
		state = "finished " + run.FinishedAt.Local().Format(time.DateTime)
	}
	fmt.Fprintf(w, "Run %s (started %s, %s)\n", run.ID, run.StartedAt.Local().Format(time.DateTime), state)

	t := table.NewWriter()
	t.SetOutputMirror(w)
	t.SetStyle(table.StyleLight)
	t.AppendHeader(table.Row{"Identifier", "State", "Candidates", "Rows", "Detail"})
	for _, o := range outcomes {
		detail := ""
		switch {
		case o.State == types.StateErrored:
			detail = fmt.Sprintf("after %s: %s", o.Stage, o.Error)
		case len(o.CandidateFailures) > 0:
			detail = fmt.Sprintf("%d candidate(s) skipped", len(o.CandidateFailures))
		}
		t.AppendRow(table.Row{o.Identifier, o.State, o.Candidates, len(o.Rows), detail})
	}
	t.AppendFooter(table.Row{"", "", "", run.Rows, "mean RMSD " + meanCell(run)})
	t.Render()

	for _, o := range outcomes {
		for _, f := range o.CandidateFailures {
			fmt.Fprintf(w, "  skipped %s/%s at %s: %s\n", o.Identifier, f.Candidate, f.Stage, f.Error)
		}
	}
}

func meanCell(r ledger.Run) string {
	if r.MeanRMSD == nil {
		return "n/a"
	}
	return formatRMSD(*r.MeanRMSD)
}
