// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

package main

import (
	"errors"
	"fmt"
	"io"
	"strconv"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"

	"github.com/pdiddy/foldeval/internal/report"
	"github.com/pdiddy/foldeval/pkg/types"
)

var summaryCmd = &cobra.Command{
	Use:   "summary [report]",
	Short: "Print RMSD statistics for a report",
	Long: `Summary reads a report (default: the configured work directory's
rmsd.txt) and prints the mean RMSD together with per-identifier
statistics. Malformed report lines are reported and skipped.`,
	Args: cobra.MaximumNArgs(1),
	RunE: runSummary,
}

func init() {
	summaryCmd.Flags().String("work-dir", "", "artifact directory (default \"work\")")
	rootCmd.AddCommand(summaryCmd)
}

func runSummary(cmd *cobra.Command, args []string) error {
	path := ""
	if len(args) == 1 {
		path = args[0]
	} else {
		cfg, err := loadRunConfig(cmd)
		if err != nil {
			return err
		}
		path = cfg.ReportPath()
	}

	rep, err := report.Read(path)
	if rep == nil {
		return err
	}
	if err != nil {
		logger.Warn("skipping malformed report lines", "report", path, "error", err)
	}
	return printSummary(cmd.OutOrStdout(), path, rep)
}

func printSummary(w io.Writer, path string, rep *types.Report) error {
	mean, err := report.MeanRMSD(rep)
	var empty *report.EmptyReportError
	if errors.As(err, &empty) {
		fmt.Fprintf(w, "%s: no rows\n", path)
		return err
	}

	s := report.Summarize(rep, report.Stats{})
	t := table.NewWriter()
	t.SetOutputMirror(w)
	t.SetStyle(table.StyleLight)
	t.SetTitle(path)
	t.AppendHeader(table.Row{"Identifier", "Rows", "Mean RMSD", "Best RMSD"})
	for _, is := range s.ByIdentifier {
		t.AppendRow(table.Row{is.Identifier, is.Rows, formatRMSD(is.MeanRMSD), formatRMSD(is.BestRMSD)})
	}
	t.AppendFooter(table.Row{"all", s.Rows, formatRMSD(mean), formatRMSD(*s.MinRMSD)})
	t.Render()
	return nil
}

func formatRMSD(v float64) string {
	return strconv.FormatFloat(v, 'f', 3, 64)
}
