// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

package main

import (
	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"
)

var checkCmd = &cobra.Command{
	Use:   "check",
	Short: "Verify that the search tool, database and alignment engine are available",
	Long: `Check runs the startup checks of a run without processing any
identifier: the search tool can be started, the reference database is
installed, and the alignment engine can run.`,
	Args: cobra.NoArgs,
	RunE: runCheck,
}

func init() {
	addRunFlags(checkCmd)
	rootCmd.AddCommand(checkCmd)
}

func runCheck(cmd *cobra.Command, args []string) error {
	cfg, err := loadRunConfig(cmd)
	if err != nil {
		return err
	}
	env, err := buildEnv(cmd.Context(), cfg)
	if err != nil {
		return err
	}
	checks := env.preflight(cmd.Context())

	t := table.NewWriter()
	t.SetOutputMirror(cmd.OutOrStdout())
	t.SetStyle(table.StyleLight)
	t.AppendHeader(table.Row{"Check", "Status", "Detail"})
	for _, c := range checks {
		status, detail := "ok", ""
		if c.Err != nil {
			status, detail = "FAIL", c.Err.Error()
		}
		t.AppendRow(table.Row{c.Name, status, detail})
	}
	t.Render()

	return failedChecks(checks)
}
