// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

package main

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/pdiddy/foldeval/internal/ledger"
	"github.com/pdiddy/foldeval/internal/notify"
	"github.com/pdiddy/foldeval/internal/pipeline"
)

var runCmd = &cobra.Command{
	Use:   "run <identifiers-file>",
	Short: "Evaluate every identifier listed in a file",
	Long: `Run reads protein identifiers from a file, one per line (blank lines and
lines starting with # are ignored), and evaluates each of them. Artifacts
are written to the work directory; the report lists one
identifier,candidate,percent_identity,rmsd line per compared pair.

Missing search tools, databases or alignment engines stop the run before
any identifier is processed. Failures of individual identifiers or
candidates are logged and recorded in the run ledger, and the run
continues.`,
	Args: cobra.ExactArgs(1),
	RunE: runRun,
}

func init() {
	addRunFlags(runCmd)
	rootCmd.AddCommand(runCmd)
}

func runRun(cmd *cobra.Command, args []string) error {
	cfg, err := loadRunConfig(cmd)
	if err != nil {
		return err
	}
	ids, err := readIdentifiersFile(args[0])
	if err != nil {
		return err
	}
	if len(ids) == 0 {
		return fmt.Errorf("%s lists no identifiers", args[0])
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	env, err := buildEnv(ctx, cfg)
	if err != nil {
		return err
	}
	if err := failedChecks(env.preflight(ctx)); err != nil {
		return err
	}
	notifier, err := notify.New(cfg.Notify, loadedSecrets, logger)
	if err != nil {
		return err
	}

	deps := pipeline.Deps{
		Fetcher:    env.fetcher,
		Searcher:   env.searcher,
		Comparator: env.comparator,
		Notifier:   notifier,
		Logger:     logger,
		Out:        cmd.OutOrStdout(),
	}
	if path := cfg.ResolvedLedgerPath(); path != "" {
		l, err := ledger.Open(path)
		if err != nil {
			return err
		}
		defer l.Close()
		deps.Recorder = l
	}

	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "Evaluating %d identifier(s) with %s (threshold %v%%)\n",
		len(ids), env.comparator.Engine().Name(), cfg.Threshold)

	res, err := pipeline.New(cfg, deps).Run(ctx, ids)
	if err != nil {
		return err
	}
	fmt.Fprintf(out, "Report: %s\n", cfg.ReportPath())
	if res.RunID != "" {
		fmt.Fprintf(out, "Run: %s\n", res.RunID)
	}
	return nil
}

func readIdentifiersFile(path string) ([]string, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("opening identifiers file: %w", err)
	}
	defer f.Close()
	return readIdentifiers(f)
}

// readIdentifiers returns the identifiers in r in order. Duplicates are
// kept.
func readIdentifiers(r io.Reader) ([]string, error) {
	var ids []string
	scanner := bufio.NewScanner(r)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		ids = append(ids, line)
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("reading identifiers: %w", err)
	}
	return ids, nil
}
