// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"

	"github.com/pdiddy/foldeval/internal/align"
	"github.com/pdiddy/foldeval/internal/fetch"
	"github.com/pdiddy/foldeval/internal/search"
	"github.com/pdiddy/foldeval/internal/toolexec"
	"github.com/pdiddy/foldeval/pkg/types"
)

// runEnv holds the collaborators built from a run configuration.
type runEnv struct {
	fetcher    *fetch.Fetcher
	searcher   *search.Searcher
	comparator *align.Comparator
}

// preflightCheck is one startup condition.
type preflightCheck struct {
	Name string
	Err  error
}

// buildEnv wires the retrieval client, search adapter and comparator. A
// search tool that cannot be located at all is reported by preflight, not
// here.
func buildEnv(ctx context.Context, cfg types.RunConfig) (*runEnv, error) {
	if err := os.MkdirAll(cfg.WorkDir, 0o755); err != nil {
		return nil, fmt.Errorf("creating work directory: %w", err)
	}
	client := &http.Client{Timeout: cfg.Retrieval.Timeout}
	f, err := fetch.New(client, cfg.WorkDir, cfg.Retrieval)
	if err != nil {
		return nil, err
	}

	exec := toolexec.OSExecutor{}
	tool, err := toolexec.Resolve(ctx, exec, cfg.Search.Binary, cfg.Search.Image)
	if err != nil {
		return nil, fmt.Errorf("resolving search tool: %w", err)
	}
	var dbcmd toolexec.Tool
	if cfg.Search.DBCmdBinary != "" {
		dbcmd, err = toolexec.Resolve(ctx, exec, cfg.Search.DBCmdBinary, cfg.Search.Image)
		if err != nil {
			return nil, fmt.Errorf("resolving database tool: %w", err)
		}
	}

	engine, err := align.NewEngine(cfg.Align, exec, cfg.WorkDir)
	if err != nil {
		return nil, err
	}

	return &runEnv{
		fetcher:    f,
		searcher:   search.New(tool, dbcmd, cfg.Search, cfg.WorkDir),
		comparator: align.NewComparator(engine),
	}, nil
}

// preflight runs every startup check and returns them all, so one
// invocation reports every missing piece.
func (e *runEnv) preflight(ctx context.Context) []preflightCheck {
	return []preflightCheck{
		{Name: "similarity search", Err: e.searcher.Check(ctx)},
		{Name: "alignment engine (" + e.comparator.Engine().Name() + ")", Err: e.comparator.Engine().Check(ctx)},
	}
}

// failedChecks joins the failures of checks into one error, or nil.
func failedChecks(checks []preflightCheck) error {
	var failed []error
	for _, c := range checks {
		if c.Err != nil {
			failed = append(failed, fmt.Errorf("%s: %w", c.Name, c.Err))
		}
	}
	if len(failed) == 0 {
		return nil
	}
	return fmt.Errorf("startup checks failed: %w", errors.Join(failed...))
}
