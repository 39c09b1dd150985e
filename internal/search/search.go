// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

// Package search runs the external sequence-similarity search tool
// (BLAST) against a reference structure database and returns the hits as
// candidates.
package search

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/pdiddy/foldeval/internal/filter"
	"github.com/pdiddy/foldeval/internal/toolexec"
	"github.com/pdiddy/foldeval/pkg/types"
)

// OutputFormat requests comma-separated subject accession and percent
// identity per hit.
const OutputFormat = "10 sacc pident"

// SearchError reports a failed search invocation for one query.
type SearchError struct {
	Query string
	Err   error
}

func (e *SearchError) Error() string {
	return fmt.Sprintf("similarity search for %s: %v", e.Query, e.Err)
}

func (e *SearchError) Unwrap() error { return e.Err }

// Result holds the hits for one query in tool order. Duplicates are kept.
type Result struct {
	Candidates []types.Candidate

	// Malformed lists the rows of tool output that could not be parsed.
	Malformed []*filter.FormatError
}

// Searcher runs the search tool against one database.
type Searcher struct {
	tool     toolexec.Tool
	dbcmd    toolexec.Tool
	database string
	threads  int
	workDir  string
}

// New builds a Searcher. dbcmd inspects the database during Check and may
// be nil to skip that step.
func New(tool, dbcmd toolexec.Tool, cfg types.SearchConfig, workDir string) *Searcher {
	return &Searcher{
		tool:     tool,
		dbcmd:    dbcmd,
		database: cfg.Database,
		threads:  cfg.Threads,
		workDir:  workDir,
	}
}

// Check verifies that the tool can be started and that the database is
// installed. A failure here is fatal for the whole run.
func (s *Searcher) Check(ctx context.Context) error {
	if err := s.tool.Check(ctx); err != nil {
		return fmt.Errorf("search tool unavailable: %w", err)
	}
	if s.dbcmd == nil {
		return nil
	}
	if err := s.dbcmd.Check(ctx); err != nil {
		return fmt.Errorf("database inspection tool unavailable: %w", err)
	}
	if err := s.dbcmd.Run(ctx, s.workDir, []string{"-db", s.database, "-info"}, io.Discard); err != nil {
		return fmt.Errorf("database %s not available: %w", s.database, err)
	}
	return nil
}

// Search runs the tool for the sequence at sequencePath. The tool writes
// its tabular output to a temporary file in the working directory which is
// removed after parsing.
func (s *Searcher) Search(ctx context.Context, sequencePath string) (Result, error) {
	query := strings.TrimSuffix(filepath.Base(sequencePath), filepath.Ext(sequencePath))

	out, err := os.CreateTemp(s.workDir, query+"-hits-*.csv")
	if err != nil {
		return Result{}, &SearchError{Query: query, Err: fmt.Errorf("creating output file: %w", err)}
	}
	outPath := out.Name()
	out.Close()
	defer os.Remove(outPath)

	absQuery, err := filepath.Abs(sequencePath)
	if err != nil {
		return Result{}, &SearchError{Query: query, Err: err}
	}
	absOut, err := filepath.Abs(outPath)
	if err != nil {
		return Result{}, &SearchError{Query: query, Err: err}
	}

	if err := s.tool.Run(ctx, s.workDir, s.args(absQuery, absOut), io.Discard); err != nil {
		return Result{}, &SearchError{Query: query, Err: err}
	}

	f, err := os.Open(outPath)
	if err != nil {
		return Result{}, &SearchError{Query: query, Err: fmt.Errorf("reading output: %w", err)}
	}
	defer f.Close()

	candidates, malformed, err := filter.ParseHits(f)
	if err != nil {
		return Result{}, &SearchError{Query: query, Err: err}
	}
	return Result{Candidates: candidates, Malformed: malformed}, nil
}

func (s *Searcher) args(queryPath, outPath string) []string {
	args := []string{
		"-query", queryPath,
		"-out", outPath,
		"-outfmt", OutputFormat,
		"-db", s.database,
	}
	if s.threads > 0 {
		args = append(args, "-num_threads", strconv.Itoa(s.threads))
	}
	return args
}
