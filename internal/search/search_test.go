// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

package search

import (
	"context"
	"errors"
	"io"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pdiddy/foldeval/pkg/types"
)

// fakeTool writes canned output to the -out argument.
type fakeTool struct {
	name     string
	output   string
	runErr   error
	checkErr error
	gotArgs  [][]string
}

func (f *fakeTool) Name() string                  { return f.name }
func (f *fakeTool) Check(_ context.Context) error { return f.checkErr }

func (f *fakeTool) Run(_ context.Context, _ string, args []string, _ io.Writer) error {
	f.gotArgs = append(f.gotArgs, args)
	if f.runErr != nil {
		return f.runErr
	}
	for i := 0; i+1 < len(args); i++ {
		if args[i] == "-out" {
			return os.WriteFile(args[i+1], []byte(f.output), 0o644)
		}
	}
	return nil
}

func setupQuery(t *testing.T) (string, string) {
	t.Helper()
	dir := t.TempDir()
	path := filepath.Join(dir, "P69905.fasta")
	require.NoError(t, os.WriteFile(path, []byte(">P69905\nMVLSPADKTNVKAAW\n"), 0o644))
	return dir, path
}

func TestSearchParsesToolOutput(t *testing.T) {
	dir, query := setupQuery(t)
	tool := &fakeTool{name: "blastp", output: "1A3N_A,95.2\n2XYZ_B,40.0\n1A3N_A,95.2\n"}
	s := New(tool, nil, types.SearchConfig{Database: "pdbaa", Threads: 4}, dir)

	res, err := s.Search(context.Background(), query)
	require.NoError(t, err)

	require.Len(t, res.Candidates, 3)
	assert.Equal(t, "1A3N", res.Candidates[0].ID)
	assert.Equal(t, 95.2, res.Candidates[0].PercentIdentity)
	assert.Equal(t, "2XYZ", res.Candidates[1].ID)
	assert.Equal(t, res.Candidates[0], res.Candidates[2], "duplicates pass through")
	assert.Empty(t, res.Malformed)

	require.Len(t, tool.gotArgs, 1)
	args := tool.gotArgs[0]
	assert.Contains(t, args, OutputFormat)
	assert.Contains(t, args, "pdbaa")
	assert.Contains(t, args, "-num_threads")

	// The temporary output file is cleaned up.
	leftovers, err := filepath.Glob(filepath.Join(dir, "P69905-hits-*.csv"))
	require.NoError(t, err)
	assert.Empty(t, leftovers)
}

func TestSearchNoHits(t *testing.T) {
	dir, query := setupQuery(t)
	s := New(&fakeTool{name: "blastp"}, nil, types.SearchConfig{Database: "pdbaa"}, dir)

	res, err := s.Search(context.Background(), query)
	require.NoError(t, err)
	assert.Empty(t, res.Candidates)
}

func TestSearchReportsMalformedRows(t *testing.T) {
	dir, query := setupQuery(t)
	tool := &fakeTool{name: "blastp", output: "1A3N_A,95.2\nBAD_ROW,n/a\n"}
	s := New(tool, nil, types.SearchConfig{Database: "pdbaa"}, dir)

	res, err := s.Search(context.Background(), query)
	require.NoError(t, err)
	assert.Len(t, res.Candidates, 1)
	require.Len(t, res.Malformed, 1)
	assert.Equal(t, 2, res.Malformed[0].Line)
}

func TestSearchToolFailure(t *testing.T) {
	dir, query := setupQuery(t)
	tool := &fakeTool{name: "blastp", runErr: errors.New("exit status 1")}
	s := New(tool, nil, types.SearchConfig{Database: "pdbaa"}, dir)

	_, err := s.Search(context.Background(), query)
	var serr *SearchError
	require.ErrorAs(t, err, &serr)
	assert.Equal(t, "P69905", serr.Query)
	assert.Contains(t, err.Error(), "exit status 1")
}

func TestCheck(t *testing.T) {
	tests := []struct {
		name    string
		tool    *fakeTool
		dbcmd   *fakeTool
		wantErr string
	}{
		{name: "all present", tool: &fakeTool{}, dbcmd: &fakeTool{}},
		{name: "no dbcmd configured", tool: &fakeTool{}},
		{name: "missing binary", tool: &fakeTool{checkErr: errors.New("not on PATH")}, wantErr: "search tool unavailable"},
		{name: "missing database", tool: &fakeTool{}, dbcmd: &fakeTool{runErr: errors.New("BLAST Database error")}, wantErr: "database pdbaa not available"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var dbcmd *fakeTool
			s := New(tt.tool, nil, types.SearchConfig{Database: "pdbaa"}, t.TempDir())
			if tt.dbcmd != nil {
				dbcmd = tt.dbcmd
				s = New(tt.tool, dbcmd, types.SearchConfig{Database: "pdbaa"}, t.TempDir())
			}
			err := s.Check(context.Background())
			if tt.wantErr == "" {
				require.NoError(t, err)
				if dbcmd != nil {
					require.Len(t, dbcmd.gotArgs, 1)
					assert.Equal(t, []string{"-db", "pdbaa", "-info"}, dbcmd.gotArgs[0])
				}
				return
			}
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}
