// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

package fetch

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pdiddy/foldeval/pkg/types"
)

const sampleFASTA = ">sp|P69905|HBA_HUMAN Hemoglobin subunit alpha\nMVLSPADKTNVKAAWGKVGAHAGEYGAEALERMFLSFPTTKTYFPHF\n"

// newSourceServer serves the three endpoint families under distinct
// prefixes and counts requests.
func newSourceServer(t *testing.T) (*httptest.Server, *hitCounter) {
	t.Helper()
	hits := &hitCounter{}
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.inc()
		switch {
		case r.URL.Path == "/uniprot/P69905.fasta":
			fmt.Fprint(w, sampleFASTA)
		case r.URL.Path == "/afdb/AF-P69905-F1-model_v4.pdb":
			fmt.Fprint(w, "ATOM      1  CA  MET A   1      0.000   0.000   0.000  1.00 90.00           C\nEND\n")
		case strings.HasPrefix(r.URL.Path, "/rcsb/") && r.URL.Path != "/rcsb/EMPTY.pdb":
			fmt.Fprint(w, "HEADER    OXYGEN TRANSPORT\nEND\n")
		case r.URL.Path == "/rcsb/EMPTY.pdb":
			w.WriteHeader(http.StatusOK)
		case r.URL.Path == "/uniprot/BROKEN.fasta":
			w.WriteHeader(http.StatusInternalServerError)
		default:
			http.NotFound(w, r)
		}
	}))
	t.Cleanup(ts.Close)
	return ts, hits
}

type hitCounter struct {
	total int32
}

func (h *hitCounter) inc() {
	atomic.AddInt32(&h.total, 1)
}

func testConfig(base string) types.RetrievalConfig {
	cfg := types.DefaultRunConfig().Retrieval
	cfg.SequenceURL = base + "/uniprot/{id}.fasta"
	cfg.PredictionURL = base + "/afdb/AF-{id}-F1-model_v4.pdb"
	cfg.ReferenceURL = base + "/rcsb/{id}.pdb"
	return cfg
}

func newTestFetcher(t *testing.T, client *http.Client, base string) (*Fetcher, string) {
	t.Helper()
	dir := t.TempDir()
	f, err := New(client, dir, testConfig(base))
	require.NoError(t, err)
	f.WithSleep(func(context.Context, time.Duration) error { return nil })
	return f, dir
}

func TestFetchWritesDeterministicFilenames(t *testing.T) {
	ts, _ := newSourceServer(t)
	f, dir := newTestFetcher(t, ts.Client(), ts.URL)

	tests := []struct {
		kind Kind
		key  string
		want string
	}{
		{KindSequence, "P69905", "P69905.fasta"},
		{KindPrediction, "P69905", "P69905_predicted.pdb"},
		{KindReference, "1A3N", "1A3N.pdb"},
	}
	for _, tt := range tests {
		t.Run(tt.kind.String(), func(t *testing.T) {
			path, err := f.Fetch(context.Background(), tt.kind, tt.key)
			require.NoError(t, err)
			assert.Equal(t, filepath.Join(dir, tt.want), path)

			info, err := os.Stat(path)
			require.NoError(t, err)
			assert.Positive(t, info.Size())
		})
	}
}

func TestFetchOverwritesExistingFile(t *testing.T) {
	ts, _ := newSourceServer(t)
	f, dir := newTestFetcher(t, ts.Client(), ts.URL)

	dest := filepath.Join(dir, "P69905.fasta")
	require.NoError(t, os.WriteFile(dest, []byte("stale"), 0o644))

	path, err := f.Fetch(context.Background(), KindSequence, "P69905")
	require.NoError(t, err)

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, sampleFASTA, string(data))

	// Repeated fetch yields the same artifact.
	_, err = f.Fetch(context.Background(), KindSequence, "P69905")
	require.NoError(t, err)
	again, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, data, again)
}

func TestFetchHTTPErrorIsNotRetried(t *testing.T) {
	ts, hits := newSourceServer(t)
	f, _ := newTestFetcher(t, ts.Client(), ts.URL)

	for _, tc := range []struct {
		key    string
		status int
	}{
		{"MISSING", http.StatusNotFound},
		{"BROKEN", http.StatusInternalServerError},
	} {
		before := atomic.LoadInt32(&hits.total)
		_, err := f.Fetch(context.Background(), KindSequence, tc.key)
		require.Error(t, err)

		var rerr *RetrievalError
		require.ErrorAs(t, err, &rerr)
		assert.Equal(t, tc.status, rerr.StatusCode)
		assert.Equal(t, tc.key, rerr.Key)
		assert.False(t, rerr.Transient)
		assert.Equal(t, before+1, atomic.LoadInt32(&hits.total), "HTTP %d must not be retried", tc.status)
	}
}

// dropTransport fails the first n round trips at the connection level.
type dropTransport struct {
	remaining int32
	calls     int32
	next      http.RoundTripper
}

func (d *dropTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	atomic.AddInt32(&d.calls, 1)
	if atomic.AddInt32(&d.remaining, -1) >= 0 {
		return nil, &net.OpError{Op: "dial", Net: "tcp", Err: errors.New("connection reset by peer")}
	}
	return d.next.RoundTrip(req)
}

func TestFetchRetriesTransientFailures(t *testing.T) {
	ts, _ := newSourceServer(t)
	transport := &dropTransport{remaining: 2, next: ts.Client().Transport}
	f, _ := newTestFetcher(t, &http.Client{Transport: transport}, ts.URL)

	path, err := f.Fetch(context.Background(), KindPrediction, "P69905")
	require.NoError(t, err)
	assert.FileExists(t, path)
	assert.Equal(t, int32(3), atomic.LoadInt32(&transport.calls))
}

func TestFetchGivesUpAfterMaxRetries(t *testing.T) {
	ts, _ := newSourceServer(t)
	transport := &dropTransport{remaining: 100, next: ts.Client().Transport}
	f, _ := newTestFetcher(t, &http.Client{Transport: transport}, ts.URL)

	_, err := f.Fetch(context.Background(), KindPrediction, "P69905")
	var rerr *RetrievalError
	require.ErrorAs(t, err, &rerr)
	assert.True(t, rerr.Transient)
	assert.Equal(t, int32(4), atomic.LoadInt32(&transport.calls))
}

func TestFetchRejectsEmptyBody(t *testing.T) {
	ts, _ := newSourceServer(t)
	f, dir := newTestFetcher(t, ts.Client(), ts.URL)

	_, err := f.Fetch(context.Background(), KindReference, "EMPTY")
	require.ErrorIs(t, err, ErrEmptyBody)
	assert.NoFileExists(t, filepath.Join(dir, "EMPTY.pdb"))
}

func TestFetchRejectsBadKeys(t *testing.T) {
	ts, hits := newSourceServer(t)
	f, _ := newTestFetcher(t, ts.Client(), ts.URL)

	for _, key := range []string{"", "  ", "../etc", `a\b`} {
		_, err := f.Fetch(context.Background(), KindSequence, key)
		var rerr *RetrievalError
		assert.ErrorAs(t, err, &rerr, "key %q", key)
	}
	assert.Zero(t, atomic.LoadInt32(&hits.total))
}

func TestFetchCachesReferencesWithinRun(t *testing.T) {
	ts, hits := newSourceServer(t)
	f, _ := newTestFetcher(t, ts.Client(), ts.URL)

	for i := 0; i < 3; i++ {
		_, err := f.Fetch(context.Background(), KindReference, "1A3N")
		require.NoError(t, err)
	}
	assert.Equal(t, int32(1), atomic.LoadInt32(&hits.total))

	// Sequences are never cached.
	for i := 0; i < 2; i++ {
		_, err := f.Fetch(context.Background(), KindSequence, "P69905")
		require.NoError(t, err)
	}
	assert.Equal(t, int32(3), atomic.LoadInt32(&hits.total))
}

func TestFetchCacheDisabled(t *testing.T) {
	ts, hits := newSourceServer(t)
	cfg := testConfig(ts.URL)
	cfg.CacheReferences = false
	f, err := New(ts.Client(), t.TempDir(), cfg)
	require.NoError(t, err)

	for i := 0; i < 2; i++ {
		_, err := f.Fetch(context.Background(), KindReference, "1A3N")
		require.NoError(t, err)
	}
	assert.Equal(t, int32(2), atomic.LoadInt32(&hits.total))
}

func TestURLExpansion(t *testing.T) {
	f, err := New(nil, t.TempDir(), types.DefaultRunConfig().Retrieval)
	require.NoError(t, err)

	got, err := f.URL(KindPrediction, "P69905")
	require.NoError(t, err)
	assert.Equal(t, "https://alphafold.ebi.ac.uk/files/AF-P69905-F1-model_v4.pdb", got)

	got, err = f.URL(KindReference, "1A3N")
	require.NoError(t, err)
	assert.Equal(t, "https://files.rcsb.org/download/1A3N.pdb", got)
}

func TestNewRejectsMalformedTemplate(t *testing.T) {
	cfg := types.DefaultRunConfig().Retrieval
	cfg.ReferenceURL = "https://files.rcsb.org/download/{id.pdb"
	_, err := New(nil, t.TempDir(), cfg)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "reference_structure")
}
