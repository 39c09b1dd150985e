// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

package pipeline

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pdiddy/foldeval/internal/align"
	"github.com/pdiddy/foldeval/internal/fetch"
	"github.com/pdiddy/foldeval/internal/filter"
	"github.com/pdiddy/foldeval/internal/notify"
	"github.com/pdiddy/foldeval/internal/report"
	"github.com/pdiddy/foldeval/internal/search"
	"github.com/pdiddy/foldeval/pkg/types"
)

// fakeFetcher writes a placeholder artifact for every request unless an
// error is registered for it.
type fakeFetcher struct {
	dir  string
	errs map[string]error // "<kind>/<key>"

	mu    sync.Mutex
	calls []string
}

func (f *fakeFetcher) Fetch(_ context.Context, kind fetch.Kind, key string) (string, error) {
	name := kind.String() + "/" + key
	f.mu.Lock()
	f.calls = append(f.calls, name)
	f.mu.Unlock()
	if err := f.errs[name]; err != nil {
		return "", err
	}
	path := filepath.Join(f.dir, kind.Filename(key))
	if err := os.WriteFile(path, []byte(name+"\n"), 0o644); err != nil {
		return "", err
	}
	return path, nil
}

func (f *fakeFetcher) called(name string) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, c := range f.calls {
		if c == name {
			return true
		}
	}
	return false
}

// fakeSearcher returns canned hits keyed by identifier.
type fakeSearcher struct {
	hits map[string]search.Result
	errs map[string]error
}

func (s *fakeSearcher) Search(_ context.Context, sequencePath string) (search.Result, error) {
	id := strings.TrimSuffix(filepath.Base(sequencePath), ".fasta")
	if err := s.errs[id]; err != nil {
		return search.Result{}, err
	}
	return s.hits[id], nil
}

// fakeComparator returns an RMSD per reference structure file.
type fakeComparator struct {
	rmsd  map[string]float64 // reference id
	errs  map[string]error
	delay func(ref string) time.Duration

	mu    sync.Mutex
	calls []align.Request
}

func (c *fakeComparator) Compare(ctx context.Context, req align.Request) (float64, error) {
	ref := strings.TrimSuffix(filepath.Base(req.Reference), ".pdb")
	c.mu.Lock()
	c.calls = append(c.calls, req)
	c.mu.Unlock()
	if c.delay != nil {
		select {
		case <-time.After(c.delay(ref)):
		case <-ctx.Done():
			return 0, ctx.Err()
		}
	}
	if err := c.errs[ref]; err != nil {
		return 0, &align.ComparisonError{Predicted: req.Predicted, Reference: req.Reference, Err: err}
	}
	return c.rmsd[ref], nil
}

func (c *fakeComparator) callCount() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.calls)
}

type fakeNotifier struct {
	err error

	mu   sync.Mutex
	msgs []notify.Message
}

func (n *fakeNotifier) Notify(_ context.Context, msg notify.Message) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.msgs = append(n.msgs, msg)
	return n.err
}

type recordedOutcome struct {
	position int
	outcome  types.IdentifierOutcome
}

type fakeRecorder struct {
	mu       sync.Mutex
	outcomes []recordedOutcome
	finished []report.Summary
}

func (r *fakeRecorder) BeginRun(context.Context, int) (string, error) { return "run-1", nil }

func (r *fakeRecorder) RecordOutcome(_ context.Context, runID string, position int, out types.IdentifierOutcome) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.outcomes = append(r.outcomes, recordedOutcome{position, out})
	return nil
}

func (r *fakeRecorder) FinishRun(_ context.Context, _ string, s report.Summary, _ string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.finished = append(r.finished, s)
	return nil
}

type harness struct {
	cfg        types.RunConfig
	fetcher    *fakeFetcher
	searcher   *fakeSearcher
	comparator *fakeComparator
	notifier   *fakeNotifier
	recorder   *fakeRecorder
	logs       bytes.Buffer
	out        bytes.Buffer
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	cfg := types.DefaultRunConfig()
	cfg.WorkDir = t.TempDir()
	return &harness{
		cfg:        cfg,
		fetcher:    &fakeFetcher{dir: cfg.WorkDir, errs: map[string]error{}},
		searcher:   &fakeSearcher{hits: map[string]search.Result{}, errs: map[string]error{}},
		comparator: &fakeComparator{rmsd: map[string]float64{}, errs: map[string]error{}},
		notifier:   &fakeNotifier{},
		recorder:   &fakeRecorder{},
	}
}

func (h *harness) orchestrator() *Orchestrator {
	return New(h.cfg, Deps{
		Fetcher:    h.fetcher,
		Searcher:   h.searcher,
		Comparator: h.comparator,
		Recorder:   h.recorder,
		Notifier:   h.notifier,
		Logger:     slog.New(slog.NewTextHandler(&h.logs, &slog.HandlerOptions{Level: slog.LevelDebug})),
		Out:        &h.out,
	})
}

func (h *harness) reportFile(t *testing.T) string {
	t.Helper()
	data, err := os.ReadFile(h.cfg.ReportPath())
	require.NoError(t, err)
	return string(data)
}

func candidate(accession string, pid float64) types.Candidate {
	id, chain := filter.SplitAccession(accession)
	return types.Candidate{Accession: accession, ID: id, Chain: chain, PercentIdentity: pid}
}

func TestRunSingleIdentifier(t *testing.T) {
	h := newHarness(t)
	h.searcher.hits["P69905"] = search.Result{Candidates: []types.Candidate{
		candidate("1A3N", 95.2),
		candidate("2XYZ", 40.0),
	}}
	h.comparator.rmsd["1A3N"] = 0.8

	res, err := h.orchestrator().Run(context.Background(), []string{"P69905"})
	require.NoError(t, err)

	assert.Equal(t, "P69905,1A3N,95.2,0.8\n", h.reportFile(t))
	assert.Equal(t, 1, res.Report.Len())
	assert.Equal(t, 1, h.comparator.callCount())
	assert.False(t, h.fetcher.called("reference_structure/2XYZ"), "filtered candidate must not be fetched")

	matches, err := os.ReadFile(filepath.Join(h.cfg.WorkDir, "P69905_matches.txt"))
	require.NoError(t, err)
	assert.Equal(t, "1A3N,95.2\n", string(matches))

	require.Len(t, res.Outcomes, 1)
	assert.Equal(t, types.StateDone, res.Outcomes[0].State)
	assert.Equal(t, 1, res.Outcomes[0].Candidates)

	require.NotNil(t, res.Summary.MeanRMSD)
	assert.Equal(t, 0.8, *res.Summary.MeanRMSD)
	summary, err := report.ReadSummary(h.cfg.SummaryPath())
	require.NoError(t, err)
	assert.Equal(t, res.Summary, summary)

	require.Len(t, h.notifier.msgs, 1)
	assert.Equal(t, "Program complete", h.notifier.msgs[0].Subject)
	assert.Contains(t, h.notifier.msgs[0].Body, "Mean RMSD: 0.800")
}

func TestRunPredictionFailureSkipsIdentifier(t *testing.T) {
	h := newHarness(t)
	h.fetcher.errs["prediction/Q00001"] = &fetch.RetrievalError{
		Kind:       fetch.KindPrediction,
		Key:        "Q00001",
		URL:        "https://example.test/AF-Q00001-F1-model_v4.pdb",
		StatusCode: 500,
	}
	h.searcher.hits["P69905"] = search.Result{Candidates: []types.Candidate{candidate("1A3N", 95.2)}}
	h.comparator.rmsd["1A3N"] = 0.8

	res, err := h.orchestrator().Run(context.Background(), []string{"Q00001", "P69905"})
	require.NoError(t, err)

	assert.Equal(t, "P69905,1A3N,95.2,0.8\n", h.reportFile(t))
	assert.False(t, h.fetcher.called("reference_structure/Q00001"))

	errored := res.Outcomes[0]
	assert.Equal(t, types.StateErrored, errored.State)
	assert.Equal(t, types.StateSequenceFetched, errored.Stage)
	assert.Contains(t, errored.Error, "500")
	assert.Empty(t, errored.Rows)
	assert.Equal(t, types.StateDone, res.Outcomes[1].State)

	assert.Equal(t, 1, res.Summary.Errored)
	logs := h.logs.String()
	assert.Contains(t, logs, "identifier errored")
	assert.Contains(t, logs, "identifier=Q00001")
	assert.Contains(t, logs, "status=500")
	assert.Contains(t, h.out.String(), "failed:  Q00001 at sequence_fetched")
	assert.Len(t, h.notifier.msgs, 1)
}

func TestRunSearchFailure(t *testing.T) {
	h := newHarness(t)
	h.searcher.errs["P69905"] = &search.SearchError{Query: "P69905.fasta", Err: errors.New("exit status 2")}

	res, err := h.orchestrator().Run(context.Background(), []string{"P69905"})
	require.NoError(t, err)

	assert.Equal(t, types.StateErrored, res.Outcomes[0].State)
	assert.Equal(t, types.StatePredictionFetched, res.Outcomes[0].Stage)
	assert.Empty(t, h.reportFile(t))
	assert.Contains(t, h.logs.String(), "query=P69905.fasta")
	assert.Len(t, h.notifier.msgs, 1, "notification is sent even when every identifier errored")
}

func TestRunNoCandidatesSurvive(t *testing.T) {
	h := newHarness(t)
	h.searcher.hits["P69905"] = search.Result{Candidates: []types.Candidate{
		candidate("2XYZ", 40.0),
		candidate("3ABC", 69.99),
	}}

	res, err := h.orchestrator().Run(context.Background(), []string{"P69905"})
	require.NoError(t, err)

	assert.Equal(t, 0, h.comparator.callCount())
	assert.Equal(t, types.StateDone, res.Outcomes[0].State)
	assert.Equal(t, 0, res.Outcomes[0].Candidates)
	assert.Empty(t, h.reportFile(t))
	assert.Nil(t, res.Summary.MeanRMSD)

	matches, err := os.ReadFile(filepath.Join(h.cfg.WorkDir, "P69905_matches.txt"))
	require.NoError(t, err)
	assert.Empty(t, matches)
	assert.Contains(t, h.notifier.msgs[0].Body, "n/a (empty report)")
}

func TestRunCandidateFailuresSkipOnlyTheCandidate(t *testing.T) {
	h := newHarness(t)
	h.searcher.hits["P69905"] = search.Result{
		Candidates: []types.Candidate{
			candidate("1A3N_A", 95.2),
			candidate("9ZZZ", 90),
			candidate("8YYY_B", 85),
			candidate("4HHB", 80),
		},
		Malformed: []*filter.FormatError{{Line: 3, Raw: "garbage", Reason: "want 2 fields, got 1"}},
	}
	h.fetcher.errs["reference_structure/9ZZZ"] = &fetch.RetrievalError{Kind: fetch.KindReference, Key: "9ZZZ", StatusCode: 404}
	h.comparator.errs["8YYY"] = errors.New("no atoms in common")
	h.comparator.rmsd["1A3N"] = 0.8
	h.comparator.rmsd["4HHB"] = 1.5

	res, err := h.orchestrator().Run(context.Background(), []string{"P69905"})
	require.NoError(t, err)

	assert.Equal(t, "P69905,1A3N,95.2,0.8\nP69905,4HHB,80,1.5\n", h.reportFile(t))

	out := res.Outcomes[0]
	assert.Equal(t, types.StateDone, out.State)
	assert.Equal(t, 4, out.Candidates)
	assert.Equal(t, 1, out.MalformedHits)
	assert.Equal(t, 1, res.Summary.MalformedHits)
	require.Len(t, out.CandidateFailures, 2)
	assert.Equal(t, "9ZZZ", out.CandidateFailures[0].Candidate)
	assert.Equal(t, types.StageCandidateFetch, out.CandidateFailures[0].Stage)
	assert.Equal(t, "8YYY", out.CandidateFailures[1].Candidate)
	assert.Equal(t, types.StageCompare, out.CandidateFailures[1].Stage)

	// Chains named by the accession restrict the reference.
	assert.Equal(t, "A", h.comparator.calls[0].ReferenceChain)
	assert.Equal(t, "B", h.comparator.calls[1].ReferenceChain)

	logs := h.logs.String()
	assert.Contains(t, logs, "candidate skipped")
	assert.Contains(t, logs, "candidate=9ZZZ")
	assert.Contains(t, logs, "stage=candidate_fetch")
	assert.Contains(t, logs, "skipping malformed hit row")
	assert.Contains(t, h.out.String(), "2 of 4 candidates skipped")
}

func TestRunNotificationFailureKeepsReport(t *testing.T) {
	h := newHarness(t)
	h.searcher.hits["P69905"] = search.Result{Candidates: []types.Candidate{candidate("1A3N", 95.2)}}
	h.comparator.rmsd["1A3N"] = 0.8
	h.notifier.err = errors.New("535 authentication failed")

	res, err := h.orchestrator().Run(context.Background(), []string{"P69905"})
	require.NoError(t, err)
	assert.Equal(t, 1, res.Report.Len())
	assert.Equal(t, "P69905,1A3N,95.2,0.8\n", h.reportFile(t))
	assert.Len(t, h.notifier.msgs, 1)
	assert.Contains(t, h.logs.String(), "completion notification failed")
}

func TestRunParallelKeepsInputOrder(t *testing.T) {
	h := newHarness(t)
	h.cfg.Parallel = 4

	ids := []string{"P1", "P2", "P3", "P4", "P5", "P6"}
	var want []types.ReportRow
	for i, id := range ids {
		refs := []string{fmt.Sprintf("%dAAA", i+1), fmt.Sprintf("%dBBB", i+1)}
		var cands []types.Candidate
		for j, ref := range refs {
			cands = append(cands, candidate(ref, 100-float64(j)))
			h.comparator.rmsd[ref] = float64(i) + float64(j)/10
			want = append(want, types.ReportRow{Identifier: id, CandidateID: ref, PercentIdentity: 100 - float64(j), RMSD: float64(i) + float64(j)/10})
		}
		h.searcher.hits[id] = search.Result{Candidates: cands}
	}
	// Early identifiers finish last.
	h.comparator.delay = func(ref string) time.Duration {
		return time.Duration(7-int(ref[0]-'0')) * 5 * time.Millisecond
	}

	res, err := h.orchestrator().Run(context.Background(), ids)
	require.NoError(t, err)
	if diff := cmp.Diff(want, res.Report.Rows); diff != "" {
		t.Errorf("report rows mismatch (-want +got):\n%s", diff)
	}

	got, err := report.Read(h.cfg.ReportPath())
	require.NoError(t, err)
	if diff := cmp.Diff(want, got.Rows); diff != "" {
		t.Errorf("persisted rows mismatch (-want +got):\n%s", diff)
	}

	require.Len(t, h.recorder.outcomes, len(ids))
	positions := map[int]string{}
	for _, r := range h.recorder.outcomes {
		positions[r.position] = r.outcome.Identifier
	}
	for i, id := range ids {
		assert.Equal(t, id, positions[i])
	}
	assert.Len(t, h.recorder.finished, 1)
	assert.Len(t, h.notifier.msgs, 1)
}

func TestRunCancelled(t *testing.T) {
	h := newHarness(t)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	res, err := h.orchestrator().Run(ctx, []string{"P1", "P2"})
	require.ErrorIs(t, err, context.Canceled)
	require.NotNil(t, res)
	for _, out := range res.Outcomes {
		assert.Equal(t, types.StateErrored, out.State)
		assert.Equal(t, types.StatePending, out.Stage)
	}
	assert.Empty(t, h.reportFile(t))
	assert.Empty(t, h.notifier.msgs)
	assert.Len(t, h.recorder.finished, 1)
}

func TestRunDuplicatesAndBatchSummary(t *testing.T) {
	h := newHarness(t)
	h.searcher.hits["P69905"] = search.Result{Candidates: []types.Candidate{candidate("1A3N", 95.2)}}
	h.comparator.rmsd["1A3N"] = 0.8

	res, err := h.orchestrator().Run(context.Background(), []string{"P69905", "P69905"})
	require.NoError(t, err)
	assert.Equal(t, 2, res.Report.Len())
	assert.Equal(t, 2, res.Summary.Identifiers)
	assert.Contains(t, h.out.String(), "Batch summary: 2 done, 0 errored, 2 rows (total: 2)")
}

func TestNewDefaults(t *testing.T) {
	cfg := types.DefaultRunConfig()
	cfg.WorkDir = t.TempDir()
	cfg.Parallel = 0

	o := New(cfg, Deps{
		Fetcher:    &fakeFetcher{dir: cfg.WorkDir},
		Searcher:   &fakeSearcher{},
		Comparator: &fakeComparator{},
		Logger:     slog.New(slog.NewTextHandler(&bytes.Buffer{}, nil)),
	})
	assert.Equal(t, 1, o.cfg.Parallel)

	res, err := o.Run(context.Background(), []string{"P69905"})
	require.NoError(t, err)
	assert.Empty(t, res.RunID)
	assert.Equal(t, types.StateDone, res.Outcomes[0].State)
}
