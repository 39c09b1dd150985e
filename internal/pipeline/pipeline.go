// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

// Package pipeline drives the per-identifier evaluation: fetch the
// sequence and predicted structure, search for similar solved structures,
// filter the hits, then fetch and compare each surviving reference.
//
// Failures are absorbed at the smallest unit that can hold them. A failed
// candidate is skipped; a failed identifier is marked errored and the run
// moves on. Every absorbed failure is logged and recorded.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strconv"
	"sync"

	"golang.org/x/sync/errgroup"

	"github.com/pdiddy/foldeval/internal/align"
	"github.com/pdiddy/foldeval/internal/fetch"
	"github.com/pdiddy/foldeval/internal/filter"
	"github.com/pdiddy/foldeval/internal/logging"
	"github.com/pdiddy/foldeval/internal/notify"
	"github.com/pdiddy/foldeval/internal/report"
	"github.com/pdiddy/foldeval/internal/search"
	"github.com/pdiddy/foldeval/pkg/types"
)

// Fetcher retrieves one artifact and returns its local path.
type Fetcher interface {
	Fetch(ctx context.Context, kind fetch.Kind, key string) (string, error)
}

// Searcher runs the similarity search for a sequence file.
type Searcher interface {
	Search(ctx context.Context, sequencePath string) (search.Result, error)
}

// Comparator returns the RMSD between two structures.
type Comparator interface {
	Compare(ctx context.Context, req align.Request) (float64, error)
}

// Recorder persists run progress. Recording failures are logged and never
// stop the run.
type Recorder interface {
	BeginRun(ctx context.Context, identifiers int) (string, error)
	RecordOutcome(ctx context.Context, runID string, position int, out types.IdentifierOutcome) error
	FinishRun(ctx context.Context, runID string, s report.Summary, reportPath string) error
}

// Deps are the collaborators of an Orchestrator. Fetcher, Searcher and
// Comparator are required; the rest have defaults.
type Deps struct {
	Fetcher    Fetcher
	Searcher   Searcher
	Comparator Comparator

	// Recorder defaults to recording nothing.
	Recorder Recorder

	// Notifier defaults to logging the completion message.
	Notifier notify.Notifier

	// Logger receives diagnostics; defaults to slog.Default().
	Logger *slog.Logger

	// Out receives progress lines; defaults to io.Discard.
	Out io.Writer
}

// Orchestrator evaluates a list of identifiers.
type Orchestrator struct {
	cfg  types.RunConfig
	deps Deps

	outMu sync.Mutex
}

// New returns an Orchestrator. Missing optional dependencies are filled
// with their defaults.
func New(cfg types.RunConfig, deps Deps) *Orchestrator {
	if deps.Logger == nil {
		deps.Logger = slog.Default()
	}
	if deps.Out == nil {
		deps.Out = io.Discard
	}
	if deps.Recorder == nil {
		deps.Recorder = nopRecorder{}
	}
	if deps.Notifier == nil {
		deps.Notifier = notify.LogNotifier{Logger: deps.Logger}
	}
	if cfg.Parallel < 1 {
		cfg.Parallel = 1
	}
	return &Orchestrator{cfg: cfg, deps: deps}
}

// Result is what a run produced.
type Result struct {
	RunID    string
	Report   *types.Report
	Summary  report.Summary
	Outcomes []types.IdentifierOutcome
}

// Run evaluates every identifier, persists the report and summary, and
// sends one completion notification. Identifier failures do not make Run
// fail; an error is returned only when the report cannot be written or ctx
// is cancelled, and in both cases no notification is sent.
func (o *Orchestrator) Run(ctx context.Context, identifiers []string) (*Result, error) {
	if err := os.MkdirAll(o.cfg.WorkDir, 0o755); err != nil {
		return nil, fmt.Errorf("creating work directory: %w", err)
	}

	logger := o.deps.Logger
	runID, err := o.deps.Recorder.BeginRun(ctx, len(identifiers))
	if err != nil {
		logger.Warn("could not record run start", logging.KeyError, err)
	}
	if runID != "" {
		logger = logger.With(logging.KeyRunID, runID)
	}

	outcomes := make([]types.IdentifierOutcome, len(identifiers))
	var g errgroup.Group
	g.SetLimit(o.cfg.Parallel)
	for i, id := range identifiers {
		if ctx.Err() != nil {
			outcomes[i] = types.IdentifierOutcome{
				Identifier: id,
				State:      types.StateErrored,
				Stage:      types.StatePending,
				Error:      ctx.Err().Error(),
			}
			continue
		}
		g.Go(func() error {
			out := o.evaluate(ctx, logger, id)
			outcomes[i] = out
			o.progress(i+1, len(identifiers), out)
			if runID == "" {
				return nil
			}
			if err := o.deps.Recorder.RecordOutcome(ctx, runID, i, out); err != nil {
				logger.Warn("could not record outcome", logging.KeyIdentifier, id, logging.KeyError, err)
			}
			return nil
		})
	}
	g.Wait()

	res := &Result{RunID: runID, Report: &types.Report{}, Outcomes: outcomes}
	stats := report.Stats{RunID: runID, Identifiers: len(identifiers)}
	for _, out := range outcomes {
		res.Report.Append(out.Rows...)
		if out.State == types.StateErrored {
			stats.Errored++
		}
		stats.MalformedHits += out.MalformedHits
	}
	res.Summary = report.Summarize(res.Report, stats)

	reportPath := o.cfg.ReportPath()
	if err := report.Write(reportPath, res.Report); err != nil {
		return res, fmt.Errorf("writing report: %w", err)
	}
	if err := report.WriteSummary(o.cfg.SummaryPath(), res.Summary); err != nil {
		logger.Warn("could not write summary", logging.KeyError, err)
	}
	// The ledger gets the final stamp even when the run was interrupted.
	if runID != "" {
		if err := o.deps.Recorder.FinishRun(context.WithoutCancel(ctx), runID, res.Summary, reportPath); err != nil {
			logger.Warn("could not record run end", logging.KeyError, err)
		}
	}
	o.printf("\nBatch summary: %d done, %d errored, %d rows (total: %d)\n",
		len(identifiers)-stats.Errored, stats.Errored, res.Summary.Rows, len(identifiers))

	if err := ctx.Err(); err != nil {
		return res, err
	}

	if err := o.deps.Notifier.Notify(ctx, o.message(res.Summary, reportPath)); err != nil {
		logger.Error("completion notification failed", logging.KeyError, err)
	}
	return res, nil
}

// evaluate walks one identifier through the state machine. It never
// returns an error: failures end in StateErrored with Stage set to the
// last state reached.
func (o *Orchestrator) evaluate(ctx context.Context, logger *slog.Logger, id string) types.IdentifierOutcome {
	out := types.IdentifierOutcome{Identifier: id, State: types.StatePending}
	log := logger.With(logging.KeyIdentifier, id)

	fail := func(err error) types.IdentifierOutcome {
		out.Stage, out.State, out.Error = out.State, types.StateErrored, err.Error()
		log.Warn("identifier errored", append([]any{logging.KeyStage, string(out.Stage), logging.KeyError, err}, errorAttrs(err)...)...)
		return out
	}

	seqPath, err := o.deps.Fetcher.Fetch(ctx, fetch.KindSequence, id)
	if err != nil {
		return fail(err)
	}
	out.State = types.StateSequenceFetched

	predPath, err := o.deps.Fetcher.Fetch(ctx, fetch.KindPrediction, id)
	if err != nil {
		return fail(err)
	}
	out.State = types.StatePredictionFetched

	hits, err := o.deps.Searcher.Search(ctx, seqPath)
	if err != nil {
		return fail(err)
	}
	out.State = types.StateSearched
	out.MalformedHits = len(hits.Malformed)
	for _, fe := range hits.Malformed {
		log.Warn("skipping malformed hit row", "line", fe.Line, "raw", fe.Raw, logging.KeyError, fe.Reason)
	}

	kept := filter.Apply(hits.Candidates, o.cfg.Threshold)
	matchesPath := filepath.Join(o.cfg.WorkDir, filter.MatchesFilename(id))
	if err := filter.WriteMatches(matchesPath, kept); err != nil {
		return fail(err)
	}
	out.State = types.StateFiltered
	out.Candidates = len(kept)
	log.Debug("candidates filtered", "hits", len(hits.Candidates), "kept", len(kept))

	for _, c := range kept {
		if err := ctx.Err(); err != nil {
			return fail(err)
		}
		row, stage, err := o.compare(ctx, id, predPath, c)
		if err != nil {
			out.CandidateFailures = append(out.CandidateFailures, types.CandidateFailure{
				Candidate: c.ID,
				Stage:     stage,
				Error:     err.Error(),
			})
			log.Warn("candidate skipped", append([]any{logging.KeyCandidate, c.ID, logging.KeyStage, string(stage), logging.KeyError, err}, errorAttrs(err)...)...)
			continue
		}
		out.Rows = append(out.Rows, row)
	}
	out.State = types.StateDone
	return out
}

// compare fetches one candidate's reference structure and compares it
// with the prediction. On failure it reports the stage that failed.
func (o *Orchestrator) compare(ctx context.Context, id, predPath string, c types.Candidate) (types.ReportRow, types.CandidateStage, error) {
	refPath, err := o.deps.Fetcher.Fetch(ctx, fetch.KindReference, c.ID)
	if err != nil {
		return types.ReportRow{}, types.StageCandidateFetch, err
	}
	rmsd, err := o.deps.Comparator.Compare(ctx, align.Request{
		Predicted:      predPath,
		Reference:      refPath,
		ReferenceChain: c.Chain,
	})
	if err != nil {
		return types.ReportRow{}, types.StageCompare, err
	}
	return types.ReportRow{
		Identifier:      id,
		CandidateID:     c.ID,
		PercentIdentity: c.PercentIdentity,
		RMSD:            rmsd,
	}, "", nil
}

func (o *Orchestrator) progress(n, total int, out types.IdentifierOutcome) {
	switch {
	case out.State == types.StateErrored:
		o.printf("[%d/%d] failed:  %s at %s (%s)\n", n, total, out.Identifier, out.Stage, out.Error)
	case len(out.CandidateFailures) > 0:
		o.printf("[%d/%d] done:    %s (%d rows, %d of %d candidates skipped)\n",
			n, total, out.Identifier, len(out.Rows), len(out.CandidateFailures), out.Candidates)
	default:
		o.printf("[%d/%d] done:    %s (%d rows)\n", n, total, out.Identifier, len(out.Rows))
	}
}

func (o *Orchestrator) printf(format string, args ...any) {
	o.outMu.Lock()
	defer o.outMu.Unlock()
	fmt.Fprintf(o.deps.Out, format, args...)
}

func (o *Orchestrator) message(s report.Summary, reportPath string) notify.Message {
	mean := "n/a (empty report)"
	if s.MeanRMSD != nil {
		mean = strconv.FormatFloat(*s.MeanRMSD, 'f', 3, 64)
	}
	subject := o.cfg.Notify.Subject
	if subject == "" {
		subject = "Program complete"
	}
	return notify.Message{
		Subject: subject,
		Body: fmt.Sprintf("Run %s finished.\nIdentifiers: %d (%d errored)\nRows: %d\nMean RMSD: %s\nReport: %s\n",
			s.RunID, s.Identifiers, s.Errored, s.Rows, mean, reportPath),
	}
}

// errorAttrs extracts structured details from typed failures.
func errorAttrs(err error) []any {
	var attrs []any
	var rerr *fetch.RetrievalError
	if errors.As(err, &rerr) {
		attrs = append(attrs, "artifact", rerr.Kind.String(), "url", rerr.URL, "transient", rerr.Transient)
		if rerr.StatusCode != 0 {
			attrs = append(attrs, "status", rerr.StatusCode)
		}
	}
	var serr *search.SearchError
	if errors.As(err, &serr) {
		attrs = append(attrs, "query", serr.Query)
	}
	return attrs
}

type nopRecorder struct{}

func (nopRecorder) BeginRun(context.Context, int) (string, error) { return "", nil }

func (nopRecorder) RecordOutcome(context.Context, string, int, types.IdentifierOutcome) error {
	return nil
}

func (nopRecorder) FinishRun(context.Context, string, report.Summary, string) error { return nil }
