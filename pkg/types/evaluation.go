// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

// Package types defines shared data structures for the foldeval pipeline:
// candidates returned by the similarity search, report rows, run
// configuration, and the per-identifier state machine.
package types

// Candidate is a reference-database hit for one query sequence.
type Candidate struct {
	// Accession is the subject accession exactly as the search tool
	// reported it (e.g. "1A3N_A").
	Accession string `json:"accession" yaml:"accession"`

	// ID is the structure identifier used to fetch the reference
	// structure (e.g. "1A3N").
	ID string `json:"id" yaml:"id"`

	// Chain is the chain named by the accession, empty when the accession
	// carries no chain suffix.
	Chain string `json:"chain,omitempty" yaml:"chain,omitempty"`

	// PercentIdentity is in [0, 100].
	PercentIdentity float64 `json:"percent_identity" yaml:"percent_identity"`
}

// ReportRow is one (identifier, candidate) comparison result.
type ReportRow struct {
	Identifier      string  `json:"identifier" yaml:"identifier"`
	CandidateID     string  `json:"candidate_id" yaml:"candidate_id"`
	PercentIdentity float64 `json:"percent_identity" yaml:"percent_identity"`
	RMSD            float64 `json:"rmsd" yaml:"rmsd"`
}

// Report is the ordered, append-only collection of rows produced by a run.
type Report struct {
	Rows []ReportRow `json:"rows" yaml:"rows"`
}

// Append adds rows to the end of the report.
func (r *Report) Append(rows ...ReportRow) {
	r.Rows = append(r.Rows, rows...)
}

// Len returns the number of rows.
func (r *Report) Len() int {
	if r == nil {
		return 0
	}
	return len(r.Rows)
}

// State is a step in the per-identifier evaluation state machine.
type State string

const (
	StatePending           State = "pending"
	StateSequenceFetched   State = "sequence_fetched"
	StatePredictionFetched State = "prediction_fetched"
	StateSearched          State = "searched"
	StateFiltered          State = "filtered"
	StateDone              State = "done"
	StateErrored           State = "errored"
)

// Terminal reports whether no further transitions leave s.
func (s State) Terminal() bool {
	return s == StateDone || s == StateErrored
}

// CandidateStage names the step at which a candidate comparison failed.
type CandidateStage string

const (
	StageCandidateFetch CandidateStage = "candidate_fetch"
	StageCompare        CandidateStage = "compare"
)

// CandidateFailure records a candidate skipped during evaluation.
type CandidateFailure struct {
	Candidate string         `json:"candidate" yaml:"candidate"`
	Stage     CandidateStage `json:"stage" yaml:"stage"`
	Error     string         `json:"error" yaml:"error"`
}

// IdentifierOutcome is the result of evaluating one identifier. For an
// errored identifier, Stage is the last state reached before the failure.
type IdentifierOutcome struct {
	Identifier        string             `json:"identifier" yaml:"identifier"`
	State             State              `json:"state" yaml:"state"`
	Stage             State              `json:"stage,omitempty" yaml:"stage,omitempty"`
	Error             string             `json:"error,omitempty" yaml:"error,omitempty"`
	Candidates        int                `json:"candidates" yaml:"candidates"`
	MalformedHits     int                `json:"malformed_hits,omitempty" yaml:"malformed_hits,omitempty"`
	Rows              []ReportRow        `json:"rows,omitempty" yaml:"rows,omitempty"`
	CandidateFailures []CandidateFailure `json:"candidate_failures,omitempty" yaml:"candidate_failures,omitempty"`
}
