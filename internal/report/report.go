// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

// Package report persists the run report and computes summary statistics
// over it.
package report

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"math"
	"os"
	"strconv"
	"strings"

	"go.yaml.in/yaml/v3"

	"github.com/pdiddy/foldeval/internal/filter"
	"github.com/pdiddy/foldeval/internal/fsutil"
	"github.com/pdiddy/foldeval/pkg/types"
)

// EmptyReportError is returned when a statistic is requested over a
// report with no rows.
type EmptyReportError struct {
	Statistic string
}

func (e *EmptyReportError) Error() string {
	return fmt.Sprintf("cannot compute %s of an empty report", e.Statistic)
}

// MeanRMSD returns the arithmetic mean of the RMSD column.
func MeanRMSD(r *types.Report) (float64, error) {
	if r.Len() == 0 {
		return 0, &EmptyReportError{Statistic: "mean RMSD"}
	}
	var sum float64
	for _, row := range r.Rows {
		sum += row.RMSD
	}
	return sum / float64(len(r.Rows)), nil
}

// FormatRow renders a row as "identifier,candidate,pid,rmsd" using the
// shortest decimal form of each number.
func FormatRow(row types.ReportRow) string {
	return strings.Join([]string{
		row.Identifier,
		row.CandidateID,
		strconv.FormatFloat(row.PercentIdentity, 'f', -1, 64),
		strconv.FormatFloat(row.RMSD, 'f', -1, 64),
	}, ",")
}

// Write stores the report at path, one row per line. The file is replaced
// atomically so a reader never sees a partial report.
func Write(path string, r *types.Report) error {
	var b strings.Builder
	if r != nil {
		for _, row := range r.Rows {
			b.WriteString(FormatRow(row))
			b.WriteByte('\n')
		}
	}
	return fsutil.WriteFile(path, []byte(b.String()))
}

// Read parses a report written by Write. Malformed lines are returned as
// FormatErrors joined into the error, alongside the rows that parsed.
func Read(path string) (*types.Report, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	return Parse(f)
}

// Parse reads report lines from r.
func Parse(r io.Reader) (*types.Report, error) {
	rep := &types.Report{}
	var errs []error
	scanner := bufio.NewScanner(r)
	lineNo := 0
	for scanner.Scan() {
		lineNo++
		raw := strings.TrimSpace(scanner.Text())
		if raw == "" {
			continue
		}
		row, reason := parseRow(raw)
		if reason != "" {
			errs = append(errs, &filter.FormatError{Line: lineNo, Raw: raw, Reason: reason})
			continue
		}
		rep.Append(row)
	}
	if err := scanner.Err(); err != nil {
		errs = append(errs, fmt.Errorf("reading report: %w", err))
	}
	return rep, errors.Join(errs...)
}

func parseRow(raw string) (types.ReportRow, string) {
	fields := strings.Split(raw, ",")
	if len(fields) != 4 {
		return types.ReportRow{}, fmt.Sprintf("want 4 fields, got %d", len(fields))
	}
	for i := range fields {
		fields[i] = strings.TrimSpace(fields[i])
	}
	if fields[0] == "" || fields[1] == "" {
		return types.ReportRow{}, "empty identifier or candidate"
	}
	pid, err := strconv.ParseFloat(fields[2], 64)
	if err != nil || math.IsNaN(pid) || pid < 0 || pid > 100 {
		return types.ReportRow{}, fmt.Sprintf("invalid percent identity %q", fields[2])
	}
	rmsd, err := strconv.ParseFloat(fields[3], 64)
	if err != nil || math.IsNaN(rmsd) || math.IsInf(rmsd, 0) || rmsd < 0 {
		return types.ReportRow{}, fmt.Sprintf("invalid rmsd %q", fields[3])
	}
	return types.ReportRow{Identifier: fields[0], CandidateID: fields[1], PercentIdentity: pid, RMSD: rmsd}, ""
}

// Stats carries the per-identifier outcome counts that the report alone
// cannot reconstruct.
type Stats struct {
	RunID       string
	Identifiers int
	Errored     int

	// MalformedHits counts search output rows skipped as unparseable.
	MalformedHits int
}

// IdentifierSummary aggregates the rows of one identifier.
type IdentifierSummary struct {
	Identifier string  `yaml:"identifier"`
	Rows       int     `yaml:"rows"`
	MeanRMSD   float64 `yaml:"mean_rmsd"`
	BestRMSD   float64 `yaml:"best_rmsd"`
}

// Summary is the run-level digest written next to the report.
type Summary struct {
	RunID       string `yaml:"run_id,omitempty"`
	Identifiers int    `yaml:"identifiers"`
	Errored     int    `yaml:"errored"`
	Rows        int    `yaml:"rows"`

	MalformedHits int `yaml:"malformed_hits"`

	// The RMSD statistics are nil when the report is empty.
	MeanRMSD *float64 `yaml:"mean_rmsd"`
	MinRMSD  *float64 `yaml:"min_rmsd"`
	MaxRMSD  *float64 `yaml:"max_rmsd"`

	ByIdentifier []IdentifierSummary `yaml:"by_identifier,omitempty"`
}

// Summarize computes a Summary. Identifiers appear in first-seen order.
func Summarize(r *types.Report, stats Stats) Summary {
	s := Summary{
		RunID:       stats.RunID,
		Identifiers: stats.Identifiers,
		Errored:     stats.Errored,
		Rows:        r.Len(),

		MalformedHits: stats.MalformedHits,
	}
	mean, err := MeanRMSD(r)
	if err != nil {
		return s
	}
	lo, hi := math.Inf(1), math.Inf(-1)
	index := make(map[string]int)
	for _, row := range r.Rows {
		lo = math.Min(lo, row.RMSD)
		hi = math.Max(hi, row.RMSD)

		i, ok := index[row.Identifier]
		if !ok {
			i = len(s.ByIdentifier)
			index[row.Identifier] = i
			s.ByIdentifier = append(s.ByIdentifier, IdentifierSummary{Identifier: row.Identifier, BestRMSD: row.RMSD})
		}
		is := &s.ByIdentifier[i]
		is.Rows++
		is.MeanRMSD += row.RMSD
		is.BestRMSD = math.Min(is.BestRMSD, row.RMSD)
	}
	for i := range s.ByIdentifier {
		s.ByIdentifier[i].MeanRMSD /= float64(s.ByIdentifier[i].Rows)
	}
	s.MeanRMSD, s.MinRMSD, s.MaxRMSD = &mean, &lo, &hi
	return s
}

// WriteSummary stores s as YAML at path.
func WriteSummary(path string, s Summary) error {
	data, err := yaml.Marshal(s)
	if err != nil {
		return fmt.Errorf("marshaling summary: %w", err)
	}
	return fsutil.WriteFile(path, data)
}

// ReadSummary loads a summary written by WriteSummary.
func ReadSummary(path string) (Summary, error) {
	var s Summary
	data, err := os.ReadFile(path)
	if err != nil {
		return s, err
	}
	if err := yaml.Unmarshal(data, &s); err != nil {
		return s, fmt.Errorf("parsing %s: %w", path, err)
	}
	return s, nil
}
