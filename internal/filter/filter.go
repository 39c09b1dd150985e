// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

// Package filter parses tabular similarity-search hits and keeps the
// candidates whose percent identity reaches the acceptance threshold.
package filter

import (
	"bufio"
	"fmt"
	"io"
	"math"
	"os"
	"strconv"
	"strings"

	"github.com/pdiddy/foldeval/internal/fsutil"
	"github.com/pdiddy/foldeval/pkg/types"
)

// FormatError describes one malformed hit row. Parsing skips the row and
// continues.
type FormatError struct {
	Line   int
	Raw    string
	Reason string
}

func (e *FormatError) Error() string {
	return fmt.Sprintf("line %d %q: %s", e.Line, e.Raw, e.Reason)
}

// ParseHits reads "accession,percent_identity" rows. Blank lines are
// ignored; malformed rows are returned as FormatErrors and skipped.
// Candidate order follows the input and duplicates are kept.
func ParseHits(r io.Reader) ([]types.Candidate, []*FormatError, error) {
	var (
		candidates []types.Candidate
		malformed  []*FormatError
	)
	scanner := bufio.NewScanner(r)
	lineNo := 0
	for scanner.Scan() {
		lineNo++
		raw := strings.TrimSpace(scanner.Text())
		if raw == "" {
			continue
		}
		c, reason := parseRow(raw)
		if reason != "" {
			malformed = append(malformed, &FormatError{Line: lineNo, Raw: raw, Reason: reason})
			continue
		}
		candidates = append(candidates, c)
	}
	if err := scanner.Err(); err != nil {
		return candidates, malformed, fmt.Errorf("reading hits: %w", err)
	}
	return candidates, malformed, nil
}

func parseRow(raw string) (types.Candidate, string) {
	fields := strings.Split(raw, ",")
	if len(fields) != 2 {
		return types.Candidate{}, fmt.Sprintf("want 2 fields, got %d", len(fields))
	}
	accession := strings.TrimSpace(fields[0])
	if accession == "" {
		return types.Candidate{}, "empty accession"
	}
	pid, err := strconv.ParseFloat(strings.TrimSpace(fields[1]), 64)
	if err != nil {
		return types.Candidate{}, "percent identity is not a number"
	}
	if math.IsNaN(pid) || pid < 0 || pid > 100 {
		return types.Candidate{}, fmt.Sprintf("percent identity %v outside [0, 100]", pid)
	}
	id, chain := SplitAccession(accession)
	return types.Candidate{
		Accession:       accession,
		ID:              id,
		Chain:           chain,
		PercentIdentity: pid,
	}, ""
}

// SplitAccession splits a structure database accession such as "1A3N_A"
// into the upper-cased structure id and the chain. Accessions without a
// chain suffix return an empty chain.
func SplitAccession(accession string) (id, chain string) {
	// Some databases prefix the accession with its source, e.g. "pdb|1A3N|A".
	if parts := strings.Split(accession, "|"); len(parts) == 3 {
		return strings.ToUpper(parts[1]), parts[2]
	}
	if i := strings.IndexByte(accession, '_'); i > 0 {
		return strings.ToUpper(accession[:i]), accession[i+1:]
	}
	return strings.ToUpper(accession), ""
}

// Apply returns the candidates whose percent identity is at least
// threshold, preserving order. The input is not modified.
func Apply(candidates []types.Candidate, threshold float64) []types.Candidate {
	kept := make([]types.Candidate, 0, len(candidates))
	for _, c := range candidates {
		if c.PercentIdentity >= threshold {
			kept = append(kept, c)
		}
	}
	return kept
}

// MatchesFilename returns the filtered-candidate artifact name for id.
func MatchesFilename(id string) string {
	return id + "_matches.txt"
}

// WriteMatches writes candidates as "accession,percent_identity" lines.
func WriteMatches(path string, candidates []types.Candidate) error {
	var b strings.Builder
	for _, c := range candidates {
		b.WriteString(c.Accession)
		b.WriteByte(',')
		b.WriteString(strconv.FormatFloat(c.PercentIdentity, 'f', -1, 64))
		b.WriteByte('\n')
	}
	return fsutil.WriteFile(path, []byte(b.String()))
}

// ReadMatches loads a matches artifact written by WriteMatches.
func ReadMatches(path string) ([]types.Candidate, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	candidates, malformed, err := ParseHits(f)
	if err != nil {
		return nil, err
	}
	if len(malformed) > 0 {
		return candidates, fmt.Errorf("%s: %w", path, malformed[0])
	}
	return candidates, nil
}
