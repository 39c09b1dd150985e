// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

// Package align superimposes a predicted structure onto a reference
// structure and reports the root-mean-square deviation of the fit.
//
// Two engines implement the contract: an in-process Kabsch superposition
// of sequence-aligned Cα atoms with outlier-rejection refinement, and
// PyMOL driven as a subprocess.
// Callers go through Comparator, which turns every engine failure and
// every non-finite or negative result into a *ComparisonError.
package align

import (
	"context"
	"errors"
	"fmt"
	"math"
)

// Request names the two structures to superimpose.
type Request struct {
	Predicted string
	Reference string

	// ReferenceChain restricts the reference to one chain; empty uses the
	// first chain in the file.
	ReferenceChain string
}

// Result mirrors the fields an alignment engine reports.
type Result struct {
	// RMSD after refinement, in Ångström.
	RMSD float64

	// AtomsAligned is the number of atom pairs left after refinement.
	AtomsAligned int

	// Cycles is the number of refinement cycles that ran.
	Cycles int

	// RMSDBefore and AtomsBefore describe the fit before refinement.
	RMSDBefore  float64
	AtomsBefore int
}

// Engine performs one superposition. Implementations hold no state that
// outlives a single Align call.
type Engine interface {
	Name() string

	// Check verifies the engine can run; failures are fatal at startup.
	Check(ctx context.Context) error

	Align(ctx context.Context, req Request) (Result, error)
}

// ComparisonError reports a failed comparison for one structure pair.
type ComparisonError struct {
	Predicted string
	Reference string
	Err       error
}

func (e *ComparisonError) Error() string {
	return fmt.Sprintf("comparing %s with %s: %v", e.Predicted, e.Reference, e.Err)
}

func (e *ComparisonError) Unwrap() error { return e.Err }

var (
	// ErrInvalidRMSD marks NaN, infinite or negative engine output.
	ErrInvalidRMSD = errors.New("engine returned an invalid RMSD")

	// ErrNoCommonAtoms marks alignments with no atoms in common.
	ErrNoCommonAtoms = errors.New("no atoms in common")
)

// Comparator is the structural comparator used by the pipeline.
type Comparator struct {
	engine Engine
}

// NewComparator wraps engine.
func NewComparator(engine Engine) *Comparator {
	return &Comparator{engine: engine}
}

// Engine returns the wrapped engine.
func (c *Comparator) Engine() Engine { return c.engine }

// Compare superimposes req.Predicted onto req.Reference and returns the
// RMSD, which is always finite and non-negative on success.
func (c *Comparator) Compare(ctx context.Context, req Request) (float64, error) {
	res, err := c.engine.Align(ctx, req)
	if err != nil {
		return 0, &ComparisonError{Predicted: req.Predicted, Reference: req.Reference, Err: err}
	}
	if err := Validate(res); err != nil {
		return 0, &ComparisonError{Predicted: req.Predicted, Reference: req.Reference, Err: err}
	}
	return res.RMSD, nil
}

// Validate rejects results that must not be reported as an RMSD.
func Validate(res Result) error {
	if res.AtomsAligned < 1 {
		return ErrNoCommonAtoms
	}
	if math.IsNaN(res.RMSD) || math.IsInf(res.RMSD, 0) || res.RMSD < 0 {
		return fmt.Errorf("%w: %v", ErrInvalidRMSD, res.RMSD)
	}
	return nil
}
