// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

package align

import (
	"bufio"
	"bytes"
	"context"
	"errors"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/pdiddy/foldeval/internal/toolexec"
)

// resultTag prefixes the line the generated script prints.
const resultTag = "FOLDEVAL_ALIGN"

// alignFields is the length of the tuple cmd.align returns:
// (rmsd, atoms, cycles, rmsd_pre, atoms_pre, score, residues).
const alignFields = 7

// ErrMalformedOutput marks engine output that does not match the
// expected schema.
var ErrMalformedOutput = errors.New("malformed alignment output")

// PymolEngine runs PyMOL headless on a generated script. Each call loads
// both structures into a fresh process, so no session state is shared
// between comparisons.
type PymolEngine struct {
	Tool    toolexec.Tool
	WorkDir string
	Cycles  int
	Cutoff  float64
}

func (e *PymolEngine) Name() string { return "pymol" }

func (e *PymolEngine) Check(ctx context.Context) error {
	if err := e.Tool.Check(ctx); err != nil {
		return fmt.Errorf("alignment engine unavailable: %w", err)
	}
	return nil
}

func (e *PymolEngine) Align(ctx context.Context, req Request) (Result, error) {
	for _, p := range []string{req.Predicted, req.Reference} {
		if _, err := os.Stat(p); err != nil {
			return Result{}, err
		}
	}

	script, err := os.CreateTemp(e.WorkDir, ".align-*.py")
	if err != nil {
		return Result{}, fmt.Errorf("creating script: %w", err)
	}
	defer os.Remove(script.Name())

	body, err := e.script(req)
	if err != nil {
		script.Close()
		return Result{}, err
	}
	_, werr := script.WriteString(body)
	if err := errors.Join(werr, script.Close()); err != nil {
		return Result{}, fmt.Errorf("writing script: %w", err)
	}

	var stdout bytes.Buffer
	if err := e.Tool.Run(ctx, e.WorkDir, []string{"-cq", script.Name()}, &stdout); err != nil {
		return Result{}, err
	}
	return ParseAlignOutput(stdout.Bytes())
}

func (e *PymolEngine) script(req Request) (string, error) {
	pred, err := filepath.Abs(req.Predicted)
	if err != nil {
		return "", err
	}
	ref, err := filepath.Abs(req.Reference)
	if err != nil {
		return "", err
	}
	target := "reference"
	if req.ReferenceChain != "" {
		target = fmt.Sprintf("reference and chain %s", req.ReferenceChain)
	}
	var b strings.Builder
	b.WriteString("from pymol import cmd\n")
	fmt.Fprintf(&b, "cmd.load(%q, \"predicted\")\n", pred)
	fmt.Fprintf(&b, "cmd.load(%q, \"reference\")\n", ref)
	fmt.Fprintf(&b, "print(%q, tuple(cmd.align(\"predicted\", %q, cycles=%d, cutoff=%s)))\n",
		resultTag, target, e.Cycles, strconv.FormatFloat(e.Cutoff, 'f', -1, 64))
	return b.String(), nil
}

// ParseAlignOutput finds the tagged result line in engine output and
// parses its tuple.
func ParseAlignOutput(out []byte) (Result, error) {
	scanner := bufio.NewScanner(bytes.NewReader(out))
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if rest, ok := strings.CutPrefix(line, resultTag); ok {
			return ParseAlignTuple(rest)
		}
	}
	return Result{}, fmt.Errorf("%w: no %s line", ErrMalformedOutput, resultTag)
}

// ParseAlignTuple parses "(rmsd, atoms, cycles, rmsd_pre, atoms_pre,
// score, residues)". Counts must be whole numbers and RMSD values finite.
func ParseAlignTuple(s string) (Result, error) {
	s = strings.TrimSpace(s)
	if !strings.HasPrefix(s, "(") || !strings.HasSuffix(s, ")") {
		return Result{}, fmt.Errorf("%w: %q is not a tuple", ErrMalformedOutput, s)
	}
	fields := strings.Split(s[1:len(s)-1], ",")
	if len(fields) != alignFields {
		return Result{}, fmt.Errorf("%w: want %d fields, got %d", ErrMalformedOutput, alignFields, len(fields))
	}
	vals := make([]float64, alignFields)
	for i, f := range fields {
		v, err := strconv.ParseFloat(strings.TrimSpace(f), 64)
		if err != nil {
			return Result{}, fmt.Errorf("%w: field %d %q", ErrMalformedOutput, i, strings.TrimSpace(f))
		}
		vals[i] = v
	}
	for _, i := range []int{1, 2, 4} {
		if vals[i] < 0 || vals[i] != math.Trunc(vals[i]) {
			return Result{}, fmt.Errorf("%w: field %d must be a count, got %v", ErrMalformedOutput, i, vals[i])
		}
	}
	res := Result{
		RMSD:         vals[0],
		AtomsAligned: int(vals[1]),
		Cycles:       int(vals[2]),
		RMSDBefore:   vals[3],
		AtomsBefore:  int(vals[4]),
	}
	if err := Validate(res); err != nil {
		return Result{}, err
	}
	return res, nil
}
