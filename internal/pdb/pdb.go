// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

// Package pdb reads alpha-carbon coordinates from PDB-format structure
// files.
package pdb

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"
)

// Atom is one Cα position.
type Atom struct {
	Chain   string
	ResSeq  int
	ICode   string
	ResName string
	X, Y, Z float64
}

// Structure holds the Cα atoms of the first model of a file.
type Structure struct {
	Atoms []Atom
}

// ErrNoAtoms is returned when a file holds no Cα records.
var ErrNoAtoms = errors.New("no CA atoms found")

// ReadFile parses the structure at path.
func ReadFile(path string) (*Structure, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	s, err := Read(f)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return s, nil
}

// Read parses ATOM records, keeping Cα atoms of the first model with a
// blank or "A" alternate location.
func Read(r io.Reader) (*Structure, error) {
	var s Structure
	scanner := bufio.NewScanner(r)
	lineNo := 0
	for scanner.Scan() {
		lineNo++
		line := scanner.Text()
		switch {
		case strings.HasPrefix(line, "ENDMDL"):
			if len(s.Atoms) > 0 {
				return &s, nil
			}
			continue
		case !strings.HasPrefix(line, "ATOM  "):
			continue
		}
		if len(line) < 54 {
			return nil, fmt.Errorf("line %d: ATOM record too short", lineNo)
		}
		if strings.TrimSpace(line[12:16]) != "CA" {
			continue
		}
		if alt := line[16]; alt != ' ' && alt != 'A' {
			continue
		}
		atom, err := parseAtom(line)
		if err != nil {
			return nil, fmt.Errorf("line %d: %w", lineNo, err)
		}
		s.Atoms = append(s.Atoms, atom)
	}
	if err := scanner.Err(); err != nil {
		return nil, err
	}
	if len(s.Atoms) == 0 {
		return nil, ErrNoAtoms
	}
	return &s, nil
}

func parseAtom(line string) (Atom, error) {
	resSeq, err := strconv.Atoi(strings.TrimSpace(line[22:26]))
	if err != nil {
		return Atom{}, fmt.Errorf("residue number %q: %w", line[22:26], err)
	}
	var coords [3]float64
	for i, col := range [][2]int{{30, 38}, {38, 46}, {46, 54}} {
		v, err := strconv.ParseFloat(strings.TrimSpace(line[col[0]:col[1]]), 64)
		if err != nil {
			return Atom{}, fmt.Errorf("coordinate %q: %w", line[col[0]:col[1]], err)
		}
		coords[i] = v
	}
	return Atom{
		Chain:   strings.TrimSpace(line[21:22]),
		ResSeq:  resSeq,
		ICode:   strings.TrimSpace(line[26:27]),
		ResName: strings.TrimSpace(line[17:20]),
		X:       coords[0],
		Y:       coords[1],
		Z:       coords[2],
	}, nil
}

// Chain returns the atoms of chain id. An empty id returns the first chain
// in file order.
func (s *Structure) Chain(id string) []Atom {
	if len(s.Atoms) == 0 {
		return nil
	}
	if id == "" {
		id = s.Atoms[0].Chain
	}
	var out []Atom
	for _, a := range s.Atoms {
		if a.Chain == id {
			out = append(out, a)
		}
	}
	return out
}
