// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

package align

import (
	"math"

	"github.com/pdiddy/foldeval/internal/pdb"
)

// Residue alignment scores with affine gaps. Terminal gaps cost nothing,
// so a reference covering part of the prediction aligns without penalty.
const (
	matchScore    = 2
	mismatchScore = -1
	gapOpen       = -4
	gapExtend     = -1
)

// Alignment states: a residue pair, a gap in the reference, or a gap in
// the prediction.
const (
	statePair byte = iota
	stateRefGap
	statePredGap
)

const negInf = math.MinInt32

// alignResidues aligns the residue-name sequences of pred and ref
// (Needleman-Wunsch with Gotoh affine gaps) and returns the aligned index
// pairs in chain order. Residue numbering plays no part.
func alignResidues(pred, ref []pdb.Atom) [][2]int {
	n, m := len(pred), len(ref)
	if n == 0 || m == 0 {
		return nil
	}

	var score [3][][]int
	var from [3][][]byte
	for s := range score {
		score[s] = make([][]int, n+1)
		from[s] = make([][]byte, n+1)
		for i := range score[s] {
			score[s][i] = make([]int, m+1)
			from[s][i] = make([]byte, m+1)
			for j := range score[s][i] {
				score[s][i][j] = negInf
			}
		}
	}
	score[statePair][0][0] = 0
	for i := 1; i <= n; i++ {
		score[stateRefGap][i][0] = 0
		from[stateRefGap][i][0] = stateRefGap
	}
	for j := 1; j <= m; j++ {
		score[statePredGap][0][j] = 0
		from[statePredGap][0][j] = statePredGap
	}

	for i := 1; i <= n; i++ {
		for j := 1; j <= m; j++ {
			s := mismatchScore
			if pred[i-1].ResName == ref[j-1].ResName {
				s = matchScore
			}
			best, st := bestFrom(score, i-1, j-1, [3]int{})
			score[statePair][i][j], from[statePair][i][j] = add(best, s), st

			open, extend := gapOpen, gapExtend
			if j == m {
				open, extend = 0, 0
			}
			score[stateRefGap][i][j], from[stateRefGap][i][j] = bestFrom(score, i-1, j, [3]int{open, extend, open})

			open, extend = gapOpen, gapExtend
			if i == n {
				open, extend = 0, 0
			}
			score[statePredGap][i][j], from[statePredGap][i][j] = bestFrom(score, i, j-1, [3]int{open, open, extend})
		}
	}

	st := statePair
	for _, s := range []byte{stateRefGap, statePredGap} {
		if score[s][n][m] > score[st][n][m] {
			st = s
		}
	}

	var pairs [][2]int
	for i, j := n, m; i > 0 && j > 0; {
		prev := from[st][i][j]
		switch st {
		case statePair:
			i--
			j--
			pairs = append(pairs, [2]int{i, j})
		case stateRefGap:
			i--
		default:
			j--
		}
		st = prev
	}
	for l, r := 0, len(pairs)-1; l < r; l, r = l+1, r-1 {
		pairs[l], pairs[r] = pairs[r], pairs[l]
	}
	return pairs
}

// bestFrom returns the best score reachable from cell (i, j), with cost
// indexed by the predecessor state. Ties prefer the pair state.
func bestFrom(score [3][][]int, i, j int, cost [3]int) (int, byte) {
	best, st := add(score[statePair][i][j], cost[statePair]), statePair
	for _, s := range []byte{stateRefGap, statePredGap} {
		if v := add(score[s][i][j], cost[s]); v > best {
			best, st = v, s
		}
	}
	return best, st
}

// add keeps unreachable cells unreachable.
func add(v, d int) int {
	if v == negInf {
		return negInf
	}
	return v + d
}
