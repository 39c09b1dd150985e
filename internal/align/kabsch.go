// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

package align

import (
	"context"
	"errors"
	"fmt"
	"math"

	"gonum.org/v1/gonum/mat"

	"github.com/pdiddy/foldeval/internal/pdb"
)

// minPairs is the smallest number of atom pairs that defines a rotation.
const minPairs = 3

// ErrTooFewPairs is returned when the sequence alignment pairs fewer than
// three residues.
var ErrTooFewPairs = errors.New("fewer than 3 residues aligned")

// KabschEngine superimposes Cα atoms paired by aligning the two residue
// sequences, using the Kabsch algorithm, then repeatedly drops pairs deviating by more than
// Cutoff times the current RMSD and refits.
type KabschEngine struct {
	Cycles int
	Cutoff float64
}

func (KabschEngine) Name() string { return "kabsch" }

func (KabschEngine) Check(context.Context) error { return nil }

func (e KabschEngine) Align(ctx context.Context, req Request) (Result, error) {
	pred, err := pdb.ReadFile(req.Predicted)
	if err != nil {
		return Result{}, fmt.Errorf("reading predicted structure: %w", err)
	}
	ref, err := pdb.ReadFile(req.Reference)
	if err != nil {
		return Result{}, fmt.Errorf("reading reference structure: %w", err)
	}
	if err := ctx.Err(); err != nil {
		return Result{}, err
	}

	p, q := pairAtoms(pred.Chain(""), ref.Chain(req.ReferenceChain))
	if len(p) < minPairs {
		return Result{}, fmt.Errorf("%w (got %d)", ErrTooFewPairs, len(p))
	}

	rmsd, dev, err := superpose(p, q)
	if err != nil {
		return Result{}, err
	}
	res := Result{RMSD: rmsd, AtomsAligned: len(p), RMSDBefore: rmsd, AtomsBefore: len(p)}

	for cycle := 0; cycle < e.Cycles; cycle++ {
		if res.RMSD < 1e-6 {
			break
		}
		limit := e.Cutoff * res.RMSD
		var keptP, keptQ [][3]float64
		for i, d := range dev {
			if d <= limit {
				keptP = append(keptP, p[i])
				keptQ = append(keptQ, q[i])
			}
		}
		if len(keptP) == len(p) || len(keptP) < minPairs {
			break
		}
		rmsd, newDev, err := superpose(keptP, keptQ)
		if err != nil {
			return Result{}, err
		}
		p, q, dev = keptP, keptQ, newDev
		res.RMSD = rmsd
		res.AtomsAligned = len(p)
		res.Cycles = cycle + 1
	}
	return res, nil
}

// pairAtoms returns coordinates of the residues paired by sequence
// alignment, in the predicted chain's order.
func pairAtoms(pred, ref []pdb.Atom) (p, q [][3]float64) {
	for _, ij := range alignResidues(pred, ref) {
		a, b := pred[ij[0]], ref[ij[1]]
		p = append(p, [3]float64{a.X, a.Y, a.Z})
		q = append(q, [3]float64{b.X, b.Y, b.Z})
	}
	return p, q
}

// superpose finds the rotation minimising the RMSD between p and q after
// centring both, and returns the RMSD and the per-pair deviations.
func superpose(p, q [][3]float64) (float64, []float64, error) {
	n := len(p)
	pc, qc := centroid(p), centroid(q)

	h := mat.NewDense(3, 3, nil)
	for i := 0; i < n; i++ {
		for j := 0; j < 3; j++ {
			for k := 0; k < 3; k++ {
				h.Set(j, k, h.At(j, k)+(p[i][j]-pc[j])*(q[i][k]-qc[k]))
			}
		}
	}

	var svd mat.SVD
	if !svd.Factorize(h, mat.SVDFull) {
		return 0, nil, errors.New("SVD of covariance matrix failed")
	}
	var u, v mat.Dense
	svd.UTo(&u)
	svd.VTo(&v)

	var vut mat.Dense
	vut.Mul(&v, u.T())
	d := 1.0
	if mat.Det(&vut) < 0 {
		d = -1
	}
	var vd, r mat.Dense
	vd.Mul(&v, mat.NewDiagDense(3, []float64{1, 1, d}))
	r.Mul(&vd, u.T())

	dev := make([]float64, n)
	var sum float64
	for i := 0; i < n; i++ {
		var sq float64
		for j := 0; j < 3; j++ {
			var rot float64
			for k := 0; k < 3; k++ {
				rot += r.At(j, k) * (p[i][k] - pc[k])
			}
			diff := rot - (q[i][j] - qc[j])
			sq += diff * diff
		}
		dev[i] = math.Sqrt(sq)
		sum += sq
	}
	return math.Sqrt(sum / float64(n)), dev, nil
}

func centroid(pts [][3]float64) [3]float64 {
	var c [3]float64
	for _, pt := range pts {
		for j := range c {
			c[j] += pt[j]
		}
	}
	for j := range c {
		c[j] /= float64(len(pts))
	}
	return c
}
