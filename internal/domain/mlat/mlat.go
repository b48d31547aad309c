// Package mlat estimates a 3D position from anchors with measured distances.
package mlat

import (
	"errors"
	"fmt"
	"math"

	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/mat"
	"gonum.org/v1/gonum/spatial/r3"
)

// Solver tuning.
const (
	// rankTol is the singular value cutoff relative to the largest one.
	rankTol       = 1e-9
	maxIterations = 10
	convergeTol   = 1e-9
)

// Errors returned by Solve. Both specific errors wrap ErrUnsolvable.
var (
	ErrUnsolvable      = errors.New("unsolvable geometry")
	ErrUnderdetermined = fmt.Errorf("%w: need at least 3 measurements", ErrUnsolvable)
	ErrDegenerate      = fmt.Errorf("%w: anchors are collinear or coincident", ErrUnsolvable)
)

// Measurement is the distance from an unknown point to a known anchor.
type Measurement struct {
	ID       string
	Anchor   r3.Vec
	Distance float64
}

// Solve returns the point whose distances to the anchors best match the
// measurements.
//
// The sphere equations are linearised against the first anchor and solved in
// the least squares sense through an SVD. With anchors spanning 3D the result
// is refined with Gauss-Newton on the unlinearised residuals. With coplanar
// anchors the height above the plane comes from the first sphere and the
// candidate on the +y side of the plane is returned.
func Solve(ms []Measurement) (r3.Vec, error) {
	if len(ms) < 3 {
		return r3.Vec{}, ErrUnderdetermined
	}
	for _, m := range ms {
		if math.IsNaN(m.Distance) || math.IsInf(m.Distance, 0) || m.Distance < 0 {
			return r3.Vec{}, fmt.Errorf("%w: bad distance %v for %q", ErrUnsolvable, m.Distance, m.ID)
		}
	}

	p0, d0 := ms[0].Anchor, ms[0].Distance
	rows := len(ms) - 1
	a := mat.NewDense(rows, 3, nil)
	b := make([]float64, rows)
	for i, m := range ms[1:] {
		q := r3.Sub(m.Anchor, p0)
		a.SetRow(i, []float64{q.X, q.Y, q.Z})
		b[i] = (r3.Dot(q, q) + d0*d0 - m.Distance*m.Distance) / 2
	}

	var svd mat.SVD
	if !svd.Factorize(a, mat.SVDFull) {
		return r3.Vec{}, ErrDegenerate
	}
	values := svd.Values(nil)
	var u, v mat.Dense
	svd.UTo(&u)
	svd.VTo(&v)

	rank := 0
	for _, s := range values {
		if s > rankTol*values[0] {
			rank++
		}
	}

	// minimum norm least squares solution of a*y = b
	var y r3.Vec
	for i := 0; i < rank; i++ {
		c := floats.Dot(mat.Col(nil, i, &u), b) / values[i]
		y = r3.Add(y, r3.Scale(c, column(&v, i)))
	}

	switch rank {
	case 3:
		return refine(ms, r3.Add(p0, y)), nil
	case 2:
		n := column(&v, 2)
		if n.Y < 0 {
			n = r3.Scale(-1, n)
		}
		h := 0.0
		if h2 := d0*d0 - r3.Dot(y, y); h2 > 0 {
			h = math.Sqrt(h2)
		}
		return r3.Add(p0, r3.Add(y, r3.Scale(h, n))), nil
	default:
		return r3.Vec{}, ErrDegenerate
	}
}

func column(m *mat.Dense, j int) r3.Vec {
	c := mat.Col(nil, j, m)
	return r3.Vec{X: c[0], Y: c[1], Z: c[2]}
}

// refine runs Gauss-Newton from x and returns the lowest cost point seen.
func refine(ms []Measurement, x r3.Vec) r3.Vec {
	best, bestCost := x, cost(ms, x)

	j := mat.NewDense(len(ms), 3, nil)
	r := mat.NewVecDense(len(ms), nil)
	var qr mat.QR
	var delta mat.VecDense
	for it := 0; it < maxIterations; it++ {
		for i, m := range ms {
			diff := r3.Sub(x, m.Anchor)
			n := r3.Norm(diff)
			if n < convergeTol {
				return best
			}
			j.SetRow(i, []float64{diff.X / n, diff.Y / n, diff.Z / n})
			r.SetVec(i, m.Distance-n)
		}
		qr.Factorize(j)
		if err := qr.SolveVecTo(&delta, false, r); err != nil {
			return best
		}
		step := r3.Vec{X: delta.AtVec(0), Y: delta.AtVec(1), Z: delta.AtVec(2)}
		x = r3.Add(x, step)
		if c := cost(ms, x); c < bestCost {
			best, bestCost = x, c
		}
		if r3.Norm(step) < convergeTol {
			break
		}
	}
	return best
}

func cost(ms []Measurement, x r3.Vec) float64 {
	var sum float64
	for _, m := range ms {
		e := r3.Norm(r3.Sub(x, m.Anchor)) - m.Distance
		sum += e * e
	}
	return sum
}
