// Package utils contains dense linear algebra helpers and bounded fan-out used by the controller.
package utils

import (
	"github.com/pkg/errors"
	"gonum.org/v1/gonum/mat"
)

// DefaultRankTolerance is the singular value cutoff, relative to the largest singular value, below
// which a direction is treated as numerically null.
const DefaultRankTolerance = 1e-6

// PseudoInverse is a rank revealing factorization of a matrix. Inverse is the Moore-Penrose
// pseudo-inverse and Null holds an orthonormal basis of the right null space as rows, or is nil when
// the matrix has full column rank.
type PseudoInverse struct {
	Inverse *mat.Dense
	Null    *mat.Dense
	Rank    int
}

// Pinv returns the pseudo-inverse of a using DefaultRankTolerance.
func Pinv(a mat.Matrix) (*mat.Dense, error) {
	p, err := NewPseudoInverse(a, DefaultRankTolerance, false)
	if err != nil {
		return nil, err
	}
	return p.Inverse, nil
}

// NewPseudoInverse factorizes a with an SVD. When withNull is set the full right singular basis is
// computed so the null space basis is available.
func NewPseudoInverse(a mat.Matrix, tol float64, withNull bool) (*PseudoInverse, error) {
	r, c := a.Dims()
	if r == 0 || c == 0 {
		return nil, errors.Errorf("cannot factorize a %dx%d matrix", r, c)
	}
	kind := mat.SVDThin
	if withNull {
		kind = mat.SVDFullV | mat.SVDThinU
	}
	var svd mat.SVD
	if ok := svd.Factorize(a, kind); !ok {
		return nil, errors.New("singular value decomposition failed to converge")
	}
	values := svd.Values(nil)
	rank := 0
	if len(values) > 0 && values[0] > 0 {
		cut := tol * values[0]
		for _, s := range values {
			if s > cut {
				rank++
			}
		}
	}

	var u, v mat.Dense
	svd.UTo(&u)
	svd.VTo(&v)
	out := &PseudoInverse{Inverse: mat.NewDense(c, r, nil), Rank: rank}
	if rank > 0 {
		// pinv = V_r·Σ_r⁻¹·U_rᵀ
		scaled := mat.DenseCopyOf(v.Slice(0, c, 0, rank))
		for k := 0; k < rank; k++ {
			col := scaled.ColView(k).(*mat.VecDense)
			col.ScaleVec(1/values[k], col)
		}
		out.Inverse.Mul(scaled, u.Slice(0, r, 0, rank).T())
	}
	if withNull && rank < c {
		out.Null = mat.DenseCopyOf(v.Slice(0, c, rank, c).T())
	}
	return out, nil
}

// InverseSPD inverts a symmetric positive definite matrix through its Cholesky factorization.
func InverseSPD(a mat.Symmetric) (*mat.SymDense, error) {
	var chol mat.Cholesky
	if ok := chol.Factorize(a); !ok {
		return nil, errors.New("matrix is not positive definite")
	}
	var inv mat.SymDense
	if err := chol.InverseTo(&inv); err != nil {
		return nil, err
	}
	return &inv, nil
}

// Symmetrize returns (a + aᵀ)/2.
func Symmetrize(a mat.Matrix) *mat.SymDense {
	n, _ := a.Dims()
	out := mat.NewSymDense(n, nil)
	for i := 0; i < n; i++ {
		for j := i; j < n; j++ {
			out.SetSym(i, j, 0.5*(a.At(i, j)+a.At(j, i)))
		}
	}
	return out
}

// SelectColumns returns the columns of a listed in cols, in order.
func SelectColumns(a mat.Matrix, cols []int) *mat.Dense {
	r, _ := a.Dims()
	if len(cols) == 0 {
		return nil
	}
	out := mat.NewDense(r, len(cols), nil)
	for j, c := range cols {
		for i := 0; i < r; i++ {
			out.Set(i, j, a.At(i, c))
		}
	}
	return out
}

// SelectBlock returns the submatrix of a with the given rows and columns.
func SelectBlock(a mat.Matrix, rows, cols []int) *mat.Dense {
	if len(rows) == 0 || len(cols) == 0 {
		return nil
	}
	out := mat.NewDense(len(rows), len(cols), nil)
	for i, r := range rows {
		for j, c := range cols {
			out.Set(i, j, a.At(r, c))
		}
	}
	return out
}

// Identity returns an n×n identity matrix.
func Identity(n int) *mat.Dense {
	out := mat.NewDense(n, n, nil)
	for i := 0; i < n; i++ {
		out.Set(i, i, 1)
	}
	return out
}

// MaxAbs returns the largest absolute entry of a.
func MaxAbs(a mat.Matrix) float64 {
	r, c := a.Dims()
	best := 0.0
	for i := 0; i < r; i++ {
		for j := 0; j < c; j++ {
			if v := a.At(i, j); v > best {
				best = v
			} else if -v > best {
				best = -v
			}
		}
	}
	return best
}
