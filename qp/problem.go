// Package qp solves dense convex quadratic programs of the form
//
//	minimize    ½xᵀHx + gᵀx
//	subject to  lb ≤ Ax ≤ ub
//
// Backends implement Solver and are chosen at configuration time.
package qp

import (
	"context"
	"math"

	"github.com/pkg/errors"
	"gonum.org/v1/gonum/mat"
)

var (
	// ErrInfeasible is returned when the constraints admit no solution.
	ErrInfeasible = errors.New("quadratic program is infeasible")
	// ErrMaxIter is returned when a backend runs out of iterations before converging.
	ErrMaxIter = errors.New("quadratic program reached its iteration limit")
)

// Problem is one dense quadratic program. G and A may be nil. LB and UB hold one entry per row of A;
// an infinite bound drops that side of the row and lb == ub makes it an equality.
type Problem struct {
	H  mat.Matrix
	G  mat.Vector
	A  mat.Matrix
	LB []float64
	UB []float64
}

// Dims returns the number of variables and constraint rows.
func (p *Problem) Dims() (n, m int) {
	if p.H != nil {
		n, _ = p.H.Dims()
	}
	if p.A != nil {
		m, _ = p.A.Dims()
	}
	return n, m
}

// Validate checks that the problem data is consistently sized.
func (p *Problem) Validate() error {
	if p.H == nil {
		return errors.New("quadratic program has no hessian")
	}
	r, c := p.H.Dims()
	if r != c {
		return errors.Errorf("hessian must be square, got %dx%d", r, c)
	}
	if p.G != nil && p.G.Len() != r {
		return errors.Errorf("gradient has %d entries for %d variables", p.G.Len(), r)
	}
	if p.A == nil {
		if len(p.LB) != 0 || len(p.UB) != 0 {
			return errors.New("bounds given without a constraint matrix")
		}
		return nil
	}
	m, ac := p.A.Dims()
	if ac != r {
		return errors.Errorf("constraint matrix has %d columns for %d variables", ac, r)
	}
	if len(p.LB) != m || len(p.UB) != m {
		return errors.Errorf("constraint matrix has %d rows but bounds have %d and %d", m, len(p.LB), len(p.UB))
	}
	for i := 0; i < m; i++ {
		if p.LB[i] > p.UB[i] || math.IsNaN(p.LB[i]) || math.IsNaN(p.UB[i]) {
			return errors.Errorf("row %d has invalid bounds [%v, %v]", i, p.LB[i], p.UB[i])
		}
	}
	return nil
}

// Violation returns the largest amount by which x violates the constraints.
func (p *Problem) Violation(x []float64) float64 {
	if p.A == nil {
		return 0
	}
	m, n := p.A.Dims()
	var ax mat.VecDense
	ax.MulVec(p.A, mat.NewVecDense(n, x))
	worst := 0.0
	for i := 0; i < m; i++ {
		worst = math.Max(worst, math.Max(p.LB[i]-ax.AtVec(i), ax.AtVec(i)-p.UB[i]))
	}
	return worst
}

// Objective evaluates ½xᵀHx + gᵀx.
func (p *Problem) Objective(x []float64) float64 {
	n, _ := p.Dims()
	xv := mat.NewVecDense(n, x)
	f := 0.5 * mat.Inner(xv, p.H, xv)
	if p.G != nil {
		f += mat.Dot(xv, p.G)
	}
	return f
}

// Solver is a dense QP backend. x0 is an optional starting point that backends may use to warm
// start.
type Solver interface {
	Solve(ctx context.Context, p *Problem, x0 []float64) ([]float64, error)
}

// Kind names a backend.
type Kind string

// Available backends.
const (
	ActiveSet Kind = "active_set"
	SLSQP     Kind = "slsqp"
)

// DefaultMaxIter is used when Options.MaxIter is not set.
const DefaultMaxIter = 300

// Options configures a backend.
type Options struct {
	MaxIter int
}

// New returns the backend of the given kind. An empty kind selects the active set method.
func New(kind Kind, opts Options) (Solver, error) {
	if opts.MaxIter <= 0 {
		opts.MaxIter = DefaultMaxIter
	}
	switch kind {
	case ActiveSet, "":
		return &activeSetSolver{maxIter: opts.MaxIter}, nil
	case SLSQP:
		return newSLSQPSolver(opts)
	default:
		return nil, errors.Errorf("unknown qp solver %q", kind)
	}
}
