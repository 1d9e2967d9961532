package qp

import (
	"context"
	"math"
	"math/rand"
	"testing"

	"github.com/pkg/errors"
	"go.viam.com/test"
	"gonum.org/v1/gonum/mat"
)

var inf = math.Inf(1)

func boxProblem(ub float64) *Problem {
	return &Problem{
		H:  mat.NewDiagDense(2, []float64{2, 4}),
		G:  mat.NewVecDense(2, []float64{-2, -8}),
		A:  mat.NewDense(2, 2, []float64{1, 0, 0, 1}),
		LB: []float64{-inf, -inf},
		UB: []float64{ub, ub},
	}
}

func TestActiveSet(t *testing.T) {
	solver, err := New(ActiveSet, Options{})
	test.That(t, err, test.ShouldBeNil)
	ctx := context.Background()

	t.Run("unconstrained", func(t *testing.T) {
		x, err := solver.Solve(ctx, &Problem{
			H: mat.NewDiagDense(2, []float64{2, 4}),
			G: mat.NewVecDense(2, []float64{-2, -8}),
		}, nil)
		test.That(t, err, test.ShouldBeNil)
		test.That(t, x[0], test.ShouldAlmostEqual, 1, 1e-8)
		test.That(t, x[1], test.ShouldAlmostEqual, 2, 1e-8)
	})

	t.Run("inactive box", func(t *testing.T) {
		x, err := solver.Solve(ctx, boxProblem(10), nil)
		test.That(t, err, test.ShouldBeNil)
		test.That(t, x[0], test.ShouldAlmostEqual, 1, 1e-8)
		test.That(t, x[1], test.ShouldAlmostEqual, 2, 1e-8)
	})

	t.Run("active box", func(t *testing.T) {
		x, err := solver.Solve(ctx, boxProblem(0.5), nil)
		test.That(t, err, test.ShouldBeNil)
		test.That(t, x[0], test.ShouldAlmostEqual, 0.5, 1e-8)
		test.That(t, x[1], test.ShouldAlmostEqual, 0.5, 1e-8)
	})

	t.Run("equality", func(t *testing.T) {
		x, err := solver.Solve(ctx, &Problem{
			H:  mat.NewDiagDense(2, []float64{1, 1}),
			A:  mat.NewDense(1, 2, []float64{1, 1}),
			LB: []float64{1},
			UB: []float64{1},
		}, nil)
		test.That(t, err, test.ShouldBeNil)
		test.That(t, x[0], test.ShouldAlmostEqual, 0.5, 1e-8)
		test.That(t, x[1], test.ShouldAlmostEqual, 0.5, 1e-8)
	})

	t.Run("semidefinite hessian", func(t *testing.T) {
		x, err := solver.Solve(ctx, &Problem{
			H:  mat.NewDiagDense(2, []float64{1, 0}),
			G:  mat.NewVecDense(2, []float64{0, 1}),
			A:  mat.NewDense(1, 2, []float64{0, 1}),
			LB: []float64{-3},
			UB: []float64{inf},
		}, nil)
		test.That(t, err, test.ShouldBeNil)
		test.That(t, x[0], test.ShouldAlmostEqual, 0, 1e-6)
		test.That(t, x[1], test.ShouldAlmostEqual, -3, 1e-6)
	})

	t.Run("duplicate rows", func(t *testing.T) {
		x, err := solver.Solve(ctx, &Problem{
			H:  mat.NewDiagDense(2, []float64{2, 4}),
			G:  mat.NewVecDense(2, []float64{-2, -8}),
			A:  mat.NewDense(3, 2, []float64{1, 0, 1, 0, 2, 0}),
			LB: []float64{-inf, -inf, -inf},
			UB: []float64{0.5, 0.5, 1},
		}, nil)
		test.That(t, err, test.ShouldBeNil)
		test.That(t, x[0], test.ShouldAlmostEqual, 0.5, 1e-8)
		test.That(t, x[1], test.ShouldAlmostEqual, 2, 1e-8)
	})

	t.Run("infeasible", func(t *testing.T) {
		_, err := solver.Solve(ctx, &Problem{
			H:  mat.NewDiagDense(2, []float64{1, 1}),
			A:  mat.NewDense(2, 2, []float64{1, 0, 1, 0}),
			LB: []float64{1, -inf},
			UB: []float64{inf, 0},
		}, nil)
		test.That(t, errors.Is(err, ErrInfeasible), test.ShouldBeTrue)
	})

	t.Run("dependent equalities", func(t *testing.T) {
		_, err := solver.Solve(ctx, &Problem{
			H:  mat.NewDiagDense(2, []float64{1, 1}),
			A:  mat.NewDense(2, 2, []float64{1, 1, 2, 2}),
			LB: []float64{1, 3},
			UB: []float64{1, 3},
		}, nil)
		test.That(t, errors.Is(err, ErrInfeasible), test.ShouldBeTrue)
	})

	t.Run("repeated equalities", func(t *testing.T) {
		for _, tc := range []struct {
			name string
			A    *mat.Dense
			b    []float64
		}{
			{"more rows than variables", mat.NewDense(3, 2, []float64{1, 0, 0, 1, 1, 1}), []float64{1, 1, 2}},
			{"scaled copy", mat.NewDense(2, 2, []float64{1, 1, 2, 2}), []float64{2, 4}},
		} {
			t.Run(tc.name, func(t *testing.T) {
				x, err := solver.Solve(ctx, &Problem{
					H:  mat.NewDiagDense(2, []float64{1, 1}),
					A:  tc.A,
					LB: tc.b,
					UB: tc.b,
				}, nil)
				test.That(t, err, test.ShouldBeNil)
				test.That(t, x[0], test.ShouldAlmostEqual, 1, 1e-8)
				test.That(t, x[1], test.ShouldAlmostEqual, 1, 1e-8)
			})
		}

		_, err := solver.Solve(ctx, &Problem{
			H:  mat.NewDiagDense(2, []float64{1, 1}),
			A:  mat.NewDense(3, 2, []float64{1, 0, 0, 1, 1, 1}),
			LB: []float64{1, 1, 3},
			UB: []float64{1, 1, 3},
		}, nil)
		test.That(t, errors.Is(err, ErrInfeasible), test.ShouldBeTrue)
	})

	t.Run("invalid", func(t *testing.T) {
		_, err := solver.Solve(ctx, &Problem{H: mat.NewDense(2, 3, nil)}, nil)
		test.That(t, err, test.ShouldNotBeNil)
		p := boxProblem(1)
		p.LB[0] = 2
		_, err = solver.Solve(ctx, p, nil)
		test.That(t, err, test.ShouldNotBeNil)
		p = boxProblem(1)
		p.UB = p.UB[:1]
		_, err = solver.Solve(ctx, p, nil)
		test.That(t, err, test.ShouldNotBeNil)
	})
}

func TestActiveSetLimits(t *testing.T) {
	solver, err := New(ActiveSet, Options{MaxIter: 1})
	test.That(t, err, test.ShouldBeNil)
	_, err = solver.Solve(context.Background(), boxProblem(0.5), nil)
	test.That(t, err, test.ShouldEqual, ErrMaxIter)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	solver, err = New(ActiveSet, Options{})
	test.That(t, err, test.ShouldBeNil)
	_, err = solver.Solve(ctx, boxProblem(0.5), nil)
	test.That(t, err, test.ShouldEqual, context.Canceled)

	_, err = New(Kind("interior_point"), Options{})
	test.That(t, err, test.ShouldNotBeNil)
}

// randomProblem builds a strictly convex problem whose feasible set contains the origin.
func randomProblem(r *rand.Rand, n, m int) *Problem {
	mm := mat.NewDense(n, n, nil)
	for i := 0; i < n; i++ {
		for j := 0; j < n; j++ {
			mm.Set(i, j, r.NormFloat64())
		}
	}
	h := mat.NewSymDense(n, nil)
	h.SymOuterK(1, mm)
	for i := 0; i < n; i++ {
		h.SetSym(i, i, h.At(i, i)+0.1)
	}
	g := mat.NewVecDense(n, nil)
	for i := 0; i < n; i++ {
		g.SetVec(i, 5*r.NormFloat64())
	}
	a := mat.NewDense(m, n, nil)
	lb := make([]float64, m)
	ub := make([]float64, m)
	for i := 0; i < m; i++ {
		for j := 0; j < n; j++ {
			a.Set(i, j, r.NormFloat64())
		}
		lb[i], ub[i] = -inf, 0.1+r.Float64()
		if i%3 == 0 {
			lb[i] = -0.1 - r.Float64()
		}
	}
	return &Problem{H: h, G: g, A: a, LB: lb, UB: ub}
}

func TestActiveSetOptimality(t *testing.T) {
	r := rand.New(rand.NewSource(7))
	solver, err := New(ActiveSet, Options{})
	test.That(t, err, test.ShouldBeNil)
	for trial := 0; trial < 20; trial++ {
		p := randomProblem(r, 6, 12)
		x, err := solver.Solve(context.Background(), p, nil)
		test.That(t, err, test.ShouldBeNil)
		test.That(t, p.Violation(x), test.ShouldBeLessThan, 1e-8)

		// a convex problem has no feasible descent direction at its minimum
		best := p.Objective(x)
		for k := 0; k < 200; k++ {
			y := make([]float64, len(x))
			for i := range y {
				y[i] = x[i] + 1e-3*r.NormFloat64()
			}
			if p.Violation(y) > 0 {
				continue
			}
			test.That(t, p.Objective(y), test.ShouldBeGreaterThanOrEqualTo, best-1e-9)
		}
	}
}

type countingSolver struct {
	starts [][]float64
}

func (c *countingSolver) Solve(_ context.Context, p *Problem, x0 []float64) ([]float64, error) {
	c.starts = append(c.starts, x0)
	n, _ := p.Dims()
	return make([]float64, n), nil
}

func TestInstance(t *testing.T) {
	backend := &countingSolver{}
	in := NewInstance(backend)
	ctx := context.Background()

	_, err := in.Solve(ctx, boxProblem(1))
	test.That(t, err, test.ShouldBeNil)
	test.That(t, in.Solved(), test.ShouldBeTrue)
	_, err = in.Solve(ctx, boxProblem(1))
	test.That(t, err, test.ShouldBeNil)
	_, err = in.Solve(ctx, &Problem{H: mat.NewDiagDense(3, []float64{1, 1, 1})})
	test.That(t, err, test.ShouldBeNil)

	test.That(t, backend.starts[0], test.ShouldBeNil)
	test.That(t, backend.starts[1], test.ShouldResemble, []float64{0, 0})
	test.That(t, backend.starts[2], test.ShouldBeNil)

	clone := in.Clone()
	clone.last[0] = 9
	test.That(t, in.last[0], test.ShouldEqual, 0.0)
	in.Reset()
	test.That(t, in.Solved(), test.ShouldBeFalse)

	fresh := NewInstance(&activeSetSolver{maxIter: DefaultMaxIter})
	_, err = fresh.Solve(ctx, &Problem{
		H:  mat.NewDiagDense(1, []float64{1}),
		A:  mat.NewDense(2, 1, []float64{1, 1}),
		LB: []float64{1, -inf},
		UB: []float64{inf, 0},
	})
	test.That(t, err, test.ShouldNotBeNil)
	test.That(t, fresh.Solved(), test.ShouldBeFalse)
}
