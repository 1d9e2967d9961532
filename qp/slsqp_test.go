//go:build !windows && !no_cgo

package qp

import (
	"context"
	"math/rand"
	"testing"

	"go.viam.com/test"
	"gonum.org/v1/gonum/mat"
)

func TestSLSQPMatchesActiveSet(t *testing.T) {
	slsqp, err := New(SLSQP, Options{})
	test.That(t, err, test.ShouldBeNil)
	activeSet, err := New(ActiveSet, Options{})
	test.That(t, err, test.ShouldBeNil)
	ctx := context.Background()

	x, err := slsqp.Solve(ctx, boxProblem(0.5), nil)
	test.That(t, err, test.ShouldBeNil)
	test.That(t, x[0], test.ShouldAlmostEqual, 0.5, 1e-5)
	test.That(t, x[1], test.ShouldAlmostEqual, 0.5, 1e-5)

	x, err = slsqp.Solve(ctx, &Problem{
		H:  mat.NewDiagDense(2, []float64{1, 1}),
		A:  mat.NewDense(1, 2, []float64{1, 1}),
		LB: []float64{1},
		UB: []float64{1},
	}, []float64{3, -1})
	test.That(t, err, test.ShouldBeNil)
	test.That(t, x[0], test.ShouldAlmostEqual, 0.5, 1e-5)

	r := rand.New(rand.NewSource(3))
	for trial := 0; trial < 5; trial++ {
		p := randomProblem(r, 5, 8)
		want, err := activeSet.Solve(ctx, p, nil)
		test.That(t, err, test.ShouldBeNil)
		got, err := slsqp.Solve(ctx, p, make([]float64, 5))
		test.That(t, err, test.ShouldBeNil)
		test.That(t, p.Objective(got), test.ShouldAlmostEqual, p.Objective(want), 1e-4)
	}

	_, err = slsqp.Solve(ctx, boxProblem(0.5), []float64{1})
	test.That(t, err, test.ShouldNotBeNil)
}
