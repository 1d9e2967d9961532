//go:build !windows && !no_cgo

package qp

import (
	"context"
	"math"

	"github.com/go-nlopt/nlopt"
	"github.com/pkg/errors"
	"go.uber.org/multierr"
	"go.viam.com/utils"
	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/mat"
)

const slsqpTol = 1e-10

// slsqpSolver hands the problem to nlopt's sequential least squares method. Unlike the active set
// method it starts from x0, so successive solves of similar problems converge quickly.
type slsqpSolver struct {
	maxIter int
}

func newSLSQPSolver(opts Options) (Solver, error) {
	return &slsqpSolver{maxIter: opts.MaxIter}, nil
}

type optimizeReturn struct {
	x   []float64
	err error
}

func (s *slsqpSolver) Solve(ctx context.Context, p *Problem, x0 []float64) ([]float64, error) {
	if err := p.Validate(); err != nil {
		return nil, err
	}
	n, _ := p.Dims()
	if n == 0 {
		return []float64{}, nil
	}
	if x0 != nil && len(x0) != n {
		return nil, errors.Errorf("starting point has %d entries for %d variables", len(x0), n)
	}
	form := newGoldfarbIdnani(p)

	opt, err := nlopt.NewNLopt(nlopt.LD_SLSQP, uint(n))
	if err != nil {
		return nil, errors.Wrap(err, "nlopt creation error")
	}
	defer opt.Destroy()

	hx := make([]float64, n)
	objective := func(x, gradient []float64) float64 {
		xv := mat.NewVecDense(n, hx)
		xv.MulVec(form.hess, mat.NewVecDense(n, x))
		if len(gradient) > 0 {
			floats.AddTo(gradient, hx, form.g0)
		}
		return 0.5*floats.Dot(x, hx) + floats.Dot(form.g0, x)
	}
	err = multierr.Combine(
		opt.SetMinObjective(objective),
		opt.SetMaxEval(s.maxIter),
		opt.SetFtolRel(slsqpTol),
		opt.SetXtolRel(slsqpTol),
	)
	if len(form.ci) > 0 {
		// nlopt wants fc(x) ≤ 0
		err = multierr.Combine(err, opt.AddInequalityMConstraint(rowsFunc(form.ci, form.ci0, -1), tolerances(len(form.ci))))
	}
	if len(form.ce) > 0 {
		err = multierr.Combine(err, opt.AddEqualityMConstraint(rowsFunc(form.ce, form.ce0, 1), tolerances(len(form.ce))))
	}
	if err != nil {
		return nil, err
	}

	start := make([]float64, n)
	copy(start, x0)
	solveChan := make(chan *optimizeReturn, 1)
	utils.PanicCapturingGo(func() {
		x, _, err := opt.Optimize(start)
		solveChan <- &optimizeReturn{x: x, err: err}
	})
	var res *optimizeReturn
	select {
	case <-ctx.Done():
		err = opt.ForceStop()
		<-solveChan
		return nil, multierr.Combine(err, ctx.Err())
	case res = <-solveChan:
	}
	if opt.LastStatus() == "MAXEVAL_REACHED" {
		return nil, ErrMaxIter
	}
	if res.err != nil {
		return nil, errors.Wrap(ErrInfeasible, res.err.Error())
	}
	if v := p.Violation(res.x); v > math.Sqrt(slsqpTol)*boundScale(p) {
		return nil, errors.Wrapf(ErrInfeasible, "solution violates constraints by %g", v)
	}
	return res.x, nil
}

// rowsFunc evaluates sign·(Ax + b) with its row-major Jacobian.
func rowsFunc(a [][]float64, b []float64, sign float64) nlopt.Mfunc {
	return func(result, x, gradient []float64) {
		n := len(x)
		for i, row := range a {
			result[i] = sign * (floats.Dot(row, x) + b[i])
			if len(gradient) > 0 {
				floats.ScaleTo(gradient[i*n:(i+1)*n], sign, row)
			}
		}
	}
}

func tolerances(m int) []float64 {
	tol := make([]float64, m)
	for i := range tol {
		tol[i] = slsqpTol
	}
	return tol
}
