package qp

import (
	"context"
	"math"

	"github.com/pkg/errors"
	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/mat"
)

const (
	machEps = 2.220446049250313e-16
	// hessianRegularization scales the diagonal shift that makes semidefinite hessians solvable.
	hessianRegularization = 1e-9
	equalityTol           = 1e-12
	feasibilityTol        = 1e-6
	// redundantTol is the residual below which a dependent equality row counts as already satisfied.
	redundantTol = 1e-9
)

// activeSetSolver is the Goldfarb-Idnani dual active set method. It starts from the unconstrained
// minimum and adds violated constraints one at a time, keeping the dual iterate feasible, so it
// needs no starting point.
type activeSetSolver struct {
	maxIter int
}

func (s *activeSetSolver) Solve(ctx context.Context, p *Problem, _ []float64) ([]float64, error) {
	if err := p.Validate(); err != nil {
		return nil, err
	}
	n, _ := p.Dims()
	if n == 0 {
		return []float64{}, nil
	}
	gi := newGoldfarbIdnani(p)
	x, err := gi.solve(ctx, s.maxIter)
	if err != nil {
		return nil, err
	}
	if v := p.Violation(x); v > feasibilityTol*boundScale(p) {
		return nil, errors.Wrapf(ErrInfeasible, "solution violates constraints by %g", v)
	}
	return x, nil
}

func boundScale(p *Problem) float64 {
	scale := 1.0
	for i := range p.LB {
		if !math.IsInf(p.LB[i], 0) {
			scale = math.Max(scale, math.Abs(p.LB[i]))
		}
		if !math.IsInf(p.UB[i], 0) {
			scale = math.Max(scale, math.Abs(p.UB[i]))
		}
	}
	return scale
}

// goldfarbIdnani holds a problem in the form
//
//	minimize ½xᵀHx + g0ᵀx  s.t.  ceᵢᵀx + ce0ᵢ = 0,  ciᵢᵀx + ci0ᵢ ≥ 0.
type goldfarbIdnani struct {
	n    int
	hess *mat.SymDense
	g0   []float64
	ce   [][]float64
	ce0  []float64
	ci   [][]float64
	ci0  []float64
}

func newGoldfarbIdnani(p *Problem) *goldfarbIdnani {
	n, m := p.Dims()
	gi := &goldfarbIdnani{n: n, g0: make([]float64, n), hess: mat.NewSymDense(n, nil)}

	maxDiag := 1.0
	for i := 0; i < n; i++ {
		maxDiag = math.Max(maxDiag, math.Abs(p.H.At(i, i)))
	}
	shift := hessianRegularization * maxDiag
	for i := 0; i < n; i++ {
		for j := i; j < n; j++ {
			v := 0.5 * (p.H.At(i, j) + p.H.At(j, i))
			if i == j {
				v += shift
			}
			gi.hess.SetSym(i, j, v)
		}
		if p.G != nil {
			gi.g0[i] = p.G.AtVec(i)
		}
	}

	for r := 0; r < m; r++ {
		row := mat.Row(nil, r, p.A)
		lb, ub := p.LB[r], p.UB[r]
		if !math.IsInf(lb, 0) && !math.IsInf(ub, 0) && ub-lb <= equalityTol*math.Max(1, math.Abs(ub)) {
			gi.ce = append(gi.ce, row)
			gi.ce0 = append(gi.ce0, -0.5*(lb+ub))
			continue
		}
		if !math.IsInf(ub, 1) {
			gi.ci = append(gi.ci, floats.ScaleTo(make([]float64, n), -1, row))
			gi.ci0 = append(gi.ci0, ub)
		}
		if !math.IsInf(lb, -1) {
			gi.ci = append(gi.ci, row)
			gi.ci0 = append(gi.ci0, -lb)
		}
	}
	return gi
}

func (gi *goldfarbIdnani) solve(ctx context.Context, maxIter int) ([]float64, error) {
	n := gi.n
	p, m := len(gi.ce), len(gi.ci)

	var chol mat.Cholesky
	if ok := chol.Factorize(gi.hess); !ok {
		return nil, errors.New("hessian is not positive definite")
	}
	var lower, lowerInv mat.TriDense
	chol.LTo(&lower)
	if err := lowerInv.InverseTri(&lower); err != nil {
		return nil, errors.Wrap(err, "inverting hessian factor")
	}
	// J = L⁻ᵀ so that H⁻¹ = JJᵀ
	J := make([][]float64, n)
	R := make([][]float64, n)
	c1, c2 := 0.0, 0.0
	for i := 0; i < n; i++ {
		J[i] = make([]float64, n)
		R[i] = make([]float64, n)
		for j := 0; j < n; j++ {
			J[i][j] = lowerInv.At(j, i)
		}
		c1 += gi.hess.At(i, i)
		c2 += J[i][i]
	}

	// unconstrained minimum
	var xv mat.VecDense
	if err := chol.SolveVecTo(&xv, mat.NewVecDense(n, gi.g0)); err != nil {
		return nil, errors.Wrap(err, "solving unconstrained problem")
	}
	x := make([]float64, n)
	for i := range x {
		x[i] = -xv.AtVec(i)
	}

	d := make([]float64, n)
	z := make([]float64, n)
	r := make([]float64, n+1)
	u := make([]float64, n+1)
	uOld := make([]float64, n+1)
	active := make([]int, n+1)
	activeOld := make([]int, n+1)
	xOld := make([]float64, n)
	s := make([]float64, m)
	iai := make([]int, m)
	iaexcl := make([]bool, m)
	rNorm := 1.0
	iq := 0

	for i := 0; i < p; i++ {
		np := gi.ce[i]
		computeD(d, J, np)
		updateZ(z, J, d, iq)
		updateR(R, r, d, iq)
		if floats.Dot(z, z) <= machEps {
			// no free direction left for this row: a repeat of the active rows or a contradiction
			residual := floats.Dot(np, x) + gi.ce0[i]
			if math.Abs(residual) <= redundantTol*math.Max(1, floats.Norm(np, 2)) {
				continue
			}
			return nil, errors.Wrapf(ErrInfeasible, "equality row %d contradicts the rows before it", i)
		}
		t2 := (-floats.Dot(np, x) - gi.ce0[i]) / floats.Dot(z, np)
		floats.AddScaled(x, t2, z)
		u[iq] = t2
		for k := 0; k < iq; k++ {
			u[k] -= t2 * r[k]
		}
		active[iq] = -i - 1
		var ok bool
		if iq, ok = addConstraint(R, J, d, iq, &rNorm); !ok {
			return nil, errors.Wrap(ErrInfeasible, "equality constraints are linearly dependent")
		}
	}

	for i := range iai {
		iai[i] = i
	}
	iter := 0
	step := func() error {
		iter++
		if iter > maxIter {
			return ErrMaxIter
		}
		return ctx.Err()
	}

outer:
	for {
		if err := step(); err != nil {
			return nil, err
		}
		// step 1: find the most violated inactive constraint
		for i := p; i < iq; i++ {
			iai[active[i]] = -1
		}
		psi := 0.0
		for i := 0; i < m; i++ {
			iaexcl[i] = true
			s[i] = floats.Dot(gi.ci[i], x) + gi.ci0[i]
			psi += math.Min(0, s[i])
		}
		if math.Abs(psi) <= float64(m)*machEps*c1*c2*100 {
			return x, nil
		}
		copy(uOld, u[:iq])
		copy(activeOld, active[:iq])
		copy(xOld, x)

	choose:
		for {
			ip, ss := -1, 0.0
			for i := 0; i < m; i++ {
				if s[i] < ss && iai[i] != -1 && iaexcl[i] {
					ss, ip = s[i], i
				}
			}
			if ip < 0 {
				return x, nil
			}
			np := gi.ci[ip]
			u[iq] = 0
			active[iq] = ip

			for {
				// step 2a: primal and dual step directions
				computeD(d, J, np)
				updateZ(z, J, d, iq)
				updateR(R, r, d, iq)

				// step 2b: partial step length t1 drops a constraint, full step t2 adds ip
				l, t1 := -1, math.Inf(1)
				for k := p; k < iq; k++ {
					if r[k] > 0 && u[k]/r[k] < t1 {
						t1, l = u[k]/r[k], active[k]
					}
				}
				t2 := math.Inf(1)
				if floats.Dot(z, z) > machEps {
					if t2 = -s[ip] / floats.Dot(z, np); t2 < 0 {
						t2 = math.Inf(1)
					}
				}
				if math.IsInf(t1, 1) && math.IsInf(t2, 1) {
					return nil, ErrInfeasible
				}

				if math.IsInf(t2, 1) {
					// step in dual space only
					for k := 0; k < iq; k++ {
						u[k] -= t1 * r[k]
					}
					u[iq] += t1
					iai[l] = l
					iq = deleteConstraint(R, J, active, u, p, iq, l)
					if err := step(); err != nil {
						return nil, err
					}
					continue
				}

				t := math.Min(t1, t2)
				floats.AddScaled(x, t, z)
				for k := 0; k < iq; k++ {
					u[k] -= t * r[k]
				}
				u[iq] += t

				if t == t2 {
					var ok bool
					if iq, ok = addConstraint(R, J, d, iq, &rNorm); !ok {
						// ip is degenerate with the active set: exclude it and restore
						iaexcl[ip] = false
						iq = deleteConstraint(R, J, active, u, p, iq, ip)
						for i := range iai {
							iai[i] = i
						}
						for i := p; i < iq; i++ {
							active[i], u[i] = activeOld[i], uOld[i]
							iai[active[i]] = -1
						}
						copy(x, xOld)
						continue choose
					}
					iai[ip] = -1
					continue outer
				}

				iai[l] = l
				iq = deleteConstraint(R, J, active, u, p, iq, l)
				s[ip] = floats.Dot(gi.ci[ip], x) + gi.ci0[ip]
				if err := step(); err != nil {
					return nil, err
				}
			}
		}
	}
}

// computeD sets d = Jᵀ·np.
func computeD(d []float64, J [][]float64, np []float64) {
	for i := range d {
		sum := 0.0
		for j := range np {
			sum += J[j][i] * np[j]
		}
		d[i] = sum
	}
}

// updateZ sets z to the primal step direction J₂·d₂.
func updateZ(z []float64, J [][]float64, d []float64, iq int) {
	for i := range z {
		sum := 0.0
		for j := iq; j < len(d); j++ {
			sum += J[i][j] * d[j]
		}
		z[i] = sum
	}
}

// updateR sets r to the dual step direction R⁻¹·d₁ by back substitution.
func updateR(R [][]float64, r, d []float64, iq int) {
	for i := iq - 1; i >= 0; i-- {
		sum := 0.0
		for j := i + 1; j < iq; j++ {
			sum += R[i][j] * r[j]
		}
		r[i] = (d[i] - sum) / R[i][i]
	}
}

// addConstraint updates the factorization after the constraint with d = Jᵀ·np joins the active set.
// It reports false when the constraint is linearly dependent on the active set.
func addConstraint(R, J [][]float64, d []float64, iq int, rNorm *float64) (int, bool) {
	n := len(d)
	for j := n - 1; j >= iq+1; j-- {
		cc, ss := d[j-1], d[j]
		h := math.Hypot(cc, ss)
		if h == 0 {
			continue
		}
		d[j] = 0
		cc, ss = cc/h, ss/h
		if cc < 0 {
			cc, ss = -cc, -ss
			d[j-1] = -h
		} else {
			d[j-1] = h
		}
		xny := ss / (1 + cc)
		for k := 0; k < n; k++ {
			t1, t2 := J[k][j-1], J[k][j]
			J[k][j-1] = t1*cc + t2*ss
			J[k][j] = xny*(t1+J[k][j-1]) - t2
		}
	}
	if iq == len(R) {
		return iq, false
	}
	iq++
	for i := 0; i < iq; i++ {
		R[i][iq-1] = d[i]
	}
	if math.Abs(d[iq-1]) <= machEps*(*rNorm) {
		return iq, false
	}
	*rNorm = math.Max(*rNorm, math.Abs(d[iq-1]))
	return iq, true
}

// deleteConstraint removes constraint l from the active set and restores R to upper triangular
// form with Givens rotations.
func deleteConstraint(R, J [][]float64, active []int, u []float64, p, iq, l int) int {
	n := len(R)
	qq := -1
	for i := p; i < iq; i++ {
		if active[i] == l {
			qq = i
			break
		}
	}
	if qq < 0 {
		return iq
	}
	for i := qq; i < iq-1; i++ {
		active[i], u[i] = active[i+1], u[i+1]
		for j := 0; j < n; j++ {
			R[j][i] = R[j][i+1]
		}
	}
	active[iq-1], u[iq-1] = active[iq], u[iq]
	active[iq], u[iq] = 0, 0
	for j := 0; j < n; j++ {
		R[j][iq-1] = 0
	}
	iq--
	for j := qq; j < iq; j++ {
		cc, ss := R[j][j], R[j+1][j]
		h := math.Hypot(cc, ss)
		if h == 0 {
			continue
		}
		cc, ss = cc/h, ss/h
		R[j+1][j] = 0
		if cc < 0 {
			R[j][j] = -h
			cc, ss = -cc, -ss
		} else {
			R[j][j] = h
		}
		xny := ss / (1 + cc)
		for k := j + 1; k < iq; k++ {
			t1, t2 := R[j][k], R[j+1][k]
			R[j][k] = t1*cc + t2*ss
			R[j+1][k] = xny*(t1+R[j][k]) - t2
		}
		for k := 0; k < n; k++ {
			t1, t2 := J[k][j], J[k][j+1]
			J[k][j] = t1*cc + t2*ss
			J[k][j+1] = xny*(J[k][j]+t1) - t2
		}
	}
	return iq
}
