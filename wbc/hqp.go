package wbc

import (
	"context"
	"math"

	"github.com/pkg/errors"
	"gonum.org/v1/gonum/mat"

	"go.viam.com/wbc/contact"
	"go.viam.com/wbc/qp"
	"go.viam.com/wbc/utils"
)

// hierarchy is the input of one task resolution: a projection, the factorized levels, the torque
// bound in the projection's actuated coordinates and one solver slot per level.
type hierarchy struct {
	proj     *Projection
	factors  []*taskFactors
	fstar    []*mat.VecDense
	limit    *mat.VecDense
	slots    []*qp.Instance
	contacts *contact.Set
}

// CalcTaskControlTorque resolves the task hierarchy into the task torque against the full-order
// projection. With hqp set each level runs a QP that corrects its desired acceleration by the least
// amount that keeps the predicted torque and contact wrench feasible; without it the desired
// accelerations are applied as given. A QP failure stops the resolution at that level and returns
// a *HierarchyError; the task torque then holds the levels above it.
func (r *RobotData) CalcTaskControlTorque(ctx context.Context, hqp bool) error {
	if r.full == nil || r.full.TorqueGrav == nil {
		return ErrNoProjection
	}
	h, err := r.hierarchy(r.full, r.torqueLimit, r.taskQP, func(t *TaskSpace) *taskFactors { return t.full })
	if err != nil {
		return err
	}
	torque, err := r.resolve(ctx, h, hqp)
	r.torqueTask = torque
	return err
}

func (r *RobotData) hierarchy(
	proj *Projection, limit *mat.VecDense, slots []*qp.Instance, factors func(t *TaskSpace) *taskFactors,
) (*hierarchy, error) {
	h := &hierarchy{proj: proj, limit: limit, slots: slots, contacts: r.contacts}
	for _, t := range r.tasks {
		f := factors(t)
		if f == nil {
			return nil, errors.Errorf("task space at priority %d has not been calculated", t.Priority)
		}
		if rows, _ := f.J.Dims(); rows != t.FStar.Len() {
			return nil, errors.Errorf("task at priority %d changed size since it was calculated", t.Priority)
		}
		h.factors = append(h.factors, f)
		h.fstar = append(h.fstar, t.FStar)
	}
	return h, nil
}

func (r *RobotData) resolve(ctx context.Context, h *hierarchy, hqp bool) (*mat.VecDense, error) {
	act := h.proj.Actuated()
	total := mat.NewVecDense(act, nil)
	for i, f := range h.factors {
		fstar := h.fstar[i]
		var null mat.Matrix = utils.Identity(act)
		if i > 0 {
			null = h.factors[i-1].Null
		}
		// Nt maps a task acceleration to this level's torque contribution.
		var nj, nt mat.Dense
		nj.Mul(null, f.JKT)
		nt.Mul(&nj, f.Lambda)

		f.FStarQP = mat.NewVecDense(fstar.Len(), nil)
		f.ContactQP = nil
		if hqp {
			var prev mat.VecDense
			prev.AddVec(h.proj.TorqueGrav, total)
			x, err := solveLevel(ctx, h.slots[i], h, &nt, fstar, &prev)
			if err != nil {
				r.logger.Warnw("task qp failed", "level", i, "error", err)
				f.Torque = mat.NewVecDense(act, nil)
				return total, &HierarchyError{Level: i, Err: err}
			}
			for j := 0; j < fstar.Len(); j++ {
				f.FStarQP.SetVec(j, x[j])
			}
			if k := len(x) - fstar.Len(); k > 0 {
				f.ContactQP = mat.NewVecDense(k, append([]float64(nil), x[fstar.Len():]...))
			}
		}
		var realized mat.VecDense
		realized.AddVec(fstar, f.FStarQP)
		f.Torque = &mat.VecDense{}
		f.Torque.MulVec(&nt, &realized)
		total.AddVec(total, f.Torque)
		r.logger.CDebugw(ctx, "task level resolved",
			"level", i, "fstar_qp", mat.Norm(f.FStarQP, 2), "torque", mat.Norm(f.Torque, 2))
	}
	return total, nil
}

// solveLevel solves one level of the hierarchy for x = [f*_qp, c] with cost ‖f*_qp‖². The torque it
// predicts is prev + Nt·(f* + f*_qp) + NwJw·c.
func solveLevel(
	ctx context.Context, slot *qp.Instance, h *hierarchy, nt *mat.Dense, fstar, prev *mat.VecDense,
) ([]float64, error) {
	act := h.proj.Actuated()
	m := fstar.Len()
	k := h.proj.Redundancy()
	nv := m + k

	var bias mat.VecDense
	bias.MulVec(nt, fstar)
	bias.AddVec(&bias, prev)

	action := mat.NewDense(act, nv, nil)
	action.Slice(0, act, 0, m).(*mat.Dense).Copy(nt)
	if k > 0 {
		action.Slice(0, act, m, nv).(*mat.Dense).Copy(h.proj.NwJw)
	}
	a, ub := constraintRows(h.proj, h.contacts, action, &bias, h.limit)
	if a == nil {
		// nothing to satisfy, so no correction is needed
		return make([]float64, nv), nil
	}
	diag := make([]float64, nv)
	for i := 0; i < m; i++ {
		diag[i] = 1
	}
	return slot.Solve(ctx, &qp.Problem{H: mat.NewDiagDense(nv, diag), A: a, LB: lowerBounds(len(ub)), UB: ub})
}

// constraintRows returns the rows A·x ≤ ub keeping the torque bias + action·x inside the torque
// limit and the contact wrench P_C − J_C_INV_T·(bias + action·x) inside the friction and ZMP
// limits of every active contact. It returns nil when there are no rows.
func constraintRows(
	proj *Projection, contacts *contact.Set, action *mat.Dense, bias, limit *mat.VecDense,
) (*mat.Dense, []float64) {
	act, nv := action.Dims()
	var blocks []mat.Matrix
	var ub []float64

	if limit != nil {
		neg := mat.NewDense(act, nv, nil)
		neg.Scale(-1, action)
		blocks = append(blocks, action, neg)
		for i := 0; i < act; i++ {
			ub = append(ub, limit.AtVec(i)-bias.AtVec(i))
		}
		for i := 0; i < act; i++ {
			ub = append(ub, limit.AtVec(i)+bias.AtVec(i))
		}
	}

	if proj.ContactDoF > 0 && proj.PC != nil {
		// C·Rᵀ acting on the stacked world-frame wrench
		var arot, at, rows mat.Dense
		arot.Mul(contacts.ConstraintMatrix(), contacts.WorldToLocal())
		at.Mul(&arot, proj.actuatedInvT())
		rows.Mul(&at, action)
		rows.Scale(-1, &rows)
		blocks = append(blocks, &rows)

		var fixed, moved mat.VecDense
		fixed.MulVec(&arot, proj.PC)
		moved.MulVec(&at, bias)
		for i := 0; i < fixed.Len(); i++ {
			ub = append(ub, moved.AtVec(i)-fixed.AtVec(i))
		}
	}

	if len(ub) == 0 {
		return nil, nil
	}
	out := mat.NewDense(len(ub), nv, nil)
	row := 0
	for _, b := range blocks {
		br, _ := b.Dims()
		out.Slice(row, row+br, 0, nv).(*mat.Dense).Copy(b)
		row += br
	}
	return out, ub
}

func lowerBounds(m int) []float64 {
	lb := make([]float64, m)
	for i := range lb {
		lb[i] = math.Inf(-1)
	}
	return lb
}

// CalcContactRedistribute computes a torque in the span of NwJw that moves the contact wrench
// produced by the gravity and task torques as close as possible to one with no tangential load,
// while keeping it inside the friction and ZMP limits. The torque changes no acceleration.
func (r *RobotData) CalcContactRedistribute(ctx context.Context) error {
	if r.full == nil || r.full.TorqueGrav == nil {
		return ErrNoProjection
	}
	in := mat.VecDenseCopyOf(r.full.TorqueGrav)
	if r.torqueTask != nil {
		in.AddVec(in, r.torqueTask)
	}
	torque, err := r.redistribute(ctx, r.contactQP, r.full, in, r.torqueLimit)
	if err != nil {
		r.torqueContact = r.zeroTorque()
		return err
	}
	r.torqueContact = torque
	return nil
}

// redistribute solves min ‖W_z·Rᵀ·(P_C − J_C_INV_T·(τ + NwJw·x))‖² over x, where W_z drops the
// normal force rows unless Options.RedistributeNormalForce is set.
func (r *RobotData) redistribute(
	ctx context.Context, slot *qp.Instance, proj *Projection, in, limit *mat.VecDense,
) (*mat.VecDense, error) {
	act := proj.Actuated()
	k := proj.Redundancy()
	if k == 0 {
		return mat.NewVecDense(act, nil), nil
	}

	weighted := r.contacts.WorldToLocal()
	if !r.opts.RedistributeNormalForce {
		row := 0
		for _, c := range r.contacts.Active() {
			// the normal force is the third entry of every contact wrench
			for j := 0; j < proj.ContactDoF; j++ {
				weighted.Set(row+2, j, 0)
			}
			row += c.DoF()
		}
	}

	var wInvT, ht, h mat.Dense
	wInvT.Mul(weighted, proj.actuatedInvT())
	ht.Mul(&wInvT, proj.NwJw)
	h.Mul(ht.T(), &ht)

	var resid, b, g mat.VecDense
	resid.MulVec(proj.actuatedInvT(), in)
	resid.SubVec(&resid, proj.PC)
	b.MulVec(weighted, &resid)
	g.MulVec(ht.T(), &b)

	a, ub := constraintRows(proj, r.contacts, proj.NwJw, in, limit)
	p := &qp.Problem{H: &h, G: &g}
	if a != nil {
		p.A, p.LB, p.UB = a, lowerBounds(len(ub)), ub
	}
	x, err := slot.Solve(ctx, p)
	if err != nil {
		r.logger.Warnw("contact redistribution failed", "error", err)
		return nil, errors.Wrap(err, "contact redistribution")
	}
	var out mat.VecDense
	out.MulVec(proj.NwJw, mat.NewVecDense(k, x))
	r.logger.CDebugw(ctx, "contact wrench redistributed", "redundancy", k, "torque", mat.Norm(&out, 2))
	return &out, nil
}

// GetControlTorque runs one control cycle on the current kinematics and contacts and returns the
// actuated torque. Without taskControl only gravity is compensated. Options.Reduced selects the
// reduced-order model.
func (r *RobotData) GetControlTorque(ctx context.Context, taskControl bool) (*mat.VecDense, error) {
	if r.opts.Reduced {
		return r.reducedControlTorque(ctx, taskControl)
	}
	if err := r.CalcContactConstraint(); err != nil {
		return nil, err
	}
	if err := r.CalcGravCompensation(); err != nil {
		return nil, err
	}
	r.torqueTask, r.torqueContact = r.zeroTorque(), r.zeroTorque()
	if taskControl {
		if err := r.UpdateTaskSpace(); err != nil {
			return nil, err
		}
		if err := r.CalcTaskSpace(ctx); err != nil {
			return nil, err
		}
		if err := r.CalcTaskControlTorque(ctx, true); err != nil {
			return nil, err
		}
		if err := r.CalcContactRedistribute(ctx); err != nil {
			return nil, err
		}
	}
	return r.sumTorques(), nil
}

func (r *RobotData) sumTorques() *mat.VecDense {
	out := r.zeroTorque()
	for _, v := range []*mat.VecDense{r.torqueGrav, r.torqueTask, r.torqueContact} {
		if v != nil {
			out.AddVec(out, v)
		}
	}
	return out
}
