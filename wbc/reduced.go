package wbc

import (
	"context"
	"math"

	"github.com/golang/geo/r3"
	"github.com/pkg/errors"
	"github.com/samber/lo"
	"gonum.org/v1/gonum/mat"

	"go.viam.com/wbc/kinematics"
	"go.viam.com/wbc/spatialmath"
	"go.viam.com/wbc/utils"
)

// AggregateDoF is the number of reduced coordinates of the lumped non-contact body.
const AggregateDoF = 6

// reducedModel is the model seen by the reduced-order path. Its coordinates are the velocity
// columns that move an active contact (base first), followed by the spatial velocity of the
// aggregate of every other link when there is one.
type reducedModel struct {
	// vc lists the contact dependent velocity columns and nc the rest, both in increasing order.
	vc []int
	nc []int

	// aggregate is the composite body of the non-contact links in the base frame.
	aggregate spatialmath.SpatialInertia
	// jiNC maps non-contact joint velocities to the aggregate velocity: SI_nc⁻¹·CMM_nc.
	jiNC *mat.Dense
	// jiNCInvT is the dynamically consistent inverse transpose of jiNC and nINC = I − jiNCᵀ·jiNCInvT
	// the torque null space it leaves.
	jiNCInvT *mat.Dense
	nINC     *mat.Dense

	jr    *mat.Dense
	aRInv *mat.SymDense
	aR    *mat.Dense
	gR    *mat.VecDense

	proj *Projection

	torqueGrav    *mat.VecDense
	torqueTask    *mat.VecDense
	torqueContact *mat.VecDense
}

func (rm *reducedModel) aggDoF() int {
	if len(rm.nc) == 0 {
		return 0
	}
	return AggregateDoF
}

func (rm *reducedModel) dim() int {
	return len(rm.vc) + rm.aggDoF()
}

func (rm *reducedModel) clone() *reducedModel {
	if rm == nil {
		return nil
	}
	out := *rm
	out.vc = append([]int(nil), rm.vc...)
	out.nc = append([]int(nil), rm.nc...)
	out.aggregate = spatialmath.NewSpatialInertia(rm.aggregate.Mass, rm.aggregate.COM, rm.aggregate.Inertia)
	out.jiNC = cloneDense(rm.jiNC)
	out.jiNCInvT = cloneDense(rm.jiNCInvT)
	out.nINC = cloneDense(rm.nINC)
	out.jr = cloneDense(rm.jr)
	if rm.aRInv != nil {
		out.aRInv = mat.NewSymDense(rm.aRInv.SymmetricDim(), nil)
		out.aRInv.CopySym(rm.aRInv)
	}
	out.aR = cloneDense(rm.aR)
	out.gR = cloneVec(rm.gR)
	out.proj = rm.proj.Clone()
	out.torqueGrav = cloneVec(rm.torqueGrav)
	out.torqueTask = cloneVec(rm.torqueTask)
	out.torqueContact = cloneVec(rm.torqueContact)
	return &out
}

// partition splits the velocity columns into those on a path from the base to an active contact
// and the rest. The base columns are always contact dependent.
func (r *RobotData) partition() (vc, nc []int) {
	dependent := map[int]bool{}
	for i := 0; i < kinematics.FloatingBaseDoF; i++ {
		dependent[i] = true
	}
	for _, id := range r.contacts.ActiveLinks() {
		for _, col := range r.model.DependentColumns(id) {
			dependent[col] = true
		}
	}
	for col := 0; col < r.model.SystemDoF(); col++ {
		if dependent[col] {
			vc = append(vc, col)
		} else {
			nc = append(nc, col)
		}
	}
	return vc, nc
}

// nonContactLinks returns the links moved by at least one non-contact column.
func (r *RobotData) nonContactLinks(nc []int) []int {
	ncSet := lo.SliceToMap(nc, func(c int) (int, bool) { return c, true })
	return lo.Filter(r.allLinks(), func(id, _ int) bool {
		return lo.SomeBy(r.model.DependentColumns(id), func(c int) bool { return ncSet[c] })
	})
}

// ReducedDynamicsCalculate partitions the joints for the active contacts and builds the reduced
// inertia A_R = (J_R·A⁻¹·J_Rᵀ)⁻¹ and gravity G_R, where J_R keeps the contact dependent columns
// and maps the non-contact joints to the aggregate velocity.
func (r *RobotData) ReducedDynamicsCalculate() error {
	if r.state == nil {
		return ErrNoKinematics
	}
	n := r.model.SystemDoF()
	rm := &reducedModel{}
	rm.vc, rm.nc = r.partition()
	agg := rm.aggDoF()
	dim := rm.dim()

	if agg > 0 {
		if err := r.aggregateNonContact(rm); err != nil {
			return err
		}
	}

	rm.jr = mat.NewDense(dim, n, nil)
	for i, col := range rm.vc {
		rm.jr.Set(i, col, 1)
	}
	for a := 0; a < agg; a++ {
		for j, col := range rm.nc {
			rm.jr.Set(len(rm.vc)+a, col, rm.jiNC.At(a, j))
		}
	}

	var jrAinv, ari mat.Dense
	jrAinv.Mul(rm.jr, r.ainv)
	ari.Mul(&jrAinv, rm.jr.T())
	rm.aRInv = utils.Symmetrize(&ari)
	if aR, err := utils.InverseSPD(rm.aRInv); err == nil {
		rm.aR = mat.DenseCopyOf(aR)
	} else {
		r.logger.Warnw("reduced inertia is singular, using its pseudo-inverse", "dim", dim, "error", err)
		if rm.aR, err = utils.Pinv(rm.aRInv); err != nil {
			return errors.Wrap(err, "inverting reduced inertia")
		}
	}

	// G_R = [G_vc; J_I_nc_inv_T·G_nc]
	rm.gR = mat.NewVecDense(dim, nil)
	for i, col := range rm.vc {
		rm.gR.SetVec(i, r.state.G.AtVec(col))
	}
	if agg > 0 {
		// J_R_INV_T = A_R·J_R·A⁻¹; its aggregate rows over the non-contact columns are J_I_nc_inv_T.
		var jrInvT mat.Dense
		jrInvT.Mul(rm.aR, &jrAinv)
		rm.jiNCInvT = utils.SelectBlock(&jrInvT, lo.RangeFrom(len(rm.vc), agg), rm.nc)

		var proj mat.Dense
		proj.Mul(rm.jiNC.T(), rm.jiNCInvT)
		rm.nINC = utils.Identity(len(rm.nc))
		rm.nINC.Sub(rm.nINC, &proj)

		var gAgg mat.VecDense
		gAgg.MulVec(rm.jiNCInvT, mat.NewVecDense(len(rm.nc), lo.Map(rm.nc, func(c, _ int) float64 {
			return r.state.G.AtVec(c)
		})))
		for a := 0; a < agg; a++ {
			rm.gR.SetVec(len(rm.vc)+a, gAgg.AtVec(a))
		}
	}
	r.reduced = rm
	r.logger.Debugw("reduced dynamics", "contact_dependent", len(rm.vc), "non_contact", len(rm.nc), "dim", dim)
	return nil
}

// aggregateNonContact computes the composite inertia SI_nc of the non-contact links about the base
// origin and J_I_nc = SI_nc⁻¹·CMM_nc, both in the base frame.
func (r *RobotData) aggregateNonContact(rm *reducedModel) error {
	base := &r.state.Links[0]
	ids := r.nonContactLinks(rm.nc)
	world, err := r.composite(r.state, ids)
	if err != nil {
		return err
	}
	// about the base origin, world axes
	shifted := spatialmath.NewSpatialInertia(world.Mass, world.COM.Sub(base.Position), world.Inertia)
	cmm, err := r.momentumMatrix(r.state, ids, base.Position, rm.nc)
	if err != nil {
		return err
	}
	siInv, err := utils.InverseSPD(utils.Symmetrize(shifted.Matrix()))
	if err != nil {
		return errors.Wrap(err, "inverting non-contact composite inertia")
	}
	var jiWorld mat.Dense
	jiWorld.Mul(siInv, cmm)

	rt := mat.DenseCopyOf(base.Rotation.T())
	toBase := mat.NewDense(AggregateDoF, AggregateDoF, nil)
	toBase.Slice(0, 3, 0, 3).(*mat.Dense).Copy(rt)
	toBase.Slice(3, 6, 3, 6).(*mat.Dense).Copy(rt)
	rm.jiNC = &mat.Dense{}
	rm.jiNC.Mul(toBase, &jiWorld)
	rm.aggregate = shifted.Transform(rt, r3.Vector{})
	return nil
}

// ReducedCalcContactConstraint builds the contact projection of the reduced model with
// J_CR = [J_C[:, vc], 0]. Λ_CR equals the full-order Λ_C because the non-contact columns of J_C are
// zero.
func (r *RobotData) ReducedCalcContactConstraint() error {
	rm := r.reduced
	if rm == nil {
		return errors.New("reduced dynamics have not been calculated")
	}
	var jcr *mat.Dense
	if jc := r.contacts.Jacobian(); jc != nil {
		rows, _ := jc.Dims()
		jcr = mat.NewDense(rows, rm.dim(), nil)
		jcr.Slice(0, rows, 0, len(rm.vc)).(*mat.Dense).Copy(utils.SelectColumns(jc, rm.vc))
	}
	proj, err := newProjection(rm.aRInv, jcr, kinematics.FloatingBaseDoF)
	if err != nil {
		r.logger.Warnw("reduced contact projection failed", "error", err)
		return err
	}
	if proj.Degraded {
		r.logger.Warnw("reduced contact projection is rank deficient",
			"expected_rank", proj.ExpectedRank, "rank", proj.Rank, "contact_dof", proj.ContactDoF)
	}
	rm.proj = proj
	return nil
}

// ReducedProjection returns the contact projection of the reduced model.
func (r *RobotData) ReducedProjection() (*Projection, error) {
	if r.reduced == nil || r.reduced.proj == nil {
		return nil, ErrNoProjection
	}
	return r.reduced.proj, nil
}

func (r *RobotData) reducedProjection() (*reducedModel, error) {
	if r.reduced == nil || r.reduced.proj == nil {
		return nil, ErrNoProjection
	}
	return r.reduced, nil
}

// ReducedCalcGravCompensation compensates gravity in the reduced model. The actuated torque holds
// the reduced torque on the contact dependent joints and the joint space gravity G on the others.
func (r *RobotData) ReducedCalcGravCompensation() error {
	rm, err := r.reducedProjection()
	if err != nil {
		return err
	}
	rm.proj.compensateGravity(rm.gR)
	rm.torqueGrav = cloneVec(rm.proj.TorqueGrav)

	out := r.zeroTorque()
	for i, col := range rm.vc[kinematics.FloatingBaseDoF:] {
		out.SetVec(col-kinematics.FloatingBaseDoF, rm.torqueGrav.AtVec(i))
	}
	for _, col := range rm.nc {
		out.SetVec(col-kinematics.FloatingBaseDoF, r.state.G.AtVec(col))
	}
	r.torqueGrav = out
	return nil
}

// expand maps a torque in reduced actuated coordinates to the actuated joints: contact dependent
// joints take their entry and the aggregate wrench reaches the other joints through J_I_ncᵀ.
func (r *RobotData) expand(rm *reducedModel, torque *mat.VecDense) *mat.VecDense {
	out := r.zeroTorque()
	co := rm.vc[kinematics.FloatingBaseDoF:]
	for i, col := range co {
		out.SetVec(col-kinematics.FloatingBaseDoF, torque.AtVec(i))
	}
	if rm.aggDoF() > 0 {
		var nc mat.VecDense
		nc.MulVec(rm.jiNC.T(), torque.SliceVec(len(co), len(co)+AggregateDoF))
		for j, col := range rm.nc {
			out.SetVec(col-kinematics.FloatingBaseDoF, out.AtVec(col-kinematics.FloatingBaseDoF)+nc.AtVec(j))
		}
	}
	return out
}

// reducedJacobian returns J·A⁻¹·J_Rᵀ·A_R, the task Jacobian in reduced coordinates. It is exact for
// links that only contact dependent joints move, and for the center of mass.
func (r *RobotData) reducedJacobian(rm *reducedModel, jac *mat.Dense) *mat.Dense {
	var ja, jaj, out mat.Dense
	ja.Mul(jac, r.ainv)
	jaj.Mul(&ja, rm.jr.T())
	out.Mul(&jaj, rm.aR)
	return &out
}

// ReducedCalcTaskSpace factorizes every task against the reduced projection.
func (r *RobotData) ReducedCalcTaskSpace(ctx context.Context) error {
	rm, err := r.reducedProjection()
	if err != nil {
		return err
	}
	if err := r.checkTasks(); err != nil {
		return err
	}
	facs, err := r.factorizeTasks(ctx, rm.proj, func(t *TaskSpace) *mat.Dense { return r.reducedJacobian(rm, t.Jacobian) })
	if err != nil {
		return err
	}
	for i, t := range r.tasks {
		t.reduced = facs[i]
	}
	return nil
}

func (r *RobotData) reducedLimit(rm *reducedModel) *mat.VecDense {
	if r.torqueLimit == nil {
		return nil
	}
	co := rm.vc[kinematics.FloatingBaseDoF:]
	out := mat.NewVecDense(len(co)+rm.aggDoF(), nil)
	for i, col := range co {
		out.SetVec(i, r.torqueLimit.AtVec(col-kinematics.FloatingBaseDoF))
	}
	for a := 0; a < rm.aggDoF(); a++ {
		out.SetVec(len(co)+a, math.Inf(1))
	}
	return out
}

// ReducedCalcTaskControlTorque resolves the hierarchy in the reduced model and maps the result to the
// actuated joints. Tasks on links moved by non-contact joints also get N_I_nc·J_ncᵀ·Λ·f on those
// joints, the part of their wrench the aggregate cannot represent.
func (r *RobotData) ReducedCalcTaskControlTorque(ctx context.Context, hqp bool) error {
	rm, err := r.reducedProjection()
	if err != nil {
		return err
	}
	if rm.proj.TorqueGrav == nil {
		return errors.New("reduced gravity compensation has not been calculated")
	}
	h, err := r.hierarchy(rm.proj, r.reducedLimit(rm), r.reducedTaskQP, func(t *TaskSpace) *taskFactors { return t.reduced })
	if err != nil {
		return err
	}
	torque, resolveErr := r.resolve(ctx, h, hqp)
	rm.torqueTask = torque
	out := r.expand(rm, torque)

	if rm.aggDoF() > 0 {
		ncSet := lo.SliceToMap(rm.nc, func(c int) (int, bool) { return c, true })
		resolved := r.tasks
		var he *HierarchyError
		if errors.As(resolveErr, &he) {
			resolved = r.tasks[:he.Level]
		}
		for _, t := range resolved {
			if t.custom || !lo.SomeBy(t.Links, func(l *TaskLink) bool {
				return l.LinkID < r.model.NumLinks() &&
					lo.SomeBy(r.model.DependentColumns(l.LinkID), func(c int) bool { return ncSet[c] })
			}) {
				continue
			}
			var f, force, jt, internal mat.VecDense
			f.AddVec(t.FStar, t.reduced.FStarQP)
			force.MulVec(t.reduced.Lambda, &f)
			jt.MulVec(utils.SelectColumns(t.Jacobian, rm.nc).T(), &force)
			internal.MulVec(rm.nINC, &jt)
			for j, col := range rm.nc {
				out.SetVec(col-kinematics.FloatingBaseDoF, out.AtVec(col-kinematics.FloatingBaseDoF)+internal.AtVec(j))
			}
		}
	}
	r.torqueTask = out
	return resolveErr
}

// ReducedCalcContactRedistribute redistributes the contact wrench in the reduced model.
func (r *RobotData) ReducedCalcContactRedistribute(ctx context.Context) error {
	rm, err := r.reducedProjection()
	if err != nil {
		return err
	}
	if rm.torqueGrav == nil {
		return errors.New("reduced gravity compensation has not been calculated")
	}
	in := mat.VecDenseCopyOf(rm.torqueGrav)
	if rm.torqueTask != nil {
		in.AddVec(in, rm.torqueTask)
	}
	torque, err := r.redistribute(ctx, r.reducedContactQP, rm.proj, in, r.reducedLimit(rm))
	if err != nil {
		rm.torqueContact = nil
		r.torqueContact = r.zeroTorque()
		return err
	}
	rm.torqueContact = torque
	r.torqueContact = r.expand(rm, torque)
	return nil
}

// ReducedTorques returns the gravity, task and contact torques of the last reduced cycle in reduced
// actuated coordinates, which are the contact dependent joints followed by the aggregate.
func (r *RobotData) ReducedTorques() (grav, task, contact *mat.VecDense) {
	if r.reduced == nil {
		return nil, nil, nil
	}
	return cloneVec(r.reduced.torqueGrav), cloneVec(r.reduced.torqueTask), cloneVec(r.reduced.torqueContact)
}

// ReducedPartition returns the contact dependent and the non-contact velocity columns of the last
// reduced model.
func (r *RobotData) ReducedPartition() (vc, nc []int) {
	if r.reduced == nil {
		return nil, nil
	}
	return append([]int(nil), r.reduced.vc...), append([]int(nil), r.reduced.nc...)
}

func (r *RobotData) reducedControlTorque(ctx context.Context, taskControl bool) (*mat.VecDense, error) {
	if err := r.ReducedDynamicsCalculate(); err != nil {
		return nil, err
	}
	if err := r.ReducedCalcContactConstraint(); err != nil {
		return nil, err
	}
	if err := r.ReducedCalcGravCompensation(); err != nil {
		return nil, err
	}
	r.torqueTask, r.torqueContact = r.zeroTorque(), r.zeroTorque()
	r.reduced.torqueTask, r.reduced.torqueContact = nil, nil
	if taskControl {
		if err := r.UpdateTaskSpace(); err != nil {
			return nil, err
		}
		if err := r.ReducedCalcTaskSpace(ctx); err != nil {
			return nil, err
		}
		if err := r.ReducedCalcTaskControlTorque(ctx, true); err != nil {
			return nil, err
		}
		if err := r.ReducedCalcContactRedistribute(ctx); err != nil {
			return nil, err
		}
	}
	return r.sumTorques(), nil
}
