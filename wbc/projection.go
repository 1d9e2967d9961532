package wbc

import (
	"github.com/pkg/errors"
	"gonum.org/v1/gonum/mat"

	"go.viam.com/wbc/kinematics"
	"go.viam.com/wbc/utils"
)

// Projection is the contact-constrained dynamics of one model for one contact set:
//
//	Λ_C = (J_C·A⁻¹·J_Cᵀ)⁻¹,  J_C_INV_T = Λ_C·J_C·A⁻¹,  N_C = I − J_Cᵀ·J_C_INV_T
//
// W is the actuated block of A⁻¹·N_C. Its null space, spanned by the rows of V2, holds the torques
// that change only the internal contact wrench; NwJw maps a wrench change on the first
// ContactDoF−6 contact rows into such a torque.
//
// The same type describes the full model and the reduced model.
type Projection struct {
	BaseDoF    int
	ContactDoF int

	Jacobian *mat.Dense
	Lambda   *mat.Dense
	InvT     *mat.Dense
	Null     *mat.Dense
	AinvNull *mat.Dense

	W    *mat.Dense
	WInv *mat.Dense
	V2   *mat.Dense
	NwJw *mat.Dense

	TorqueGrav *mat.VecDense
	PC         *mat.VecDense

	// Rank is the realized rank of W and ExpectedRank the rank a well posed contact set gives.
	// Degraded is set when they differ; the factorization is still the best available one.
	Rank         int
	ExpectedRank int
	Degraded     bool
}

func newProjection(ainv *mat.SymDense, jc *mat.Dense, base int) (*Projection, error) {
	n := ainv.SymmetricDim()
	p := &Projection{BaseDoF: base}
	null := utils.Identity(n)
	if jc != nil {
		cdof, cols := jc.Dims()
		if cols != n {
			return nil, errors.Errorf("contact jacobian has %d columns, model has %d", cols, n)
		}
		var jAinv, inner mat.Dense
		jAinv.Mul(jc, ainv)
		inner.Mul(&jAinv, jc.T())
		lambda, err := utils.InverseSPD(utils.Symmetrize(&inner))
		if err != nil {
			return nil, errors.Wrapf(ErrSingularContact, "%d contact rows: %v", cdof, err)
		}
		p.ContactDoF = cdof
		p.Jacobian = mat.DenseCopyOf(jc)
		p.Lambda = mat.DenseCopyOf(lambda)
		p.InvT = &mat.Dense{}
		p.InvT.Mul(lambda, &jAinv)

		var jtInvT mat.Dense
		jtInvT.Mul(jc.T(), p.InvT)
		null.Sub(null, &jtInvT)
	}
	p.Null = null
	p.AinvNull = &mat.Dense{}
	p.AinvNull.Mul(ainv, null)

	act := n - base
	p.W = mat.DenseCopyOf(p.AinvNull.Slice(base, n, base, n))
	k := max(0, p.ContactDoF-base)
	pinv, err := utils.NewPseudoInverse(p.W, utils.DefaultRankTolerance, k > 0)
	if err != nil {
		return nil, errors.Wrap(err, "factorizing actuated inertia")
	}
	p.WInv = pinv.Inverse
	p.Rank = pinv.Rank
	p.ExpectedRank = act - k
	p.Degraded = p.Rank != p.ExpectedRank
	if k > 0 && pinv.Null != nil {
		p.V2 = pinv.Null
		// NwJw = V2ᵀ·(J_C_INV_T[0:k, base:]·V2ᵀ)⁻¹
		var m mat.Dense
		m.Mul(p.InvT.Slice(0, k, base, n), p.V2.T())
		mInv, err := utils.Pinv(&m)
		if err != nil {
			return nil, errors.Wrap(err, "inverting contact null space map")
		}
		p.NwJw = &mat.Dense{}
		p.NwJw.Mul(p.V2.T(), mInv)
	}
	return p, nil
}

// Redundancy returns the number of internal contact wrench directions NwJw spans.
func (p *Projection) Redundancy() int {
	if p.NwJw == nil {
		return 0
	}
	_, k := p.NwJw.Dims()
	return k
}

// Actuated returns the number of actuated coordinates.
func (p *Projection) Actuated() int {
	n, _ := p.Null.Dims()
	return n - p.BaseDoF
}

func (p *Projection) compensateGravity(g mat.Vector) {
	n, _ := p.Null.Dims()
	var ag mat.VecDense
	ag.MulVec(p.AinvNull, g)
	p.TorqueGrav = &mat.VecDense{}
	p.TorqueGrav.MulVec(p.WInv, ag.SliceVec(p.BaseDoF, n))
	p.PC = nil
	if p.InvT != nil {
		p.PC = &mat.VecDense{}
		p.PC.MulVec(p.InvT, g)
	}
}

// actuatedInvT returns the columns of J_C_INV_T that actuated torques act on.
func (p *Projection) actuatedInvT() mat.Matrix {
	n, _ := p.Null.Dims()
	return p.InvT.Slice(0, p.ContactDoF, p.BaseDoF, n)
}

// ContactForce returns the stacked world-frame contact wrench F = P_C − J_C_INV_T·[0; τ] produced
// by an actuated torque. It is nil when no contact is active.
func (p *Projection) ContactForce(torque mat.Vector) (*mat.VecDense, error) {
	if p.InvT == nil {
		return nil, nil
	}
	if torque.Len() != p.Actuated() {
		return nil, sizeError("torque", torque.Len(), p.Actuated())
	}
	if p.PC == nil {
		return nil, errors.New("gravity compensation has not been calculated")
	}
	var f mat.VecDense
	f.MulVec(p.actuatedInvT(), torque)
	f.SubVec(p.PC, &f)
	return &f, nil
}

// Acceleration returns the generalized acceleration A⁻¹·N_C·(Sᵀτ − G) an actuated torque produces at
// zero velocity under the contact constraint.
func (p *Projection) Acceleration(torque, g mat.Vector) *mat.VecDense {
	n, _ := p.Null.Dims()
	force := mat.NewVecDense(n, nil)
	for i := 0; i < torque.Len(); i++ {
		force.SetVec(p.BaseDoF+i, torque.AtVec(i))
	}
	force.SubVec(force, g)
	var out mat.VecDense
	out.MulVec(p.AinvNull, force)
	return &out
}

// Clone deep copies the projection.
func (p *Projection) Clone() *Projection {
	if p == nil {
		return nil
	}
	out := *p
	out.Jacobian = cloneDense(p.Jacobian)
	out.Lambda = cloneDense(p.Lambda)
	out.InvT = cloneDense(p.InvT)
	out.Null = cloneDense(p.Null)
	out.AinvNull = cloneDense(p.AinvNull)
	out.W = cloneDense(p.W)
	out.WInv = cloneDense(p.WInv)
	out.V2 = cloneDense(p.V2)
	out.NwJw = cloneDense(p.NwJw)
	out.TorqueGrav = cloneVec(p.TorqueGrav)
	out.PC = cloneVec(p.PC)
	return &out
}

// CalcContactConstraint builds the full-order contact projection for the active contacts.
func (r *RobotData) CalcContactConstraint() error {
	if r.state == nil {
		return ErrNoKinematics
	}
	proj, err := newProjection(r.ainv, r.contacts.Jacobian(), kinematics.FloatingBaseDoF)
	if err != nil {
		r.logger.Warnw("contact projection failed", "contacts", r.contacts.ActiveLinks(), "error", err)
		return err
	}
	if proj.Degraded {
		r.logger.Warnw("contact projection is rank deficient",
			"expected_rank", proj.ExpectedRank, "rank", proj.Rank, "contact_dof", proj.ContactDoF)
	}
	r.full = proj
	return nil
}

// CalcGravCompensation computes the torque that holds the robot still against gravity under the
// current contact constraint, and the contact wrench P_C that gravity alone produces.
func (r *RobotData) CalcGravCompensation() error {
	if r.full == nil {
		return ErrNoProjection
	}
	r.full.compensateGravity(r.state.G)
	r.torqueGrav = cloneVec(r.full.TorqueGrav)
	return nil
}

// Projection returns the full-order contact projection of the current cycle.
func (r *RobotData) Projection() (*Projection, error) {
	if r.full == nil {
		return nil, ErrNoProjection
	}
	return r.full, nil
}

// GetContactForce returns the stacked world-frame wrench of the active contacts under an actuated
// torque.
func (r *RobotData) GetContactForce(torque mat.Vector) (*mat.VecDense, error) {
	if r.full == nil {
		return nil, ErrNoProjection
	}
	return r.full.ContactForce(torque)
}

// ContactForceLocal splits the wrench produced by torque into one contact-frame wrench per active
// contact, in registration order.
func (r *RobotData) ContactForceLocal(torque mat.Vector) ([]*mat.VecDense, error) {
	f, err := r.GetContactForce(torque)
	if err != nil || f == nil {
		return nil, err
	}
	var out []*mat.VecDense
	row := 0
	for _, c := range r.contacts.Active() {
		var local mat.VecDense
		local.MulVec(c.WorldToLocal(), f.SliceVec(row, row+c.DoF()))
		out = append(out, &local)
		row += c.DoF()
	}
	return out, nil
}

func cloneDense(m *mat.Dense) *mat.Dense {
	if m == nil {
		return nil
	}
	return mat.DenseCopyOf(m)
}

func cloneVec(v *mat.VecDense) *mat.VecDense {
	if v == nil {
		return nil
	}
	return mat.VecDenseCopyOf(v)
}
