package wbc

import (
	"github.com/golang/geo/r3"
	"github.com/pkg/errors"
	"gonum.org/v1/gonum/mat"

	"go.viam.com/wbc/kinematics"
	"go.viam.com/wbc/spatialmath"
	"go.viam.com/wbc/utils"
)

// COMInertia is the composite rigid body of the whole robot about its center of mass, in world axes,
// with its momentum.
type COMInertia struct {
	spatialmath.SpatialInertia
	LinearMomentum  r3.Vector
	AngularMomentum r3.Vector
}

// worldInertia returns the inertia of one link in world axes, with its center of mass in world
// coordinates.
func (r *RobotData) worldInertia(state *kinematics.State, id int) (spatialmath.SpatialInertia, error) {
	link, err := r.model.Link(id)
	if err != nil {
		return spatialmath.SpatialInertia{}, err
	}
	ls := &state.Links[id]
	return link.Inertia.Transform(ls.Rotation, ls.Position), nil
}

// composite merges the given links into one body in world axes.
func (r *RobotData) composite(state *kinematics.State, ids []int) (spatialmath.SpatialInertia, error) {
	out := spatialmath.NewSpatialInertia(0, r3.Vector{}, nil)
	for _, id := range ids {
		si, err := r.worldInertia(state, id)
		if err != nil {
			return spatialmath.SpatialInertia{}, err
		}
		out = out.Add(si)
	}
	return out, nil
}

func (r *RobotData) allLinks() []int {
	ids := make([]int, r.model.NumLinks())
	for i := range ids {
		ids[i] = i
	}
	return ids
}

// momentumMatrix returns the 6×N matrix mapping q̇ to the linear momentum and the angular momentum
// about point of the given links, restricted to cols when cols is not nil.
func (r *RobotData) momentumMatrix(state *kinematics.State, ids []int, point r3.Vector, cols []int) (*mat.Dense, error) {
	n := r.model.SystemDoF()
	if cols == nil {
		cols = make([]int, n)
		for i := range cols {
			cols[i] = i
		}
	}
	out := mat.NewDense(6, len(cols), nil)
	for _, id := range ids {
		si, err := r.worldInertia(state, id)
		if err != nil {
			return nil, err
		}
		ls := &state.Links[id]
		jv := utils.SelectColumns(ls.COMJacobian.Slice(0, 3, 0, n), cols)
		jw := utils.SelectColumns(ls.COMJacobian.Slice(3, 6, 0, n), cols)

		var lin, ang, moment mat.Dense
		lin.Scale(si.Mass, jv)
		ang.Mul(si.Inertia, jw)
		moment.Mul(spatialmath.Skew(si.COM.Sub(point)), &lin)
		ang.Add(&ang, &moment)

		top := out.Slice(0, 3, 0, len(cols)).(*mat.Dense)
		top.Add(top, &lin)
		bottom := out.Slice(3, 6, 0, len(cols)).(*mat.Dense)
		bottom.Add(bottom, &ang)
	}
	return out, nil
}

// comLinkState builds the COM pseudo-link: positioned at the center of mass with the base
// orientation, whose Jacobian holds the COM Jacobian over the centroidal angular velocity
// Jacobian I_c⁻¹·CMM.
func (r *RobotData) comLinkState(state *kinematics.State) (kinematics.LinkState, error) {
	n := r.model.SystemDoF()
	body, err := r.composite(state, r.allLinks())
	if err != nil {
		return kinematics.LinkState{}, err
	}
	icInv, err := utils.InverseSPD(utils.Symmetrize(body.Inertia))
	if err != nil {
		return kinematics.LinkState{}, errors.Wrap(err, "inverting centroidal inertia")
	}
	cmm, err := r.momentumMatrix(state, r.allLinks(), state.COM, nil)
	if err != nil {
		return kinematics.LinkState{}, err
	}
	jac := mat.NewDense(6, n, nil)
	jac.Slice(0, 3, 0, n).(*mat.Dense).Copy(state.COMJacobian)
	var ang mat.Dense
	ang.Mul(icInv, cmm.Slice(3, 6, 0, n))
	jac.Slice(3, 6, 0, n).(*mat.Dense).Copy(&ang)

	var w mat.VecDense
	w.MulVec(&ang, mat.NewVecDense(n, state.QDot))
	return kinematics.LinkState{
		Position:        state.COM,
		Rotation:        mat.DenseCopyOf(state.Links[0].Rotation),
		COM:             state.COM,
		Velocity:        state.COMVelocity,
		AngularVelocity: spatialmath.VecToR3(&w, 0),
		COMVelocity:     state.COMVelocity,
		Jacobian:        jac,
		COMJacobian:     mat.DenseCopyOf(jac),
	}, nil
}

// CalcCOMInertia returns the whole-body inertia about the center of mass and the momentum of the
// current motion.
func (r *RobotData) CalcCOMInertia() (COMInertia, error) {
	if r.state == nil {
		return COMInertia{}, ErrNoKinematics
	}
	body, err := r.composite(r.state, r.allLinks())
	if err != nil {
		return COMInertia{}, err
	}
	cmm, err := r.CalcAngularMomentumMatrix()
	if err != nil {
		return COMInertia{}, err
	}
	var h mat.VecDense
	h.MulVec(cmm, mat.NewVecDense(len(r.state.QDot), r.state.QDot))
	return COMInertia{
		SpatialInertia:  body,
		LinearMomentum:  r.state.COMVelocity.Mul(body.Mass),
		AngularMomentum: spatialmath.VecToR3(&h, 0),
	}, nil
}

// CalcAngularMomentumMatrix returns the 3×N centroidal momentum matrix mapping q̇ to the angular
// momentum about the center of mass.
func (r *RobotData) CalcAngularMomentumMatrix() (*mat.Dense, error) {
	if r.state == nil {
		return nil, ErrNoKinematics
	}
	cmm, err := r.momentumMatrix(r.state, r.allLinks(), r.state.COM, nil)
	if err != nil {
		return nil, err
	}
	return mat.DenseCopyOf(cmm.Slice(3, 6, 0, r.model.SystemDoF())), nil
}

// CalcVirtualInertia merges the named link and everything below it into one rigid body expressed in
// the frame of that link.
func (r *RobotData) CalcVirtualInertia(link string) (spatialmath.SpatialInertia, error) {
	if r.state == nil {
		return spatialmath.SpatialInertia{}, ErrNoKinematics
	}
	id, err := r.model.LinkID(link)
	if err != nil {
		return spatialmath.SpatialInertia{}, err
	}
	body, err := r.composite(r.state, r.model.Subtree(id))
	if err != nil {
		return spatialmath.SpatialInertia{}, err
	}
	ls := &r.state.Links[id]
	rt := mat.DenseCopyOf(ls.Rotation.T())
	return body.Transform(rt, spatialmath.RotateVector(rt, ls.Position).Mul(-1)), nil
}
