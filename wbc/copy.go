package wbc

import (
	"github.com/pkg/errors"
	"github.com/samber/lo"
	"gonum.org/v1/gonum/mat"

	"go.viam.com/wbc/qp"
)

// Copy returns a deep copy that shares no mutable state with r, for running a lookahead cycle on
// another goroutine. The model, the logger and the clock are shared; none of them change after
// construction.
func (r *RobotData) Copy() *RobotData {
	out := *r
	if r.state != nil {
		out.state = r.state.Clone()
	}
	if r.ainv != nil {
		out.ainv = mat.NewSymDense(r.ainv.SymmetricDim(), nil)
		out.ainv.CopySym(r.ainv)
	}
	out.contacts = r.contacts.Clone()
	out.torqueLimit = cloneVec(r.torqueLimit)
	out.tasks = lo.Map(r.tasks, func(t *TaskSpace, _ int) *TaskSpace { return t.clone() })
	out.full = r.full.Clone()
	out.reduced = r.reduced.clone()
	out.taskQP = lo.Map(r.taskQP, func(in *qp.Instance, _ int) *qp.Instance { return in.Clone() })
	out.reducedTaskQP = lo.Map(r.reducedTaskQP, func(in *qp.Instance, _ int) *qp.Instance { return in.Clone() })
	out.contactQP = r.contactQP.Clone()
	out.reducedContactQP = r.reducedContactQP.Clone()
	out.torqueGrav = cloneVec(r.torqueGrav)
	out.torqueTask = cloneVec(r.torqueTask)
	out.torqueContact = cloneVec(r.torqueContact)
	return &out
}

// CopyKinematicsData overwrites the kinematics of r with those of other, which must run on a model of
// the same size.
func (r *RobotData) CopyKinematicsData(other *RobotData) error {
	if other.model.SystemDoF() != r.model.SystemDoF() || other.model.NumLinks() != r.model.NumLinks() {
		return errors.Errorf("cannot copy kinematics of model %q into model %q", other.model.Name(), r.model.Name())
	}
	if other.state == nil {
		r.state, r.ainv = nil, nil
		return nil
	}
	r.state = other.state.Clone()
	r.ainv = mat.NewSymDense(other.ainv.SymmetricDim(), nil)
	r.ainv.CopySym(other.ainv)
	r.contacts.Update(r.state)
	r.full, r.reduced = nil, nil
	return nil
}
