package contact

import (
	"github.com/pkg/errors"
	"github.com/samber/lo"
	"gonum.org/v1/gonum/mat"

	"go.viam.com/wbc/kinematics"
)

// Set is the ordered collection of contacts of one robot, at most one per link.
type Set struct {
	constraints []*Constraint
}

// Add registers a contact. A second contact on the same link is rejected.
func (s *Set) Add(c *Constraint) error {
	if _, ok := lo.Find(s.constraints, func(e *Constraint) bool { return e.LinkID == c.LinkID }); ok {
		return errors.Errorf("contact constraint already exists for link %q", c.LinkName)
	}
	s.constraints = append(s.constraints, c)
	return nil
}

// Clear removes every contact.
func (s *Set) Clear() {
	s.constraints = nil
}

// Len returns the number of registered contacts.
func (s *Set) Len() int {
	return len(s.constraints)
}

// At returns the i-th registered contact.
func (s *Set) At(i int) *Constraint {
	return s.constraints[i]
}

// All returns the registered contacts in registration order.
func (s *Set) All() []*Constraint {
	return s.constraints
}

// SetActive toggles contacts by registration order; it needs one flag per contact.
func (s *Set) SetActive(active ...bool) error {
	if len(active) != len(s.constraints) {
		return errors.Errorf("got %d contact flags for %d contacts", len(active), len(s.constraints))
	}
	for i, a := range active {
		s.constraints[i].Active = a
	}
	return nil
}

// Active returns the active contacts in registration order.
func (s *Set) Active() []*Constraint {
	return lo.Filter(s.constraints, func(c *Constraint, _ int) bool { return c.Active })
}

// ActiveLinks returns the link ids of the active contacts.
func (s *Set) ActiveLinks() []int {
	return lo.Map(s.Active(), func(c *Constraint, _ int) int { return c.LinkID })
}

// DoF returns the total wrench dimension of the active contacts.
func (s *Set) DoF() int {
	return lo.SumBy(s.Active(), func(c *Constraint) int { return c.DoF() })
}

// Rows returns the total inequality row count of the active contacts.
func (s *Set) Rows() int {
	return lo.SumBy(s.Active(), func(c *Constraint) int { return c.Rows() })
}

// Update refreshes every contact, active or not, from the current kinematics.
func (s *Set) Update(st *kinematics.State) {
	for _, c := range s.constraints {
		c.Update(st)
	}
}

// Jacobian stacks the Jacobians of the active contacts into a DoF()xN matrix. It returns nil when
// no contact is active.
func (s *Set) Jacobian() *mat.Dense {
	active := s.Active()
	if len(active) == 0 {
		return nil
	}
	_, n := active[0].Jacobian.Dims()
	out := mat.NewDense(s.DoF(), n, nil)
	row := 0
	for _, c := range active {
		out.Slice(row, row+c.DoF(), 0, n).(*mat.Dense).Copy(c.Jacobian)
		row += c.DoF()
	}
	return out
}

// WorldToLocal returns the block diagonal DoF()xDoF() rotation taking the stacked world-frame
// contact wrench into the stacked contact-frame wrench.
func (s *Set) WorldToLocal() *mat.Dense {
	dof := s.DoF()
	if dof == 0 {
		return nil
	}
	out := mat.NewDense(dof, dof, nil)
	idx := 0
	for _, c := range s.Active() {
		out.Slice(idx, idx+c.DoF(), idx, idx+c.DoF()).(*mat.Dense).Copy(c.WorldToLocal())
		idx += c.DoF()
	}
	return out
}

// ConstraintMatrix returns the block diagonal Rows()xDoF() inequality matrix of the active contacts
// acting on the stacked contact-frame wrench.
func (s *Set) ConstraintMatrix() *mat.Dense {
	rows, dof := s.Rows(), s.DoF()
	if dof == 0 {
		return nil
	}
	out := mat.NewDense(rows, dof, nil)
	r, col := 0, 0
	for _, c := range s.Active() {
		out.Slice(r, r+c.Rows(), col, col+c.DoF()).(*mat.Dense).Copy(c.ConstraintMatrix())
		r += c.Rows()
		col += c.DoF()
	}
	return out
}

// Clone deep copies the set.
func (s *Set) Clone() *Set {
	return &Set{constraints: lo.Map(s.constraints, func(c *Constraint, _ int) *Constraint { return c.Clone() })}
}
