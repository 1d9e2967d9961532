// Package contact represents the physical contacts of a robot with its environment and the linear
// inequalities (friction pyramid, zero-moment-point patch) that keep a contact wrench feasible.
package contact

import (
	"fmt"

	"github.com/golang/geo/r3"
	"github.com/pkg/errors"
	"gonum.org/v1/gonum/mat"

	"go.viam.com/wbc/kinematics"
	"go.viam.com/wbc/spatialmath"
)

// Type distinguishes planar patch contacts, which transmit a full wrench, from point contacts,
// which transmit only a force.
type Type int

const (
	// SixDoF is a planar patch contact constraining all six directions.
	SixDoF Type = iota
	// Point is a point contact constraining translation only.
	Point
)

// Constraint row counts.
const (
	ZMPRows   = 4
	ForceRows = 6
	PointRows = 5
)

// Default friction ratios along the contact x and y axes and about its normal.
const (
	DefaultFrictionX = 0.15
	DefaultFrictionY = 0.15
	DefaultFrictionZ = 0.05
)

func (t Type) String() string {
	switch t {
	case SixDoF:
		return "6d"
	case Point:
		return "point"
	default:
		return fmt.Sprintf("Type(%d)", int(t))
	}
}

// TypeFromString parses the name used in configuration files.
func TypeFromString(s string) (Type, error) {
	switch s {
	case "6d", "6D", "":
		return SixDoF, nil
	case "point":
		return Point, nil
	default:
		return 0, errors.Errorf("unknown contact type %q", s)
	}
}

// Constraint is one contact between a link and the environment. Point and Direction are in the link
// frame; the contact frame has its z axis along Direction. PlaneX and PlaneY are the half extents of
// the support patch.
type Constraint struct {
	LinkID    int
	LinkName  string
	Type      Type
	Active    bool
	Point     r3.Vector
	Direction r3.Vector
	PlaneX    float64
	PlaneY    float64
	FrictionX float64
	FrictionY float64
	FrictionZ float64

	// Updated from kinematics each cycle.
	Position r3.Vector
	Rotation *mat.Dense
	Jacobian *mat.Dense

	localRotation *mat.Dense
}

// New returns an active contact on the given link.
func New(linkID int, linkName string, typ Type, point, direction r3.Vector, planeX, planeY float64) (*Constraint, error) {
	if typ != SixDoF && typ != Point {
		return nil, errors.Errorf("unsupported contact type %v", typ)
	}
	if direction.Norm() == 0 {
		return nil, errors.Errorf("contact on %q has a zero direction", linkName)
	}
	if planeX < 0 || planeY < 0 {
		return nil, errors.Errorf("contact on %q has negative patch size (%v, %v)", linkName, planeX, planeY)
	}
	return &Constraint{
		LinkID:        linkID,
		LinkName:      linkName,
		Type:          typ,
		Active:        true,
		Point:         point,
		Direction:     direction,
		PlaneX:        planeX,
		PlaneY:        planeY,
		FrictionX:     DefaultFrictionX,
		FrictionY:     DefaultFrictionY,
		FrictionZ:     DefaultFrictionZ,
		Rotation:      spatialmath.Identity3(),
		localRotation: spatialmath.RotationAligning(r3.Vector{Z: 1}, direction),
	}, nil
}

// DoF returns the number of wrench components the contact transmits.
func (c *Constraint) DoF() int {
	if c.Type == Point {
		return 3
	}
	return 6
}

// Rows returns the number of inequality rows in ConstraintMatrix.
func (c *Constraint) Rows() int {
	if c.Type == Point {
		return PointRows
	}
	return ZMPRows + ForceRows
}

// SetFrictionRatio sets the friction coefficients along x, y and the torsional ratio about z.
func (c *Constraint) SetFrictionRatio(x, y, z float64) error {
	if x < 0 || y < 0 || z < 0 {
		return errors.Errorf("friction ratios must be non-negative, got (%v, %v, %v)", x, y, z)
	}
	c.FrictionX, c.FrictionY, c.FrictionZ = x, y, z
	return nil
}

// Update recomputes the world pose and Jacobian of the contact from the link kinematics.
func (c *Constraint) Update(s *kinematics.State) {
	ls := s.Links[c.LinkID]
	c.Position = s.PointPosition(c.LinkID, c.Point)
	var rot mat.Dense
	rot.Mul(ls.Rotation, c.localRotation)
	c.Rotation = &rot
	jac := s.PointJacobian(c.LinkID, c.Point)
	if c.Type == Point {
		_, n := jac.Dims()
		c.Jacobian = mat.DenseCopyOf(jac.Slice(0, 3, 0, n))
		return
	}
	c.Jacobian = jac
}

// ZMPConstMatrix returns the 4x6 rows keeping the zero moment point inside the patch, acting on a
// contact-frame wrench (fx, fy, fz, mx, my, mz): |mx| ≤ PlaneY·fz and |my| ≤ PlaneX·fz.
func (c *Constraint) ZMPConstMatrix() *mat.Dense {
	return mat.NewDense(ZMPRows, 6, []float64{
		0, 0, -c.PlaneY, 1, 0, 0,
		0, 0, -c.PlaneY, -1, 0, 0,
		0, 0, -c.PlaneX, 0, 1, 0,
		0, 0, -c.PlaneX, 0, -1, 0,
	})
}

// ForceConstMatrix returns the 6x6 friction pyramid rows acting on a contact-frame wrench:
// |fx| ≤ μx·fz, |fy| ≤ μy·fz and |mz| ≤ μz·fz. Together they imply fz ≥ 0.
func (c *Constraint) ForceConstMatrix() *mat.Dense {
	return mat.NewDense(ForceRows, 6, []float64{
		1, 0, -c.FrictionX, 0, 0, 0,
		-1, 0, -c.FrictionX, 0, 0, 0,
		0, 1, -c.FrictionY, 0, 0, 0,
		0, -1, -c.FrictionY, 0, 0, 0,
		0, 0, -c.FrictionZ, 0, 0, 1,
		0, 0, -c.FrictionZ, 0, 0, -1,
	})
}

// PointConstMatrix returns the 5x3 rows for a point contact: the friction pyramid plus fz ≥ 0.
func (c *Constraint) PointConstMatrix() *mat.Dense {
	return mat.NewDense(PointRows, 3, []float64{
		1, 0, -c.FrictionX,
		-1, 0, -c.FrictionX,
		0, 1, -c.FrictionY,
		0, -1, -c.FrictionY,
		0, 0, -1,
	})
}

// ConstraintMatrix returns the Rows()xDoF() matrix C with C·f ≤ 0 for every feasible contact-frame
// wrench f.
func (c *Constraint) ConstraintMatrix() *mat.Dense {
	if c.Type == Point {
		return c.PointConstMatrix()
	}
	out := mat.NewDense(ZMPRows+ForceRows, 6, nil)
	out.Slice(0, ZMPRows, 0, 6).(*mat.Dense).Copy(c.ZMPConstMatrix())
	out.Slice(ZMPRows, ZMPRows+ForceRows, 0, 6).(*mat.Dense).Copy(c.ForceConstMatrix())
	return out
}

// WorldToLocal returns the DoF()xDoF() block diagonal matrix mapping a world-frame contact wrench
// into the contact frame.
func (c *Constraint) WorldToLocal() *mat.Dense {
	dof := c.DoF()
	out := mat.NewDense(dof, dof, nil)
	for b := 0; b < dof; b += 3 {
		out.Slice(b, b+3, b, b+3).(*mat.Dense).Copy(c.Rotation.T())
	}
	return out
}

// Violation returns the largest entry of C·(Rᵀ·f) for a world-frame wrench f; feasible wrenches give
// a value ≤ 0.
func (c *Constraint) Violation(force mat.Vector) float64 {
	var local, rows mat.VecDense
	local.MulVec(c.WorldToLocal(), force)
	rows.MulVec(c.ConstraintMatrix(), &local)
	return mat.Max(&rows)
}

// Clone returns a deep copy of the constraint.
func (c *Constraint) Clone() *Constraint {
	out := *c
	if c.Rotation != nil {
		out.Rotation = mat.DenseCopyOf(c.Rotation)
	}
	if c.Jacobian != nil {
		out.Jacobian = mat.DenseCopyOf(c.Jacobian)
	}
	out.localRotation = mat.DenseCopyOf(c.localRotation)
	return &out
}
