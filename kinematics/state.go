package kinematics

import (
	"github.com/golang/geo/r3"
	"github.com/pkg/errors"
	"gonum.org/v1/gonum/mat"
	"gonum.org/v1/gonum/num/quat"

	"go.viam.com/wbc/referenceframe"
	"go.viam.com/wbc/spatialmath"
)

// Gravity is the world-frame gravitational acceleration.
var Gravity = r3.Vector{Z: -9.81}

// LinkState is the world-frame kinematics of one link for one configuration.
type LinkState struct {
	Position        r3.Vector
	Rotation        *mat.Dense
	COM             r3.Vector
	Velocity        r3.Vector
	AngularVelocity r3.Vector
	COMVelocity     r3.Vector
	// Jacobian and COMJacobian are 6xN with linear rows first, taken at the link origin and at
	// the link center of mass.
	Jacobian    *mat.Dense
	COMJacobian *mat.Dense

	jointOrigin r3.Vector
	jointAxis   r3.Vector
}

// State is the result of evaluating a Model at one configuration: per-link kinematics plus the
// joint-space dynamics A·q̈ + B = Sᵀ·τ + J_Cᵀ·F, where G is the gravity part of B.
type State struct {
	Q     []float64
	QDot  []float64
	QDDot []float64
	Links []LinkState
	A     *mat.SymDense
	B     *mat.VecDense
	G     *mat.VecDense

	Mass        float64
	COM         r3.Vector
	COMVelocity r3.Vector
	// COMJacobian is 3xN.
	COMJacobian *mat.Dense
}

// Compute evaluates forward kinematics and dynamics. qddot may be nil; it is recorded but does not
// enter B, which is evaluated at zero acceleration.
func (m *Model) Compute(q, qdot, qddot []float64) (*State, error) {
	n := m.SystemDoF()
	if len(q) != m.PositionSize() {
		return nil, errors.Errorf("position vector has %d entries, model %q needs %d", len(q), m.name, m.PositionSize())
	}
	if len(qdot) != n {
		return nil, errors.Errorf("velocity vector has %d entries, model %q needs %d", len(qdot), m.name, n)
	}
	if qddot == nil {
		qddot = make([]float64, n)
	} else if len(qddot) != n {
		return nil, errors.Errorf("acceleration vector has %d entries, model %q needs %d", len(qddot), m.name, n)
	}

	s := &State{
		Q:     append([]float64{}, q...),
		QDot:  append([]float64{}, qdot...),
		QDDot: append([]float64{}, qddot...),
		Links: make([]LinkState, len(m.links)),
		Mass:  m.mass,
	}
	m.forwardKinematics(s)
	m.dynamics(s)
	return s, nil
}

func (m *Model) forwardKinematics(s *State) {
	n := m.SystemDoF()
	qdot := mat.NewVecDense(n, s.QDot)
	for id := range m.links {
		link := &m.links[id]
		ls := &s.Links[id]
		if link.Parent < 0 {
			ls.Rotation = spatialmath.Identity3()
			if m.floating {
				q := s.Q
				ls.Position = r3.Vector{X: q[0], Y: q[1], Z: q[2]}
				ls.Rotation = spatialmath.QuatToRotation(quat.Number{Real: q[len(q)-1], Imag: q[3], Jmag: q[4], Kmag: q[5]})
			}
		} else {
			parent := &s.Links[link.Parent]
			var jointRot mat.Dense
			jointRot.Mul(parent.Rotation, link.Joint.Rotation)
			ls.jointOrigin = parent.Position.Add(spatialmath.RotateVector(parent.Rotation, link.Joint.Translation))
			ls.jointAxis = spatialmath.RotateVector(&jointRot, link.Joint.Axis)
			ls.Position = ls.jointOrigin
			switch link.Joint.Type {
			case referenceframe.RevoluteJoint:
				var rot mat.Dense
				rot.Mul(&jointRot, spatialmath.RotationFromAxisAngle(link.Joint.Axis, s.Q[link.Joint.DoFIndex]))
				ls.Rotation = &rot
			case referenceframe.PrismaticJoint:
				ls.Rotation = &jointRot
				ls.Position = ls.Position.Add(ls.jointAxis.Mul(s.Q[link.Joint.DoFIndex]))
			default:
				ls.Rotation = &jointRot
			}
		}
		ls.COM = ls.Position.Add(spatialmath.RotateVector(ls.Rotation, link.Inertia.COM))

		ls.Jacobian = mat.NewDense(6, n, nil)
		ls.COMJacobian = mat.NewDense(6, n, nil)
		m.pointJacobian(s, id, ls.Position, ls.Jacobian)
		m.pointJacobian(s, id, ls.COM, ls.COMJacobian)

		var twist, comVel mat.VecDense
		twist.MulVec(ls.Jacobian, qdot)
		ls.Velocity = spatialmath.VecToR3(&twist, 0)
		ls.AngularVelocity = spatialmath.VecToR3(&twist, 3)
		comVel.MulVec(ls.COMJacobian.Slice(0, 3, 0, n), qdot)
		ls.COMVelocity = spatialmath.VecToR3(&comVel, 0)
	}
}

// pointJacobian fills out with the 6xN Jacobian of the world point x rigidly attached to link id.
func (m *Model) pointJacobian(s *State, id int, x r3.Vector, out *mat.Dense) {
	for _, a := range m.ancestors[id] {
		link := &m.links[a]
		ls := &s.Links[a]
		col := link.Joint.DoFIndex
		switch link.Joint.Type {
		case referenceframe.RevoluteJoint:
			setColumn(out, 0, col, ls.jointAxis.Cross(x.Sub(ls.jointOrigin)))
			setColumn(out, 3, col, ls.jointAxis)
		case referenceframe.PrismaticJoint:
			setColumn(out, 0, col, ls.jointAxis)
		case referenceframe.FloatingJoint:
			// v_x = v_0 + ω × (x - p_0)
			r := x.Sub(ls.Position)
			for i := 0; i < 3; i++ {
				out.Set(i, i, 1)
				out.Set(3+i, 3+i, 1)
			}
			out.Slice(0, 3, 3, 6).(*mat.Dense).Scale(-1, spatialmath.Skew(r))
		}
	}
}

func setColumn(out *mat.Dense, row, col int, v r3.Vector) {
	out.Set(row, col, v.X)
	out.Set(row+1, col, v.Y)
	out.Set(row+2, col, v.Z)
}

// dynamics accumulates A, B and G from the composite-body expressions
// A = Σ mJ_cᵀJ_c + J_ωᵀI_wJ_ω and B = Σ J_cᵀm(a_c - g) + J_ωᵀ(I_wα + ω×I_wω) at q̈ = 0.
func (m *Model) dynamics(s *State) {
	n := m.SystemDoF()
	full := mat.NewDense(n, n, nil)
	s.B = mat.NewVecDense(n, nil)
	s.G = mat.NewVecDense(n, nil)
	s.COMJacobian = mat.NewDense(3, n, nil)

	omega := make([]r3.Vector, len(m.links))
	alpha := make([]r3.Vector, len(m.links))
	accel := make([]r3.Vector, len(m.links))

	var f mat.VecDense
	for id := range m.links {
		link := &m.links[id]
		ls := &s.Links[id]
		if link.Parent < 0 {
			omega[id] = ls.AngularVelocity
		} else {
			p := link.Parent
			r := ls.Position.Sub(s.Links[p].Position)
			omega[id], alpha[id] = omega[p], alpha[p]
			accel[id] = accel[p].Add(alpha[p].Cross(r)).Add(omega[p].Cross(omega[p].Cross(r)))
			if col := link.Joint.DoFIndex; col >= 0 {
				zq := ls.jointAxis.Mul(s.QDot[col])
				switch link.Joint.Type {
				case referenceframe.RevoluteJoint:
					omega[id] = omega[p].Add(zq)
					alpha[id] = alpha[p].Add(omega[p].Cross(zq))
				case referenceframe.PrismaticJoint:
					accel[id] = accel[id].Add(omega[p].Cross(zq).Mul(2))
				}
			}
		}

		mass := link.Inertia.Mass
		jv := ls.COMJacobian.Slice(0, 3, 0, n)
		jw := ls.COMJacobian.Slice(3, 6, 0, n)

		var rotI, iw, lin, jwI, ang mat.Dense
		rotI.Mul(ls.Rotation, link.Inertia.Inertia)
		iw.Mul(&rotI, ls.Rotation.T())

		lin.Mul(jv.T(), jv)
		lin.Scale(mass, &lin)
		full.Add(full, &lin)
		jwI.Mul(jw.T(), &iw)
		ang.Mul(&jwI, jw)
		full.Add(full, &ang)

		d := ls.COM.Sub(ls.Position)
		comAccel := accel[id].Add(alpha[id].Cross(d)).Add(omega[id].Cross(omega[id].Cross(d)))
		force := comAccel.Sub(Gravity).Mul(mass)
		iwOmega := spatialmath.RotateVector(&iw, omega[id])
		moment := spatialmath.RotateVector(&iw, alpha[id]).Add(omega[id].Cross(iwOmega))

		f.MulVec(jv.T(), spatialmath.R3ToVec(force))
		s.B.AddVec(s.B, &f)
		f.MulVec(jw.T(), spatialmath.R3ToVec(moment))
		s.B.AddVec(s.B, &f)
		f.MulVec(jv.T(), spatialmath.R3ToVec(Gravity.Mul(-mass)))
		s.G.AddVec(s.G, &f)

		if mass > 0 {
			var weighted mat.Dense
			weighted.Scale(mass, jv)
			s.COMJacobian.Add(s.COMJacobian, &weighted)
			s.COM = s.COM.Add(ls.COM.Mul(mass))
		}
	}

	s.A = mat.NewSymDense(n, nil)
	for i := 0; i < n; i++ {
		for j := i; j < n; j++ {
			s.A.SetSym(i, j, 0.5*(full.At(i, j)+full.At(j, i)))
		}
	}
	if s.Mass > 0 {
		s.COM = s.COM.Mul(1 / s.Mass)
		s.COMJacobian.Scale(1/s.Mass, s.COMJacobian)
	}
	var v mat.VecDense
	v.MulVec(s.COMJacobian, mat.NewVecDense(n, s.QDot))
	s.COMVelocity = spatialmath.VecToR3(&v, 0)
}

// PointJacobian returns the 6xN Jacobian of a point fixed to link id at offset in the link frame.
func (s *State) PointJacobian(id int, offset r3.Vector) *mat.Dense {
	ls := &s.Links[id]
	n := ls.Jacobian.RawMatrix().Cols
	out := mat.DenseCopyOf(ls.Jacobian)
	r := spatialmath.RotateVector(ls.Rotation, offset)
	if r.Norm() == 0 {
		return out
	}
	// J_v(x) = J_v(o) - [r]× J_ω
	var shift mat.Dense
	shift.Mul(spatialmath.Skew(r), ls.Jacobian.Slice(3, 6, 0, n))
	lin := out.Slice(0, 3, 0, n).(*mat.Dense)
	lin.Sub(lin, &shift)
	return out
}

// PointPosition returns the world position of a point fixed to link id at offset in the link frame.
func (s *State) PointPosition(id int, offset r3.Vector) r3.Vector {
	ls := &s.Links[id]
	return ls.Position.Add(spatialmath.RotateVector(ls.Rotation, offset))
}

// PointVelocity returns the world velocity of a point fixed to link id at offset in the link frame.
func (s *State) PointVelocity(id int, offset r3.Vector) r3.Vector {
	ls := &s.Links[id]
	return ls.Velocity.Add(ls.AngularVelocity.Cross(spatialmath.RotateVector(ls.Rotation, offset)))
}

// Clone returns a deep copy that shares no matrices with s.
func (s *State) Clone() *State {
	out := *s
	out.Q = append([]float64{}, s.Q...)
	out.QDot = append([]float64{}, s.QDot...)
	out.QDDot = append([]float64{}, s.QDDot...)
	out.Links = make([]LinkState, len(s.Links))
	for i, ls := range s.Links {
		ls.Rotation = mat.DenseCopyOf(ls.Rotation)
		ls.Jacobian = mat.DenseCopyOf(ls.Jacobian)
		ls.COMJacobian = mat.DenseCopyOf(ls.COMJacobian)
		out.Links[i] = ls
	}
	out.A = mat.NewSymDense(s.A.SymmetricDim(), nil)
	out.A.CopySym(s.A)
	out.B = mat.VecDenseCopyOf(s.B)
	out.G = mat.VecDenseCopyOf(s.G)
	out.COMJacobian = mat.DenseCopyOf(s.COMJacobian)
	return &out
}
