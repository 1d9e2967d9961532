package spatialmath

import (
	"github.com/golang/geo/r3"
	"gonum.org/v1/gonum/mat"
)

// SpatialInertia describes a rigid body relative to a reference frame: its mass, the position of
// its center of mass in that frame, and its rotational inertia about the center of mass expressed
// in that frame's axes.
type SpatialInertia struct {
	Mass    float64
	COM     r3.Vector
	Inertia *mat.Dense
}

// NewSpatialInertia returns a SpatialInertia, copying the inertia tensor. A nil tensor is zero.
func NewSpatialInertia(mass float64, com r3.Vector, inertia mat.Matrix) SpatialInertia {
	in := mat.NewDense(3, 3, nil)
	if inertia != nil {
		in.Copy(inertia)
	}
	return SpatialInertia{Mass: mass, COM: com, Inertia: in}
}

// Matrix returns the 6x6 spatial inertia about the reference origin in (linear, angular) order:
//
//	[ m·I      -m·[c]×           ]
//	[ m·[c]×   I_c - m·[c]×·[c]× ]
func (si SpatialInertia) Matrix() *mat.Dense {
	out := mat.NewDense(6, 6, nil)
	sc := Skew(si.COM)
	for i := 0; i < 3; i++ {
		out.Set(i, i, si.Mass)
	}
	var msc mat.Dense
	msc.Scale(si.Mass, sc)
	out.Slice(3, 6, 0, 3).(*mat.Dense).Copy(&msc)
	// [c]×ᵀ = -[c]×
	out.Slice(0, 3, 3, 6).(*mat.Dense).Copy(msc.T())
	out.Slice(3, 6, 3, 6).(*mat.Dense).Copy(si.InertiaAbout(r3.Vector{}))
	return out
}

// InertiaAbout returns the rotational inertia about point (parallel axis theorem).
func (si SpatialInertia) InertiaAbout(point r3.Vector) *mat.Dense {
	d := si.COM.Sub(point)
	sd := Skew(d)
	var out mat.Dense
	out.Mul(sd, sd)
	out.Scale(-si.Mass, &out)
	if si.Inertia != nil {
		out.Add(&out, si.Inertia)
	}
	return &out
}

// Transform re-expresses the inertia in a parent frame, given the rotation and origin of the
// current reference frame in the parent frame.
func (si SpatialInertia) Transform(rot mat.Matrix, origin r3.Vector) SpatialInertia {
	var rotated, tmp mat.Dense
	tmp.Mul(rot, si.Inertia)
	rotated.Mul(&tmp, rot.T())
	return SpatialInertia{
		Mass:    si.Mass,
		COM:     origin.Add(RotateVector(rot, si.COM)),
		Inertia: &rotated,
	}
}

// Add returns the composite body of two inertias expressed in the same frame.
func (si SpatialInertia) Add(other SpatialInertia) SpatialInertia {
	mass := si.Mass + other.Mass
	if mass == 0 {
		return NewSpatialInertia(0, r3.Vector{}, nil)
	}
	com := si.COM.Mul(si.Mass).Add(other.COM.Mul(other.Mass)).Mul(1 / mass)
	var inertia mat.Dense
	inertia.Add(si.InertiaAbout(com), other.InertiaAbout(com))
	return SpatialInertia{Mass: mass, COM: com, Inertia: &inertia}
}

// DecomposeSpatialInertia recovers mass, center of mass and central inertia from a 6x6 spatial
// inertia matrix laid out as in Matrix.
func DecomposeSpatialInertia(m mat.Matrix) SpatialInertia {
	mass := m.At(0, 0)
	if mass == 0 {
		return NewSpatialInertia(0, r3.Vector{}, nil)
	}
	// lower-left block is m·[c]×
	com := r3.Vector{
		X: m.At(5, 1) / mass,
		Y: m.At(3, 2) / mass,
		Z: m.At(4, 0) / mass,
	}
	sc := Skew(com)
	var cc mat.Dense
	cc.Mul(sc, sc)
	cc.Scale(mass, &cc)
	inertia := mat.NewDense(3, 3, nil)
	inertia.Copy(mat.DenseCopyOf(m).Slice(3, 6, 3, 6))
	inertia.Add(inertia, &cc)
	return SpatialInertia{Mass: mass, COM: com, Inertia: inertia}
}
