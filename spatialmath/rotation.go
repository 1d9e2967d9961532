package spatialmath

import (
	"math"

	"github.com/golang/geo/r3"
	"gonum.org/v1/gonum/mat"
	"gonum.org/v1/gonum/num/quat"
)

// Identity3 returns a fresh 3x3 identity matrix.
func Identity3() *mat.Dense {
	return mat.NewDense(3, 3, []float64{1, 0, 0, 0, 1, 0, 0, 0, 1})
}

// QuatToRotation converts a unit quaternion to a 3x3 rotation matrix.
func QuatToRotation(q quat.Number) *mat.Dense {
	norm := quat.Abs(q)
	if norm == 0 {
		return Identity3()
	}
	q = quat.Scale(1/norm, q)
	w, x, y, z := q.Real, q.Imag, q.Jmag, q.Kmag
	return mat.NewDense(3, 3, []float64{
		1 - 2*(y*y+z*z), 2 * (x*y - w*z), 2 * (x*z + w*y),
		2 * (x*y + w*z), 1 - 2*(x*x+z*z), 2 * (y*z - w*x),
		2 * (x*z - w*y), 2 * (y*z + w*x), 1 - 2*(x*x+y*y),
	})
}

// RotationToQuat converts a 3x3 rotation matrix to a unit quaternion with non-negative real part.
func RotationToQuat(rot mat.Matrix) quat.Number {
	m00, m01, m02 := rot.At(0, 0), rot.At(0, 1), rot.At(0, 2)
	m10, m11, m12 := rot.At(1, 0), rot.At(1, 1), rot.At(1, 2)
	m20, m21, m22 := rot.At(2, 0), rot.At(2, 1), rot.At(2, 2)

	var q quat.Number
	trace := m00 + m11 + m22
	switch {
	case trace > 0:
		s := 2 * math.Sqrt(trace+1)
		q = quat.Number{Real: s / 4, Imag: (m21 - m12) / s, Jmag: (m02 - m20) / s, Kmag: (m10 - m01) / s}
	case m00 > m11 && m00 > m22:
		s := 2 * math.Sqrt(1+m00-m11-m22)
		q = quat.Number{Real: (m21 - m12) / s, Imag: s / 4, Jmag: (m01 + m10) / s, Kmag: (m02 + m20) / s}
	case m11 > m22:
		s := 2 * math.Sqrt(1+m11-m00-m22)
		q = quat.Number{Real: (m02 - m20) / s, Imag: (m01 + m10) / s, Jmag: s / 4, Kmag: (m12 + m21) / s}
	default:
		s := 2 * math.Sqrt(1+m22-m00-m11)
		q = quat.Number{Real: (m10 - m01) / s, Imag: (m02 + m20) / s, Jmag: (m12 + m21) / s, Kmag: s / 4}
	}
	if q.Real < 0 {
		q = quat.Scale(-1, q)
	}
	return quat.Scale(1/quat.Abs(q), q)
}

// RotationFromAxisAngle returns the rotation of theta radians about axis (Rodrigues' formula).
func RotationFromAxisAngle(axis r3.Vector, theta float64) *mat.Dense {
	norm := axis.Norm()
	if norm == 0 || theta == 0 {
		return Identity3()
	}
	k := axis.Mul(1 / norm)
	c, s := math.Cos(theta), math.Sin(theta)
	v := 1 - c
	return mat.NewDense(3, 3, []float64{
		k.X*k.X*v + c, k.X*k.Y*v - k.Z*s, k.X*k.Z*v + k.Y*s,
		k.X*k.Y*v + k.Z*s, k.Y*k.Y*v + c, k.Y*k.Z*v - k.X*s,
		k.X*k.Z*v - k.Y*s, k.Y*k.Z*v + k.X*s, k.Z*k.Z*v + c,
	})
}

// RotationFromRPY returns Rz(yaw)·Ry(pitch)·Rx(roll), the fixed-axis convention used by URDF origins.
func RotationFromRPY(roll, pitch, yaw float64) *mat.Dense {
	cr, sr := math.Cos(roll), math.Sin(roll)
	cp, sp := math.Cos(pitch), math.Sin(pitch)
	cy, sy := math.Cos(yaw), math.Sin(yaw)
	return mat.NewDense(3, 3, []float64{
		cy * cp, cy*sp*sr - sy*cr, cy*sp*cr + sy*sr,
		sy * cp, sy*sp*sr + cy*cr, sy*sp*cr - cy*sr,
		-sp, cp * sr, cp * cr,
	})
}

// RotationAligning returns the smallest rotation taking direction from onto direction to.
func RotationAligning(from, to r3.Vector) *mat.Dense {
	a, b := from.Normalize(), to.Normalize()
	if a.Norm() == 0 || b.Norm() == 0 {
		return Identity3()
	}
	axis := a.Cross(b)
	sinT := axis.Norm()
	cosT := a.Dot(b)
	if sinT < 1e-12 {
		if cosT > 0 {
			return Identity3()
		}
		// Antiparallel: rotate by pi about any axis orthogonal to a.
		return RotationFromAxisAngle(a.Ortho(), math.Pi)
	}
	return RotationFromAxisAngle(axis, math.Atan2(sinT, cosT))
}

// RotationError returns the world-frame rotation vector of desired·currentᵀ, i.e. the axis-angle
// rotation that takes the current orientation to the desired one.
func RotationError(current, desired mat.Matrix) r3.Vector {
	var diff mat.Dense
	diff.Mul(desired, current.T())
	return AxisAngleFromQuat(RotationToQuat(&diff)).Vector()
}

// RotateVector returns rot·v.
func RotateVector(rot mat.Matrix, v r3.Vector) r3.Vector {
	return r3.Vector{
		X: rot.At(0, 0)*v.X + rot.At(0, 1)*v.Y + rot.At(0, 2)*v.Z,
		Y: rot.At(1, 0)*v.X + rot.At(1, 1)*v.Y + rot.At(1, 2)*v.Z,
		Z: rot.At(2, 0)*v.X + rot.At(2, 1)*v.Y + rot.At(2, 2)*v.Z,
	}
}

// Column returns column j of a 3x3 matrix as a vector.
func Column(rot mat.Matrix, j int) r3.Vector {
	return r3.Vector{X: rot.At(0, j), Y: rot.At(1, j), Z: rot.At(2, j)}
}
