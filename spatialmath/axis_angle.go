package spatialmath

import (
	"math"

	"github.com/golang/geo/r3"
	"gonum.org/v1/gonum/mat"
	"gonum.org/v1/gonum/num/quat"
)

// AxisAngle is a rotation of Theta radians about a unit Axis.
type AxisAngle struct {
	Theta float64   `json:"theta"`
	Axis  r3.Vector `json:"axis"`
}

var zeroAxisAngle = AxisAngle{Axis: r3.Vector{Z: 1}}

// AxisAngleFromQuat converts a unit quaternion, choosing the hemisphere that keeps Theta in [0, pi].
func AxisAngleFromQuat(q quat.Number) AxisAngle {
	if q.Real < 0 {
		q = quat.Scale(-1, q)
	}
	v := r3.Vector{X: q.Imag, Y: q.Jmag, Z: q.Kmag}
	sinHalf := v.Norm()
	if sinHalf < 1e-12 {
		return zeroAxisAngle
	}
	return AxisAngle{Theta: 2 * math.Atan2(sinHalf, q.Real), Axis: v.Mul(1 / sinHalf)}
}

// AxisAngleFromVector splits a rotation vector into its angle and direction.
func AxisAngleFromVector(w r3.Vector) AxisAngle {
	theta := w.Norm()
	if theta == 0 {
		return zeroAxisAngle
	}
	return AxisAngle{Theta: theta, Axis: w.Mul(1 / theta)}
}

// Vector returns Theta*Axis, the form used as the orientation error of rotation tasks.
func (aa AxisAngle) Vector() r3.Vector {
	return aa.Axis.Mul(aa.Theta)
}

// RotationMatrix returns the 3x3 rotation matrix. A zero axis is treated as no rotation.
func (aa AxisAngle) RotationMatrix() *mat.Dense {
	return RotationFromAxisAngle(aa.Axis, aa.Theta)
}
