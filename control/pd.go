// Package control holds the task-space feedback laws and setpoint profiles that produce the desired
// task accelerations fed to the whole-body controller.
package control

import (
	"github.com/golang/geo/r3"
	"github.com/pkg/errors"
	"gonum.org/v1/gonum/mat"

	"go.viam.com/wbc/spatialmath"
)

// Gains are proportional and derivative gains of a PD law.
type Gains struct {
	Kp float64 `json:"kp"`
	Kd float64 `json:"kd"`
}

// DefaultGains is a critically damped unit-mass response with a natural frequency of 10 rad/s.
var DefaultGains = Gains{Kp: 100, Kd: 20}

// Validate rejects negative gains.
func (g Gains) Validate() error {
	if g.Kp < 0 || g.Kd < 0 {
		return errors.Errorf("pd gains must be non-negative, got kp=%v kd=%v", g.Kp, g.Kd)
	}
	return nil
}

// IsZero reports whether both gains are unset.
func (g Gains) IsZero() bool {
	return g.Kp == 0 && g.Kd == 0
}

// PositionPD returns kp·(p_d − p) + kd·(v_d − v).
func (g Gains) PositionPD(desiredPos, desiredVel, pos, vel r3.Vector) r3.Vector {
	return desiredPos.Sub(pos).Mul(g.Kp).Add(desiredVel.Sub(vel).Mul(g.Kd))
}

// RotationPD returns kp·e_R + kd·(ω_d − ω), where e_R is the world-frame rotation vector taking rot
// to desiredRot.
func (g Gains) RotationPD(desiredRot mat.Matrix, desiredAngVel r3.Vector, rot mat.Matrix, angVel r3.Vector) r3.Vector {
	return spatialmath.RotationError(rot, desiredRot).Mul(g.Kp).Add(desiredAngVel.Sub(angVel).Mul(g.Kd))
}
