package control

import (
	"math"

	"github.com/golang/geo/r3"
	"github.com/pkg/errors"
	"gonum.org/v1/gonum/mat"

	"go.viam.com/wbc/spatialmath"
)

// Setpoint is a desired task pose and twist in the world frame. A nil Rotation means the setpoint
// only constrains position.
type Setpoint struct {
	Position        r3.Vector
	Velocity        r3.Vector
	Rotation        *mat.Dense
	AngularVelocity r3.Vector
}

// Clone deep copies the setpoint.
func (s Setpoint) Clone() Setpoint {
	if s.Rotation != nil {
		s.Rotation = mat.DenseCopyOf(s.Rotation)
	}
	return s
}

// TrapezoidProfile bounds the speed and acceleration along a point to point move.
type TrapezoidProfile struct {
	MaxVel float64 `json:"max_vel"`
	MaxAcc float64 `json:"max_acc"`
}

// Validate checks that both limits are positive.
func (p TrapezoidProfile) Validate() error {
	if p.MaxVel <= 0 || p.MaxAcc <= 0 {
		return errors.Errorf("trapezoid profile needs positive max_vel and max_acc, got %v and %v", p.MaxVel, p.MaxAcc)
	}
	return nil
}

// peak returns the cruise speed and the duration of each ramp for a move of length d.
func (p TrapezoidProfile) peak(d float64) (float64, float64) {
	vPeak := math.Min(math.Sqrt(d*p.MaxAcc), p.MaxVel)
	return vPeak, vPeak / p.MaxAcc
}

// Duration returns how long a move of length d takes.
func (p TrapezoidProfile) Duration(d float64) float64 {
	d = math.Abs(d)
	if d == 0 {
		return 0
	}
	vPeak, tAcc := p.peak(d)
	return 2*tAcc + (d-vPeak*tAcc)/vPeak
}

// Sample returns the traveled fraction of a move of length d after t seconds, and its rate of
// change.
func (p TrapezoidProfile) Sample(d, t float64) (float64, float64) {
	d = math.Abs(d)
	if d == 0 {
		return 1, 0
	}
	vPeak, tAcc := p.peak(d)
	total := p.Duration(d)
	var dist, vel float64
	switch {
	case t <= 0:
		return 0, 0
	case t >= total:
		return 1, 0
	case t < tAcc:
		dist, vel = 0.5*p.MaxAcc*t*t, p.MaxAcc*t
	case t < total-tAcc:
		dist, vel = 0.5*vPeak*tAcc+vPeak*(t-tAcc), vPeak
	default:
		rem := total - t
		dist, vel = d-0.5*p.MaxAcc*rem*rem, p.MaxAcc*rem
	}
	return dist / d, vel / d
}

// Trajectory moves a setpoint from one pose to another along straight lines, with the translation
// and the rotation angle each following a trapezoid speed profile.
type Trajectory struct {
	start   float64
	profile TrapezoidProfile
	from    Setpoint
	to      Setpoint

	delta r3.Vector
	axis  r3.Vector
	angle float64
}

// NewTrajectory plans a move starting at control time start. Rotation is interpolated only when
// both endpoints have one.
func NewTrajectory(start float64, profile TrapezoidProfile, from, to Setpoint) (*Trajectory, error) {
	if err := profile.Validate(); err != nil {
		return nil, err
	}
	tr := &Trajectory{start: start, profile: profile, from: from.Clone(), to: to.Clone()}
	tr.delta = to.Position.Sub(from.Position)
	if from.Rotation != nil && to.Rotation != nil {
		rv := spatialmath.RotationError(from.Rotation, to.Rotation)
		tr.angle = rv.Norm()
		if tr.angle > 0 {
			tr.axis = rv.Mul(1 / tr.angle)
		}
	}
	return tr, nil
}

// Duration returns the time the slower of the two components needs.
func (tr *Trajectory) Duration() float64 {
	return math.Max(tr.profile.Duration(tr.delta.Norm()), tr.profile.Duration(tr.angle))
}

// At samples the trajectory at control time t. Before the start it holds the initial pose and
// after the end the final one.
func (tr *Trajectory) At(t float64) Setpoint {
	elapsed := t - tr.start
	out := Setpoint{}

	d := tr.delta.Norm()
	s, ds := tr.profile.Sample(d, elapsed)
	out.Position = tr.from.Position.Add(tr.delta.Mul(s))
	out.Velocity = tr.delta.Mul(ds)

	switch {
	case tr.from.Rotation != nil && tr.to.Rotation != nil && tr.angle > 0:
		s, ds := tr.profile.Sample(tr.angle, elapsed)
		var rot mat.Dense
		rot.Mul(spatialmath.RotationFromAxisAngle(tr.axis, s*tr.angle), tr.from.Rotation)
		out.Rotation = &rot
		out.AngularVelocity = tr.axis.Mul(tr.angle * ds)
	case tr.to.Rotation != nil:
		out.Rotation = mat.DenseCopyOf(tr.to.Rotation)
	}
	return out
}
