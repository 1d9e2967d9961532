package control

import (
	"math"
	"testing"

	"github.com/golang/geo/r3"
	"go.viam.com/test"
	"gonum.org/v1/gonum/mat"

	"go.viam.com/wbc/spatialmath"
)

func TestGains(t *testing.T) {
	g := Gains{Kp: 10, Kd: 2}
	test.That(t, g.Validate(), test.ShouldBeNil)
	test.That(t, Gains{Kp: -1}.Validate(), test.ShouldNotBeNil)
	test.That(t, Gains{}.IsZero(), test.ShouldBeTrue)

	f := g.PositionPD(r3.Vector{X: 1}, r3.Vector{Y: 1}, r3.Vector{}, r3.Vector{Y: 0.5})
	test.That(t, f.X, test.ShouldAlmostEqual, 10)
	test.That(t, f.Y, test.ShouldAlmostEqual, 1)

	desired := spatialmath.RotationFromAxisAngle(r3.Vector{Z: 1}, 0.2)
	tau := g.RotationPD(desired, r3.Vector{}, spatialmath.Identity3(), r3.Vector{X: 1})
	test.That(t, tau.Z, test.ShouldAlmostEqual, 2, 1e-9)
	test.That(t, tau.X, test.ShouldAlmostEqual, -2, 1e-9)
}

func TestTrapezoidProfile(t *testing.T) {
	p := TrapezoidProfile{MaxVel: 1, MaxAcc: 2}
	test.That(t, p.Validate(), test.ShouldBeNil)
	test.That(t, TrapezoidProfile{MaxVel: 1}.Validate(), test.ShouldNotBeNil)

	// 2 m: 0.5 s ramps covering 0.5 m, then 1.5 s cruise
	test.That(t, p.Duration(2), test.ShouldAlmostEqual, 2.5)
	s, ds := p.Sample(2, 0.5)
	test.That(t, s, test.ShouldAlmostEqual, 0.125)
	test.That(t, ds, test.ShouldAlmostEqual, 0.5)
	s, _ = p.Sample(2, 1.25)
	test.That(t, s, test.ShouldAlmostEqual, 0.5)
	s, ds = p.Sample(2, 3)
	test.That(t, s, test.ShouldEqual, 1.0)
	test.That(t, ds, test.ShouldEqual, 0.0)

	// short move never reaches cruise speed
	test.That(t, p.Duration(0.5), test.ShouldAlmostEqual, 1)
	s, _ = p.Sample(0, 1)
	test.That(t, s, test.ShouldEqual, 1.0)

	// the fraction is continuous and non-decreasing
	prev := 0.0
	for k := 0; k <= 100; k++ {
		s, _ := p.Sample(2, 2.5*float64(k)/100)
		test.That(t, s, test.ShouldBeGreaterThanOrEqualTo, prev)
		test.That(t, s-prev, test.ShouldBeLessThan, 0.02)
		prev = s
	}
}

func TestTrajectory(t *testing.T) {
	from := Setpoint{Position: r3.Vector{}, Rotation: spatialmath.Identity3()}
	to := Setpoint{Position: r3.Vector{X: 1}, Rotation: spatialmath.RotationFromAxisAngle(r3.Vector{Z: 1}, math.Pi/2)}
	tr, err := NewTrajectory(10, TrapezoidProfile{MaxVel: 1, MaxAcc: 1}, from, to)
	test.That(t, err, test.ShouldBeNil)
	test.That(t, tr.Duration(), test.ShouldAlmostEqual, 2.5707963, 1e-6)

	start := tr.At(5)
	test.That(t, start.Position.X, test.ShouldEqual, 0.0)
	test.That(t, mat.EqualApprox(start.Rotation, spatialmath.Identity3(), 1e-12), test.ShouldBeTrue)

	mid := tr.At(11)
	test.That(t, mid.Position.X, test.ShouldAlmostEqual, 0.5)
	test.That(t, mid.Velocity.X, test.ShouldAlmostEqual, 1)
	test.That(t, mid.AngularVelocity.Z, test.ShouldBeGreaterThan, 0)

	end := tr.At(20)
	test.That(t, end.Position.X, test.ShouldAlmostEqual, 1)
	test.That(t, end.Velocity.Norm(), test.ShouldEqual, 0.0)
	test.That(t, mat.EqualApprox(end.Rotation, to.Rotation, 1e-9), test.ShouldBeTrue)

	_, err = NewTrajectory(0, TrapezoidProfile{}, from, to)
	test.That(t, err, test.ShouldNotBeNil)

	posOnly, err := NewTrajectory(0, TrapezoidProfile{MaxVel: 1, MaxAcc: 1}, Setpoint{}, Setpoint{Position: r3.Vector{Z: 1}})
	test.That(t, err, test.ShouldBeNil)
	test.That(t, posOnly.At(100).Rotation, test.ShouldBeNil)
}
