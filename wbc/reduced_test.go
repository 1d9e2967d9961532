package wbc

import (
	"context"
	"math"
	"testing"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/golang/geo/r3"
	"go.viam.com/test"
	"gonum.org/v1/gonum/mat"

	"go.viam.com/wbc/control"
	"go.viam.com/wbc/kinematics"
)

func TestReducedPartition(t *testing.T) {
	r := newStandingRobot(t, Options{})
	test.That(t, r.ReducedCalcContactConstraint(), test.ShouldNotBeNil)
	test.That(t, r.ReducedDynamicsCalculate(), test.ShouldBeNil)

	vc, nc := r.ReducedPartition()
	test.That(t, vc, test.ShouldHaveLength, 18)
	test.That(t, nc, test.ShouldHaveLength, 10)
	test.That(t, vc[:kinematics.FloatingBaseDoF], test.ShouldResemble, []int{0, 1, 2, 3, 4, 5})
	test.That(t, r.reduced.dim(), test.ShouldEqual, 24)
	// torso, head and both arms
	test.That(t, r.reduced.aggregate.Mass, test.ShouldAlmostEqual, 19.6, 1e-9)

	test.That(t, r.SetContact(true, false), test.ShouldBeNil)
	test.That(t, r.ReducedDynamicsCalculate(), test.ShouldBeNil)
	vc, nc = r.ReducedPartition()
	test.That(t, vc, test.ShouldHaveLength, 12)
	test.That(t, nc, test.ShouldHaveLength, 16)
	test.That(t, r.reduced.dim(), test.ShouldEqual, 18)

	test.That(t, r.SetContact(false, false), test.ShouldBeNil)
	test.That(t, r.ReducedDynamicsCalculate(), test.ShouldBeNil)
	vc, _ = r.ReducedPartition()
	test.That(t, vc, test.ShouldHaveLength, kinematics.FloatingBaseDoF)
}

func TestReducedContactProjection(t *testing.T) {
	r := newStandingRobot(t, Options{})
	test.That(t, r.CalcContactConstraint(), test.ShouldBeNil)
	test.That(t, r.ReducedDynamicsCalculate(), test.ShouldBeNil)
	test.That(t, r.ReducedCalcContactConstraint(), test.ShouldBeNil)

	full, err := r.Projection()
	test.That(t, err, test.ShouldBeNil)
	reduced, err := r.ReducedProjection()
	test.That(t, err, test.ShouldBeNil)

	test.That(t, reduced.ContactDoF, test.ShouldEqual, 12)
	test.That(t, reduced.Actuated(), test.ShouldEqual, 18)
	test.That(t, reduced.Redundancy(), test.ShouldEqual, 6)
	test.That(t, mat.EqualApprox(reduced.Lambda, full.Lambda, 1e-6*mat.Norm(full.Lambda, math.Inf(1))), test.ShouldBeTrue)
}

func TestReducedGravityCompensation(t *testing.T) {
	r := newStandingRobot(t, Options{})
	test.That(t, r.CalcContactConstraint(), test.ShouldBeNil)
	full, err := r.Projection()
	test.That(t, err, test.ShouldBeNil)

	test.That(t, r.ReducedDynamicsCalculate(), test.ShouldBeNil)
	test.That(t, r.ReducedCalcContactConstraint(), test.ShouldBeNil)
	test.That(t, r.ReducedCalcGravCompensation(), test.ShouldBeNil)

	grav, task, _ := r.ReducedTorques()
	test.That(t, grav.Len(), test.ShouldEqual, 18)
	test.That(t, task, test.ShouldBeNil)

	torque := r.TorqueGrav()
	test.That(t, torque.Len(), test.ShouldEqual, 22)
	acc := full.Acceleration(torque, r.State().G)
	test.That(t, mat.Norm(acc, math.Inf(1)), test.ShouldBeLessThan, 1e-6)
}

func TestReducedControlTorque(t *testing.T) {
	ctx := context.Background()
	r := newStandingRobot(t, Options{Reduced: true})
	h, err := r.AddTaskSpace(0, ModePosition, COMLinkName, r3.Vector{})
	test.That(t, err, test.ShouldBeNil)
	comAcc := mat.NewVecDense(3, []float64{0.03, -0.02, 0.04})
	test.That(t, r.SetTaskSpace(h, mat.Col(nil, 0, comAcc)), test.ShouldBeNil)

	t.Run("com task without qp", func(t *testing.T) {
		test.That(t, r.ReducedDynamicsCalculate(), test.ShouldBeNil)
		test.That(t, r.ReducedCalcContactConstraint(), test.ShouldBeNil)
		test.That(t, r.ReducedCalcGravCompensation(), test.ShouldBeNil)
		test.That(t, r.UpdateTaskSpace(), test.ShouldBeNil)
		test.That(t, r.ReducedCalcTaskSpace(ctx), test.ShouldBeNil)
		test.That(t, r.ReducedCalcTaskControlTorque(ctx, false), test.ShouldBeNil)

		test.That(t, r.CalcContactConstraint(), test.ShouldBeNil)
		full, err := r.Projection()
		test.That(t, err, test.ShouldBeNil)
		acc := full.Acceleration(sum(r.TorqueGrav(), r.TorqueTask()), r.State().G)
		vecNear(t, jacobianTimes(r.State().COMJacobian, acc), comAcc, 1e-6)
	})

	t.Run("full cycle", func(t *testing.T) {
		torque, err := r.GetControlTorque(ctx, true)
		test.That(t, err, test.ShouldBeNil)
		test.That(t, torque.Len(), test.ShouldEqual, 22)
		grav, task, redistributed := r.ReducedTorques()
		test.That(t, grav, test.ShouldNotBeNil)
		test.That(t, task, test.ShouldNotBeNil)
		test.That(t, redistributed, test.ShouldNotBeNil)

		// the wrench the reduced model predicts stays inside the contact limits
		proj, err := r.ReducedProjection()
		test.That(t, err, test.ShouldBeNil)
		f, err := proj.ContactForce(sum(grav, task, redistributed))
		test.That(t, err, test.ShouldBeNil)
		test.That(t, maxViolation(r, f), test.ShouldBeLessThanOrEqualTo, forceTol)
	})

	t.Run("hand task on the aggregate", func(t *testing.T) {
		hand, err := r.AddTaskSpace(1, ModePosition, "r_hand", r3.Vector{})
		test.That(t, err, test.ShouldBeNil)
		test.That(t, r.SetTaskSpace(hand, []float64{0, 0, 0.2}), test.ShouldBeNil)
		torque, err := r.GetControlTorque(ctx, true)
		test.That(t, err, test.ShouldBeNil)

		// the non-contact joints carry part of the task wrench
		vcOnly := r.Copy()
		test.That(t, vcOnly.ReducedCalcGravCompensation(), test.ShouldBeNil)
		_, nc := r.ReducedPartition()
		moved := false
		for _, col := range nc {
			i := col - kinematics.FloatingBaseDoF
			if math.Abs(torque.AtVec(i)-vcOnly.TorqueGrav().AtVec(i)) > 1e-6 {
				moved = true
			}
		}
		test.That(t, moved, test.ShouldBeTrue)

		// the part mapped through the aggregate realizes both levels in the full model
		_, taskR, _ := r.ReducedTorques()
		throughAggregate := r.expand(r.reduced, taskR)
		test.That(t, r.CalcContactConstraint(), test.ShouldBeNil)
		full, err := r.Projection()
		test.That(t, err, test.ShouldBeNil)
		acc := full.Acceleration(sum(r.TorqueGrav(), throughAggregate, r.TorqueContact()), r.State().G)
		for _, task := range r.Tasks() {
			var want mat.VecDense
			want.AddVec(task.FStar, task.reduced.FStarQP)
			vecNear(t, jacobianTimes(task.Jacobian, acc), &want, 1e-5)
		}

		// the rest stays on the non-contact joints and exerts no wrench on the aggregate
		internal := mat.NewVecDense(len(nc), nil)
		for j, col := range nc {
			i := col - kinematics.FloatingBaseDoF
			internal.SetVec(j, r.TorqueTask().AtVec(i)-throughAggregate.AtVec(i))
		}
		vc, _ := r.ReducedPartition()
		for _, col := range vc[kinematics.FloatingBaseDoF:] {
			i := col - kinematics.FloatingBaseDoF
			test.That(t, r.TorqueTask().AtVec(i), test.ShouldAlmostEqual, throughAggregate.AtVec(i), 1e-12)
		}
		var wrench mat.VecDense
		wrench.MulVec(r.reduced.jiNCInvT, internal)
		test.That(t, mat.Norm(&wrench, math.Inf(1)), test.ShouldBeLessThan, 1e-6*math.Max(1, mat.Norm(internal, math.Inf(1))))
	})
}

func TestTrajectoryTracking(t *testing.T) {
	r := newStandingRobot(t, Options{})
	mock := clock.NewMock()
	r.SetClock(mock)
	test.That(t, r.ControlTime(), test.ShouldEqual, 0.0)
	mock.Add(1500 * time.Millisecond)
	test.That(t, r.ControlTime(), test.ShouldAlmostEqual, 1.5, 1e-12)

	h, err := r.AddTaskSpace(0, ModePosition, COMLinkName, r3.Vector{})
	test.That(t, err, test.ShouldBeNil)
	start := r.State().COM
	goal := control.Setpoint{Position: start.Add(r3.Vector{Z: -0.05})}
	profile := control.TrapezoidProfile{MaxVel: 0.1, MaxAcc: 0.5}

	test.That(t, r.SetTrajectory(h, "head", goal, profile, control.DefaultGains), test.ShouldNotBeNil)
	test.That(t, r.SetTrajectory(h, COMLinkName, goal, profile, control.Gains{Kp: -1}), test.ShouldNotBeNil)
	test.That(t, r.SetTrajectory(h, COMLinkName, goal, profile, control.DefaultGains), test.ShouldBeNil)

	test.That(t, r.UpdateTaskSpace(), test.ShouldBeNil)
	task, err := r.Task(h)
	test.That(t, err, test.ShouldBeNil)
	test.That(t, mat.Norm(task.FStar, math.Inf(1)), test.ShouldBeLessThan, 1e-9)

	// past the end of the move the PD law pulls toward the goal
	mock.Add(10 * time.Second)
	test.That(t, r.UpdateTaskSpace(), test.ShouldBeNil)
	test.That(t, task.FStar.AtVec(0), test.ShouldAlmostEqual, 0, 1e-9)
	test.That(t, task.FStar.AtVec(2), test.ShouldAlmostEqual, -0.05*control.DefaultGains.Kp, 1e-9)

	test.That(t, r.SetTarget(h, COMLinkName, control.Setpoint{Position: start.Add(r3.Vector{X: 0.01})}, control.Gains{Kp: 10}), test.ShouldBeNil)
	test.That(t, r.UpdateTaskSpace(), test.ShouldBeNil)
	test.That(t, task.FStar.AtVec(0), test.ShouldAlmostEqual, 0.1, 1e-9)

	test.That(t, r.ClearTarget(h, COMLinkName), test.ShouldBeNil)
	test.That(t, r.SetTaskSpace(h, []float64{1, 2, 3}), test.ShouldBeNil)
	test.That(t, r.UpdateTaskSpace(), test.ShouldBeNil)
	test.That(t, task.FStar.AtVec(2), test.ShouldEqual, 3.0)
}
