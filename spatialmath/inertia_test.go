package spatialmath

import (
	"testing"

	"github.com/golang/geo/r3"
	"go.viam.com/test"
	"gonum.org/v1/gonum/mat"
)

func TestSpatialInertiaRoundTrip(t *testing.T) {
	inertia := mat.NewDense(3, 3, []float64{0.3, 0.01, 0, 0.01, 0.2, 0.02, 0, 0.02, 0.1})
	si := NewSpatialInertia(4.5, r3.Vector{X: 0.1, Y: -0.05, Z: 0.2}, inertia)

	m := si.Matrix()
	test.That(t, mat.EqualApprox(m, m.T(), 1e-12), test.ShouldBeTrue)

	back := DecomposeSpatialInertia(m)
	test.That(t, back.Mass, test.ShouldAlmostEqual, si.Mass)
	test.That(t, back.COM.X, test.ShouldAlmostEqual, si.COM.X)
	test.That(t, back.COM.Y, test.ShouldAlmostEqual, si.COM.Y)
	test.That(t, back.COM.Z, test.ShouldAlmostEqual, si.COM.Z)
	test.That(t, mat.EqualApprox(back.Inertia, inertia, 1e-12), test.ShouldBeTrue)
}

func TestSpatialInertiaMomentum(t *testing.T) {
	// A point mass at c moving with the reference frame: h = I·[v; w] must equal
	// [m(v + w×c); c×m(v + w×c)].
	si := NewSpatialInertia(2, r3.Vector{X: 1, Y: 0.5}, nil)
	v := r3.Vector{X: 0.1, Y: -0.2, Z: 0.3}
	w := r3.Vector{X: 0.4, Y: 0.1, Z: -0.5}
	var h mat.VecDense
	h.MulVec(si.Matrix(), mat.NewVecDense(6, []float64{v.X, v.Y, v.Z, w.X, w.Y, w.Z}))

	pv := v.Add(w.Cross(si.COM)).Mul(si.Mass)
	ang := si.COM.Cross(pv)
	test.That(t, h.AtVec(0), test.ShouldAlmostEqual, pv.X)
	test.That(t, h.AtVec(1), test.ShouldAlmostEqual, pv.Y)
	test.That(t, h.AtVec(2), test.ShouldAlmostEqual, pv.Z)
	test.That(t, h.AtVec(3), test.ShouldAlmostEqual, ang.X)
	test.That(t, h.AtVec(4), test.ShouldAlmostEqual, ang.Y)
	test.That(t, h.AtVec(5), test.ShouldAlmostEqual, ang.Z)
}

func TestSpatialInertiaComposite(t *testing.T) {
	a := NewSpatialInertia(1, r3.Vector{X: 1}, Identity3())
	b := NewSpatialInertia(3, r3.Vector{X: -1}, nil)
	sum := a.Add(b)
	test.That(t, sum.Mass, test.ShouldEqual, 4)
	test.That(t, sum.COM.X, test.ShouldAlmostEqual, -0.5)

	// composite matrices are additive about a common origin
	var direct mat.Dense
	direct.Add(a.Matrix(), b.Matrix())
	test.That(t, mat.EqualApprox(sum.Matrix(), &direct, 1e-12), test.ShouldBeTrue)

	// moving a body and moving it back is the identity
	rot := RotationFromRPY(0.2, 0.3, -0.1)
	moved := a.Transform(rot, r3.Vector{Z: 1})
	var rt mat.Dense
	rt.CloneFrom(rot.T())
	restored := moved.Transform(&rt, RotateVector(&rt, r3.Vector{Z: -1}))
	test.That(t, restored.COM.X, test.ShouldAlmostEqual, a.COM.X)
	test.That(t, restored.COM.Z, test.ShouldAlmostEqual, a.COM.Z)
	test.That(t, mat.EqualApprox(restored.Inertia, a.Inertia, 1e-12), test.ShouldBeTrue)
}
