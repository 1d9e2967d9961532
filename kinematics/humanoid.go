package kinematics

import (
	"github.com/golang/geo/r3"

	"go.viam.com/wbc/referenceframe"
)

// HumanoidTestConfig describes a small humanoid used by tests and the inspection tool: a floating
// pelvis, two six joint legs ending in l_foot and r_foot, a waist joint to the torso, two four
// joint arms ending in hands, and a head.
func HumanoidTestConfig() *referenceframe.ModelConfig {
	cfg := &referenceframe.ModelConfig{Name: "humanoid", FloatingBase: true}
	addLink := func(name string, mass float64, com r3.Vector, ixx, iyy, izz float64) {
		cfg.Links = append(cfg.Links, referenceframe.LinkConfig{
			ID:      name,
			Mass:    mass,
			COM:     com,
			Inertia: &referenceframe.InertiaConfig{XX: ixx, YY: iyy, ZZ: izz},
		})
	}
	addJoint := func(name, jointType, parent, child string, axis, translation r3.Vector) {
		cfg.Joints = append(cfg.Joints, referenceframe.JointConfig{
			ID:          name,
			Type:        jointType,
			Parent:      parent,
			Child:       child,
			Axis:        axis,
			Translation: translation,
			Min:         -2.6,
			Max:         2.6,
		})
	}
	x, y, z := r3.Vector{X: 1}, r3.Vector{Y: 1}, r3.Vector{Z: 1}
	rev := referenceframe.RevoluteJoint

	addLink("pelvis", 8, r3.Vector{}, 0.08, 0.06, 0.06)
	for _, side := range []struct {
		prefix string
		sign   float64
	}{{"l_", 1}, {"r_", -1}} {
		p, s := side.prefix, side.sign
		addLink(p+"hip_yaw_link", 1, r3.Vector{}, 0.002, 0.002, 0.002)
		addLink(p+"hip_roll_link", 1, r3.Vector{}, 0.002, 0.002, 0.002)
		addLink(p+"thigh", 4, r3.Vector{Z: -0.2}, 0.06, 0.06, 0.01)
		addLink(p+"shin", 3, r3.Vector{Z: -0.2}, 0.045, 0.045, 0.006)
		addLink(p+"ankle_link", 0.5, r3.Vector{}, 0.001, 0.001, 0.001)
		addLink(p+"foot", 1, r3.Vector{X: 0.03, Z: -0.04}, 0.002, 0.006, 0.007)
		addJoint(p+"hip_yaw", rev, "pelvis", p+"hip_yaw_link", z, r3.Vector{Y: s * 0.1, Z: -0.05})
		addJoint(p+"hip_roll", rev, p+"hip_yaw_link", p+"hip_roll_link", x, r3.Vector{})
		addJoint(p+"hip_pitch", rev, p+"hip_roll_link", p+"thigh", y, r3.Vector{})
		addJoint(p+"knee", rev, p+"thigh", p+"shin", y, r3.Vector{Z: -0.4})
		addJoint(p+"ankle_pitch", rev, p+"shin", p+"ankle_link", y, r3.Vector{Z: -0.4})
		addJoint(p+"ankle_roll", rev, p+"ankle_link", p+"foot", x, r3.Vector{})
	}

	addLink("torso", 10, r3.Vector{Z: 0.2}, 0.3, 0.25, 0.1)
	addJoint("waist", rev, "pelvis", "torso", z, r3.Vector{Z: 0.1})
	for _, side := range []struct {
		prefix string
		sign   float64
	}{{"l_", 1}, {"r_", -1}} {
		p, s := side.prefix, side.sign
		addLink(p+"shoulder_link", 0.5, r3.Vector{}, 0.001, 0.001, 0.001)
		addLink(p+"upper_arm", 1.5, r3.Vector{Z: -0.12}, 0.01, 0.01, 0.002)
		addLink(p+"upper_arm_yaw_link", 0.5, r3.Vector{}, 0.001, 0.001, 0.001)
		addLink(p+"forearm", 1, r3.Vector{Z: -0.1}, 0.006, 0.006, 0.001)
		addLink(p+"hand", 0.3, r3.Vector{}, 0.0005, 0.0005, 0.0005)
		addJoint(p+"shoulder_pitch", rev, "torso", p+"shoulder_link", y, r3.Vector{Y: s * 0.2, Z: 0.35})
		addJoint(p+"shoulder_roll", rev, p+"shoulder_link", p+"upper_arm", x, r3.Vector{})
		addJoint(p+"shoulder_yaw", rev, p+"upper_arm", p+"upper_arm_yaw_link", z, r3.Vector{})
		addJoint(p+"elbow", rev, p+"upper_arm_yaw_link", p+"forearm", y, r3.Vector{Z: -0.25})
		cfg.Joints = append(cfg.Joints, referenceframe.JointConfig{
			ID:          p + "wrist",
			Type:        referenceframe.FixedJoint,
			Parent:      p + "forearm",
			Child:       p + "hand",
			Translation: r3.Vector{Z: -0.22},
		})
	}
	addLink("head", 2, r3.Vector{Z: 0.1}, 0.01, 0.01, 0.01)
	addJoint("neck", rev, "torso", "head", z, r3.Vector{Z: 0.45})
	return cfg
}

// NewHumanoidTestModel builds the model described by HumanoidTestConfig.
func NewHumanoidTestModel() (*Model, error) {
	return NewModel(HumanoidTestConfig())
}

// HumanoidStandingPosition returns a crouched standing posture for the humanoid with both soles
// level and the pelvis above the origin.
func HumanoidStandingPosition(m *Model) []float64 {
	q := m.NeutralPosition()
	set := func(joint string, v float64) {
		for i, name := range m.JointNames() {
			if name == joint {
				q[m.BaseDoF()+i] = v
			}
		}
	}
	for _, p := range []string{"l_", "r_"} {
		set(p+"hip_pitch", -0.3)
		set(p+"knee", 0.6)
		set(p+"ankle_pitch", -0.3)
		set(p+"elbow", -0.4)
	}
	// two 0.4 m segments bent by 0.3 rad each, plus the hip offset
	q[2] = 0.05 + 0.8*0.9553364891
	return q
}
