package referenceframe

import (
	"encoding/json"
	"testing"

	"github.com/google/go-cmp/cmp"
	"go.viam.com/test"
)

func TestParseJSONFile(t *testing.T) {
	_, err := ParseModelJSONFile("testjson/badjoint.json", "")
	test.That(t, err, test.ShouldNotBeNil)
	test.That(t, err.Error(), test.ShouldContainSubstring, NewUnsupportedJointTypeError("spherical").Error())

	_, err = ParseModelJSONFile("testjson/missing.json", "")
	test.That(t, err, test.ShouldNotBeNil)

	_, err = UnmarshalModelJSON(nil, "")
	test.That(t, err, test.ShouldEqual, ErrNoModelInformation)
}

func TestModelJSONRoundTrip(t *testing.T) {
	mc, err := ParseURDFFile("testurdf/leg.urdf", "", true)
	test.That(t, err, test.ShouldBeNil)

	// infinite limits have no JSON encoding
	_, err = json.Marshal(mc)
	test.That(t, err, test.ShouldNotBeNil)
	mc.Joints[1].Min, mc.Joints[1].Max = 0, 0

	data, err := json.Marshal(mc)
	test.That(t, err, test.ShouldBeNil)

	back, err := UnmarshalModelJSON(data, "renamed")
	test.That(t, err, test.ShouldBeNil)
	test.That(t, back.Name, test.ShouldEqual, "renamed")
	back.Name = mc.Name
	test.That(t, cmp.Diff(mc, back), test.ShouldBeEmpty)
}

func TestModelValidate(t *testing.T) {
	for _, tc := range []struct {
		name string
		cfg  ModelConfig
		msg  string
	}{
		{
			"duplicate link",
			ModelConfig{Links: []LinkConfig{{ID: "a"}, {ID: "a"}}},
			`duplicate link name "a"`,
		},
		{
			"unknown parent",
			ModelConfig{
				Links:  []LinkConfig{{ID: "a"}, {ID: "b"}},
				Joints: []JointConfig{{ID: "j", Type: FixedJoint, Parent: "c", Child: "b"}},
			},
			`references unknown link "c"`,
		},
		{
			"two roots",
			ModelConfig{Links: []LinkConfig{{ID: "a"}, {ID: "b"}}},
			"exactly one root",
		},
		{
			"zero axis",
			ModelConfig{
				Links:  []LinkConfig{{ID: "a"}, {ID: "b"}},
				Joints: []JointConfig{{ID: "j", Type: RevoluteJoint, Parent: "a", Child: "b"}},
			},
			"zero axis",
		},
	} {
		t.Run(tc.name, func(t *testing.T) {
			err := tc.cfg.Validate()
			test.That(t, err, test.ShouldNotBeNil)
			test.That(t, err.Error(), test.ShouldContainSubstring, tc.msg)
		})
	}
}
