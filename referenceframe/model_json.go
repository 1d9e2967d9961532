// Package referenceframe describes articulated rigid-body models: links with inertial
// properties connected by joints. Descriptions are read from JSON or URDF.
package referenceframe

import (
	"encoding/json"
	"os"

	"github.com/golang/geo/r3"
	"github.com/pkg/errors"
	"go.uber.org/multierr"
	"gonum.org/v1/gonum/mat"
)

// Supported joint types.
const (
	FixedJoint      = "fixed"
	RevoluteJoint   = "revolute"
	ContinuousJoint = "continuous"
	PrismaticJoint  = "prismatic"
	FloatingJoint   = "floating"
)

// ModelConfig represents all supported fields in a model JSON file.
type ModelConfig struct {
	Name string `json:"name"`
	// FloatingBase attaches the root link to the world through a 6-DoF joint.
	FloatingBase bool          `json:"floating_base"`
	Links        []LinkConfig  `json:"links"`
	Joints       []JointConfig `json:"joints"`
}

// LinkConfig holds the inertial description of a link, in the link frame.
type LinkConfig struct {
	ID      string         `json:"id"`
	Mass    float64        `json:"mass"`
	COM     r3.Vector      `json:"com"`
	Inertia *InertiaConfig `json:"inertia,omitempty"`
}

// InertiaConfig is a symmetric inertia tensor about the link center of mass.
type InertiaConfig struct {
	XX float64 `json:"ixx"`
	XY float64 `json:"ixy"`
	XZ float64 `json:"ixz"`
	YY float64 `json:"iyy"`
	YZ float64 `json:"iyz"`
	ZZ float64 `json:"izz"`
}

// Matrix returns the tensor as a 3x3 matrix; a nil config is the zero tensor.
func (cfg *InertiaConfig) Matrix() *mat.Dense {
	if cfg == nil {
		return mat.NewDense(3, 3, nil)
	}
	return mat.NewDense(3, 3, []float64{
		cfg.XX, cfg.XY, cfg.XZ,
		cfg.XY, cfg.YY, cfg.YZ,
		cfg.XZ, cfg.YZ, cfg.ZZ,
	})
}

// JointConfig connects Child to Parent. Translation and RPY place the joint frame in the parent
// link frame; Axis is expressed in the joint frame.
type JointConfig struct {
	ID          string    `json:"id"`
	Type        string    `json:"type"`
	Parent      string    `json:"parent"`
	Child       string    `json:"child"`
	Axis        r3.Vector `json:"axis"`
	Translation r3.Vector `json:"translation"`
	RPY         r3.Vector `json:"rpy"`
	Min         float64   `json:"min,omitempty"`
	Max         float64   `json:"max,omitempty"`
}

// ParseModelJSONFile will read a given file and parse the contained JSON data into a ModelConfig.
func ParseModelJSONFile(filename, modelName string) (*ModelConfig, error) {
	//nolint:gosec
	jsonData, err := os.ReadFile(filename)
	if err != nil {
		return nil, errors.Wrap(err, "failed to read json file")
	}
	return UnmarshalModelJSON(jsonData, modelName)
}

// UnmarshalModelJSON parses JSON data into a validated ModelConfig. modelName overrides the name in
// the document when non-empty.
func UnmarshalModelJSON(jsonData []byte, modelName string) (*ModelConfig, error) {
	if len(jsonData) == 0 {
		return nil, ErrNoModelInformation
	}
	cfg := &ModelConfig{}
	if err := json.Unmarshal(jsonData, cfg); err != nil {
		return nil, errors.Wrap(err, "failed to unmarshal json file")
	}
	if modelName != "" {
		cfg.Name = modelName
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks names, joint types and the tree structure: every joint must reference known
// links and every link has at most one parent joint.
func (cfg *ModelConfig) Validate() error {
	var err error
	links := map[string]bool{}
	for _, link := range cfg.Links {
		if link.ID == "" {
			err = multierr.Combine(err, errors.New("link with empty id"))
			continue
		}
		if links[link.ID] {
			err = multierr.Combine(err, NewDuplicateNameError("link", link.ID))
		}
		if link.Mass < 0 {
			err = multierr.Combine(err, errors.Errorf("link %q has negative mass", link.ID))
		}
		links[link.ID] = true
	}
	joints := map[string]bool{}
	hasParent := map[string]bool{}
	for _, joint := range cfg.Joints {
		if joints[joint.ID] {
			err = multierr.Combine(err, NewDuplicateNameError("joint", joint.ID))
		}
		joints[joint.ID] = true
		switch joint.Type {
		case FixedJoint, RevoluteJoint, ContinuousJoint, PrismaticJoint:
		default:
			err = multierr.Combine(err, NewUnsupportedJointTypeError(joint.Type))
		}
		if !links[joint.Parent] {
			err = multierr.Combine(err, NewUnknownParentError(joint.ID, joint.Parent))
		}
		if !links[joint.Child] {
			err = multierr.Combine(err, NewUnknownParentError(joint.ID, joint.Child))
		}
		if joint.Parent == joint.Child {
			err = multierr.Combine(err, errors.Errorf("joint %q connects link %q to itself", joint.ID, joint.Child))
		}
		if hasParent[joint.Child] {
			err = multierr.Combine(err, errors.Errorf("link %q has more than one parent joint", joint.Child))
		}
		hasParent[joint.Child] = true
		if joint.Type != FixedJoint && joint.Axis.Norm() == 0 {
			err = multierr.Combine(err, errors.Errorf("joint %q has a zero axis", joint.ID))
		}
	}
	roots := 0
	for _, link := range cfg.Links {
		if !hasParent[link.ID] {
			roots++
		}
	}
	if len(cfg.Links) > 0 && roots != 1 {
		err = multierr.Combine(err, errors.Errorf("model must have exactly one root link, found %d", roots))
	}
	return err
}

// Root returns the id of the link that is not the child of any joint.
func (cfg *ModelConfig) Root() string {
	hasParent := map[string]bool{}
	for _, joint := range cfg.Joints {
		hasParent[joint.Child] = true
	}
	for _, link := range cfg.Links {
		if !hasParent[link.ID] {
			return link.ID
		}
	}
	return ""
}
