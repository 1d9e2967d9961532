// Package kinematics holds the rigid-body model of an articulated robot: the link tree with its
// joints and inertias, and the per-cycle forward kinematics and joint-space dynamics computed on it.
package kinematics

import (
	"math"
	"strings"

	"github.com/golang/geo/r3"
	"github.com/pkg/errors"
	"github.com/samber/lo"
	"gonum.org/v1/gonum/graph"
	"gonum.org/v1/gonum/graph/simple"
	"gonum.org/v1/gonum/graph/topo"
	"gonum.org/v1/gonum/graph/traverse"
	"gonum.org/v1/gonum/mat"

	"go.viam.com/wbc/referenceframe"
	"go.viam.com/wbc/spatialmath"
)

// FloatingBaseDoF is the number of velocity coordinates of a free-floating root link.
const FloatingBaseDoF = 6

// Joint connects a link to its parent. Translation and Rotation place the joint frame in the parent
// link frame and Axis is a unit vector in the joint frame.
type Joint struct {
	Name        string
	Type        string
	Axis        r3.Vector
	Translation r3.Vector
	Rotation    *mat.Dense
	Min, Max    float64
	// DoFIndex is the column of the joint in velocity space, or -1 for a fixed joint. For the
	// floating root it is the first of the six base columns.
	DoFIndex int
}

// Link is one body of the model. Links live in an arena indexed by ID, ordered so that every parent
// precedes its children. Parent is -1 for the root.
type Link struct {
	ID       int
	Name     string
	Parent   int
	Children []int
	Joint    Joint
	// Inertia is expressed in the link frame.
	Inertia spatialmath.SpatialInertia
}

// Model is an immutable articulated rigid-body model. Topology edits are done by building a new
// Model from an edited referenceframe.ModelConfig.
type Model struct {
	name     string
	tree     *simple.DirectedGraph
	links    []Link
	byName   map[string]int
	floating bool
	baseDoF  int
	// joints lists the link ids of actuated joints in velocity column order.
	joints []int
	mass   float64
	// ancestors[i] lists i and then every link above it up to the root.
	ancestors [][]int
}

// NewModel builds the link arena from a model description.
func NewModel(cfg *referenceframe.ModelConfig) (*Model, error) {
	if cfg == nil || len(cfg.Links) == 0 {
		return nil, referenceframe.ErrNoModelInformation
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	cfgIdx := map[string]int64{}
	described := simple.NewDirectedGraph()
	for i, l := range cfg.Links {
		described.AddNode(simple.Node(i))
		cfgIdx[l.ID] = int64(i)
	}
	parentJoint := map[int64]referenceframe.JointConfig{}
	for _, j := range cfg.Joints {
		from, to := cfgIdx[j.Parent], cfgIdx[j.Child]
		described.SetEdge(described.NewEdge(described.Node(from), described.Node(to)))
		parentJoint[to] = j
	}
	order, err := topo.SortStabilized(described, nil)
	if err != nil {
		return nil, errors.Wrap(err, "link tree must be acyclic")
	}

	m := &Model{
		name:     cfg.Name,
		tree:     simple.NewDirectedGraph(),
		byName:   map[string]int{},
		floating: cfg.FloatingBase,
	}
	if m.floating {
		m.baseDoF = FloatingBaseDoF
	}
	arena := map[int64]int{}
	for id, node := range order {
		arena[node.ID()] = id
		lc := cfg.Links[node.ID()]
		link := Link{
			ID:      id,
			Name:    lc.ID,
			Parent:  -1,
			Inertia: spatialmath.NewSpatialInertia(lc.Mass, lc.COM, lc.Inertia.Matrix()),
		}
		m.tree.AddNode(simple.Node(id))
		if jc, ok := parentJoint[node.ID()]; ok {
			parent := arena[cfgIdx[jc.Parent]]
			link.Parent = parent
			link.Joint = newJoint(jc)
			if link.Joint.Type != referenceframe.FixedJoint {
				link.Joint.DoFIndex = m.baseDoF + len(m.joints)
				m.joints = append(m.joints, id)
			}
			m.links[parent].Children = append(m.links[parent].Children, id)
			m.tree.SetEdge(m.tree.NewEdge(m.tree.Node(int64(parent)), m.tree.Node(int64(id))))
		} else {
			link.Joint = Joint{Name: "base", Type: referenceframe.FixedJoint, Rotation: spatialmath.Identity3(), DoFIndex: -1}
			if m.floating {
				link.Joint.Type = referenceframe.FloatingJoint
				link.Joint.DoFIndex = 0
			}
		}
		m.links = append(m.links, link)
		m.byName[strings.ToLower(lc.ID)] = id
		m.mass += lc.Mass
	}

	m.ancestors = make([][]int, len(m.links))
	for id := range m.links {
		for a := id; a >= 0; a = m.links[a].Parent {
			m.ancestors[id] = append(m.ancestors[id], a)
		}
	}
	return m, nil
}

func newJoint(jc referenceframe.JointConfig) Joint {
	j := Joint{
		Name:        jc.ID,
		Type:        jc.Type,
		Axis:        jc.Axis.Normalize(),
		Translation: jc.Translation,
		Rotation:    spatialmath.RotationFromRPY(jc.RPY.X, jc.RPY.Y, jc.RPY.Z),
		Min:         jc.Min,
		Max:         jc.Max,
		DoFIndex:    -1,
	}
	if jc.Type == referenceframe.ContinuousJoint {
		j.Type = referenceframe.RevoluteJoint
		j.Min, j.Max = math.Inf(-1), math.Inf(1)
	}
	if j.Min == 0 && j.Max == 0 && j.Type != referenceframe.FixedJoint {
		j.Min, j.Max = math.Inf(-1), math.Inf(1)
	}
	return j
}

// Name returns the name of this model.
func (m *Model) Name() string {
	return m.name
}

// FloatingBase reports whether the root link is free-floating.
func (m *Model) FloatingBase() bool {
	return m.floating
}

// BaseDoF returns the number of velocity coordinates of the root: 6 when floating, 0 otherwise.
func (m *Model) BaseDoF() int {
	return m.baseDoF
}

// SystemDoF returns the size of the generalized velocity vector.
func (m *Model) SystemDoF() int {
	return m.baseDoF + len(m.joints)
}

// ModelDoF returns the number of actuated joints.
func (m *Model) ModelDoF() int {
	return len(m.joints)
}

// PositionSize returns the size of the generalized position vector. A floating base stores its
// quaternion imaginary part after the position and its real part after the joints.
func (m *Model) PositionSize() int {
	if m.floating {
		return m.SystemDoF() + 1
	}
	return m.SystemDoF()
}

// NumLinks returns the number of links in the arena.
func (m *Model) NumLinks() int {
	return len(m.links)
}

// Mass returns the total mass of the model.
func (m *Model) Mass() float64 {
	return m.mass
}

// Link returns the link with the given id.
func (m *Model) Link(id int) (Link, error) {
	if id < 0 || id >= len(m.links) {
		return Link{}, errors.Errorf("link id %d out of range [0, %d)", id, len(m.links))
	}
	return m.links[id], nil
}

// LinkID looks a link up by name, ignoring case.
func (m *Model) LinkID(name string) (int, error) {
	id, ok := m.byName[strings.ToLower(name)]
	if !ok {
		return -1, errors.Errorf("no link named %q in model %q", name, m.name)
	}
	return id, nil
}

// LinkNames returns the link names in arena order.
func (m *Model) LinkNames() []string {
	return lo.Map(m.links, func(l Link, _ int) string { return l.Name })
}

// JointNames returns the names of the actuated joints in column order.
func (m *Model) JointNames() []string {
	return lo.Map(m.joints, func(id, _ int) string { return m.links[id].Joint.Name })
}

// JointLink returns the id of the link moved by actuated joint j.
func (m *Model) JointLink(j int) int {
	return m.joints[j]
}

// Ancestors returns id followed by every link above it, ending at the root.
func (m *Model) Ancestors(id int) []int {
	return m.ancestors[id]
}

// Subtree returns id and all of its descendants.
func (m *Model) Subtree(id int) []int {
	var out []int
	var bf traverse.BreadthFirst
	bf.Walk(m.tree, m.tree.Node(int64(id)), func(n graph.Node, _ int) bool {
		out = append(out, int(n.ID()))
		return false
	})
	return out
}

// DependentColumns returns the velocity columns that move link id: the base columns followed by the
// columns of every actuated joint between the root and the link.
func (m *Model) DependentColumns(id int) []int {
	var cols []int
	for i := 0; i < m.baseDoF; i++ {
		cols = append(cols, i)
	}
	anc := m.ancestors[id]
	for i := len(anc) - 1; i >= 0; i-- {
		if j := m.links[anc[i]].Joint; j.DoFIndex >= m.baseDoF && j.Type != referenceframe.FloatingJoint {
			cols = append(cols, j.DoFIndex)
		}
	}
	return cols
}

// NeutralPosition returns a generalized position with all joints at zero and an identity base
// orientation.
func (m *Model) NeutralPosition() []float64 {
	q := make([]float64, m.PositionSize())
	if m.floating {
		q[len(q)-1] = 1
	}
	return q
}
