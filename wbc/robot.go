// Package wbc resolves a strict hierarchy of task-space objectives into joint torques for a
// floating-base robot in contact with its environment.
//
// A RobotData owns the kinematics of one robot, its contacts and its tasks. Each control cycle the
// caller updates the kinematics, toggles the contacts, sets the task targets and asks for torques:
//
//	r.UpdateKinematics(q, qdot, nil)
//	r.SetContact(true, true)
//	torque, err := r.GetControlTorque(ctx, true)
//
// The torque is the sum of a gravity compensation term, the task term resolved level by level with
// one QP per priority, and a contact redistribution term that moves the contact wrench back inside
// the friction and ZMP limits without changing the motion. With Options.Reduced the same pipeline
// runs on a smaller model where every joint that does not lead to an active contact is lumped into
// one rigid aggregate.
package wbc

import (
	"math"
	"strings"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/golang/geo/r3"
	"github.com/pkg/errors"
	"github.com/samber/lo"
	"gonum.org/v1/gonum/mat"

	"go.viam.com/wbc/contact"
	"go.viam.com/wbc/kinematics"
	"go.viam.com/wbc/logging"
	"go.viam.com/wbc/qp"
	"go.viam.com/wbc/utils"
)

// COMLinkName names the pseudo-link that follows the whole-body center of mass. Its id is one past
// the last real link.
const COMLinkName = "COM"

// DefaultContactMaxIter is the iteration cap of the redistribution QP.
const DefaultContactMaxIter = 600

// RigidBodyModel is the rigid-body engine the controller runs on. *kinematics.Model implements it.
type RigidBodyModel interface {
	Name() string
	FloatingBase() bool
	SystemDoF() int
	ModelDoF() int
	NumLinks() int
	Link(id int) (kinematics.Link, error)
	LinkID(name string) (int, error)
	JointNames() []string
	Subtree(id int) []int
	DependentColumns(id int) []int
	Compute(q, qdot, qddot []float64) (*kinematics.State, error)
}

// Options configures a RobotData.
type Options struct {
	Solver         qp.Kind
	TaskMaxIter    int
	ContactMaxIter int
	// Workers bounds the per-task factorizations run concurrently; zero uses every core.
	Workers int
	// Reduced makes GetControlTorque use the reduced-order model.
	Reduced bool
	// RedistributeNormalForce makes redistribution also minimize the normal force of each contact
	// instead of only the tangential wrench.
	RedistributeNormalForce bool
}

// RobotData is the controller state of one robot. It is not safe for concurrent use; use Copy to
// hand a snapshot to another goroutine.
type RobotData struct {
	logger logging.Logger
	model  RigidBodyModel
	opts   Options

	clock clock.Clock
	epoch time.Time

	state       *kinematics.State
	ainv        *mat.SymDense
	contacts    *contact.Set
	torqueLimit *mat.VecDense

	tasks      []*TaskSpace
	nextHandle int

	full    *Projection
	reduced *reducedModel

	taskSolver       qp.Solver
	contactSolver    qp.Solver
	taskQP           []*qp.Instance
	reducedTaskQP    []*qp.Instance
	contactQP        *qp.Instance
	reducedContactQP *qp.Instance

	torqueGrav    *mat.VecDense
	torqueTask    *mat.VecDense
	torqueContact *mat.VecDense
}

// New returns a RobotData for a floating-base model.
func New(model RigidBodyModel, logger logging.Logger, opts Options) (*RobotData, error) {
	if model == nil {
		return nil, errors.New("no model given")
	}
	if !model.FloatingBase() {
		return nil, errors.Wrapf(ErrNotFloating, "model %q", model.Name())
	}
	if opts.TaskMaxIter <= 0 {
		opts.TaskMaxIter = qp.DefaultMaxIter
	}
	if opts.ContactMaxIter <= 0 {
		opts.ContactMaxIter = DefaultContactMaxIter
	}
	taskSolver, err := qp.New(opts.Solver, qp.Options{MaxIter: opts.TaskMaxIter})
	if err != nil {
		return nil, err
	}
	contactSolver, err := qp.New(opts.Solver, qp.Options{MaxIter: opts.ContactMaxIter})
	if err != nil {
		return nil, err
	}
	clk := clock.New()
	r := &RobotData{
		logger:           logger.Sublogger(model.Name()),
		model:            model,
		opts:             opts,
		clock:            clk,
		epoch:            clk.Now(),
		contacts:         &contact.Set{},
		taskSolver:       taskSolver,
		contactSolver:    contactSolver,
		contactQP:        qp.NewInstance(contactSolver),
		reducedContactQP: qp.NewInstance(contactSolver),
	}
	r.logger.Debugw("robot data created",
		"system_dof", model.SystemDoF(), "model_dof", model.ModelDoF(), "solver", string(opts.Solver))
	return r, nil
}

// Model returns the rigid-body model.
func (r *RobotData) Model() RigidBodyModel {
	return r.model
}

// Options returns the options the controller was created with, with defaults filled in.
func (r *RobotData) Options() Options {
	return r.opts
}

// SetClock replaces the control time source and restarts control time at zero.
func (r *RobotData) SetClock(clk clock.Clock) {
	r.clock = clk
	r.epoch = clk.Now()
}

// ControlTime returns the seconds elapsed since the controller was created or its clock was set.
func (r *RobotData) ControlTime() float64 {
	return r.clock.Since(r.epoch).Seconds()
}

// State returns the kinematics of the last update, or nil. The COM pseudo-link is the last entry
// of Links.
func (r *RobotData) State() *kinematics.State {
	return r.state
}

// LinkID resolves a link name, ignoring case. COMLinkName resolves to the COM pseudo-link.
func (r *RobotData) LinkID(name string) (int, error) {
	if strings.EqualFold(name, COMLinkName) {
		return r.model.NumLinks(), nil
	}
	return r.model.LinkID(name)
}

func (r *RobotData) linkName(id int) (string, error) {
	if id == r.model.NumLinks() {
		return COMLinkName, nil
	}
	link, err := r.model.Link(id)
	if err != nil {
		return "", err
	}
	return link.Name, nil
}

// UpdateKinematics evaluates the model at a new configuration. qddot may be nil. A rejected update
// leaves the previous kinematics in place.
func (r *RobotData) UpdateKinematics(q, qdot, qddot []float64) error {
	state, err := r.model.Compute(q, qdot, qddot)
	if err != nil {
		r.logger.Warnw("rejected kinematics update", "error", err)
		return err
	}
	ainv, err := utils.InverseSPD(state.A)
	if err != nil {
		return errors.Wrap(err, "inverting joint space inertia")
	}
	com, err := r.comLinkState(state)
	if err != nil {
		return err
	}
	state.Links = append(state.Links, com)

	r.state = state
	r.ainv = ainv
	r.contacts.Update(state)
	r.full = nil
	r.reduced = nil
	return nil
}

// AddContactConstraint registers a contact on the named link. point is the contact point in the
// link frame and direction the contact normal in the link frame; planeX and planeY are the patch
// half-widths used by the ZMP rows.
func (r *RobotData) AddContactConstraint(
	link string, typ contact.Type, point, direction r3.Vector, planeX, planeY float64,
) error {
	id, err := r.model.LinkID(link)
	if err != nil {
		r.logger.Warnw("rejected contact", "link", link, "error", err)
		return err
	}
	return r.AddContactConstraintByID(id, typ, point, direction, planeX, planeY)
}

// AddContactConstraintByID is AddContactConstraint with a link id.
func (r *RobotData) AddContactConstraintByID(
	id int, typ contact.Type, point, direction r3.Vector, planeX, planeY float64,
) error {
	link, err := r.model.Link(id)
	if err != nil {
		r.logger.Warnw("rejected contact", "link_id", id, "error", err)
		return err
	}
	c, err := contact.New(id, link.Name, typ, point, direction, planeX, planeY)
	if err != nil {
		r.logger.Warnw("rejected contact", "link", link.Name, "error", err)
		return err
	}
	if err := r.contacts.Add(c); err != nil {
		r.logger.Warnw("rejected contact", "link", link.Name, "error", err)
		return err
	}
	if r.state != nil {
		c.Update(r.state)
	}
	r.full, r.reduced = nil, nil
	return nil
}

// SetContact sets the active flag of every contact in registration order.
func (r *RobotData) SetContact(active ...bool) error {
	if err := r.contacts.SetActive(active...); err != nil {
		r.logger.Warnw("rejected contact flags", "error", err)
		return err
	}
	r.full, r.reduced = nil, nil
	return nil
}

// ClearContactConstraint removes every contact.
func (r *RobotData) ClearContactConstraint() {
	r.contacts.Clear()
	r.full, r.reduced = nil, nil
}

// Contacts returns the registered contacts in registration order.
func (r *RobotData) Contacts() []*contact.Constraint {
	return r.contacts.All()
}

// SetFrictionRatio sets the friction coefficients of the contact on the named link.
func (r *RobotData) SetFrictionRatio(link string, x, y, z float64) error {
	id, err := r.model.LinkID(link)
	if err == nil {
		c, ok := lo.Find(r.contacts.All(), func(c *contact.Constraint) bool { return c.LinkID == id })
		if !ok {
			err = errors.Errorf("no contact on link %q", link)
		} else {
			err = c.SetFrictionRatio(x, y, z)
		}
	}
	if err != nil {
		r.logger.Warnw("rejected friction ratio", "link", link, "error", err)
	}
	return err
}

// SetTorqueLimit bounds the magnitude of each actuated joint torque. A nil limit removes the bound.
func (r *RobotData) SetTorqueLimit(limit []float64) error {
	if limit == nil {
		r.torqueLimit = nil
		return nil
	}
	if len(limit) != r.model.ModelDoF() {
		err := sizeError("torque limit", len(limit), r.model.ModelDoF())
		r.logger.Warnw("rejected torque limit", "error", err)
		return err
	}
	for i, l := range limit {
		if l < 0 || math.IsNaN(l) {
			err := errors.Errorf("torque limit of joint %d must be non-negative, got %v", i, l)
			r.logger.Warnw("rejected torque limit", "error", err)
			return err
		}
	}
	r.torqueLimit = mat.NewVecDense(len(limit), append([]float64(nil), limit...))
	return nil
}

// TorqueLimit returns the torque bound, or nil.
func (r *RobotData) TorqueLimit() []float64 {
	if r.torqueLimit == nil {
		return nil
	}
	return mat.Col(nil, 0, r.torqueLimit)
}

// TorqueGrav returns the gravity compensation torque of the last cycle.
func (r *RobotData) TorqueGrav() *mat.VecDense {
	return cloneVec(r.torqueGrav)
}

// TorqueTask returns the task torque of the last cycle.
func (r *RobotData) TorqueTask() *mat.VecDense {
	return cloneVec(r.torqueTask)
}

// TorqueContact returns the redistribution torque of the last cycle.
func (r *RobotData) TorqueContact() *mat.VecDense {
	return cloneVec(r.torqueContact)
}

func (r *RobotData) zeroTorque() *mat.VecDense {
	return mat.NewVecDense(r.model.ModelDoF(), nil)
}
