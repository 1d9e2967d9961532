// Package config defines the JSON document that describes a whole-body controller: the robot
// model, its contacts, its task hierarchy and the solver settings.
package config

import (
	"fmt"

	"github.com/golang/geo/r3"
	"github.com/pkg/errors"
	"go.uber.org/multierr"
	"go.viam.com/utils"

	"go.viam.com/wbc/contact"
	"go.viam.com/wbc/control"
	"go.viam.com/wbc/logging"
	"go.viam.com/wbc/qp"
	"go.viam.com/wbc/wbc"
)

// Config is a whole controller.
type Config struct {
	Model                   Model     `json:"model"`
	QP                      QP        `json:"qp"`
	Workers                 int       `json:"workers,omitempty"`
	Reduced                 bool      `json:"reduced,omitempty"`
	RedistributeNormalForce bool      `json:"redistribute_normal_force,omitempty"`
	TorqueLimit             []float64 `json:"torque_limit,omitempty"`
	Contacts                []Contact `json:"contacts,omitempty"`
	Tasks                   []Task    `json:"tasks,omitempty"`
	// Position is the configuration the controller starts from, in the model's position layout.
	Position []float64      `json:"position,omitempty"`
	LogLevel *logging.Level `json:"log_level,omitempty"`

	// ConfigFilePath is where the config was read from; relative model paths resolve against it.
	ConfigFilePath string `json:"-"`
}

// Model points at the robot description. Exactly one of URDF and JSON is set.
type Model struct {
	URDF         string `json:"urdf,omitempty"`
	JSON         string `json:"json,omitempty"`
	Name         string `json:"name,omitempty"`
	FloatingBase bool   `json:"floating_base"`
}

// QP selects the solver backend and its iteration caps.
type QP struct {
	Solver         qp.Kind `json:"solver,omitempty"`
	TaskMaxIter    int     `json:"task_max_iter,omitempty"`
	ContactMaxIter int     `json:"contact_max_iter,omitempty"`
}

// Contact is one contact constraint.
type Contact struct {
	Link      string     `json:"link"`
	Type      string     `json:"type,omitempty"`
	Point     r3.Vector  `json:"point"`
	Direction *r3.Vector `json:"vector,omitempty"`
	Plane     []float64  `json:"plane,omitempty"`
	Friction  []float64  `json:"friction,omitempty"`
	Inactive  bool       `json:"inactive,omitempty"`
}

// Task is one priority level.
type Task struct {
	Priority int            `json:"priority"`
	Mode     string         `json:"mode"`
	Links    []TaskLink     `json:"links,omitempty"`
	Gains    *control.Gains `json:"gains,omitempty"`
}

// TaskLink is one link of a task and its optional target.
type TaskLink struct {
	Name   string    `json:"name"`
	Point  r3.Vector `json:"point"`
	Target *Target   `json:"target,omitempty"`
}

// Target is a setpoint for a task link. With a profile the link moves there along a trapezoidal
// trajectory from wherever it is when the targets are applied.
type Target struct {
	Position r3.Vector                 `json:"position"`
	RPY      *r3.Vector                `json:"rpy,omitempty"`
	Profile  *control.TrapezoidProfile `json:"profile,omitempty"`
}

// Validate ensures all parts of the config are valid. Every problem found is reported.
func (cfg *Config) Validate(path string) error {
	var errs error
	errs = multierr.Append(errs, cfg.Model.Validate(fmt.Sprintf("%s.model", path)))
	errs = multierr.Append(errs, cfg.QP.Validate(fmt.Sprintf("%s.qp", path)))
	if cfg.Workers < 0 {
		errs = multierr.Append(errs, utils.NewConfigValidationError(path, errors.Errorf("workers must be non-negative, got %d", cfg.Workers)))
	}
	for i, l := range cfg.TorqueLimit {
		if l < 0 {
			errs = multierr.Append(errs, utils.NewConfigValidationError(
				fmt.Sprintf("%s.torque_limit.%d", path, i), errors.Errorf("must be non-negative, got %v", l)))
		}
	}

	seen := map[string]bool{}
	for i := range cfg.Contacts {
		cPath := fmt.Sprintf("%s.contacts.%d", path, i)
		c := &cfg.Contacts[i]
		errs = multierr.Append(errs, c.Validate(cPath))
		if c.Link != "" && seen[c.Link] {
			errs = multierr.Append(errs, utils.NewConfigValidationError(cPath, errors.Errorf("duplicate contact on link %q", c.Link)))
		}
		seen[c.Link] = true
	}

	controlled := map[string]bool{}
	for i := range cfg.Tasks {
		tPath := fmt.Sprintf("%s.tasks.%d", path, i)
		t := &cfg.Tasks[i]
		if t.Priority != i {
			errs = multierr.Append(errs, utils.NewConfigValidationError(tPath,
				errors.Errorf("tasks must be listed by contiguous priority from 0: expected %d, got %d", i, t.Priority)))
		}
		errs = multierr.Append(errs, t.Validate(tPath))
		for j, l := range t.Links {
			if controlled[l.Name] {
				errs = multierr.Append(errs, utils.NewConfigValidationError(
					fmt.Sprintf("%s.links.%d", tPath, j), errors.Errorf("link %q is controlled by more than one task", l.Name)))
			}
			controlled[l.Name] = true
		}
	}
	return errs
}

// Validate ensures the model source is usable.
func (m *Model) Validate(path string) error {
	switch {
	case m.URDF == "" && m.JSON == "":
		return utils.NewConfigValidationFieldRequiredError(path, "urdf")
	case m.URDF != "" && m.JSON != "":
		return utils.NewConfigValidationError(path, errors.New("only one of urdf and json may be set"))
	case !m.FloatingBase:
		return utils.NewConfigValidationError(path, wbc.ErrNotFloating)
	}
	return nil
}

// Validate ensures the solver settings are usable.
func (q *QP) Validate(path string) error {
	var errs error
	switch q.Solver {
	case "", qp.ActiveSet, qp.SLSQP:
	default:
		errs = multierr.Append(errs, utils.NewConfigValidationError(path, errors.Errorf("unknown solver %q", q.Solver)))
	}
	if q.TaskMaxIter < 0 || q.ContactMaxIter < 0 {
		errs = multierr.Append(errs, utils.NewConfigValidationError(path, errors.New("iteration caps must be non-negative")))
	}
	return errs
}

// Validate ensures the contact is well formed.
func (c *Contact) Validate(path string) error {
	if c.Link == "" {
		return utils.NewConfigValidationFieldRequiredError(path, "link")
	}
	var errs error
	if _, err := contact.TypeFromString(c.Type); err != nil {
		errs = multierr.Append(errs, utils.NewConfigValidationError(path, err))
	}
	if c.Direction != nil && c.Direction.Norm() == 0 {
		errs = multierr.Append(errs, utils.NewConfigValidationError(path, errors.New("vector must be non-zero")))
	}
	if len(c.Plane) != 0 && len(c.Plane) != 2 {
		errs = multierr.Append(errs, utils.NewConfigValidationError(path, errors.Errorf("plane needs 2 entries, got %d", len(c.Plane))))
	}
	for _, v := range c.Plane {
		if v < 0 {
			errs = multierr.Append(errs, utils.NewConfigValidationError(path, errors.Errorf("plane must be non-negative, got %v", c.Plane)))
			break
		}
	}
	if len(c.Friction) != 0 && len(c.Friction) != 3 {
		errs = multierr.Append(errs, utils.NewConfigValidationError(path, errors.Errorf("friction needs 3 entries, got %d", len(c.Friction))))
	}
	return errs
}

// Validate ensures the task level is well formed.
func (t *Task) Validate(path string) error {
	mode, err := wbc.ModeFromString(t.Mode)
	if err != nil {
		return utils.NewConfigValidationError(path, err)
	}
	var errs error
	if mode == wbc.ModeCustom {
		if len(t.Links) != 0 {
			errs = multierr.Append(errs, utils.NewConfigValidationError(path, errors.New("custom tasks take no links")))
		}
	} else if len(t.Links) == 0 {
		errs = multierr.Append(errs, utils.NewConfigValidationFieldRequiredError(path, "links"))
	}
	for i, l := range t.Links {
		lPath := fmt.Sprintf("%s.links.%d", path, i)
		if l.Name == "" {
			errs = multierr.Append(errs, utils.NewConfigValidationFieldRequiredError(lPath, "name"))
		}
		if l.Target != nil && l.Target.Profile != nil {
			if err := l.Target.Profile.Validate(); err != nil {
				errs = multierr.Append(errs, utils.NewConfigValidationError(lPath+".target", err))
			}
		}
	}
	if t.Gains != nil {
		if err := t.Gains.Validate(); err != nil {
			errs = multierr.Append(errs, utils.NewConfigValidationError(path+".gains", err))
		}
	}
	return errs
}
