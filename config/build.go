package config

import (
	"path/filepath"

	"github.com/golang/geo/r3"
	"github.com/pkg/errors"

	"go.viam.com/wbc/contact"
	"go.viam.com/wbc/control"
	"go.viam.com/wbc/kinematics"
	"go.viam.com/wbc/logging"
	"go.viam.com/wbc/referenceframe"
	"go.viam.com/wbc/spatialmath"
	"go.viam.com/wbc/wbc"
)

// Controller is a RobotData assembled from a Config.
type Controller struct {
	Robot *wbc.RobotData
	Model *kinematics.Model
	// Tasks holds the handle of each level in priority order.
	Tasks []wbc.TaskHandle

	cfg *Config
}

func (cfg *Config) resolve(p string) string {
	if filepath.IsAbs(p) || cfg.ConfigFilePath == "" {
		return p
	}
	return filepath.Join(filepath.Dir(cfg.ConfigFilePath), p)
}

// LoadModel reads the robot description the config points at.
func (cfg *Config) LoadModel() (*kinematics.Model, error) {
	var (
		desc *referenceframe.ModelConfig
		err  error
	)
	switch {
	case cfg.Model.URDF != "":
		desc, err = referenceframe.ParseURDFFile(cfg.resolve(cfg.Model.URDF), cfg.Model.Name, cfg.Model.FloatingBase)
	case cfg.Model.JSON != "":
		desc, err = referenceframe.ParseModelJSONFile(cfg.resolve(cfg.Model.JSON), cfg.Model.Name)
		if err == nil {
			desc.FloatingBase = cfg.Model.FloatingBase
		}
	default:
		return nil, referenceframe.ErrNoModelInformation
	}
	if err != nil {
		return nil, err
	}
	return kinematics.NewModel(desc)
}

// NewController loads the model and registers the configured contacts, tasks and limits. Targets
// that need kinematics are applied later with ApplyTargets.
func NewController(cfg *Config, logger logging.Logger) (*Controller, error) {
	model, err := cfg.LoadModel()
	if err != nil {
		return nil, errors.Wrap(err, "loading model")
	}
	return NewControllerForModel(cfg, model, logger)
}

// NewControllerForModel is NewController with an already loaded model; cfg.Model is ignored.
func NewControllerForModel(cfg *Config, model *kinematics.Model, logger logging.Logger) (*Controller, error) {
	if cfg.LogLevel != nil {
		logger.SetLevel(*cfg.LogLevel)
	}
	robot, err := wbc.New(model, logger, wbc.Options{
		Solver:                  cfg.QP.Solver,
		TaskMaxIter:             cfg.QP.TaskMaxIter,
		ContactMaxIter:          cfg.QP.ContactMaxIter,
		Workers:                 cfg.Workers,
		Reduced:                 cfg.Reduced,
		RedistributeNormalForce: cfg.RedistributeNormalForce,
	})
	if err != nil {
		return nil, err
	}
	c := &Controller{Robot: robot, Model: model, cfg: cfg}

	if cfg.TorqueLimit != nil {
		if err := robot.SetTorqueLimit(cfg.TorqueLimit); err != nil {
			return nil, err
		}
	}
	active := make([]bool, 0, len(cfg.Contacts))
	for _, cc := range cfg.Contacts {
		if err := addContact(robot, cc); err != nil {
			return nil, errors.Wrapf(err, "contact on %q", cc.Link)
		}
		active = append(active, !cc.Inactive)
	}
	if len(active) > 0 {
		if err := robot.SetContact(active...); err != nil {
			return nil, err
		}
	}
	for _, tc := range cfg.Tasks {
		h, err := addTask(robot, tc)
		if err != nil {
			return nil, errors.Wrapf(err, "task at priority %d", tc.Priority)
		}
		c.Tasks = append(c.Tasks, h)
	}
	return c, nil
}

func addContact(robot *wbc.RobotData, cc Contact) error {
	typ, err := contact.TypeFromString(cc.Type)
	if err != nil {
		return err
	}
	dir := r3.Vector{Z: 1}
	if cc.Direction != nil {
		dir = *cc.Direction
	}
	var planeX, planeY float64
	if len(cc.Plane) == 2 {
		planeX, planeY = cc.Plane[0], cc.Plane[1]
	}
	if err := robot.AddContactConstraint(cc.Link, typ, cc.Point, dir, planeX, planeY); err != nil {
		return err
	}
	if len(cc.Friction) == 3 {
		return robot.SetFrictionRatio(cc.Link, cc.Friction[0], cc.Friction[1], cc.Friction[2])
	}
	return nil
}

func addTask(robot *wbc.RobotData, tc Task) (wbc.TaskHandle, error) {
	mode, err := wbc.ModeFromString(tc.Mode)
	if err != nil {
		return wbc.TaskHandle{}, err
	}
	if mode == wbc.ModeCustom {
		return robot.AddTaskSpace(tc.Priority, mode, "", r3.Vector{})
	}
	h, err := robot.AddTaskSpace(tc.Priority, mode, tc.Links[0].Name, tc.Links[0].Point)
	if err != nil {
		return wbc.TaskHandle{}, err
	}
	for _, l := range tc.Links[1:] {
		if err := robot.AddTaskLink(h, mode, l.Name, l.Point); err != nil {
			return wbc.TaskHandle{}, err
		}
	}
	return h, nil
}

// ApplyTargets sets the configured target of every task link. Targets with a profile plan a
// trajectory from the current pose, so the kinematics must have been updated.
func (c *Controller) ApplyTargets() error {
	for i, tc := range c.cfg.Tasks {
		gains := control.DefaultGains
		if tc.Gains != nil {
			gains = *tc.Gains
		}
		for _, l := range tc.Links {
			if l.Target == nil {
				continue
			}
			sp := control.Setpoint{Position: l.Target.Position}
			if l.Target.RPY != nil {
				sp.Rotation = spatialmath.RotationFromRPY(l.Target.RPY.X, l.Target.RPY.Y, l.Target.RPY.Z)
			}
			var err error
			if l.Target.Profile != nil {
				err = c.Robot.SetTrajectory(c.Tasks[i], l.Name, sp, *l.Target.Profile, gains)
			} else {
				err = c.Robot.SetTarget(c.Tasks[i], l.Name, sp, gains)
			}
			if err != nil {
				return errors.Wrapf(err, "target of %q", l.Name)
			}
		}
	}
	return nil
}

// InitialPosition returns the configured start position, or the model's neutral position.
func (c *Controller) InitialPosition() ([]float64, error) {
	if c.cfg.Position == nil {
		return c.Model.NeutralPosition(), nil
	}
	if len(c.cfg.Position) != c.Model.PositionSize() {
		return nil, errors.Errorf("position has %d entries, model expects %d", len(c.cfg.Position), c.Model.PositionSize())
	}
	return append([]float64(nil), c.cfg.Position...), nil
}
