package wbc

import (
	"context"
	"strings"

	"github.com/golang/geo/r3"
	"github.com/pkg/errors"
	"github.com/samber/lo"
	"gonum.org/v1/gonum/mat"

	"go.viam.com/wbc/control"
	"go.viam.com/wbc/qp"
	"go.viam.com/wbc/utils"
)

// Mode selects which rows of which link Jacobian a task link controls.
type Mode int

// Task modes. COM frame modes act on the link center of mass, custom frame modes on a point fixed to
// the link. ModeCustom tasks get their Jacobian from the caller.
const (
	Mode6D Mode = iota
	Mode6DCOMFrame
	Mode6DCustomFrame
	ModePosition
	ModePositionCOMFrame
	ModePositionCustomFrame
	ModeRotation
	ModeRotationCustomFrame
	ModeCustom
)

var modeNames = map[Mode]string{
	Mode6D:                  "6d",
	Mode6DCOMFrame:          "6d_com_frame",
	Mode6DCustomFrame:       "6d_custom_frame",
	ModePosition:            "position",
	ModePositionCOMFrame:    "position_com_frame",
	ModePositionCustomFrame: "position_custom_frame",
	ModeRotation:            "rotation",
	ModeRotationCustomFrame: "rotation_custom_frame",
	ModeCustom:              "custom",
}

func (m Mode) String() string {
	if s, ok := modeNames[m]; ok {
		return s
	}
	return "unknown"
}

// ModeFromString parses a mode name, ignoring case.
func ModeFromString(s string) (Mode, error) {
	for m, name := range modeNames {
		if strings.EqualFold(s, name) {
			return m, nil
		}
	}
	return 0, errors.Errorf("unknown task mode %q", s)
}

// DoF returns the number of task rows of one link in this mode, or zero for ModeCustom.
func (m Mode) DoF() int {
	switch m {
	case Mode6D, Mode6DCOMFrame, Mode6DCustomFrame:
		return 6
	case ModePosition, ModePositionCOMFrame, ModePositionCustomFrame, ModeRotation, ModeRotationCustomFrame:
		return 3
	default:
		return 0
	}
}

func (m Mode) comFrame() bool {
	return m == Mode6DCOMFrame || m == ModePositionCOMFrame
}

func (m Mode) customFrame() bool {
	return m == Mode6DCustomFrame || m == ModePositionCustomFrame || m == ModeRotationCustomFrame
}

// rows returns the range of Jacobian rows the mode uses.
func (m Mode) rows() (int, int) {
	switch m {
	case ModePosition, ModePositionCOMFrame, ModePositionCustomFrame:
		return 0, 3
	case ModeRotation, ModeRotationCustomFrame:
		return 3, 6
	default:
		return 0, 6
	}
}

// TaskHandle identifies a registered task. The zero handle is never valid.
type TaskHandle struct {
	id int
}

// TaskLink is one link controlled by a task.
type TaskLink struct {
	LinkID int
	Name   string
	Mode   Mode
	Point  r3.Vector
	Gains  control.Gains

	target     *control.Setpoint
	trajectory *control.Trajectory
}

func (l *TaskLink) clone() *TaskLink {
	out := *l
	if l.target != nil {
		sp := l.target.Clone()
		out.target = &sp
	}
	// trajectories are immutable once planned
	return &out
}

// TaskSpace is one priority level: one or more links, or a caller supplied Jacobian, with the
// desired task acceleration FStar.
type TaskSpace struct {
	handle   TaskHandle
	Priority int
	Links    []*TaskLink
	custom   bool

	// Jacobian is the stacked task Jacobian of the last UpdateTaskSpace.
	Jacobian *mat.Dense
	FStar    *mat.VecDense

	full    *taskFactors
	reduced *taskFactors
}

// DoF returns the task dimension.
func (t *TaskSpace) DoF() int {
	if t.custom {
		if t.Jacobian == nil {
			return 0
		}
		r, _ := t.Jacobian.Dims()
		return r
	}
	return lo.SumBy(t.Links, func(l *TaskLink) int { return l.Mode.DoF() })
}

// Handle returns the handle of the task.
func (t *TaskSpace) Handle() TaskHandle {
	return t.handle
}

// FStarQP returns the correction the task QP added to FStar in the last full-order cycle.
func (t *TaskSpace) FStarQP() *mat.VecDense {
	if t.full == nil {
		return nil
	}
	return cloneVec(t.full.FStarQP)
}

func (t *TaskSpace) clone() *TaskSpace {
	out := *t
	out.Links = lo.Map(t.Links, func(l *TaskLink, _ int) *TaskLink { return l.clone() })
	out.Jacobian = cloneDense(t.Jacobian)
	out.FStar = cloneVec(t.FStar)
	out.full = t.full.clone()
	out.reduced = t.reduced.clone()
	return &out
}

// taskFactors holds the factorization of one task against one projection.
type taskFactors struct {
	J      *mat.Dense
	Lambda *mat.Dense
	Q      *mat.Dense
	JKT    *mat.Dense
	// Null is the product of the task null spaces of this level and every level above it.
	Null *mat.Dense

	FStarQP   *mat.VecDense
	ContactQP *mat.VecDense
	// Torque is this level's contribution to the task torque.
	Torque *mat.VecDense
}

func (f *taskFactors) clone() *taskFactors {
	if f == nil {
		return nil
	}
	return &taskFactors{
		J:         cloneDense(f.J),
		Lambda:    cloneDense(f.Lambda),
		Q:         cloneDense(f.Q),
		JKT:       cloneDense(f.JKT),
		Null:      cloneDense(f.Null),
		FStarQP:   cloneVec(f.FStarQP),
		ContactQP: cloneVec(f.ContactQP),
		Torque:    cloneVec(f.Torque),
	}
}

// AddTaskSpace registers a new priority level controlling one link and returns its handle.
// Priorities start at 0 and must be added in order. For ModeCustom the link and point are ignored
// and the Jacobian is supplied with SetCustomTaskSpace.
func (r *RobotData) AddTaskSpace(priority int, mode Mode, link string, point r3.Vector) (TaskHandle, error) {
	switch {
	case priority < 0:
		return TaskHandle{}, r.rejectTask(errors.Errorf("priority must be non-negative, got %d", priority))
	case priority < len(r.tasks):
		return TaskHandle{}, r.rejectTask(errors.Errorf(
			"priority %d already has a task; add links to it with AddTaskLink", priority))
	case priority > len(r.tasks):
		return TaskHandle{}, r.rejectTask(errors.Errorf(
			"priorities must be contiguous: next priority is %d, got %d", len(r.tasks), priority))
	}
	t := &TaskSpace{Priority: priority}
	if mode == ModeCustom {
		t.custom = true
	} else {
		tl, err := r.newTaskLink(mode, link, point)
		if err != nil {
			return TaskHandle{}, r.rejectTask(err)
		}
		t.Links = []*TaskLink{tl}
		t.FStar = mat.NewVecDense(tl.Mode.DoF(), nil)
	}
	r.nextHandle++
	t.handle = TaskHandle{id: r.nextHandle}
	r.tasks = append(r.tasks, t)
	r.taskQP = append(r.taskQP, qp.NewInstance(r.taskSolver))
	r.reducedTaskQP = append(r.reducedTaskQP, qp.NewInstance(r.taskSolver))
	r.logger.Debugw("task added", "priority", priority, "mode", mode.String(), "link", link)
	return t.handle, nil
}

// AddTaskLink adds another link to an existing level. The task dimension grows by the rows of the
// new link and FStar keeps its previous entries.
func (r *RobotData) AddTaskLink(h TaskHandle, mode Mode, link string, point r3.Vector) error {
	t, err := r.Task(h)
	if err != nil {
		return err
	}
	if t.custom || mode == ModeCustom {
		return r.rejectTask(errors.New("custom tasks cannot be combined with link tasks"))
	}
	tl, err := r.newTaskLink(mode, link, point)
	if err != nil {
		return r.rejectTask(err)
	}
	old := t.FStar
	t.Links = append(t.Links, tl)
	t.FStar = mat.NewVecDense(t.DoF(), nil)
	for i := 0; i < old.Len(); i++ {
		t.FStar.SetVec(i, old.AtVec(i))
	}
	t.Jacobian = nil
	t.full, t.reduced = nil, nil
	return nil
}

func (r *RobotData) rejectTask(err error) error {
	r.logger.Warnw("rejected task", "error", err)
	return err
}

func (r *RobotData) newTaskLink(mode Mode, link string, point r3.Vector) (*TaskLink, error) {
	if _, ok := modeNames[mode]; !ok || mode == ModeCustom {
		return nil, errors.Errorf("mode %v needs a link", mode)
	}
	id, err := r.LinkID(link)
	if err != nil {
		return nil, err
	}
	name, err := r.linkName(id)
	if err != nil {
		return nil, err
	}
	for _, t := range r.tasks {
		for _, l := range t.Links {
			if l.LinkID == id {
				return nil, errors.Errorf("link %q is already controlled by the task at priority %d", name, t.Priority)
			}
		}
	}
	return &TaskLink{LinkID: id, Name: name, Mode: mode, Point: point, Gains: control.DefaultGains}, nil
}

// Task returns the task registered under h.
func (r *RobotData) Task(h TaskHandle) (*TaskSpace, error) {
	if t, ok := lo.Find(r.tasks, func(t *TaskSpace) bool { return t.handle == h }); ok && h.id > 0 {
		return t, nil
	}
	return nil, errors.Errorf("unknown task handle %v", h.id)
}

// Tasks returns the tasks ordered by priority.
func (r *RobotData) Tasks() []*TaskSpace {
	return r.tasks
}

// SetTaskSpace sets the desired task acceleration of a level.
func (r *RobotData) SetTaskSpace(h TaskHandle, fstar []float64) error {
	t, err := r.Task(h)
	if err != nil {
		return err
	}
	if t.DoF() == 0 {
		return r.rejectTask(errors.New("custom task has no jacobian yet; use SetCustomTaskSpace"))
	}
	if len(fstar) != t.DoF() {
		return r.rejectTask(sizeError("task acceleration", len(fstar), t.DoF()))
	}
	t.FStar = mat.NewVecDense(len(fstar), append([]float64(nil), fstar...))
	return nil
}

// SetCustomTaskSpace sets the Jacobian and the desired acceleration of a ModeCustom level.
func (r *RobotData) SetCustomTaskSpace(h TaskHandle, jacobian mat.Matrix, fstar []float64) error {
	t, err := r.Task(h)
	if err != nil {
		return err
	}
	if !t.custom {
		return r.rejectTask(errors.Errorf("task at priority %d is not a custom task", t.Priority))
	}
	rows, cols := jacobian.Dims()
	if cols != r.model.SystemDoF() {
		return r.rejectTask(errors.Errorf("custom task jacobian has %d columns, model has %d", cols, r.model.SystemDoF()))
	}
	if len(fstar) != rows {
		return r.rejectTask(sizeError("task acceleration", len(fstar), rows))
	}
	t.Jacobian = mat.DenseCopyOf(jacobian)
	t.FStar = mat.NewVecDense(rows, append([]float64(nil), fstar...))
	return nil
}

func (r *RobotData) taskLink(h TaskHandle, link string) (*TaskLink, error) {
	t, err := r.Task(h)
	if err != nil {
		return nil, err
	}
	id, err := r.LinkID(link)
	if err != nil {
		return nil, err
	}
	if tl, ok := lo.Find(t.Links, func(l *TaskLink) bool { return l.LinkID == id }); ok {
		return tl, nil
	}
	return nil, errors.Errorf("task at priority %d does not control link %q", t.Priority, link)
}

// SetTarget makes UpdateTaskSpace compute the rows of one task link from a PD law tracking a fixed
// setpoint.
func (r *RobotData) SetTarget(h TaskHandle, link string, sp control.Setpoint, gains control.Gains) error {
	tl, err := r.taskLink(h, link)
	if err != nil {
		return err
	}
	if err := gains.Validate(); err != nil {
		return r.rejectTask(err)
	}
	target := sp.Clone()
	tl.target, tl.trajectory, tl.Gains = &target, nil, gains
	return nil
}

// SetTrajectory plans a move of one task link from its current pose to goal, starting now, and makes
// UpdateTaskSpace track it.
func (r *RobotData) SetTrajectory(
	h TaskHandle, link string, goal control.Setpoint, profile control.TrapezoidProfile, gains control.Gains,
) error {
	tl, err := r.taskLink(h, link)
	if err != nil {
		return err
	}
	if r.state == nil {
		return ErrNoKinematics
	}
	if err := gains.Validate(); err != nil {
		return r.rejectTask(err)
	}
	frame := r.taskFrame(tl)
	from := control.Setpoint{Position: frame.position}
	if goal.Rotation != nil {
		from.Rotation = mat.DenseCopyOf(frame.rotation)
	}
	tr, err := control.NewTrajectory(r.ControlTime(), profile, from, goal)
	if err != nil {
		return err
	}
	tl.target, tl.trajectory, tl.Gains = nil, tr, gains
	return nil
}

// ClearTarget stops tracking for one task link; its rows of FStar are left as last computed.
func (r *RobotData) ClearTarget(h TaskHandle, link string) error {
	tl, err := r.taskLink(h, link)
	if err != nil {
		return err
	}
	tl.target, tl.trajectory = nil, nil
	return nil
}

type frame struct {
	jacobian *mat.Dense
	position r3.Vector
	velocity r3.Vector
	rotation *mat.Dense
	angVel   r3.Vector
}

func (r *RobotData) taskFrame(tl *TaskLink) frame {
	ls := &r.state.Links[tl.LinkID]
	f := frame{rotation: ls.Rotation, angVel: ls.AngularVelocity}
	switch {
	case tl.Mode.comFrame():
		f.jacobian, f.position, f.velocity = ls.COMJacobian, ls.COM, ls.COMVelocity
	case tl.Mode.customFrame():
		f.jacobian = r.state.PointJacobian(tl.LinkID, tl.Point)
		f.position = r.state.PointPosition(tl.LinkID, tl.Point)
		f.velocity = r.state.PointVelocity(tl.LinkID, tl.Point)
	default:
		f.jacobian, f.position, f.velocity = ls.Jacobian, ls.Position, ls.Velocity
	}
	return f
}

// UpdateTaskSpace rebuilds every task Jacobian from the current kinematics and evaluates the PD law
// of every task link with a target or trajectory at the current control time.
func (r *RobotData) UpdateTaskSpace() error {
	if r.state == nil {
		return ErrNoKinematics
	}
	n := r.model.SystemDoF()
	now := r.ControlTime()
	for _, t := range r.tasks {
		if t.custom {
			continue
		}
		jac := mat.NewDense(t.DoF(), n, nil)
		row := 0
		for _, tl := range t.Links {
			f := r.taskFrame(tl)
			first, last := tl.Mode.rows()
			jac.Slice(row, row+last-first, 0, n).(*mat.Dense).Copy(f.jacobian.Slice(first, last, 0, n))

			var sp *control.Setpoint
			switch {
			case tl.trajectory != nil:
				at := tl.trajectory.At(now)
				sp = &at
			case tl.target != nil:
				sp = tl.target
			}
			if sp != nil {
				r.trackSetpoint(t.FStar, row, tl, f, sp)
			}
			row += last - first
		}
		t.Jacobian = jac
	}
	return nil
}

func (r *RobotData) trackSetpoint(fstar *mat.VecDense, row int, tl *TaskLink, f frame, sp *control.Setpoint) {
	set := func(offset int, v r3.Vector) {
		fstar.SetVec(offset, v.X)
		fstar.SetVec(offset+1, v.Y)
		fstar.SetVec(offset+2, v.Z)
	}
	switch tl.Mode.DoF() {
	case 6:
		set(row, tl.Gains.PositionPD(sp.Position, sp.Velocity, f.position, f.velocity))
		if sp.Rotation != nil {
			set(row+3, tl.Gains.RotationPD(sp.Rotation, sp.AngularVelocity, f.rotation, f.angVel))
		}
	case 3:
		if first, _ := tl.Mode.rows(); first == 0 {
			set(row, tl.Gains.PositionPD(sp.Position, sp.Velocity, f.position, f.velocity))
		} else if sp.Rotation != nil {
			set(row, tl.Gains.RotationPD(sp.Rotation, sp.AngularVelocity, f.rotation, f.angVel))
		}
	}
}

// checkTasks verifies every level is ready to be factorized.
func (r *RobotData) checkTasks() error {
	for _, t := range r.tasks {
		if t.Jacobian == nil || t.FStar == nil {
			return errors.Errorf("task at priority %d has no jacobian; call UpdateTaskSpace or SetCustomTaskSpace", t.Priority)
		}
		if rows, _ := t.Jacobian.Dims(); rows != t.FStar.Len() {
			return errors.Errorf("task at priority %d has %d jacobian rows and %d accelerations", t.Priority, rows, t.FStar.Len())
		}
	}
	return nil
}

// CalcTaskSpace factorizes every task against the full-order projection. The factorizations run
// concurrently on at most Options.Workers goroutines; the null spaces are chained afterwards in
// priority order.
func (r *RobotData) CalcTaskSpace(ctx context.Context) error {
	if r.full == nil {
		return ErrNoProjection
	}
	if err := r.checkTasks(); err != nil {
		return err
	}
	facs, err := r.factorizeTasks(ctx, r.full, func(t *TaskSpace) *mat.Dense { return t.Jacobian })
	if err != nil {
		return err
	}
	for i, t := range r.tasks {
		t.full = facs[i]
	}
	return nil
}

func (r *RobotData) factorizeTasks(
	ctx context.Context, proj *Projection, jacobian func(t *TaskSpace) *mat.Dense,
) ([]*taskFactors, error) {
	facs := make([]*taskFactors, len(r.tasks))
	err := utils.RunBounded(ctx, len(r.tasks), r.opts.Workers, func(ctx context.Context, i int) error {
		f, err := factorizeTask(jacobian(r.tasks[i]), proj)
		if err != nil {
			return errors.Wrapf(err, "task at priority %d", i)
		}
		facs[i] = f
		return nil
	})
	if err != nil {
		return nil, err
	}
	chainNullSpaces(facs, proj.Actuated())
	return facs, nil
}

// factorizeTask computes, with M = A⁻¹·N_C,
//
//	Λ = pinv(J·M·Jᵀ),  Q = Λ·J·M[:, base:],  J_kt = W_inv·Qᵀ·pinv(Q·W_inv·Qᵀ)
func factorizeTask(jac *mat.Dense, proj *Projection) (*taskFactors, error) {
	m, n := jac.Dims()
	if rows, _ := proj.AinvNull.Dims(); rows != n {
		return nil, errors.Errorf("task jacobian has %d columns, projection has %d", n, rows)
	}
	var jm, inner mat.Dense
	jm.Mul(jac, proj.AinvNull)
	inner.Mul(&jm, jac.T())
	lambda, err := utils.Pinv(utils.Symmetrize(&inner))
	if err != nil {
		return nil, errors.Wrap(err, "task space inertia")
	}
	var q mat.Dense
	q.Mul(lambda, jm.Slice(0, m, proj.BaseDoF, n))

	var wq, qwq mat.Dense
	wq.Mul(proj.WInv, q.T())
	qwq.Mul(&q, &wq)
	qwqInv, err := utils.Pinv(utils.Symmetrize(&qwq))
	if err != nil {
		return nil, errors.Wrap(err, "task consistent inverse")
	}
	var jkt mat.Dense
	jkt.Mul(&wq, qwqInv)
	return &taskFactors{J: mat.DenseCopyOf(jac), Lambda: lambda, Q: &q, JKT: &jkt}, nil
}

// chainNullSpaces sets Null_0 = I − J_kt_0·Q_0 and Null_i = Null_{i−1}·(I − J_kt_i·Q_i).
func chainNullSpaces(facs []*taskFactors, act int) {
	for i, f := range facs {
		var jq mat.Dense
		jq.Mul(f.JKT, f.Q)
		step := utils.Identity(act)
		step.Sub(step, &jq)
		if i == 0 {
			f.Null = step
			continue
		}
		f.Null = &mat.Dense{}
		f.Null.Mul(facs[i-1].Null, step)
	}
}
