// Package cli contains the inspection tool for whole-body controller configs.
package cli

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"math"
	"time"

	"github.com/aybabtme/uniplot/histogram"
	"github.com/invopop/jsonschema"
	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/montanaflynn/stats"
	"github.com/pkg/errors"
	"github.com/urfave/cli/v2"
	"gonum.org/v1/gonum/mat"
	"gonum.org/v1/plot"
	"gonum.org/v1/plot/plotter"
	"gonum.org/v1/plot/plotutil"
	"gonum.org/v1/plot/vg"

	"go.viam.com/wbc/config"
	"go.viam.com/wbc/logging"
)

const (
	flagConfig  = "config"
	flagDebug   = "debug"
	flagNoTask  = "no-task"
	flagCycles  = "cycles"
	flagReduced = "reduced"
	flagOut     = "out"
	flagBins    = "bins"
)

var configFlag = &cli.StringFlag{
	Name:     flagConfig,
	Aliases:  []string{"c"},
	Required: true,
	Usage:    "load the controller from `FILE`",
}

var app = &cli.App{
	Name:  "wbc",
	Usage: "inspect whole-body controller configurations",
	Flags: []cli.Flag{
		&cli.BoolFlag{
			Name:    flagDebug,
			Aliases: []string{"vvv"},
			Usage:   "enable debug logging",
		},
	},
	Commands: []*cli.Command{
		{
			Name:   "model",
			Usage:  "list the links and joints of the configured model",
			Flags:  []cli.Flag{configFlag},
			Action: ModelAction,
		},
		{
			Name:  "torque",
			Usage: "run one control cycle from the configured position and print the torques",
			Flags: []cli.Flag{
				configFlag,
				&cli.BoolFlag{
					Name:  flagNoTask,
					Usage: "compensate gravity only",
				},
				&cli.BoolFlag{
					Name:  flagReduced,
					Usage: "use the reduced-order model regardless of the config",
				},
			},
			Action: TorqueAction,
		},
		{
			Name:  "bench",
			Usage: "time repeated control cycles",
			Flags: []cli.Flag{
				configFlag,
				&cli.IntFlag{
					Name:  flagCycles,
					Value: 200,
					Usage: "number of cycles to run",
				},
				&cli.IntFlag{
					Name:  flagBins,
					Value: 10,
					Usage: "number of histogram buckets",
				},
				&cli.BoolFlag{
					Name:  flagReduced,
					Usage: "use the reduced-order model regardless of the config",
				},
			},
			Action: BenchAction,
		},
		{
			Name:  "plot",
			Usage: "run one control cycle and save a bar chart of the joint torques",
			Flags: []cli.Flag{
				configFlag,
				&cli.StringFlag{
					Name:  flagOut,
					Value: "torques.png",
					Usage: "write the chart to `FILE`; the extension selects the format",
				},
			},
			Action: PlotAction,
		},
		{
			Name:   "schema",
			Usage:  "print the JSON schema of the controller config",
			Action: SchemaAction,
		},
	},
}

// NewApp returns a new app with the CLI function, usage string, flags, and commands.
func NewApp(out, errOut io.Writer) *cli.App {
	app.Writer = out
	app.ErrWriter = errOut
	return app
}

func newLogger(c *cli.Context) logging.Logger {
	if c.Bool(flagDebug) {
		return logging.NewDebugLogger("wbc")
	}
	return logging.NewLogger("wbc")
}

// cycleContext is the context control cycles run with. With --debug every cycle logs its per-level
// diagnostics.
func cycleContext(c *cli.Context) context.Context {
	ctx := c.Context
	if ctx == nil {
		ctx = context.Background()
	}
	if c.Bool(flagDebug) {
		ctx = logging.EnableDebugMode(ctx, "")
	}
	return ctx
}

// loadController builds the controller from the config flag, moves it to its initial position
// and applies the configured targets.
func loadController(c *cli.Context) (*config.Controller, error) {
	cfg, err := config.Read(c.String(flagConfig))
	if err != nil {
		return nil, err
	}
	if c.Bool(flagReduced) {
		cfg.Reduced = true
	}
	logger := newLogger(c)
	ctrl, err := config.NewController(cfg, logger)
	if err != nil {
		return nil, err
	}
	if c.Bool(flagDebug) {
		logger.SetLevel(logging.DEBUG)
	}
	q, err := ctrl.InitialPosition()
	if err != nil {
		return nil, err
	}
	if err := ctrl.Robot.UpdateKinematics(q, make([]float64, ctrl.Model.SystemDoF()), nil); err != nil {
		return nil, err
	}
	if err := ctrl.ApplyTargets(); err != nil {
		return nil, err
	}
	return ctrl, nil
}

// ModelAction prints the link tree of the configured model.
func ModelAction(c *cli.Context) error {
	cfg, err := config.Read(c.String(flagConfig))
	if err != nil {
		return err
	}
	model, err := cfg.LoadModel()
	if err != nil {
		return err
	}

	t := table.NewWriter()
	t.SetTitle(fmt.Sprintf("%s: %d dof, %.3f kg", model.Name(), model.SystemDoF(), model.Mass()))
	t.AppendHeader(table.Row{"id", "link", "parent", "joint", "type", "column", "mass"})
	for id := 0; id < model.NumLinks(); id++ {
		l, err := model.Link(id)
		if err != nil {
			return err
		}
		parent := "-"
		if l.Parent >= 0 {
			parent = fmt.Sprint(l.Parent)
		}
		col := "-"
		if l.Joint.DoFIndex >= 0 {
			col = fmt.Sprint(l.Joint.DoFIndex)
		}
		t.AppendRow(table.Row{l.ID, l.Name, parent, l.Joint.Name, l.Joint.Type, col, fmt.Sprintf("%.3f", l.Inertia.Mass)})
	}
	printf(c.App.Writer, "%s", t.Render())
	return nil
}

// TorqueAction runs one control cycle and prints the torque split and the contact wrenches.
func TorqueAction(c *cli.Context) error {
	ctrl, err := loadController(c)
	if err != nil {
		return err
	}
	robot := ctrl.Robot
	torque, err := robot.GetControlTorque(cycleContext(c), !c.Bool(flagNoTask))
	if err != nil {
		return err
	}

	t := table.NewWriter()
	t.SetTitle("joint torques [Nm]")
	t.AppendHeader(table.Row{"joint", "gravity", "task", "contact", "total"})
	for i, name := range ctrl.Model.JointNames() {
		t.AppendRow(table.Row{
			name,
			formatAt(robot.TorqueGrav(), i),
			formatAt(robot.TorqueTask(), i),
			formatAt(robot.TorqueContact(), i),
			formatAt(torque, i),
		})
	}
	printf(c.App.Writer, "%s", t.Render())

	// wrenches are always reported through the full-order projection
	if err := robot.CalcContactConstraint(); err != nil {
		return err
	}
	wrenches, err := robot.ContactForceLocal(torque)
	if err != nil {
		return err
	}
	ct := table.NewWriter()
	ct.SetTitle("contact wrenches, contact frame")
	ct.AppendHeader(table.Row{"link", "type", "fx", "fy", "fz", "mx", "my", "mz"})
	i := 0
	for _, cc := range robot.Contacts() {
		if !cc.Active {
			continue
		}
		row := table.Row{cc.LinkName, cc.Type.String()}
		for j := 0; j < 6; j++ {
			if j < wrenches[i].Len() {
				row = append(row, fmt.Sprintf("%.3f", wrenches[i].AtVec(j)))
			} else {
				row = append(row, "-")
			}
		}
		ct.AppendRow(row)
		i++
	}
	printf(c.App.Writer, "%s", ct.Render())
	return nil
}

// BenchAction times full control cycles on the configured controller.
func BenchAction(c *cli.Context) error {
	cycles := c.Int(flagCycles)
	if cycles < 1 {
		return errors.Errorf("--%s must be positive, got %d", flagCycles, cycles)
	}
	ctrl, err := loadController(c)
	if err != nil {
		return err
	}
	ctx := cycleContext(c)
	durations := make([]float64, 0, cycles)
	for i := 0; i < cycles; i++ {
		start := time.Now()
		if _, err := ctrl.Robot.GetControlTorque(ctx, true); err != nil {
			return errors.Wrapf(err, "cycle %d", i)
		}
		durations = append(durations, float64(time.Since(start).Microseconds())/1000)
	}

	t := table.NewWriter()
	t.SetTitle(fmt.Sprintf("%d cycles, reduced=%v, workers=%d", cycles, ctrl.Robot.Options().Reduced, ctrl.Robot.Options().Workers))
	t.AppendHeader(table.Row{"statistic", "ms"})
	for _, s := range []struct {
		name string
		fn   func(stats.Float64Data) (float64, error)
	}{
		{"min", stats.Min},
		{"mean", stats.Mean},
		{"median", stats.Median},
		{"p95", func(d stats.Float64Data) (float64, error) { return stats.Percentile(d, 95) }},
		{"max", stats.Max},
		{"stddev", stats.StandardDeviation},
	} {
		v, err := s.fn(durations)
		if err != nil {
			return errors.Wrap(err, s.name)
		}
		t.AppendRow(table.Row{s.name, fmt.Sprintf("%.3f", v)})
	}
	printf(c.App.Writer, "%s", t.Render())

	if bins := c.Int(flagBins); bins > 0 {
		//nolint:errcheck
		histogram.Fprint(c.App.Writer, histogram.Hist(bins, durations), histogram.Linear(40))
	}
	return nil
}

// SchemaAction prints the JSON schema a controller config must satisfy.
func SchemaAction(c *cli.Context) error {
	schema := jsonschema.Reflect(&config.Config{})
	out, err := json.MarshalIndent(schema, "", "  ")
	if err != nil {
		return err
	}
	printf(c.App.Writer, "%s", out)
	return nil
}

// PlotAction saves the gravity and total torque of every joint as grouped bars.
func PlotAction(c *cli.Context) error {
	ctrl, err := loadController(c)
	if err != nil {
		return err
	}
	torque, err := ctrl.Robot.GetControlTorque(cycleContext(c), true)
	if err != nil {
		return err
	}

	p := plot.New()
	p.Title.Text = "joint torques"
	p.Y.Label.Text = "Nm"
	width := vg.Points(6)
	var bars []plot.Plotter
	for i, series := range []struct {
		name string
		v    *mat.VecDense
	}{
		{"gravity", ctrl.Robot.TorqueGrav()},
		{"total", torque},
	} {
		bar, err := plotter.NewBarChart(plotter.Values(mat.Col(nil, 0, series.v)), width)
		if err != nil {
			return errors.Wrap(err, series.name)
		}
		bar.Color = plotutil.Color(i)
		bar.LineStyle.Width = 0
		bar.Offset = vg.Length(2*i-1) * width / 2
		bars = append(bars, bar)
		p.Legend.Add(series.name, bar)
	}
	p.Add(bars...)
	p.Legend.Top = true
	p.NominalX(ctrl.Model.JointNames()...)
	p.X.Tick.Label.Rotation = math.Pi / 2
	p.X.Tick.Label.XAlign = -1

	out := c.String(flagOut)
	if err := p.Save(12*vg.Inch, 5*vg.Inch, out); err != nil {
		return errors.Wrapf(err, "saving %q", out)
	}
	printf(c.App.Writer, "wrote %s", out)
	return nil
}

func formatAt(v *mat.VecDense, i int) string {
	if v == nil || i >= v.Len() || math.IsNaN(v.AtVec(i)) {
		return "-"
	}
	return fmt.Sprintf("%.3f", v.AtVec(i))
}

// printf prints a message with a trailing newline.
func printf(w io.Writer, format string, a ...interface{}) {
	//nolint:errcheck
	fmt.Fprintf(w, format+"\n", a...)
}
