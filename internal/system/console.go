package system

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"sort"
	"strconv"
	"strings"
	"text/tabwriter"

	"github.com/go-gl/mathgl/mgl64"
	"github.com/spf13/cobra"

	"github.com/san-kum/slservo/internal/mailbox"
	"github.com/san-kum/slservo/internal/objects"
	"github.com/san-kum/slservo/internal/servos"
)

// ErrQuit is returned by Exec for the quit command.
var ErrQuit = errors.New("console: quit")

// Console turns typed commands into mailbox messages for the running
// servos. Reads of servo state go through the owning loop's lock.
type Console struct {
	sys *System
	out io.Writer
}

func NewConsole(sys *System, out io.Writer) *Console {
	return &Console{sys: sys, out: out}
}

// Serve executes one command per line of in until EOF, quit or ctx is done.
func (c *Console) Serve(ctx context.Context, in io.Reader) error {
	lines := make(chan string)
	go func() {
		defer close(lines)
		sc := bufio.NewScanner(in)
		for sc.Scan() {
			select {
			case lines <- sc.Text():
			case <-ctx.Done():
				return
			}
		}
	}()
	for {
		select {
		case <-ctx.Done():
			return nil
		case line, ok := <-lines:
			if !ok {
				return nil
			}
			err := c.Exec(line)
			if errors.Is(err, ErrQuit) {
				return nil
			}
			if err != nil {
				fmt.Fprintf(c.out, "error: %v\n", err)
			}
		}
	}
}

// Exec runs one command line. Blank lines and comments are ignored.
func (c *Console) Exec(line string) error {
	if i := strings.IndexByte(line, '#'); i >= 0 {
		line = line[:i]
	}
	args := strings.Fields(line)
	if len(args) == 0 {
		return nil
	}
	root := c.Command()
	root.SetArgs(args)
	return root.Execute()
}

// Command builds a fresh command tree, so flag values never leak between
// lines.
func (c *Console) Command() *cobra.Command {
	root := &cobra.Command{
		Use:           "slservo>",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.SetOut(c.out)
	root.SetErr(c.out)
	root.CompletionOptions.DisableDefaultCmd = true

	root.AddCommand(
		c.statusCmd(),
		c.disableCmd(),
		c.resetCmd(),
		c.homeCmd(),
		c.gotoCmd(),
		c.gainsCmd(),
		c.uextCmd(),
		c.flagCmd("realtime", "pace the simulation to wall time", mailbox.CmdRealTime),
		c.flagCmd("freeze", "pin the floating base", mailbox.CmdFreezeBase),
		c.scalarCmd("gravity", "set gravity in m/s^2", mailbox.CmdGravity),
		c.scalarCmd("intrate", "set integration sub-steps per tick", mailbox.CmdIntRate),
		c.methodCmd(),
		c.objectCmd(),
		&cobra.Command{
			Use:   "quit",
			Short: "stop all servos",
			RunE: func(cmd *cobra.Command, args []string) error {
				c.sys.Shutdown()
				return ErrQuit
			},
		},
	)
	return root
}

func (c *Console) send(servo, name string, v any) error {
	mb, ok := c.sys.Mailbox(servo)
	if !ok {
		return fmt.Errorf("console: servo %s has no mailbox", servo)
	}
	return mb.Send(name, v)
}

func (c *Console) statusCmd() *cobra.Command {
	var verbose, logged bool
	cmd := &cobra.Command{
		Use:   "status [servo]",
		Short: "show servo counters",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			w := tabwriter.NewWriter(c.out, 0, 0, 2, ' ', 0)
			fmt.Fprintln(w, "SERVO\tRATE\tTICKS\tERRORS\tTIME\tPHASE")
			for _, st := range c.sys.Status() {
				if len(args) == 1 && st.Name != args[0] {
					continue
				}
				fmt.Fprintf(w, "%s\t%.1f\t%d\t%d\t%.3f\t%s\n", st.Name, st.Rate, st.Ticks, st.Errors, st.Time, st.Phase)
				if !verbose {
					continue
				}
				keys := make([]string, 0, len(st.Values))
				for k := range st.Values {
					keys = append(keys, k)
				}
				sort.Strings(keys)
				for _, k := range keys {
					fmt.Fprintf(w, "\t%s\t%.4f\t\t\t\n", k, st.Values[k])
				}
			}
			if err := w.Flush(); err != nil {
				return err
			}
			if !logged {
				return nil
			}
			var errs []error
			for _, st := range c.sys.Status() {
				if len(args) == 1 && st.Name != args[0] {
					continue
				}
				if _, ok := c.sys.Mailbox(st.Name); ok {
					errs = append(errs, c.send(st.Name, mailbox.CmdStatus, struct{}{}))
				}
			}
			return errors.Join(errs...)
		},
	}
	cmd.Flags().BoolVarP(&verbose, "verbose", "v", false, "show payload values")
	cmd.Flags().BoolVar(&logged, "log", false, "also ask each servo to log its status")
	return cmd
}

func (c *Console) disableCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "disable <servo>",
		Short: "stop one servo at its next tick",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if _, ok := c.sys.Mailbox(args[0]); ok {
				return c.send(args[0], mailbox.CmdDisable, struct{}{})
			}
			l, ok := c.sys.Loop(args[0])
			if !ok {
				return fmt.Errorf("console: unknown servo %s", args[0])
			}
			l.Disable()
			return nil
		},
	}
}

func (c *Console) resetCmd() *cobra.Command {
	var quat []float64
	cmd := &cobra.Command{
		Use:   "reset <x> <y> <z>",
		Short: "place the floating base at rest",
		Args:  cobra.ExactArgs(3),
		RunE: func(cmd *cobra.Command, args []string) error {
			pos, err := parseFloats(args)
			if err != nil {
				return err
			}
			if len(quat) != 4 {
				return fmt.Errorf("console: quat needs 4 values, got %d", len(quat))
			}
			return c.send(servos.Simulation, mailbox.CmdReset, mailbox.Reset{
				Pos:  [3]float64(pos),
				Quat: [4]float64(quat),
			})
		},
	}
	cmd.Flags().Float64SliceVar(&quat, "quat", []float64{1, 0, 0, 0}, "orientation w,x,y,z")
	return cmd
}

func (c *Console) homeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "home",
		Short: "move all joints to the default posture",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return c.send(servos.Task, mailbox.CmdReset, struct{}{})
		},
	}
}

func (c *Console) gotoCmd() *cobra.Command {
	var speed float64
	cmd := &cobra.Command{
		Use:   "goto <dof> <th> [<dof> <th>...]",
		Short: "move joints linearly to targets; dofs count from 1",
		Args: func(cmd *cobra.Command, args []string) error {
			if len(args) == 0 || len(args)%2 != 0 {
				return errors.New("console: goto needs dof/target pairs")
			}
			return nil
		},
		RunE: func(cmd *cobra.Command, args []string) error {
			g := mailbox.Goto{Speed: speed}
			for i := 0; i < len(args); i += 2 {
				dof, err := strconv.Atoi(args[i])
				if err != nil {
					return fmt.Errorf("console: dof %q: %w", args[i], err)
				}
				th, err := strconv.ParseFloat(args[i+1], 64)
				if err != nil {
					return fmt.Errorf("console: target %q: %w", args[i+1], err)
				}
				g.Targets = append(g.Targets, mailbox.GotoTarget{DOF: dof, Th: th})
			}
			return c.send(servos.Task, mailbox.CmdGoto, g)
		},
	}
	cmd.Flags().Float64Var(&speed, "speed", 0, "joint speed in rad/s (0 uses goto_speed)")
	return cmd
}

func (c *Console) gainsCmd() *cobra.Command {
	var th, thd []float64
	var target string
	cmd := &cobra.Command{
		Use:   "gains --th a,b,... --thd a,b,...",
		Short: "change PD gains of the motor servo, the simulated joint limits or both",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			g := mailbox.Gains{Th: th, Thd: thd}
			var targets []string
			switch target {
			case "all":
				targets = []string{servos.Motor, servos.Simulation}
			case servos.Motor, servos.Simulation:
				targets = []string{target}
			default:
				return fmt.Errorf("console: gains target %q", target)
			}
			var errs []error
			for _, t := range targets {
				errs = append(errs, c.send(t, mailbox.CmdGains, g))
			}
			return errors.Join(errs...)
		},
	}
	cmd.Flags().Float64SliceVar(&th, "th", nil, "position gains per dof")
	cmd.Flags().Float64SliceVar(&thd, "thd", nil, "velocity gains per dof")
	cmd.Flags().StringVar(&target, "to", "all", "motor, simulation or all")
	return cmd
}

func (c *Console) uextCmd() *cobra.Command {
	var torque []float64
	cmd := &cobra.Command{
		Use:   "uext <dof> <fx> <fy> <fz>",
		Short: "apply a simulated external force; dof 0 is the base, no args clears",
		Args: func(cmd *cobra.Command, args []string) error {
			if len(args) != 0 && len(args) != 4 {
				return errors.New("console: uext needs a dof and three force components")
			}
			return nil
		},
		RunE: func(cmd *cobra.Command, args []string) error {
			var u mailbox.UextSim
			if len(args) == 4 {
				dof, err := strconv.Atoi(args[0])
				if err != nil {
					return fmt.Errorf("console: dof %q: %w", args[0], err)
				}
				f, err := parseFloats(args[1:])
				if err != nil {
					return err
				}
				if len(torque) != 3 {
					return fmt.Errorf("console: torque needs 3 values, got %d", len(torque))
				}
				u.Forces = []mailbox.Force{{DOF: dof, F: [3]float64(f), T: [3]float64(torque)}}
			}
			return c.send(servos.Simulation, mailbox.CmdUextSim, u)
		},
	}
	cmd.Flags().Float64SliceVar(&torque, "torque", []float64{0, 0, 0}, "torque tx,ty,tz")
	return cmd
}

func (c *Console) flagCmd(use, short, name string) *cobra.Command {
	return &cobra.Command{
		Use:       use + " on|off",
		Short:     short,
		Args:      cobra.ExactArgs(1),
		ValidArgs: []string{"on", "off"},
		RunE: func(cmd *cobra.Command, args []string) error {
			var on bool
			switch args[0] {
			case "on", "1", "true":
				on = true
			case "off", "0", "false":
			default:
				return fmt.Errorf("console: %s expects on or off", use)
			}
			return c.send(servos.Simulation, name, mailbox.Flag{On: on})
		},
	}
}

func (c *Console) scalarCmd(use, short, name string) *cobra.Command {
	return &cobra.Command{
		Use:   use + " <value>",
		Short: short,
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			v, err := strconv.ParseFloat(args[0], 64)
			if err != nil {
				return fmt.Errorf("console: %s: %w", use, err)
			}
			return c.send(servos.Simulation, name, mailbox.Scalar{Value: v})
		},
	}
}

func (c *Console) methodCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "intmethod euler|rk4",
		Short: "switch the integration method",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return c.send(servos.Simulation, mailbox.CmdIntMethod, mailbox.Method{Name: args[0]})
		},
	}
}

func (c *Console) objectCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "object",
		Short: "edit the simulated scene",
	}

	var (
		rot, scale, rgb  []float64
		oparams, cparams []float64
		contact          string
	)
	add := &cobra.Command{
		Use:   "add <name> <type> <x> <y> <z>",
		Short: "add or replace an object",
		Args:  cobra.ExactArgs(5),
		RunE: func(cmd *cobra.Command, args []string) error {
			typ, err := objects.ParseType(args[1])
			if err != nil {
				return err
			}
			cm, err := objects.ParseContactModel(contact)
			if err != nil {
				return err
			}
			pos, err := parseFloats(args[2:])
			if err != nil {
				return err
			}
			for _, v := range [][]float64{rot, scale, rgb} {
				if len(v) != 3 {
					return errors.New("console: rot, scale and rgb need 3 values")
				}
			}
			return c.send(servos.Simulation, mailbox.CmdAddObject, mailbox.Object{
				Name:          args[0],
				Type:          int(typ),
				RGB:           [3]float64(rgb),
				Pos:           [3]float64(pos),
				Rot:           [3]float64(rot),
				Scale:         [3]float64(scale),
				ContactModel:  int(cm),
				ObjectParams:  oparams,
				ContactParams: cparams,
			})
		},
	}
	add.Flags().Float64SliceVar(&rot, "rot", []float64{0, 0, 0}, "rotation angles")
	add.Flags().Float64SliceVar(&scale, "scale", []float64{1, 1, 1}, "size along each axis")
	add.Flags().Float64SliceVar(&rgb, "rgb", []float64{0.5, 0.5, 0.5}, "colour")
	add.Flags().StringVar(&contact, "contact", "none", "contact model")
	add.Flags().Float64SliceVar(&oparams, "oparams", nil, "object parameters")
	add.Flags().Float64SliceVar(&cparams, "cparams", nil, "contact parameters")

	var show bool
	hide := &cobra.Command{
		Use:   "hide <name>",
		Short: "hide an object from contacts and display",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return c.send(servos.Simulation, mailbox.CmdHideObject, mailbox.ObjectRef{Name: args[0], Hide: !show})
		},
	}
	hide.Flags().BoolVar(&show, "show", false, "unhide instead")

	var moveRot []float64
	move := &cobra.Command{
		Use:   "move <name> <x> <y> <z>",
		Short: "reposition an object",
		Args:  cobra.ExactArgs(4),
		RunE: func(cmd *cobra.Command, args []string) error {
			pos, err := parseFloats(args[1:])
			if err != nil {
				return err
			}
			if len(moveRot) != 3 {
				return errors.New("console: rot needs 3 values")
			}
			return c.send(servos.Simulation, mailbox.CmdMoveObject, mailbox.MoveObject{
				Name: args[0],
				Pos:  [3]float64(pos),
				Rot:  [3]float64(moveRot),
			})
		},
	}
	move.Flags().Float64SliceVar(&moveRot, "rot", []float64{0, 0, 0}, "rotation angles")

	del := &cobra.Command{
		Use:   "delete <name>",
		Short: "remove an object",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return c.send(servos.Simulation, mailbox.CmdDeleteObject, mailbox.ObjectRef{Name: args[0]})
		},
	}

	list := &cobra.Command{
		Use:   "list",
		Short: "list the simulated scene",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			var objs []objects.Object
			c.withSim(func() { objs = c.sys.Simulator().Engine().Scene().Snapshot() })
			w := tabwriter.NewWriter(c.out, 0, 0, 2, ' ', 0)
			fmt.Fprintln(w, "NAME\tTYPE\tCONTACT\tPOS\tSCALE\tHIDDEN")
			for _, o := range objs {
				fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\t%v\n", o.Name, o.Type, o.ContactModel, vec(o.Trans), vec(o.Scale), o.Hidden)
			}
			return w.Flush()
		},
	}

	forces := &cobra.Command{
		Use:   "forces <name>",
		Short: "show the contact force and torque acting on an object",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			var f, t mgl64.Vec3
			var err error
			c.withSim(func() { f, t, err = c.sys.Simulator().Engine().Scene().Forces(args[0]) })
			if err != nil {
				return err
			}
			fmt.Fprintf(c.out, "%s: f=%s t=%s\n", args[0], vec(f), vec(t))
			return nil
		},
	}

	cmd.AddCommand(add, hide, move, del, list, forces)
	return cmd
}

// withSim runs fn between simulation ticks.
func (c *Console) withSim(fn func()) {
	if l, ok := c.sys.Loop(servos.Simulation); ok {
		l.Exec(fn)
		return
	}
	fn()
}

func parseFloats(args []string) ([]float64, error) {
	out := make([]float64, len(args))
	for i, a := range args {
		v, err := strconv.ParseFloat(a, 64)
		if err != nil {
			return nil, fmt.Errorf("console: %q is not a number", a)
		}
		out[i] = v
	}
	return out, nil
}

func vec(v mgl64.Vec3) string {
	return fmt.Sprintf("(%.3f, %.3f, %.3f)", v[0], v[1], v[2])
}
