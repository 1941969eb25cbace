package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"text/tabwriter"

	"github.com/guptarohit/asciigraph"
	"github.com/san-kum/slservo/internal/analysis"
	"github.com/san-kum/slservo/internal/config"
	"github.com/san-kum/slservo/internal/monitor"
	"github.com/san-kum/slservo/internal/objects"
	"github.com/san-kum/slservo/internal/servo"
	"github.com/san-kum/slservo/internal/servos"
	"github.com/san-kum/slservo/internal/storage"
	"github.com/san-kum/slservo/internal/store"
	"github.com/san-kum/slservo/internal/system"
	"github.com/san-kum/slservo/internal/viewer"
	"github.com/spf13/cobra"
)

func runServos(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	logger := newLogger(cfg.LogLevel)

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	opts := []system.Option{system.WithLogger(logger), system.WithDir(sceneDir())}
	if cfg.Viewer.Addr != "" {
		hub := viewer.NewHub(logger)
		opts = append(opts, system.WithSink(frameSink(hub, logger)))
		go func() {
			if err := hub.Serve(ctx, cfg.Viewer.Addr); err != nil {
				logger.Error("viewer: stopped", "err", err)
			}
		}()
	}

	sys, err := system.New(cfg, opts...)
	if err != nil {
		return err
	}
	if shmIndex != "" {
		if err := sys.Registry().WriteIndexFile(shmIndex); err != nil {
			logger.Warn("shm: index not written", "path", shmIndex, "err", err)
		}
	}
	if withConsole {
		console := system.NewConsole(sys, os.Stdout)
		go func() {
			if err := console.Serve(ctx, os.Stdin); err != nil {
				logger.Error("console: stopped", "err", err)
			}
		}()
	}

	runErr := sys.Run(ctx)
	printStatus(os.Stdout, sys.Status())

	if cfg.Record.Enabled {
		st := storage.New(runDataDir(cmd, cfg))
		if err := st.Init(); err != nil {
			return errors.Join(runErr, err)
		}
		id, err := sys.Save(st, preset)
		if err != nil {
			return errors.Join(runErr, err)
		}
		fmt.Printf("\nrun saved: %s\n", id)
	}
	return runErr
}

// frameSink streams display frames to the hub. Frames that carry the scene
// replace the cached scene for late joiners.
func frameSink(hub *viewer.Hub, logger *slog.Logger) func(servos.Frame) {
	return func(f servos.Frame) {
		send := hub.Broadcast
		if f.Objects != nil {
			send = hub.BroadcastScene
		}
		if err := send(f); err != nil {
			logger.Debug("viewer: frame dropped", "tick", f.Tick, "err", err)
		}
	}
}

func runMonitor(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	// the board owns the terminal
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))

	sys, err := system.New(cfg, system.WithLogger(logger), system.WithDir(sceneDir()))
	if err != nil {
		return err
	}

	ctx, cancel := context.WithCancel(cmd.Context())
	defer cancel()
	runErr := make(chan error, 1)
	go func() { runErr <- sys.Run(ctx) }()

	disable := func(name string) error {
		l, ok := sys.Loop(name)
		if !ok {
			return fmt.Errorf("unknown servo %q", name)
		}
		l.Disable()
		return nil
	}
	if err := monitor.Run(sys.Status, disable, refresh); err != nil {
		cancel()
		<-runErr
		return err
	}
	cancel()
	err = <-runErr
	printStatus(os.Stdout, sys.Status())
	return err
}

func printIndex(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	sys, err := system.New(cfg, system.WithLogger(newLogger(logLevel)), system.WithDir(sceneDir()))
	if err != nil {
		return err
	}
	defer sys.Shutdown()
	return sys.Registry().WriteIndex(os.Stdout)
}

func printStatus(w io.Writer, statuses []servo.Status) {
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "SERVO\tRATE\tTICKS\tERRORS\tTIME")
	for _, st := range statuses {
		fmt.Fprintf(tw, "%s\t%.1f\t%d\t%d\t%.3fs\n", st.Name, st.Rate, st.Ticks, st.Errors, st.Time)
	}
	tw.Flush()
}

func listRuns(cmd *cobra.Command, args []string) error {
	st := storage.New(dataDir)
	runs, err := st.List()
	if err != nil {
		return err
	}

	if len(runs) == 0 {
		fmt.Println("no runs found")
		return nil
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "ID\tPRESET\tTIME\tDURATION\tRATE\tINTEG\tMOTOR\tERRORS")

	for _, run := range runs {
		var errs int64
		for _, n := range run.Errors {
			errs += n
		}
		p := run.Preset
		if p == "" {
			p = "-"
		}
		fmt.Fprintf(w, "%s\t%s\t%s\t%.2fs\t%.0f\t%s\t%d\t%d\n",
			run.ID[:min(8, len(run.ID))],
			p,
			run.Timestamp.Format("2006-01-02 15:04:05"),
			run.Duration,
			run.Rate,
			run.Integrator,
			run.Ticks[servos.Motor],
			errs,
		)
	}

	return w.Flush()
}

func loadRun(prefix string) (*storage.RunMetadata, *storage.Recording, error) {
	st := storage.New(dataDir)
	id, err := st.Resolve(prefix)
	if err != nil {
		return nil, nil, err
	}
	meta, err := st.Load(id)
	if err != nil {
		return nil, nil, err
	}
	rec, err := st.LoadRecording(id)
	if err != nil {
		return nil, nil, err
	}
	return meta, rec, nil
}

func plotRun(cmd *cobra.Command, args []string) error {
	meta, rec, err := loadRun(args[0])
	if err != nil {
		return err
	}
	if len(rec.Rows) == 0 {
		return fmt.Errorf("no data to plot")
	}

	fmt.Printf("run: %s\n", meta.ID)
	fmt.Printf("robot: %s\n", meta.Robot)
	fmt.Printf("samples: %d\n\n", len(rec.Rows))

	for _, name := range columns {
		data, err := rec.Column(name)
		if err != nil {
			return err
		}
		graph := asciigraph.Plot(data,
			asciigraph.Height(10),
			asciigraph.Width(plotWidth),
			asciigraph.Caption(name+" vs time"),
		)
		fmt.Println(graph)
		fmt.Println()
	}
	return nil
}

func analyzeRun(cmd *cobra.Command, args []string) error {
	meta, rec, err := loadRun(args[0])
	if err != nil {
		return err
	}
	if len(rec.Times) < 2 {
		return fmt.Errorf("no data")
	}
	data, err := rec.Column(column)
	if err != nil {
		return err
	}

	sampleRate := 1 / (rec.Times[1] - rec.Times[0])
	spectrum := analysis.Spectrum(data, sampleRate)

	fmt.Printf("frequency analysis: %s\n", meta.ID)
	fmt.Printf("column: %s  sample rate: %.1f Hz\n\n", column, sampleRate)

	plotData := spectrum.Amps
	if len(plotData) > 4 {
		plotData = plotData[1 : len(plotData)/2]
	}
	if len(plotData) > 0 {
		fmt.Println(asciigraph.Plot(plotData,
			asciigraph.Height(12),
			asciigraph.Width(80),
			asciigraph.Caption("amplitude spectrum ("+column+")"),
		))
		fmt.Println()
	}

	freq, amp := spectrum.Peak()
	fmt.Printf("dominant frequency: %.3f Hz  amplitude: %.5f\n", freq, amp)

	if xColumn != "" && yColumn != "" {
		xs, err := rec.Column(xColumn)
		if err != nil {
			return err
		}
		ys, err := rec.Column(yColumn)
		if err != nil {
			return err
		}
		portrait := analysis.NewPortrait(xColumn, xs, yColumn, ys)
		fmt.Println()
		fmt.Print(portrait.ASCII(60, 20))
		if svgFile != "" {
			if err := os.WriteFile(svgFile, []byte(portrait.SVG(600, 400, "#00ff88")), 0644); err != nil {
				return err
			}
			fmt.Printf("\nportrait written to %s\n", svgFile)
		}
	}
	return nil
}

func exportJSON(cmd *cobra.Command, args []string) error {
	meta, rec, err := loadRun(args[0])
	if err != nil {
		return err
	}
	if outFile != "" {
		if err := store.ExportJSON(outFile, meta, rec); err != nil {
			return err
		}
		fmt.Printf("exported %s to %s\n", meta.ID, outFile)
		return nil
	}
	return store.WriteJSON(os.Stdout, meta, rec)
}

func listObjects(cmd *cobra.Command, args []string) error {
	objs, err := objects.LoadObjects(args[0])
	if err != nil {
		return err
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "NAME\tTYPE\tCONTACT\tPOS\tSCALE\tPARAMS")
	for _, o := range objs {
		fmt.Fprintf(w, "%s\t%s\t%s\t%.3g %.3g %.3g\t%.3g %.3g %.3g\t%d\n",
			o.Name, o.Type, o.ContactModel,
			o.Trans[0], o.Trans[1], o.Trans[2],
			o.Scale[0], o.Scale[1], o.Scale[2],
			len(o.ContactParams),
		)
	}
	if ground, ok := objects.GroundLevel(objs); ok {
		fmt.Fprintf(w, "\nground level\t%.4f\n", ground)
	}
	return w.Flush()
}

func listPresets(cmd *cobra.Command, args []string) error {
	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "PRESET\tDURATION\tBASE Z\tOBJECTS")
	for _, name := range config.ListPresets() {
		cfg := config.GetPreset(name)
		fmt.Fprintf(w, "%s\t%.1fs\t%.2f\t%d\n", name, cfg.Duration, cfg.Base.Pos[2], len(cfg.Sim.Objects))
	}
	return w.Flush()
}

func writeConfig(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	if len(args) == 1 {
		return config.Save(args[0], cfg)
	}
	return config.Write(os.Stdout, cfg)
}
