package main

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/san-kum/slservo/internal/config"
	"github.com/spf13/cobra"
)

var (
	dataDir    string
	logLevel   string
	configFile string
	preset     string

	// run overrides
	rate          float64
	duration      float64
	backend       string
	integrator    string
	nIntegration  int
	realTimeClock bool
	freezeBase    bool
	viewerAddr    string
	withConsole   bool
	noRecord      bool
	shmIndex      string

	// plot and analyze
	columns   []string
	column    string
	xColumn   string
	yColumn   string
	svgFile   string
	outFile   string
	refresh   time.Duration
	plotWidth int
)

func main() {
	rootCmd := &cobra.Command{
		Use:          "slservo",
		Short:        "real-time servo framework with a contact dynamics simulator",
		SilenceUsage: true,
	}

	rootCmd.PersistentFlags().StringVar(&dataDir, "data", ".slservo", "data directory")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "info", "log level (debug, info, warn, error)")

	runCmd := &cobra.Command{
		Use:   "run",
		Short: "run the servo processes",
		Args:  cobra.NoArgs,
		RunE:  runServos,
	}
	addConfigFlags(runCmd)
	runCmd.Flags().StringVar(&viewerAddr, "viewer", "", "serve display frames over websocket on this address")
	runCmd.Flags().BoolVar(&withConsole, "console", false, "read console commands from stdin")
	runCmd.Flags().BoolVar(&noRecord, "no-record", false, "do not save the run")
	runCmd.Flags().StringVar(&shmIndex, "shm-index", "", "write the shared object index to this file")

	monitorCmd := &cobra.Command{
		Use:   "monitor",
		Short: "run the servo processes with a live status board",
		Args:  cobra.NoArgs,
		RunE:  runMonitor,
	}
	addConfigFlags(monitorCmd)
	monitorCmd.Flags().DurationVar(&refresh, "refresh", 200*time.Millisecond, "board refresh interval")

	shmCmd := &cobra.Command{
		Use:   "shm",
		Short: "print the shared object index of a configuration",
		Args:  cobra.NoArgs,
		RunE:  printIndex,
	}
	addConfigFlags(shmCmd)

	listCmd := &cobra.Command{
		Use:   "list",
		Short: "list runs",
		Args:  cobra.NoArgs,
		RunE:  listRuns,
	}

	plotCmd := &cobra.Command{
		Use:   "plot [run_id]",
		Short: "plot recorded columns",
		Args:  cobra.ExactArgs(1),
		RunE:  plotRun,
	}
	plotCmd.Flags().StringSliceVar(&columns, "columns", []string{"base_z", "tilt"}, "columns to plot")
	plotCmd.Flags().IntVar(&plotWidth, "width", 80, "plot width")

	analyzeCmd := &cobra.Command{
		Use:   "analyze [run_id]",
		Short: "spectrum and phase portrait of a run",
		Args:  cobra.ExactArgs(1),
		RunE:  analyzeRun,
	}
	analyzeCmd.Flags().StringVar(&column, "column", "base_z", "column for the spectrum")
	analyzeCmd.Flags().StringVar(&xColumn, "x", "", "phase portrait x column")
	analyzeCmd.Flags().StringVar(&yColumn, "y", "", "phase portrait y column")
	analyzeCmd.Flags().StringVar(&svgFile, "svg", "", "also write the phase portrait as svg")

	exportCmd := &cobra.Command{
		Use:   "export-json [run_id]",
		Short: "export a run as json",
		Args:  cobra.ExactArgs(1),
		RunE:  exportJSON,
	}
	exportCmd.Flags().StringVarP(&outFile, "output", "o", "", "output file (default stdout)")

	objectsCmd := &cobra.Command{
		Use:   "objects [file]",
		Short: "parse and list an objects file",
		Args:  cobra.ExactArgs(1),
		RunE:  listObjects,
	}

	presetsCmd := &cobra.Command{
		Use:   "presets",
		Short: "list presets",
		Args:  cobra.NoArgs,
		RunE:  listPresets,
	}

	configCmd := &cobra.Command{
		Use:   "config [path]",
		Short: "write the resolved configuration as yaml",
		Args:  cobra.MaximumNArgs(1),
		RunE:  writeConfig,
	}
	addConfigFlags(configCmd)

	rootCmd.AddCommand(runCmd, monitorCmd, shmCmd, listCmd, plotCmd, analyzeCmd,
		exportCmd, objectsCmd, presetsCmd, configCmd)

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func addConfigFlags(cmd *cobra.Command) {
	cmd.Flags().StringVar(&configFile, "config", "", "config file path (yaml)")
	cmd.Flags().StringVar(&preset, "preset", "", "use preset configuration")
	cmd.Flags().Float64Var(&rate, "rate", config.DefaultRate, "motor servo rate in Hz")
	cmd.Flags().Float64Var(&duration, "time", config.DefaultDuration, "run duration in seconds (0 runs until interrupted)")
	cmd.Flags().StringVar(&backend, "backend", "posix", "real-time backend (posix, virtual)")
	cmd.Flags().StringVar(&integrator, "integrator", "rk4", "integration method (euler, rk4)")
	cmd.Flags().IntVar(&nIntegration, "n-integration", config.DefaultNIntegration, "integration sub-steps per tick")
	cmd.Flags().BoolVar(&realTimeClock, "real-time-clock", false, "clock the motor servo from the backend timer")
	cmd.Flags().BoolVar(&freezeBase, "freeze-base", false, "hold the floating base in place")
}

// loadConfig resolves the config file or preset and applies the flags the
// user set explicitly.
func loadConfig(cmd *cobra.Command) (*config.Config, error) {
	var cfg *config.Config
	switch {
	case configFile != "":
		c, err := config.Load(configFile)
		if err != nil {
			return nil, fmt.Errorf("load config: %w", err)
		}
		cfg = c
	case preset != "":
		cfg = config.GetPreset(preset)
		if cfg == nil {
			return nil, fmt.Errorf("unknown preset %q (available: %s)", preset, strings.Join(config.ListPresets(), ", "))
		}
	default:
		cfg = config.DefaultConfig()
	}

	flags := cmd.Flags()
	if flags.Changed("rate") {
		cfg.Rate = rate
	}
	if flags.Changed("time") {
		cfg.Duration = duration
	}
	if flags.Changed("backend") {
		cfg.Backend = backend
	}
	if flags.Changed("integrator") {
		cfg.Sim.Integrator = integrator
	}
	if flags.Changed("n-integration") {
		cfg.Sim.NIntegration = nIntegration
	}
	if flags.Changed("real-time-clock") {
		cfg.RealTimeClock = realTimeClock
	}
	if flags.Changed("freeze-base") {
		cfg.Sim.FreezeBase = freezeBase
	}
	if f := flags.Lookup("viewer"); f != nil && f.Changed {
		cfg.Viewer.Addr = viewerAddr
	}
	if f := flags.Lookup("no-record"); f != nil && f.Changed {
		cfg.Record.Enabled = !noRecord
	}
	if flags.Changed("log-level") {
		cfg.LogLevel = logLevel
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// sceneDir is where relative objects and terrain files are looked up.
func sceneDir() string {
	if configFile == "" {
		return "."
	}
	return filepath.Dir(configFile)
}

// runDataDir prefers an explicit --data over the config's data directory.
func runDataDir(cmd *cobra.Command, cfg *config.Config) string {
	if cmd.Flags().Changed("data") || cfg.Record.DataDir == "" {
		return dataDir
	}
	return cfg.Record.DataDir
}

func newLogger(level string) *slog.Logger {
	var lvl slog.Level
	if err := lvl.UnmarshalText([]byte(level)); err != nil {
		lvl = slog.LevelInfo
	}
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: lvl}))
}
