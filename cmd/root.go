package cmd

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"go.uber.org/multierr"
	"gopkg.in/yaml.v3"

	sim "github.com/lbm-sim/lbm-sim/sim"
	"github.com/lbm-sim/lbm-sim/sim/trace"
)

var (
	scenePath  string // Scene file (config, objects, geometry)
	steps      int    // Number of finest-level steps
	seed       int64  // Overrides the scene seed when set
	workers    int    // Overrides the scene worker count when set
	logLevel   string // Log verbosity level
	traceLevel string // none, timestep or steps
	traceOut   string // Trace YAML destination (empty = no file)
	tracers    int    // Overrides the scene tracer count when set
)

// rootCmd is the base command for the CLI
var rootCmd = &cobra.Command{
	Use:   "lbm-sim",
	Short: "Free-surface multi-level lattice Boltzmann fluid solver",
}

// runOptions carries everything runScene needs; flags fill it in.
type runOptions struct {
	scene      string
	steps      int
	seed       *int64
	workers    *int
	tracers    *int
	traceLevel string
	traceOut   string
}

// runCmd executes the simulation using parameters from CLI flags
var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Run a scene for a number of steps",
	Run: func(cmd *cobra.Command, args []string) {
		setLogLevel()

		opts := runOptions{
			scene:      scenePath,
			steps:      steps,
			traceLevel: traceLevel,
			traceOut:   traceOut,
		}
		// Scene values win unless the flag was given explicitly
		if cmd.Flags().Changed("seed") {
			opts.seed = &seed
		}
		if cmd.Flags().Changed("workers") {
			opts.workers = &workers
		}
		if cmd.Flags().Changed("tracers") {
			opts.tracers = &tracers
		}

		ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
		defer stop()
		if err := runScene(ctx, opts, os.Stdout); err != nil {
			logrus.Fatalf("Simulation failed: %v", err)
		}
		logrus.Info("Simulation complete.")
	},
}

// runScene loads, runs and reports one scene.
func runScene(ctx context.Context, opts runOptions, out io.Writer) error {
	if !trace.IsValidTraceLevel(opts.traceLevel) {
		return fmt.Errorf("unknown trace level %q; valid: none, timestep, steps", opts.traceLevel)
	}
	sf, err := sim.LoadScene(opts.scene)
	if err != nil {
		return err
	}
	if opts.seed != nil {
		sf.Config.Seed = *opts.seed
	}
	if opts.workers != nil {
		sf.Config.Parallel.Workers = *opts.workers
	}
	if opts.tracers != nil {
		sf.Config.Particles.Tracers = *opts.tracers
	}
	if err := sf.Validate(); err != nil {
		return fmt.Errorf("invalid scene %s: %w", opts.scene, err)
	}

	s, err := sim.NewSolver(sf.Config)
	if err != nil {
		return err
	}
	level := trace.TraceLevel(opts.traceLevel)
	if opts.traceOut != "" && (level == "" || level == trace.TraceLevelNone) {
		level = trace.TraceLevelSteps
	}
	tr := trace.NewSimulationTrace(level)
	s.SetTrace(tr)
	if err := s.Initialize(&sf.Geometry, sf.Objects); err != nil {
		return err
	}
	if n := sf.Config.Particles.Tracers; n > 0 {
		placed, err := s.InitParticles(n)
		if err != nil {
			return err
		}
		if placed < n {
			logrus.Warnf("Placed %d of %d tracers; the scene has little fluid", placed, n)
		}
	}

	logrus.Infof("Running %s for %d steps (seed %d, %d worker(s))",
		opts.scene, opts.steps, sf.Config.Seed, max(1, sf.Config.Parallel.Workers))
	runErr := s.Run(ctx, opts.steps)

	// Report whatever was simulated, also after a panic or an interrupt
	st := s.Stats()
	st.Print(out)
	if tr.Level != trace.TraceLevelNone && tr.Level != "" {
		printTraceSummary(out, trace.Summarize(tr))
	}
	if opts.traceOut != "" {
		if err := writeTrace(opts.traceOut, tr); err != nil {
			return err
		}
	}
	return runErr
}

func printTraceSummary(w io.Writer, ts *trace.TraceSummary) {
	fmt.Fprintln(w, "=== Trace Summary ===")
	fmt.Fprintf(w, "Recorded Steps       : %d\n", ts.Steps)
	fmt.Fprintf(w, "Timestep Changes     : %d (%d down, %d up)\n", ts.TimestepChanges, ts.Decreases, ts.Increases)
	if ts.Steps > 0 {
		fmt.Fprintf(w, "Filled / Emptied     : %d / %d\n", ts.TotalFilled, ts.TotalEmptied)
		fmt.Fprintf(w, "Peak Max Velocity    : %.4f\n", ts.PeakMaxVel)
		fmt.Fprintf(w, "Max Mass Drift       : %.3g%%\n", 100*ts.MaxMassDrift)
		fmt.Fprintf(w, "Mean MLUPS           : %.2f\n", ts.MeanMLUPS)
	}
}

func writeTrace(path string, tr *trace.SimulationTrace) error {
	data, err := yaml.Marshal(tr)
	if err != nil {
		return fmt.Errorf("encoding trace: %w", err)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("writing trace: %w", err)
	}
	logrus.Infof("Trace written to %s", path)
	return nil
}

// validateCmd loads a scene and reports every problem at once
var validateCmd = &cobra.Command{
	Use:   "validate",
	Short: "Check a scene file without running it",
	Run: func(cmd *cobra.Command, args []string) {
		setLogLevel()
		if err := validateScene(scenePath, os.Stdout); err != nil {
			os.Exit(1)
		}
	},
}

// validateScene prints one line per problem and returns a non-nil error if
// there was any.
func validateScene(path string, out io.Writer) error {
	sf, err := sim.LoadScene(path)
	if err != nil {
		fmt.Fprintf(out, "%s: %v\n", path, err)
		return err
	}
	if err := sf.Validate(); err != nil {
		for _, e := range multierr.Errors(err) {
			fmt.Fprintf(out, "%s: %v\n", path, e)
		}
		return err
	}
	fmt.Fprintf(out, "%s: OK (%dD, resolution %v, %d level(s), %d shape(s), %d object(s))\n",
		path, sf.Config.Domain.Dimensions, sf.Config.Domain.Resolution,
		sf.Config.Refinement.MaxLevel+1, len(sf.Geometry.Shapes), len(sf.Objects))
	return nil
}

func setLogLevel() {
	level, err := logrus.ParseLevel(logLevel)
	if err != nil {
		logrus.Fatalf("Invalid log level: %s", logLevel)
	}
	logrus.SetLevel(level)
}

// Execute runs the CLI root command
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

// init sets up CLI flags and subcommands
func init() {
	rootCmd.PersistentFlags().StringVar(&logLevel, "log", "warn", "Log level (trace, debug, info, warn, error, fatal, panic)")

	runCmd.Flags().StringVar(&scenePath, "scene", "", "Scene YAML file")
	runCmd.Flags().IntVar(&steps, "steps", 100, "Number of finest-level steps")
	runCmd.Flags().Int64Var(&seed, "seed", 42, "Seed for drop emission and tracers (default: scene seed)")
	runCmd.Flags().IntVar(&workers, "workers", 1, "Kernel worker goroutines (default: scene value)")
	runCmd.Flags().IntVar(&tracers, "tracers", 0, "Tracer particles to seed (default: scene value)")
	runCmd.Flags().StringVar(&traceLevel, "trace-level", "none", "Trace verbosity (none, timestep, steps)")
	runCmd.Flags().StringVar(&traceOut, "trace", "", "Write the trace as YAML to this file (implies --trace-level steps unless set)")
	_ = runCmd.MarkFlagRequired("scene")

	validateCmd.Flags().StringVar(&scenePath, "scene", "", "Scene YAML file")
	_ = validateCmd.MarkFlagRequired("scene")

	rootCmd.AddCommand(runCmd)
	rootCmd.AddCommand(validateCmd)
	rootCmd.AddCommand(defaultsCmd)
}
