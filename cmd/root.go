package cmd

import (
	"fmt"
	"io"
	"os"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/pphpc/ppsim/sim"
	"github.com/pphpc/ppsim/sim/device"
	_ "github.com/pphpc/ppsim/sim/kernels"
	"github.com/pphpc/ppsim/sim/profile"
)

var (
	// CLI flags for the run command
	paramsFile   string // YAML model parameters
	statsFile    string // Statistics output path
	globalSize   int    // Requested workers per dispatch (0 = maximum)
	localSize    int    // Worker-group size (0 = device default)
	seed         int64  // Master seed
	maxAgents    uint32 // Agent arena capacity
	computeUnits int    // Concurrent work groups (0 = number of CPUs)
	deviceMemory int64  // Device memory limit in bytes (0 = device default)
	profiling    bool   // Print a timing summary at the end
	logLevel     string // Log verbosity level
)

// rootCmd is the base command for the CLI
var rootCmd = &cobra.Command{
	Use:           "ppsim",
	Short:         "Predator-prey grid simulation on a parallel compute device",
	SilenceErrors: true,
}

// runCmd executes the simulation using parameters from the parameter file
// and CLI flags
var runCmd = &cobra.Command{
	Use:           "run",
	Short:         "Run the predator-prey simulation",
	SilenceUsage:  true,
	SilenceErrors: true,
	RunE: func(cmd *cobra.Command, args []string) error {
		level, err := logrus.ParseLevel(logLevel)
		if err != nil {
			return &sim.Error{Kind: sim.ConfigurationError, Op: "parse --log", Err: err}
		}
		logrus.SetLevel(level)

		params, err := LoadParameters(paramsFile)
		if err != nil {
			return err
		}
		opts := runOptions{
			Config: sim.Config{
				Params:    params,
				MaxAgents: maxAgents,
				Workers:   globalSize,
				LocalSize: localSize,
				Seed:      seed,
			},
			Device:    device.CPUConfig{ComputeUnits: computeUnits, MemoryLimit: deviceMemory},
			StatsPath: statsFile,
			Profile:   profiling,
		}
		return runSimulation(opts, cmd.OutOrStdout())
	},
}

// runOptions gathers everything one run needs.
type runOptions struct {
	Config    sim.Config
	Device    device.CPUConfig
	StatsPath string
	Profile   bool
}

// runSimulation sets up the device and engine, runs every iteration and
// writes the statistics file. Device resources are released on every path.
func runSimulation(opts runOptions, out io.Writer) error {
	dev := device.NewCPU(opts.Device)
	defer func() {
		if cerr := dev.Close(); cerr != nil {
			logrus.Warnf("close device: %v", cerr)
		}
	}()

	rec := profile.New(opts.Profile)
	engine := sim.NewEngine(opts.Config, dev, rec)
	defer engine.Close()

	if err := engine.Setup(); err != nil {
		return err
	}
	logrus.Infof("Running %d iterations on a %dx%d grid (seed %d)",
		opts.Config.Params.Iterations, opts.Config.Params.GridX, opts.Config.Params.GridY, opts.Config.Seed)
	if err := engine.Run(); err != nil {
		return err
	}
	if err := engine.SaveStatistics(opts.StatsPath); err != nil {
		return err
	}
	logrus.Infof("Statistics written to %s", opts.StatsPath)

	if p, ok := rec.(*profile.Profile); ok {
		profile.Summarize(p).Print(out)
	}
	return nil
}

// Execute runs the CLI root command
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, sim.Diagnostic(err))
		os.Exit(1)
	}
}

// init sets up CLI flags and subcommands
func init() {
	runCmd.Flags().StringVarP(&paramsFile, "params", "p", "config.yaml", "Model parameters file (YAML)")
	runCmd.Flags().StringVarP(&statsFile, "stats", "s", "stats.txt", "Statistics output file")
	runCmd.Flags().IntVarP(&globalSize, "globalsize", "g", 0, "Workers per dispatch (0 = maximum safe for the grid)")
	runCmd.Flags().IntVarP(&localSize, "localsize", "l", 0, "Worker-group size (0 = device default)")
	runCmd.Flags().Int64Var(&seed, "seed", 42, "Master random seed")
	runCmd.Flags().Uint32Var(&maxAgents, "max-agents", sim.DefaultMaxAgents, "Agent arena capacity")

	// Device configs
	runCmd.Flags().IntVar(&computeUnits, "compute-units", 0, "Concurrent work groups (0 = number of CPUs)")
	runCmd.Flags().Int64Var(&deviceMemory, "device-memory", 0, "Device memory limit in bytes (0 = 4 GiB)")

	runCmd.Flags().BoolVar(&profiling, "profile", false, "Print dispatch and mapping timings")
	runCmd.Flags().StringVar(&logLevel, "log", "warn", "Log level (trace, debug, info, warn, error, fatal, panic)")

	// Attach `run` as a subcommand to `root`
	rootCmd.AddCommand(runCmd)
}
