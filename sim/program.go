package sim

import "github.com/pphpc/ppsim/sim/device"

// Kernel entry points the driver dispatches.
const (
	KernelStep1       = "step1"        // agent movement, grass countdown
	KernelStep2       = "step2"        // agent actions, per-row statistics
	KernelReduceStats = "reduce_stats" // per-row statistics → Statistics[iter]
)

// step1 arguments.
const (
	Step1ArgAgents = iota
	Step1ArgGrid
	Step1ArgSeeds
	Step1ArgTurn
	Step1ArgSimParams

	Step1NumArgs
)

// step2 arguments.
const (
	Step2ArgAgents = iota
	Step2ArgGrid
	Step2ArgSeeds
	Step2ArgRowStats
	Step2ArgIter
	Step2ArgTurn
	Step2ArgSimParams
	Step2ArgSpeciesParams
	Step2ArgRowAllocators

	Step2NumArgs
)

// reduce_stats arguments.
const (
	ReduceArgRowStats = iota
	ReduceArgStats
	ReduceArgIter
	ReduceArgSimParams

	ReduceNumArgs
)

// Program is a built device program.
type Program interface {
	// Kernel creates the kernel with the given entry point name.
	Kernel(name string) (device.Kernel, error)
	// BuildLog returns the diagnostics produced while building.
	BuildLog() string
}

// NewProgramFunc builds the device program. Set by sim/kernels init();
// production code imports sim/kernels, tests in this package use
// kernels_import_test.go for the blank import.
var NewProgramFunc func(dev device.Device) (Program, error)
