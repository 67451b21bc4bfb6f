package sim_test

// Blank import triggers sim/kernels' init(), which registers NewProgramFunc.
// This allows package sim's internal test files to build the device program
// without directly importing sim/kernels (which would create an import cycle).
import _ "github.com/pphpc/ppsim/sim/kernels"
