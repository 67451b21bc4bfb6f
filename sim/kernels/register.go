// register.go wires the CPU program into the sim package's registration
// variable (NewProgramFunc). This init() runs when any package imports
// sim/kernels, breaking the import cycle between sim/ (driver) and
// sim/kernels/ (kernel bodies). Production code imports sim/kernels
// directly; test code in package sim uses kernels_import_test.go for the
// blank import.
package kernels

import (
	"github.com/pphpc/ppsim/sim"
	"github.com/pphpc/ppsim/sim/device"
)

func init() {
	sim.NewProgramFunc = func(dev device.Device) (sim.Program, error) {
		p, err := NewProgram(dev)
		if err != nil {
			return nil, err
		}
		return p, nil
	}
}
