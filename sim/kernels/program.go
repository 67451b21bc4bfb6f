// Package kernels is the CPU program dispatched by the simulation engine:
// step1 (movement and grass countdown), step2 (actions and per-row
// statistics) and reduce_stats.
//
// Every kernel works on exactly one grid row per worker. step1 may move
// agents into the rows directly above and below; step2 stays inside its
// row. The partitioner keeps concurrent rows at least three apart, so no
// two workers of one dispatch ever touch the same cell, agent, seed or row
// allocator, and the kernels need neither locks nor atomics.
package kernels

import (
	"fmt"
	"strings"

	"github.com/pphpc/ppsim/sim"
	"github.com/pphpc/ppsim/sim/device"
)

// Program is the built CPU program.
type Program struct {
	dev device.Device
	log string
}

var _ sim.Program = (*Program)(nil)

// BuildFailure is returned when the program cannot be built for a device.
type BuildFailure struct {
	Log string
	Err error
}

func (f *BuildFailure) Error() string    { return f.Err.Error() }
func (f *BuildFailure) Unwrap() error    { return f.Err }
func (f *BuildFailure) BuildLog() string { return f.Log }

// NewProgram builds the program for dev.
func NewProgram(dev device.Device) (*Program, error) {
	var log strings.Builder
	if dev == nil {
		log.WriteString("error: no target device\n")
		return nil, &BuildFailure{Log: log.String(), Err: device.Errorf(device.InvalidDevice, "build: nil device")}
	}
	info := dev.Info()
	fmt.Fprintf(&log, "target: %s, %d compute units\n", info.Name, info.ComputeUnits)
	if info.ComputeUnits < 1 {
		log.WriteString("error: device reports no compute units\n")
		return nil, &BuildFailure{
			Log: log.String(),
			Err: device.Errorf(device.InvalidProgramExecutable, "build for %s: no compute units", info.Name),
		}
	}
	for _, name := range []string{sim.KernelStep1, sim.KernelStep2, sim.KernelReduceStats} {
		fmt.Fprintf(&log, "kernel %s: ok\n", name)
	}
	return &Program{dev: dev, log: log.String()}, nil
}

func (p *Program) BuildLog() string { return p.log }

// Kernel creates a fresh kernel object for the named entry point.
func (p *Program) Kernel(name string) (device.Kernel, error) {
	switch name {
	case sim.KernelStep1:
		return newStep1(), nil
	case sim.KernelStep2:
		return newStep2(), nil
	case sim.KernelReduceStats:
		return newReduce(), nil
	}
	return nil, device.Errorf(device.InvalidKernelName, "no kernel named %q", name)
}

// Agent action marks. step1 moves only idle agents and marks them moved;
// step2 acts only on moved agents and returns survivors to idle, so
// newborns wait for the next iteration.
const (
	actionIdle  uint32 = 0
	actionMoved uint32 = 1
)

// checkAgent validates an arena index reached while walking a list. hops
// counts the links followed so far; a list longer than the arena is a
// cycle.
func checkAgent(idx, hops uint32, p *sim.SimParams) error {
	if idx >= p.MaxAgents {
		return fmt.Errorf("agent index %d outside arena of %d", idx, p.MaxAgents)
	}
	if hops >= p.MaxAgents {
		return fmt.Errorf("occupant list longer than arena capacity %d", p.MaxAgents)
	}
	return nil
}

// checkLayout verifies the bound buffers match the kernel constants.
func checkLayout(kernel string, p sim.SimParams, grid, agents int) error {
	if grid != int(p.SizeXY) {
		return device.Errorf(device.InvalidKernelArgs, "%s: grid has %d cells, parameters say %d", kernel, grid, p.SizeXY)
	}
	if agents != int(p.MaxAgents) {
		return device.Errorf(device.InvalidKernelArgs, "%s: arena has %d slots, parameters say %d", kernel, agents, p.MaxAgents)
	}
	return nil
}
