package kernels

import (
	"fmt"

	"github.com/pphpc/ppsim/sim"
	"github.com/pphpc/ppsim/sim/device"
)

// Movement directions drawn by step1.
const (
	dirStay uint32 = iota
	dirUp
	dirDown
	dirLeft
	dirRight

	numDirections
)

// step1 counts grass down and moves every idle agent of its row one cell
// in a random direction (or not at all), charging one unit of energy.
// Columns wrap around; agents pushed past the top or bottom row stay put.
type step1 struct {
	args device.ArgSet

	agents []sim.Agent
	grid   []sim.Cell
	seeds  []uint64
	turn   uint32
	params sim.SimParams
}

func newStep1() *step1 {
	return &step1{args: device.NewArgSet(sim.KernelStep1, sim.Step1NumArgs)}
}

func (k *step1) Name() string              { return sim.KernelStep1 }
func (k *step1) Memories() []*device.Memory { return k.args.Memories() }

func (k *step1) SetArg(index int, value any) error {
	if err := k.args.CheckIndex(index); err != nil {
		return err
	}
	name := k.Name()
	switch index {
	case sim.Step1ArgAgents:
		b, err := device.BufferArg[sim.Agent](name, index, value)
		if err != nil {
			return err
		}
		k.agents = b.Data()
		k.args.Bind(index, b.Memory())
	case sim.Step1ArgGrid:
		b, err := device.BufferArg[sim.Cell](name, index, value)
		if err != nil {
			return err
		}
		k.grid = b.Data()
		k.args.Bind(index, b.Memory())
	case sim.Step1ArgSeeds:
		b, err := device.BufferArg[uint64](name, index, value)
		if err != nil {
			return err
		}
		k.seeds = b.Data()
		k.args.Bind(index, b.Memory())
	case sim.Step1ArgTurn:
		v, err := device.ArgAs[uint32](name, index, value)
		if err != nil {
			return err
		}
		k.turn = v
		k.args.Bind(index, nil)
	case sim.Step1ArgSimParams:
		v, err := device.ArgAs[sim.SimParams](name, index, value)
		if err != nil {
			return err
		}
		k.params = v
		k.args.Bind(index, nil)
	}
	return nil
}

func (k *step1) Validate() error {
	if err := k.args.Validate(); err != nil {
		return err
	}
	return checkLayout(k.Name(), k.params, len(k.grid), len(k.agents))
}

func (k *step1) Run(item device.WorkItem) error {
	p := &k.params
	row, ok := sim.WorkerRow(uint32(item.Global), k.turn, p.RowsPerWorker, p.SizeY)
	if !ok {
		return nil
	}
	if item.Global >= len(k.seeds) {
		return fmt.Errorf("no seed for worker %d", item.Global)
	}
	rng := workerRNG{state: &k.seeds[item.Global]}
	for x := uint32(0); x < p.SizeX; x++ {
		cell := &k.grid[p.CellIndex(x, row)]
		if cell.GrassTimer > 0 {
			cell.GrassTimer--
		}
		if err := k.moveAgents(cell, x, row, rng); err != nil {
			return fmt.Errorf("cell (%d, %d): %w", x, row, err)
		}
	}
	return nil
}

func (k *step1) moveAgents(cell *sim.Cell, x, y uint32, rng workerRNG) error {
	p := &k.params
	prev := sim.NullAgent
	idx := cell.AgentHead
	for hops := uint32(0); idx != sim.NullAgent; hops++ {
		if err := checkAgent(idx, hops, p); err != nil {
			return err
		}
		a := &k.agents[idx]
		next := a.Next
		if a.Action != actionIdle {
			prev, idx = idx, next
			continue
		}
		a.Action = actionMoved
		if a.Energy > 0 {
			a.Energy--
		}
		tx, ty := destination(x, y, rng.intn(numDirections), p)
		if tx == x && ty == y {
			prev, idx = idx, next
			continue
		}
		if prev == sim.NullAgent {
			cell.AgentHead = next
		} else {
			k.agents[prev].Next = next
		}
		dst := &k.grid[p.CellIndex(tx, ty)]
		a.Next = dst.AgentHead
		dst.AgentHead = idx
		idx = next
	}
	return nil
}

// destination applies dir to (x, y).
func destination(x, y, dir uint32, p *sim.SimParams) (uint32, uint32) {
	switch dir {
	case dirUp:
		if y > 0 {
			y--
		}
	case dirDown:
		if y+1 < p.SizeY {
			y++
		}
	case dirLeft:
		if x == 0 {
			x = p.SizeX - 1
		} else {
			x--
		}
	case dirRight:
		x++
		if x == p.SizeX {
			x = 0
		}
	}
	return x, y
}
