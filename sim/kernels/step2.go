package kernels

import (
	"fmt"

	"github.com/pphpc/ppsim/sim"
	"github.com/pphpc/ppsim/sim/device"
)

// step2 runs the agent actions of its row (eat, reproduce), removes dead
// agents and writes the row's population counts to row_stats.
//
// Arena slots are recycled through the row's allocator: a dead agent's
// slot goes on the row free list, a newborn takes a slot from it (or from
// the row's untouched range). A slot is therefore only ever reachable from
// one row at a time.
type step2 struct {
	args device.ArgSet

	agents   []sim.Agent
	grid     []sim.Cell
	seeds    []uint64
	rowStats []sim.Statistics
	iter     uint32
	turn     uint32
	params   sim.SimParams
	species  []sim.SpeciesParams
	allocs   []sim.RowAllocator
}

func newStep2() *step2 {
	return &step2{args: device.NewArgSet(sim.KernelStep2, sim.Step2NumArgs)}
}

func (k *step2) Name() string              { return sim.KernelStep2 }
func (k *step2) Memories() []*device.Memory { return k.args.Memories() }

func (k *step2) SetArg(index int, value any) error {
	if err := k.args.CheckIndex(index); err != nil {
		return err
	}
	name := k.Name()
	switch index {
	case sim.Step2ArgAgents:
		b, err := device.BufferArg[sim.Agent](name, index, value)
		if err != nil {
			return err
		}
		k.agents = b.Data()
		k.args.Bind(index, b.Memory())
	case sim.Step2ArgGrid:
		b, err := device.BufferArg[sim.Cell](name, index, value)
		if err != nil {
			return err
		}
		k.grid = b.Data()
		k.args.Bind(index, b.Memory())
	case sim.Step2ArgSeeds:
		b, err := device.BufferArg[uint64](name, index, value)
		if err != nil {
			return err
		}
		k.seeds = b.Data()
		k.args.Bind(index, b.Memory())
	case sim.Step2ArgRowStats:
		b, err := device.BufferArg[sim.Statistics](name, index, value)
		if err != nil {
			return err
		}
		k.rowStats = b.Data()
		k.args.Bind(index, b.Memory())
	case sim.Step2ArgIter:
		v, err := device.ArgAs[uint32](name, index, value)
		if err != nil {
			return err
		}
		k.iter = v
		k.args.Bind(index, nil)
	case sim.Step2ArgTurn:
		v, err := device.ArgAs[uint32](name, index, value)
		if err != nil {
			return err
		}
		k.turn = v
		k.args.Bind(index, nil)
	case sim.Step2ArgSimParams:
		v, err := device.ArgAs[sim.SimParams](name, index, value)
		if err != nil {
			return err
		}
		k.params = v
		k.args.Bind(index, nil)
	case sim.Step2ArgSpeciesParams:
		b, err := device.BufferArg[sim.SpeciesParams](name, index, value)
		if err != nil {
			return err
		}
		k.species = b.Data()
		k.args.Bind(index, b.Memory())
	case sim.Step2ArgRowAllocators:
		b, err := device.BufferArg[sim.RowAllocator](name, index, value)
		if err != nil {
			return err
		}
		k.allocs = b.Data()
		k.args.Bind(index, b.Memory())
	}
	return nil
}

func (k *step2) Validate() error {
	if err := k.args.Validate(); err != nil {
		return err
	}
	if err := checkLayout(k.Name(), k.params, len(k.grid), len(k.agents)); err != nil {
		return err
	}
	if len(k.rowStats) != int(k.params.SizeY) || len(k.allocs) != int(k.params.SizeY) {
		return device.Errorf(device.InvalidKernelArgs, "%s: row regions must have %d entries", k.Name(), k.params.SizeY)
	}
	if len(k.species) != 2 {
		return device.Errorf(device.InvalidKernelArgs, "%s: species table must have 2 entries, got %d", k.Name(), len(k.species))
	}
	return nil
}

func (k *step2) Run(item device.WorkItem) error {
	p := &k.params
	row, ok := sim.WorkerRow(uint32(item.Global), k.turn, p.RowsPerWorker, p.SizeY)
	if !ok {
		return nil
	}
	if item.Global >= len(k.seeds) {
		return fmt.Errorf("no seed for worker %d", item.Global)
	}
	rng := workerRNG{state: &k.seeds[item.Global]}
	alloc := &k.allocs[row]

	var st sim.Statistics
	for x := uint32(0); x < p.SizeX; x++ {
		cell := &k.grid[p.CellIndex(x, row)]
		if err := k.act(cell, alloc, rng); err != nil {
			return fmt.Errorf("iteration %d, cell (%d, %d): %w", k.iter, x, row, err)
		}
		if err := k.sweep(cell, alloc, &st); err != nil {
			return fmt.Errorf("iteration %d, cell (%d, %d): %w", k.iter, x, row, err)
		}
		if cell.GrassTimer == 0 {
			st.Grass++
		}
	}
	k.rowStats[row] = st
	return nil
}

// act lets every agent that moved this iteration eat and maybe reproduce.
// Eaten prey keep their slot until sweep removes them.
func (k *step2) act(cell *sim.Cell, alloc *sim.RowAllocator, rng workerRNG) error {
	p := &k.params
	idx := cell.AgentHead
	for hops := uint32(0); idx != sim.NullAgent; hops++ {
		if err := checkAgent(idx, hops, p); err != nil {
			return err
		}
		a := &k.agents[idx]
		if a.Action != actionMoved || a.Energy == 0 {
			idx = a.Next
			continue
		}
		if a.Species != sim.Prey && a.Species != sim.Predator {
			return fmt.Errorf("agent %d has unknown species %d", idx, a.Species)
		}
		sp := k.species[a.Species]

		switch a.Species {
		case sim.Prey:
			if cell.GrassTimer == 0 {
				a.Energy += sp.GainFromFood
				cell.GrassTimer = p.GrassRestart
			}
		case sim.Predator:
			prey, err := k.findPrey(cell)
			if err != nil {
				return err
			}
			if prey != sim.NullAgent {
				k.agents[prey].Energy = 0
				a.Energy += sp.GainFromFood
			}
		}

		if a.Energy > sp.ReproduceThreshold && a.Energy >= 2 && rng.intn(100) < sp.ReproduceProbability {
			child, err := k.allocate(alloc)
			if err != nil {
				return err
			}
			if child != sim.NullAgent {
				half := a.Energy / 2
				a.Energy -= half
				k.agents[child] = sim.Agent{Energy: half, Action: actionIdle, Species: a.Species, Next: cell.AgentHead}
				cell.AgentHead = child
			}
		}
		idx = a.Next
	}
	return nil
}

// findPrey returns the first living prey in cell, or NullAgent.
func (k *step2) findPrey(cell *sim.Cell) (uint32, error) {
	p := &k.params
	idx := cell.AgentHead
	for hops := uint32(0); idx != sim.NullAgent; hops++ {
		if err := checkAgent(idx, hops, p); err != nil {
			return sim.NullAgent, err
		}
		a := &k.agents[idx]
		if a.Species == sim.Prey && a.Energy > 0 {
			return idx, nil
		}
		idx = a.Next
	}
	return sim.NullAgent, nil
}

// sweep unlinks dead agents onto the row free list, returns survivors to
// idle and counts them.
func (k *step2) sweep(cell *sim.Cell, alloc *sim.RowAllocator, st *sim.Statistics) error {
	p := &k.params
	prev := sim.NullAgent
	idx := cell.AgentHead
	for hops := uint32(0); idx != sim.NullAgent; hops++ {
		if err := checkAgent(idx, hops, p); err != nil {
			return err
		}
		a := &k.agents[idx]
		next := a.Next
		if a.Energy == 0 {
			if prev == sim.NullAgent {
				cell.AgentHead = next
			} else {
				k.agents[prev].Next = next
			}
			*a = sim.Agent{Next: alloc.FreeHead}
			alloc.FreeHead = idx
		} else {
			a.Action = actionIdle
			if a.Species == sim.Prey {
				st.Prey++
			} else {
				st.Predator++
			}
			prev = idx
		}
		idx = next
	}
	return nil
}

// allocate takes a slot from the row free list, then from the row's
// untouched range. Returns NullAgent when the row has no slot left.
func (k *step2) allocate(alloc *sim.RowAllocator) (uint32, error) {
	if idx := alloc.FreeHead; idx != sim.NullAgent {
		if idx >= k.params.MaxAgents {
			return sim.NullAgent, fmt.Errorf("free list index %d outside arena of %d", idx, k.params.MaxAgents)
		}
		alloc.FreeHead = k.agents[idx].Next
		return idx, nil
	}
	if alloc.Next < alloc.End {
		idx := alloc.Next
		alloc.Next++
		return idx, nil
	}
	return sim.NullAgent, nil
}
