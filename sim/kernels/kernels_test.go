package kernels

import (
	"os"
	"testing"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pphpc/ppsim/sim"
	"github.com/pphpc/ppsim/sim/device"
)

func TestMain(m *testing.M) {
	if os.Getenv("DEBUG_TESTS") == "" {
		logrus.SetLevel(logrus.WarnLevel)
	}
	os.Exit(m.Run())
}

// fixture is a hand-built set of buffers with one worker walking a small
// grid, so kernels can be run directly against known contents.
type fixture struct {
	t   *testing.T
	dev *device.CPU
	sp  sim.SimParams

	agents   *device.Buffer[sim.Agent]
	grid     *device.Buffer[sim.Cell]
	seeds    *device.Buffer[uint64]
	rowStats *device.Buffer[sim.Statistics]
	stats    *device.Buffer[sim.Statistics]
	species  *device.Buffer[sim.SpeciesParams]
	allocs   *device.Buffer[sim.RowAllocator]

	step1  *step1
	step2  *step2
	reduce *reduce
}

func newFixture(t *testing.T, sizeX, sizeY, maxAgents uint32) *fixture {
	t.Helper()
	f := &fixture{
		t:   t,
		dev: device.NewCPU(device.CPUConfig{ComputeUnits: 1}),
		sp: sim.SimParams{
			SizeX: sizeX, SizeY: sizeY, SizeXY: sizeX * sizeY,
			MaxAgents: maxAgents, NullAgent: sim.NullAgent,
			GrassRestart: 7, RowsPerWorker: sizeY,
		},
	}
	f.agents = newBuf[sim.Agent](t, f.dev, int(maxAgents))
	f.grid = newBuf[sim.Cell](t, f.dev, int(sizeX*sizeY))
	f.seeds = newBuf[uint64](t, f.dev, 1)
	f.rowStats = newBuf[sim.Statistics](t, f.dev, int(sizeY))
	f.stats = newBuf[sim.Statistics](t, f.dev, 3)
	f.species = newBuf[sim.SpeciesParams](t, f.dev, 2)
	f.allocs = newBuf[sim.RowAllocator](t, f.dev, int(sizeY))

	for i := range f.agents.Data() {
		f.agents.Data()[i] = sim.Agent{Next: sim.NullAgent}
	}
	for i := range f.grid.Data() {
		f.grid.Data()[i] = sim.Cell{AgentHead: sim.NullAgent}
	}
	for i := range f.allocs.Data() {
		f.allocs.Data()[i] = sim.RowAllocator{FreeHead: sim.NullAgent}
	}
	f.seeds.Data()[0] = 12345
	f.species.Data()[sim.Prey] = sim.SpeciesParams{GainFromFood: 4, ReproduceThreshold: 100}
	f.species.Data()[sim.Predator] = sim.SpeciesParams{GainFromFood: 10, ReproduceThreshold: 100}

	f.step1, f.step2, f.reduce = newStep1(), newStep2(), newReduce()
	f.bind(f.step1, map[int]any{
		sim.Step1ArgAgents:    f.agents,
		sim.Step1ArgGrid:      f.grid,
		sim.Step1ArgSeeds:     f.seeds,
		sim.Step1ArgTurn:      uint32(0),
		sim.Step1ArgSimParams: f.sp,
	})
	f.bind(f.step2, map[int]any{
		sim.Step2ArgAgents:        f.agents,
		sim.Step2ArgGrid:          f.grid,
		sim.Step2ArgSeeds:         f.seeds,
		sim.Step2ArgRowStats:      f.rowStats,
		sim.Step2ArgIter:          uint32(1),
		sim.Step2ArgTurn:          uint32(0),
		sim.Step2ArgSimParams:     f.sp,
		sim.Step2ArgSpeciesParams: f.species,
		sim.Step2ArgRowAllocators: f.allocs,
	})
	f.bind(f.reduce, map[int]any{
		sim.ReduceArgRowStats:  f.rowStats,
		sim.ReduceArgStats:     f.stats,
		sim.ReduceArgIter:      uint32(1),
		sim.ReduceArgSimParams: f.sp,
	})
	return f
}

func newBuf[T any](t *testing.T, dev device.Device, n int) *device.Buffer[T] {
	t.Helper()
	b, err := device.NewBuffer[T](dev, "test", n, device.ReadWrite)
	require.NoError(t, err)
	return b
}

func (f *fixture) bind(k device.Kernel, args map[int]any) {
	f.t.Helper()
	for i, v := range args {
		require.NoError(f.t, k.SetArg(i, v), "arg %d of %s", i, k.Name())
	}
}

// place links agent idx at the head of cell (x, y).
func (f *fixture) place(idx, x, y uint32, a sim.Agent) {
	cell := &f.grid.Data()[f.sp.CellIndex(x, y)]
	a.Next = cell.AgentHead
	f.agents.Data()[idx] = a
	cell.AgentHead = idx
}

// cellAgents lists the occupants of (x, y) from head to tail.
func (f *fixture) cellAgents(x, y uint32) []uint32 {
	var out []uint32
	for idx := f.grid.Data()[f.sp.CellIndex(x, y)].AgentHead; idx != sim.NullAgent; idx = f.agents.Data()[idx].Next {
		out = append(out, idx)
		require.LessOrEqual(f.t, len(out), int(f.sp.MaxAgents), "cycle")
	}
	return out
}

func (f *fixture) runTurns(k device.Kernel, turnArg int) {
	f.t.Helper()
	for turn := uint32(0); turn < f.sp.RowsPerWorker; turn++ {
		require.NoError(f.t, k.SetArg(turnArg, turn))
		require.NoError(f.t, f.dev.Dispatch(k, 1, 1))
	}
}

func (f *fixture) runTurn(k device.Kernel, turnArg int, turn uint32) {
	f.t.Helper()
	require.NoError(f.t, k.SetArg(turnArg, turn))
	require.NoError(f.t, f.dev.Dispatch(k, 1, 1))
}

func TestDestination(t *testing.T) {
	p := &sim.SimParams{SizeX: 5, SizeY: 4}
	tests := []struct {
		name         string
		x, y, dir    uint32
		wantX, wantY uint32
	}{
		{"stay", 2, 2, dirStay, 2, 2},
		{"up", 2, 2, dirUp, 2, 1},
		{"up at top row stays", 2, 0, dirUp, 2, 0},
		{"down", 2, 2, dirDown, 2, 3},
		{"down at bottom row stays", 2, 3, dirDown, 2, 3},
		{"left", 2, 2, dirLeft, 1, 2},
		{"left wraps", 0, 2, dirLeft, 4, 2},
		{"right", 2, 2, dirRight, 3, 2},
		{"right wraps", 4, 2, dirRight, 0, 2},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			x, y := destination(tt.x, tt.y, tt.dir, p)
			assert.Equal(t, tt.wantX, x)
			assert.Equal(t, tt.wantY, y)
		})
	}
}

func TestStep1_MovesEveryAgentOnce(t *testing.T) {
	// GIVEN 60 idle agents spread over a 6x3 grid
	f := newFixture(t, 6, 3, 64)
	type pos struct{ x, y uint32 }
	before := make(map[uint32]pos)
	for i := uint32(0); i < 60; i++ {
		x, y := i%6, (i/6)%3
		f.place(i, x, y, sim.Agent{Energy: 5, Species: sim.Species(i % 2)})
		before[i] = pos{x, y}
	}
	f.grid.Data()[0].GrassTimer = 3

	// WHEN step1 walks every row
	f.runTurns(f.step1, sim.Step1ArgTurn)

	// THEN each agent moved at most one cell and paid one energy
	after := make(map[uint32]pos)
	for y := uint32(0); y < 3; y++ {
		for x := uint32(0); x < 6; x++ {
			for _, idx := range f.cellAgents(x, y) {
				_, dup := after[idx]
				require.False(t, dup, "agent %d linked twice", idx)
				after[idx] = pos{x, y}
			}
		}
	}
	require.Len(t, after, 60)
	for idx, b := range before {
		a := after[idx]
		dx := (a.x + 6 - b.x) % 6
		dy := int(a.y) - int(b.y)
		steps := 0
		if dx != 0 {
			steps++
			assert.True(t, dx == 1 || dx == 5, "agent %d jumped %d columns", idx, dx)
		}
		if dy != 0 {
			steps++
			assert.True(t, dy == 1 || dy == -1, "agent %d jumped %d rows", idx, dy)
		}
		assert.LessOrEqual(t, steps, 1, "agent %d moved diagonally", idx)

		agent := f.agents.Data()[idx]
		assert.Equal(t, actionMoved, agent.Action)
		assert.Equal(t, uint32(4), agent.Energy)
	}
	assert.Equal(t, uint32(2), f.grid.Data()[0].GrassTimer, "grass counts down once")
	assert.Equal(t, uint32(0), f.grid.Data()[1].GrassTimer, "edible grass stays edible")
}

func TestStep1_SkipsMovedAgents(t *testing.T) {
	f := newFixture(t, 4, 3, 8)
	f.place(0, 1, 1, sim.Agent{Energy: 5, Action: actionMoved})

	f.runTurns(f.step1, sim.Step1ArgTurn)

	assert.Equal(t, []uint32{0}, f.cellAgents(1, 1))
	assert.Equal(t, uint32(5), f.agents.Data()[0].Energy)
}

func TestStep1_DetectsCycle(t *testing.T) {
	f := newFixture(t, 4, 3, 8)
	f.place(0, 1, 1, sim.Agent{Energy: 5, Action: actionMoved})
	f.agents.Data()[0].Next = 0

	require.NoError(t, f.step1.SetArg(sim.Step1ArgTurn, uint32(1)))
	err := f.dev.Dispatch(f.step1, 1, 1)

	assert.Equal(t, device.KernelExecutionFailure, device.StatusOf(err))
}

func TestStep2_PreyEatsGrass(t *testing.T) {
	// GIVEN a moved prey on edible grass
	f := newFixture(t, 4, 3, 8)
	f.place(0, 2, 1, sim.Agent{Energy: 3, Action: actionMoved, Species: sim.Prey})

	// WHEN step2 processes its row
	f.runTurn(f.step2, sim.Step2ArgTurn, 1)

	// THEN the prey gains energy, the grass restarts and the row is counted
	assert.Equal(t, uint32(7), f.agents.Data()[0].Energy)
	assert.Equal(t, actionIdle, f.agents.Data()[0].Action)
	assert.Equal(t, uint32(7), f.grid.Data()[f.sp.CellIndex(2, 1)].GrassTimer)
	assert.Equal(t, sim.Statistics{Prey: 1, Predator: 0, Grass: 3}, f.rowStats.Data()[1])
}

func TestStep2_PredatorEatsFirstLivePrey(t *testing.T) {
	// GIVEN a predator sharing a cell with a dead prey and two live ones
	f := newFixture(t, 4, 3, 8)
	f.place(1, 0, 1, sim.Agent{Energy: 2, Action: actionMoved, Species: sim.Prey})
	f.place(2, 0, 1, sim.Agent{Energy: 0, Action: actionMoved, Species: sim.Prey})
	f.place(3, 0, 1, sim.Agent{Energy: 5, Action: actionMoved, Species: sim.Predator})
	f.place(4, 0, 1, sim.Agent{Energy: 1, Action: actionIdle, Species: sim.Prey})
	f.grid.Data()[f.sp.CellIndex(0, 1)].GrassTimer = 2

	f.runTurn(f.step2, sim.Step2ArgTurn, 1)

	// THEN the first live prey in the list is eaten, both dead prey are freed
	assert.Equal(t, []uint32{3, 1}, f.cellAgents(0, 1))
	assert.Equal(t, uint32(15), f.agents.Data()[3].Energy)
	assert.Equal(t, sim.Statistics{Prey: 1, Predator: 1, Grass: 3}, f.rowStats.Data()[1])

	var freed []uint32
	for idx := f.allocs.Data()[1].FreeHead; idx != sim.NullAgent; idx = f.agents.Data()[idx].Next {
		freed = append(freed, idx)
	}
	assert.ElementsMatch(t, []uint32{4, 2}, freed)
}

func TestStep2_Reproduction(t *testing.T) {
	// GIVEN a prey above threshold that always reproduces, and one bump slot
	f := newFixture(t, 4, 3, 8)
	f.species.Data()[sim.Prey] = sim.SpeciesParams{GainFromFood: 4, ReproduceThreshold: 2, ReproduceProbability: 100}
	f.allocs.Data()[1] = sim.RowAllocator{FreeHead: sim.NullAgent, Next: 6, End: 7}
	f.place(0, 3, 1, sim.Agent{Energy: 9, Action: actionMoved, Species: sim.Prey})
	f.place(1, 2, 1, sim.Agent{Energy: 9, Action: actionMoved, Species: sim.Prey})
	for x := uint32(0); x < 4; x++ {
		f.grid.Data()[f.sp.CellIndex(x, 1)].GrassTimer = 5
	}

	f.runTurn(f.step2, sim.Step2ArgTurn, 1)

	// THEN the first parent splits its energy with a child in the bump slot
	// and the second finds the row full
	assert.Equal(t, []uint32{6, 1}, f.cellAgents(2, 1))
	child := f.agents.Data()[6]
	assert.Equal(t, uint32(4), child.Energy)
	assert.Equal(t, sim.Prey, child.Species)
	assert.Equal(t, actionIdle, child.Action)
	assert.Equal(t, uint32(5), f.agents.Data()[1].Energy)

	assert.Equal(t, []uint32{0}, f.cellAgents(3, 1))
	assert.Equal(t, uint32(9), f.agents.Data()[0].Energy)
	assert.Equal(t, uint32(7), f.allocs.Data()[1].Next)
	assert.Equal(t, sim.Statistics{Prey: 3, Predator: 0, Grass: 0}, f.rowStats.Data()[1])
}

func TestStep2_AllocatePrefersFreeList(t *testing.T) {
	f := newFixture(t, 4, 3, 8)
	f.agents.Data()[5] = sim.Agent{Next: 2}
	f.agents.Data()[2] = sim.Agent{Next: sim.NullAgent}
	alloc := &sim.RowAllocator{FreeHead: 5, Next: 6, End: 8}

	got := make([]uint32, 0, 5)
	for i := 0; i < 5; i++ {
		idx, err := f.step2.allocate(alloc)
		require.NoError(t, err)
		got = append(got, idx)
	}

	assert.Equal(t, []uint32{5, 2, 6, 7, sim.NullAgent}, got)
}

func TestStep2_DeadAgentsAreNotCounted(t *testing.T) {
	f := newFixture(t, 4, 3, 8)
	f.place(0, 1, 0, sim.Agent{Energy: 0, Action: actionMoved, Species: sim.Predator})

	f.runTurn(f.step2, sim.Step2ArgTurn, 0)

	assert.Empty(t, f.cellAgents(1, 0))
	assert.Equal(t, uint32(0), f.allocs.Data()[0].FreeHead)
	assert.Equal(t, sim.Statistics{Grass: 4}, f.rowStats.Data()[0])
}

func TestStep2_UnknownSpecies(t *testing.T) {
	f := newFixture(t, 4, 3, 8)
	f.place(0, 1, 2, sim.Agent{Energy: 3, Action: actionMoved, Species: sim.Species(9)})

	require.NoError(t, f.step2.SetArg(sim.Step2ArgTurn, uint32(2)))
	err := f.dev.Dispatch(f.step2, 1, 1)

	assert.Equal(t, device.KernelExecutionFailure, device.StatusOf(err))
	assert.Contains(t, err.Error(), "unknown species")
}

func TestReduce_SumsRows(t *testing.T) {
	f := newFixture(t, 4, 3, 8)
	copy(f.rowStats.Data(), []sim.Statistics{
		{Prey: 1, Predator: 2, Grass: 3},
		{Prey: 10, Predator: 20, Grass: 30},
		{Prey: 100, Predator: 200, Grass: 300},
	})
	f.stats.Data()[0] = sim.Statistics{Prey: 9}

	require.NoError(t, f.reduce.SetArg(sim.ReduceArgIter, uint32(2)))
	require.NoError(t, f.dev.Dispatch(f.reduce, 1, 1))

	assert.Equal(t, sim.Statistics{Prey: 9}, f.stats.Data()[0], "record 0 is never touched")
	assert.Equal(t, sim.Statistics{}, f.stats.Data()[1])
	assert.Equal(t, sim.Statistics{Prey: 111, Predator: 222, Grass: 333}, f.stats.Data()[2])
}

func TestReduce_RejectsIterationOutsideRecords(t *testing.T) {
	f := newFixture(t, 4, 3, 8)
	for _, iter := range []uint32{0, 3} {
		require.NoError(t, f.reduce.SetArg(sim.ReduceArgIter, iter))
		err := f.dev.Dispatch(f.reduce, 1, 1)
		assert.Equal(t, device.KernelExecutionFailure, device.StatusOf(err), "iter %d", iter)
	}
}

func TestKernel_SetArgErrors(t *testing.T) {
	k := newStep1()

	assert.Equal(t, device.InvalidArgIndex, device.StatusOf(k.SetArg(sim.Step1NumArgs, uint32(0))))
	assert.Equal(t, device.InvalidArgValue, device.StatusOf(k.SetArg(sim.Step1ArgTurn, 3)))
	assert.Equal(t, device.InvalidArgValue, device.StatusOf(k.SetArg(sim.Step1ArgGrid, uint32(0))))
	assert.Equal(t, device.InvalidKernelArgs, device.StatusOf(k.Validate()))
}

func TestKernel_ValidateLayout(t *testing.T) {
	f := newFixture(t, 4, 3, 8)
	bad := f.sp
	bad.MaxAgents = 16
	require.NoError(t, f.step1.SetArg(sim.Step1ArgSimParams, bad))

	err := f.dev.Dispatch(f.step1, 1, 1)

	assert.Equal(t, device.InvalidKernelArgs, device.StatusOf(err))
}

func TestProgram(t *testing.T) {
	dev := device.NewCPU(device.CPUConfig{ComputeUnits: 2})
	p, err := NewProgram(dev)
	require.NoError(t, err)
	assert.Contains(t, p.BuildLog(), "kernel step2: ok")

	for _, name := range []string{sim.KernelStep1, sim.KernelStep2, sim.KernelReduceStats} {
		k, err := p.Kernel(name)
		require.NoError(t, err)
		assert.Equal(t, name, k.Name())
	}
	_, err = p.Kernel("step3")
	assert.Equal(t, device.InvalidKernelName, device.StatusOf(err))
}

func TestNewProgram_NilDevice(t *testing.T) {
	_, err := NewProgram(nil)

	var bf *BuildFailure
	require.ErrorAs(t, err, &bf)
	assert.Contains(t, bf.BuildLog(), "no target device")
	assert.Equal(t, device.InvalidDevice, device.StatusOf(err))
}

func TestRegister_SetsProgramFunc(t *testing.T) {
	require.NotNil(t, sim.NewProgramFunc)
	prog, err := sim.NewProgramFunc(device.NewCPU(device.CPUConfig{ComputeUnits: 1}))
	require.NoError(t, err)
	assert.NotEmpty(t, prog.BuildLog())
}

func TestWorkerRNG(t *testing.T) {
	a, b := uint64(7), uint64(7)
	ra, rb := workerRNG{state: &a}, workerRNG{state: &b}
	for i := 0; i < 100; i++ {
		va := ra.intn(5)
		assert.Less(t, va, uint32(5))
		assert.Equal(t, va, rb.intn(5))
	}
	assert.NotEqual(t, uint64(7), a, "state advances in place")
	assert.Equal(t, a, b)
}
