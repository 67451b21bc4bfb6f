package sim

import (
	"fmt"
	"math/rand"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/pphpc/ppsim/sim/device"
	"github.com/pphpc/ppsim/sim/profile"
)

// Region names, used in diagnostics and profiling.
const (
	RegionStats         = "stats"
	RegionGrid          = "grid"
	RegionAgents        = "agents"
	RegionRNGSeeds      = "rng_seeds"
	RegionSpeciesParams = "species_params"
	RegionRowAllocators = "row_allocators"
	RegionRowStats      = "row_stats"
)

// Regions owns every device-resident buffer of a run. Host code reaches the
// contents only through WithHostView.
type Regions struct {
	dev device.Device
	rec profile.Recorder

	Stats         *device.Buffer[Statistics]
	Grid          *device.Buffer[Cell]
	Agents        *device.Buffer[Agent]
	RNGSeeds      *device.Buffer[uint64]
	SpeciesParams *device.Buffer[SpeciesParams]
	RowAllocators *device.Buffer[RowAllocator]
	RowStats      *device.Buffer[Statistics]

	// releases holds one release func per created buffer, in creation order.
	releases []namedRelease
}

type namedRelease struct {
	name    string
	release func() error
}

// NewRegions creates an empty region set on dev.
func NewRegions(dev device.Device, rec profile.Recorder) *Regions {
	if rec == nil {
		rec = profile.Noop{}
	}
	return &Regions{dev: dev, rec: rec}
}

// Create allocates every region. It stops at the first failure; regions
// created so far stay owned by r and are freed by Release.
func (r *Regions) Create(ds DataSizes) error {
	var err error
	if r.Stats, err = createRegion[Statistics](r, RegionStats, ds.StatsLen, device.ReadWrite); err != nil {
		return err
	}
	if r.Grid, err = createRegion[Cell](r, RegionGrid, ds.GridLen, device.ReadWrite); err != nil {
		return err
	}
	if r.Agents, err = createRegion[Agent](r, RegionAgents, ds.AgentsLen, device.ReadWrite); err != nil {
		return err
	}
	if r.RNGSeeds, err = createRegion[uint64](r, RegionRNGSeeds, ds.SeedsLen, device.ReadWrite); err != nil {
		return err
	}
	if r.SpeciesParams, err = createRegion[SpeciesParams](r, RegionSpeciesParams, ds.SpeciesLen, device.ReadOnly); err != nil {
		return err
	}
	if r.RowAllocators, err = createRegion[RowAllocator](r, RegionRowAllocators, ds.RowLen, device.ReadWrite); err != nil {
		return err
	}
	if r.RowStats, err = createRegion[Statistics](r, RegionRowStats, ds.RowLen, device.ReadWrite); err != nil {
		return err
	}
	return nil
}

func createRegion[T any](r *Regions, name string, n int, mode device.AccessMode) (*device.Buffer[T], error) {
	b, err := device.NewBuffer[T](r.dev, name, n, mode)
	if err != nil {
		return nil, newError(AllocationError, "create region "+name, err)
	}
	r.releases = append(r.releases, namedRelease{name: name, release: func() error { return b.Release(r.dev) }})
	return b, nil
}

// Release frees the regions in reverse creation order. Failures are logged
// and do not stop the remaining releases. Calling Release again is a no-op.
func (r *Regions) Release() {
	for i := len(r.releases) - 1; i >= 0; i-- {
		rel := r.releases[i]
		if err := rel.release(); err != nil {
			logrus.Warnf("release region %s: %v", rel.name, err)
		}
	}
	r.releases = nil
}

// Created returns the names of the regions currently owned, in creation
// order.
func (r *Regions) Created() []string {
	names := make([]string, len(r.releases))
	for i, rel := range r.releases {
		names[i] = rel.name
	}
	return names
}

// WithHostView maps b for the host, calls fn with the typed view and
// unmaps b on every exit path. fn must not keep the view, and must not
// dispatch kernels that reference b.
func WithHostView[T any](r *Regions, b *device.Buffer[T], flags device.MapFlags, fn func(view []T) error) (err error) {
	name := b.Memory().Name()
	start := time.Now()
	view, err := b.Map(r.dev, flags)
	if err != nil {
		return newError(MappingError, "map "+name, err)
	}
	defer func() {
		uerr := b.Unmap(r.dev)
		r.rec.Record(profile.Event{Name: "map/unmap " + name, Kind: profile.KindMapping, Start: start, End: time.Now()})
		if uerr != nil && err == nil {
			err = newError(MappingError, "unmap "+name, uerr)
		}
	}()
	return fn(view)
}

// Initialize seeds every region from the host, one mapping scope per
// region: grid, statistics record 0, agent arena, worker seeds, species
// parameters, row allocators.
func (r *Regions) Initialize(p Parameters, sp SimParams, rng *PartitionedRNG) error {
	setup := rng.ForSubsystem(SubsystemSetup)

	var grass uint32
	err := WithHostView(r, r.Grid, device.MapWrite, func(grid []Cell) error {
		grass = initGrid(grid, p.GrassRestart, setup)
		return nil
	})
	if err != nil {
		return err
	}

	err = WithHostView(r, r.Stats, device.MapWrite, func(stats []Statistics) error {
		stats[0] = Statistics{Prey: p.InitPrey, Predator: p.InitPredator, Grass: grass}
		return nil
	})
	if err != nil {
		return err
	}

	err = WithHostView(r, r.Agents, device.MapWrite, func(agents []Agent) error {
		return WithHostView(r, r.Grid, device.MapReadWrite, func(grid []Cell) error {
			return initAgents(agents, grid, p, sp, setup)
		})
	})
	if err != nil {
		return err
	}

	err = WithHostView(r, r.RNGSeeds, device.MapWrite, func(seeds []uint64) error {
		initSeeds(seeds, rng.ForSubsystem(SubsystemWorkerSeeds))
		return nil
	})
	if err != nil {
		return err
	}

	err = WithHostView(r, r.SpeciesParams, device.MapWrite, func(table []SpeciesParams) error {
		species := p.SpeciesTable()
		copy(table, species[:])
		return nil
	})
	if err != nil {
		return err
	}

	return WithHostView(r, r.RowAllocators, device.MapWrite, func(allocs []RowAllocator) error {
		initRowAllocators(allocs, p.InitPrey+p.InitPredator, sp.MaxAgents)
		return nil
	})
}

// initGrid flips a coin per cell: edible now, or counting down from a
// uniform draw in [1, grassRestart]. Returns the number of edible cells.
func initGrid(grid []Cell, grassRestart uint32, rng *rand.Rand) uint32 {
	var edible uint32
	for i := range grid {
		timer := uint32(0)
		if rng.Intn(2) != 0 {
			timer = 1 + uint32(rng.Int63n(int64(grassRestart)))
		}
		grid[i] = Cell{GrassTimer: timer, AgentHead: NullAgent}
		if timer == 0 {
			edible++
		}
	}
	return edible
}

// initAgents populates the first InitPrey+InitPredator arena slots, each
// placed on a random cell and appended to the tail of its occupant list.
// Remaining slots are left empty.
func initAgents(agents []Agent, grid []Cell, p Parameters, sp SimParams, rng *rand.Rand) error {
	population := p.InitPrey + p.InitPredator
	if uint64(population) > uint64(len(agents)) {
		return configErrorf("initialize agents", "initial population %d exceeds arena capacity %d", population, len(agents))
	}
	for i := range agents {
		agents[i] = Agent{Next: NullAgent}
	}
	for i := uint32(0); i < population; i++ {
		x := uint32(rng.Int63n(int64(sp.SizeX)))
		y := uint32(rng.Int63n(int64(sp.SizeY)))
		cell := &grid[sp.CellIndex(x, y)]
		if cell.AgentHead == NullAgent {
			cell.AgentHead = i
		} else {
			tail := cell.AgentHead
			for hops := uint32(0); agents[tail].Next != NullAgent; hops++ {
				if hops > population {
					return fmt.Errorf("initialize agents: occupant list of cell (%d, %d) does not terminate", x, y)
				}
				tail = agents[tail].Next
			}
			agents[tail].Next = i
		}

		species, gain := Prey, p.PreyGainFromFood
		if i >= p.InitPrey {
			species, gain = Predator, p.PredatorGainFromFood
		}
		agents[i].Species = species
		agents[i].Energy = 1 + uint32(rng.Int63n(2*int64(gain)))
	}
	return nil
}

// initSeeds gives each worker its own seed.
func initSeeds(seeds []uint64, rng *rand.Rand) {
	for i := range seeds {
		seeds[i] = rng.Uint64()
	}
}

// initRowAllocators splits the never-used arena slots [population,
// maxAgents) into one contiguous range per row, remainder to the first
// rows.
func initRowAllocators(allocs []RowAllocator, population, maxAgents uint32) {
	rows := uint32(len(allocs))
	free := maxAgents - population
	per, rem := free/rows, free%rows
	next := population
	for r := uint32(0); r < rows; r++ {
		n := per
		if r < rem {
			n++
		}
		allocs[r] = RowAllocator{FreeHead: NullAgent, Next: next, End: next + n}
		next += n
	}
}
