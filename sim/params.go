package sim

import (
	"fmt"
	"math"
	"unsafe"
)

const (
	// NullAgent marks an empty cell or the end of an occupant list.
	NullAgent uint32 = math.MaxUint32
	// DefaultMaxAgents is the default agent arena capacity.
	DefaultMaxAgents uint32 = 16777216
)

// Species indexes the species parameter table.
type Species uint32

const (
	Prey Species = iota
	Predator

	numSpecies = 2
)

func (s Species) String() string {
	switch s {
	case Prey:
		return "prey"
	case Predator:
		return "predator"
	}
	return fmt.Sprintf("Species(%d)", uint32(s))
}

// Parameters is the model configuration supplied by the parameter source.
// The engine treats it as immutable.
type Parameters struct {
	InitPrey     uint32 `yaml:"init_prey"`
	InitPredator uint32 `yaml:"init_predator"`
	GrassRestart uint32 `yaml:"grass_restart"`
	GridX        uint32 `yaml:"grid_x"`
	GridY        uint32 `yaml:"grid_y"`
	Iterations   uint32 `yaml:"iterations"`

	PreyGainFromFood       uint32 `yaml:"prey_gain_from_food"`
	PreyReproduceThreshold uint32 `yaml:"prey_reproduce_threshold"`
	PreyReproduceProb      uint32 `yaml:"prey_reproduce_prob"` // percent

	PredatorGainFromFood       uint32 `yaml:"predator_gain_from_food"`
	PredatorReproduceThreshold uint32 `yaml:"predator_reproduce_threshold"`
	PredatorReproduceProb      uint32 `yaml:"predator_reproduce_prob"` // percent
}

// Validate checks the parameters against an arena of maxAgents slots.
// Grid height is checked by the partitioner.
func (p Parameters) Validate(maxAgents uint32) error {
	const op = "validate parameters"
	if p.GridX == 0 || p.GridY == 0 {
		return configErrorf(op, "grid must be non-empty, got %dx%d", p.GridX, p.GridY)
	}
	if uint64(p.GridX)*uint64(p.GridY) > math.MaxUint32 {
		return configErrorf(op, "grid %dx%d has more cells than a cell index can address", p.GridX, p.GridY)
	}
	if p.GrassRestart == 0 {
		return configErrorf(op, "grass_restart must be at least 1")
	}
	if p.PreyGainFromFood == 0 || p.PredatorGainFromFood == 0 {
		return configErrorf(op, "gain_from_food must be at least 1 for both species")
	}
	if p.PreyReproduceProb > 100 || p.PredatorReproduceProb > 100 {
		return configErrorf(op, "reproduce_prob is a percentage, got prey=%d predator=%d",
			p.PreyReproduceProb, p.PredatorReproduceProb)
	}
	if maxAgents == 0 || maxAgents == NullAgent {
		return configErrorf(op, "arena capacity %d is not usable", maxAgents)
	}
	if pop := uint64(p.InitPrey) + uint64(p.InitPredator); pop > uint64(maxAgents) {
		return configErrorf(op, "initial population %d exceeds arena capacity %d", pop, maxAgents)
	}
	return nil
}

// Cell is one grid position.
type Cell struct {
	GrassTimer uint32 // 0 = edible grass, otherwise iterations until regrowth
	AgentHead  uint32 // first occupant, or NullAgent
}

// Agent is one arena slot.
type Agent struct {
	Energy  uint32
	Action  uint32
	Species Species
	Next    uint32 // next occupant of the same cell, or NullAgent
}

// SpeciesParams holds the per-species constants read by the action kernel.
type SpeciesParams struct {
	GainFromFood         uint32
	ReproduceThreshold   uint32
	ReproduceProbability uint32 // percent
}

// Statistics is one per-iteration population record.
type Statistics struct {
	Prey     uint32
	Predator uint32
	Grass    uint32
}

// RowAllocator hands out arena slots to the worker processing one row.
// Freed slots are pushed on FreeHead (chained through Agent.Next); slots
// never used so far come from [Next, End).
type RowAllocator struct {
	FreeHead uint32
	Next     uint32
	End      uint32
}

// SimParams is the constant block passed to every kernel.
type SimParams struct {
	SizeX         uint32
	SizeY         uint32
	SizeXY        uint32
	MaxAgents     uint32
	NullAgent     uint32
	GrassRestart  uint32
	RowsPerWorker uint32
}

// NewSimParams derives the kernel constant block.
func NewSimParams(p Parameters, maxAgents uint32, rowsPerWorker int) SimParams {
	return SimParams{
		SizeX:         p.GridX,
		SizeY:         p.GridY,
		SizeXY:        p.GridX * p.GridY,
		MaxAgents:     maxAgents,
		NullAgent:     NullAgent,
		GrassRestart:  p.GrassRestart,
		RowsPerWorker: uint32(rowsPerWorker),
	}
}

// CellIndex returns the linear index of (x, y).
func (sp SimParams) CellIndex(x, y uint32) uint32 {
	return x + y*sp.SizeX
}

// SpeciesTable builds the two-entry species parameter table.
func (p Parameters) SpeciesTable() [numSpecies]SpeciesParams {
	return [numSpecies]SpeciesParams{
		Prey: {
			GainFromFood:         p.PreyGainFromFood,
			ReproduceThreshold:   p.PreyReproduceThreshold,
			ReproduceProbability: p.PreyReproduceProb,
		},
		Predator: {
			GainFromFood:         p.PredatorGainFromFood,
			ReproduceThreshold:   p.PredatorReproduceThreshold,
			ReproduceProbability: p.PredatorReproduceProb,
		},
	}
}

// DataSizes holds element counts and byte sizes of every region.
type DataSizes struct {
	StatsLen, GridLen, AgentsLen, SeedsLen, SpeciesLen, RowLen int

	Stats, Grid, Agents, Seeds, Species, RowAllocators, RowStats int64
}

// NewDataSizes sizes the regions for a run with numWorkers workers.
func NewDataSizes(p Parameters, sp SimParams, numWorkers int) DataSizes {
	ds := DataSizes{
		StatsLen:   int(p.Iterations) + 1,
		GridLen:    int(sp.SizeXY),
		AgentsLen:  int(sp.MaxAgents),
		SeedsLen:   numWorkers,
		SpeciesLen: numSpecies,
		RowLen:     int(sp.SizeY),
	}
	ds.Stats = int64(ds.StatsLen) * int64(unsafe.Sizeof(Statistics{}))
	ds.Grid = int64(ds.GridLen) * int64(unsafe.Sizeof(Cell{}))
	ds.Agents = int64(ds.AgentsLen) * int64(unsafe.Sizeof(Agent{}))
	ds.Seeds = int64(ds.SeedsLen) * int64(unsafe.Sizeof(uint64(0)))
	ds.Species = int64(ds.SpeciesLen) * int64(unsafe.Sizeof(SpeciesParams{}))
	ds.RowAllocators = int64(ds.RowLen) * int64(unsafe.Sizeof(RowAllocator{}))
	ds.RowStats = int64(ds.RowLen) * int64(unsafe.Sizeof(Statistics{}))
	return ds
}

// Total returns the bytes needed by all regions.
func (ds DataSizes) Total() int64 {
	return ds.Stats + ds.Grid + ds.Agents + ds.Seeds + ds.Species + ds.RowAllocators + ds.RowStats
}
