// sim/engine.go
package sim

import (
	"errors"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/pphpc/ppsim/sim/device"
	"github.com/pphpc/ppsim/sim/profile"
)

// State is the driver's lifecycle state.
type State int

const (
	StateSetup State = iota
	StateRunning
	StateFinalizing
	StateDone
	StateAborted
)

func (s State) String() string {
	switch s {
	case StateSetup:
		return "setup"
	case StateRunning:
		return "running"
	case StateFinalizing:
		return "finalizing"
	case StateDone:
		return "done"
	case StateAborted:
		return "aborted"
	}
	return fmt.Sprintf("State(%d)", int(s))
}

// Config is everything the engine needs besides the device.
type Config struct {
	Params    Parameters
	MaxAgents uint32 // arena capacity; 0 = DefaultMaxAgents
	Workers   int    // requested workers per dispatch; 0 = maximum safe
	LocalSize int    // worker-group size; 0 = device default
	Seed      int64
}

// Engine drives one simulation run:
// Setup → Running(1..iterations) → Finalizing → Done, or Aborted on the
// first fatal error. It is single-threaded; all parallelism lives inside a
// dispatch.
type Engine struct {
	cfg Config
	dev device.Device
	rec profile.Recorder

	state     State
	history   []State
	iteration uint32
	closed    bool

	ws        WorkSizes
	simParams SimParams
	sizes     DataSizes
	regions   *Regions
	program   Program
	step1     device.Kernel
	step2     device.Kernel
	reduce    device.Kernel
}

// NewEngine creates an engine in StateSetup. rec may be nil.
func NewEngine(cfg Config, dev device.Device, rec profile.Recorder) *Engine {
	if cfg.MaxAgents == 0 {
		cfg.MaxAgents = DefaultMaxAgents
	}
	if rec == nil {
		rec = profile.Noop{}
	}
	return &Engine{
		cfg:     cfg,
		dev:     dev,
		rec:     rec,
		state:   StateSetup,
		history: []State{StateSetup},
		regions: NewRegions(dev, rec),
	}
}

func (e *Engine) State() State { return e.state }

// History lists every state the engine has been in, in order.
func (e *Engine) History() []State { return append([]State(nil), e.history...) }

// Iteration is the iteration currently (or last) run, 0 before Running.
func (e *Engine) Iteration() uint32    { return e.iteration }
func (e *Engine) WorkSizes() WorkSizes { return e.ws }
func (e *Engine) SimParams() SimParams { return e.simParams }
func (e *Engine) DataSizes() DataSizes { return e.sizes }
func (e *Engine) Regions() *Regions    { return e.regions }

func (e *Engine) transition(s State) {
	e.state = s
	e.history = append(e.history, s)
}

// abort moves to StateAborted and passes err through.
func (e *Engine) abort(err error) error {
	if e.state != StateAborted {
		e.transition(StateAborted)
	}
	return err
}

func (e *Engine) expect(s State, op string) error {
	if e.state != s {
		return fmt.Errorf("%s: engine is %s, want %s", op, e.state, s)
	}
	return nil
}

// Setup partitions the grid, builds the program, creates and initializes
// every region and binds the fixed kernel arguments.
func (e *Engine) Setup() error {
	if err := e.expect(StateSetup, "setup"); err != nil {
		return err
	}
	p := e.cfg.Params
	if err := p.Validate(e.cfg.MaxAgents); err != nil {
		return e.abort(err)
	}
	ws, err := Partition(int(p.GridY), e.cfg.Workers, e.cfg.LocalSize)
	if err != nil {
		return e.abort(err)
	}
	e.ws = ws
	e.simParams = NewSimParams(p, e.cfg.MaxAgents, ws.RowsPerWorker)
	e.sizes = NewDataSizes(p, e.simParams, ws.Effective)

	info := e.dev.Info()
	logrus.Infof("Compute units: %d", info.ComputeUnits)
	logrus.Infof("Suggested number of workers: %d, maximum for this problem: %d", ws.Requested, ws.Max)
	logrus.Infof("Effective number of workers: %d, rows per worker: %d", ws.Effective, ws.RowsPerWorker)
	logrus.Debugf("Region bytes: %d total (agents %d, grid %d, stats %d)",
		e.sizes.Total(), e.sizes.Agents, e.sizes.Grid, e.sizes.Stats)

	if err := e.buildProgram(); err != nil {
		return e.abort(err)
	}

	e.rec.Start()
	if err := e.regions.Create(e.sizes); err != nil {
		return e.abort(err)
	}
	rng := NewPartitionedRNG(NewSimulationKey(e.cfg.Seed))
	if err := e.regions.Initialize(p, e.simParams, rng); err != nil {
		return e.abort(err)
	}
	if err := e.bindArgs(); err != nil {
		return e.abort(err)
	}
	return nil
}

// buildLogger is implemented by build failures that carry diagnostics.
type buildLogger interface {
	BuildLog() string
}

func (e *Engine) buildProgram() error {
	if NewProgramFunc == nil {
		return newError(BuildError, "build program", errors.New("no device program registered"))
	}
	prog, err := NewProgramFunc(e.dev)
	if err != nil {
		be := newError(BuildError, "build program", err)
		var bl buildLogger
		if errors.As(err, &bl) {
			be.BuildLog = bl.BuildLog()
		}
		return be
	}
	e.program = prog
	if log := prog.BuildLog(); log != "" {
		logrus.Debugf("Build log:\n%s", log)
	}
	kernels := []struct {
		name string
		dst  *device.Kernel
	}{
		{KernelStep1, &e.step1},
		{KernelStep2, &e.step2},
		{KernelReduceStats, &e.reduce},
	}
	for _, k := range kernels {
		kern, err := prog.Kernel(k.name)
		if err != nil {
			return &Error{Kind: BuildError, Op: "create kernel " + k.name, Err: err, BuildLog: prog.BuildLog()}
		}
		*k.dst = kern
	}
	return nil
}

// bindArgs sets every argument that stays fixed for the whole run.
func (e *Engine) bindArgs() error {
	r := e.regions
	binds := []struct {
		kernel device.Kernel
		index  int
		value  any
	}{
		{e.step1, Step1ArgAgents, r.Agents},
		{e.step1, Step1ArgGrid, r.Grid},
		{e.step1, Step1ArgSeeds, r.RNGSeeds},
		{e.step1, Step1ArgSimParams, e.simParams},

		{e.step2, Step2ArgAgents, r.Agents},
		{e.step2, Step2ArgGrid, r.Grid},
		{e.step2, Step2ArgSeeds, r.RNGSeeds},
		{e.step2, Step2ArgRowStats, r.RowStats},
		{e.step2, Step2ArgSimParams, e.simParams},
		{e.step2, Step2ArgSpeciesParams, r.SpeciesParams},
		{e.step2, Step2ArgRowAllocators, r.RowAllocators},

		{e.reduce, ReduceArgRowStats, r.RowStats},
		{e.reduce, ReduceArgStats, r.Stats},
		{e.reduce, ReduceArgSimParams, e.simParams},
	}
	for _, b := range binds {
		if err := b.kernel.SetArg(b.index, b.value); err != nil {
			return newError(DispatchError, fmt.Sprintf("arg %d of %s", b.index, b.kernel.Name()), err)
		}
	}
	return nil
}

// Run executes every iteration. Each iteration is phase 1 (step1 over all
// turns, then a barrier) followed by phase 2 (step2 over all turns, the
// statistics reduction, then a barrier). The first failure aborts the run.
func (e *Engine) Run() error {
	if err := e.expect(StateSetup, "run"); err != nil {
		return err
	}
	if e.step1 == nil || e.step2 == nil || e.reduce == nil {
		return fmt.Errorf("run: engine is not set up")
	}
	e.transition(StateRunning)
	// Dispatches must not overlap host initialization.
	if err := e.finish("setup"); err != nil {
		return e.abort(err)
	}
	for iter := uint32(1); iter <= e.cfg.Params.Iterations; iter++ {
		e.iteration = iter
		if err := e.iterate(iter); err != nil {
			return e.abort(err)
		}
		logrus.Debugf("[iter %06d] done", iter)
	}
	e.transition(StateFinalizing)
	return nil
}

func (e *Engine) iterate(iter uint32) error {
	turns := uint32(e.ws.RowsPerWorker)

	for turn := uint32(0); turn < turns; turn++ {
		if err := e.setArg(e.step1, Step1ArgTurn, turn); err != nil {
			return err
		}
		if err := e.dispatch(e.step1, e.ws.Effective, e.ws.LocalSize, iter, turn); err != nil {
			return err
		}
	}
	if err := e.finish("phase 1"); err != nil {
		return err
	}

	if err := e.setArg(e.step2, Step2ArgIter, iter); err != nil {
		return err
	}
	for turn := uint32(0); turn < turns; turn++ {
		if err := e.setArg(e.step2, Step2ArgTurn, turn); err != nil {
			return err
		}
		if err := e.dispatch(e.step2, e.ws.Effective, e.ws.LocalSize, iter, turn); err != nil {
			return err
		}
	}
	if err := e.setArg(e.reduce, ReduceArgIter, iter); err != nil {
		return err
	}
	if err := e.dispatch(e.reduce, 1, 1, iter, 0); err != nil {
		return err
	}
	return e.finish("phase 2")
}

func (e *Engine) setArg(k device.Kernel, index int, value uint32) error {
	if err := k.SetArg(index, value); err != nil {
		return newError(DispatchError, fmt.Sprintf("arg %d of %s", index, k.Name()), err)
	}
	return nil
}

func (e *Engine) dispatch(k device.Kernel, global, local int, iter, turn uint32) error {
	start := time.Now()
	err := e.dev.Dispatch(k, global, local)
	e.rec.Record(profile.Event{Name: k.Name(), Kind: profile.KindDispatch, Start: start, End: time.Now()})
	if err != nil {
		return newError(DispatchError, fmt.Sprintf("%s (iteration %d, turn %d)", k.Name(), iter, turn), err)
	}
	return nil
}

func (e *Engine) finish(after string) error {
	if err := e.dev.Finish(); err != nil {
		return newError(DispatchError, "finish after "+after, err)
	}
	return nil
}

// ExportStatistics writes every statistics record to w through one
// read-only mapping, then moves to StateDone. Write failures are IOError
// and leave the engine in StateFinalizing.
func (e *Engine) ExportStatistics(w io.Writer) error {
	if err := e.expect(StateFinalizing, "export statistics"); err != nil {
		return err
	}
	err := WithHostView(e.regions, e.regions.Stats, device.MapRead, func(stats []Statistics) error {
		if err := WriteStatistics(w, stats); err != nil {
			return newError(IOError, "write statistics", err)
		}
		return nil
	})
	if err != nil {
		if IsKind(err, IOError) {
			return err
		}
		return e.abort(err)
	}
	e.rec.Stop()
	e.transition(StateDone)
	return nil
}

// SaveStatistics creates path and exports the statistics into it.
func (e *Engine) SaveStatistics(path string) (err error) {
	if err := e.expect(StateFinalizing, "save statistics"); err != nil {
		return err
	}
	f, err := os.Create(path)
	if err != nil {
		return newError(IOError, "create statistics file", err)
	}
	defer func() {
		if cerr := f.Close(); cerr != nil && err == nil {
			err = newError(IOError, "close statistics file", cerr)
		}
	}()
	return e.ExportStatistics(f)
}

// Statistics copies the statistics records out of the device. Only valid
// once the run completed (StateFinalizing or StateDone).
func (e *Engine) Statistics() ([]Statistics, error) {
	if e.state != StateFinalizing && e.state != StateDone {
		return nil, fmt.Errorf("statistics: engine is %s", e.state)
	}
	var out []Statistics
	err := WithHostView(e.regions, e.regions.Stats, device.MapRead, func(stats []Statistics) error {
		out = append([]Statistics(nil), stats...)
		return nil
	})
	return out, err
}

// Close releases every region in reverse creation order. Safe to call in
// any state and more than once.
func (e *Engine) Close() {
	if e.closed {
		return
	}
	e.closed = true
	e.regions.Release()
	e.step1, e.step2, e.reduce = nil, nil, nil
	e.program = nil
}
