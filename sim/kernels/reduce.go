package kernels

import (
	"fmt"

	"github.com/pphpc/ppsim/sim"
	"github.com/pphpc/ppsim/sim/device"
)

// reduce sums row_stats into stats[iter]. Dispatched with one worker after
// the last step2 turn.
type reduce struct {
	args device.ArgSet

	rowStats []sim.Statistics
	stats    []sim.Statistics
	iter     uint32
	params   sim.SimParams
}

func newReduce() *reduce {
	return &reduce{args: device.NewArgSet(sim.KernelReduceStats, sim.ReduceNumArgs)}
}

func (k *reduce) Name() string              { return sim.KernelReduceStats }
func (k *reduce) Memories() []*device.Memory { return k.args.Memories() }

func (k *reduce) SetArg(index int, value any) error {
	if err := k.args.CheckIndex(index); err != nil {
		return err
	}
	name := k.Name()
	switch index {
	case sim.ReduceArgRowStats:
		b, err := device.BufferArg[sim.Statistics](name, index, value)
		if err != nil {
			return err
		}
		k.rowStats = b.Data()
		k.args.Bind(index, b.Memory())
	case sim.ReduceArgStats:
		b, err := device.BufferArg[sim.Statistics](name, index, value)
		if err != nil {
			return err
		}
		k.stats = b.Data()
		k.args.Bind(index, b.Memory())
	case sim.ReduceArgIter:
		v, err := device.ArgAs[uint32](name, index, value)
		if err != nil {
			return err
		}
		k.iter = v
		k.args.Bind(index, nil)
	case sim.ReduceArgSimParams:
		v, err := device.ArgAs[sim.SimParams](name, index, value)
		if err != nil {
			return err
		}
		k.params = v
		k.args.Bind(index, nil)
	}
	return nil
}

func (k *reduce) Validate() error {
	if err := k.args.Validate(); err != nil {
		return err
	}
	if len(k.rowStats) != int(k.params.SizeY) {
		return device.Errorf(device.InvalidKernelArgs, "%s: row_stats has %d entries, want %d",
			k.Name(), len(k.rowStats), k.params.SizeY)
	}
	return nil
}

func (k *reduce) Run(item device.WorkItem) error {
	if item.Global != 0 {
		return nil
	}
	if k.iter == 0 || int(k.iter) >= len(k.stats) {
		return fmt.Errorf("iteration %d has no statistics slot (have %d)", k.iter, len(k.stats))
	}
	var total sim.Statistics
	for _, s := range k.rowStats {
		total.Prey += s.Prey
		total.Predator += s.Predator
		total.Grass += s.Grass
	}
	k.stats[k.iter] = total
	return nil
}
