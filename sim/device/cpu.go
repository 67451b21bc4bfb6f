package device

import (
	"context"
	"runtime"
	"sync"

	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"
)

// DefaultMemoryLimit bounds the bytes a CPU device hands out when
// CPUConfig.MemoryLimit is zero.
const DefaultMemoryLimit int64 = 4 << 30

// CPUConfig configures a CPU device.
type CPUConfig struct {
	ComputeUnits int   // concurrent work groups; 0 = runtime.NumCPU()
	MemoryLimit  int64 // bytes; 0 = DefaultMemoryLimit
}

// CPU is an in-process Device. Work groups of a dispatch run concurrently
// on at most ComputeUnits goroutines; workers inside a group run in order.
type CPU struct {
	info Info

	mu       sync.Mutex
	nextID   uint64
	live     map[uint64]*Memory
	counters Counters
	closed   bool
}

var _ Device = (*CPU)(nil)

// NewCPU creates a CPU device.
func NewCPU(cfg CPUConfig) *CPU {
	cu := cfg.ComputeUnits
	if cu <= 0 {
		cu = runtime.NumCPU()
	}
	limit := cfg.MemoryLimit
	if limit <= 0 {
		limit = DefaultMemoryLimit
	}
	return &CPU{
		info: Info{Name: "cpu", ComputeUnits: cu, MemoryLimit: limit},
		live: make(map[uint64]*Memory),
	}
}

func (c *CPU) Info() Info { return c.info }

func (c *CPU) CreateMemory(name string, size int64, mode AccessMode) (*Memory, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return nil, Errorf(InvalidDevice, "create %s: device is closed", name)
	}
	if size <= 0 {
		return nil, Errorf(InvalidBufferSize, "create %s: size must be positive, got %d", name, size)
	}
	if c.counters.LiveBytes+size > c.info.MemoryLimit {
		return nil, Errorf(MemObjectAllocationFailure,
			"create %s: %d bytes requested, %d of %d bytes in use",
			name, size, c.counters.LiveBytes, c.info.MemoryLimit)
	}
	c.nextID++
	m := &Memory{id: c.nextID, name: name, size: size, mode: mode}
	c.live[m.id] = m
	c.counters.Allocations++
	c.counters.LiveBytes += size
	logrus.Debugf("device: created %s (%d bytes, %s)", name, size, mode)
	return m, nil
}

func (c *CPU) ReleaseMemory(m *Memory) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if m == nil {
		return Errorf(InvalidMemObject, "release: nil memory object")
	}
	if _, ok := c.live[m.id]; !ok || m.released {
		return Errorf(InvalidMemObject, "release %s: not a live memory object", m.name)
	}
	if m.Mapped() {
		return Errorf(InvalidOperation, "release %s: memory object is host-mapped", m.name)
	}
	delete(c.live, m.id)
	m.released = true
	c.counters.Releases++
	c.counters.LiveBytes -= m.size
	logrus.Debugf("device: released %s", m.name)
	return nil
}

func (c *CPU) Map(m *Memory, flags MapFlags) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if err := c.checkLive(m, "map"); err != nil {
		return err
	}
	if flags&MapReadWrite == 0 || flags&^MapReadWrite != 0 {
		return Errorf(InvalidValue, "map %s: invalid flags %d", m.name, uint8(flags))
	}
	if m.Mapped() {
		return Errorf(MapFailure, "map %s: already mapped for %s", m.name, m.mapped)
	}
	m.mapped = flags
	c.counters.Maps++
	return nil
}

func (c *CPU) Unmap(m *Memory) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if err := c.checkLive(m, "unmap"); err != nil {
		return err
	}
	if !m.Mapped() {
		return Errorf(InvalidOperation, "unmap %s: not mapped", m.name)
	}
	m.mapped = 0
	c.counters.Unmaps++
	return nil
}

func (c *CPU) checkLive(m *Memory, op string) error {
	if c.closed {
		return Errorf(InvalidDevice, "%s: device is closed", op)
	}
	if m == nil {
		return Errorf(InvalidMemObject, "%s: nil memory object", op)
	}
	if _, ok := c.live[m.id]; !ok || m.released {
		return Errorf(InvalidMemObject, "%s %s: not a live memory object", op, m.name)
	}
	return nil
}

// Dispatch validates the launch, then runs globalSize workers. It returns
// after every work group finished; the first worker error is reported as
// KernelExecutionFailure and stops the remaining groups from starting.
func (c *CPU) Dispatch(k Kernel, globalSize, localSize int) error {
	if k == nil {
		return Errorf(InvalidKernel, "dispatch: nil kernel")
	}
	if globalSize <= 0 {
		return Errorf(InvalidGlobalWorkSize, "dispatch %s: global size must be positive, got %d", k.Name(), globalSize)
	}
	if localSize < 0 {
		return Errorf(InvalidWorkGroupSize, "dispatch %s: negative local size %d", k.Name(), localSize)
	}
	if localSize == 0 {
		localSize = c.defaultLocalSize(globalSize)
	}
	if globalSize%localSize != 0 {
		return Errorf(InvalidWorkGroupSize, "dispatch %s: global size %d is not a multiple of local size %d",
			k.Name(), globalSize, localSize)
	}
	if err := k.Validate(); err != nil {
		return err
	}

	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return Errorf(InvalidDevice, "dispatch %s: device is closed", k.Name())
	}
	for _, m := range k.Memories() {
		if _, ok := c.live[m.id]; !ok || m.released {
			c.mu.Unlock()
			return Errorf(InvalidMemObject, "dispatch %s: %s is not a live memory object", k.Name(), m.name)
		}
		if m.Mapped() {
			c.mu.Unlock()
			return Errorf(InvalidHostMappedMemObjects, "dispatch %s: %s is host-mapped", k.Name(), m.name)
		}
	}
	c.counters.Dispatches++
	c.mu.Unlock()

	groups := globalSize / localSize
	g, ctx := errgroup.WithContext(context.Background())
	g.SetLimit(c.info.ComputeUnits)
	for group := 0; group < groups; group++ {
		g.Go(func() error {
			if ctx.Err() != nil {
				return nil
			}
			for local := 0; local < localSize; local++ {
				item := WorkItem{Global: group*localSize + local, Local: local, Group: group}
				if err := k.Run(item); err != nil {
					return Errorf(KernelExecutionFailure, "%s worker %d: %v", k.Name(), item.Global, err)
				}
			}
			return nil
		})
	}
	return g.Wait()
}

// defaultLocalSize picks the largest divisor of globalSize that still gives
// every compute unit at least one group.
func (c *CPU) defaultLocalSize(globalSize int) int {
	best := 1
	for ls := 1; ls <= globalSize; ls++ {
		if globalSize%ls != 0 {
			continue
		}
		if globalSize/ls < c.info.ComputeUnits && ls > 1 {
			break
		}
		best = ls
	}
	return best
}

// Finish is immediate: Dispatch already waits for its workers.
func (c *CPU) Finish() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return Errorf(InvalidDevice, "finish: device is closed")
	}
	return nil
}

func (c *CPU) Counters() Counters {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.counters
}

// Close shuts the device down. Memory objects still alive are reported and
// dropped.
func (c *CPU) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return Errorf(InvalidDevice, "close: device already closed")
	}
	c.closed = true
	for _, m := range c.live {
		logrus.Warnf("device: %s still alive at close", m.name)
	}
	return nil
}
