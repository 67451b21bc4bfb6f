// Package testutil provides shared test infrastructure for the simulation
// engine: a fault-injecting device wrapper and small parameter fixtures.
package testutil

import (
	"sync"

	"github.com/pphpc/ppsim/sim/device"
)

// FaultyDevice wraps a Device and fails selected calls. Each Fail* field is
// the 1-based call number that fails; 0 never fails. Calls are counted
// whether or not they fail.
type FaultyDevice struct {
	device.Device

	FailCreate   int
	FailDispatch int
	FailMap      int
	FailUnmap    int

	mu        sync.Mutex
	creates   int
	dispatchs int
	maps      int
	unmaps    int
}

// NewFaultyDevice wraps inner.
func NewFaultyDevice(inner device.Device) *FaultyDevice {
	return &FaultyDevice{Device: inner}
}

func (f *FaultyDevice) CreateMemory(name string, size int64, mode device.AccessMode) (*device.Memory, error) {
	if f.hit(&f.creates, f.FailCreate) {
		return nil, device.Errorf(device.MemObjectAllocationFailure, "injected failure creating %s", name)
	}
	return f.Device.CreateMemory(name, size, mode)
}

func (f *FaultyDevice) Dispatch(k device.Kernel, globalSize, localSize int) error {
	if f.hit(&f.dispatchs, f.FailDispatch) {
		return device.Errorf(device.OutOfResources, "injected failure dispatching %s", k.Name())
	}
	return f.Device.Dispatch(k, globalSize, localSize)
}

func (f *FaultyDevice) Map(m *device.Memory, flags device.MapFlags) error {
	if f.hit(&f.maps, f.FailMap) {
		return device.Errorf(device.MapFailure, "injected failure mapping %s", m.Name())
	}
	return f.Device.Map(m, flags)
}

// Unmap always unmaps the inner object so the device stays consistent,
// then reports the injected failure.
func (f *FaultyDevice) Unmap(m *device.Memory) error {
	err := f.Device.Unmap(m)
	if f.hit(&f.unmaps, f.FailUnmap) && err == nil {
		return device.Errorf(device.InvalidOperation, "injected failure unmapping %s", m.Name())
	}
	return err
}

// Dispatches returns the number of Dispatch calls seen so far.
func (f *FaultyDevice) Dispatches() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.dispatchs
}

func (f *FaultyDevice) hit(counter *int, failAt int) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	*counter++
	return failAt > 0 && *counter == failAt
}
