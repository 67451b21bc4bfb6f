// Package device models the compute runtime the simulation engine drives:
// device-resident memory objects, host-visible mappings, kernel argument
// binding and ordered kernel dispatch.
//
// The engine only talks to the Device interface. CPU is the in-process
// implementation: memory objects live on the Go heap, and a dispatch fans
// its work groups out over goroutines and returns once every worker has
// finished, so a returned Dispatch is also a barrier.
package device

import "fmt"

// AccessMode describes how kernels may access a memory object.
type AccessMode uint8

const (
	ReadWrite AccessMode = iota
	ReadOnly
	WriteOnly
)

func (m AccessMode) String() string {
	switch m {
	case ReadWrite:
		return "read-write"
	case ReadOnly:
		return "read-only"
	case WriteOnly:
		return "write-only"
	}
	return fmt.Sprintf("AccessMode(%d)", uint8(m))
}

// MapFlags selects the host access requested by Map.
type MapFlags uint8

const (
	MapRead MapFlags = 1 << iota
	MapWrite

	MapReadWrite = MapRead | MapWrite
)

func (f MapFlags) String() string {
	switch f {
	case MapRead:
		return "read"
	case MapWrite:
		return "write"
	case MapReadWrite:
		return "read-write"
	}
	return fmt.Sprintf("MapFlags(%d)", uint8(f))
}

// Info describes a device.
type Info struct {
	Name         string
	ComputeUnits int
	MemoryLimit  int64 // bytes available for memory objects
}

// Counters tracks resource usage over a device's lifetime.
type Counters struct {
	Allocations int
	Releases    int
	LiveBytes   int64
	Maps        int
	Unmaps      int
	Dispatches  int
}

// Device is the runtime collaborator consumed by the simulation engine.
// Every call is fallible and reports failures as *Error.
type Device interface {
	Info() Info

	// CreateMemory reserves size bytes of device-resident storage.
	CreateMemory(name string, size int64, mode AccessMode) (*Memory, error)
	// ReleaseMemory frees a memory object. Releasing twice is an error.
	ReleaseMemory(m *Memory) error

	// Map opens a host-visible window over m. While mapped, dispatches that
	// reference m are rejected.
	Map(m *Memory, flags MapFlags) error
	// Unmap closes the window opened by Map.
	Unmap(m *Memory) error

	// Dispatch runs k over globalSize workers split into groups of
	// localSize (0 lets the device choose) and waits for completion.
	Dispatch(k Kernel, globalSize, localSize int) error
	// Finish blocks until all previously issued work has completed.
	Finish() error

	Counters() Counters
	Close() error
}

// Memory is a device-resident memory object.
type Memory struct {
	id       uint64
	name     string
	size     int64
	mode     AccessMode
	mapped   MapFlags
	released bool
}

func (m *Memory) Name() string     { return m.name }
func (m *Memory) Size() int64      { return m.size }
func (m *Memory) Mode() AccessMode { return m.mode }

// Mapped reports whether the memory object currently has a host mapping.
func (m *Memory) Mapped() bool { return m.mapped != 0 }

// Released reports whether ReleaseMemory has been called on m.
func (m *Memory) Released() bool { return m.released }
