package device

import "unsafe"

// Buffer is a typed memory object: n elements of T in device-resident
// storage. Kernels read and write the storage through Data; host code must
// go through Map/Unmap (see sim.WithHostView).
type Buffer[T any] struct {
	mem  *Memory
	data []T
}

// NewBuffer creates a memory object sized for n elements of T.
func NewBuffer[T any](d Device, name string, n int, mode AccessMode) (*Buffer[T], error) {
	if n <= 0 {
		return nil, Errorf(InvalidBufferSize, "buffer %s: element count must be positive, got %d", name, n)
	}
	var zero T
	size := int64(n) * int64(unsafe.Sizeof(zero))
	mem, err := d.CreateMemory(name, size, mode)
	if err != nil {
		return nil, err
	}
	return &Buffer[T]{mem: mem, data: make([]T, n)}, nil
}

func (b *Buffer[T]) Memory() *Memory { return b.mem }
func (b *Buffer[T]) Len() int        { return len(b.data) }

// Data returns the device-side storage. Only kernels may call it, and only
// while the buffer is not host-mapped.
func (b *Buffer[T]) Data() []T { return b.data }

// Map opens a host view of the buffer. The returned slice must not be used
// after Unmap.
func (b *Buffer[T]) Map(d Device, flags MapFlags) ([]T, error) {
	if err := d.Map(b.mem, flags); err != nil {
		return nil, err
	}
	return b.data, nil
}

// Unmap closes the host view opened by Map.
func (b *Buffer[T]) Unmap(d Device) error {
	return d.Unmap(b.mem)
}

// Release frees the buffer's memory object and drops the storage.
func (b *Buffer[T]) Release(d Device) error {
	if err := d.ReleaseMemory(b.mem); err != nil {
		return err
	}
	b.data = nil
	return nil
}
