package device

// WorkItem identifies one worker inside a dispatch.
type WorkItem struct {
	Global int // global worker index, in [0, globalSize)
	Local  int // index inside the work group
	Group  int // work group index
}

// Kernel is a unit of device work: a named entry point with bound
// arguments, executed once per worker by Dispatch.
type Kernel interface {
	Name() string
	// SetArg binds argument index to value. Binding a memory object
	// argument records the object so Dispatch can check it is not
	// host-mapped.
	SetArg(index int, value any) error
	// Validate reports an InvalidKernelArgs error when a required
	// argument is still unbound.
	Validate() error
	// Memories lists the memory objects referenced by bound arguments.
	Memories() []*Memory
	// Run executes the kernel body for a single worker.
	Run(item WorkItem) error
}

// ArgSet tracks which of a kernel's arguments have been bound.
type ArgSet struct {
	kernel   string
	count    int
	bound    []bool
	memories map[int]*Memory
}

// NewArgSet returns an ArgSet for a kernel taking count arguments.
func NewArgSet(kernel string, count int) ArgSet {
	return ArgSet{
		kernel:   kernel,
		count:    count,
		bound:    make([]bool, count),
		memories: make(map[int]*Memory),
	}
}

// CheckIndex rejects indices outside the kernel's signature.
func (a *ArgSet) CheckIndex(index int) error {
	if index < 0 || index >= a.count {
		return Errorf(InvalidArgIndex, "arg %d of %s: kernel takes %d arguments", index, a.kernel, a.count)
	}
	return nil
}

// Bind marks index as bound. mem is the memory object behind the
// argument, or nil for scalar arguments.
func (a *ArgSet) Bind(index int, mem *Memory) {
	a.bound[index] = true
	if mem != nil {
		a.memories[index] = mem
	} else {
		delete(a.memories, index)
	}
}

// Validate returns an error naming the first unbound argument.
func (a *ArgSet) Validate() error {
	for i, ok := range a.bound {
		if !ok {
			return Errorf(InvalidKernelArgs, "arg %d of %s is not set", i, a.kernel)
		}
	}
	return nil
}

// Memories returns the bound memory objects ordered by argument index.
func (a *ArgSet) Memories() []*Memory {
	out := make([]*Memory, 0, len(a.memories))
	for i := 0; i < a.count; i++ {
		if m, ok := a.memories[i]; ok {
			out = append(out, m)
		}
	}
	return out
}

// ArgAs converts an argument value to the type the kernel expects.
func ArgAs[T any](kernel string, index int, value any) (T, error) {
	v, ok := value.(T)
	if !ok {
		var zero T
		return zero, Errorf(InvalidArgValue, "arg %d of %s: got %T, want %T", index, kernel, value, zero)
	}
	return v, nil
}

// BufferArg converts a buffer argument and returns it with its memory
// object, rejecting nil and released buffers.
func BufferArg[T any](kernel string, index int, value any) (*Buffer[T], error) {
	b, err := ArgAs[*Buffer[T]](kernel, index, value)
	if err != nil {
		return nil, err
	}
	if b == nil || b.mem == nil || b.mem.released {
		return nil, Errorf(InvalidMemObject, "arg %d of %s: invalid memory object", index, kernel)
	}
	return b, nil
}
