package kernels

// workerRNG is a splitmix64 generator whose whole state is the worker's
// slot in the seed region, so it survives between dispatches.
type workerRNG struct {
	state *uint64
}

func (r workerRNG) next() uint64 {
	*r.state += 0x9e3779b97f4a7c15
	z := *r.state
	z = (z ^ (z >> 30)) * 0xbf58476d1ce4e5b9
	z = (z ^ (z >> 27)) * 0x94d049bb133111eb
	return z ^ (z >> 31)
}

// intn returns a value in [0, n). n must be positive.
func (r workerRNG) intn(n uint32) uint32 {
	return uint32(r.next() % uint64(n))
}
