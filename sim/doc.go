// Package sim drives a predator-prey grid simulation on a parallel compute
// device.
//
// # Reading Guide
//
// Start with these files:
//   - engine.go: the driver state machine (setup → running → finalizing → done)
//   - partition.go: how many workers run per dispatch and which row each takes
//   - region.go: device regions, host-visible mapping scopes, initialization
//
// # Architecture
//
// The sim package owns the host side; everything that executes on the device
// lives in sub-packages:
//   - sim/device/: the runtime the engine talks to (memory objects, mapping,
//     kernel arguments, dispatch). CPU is the in-process implementation.
//   - sim/kernels/: the program (step1, step2, reduce_stats)
//   - sim/profile/: dispatch and mapping timings
//
// sim/kernels registers itself via an init() function that sets the
// package-level factory variable NewProgramFunc.
//
// # Iteration
//
// Every iteration runs two phases separated by a device barrier. Phase 1
// dispatches step1 once per turn: agents move and grass counts down. Phase 2
// dispatches step2 once per turn (agents eat, reproduce and die; each row's
// counts land in row_stats), then reduce_stats folds the rows into the
// iteration's statistics record. A turn processes one row per worker, and
// rows processed in the same turn are at least three apart.
package sim
