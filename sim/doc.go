// Package sim provides a free-surface lattice Boltzmann solver with
// multi-level grid refinement and adaptive timestepping.
//
// # Reading Guide
//
// Start with these files to understand the simulation kernel:
//   - solver.go: Solver construction, level hierarchy, rasterisation
//   - step.go: the per-step schedule across levels
//   - kernel.go: collide-and-stream with free-surface mass exchange
//   - reinit.go: interface cell conversion after each kernel pass
//
// # Architecture
//
// The sim package owns the algorithm; storage and tables live in
// sub-packages:
//   - sim/lattice/: D2Q9 and D3Q19 velocity models, equilibrium, LES
//   - sim/cell/: cell flags and legal transitions
//   - sim/grid/: per-level ping-pong cell storage
//   - sim/geometry/: scene primitives and the Rasterizer interface
//   - sim/particles/: drop and tracer particle store
//   - sim/trace/: per-step and timestep-change records
//
// # Levels
//
// Level 0 is the coarsest. Each finer level halves the cell size and the
// timestep, so level lev steps once every 2^(finest-lev) finest-level steps.
// The free surface lives on the finest level only; coarser levels simulate
// bulk fluid away from it. Refinement (refine.go) and the grid transfer
// operators (interpolate.go) keep the levels consistent.
//
// # Units
//
// Configuration is in world units (metres, seconds). Inside the solver all
// quantities are lattice units; velocities are the same on every level.
//
// Build with -tags lbmstrict to validate every index computation and flag
// write; violations panic.
package sim
