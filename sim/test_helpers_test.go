package sim

import (
	"testing"

	"github.com/stretchr/testify/require"
	"gonum.org/v1/gonum/spatial/r3"

	"github.com/lbm-sim/lbm-sim/sim/geometry"
)

// newTestConfig2D returns a single-level 2D configuration on the unit square
// with lattice viscosity 0.1 (omega 1.25) and no gravity.
func newTestConfig2D(res int) Config {
	cfg := DefaultConfig()
	cfg.Domain.Dimensions = 2
	cfg.Domain.Resolution = [3]int{res, res, 1}
	cfg.Physics.Timestep = 1e-3
	dx := 1.0 / float64(res)
	cfg.Physics.Viscosity = 0.1 * dx * dx / cfg.Physics.Timestep
	cfg.Physics.Gravity = r3.Vec{}
	return cfg
}

// withGravity sets a gravity that is gLat in lattice units on the finest level.
func withGravity(cfg Config, gLat float64) Config {
	dx := 1.0 / float64(cfg.Domain.Resolution[0])
	dt := cfg.Physics.Timestep
	cfg.Physics.Gravity = r3.Vec{Y: -gLat * dx / (dt * dt)}
	return cfg
}

func mustSolver(t *testing.T, cfg Config, sc *geometry.Scene, objects ...MovingObject) *Solver {
	t.Helper()
	s, err := NewSolver(cfg)
	require.NoError(t, err)
	require.NoError(t, s.Initialize(sc, objects))
	return s
}

func stepN(t *testing.T, s *Solver, n int) {
	t.Helper()
	for i := 0; i < n; i++ {
		require.NoError(t, s.Step(), "step %d", i)
	}
}

// idx2 is the linear index of (i, j) on level lev of a 2D solver.
func idx2(s *Solver, lev, i, j int) int { return s.levels[lev].Index(i, j, 0) }
