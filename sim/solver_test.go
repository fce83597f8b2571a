package sim

import (
	"context"
	"errors"
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gonum.org/v1/gonum/spatial/r3"

	"github.com/lbm-sim/lbm-sim/sim/cell"
	"github.com/lbm-sim/lbm-sim/sim/geometry"
	"github.com/lbm-sim/lbm-sim/sim/internal/testutil"
	"github.com/lbm-sim/lbm-sim/sim/lattice"
)

func TestNewSolver_RejectsInvalidConfig(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Domain.Dimensions = 4
	cfg.Physics.Viscosity = -1

	_, err := NewSolver(cfg)

	require.Error(t, err)
	assert.Contains(t, err.Error(), "domain.dimensions")
	assert.Contains(t, err.Error(), "physics.viscosity")
}

func TestSolver_Lifecycle(t *testing.T) {
	s, err := NewSolver(newTestConfig2D(8))
	require.NoError(t, err)

	// WHEN stepping before Initialize
	assert.ErrorIs(t, s.Step(), ErrNotInitialized)
	_, err = s.InitParticles(3)
	assert.ErrorIs(t, err, ErrNotInitialized)

	require.NoError(t, s.Initialize(testutil.FilledBox(), nil))
	assert.ErrorIs(t, s.Initialize(testutil.FilledBox(), nil), ErrAlreadyInitialized)
	assert.NoError(t, s.Run(context.Background(), 3))
	assert.Equal(t, 3, s.Stats().Step)
}

func TestRun_StopsOnCancelledContext(t *testing.T) {
	s := mustSolver(t, newTestConfig2D(8), testutil.FilledBox())
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	err := s.Run(ctx, 10)

	assert.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, 0, s.Stats().Step)
}

func TestInitialize_RasterisesPool(t *testing.T) {
	// GIVEN an 8x8 pool filled to half height
	s := mustSolver(t, newTestConfig2D(8), testutil.Pool(0.5))
	set := s.CurrentSet(0)

	// THEN the halo is wall, rows 1-3 fluid, row 4 interface, rows 5-8 gas
	assert.True(t, s.Flag(0, 0, 3, 0, set).IsBoundary())
	assert.True(t, s.Flag(0, 9, 3, 0, set).IsBoundary())
	for i := 1; i <= 8; i++ {
		assert.True(t, s.Flag(0, i, 3, 0, set).IsFluid(), "(%d,3)", i)
		assert.True(t, s.Flag(0, i, 4, 0, set).IsInterface(), "(%d,4)", i)
		assert.True(t, s.Flag(0, i, 5, 0, set).IsEmpty(), "(%d,5)", i)
	}
	assert.InDelta(t, 0.5, s.Mass(0, 2, 4, 0, set), 1e-15)
	assert.InDelta(t, 0.5, s.Fill(0, 2, 4, 0, set), 1e-15)
	assert.InDelta(t, 1.0, s.Density(0, 2, 2, 0, set), 1e-12)

	// AND the initial mass is 8*3 fluid cells plus 8 half cells
	testutil.AssertFloat64Equal(t, "initial mass", 28, s.Stats().InitialMass, 1e-12)
}

func TestSetLevelParameters_ScalesPerLevel(t *testing.T) {
	cfg := withGravity(newTestConfig2D(16), 1e-4)
	cfg.Refinement.MaxLevel = 1
	s := mustSolver(t, cfg, testutil.Pool(0.5))

	fine, coarse := s.levels[1], s.levels[0]
	assert.InDelta(t, 1.25, fine.omega, 1e-12)
	assert.InDelta(t, 2*fine.timestep, coarse.timestep, 1e-15)

	// tau_c = (tau_f - 0.5)/2 + 0.5
	tauF, tauC := 1/fine.omega, 1/coarse.omega
	assert.InDelta(t, (tauF-0.5)/2+0.5, tauC, 1e-12)
	assert.InDelta(t, 2*fine.gravity.Y, coarse.gravity.Y, 1e-15)
	assert.InDelta(t, -1e-4, fine.gravity.Y, 1e-15)
}

func TestClosedBoxAtRest_StaysAtRest(t *testing.T) {
	// GIVEN a completely filled box without gravity
	s := mustSolver(t, newTestConfig2D(8), testutil.FilledBox())

	// WHEN stepping
	stepN(t, s, 50)

	// THEN density and velocity stay at rest everywhere
	set := s.CurrentSet(0)
	for it := s.FirstCell(); !it.AtEnd(); it.Advance() {
		i, j, k := it.Pos()
		assert.InDelta(t, 1.0, s.Density(0, i, j, k, set), 1e-12)
		assert.InDelta(t, 0.0, r3.Norm(s.Velocity(0, i, j, k, set)), 1e-12)
	}
	assert.Zero(t, s.Stats().Filled)
	assert.Zero(t, s.Stats().Emptied)
}

func TestStep_ConservesMassWithFreeSurface(t *testing.T) {
	tests := []struct {
		name  string
		build func() Config
		scene *geometry.Scene
	}{
		{"pool under gravity", func() Config { return withGravity(newTestConfig2D(16), 2e-4) }, testutil.Pool(0.5)},
		{"collapsing column", func() Config { return withGravity(newTestConfig2D(16), 2e-4) }, testutil.Column(0.75)},
		{"column 3D", func() Config {
			cfg := withGravity(newTestConfig2D(8), 2e-4)
			cfg.Domain.Dimensions = 3
			cfg.Domain.Resolution = [3]int{8, 8, 8}
			return cfg
		}, testutil.Column(0.75)},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := mustSolver(t, tt.build(), tt.scene)
			m0, _ := s.MeasureMass()

			stepN(t, s, 60)

			m1, _ := s.MeasureMass()
			testutil.AssertFloat64Equal(t, "mass", m0, m1, 1e-9)
			assert.InDelta(t, 0, s.Stats().MassDrift(), 1e-6)
		})
	}
}

func TestStep_KeepsFlagInvariants(t *testing.T) {
	// GIVEN a collapsing column, which fills and empties many cells
	s := mustSolver(t, withGravity(newTestConfig2D(16), 5e-4), testutil.Column(0.75))
	L := s.levels[0]
	changes := 0

	for n := 0; n < 80; n++ {
		require.NoError(t, s.Step())
		changes += s.Stats().Filled + s.Stats().Emptied
		set := L.Current()

		// THEN every flag is well formed and no fluid cell touches gas
		s.forInner(L, func(idx int) {
			f := L.Flag(set, idx)
			require.NoError(t, cell.Validate(f))
			if f&cell.Fluid == 0 {
				return
			}
			for l := 1; l < s.model.Q; l++ {
				nf := L.Flag(set, L.Neighbor(idx, l))
				i, j, _ := L.Coords(idx)
				require.False(t, nf.IsEmpty(), "step %d: fluid (%d,%d) next to gas", n, i, j)
			}
		})
	}
	assert.Positive(t, changes, "the column should move the surface")
}

func TestEnclosedColumn_NoGravity_StaysAtRest(t *testing.T) {
	// GIVEN a fluid column in a closed no-slip box without gravity
	cfg := newTestConfig2D(16)
	cfg.Domain.Boundary = BoundaryNoSlip
	s := mustSolver(t, cfg, testutil.Column(0.75))
	L := s.levels[0]
	m0, v0 := s.MeasureMass()

	for n := 0; n < 60; n++ {
		require.NoError(t, s.Step())

		// THEN no cell ever empties and nothing starts to move
		require.Zero(t, s.Stats().Emptied, "step %d", n)
		set := L.Current()
		s.forInner(L, func(idx int) {
			f := L.Flag(set, idx)
			if f&cell.FluidOrInter == 0 {
				return
			}
			_, u := s.model.Moments(L.DFs(set, idx))
			i, j, _ := L.Coords(idx)
			require.InDelta(t, 0.0, r3.Norm(u), 1e-12, "step %d (%d,%d)", n, i, j)
		})
	}
	m1, v1 := s.MeasureMass()
	assert.InDelta(t, m0, m1, 1e-9)
	assert.InDelta(t, v0, v1, 1e-9)
	assert.Zero(t, s.Stats().Filled)
}

func TestInterfacePromotion_LoneCellGrowsThroughInterface(t *testing.T) {
	// GIVEN a single fluid cell at (4,4) in a gas-filled box
	sc := &geometry.Scene{
		DomainMin: testutil.UnitDomain[0],
		DomainMax: testutil.UnitDomain[1],
		Shapes: []geometry.Shape{
			geometry.Box("seed", geometry.KindFluid, r3.Vec{X: 3.5 / 8, Y: 3.5 / 8, Z: -1}, r3.Vec{X: 0.5, Y: 0.5, Z: 2}),
		},
	}
	s := mustSolver(t, newTestConfig2D(8), sc)
	L := s.levels[0]
	centre := idx2(s, 0, 4, 4)
	require.True(t, L.Flag(L.Current(), centre).IsInterface())
	require.True(t, L.Flag(L.Current(), idx2(s, 0, 5, 4)).IsEmpty())

	// WHEN mass is injected into it
	L.SetMass(L.Current(), centre, 1.5)
	prev := make([]cell.Flag, L.Len())
	s.forInner(L, func(idx int) { prev[idx] = L.Flag(L.Current(), idx) })

	for n := 0; n < 10; n++ {
		require.NoError(t, s.Step())
		set := L.Current()

		// THEN gas never turns into fluid without passing through interface
		s.forInner(L, func(idx int) {
			f := L.Flag(set, idx)
			i, j, _ := L.Coords(idx)
			require.False(t, prev[idx].IsEmpty() && f.IsFluid(), "step %d: (%d,%d) went from gas to fluid", n, i, j)
			prev[idx] = f
		})

		// AND after the first step the cell is full and its Von Neumann
		// neighbours are fresh interface cells
		if n == 0 {
			assert.True(t, L.Flag(set, centre).IsFluid())
			for _, nb := range [][2]int{{5, 4}, {3, 4}, {4, 5}, {4, 3}} {
				f := L.Flag(set, idx2(s, 0, nb[0], nb[1]))
				assert.True(t, f.IsInterface(), "(%d,%d) %v", nb[0], nb[1], f)
				assert.True(t, f.Has(cell.NoDelete), "(%d,%d) %v", nb[0], nb[1], f)
			}
			assert.Equal(t, 1, s.Stats().Filled)
			m, _ := s.MeasureMass()
			assert.InDelta(t, 1.5, m, 1e-12)
		}
	}
}

func TestStep_NonFiniteStateRaisesPanicSignal(t *testing.T) {
	s := mustSolver(t, newTestConfig2D(8), testutil.FilledBox())
	L := s.levels[0]
	L.SetDF(L.Current(), idx2(s, 0, 4, 4), 3, math.NaN())
	require.False(t, s.Panicked())
	require.Empty(t, s.PanicReason())

	err := s.Step()

	require.ErrorIs(t, err, ErrSimulationPanic)
	assert.Contains(t, err.Error(), "non-finite")
	assert.True(t, s.Panicked())
	assert.Contains(t, s.PanicReason(), "non-finite fluid cell")
	assert.Contains(t, err.Error(), s.PanicReason())
	assert.ErrorIs(t, s.Step(), ErrSimulationPanic, "the signal is sticky")
	assert.True(t, s.Panicked())
}

func TestStep_ParallelNonFiniteStateRaisesPanicSignal(t *testing.T) {
	// GIVEN a four-worker solver with a NaN in the last slab
	cfg := newTestConfig2D(16)
	cfg.Parallel.Workers = 4
	s := mustSolver(t, cfg, testutil.FilledBox())
	L := s.levels[0]
	L.SetDF(L.Current(), idx2(s, 0, 8, 14), 0, math.NaN())

	// WHEN it steps
	err := s.Step()

	// THEN the worker error surfaces as the panic signal
	require.ErrorIs(t, err, ErrSimulationPanic)
	assert.True(t, s.Panicked())
	assert.Contains(t, s.PanicReason(), "(8,14,0)")
}

func TestParallelKernel_MatchesSerial(t *testing.T) {
	build := func(workers int) *Solver {
		cfg := withGravity(newTestConfig2D(32), 3e-4)
		cfg.Parallel.Workers = workers
		return mustSolver(t, cfg, testutil.Column(0.6))
	}
	serial, parallel := build(1), build(4)
	require.Len(t, parallel.results, 4)

	stepN(t, serial, 40)
	stepN(t, parallel, 40)

	a, b := serial.levels[0], parallel.levels[0]
	require.Equal(t, a.Current(), b.Current())
	set := a.Current()
	serial.forInner(a, func(idx int) {
		require.Equal(t, a.Flag(set, idx), b.Flag(set, idx))
		require.Equal(t, a.Content(set, idx), b.Content(set, idx))
	})
	assert.Equal(t, serial.Stats().Filled, parallel.Stats().Filled)
}

func TestSample_ReturnsWorldVelocity(t *testing.T) {
	s := mustSolver(t, newTestConfig2D(8), testutil.Pool(0.5))
	L := s.levels[0]
	u := r3.Vec{X: 0.01}
	s.model.EquilibriumAll(1, u, L.DFs(L.Current(), idx2(s, 0, 3, 2)))

	got, inFluid, inside := s.Sample(r3.Vec{X: 2.5 / 8, Y: 1.5 / 8, Z: 0.5})

	assert.True(t, inside)
	assert.True(t, inFluid)
	conv := L.cellSize / L.timestep
	assert.InDelta(t, 0.01*conv, got.X, 1e-9)

	_, inFluid, inside = s.Sample(r3.Vec{X: 0.5, Y: 0.9, Z: 0.5})
	assert.True(t, inside)
	assert.False(t, inFluid)
	_, _, inside = s.Sample(r3.Vec{X: 2})
	assert.False(t, inside)
}

func TestInitParticles_SeedsTracersInFluid(t *testing.T) {
	s := mustSolver(t, newTestConfig2D(16), testutil.Pool(0.5))

	placed, err := s.InitParticles(20)

	require.NoError(t, err)
	assert.Equal(t, 20, placed)
	for _, p := range s.Particles().Particles() {
		assert.LessOrEqual(t, p.Pos.Y, 0.5+1.0/16)
	}
	s.AdvanceParticles()
	assert.Equal(t, 20, s.Particles().Len(), "tracers in a resting pool stay alive")
}

func TestMovingWall_DrivesFlow(t *testing.T) {
	// GIVEN a filled box whose top row is a lid moving along +x
	sc := testutil.FilledBox()
	sc.Shapes = append(sc.Shapes, geometry.Box("lid", geometry.KindObstacle,
		r3.Vec{X: -1, Y: 15.0 / 16, Z: -1}, r3.Vec{X: 2, Y: 2, Z: 2}).WithObject(0))
	dx := 1.0 / 16
	cfg := newTestConfig2D(16)
	obj := MovingObject{Name: "lid", Velocity: r3.Vec{X: 0.05 * dx / cfg.Physics.Timestep}}
	s := mustSolver(t, cfg, sc, obj)
	assert.InDelta(t, 0.05, s.objectSpeeds[0].X, 1e-12)

	stepN(t, s, 30)

	// THEN fluid right below the lid moves with it
	require.True(t, s.Flag(0, 8, 16, 0, s.CurrentSet(0)).Has(cell.BndMoving))
	u := s.Velocity(0, 8, 15, 0, s.CurrentSet(0))
	assert.Greater(t, u.X, 1e-3)
}

func TestObjectRamp(t *testing.T) {
	o := MovingObject{Velocity: r3.Vec{X: 2}, Ramp: 1}
	assert.InDelta(t, 1.0, o.velocityAt(0.5).X, 1e-15)
	assert.InDelta(t, 2.0, o.velocityAt(3).X, 1e-15)
	o.Ramp = 0
	assert.InDelta(t, 2.0, o.velocityAt(0).X, 1e-15)
}

func TestEquilibriumIsFixedPointOfCollision(t *testing.T) {
	s := mustSolver(t, newTestConfig2D(8), testutil.FilledBox())
	L := s.levels[0]
	var feq, out [lattice.MaxQ]float64
	q := s.model.Q
	s.model.EquilibriumAll(1.02, r3.Vec{X: 0.03, Y: -0.01}, feq[:q])

	s.relax(L, feq[:q], feq[:q], out[:q])

	for l := 0; l < q; l++ {
		assert.InDelta(t, feq[l], out[l], 1e-15)
	}
}

func TestStep_ErrorWrapsReason(t *testing.T) {
	s := mustSolver(t, newTestConfig2D(8), testutil.FilledBox())
	s.panicReason = "boom"
	err := s.Step()
	assert.True(t, errors.Is(err, ErrSimulationPanic))
	assert.Contains(t, err.Error(), "boom")
}
