package sim

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gonum.org/v1/gonum/spatial/r3"

	"github.com/lbm-sim/lbm-sim/sim/cell"
	"github.com/lbm-sim/lbm-sim/sim/internal/testutil"
)

func TestLevelDue(t *testing.T) {
	cfg := newTestConfig2D(16)
	cfg.Refinement.MaxLevel = 2
	s := mustSolver(t, cfg, testutil.Pool(0.5))

	tests := []struct {
		step int
		want [3]bool
	}{
		{0, [3]bool{true, true, true}},
		{1, [3]bool{false, false, true}},
		{2, [3]bool{false, true, true}},
		{3, [3]bool{false, false, true}},
		{4, [3]bool{true, true, true}},
	}
	for _, tt := range tests {
		s.stepCount = tt.step
		for lev := 0; lev < 3; lev++ {
			assert.Equal(t, tt.want[lev], s.levelDue(lev), "step %d level %d", tt.step, lev)
		}
	}
}

func TestCellWeight(t *testing.T) {
	cfg := newTestConfig2D(16)
	cfg.Refinement.MaxLevel = 1
	cfg.Refinement.Margin = 1
	s := mustSolver(t, cfg, testutil.Pool(0.5))
	C := s.levels[0]
	set := C.Current()

	assert.InDelta(t, 1.0, s.cellWeight(s.levels[1], s.CurrentSet(1), idx2(s, 1, 7, 7)), 0)
	assert.InDelta(t, 4.0, s.cellWeight(C, set, C.Index(4, 2, 0)), 1e-15)
	assert.InDelta(t, 4*0.7, s.cellWeight(C, set, C.Index(4, 3, 0)), 1e-12)
}

func TestSurfaceNormal_PointsIntoGas(t *testing.T) {
	s := mustSolver(t, newTestConfig2D(8), testutil.Pool(0.5))
	L := s.levels[0]

	n := s.surfaceNormal(L, L.Current(), idx2(s, 0, 4, 4))

	assert.InDelta(t, 0, n.X, 1e-15)
	assert.InDelta(t, 0.5, n.Y, 1e-15)
}

func TestFreeSlipDF_MirrorsAtFlatWall(t *testing.T) {
	// GIVEN a free-slip box with a distinct value in the south-east
	// population of the cell right of the target
	cfg := newTestConfig2D(8)
	cfg.Domain.Boundary = BoundaryFreeSlip
	s := mustSolver(t, cfg, testutil.FilledBox())
	L := s.levels[0]
	set := L.Current()
	m := s.model
	ne, se := m.Dir([3]int{1, 1, 0}), m.Dir([3]int{1, -1, 0})
	L.SetDF(set, idx2(s, 0, 2, 1), se, 0.123)

	// WHEN cell (3,1) on the bottom row needs f_NE, which streams from the wall
	idx := idx2(s, 0, 3, 1)
	sIdx := L.NeighborInv(idx, ne)
	require.True(t, L.Flag(set, sIdx).Has(cell.BndFreeSlip))
	got := s.boundaryDF(L, set, idx, ne, sIdx, L.Flag(set, sIdx))

	// THEN it is the specular reflection of f_SE leaving (2,1)
	assert.InDelta(t, 0.123, got, 0)
}

func TestBoundaryDF_NoSlipBouncesBack(t *testing.T) {
	s := mustSolver(t, newTestConfig2D(8), testutil.FilledBox())
	L := s.levels[0]
	set := L.Current()
	m := s.model
	n, south := m.Dir([3]int{0, 1, 0}), m.Dir([3]int{0, -1, 0})
	idx := idx2(s, 0, 3, 1)
	L.SetDF(set, idx, south, 0.321)

	got := s.boundaryDF(L, set, idx, n, L.NeighborInv(idx, n), L.Flag(set, L.NeighborInv(idx, n)))

	assert.InDelta(t, 0.321, got, 0)
}

func TestBoundaryDF_PartSlipBlends(t *testing.T) {
	cfg := newTestConfig2D(8)
	cfg.Domain.Boundary = BoundaryPartSlip
	cfg.Domain.SlipCoefficient = 0.25
	s := mustSolver(t, cfg, testutil.FilledBox())
	L := s.levels[0]
	set := L.Current()
	m := s.model
	ne, se, sw := m.Dir([3]int{1, 1, 0}), m.Dir([3]int{1, -1, 0}), m.Dir([3]int{-1, -1, 0})
	idx := idx2(s, 0, 3, 1)
	L.SetDF(set, idx2(s, 0, 2, 1), se, 0.2)
	L.SetDF(set, idx, sw, 0.1)
	sIdx := L.NeighborInv(idx, ne)

	got := s.boundaryDF(L, set, idx, ne, sIdx, L.Flag(set, sIdx))

	assert.InDelta(t, 0.25*0.2+0.75*0.1, got, 1e-15)
}

func TestCollideStream_CountsUpdatedCells(t *testing.T) {
	s := mustSolver(t, newTestConfig2D(8), testutil.Pool(0.5))

	stepN(t, s, 1)

	// three fluid rows and one interface row
	assert.Equal(t, 32, s.Stats().CellsUsed)
	assert.InDelta(t, 28, s.Stats().Mass, 1e-12)
	assert.InDelta(t, 28, s.Stats().Volume, 1e-12)
}

func TestCollideStream_GravityAcceleratesFluid(t *testing.T) {
	s := mustSolver(t, withGravity(newTestConfig2D(8), 1e-4), testutil.Pool(0.5))

	stepN(t, s, 1)

	u := s.Velocity(0, 4, 2, 0, s.CurrentSet(0))
	assert.Less(t, u.Y, 0.0)
	assert.InDelta(t, 0, u.X, 1e-15)
	assert.Greater(t, s.Stats().MaxVelocity, 0.0)
}

func TestDropEmission_IsDeterministicAndAccounted(t *testing.T) {
	build := func() *Solver {
		cfg := withGravity(newTestConfig2D(32), 1e-3)
		cfg.Particles.GenerationProbability = 1
		cfg.Physics.MaxLatticeVelocity = 0.02
		return mustSolver(t, cfg, testutil.Drop(0.25, r3.Vec{X: 0.5, Y: 0.6, Z: 0.5}, 0.12))
	}
	a, b := build(), build()

	stepN(t, a, 40)
	stepN(t, b, 40)

	assert.Equal(t, a.Particles().Born(), b.Particles().Born())
	assert.Equal(t, a.Stats().ParticleMass, b.Stats().ParticleMass)
	if a.Stats().ParticleMass > 0 {
		assert.Positive(t, a.Particles().Born())
	}
}
