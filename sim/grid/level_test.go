package grid

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lbm-sim/lbm-sim/sim/cell"
	"github.com/lbm-sim/lbm-sim/sim/lattice"
)

func TestNew_RejectsTooSmall(t *testing.T) {
	_, err := New(lattice.D3Q19, [3]int{2, 5, 5})
	assert.Error(t, err)
}

func TestNew_2DForcesFlatZ(t *testing.T) {
	l, err := New(lattice.D2Q9, [3]int{6, 5, 9})
	require.NoError(t, err)
	assert.Equal(t, [3]int{6, 5, 1}, l.Size)
	lo, hi := l.InnerRange(2)
	assert.Equal(t, 0, lo)
	assert.Equal(t, 1, hi)
}

func TestIndexCoordsRoundTrip(t *testing.T) {
	l, err := New(lattice.D3Q19, [3]int{5, 6, 7})
	require.NoError(t, err)
	for k := 0; k < 7; k++ {
		for j := 0; j < 6; j++ {
			for i := 0; i < 5; i++ {
				idx := l.Index(i, j, k)
				gi, gj, gk := l.Coords(idx)
				require.Equal(t, [3]int{i, j, k}, [3]int{gi, gj, gk})
			}
		}
	}
	assert.Equal(t, 5*6*7, l.Len())
}

func TestNeighbor_MatchesDirectionVectors(t *testing.T) {
	for _, m := range []*lattice.Model{lattice.D2Q9, lattice.D3Q19} {
		t.Run(m.Name, func(t *testing.T) {
			l, err := New(m, [3]int{5, 5, 5})
			require.NoError(t, err)
			k := 2
			if m.Dim == 2 {
				k = 0
			}
			idx := l.Index(2, 2, k)
			for d, e := range m.E {
				want := l.Index(2+e[0], 2+e[1], k+e[2])
				assert.Equal(t, want, l.Neighbor(idx, d))
				assert.Equal(t, idx, l.NeighborInv(want, d))
			}
		})
	}
}

func TestSwap_PingPong(t *testing.T) {
	l, err := New(lattice.D2Q9, [3]int{4, 4, 1})
	require.NoError(t, err)
	assert.Equal(t, 0, l.Current())
	assert.Equal(t, 1, l.Other())
	l.Swap()
	assert.Equal(t, 1, l.Current())
	assert.Equal(t, 0, l.Other())
	l.Swap()
	assert.Equal(t, 0, l.Current())
}

func TestContentAccessors(t *testing.T) {
	l, err := New(lattice.D3Q19, [3]int{4, 4, 4})
	require.NoError(t, err)
	idx := l.Index(1, 2, 1)

	l.SetDF(1, idx, 3, 0.25)
	l.SetFill(1, idx, 0.5)
	l.SetMass(1, idx, 0.4)
	l.SetFlux(1, idx, 0.75)
	l.SetFlag(1, idx, cell.Interface|cell.GridNormal)

	assert.Equal(t, 0.25, l.DF(1, idx, 3))
	assert.Equal(t, 0.0, l.DF(0, idx, 3), "sets are independent")
	assert.Equal(t, 0.5, l.Fill(1, idx))
	assert.Equal(t, 0.4, l.Mass(1, idx))
	assert.Equal(t, 0.75, l.Flux(1, idx))

	c := l.Content(1, idx)
	require.Len(t, c, 19+3)
	assert.Equal(t, 0.25, c[3])
	assert.Len(t, l.DFs(1, idx), 19)

	l.CopyCell(1, 0, idx)
	assert.Equal(t, cell.Interface|cell.GridNormal, l.Flag(0, idx))
	assert.Equal(t, 0.4, l.Mass(0, idx))

	nb := l.Neighbor(idx, 3)
	l.SetDF(0, nb, 4, 0.125)
	assert.Equal(t, 0.125, l.NeighborDF(0, idx, 3, 4))
}
