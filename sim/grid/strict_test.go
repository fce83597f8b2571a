//go:build lbmstrict

package grid

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lbm-sim/lbm-sim/sim/cell"
	"github.com/lbm-sim/lbm-sim/sim/lattice"
)

func TestStrict_IndexOutOfRangePanics(t *testing.T) {
	l, err := New(lattice.D3Q19, [3]int{4, 4, 4})
	require.NoError(t, err)
	assert.Panics(t, func() { l.Index(4, 0, 0) })
	assert.Panics(t, func() { l.Index(0, -1, 0) })
}

func TestStrict_InvalidFlagPanics(t *testing.T) {
	l, err := New(lattice.D3Q19, [3]int{4, 4, 4})
	require.NoError(t, err)
	assert.Panics(t, func() { l.SetFlag(0, 0, cell.Fluid|cell.Empty) })
}
