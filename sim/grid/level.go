// Package grid stores the per-level cell arrays of the solver: two flag
// buffers and two content buffers (ping-pong sets) addressed by linear offsets.
//
// Content per cell is Q distribution functions followed by three auxiliary
// scalars: fill fraction, mass, and flux weight. Memory is reserved once by New;
// no accessor allocates.
package grid

import (
	"fmt"

	"github.com/lbm-sim/lbm-sim/sim/cell"
	"github.com/lbm-sim/lbm-sim/sim/lattice"
)

// Auxiliary content slots, relative to the last distribution function.
const (
	slotFill = iota
	slotMass
	slotFlux
	numAux
)

// Level is the storage of one grid resolution.
type Level struct {
	Model *lattice.Model
	Size  [3]int // extents including the one-cell halo (Size[2] == 1 in 2D)

	q       int
	stride  int // float64 values per cell
	strideY int
	strideZ int
	nbOff   []int // linear offset of each lattice direction

	flags [2][]cell.Flag
	cells [2][]float64
	cur   int
}

// New allocates a level of the given extents. Every extent (except z in 2D)
// must leave at least one inner cell inside the halo.
func New(model *lattice.Model, size [3]int) (*Level, error) {
	if model.Dim == 2 {
		size[2] = 1
	}
	for a := 0; a < model.Dim; a++ {
		if size[a] < 3 {
			return nil, fmt.Errorf("level extent %d along axis %d leaves no inner cells", size[a], a)
		}
	}
	l := &Level{
		Model:   model,
		Size:    size,
		q:       model.Q,
		stride:  model.Q + numAux,
		strideY: size[0],
		strideZ: size[0] * size[1],
		nbOff:   make([]int, model.Q),
	}
	for d, e := range model.E {
		l.nbOff[d] = e[0] + e[1]*l.strideY + e[2]*l.strideZ
	}
	n := l.Len()
	for s := 0; s < 2; s++ {
		l.flags[s] = make([]cell.Flag, n)
		l.cells[s] = make([]float64, n*l.stride)
	}
	return l, nil
}

// Len is the number of cells including the halo.
func (l *Level) Len() int { return l.Size[0] * l.Size[1] * l.Size[2] }

// Index returns the linear cell offset of (i, j, k).
func (l *Level) Index(i, j, k int) int {
	idx := i + j*l.strideY + k*l.strideZ
	if cell.Strict {
		l.checkIndex(i, j, k, idx)
	}
	return idx
}

// checkIndex recomputes the offset independently of the cached strides and
// panics on any mismatch or out-of-range coordinate.
func (l *Level) checkIndex(i, j, k, idx int) {
	if !l.InBounds(i, j, k) {
		panic(fmt.Sprintf("cell (%d,%d,%d) outside level of size %v", i, j, k, l.Size))
	}
	ref := (k*l.Size[1]+j)*l.Size[0] + i
	if ref != idx {
		panic(fmt.Sprintf("cell (%d,%d,%d): index %d, reference %d", i, j, k, idx, ref))
	}
}

// InBounds reports whether (i, j, k) addresses a cell of this level.
func (l *Level) InBounds(i, j, k int) bool {
	return i >= 0 && j >= 0 && k >= 0 && i < l.Size[0] && j < l.Size[1] && k < l.Size[2]
}

// Coords is the inverse of Index.
func (l *Level) Coords(idx int) (i, j, k int) {
	k = idx / l.strideZ
	rem := idx - k*l.strideZ
	j = rem / l.strideY
	i = rem - j*l.strideY
	return i, j, k
}

// InnerRange returns the half-open inner range along axis a (halo excluded).
func (l *Level) InnerRange(a int) (lo, hi int) {
	if a == 2 && l.Model.Dim == 2 {
		return 0, 1
	}
	return 1, l.Size[a] - 1
}

// Neighbor returns the offset of the cell one step along direction dir.
func (l *Level) Neighbor(idx, dir int) int {
	n := idx + l.nbOff[dir]
	if cell.Strict && (n < 0 || n >= l.Len()) {
		panic(fmt.Sprintf("neighbour %d of cell %d along %d outside level", n, idx, dir))
	}
	return n
}

// NeighborInv returns the offset of the cell one step against direction dir,
// i.e. the cell streaming into idx along dir.
func (l *Level) NeighborInv(idx, dir int) int {
	n := idx - l.nbOff[dir]
	if cell.Strict && (n < 0 || n >= l.Len()) {
		panic(fmt.Sprintf("neighbour %d of cell %d against %d outside level", n, idx, dir))
	}
	return n
}

// Current is the index (0 or 1) of the buffer set holding the latest state.
func (l *Level) Current() int { return l.cur }

// Other is the buffer set that is not current.
func (l *Level) Other() int { return l.cur ^ 1 }

// Swap makes the other set current.
func (l *Level) Swap() { l.cur ^= 1 }

// Flags exposes a whole flag buffer for tight loops.
func (l *Level) Flags(set int) []cell.Flag { return l.flags[set] }

// Flag reads the flag of cell idx in set.
func (l *Level) Flag(set, idx int) cell.Flag { return l.flags[set][idx] }

// SetFlag writes the flag of cell idx in set.
func (l *Level) SetFlag(set, idx int, f cell.Flag) {
	if cell.Strict {
		if err := cell.Validate(f); err != nil {
			i, j, k := l.Coords(idx)
			panic(fmt.Sprintf("cell (%d,%d,%d): %v", i, j, k, err))
		}
	}
	l.flags[set][idx] = f
}

// SetFlagBoth writes the same flag into both sets.
func (l *Level) SetFlagBoth(idx int, f cell.Flag) {
	l.SetFlag(0, idx, f)
	l.SetFlag(1, idx, f)
}

// Content returns the Q+3 content values of cell idx as a sub-slice.
func (l *Level) Content(set, idx int) []float64 {
	o := idx * l.stride
	return l.cells[set][o : o+l.stride : o+l.stride]
}

// DFs returns only the distribution functions of cell idx.
func (l *Level) DFs(set, idx int) []float64 {
	o := idx * l.stride
	return l.cells[set][o : o+l.q : o+l.q]
}

// DF reads distribution function dir of cell idx.
func (l *Level) DF(set, idx, dir int) float64 { return l.cells[set][idx*l.stride+dir] }

// SetDF writes distribution function dir of cell idx.
func (l *Level) SetDF(set, idx, dir int, v float64) { l.cells[set][idx*l.stride+dir] = v }

// NeighborDF reads distribution function dir of the neighbour of idx along nbDir.
func (l *Level) NeighborDF(set, idx, nbDir, dir int) float64 {
	return l.cells[set][l.Neighbor(idx, nbDir)*l.stride+dir]
}

// Fill reads the fill fraction of cell idx.
func (l *Level) Fill(set, idx int) float64 { return l.cells[set][idx*l.stride+l.q+slotFill] }

// SetFill writes the fill fraction of cell idx.
func (l *Level) SetFill(set, idx int, v float64) { l.cells[set][idx*l.stride+l.q+slotFill] = v }

// Mass reads the mass of cell idx.
func (l *Level) Mass(set, idx int) float64 { return l.cells[set][idx*l.stride+l.q+slotMass] }

// SetMass writes the mass of cell idx.
func (l *Level) SetMass(set, idx int, v float64) { l.cells[set][idx*l.stride+l.q+slotMass] = v }

// Flux reads the flux weight of cell idx.
func (l *Level) Flux(set, idx int) float64 { return l.cells[set][idx*l.stride+l.q+slotFlux] }

// SetFlux writes the flux weight of cell idx.
func (l *Level) SetFlux(set, idx int, v float64) { l.cells[set][idx*l.stride+l.q+slotFlux] = v }

// CopyCell copies flag and content of cell idx from set src to set dst.
func (l *Level) CopyCell(src, dst, idx int) {
	l.flags[dst][idx] = l.flags[src][idx]
	o := idx * l.stride
	copy(l.cells[dst][o:o+l.stride], l.cells[src][o:o+l.stride])
}
