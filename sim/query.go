package sim

import (
	"fmt"

	"gonum.org/v1/gonum/spatial/r3"

	"github.com/lbm-sim/lbm-sim/sim/cell"
)

// Levels is the number of grid levels; level Levels()-1 is the finest.
func (s *Solver) Levels() int { return len(s.levels) }

// FinestLevel is the index of the finest level.
func (s *Solver) FinestLevel() int { return s.finest }

// LevelSize returns the extents of a level including the halo.
func (s *Solver) LevelSize(lev int) [3]int { return s.levels[lev].Size }

// CurrentSet is the buffer set holding the latest state of a level.
func (s *Solver) CurrentSet(lev int) int { return s.levels[lev].Current() }

// LevelTimestep is the step length of a level in seconds.
func (s *Solver) LevelTimestep(lev int) float64 { return s.levels[lev].timestep }

// LevelOmega is the BGK relaxation parameter of a level.
func (s *Solver) LevelOmega(lev int) float64 { return s.levels[lev].omega }

func (s *Solver) locate(lev, i, j, k int) (*levelState, int) {
	L := s.levels[lev]
	if !L.InBounds(i, j, k) {
		panic(fmt.Sprintf("cell (%d,%d,%d) outside level %d of size %v", i, j, k, lev, L.Size))
	}
	return L, L.Index(i, j, k)
}

// Flag returns the flag of a cell in the given set.
func (s *Solver) Flag(lev, i, j, k, set int) cell.Flag {
	L, idx := s.locate(lev, i, j, k)
	return L.Flag(set, idx)
}

// DF returns distribution function l of a cell.
func (s *Solver) DF(lev, i, j, k, set, l int) float64 {
	L, idx := s.locate(lev, i, j, k)
	return L.DF(set, idx, l)
}

// Density is the zeroth moment of a cell's distributions.
func (s *Solver) Density(lev, i, j, k, set int) float64 {
	L, idx := s.locate(lev, i, j, k)
	rho, _ := s.model.Moments(L.DFs(set, idx))
	return rho
}

// Velocity is the lattice velocity (momentum density) of a cell.
func (s *Solver) Velocity(lev, i, j, k, set int) r3.Vec {
	L, idx := s.locate(lev, i, j, k)
	_, u := s.model.Moments(L.DFs(set, idx))
	return u
}

// Mass returns the mass slot of a cell.
func (s *Solver) Mass(lev, i, j, k, set int) float64 {
	L, idx := s.locate(lev, i, j, k)
	return L.Mass(set, idx)
}

// Fill returns the fill fraction of a cell: 1 for fluid, the stored fraction
// for interface cells and 0 otherwise.
func (s *Solver) Fill(lev, i, j, k, set int) float64 {
	L, idx := s.locate(lev, i, j, k)
	f := L.Flag(set, idx)
	switch {
	case f&cell.Fluid != 0:
		return 1
	case f&cell.Interface != 0:
		return L.Fill(set, idx)
	}
	return 0
}

// CellIterator walks the inner cells of the finest level in memory order.
type CellIterator struct {
	L       *levelState
	i, j, k int
	done    bool
}

// FirstCell returns an iterator positioned at the first inner cell of the
// finest level.
func (s *Solver) FirstCell() *CellIterator {
	L := s.levels[s.finest]
	it := &CellIterator{L: L}
	it.i, _ = L.InnerRange(0)
	it.j, _ = L.InnerRange(1)
	it.k, _ = L.InnerRange(2)
	return it
}

// Advance moves to the next inner cell.
func (it *CellIterator) Advance() {
	if it.done {
		return
	}
	_, ihi := it.L.InnerRange(0)
	jlo, jhi := it.L.InnerRange(1)
	ilo, _ := it.L.InnerRange(0)
	_, khi := it.L.InnerRange(2)
	it.i++
	if it.i < ihi {
		return
	}
	it.i = ilo
	it.j++
	if it.j < jhi {
		return
	}
	it.j = jlo
	it.k++
	if it.k >= khi {
		it.done = true
	}
}

// AtEnd reports whether every inner cell has been visited.
func (it *CellIterator) AtEnd() bool { return it.done }

// Pos returns the coordinates of the current cell.
func (it *CellIterator) Pos() (i, j, k int) { return it.i, it.j, it.k }

// PreviewFill averages the fill of the finest-level grid over blocks of
// factor^D cells and returns the values in x-fastest order with their
// extents. Cells the finest level does not simulate take the fill of the
// coarser cell covering them. Factor 0 uses the configured preview
// downsampling.
func (s *Solver) PreviewFill(factor int) ([]float64, [3]int) {
	if factor <= 0 {
		factor = max(1, s.cfg.Domain.PreviewDownsample)
	}
	L := s.levels[s.finest]
	var n [3]int
	for a := 0; a < 3; a++ {
		lo, hi := L.InnerRange(a)
		if a >= s.model.Dim {
			n[a] = 1
			continue
		}
		n[a] = (hi - lo + factor - 1) / factor
	}
	out := make([]float64, n[0]*n[1]*n[2])
	count := make([]int, len(out))
	s.forInner(L, func(idx int) {
		i, j, k := L.Coords(idx)
		pi, pj, pk := (i-1)/factor, (j-1)/factor, 0
		if s.model.Dim == 3 {
			pk = (k - 1) / factor
		}
		p := pi + n[0]*(pj+n[1]*pk)
		count[p]++
		out[p] += s.fillAt(i, j, k)
	})
	for p := range out {
		if count[p] > 0 {
			out[p] /= float64(count[p])
		}
	}
	return out, n
}

// fillAt is the fill of finest cell (i, j, k) on the finest level that
// simulates it.
func (s *Solver) fillAt(i, j, k int) float64 {
	for lev := s.finest; lev >= 0; lev-- {
		L := s.levels[lev]
		ci, cj, ck := (i-1)/L.scale+1, (j-1)/L.scale+1, 0
		if s.model.Dim == 3 {
			ck = (k-1)/L.scale + 1
		}
		set := L.Current()
		idx := L.Index(ci, cj, ck)
		f := L.Flag(set, idx)
		if lev > 0 && f&(cell.Unused|cell.GridFromCoarse) != 0 {
			continue
		}
		switch {
		case f&cell.Fluid != 0:
			return 1
		case f&cell.Interface != 0:
			return L.Fill(set, idx)
		}
		return 0
	}
	return 0
}
