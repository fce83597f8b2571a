package sim

import (
	"fmt"

	"github.com/sirupsen/logrus"

	"github.com/lbm-sim/lbm-sim/sim/cell"
)

// triggersRefinement reports fine cells that must stay resolved on the fine
// level: surface, gas, inflow/outflow, and cells handed to an even finer level.
func triggersRefinement(f cell.Flag) bool {
	if f&cell.Boundary != 0 {
		return false
	}
	return f&(cell.Interface|cell.Empty|cell.GridFromFine|cell.MbndMask) != 0
}

// floorHalf and ceilHalf divide by two rounding towards -inf and +inf.
func floorHalf(x int) int { return x >> 1 }
func ceilHalf(x int) int  { return (x + 1) >> 1 }

// footprint calls fn for the fine cells {2c-1, 2c}^D owned by coarse cell cidx.
func (s *Solver) footprint(c, cidx int, fn func(fidx int)) {
	C, F := s.levels[c], s.levels[c+1]
	ci, cj, ck := C.Coords(cidx)
	dz := 1
	if s.model.Dim == 2 {
		dz = 0
	}
	for z := 0; z <= dz; z++ {
		for y := 0; y <= 1; y++ {
			for x := 0; x <= 1; x++ {
				fi, fj, fk := 2*ci-1+x, 2*cj-1+y, 2*ck-1+z
				if dz == 0 {
					fk = 0
				}
				if F.InBounds(fi, fj, fk) {
					fn(F.Index(fi, fj, fk))
				}
			}
		}
	}
}

// parentIndex is the coarse cell owning fine cell fidx.
func (s *Solver) parentIndex(c, fidx int) int {
	C, F := s.levels[c], s.levels[c+1]
	fi, fj, fk := F.Coords(fidx)
	pk := 0
	if s.model.Dim == 3 {
		pk = (fk + 1) / 2
	}
	return C.Index((fi+1)/2, (fj+1)/2, pk)
}

// adaptLevelPair moves the boundary between levels c and c+1 so that every
// coarse cell within the configured margin of surface or gas on the fine
// level is refined, and every other coarse cell is simulated on level c.
// Fine cells owned by refined coarse cells are active, their lattice
// neighbours form a one-cell transition band fed from the coarse level, and
// the rest is unused.
func (s *Solver) adaptLevelPair(c int) {
	C, F := s.levels[c], s.levels[c+1]
	cset, fset := C.Current(), F.Current()
	margin := s.cfg.Refinement.Margin

	need := C.need
	clear(need)
	s.forInner(F, func(fidx int) {
		if !triggersRefinement(F.Flag(fset, fidx)) {
			return
		}
		fi, fj, fk := F.Coords(fidx)
		var lo, hi [3]int
		for a, f := range [3]int{fi, fj, fk} {
			if a >= s.model.Dim {
				continue
			}
			clo, chi := C.InnerRange(a)
			lo[a] = max(ceilHalf(f-margin), clo)
			hi[a] = min(floorHalf(f+1+margin), chi-1)
		}
		for ck := lo[2]; ck <= hi[2]; ck++ {
			for cj := lo[1]; cj <= hi[1]; cj++ {
				for ci := lo[0]; ci <= hi[0]; ci++ {
					need[C.Index(ci, cj, ck)] = true
				}
			}
		}
	})

	var refine, coarsen []int
	blocked := 0
	s.forInner(C, func(cidx int) {
		f := C.Flag(cset, cidx)
		if f&(cell.Boundary|cell.Unused|cell.GridFromCoarse) != 0 {
			if need[cidx] && f&cell.Boundary == 0 {
				blocked++
			}
			return
		}
		refined := f&cell.GridFromFine != 0
		switch {
		case need[cidx] && !refined:
			refine = append(refine, cidx)
		case !need[cidx] && refined:
			coarsen = append(coarsen, cidx)
		}
	})
	if blocked > 0 {
		logrus.Warnf("Level %d: %d cells need refinement but are not active; increase refinement.margin", c, blocked)
	}

	claimed := make(map[int]bool, len(refine)*4)
	for _, cidx := range refine {
		s.footprint(c, cidx, func(fidx int) { claimed[fidx] = true })
	}
	for _, cidx := range coarsen {
		s.footprint(c, cidx, func(fidx int) {
			if claimed[fidx] {
				s.reportDoubleClaim(c, fidx)
			}
		})
	}

	coarsened := 0
	for _, cidx := range coarsen {
		if !s.restrictCell(c, cidx, cset) {
			continue
		}
		f := C.Flag(cset, cidx)
		C.SetFlag(cset, cidx, f.WithPrimary(cell.Fluid).WithGrid(cell.GridNormal))
		coarsened++
	}
	for _, cidx := range refine {
		C.SetFlag(cset, cidx, C.Flag(cset, cidx).WithGrid(cell.GridFromFine)&^cell.GridToFine)
	}

	s.retagFineLevel(c)
	s.tagGridToFine(c)
	s.precomputeFluxArea(c)

	if len(refine) > 0 || coarsened > 0 {
		logrus.Debugf("Level pair %d/%d: refined %d, coarsened %d", c, c+1, len(refine), coarsened)
	}
}

// reportDoubleClaim flags a fine cell both refined and coarsened in one pass.
func (s *Solver) reportDoubleClaim(c, fidx int) {
	i, j, k := s.levels[c+1].Coords(fidx)
	msg := fmt.Sprintf("fine cell (%d,%d,%d) on level %d claimed by refinement and coarsening", i, j, k, c+1)
	if cell.Strict {
		panic(msg)
	}
	logrus.Warn(msg)
}

// retagFineLevel assigns active, transition and unused roles on level c+1
// from the refinement tags of level c, creating or dropping fine state as
// cells enter or leave the active region.
func (s *Solver) retagFineLevel(c int) {
	C, F := s.levels[c], s.levels[c+1]
	cset, fset := C.Current(), F.Current()

	active := make([]bool, F.Len())
	s.forInner(F, func(fidx int) {
		if F.Flag(fset, fidx)&cell.Boundary != 0 {
			return
		}
		active[fidx] = C.Flag(cset, s.parentIndex(c, fidx))&cell.GridFromFine != 0
	})

	s.forInner(F, func(fidx int) {
		f := F.Flag(fset, fidx)
		if f&cell.Boundary != 0 {
			return
		}
		switch {
		case active[fidx]:
			s.retagFine(c, fidx, f, cell.GridNormal)
		case s.bordersActive(F, fidx, active):
			s.retagFine(c, fidx, f, cell.GridFromCoarse)
		default:
			s.retagFine(c, fidx, f, 0)
		}
	})
}

func (s *Solver) bordersActive(F *levelState, fidx int, active []bool) bool {
	for l := 1; l < s.model.Q; l++ {
		if active[F.Neighbor(fidx, l)] {
			return true
		}
	}
	return false
}

// retagFine moves fine cell fidx of level c+1 to grid role want (0 = unused).
func (s *Solver) retagFine(c, fidx int, f, want cell.Flag) {
	F := s.levels[c+1]
	fset := F.Current()
	unused := f&cell.Unused != 0
	switch want {
	case cell.GridNormal:
		switch {
		case unused:
			if s.interpolateCellFromCoarse(c+1, fidx, s.readSet(c), fset) {
				F.SetFlag(fset, fidx, F.Flag(fset, fidx).WithGrid(cell.GridNormal))
			} else {
				s.clearCell(F, fset, fidx)
				F.SetFlag(fset, fidx, cell.Transition(f, cell.Empty).WithGrid(cell.GridNormal))
			}
		case f&cell.GridFromCoarse != 0:
			F.SetFlag(fset, fidx, f.WithGrid(cell.GridNormal))
		}
	case cell.GridFromCoarse:
		if f&cell.GridFromCoarse != 0 {
			return
		}
		if !unused && f&cell.Fluid != 0 {
			F.SetFlag(fset, fidx, f.WithGrid(cell.GridFromCoarse))
			return
		}
		if !unused {
			s.releaseSurfaceCell(c, fidx, f)
		}
		if s.interpolateCellFromCoarse(c+1, fidx, s.readSet(c), fset) {
			F.SetFlag(fset, fidx, F.Flag(fset, fidx).WithGrid(cell.GridFromCoarse))
		}
	default:
		if unused {
			return
		}
		if f&cell.Fluid == 0 {
			s.releaseSurfaceCell(c, fidx, f)
		}
		s.clearCell(F, fset, fidx)
		F.SetFlag(fset, fidx, cell.Transition(f, cell.Unused).WithGrid(0)&^(cell.GridToFine|cell.NoDelete))
	}
}

// releaseSurfaceCell hands the mass of a surface or gas cell of level c+1
// that leaves the active region to the fix-mass pool. Only fluid footprints
// are coarsened, so reaching this means the tags lag the surface.
func (s *Solver) releaseSurfaceCell(c, fidx int, f cell.Flag) {
	F := s.levels[c+1]
	i, j, k := F.Coords(fidx)
	logrus.Warnf("Level %d cell (%d,%d,%d) leaves the active region as %v", c+1, i, j, k, f.Primary())
	if f&cell.Interface != 0 {
		s.fixMass += F.Mass(F.Current(), fidx)
	}
}

func (s *Solver) clearCell(L *levelState, set, idx int) {
	clear(L.DFs(set, idx))
	L.SetMass(set, idx, 0)
	L.SetFill(set, idx, 0)
	L.SetFlux(set, idx, FluxInit)
}

// tagGridToFine marks normal coarse cells next to refined ones; they are the
// interpolation sources of the fine transition band.
func (s *Solver) tagGridToFine(c int) {
	C := s.levels[c]
	cset := C.Current()
	s.forInner(C, func(cidx int) {
		f := C.Flag(cset, cidx)
		if f&cell.GridNormal == 0 {
			return
		}
		f &^= cell.GridToFine
		for l := 1; l < s.model.Q; l++ {
			if C.Flag(cset, C.Neighbor(cidx, l))&cell.GridFromFine != 0 {
				f |= cell.GridToFine
				break
			}
		}
		C.SetFlag(cset, cidx, f)
	})
}

// precomputeFluxArea sets the flux weight of every coarse cell of level c
// that feeds the fine band: the share of its footprint not simulated on level
// c+1. All other cells keep FluxInit. With consistent tags the footprint of a
// normal coarse cell holds only transition and unused fine cells, so the
// weight stays 1 and every region is counted on exactly one level.
func (s *Solver) precomputeFluxArea(c int) {
	C, F := s.levels[c], s.levels[c+1]
	cset, fset := C.Current(), F.Current()
	s.forInner(C, func(cidx int) {
		if C.Flag(cset, cidx)&cell.GridToFine == 0 {
			C.SetFlux(cset, cidx, FluxInit)
			return
		}
		n, covered := 0, 0
		s.footprint(c, cidx, func(fidx int) {
			n++
			if F.Flag(fset, fidx)&(cell.GridNormal|cell.GridFromFine) != 0 {
				covered++
			}
		})
		C.SetFlux(cset, cidx, FluxInit*float64(n-covered)/float64(n))
	})
}
