package sim

import (
	"github.com/lbm-sim/lbm-sim/sim/cell"
	"github.com/lbm-sim/lbm-sim/sim/lattice"
)

// accumulator sums weighted distribution sets and writes their normalised
// average with a rescaled non-equilibrium part.
type accumulator struct {
	q  int
	df [lattice.MaxQ]float64
	w  float64
}

func (a *accumulator) reset(q int) {
	a.q = q
	a.df = [lattice.MaxQ]float64{}
	a.w = 0
}

func (a *accumulator) addWeighted(df []float64, w float64) {
	for l := 0; l < a.q; l++ {
		a.df[l] += w * df[l]
	}
	a.w += w
}

// commit writes feq + scale*(avg - feq) into out and returns the density. It
// reports false when nothing was accumulated.
func (a *accumulator) commit(m *lattice.Model, scale float64, out []float64) (float64, bool) {
	if a.w <= 0 {
		return 0, false
	}
	var avg, feq [lattice.MaxQ]float64
	inv := 1 / a.w
	for l := 0; l < a.q; l++ {
		avg[l] = a.df[l] * inv
	}
	rho, u := m.Moments(avg[:a.q])
	m.EquilibriumAll(rho, u, feq[:a.q])
	for l := 0; l < a.q; l++ {
		out[l] = feq[l] + scale*(avg[l]-feq[l])
	}
	return rho, true
}

// fineToCoarseScale is the non-equilibrium rescaling factor from level c+1
// to level c: (dt_c/dt_f) * (omega_f/omega_c).
func (s *Solver) fineToCoarseScale(c int) float64 {
	C, F := s.levels[c], s.levels[c+1]
	return (C.timestep / F.timestep) * (F.omega / C.omega)
}

// readSet is the set of level c holding its state at the start of the current
// coarse period: the other set once c has stepped, the current one before.
func (s *Solver) readSet(c int) int {
	C := s.levels[c]
	if C.stepped {
		return C.Other()
	}
	return C.Current()
}

// interpolateCellFromCoarse fills cell idx of level lev (set dst) from the
// level below, reading coarse set cset. Fine cells 2c-1 and 2c lie inside
// coarse cell c, a quarter coarse cell below and above its centre, so along
// each axis the parent weighs 3/4 and its neighbour on the fine cell's side
// 1/4: up to eight sources, selected by parity. Sources that are not fluid
// drop out and the rest are renormalised; unused sources are resolved one
// level further down. It reports false if no valid source exists.
func (s *Solver) interpolateCellFromCoarse(lev, idx, cset, dst int) bool {
	F := s.levels[lev]
	i, j, k := F.Coords(idx)
	var acc accumulator
	acc.reset(s.model.Q)
	s.gatherCoarse(lev-1, [3]int{i, j, k}, cset, 1, 0, &acc)
	rho, ok := acc.commit(s.model, 1/s.fineToCoarseScale(lev-1), F.DFs(dst, idx))
	if !ok {
		return false
	}
	F.SetMass(dst, idx, rho)
	F.SetFill(dst, idx, 1)
	F.SetFlux(dst, idx, FluxInit)
	f := F.Flag(F.Current(), idx)
	if f&cell.Fluid == 0 {
		f = cell.Transition(f, cell.Fluid)
	}
	F.SetFlag(dst, idx, f)
	return true
}

// gatherCoarse adds the parity-weighted coarse sources of fine position fpos
// (on level c+1) to acc. Halo sources are skipped like any other non-fluid
// cell.
func (s *Solver) gatherCoarse(c int, fpos [3]int, cset int, weight float64, depth int, acc *accumulator) {
	C := s.levels[c]
	var src [3][2]int
	var wt [3][2]float64
	var cnt [3]int
	for a := 0; a < 3; a++ {
		if a >= s.model.Dim {
			src[a][0], wt[a][0], cnt[a] = 0, 1, 1
			continue
		}
		p := ceilHalf(fpos[a])
		side := 1
		if fpos[a]%2 == 1 {
			side = -1
		}
		src[a] = [2]int{p, p + side}
		wt[a] = [2]float64{0.75, 0.25}
		cnt[a] = 2
	}
	for z := 0; z < cnt[2]; z++ {
		for y := 0; y < cnt[1]; y++ {
			for x := 0; x < cnt[0]; x++ {
				ci, cj, ck := src[0][x], src[1][y], src[2][z]
				if !C.InBounds(ci, cj, ck) {
					continue
				}
				w := weight * wt[0][x] * wt[1][y] * wt[2][z]
				cidx := C.Index(ci, cj, ck)
				cf := C.Flag(cset, cidx)
				switch {
				case cf&cell.FluidOrInter != 0:
					acc.addWeighted(C.DFs(cset, cidx), w)
				case cf&cell.Unused != 0 && depth == 0 && c > 0:
					s.gatherCoarse(c-1, [3]int{ci, cj, ck}, s.readSet(c-1), w, depth+1, acc)
				}
			}
		}
	}
}

// restrictCell averages the 2^D fine cells {2c-1, 2c}^D under coarse cell cidx
// of level c into coarse set cset. Only pure fluid children contribute;
// boundary children are skipped. It reports false if any child is not fluid
// or boundary, or none is fluid.
func (s *Solver) restrictCell(c, cidx, cset int) bool {
	C, F := s.levels[c], s.levels[c+1]
	fset := s.readSet(c + 1)
	ci, cj, ck := C.Coords(cidx)
	var acc accumulator
	acc.reset(s.model.Q)
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
				if !F.InBounds(fi, fj, fk) {
					continue
				}
				fidx := F.Index(fi, fj, fk)
				ff := F.Flag(fset, fidx)
				switch {
				case ff&cell.Boundary != 0:
				case ff&cell.Fluid != 0 && ff&(cell.GridNormal|cell.GridFromFine) != 0:
					acc.addWeighted(F.DFs(fset, fidx), 1)
				default:
					return false
				}
			}
		}
	}
	rho, ok := acc.commit(s.model, s.fineToCoarseScale(c), C.DFs(cset, cidx))
	if !ok {
		return false
	}
	C.SetMass(cset, cidx, rho)
	C.SetFill(cset, cidx, 1)
	return true
}

// restrictLevel refreshes every GridFromFine cell of level c from level c+1.
// The result lands in the set the coarse kernel reads next. Cells whose
// footprint is not entirely fluid carry gas.
func (s *Solver) restrictLevel(c int) {
	C := s.levels[c]
	cset := C.Current()
	s.forInner(C, func(cidx int) {
		f := C.Flag(cset, cidx)
		if f&cell.GridFromFine == 0 || f&cell.Boundary != 0 {
			return
		}
		if s.restrictCell(c, cidx, cset) {
			C.SetFlag(cset, cidx, f.WithPrimary(cell.Fluid))
			return
		}
		C.SetMass(cset, cidx, 0)
		C.SetFill(cset, cidx, 0)
		C.SetFlag(cset, cidx, f.WithPrimary(cell.Empty))
	})
}
