package sim

import (
	"math"
	"slices"

	"github.com/sirupsen/logrus"
	"gonum.org/v1/gonum/spatial/r3"

	"github.com/lbm-sim/lbm-sim/sim/cell"
	"github.com/lbm-sim/lbm-sim/sim/lattice"
)

// reinitFreeSurface applies the filled and emptied lists produced by the last
// kernel pass of L: neighbours are converted to interface cells, excess and
// missing mass is pushed along the surface normal, and the flag changes are
// committed to both sets.
func (s *Solver) reinitFreeSurface(L *levelState) {
	wl := &L.lists
	if len(wl.full) == 0 && len(wl.empty) == 0 {
		return
	}
	m := s.model
	q := m.Q
	set, other := L.Current(), L.Other()
	wl.newInter = wl.newInter[:0]

	// 1. gas around filled cells becomes interface
	fromGas := make(map[int]bool)
	for _, idx := range wl.full {
		for l := 1; l < q; l++ {
			nb := L.Neighbor(idx, l)
			nf := L.Flag(set, nb)
			switch {
			case nf&cell.Empty != 0:
				s.initEmptyCell(L, set, nb, fromGas)
				fromGas[nb] = true
				wl.newInter = append(wl.newInter, nb)
			case nf&cell.Interface != 0:
				L.SetFlag(set, nb, nf|cell.NoDelete)
				wl.newInter = append(wl.newInter, nb)
			}
		}
	}

	// 2. protected cells survive this step
	wl.empty = slices.DeleteFunc(wl.empty, func(idx int) bool {
		f := L.Flag(set, idx)
		return f&cell.Interface != 0 && f&cell.NoDelete != 0
	})

	// 3. fluid around emptied cells becomes interface
	for _, idx := range wl.empty {
		for l := 1; l < q; l++ {
			nb := L.Neighbor(idx, l)
			nf := L.Flag(set, nb)
			switch {
			case nf&cell.Fluid != 0:
				rho, _ := m.Moments(L.DFs(set, nb))
				L.SetMass(set, nb, rho)
				L.SetFill(set, nb, 1)
				L.SetFlag(set, nb, cell.Transition(nf, cell.Interface))
				wl.newInter = append(wl.newInter, nb)
			case nf&cell.Interface != 0:
				wl.newInter = append(wl.newInter, nb)
			}
		}
	}

	// 4.-5. distribute excess (filled) and deficit (emptied) mass
	inList := make(map[int]bool, len(wl.full)+len(wl.empty))
	for _, idx := range wl.full {
		inList[idx] = true
	}
	for _, idx := range wl.empty {
		inList[idx] = true
	}
	for _, idx := range wl.full {
		rho, _ := m.Moments(L.DFs(set, idx))
		s.distributeMass(L, set, idx, L.Mass(set, idx)-rho, 1, inList)
	}
	for _, idx := range wl.empty {
		s.distributeMass(L, set, idx, L.Mass(set, idx), -1, inList)
	}

	// 6. commit the conversions to both sets
	for _, idx := range wl.full {
		f := cell.Transition(L.Flag(set, idx), cell.Fluid) &^ cell.NoDelete
		rho, _ := m.Moments(L.DFs(set, idx))
		L.SetMass(set, idx, rho)
		L.SetFill(set, idx, 1)
		L.SetFlag(set, idx, f)
		L.SetFlag(other, idx, f)
	}
	for _, idx := range wl.empty {
		f := cell.Transition(L.Flag(set, idx), cell.Empty) &^ cell.NoDelete
		L.SetMass(set, idx, 0)
		L.SetFill(set, idx, 0)
		L.SetFlag(set, idx, f)
		L.SetFlag(other, idx, f)
	}

	// 7.-8. new interface cells: fix-mass share, derived bits, fill
	slices.Sort(wl.newInter)
	wl.newInter = slices.Compact(wl.newInter)
	eligible := 0
	for _, idx := range wl.newInter {
		if L.Flag(set, idx)&cell.Interface != 0 {
			eligible++
		}
	}
	share := 0.0
	if eligible > 0 {
		share = s.fixMass / float64(eligible)
		s.fixMass = 0
	}
	for _, idx := range wl.newInter {
		if L.Flag(set, idx)&cell.Interface == 0 {
			continue
		}
		mass := L.Mass(set, idx) + share
		L.SetMass(set, idx, mass)
		s.refreshDerived(L, set, idx)
		if L.Flag(other, idx)&cell.Interface == 0 {
			L.SetFlag(set, idx, L.Flag(set, idx)|cell.NoDelete)
		}
		rho, _ := m.Moments(L.DFs(set, idx))
		fill := 0.0
		if rho > 0 {
			fill = mass / rho
		}
		L.SetFill(set, idx, clamp01(fill))
		L.SetFlux(set, idx, FluxInit)
	}
	// neighbours of converted cells see a changed neighbourhood too
	for _, idx := range wl.full {
		s.refreshDerived(L, set, idx)
	}

	s.stats.Filled += len(wl.full)
	s.stats.Emptied += len(wl.empty)
	if logrus.IsLevelEnabled(logrus.TraceLevel) {
		logrus.Tracef("Level %d reinit: %d filled, %d emptied, %d new interface, fix mass %.3g",
			L.id, len(wl.full), len(wl.empty), len(wl.newInter), s.fixMass)
	}

	// 9.
	wl.full = wl.full[:0]
	wl.empty = wl.empty[:0]
	wl.newInter = wl.newInter[:0]
}

// initEmptyCell turns a gas cell into an interface cell whose distribution is
// the equilibrium at the average density and velocity of its fluid and
// interface neighbours. Cells converted earlier in the same pass are ignored
// as sources.
func (s *Solver) initEmptyCell(L *levelState, set, idx int, fromGas map[int]bool) {
	m := s.model
	var avgRho float64
	var avgU r3.Vec
	n := 0
	for l := 1; l < m.Q; l++ {
		nb := L.Neighbor(idx, l)
		if fromGas[nb] || L.Flag(set, nb)&cell.FluidOrInter == 0 {
			continue
		}
		rho, u := m.Moments(L.DFs(set, nb))
		avgRho += rho
		avgU = r3.Add(avgU, u)
		n++
	}
	if n == 0 {
		avgRho = 1
	} else {
		avgRho /= float64(n)
		avgU = r3.Scale(1/float64(n), avgU)
	}
	m.EquilibriumAll(avgRho, avgU, L.DFs(set, idx))
	L.SetMass(set, idx, 0)
	L.SetFill(set, idx, 0)
	L.SetFlux(set, idx, FluxInit)
	L.SetFlag(set, idx, cell.Transition(L.Flag(set, idx), cell.Interface))
}

// distributeMass hands excess mass of a converted cell to its interface
// neighbours that are not themselves converting, weighted by the surface
// normal (sign +1 for filled cells, -1 for emptied ones). Mass with nowhere
// to go is parked in the fix-mass pool.
func (s *Solver) distributeMass(L *levelState, set, idx int, excess, sign float64, inList map[int]bool) {
	m := s.model
	q := m.Q
	n := s.surfaceNormal(L, set, idx)
	var w [lattice.MaxQ]float64
	total, eligible := 0.0, 0
	for l := 1; l < q; l++ {
		nb := L.Neighbor(idx, l)
		if inList[nb] || L.Flag(set, nb)&cell.Interface == 0 {
			w[l] = -1
			continue
		}
		eligible++
		w[l] = math.Max(0, sign*m.Dot(l, n))
		total += w[l]
	}
	if eligible == 0 {
		s.fixMass += excess
		return
	}
	if total <= 0 {
		for l := 1; l < q; l++ {
			if w[l] >= 0 {
				w[l] = 1
			}
		}
		total = float64(eligible)
	}
	for l := 1; l < q; l++ {
		if w[l] <= 0 {
			continue
		}
		nb := L.Neighbor(idx, l)
		L.SetMass(set, nb, L.Mass(set, nb)+excess*w[l]/total)
	}
}
