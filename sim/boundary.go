package sim

import (
	"github.com/lbm-sim/lbm-sim/sim/cell"
)

// boundaryDF returns the value of f_l at cell idx when the cell it would
// stream from (sIdx, along -e_l) is not fluid. Gas and unused sources fall
// back to plain bounce-back.
func (s *Solver) boundaryDF(L *levelState, set, idx, l, sIdx int, sf cell.Flag) float64 {
	m := s.model
	bounce := L.DF(set, idx, m.Inv[l])
	if sf&cell.Boundary == 0 {
		return bounce
	}
	if sf&cell.BndMoving != 0 {
		if obj := int(L.Mass(set, sIdx)); obj >= 0 && obj < len(s.objectSpeeds) {
			bounce += 6 * m.W[l] * m.Dot(l, s.objectSpeeds[obj])
		}
	}
	switch {
	case sf&cell.BndFreeSlip != 0:
		return s.freeSlipDF(L, set, idx, l, bounce)
	case sf&cell.BndPartSlip != 0:
		c := s.slipCoefficient(L, set, sIdx)
		return c*s.freeSlipDF(L, set, idx, l, bounce) + (1-c)*bounce
	}
	return bounce
}

// freeSlipDF reflects f_l specularly: components of e_l pointing out of a
// wall face are mirrored and the value is taken from the cell the mirrored
// population left. Without a wall face (a pure corner hit) it bounces back.
func (s *Solver) freeSlipDF(L *levelState, set, idx, l int, bounce float64) float64 {
	m := s.model
	e := m.E[l]
	var mir, off [3]int
	flipped, shifted := false, false
	for a := 0; a < m.Dim; a++ {
		mir[a] = e[a]
		if e[a] == 0 {
			continue
		}
		wallSide := s.axisDir[a][0]
		if e[a] > 0 {
			wallSide = s.axisDir[a][1]
		}
		if L.Flag(set, L.Neighbor(idx, wallSide))&cell.Boundary != 0 {
			mir[a] = -e[a]
			flipped = true
		} else {
			off[a] = -e[a]
			shifted = true
		}
	}
	if !flipped {
		return bounce
	}
	from := idx
	if shifted {
		from = L.Neighbor(idx, s.dirLUT[lutKey(off)])
	}
	if L.Flag(set, from)&cell.FluidOrInter == 0 {
		return bounce
	}
	return L.DF(set, from, s.dirLUT[lutKey(mir)])
}

// slipCoefficient is the free-slip share of a partial-slip wall cell.
func (s *Solver) slipCoefficient(L *levelState, set, sIdx int) float64 {
	if obj := int(L.Mass(set, sIdx)); obj >= 0 && obj < len(s.objects) {
		return s.objects[obj].PartSlip
	}
	return s.cfg.Domain.SlipCoefficient
}
