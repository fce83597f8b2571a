package sim

import (
	"errors"
	"fmt"
	"math"
	"math/rand"
	"slices"

	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"
	"gonum.org/v1/gonum/spatial/r3"

	"github.com/lbm-sim/lbm-sim/sim/cell"
	"github.com/lbm-sim/lbm-sim/sim/lattice"
	"github.com/lbm-sim/lbm-sim/sim/particles"
)

// sweepResult is the private accumulator of one kernel worker. Results are
// merged in worker order after all workers finish.
type sweepResult struct {
	mass, volume float64
	maxVelSq     float64
	cells        int

	full, empty []int

	inflowMass, outflowMass, particleMass float64
	emitted                               []particles.Particle

	bad string // first non-finite cell, if any
	rng *rand.Rand
}

func (r *sweepResult) reset() {
	r.mass, r.volume, r.maxVelSq = 0, 0, 0
	r.cells = 0
	r.full = r.full[:0]
	r.empty = r.empty[:0]
	r.inflowMass, r.outflowMass, r.particleMass = 0, 0, 0
	r.emitted = r.emitted[:0]
	r.bad = ""
}

func (r *sweepResult) fail(format string, args ...any) {
	if r.bad == "" {
		r.bad = fmt.Sprintf(format, args...)
	}
}

// err reports the first non-finite cell of the slab.
func (r *sweepResult) err() error {
	if r.bad == "" {
		return nil
	}
	return errors.New(r.bad)
}

// exchange classes of interface cells
const (
	classStandard = iota
	classNoFluid
	classNoEmpty
)

func exchangeClass(f cell.Flag) int {
	noFluid, noEmpty := f&cell.NoNbFluid != 0, f&cell.NoNbEmpty != 0
	switch {
	case noFluid && !noEmpty:
		return classNoFluid
	case noEmpty && !noFluid:
		return classNoEmpty
	}
	return classStandard
}

// exchange is the unweighted mass flowing into a cell of class mine from an
// interface neighbour of class theirs. It is antisymmetric in its arguments,
// so the pair always conserves mass. Cells that lack fluid neighbours only
// give, cells that lack empty neighbours only take.
func exchange(mine, theirs int, in, out float64) float64 {
	if mine == theirs {
		return in - out
	}
	switch mine {
	case classStandard:
		if theirs == classNoFluid {
			return in
		}
		return -out
	case classNoFluid:
		return -out
	default:
		return in
	}
}

// collideStream advances level lev by one local step, writing the other set.
// interpolate selects whether transition cells fetch fresh values from the
// coarser level or keep their previous ones.
func (s *Solver) collideStream(lev int, interpolate bool) {
	L := s.levels[lev]
	jlo, jhi := L.InnerRange(1)
	workers := len(s.results)
	if rows := jhi - jlo; workers > rows/2 {
		workers = max(1, rows/2)
	}
	for w := 0; w < workers; w++ {
		s.results[w].reset()
	}

	var err error
	if workers == 1 {
		s.sweep(L, interpolate, jlo, jhi, s.results[0])
		err = s.results[0].err()
	} else {
		span := (jhi - jlo + workers - 1) / workers
		var g errgroup.Group
		for w := 0; w < workers; w++ {
			a, b := jlo+w*span, min(jlo+(w+1)*span, jhi)
			if a >= b {
				continue
			}
			r := s.results[w]
			g.Go(func() error {
				s.sweep(L, interpolate, a, b, r)
				return r.err()
			})
		}
		err = g.Wait()
	}

	L.mass, L.volume, L.cellsUsed = 0, 0, 0
	L.lists.full = L.lists.full[:0]
	L.lists.empty = L.lists.empty[:0]
	for w := 0; w < workers; w++ {
		r := s.results[w]
		L.mass += r.mass
		L.volume += r.volume
		L.cellsUsed += r.cells
		s.stats.MaxVelocity = math.Max(s.stats.MaxVelocity, math.Sqrt(r.maxVelSq))
		L.lists.full = append(L.lists.full, r.full...)
		L.lists.empty = append(L.lists.empty, r.empty...)
		s.stats.InflowMass += r.inflowMass
		s.stats.OutflowMass += r.outflowMass
		s.stats.ParticleMass += r.particleMass
		for _, p := range r.emitted {
			s.particles.Add(p)
		}
	}
	if err != nil && s.panicReason == "" {
		s.panicReason = err.Error()
		logrus.Errorf("Simulation panic at step %d: %v", s.stepCount+1, err)
	}
	// memory order, independent of the worker split
	slices.Sort(L.lists.full)
	slices.Sort(L.lists.empty)
	s.stats.CellsUsed += L.cellsUsed
}

// sweep processes rows [jlo, jhi) of every k plane. The k direction flips
// with the set parity.
func (s *Solver) sweep(L *levelState, interpolate bool, jlo, jhi int, r *sweepResult) {
	src, dst := L.Current(), L.Other()
	ilo, ihi := L.InnerRange(0)
	klo, khi := L.InnerRange(2)
	for kk := klo; kk < khi; kk++ {
		k := kk
		if src == 1 {
			k = khi - 1 - (kk - klo)
		}
		for j := jlo; j < jhi; j++ {
			for i := ilo; i < ihi; i++ {
				s.updateCell(L, src, dst, L.Index(i, j, k), interpolate, r)
			}
		}
	}
}

func (s *Solver) updateCell(L *levelState, src, dst, idx int, interpolate bool, r *sweepResult) {
	flag := L.Flag(src, idx)
	switch {
	case flag&cell.GridFromCoarse != 0:
		if !interpolate || !s.interpolateCellFromCoarse(L.id, idx, s.readSet(L.id-1), dst) {
			L.CopyCell(src, dst, idx)
		}
		return
	case flag&(cell.Boundary|cell.Unused|cell.GridFromFine) != 0:
		L.CopyCell(src, dst, idx)
		return
	case flag&cell.MbndInflow != 0 && flag&cell.FluidOrInter == 0:
		s.seedInflow(L, dst, idx, flag, r)
		return
	case flag&cell.MbndOutflow != 0 && flag&cell.FluidOrInter != 0:
		s.drainOutflow(L, src, dst, idx, flag, r)
		return
	case flag&cell.Empty != 0:
		L.CopyCell(src, dst, idx)
		return
	}
	r.cells++
	if flag&cell.Fluid != 0 {
		s.updateFluid(L, src, dst, idx, flag, r)
	} else {
		s.updateInterface(L, src, dst, idx, flag, r)
	}
}

// cellWeight is the share of the global mass a cell of L represents.
func (s *Solver) cellWeight(L *levelState, set, idx int) float64 {
	if L.id == s.finest {
		return 1
	}
	return L.cellVolume * L.Flux(set, idx)
}

// relax applies BGK collision with the Smagorinsky-corrected omega of L.
func (s *Solver) relax(L *levelState, df, feq, out []float64) {
	omega := L.omega
	if cs := s.cfg.Physics.Smagorinsky; cs > 0 {
		omega = lattice.LESOmega(omega, cs, s.model.NonEqStress(df, feq))
	}
	for l := range out {
		out[l] = df[l] + omega*(feq[l]-df[l])
	}
}

func (s *Solver) updateFluid(L *levelState, src, dst, idx int, flag cell.Flag, r *sweepResult) {
	m := s.model
	q := m.Q
	var df, feq [lattice.MaxQ]float64
	noBnd := true
	if flag&cell.NoBndFluid != 0 {
		for l := 0; l < q; l++ {
			df[l] = L.DF(src, L.NeighborInv(idx, l), l)
		}
	} else {
		df[0] = L.DF(src, idx, 0)
		for l := 1; l < q; l++ {
			sIdx := L.NeighborInv(idx, l)
			sf := L.Flag(src, sIdx)
			if sf&cell.FluidOrInter == 0 {
				noBnd = false
				df[l] = s.boundaryDF(L, src, idx, l, sIdx, sf)
				continue
			}
			df[l] = L.DF(src, sIdx, l)
		}
	}

	rho, u := m.Moments(df[:q])
	if flag&cell.MbndInflow != 0 {
		u = r3.Scale(rho, s.objectSpeeds[L.mbnd[idx]])
	}
	u = r3.Add(u, L.gravity)
	m.EquilibriumAll(rho, u, feq[:q])
	s.relax(L, df[:q], feq[:q], L.DFs(dst, idx))

	L.SetMass(dst, idx, rho)
	L.SetFill(dst, idx, 1)
	L.SetFlux(dst, idx, L.Flux(src, idx))
	out := flag &^ (cell.DerivedMask | cell.NoDelete)
	if noBnd {
		out |= cell.NoBndFluid
	}
	L.SetFlag(dst, idx, out)

	w := s.cellWeight(L, src, idx)
	r.mass += rho * w
	r.volume += w
	usq := r3.Norm2(u)
	if usq > r.maxVelSq {
		r.maxVelSq = usq
	}
	if !finite(rho) || !finite(usq) {
		i, j, k := L.Coords(idx)
		r.fail("non-finite fluid cell (%d,%d,%d) on level %d: rho=%g |u|^2=%g", i, j, k, L.id, rho, usq)
	}
}

func (s *Solver) updateInterface(L *levelState, src, dst, idx int, flag cell.Flag, r *sweepResult) {
	m := s.model
	q := m.Q
	old := L.DFs(src, idx)
	myFill := L.Fill(src, idx)
	mass := L.Mass(src, idx)
	myClass := exchangeClass(flag)

	var nbFlag [lattice.MaxQ]cell.Flag
	noFluid, noEmpty, noBnd := true, true, true
	for l := 1; l < q; l++ {
		nf := L.Flag(src, L.Neighbor(idx, l))
		nbFlag[l] = nf
		switch {
		case nf&cell.Fluid != 0:
			noFluid = false
		case nf&cell.Empty != 0:
			noEmpty = false
		case nf&(cell.Boundary|cell.Unused) != 0:
			noBnd = false
		}
	}
	n := s.surfaceNormal(L, src, idx)
	_, uOld := m.Moments(old)

	var df, feq [lattice.MaxQ]float64
	df[0] = old[0]
	dm := 0.0
	for l := 1; l < q; l++ {
		inv := m.Inv[l]

		// mass exchange with the neighbour along e_l
		if nf := nbFlag[l]; nf&cell.FluidOrInter != 0 {
			nb := L.Neighbor(idx, l)
			in, out := L.DF(src, nb, inv), old[l]
			if nf&cell.Fluid != 0 {
				dm += in - out
			} else {
				dm += exchange(myClass, exchangeClass(nf), in, out) * 0.5 * (myFill + L.Fill(src, nb))
			}
		}

		// f_l arrives from x - e_l; gas-side values are reconstructed
		sf := nbFlag[inv]
		switch {
		case sf&cell.Boundary != 0:
			df[l] = s.boundaryDF(L, src, idx, l, L.Neighbor(idx, inv), sf)
		case sf&cell.FluidOrInter != 0 && m.Dot(inv, n) <= 0:
			df[l] = L.DF(src, L.Neighbor(idx, inv), l)
		default:
			df[l] = m.Equilibrium(l, 1, uOld) + m.Equilibrium(inv, 1, uOld) - old[inv]
		}
	}

	rho, u := m.Moments(df[:q])
	inflow := flag&cell.MbndInflow != 0
	if inflow {
		u = r3.Scale(rho, s.objectSpeeds[L.mbnd[idx]])
	}
	u = r3.Add(u, L.gravity)
	m.EquilibriumAll(rho, u, feq[:q])
	s.relax(L, df[:q], feq[:q], L.DFs(dst, idx))

	w := s.cellWeight(L, src, idx)
	fs := s.cfg.FreeSurface
	newMass := mass + dm
	if inflow {
		if target := rho * (1 + 2*fs.MagicNumber); newMass < target {
			r.inflowMass += (target - newMass) * w
			newMass = target
		}
	}

	filled := newMass > rho*(1+fs.MagicNumber)
	emptied := newMass < -fs.MagicNumber*rho
	if !filled && !emptied {
		if noEmpty && newMass > fs.ListThresholdFull*rho {
			filled = true
		} else if noFluid && newMass < fs.ListThresholdEmpty*rho {
			emptied = true
		}
	}
	if flag&cell.NoDelete != 0 {
		emptied = false
	}

	usq := r3.Norm2(u)
	if !filled && !emptied && r.rng != nil {
		newMass -= s.maybeEmitDrop(L, idx, u, usq, newMass, rho, r)
	}

	fill := 0.0
	if rho > 0 {
		fill = newMass / rho
	}
	switch {
	case filled:
		r.full = append(r.full, idx)
	case emptied:
		r.empty = append(r.empty, idx)
	}

	L.SetMass(dst, idx, newMass)
	L.SetFill(dst, idx, clamp01(fill))
	L.SetFlux(dst, idx, L.Flux(src, idx))
	L.SetFlag(dst, idx, flag&^(cell.DerivedMask|cell.NoDelete)|derivedBits(noFluid, noEmpty, noBnd))

	r.mass += newMass * w
	r.volume += clamp01(fill) * w
	if usq > r.maxVelSq {
		r.maxVelSq = usq
	}
	if !finite(rho) || !finite(usq) || !finite(newMass) {
		i, j, k := L.Coords(idx)
		r.fail("non-finite interface cell (%d,%d,%d) on level %d: rho=%g mass=%g |u|^2=%g", i, j, k, L.id, rho, newMass, usq)
	}
}

// surfaceNormal is the fill gradient estimate pointing into the gas. Only
// fluid and interface neighbours contribute.
func (s *Solver) surfaceNormal(L *levelState, set, idx int) r3.Vec {
	fillOf := func(dir int) float64 {
		nb := L.Neighbor(idx, dir)
		f := L.Flag(set, nb)
		switch {
		case f&cell.Fluid != 0:
			return 1
		case f&cell.Interface != 0:
			return L.Fill(set, nb)
		}
		return 0
	}
	var n [3]float64
	for a := 0; a < s.model.Dim; a++ {
		n[a] = 0.5 * (fillOf(s.axisDir[a][1]) - fillOf(s.axisDir[a][0]))
	}
	return r3.Vec{X: n[0], Y: n[1], Z: n[2]}
}

// seedInflow turns a gas inflow cell into a full interface cell carrying the
// object's velocity.
func (s *Solver) seedInflow(L *levelState, dst, idx int, flag cell.Flag, r *sweepResult) {
	u := s.objectSpeeds[L.mbnd[idx]]
	s.model.EquilibriumAll(1, u, L.DFs(dst, idx))
	L.SetMass(dst, idx, 1)
	L.SetFill(dst, idx, 1)
	L.SetFlux(dst, idx, FluxInit)
	L.SetFlag(dst, idx, cell.Transition(flag, cell.Interface)&^cell.NoDelete)
	r.inflowMass += s.cellWeight(L, dst, idx)
}

// drainOutflow removes the fluid of an outflow cell and queues it for emptying.
func (s *Solver) drainOutflow(L *levelState, src, dst, idx int, flag cell.Flag, r *sweepResult) {
	mass := L.Mass(src, idx)
	if flag&cell.Fluid != 0 {
		mass, _ = s.model.Moments(L.DFs(src, idx))
	}
	r.outflowMass += mass * s.cellWeight(L, src, idx)
	copy(L.DFs(dst, idx), L.DFs(src, idx))
	L.SetMass(dst, idx, 0)
	L.SetFill(dst, idx, 0)
	L.SetFlux(dst, idx, L.Flux(src, idx))
	L.SetFlag(dst, idx, cell.Transition(flag, cell.Interface)&^cell.NoDelete)
	r.empty = append(r.empty, idx)
}

// maybeEmitDrop spawns a spray particle from a fast, thin interface cell and
// returns the mass it carries away.
func (s *Solver) maybeEmitDrop(L *levelState, idx int, u r3.Vec, usq, mass, rho float64, r *sweepResult) float64 {
	vmax := s.cfg.Physics.MaxLatticeVelocity
	if mass <= 0 || mass > 0.5*rho || usq < 0.25*vmax*vmax {
		return 0
	}
	if r.rng.Float64() >= s.cfg.Particles.GenerationProbability*math.Sqrt(usq)/vmax {
		return 0
	}
	i, j, k := L.Coords(idx)
	dropMass := math.Min(mass, 0.1*rho)
	conv := L.cellSize / L.timestep
	r.emitted = append(r.emitted, particles.Particle{
		Pos:  s.cellPos(L, i, j, k),
		Vel:  r3.Scale(conv, u),
		Type: particles.Drop,
		Size: dropMass,
	})
	w := s.cellWeight(L, L.Current(), idx)
	r.particleMass += dropMass * w
	return dropMass
}

func finite(v float64) bool { return !math.IsNaN(v) && !math.IsInf(v, 0) }

func clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}
