package sim

import (
	"math"

	"github.com/sirupsen/logrus"
	"gonum.org/v1/gonum/spatial/r3"

	"github.com/lbm-sim/lbm-sim/sim/cell"
	"github.com/lbm-sim/lbm-sim/sim/lattice"
	"github.com/lbm-sim/lbm-sim/sim/trace"
)

// adaptTimestep decides from the last step's maximum velocity whether the
// timestep should shrink or grow, and rescales the whole hierarchy if so.
func (s *Solver) adaptTimestep() {
	ta := s.cfg.TimeAdapt
	allowed := s.cfg.Physics.MaxLatticeVelocity
	vel := s.stats.MaxVelocity

	if vel > allowed {
		s.highCount++
	} else {
		s.highCount = 0
	}
	if vel < ta.LowFraction*allowed {
		s.lowCount++
	} else {
		s.lowCount = 0
	}
	if s.holdOff > 0 {
		s.holdOff--
		return
	}

	dt := s.levels[s.finest].timestep
	newDt := dt
	var reason string
	switch {
	case vel > ta.VeryHighFactor*allowed:
		newDt = dt * math.Max(0.5, 0.8*allowed/vel)
		reason = "velocity far above limit"
	case s.highCount > ta.HighSteps:
		newDt = dt * math.Max(0.5, 0.9*allowed/vel)
		reason = "velocity above limit"
	case s.lowCount > ta.LowSteps:
		grow := 1.25
		if vel > 0 {
			grow = math.Min(grow, 0.5*allowed/vel)
		}
		newDt = dt * grow
		reason = "velocity well below limit"
	default:
		return
	}
	newDt = math.Min(math.Max(newDt, ta.MinTimestep), ta.MaxTimestep)
	if math.Abs(newDt-dt) <= 1e-3*dt {
		return
	}

	rec := trace.TimestepRecord{
		Step:   s.stepCount,
		OldDt:  dt,
		NewDt:  newDt,
		MaxVel: vel,
		Reason: reason,
	}
	rec.Rescaled = s.rescaleTimestep(newDt)
	if ta.BruteForce {
		rec.Clamped = s.bruteForceRescue(allowed)
	}
	for _, L := range s.levels {
		rec.NewOmegas = append(rec.NewOmegas, L.omega)
	}
	s.trace.RecordTimestep(rec)

	s.holdOff = ta.HoldOff
	s.highCount, s.lowCount = 0, 0
	s.stats.TimestepChanges++
	s.stats.Timestep = newDt
	logrus.Infof("Step %d: timestep %.4g -> %.4g s (%s, max velocity %.4f)", s.stepCount, dt, newDt, reason, vel)
}

// rescaleTimestep switches the finest-level timestep to newDt and converts
// the state of every active cell so that it describes the same physical flow:
// velocities scale with r = newDt/oldDt, density deviations with r², and the
// non-equilibrium part with r·tau_new/tau_old. Interface masses follow the
// density. It returns the number of converted cells.
func (s *Solver) rescaleTimestep(newDt float64) int {
	m := s.model
	q := m.Q
	r := newDt / s.levels[s.finest].timestep
	oldOmega := make([]float64, len(s.levels))
	for i, L := range s.levels {
		oldOmega[i] = L.omega
	}
	s.setLevelParameters(newDt)
	s.updateObjectSpeeds()

	var feqOld, feqNew [lattice.MaxQ]float64
	converted := 0
	for i, L := range s.levels {
		set := L.Current()
		neqScale := r * oldOmega[i] / L.omega
		s.forInner(L, func(idx int) {
			f := L.Flag(set, idx)
			if f&cell.FluidOrInter == 0 {
				return
			}
			df := L.DFs(set, idx)
			rho, u := m.Moments(df)
			rhoNew := (rho-1)*r*r + 1
			m.EquilibriumAll(rho, u, feqOld[:q])
			m.EquilibriumAll(rhoNew, r3.Scale(r, u), feqNew[:q])
			for l := 0; l < q; l++ {
				df[l] = feqNew[l] + neqScale*(df[l]-feqOld[l])
			}
			if f&cell.Interface != 0 && rho != 0 {
				L.SetMass(set, idx, L.Mass(set, idx)*rhoNew/rho)
			} else if f&cell.Fluid != 0 {
				L.SetMass(set, idx, rhoNew)
			}
			converted++
		})
	}
	return converted
}

// bruteForceRescue resets every cell faster than vmax to the equilibrium at
// its velocity clamped to vmax. It returns the number of reset cells.
func (s *Solver) bruteForceRescue(vmax float64) int {
	m := s.model
	clamped := 0
	for _, L := range s.levels {
		set := L.Current()
		s.forInner(L, func(idx int) {
			if L.Flag(set, idx)&cell.FluidOrInter == 0 {
				return
			}
			df := L.DFs(set, idx)
			rho, u := m.Moments(df)
			speed := r3.Norm(u)
			if speed <= vmax || !finite(speed) {
				return
			}
			m.EquilibriumAll(rho, r3.Scale(vmax/speed, u), df)
			clamped++
		})
	}
	if clamped > 0 {
		logrus.Warnf("Brute-force rescue clamped %d cells to velocity %.4f", clamped, vmax)
	}
	return clamped
}

// checkMassDrift rescales all fluid when the measured mass drifts further
// than the configured share from the expected mass.
func (s *Solver) checkMassDrift() {
	mass, _ := s.MeasureMass()
	st := s.stats
	expected := st.InitialMass + st.InflowMass - st.OutflowMass - st.ParticleMass
	if mass <= 0 || expected <= 0 {
		return
	}
	drift := (mass - expected) / expected
	if math.Abs(drift) <= s.cfg.FreeSurface.MassRescaleDrift {
		return
	}
	s.rescaleMass(expected / mass)
	logrus.Infof("Step %d: mass drift %.3g%% corrected", s.stepCount, 100*drift)
}

// rescaleMass multiplies every fluid and interface cell (distributions and
// mass) by factor, plus the fix-mass pool.
func (s *Solver) rescaleMass(factor float64) {
	for _, L := range s.levels {
		set := L.Current()
		s.forInner(L, func(idx int) {
			if L.Flag(set, idx)&cell.FluidOrInter == 0 {
				return
			}
			df := L.DFs(set, idx)
			for l := range df {
				df[l] *= factor
			}
			L.SetMass(set, idx, L.Mass(set, idx)*factor)
		})
	}
	s.fixMass *= factor
}
