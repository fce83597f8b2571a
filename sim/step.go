package sim

import (
	"context"
	"fmt"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/lbm-sim/lbm-sim/sim/cell"
	"github.com/lbm-sim/lbm-sim/sim/trace"
)

// levelDue reports whether level lev starts a local step at the current
// finest-level step: level lev steps once every 2^(finest-lev) fine steps.
func (s *Solver) levelDue(lev int) bool {
	period := 1 << (s.finest - lev)
	return s.stepCount&(period-1) == 0
}

// Step advances the simulation by one finest-level timestep. Coarser levels
// step when due, coarse before fine; refinement and restriction run for a
// level pair whenever its coarse level steps. Once a non-finite value has
// been seen every call returns ErrSimulationPanic.
func (s *Solver) Step() error {
	if !s.initialized {
		return ErrNotInitialized
	}
	if s.panicReason != "" {
		return fmt.Errorf("%w: %s", ErrSimulationPanic, s.panicReason)
	}
	start := time.Now()
	s.stats.resetStep()
	s.stats.FixMass = s.fixMass // pairs with the kernel-time mass sums
	s.updateObjectSpeeds()
	for _, L := range s.levels {
		L.stepped = false
	}

	for lev := 0; lev <= s.finest; lev++ {
		if !s.levelDue(lev) {
			continue
		}
		L := s.levels[lev]
		if lev < s.finest {
			s.adaptLevelPair(lev)
			s.restrictLevel(lev)
		}
		s.collideStream(lev, lev > 0 && s.levels[lev-1].stepped)
		L.Swap()
		L.stepped = true
		L.steps++
		s.reinitFreeSurface(L)
		if s.panicReason != "" {
			break
		}
	}

	s.stepCount++
	s.time += s.levels[s.finest].timestep
	s.collectStats(time.Since(start))
	if s.panicReason != "" {
		return fmt.Errorf("%w: %s", ErrSimulationPanic, s.panicReason)
	}

	if s.cfg.FreeSurface.MassRescale {
		s.checkMassDrift()
	}
	s.AdvanceParticles()
	if s.cfg.TimeAdapt.Enabled {
		s.adaptTimestep()
	}

	st := s.stats
	s.trace.RecordStep(trace.StepRecord{
		Step:      st.Step,
		Time:      st.Time,
		Timestep:  st.Timestep,
		Mass:      st.Mass,
		Volume:    st.Volume,
		MaxVel:    st.MaxVelocity,
		Filled:    st.Filled,
		Emptied:   st.Emptied,
		CellsUsed: st.CellsUsed,
		MLUPS:     st.MLUPS,
		FixMass:   st.FixMass,
	})
	if logrus.IsLevelEnabled(logrus.DebugLevel) {
		logrus.Debugf("Step %d: mass %.4f volume %.1f max vel %.4f filled %d emptied %d",
			st.Step, st.Mass, st.Volume, st.MaxVelocity, st.Filled, st.Emptied)
	}
	return nil
}

func (s *Solver) collectStats(elapsed time.Duration) {
	st := &s.stats
	st.Step = s.stepCount
	st.Time = s.time
	st.Timestep = s.levels[s.finest].timestep
	st.Mass, st.Volume = 0, 0
	for _, L := range s.levels {
		st.Mass += L.mass
		st.Volume += L.volume
	}
	st.TotalCells += int64(st.CellsUsed)
	sec := elapsed.Seconds()
	st.ElapsedSeconds += sec
	st.MLUPS = 0
	if sec > 0 {
		st.MLUPS = float64(st.CellsUsed) / sec / 1e6
	}
}

// Run performs steps until n steps have completed, ctx is cancelled, or a
// step fails.
func (s *Solver) Run(ctx context.Context, n int) error {
	for i := 0; i < n; i++ {
		if err := ctx.Err(); err != nil {
			return err
		}
		if err := s.Step(); err != nil {
			return err
		}
	}
	return nil
}

// Stats returns a snapshot of the statistics.
func (s *Solver) Stats() Stats { return s.stats }

// Panicked reports whether a non-finite value stopped the simulation.
func (s *Solver) Panicked() bool { return s.panicReason != "" }

// PanicReason describes the cell that stopped the simulation, or "".
func (s *Solver) PanicReason() string { return s.panicReason }

// MeasureMass scans the current state of every level and returns the total
// mass (fluid density plus interface mass, plus the fix-mass pool) and
// filled volume, both in finest-cell units. Transition and unused cells do
// not count; coarse cells are weighted by their volume and flux weight.
func (s *Solver) MeasureMass() (mass, volume float64) {
	for _, L := range s.levels {
		set := L.Current()
		s.forInner(L, func(idx int) {
			f := L.Flag(set, idx)
			if f&(cell.GridFromCoarse|cell.GridFromFine|cell.Unused) != 0 {
				return
			}
			w := s.cellWeight(L, set, idx)
			switch {
			case f&cell.Fluid != 0:
				rho, _ := s.model.Moments(L.DFs(set, idx))
				mass += rho * w
				volume += w
			case f&cell.Interface != 0:
				mass += L.Mass(set, idx) * w
				volume += L.Fill(set, idx) * w
			}
		})
	}
	return mass + s.fixMass, volume
}
