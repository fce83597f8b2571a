package sim

import (
	"math"

	"gonum.org/v1/gonum/spatial/r3"

	"github.com/lbm-sim/lbm-sim/sim/cell"
	"github.com/lbm-sim/lbm-sim/sim/particles"
)

// Particles returns the particle store.
func (s *Solver) Particles() *particles.Store { return s.particles }

// InitParticles seeds up to n tracer particles at random fluid positions and
// returns how many were placed.
func (s *Solver) InitParticles(n int) (int, error) {
	if !s.initialized {
		return 0, ErrNotInitialized
	}
	rng := s.rng.ForSubsystem(SubsystemTracers)
	ext := r3.Sub(s.hi, s.lo)
	placed := 0
	for tries := 0; placed < n && tries < 10*n; tries++ {
		p := r3.Vec{
			X: s.lo.X + rng.Float64()*ext.X,
			Y: s.lo.Y + rng.Float64()*ext.Y,
			Z: s.lo.Z + rng.Float64()*ext.Z,
		}
		if s.model.Dim == 2 {
			p.Z = 0.5 * (s.lo.Z + s.hi.Z)
		}
		if _, inFluid, _ := s.Sample(p); !inFluid {
			continue
		}
		if !s.particles.Add(particles.Particle{Pos: p, Type: particles.Tracer}) {
			break
		}
		placed++
	}
	return placed, nil
}

// AdvanceParticles moves all particles by one finest-level timestep.
func (s *Solver) AdvanceParticles() {
	if s.particles.Len() == 0 {
		return
	}
	s.particles.Advance(s.levels[s.finest].timestep, s.cfg.Physics.Gravity, s)
}

// Sample implements particles.Field: world velocity of the finest level
// holding state at p, resolving unused and transition cells on coarser levels.
func (s *Solver) Sample(p r3.Vec) (u r3.Vec, inFluid, inside bool) {
	if p.X < s.lo.X || p.Y < s.lo.Y || p.X > s.hi.X || p.Y > s.hi.Y {
		return u, false, false
	}
	if s.model.Dim == 3 && (p.Z < s.lo.Z || p.Z > s.hi.Z) {
		return u, false, false
	}
	dx := s.levels[s.finest].cellSize
	for lev := s.finest; lev >= 0; lev-- {
		L := s.levels[lev]
		pos := [3]float64{(p.X - s.lo.X) / dx, (p.Y - s.lo.Y) / dx, (p.Z - s.lo.Z) / dx}
		var c [3]int
		for a := 0; a < s.model.Dim; a++ {
			// level cell c covers finest cells [(c-1)*scale, c*scale)
			c[a] = int(math.Floor(pos[a]/float64(L.scale))) + 1
			c[a] = min(max(c[a], 1), L.Size[a]-2)
		}
		set := L.Current()
		idx := L.Index(c[0], c[1], c[2])
		f := L.Flag(set, idx)
		if f&(cell.Unused|cell.GridFromFine) != 0 && lev > 0 {
			continue
		}
		if f&cell.FluidOrInter == 0 {
			return u, false, true
		}
		_, ul := s.model.Moments(L.DFs(set, idx))
		return r3.Scale(L.cellSize/L.timestep, ul), true, true
	}
	return u, false, true
}
