// Package particles is the particle store the solver hands droplets and
// tracer particles to. It has no knowledge of the lattice; the solver passes
// a Field to sample fluid velocity when advancing.
package particles

import "gonum.org/v1/gonum/spatial/r3"

// Type distinguishes advected tracers from ballistic drops.
type Type uint8

const (
	// Tracer particles follow the fluid velocity.
	Tracer Type = iota
	// Drop particles are spray emitted from the surface; they fly under gravity
	// until they re-enter fluid or leave the domain.
	Drop
)

// Particle is a single point in world coordinates.
type Particle struct {
	Pos   r3.Vec
	Vel   r3.Vec
	Type  Type
	Size  float64
	Alive bool
}

// Field samples the fluid at a world position. inFluid reports a fluid or
// interface cell, inside whether p lies in the simulation domain at all.
type Field interface {
	Sample(p r3.Vec) (u r3.Vec, inFluid, inside bool)
}

// Store holds all live and recently dead particles.
type Store struct {
	ps      []Particle
	born    int
	died    int
	maxSize int
}

// NewStore returns a store that keeps at most maxSize particles (0 = unlimited).
func NewStore(maxSize int) *Store {
	return &Store{maxSize: maxSize}
}

// Add inserts a particle. It returns false when the store is full.
func (s *Store) Add(p Particle) bool {
	if s.maxSize > 0 && len(s.ps) >= s.maxSize {
		return false
	}
	p.Alive = true
	s.ps = append(s.ps, p)
	s.born++
	return true
}

// Particles returns the backing slice; callers must not retain it across Advance.
func (s *Store) Particles() []Particle { return s.ps }

// Len is the number of stored particles.
func (s *Store) Len() int { return len(s.ps) }

// Born and Died are lifetime counters.
func (s *Store) Born() int { return s.born }
func (s *Store) Died() int { return s.died }

// Advance moves every particle by dt seconds and drops dead ones.
func (s *Store) Advance(dt float64, gravity r3.Vec, f Field) {
	for i := range s.ps {
		p := &s.ps[i]
		switch p.Type {
		case Tracer:
			u, inFluid, inside := f.Sample(p.Pos)
			if !inside {
				p.Alive = false
				continue
			}
			if inFluid {
				p.Vel = u
			} else {
				p.Vel = r3.Add(p.Vel, r3.Scale(dt, gravity))
			}
			p.Pos = r3.Add(p.Pos, r3.Scale(dt, p.Vel))
		case Drop:
			p.Vel = r3.Add(p.Vel, r3.Scale(dt, gravity))
			p.Pos = r3.Add(p.Pos, r3.Scale(dt, p.Vel))
			_, inFluid, inside := f.Sample(p.Pos)
			if inFluid || !inside {
				p.Alive = false
			}
		}
	}
	s.compact()
}

func (s *Store) compact() {
	n := 0
	for _, p := range s.ps {
		if p.Alive {
			s.ps[n] = p
			n++
		} else {
			s.died++
		}
	}
	s.ps = s.ps[:n]
}
