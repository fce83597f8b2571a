package sim

import (
	"fmt"
	"math"

	"github.com/sirupsen/logrus"
	"gonum.org/v1/gonum/spatial/r3"

	"github.com/lbm-sim/lbm-sim/sim/cell"
	"github.com/lbm-sim/lbm-sim/sim/geometry"
	"github.com/lbm-sim/lbm-sim/sim/grid"
	"github.com/lbm-sim/lbm-sim/sim/lattice"
	"github.com/lbm-sim/lbm-sim/sim/particles"
	"github.com/lbm-sim/lbm-sim/sim/trace"
)

// FluxInit is the flux weight of a cell that does not border a finer level.
const FluxInit = 1.0

// levelState is one resolution of the grid hierarchy with its lattice
// parameters. Level 0 is the coarsest.
type levelState struct {
	*grid.Level

	id         int
	scale      int     // finest-level cells per cell edge
	cellSize   float64 // world units
	timestep   float64 // seconds per step of this level
	omega      float64
	gravity    r3.Vec  // lattice units
	cellVolume float64 // finest-level cell volumes covered by one cell

	steps   int
	stepped bool // advanced during the current finest-level step

	mass, volume float64 // accumulated by the last kernel pass
	cellsUsed    int

	mbnd  map[int]int // inflow cell -> moving object
	lists worklists
	need  []bool // refinement scratch, coarse levels only
}

// worklists are the cell offsets the kernel hands to the surface reinit.
type worklists struct {
	full, empty, newInter []int
}

// Solver is a free-surface, multi-level lattice Boltzmann solver.
// Not safe for concurrent use; the kernel parallelises internally.
type Solver struct {
	cfg    Config
	model  *lattice.Model
	levels []*levelState
	finest int

	lo, hi    r3.Vec // world domain
	domainBnd cell.Flag
	axisDir   [3][2]int // [axis][0] = +axis, [1] = -axis
	dirLUT    [27]int

	objects      []MovingObject
	objectSpeeds []r3.Vec // lattice units at the current time and timestep

	fixMass     float64
	initialMass float64
	stepCount   int
	time        float64
	stats       Stats

	rng       *PartitionedRNG
	results   []*sweepResult
	particles *particles.Store
	trace     *trace.SimulationTrace

	highCount, lowCount, holdOff int

	panicReason string
	initialized bool
}

// NewSolver validates cfg and returns an uninitialised solver.
func NewSolver(cfg Config) (*Solver, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	model, err := lattice.ForDimension(cfg.Domain.Dimensions)
	if err != nil {
		return nil, err
	}
	s := &Solver{
		cfg:       cfg,
		model:     model,
		finest:    cfg.Refinement.MaxLevel,
		rng:       NewPartitionedRNG(NewSimulationKey(cfg.Seed)),
		particles: particles.NewStore(cfg.Particles.MaxParticles),
		trace:     trace.NewSimulationTrace(trace.TraceLevelNone),
	}
	for i := range s.dirLUT {
		s.dirLUT[i] = -1
	}
	for l, e := range model.E {
		s.dirLUT[lutKey(e)] = l
	}
	for a := 0; a < 3; a++ {
		var plus, minus [3]int
		plus[a], minus[a] = 1, -1
		s.axisDir[a] = [2]int{s.dirLUT[lutKey(plus)], s.dirLUT[lutKey(minus)]}
	}
	switch cfg.Domain.Boundary {
	case BoundaryFreeSlip:
		s.domainBnd = cell.BndFreeSlip
	case BoundaryPartSlip:
		s.domainBnd = cell.BndPartSlip
	default:
		s.domainBnd = cell.BndNoSlip
	}
	workers := cfg.Parallel.Workers
	if workers < 1 {
		workers = 1
	}
	for w := 0; w < workers; w++ {
		r := &sweepResult{}
		if cfg.Particles.GenerationProbability > 0 {
			if workers == 1 {
				r.rng = s.rng.ForSubsystem(SubsystemParticles)
			} else {
				r.rng = s.rng.ForSubsystem(SubsystemWorker(w))
			}
		}
		s.results = append(s.results, r)
	}
	return s, nil
}

func lutKey(e [3]int) int { return (e[0] + 1) + 3*(e[1]+1) + 9*(e[2]+1) }

// SetTrace attaches a trace collector; nil disables tracing.
func (s *Solver) SetTrace(t *trace.SimulationTrace) { s.trace = t }

// Config returns the configuration the solver was built with.
func (s *Solver) Config() Config { return s.cfg }

// Initialize allocates the level hierarchy, rasterises the geometry on every
// level, seeds the free surface and the refinement tags, and measures the
// initial mass. It may be called once.
func (s *Solver) Initialize(r geometry.Rasterizer, objects []MovingObject) error {
	if s.initialized {
		return ErrAlreadyInitialized
	}
	s.lo, s.hi = r.Bounds()
	s.objects = append([]MovingObject(nil), objects...)
	s.objectSpeeds = make([]r3.Vec, len(objects))

	res := s.cfg.Domain.Resolution
	extent := s.hi.X - s.lo.X
	if extent <= 0 {
		return fmt.Errorf("domain extent along x must be positive, got %g", extent)
	}
	dx := extent / float64(res[0])

	s.levels = make([]*levelState, s.finest+1)
	for lev := 0; lev <= s.finest; lev++ {
		scale := 1 << (s.finest - lev)
		var size [3]int
		for a := 0; a < 3; a++ {
			size[a] = res[a]/scale + 2
		}
		gl, err := grid.New(s.model, size)
		if err != nil {
			return fmt.Errorf("level %d: %w", lev, err)
		}
		L := &levelState{
			Level:      gl,
			id:         lev,
			scale:      scale,
			cellSize:   dx * float64(scale),
			cellVolume: math.Pow(float64(scale), float64(s.model.Dim)),
			mbnd:       make(map[int]int),
		}
		if lev < s.finest {
			L.need = make([]bool, gl.Len())
		}
		s.levels[lev] = L
	}
	s.setLevelParameters(s.cfg.Physics.Timestep)
	s.updateObjectSpeeds()

	for _, L := range s.levels {
		if err := s.rasterize(L, r); err != nil {
			return err
		}
	}
	s.initFreeSurface(s.levels[s.finest])
	for c := s.finest - 1; c >= 0; c-- {
		s.adaptLevelPair(c)
	}
	for _, L := range s.levels {
		cur := L.Current()
		for idx := 0; idx < L.Len(); idx++ {
			L.CopyCell(cur, L.Other(), idx)
		}
	}

	s.initialMass, _ = s.MeasureMass()
	s.stats.InitialMass = s.initialMass
	s.stats.Timestep = s.cfg.Physics.Timestep
	s.initialized = true

	fine := s.levels[s.finest]
	logrus.Infof("Initialized %s solver: %d level(s), finest %v cells, omega %.5f, initial mass %.4f",
		s.model.Name, len(s.levels), fine.Size, fine.omega, s.initialMass)
	if fine.omega > 1.99 {
		logrus.Warnf("Finest-level omega %.5f is close to the stability limit; consider smagorinsky > 0", fine.omega)
	}
	return nil
}

// setLevelParameters derives every level's timestep, relaxation and gravity
// from the finest-level timestep dt. Viscosity halves and gravity doubles
// per coarser level; the lattice velocity scale is shared.
func (s *Solver) setLevelParameters(dt float64) {
	nu := s.cfg.Physics.Viscosity
	g := s.cfg.Physics.Gravity
	for _, L := range s.levels {
		L.timestep = dt * float64(L.scale)
		nuLat := nu * L.timestep / (L.cellSize * L.cellSize)
		L.omega = lattice.OmegaFromViscosity(nuLat)
		L.gravity = r3.Scale(L.timestep*L.timestep/L.cellSize, g)
	}
}

// updateObjectSpeeds converts object velocities at the current time into
// lattice units, which are the same on every level.
func (s *Solver) updateObjectSpeeds() {
	fine := s.levels[s.finest]
	conv := fine.timestep / fine.cellSize
	for i := range s.objects {
		s.objectSpeeds[i] = r3.Scale(conv, s.objects[i].velocityAt(s.time))
	}
}

// cellPos is the world position of the centre of cell (i, j, k) of L. Inner
// cell i covers [i-1, i) cell sizes from the domain origin on every level, so
// coarse cell c spans fine cells 2c-1 and 2c.
func (s *Solver) cellPos(L *levelState, i, j, k int) r3.Vec {
	h := L.cellSize
	p := r3.Vec{
		X: s.lo.X + (float64(i)-0.5)*h,
		Y: s.lo.Y + (float64(j)-0.5)*h,
		Z: s.lo.Z + (float64(k)-0.5)*h,
	}
	if s.model.Dim == 2 {
		p.Z = 0.5 * (s.lo.Z + s.hi.Z)
	}
	return p
}

func (s *Solver) isHalo(L *levelState, i, j, k int) bool {
	c := [3]int{i, j, k}
	for a := 0; a < s.model.Dim; a++ {
		if c[a] == 0 || c[a] == L.Size[a]-1 {
			return true
		}
	}
	return false
}

// rasterize classifies every cell of L and writes its initial state into the
// current set.
func (s *Solver) rasterize(L *levelState, r geometry.Rasterizer) error {
	set := L.Current()
	gridTag := cell.GridNormal
	if L.id < s.finest {
		gridTag = cell.GridFromFine
	}
	var rest [lattice.MaxQ]float64
	s.model.EquilibriumAll(1, r3.Vec{}, rest[:s.model.Q])

	for k := 0; k < L.Size[2]; k++ {
		for j := 0; j < L.Size[1]; j++ {
			for i := 0; i < L.Size[0]; i++ {
				idx := L.Index(i, j, k)
				L.SetFlux(set, idx, FluxInit)
				if s.isHalo(L, i, j, k) {
					L.SetFlag(set, idx, cell.Boundary|s.domainBnd)
					L.SetMass(set, idx, -1)
					continue
				}
				smp := r.Classify(s.cellPos(L, i, j, k))
				if smp.Object >= len(s.objects) {
					return fmt.Errorf("cell (%d,%d,%d) on level %d references object %d of %d",
						i, j, k, L.id, smp.Object, len(s.objects))
				}
				switch smp.Kind {
				case geometry.KindObstacle:
					f := cell.Boundary | cell.BndNoSlip
					if smp.Object >= 0 {
						f = cell.Boundary | cell.BndNoSlip | cell.BndMoving
						if s.objects[smp.Object].PartSlip > 0 {
							f = cell.Boundary | cell.BndPartSlip | cell.BndMoving
						}
					}
					L.SetFlag(set, idx, f)
					L.SetMass(set, idx, float64(smp.Object))
				case geometry.KindFluid:
					copy(L.DFs(set, idx), rest[:s.model.Q])
					L.SetMass(set, idx, 1)
					L.SetFill(set, idx, 1)
					L.SetFlag(set, idx, cell.Fluid|gridTag)
				case geometry.KindInflow:
					if smp.Object < 0 {
						return fmt.Errorf("inflow cell (%d,%d,%d) on level %d has no object", i, j, k, L.id)
					}
					L.mbnd[idx] = smp.Object
					L.SetFlag(set, idx, cell.Empty|cell.MbndInflow|gridTag)
				case geometry.KindOutflow:
					L.SetFlag(set, idx, cell.Empty|cell.MbndOutflow|gridTag)
				default:
					L.SetFlag(set, idx, cell.Empty|gridTag)
				}
			}
		}
	}
	return nil
}

// initFreeSurface turns fluid cells touching gas into half-filled interface
// cells and computes the derived neighbourhood bits.
func (s *Solver) initFreeSurface(L *levelState) {
	set := L.Current()
	q := s.model.Q
	var toInterface []int
	s.forInner(L, func(idx int) {
		if L.Flag(set, idx)&cell.Fluid == 0 {
			return
		}
		for l := 1; l < q; l++ {
			if L.Flag(set, L.Neighbor(idx, l))&cell.Empty != 0 {
				toInterface = append(toInterface, idx)
				return
			}
		}
	})
	for _, idx := range toInterface {
		L.SetFlag(set, idx, cell.Transition(L.Flag(set, idx), cell.Interface))
		L.SetMass(set, idx, 0.5)
		L.SetFill(set, idx, 0.5)
	}
	s.forInner(L, func(idx int) {
		if L.Flag(set, idx)&cell.FluidOrInter != 0 {
			s.refreshDerived(L, set, idx)
		}
	})
	logrus.Debugf("Level %d: %d interface cells seeded", L.id, len(toInterface))
}

// forInner calls fn for every inner cell of L in memory order.
func (s *Solver) forInner(L *levelState, fn func(idx int)) {
	ilo, ihi := L.InnerRange(0)
	jlo, jhi := L.InnerRange(1)
	klo, khi := L.InnerRange(2)
	for k := klo; k < khi; k++ {
		for j := jlo; j < jhi; j++ {
			for i := ilo; i < ihi; i++ {
				fn(L.Index(i, j, k))
			}
		}
	}
}

// refreshDerived recomputes the neighbourhood bits of cell idx in set.
func (s *Solver) refreshDerived(L *levelState, set, idx int) {
	f := L.Flag(set, idx) &^ cell.DerivedMask
	noFluid, noEmpty, noBnd := true, true, true
	for l := 1; l < s.model.Q; l++ {
		nf := L.Flag(set, L.Neighbor(idx, l))
		switch {
		case nf&cell.Fluid != 0:
			noFluid = false
		case nf&cell.Empty != 0:
			noEmpty = false
		case nf&(cell.Boundary|cell.Unused) != 0:
			noBnd = false
		}
	}
	L.SetFlag(set, idx, f|derivedBits(noFluid, noEmpty, noBnd))
}

func derivedBits(noFluid, noEmpty, noBnd bool) cell.Flag {
	var f cell.Flag
	if noFluid {
		f |= cell.NoNbFluid
	}
	if noEmpty {
		f |= cell.NoNbEmpty
	}
	if noBnd {
		f |= cell.NoBndFluid
	}
	return f
}
