package sim

import (
	"fmt"
	"math"

	"go.uber.org/multierr"
	"gonum.org/v1/gonum/spatial/r3"
)

// Boundary types of the domain walls.
const (
	BoundaryNoSlip   = "noslip"
	BoundaryFreeSlip = "freeslip"
	BoundaryPartSlip = "partslip"
)

// DomainConfig groups the grid layout and wall treatment.
type DomainConfig struct {
	Dimensions        int     `yaml:"dimensions"`         // 2 or 3
	Resolution        [3]int  `yaml:"resolution"`         // inner cells of the finest level per axis
	Boundary          string  `yaml:"boundary"`           // noslip (default), freeslip, partslip
	SlipCoefficient   float64 `yaml:"slip_coefficient"`   // share of free slip for partslip walls, in [0,1]
	PreviewDownsample int     `yaml:"preview_downsample"` // surface preview factor (1 = full resolution)
}

// PhysicsConfig groups the physical parameters, in world units.
type PhysicsConfig struct {
	Viscosity          float64 `yaml:"viscosity"` // kinematic viscosity, m^2/s
	Gravity            r3.Vec  `yaml:"gravity"`   // m/s^2
	Timestep           float64 `yaml:"timestep"`  // initial finest-level timestep, s
	Smagorinsky        float64 `yaml:"smagorinsky"`
	MaxLatticeVelocity float64 `yaml:"max_lattice_velocity"` // allowed maximum, lattice units
}

// FreeSurfaceConfig holds the promotion / demotion policy constants.
type FreeSurfaceConfig struct {
	MagicNumber        float64 `yaml:"magic_number"`         // slack around [0, rho] before a cell flips
	ListThresholdEmpty float64 `yaml:"list_threshold_empty"` // share of rho below which a cell without fluid neighbours empties
	ListThresholdFull  float64 `yaml:"list_threshold_full"`  // share of rho above which a cell without empty neighbours fills
	MassRescale        bool    `yaml:"mass_rescale"`         // experimental drift correction, off by default
	MassRescaleDrift   float64 `yaml:"mass_rescale_drift"`   // relative drift that triggers it
}

// TimeAdaptConfig controls adaptive timestepping.
type TimeAdaptConfig struct {
	Enabled        bool    `yaml:"enabled"`
	MinTimestep    float64 `yaml:"min_timestep"`
	MaxTimestep    float64 `yaml:"max_timestep"`
	HighSteps      int     `yaml:"high_steps"`       // consecutive over-limit steps before shrinking
	LowSteps       int     `yaml:"low_steps"`        // consecutive slow steps before growing
	LowFraction    float64 `yaml:"low_fraction"`     // "slow" means below this share of the maximum
	VeryHighFactor float64 `yaml:"very_high_factor"` // immediate shrink above this multiple of the maximum
	HoldOff        int     `yaml:"hold_off"`         // steps without changes after a change
	BruteForce     bool    `yaml:"brute_force"`      // clamp cells still too fast after rescaling
}

// RefinementConfig controls the multi-level grid.
type RefinementConfig struct {
	MaxLevel int `yaml:"max_level"` // 0 = single level
	Margin   int `yaml:"margin"`    // fine cells kept refined around the surface
}

// ParticleConfig controls drop emission and tracers.
type ParticleConfig struct {
	GenerationProbability float64 `yaml:"generation_probability"` // 0 disables emission
	Tracers               int     `yaml:"tracers"`
	MaxParticles          int     `yaml:"max_particles"`
}

// ParallelConfig controls the slab-parallel kernel.
type ParallelConfig struct {
	Workers int `yaml:"workers"` // <= 1 runs single-threaded
}

// Config is the complete solver configuration.
type Config struct {
	Seed        int64             `yaml:"seed"`
	Domain      DomainConfig      `yaml:"domain"`
	Physics     PhysicsConfig     `yaml:"physics"`
	FreeSurface FreeSurfaceConfig `yaml:"free_surface"`
	TimeAdapt   TimeAdaptConfig   `yaml:"time_adapt"`
	Refinement  RefinementConfig  `yaml:"refinement"`
	Particles   ParticleConfig    `yaml:"particles"`
	Parallel    ParallelConfig    `yaml:"parallel"`
}

// DefaultConfig returns the reference configuration: a 3D, single-level
// 32^3 domain of water under gravity with no-slip walls.
func DefaultConfig() Config {
	return Config{
		Seed: 42,
		Domain: DomainConfig{
			Dimensions:        3,
			Resolution:        [3]int{32, 32, 32},
			Boundary:          BoundaryNoSlip,
			PreviewDownsample: 1,
		},
		Physics: PhysicsConfig{
			Viscosity:          1e-6,
			Gravity:            r3.Vec{Y: -9.81},
			Timestep:           2e-3,
			MaxLatticeVelocity: 0.1,
		},
		FreeSurface: FreeSurfaceConfig{
			MagicNumber:        0.025,
			ListThresholdEmpty: 0.10,
			ListThresholdFull:  0.90,
			MassRescaleDrift:   0.01,
		},
		TimeAdapt: TimeAdaptConfig{
			MinTimestep:    1e-5,
			MaxTimestep:    1e-2,
			HighSteps:      3,
			LowSteps:       50,
			LowFraction:    0.3,
			VeryHighFactor: 1.5,
			HoldOff:        10,
		},
		Refinement: RefinementConfig{
			Margin: 3,
		},
		Particles: ParticleConfig{
			MaxParticles: 100000,
		},
		Parallel: ParallelConfig{
			Workers: 1,
		},
	}
}

var validBoundaries = map[string]bool{
	"": true, BoundaryNoSlip: true, BoundaryFreeSlip: true, BoundaryPartSlip: true,
}

// MaxRefinementLevel bounds Refinement.MaxLevel (six levels in total).
const MaxRefinementLevel = 5

// Validate checks every field and returns all problems at once.
func (c *Config) Validate() error {
	var errs error
	add := func(format string, args ...any) {
		errs = multierr.Append(errs, fmt.Errorf(format, args...))
	}

	if c.Domain.Dimensions != 2 && c.Domain.Dimensions != 3 {
		add("domain.dimensions must be 2 or 3, got %d", c.Domain.Dimensions)
	}
	if !validBoundaries[c.Domain.Boundary] {
		add("unknown domain.boundary %q; valid: noslip, freeslip, partslip", c.Domain.Boundary)
	}
	if c.Domain.SlipCoefficient < 0 || c.Domain.SlipCoefficient > 1 {
		add("domain.slip_coefficient must be in [0,1], got %g", c.Domain.SlipCoefficient)
	}
	if c.Domain.PreviewDownsample < 0 {
		add("domain.preview_downsample must be non-negative, got %d", c.Domain.PreviewDownsample)
	}
	if c.Refinement.MaxLevel < 0 || c.Refinement.MaxLevel > MaxRefinementLevel {
		add("refinement.max_level must be in [0,%d], got %d", MaxRefinementLevel, c.Refinement.MaxLevel)
	} else {
		unit := 1 << c.Refinement.MaxLevel // refined levels need even inner counts
		for a := 0; a < c.Domain.Dimensions && a < 3; a++ {
			r := c.Domain.Resolution[a]
			if r < unit || r%unit != 0 {
				add("domain.resolution[%d]=%d must be a positive multiple of %d for max_level %d",
					a, r, unit, c.Refinement.MaxLevel)
			}
		}
	}
	if c.Refinement.Margin < 1 {
		add("refinement.margin must be at least 1, got %d", c.Refinement.Margin)
	}

	if err := validateFinitePositive("physics.viscosity", c.Physics.Viscosity); err != nil {
		errs = multierr.Append(errs, err)
	}
	if err := validateFinitePositive("physics.timestep", c.Physics.Timestep); err != nil {
		errs = multierr.Append(errs, err)
	}
	if err := validateFinitePositive("physics.max_lattice_velocity", c.Physics.MaxLatticeVelocity); err != nil {
		errs = multierr.Append(errs, err)
	}
	if c.Physics.Smagorinsky < 0 {
		add("physics.smagorinsky must be non-negative, got %g", c.Physics.Smagorinsky)
	}
	g := c.Physics.Gravity
	if math.IsNaN(g.X+g.Y+g.Z) || math.IsInf(g.X+g.Y+g.Z, 0) {
		add("physics.gravity must be finite, got %v", g)
	}

	fs := c.FreeSurface
	if fs.MagicNumber < 0 || fs.MagicNumber >= 0.5 {
		add("free_surface.magic_number must be in [0,0.5), got %g", fs.MagicNumber)
	}
	if !(fs.ListThresholdEmpty >= 0 && fs.ListThresholdEmpty < fs.ListThresholdFull && fs.ListThresholdFull <= 1) {
		add("free_surface list thresholds must satisfy 0 <= empty (%g) < full (%g) <= 1",
			fs.ListThresholdEmpty, fs.ListThresholdFull)
	}
	if fs.MassRescale && fs.MassRescaleDrift <= 0 {
		add("free_surface.mass_rescale_drift must be positive, got %g", fs.MassRescaleDrift)
	}

	ta := c.TimeAdapt
	if ta.Enabled {
		if ta.MinTimestep <= 0 || ta.MaxTimestep < ta.MinTimestep {
			add("time_adapt timestep bounds must satisfy 0 < min (%g) <= max (%g)", ta.MinTimestep, ta.MaxTimestep)
		}
		if ta.HighSteps < 0 || ta.LowSteps < 0 || ta.HoldOff < 0 {
			add("time_adapt step counts must be non-negative")
		}
		if ta.LowFraction <= 0 || ta.LowFraction >= 1 {
			add("time_adapt.low_fraction must be in (0,1), got %g", ta.LowFraction)
		}
		if ta.VeryHighFactor < 1 {
			add("time_adapt.very_high_factor must be >= 1, got %g", ta.VeryHighFactor)
		}
	}

	if c.Particles.GenerationProbability < 0 || c.Particles.GenerationProbability > 1 {
		add("particles.generation_probability must be in [0,1], got %g", c.Particles.GenerationProbability)
	}
	if c.Particles.Tracers < 0 || c.Particles.MaxParticles < 0 {
		add("particles counts must be non-negative")
	}
	if c.Parallel.Workers < 0 {
		add("parallel.workers must be non-negative, got %d", c.Parallel.Workers)
	}
	return errs
}

func validateFinitePositive(name string, val float64) error {
	if math.IsNaN(val) || math.IsInf(val, 0) {
		return fmt.Errorf("%s must be a finite number, got %f", name, val)
	}
	if val <= 0 {
		return fmt.Errorf("%s must be positive, got %g", name, val)
	}
	return nil
}
