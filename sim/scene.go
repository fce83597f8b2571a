package sim

import (
	"bytes"
	"fmt"
	"math"
	"os"

	"go.uber.org/multierr"
	"gonum.org/v1/gonum/spatial/r3"
	"gopkg.in/yaml.v3"

	"github.com/lbm-sim/lbm-sim/sim/geometry"
)

// MovingObject gives obstacle and inflow shapes a wall velocity.
type MovingObject struct {
	Name     string  `yaml:"name"`
	Velocity r3.Vec  `yaml:"velocity"`  // m/s
	Ramp     float64 `yaml:"ramp"`      // seconds to reach full speed from rest, 0 = immediate
	PartSlip float64 `yaml:"part_slip"` // slip share for this object's walls, in [0,1]
}

// velocityAt returns the world velocity at simulation time t.
func (o *MovingObject) velocityAt(t float64) r3.Vec {
	if o.Ramp <= 0 || t >= o.Ramp {
		return o.Velocity
	}
	return r3.Scale(t/o.Ramp, o.Velocity)
}

// SceneFile is the on-disk layout of a scene: configuration, moving objects
// and geometry in one document.
type SceneFile struct {
	Config   Config         `yaml:"config"`
	Objects  []MovingObject `yaml:"objects"`
	Geometry geometry.Scene `yaml:"geometry"`
}

// LoadScene reads and parses a YAML scene. Uses strict parsing: unrecognized
// keys (typos) are rejected. Missing config fields keep their defaults.
func LoadScene(path string) (*SceneFile, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading scene: %w", err)
	}
	return ParseScene(data)
}

// ParseScene parses a scene document. See LoadScene.
func ParseScene(data []byte) (*SceneFile, error) {
	sc := SceneFile{Config: DefaultConfig()}
	decoder := yaml.NewDecoder(bytes.NewReader(data))
	decoder.KnownFields(true)
	if err := decoder.Decode(&sc); err != nil {
		return nil, fmt.Errorf("parsing scene: %w", err)
	}
	return &sc, nil
}

// Validate checks config, objects and geometry, returning every problem.
func (sf *SceneFile) Validate() error {
	errs := sf.Config.Validate()
	for i, o := range sf.Objects {
		if o.PartSlip < 0 || o.PartSlip > 1 {
			errs = multierr.Append(errs, fmt.Errorf("object %d (%s): part_slip must be in [0,1], got %g", i, o.Name, o.PartSlip))
		}
		if o.Ramp < 0 || math.IsNaN(o.Ramp) {
			errs = multierr.Append(errs, fmt.Errorf("object %d (%s): ramp must be non-negative, got %g", i, o.Name, o.Ramp))
		}
	}
	errs = multierr.Append(errs, sf.Geometry.Validate(len(sf.Objects)))
	return errs
}
