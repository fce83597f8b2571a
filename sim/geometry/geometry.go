// Package geometry provides the rasterized geometry classification consumed by
// solver initialization. The solver only depends on the Rasterizer interface;
// Scene is a primitive-based implementation (boxes and spheres) loaded from
// YAML scene files. Mesh voxelization is left to other implementations.
package geometry

import (
	"fmt"
	"math"

	"go.uber.org/multierr"
	"gonum.org/v1/gonum/spatial/r3"
)

// Kind is the classification of a point in the domain at t=0.
type Kind uint8

const (
	KindEmpty Kind = iota
	KindFluid
	KindObstacle
	KindInflow
	KindOutflow
)

var kindNames = map[string]Kind{
	"empty":    KindEmpty,
	"fluid":    KindFluid,
	"obstacle": KindObstacle,
	"inflow":   KindInflow,
	"outflow":  KindOutflow,
}

func (k Kind) String() string {
	for name, v := range kindNames {
		if v == k {
			return name
		}
	}
	return fmt.Sprintf("Kind(%d)", uint8(k))
}

// ParseKind maps a scene-file kind name to a Kind.
func ParseKind(name string) (Kind, error) {
	k, ok := kindNames[name]
	if !ok {
		return 0, fmt.Errorf("unknown geometry kind %q; valid: empty, fluid, obstacle, inflow, outflow", name)
	}
	return k, nil
}

// Sample is the classification of one point. Object indexes the moving-object
// list handed to the solver, or is -1 for static geometry.
type Sample struct {
	Kind   Kind
	Object int
}

// Rasterizer classifies world positions inside an axis-aligned domain.
type Rasterizer interface {
	Bounds() (lo, hi r3.Vec)
	Classify(p r3.Vec) Sample
}

// Shape is one primitive of a Scene.
type Shape struct {
	Name   string  `yaml:"name"`
	Type   string  `yaml:"type"` // "box" or "sphere"
	Kind   string  `yaml:"kind"`
	Min    r3.Vec  `yaml:"min,omitempty"`
	Max    r3.Vec  `yaml:"max,omitempty"`
	Center r3.Vec  `yaml:"center,omitempty"`
	Radius float64 `yaml:"radius,omitempty"`
	Object *int    `yaml:"object,omitempty"` // index into the scene's moving objects

	kind Kind
}

// Contains reports whether p lies inside the shape.
func (s *Shape) Contains(p r3.Vec) bool {
	switch s.Type {
	case "box":
		return p.X >= s.Min.X && p.X <= s.Max.X &&
			p.Y >= s.Min.Y && p.Y <= s.Max.Y &&
			p.Z >= s.Min.Z && p.Z <= s.Max.Z
	case "sphere":
		return r3.Norm2(r3.Sub(p, s.Center)) <= s.Radius*s.Radius
	}
	return false
}

// Scene is a list of primitives inside a box domain. Later shapes override
// earlier ones; points covered by no shape are empty.
type Scene struct {
	DomainMin r3.Vec  `yaml:"domain_min"`
	DomainMax r3.Vec  `yaml:"domain_max"`
	Shapes    []Shape `yaml:"shapes"`
}

// Validate checks every shape and resolves kind names. It returns all
// problems at once.
func (sc *Scene) Validate(numObjects int) error {
	var errs error
	d := r3.Sub(sc.DomainMax, sc.DomainMin)
	if d.X <= 0 || d.Y <= 0 || d.Z < 0 {
		errs = multierr.Append(errs, fmt.Errorf("domain_max must exceed domain_min, got %v..%v", sc.DomainMin, sc.DomainMax))
	}
	for i := range sc.Shapes {
		s := &sc.Shapes[i]
		prefix := fmt.Sprintf("shape[%d]", i)
		if s.Name != "" {
			prefix = fmt.Sprintf("shape %q", s.Name)
		}
		k, err := ParseKind(s.Kind)
		if err != nil {
			errs = multierr.Append(errs, fmt.Errorf("%s: %w", prefix, err))
		}
		s.kind = k
		switch s.Type {
		case "box":
			e := r3.Sub(s.Max, s.Min)
			if e.X < 0 || e.Y < 0 || e.Z < 0 {
				errs = multierr.Append(errs, fmt.Errorf("%s: box max below min", prefix))
			}
		case "sphere":
			if s.Radius <= 0 || math.IsNaN(s.Radius) {
				errs = multierr.Append(errs, fmt.Errorf("%s: sphere radius must be positive, got %g", prefix, s.Radius))
			}
		default:
			errs = multierr.Append(errs, fmt.Errorf("%s: unknown shape type %q; valid: box, sphere", prefix, s.Type))
		}
		if s.Object != nil && (*s.Object < 0 || *s.Object >= numObjects) {
			errs = multierr.Append(errs, fmt.Errorf("%s: object index %d out of range [0,%d)", prefix, *s.Object, numObjects))
		}
		if (k == KindInflow) && s.Object == nil {
			errs = multierr.Append(errs, fmt.Errorf("%s: inflow shapes need an object giving their velocity", prefix))
		}
	}
	return errs
}

// Bounds implements Rasterizer.
func (sc *Scene) Bounds() (lo, hi r3.Vec) { return sc.DomainMin, sc.DomainMax }

// Classify implements Rasterizer.
func (sc *Scene) Classify(p r3.Vec) Sample {
	out := Sample{Kind: KindEmpty, Object: -1}
	for i := range sc.Shapes {
		s := &sc.Shapes[i]
		if !s.Contains(p) {
			continue
		}
		out.Kind = s.kind
		out.Object = -1
		if s.Object != nil {
			out.Object = *s.Object
		}
	}
	return out
}

// Box is a convenience constructor for a box shape.
func Box(name string, kind Kind, lo, hi r3.Vec) Shape {
	return Shape{Name: name, Type: "box", Kind: kind.String(), Min: lo, Max: hi, kind: kind}
}

// Sphere is a convenience constructor for a sphere shape.
func Sphere(name string, kind Kind, center r3.Vec, radius float64) Shape {
	return Shape{Name: name, Type: "sphere", Kind: kind.String(), Center: center, Radius: radius, kind: kind}
}

// WithObject binds a shape to a moving object.
func (s Shape) WithObject(idx int) Shape {
	s.Object = &idx
	return s
}
