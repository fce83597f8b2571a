// Package testutil provides shared test infrastructure for the solver
// packages: scene builders, testdata lookup and float assertions.
package testutil

import (
	"math"
	"path/filepath"
	"runtime"
	"testing"

	"gonum.org/v1/gonum/spatial/r3"

	"github.com/lbm-sim/lbm-sim/sim/geometry"
)

// ScenePath resolves a scene file under the repository's testdata/scenes.
// The path is resolved relative to this source file: sim/internal/testutil/ → testdata/.
func ScenePath(t *testing.T, name string) string {
	t.Helper()

	_, thisFile, _, ok := runtime.Caller(0)
	if !ok {
		t.Fatal("Failed to get current file path")
	}
	return filepath.Join(filepath.Dir(thisFile), "..", "..", "..", "testdata", "scenes", name)
}

// UnitDomain is the [0,1]^3 domain used by the builders.
var UnitDomain = [2]r3.Vec{{}, {X: 1, Y: 1, Z: 1}}

// FilledBox returns a scene whose whole domain is fluid.
func FilledBox() *geometry.Scene {
	return Pool(1.1)
}

// Pool returns a scene with fluid up to height h (domain units); the rest is gas.
func Pool(h float64) *geometry.Scene {
	sc := &geometry.Scene{
		DomainMin: UnitDomain[0],
		DomainMax: UnitDomain[1],
		Shapes: []geometry.Shape{
			geometry.Box("water", geometry.KindFluid, r3.Vec{X: -1, Y: -1, Z: -1}, r3.Vec{X: 2, Y: h, Z: 2}),
		},
	}
	mustValidate(sc, 0)
	return sc
}

// Column returns a scene with a fluid column occupying the lower-left
// quarter of the domain footprint up to height h.
func Column(h float64) *geometry.Scene {
	sc := &geometry.Scene{
		DomainMin: UnitDomain[0],
		DomainMax: UnitDomain[1],
		Shapes: []geometry.Shape{
			geometry.Box("column", geometry.KindFluid, r3.Vec{X: -1, Y: -1, Z: -1}, r3.Vec{X: 0.25, Y: h, Z: 2}),
		},
	}
	mustValidate(sc, 0)
	return sc
}

// Drop returns a pool of height h with a spherical drop above it.
func Drop(h float64, center r3.Vec, radius float64) *geometry.Scene {
	sc := Pool(h)
	sc.Shapes = append(sc.Shapes, geometry.Sphere("drop", geometry.KindFluid, center, radius))
	mustValidate(sc, 0)
	return sc
}

func mustValidate(sc *geometry.Scene, objects int) {
	if err := sc.Validate(objects); err != nil {
		panic(err)
	}
}

// AssertFloat64Equal compares two float64 values with relative tolerance.
func AssertFloat64Equal(t *testing.T, name string, want, got, relTol float64) {
	t.Helper()
	if want == 0 && got == 0 {
		return
	}
	diff := math.Abs(want - got)
	maxVal := math.Max(math.Abs(want), math.Abs(got))
	if diff/maxVal > relTol {
		t.Errorf("%s: got %v, want %v (diff=%v, relDiff=%v)", name, got, want, diff, diff/maxVal)
	}
}
