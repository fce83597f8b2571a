// Package cell defines the flag word that classifies every lattice cell and
// the legal transitions between classifications.
//
// A flag combines one primary class (Fluid, Empty, Interface, Unused, or a
// Boundary), at most one grid-transition tag, persistent sub-flags (boundary
// subtypes, NoDelete) and derived neighbourhood bits that are recomputed every
// step.
package cell

import (
	"fmt"
	"strings"
)

// Flag is the classification bit word of one cell.
type Flag uint32

// Primary classes. Exactly one of Fluid, Empty, Interface, Unused is set on a
// non-boundary cell; boundary cells carry Boundary and none of the four.
const (
	Fluid Flag = 1 << iota
	Empty
	Interface
	Boundary
	Unused

	// Boundary subtypes, only meaningful together with Boundary (or, for the
	// inflow/outflow markers, together with a fluid class).
	BndNoSlip
	BndFreeSlip
	BndPartSlip
	BndMoving
	MbndInflow
	MbndOutflow

	// Grid-transition tags.
	GridFromCoarse
	GridFromFine
	GridNormal
	GridToFine

	// NoDelete protects a freshly converted interface cell from being emptied
	// in the same step it was created.
	NoDelete

	// Derived neighbourhood bits.
	NoNbFluid
	NoNbEmpty
	NoBndFluid
)

// Masks over the bit groups.
const (
	PrimaryMask  = Fluid | Empty | Interface | Unused
	GridMask     = GridFromCoarse | GridFromFine | GridNormal
	DerivedMask  = NoNbFluid | NoNbEmpty | NoBndFluid
	BndTypeMask  = BndNoSlip | BndFreeSlip | BndPartSlip | BndMoving
	MbndMask     = MbndInflow | MbndOutflow
	FluidOrInter = Fluid | Interface
)

var flagNames = []struct {
	f    Flag
	name string
}{
	{Fluid, "Fluid"}, {Empty, "Empty"}, {Interface, "Interface"}, {Boundary, "Boundary"},
	{Unused, "Unused"}, {BndNoSlip, "BndNoSlip"}, {BndFreeSlip, "BndFreeSlip"},
	{BndPartSlip, "BndPartSlip"}, {BndMoving, "BndMoving"}, {MbndInflow, "MbndInflow"},
	{MbndOutflow, "MbndOutflow"}, {GridFromCoarse, "GridFromCoarse"},
	{GridFromFine, "GridFromFine"}, {GridNormal, "GridNormal"}, {GridToFine, "GridToFine"},
	{NoDelete, "NoDelete"}, {NoNbFluid, "NoNbFluid"}, {NoNbEmpty, "NoNbEmpty"},
	{NoBndFluid, "NoBndFluid"},
}

func (f Flag) String() string {
	if f == 0 {
		return "0"
	}
	var parts []string
	for _, fn := range flagNames {
		if f&fn.f != 0 {
			parts = append(parts, fn.name)
		}
	}
	return strings.Join(parts, "|")
}

// Has reports whether any bit of mask is set.
func (f Flag) Has(mask Flag) bool { return f&mask != 0 }

// IsFluid reports a pure fluid cell.
func (f Flag) IsFluid() bool { return f&Fluid != 0 }

// IsInterface reports a free-surface cell.
func (f Flag) IsInterface() bool { return f&Interface != 0 }

// IsEmpty reports a gas cell.
func (f Flag) IsEmpty() bool { return f&Empty != 0 }

// IsBoundary reports an obstacle or domain wall cell.
func (f Flag) IsBoundary() bool { return f&Boundary != 0 }

// IsUnused reports a cell outside the active region of its level.
func (f Flag) IsUnused() bool { return f&Unused != 0 }

// Primary returns the primary class bits (Boundary included).
func (f Flag) Primary() Flag { return f & (PrimaryMask | Boundary) }

// Grid returns the grid-transition tag bits.
func (f Flag) Grid() Flag { return f & GridMask }

// WithPrimary replaces the primary class, keeping every other bit except the
// derived ones, which are stale after a reclassification.
func (f Flag) WithPrimary(p Flag) Flag {
	return (f &^ (PrimaryMask | Boundary | DerivedMask)) | p
}

// WithGrid replaces the grid-transition tag.
func (f Flag) WithGrid(g Flag) Flag {
	return (f &^ GridMask) | g
}

// Validate checks the mutual-exclusion rules of the flag word.
func Validate(f Flag) error {
	if n := popcount(f & PrimaryMask); n > 1 || (n == 1 && f.IsBoundary()) {
		return fmt.Errorf("cell flag %v: more than one primary class", f)
	} else if n == 0 && !f.IsBoundary() {
		return fmt.Errorf("cell flag %v: no primary class", f)
	}
	if popcount(f&GridMask) > 1 {
		return fmt.Errorf("cell flag %v: conflicting grid-transition tags", f)
	}
	if popcount(f&BndTypeMask&^BndMoving) > 1 {
		return fmt.Errorf("cell flag %v: conflicting boundary types", f)
	}
	if f.Has(MbndInflow) && f.Has(MbndOutflow) {
		return fmt.Errorf("cell flag %v: both inflow and outflow", f)
	}
	return nil
}

func popcount(f Flag) int {
	n := 0
	for f != 0 {
		f &= f - 1
		n++
	}
	return n
}
