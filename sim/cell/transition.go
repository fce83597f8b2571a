package cell

import "fmt"

// legal lists, per primary class, the classes a cell may move to. Free-surface
// changes always pass through Interface; Unused is entered and left only by
// refinement and coarsening.
var legal = map[Flag]Flag{
	Fluid:     Fluid | Interface | Unused,
	Interface: Interface | Fluid | Empty | Unused,
	Empty:     Empty | Interface | Unused,
	Unused:    Unused | Fluid | Empty,
	Boundary:  Boundary,
}

// CanTransition reports whether a cell classified as from may be reclassified to.
func CanTransition(from, to Flag) bool {
	allowed, ok := legal[from.Primary()]
	if !ok {
		return false
	}
	p := to.Primary()
	return p != 0 && allowed&p == p
}

// Transition returns f reclassified to the primary class to. In strict builds an
// illegal transition panics; it indicates a corrupted stencil, not a
// recoverable condition.
func Transition(f, to Flag) Flag {
	if Strict && !CanTransition(f, to) {
		panic(fmt.Sprintf("illegal cell transition %v -> %v", f.Primary(), to.Primary()))
	}
	return f.WithPrimary(to)
}
