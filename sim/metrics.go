// Tracks simulation-wide statistics such as mass, volume, surface changes
// and throughput.

package sim

import (
	"fmt"
	"io"
	"math"
)

// Stats aggregates per-step and cumulative statistics. Per-step fields are
// reset at the start of every Step; the rest accumulate.
type Stats struct {
	Step     int     // completed finest-level steps
	Time     float64 // simulated seconds
	Timestep float64 // current finest-level timestep, s

	// per step
	CellsUsed   int     // cells updated by the kernel over all levels
	Filled      int     // interface cells converted to fluid
	Emptied     int     // interface cells converted to gas
	MaxVelocity float64 // lattice units, over all levels

	Mass        float64 // fluid and interface mass in finest-cell units
	Volume      float64 // filled volume in finest-cell units
	InitialMass float64
	FixMass     float64 // mass waiting for new interface cells

	// cumulative
	InflowMass      float64
	OutflowMass     float64
	ParticleMass    float64
	TimestepChanges int
	TotalCells      int64
	ElapsedSeconds  float64

	MLUPS float64 // million lattice updates per second, last step
}

// AvgMLUPS is the throughput over the whole run.
func (st Stats) AvgMLUPS() float64 {
	if st.ElapsedSeconds <= 0 {
		return 0
	}
	return float64(st.TotalCells) / st.ElapsedSeconds / 1e6
}

// MassDrift is the relative deviation of Mass from InitialMass after
// accounting for inflow, outflow and emitted drops.
func (st Stats) MassDrift() float64 {
	if st.InitialMass == 0 {
		return 0
	}
	expected := st.InitialMass + st.InflowMass - st.OutflowMass - st.ParticleMass
	return (st.Mass + st.FixMass - expected) / st.InitialMass
}

func (st *Stats) resetStep() {
	st.CellsUsed = 0
	st.Filled = 0
	st.Emptied = 0
	st.MaxVelocity = 0
}

// Print writes a human-readable summary.
func (st Stats) Print(w io.Writer) {
	fmt.Fprintln(w, "=== Simulation Stats ===")
	fmt.Fprintf(w, "Steps                : %d\n", st.Step)
	fmt.Fprintf(w, "Simulated Time       : %.4f s\n", st.Time)
	fmt.Fprintf(w, "Timestep             : %.3g s (%d changes)\n", st.Timestep, st.TimestepChanges)
	fmt.Fprintf(w, "Mass                 : %.4f (initial %.4f, drift %.3g%%)\n", st.Mass, st.InitialMass, 100*st.MassDrift())
	fmt.Fprintf(w, "Volume               : %.2f cells\n", st.Volume)
	fmt.Fprintf(w, "Max Velocity         : %.4f (lattice)\n", st.MaxVelocity)
	if st.InflowMass > 0 || st.OutflowMass > 0 {
		fmt.Fprintf(w, "Inflow / Outflow     : %.3f / %.3f\n", st.InflowMass, st.OutflowMass)
	}
	if st.ParticleMass > 0 {
		fmt.Fprintf(w, "Emitted as Drops     : %.3f\n", st.ParticleMass)
	}
	if !math.IsNaN(st.AvgMLUPS()) {
		fmt.Fprintf(w, "Throughput           : %.2f MLUPS (last step %.2f)\n", st.AvgMLUPS(), st.MLUPS)
	}
}
