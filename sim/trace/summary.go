package trace

import (
	"math"

	"gonum.org/v1/gonum/floats"
)

// TraceSummary aggregates statistics from a SimulationTrace.
type TraceSummary struct {
	Steps           int
	TimestepChanges int
	Decreases       int
	Increases       int
	TotalFilled     int
	TotalEmptied    int
	MeanMLUPS       float64
	PeakMaxVel      float64
	// MaxMassDrift is the largest relative deviation of mass from the first
	// recorded step.
	MaxMassDrift float64
}

// Summarize computes aggregate statistics from a SimulationTrace.
// Safe for nil or empty traces (returns zero-value fields).
func Summarize(st *SimulationTrace) *TraceSummary {
	summary := &TraceSummary{}
	if st == nil {
		return summary
	}

	summary.Steps = len(st.Steps)
	if len(st.Steps) > 0 {
		mlups := make([]float64, len(st.Steps))
		m0 := st.Steps[0].Mass
		for i, r := range st.Steps {
			mlups[i] = r.MLUPS
			summary.TotalFilled += r.Filled
			summary.TotalEmptied += r.Emptied
			summary.PeakMaxVel = math.Max(summary.PeakMaxVel, r.MaxVel)
			if m0 != 0 {
				summary.MaxMassDrift = math.Max(summary.MaxMassDrift, math.Abs(r.Mass-m0)/math.Abs(m0))
			}
		}
		summary.MeanMLUPS = floats.Sum(mlups) / float64(len(mlups))
	}

	summary.TimestepChanges = len(st.Timesteps)
	for _, r := range st.Timesteps {
		if r.NewDt < r.OldDt {
			summary.Decreases++
		} else if r.NewDt > r.OldDt {
			summary.Increases++
		}
	}
	return summary
}
