package trace

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestSummarize_NilTrace(t *testing.T) {
	s := Summarize(nil)
	assert.Equal(t, 0, s.Steps)
	assert.Equal(t, 0.0, s.MeanMLUPS)
}

func TestSummarize_Aggregates(t *testing.T) {
	st := NewSimulationTrace(TraceLevelSteps)
	st.RecordStep(StepRecord{Step: 1, Mass: 100, MLUPS: 2, Filled: 1, MaxVel: 0.05})
	st.RecordStep(StepRecord{Step: 2, Mass: 101, MLUPS: 4, Emptied: 2, MaxVel: 0.08})
	st.RecordStep(StepRecord{Step: 3, Mass: 99.5, MLUPS: 3, Filled: 2, MaxVel: 0.02})
	st.RecordTimestep(TimestepRecord{Step: 2, OldDt: 1, NewDt: 0.8})
	st.RecordTimestep(TimestepRecord{Step: 3, OldDt: 0.8, NewDt: 0.9})

	s := Summarize(st)

	assert.Equal(t, 3, s.Steps)
	assert.Equal(t, 3, s.TotalFilled)
	assert.Equal(t, 2, s.TotalEmptied)
	assert.InDelta(t, 3.0, s.MeanMLUPS, 1e-12)
	assert.InDelta(t, 0.08, s.PeakMaxVel, 1e-12)
	assert.InDelta(t, 0.01, s.MaxMassDrift, 1e-12)
	assert.Equal(t, 2, s.TimestepChanges)
	assert.Equal(t, 1, s.Decreases)
	assert.Equal(t, 1, s.Increases)
}
