package trace

// TraceLevel controls the verbosity of step tracing.
type TraceLevel string

const (
	// TraceLevelNone disables tracing (zero overhead).
	TraceLevelNone TraceLevel = "none"
	// TraceLevelTimestep records only timestep changes.
	TraceLevelTimestep TraceLevel = "timestep"
	// TraceLevelSteps records every step plus timestep changes.
	TraceLevelSteps TraceLevel = "steps"
)

// validTraceLevels maps accepted trace level strings.
var validTraceLevels = map[TraceLevel]bool{
	TraceLevelNone:     true,
	TraceLevelTimestep: true,
	TraceLevelSteps:    true,
	"":                 true, // empty defaults to none
}

// IsValidTraceLevel returns true if the given level string is a recognized trace level.
func IsValidTraceLevel(level string) bool {
	return validTraceLevels[TraceLevel(level)]
}

// SimulationTrace collects records during a run.
type SimulationTrace struct {
	Level     TraceLevel       `yaml:"level"`
	Steps     []StepRecord     `yaml:"steps"`
	Timesteps []TimestepRecord `yaml:"timesteps"`
}

// NewSimulationTrace creates a SimulationTrace ready for recording.
func NewSimulationTrace(level TraceLevel) *SimulationTrace {
	return &SimulationTrace{
		Level:     level,
		Steps:     make([]StepRecord, 0),
		Timesteps: make([]TimestepRecord, 0),
	}
}

// RecordStep appends a step record when the level asks for it. Safe on a nil trace.
func (st *SimulationTrace) RecordStep(record StepRecord) {
	if st == nil || st.Level != TraceLevelSteps {
		return
	}
	st.Steps = append(st.Steps, record)
}

// RecordTimestep appends a timestep change record. Safe on a nil trace.
func (st *SimulationTrace) RecordTimestep(record TimestepRecord) {
	if st == nil || st.Level == TraceLevelNone || st.Level == "" {
		return
	}
	st.Timesteps = append(st.Timesteps, record)
}
