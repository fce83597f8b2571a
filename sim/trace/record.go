// Package trace provides per-step recording of solver statistics and
// timestep decisions for post-run analysis.
// This package has no dependencies on sim/; it stores pure data types.
package trace

// StepRecord captures the global state after one solver step.
type StepRecord struct {
	Step      int     `yaml:"step"`
	Time      float64 `yaml:"time"`     // simulated seconds at the end of the step
	Timestep  float64 `yaml:"timestep"` // seconds
	Mass      float64 `yaml:"mass"`
	Volume    float64 `yaml:"volume"`
	MaxVel    float64 `yaml:"max_vel"` // lattice units, finest level
	Filled    int     `yaml:"filled"`
	Emptied   int     `yaml:"emptied"`
	CellsUsed int     `yaml:"cells_used"`
	MLUPS     float64 `yaml:"mlups"`
	FixMass   float64 `yaml:"fix_mass"` // undistributed mass at the start of the step
}

// TimestepRecord captures one committed timestep change.
type TimestepRecord struct {
	Step      int       `yaml:"step"`
	OldDt     float64   `yaml:"old_dt"`
	NewDt     float64   `yaml:"new_dt"`
	MaxVel    float64   `yaml:"max_vel"`
	Reason    string    `yaml:"reason"`
	Clamped   int       `yaml:"clamped"` // cells reset by the brute-force rescue
	Rescaled  int       `yaml:"rescaled"`
	NewOmegas []float64 `yaml:"new_omegas"`
}
