package cmd

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"runtime"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gopkg.in/yaml.v3"

	sim "github.com/lbm-sim/lbm-sim/sim"
	"github.com/lbm-sim/lbm-sim/sim/trace"
)

func testScenePath(t *testing.T, name string) string {
	t.Helper()
	_, thisFile, _, ok := runtime.Caller(0)
	require.True(t, ok)
	return filepath.Join(filepath.Dir(thisFile), "..", "testdata", "scenes", name)
}

func TestWriteDefaults_RoundTripsThroughLoadScene(t *testing.T) {
	// GIVEN the defaults template written to a file
	var buf bytes.Buffer
	require.NoError(t, writeDefaults(&buf))
	path := filepath.Join(t.TempDir(), "defaults.yaml")
	require.NoError(t, os.WriteFile(path, buf.Bytes(), 0o644))

	// WHEN it is loaded back
	sf, err := sim.LoadScene(path)

	// THEN it parses strictly, validates and equals the defaults
	require.NoError(t, err)
	require.NoError(t, sf.Validate())
	assert.Equal(t, sim.DefaultConfig(), sf.Config)
	require.Len(t, sf.Geometry.Shapes, 1)
	assert.Equal(t, "pool", sf.Geometry.Shapes[0].Name)
}

func TestValidateScene(t *testing.T) {
	var out bytes.Buffer
	require.NoError(t, validateScene(testScenePath(t, "drop_2d.yaml"), &out))
	assert.Contains(t, out.String(), "OK (2D")

	// GIVEN a scene with two problems
	bad := filepath.Join(t.TempDir(), "bad.yaml")
	require.NoError(t, os.WriteFile(bad, []byte(`
config:
  domain:
    dimensions: 5
  physics:
    timestep: 0
geometry:
  domain_min: {x: 0, y: 0, z: 0}
  domain_max: {x: 1, y: 1, z: 1}
`), 0o644))
	out.Reset()

	err := validateScene(bad, &out)

	// THEN each problem is reported on its own line
	require.Error(t, err)
	assert.Contains(t, out.String(), "domain.dimensions")
	assert.Contains(t, out.String(), "physics.timestep")
	assert.Equal(t, 2, bytes.Count(out.Bytes(), []byte("\n")))
}

func TestRunScene_PrintsStatsAndWritesTrace(t *testing.T) {
	// GIVEN the 2D drop scene with a seed override and a trace file
	seed := int64(11)
	workers := 2
	opts := runOptions{
		scene:    testScenePath(t, "drop_2d.yaml"),
		steps:    4,
		seed:     &seed,
		workers:  &workers,
		traceOut: filepath.Join(t.TempDir(), "trace.yaml"),
	}
	var out bytes.Buffer

	// WHEN it runs
	require.NoError(t, runScene(context.Background(), opts, &out))

	// THEN the stats and the trace summary are printed
	assert.Contains(t, out.String(), "=== Simulation Stats ===")
	assert.Contains(t, out.String(), "Steps                : 4")
	assert.Contains(t, out.String(), "Recorded Steps       : 4")

	// AND the trace file holds one record per step
	data, err := os.ReadFile(opts.traceOut)
	require.NoError(t, err)
	var tr trace.SimulationTrace
	require.NoError(t, yaml.Unmarshal(data, &tr))
	assert.Equal(t, trace.TraceLevelSteps, tr.Level)
	require.Len(t, tr.Steps, 4)
	assert.Equal(t, 4, tr.Steps[3].Step)
}

func TestRunScene_RejectsBadInput(t *testing.T) {
	var out bytes.Buffer

	err := runScene(context.Background(), runOptions{scene: testScenePath(t, "drop_2d.yaml"), traceLevel: "verbose"}, &out)
	assert.ErrorContains(t, err, "unknown trace level")

	err = runScene(context.Background(), runOptions{scene: filepath.Join(t.TempDir(), "missing.yaml")}, &out)
	assert.ErrorContains(t, err, "reading scene")

	workers := -3
	err = runScene(context.Background(), runOptions{scene: testScenePath(t, "drop_2d.yaml"), workers: &workers}, &out)
	assert.ErrorContains(t, err, "parallel.workers")
}

func TestRunScene_StopsOnCancel(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	var out bytes.Buffer

	err := runScene(ctx, runOptions{scene: testScenePath(t, "drop_2d.yaml"), steps: 10}, &out)

	assert.ErrorIs(t, err, context.Canceled)
	assert.Contains(t, out.String(), "Steps                : 0")
}
