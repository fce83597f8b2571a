package cmd

import (
	"fmt"
	"io"
	"os"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"gonum.org/v1/gonum/spatial/r3"
	"gopkg.in/yaml.v3"

	sim "github.com/lbm-sim/lbm-sim/sim"
	"github.com/lbm-sim/lbm-sim/sim/geometry"
)

// defaultsCmd prints the default configuration as a scene template
var defaultsCmd = &cobra.Command{
	Use:   "defaults",
	Short: "Print the default configuration as a scene template",
	Run: func(cmd *cobra.Command, args []string) {
		setLogLevel()
		if err := writeDefaults(os.Stdout); err != nil {
			logrus.Fatalf("Failed to write defaults: %v", err)
		}
	},
}

// defaultScene is the default configuration with an example pool geometry.
func defaultScene() *sim.SceneFile {
	return &sim.SceneFile{
		Config:  sim.DefaultConfig(),
		Objects: []sim.MovingObject{},
		Geometry: geometry.Scene{
			DomainMin: r3.Vec{},
			DomainMax: r3.Vec{X: 1, Y: 1, Z: 1},
			Shapes: []geometry.Shape{
				geometry.Box("pool", geometry.KindFluid, r3.Vec{}, r3.Vec{X: 1, Y: 0.4, Z: 1}),
			},
		},
	}
}

// writeDefaults emits a scene that LoadScene accepts unchanged.
func writeDefaults(w io.Writer) error {
	data, err := yaml.Marshal(defaultScene())
	if err != nil {
		return fmt.Errorf("encoding defaults: %w", err)
	}
	_, err = w.Write(data)
	return err
}
