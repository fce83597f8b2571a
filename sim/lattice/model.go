// Package lattice defines the discrete velocity models (D2Q9, D3Q19) used by
// the solver. A Model is an immutable table of direction vectors, inverse
// directions and quadrature weights; the solver loops over these tables, so the
// hot path never branches on dimensionality.
package lattice

import (
	"fmt"
	"math"

	"gonum.org/v1/gonum/spatial/r3"
)

// MaxQ is the largest direction count of any model; scratch arrays use it.
const MaxQ = 19

// Direction classes by length of the direction vector.
const (
	ClassRest     = 0 // zero vector
	ClassAxis     = 1 // |e| = 1
	ClassDiagonal = 2 // |e| = sqrt(2)
)

// Model holds the tables of one DdQq lattice.
type Model struct {
	Name string
	Dim  int // 2 or 3
	Q    int // number of distribution functions

	E     [][3]int  // direction vectors
	Inv   []int     // index of the opposite direction
	W     []float64 // equilibrium weights
	Class []int     // ClassRest / ClassAxis / ClassDiagonal
}

var (
	// D2Q9 is the 9-direction planar lattice: rest, N, S, E, W, NE, NW, SE, SW.
	D2Q9 = newModel("D2Q9", 2, [][3]int{
		{0, 0, 0},
		{0, 1, 0}, {0, -1, 0}, {1, 0, 0}, {-1, 0, 0},
		{1, 1, 0}, {-1, 1, 0}, {1, -1, 0}, {-1, -1, 0},
	}, [3]float64{4.0 / 9.0, 1.0 / 9.0, 1.0 / 36.0})

	// D3Q19 is the 19-direction lattice: rest, N, S, E, W, T, B followed by the
	// twelve edge diagonals.
	D3Q19 = newModel("D3Q19", 3, [][3]int{
		{0, 0, 0},
		{0, 1, 0}, {0, -1, 0}, {1, 0, 0}, {-1, 0, 0}, {0, 0, 1}, {0, 0, -1},
		{1, 1, 0}, {-1, 1, 0}, {1, -1, 0}, {-1, -1, 0},
		{0, 1, 1}, {0, 1, -1}, {0, -1, 1}, {0, -1, -1},
		{1, 0, 1}, {1, 0, -1}, {-1, 0, 1}, {-1, 0, -1},
	}, [3]float64{1.0 / 3.0, 1.0 / 18.0, 1.0 / 36.0})
)

// ForDimension returns the model for a 2D or 3D domain.
func ForDimension(dim int) (*Model, error) {
	switch dim {
	case 2:
		return D2Q9, nil
	case 3:
		return D3Q19, nil
	}
	return nil, fmt.Errorf("unsupported lattice dimension %d; valid: 2, 3", dim)
}

func newModel(name string, dim int, e [][3]int, classWeights [3]float64) *Model {
	q := len(e)
	m := &Model{
		Name:  name,
		Dim:   dim,
		Q:     q,
		E:     e,
		Inv:   make([]int, q),
		W:     make([]float64, q),
		Class: make([]int, q),
	}
	for l, v := range e {
		m.Class[l] = v[0]*v[0] + v[1]*v[1] + v[2]*v[2]
		m.W[l] = classWeights[m.Class[l]]
		m.Inv[l] = m.Dir([3]int{-v[0], -v[1], -v[2]})
	}
	return m
}

// Dir returns the index of direction vector v, or -1 if v is not part of the model.
func (m *Model) Dir(v [3]int) int {
	for l, e := range m.E {
		if e == v {
			return l
		}
	}
	return -1
}

// Vec returns direction l as a float vector.
func (m *Model) Vec(l int) r3.Vec {
	e := m.E[l]
	return r3.Vec{X: float64(e[0]), Y: float64(e[1]), Z: float64(e[2])}
}

// Dot returns e_l · u.
func (m *Model) Dot(l int, u r3.Vec) float64 {
	e := m.E[l]
	return float64(e[0])*u.X + float64(e[1])*u.Y + float64(e[2])*u.Z
}

// Equilibrium is the second order equilibrium distribution of the
// incompressible model, where u is the momentum density:
//
//	f_eq = w_l (rho - 3/2 u·u + 3 e·u + 9/2 (e·u)²)
func (m *Model) Equilibrium(l int, rho float64, u r3.Vec) float64 {
	eu := m.Dot(l, u)
	return m.W[l] * (rho - 1.5*r3.Dot(u, u) + 3*eu + 4.5*eu*eu)
}

// EquilibriumAll writes all Q equilibrium values into out.
func (m *Model) EquilibriumAll(rho float64, u r3.Vec, out []float64) {
	usqr := 1.5 * r3.Dot(u, u)
	for l := 0; l < m.Q; l++ {
		eu := m.Dot(l, u)
		out[l] = m.W[l] * (rho - usqr + 3*eu + 4.5*eu*eu)
	}
}

// Moments returns density and momentum of a distribution set.
func (m *Model) Moments(df []float64) (rho float64, u r3.Vec) {
	for l := 0; l < m.Q; l++ {
		f := df[l]
		rho += f
		e := m.E[l]
		u.X += float64(e[0]) * f
		u.Y += float64(e[1]) * f
		u.Z += float64(e[2]) * f
	}
	return rho, u
}

// NonEqStress returns the norm sqrt(Σ Π_ab²) of the non-equilibrium momentum
// flux Π_ab = Σ_l e_la e_lb (f_l - feq_l). It drives the Smagorinsky model.
func (m *Model) NonEqStress(df, feq []float64) float64 {
	var pi [3][3]float64
	for l := 1; l < m.Q; l++ {
		d := df[l] - feq[l]
		if d == 0 {
			continue
		}
		e := m.E[l]
		for a := 0; a < m.Dim; a++ {
			if e[a] == 0 {
				continue
			}
			for b := a; b < m.Dim; b++ {
				pi[a][b] += float64(e[a]*e[b]) * d
			}
		}
	}
	var qo float64
	for a := 0; a < m.Dim; a++ {
		qo += pi[a][a] * pi[a][a]
		for b := a + 1; b < m.Dim; b++ {
			qo += 2 * pi[a][b] * pi[a][b]
		}
	}
	return math.Sqrt(qo)
}

// LESOmega returns the relaxation parameter corrected by the Smagorinsky
// subgrid model with constant csmago, given the non-equilibrium stress norm qo.
// A zero constant leaves omega unchanged.
func LESOmega(omega, csmago, qo float64) float64 {
	if csmago <= 0 {
		return omega
	}
	tau := 1 / omega
	nu := (2*tau - 1) / 6
	csqr := csmago * csmago
	s := (-nu + math.Sqrt(nu*nu+18*csqr*qo)) / (6 * csqr)
	return 1 / (3*(nu+csqr*s) + 0.5)
}

// OmegaFromViscosity converts a lattice viscosity to the BGK relaxation parameter.
func OmegaFromViscosity(nu float64) float64 {
	return 1 / (3*nu + 0.5)
}

// ViscosityFromOmega is the inverse of OmegaFromViscosity.
func ViscosityFromOmega(omega float64) float64 {
	return (1/omega - 0.5) / 3
}
