package sim

import "errors"

var (
	// ErrSimulationPanic is returned by Step once a non-finite value has
	// been detected. The solver stays in this state; only a new Solver
	// recovers.
	ErrSimulationPanic = errors.New("simulation panic")

	// ErrNotInitialized is returned by operations that need Initialize first.
	ErrNotInitialized = errors.New("solver not initialized")

	// ErrAlreadyInitialized is returned by a second Initialize call.
	ErrAlreadyInitialized = errors.New("solver already initialized")
)
