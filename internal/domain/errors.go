package domain

import (
	"errors"
	"fmt"
)

// DataUnavailableError reports that a remote fetch for one dataset key
// exhausted its retries. Non-fatal: the ensemble assembler drops the model
// and continues with the survivors.
type DataUnavailableError struct {
	Key DatasetKey
	Err error
}

func (e *DataUnavailableError) Error() string {
	return fmt.Sprintf("data unavailable for %s: %v", e.Key, e.Err)
}

func (e *DataUnavailableError) Unwrap() error { return e.Err }

// EmptyEnsembleError reports that no model in the requested set produced
// usable data. Fatal to the (pathway, percentile, year) combination only.
type EmptyEnsembleError struct {
	Pathway  string
	Variable string
	Models   int
}

func (e *EmptyEnsembleError) Error() string {
	return fmt.Sprintf("empty ensemble for pathway %q variable %q: all %d models unavailable",
		e.Pathway, e.Variable, e.Models)
}

// CoordinateOutOfRangeError reports a location that no grid cell of a
// dataset covers. Configuration-level and fatal.
type CoordinateOutOfRangeError struct {
	Latitude  float64
	Longitude float64
}

func (e *CoordinateOutOfRangeError) Error() string {
	return fmt.Sprintf("coordinate (%.4f, %.4f) outside dataset grid", e.Latitude, e.Longitude)
}

// InvalidDependencyGraphError reports a cycle in the variable dependency
// graph. Configuration-level: detected before any fetch is attempted.
type InvalidDependencyGraphError struct {
	Cycle []string
}

func (e *InvalidDependencyGraphError) Error() string {
	return fmt.Sprintf("variable dependency cycle: %v", e.Cycle)
}

// IncompleteDeltaError reports a requested variable whose change signal is
// missing or malformed. Fatal for that variable only; sibling variables
// still morph.
type IncompleteDeltaError struct {
	Variable string
	Reason   string
}

func (e *IncompleteDeltaError) Error() string {
	return fmt.Sprintf("incomplete delta for %q: %s", e.Variable, e.Reason)
}

// ErrUnknownVariable is returned when a requested variable name has no
// registered spec.
var ErrUnknownVariable = errors.New("unknown variable")
