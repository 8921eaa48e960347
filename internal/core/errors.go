package core

import (
	"fmt"
	"strings"
)

// CompilationError is returned by every failed compile. Err keeps the root
// cause reachable with errors.As.
type CompilationError struct {
	ProfileID string
	Stage     string // e.g. "load behaviors", "resolve assets"
	Err       error
}

func (e *CompilationError) Error() string {
	return fmt.Sprintf("compiling profile %q: %s: %v", e.ProfileID, e.Stage, e.Err)
}

func (e *CompilationError) Unwrap() error { return e.Err }

// DependencyErrorKind distinguishes orderer failures.
type DependencyErrorKind string

const (
	DependencyUnknown DependencyErrorKind = "unknown"
	DependencyCycle   DependencyErrorKind = "cycle"
)

// DependencyError reports an unknown or cyclic behavior dependency.
type DependencyError struct {
	Kind DependencyErrorKind
	// Offender is the unknown id; RequiredBy the behavior that asked for it.
	Offender   string
	RequiredBy string
	// Known lists the ids present in the closure.
	Known []string
	// IDs are the members of the unsorted remainder for a cycle.
	IDs []string
}

func (e *DependencyError) Error() string {
	if e.Kind == DependencyCycle {
		return fmt.Sprintf("dependency cycle among behaviors: %s", strings.Join(e.IDs, ", "))
	}
	return fmt.Sprintf("behavior %q requires unknown behavior %q (known: %s)",
		e.RequiredBy, e.Offender, strings.Join(e.Known, ", "))
}
