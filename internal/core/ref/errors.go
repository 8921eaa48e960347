package ref

import "fmt"

// ResolutionError reports that a source reference could not become a local path.
type ResolutionError struct {
	Ref    string // the reference as written
	Reason string // short classification, e.g. "clone failed", "missing subdirectory"
	Err    error  // underlying cause, may be nil
}

func (e *ResolutionError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("resolving %q: %s: %v", e.Ref, e.Reason, e.Err)
	}
	return fmt.Sprintf("resolving %q: %s", e.Ref, e.Reason)
}

func (e *ResolutionError) Unwrap() error { return e.Err }

func resolutionErr(ref, reason string, err error) error {
	return &ResolutionError{Ref: ref, Reason: reason, Err: err}
}
