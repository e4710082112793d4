package catalog

import "fmt"

// ValidationError is malformed operator input, rejected before any I/O.
type ValidationError struct {
	Field string
	Msg   string
}

func (e *ValidationError) Error() string {
	if e.Field != "" {
		return fmt.Sprintf("invalid %s: %s", e.Field, e.Msg)
	}
	return e.Msg
}

// UnavailableError means a dependency (quota, circuit, upstream, or storage
// during the batch path) refused or failed; the caller may retry later.
type UnavailableError struct {
	Op    string
	Cause error
}

func (e *UnavailableError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s unavailable: %v", e.Op, e.Cause)
	}
	return fmt.Sprintf("%s unavailable", e.Op)
}

func (e *UnavailableError) Unwrap() error {
	return e.Cause
}

// InternalError means local persistence failed after the upstream call had
// already succeeded. Kept distinct from UnavailableError: the expensive
// remote work is done and retrying the whole job would repeat it.
type InternalError struct {
	Op    string
	Cause error
}

func (e *InternalError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s failed: %v", e.Op, e.Cause)
	}
	return fmt.Sprintf("%s failed", e.Op)
}

func (e *InternalError) Unwrap() error {
	return e.Cause
}
