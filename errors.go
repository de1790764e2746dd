package surge

import (
	"fmt"
)

// RebuildError reports a failed background rebuild of a hot key. It is never
// returned to readers (they already got the stale value); it is passed to the
// Logger so operators can see a hot key going dark.
type RebuildError struct {
	Key     string
	LoadErr error
	SetErr  error
}

func (e *RebuildError) Error() string {
	switch {
	case e.LoadErr != nil && e.SetErr != nil:
		return fmt.Sprintf("rebuild %q failed: load and write-back failed: load=%v; write=%v",
			e.Key, e.LoadErr, e.SetErr)
	case e.LoadErr != nil:
		return fmt.Sprintf("rebuild %q: load failed: %v", e.Key, e.LoadErr)
	case e.SetErr != nil:
		return fmt.Sprintf("rebuild %q: write-back failed: %v", e.Key, e.SetErr)
	default:
		return fmt.Sprintf("rebuild %q: unknown error", e.Key)
	}
}

func (e *RebuildError) Unwrap() []error {
	errs := make([]error, 0, 2)
	if e.LoadErr != nil {
		errs = append(errs, e.LoadErr)
	}
	if e.SetErr != nil {
		errs = append(errs, e.SetErr)
	}
	return errs
}
