package dictionary

import "fmt"

// LoadError reports a dictionary that could not be loaded.
// A process must not serve traffic without a dictionary, so callers treat it as fatal.
type LoadError struct {
	Path string
	Err  error
}

func (e *LoadError) Error() string {
	if e.Path == "" {
		return fmt.Sprintf("dictionary load: %v", e.Err)
	}
	return fmt.Sprintf("dictionary load %s: %v", e.Path, e.Err)
}

func (e *LoadError) Unwrap() error {
	return e.Err
}

// DuplicateCodeError is wrapped by LoadError when a code appears twice in the source.
type DuplicateCodeError struct {
	Code Code
}

func (e *DuplicateCodeError) Error() string {
	return fmt.Sprintf("duplicate code %q", string(e.Code))
}
