package config

import "fmt"

// Error reports a configuration source that could not be parsed, decoded or
// validated. It is fatal at startup.
type Error struct {
	Source string
	Err    error
}

func (e *Error) Error() string {
	return fmt.Sprintf("configuration error (%s): %v", e.Source, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }
