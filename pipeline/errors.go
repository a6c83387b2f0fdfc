package pipeline

import "fmt"

// PersistenceError reports a failure to create the output location or to
// write an artifact or the error log. It is fatal for the run.
type PersistenceError struct {
	Op   string
	Path string
	Err  error
}

func (e *PersistenceError) Error() string {
	return fmt.Sprintf("%s %s: %v", e.Op, e.Path, e.Err)
}

func (e *PersistenceError) Unwrap() error {
	return e.Err
}
