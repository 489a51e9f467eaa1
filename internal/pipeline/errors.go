package pipeline

import "fmt"

// StepError reports which step aborted the pipeline.
type StepError struct {
	Number int
	Name   string
	Err    error
}

func (e *StepError) Error() string {
	return fmt.Sprintf("step %d (%s): %v", e.Number, e.Name, e.Err)
}

func (e *StepError) Unwrap() error { return e.Err }
