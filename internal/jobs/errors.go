package jobs

import "fmt"

// UnknownJobError is returned by RunByName for a name no job answers to.
type UnknownJobError struct {
	Name string
}

func (e *UnknownJobError) Error() string {
	return fmt.Sprintf("unknown job %q", e.Name)
}

// PanicError reports a job that panicked.
type PanicError struct {
	Job   string
	Value any
}

func (e *PanicError) Error() string {
	return fmt.Sprintf("job %s panicked: %v", e.Job, e.Value)
}
