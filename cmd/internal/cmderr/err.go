package cmderr

// RunErr wraps an error raised by a subcommand's own logic, as opposed to a
// CLI flag-parsing error. Used to decide whether to print usage on failure.
type RunErr struct {
	Err error
}

func (a RunErr) Error() string {
	return a.Err.Error()
}

// github.com/pkg/errors causer interface
func (a RunErr) Cause() error {
	return a.Err
}

// github.com/pkg/errors Unwrap interface
func (a RunErr) Unwrap() error {
	return a.Err
}
