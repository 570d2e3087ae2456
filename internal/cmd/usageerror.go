package cmd

// usageError marks an error as a CLI usage mistake (bad flag, wrong
// arguments) rather than a runtime failure, so main can map it to
// exit code 2 instead of the generic exit code 1.
type usageError struct{ err error }

func (u usageError) Error() string      { return u.err.Error() }
func (u usageError) Unwrap() error      { return u.err }
func (u usageError) IsUsageError() bool { return true }
