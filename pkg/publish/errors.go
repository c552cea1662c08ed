package publish

// Error is a failed publish step.
type Error struct {
	// Op is the step that failed (connect, upload, verify).
	Op string

	// Path is the local or remote file involved, if any.
	Path string

	// Err is the underlying error.
	Err error

	// IsTemporary indicates the step may succeed if retried.
	IsTemporary bool
}

func (e *Error) Error() string {
	if e.Path != "" {
		return e.Op + " " + e.Path + ": " + e.Err.Error()
	}
	return e.Op + ": " + e.Err.Error()
}

func (e *Error) Unwrap() error {
	return e.Err
}

// Temporary reports whether retrying may help.
func (e *Error) Temporary() bool {
	return e.IsTemporary
}
