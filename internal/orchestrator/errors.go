package orchestrator

// unknownNodeError signals an id that is not in the descriptor store, for
// 404 mapping at the HTTP layer.
type unknownNodeError struct{ id string }

func (e unknownNodeError) Error() string { return "unknown node: " + e.id }

// ErrUnknownNode constructs an unknownNodeError.
func ErrUnknownNode(id string) error { return unknownNodeError{id: id} }

// IsUnknownNode reports whether err names a node outside the store.
func IsUnknownNode(err error) bool {
	_, ok := err.(unknownNodeError)
	return ok
}

// busyError signals the orchestration lock is held, for 409 mapping.
type busyError struct{ holder string }

func (e busyError) Error() string {
	if e.holder == "" {
		return "orchestration busy"
	}
	return "orchestration busy: lock held by " + e.holder
}

// ErrBusy constructs a busyError. holder is the lock file content, if any.
func ErrBusy(holder string) error { return busyError{holder: holder} }

// IsBusy reports whether err means another workflow holds the lock.
func IsBusy(err error) bool {
	_, ok := err.(busyError)
	return ok
}
