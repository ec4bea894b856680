package volsync

import "fmt"

// syncError signals a failed volume reconciliation. Both sides stay valid
// because the merge never overwrites or deletes.
type syncError struct {
	op    string
	cause error
}

func (e syncError) Error() string { return fmt.Sprintf("sync %s: %v", e.op, e.cause) }

func (e syncError) Unwrap() error { return e.cause }

// ErrSync constructs a syncError.
func ErrSync(op string, cause error) error { return syncError{op: op, cause: cause} }

// IsSyncFailure reports whether err came from volume reconciliation.
func IsSyncFailure(err error) bool {
	_, ok := err.(syncError)
	return ok
}
