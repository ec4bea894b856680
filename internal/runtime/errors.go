package runtime

import "fmt"

// startFailure signals that the container runtime rejected a node start
// (bad device binding, missing image, name or port clash at create time).
type startFailure struct {
	node  string
	cause error
}

func (e startFailure) Error() string { return fmt.Sprintf("start %s: %v", e.node, e.cause) }

func (e startFailure) Unwrap() error { return e.cause }

// ErrStartFailure constructs a startFailure.
func ErrStartFailure(node string, cause error) error { return startFailure{node: node, cause: cause} }

// IsStartFailure reports whether err came from a rejected container start.
func IsStartFailure(err error) bool {
	_, ok := err.(startFailure)
	return ok
}
