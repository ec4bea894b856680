package probe

import (
	"fmt"
	"strings"
	"time"
)

// probeTimeoutError signals a node that never answered its health check
// before the deadline (or before the workflow was cancelled).
type probeTimeoutError struct {
	node   string
	waited time.Duration
	cause  error
}

func (e probeTimeoutError) Error() string {
	return fmt.Sprintf("health check %s: not serving after %s: %v", e.node, e.waited.Round(time.Second), e.cause)
}

func (e probeTimeoutError) Unwrap() error { return e.cause }

// ErrProbeTimeout constructs a probeTimeoutError.
func ErrProbeTimeout(node string, waited time.Duration, cause error) error {
	return probeTimeoutError{node: node, waited: waited, cause: cause}
}

// IsProbeTimeout reports whether err is a health-check deadline failure.
func IsProbeTimeout(err error) bool {
	_, ok := err.(probeTimeoutError)
	return ok
}

// containerExitedError signals that the container died while being probed.
// The log tail travels in the message so the operator sees the crash cause.
type containerExitedError struct {
	node    string
	logTail string
}

func (e containerExitedError) Error() string {
	if strings.TrimSpace(e.logTail) == "" {
		return fmt.Sprintf("health check %s: container exited", e.node)
	}
	return fmt.Sprintf("health check %s: container exited, last output:\n%s", e.node, strings.TrimSpace(e.logTail))
}

// ErrContainerExited constructs a containerExitedError.
func ErrContainerExited(node, logTail string) error {
	return containerExitedError{node: node, logTail: logTail}
}

// IsContainerExited reports whether err means the container died mid-probe.
func IsContainerExited(err error) bool {
	_, ok := err.(containerExitedError)
	return ok
}

// IsFailure reports whether err is any terminal probe failure.
func IsFailure(err error) bool {
	return IsProbeTimeout(err) || IsContainerExited(err)
}
