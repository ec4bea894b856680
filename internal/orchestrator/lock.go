package orchestrator

import (
	"context"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/rs/zerolog"
)

const lockPollInterval = 200 * time.Millisecond

// WorkflowLock serializes workflows across processes through a lock file
// created with O_EXCL. The file records pid, workflow name and acquisition
// time so an operator can identify the holder. A lock older than the stale
// budget is assumed to belong to a dead process and is broken.
type WorkflowLock struct {
	path  string
	wait  time.Duration
	stale time.Duration
	log   zerolog.Logger
}

// NewWorkflowLock builds a lock around path. wait bounds how long Acquire
// polls for a held lock, stale is the age after which a lock is broken.
func NewWorkflowLock(path string, wait, stale time.Duration, log zerolog.Logger) *WorkflowLock {
	return &WorkflowLock{path: path, wait: wait, stale: stale, log: log}
}

// Acquire takes the lock on behalf of workflow, polling up to the wait
// budget. It returns a release func on success and a busy error when the
// lock stays held, so callers can surface the holder to the operator.
func (l *WorkflowLock) Acquire(ctx context.Context, workflow string) (func(), error) {
	deadline := time.Now().Add(l.wait)
	for {
		f, err := os.OpenFile(l.path, os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0o644)
		if err == nil {
			fmt.Fprintf(f, "pid=%d workflow=%s since=%s\n", os.Getpid(), workflow, time.Now().Format(time.RFC3339))
			if cerr := f.Close(); cerr != nil {
				os.Remove(l.path)
				return nil, fmt.Errorf("write lock %s: %w", l.path, cerr)
			}
			l.log.Debug().Str("path", l.path).Str("workflow", workflow).Msg("workflow lock acquired")
			return func() { os.Remove(l.path) }, nil
		}
		if !os.IsExist(err) {
			return nil, fmt.Errorf("lock %s: %w", l.path, err)
		}
		if l.breakIfStale() {
			continue
		}
		if time.Now().After(deadline) {
			return nil, ErrBusy(l.holder())
		}
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(lockPollInterval):
		}
	}
}

// breakIfStale removes the lock file when it is older than the stale budget.
func (l *WorkflowLock) breakIfStale() bool {
	info, err := os.Stat(l.path)
	if err != nil {
		// Holder released between our open and stat.
		return true
	}
	if time.Since(info.ModTime()) <= l.stale {
		return false
	}
	l.log.Warn().Str("path", l.path).Str("holder", l.holder()).Msg("breaking stale workflow lock")
	os.Remove(l.path)
	return true
}

// holder returns the recorded owner of the lock file, if readable.
func (l *WorkflowLock) holder() string {
	b, err := os.ReadFile(l.path)
	if err != nil {
		return ""
	}
	return strings.TrimSpace(string(b))
}
