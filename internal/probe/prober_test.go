package probe

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"brainctl/internal/engine"
)

type fakeChecker struct {
	runningFn func(name string) (bool, error)
	logsFn    func(name string, tail int) (string, error)
}

func (f *fakeChecker) IsRunning(_ context.Context, name string) (bool, error) {
	if f.runningFn != nil {
		return f.runningFn(name)
	}
	return true, nil
}

func (f *fakeChecker) Logs(_ context.Context, name string, tail int) (string, error) {
	if f.logsFn != nil {
		return f.logsFn(name, tail)
	}
	return "", nil
}

func testProber(rt ContainerChecker, deadline time.Duration) *Prober {
	return New(rt, 10*time.Millisecond, 50*time.Millisecond, deadline, zerolog.Nop())
}

func engineFor(t *testing.T, h http.HandlerFunc) *engine.Client {
	t.Helper()
	srv := httptest.NewServer(h)
	t.Cleanup(srv.Close)
	return engine.New(srv.URL, "", zerolog.Nop())
}

func TestWaitReadyImmediate(t *testing.T) {
	ping := engineFor(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
	p := testProber(&fakeChecker{}, time.Second)
	if err := p.WaitReady(context.Background(), "planner", ping); err != nil {
		t.Fatalf("WaitReady: %v", err)
	}
	// a node that reported ready keeps reporting ready
	if err := p.WaitReady(context.Background(), "planner", ping); err != nil {
		t.Fatalf("second WaitReady: %v", err)
	}
}

func TestWaitReadyAfterRetries(t *testing.T) {
	var hits atomic.Int32
	ping := engineFor(t, func(w http.ResponseWriter, r *http.Request) {
		if hits.Add(1) < 3 {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		w.WriteHeader(http.StatusOK)
	})
	p := testProber(&fakeChecker{}, 2*time.Second)
	if err := p.WaitReady(context.Background(), "planner", ping); err != nil {
		t.Fatalf("WaitReady: %v", err)
	}
	if hits.Load() < 3 {
		t.Fatalf("expected at least 3 attempts, got %d", hits.Load())
	}
}

func TestWaitReadyDeadline(t *testing.T) {
	ping := engineFor(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	})
	p := testProber(&fakeChecker{}, 150*time.Millisecond)
	start := time.Now()
	err := p.WaitReady(context.Background(), "planner", ping)
	if err == nil || !IsProbeTimeout(err) {
		t.Fatalf("expected probe timeout, got %v", err)
	}
	if took := time.Since(start); took > 2*time.Second {
		t.Fatalf("did not terminate near the deadline: %v", took)
	}
	if !IsFailure(err) {
		t.Fatal("timeout must count as probe failure")
	}
}

func TestWaitReadyParentCancelled(t *testing.T) {
	ping := engineFor(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	})
	p := testProber(&fakeChecker{}, time.Minute)
	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(50 * time.Millisecond)
		cancel()
	}()
	start := time.Now()
	err := p.WaitReady(ctx, "planner", ping)
	if err == nil || !IsProbeTimeout(err) {
		t.Fatalf("expected probe timeout on cancellation, got %v", err)
	}
	if took := time.Since(start); took > 2*time.Second {
		t.Fatalf("cancellation did not stop the probe promptly: %v", took)
	}
}

func TestWaitReadyContainerDied(t *testing.T) {
	ping := engineFor(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	})
	rt := &fakeChecker{
		runningFn: func(name string) (bool, error) { return false, nil },
		logsFn: func(name string, tail int) (string, error) {
			if tail != crashLogTail {
				t.Errorf("tail = %d", tail)
			}
			return "CUDA error: out of memory\n", nil
		},
	}
	p := testProber(rt, time.Minute)
	start := time.Now()
	err := p.WaitReady(context.Background(), "planner", ping)
	if err == nil || !IsContainerExited(err) {
		t.Fatalf("expected container exit error, got %v", err)
	}
	if !strings.Contains(err.Error(), "CUDA error") {
		t.Fatalf("crash log missing from error: %v", err)
	}
	if took := time.Since(start); took > time.Second {
		t.Fatalf("dead container should fail fast, took %v", took)
	}
	if !IsFailure(err) {
		t.Fatal("container exit must count as probe failure")
	}
}

func TestWaitReadyDaemonHiccupTolerated(t *testing.T) {
	ping := engineFor(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
	rt := &fakeChecker{
		runningFn: func(name string) (bool, error) { return false, errors.New("daemon unreachable") },
	}
	p := testProber(rt, time.Second)
	if err := p.WaitReady(context.Background(), "planner", ping); err != nil {
		t.Fatalf("daemon error must not kill the probe: %v", err)
	}
}
