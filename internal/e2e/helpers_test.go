package e2e

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"brainctl/internal/config"
	"brainctl/internal/httpapi"
	"brainctl/internal/orchestrator"
	"brainctl/internal/probe"
	"brainctl/internal/warmup"
)

// fakeDaemon stands in for the container daemon. A container counts as
// running the moment Start succeeds; the engine process behind it is an
// httptest server, so the rest of the stack is exercised for real.
type fakeDaemon struct {
	mu      sync.Mutex
	running map[string]bool
	calls   []string
}

func newFakeDaemon() *fakeDaemon {
	return &fakeDaemon{running: make(map[string]bool)}
}

func (f *fakeDaemon) record(s string) {
	f.mu.Lock()
	f.calls = append(f.calls, s)
	f.mu.Unlock()
}

func (f *fakeDaemon) setRunning(name string, up bool) {
	f.mu.Lock()
	f.running[name] = up
	f.mu.Unlock()
}

func (f *fakeDaemon) EnsureAbsent(ctx context.Context, name string) error {
	f.record("absent " + name)
	f.setRunning(name, false)
	return nil
}

func (f *fakeDaemon) EnsureNoPortConflict(ctx context.Context, hostPort int) error {
	f.record(fmt.Sprintf("portcheck %d", hostPort))
	return nil
}

func (f *fakeDaemon) Start(ctx context.Context, desc config.NodeDescriptor) (string, error) {
	f.record("start " + desc.ID)
	f.setRunning(desc.ID, true)
	return "cid-" + desc.ID, nil
}

func (f *fakeDaemon) Restart(ctx context.Context, name string) error {
	f.record("restart " + name)
	f.setRunning(name, true)
	return nil
}

func (f *fakeDaemon) Stop(ctx context.Context, name string) error {
	f.record("stop " + name)
	f.setRunning(name, false)
	return nil
}

func (f *fakeDaemon) StartExisting(ctx context.Context, name string) error {
	f.record("start-existing " + name)
	f.setRunning(name, true)
	return nil
}

func (f *fakeDaemon) IsRunning(ctx context.Context, name string) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.running[name], nil
}

func (f *fakeDaemon) Exec(ctx context.Context, name string, cmd []string) (string, error) {
	f.record("exec " + name + " " + strings.Join(cmd, " "))
	return "", nil
}

func (f *fakeDaemon) Logs(ctx context.Context, name string, tailLines int) (string, error) {
	return "engine log line", nil
}

func (f *fakeDaemon) callList() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]string, len(f.calls))
	copy(out, f.calls)
	return out
}

// fakeOllama serves just enough of the engine HTTP API for a full
// orchestration pass: health, tag listing and generate.
type fakeOllama struct {
	mu      sync.Mutex
	healthy bool
	models  []string
	gens    []map[string]any
	srv     *httptest.Server
}

func newFakeOllama(t *testing.T, models ...string) *fakeOllama {
	t.Helper()
	f := &fakeOllama{healthy: true, models: models}
	f.srv = httptest.NewServer(http.HandlerFunc(f.handle))
	t.Cleanup(f.srv.Close)
	return f
}

func (f *fakeOllama) handle(w http.ResponseWriter, r *http.Request) {
	switch r.URL.Path {
	case "/v1/models":
		f.mu.Lock()
		healthy := f.healthy
		f.mu.Unlock()
		if !healthy {
			http.Error(w, "loading", http.StatusServiceUnavailable)
			return
		}
		fmt.Fprint(w, `{"object":"list","data":[]}`)
	case "/api/tags":
		f.mu.Lock()
		names := append([]string(nil), f.models...)
		f.mu.Unlock()
		type tag struct {
			Name string `json:"name"`
		}
		out := struct {
			Models []tag `json:"models"`
		}{}
		for _, n := range names {
			out.Models = append(out.Models, tag{Name: n})
		}
		_ = json.NewEncoder(w).Encode(out)
	case "/api/generate":
		var req map[string]any
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			http.Error(w, "bad request", http.StatusBadRequest)
			return
		}
		f.mu.Lock()
		f.gens = append(f.gens, req)
		f.mu.Unlock()
		fmt.Fprint(w, `{"done":true}`)
	default:
		http.NotFound(w, r)
	}
}

// port returns the host port the fake engine listens on, so a node
// descriptor can publish it as its own.
func (f *fakeOllama) port(t *testing.T) int {
	t.Helper()
	_, portStr, err := net.SplitHostPort(strings.TrimPrefix(f.srv.URL, "http://"))
	if err != nil {
		t.Fatalf("split %s: %v", f.srv.URL, err)
	}
	port, err := strconv.Atoi(portStr)
	if err != nil {
		t.Fatalf("port %q: %v", portStr, err)
	}
	return port
}

func (f *fakeOllama) setHealthy(up bool) {
	f.mu.Lock()
	f.healthy = up
	f.mu.Unlock()
}

func (f *fakeOllama) generates() []map[string]any {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]map[string]any, len(f.gens))
	copy(out, f.gens)
	return out
}

// fleet bundles a two-node deployment: fake engines behind real published
// ports, a fake daemon, the real orchestrator and the real HTTP API.
type fleet struct {
	daemon   *fakeDaemon
	planner  *fakeOllama
	executor *fakeOllama
	orch     *orchestrator.Orchestrator
	api      *httptest.Server
}

func newFleet(t *testing.T) *fleet {
	return newFleetWithConfig(t, nil)
}

// newFleetWithConfig lets a test adjust the store before the orchestrator
// is built, e.g. to add volume pairs.
func newFleetWithConfig(t *testing.T, mutate func(*config.Config)) *fleet {
	t.Helper()
	planner := newFakeOllama(t, "deepseek-r1:70b")
	executor := newFakeOllama(t, "qwen2.5:72b")
	cfg := config.Config{
		Nodes: []config.NodeDescriptor{
			{ID: "planner", Image: "ollama/ollama:0.5.7", GPUDevice: "0", HostPort: planner.port(t), Models: []string{"deepseek-r1:70b"}},
			{ID: "executor", Image: "ollama/ollama:0.5.7", GPUDevice: "1", HostPort: executor.port(t), Models: []string{"qwen2.5:72b"}},
		},
		LockPath: filepath.Join(t.TempDir(), "brainctl.lock"),
	}
	if mutate != nil {
		mutate(&cfg)
	}
	cfg.ApplyDefaults()

	log := zerolog.Nop()
	daemon := newFakeDaemon()
	orch := orchestrator.New(cfg, daemon, log, orchestrator.Options{
		Lock:   orchestrator.NewWorkflowLock(cfg.LockPath, 0, time.Hour, log),
		Prober: probe.New(daemon, 10*time.Millisecond, 100*time.Millisecond, 2*time.Second, log),
		Warmer: warmup.New(time.Second, log),
	})
	api := httptest.NewServer(httpapi.NewMux(orch))
	t.Cleanup(api.Close)
	return &fleet{daemon: daemon, planner: planner, executor: executor, orch: orch, api: api}
}

// up runs the up workflow and waits for the background warm-ups to settle.
func (f *fleet) up(t *testing.T) {
	t.Helper()
	report, err := f.orch.Up(context.Background())
	if err != nil {
		t.Fatalf("up: %v", err)
	}
	if report.FirstError() != nil {
		t.Fatalf("up report: %v", report.FirstError())
	}
	f.drainWarmups(t)
}

func (f *fleet) drainWarmups(t *testing.T) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := f.orch.WaitWarmups(ctx); err != nil {
		t.Fatalf("warm-ups did not settle: %v", err)
	}
}

func httpGet(t *testing.T, url string) (*http.Response, []byte) {
	t.Helper()
	req, err := http.NewRequestWithContext(context.Background(), http.MethodGet, url, nil)
	if err != nil {
		t.Fatalf("new req: %v", err)
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("do req: %v", err)
	}
	body, _ := io.ReadAll(resp.Body)
	_ = resp.Body.Close()
	return resp, body
}

func httpPostJSON(t *testing.T, url string, payload []byte) (*http.Response, []byte) {
	t.Helper()
	req, err := http.NewRequestWithContext(context.Background(), http.MethodPost, url, strings.NewReader(string(payload)))
	if err != nil {
		t.Fatalf("new req: %v", err)
	}
	req.Header.Set("Content-Type", "application/json")
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("do req: %v", err)
	}
	body, _ := io.ReadAll(resp.Body)
	_ = resp.Body.Close()
	return resp, body
}
