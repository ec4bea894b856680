package e2e

import (
	"context"
	"encoding/json"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"brainctl/internal/config"
	"brainctl/internal/probe"
	"brainctl/pkg/types"
)

// TestE2E_UpToHydratedOverHTTP drives the whole stack in one process: the
// up workflow starts both nodes against fake engines, the real probe and
// warm-up paths run over HTTP, and the API reports the hydrated fleet.
func TestE2E_UpToHydratedOverHTTP(t *testing.T) {
	f := newFleet(t)
	f.up(t)

	resp, body := httpGet(t, f.api.URL+"/readyz")
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("/readyz %d %s", resp.StatusCode, string(body))
	}

	resp, body = httpGet(t, f.api.URL+"/status")
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("/status %d %s", resp.StatusCode, string(body))
	}
	var st types.StatusResponse
	if err := json.Unmarshal(body, &st); err != nil {
		t.Fatalf("/status json: %v body=%s", err, string(body))
	}
	if st.Overall != "ok" {
		t.Errorf("overall = %q, want ok", st.Overall)
	}
	if len(st.Nodes) != 2 {
		t.Fatalf("status nodes = %d, want 2", len(st.Nodes))
	}
	for _, n := range st.Nodes {
		if n.Phase != "hydrated" || !n.Warm {
			t.Errorf("node %s phase=%q warm=%v, want hydrated and warm", n.ID, n.Phase, n.Warm)
		}
	}

	resp, body = httpGet(t, f.api.URL+"/nodes")
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("/nodes %d %s", resp.StatusCode, string(body))
	}
	var nodes types.NodesResponse
	if err := json.Unmarshal(body, &nodes); err != nil {
		t.Fatalf("/nodes json: %v body=%s", err, string(body))
	}
	if len(nodes.Nodes) != 2 || nodes.Nodes[0].ID != "planner" {
		t.Errorf("nodes = %+v", nodes.Nodes)
	}

	// Each engine got exactly one single-token generate for its model.
	for name, eng := range map[string]*fakeOllama{"planner": f.planner, "executor": f.executor} {
		gens := eng.generates()
		if len(gens) != 1 {
			t.Fatalf("%s generates = %d, want 1", name, len(gens))
		}
		opts, _ := gens[0]["options"].(map[string]any)
		if opts["num_predict"] != float64(1) {
			t.Errorf("%s num_predict = %v", name, opts["num_predict"])
		}
	}
	if model := f.planner.generates()[0]["model"]; model != "deepseek-r1:70b" {
		t.Errorf("planner warmed %v", model)
	}

	resp, body = httpGet(t, f.api.URL+"/metrics")
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("/metrics %d", resp.StatusCode)
	}
	if !strings.Contains(string(body), "brainctl_http_requests_total") {
		t.Error("request counter missing from scrape")
	}
}

func TestE2E_ResetOverHTTPRewarms(t *testing.T) {
	f := newFleet(t)
	f.up(t)

	resp, body := httpPostJSON(t, f.api.URL+"/nodes/planner/reset", []byte(`{"rewarm":true}`))
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("/nodes/planner/reset %d %s", resp.StatusCode, string(body))
	}
	var ack types.NodeOpResponse
	if err := json.Unmarshal(body, &ack); err != nil {
		t.Fatalf("ack json: %v body=%s", err, string(body))
	}
	if ack.Node != "planner" || ack.Op != "reset" || ack.Status != "ok" {
		t.Errorf("ack = %+v", ack)
	}
	f.drainWarmups(t)

	calls := f.daemon.callList()
	restarted := false
	for _, c := range calls {
		if c == "restart planner" {
			restarted = true
		}
	}
	if !restarted {
		t.Errorf("planner container not restarted: %v", calls)
	}
	if got := len(f.planner.generates()); got != 2 {
		t.Errorf("planner generates after rewarm = %d, want 2", got)
	}

	_, body = httpGet(t, f.api.URL+"/status")
	var st types.StatusResponse
	if err := json.Unmarshal(body, &st); err != nil {
		t.Fatalf("status json: %v", err)
	}
	for _, n := range st.Nodes {
		if n.ID == "planner" && n.Phase != "hydrated" {
			t.Errorf("planner phase = %q after reset --rewarm", n.Phase)
		}
	}
}

func TestE2E_ProbeFailureIsIsolated(t *testing.T) {
	f := newFleet(t)
	f.executor.setHealthy(false)

	report, err := f.orch.Up(context.Background())
	if err != nil {
		t.Fatalf("up: %v", err)
	}
	f.drainWarmups(t)

	if !probe.IsProbeTimeout(report.FirstError()) {
		t.Fatalf("FirstError = %v, want probe timeout", report.FirstError())
	}

	resp, _ := httpGet(t, f.api.URL+"/readyz")
	if resp.StatusCode != http.StatusServiceUnavailable {
		t.Errorf("/readyz = %d with a failed node, want 503", resp.StatusCode)
	}

	_, body := httpGet(t, f.api.URL+"/status")
	var st types.StatusResponse
	if err := json.Unmarshal(body, &st); err != nil {
		t.Fatalf("status json: %v", err)
	}
	if st.Overall != "failed" {
		t.Errorf("overall = %q, want failed", st.Overall)
	}
	for _, n := range st.Nodes {
		switch n.ID {
		case "planner":
			if n.Phase != "hydrated" {
				t.Errorf("planner phase = %q, want hydrated despite executor failure", n.Phase)
			}
		case "executor":
			if n.Phase != "failed" || n.Error == "" {
				t.Errorf("executor phase=%q error=%q", n.Phase, n.Error)
			}
		}
	}
}

func TestE2E_SyncMergesEngineCaches(t *testing.T) {
	srcDir := t.TempDir()
	dstDir := t.TempDir()
	writeFile(t, filepath.Join(srcDir, "models", "blob-a"), "aaaa")
	writeFile(t, filepath.Join(dstDir, "models", "blob-b"), "bb")

	f := newFleetWithConfig(t, func(cfg *config.Config) {
		cfg.Nodes[0].Volumes = []config.Mount{{Host: srcDir, Container: "/root/.ollama"}}
		cfg.Nodes[1].Volumes = []config.Mount{{Host: dstDir, Container: "/root/.ollama"}}
		cfg.VolumePairs = []config.VolumePair{{Source: srcDir, Dest: dstDir}}
	})
	f.up(t)

	resp, body := httpPostJSON(t, f.api.URL+"/sync", nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("/sync %d %s", resp.StatusCode, string(body))
	}
	var sr types.SyncResponse
	if err := json.Unmarshal(body, &sr); err != nil {
		t.Fatalf("sync json: %v body=%s", err, string(body))
	}
	if sr.FilesCopied != 2 {
		t.Errorf("files_copied = %d, want 2", sr.FilesCopied)
	}
	if sr.BytesCopied != 6 {
		t.Errorf("bytes_copied = %d, want 6", sr.BytesCopied)
	}

	// Both caches hold the union afterwards.
	for _, p := range []string{
		filepath.Join(srcDir, "models", "blob-b"),
		filepath.Join(dstDir, "models", "blob-a"),
	} {
		if _, err := os.Stat(p); err != nil {
			t.Errorf("union missing %s: %v", p, err)
		}
	}

	// The engines holding the caches were gated around the merge.
	calls := f.daemon.callList()
	for _, id := range []string{"planner", "executor"} {
		stop := lastIndex(calls, "stop "+id)
		restart := lastIndex(calls, "start-existing "+id)
		if stop < 0 || restart < 0 || stop > restart {
			t.Errorf("%s not gated around merge: stop=%d restart=%d calls=%v", id, stop, restart, calls)
		}
	}
}

func TestE2E_StopNodeDropsReadiness(t *testing.T) {
	f := newFleet(t)
	f.up(t)

	resp, body := httpPostJSON(t, f.api.URL+"/nodes/planner/stop", nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("/nodes/planner/stop %d %s", resp.StatusCode, string(body))
	}

	resp, _ = httpGet(t, f.api.URL+"/readyz")
	if resp.StatusCode != http.StatusServiceUnavailable {
		t.Errorf("/readyz = %d after stopping a node, want 503", resp.StatusCode)
	}

	_, body = httpGet(t, f.api.URL+"/status")
	var st types.StatusResponse
	if err := json.Unmarshal(body, &st); err != nil {
		t.Fatalf("status json: %v", err)
	}
	for _, n := range st.Nodes {
		if n.ID == "planner" && n.Phase != "absent" {
			t.Errorf("planner phase = %q after stop, want absent", n.Phase)
		}
	}
}

func writeFile(t *testing.T, path, content string) {
	t.Helper()
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}
}

func lastIndex(calls []string, want string) int {
	idx := -1
	for i, c := range calls {
		if c == want {
			idx = i
		}
	}
	return idx
}
