package config

import (
	"strings"
	"testing"
)

func validNode(id string, port int) NodeDescriptor {
	return NodeDescriptor{
		ID:            id,
		Image:         "ollama/ollama:0.5.7",
		HostPort:      port,
		ContainerPort: DefaultContainerPort,
		KeepAlive:     DefaultKeepAlive,
	}
}

func TestValidateOK(t *testing.T) {
	cfg := Config{Nodes: []NodeDescriptor{validNode("planner", 8000), validNode("executor", 8001)}}
	cfg.ApplyDefaults()
	if err := cfg.Validate(); err != nil {
		t.Fatalf("valid config rejected: %v", err)
	}
}

func TestValidateDuplicateID(t *testing.T) {
	cfg := Config{Nodes: []NodeDescriptor{validNode("planner", 8000), validNode("planner", 8001)}}
	cfg.ApplyDefaults()
	err := cfg.Validate()
	if err == nil || !IsConfigurationError(err) {
		t.Fatalf("expected configuration error, got %v", err)
	}
	if !strings.Contains(err.Error(), "duplicate node id") {
		t.Fatalf("unexpected message: %v", err)
	}
}

func TestValidateDuplicatePort(t *testing.T) {
	cfg := Config{Nodes: []NodeDescriptor{validNode("a", 8000), validNode("b", 8000)}}
	cfg.ApplyDefaults()
	err := cfg.Validate()
	if err == nil || !strings.Contains(err.Error(), "already used by") {
		t.Fatalf("expected port conflict error, got %v", err)
	}
}

func TestValidateCollectsAllProblems(t *testing.T) {
	n1 := validNode("a", 8000)
	n1.Image = ""
	n2 := validNode("b", 0)
	cfg := Config{Nodes: []NodeDescriptor{n1, n2}}
	cfg.ApplyDefaults()
	err := cfg.Validate()
	if err == nil {
		t.Fatal("expected error")
	}
	msg := err.Error()
	if !strings.Contains(msg, "image required") || !strings.Contains(msg, "out of range") {
		t.Fatalf("expected both problems reported, got %v", err)
	}
}

func TestValidateBadNames(t *testing.T) {
	for _, id := range []string{"", "-leading", "has space", "uh/oh"} {
		n := validNode(id, 8000)
		cfg := Config{Nodes: []NodeDescriptor{n}}
		cfg.ApplyDefaults()
		if err := cfg.Validate(); err == nil {
			t.Fatalf("id %q accepted", id)
		}
	}
}

func TestValidateVolumeAndPair(t *testing.T) {
	n := validNode("a", 8000)
	n.Volumes = []Mount{{Host: "/srv/m", Container: "relative/path"}}
	cfg := Config{
		Nodes:       []NodeDescriptor{n},
		VolumePairs: []VolumePair{{Source: "/x", Dest: "/x"}},
	}
	cfg.ApplyDefaults()
	err := cfg.Validate()
	if err == nil {
		t.Fatal("expected error")
	}
	msg := err.Error()
	if !strings.Contains(msg, "must be absolute") || !strings.Contains(msg, "same path") {
		t.Fatalf("unexpected message: %v", err)
	}
}

func TestValidateKeepAlive(t *testing.T) {
	for _, ka := range []string{"-1", "0", "300", "5m", "1h30m"} {
		n := validNode("a", 8000)
		n.KeepAlive = ka
		cfg := Config{Nodes: []NodeDescriptor{n}}
		cfg.ApplyDefaults()
		if err := cfg.Validate(); err != nil {
			t.Fatalf("keep_alive %q rejected: %v", ka, err)
		}
	}
	n := validNode("a", 8000)
	n.KeepAlive = "forever"
	cfg := Config{Nodes: []NodeDescriptor{n}}
	cfg.ApplyDefaults()
	if err := cfg.Validate(); err == nil {
		t.Fatal("keep_alive \"forever\" accepted")
	}
}

func TestValidateWarmupModelMembership(t *testing.T) {
	n := validNode("a", 8000)
	n.Models = []string{"m1", "m2"}
	n.WarmupModel = "m3"
	cfg := Config{Nodes: []NodeDescriptor{n}}
	cfg.ApplyDefaults()
	if err := cfg.Validate(); err == nil {
		t.Fatal("warmup_model outside models accepted")
	}
}

func TestWarmupTarget(t *testing.T) {
	n := NodeDescriptor{Models: []string{"m1", "m2"}}
	if got := n.WarmupTarget(); got != "m1" {
		t.Fatalf("got %q, want m1", got)
	}
	n.WarmupModel = "m2"
	if got := n.WarmupTarget(); got != "m2" {
		t.Fatalf("got %q, want m2", got)
	}
	if got := (NodeDescriptor{}).WarmupTarget(); got != "" {
		t.Fatalf("got %q, want empty", got)
	}
}

func TestDeviceIDs(t *testing.T) {
	n := NodeDescriptor{GPUDevice: "0, 1"}
	ids := n.DeviceIDs()
	if len(ids) != 2 || ids[0] != "0" || ids[1] != "1" {
		t.Fatalf("got %v", ids)
	}
	if ids := (NodeDescriptor{}).DeviceIDs(); ids != nil {
		t.Fatalf("expected nil for empty selector, got %v", ids)
	}
}

func TestNodeLookupAndEndpoint(t *testing.T) {
	cfg := Config{Nodes: []NodeDescriptor{validNode("planner", 8000)}}
	n, ok := cfg.Node("planner")
	if !ok || n.HostPort != 8000 {
		t.Fatalf("lookup failed: %+v ok=%v", n, ok)
	}
	if _, ok := cfg.Node("ghost"); ok {
		t.Fatal("unknown id resolved")
	}
	if got := n.Endpoint(); got != "http://127.0.0.1:8000" {
		t.Fatalf("endpoint %q", got)
	}
}
