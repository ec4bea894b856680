package config

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"time"
)

// Defaults applied by ApplyDefaults for fields left unset in the file.
const (
	DefaultAddr          = ":9090"
	DefaultContainerPort = 11434
	DefaultHealthPath    = "/v1/models"
	DefaultRegistryCLI   = "ollama"
	DefaultKeepAlive     = "-1"
	DefaultLockPath      = "/tmp/brainctl.lock"

	DefaultProbeIntervalSec   = 2
	DefaultProbeTimeoutSec    = 2
	DefaultReadyDeadlineSec   = 600
	DefaultWarmupTimeoutSec   = 120
	DefaultWorkflowTimeoutSec = 900
	DefaultStopTimeoutSec     = 30
	DefaultLockWaitSec        = 10
	DefaultLockStaleSec       = 900

	DefaultResetVRAMToleranceMB = 128
)

// nameRe matches container-safe node identifiers.
var nameRe = regexp.MustCompile(`^[a-zA-Z0-9][a-zA-Z0-9_.-]*$`)

// Mount binds a host path into the engine container.
type Mount struct {
	Host      string `json:"host" yaml:"host" toml:"host"`
	Container string `json:"container" yaml:"container" toml:"container"`
}

// VolumePair names two host directories whose contents are reconciled to the
// union of both. The merge runs in both directions and never overwrites.
type VolumePair struct {
	Source string `json:"source" yaml:"source" toml:"source"`
	Dest   string `json:"dest" yaml:"dest" toml:"dest"`
}

// NodeDescriptor declares one GPU-pinned engine container.
type NodeDescriptor struct {
	ID            string            `json:"id" yaml:"id" toml:"id"`
	Image         string            `json:"image" yaml:"image" toml:"image"`
	GPUDevice     string            `json:"gpu_device" yaml:"gpu_device" toml:"gpu_device"`
	HostPort      int               `json:"host_port" yaml:"host_port" toml:"host_port"`
	ContainerPort int               `json:"container_port" yaml:"container_port" toml:"container_port"`
	Volumes       []Mount           `json:"volumes" yaml:"volumes" toml:"volumes"`
	Env           map[string]string `json:"env" yaml:"env" toml:"env"`
	KeepAlive     string            `json:"keep_alive" yaml:"keep_alive" toml:"keep_alive"`
	ContextWindow int               `json:"context_window" yaml:"context_window" toml:"context_window"`
	Models        []string          `json:"models" yaml:"models" toml:"models"`
	WarmupModel   string            `json:"warmup_model" yaml:"warmup_model" toml:"warmup_model"`
}

// Config holds the node descriptor store plus orchestration tunables.
// Zero values mean "unspecified" and are replaced by ApplyDefaults.
type Config struct {
	Addr        string           `json:"addr" yaml:"addr" toml:"addr"`
	Nodes       []NodeDescriptor `json:"nodes" yaml:"nodes" toml:"nodes"`
	VolumePairs []VolumePair     `json:"volume_pairs" yaml:"volume_pairs" toml:"volume_pairs"`

	HealthPath  string `json:"health_path" yaml:"health_path" toml:"health_path"`
	RegistryCLI string `json:"registry_cli" yaml:"registry_cli" toml:"registry_cli"`
	WarmupFatal bool   `json:"warmup_fatal" yaml:"warmup_fatal" toml:"warmup_fatal"`

	ProbeIntervalSec   int `json:"probe_interval_sec" yaml:"probe_interval_sec" toml:"probe_interval_sec"`
	ProbeTimeoutSec    int `json:"probe_timeout_sec" yaml:"probe_timeout_sec" toml:"probe_timeout_sec"`
	ReadyDeadlineSec   int `json:"ready_deadline_sec" yaml:"ready_deadline_sec" toml:"ready_deadline_sec"`
	WarmupTimeoutSec   int `json:"warmup_timeout_sec" yaml:"warmup_timeout_sec" toml:"warmup_timeout_sec"`
	WorkflowTimeoutSec int `json:"workflow_timeout_sec" yaml:"workflow_timeout_sec" toml:"workflow_timeout_sec"`
	StopTimeoutSec     int `json:"stop_timeout_sec" yaml:"stop_timeout_sec" toml:"stop_timeout_sec"`

	LockPath     string `json:"lock_path" yaml:"lock_path" toml:"lock_path"`
	LockWaitSec  int    `json:"lock_wait_sec" yaml:"lock_wait_sec" toml:"lock_wait_sec"`
	LockStaleSec int    `json:"lock_stale_sec" yaml:"lock_stale_sec" toml:"lock_stale_sec"`

	ResetVRAMToleranceMB int `json:"reset_vram_tolerance_mb" yaml:"reset_vram_tolerance_mb" toml:"reset_vram_tolerance_mb"`
}

// configurationError signals an invalid descriptor store so the CLI can map
// it to its dedicated exit code before any container is touched.
type configurationError struct{ msg string }

func (e configurationError) Error() string { return "config: " + e.msg }

// ErrConfiguration constructs a configurationError.
func ErrConfiguration(format string, args ...any) error {
	return configurationError{msg: fmt.Sprintf(format, args...)}
}

// IsConfigurationError reports whether err came from descriptor validation.
func IsConfigurationError(err error) bool {
	_, ok := err.(configurationError)
	return ok
}

// ApplyDefaults fills unset fields in place.
func (c *Config) ApplyDefaults() {
	if c.Addr == "" {
		c.Addr = DefaultAddr
	}
	if c.HealthPath == "" {
		c.HealthPath = DefaultHealthPath
	}
	if c.RegistryCLI == "" {
		c.RegistryCLI = DefaultRegistryCLI
	}
	if c.ProbeIntervalSec <= 0 {
		c.ProbeIntervalSec = DefaultProbeIntervalSec
	}
	if c.ProbeTimeoutSec <= 0 {
		c.ProbeTimeoutSec = DefaultProbeTimeoutSec
	}
	if c.ReadyDeadlineSec <= 0 {
		c.ReadyDeadlineSec = DefaultReadyDeadlineSec
	}
	if c.WarmupTimeoutSec <= 0 {
		c.WarmupTimeoutSec = DefaultWarmupTimeoutSec
	}
	if c.WorkflowTimeoutSec <= 0 {
		c.WorkflowTimeoutSec = DefaultWorkflowTimeoutSec
	}
	if c.StopTimeoutSec <= 0 {
		c.StopTimeoutSec = DefaultStopTimeoutSec
	}
	if c.LockPath == "" {
		c.LockPath = DefaultLockPath
	}
	if c.LockWaitSec <= 0 {
		c.LockWaitSec = DefaultLockWaitSec
	}
	if c.LockStaleSec <= 0 {
		c.LockStaleSec = DefaultLockStaleSec
	}
	if c.ResetVRAMToleranceMB <= 0 {
		c.ResetVRAMToleranceMB = DefaultResetVRAMToleranceMB
	}
	for i := range c.Nodes {
		n := &c.Nodes[i]
		if n.ContainerPort == 0 {
			n.ContainerPort = DefaultContainerPort
		}
		if n.KeepAlive == "" {
			n.KeepAlive = DefaultKeepAlive
		}
	}
}

// Validate checks the whole store and reports every problem at once.
func (c Config) Validate() error {
	var problems []string
	if len(c.Nodes) == 0 {
		problems = append(problems, "no nodes declared")
	}
	seenID := map[string]bool{}
	seenPort := map[int]string{}
	for _, n := range c.Nodes {
		switch {
		case n.ID == "":
			problems = append(problems, "node with empty id")
			continue
		case !nameRe.MatchString(n.ID):
			problems = append(problems, fmt.Sprintf("node id %q is not a valid container name", n.ID))
			continue
		}
		if seenID[n.ID] {
			problems = append(problems, fmt.Sprintf("duplicate node id %q", n.ID))
		}
		seenID[n.ID] = true
		if n.Image == "" {
			problems = append(problems, fmt.Sprintf("node %s: image required", n.ID))
		}
		if n.HostPort <= 0 || n.HostPort > 65535 {
			problems = append(problems, fmt.Sprintf("node %s: host_port %d out of range", n.ID, n.HostPort))
		} else if prev, dup := seenPort[n.HostPort]; dup {
			problems = append(problems, fmt.Sprintf("node %s: host_port %d already used by %s", n.ID, n.HostPort, prev))
		} else {
			seenPort[n.HostPort] = n.ID
		}
		if n.ContainerPort <= 0 || n.ContainerPort > 65535 {
			problems = append(problems, fmt.Sprintf("node %s: container_port %d out of range", n.ID, n.ContainerPort))
		}
		for _, m := range n.Volumes {
			if m.Host == "" || m.Container == "" {
				problems = append(problems, fmt.Sprintf("node %s: volume with empty host or container path", n.ID))
				continue
			}
			if !strings.HasPrefix(m.Container, "/") {
				problems = append(problems, fmt.Sprintf("node %s: container path %q must be absolute", n.ID, m.Container))
			}
		}
		if n.KeepAlive != "" && !validKeepAlive(n.KeepAlive) {
			problems = append(problems, fmt.Sprintf("node %s: keep_alive %q is neither seconds nor a duration", n.ID, n.KeepAlive))
		}
		if n.ContextWindow < 0 {
			problems = append(problems, fmt.Sprintf("node %s: context_window must not be negative", n.ID))
		}
		if n.WarmupModel != "" && len(n.Models) > 0 && !contains(n.Models, n.WarmupModel) {
			problems = append(problems, fmt.Sprintf("node %s: warmup_model %q not in models list", n.ID, n.WarmupModel))
		}
	}
	for i, p := range c.VolumePairs {
		if p.Source == "" || p.Dest == "" {
			problems = append(problems, fmt.Sprintf("volume_pairs[%d]: source and dest required", i))
			continue
		}
		if p.Source == p.Dest {
			problems = append(problems, fmt.Sprintf("volume_pairs[%d]: source and dest are the same path", i))
		}
	}
	if len(problems) > 0 {
		return ErrConfiguration("%s", strings.Join(problems, "; "))
	}
	return nil
}

// Node returns the descriptor with the given id.
func (c Config) Node(id string) (NodeDescriptor, bool) {
	for _, n := range c.Nodes {
		if n.ID == id {
			return n, true
		}
	}
	return NodeDescriptor{}, false
}

func (c Config) ProbeInterval() time.Duration { return secs(c.ProbeIntervalSec) }
func (c Config) ProbeTimeout() time.Duration { return secs(c.ProbeTimeoutSec) }
func (c Config) ReadyDeadline() time.Duration { return secs(c.ReadyDeadlineSec) }
func (c Config) WarmupTimeout() time.Duration { return secs(c.WarmupTimeoutSec) }
func (c Config) WorkflowTimeout() time.Duration { return secs(c.WorkflowTimeoutSec) }
func (c Config) StopTimeout() time.Duration { return secs(c.StopTimeoutSec) }
func (c Config) LockWait() time.Duration { return secs(c.LockWaitSec) }
func (c Config) LockStale() time.Duration { return secs(c.LockStaleSec) }

func secs(n int) time.Duration { return time.Duration(n) * time.Second }

// Endpoint returns the engine base URL published on the host.
func (d NodeDescriptor) Endpoint() string {
	return fmt.Sprintf("http://127.0.0.1:%d", d.HostPort)
}

// WarmupTarget returns the model to pre-warm, or "" when nothing is declared.
func (d NodeDescriptor) WarmupTarget() string {
	if d.WarmupModel != "" {
		return d.WarmupModel
	}
	if len(d.Models) > 0 {
		return d.Models[0]
	}
	return ""
}

// DeviceIDs splits the gpu_device selector ("0", "0,1") into device ids.
func (d NodeDescriptor) DeviceIDs() []string {
	if d.GPUDevice == "" {
		return nil
	}
	parts := strings.Split(d.GPUDevice, ",")
	ids := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			ids = append(ids, p)
		}
	}
	return ids
}

func validKeepAlive(s string) bool {
	if _, err := strconv.Atoi(s); err == nil {
		return true
	}
	_, err := time.ParseDuration(s)
	return err == nil
}

func contains(list []string, s string) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}
