package runtime

import (
	"context"
	"fmt"
	"sort"
	"strconv"
	"strings"

	"github.com/docker/docker/api/types"
	"github.com/docker/docker/api/types/container"
	"github.com/docker/docker/api/types/filters"
	"github.com/docker/docker/api/types/mount"
	"github.com/docker/docker/errdefs"
	"github.com/docker/go-connections/nat"

	"brainctl/internal/config"
)

const (
	labelManaged = "managed-by"
	labelNode    = "brainctl.node"
	managedBy    = "brainctl"
)

// EnsureAbsent stops and removes the named container. A container that does
// not exist is success, so the operation is safe to repeat.
func (m *Manager) EnsureAbsent(ctx context.Context, name string) error {
	info, err := m.api.ContainerInspect(ctx, name)
	if errdefs.IsNotFound(err) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("inspect %s: %w", name, err)
	}
	if info.State != nil && info.State.Running {
		if err := m.api.ContainerStop(ctx, name, container.StopOptions{Timeout: m.stopSeconds()}); err != nil && !errdefs.IsNotFound(err) {
			// force remove below still applies
			m.log.Warn().Err(err).Str("container", name).Msg("stop before remove failed")
		}
	}
	if err := m.api.ContainerRemove(ctx, name, container.RemoveOptions{Force: true}); err != nil && !errdefs.IsNotFound(err) {
		return fmt.Errorf("remove %s: %w", name, err)
	}
	m.log.Debug().Str("container", name).Msg("container absent")
	return nil
}

// EnsureNoPortConflict removes any container publishing hostPort, whatever
// its name. Stale engines from earlier runs otherwise hold the port forever.
func (m *Manager) EnsureNoPortConflict(ctx context.Context, hostPort int) error {
	args := filters.NewArgs(filters.Arg("publish", strconv.Itoa(hostPort)))
	list, err := m.api.ContainerList(ctx, container.ListOptions{All: true, Filters: args})
	if err != nil {
		return fmt.Errorf("list by port %d: %w", hostPort, err)
	}
	for _, c := range list {
		m.log.Warn().Str("container", containerName(c)).Int("port", hostPort).Msg("removing port conflict")
		if err := m.EnsureAbsent(ctx, c.ID); err != nil {
			return err
		}
	}
	return nil
}

// Start creates and starts the engine container for desc and returns the
// container ID. Images are never pulled here; a missing image is a start
// failure the operator has to resolve.
func (m *Manager) Start(ctx context.Context, desc config.NodeDescriptor) (string, error) {
	port := nat.Port(fmt.Sprintf("%d/tcp", desc.ContainerPort))
	cfg := &container.Config{
		Image:        desc.Image,
		Env:          envList(desc.Env),
		ExposedPorts: nat.PortSet{port: struct{}{}},
		Labels:       map[string]string{labelManaged: managedBy, labelNode: desc.ID},
	}
	host := &container.HostConfig{
		PortBindings: nat.PortMap{
			port: []nat.PortBinding{{HostIP: "0.0.0.0", HostPort: strconv.Itoa(desc.HostPort)}},
		},
		RestartPolicy: container.RestartPolicy{Name: container.RestartPolicyUnlessStopped},
	}
	for _, v := range desc.Volumes {
		host.Mounts = append(host.Mounts, mount.Mount{Type: mount.TypeBind, Source: v.Host, Target: v.Container})
	}
	if ids := desc.DeviceIDs(); len(ids) > 0 {
		host.DeviceRequests = []container.DeviceRequest{{
			Driver:       "nvidia",
			DeviceIDs:    ids,
			Capabilities: [][]string{{"gpu"}},
		}}
	}
	created, err := m.api.ContainerCreate(ctx, cfg, host, nil, nil, desc.ID)
	if err != nil {
		return "", ErrStartFailure(desc.ID, err)
	}
	if err := m.api.ContainerStart(ctx, created.ID, container.StartOptions{}); err != nil {
		return "", ErrStartFailure(desc.ID, err)
	}
	m.log.Info().
		Str("node", desc.ID).
		Str("container", shortID(created.ID)).
		Str("gpu", desc.GPUDevice).
		Int("port", desc.HostPort).
		Msg("container started")
	return created.ID, nil
}

// Restart bounces the container and returns once it is running again.
func (m *Manager) Restart(ctx context.Context, name string) error {
	if err := m.api.ContainerRestart(ctx, name, container.StopOptions{Timeout: m.stopSeconds()}); err != nil {
		return ErrStartFailure(name, err)
	}
	m.log.Info().Str("container", name).Msg("container restarted")
	return nil
}

// Stop halts the container without removing it. Missing containers are fine.
func (m *Manager) Stop(ctx context.Context, name string) error {
	err := m.api.ContainerStop(ctx, name, container.StopOptions{Timeout: m.stopSeconds()})
	if err != nil && !errdefs.IsNotFound(err) {
		return fmt.Errorf("stop %s: %w", name, err)
	}
	return nil
}

// StartExisting starts a container that was previously created and stopped.
func (m *Manager) StartExisting(ctx context.Context, name string) error {
	if err := m.api.ContainerStart(ctx, name, container.StartOptions{}); err != nil {
		return fmt.Errorf("start %s: %w", name, err)
	}
	return nil
}

// IsRunning reports whether the named container exists and is running.
func (m *Manager) IsRunning(ctx context.Context, name string) (bool, error) {
	info, err := m.api.ContainerInspect(ctx, name)
	if errdefs.IsNotFound(err) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("inspect %s: %w", name, err)
	}
	return info.State != nil && info.State.Running, nil
}

func containerName(c types.Container) string {
	if len(c.Names) > 0 {
		return strings.TrimPrefix(c.Names[0], "/")
	}
	return shortID(c.ID)
}

// envList renders the env map as sorted KEY=VALUE pairs so container specs
// stay deterministic across runs.
func envList(env map[string]string) []string {
	if len(env) == 0 {
		return nil
	}
	keys := make([]string, 0, len(env))
	for k := range env {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	out := make([]string, 0, len(keys))
	for _, k := range keys {
		out = append(out, k+"="+env[k])
	}
	return out
}
