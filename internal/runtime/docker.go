package runtime

import (
	"context"
	"fmt"
	"io"
	"time"

	"github.com/docker/docker/api/types"
	"github.com/docker/docker/api/types/container"
	"github.com/docker/docker/api/types/network"
	"github.com/docker/docker/client"
	ocispec "github.com/opencontainers/image-spec/specs-go/v1"
	"github.com/rs/zerolog"
)

// dockerAPI is the slice of the Docker SDK the manager needs.
// *client.Client satisfies it; tests substitute a fake.
type dockerAPI interface {
	ContainerList(ctx context.Context, options container.ListOptions) ([]types.Container, error)
	ContainerCreate(ctx context.Context, config *container.Config, hostConfig *container.HostConfig, networkingConfig *network.NetworkingConfig, platform *ocispec.Platform, containerName string) (container.CreateResponse, error)
	ContainerStart(ctx context.Context, containerID string, options container.StartOptions) error
	ContainerStop(ctx context.Context, containerID string, options container.StopOptions) error
	ContainerRestart(ctx context.Context, containerID string, options container.StopOptions) error
	ContainerRemove(ctx context.Context, containerID string, options container.RemoveOptions) error
	ContainerInspect(ctx context.Context, containerID string) (types.ContainerJSON, error)
	ContainerLogs(ctx context.Context, containerID string, options container.LogsOptions) (io.ReadCloser, error)
	ContainerExecCreate(ctx context.Context, containerID string, options container.ExecOptions) (types.IDResponse, error)
	ContainerExecAttach(ctx context.Context, execID string, options container.ExecAttachOptions) (types.HijackedResponse, error)
	ContainerExecInspect(ctx context.Context, execID string) (container.ExecInspect, error)
}

// Manager drives engine containers through the local Docker daemon.
type Manager struct {
	api         dockerAPI
	stopTimeout time.Duration
	log         zerolog.Logger
}

// New connects to the daemon via the standard environment (DOCKER_HOST etc.)
// with API version negotiation.
func New(stopTimeout time.Duration, log zerolog.Logger) (*Manager, error) {
	cli, err := client.NewClientWithOpts(client.FromEnv, client.WithAPIVersionNegotiation())
	if err != nil {
		return nil, fmt.Errorf("docker client: %w", err)
	}
	return NewWithAPI(cli, stopTimeout, log), nil
}

// NewWithAPI wraps an existing API implementation.
func NewWithAPI(api dockerAPI, stopTimeout time.Duration, log zerolog.Logger) *Manager {
	return &Manager{api: api, stopTimeout: stopTimeout, log: log}
}

func (m *Manager) stopSeconds() *int {
	s := int(m.stopTimeout / time.Second)
	return &s
}

func shortID(id string) string {
	if len(id) > 12 {
		return id[:12]
	}
	return id
}
