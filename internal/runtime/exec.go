package runtime

import (
	"bytes"
	"context"
	"fmt"
	"strconv"

	"github.com/docker/docker/api/types/container"
	"github.com/docker/docker/pkg/stdcopy"
)

// Exec runs cmd inside the named container and returns its combined output.
// A non-zero exit code is an error carrying the output tail.
func (m *Manager) Exec(ctx context.Context, name string, cmd []string) (string, error) {
	created, err := m.api.ContainerExecCreate(ctx, name, container.ExecOptions{
		Cmd:          cmd,
		AttachStdout: true,
		AttachStderr: true,
	})
	if err != nil {
		return "", fmt.Errorf("exec create %v in %s: %w", cmd, name, err)
	}
	resp, err := m.api.ContainerExecAttach(ctx, created.ID, container.ExecAttachOptions{})
	if err != nil {
		return "", fmt.Errorf("exec attach %s: %w", name, err)
	}
	defer resp.Close()
	var buf bytes.Buffer
	if _, err := stdcopy.StdCopy(&buf, &buf, resp.Reader); err != nil {
		return buf.String(), fmt.Errorf("exec read %s: %w", name, err)
	}
	info, err := m.api.ContainerExecInspect(ctx, created.ID)
	if err != nil {
		return buf.String(), fmt.Errorf("exec inspect %s: %w", name, err)
	}
	if info.ExitCode != 0 {
		return buf.String(), fmt.Errorf("exec %v in %s: exit %d: %s", cmd, name, info.ExitCode, tail(buf.String(), 2048))
	}
	return buf.String(), nil
}

// Logs returns the last tailLines lines of the container's output with the
// stream multiplexing stripped.
func (m *Manager) Logs(ctx context.Context, name string, tailLines int) (string, error) {
	rc, err := m.api.ContainerLogs(ctx, name, container.LogsOptions{
		ShowStdout: true,
		ShowStderr: true,
		Tail:       strconv.Itoa(tailLines),
	})
	if err != nil {
		return "", fmt.Errorf("logs %s: %w", name, err)
	}
	defer rc.Close()
	var buf bytes.Buffer
	if _, err := stdcopy.StdCopy(&buf, &buf, rc); err != nil {
		return buf.String(), fmt.Errorf("logs demux %s: %w", name, err)
	}
	return buf.String(), nil
}

func tail(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[len(s)-n:]
}
