package gpu

import (
	"context"
	"fmt"
	"os/exec"
	"strconv"
	"strings"

	"github.com/rs/zerolog"
)

// MemoryReader reports device memory usage for a GPU selector.
type MemoryReader interface {
	MemoryUsedMB(ctx context.Context, device string) (int, error)
}

// SMI shells out to nvidia-smi. Callers treat it as optional equipment:
// hosts without the binary skip residual-memory verification.
type SMI struct {
	Bin string
	log zerolog.Logger
}

// NewSMI returns an SMI using the nvidia-smi on PATH.
func NewSMI(log zerolog.Logger) *SMI {
	return &SMI{Bin: "nvidia-smi", log: log}
}

// Available reports whether the binary can be found at all.
func (s *SMI) Available() bool {
	_, err := exec.LookPath(s.Bin)
	return err == nil
}

// MemoryUsedMB sums memory.used over the devices in selector ("0", "0,1").
// An empty selector queries every device.
func (s *SMI) MemoryUsedMB(ctx context.Context, device string) (int, error) {
	args := []string{"--query-gpu=memory.used", "--format=csv,noheader,nounits"}
	if device != "" {
		args = append(args, "-i", device)
	}
	out, err := exec.CommandContext(ctx, s.Bin, args...).Output()
	if err != nil {
		return 0, fmt.Errorf("nvidia-smi: %w", err)
	}
	used, err := parseMemorySum(string(out))
	if err != nil {
		return 0, err
	}
	s.log.Debug().Str("device", device).Int("used_mb", used).Msg("queried device memory")
	return used, nil
}

func parseMemorySum(out string) (int, error) {
	total := 0
	for _, line := range strings.Split(strings.TrimSpace(out), "\n") {
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}
		mb, err := strconv.Atoi(line)
		if err != nil {
			return 0, fmt.Errorf("parse nvidia-smi output %q: %w", line, err)
		}
		total += mb
	}
	return total, nil
}
