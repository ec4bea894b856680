package volsync

import (
	"context"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"

	"github.com/rs/zerolog"

	"brainctl/internal/common/fsutil"
)

// Pair names two directories to reconcile to the union of their contents.
type Pair struct {
	Source string
	Dest   string
}

// Stats counts what one reconciliation moved.
type Stats struct {
	FilesCopied int
	BytesCopied int64
	Skipped     int
}

// Add accumulates o into s.
func (s *Stats) Add(o Stats) {
	s.FilesCopied += o.FilesCopied
	s.BytesCopied += o.BytesCopied
	s.Skipped += o.Skipped
}

// ContainerGate stops the engines that hold the volumes open for the
// duration of a merge and brings them back afterwards.
type ContainerGate interface {
	Stop(ctx context.Context, name string) error
	StartExisting(ctx context.Context, name string) error
}

// Synchronizer reconciles volume pairs. Existing files are never
// overwritten and nothing is ever deleted, so a crash mid-merge leaves
// both sides valid.
type Synchronizer struct {
	gate ContainerGate
	log  zerolog.Logger
}

// New builds a Synchronizer around the given gate.
func New(gate ContainerGate, log zerolog.Logger) *Synchronizer {
	return &Synchronizer{gate: gate, log: log}
}

// Reconcile merges pair in both directions with holders stopped. Every
// holder that was stopped is restarted on every exit path, including merge
// failures and cancellation.
func (s *Synchronizer) Reconcile(ctx context.Context, pair Pair, holders []string) (Stats, error) {
	var stats Stats
	stopped := make([]string, 0, len(holders))
	defer func() {
		restartCtx := context.WithoutCancel(ctx)
		for _, name := range stopped {
			if err := s.gate.StartExisting(restartCtx, name); err != nil {
				s.log.Error().Err(err).Str("container", name).Msg("restart after merge failed")
			}
		}
	}()
	for _, name := range holders {
		if err := s.gate.Stop(ctx, name); err != nil {
			return stats, ErrSync("stop "+name+" before merge", err)
		}
		stopped = append(stopped, name)
	}

	one, err := s.mergeOnce(ctx, pair.Source, pair.Dest)
	stats.Add(one)
	if err != nil {
		return stats, err
	}
	two, err := s.mergeOnce(ctx, pair.Dest, pair.Source)
	stats.Add(two)
	if err != nil {
		return stats, err
	}
	return stats, nil
}

// mergeOnce copies everything src has and dst lacks into dst. A missing
// src is tolerated so a fresh volume simply gets seeded from the other
// side on the reverse pass.
func (s *Synchronizer) mergeOnce(ctx context.Context, src, dst string) (Stats, error) {
	var stats Stats
	info, err := os.Stat(src)
	if os.IsNotExist(err) {
		s.log.Warn().Str("dir", src).Msg("merge source missing, skipping direction")
		return stats, nil
	}
	if err != nil {
		return stats, ErrSync("stat "+src, err)
	}
	if !info.IsDir() {
		return stats, ErrSync(src, fmt.Errorf("not a directory"))
	}
	if err := os.MkdirAll(dst, 0o755); err != nil {
		return stats, ErrSync("create "+dst, err)
	}
	err = filepath.WalkDir(src, func(path string, d fs.DirEntry, werr error) error {
		if werr != nil {
			return werr
		}
		if err := ctx.Err(); err != nil {
			return err
		}
		rel, err := filepath.Rel(src, path)
		if err != nil {
			return err
		}
		if rel == "." {
			return nil
		}
		target := filepath.Join(dst, rel)
		switch {
		case d.Type()&fs.ModeSymlink != 0:
			if _, lerr := os.Lstat(target); lerr == nil {
				stats.Skipped++
				return nil
			}
			if err := fsutil.CopySymlink(path, target); err != nil {
				return err
			}
			stats.FilesCopied++
		case d.IsDir():
			return os.MkdirAll(target, 0o755)
		default:
			if _, lerr := os.Lstat(target); lerr == nil {
				stats.Skipped++
				return nil
			}
			n, err := fsutil.CopyFile(path, target)
			if err != nil {
				return err
			}
			stats.FilesCopied++
			stats.BytesCopied += n
		}
		return nil
	})
	if err != nil {
		return stats, ErrSync(fmt.Sprintf("merge %s -> %s", src, dst), err)
	}
	s.log.Info().
		Str("src", src).
		Str("dst", dst).
		Int("copied", stats.FilesCopied).
		Int("skipped", stats.Skipped).
		Msg("merge direction done")
	return stats, nil
}
